package llm

import "testing"

func TestEstimateTokens(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		msgs []Message
		want int
	}{
		{name: "empty", want: 0},
		{name: "blank message costs overhead", msgs: []Message{User("")}, want: 4},
		{name: "rounds up", msgs: []Message{User("hello")}, want: 2 + 4},
		{name: "sums messages", msgs: []Message{User("abcd"), Assistant("abcdefgh")}, want: (1 + 4) + (2 + 4)},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.msgs); got != tt.want {
			t.Errorf("%s: EstimateTokens = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestInputBudget(t *testing.T) {
	t.Parallel()
	tests := []struct {
		caps ModelCapabilities
		want int
	}{
		{ModelCapabilities{}, -1},
		{ModelCapabilities{ContextWindow: 8192, MaxOutputTokens: 2048}, 6144},
		{ModelCapabilities{ContextWindow: 1000, MaxOutputTokens: 4096}, 0},
	}
	for _, tt := range tests {
		if got := tt.caps.InputBudget(); got != tt.want {
			t.Errorf("%+v.InputBudget() = %d, want %d", tt.caps, got, tt.want)
		}
	}
}
