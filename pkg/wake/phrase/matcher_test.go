package phrase_test

import (
	"testing"

	"github.com/MrWong99/voxloop/pkg/wake/phrase"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Hey Jarvis", "hey jarvis"},
		{"Héllo,  Wörld!", "hello world"},
		{"hey_jarvis", "hey jarvis"},
		{"  Salut\tJarvis...  ", "salut jarvis"},
		{"   ", ""},
		{"?!", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if got := phrase.Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMatcher_Match(t *testing.T) {
	t.Parallel()

	m := phrase.NewMatcher()
	phrases := []string{"Hey Jarvis", "Computer"}

	tests := []struct {
		name       string
		transcript string
		want       string
		matched    bool
		minScore   float64
	}{
		{name: "exact containment", transcript: "hey jarvis what time is it", want: "Hey Jarvis", matched: true, minScore: 1},
		{name: "punctuation and case", transcript: "Hey, Jarvis!", want: "Hey Jarvis", matched: true, minScore: 1},
		{name: "words out of order", transcript: "jarvis hey", want: "Hey Jarvis", matched: true, minScore: 1},
		{name: "near spelling", transcript: "hey jarviss", want: "Hey Jarvis", matched: true, minScore: 0.8},
		{name: "single word phrase", transcript: "okay computer", want: "Computer", matched: true, minScore: 1},
		{name: "unrelated", transcript: "what time is it", matched: false},
		{name: "empty", transcript: "", matched: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, score, ok := m.Match(tt.transcript, phrases)
			if ok != tt.matched {
				t.Fatalf("Match(%q) matched = %v (phrase %q, score %.2f), want %v", tt.transcript, ok, got, score, tt.matched)
			}
			if !ok {
				return
			}
			if got != tt.want {
				t.Errorf("Match(%q) phrase = %q, want %q", tt.transcript, got, tt.want)
			}
			if score < tt.minScore {
				t.Errorf("Match(%q) score = %.2f, want >= %.2f", tt.transcript, score, tt.minScore)
			}
		})
	}
}

func TestMatcher_Thresholds(t *testing.T) {
	t.Parallel()

	m := phrase.NewMatcher(
		phrase.WithPhoneticThreshold(0.999),
		phrase.WithFuzzyThreshold(0.999),
	)
	if _, _, ok := m.Match("hey jarviss", []string{"hey jarvis"}); ok {
		t.Error("near spelling matched with thresholds at 0.999")
	}
	// Exact containment ignores thresholds.
	if _, _, ok := m.Match("hey jarvis", []string{"hey jarvis"}); !ok {
		t.Error("exact phrase did not match")
	}
}

func TestMatcher_NoPhrases(t *testing.T) {
	t.Parallel()

	if _, _, ok := phrase.NewMatcher().Match("hey jarvis", nil); ok {
		t.Error("Match with no phrases returned matched=true")
	}
}
