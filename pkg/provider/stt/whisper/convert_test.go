package whisper

import (
	"encoding/binary"
	"math"
	"testing"
)

func pcm16(samples ...int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

func TestPcmToFloat32Mono(t *testing.T) {
	tests := []struct {
		name     string
		pcm      []byte
		channels int
		want     []float32
	}{
		{"empty", nil, 1, nil},
		{"mono", pcm16(16384, -32768, 0), 1, []float32{0.5, -1, 0}},
		{"zero channels treated as mono", pcm16(16384), 0, []float32{0.5}},
		{"stereo averaged", pcm16(16384, 0, -16384, -16384), 2, []float32{0.25, -0.5}},
		{"odd trailing byte ignored", append(pcm16(16384), 7), 1, []float32{0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pcmToFloat32Mono(tt.pcm, tt.channels)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if math.Abs(float64(got[i]-tt.want[i])) > 1e-6 {
					t.Errorf("sample %d = %f, want %f", i, got[i], tt.want[i])
				}
			}
		})
	}
}
