package audio

import (
	"encoding/binary"
	"math"
)

// levelFullScale is the RMS at which [Level] saturates at 1.0.
const levelFullScale = 0.1

// RMS returns the root-mean-square amplitude of PCM16 samples normalised to
// [0, 1]. Empty or odd-length input yields 0 for the missing tail.
func RMS(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// Level maps the RMS of pcm onto a 0..1 meter value suitable for UI display.
func Level(pcm []byte) float64 {
	return math.Min(RMS(pcm)/levelFullScale, 1.0)
}

// ApplyGain scales PCM16 samples by gain with saturation and returns a new
// slice. A gain of 1 returns pcm unchanged.
func ApplyGain(pcm []byte, gain float64) []byte {
	if gain == 1 || len(pcm) < BytesPerSample {
		return pcm
	}
	out := make([]byte, len(pcm)&^1)
	for i := 0; i+1 < len(pcm); i += 2 {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) * gain
		v = math.Max(math.MinInt16, math.Min(math.MaxInt16, v))
		binary.LittleEndian.PutUint16(out[i:], uint16(int16(v)))
	}
	return out
}
