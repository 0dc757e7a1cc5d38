package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// Tone synthesises a mono sine beep with short linear fades at both ends.
// amplitude is a fraction of full scale.
func Tone(freq float64, d time.Duration, sampleRate int, amplitude float64) *Segment {
	n := int(d.Seconds() * float64(sampleRate))
	fade := min(sampleRate/200, n/2) // 5 ms
	pcm := make([]byte, n*BytesPerSample)
	for i := range n {
		env := 1.0
		switch {
		case i < fade:
			env = float64(i) / float64(fade)
		case i >= n-fade:
			env = float64(n-1-i) / float64(fade)
		}
		v := amplitude * env * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v*math.MaxInt16)))
	}
	seg := NewSegment(pcm, sampleRate, 1, sampleRate/50*BytesPerSample)
	seg.Text = "<tone>"
	return seg
}
