package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
)

// FormatConverter converts a stream of PCM16 chunks to a target format.
// [Capture] uses one to bring device audio to 16 kHz mono; [Player] uses one
// per segment to reach the speaker's format.
//
// Resampling is stateful: the last input frame and the fractional read
// position carry over between calls, so consecutive chunks of one stream
// resample without seams. A change of source format resets that state.
// Not safe for concurrent use.
type FormatConverter struct {
	Target Format

	src      Format
	carry    []int16
	phase    int64
	logOnce  sync.Once
	warnOnce sync.Once
}

// Convert converts frame to the target format. A frame already in the target
// format is returned unchanged. Chunks whose length is not a whole number of
// PCM16 frames are dropped and yield empty data.
func (c *FormatConverter) Convert(frame AudioFrame) AudioFrame {
	out := AudioFrame{
		SampleRate: c.Target.SampleRate,
		Channels:   c.Target.Channels,
		Timestamp:  frame.Timestamp,
	}
	channels := max(frame.Channels, 1)
	if len(frame.Data)%(BytesPerSample*channels) != 0 {
		c.warnOnce.Do(func() {
			slog.Warn("audio: misaligned PCM chunk dropped",
				"bytes", len(frame.Data),
				"format", formatString(frame.SampleRate, frame.Channels),
			)
		})
		return out
	}
	if frame.SampleRate == c.Target.SampleRate && frame.Channels == c.Target.Channels {
		return frame
	}

	src := Format{SampleRate: frame.SampleRate, Channels: channels}
	if src != c.src {
		c.src = src
		c.carry = nil
		c.phase = 0
	}
	c.logOnce.Do(func() {
		slog.Debug("audio: converting format",
			"from", formatString(src.SampleRate, src.Channels),
			"to", formatString(c.Target.SampleRate, c.Target.Channels),
		)
	})

	samples := DecodePCM16(frame.Data)
	ch := src.Channels
	if c.Target.Channels < ch {
		samples = Remix(samples, ch, c.Target.Channels)
		ch = c.Target.Channels
	}
	if src.SampleRate != c.Target.SampleRate && src.SampleRate > 0 && c.Target.SampleRate > 0 {
		samples = c.resample(samples, ch)
	}
	if c.Target.Channels > ch {
		samples = Remix(samples, ch, c.Target.Channels)
	}
	out.Data = EncodePCM16(samples)
	return out
}

// resample linearly interpolates interleaved samples with ch channels from
// c.src.SampleRate to c.Target.SampleRate. Read positions are tracked in
// units of 1/Target.SampleRate input frames so they never drift. Output stops
// strictly below the last input frame; that frame is kept as the left
// neighbour for the next call.
func (c *FormatConverter) resample(samples []int16, ch int) []int16 {
	frames := len(samples) / ch
	if frames == 0 {
		return nil
	}
	at := func(i int64, k int) float64 {
		if i < 0 {
			return float64(c.carry[k])
		}
		return float64(samples[int(i)*ch+k])
	}

	var first int64
	if len(c.carry) == ch {
		first = -1
	}
	last := int64(frames - 1)
	src, dst := int64(c.src.SampleRate), int64(c.Target.SampleRate)

	out := make([]int16, 0, (int(int64(frames)*dst/src)+1)*ch)
	pos := first*dst + c.phase
	end := last * dst
	for ; pos < end; pos += src {
		i := floorDiv(pos, dst)
		frac := float64(pos-i*dst) / float64(dst)
		for k := range ch {
			a, b := at(i, k), at(i+1, k)
			out = append(out, int16(a+(b-a)*frac))
		}
	}

	c.phase = pos - end
	c.carry = append(c.carry[:0], samples[int(last)*ch:int(last+1)*ch]...)
	return out
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && a < 0 {
		q--
	}
	return q
}

// Remix converts interleaved samples between channel layouts. Folding down to
// mono averages all channels; spreading mono duplicates it into every output
// channel. Other layouts map output channel j to input channel j mod from.
func Remix(samples []int16, from, to int) []int16 {
	if from == to || from <= 0 || to <= 0 {
		return samples
	}
	frames := len(samples) / from
	out := make([]int16, frames*to)
	for f := range frames {
		in := samples[f*from : (f+1)*from]
		dst := out[f*to : (f+1)*to]
		if to == 1 {
			var sum int
			for _, s := range in {
				sum += int(s)
			}
			dst[0] = int16(sum / from)
			continue
		}
		for j := range dst {
			dst[j] = in[j%from]
		}
	}
	return out
}

// DecodePCM16 reads little-endian samples. A trailing odd byte is ignored.
func DecodePCM16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:]))
	}
	return out
}

// EncodePCM16 writes samples little-endian.
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(s))
	}
	return out
}

// formatString renders a format for logs, e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	switch {
	case channels == 1:
		return fmt.Sprintf("%dHz mono", rate)
	case channels == 2:
		return fmt.Sprintf("%dHz stereo", rate)
	default:
		return fmt.Sprintf("%dHz %dch", rate, channels)
	}
}
