// Package audio holds the PCM plumbing shared by the voice pipeline: frame and
// segment types, the broadcast queue that fans captured frames out to
// independent readers, the capture framer, the playback driver, and the device
// interfaces implemented by the malgo and portaudio backends.
//
// All PCM handled here is signed 16-bit little-endian.
package audio

import (
	"sync/atomic"
	"time"
)

// BytesPerSample is the size of one signed 16-bit PCM sample.
const BytesPerSample = 2

// AudioFrame represents a single frame of captured audio.
// Frames are immutable once published to a [Broadcaster]; every subscriber
// sees the same backing slice.
type AudioFrame struct {
	// PCM audio data.
	Data []byte

	// SampleRate in Hz (16000 for frames produced by [Capture]).
	SampleRate int

	// Channels is always 1 for captured frames.
	Channels int

	// Timestamp marks when this frame was captured, relative to capture start.
	Timestamp time.Duration
}

// Samples returns the number of samples per channel in the frame.
func (f AudioFrame) Samples() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Data) / (BytesPerSample * f.Channels)
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the PCM16 byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * BytesPerSample
}

// Segment is one synthesized stretch of speech headed for a [Player].
// Audio is streamed: chunks arrive incrementally on the Audio channel so
// playback can begin before synthesis completes. The sample rate belongs to
// the segment, not to the player, because every TTS backend speaks at its own
// fixed rate.
type Segment struct {
	// Audio is a read-only channel of raw PCM16 chunks. The producer closes it
	// when synthesis ends or fails. After it closes, check [Segment.Err].
	Audio <-chan []byte

	// SampleRate of the PCM on Audio. Must be > 0.
	SampleRate int

	// Channels of the PCM on Audio (1 = mono, 2 = stereo). Must be > 0.
	Channels int

	// Text is the sentence this segment voices, kept for logging.
	Text string

	streamErr atomic.Pointer[error]
}

// Format returns the segment's PCM format.
func (s *Segment) Format() Format {
	return Format{SampleRate: s.SampleRate, Channels: s.Channels}
}

// Err returns the error that caused the Audio channel to close prematurely,
// or nil if the stream completed successfully.
func (s *Segment) Err() error {
	if p := s.streamErr.Load(); p != nil {
		return *p
	}
	return nil
}

// SetStreamErr records a mid-stream error. The producer calls this before
// closing the Audio channel.
func (s *Segment) SetStreamErr(err error) {
	s.streamErr.Store(&err)
}

// NewSegment wraps a fully buffered PCM slice in a [Segment] whose Audio
// channel yields pcm in chunks of at most chunk bytes.
func NewSegment(pcm []byte, sampleRate, channels, chunk int) *Segment {
	if chunk <= 0 {
		chunk = len(pcm)
	}
	ch := make(chan []byte, len(pcm)/max(chunk, 1)+1)
	for off := 0; off < len(pcm); off += chunk {
		end := min(off+chunk, len(pcm))
		ch <- pcm[off:end]
	}
	close(ch)
	return &Segment{Audio: ch, SampleRate: sampleRate, Channels: channels}
}

// Drain discards everything on ch until it closes, letting the producer of
// an unplayed segment finish.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
