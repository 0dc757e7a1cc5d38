// Package phrase implements a wake.Detector that listens for a spoken
// activation phrase by transcribing short bursts of speech.
//
// Detection has three stages. A VAD session watches the frame stream; the
// first speech frame opens a collection window. Frames accumulate until
// 500 ms of silence follow the speech or 4 s of audio were collected. If the
// window holds at least 200 ms of speech it is sent to an STT provider and
// the transcript is fuzzy-matched against the configured phrases with a
// [Matcher].
//
// This trades a few hundred milliseconds of latency for the ability to wake
// on an arbitrary phrase without a trained keyword model.
package phrase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/provider/stt"
	"github.com/MrWong99/voxloop/pkg/provider/vad"
	"github.com/MrWong99/voxloop/pkg/wake"
)

const (
	defaultSilenceTimeout = 500 * time.Millisecond
	defaultMinSpeech      = 200 * time.Millisecond
	defaultMaxSpeech      = 4 * time.Second
	minTranscriptRunes    = 2
)

// Option configures a [Detector].
type Option func(*Detector)

// WithSilenceTimeout sets the trailing silence that closes a collection
// window. Default: 500 ms.
func WithSilenceTimeout(d time.Duration) Option {
	return func(det *Detector) { det.silenceTimeout = d }
}

// WithMinSpeech sets the speech needed before a window is transcribed.
// Default: 200 ms.
func WithMinSpeech(d time.Duration) Option {
	return func(det *Detector) { det.minSpeech = d }
}

// WithMaxSpeech caps the length of a collection window. Default: 4 s.
func WithMaxSpeech(d time.Duration) Option {
	return func(det *Detector) { det.maxSpeech = d }
}

// WithLanguage sets the BCP-47 language hint passed to the STT provider.
func WithLanguage(lang string) Option {
	return func(det *Detector) { det.language = lang }
}

// WithMatcher replaces the default [Matcher].
func WithMatcher(m *Matcher) Option {
	return func(det *Detector) { det.matcher = m }
}

// Detector is a transcription-based wake phrase detector. It is not safe for
// concurrent use.
type Detector struct {
	session  vad.SessionHandle
	stt      stt.Provider
	matcher  *Matcher
	phrases  []string
	language string

	silenceTimeout time.Duration
	minSpeech      time.Duration
	maxSpeech      time.Duration

	collecting bool
	buf        bytes.Buffer
	rate       int
	speech     time.Duration
	silence    time.Duration
	total      time.Duration
}

var _ wake.Detector = (*Detector)(nil)

// New returns a Detector that classifies frames with session and
// transcribes candidate windows with provider. phrases must contain at least
// one non-blank phrase.
func New(session vad.SessionHandle, provider stt.Provider, phrases []string, opts ...Option) (*Detector, error) {
	if session == nil {
		return nil, errors.New("phrase: vad session must not be nil")
	}
	if provider == nil {
		return nil, errors.New("phrase: stt provider must not be nil")
	}
	var kept []string
	for _, p := range phrases {
		if Normalize(p) != "" {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return nil, errors.New("phrase: at least one wake phrase is required")
	}
	d := &Detector{
		session:        session,
		stt:            provider,
		phrases:        kept,
		silenceTimeout: defaultSilenceTimeout,
		minSpeech:      defaultMinSpeech,
		maxSpeech:      defaultMaxSpeech,
	}
	for _, o := range opts {
		o(d)
	}
	if d.matcher == nil {
		d.matcher = NewMatcher()
	}
	return d, nil
}

// Detect implements [wake.Detector]. It blocks for the duration of an STT
// request on the frame that closes a collection window.
func (d *Detector) Detect(ctx context.Context, frame audio.AudioFrame) (bool, error) {
	ev, err := d.session.ProcessFrame(frame.Data)
	if err != nil {
		return false, fmt.Errorf("phrase: classify frame: %w", err)
	}
	speech := ev.IsSpeech()
	dur := frame.Duration()

	if !d.collecting {
		if !speech {
			return false, nil
		}
		d.collecting = true
		d.rate = frame.SampleRate
		d.buf.Write(frame.Data)
		d.speech = dur
		d.total = dur
		return false, nil
	}

	d.buf.Write(frame.Data)
	d.total += dur
	if speech {
		d.speech += dur
		d.silence = 0
	} else {
		d.silence += dur
	}
	if d.silence < d.silenceTimeout && d.total < d.maxSpeech {
		return false, nil
	}

	pcm := bytes.Clone(d.buf.Bytes())
	speechDur, rate := d.speech, d.rate
	d.resetCollection()

	if speechDur < d.minSpeech {
		return false, nil
	}
	text, err := d.stt.Transcribe(ctx, pcm, stt.Config{SampleRate: rate, Channels: 1, Language: d.language})
	if err != nil {
		return false, fmt.Errorf("phrase: transcribe: %w", err)
	}
	norm := Normalize(text)
	if len([]rune(norm)) < minTranscriptRunes {
		return false, nil
	}
	phrase, score, ok := d.matcher.Match(norm, d.phrases)
	slog.Debug("wake transcript", "text", norm, "phrase", phrase, "score", score, "matched", ok)
	return ok, nil
}

// Reset implements [wake.Detector]. The VAD session's smoothing state is
// cleared as well.
func (d *Detector) Reset() {
	d.resetCollection()
	d.session.Reset()
}

// Close releases the VAD session.
func (d *Detector) Close() error {
	d.resetCollection()
	return d.session.Close()
}

func (d *Detector) resetCollection() {
	d.collecting = false
	d.buf.Reset()
	d.speech = 0
	d.silence = 0
	d.total = 0
}
