package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/voxloop/pkg/audio"
)

// Utterance is a contiguous run of frames from speech onset to the end of
// collection.
type Utterance struct {
	Frames []audio.AudioFrame

	// Speech is the summed duration of frames classified as speech,
	// including seed frames.
	Speech time.Duration

	// Duration is the total duration of Frames.
	Duration time.Duration
}

// PCM concatenates the frames' audio.
func (u Utterance) PCM() []byte {
	n := 0
	for _, f := range u.Frames {
		n += len(f.Data)
	}
	out := make([]byte, 0, n)
	for _, f := range u.Frames {
		out = append(out, f.Data...)
	}
	return out
}

// CollectorConfig holds the timing parameters of a [Collector].
type CollectorConfig struct {
	SilenceTimeout time.Duration
	MinSpeech      time.Duration
	ListenTimeout  time.Duration
	MaxUtterance   time.Duration
	PollInterval   time.Duration
}

// Collector reads frames from a subscription until the user stops talking.
type Collector struct {
	gate *SpeechGate
	cfg  CollectorConfig
}

// NewCollector returns a Collector classifying frames with gate. Zero
// fields of cfg take the package defaults.
func NewCollector(gate *SpeechGate, cfg CollectorConfig) *Collector {
	d := Config{
		SilenceTimeout: cfg.SilenceTimeout,
		MinSpeech:      cfg.MinSpeech,
		ListenTimeout:  cfg.ListenTimeout,
		MaxUtterance:   cfg.MaxUtterance,
		PollInterval:   cfg.PollInterval,
	}.withDefaults()
	return &Collector{gate: gate, cfg: d.collectorConfig()}
}

// Collect gathers one utterance from sub.
//
// Seed frames are taken as already-heard speech; they come from the wake
// gate or from a barge-in. Without seed frames, leading silence is skipped
// for up to ListenTimeout. Once speech was heard, collection ends after
// SilenceTimeout of silence, when MaxUtterance is reached, or when the
// stream closes. A read timeout counts as PollInterval of silence.
//
// Collect returns [ErrNoSpeech] together with the partial utterance when
// less than MinSpeech of speech was heard. Frames the classifier fails on
// count as silence, but an invalid frame aborts with [ErrInvalidFrame].
func (c *Collector) Collect(ctx context.Context, sub *audio.Subscription, seed []audio.AudioFrame) (Utterance, error) {
	var utt Utterance
	for _, f := range seed {
		utt.Frames = append(utt.Frames, f)
		d := f.Duration()
		utt.Speech += d
		utt.Duration += d
	}
	heard := utt.Speech > 0

	var silence, waited time.Duration
loop:
	for {
		switch {
		case heard && silence >= c.cfg.SilenceTimeout:
			break loop
		case !heard && waited >= c.cfg.ListenTimeout:
			break loop
		case utt.Duration >= c.cfg.MaxUtterance:
			break loop
		}

		f, err := sub.Next(ctx, c.cfg.PollInterval)
		switch {
		case errors.Is(err, audio.ErrReadTimeout):
			if heard {
				silence += c.cfg.PollInterval
			} else {
				waited += c.cfg.PollInterval
			}
			continue
		case errors.Is(err, audio.ErrClosed):
			break loop
		case err != nil:
			return utt, fmt.Errorf("pipeline: collect utterance: %w", err)
		}

		speech, err := c.gate.Classify(f)
		if errors.Is(err, ErrInvalidFrame) {
			return Utterance{}, err
		}
		if err != nil {
			slog.Warn("pipeline: frame classification failed, treating as silence", "err", err)
			speech = false
		}

		d := f.Duration()
		if !heard && !speech {
			waited += d
			continue
		}
		utt.Frames = append(utt.Frames, f)
		utt.Duration += d
		if speech {
			heard = true
			silence = 0
			utt.Speech += d
		} else {
			silence += d
		}
	}

	if utt.Speech < c.cfg.MinSpeech {
		return utt, ErrNoSpeech
	}
	return utt, nil
}
