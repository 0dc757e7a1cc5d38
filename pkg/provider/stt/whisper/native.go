// In-process inference through the whisper.cpp cgo bindings. Building it
// needs libwhisper.a and whisper.h on LIBRARY_PATH and C_INCLUDE_PATH.

package whisper

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/provider/stt"
)

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider runs whisper.cpp inside the process. The model is shared;
// each call creates its own decoding context.
type NativeProvider struct {
	model    whisperlib.Model
	language string
	threads  uint
	slots    *semaphore.Weighted

	closeOnce sync.Once
	closeErr  error
}

type nativeSettings struct {
	language    string
	threads     uint
	concurrency int64
}

// NativeOption configures a NativeProvider.
type NativeOption func(*nativeSettings)

// WithNativeLanguage sets the default language code ("en" unless set).
func WithNativeLanguage(lang string) NativeOption {
	return func(s *nativeSettings) { s.language = lang }
}

// WithNativeThreads sets the inference thread count. Zero keeps the
// library default.
func WithNativeThreads(n uint) NativeOption {
	return func(s *nativeSettings) { s.threads = n }
}

// WithNativeConcurrency caps how many transcriptions run at once; further
// calls wait. The default is 1.
func WithNativeConcurrency(n int) NativeOption {
	return func(s *nativeSettings) {
		if n > 0 {
			s.concurrency = int64(n)
		}
	}
}

// NewNative loads the ggml model at modelPath. Release it with Close.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	s := nativeSettings{language: defaultLanguage, concurrency: 1}
	for _, o := range opts {
		o(&s)
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	return &NativeProvider{
		model:    model,
		language: s.language,
		threads:  s.threads,
		slots:    semaphore.NewWeighted(s.concurrency),
	}, nil
}

// Close releases the model. Later calls return the first result.
func (p *NativeProvider) Close() error {
	p.closeOnce.Do(func() { p.closeErr = p.model.Close() })
	return p.closeErr
}

// Transcribe implements [stt.Provider]. Audio that is not 16 kHz is
// resampled first. Inference cannot be interrupted once running, so ctx is
// checked while waiting for a slot and again afterwards.
func (p *NativeProvider) Transcribe(ctx context.Context, pcm []byte, cfg stt.Config) (string, error) {
	if len(pcm) == 0 {
		return "", stt.ErrEmptyAudio
	}
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer p.slots.Release(1)

	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: new context: %w", err)
	}
	p.configure(wctx, cfg)

	if err := wctx.Process(monoSamples(pcm, cfg), nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var words []string
	for text, err := range segments(wctx) {
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		words = append(words, text)
	}
	return strings.Join(words, " "), nil
}

func (p *NativeProvider) configure(wctx whisperlib.Context, cfg stt.Config) {
	lang := cmp.Or(cfg.Language, p.language)
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: unsupported language, using model default", "language", lang, "err", err)
	}
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}
	if cfg.Prompt != "" {
		wctx.SetInitialPrompt(cfg.Prompt)
	}
}

// monoSamples turns the utterance into the 16 kHz mono float input whisper
// expects.
func monoSamples(pcm []byte, cfg stt.Config) []float32 {
	ch := max(cfg.Channels, 1)
	sr := cmp.Or(max(cfg.SampleRate, 0), defaultSampleRate)
	if sr != defaultSampleRate {
		conv := audio.FormatConverter{Target: audio.Format{SampleRate: defaultSampleRate, Channels: 1}}
		pcm = conv.Convert(audio.AudioFrame{Data: pcm, SampleRate: sr, Channels: ch}).Data
		ch = 1
	}
	return pcmToFloat32Mono(pcm, ch)
}

// segments yields the trimmed, non-empty segment texts of a processed
// context.
func segments(wctx whisperlib.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for {
			seg, err := wctx.NextSegment()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", err)
				return
			}
			if text := strings.TrimSpace(seg.Text); text != "" && !yield(text, nil) {
				return
			}
		}
	}
}
