package whisper_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/MrWong99/voxloop/pkg/provider/stt"
	"github.com/MrWong99/voxloop/pkg/provider/stt/whisper"
)

// nativeProvider loads the model named by WHISPER_MODEL_PATH, skipping the
// test when it is unset.
func nativeProvider(t *testing.T, opts ...whisper.NativeOption) *whisper.NativeProvider {
	t.Helper()
	path := os.Getenv("WHISPER_MODEL_PATH")
	if path == "" {
		t.Skip("WHISPER_MODEL_PATH not set")
	}
	p, err := whisper.NewNative(path, opts...)
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestNewNative_BadPath(t *testing.T) {
	for _, path := range []string{"", "/nonexistent/ggml-base.en.bin"} {
		if _, err := whisper.NewNative(path); err == nil {
			t.Errorf("NewNative(%q): expected error", path)
		}
	}
}

func TestNativeTranscribe(t *testing.T) {
	p := nativeProvider(t, whisper.WithNativeLanguage("en"), whisper.WithNativeConcurrency(2))

	t.Run("silence", func(t *testing.T) {
		if _, err := p.Transcribe(context.Background(), make([]byte, 32000), stt.Config{SampleRate: 16000, Channels: 1}); err != nil {
			t.Fatalf("Transcribe: %v", err)
		}
	})

	t.Run("48k stereo is resampled", func(t *testing.T) {
		if _, err := p.Transcribe(context.Background(), make([]byte, 48000*4/2), stt.Config{SampleRate: 48000, Channels: 2}); err != nil {
			t.Fatalf("Transcribe: %v", err)
		}
	})

	t.Run("concurrent calls", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make(chan error, 3)
		for range 3 {
			wg.Go(func() {
				_, err := p.Transcribe(context.Background(), make([]byte, 16000), stt.Config{})
				errs <- err
			})
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Errorf("Transcribe: %v", err)
			}
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := p.Transcribe(ctx, make([]byte, 320), stt.Config{}); !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if _, err := p.Transcribe(context.Background(), nil, stt.Config{}); !errors.Is(err, stt.ErrEmptyAudio) {
			t.Fatalf("err = %v, want ErrEmptyAudio", err)
		}
	})
}

func TestNativeClose_Idempotent(t *testing.T) {
	p := nativeProvider(t)
	first := p.Close()
	if second := p.Close(); !errors.Is(second, first) && second != first {
		t.Fatalf("second Close = %v, first = %v", second, first)
	}
}
