package silero

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"testing"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/MrWong99/voxloop/pkg/provider/vad"
)

var cfg = vad.Config{SampleRate: 16000, FrameSizeMs: 32, SpeechThreshold: 0.5, SilenceThreshold: 0.35}

// scriptedDetector replays one Detect result per call.
type scriptedDetector struct {
	results   [][]speech.Segment
	detectErr error

	inputs   [][]float32
	resets   int
	destroys int
}

func (d *scriptedDetector) Detect(pcm []float32) ([]speech.Segment, error) {
	d.inputs = append(d.inputs, append([]float32(nil), pcm...))
	if d.detectErr != nil {
		return nil, d.detectErr
	}
	if len(d.results) == 0 {
		return nil, nil
	}
	segs := d.results[0]
	d.results = d.results[1:]
	return segs, nil
}

func (d *scriptedDetector) Reset() error   { d.resets++; return nil }
func (d *scriptedDetector) Destroy() error { d.destroys++; return nil }

func scriptedEngine(det *scriptedDetector) (*Engine, *speech.DetectorConfig) {
	var got speech.DetectorConfig
	e := &Engine{
		modelPath: "silero_vad.onnx",
		newDetector: func(c speech.DetectorConfig) (detector, error) {
			got = c
			return det, nil
		},
	}
	return e, &got
}

func frame(amplitude int16) []byte {
	b := make([]byte, 1024)
	for i := 0; i < len(b); i += 2 {
		binary.LittleEndian.PutUint16(b[i:], uint16(amplitude))
	}
	return b
}

func TestSession_SegmentsMapToFrameEvents(t *testing.T) {
	t.Parallel()

	open := []speech.Segment{{SpeechStartAt: 0.064}}
	closed := []speech.Segment{{SpeechEndAt: 0.16}}
	det := &scriptedDetector{results: [][]speech.Segment{nil, open, nil, nil, closed, nil, open}}
	e, _ := scriptedEngine(det)
	sess, err := e.NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	want := []vad.VADEventType{
		vad.VADSilence,
		vad.VADSpeechStart,
		vad.VADSpeechContinue,
		vad.VADSpeechContinue,
		vad.VADSpeechEnd,
		vad.VADSilence,
		vad.VADSpeechStart,
	}
	for i, w := range want {
		ev, err := sess.ProcessFrame(frame(100))
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if ev.Type != w {
			t.Errorf("frame %d: got %v, want %v", i, ev.Type, w)
		}
		if ev.IsSpeech() != (ev.Probability == 1) {
			t.Errorf("frame %d: probability %.1f does not match %v", i, ev.Probability, ev.Type)
		}
	}
}

func TestSession_FeedsOneWindowPlusPadding(t *testing.T) {
	t.Parallel()

	det := &scriptedDetector{}
	e, got := scriptedEngine(det)
	sess, err := e.NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if got.SampleRate != 16000 || got.Threshold != 0.5 || got.ModelPath != "silero_vad.onnx" {
		t.Errorf("detector config = %+v", *got)
	}

	if _, err := sess.ProcessFrame(frame(16384)); err != nil {
		t.Fatal(err)
	}
	in := det.inputs[0]
	if len(in) != 513 {
		t.Fatalf("detector got %d samples, want 513", len(in))
	}
	if in[0] != 0.5 || in[511] != 0.5 || in[512] != 0 {
		t.Errorf("samples = %v ... %v, %v", in[0], in[511], in[512])
	}
}

func TestSession_ResetAndClose(t *testing.T) {
	t.Parallel()

	det := &scriptedDetector{results: [][]speech.Segment{{{SpeechStartAt: 0.032}}}}
	e, _ := scriptedEngine(det)
	sess, _ := e.NewSession(cfg)

	if ev, _ := sess.ProcessFrame(frame(100)); ev.Type != vad.VADSpeechStart {
		t.Fatalf("first frame = %v", ev.Type)
	}
	sess.Reset()
	if det.resets != 1 {
		t.Errorf("detector resets = %d, want 1", det.resets)
	}
	if ev, _ := sess.ProcessFrame(frame(100)); ev.Type != vad.VADSilence {
		t.Errorf("after reset = %v, want silence", ev.Type)
	}

	if err := sess.Close(); err != nil {
		t.Fatal(err)
	}
	if err := sess.Close(); err != nil {
		t.Fatal(err)
	}
	if det.destroys != 1 {
		t.Errorf("detector destroyed %d times, want 1", det.destroys)
	}
	if _, err := sess.ProcessFrame(frame(100)); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("ProcessFrame after Close = %v, want ErrSessionClosed", err)
	}
}

func TestSession_DetectError(t *testing.T) {
	t.Parallel()

	boom := errors.New("onnx run failed")
	e, _ := scriptedEngine(&scriptedDetector{detectErr: boom})
	sess, _ := e.NewSession(cfg)
	if _, err := sess.ProcessFrame(frame(0)); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestSession_RejectsWrongFrameLength(t *testing.T) {
	t.Parallel()

	e, _ := scriptedEngine(&scriptedDetector{})
	sess, _ := e.NewSession(cfg)
	for _, n := range []int{0, 960, 1022, 1026, 2048} {
		if _, err := sess.ProcessFrame(make([]byte, n)); err == nil {
			t.Errorf("%d bytes: expected error", n)
		}
	}
}

func TestNewSession_InvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  vad.Config
	}{
		{"unsupported rate", vad.Config{SampleRate: 44100, FrameSizeMs: 32, SpeechThreshold: 0.5}},
		{"frame is not one window", vad.Config{SampleRate: 16000, FrameSizeMs: 20, SpeechThreshold: 0.5}},
		{"threshold zero", vad.Config{SampleRate: 16000, FrameSizeMs: 32}},
		{"threshold one", vad.Config{SampleRate: 16000, FrameSizeMs: 32, SpeechThreshold: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			det := &scriptedDetector{}
			e, _ := scriptedEngine(det)
			if _, err := e.NewSession(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNew_MissingModel(t *testing.T) {
	t.Parallel()

	if _, err := New("/nonexistent/silero_vad.onnx"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist", err)
	}
}

func TestPCMToFloat32(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 8)
	for i, s := range []int16{0, math.MaxInt16, math.MinInt16, -16384} {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	dst := make([]float32, 5)
	dst[4] = 7
	pcmToFloat32(pcm, dst)

	want := []float32{0, 32767.0 / 32768, -1, -0.5, 7}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("dst[%d] = %v, want %v", i, dst[i], want[i])
		}
	}
}

// TestModel runs the real model when SILERO_MODEL_PATH points at
// silero_vad.onnx.
func TestModel(t *testing.T) {
	path := os.Getenv("SILERO_MODEL_PATH")
	if path == "" {
		t.Skip("SILERO_MODEL_PATH not set")
	}
	e, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sess, err := e.NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	for i := range 30 {
		ev, err := sess.ProcessFrame(frame(0))
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if ev.IsSpeech() {
			t.Errorf("frame %d: digital silence classified as speech", i)
		}
	}
}
