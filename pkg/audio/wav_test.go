package audio_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/MrWong99/voxloop/pkg/audio"
)

func wavBytes(t *testing.T, pcm []byte, f audio.Format) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := audio.WriteWAV(&buf, pcm, f); err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}
	return buf.Bytes()
}

func TestWriteWAV_Header(t *testing.T) {
	t.Parallel()
	wav := wavBytes(t, samplesToBytes([]int16{1, 2, 3}), audio.Format{SampleRate: 16000, Channels: 1})
	le := binary.LittleEndian
	if len(wav) != 50 {
		t.Fatalf("len = %d, want 50", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:16]) != "WAVEfmt " || string(wav[36:40]) != "data" {
		t.Errorf("chunk ids wrong: %q", wav[:40])
	}
	if got := le.Uint32(wav[28:32]); got != 32000 {
		t.Errorf("byte rate = %d, want 32000", got)
	}
	if got := le.Uint32(wav[40:44]); got != 6 {
		t.Errorf("data size = %d, want 6", got)
	}
}

func TestReadWAVHeader(t *testing.T) {
	t.Parallel()
	pcm := samplesToBytes([]int16{100, -100, 200, -200})
	stereo := audio.Format{SampleRate: 22050, Channels: 2}
	plain := wavBytes(t, pcm, stereo)

	// A LIST chunk between fmt and data, as some encoders write.
	withList := bytes.Clone(plain[:36])
	withList = append(withList, "LIST"...)
	withList = binary.LittleEndian.AppendUint32(withList, 3)
	withList = append(withList, 'a', 'b', 'c', 0)
	withList = append(withList, plain[36:]...)

	// Open-ended data size, as streaming servers send.
	open := bytes.Clone(plain)
	binary.LittleEndian.PutUint32(open[40:44], 0xFFFFFFFF)

	// Data size shorter than the body: trailing bytes are not audio.
	trailing := append(bytes.Clone(plain), 0xDE, 0xAD)

	for name, wav := range map[string][]byte{"plain": plain, "list chunk": withList, "open size": open, "trailing junk": trailing} {
		f, r, err := audio.ReadWAVHeader(bytes.NewReader(wav))
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if f != stereo {
			t.Errorf("%s: format = %v, want %v", name, f, stereo)
		}
		got, _ := io.ReadAll(r)
		want := pcm
		if name == "open size" {
			want = wav[44:]
		}
		if !bytes.Equal(got, want) {
			t.Errorf("%s: pcm = %v, want %v", name, got, want)
		}
	}
}

func TestReadWAVHeader_Rejects(t *testing.T) {
	t.Parallel()
	good := wavBytes(t, []byte{9, 9}, audio.Format{SampleRate: 16000, Channels: 1})
	eightBit := bytes.Clone(good)
	binary.LittleEndian.PutUint16(eightBit[34:36], 8)

	for name, data := range map[string][]byte{
		"short":     []byte("RIFF"),
		"not riff":  append([]byte("JUNK"), good[4:]...),
		"no data":   good[:36],
		"8-bit pcm": eightBit,
	} {
		if _, _, err := audio.ReadWAVHeader(bytes.NewReader(data)); !errors.Is(err, audio.ErrNotWAV) {
			t.Errorf("%s: err = %v, want ErrNotWAV", name, err)
		}
	}
}
