package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrNotWAV is returned by [ReadWAVHeader] for input that is not a PCM16
// RIFF/WAVE stream.
var ErrNotWAV = errors.New("audio: not a PCM16 WAV stream")

// wavHeader is the canonical 44-byte header of an uncompressed WAV file.
type wavHeader struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

// WriteWAV writes pcm as a WAV file in format f.
func WriteWAV(w io.Writer, pcm []byte, f Format) error {
	block := f.Channels * BytesPerSample
	h := wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + len(pcm)),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		Channels:      uint16(f.Channels),
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      uint32(f.SampleRate * block),
		BlockAlign:    uint16(block),
		BitsPerSample: 8 * BytesPerSample,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(len(pcm)),
	}
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return err
	}
	_, err := w.Write(pcm)
	return err
}

// ReadWAVHeader consumes r up to the start of the sample data and returns the
// stream format. The returned reader yields the PCM. Chunks other than
// "fmt " and "data" are skipped.
func ReadWAVHeader(r io.Reader) (Format, io.Reader, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Format{}, nil, fmt.Errorf("%w: %w", ErrNotWAV, err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Format{}, nil, fmt.Errorf("%w: missing RIFF/WAVE magic", ErrNotWAV)
	}

	var f Format
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return Format{}, nil, fmt.Errorf("%w: no data chunk", ErrNotWAV)
		}
		id, size := string(hdr[0:4]), binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return Format{}, nil, fmt.Errorf("%w: fmt chunk of %d bytes", ErrNotWAV, size)
			}
			body := make([]byte, size+size%2)
			if _, err := io.ReadFull(r, body); err != nil {
				return Format{}, nil, fmt.Errorf("%w: truncated fmt chunk", ErrNotWAV)
			}
			if bits := binary.LittleEndian.Uint16(body[14:16]); bits != 8*BytesPerSample {
				return Format{}, nil, fmt.Errorf("%w: %d-bit samples", ErrNotWAV, bits)
			}
			f.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
		case "data":
			if f.SampleRate == 0 {
				return Format{}, nil, fmt.Errorf("%w: data before fmt", ErrNotWAV)
			}
			// Streaming servers leave the size open.
			if size == 0 || size == 0xFFFFFFFF {
				return f, r, nil
			}
			return f, io.LimitReader(r, int64(size)), nil
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size+size%2)); err != nil {
				return Format{}, nil, fmt.Errorf("%w: truncated %q chunk", ErrNotWAV, id)
			}
		}
	}
}
