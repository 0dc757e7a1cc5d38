package whisper

import "github.com/MrWong99/voxloop/pkg/audio"

// pcmToFloat32Mono decodes interleaved PCM16, averages the channels of each
// frame and scales to [-1, 1), the input whisper.cpp expects.
func pcmToFloat32Mono(pcm []byte, channels int) []float32 {
	samples := audio.Remix(audio.DecodePCM16(pcm), max(channels, 1), 1)
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}
