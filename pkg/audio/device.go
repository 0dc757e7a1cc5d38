package audio

// CaptureDevice is a microphone input. Implementations deliver raw PCM16 in
// whatever chunk size the driver chooses; [Capture] re-frames it.
type CaptureDevice interface {
	// Format reports the PCM format delivered to the callback.
	Format() Format

	// Start begins delivering audio to onData. onData may be invoked on a
	// driver thread and must return quickly. The slice is only valid for the
	// duration of the call.
	Start(onData func(pcm []byte)) error

	// Stop halts delivery. It is safe to call Stop on a stopped device.
	Stop() error
}

// PlaybackDevice is a speaker output fed from an internal buffer.
type PlaybackDevice interface {
	// Format reports the PCM format the device expects on Write.
	Format() Format

	// Start opens the output stream.
	Start() error

	// Write appends pcm to the device buffer without blocking on playback.
	Write(pcm []byte) error

	// Buffered reports how many bytes are queued but not yet played.
	Buffered() int

	// Clear discards everything queued so output goes silent immediately.
	Clear()

	// Stop closes the output stream.
	Stop() error
}

// Backend bundles the devices of one audio host API.
type Backend interface {
	Capture() CaptureDevice
	Playback() PlaybackDevice

	// Close releases the host API. Devices must be stopped first.
	Close() error
}
