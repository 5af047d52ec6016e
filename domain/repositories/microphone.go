package repositories

import "context"

// Microphone is the host environment that grants capture access
type Microphone interface {
	// Open requests capture access and returns a live handle. A refusal
	// wraps entities.ErrPermissionDenied.
	Open(ctx context.Context, config CaptureConfig) (CaptureHandle, error)
}

// CaptureConfig represents how the capture handle delivers audio
type CaptureConfig struct {
	SampleRate int
	// ObjectMode false means raw chunks (little-endian float32 buffers)
	// instead of pre-framed objects.
	ObjectMode bool
}

// CaptureHandle is an open microphone capture
type CaptureHandle interface {
	// Chunks yields raw chunks until the capture stops
	Chunks() <-chan []byte
	// Stop ends the capture and closes Chunks. It is safe to call more than once.
	Stop() error
}
