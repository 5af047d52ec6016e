package usecase

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/livescribe/domain/repositories"
)

// resourceGuard owns the capture handle and the service stream of one
// session. Release tears down whatever was acquired, exactly once; anything
// offered after release is refused so the caller can drop it.
type resourceGuard struct {
	mu       sync.Mutex
	armed    bool
	released bool
	capture  repositories.CaptureHandle
	stream   repositories.TranscriptionStream
	endAudio context.CancelFunc
	logger   *zap.Logger
}

func newResourceGuard(logger *zap.Logger) *resourceGuard {
	return &resourceGuard{logger: logger}
}

// arm installs the cancel func that ends the session's audio and blocking calls
func (g *resourceGuard) arm(endAudio context.CancelFunc) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return false
	}
	g.armed = true
	g.endAudio = endAudio
	return true
}

func (g *resourceGuard) holdCapture(capture repositories.CaptureHandle) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released || g.capture != nil {
		return false
	}
	g.capture = capture
	return true
}

func (g *resourceGuard) holdStream(stream repositories.TranscriptionStream) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released || g.stream != nil {
		return false
	}
	g.stream = stream
	return true
}

// release stops the capture, destroys the stream and signals end of audio.
// It reports whether this call performed the teardown of an armed guard.
func (g *resourceGuard) release() bool {
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		return false
	}
	g.released = true
	capture, stream, endAudio, armed := g.capture, g.stream, g.endAudio, g.armed
	g.capture, g.stream, g.endAudio = nil, nil, nil
	g.mu.Unlock()

	if capture != nil {
		releaseSafely(g.logger, "stop capture", capture.Stop)
	}
	if stream != nil {
		releaseSafely(g.logger, "close transcription stream", stream.Close)
	}
	if endAudio != nil {
		endAudio()
	}

	return armed
}

func releaseSafely(logger *zap.Logger, action string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered while releasing session resource",
				zap.String("action", action),
				zap.Any("panic", r))
		}
	}()

	if err := fn(); err != nil {
		logger.Warn("Failed to release session resource",
			zap.String("action", action),
			zap.Error(fmt.Errorf("failed to %s: %w", action, err)))
	}
}
