package audio

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/livescribe/domain/repositories"
)

const frameBufferSize = 16

// FrameSource turns a capture handle into a lazy sequence of PCM frames
type FrameSource struct {
	handle repositories.CaptureHandle
	logger *zap.Logger
	once   sync.Once
}

// NewFrameSource creates a frame source over handle
func NewFrameSource(handle repositories.CaptureHandle, logger *zap.Logger) *FrameSource {
	return &FrameSource{
		handle: handle,
		logger: logger,
	}
}

// Frames starts producing one PCM frame per decodable raw chunk. Chunks that
// cannot be decoded are skipped. The channel is closed when the capture stops
// or ctx is cancelled. Only the first call produces frames; later calls get a
// closed channel.
func (f *FrameSource) Frames(ctx context.Context) <-chan []byte {
	out := make(chan []byte, frameBufferSize)

	started := false
	f.once.Do(func() {
		started = true
		go f.produce(ctx, out)
	})
	if !started {
		close(out)
	}

	return out
}

func (f *FrameSource) produce(ctx context.Context, out chan<- []byte) {
	defer close(out)

	chunks := f.handle.Chunks()
	frameCount := 0
	skipped := 0

	defer func() {
		f.logger.Debug("Audio frame source finished",
			zap.Int("frames", frameCount),
			zap.Int("skipped", skipped))
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				return
			}

			samples := DecodeRaw(chunk)
			if samples == nil {
				skipped++
				continue
			}

			select {
			case out <- EncodePCM(samples):
				frameCount++
			case <-ctx.Done():
				return
			}
		}
	}
}
