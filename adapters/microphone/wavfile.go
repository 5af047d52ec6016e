package microphone

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"go.uber.org/zap"

	"github.com/satriahrh/livescribe/domain/entities"
	"github.com/satriahrh/livescribe/domain/repositories"
	"github.com/satriahrh/livescribe/internal/audio"
)

// DefaultChunkSamples is the number of mono samples per emitted chunk
const DefaultChunkSamples = 4096

// WAVFileConfig represents the configuration of a WAV-backed microphone
type WAVFileConfig struct {
	Path         string
	ChunkSamples int
	// Realtime paces chunks at the file's playback rate
	Realtime bool
}

// WAVFileMicrophone captures audio from a WAV file, downmixed to mono
type WAVFileMicrophone struct {
	config WAVFileConfig
	logger *zap.Logger
}

// Ensure WAVFileMicrophone implements the Microphone interface
var _ repositories.Microphone = (*WAVFileMicrophone)(nil)

// NewWAVFileMicrophone creates a new file-backed microphone
func NewWAVFileMicrophone(config WAVFileConfig, logger *zap.Logger) *WAVFileMicrophone {
	if config.ChunkSamples <= 0 {
		config.ChunkSamples = DefaultChunkSamples
	}
	return &WAVFileMicrophone{
		config: config,
		logger: logger,
	}
}

// ProbeSampleRate reads the sample rate from a WAV header
func ProbeSampleRate(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return 0, fmt.Errorf("invalid wav file: %s", path)
	}
	return int(decoder.SampleRate), nil
}

// Open starts reading the file. A missing or unreadable file is reported as
// a refused permission since no capture device is available.
func (w *WAVFileMicrophone) Open(ctx context.Context, config repositories.CaptureConfig) (repositories.CaptureHandle, error) {
	f, err := os.Open(w.config.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entities.ErrPermissionDenied, err)
	}

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("%w: invalid wav file %s", entities.ErrPermissionDenied, w.config.Path)
	}

	if config.SampleRate > 0 && int(decoder.SampleRate) != config.SampleRate {
		w.logger.Warn("WAV sample rate differs from requested rate",
			zap.Uint32("fileSampleRate", decoder.SampleRate),
			zap.Int("requestedSampleRate", config.SampleRate))
	}

	w.logger.Info("WAV microphone opened",
		zap.String("path", w.config.Path),
		zap.Uint32("sampleRate", decoder.SampleRate),
		zap.Uint16("channels", decoder.NumChans),
		zap.Uint16("bitDepth", decoder.BitDepth))

	capture := &wavCapture{
		chunks: make(chan []byte),
		done:   make(chan struct{}),
		logger: w.logger,
	}
	go capture.read(f, decoder, w.config)
	return capture, nil
}

type wavCapture struct {
	chunks   chan []byte
	done     chan struct{}
	stopOnce sync.Once
	logger   *zap.Logger
}

func (c *wavCapture) Chunks() <-chan []byte {
	return c.chunks
}

func (c *wavCapture) Stop() error {
	c.stopOnce.Do(func() { close(c.done) })
	return nil
}

func (c *wavCapture) read(f *os.File, decoder *wav.Decoder, config WAVFileConfig) {
	defer close(c.chunks)
	defer f.Close()

	channels := int(decoder.NumChans)
	if channels == 0 {
		channels = 1
	}
	scale := float32(int64(1) << (decoder.BitDepth - 1))
	buf := &goaudio.IntBuffer{
		Data:   make([]int, config.ChunkSamples*channels),
		Format: decoder.Format(),
	}

	chunkCount := 0
	for {
		n, err := decoder.PCMBuffer(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			c.logger.Warn("Failed to decode wav data", zap.Error(err))
			return
		}
		if n == 0 {
			c.logger.Info("WAV microphone reached end of file", zap.Int("chunks", chunkCount))
			return
		}

		samples := downmix(buf.Data[:n], channels, scale)
		select {
		case c.chunks <- audio.EncodeRaw(samples):
			chunkCount++
		case <-c.done:
			return
		}

		if config.Realtime && decoder.SampleRate > 0 {
			pace := time.Duration(len(samples)) * time.Second / time.Duration(decoder.SampleRate)
			select {
			case <-time.After(pace):
			case <-c.done:
				return
			}
		}
	}
}

// downmix averages interleaved channels into normalized mono samples
func downmix(data []int, channels int, scale float32) []float32 {
	samples := make([]float32, len(data)/channels)
	for i := range samples {
		var sum int
		for ch := 0; ch < channels; ch++ {
			sum += data[i*channels+ch]
		}
		samples[i] = float32(sum) / float32(channels) / scale
	}
	return samples
}
