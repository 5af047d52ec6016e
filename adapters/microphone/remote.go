package microphone

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/livescribe/domain/entities"
	"github.com/satriahrh/livescribe/domain/repositories"
)

const remoteChunkBuffer = 64

// ErrAlreadyOpened is returned when a remote microphone is opened twice
var ErrAlreadyOpened = errors.New("microphone already opened")

// RemoteMicrophone is a microphone whose permission decision and audio
// arrive from a remote client, such as a relay connection
type RemoteMicrophone struct {
	logger *zap.Logger

	decideOnce sync.Once
	decided    chan struct{}
	granted    bool

	mu      sync.Mutex
	capture *remoteCapture
	opened  bool
}

// Ensure RemoteMicrophone implements the Microphone interface
var _ repositories.Microphone = (*RemoteMicrophone)(nil)

// NewRemoteMicrophone creates a microphone awaiting a permission decision
func NewRemoteMicrophone(logger *zap.Logger) *RemoteMicrophone {
	return &RemoteMicrophone{
		logger:  logger,
		decided: make(chan struct{}),
		capture: newRemoteCapture(),
	}
}

// Grant allows capture. Only the first decision counts.
func (m *RemoteMicrophone) Grant() bool {
	return m.decide(true)
}

// Deny refuses capture. Only the first decision counts.
func (m *RemoteMicrophone) Deny() bool {
	return m.decide(false)
}

func (m *RemoteMicrophone) decide(granted bool) bool {
	applied := false
	m.decideOnce.Do(func() {
		m.granted = granted
		applied = true
		close(m.decided)
	})
	if applied {
		m.logger.Debug("Microphone permission decided", zap.Bool("granted", granted))
	}
	return applied
}

// Open waits for the remote permission decision
func (m *RemoteMicrophone) Open(ctx context.Context, config repositories.CaptureConfig) (repositories.CaptureHandle, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("permission request abandoned: %w", ctx.Err())
	case <-m.decided:
	}

	if !m.granted {
		return nil, entities.ErrPermissionDenied
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.opened {
		return nil, ErrAlreadyOpened
	}
	m.opened = true

	m.logger.Info("Remote microphone opened",
		zap.Int("sampleRate", config.SampleRate),
		zap.Bool("objectMode", config.ObjectMode))
	return m.capture, nil
}

// Push forwards a raw chunk to the open capture. It reports false when the
// chunk was dropped because capture is not running.
func (m *RemoteMicrophone) Push(chunk []byte) bool {
	m.mu.Lock()
	opened := m.opened
	m.mu.Unlock()
	if !opened {
		return false
	}
	return m.capture.push(chunk)
}

// Close stops the capture whether or not it was ever opened
func (m *RemoteMicrophone) Close() error {
	m.Deny()
	return m.capture.Stop()
}

type remoteCapture struct {
	chunks   chan []byte
	done     chan struct{}
	stopOnce sync.Once

	mu      sync.RWMutex
	stopped bool
}

func newRemoteCapture() *remoteCapture {
	return &remoteCapture{
		chunks: make(chan []byte, remoteChunkBuffer),
		done:   make(chan struct{}),
	}
}

func (c *remoteCapture) Chunks() <-chan []byte {
	return c.chunks
}

func (c *remoteCapture) push(chunk []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		return false
	}

	select {
	case c.chunks <- chunk:
		return true
	case <-c.done:
		return false
	}
}

func (c *remoteCapture) Stop() error {
	c.stopOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		c.stopped = true
		close(c.chunks)
		c.mu.Unlock()
	})
	return nil
}
