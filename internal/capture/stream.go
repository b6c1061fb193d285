package capture

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/lexiqai/live-transcriber/internal/audio"
)

// ErrSourceClosed is wrapped in a StartError once the client has gone away
var ErrSourceClosed = errors.New("capture source closed")

// ErrCaptureRunning is returned when the format changes while capturing
var ErrCaptureRunning = errors.New("capture is running")

// StreamSource is a capture source fed by a network client. Each Push acts as
// one device callback and is delivered on the pushing goroutine.
type StreamSource struct {
	mu       sync.RWMutex
	format   audio.Format
	consumer Consumer
	active   bool
	started  bool
	closed   bool
	logger   zerolog.Logger

	delivered atomic.Uint64
	ignored   atomic.Uint64
}

// NewStreamSource creates a source reporting format until the client changes it
func NewStreamSource(format audio.Format, logger zerolog.Logger) *StreamSource {
	return &StreamSource{
		format: format,
		logger: logger.With().Str("component", "capture").Logger(),
	}
}

// SetFormat changes the format reported to the next session
func (s *StreamSource) SetFormat(format audio.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrCaptureRunning
	}
	s.format = format
	return nil
}

// Format returns the client-declared format
func (s *StreamSource) Format() audio.Format {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.format
}

// Activate claims the audio session
func (s *StreamSource) Activate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &StartError{Op: "activate", Err: ErrSourceClosed}
	}
	s.active = true
	return nil
}

// Deactivate releases the audio session
func (s *StreamSource) Deactivate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = false
	return nil
}

// SetConsumer installs the buffer consumer
func (s *StreamSource) SetConsumer(fn Consumer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumer = fn
}

// RemoveConsumer uninstalls the consumer, waiting for any in-flight delivery
func (s *StreamSource) RemoveConsumer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumer = nil
}

// Start begins delivering pushed buffers
func (s *StreamSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &StartError{Op: "start", Err: ErrSourceClosed}
	}
	if !s.active {
		return &StartError{Op: "start", Err: errors.New("audio session not active")}
	}
	s.started = true
	s.logger.Debug().Interface("format", s.format).Msg("Capture started")
	return nil
}

// Stop halts delivery
func (s *StreamSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		s.logger.Debug().
			Uint64("delivered", s.delivered.Load()).
			Uint64("ignored", s.ignored.Load()).
			Msg("Capture stopped")
	}
	s.started = false
}

// Push hands samples to the consumer if capture is running. It reports
// whether the buffer was delivered.
func (s *StreamSource) Push(samples []float32) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started || s.consumer == nil {
		s.ignored.Add(1)
		return false
	}
	s.consumer(audio.Buffer{Samples: samples})
	s.delivered.Add(1)
	return true
}

// Close marks the client as gone. Later Activate and Start calls fail.
func (s *StreamSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.started = false
	s.consumer = nil
}

// IsActive reports whether the audio session is claimed
func (s *StreamSource) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// IsStarted reports whether buffers are being delivered
func (s *StreamSource) IsStarted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}
