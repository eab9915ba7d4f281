// Package capture defines the audio capture source a session reads from.
package capture

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrDeviceUnavailable is reported when the capture device cannot be acquired
	ErrDeviceUnavailable = errors.New("capture device unavailable")

	// ErrRecorderFault is reported when the recorder fails mid-session
	ErrRecorderFault = errors.New("recorder error")
)

// Source delivers encoded audio chunks until it ends
type Source interface {
	// Audio delivers chunks in capture order. It is never closed; watch Done.
	Audio() <-chan []byte

	// Done is closed when the source has ended
	Done() <-chan struct{}

	// Err returns why the source ended, nil for a normal end
	Err() error
}

// StreamSource is a Source fed by a producer calling Push and End
type StreamSource struct {
	audio chan []byte
	done  chan struct{}
	once  sync.Once

	mu  sync.Mutex
	err error
}

// NewStreamSource creates a source buffering up to buffer chunks
func NewStreamSource(buffer int) *StreamSource {
	return &StreamSource{
		audio: make(chan []byte, buffer),
		done:  make(chan struct{}),
	}
}

// Push hands one chunk to the consumer, blocking while the buffer is full
func (s *StreamSource) Push(ctx context.Context, chunk []byte) error {
	select {
	case <-s.done:
		return context.Canceled
	default:
	}

	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// End marks the source as ended. Only the first call has an effect.
func (s *StreamSource) End(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

// Audio implements Source
func (s *StreamSource) Audio() <-chan []byte { return s.audio }

// Done implements Source
func (s *StreamSource) Done() <-chan struct{} { return s.done }

// Err implements Source
func (s *StreamSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
