package recognition

import (
	"context"
	"errors"
	"sync"
)

type fakeFrame struct {
	resp *Response
	err  error
}

type fakeStream struct {
	incoming chan fakeFrame
	closedCh chan struct{}

	mu        sync.Mutex
	written   [][]byte
	closeOnce sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		incoming: make(chan fakeFrame, 16),
		closedCh: make(chan struct{}),
	}
}

func (s *fakeStream) push(resp *Response) { s.incoming <- fakeFrame{resp: resp} }

func (s *fakeStream) fail(err error) { s.incoming <- fakeFrame{err: err} }

func (s *fakeStream) WriteAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closedCh:
		return ErrTransportClosed
	default:
	}
	s.written = append(s.written, append([]byte(nil), chunk...))
	return nil
}

func (s *fakeStream) Receive() (*Response, error) {
	select {
	case f := <-s.incoming:
		return f.resp, f.err
	case <-s.closedCh:
		return nil, ErrTransportClosed
	}
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closedCh) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closedCh:
		return true
	default:
		return false
	}
}

func (s *fakeStream) writes() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.written...)
}

// fakeDialer hands out queued streams; a nil entry or an empty queue fails the dial
type fakeDialer struct {
	mu      sync.Mutex
	queue   []*fakeStream
	dials   int
	configs []SessionConfig
	block   bool
}

func (d *fakeDialer) Dial(ctx context.Context, cfg SessionConfig) (Stream, error) {
	d.mu.Lock()
	d.dials++
	d.configs = append(d.configs, cfg)
	block := d.block
	var next *fakeStream
	if len(d.queue) > 0 {
		next = d.queue[0]
		d.queue = d.queue[1:]
	}
	d.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if next == nil {
		return nil, errors.New("dial tcp: connection refused")
	}
	return next, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}
