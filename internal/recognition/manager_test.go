package recognition

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/lexiqai/caption-gateway/internal/clock"
	"github.com/lexiqai/caption-gateway/internal/resilience"
)

func newTestManager(d Dialer, c clock.Clock) *Manager {
	return NewManager(Options{
		Dialer:           d,
		Clock:            c,
		HandshakeTimeout: time.Second,
		Reconnect:        &resilience.ReconnectPolicy{MaxAttempts: 3, Backoff: 2 * time.Second},
		BacklogSize:      1024,
	})
}

func waitDone(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the connection to end")
	}
}

func receive(t *testing.T, c *Conn) *Response {
	t.Helper()
	select {
	case resp, ok := <-c.Messages():
		if !ok {
			t.Fatal("Messages closed unexpectedly")
		}
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for a message")
	}
	return nil
}

func TestConn_DeliversMessagesInOrder(t *testing.T) {
	s1 := newFakeStream()
	d := &fakeDialer{queue: []*fakeStream{s1}}
	m := newTestManager(d, clock.NewFake(time.Unix(0, 0)))

	conn, err := m.Open(context.Background(), SessionConfig{APIKey: "key", Model: "stt-rt-v4"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer conn.Close()

	for _, text := range []string{"one", " two", " three"} {
		s1.push(&Response{Tokens: []Token{{Text: text, IsFinal: true}}})
	}
	for _, want := range []string{"one", " two", " three"} {
		resp := receive(t, conn)
		if resp.Tokens[0].Text != want {
			t.Errorf("Expected %q, got %q", want, resp.Tokens[0].Text)
		}
	}
}

func TestConn_BacklogFlushedOnConnect(t *testing.T) {
	s1 := newFakeStream()
	d := &fakeDialer{queue: []*fakeStream{s1}}
	m := newTestManager(d, clock.NewFake(time.Unix(0, 0)))

	conn := m.NewConn(SessionConfig{APIKey: "key"})
	defer conn.Close()

	_ = conn.Send([]byte("ab"))
	_ = conn.Send([]byte("cd"))
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	_ = conn.Send([]byte("ef"))

	writes := s1.writes()
	if len(writes) != 2 {
		t.Fatalf("Expected 2 writes, got %d", len(writes))
	}
	if !bytes.Equal(writes[0], []byte("abcd")) {
		t.Errorf("Expected backlog flushed in order, got %q", writes[0])
	}
	if !bytes.Equal(writes[1], []byte("ef")) {
		t.Errorf("Expected live chunk after backlog, got %q", writes[1])
	}
}

func TestConn_ReconnectBoundAndReset(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	s1 := newFakeStream()
	s2 := newFakeStream()
	d := &fakeDialer{queue: []*fakeStream{s1, nil, s2}}
	m := newTestManager(d, fake)

	conn, err := m.Open(context.Background(), SessionConfig{APIKey: "key"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer conn.Close()

	s1.fail(errors.New("read: connection reset by peer"))

	// First attempt waits 2s
	fake.BlockUntil(1)
	fake.Advance(1999 * time.Millisecond)
	if got := d.dialCount(); got != 1 {
		t.Fatalf("Expected no redial before the backoff elapsed, got %d dials", got)
	}
	fake.Advance(time.Millisecond)

	// Second attempt waits 4s and succeeds
	fake.BlockUntil(1)
	fake.Advance(4 * time.Second)

	s2.push(&Response{Tokens: []Token{{Text: "back", IsFinal: true}}})
	if resp := receive(t, conn); resp.Tokens[0].Text != "back" {
		t.Fatalf("Expected message from the new stream, got %q", resp.Tokens[0].Text)
	}
	if got := d.dialCount(); got != 3 {
		t.Fatalf("Expected 3 dials after reconnecting, got %d", got)
	}

	// The counter was reset: the budget is three fresh attempts of 2s, 4s, 6s
	s2.fail(errors.New("unexpected EOF"))
	for _, delay := range []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second} {
		fake.BlockUntil(1)
		fake.Advance(delay)
	}

	waitDone(t, conn)
	if !errors.Is(conn.Err(), ErrMaxRetriesExceeded) {
		t.Errorf("Expected ErrMaxRetriesExceeded, got %v", conn.Err())
	}
	if got := d.dialCount(); got != 6 {
		t.Errorf("Expected 6 dials in total, got %d", got)
	}
	if _, ok := <-conn.Messages(); ok {
		t.Error("Expected Messages to be closed")
	}
}

func TestConn_FatalServiceErrorDoesNotReconnect(t *testing.T) {
	s1 := newFakeStream()
	d := &fakeDialer{queue: []*fakeStream{s1, newFakeStream()}}
	m := newTestManager(d, clock.NewFake(time.Unix(0, 0)))

	var mu sync.Mutex
	var reported []*ServiceError
	conn, err := m.Open(context.Background(), SessionConfig{APIKey: "bad"}, WithServiceErrorObserver(func(e *ServiceError) {
		mu.Lock()
		reported = append(reported, e)
		mu.Unlock()
	}))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer conn.Close()

	s1.push(&Response{ErrorCode: 401, ErrorMessage: "Invalid API key"})
	waitDone(t, conn)

	var svcErr *ServiceError
	if !errors.As(conn.Err(), &svcErr) {
		t.Fatalf("Expected *ServiceError, got %v", conn.Err())
	}
	if svcErr.Code != 401 || !svcErr.Fatal() {
		t.Errorf("Expected fatal 401, got %d (fatal=%v)", svcErr.Code, svcErr.Fatal())
	}
	if got := d.dialCount(); got != 1 {
		t.Errorf("Expected no reconnect after a fatal error, got %d dials", got)
	}
	if !s1.isClosed() {
		t.Error("Expected the stream to be closed")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 1 {
		t.Errorf("Expected the error to be reported once, got %d", len(reported))
	}
}

func TestConn_NonFatalServiceErrorKeepsStreaming(t *testing.T) {
	s1 := newFakeStream()
	d := &fakeDialer{queue: []*fakeStream{s1}}
	m := newTestManager(d, clock.NewFake(time.Unix(0, 0)))

	reported := make(chan *ServiceError, 1)
	conn, err := m.Open(context.Background(), SessionConfig{}, WithServiceErrorObserver(func(e *ServiceError) {
		reported <- e
	}))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer conn.Close()

	s1.push(&Response{ErrorCode: 300, ErrorMessage: "slow down"})
	s1.push(&Response{Tokens: []Token{{Text: "still here", IsFinal: true}}})

	if resp := receive(t, conn); resp.Tokens[0].Text != "still here" {
		t.Errorf("Expected tokens after a non-fatal error, got %+v", resp)
	}
	select {
	case e := <-reported:
		if e.Fatal() {
			t.Error("Expected code 300 to be non-fatal")
		}
	default:
		t.Error("Expected the non-fatal error to be reported")
	}
}

func TestConn_HandshakeTimeout(t *testing.T) {
	d := &fakeDialer{block: true}
	m := NewManager(Options{Dialer: d, HandshakeTimeout: 20 * time.Millisecond})

	_, err := m.Open(context.Background(), SessionConfig{})
	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Errorf("Expected ErrHandshakeTimeout, got %v", err)
	}
}

func TestConn_NormalCloseEndsWithoutError(t *testing.T) {
	s1 := newFakeStream()
	d := &fakeDialer{queue: []*fakeStream{s1}}
	m := newTestManager(d, clock.NewFake(time.Unix(0, 0)))

	conn, err := m.Open(context.Background(), SessionConfig{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	s1.push(&Response{Finished: true})
	s1.fail(io.EOF)

	if resp := receive(t, conn); !resp.Finished {
		t.Error("Expected the finished message to be delivered")
	}
	waitDone(t, conn)
	if conn.Err() != nil {
		t.Errorf("Expected no error after a normal close, got %v", conn.Err())
	}
	if got := d.dialCount(); got != 1 {
		t.Errorf("Expected no reconnect after a normal close, got %d dials", got)
	}
}

func TestConn_CloseDuringBackoffStopsReconnect(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	s1 := newFakeStream()
	d := &fakeDialer{queue: []*fakeStream{s1}}
	m := newTestManager(d, fake)

	conn, err := m.Open(context.Background(), SessionConfig{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	s1.fail(errors.New("connection reset"))
	fake.BlockUntil(1)

	if err := conn.Close(); err != nil {
		t.Errorf("Close returned %v", err)
	}
	waitDone(t, conn)
	if conn.Err() != nil {
		t.Errorf("Expected no error after Close, got %v", conn.Err())
	}
	if err := conn.Close(); err != nil {
		t.Errorf("Second Close returned %v", err)
	}
	if err := conn.Send([]byte("late")); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Expected ErrTransportClosed after Close, got %v", err)
	}
	if fake.Pending() != 0 {
		t.Errorf("Expected the backoff timer to be cancelled, %d pending", fake.Pending())
	}
}

func TestConn_AudioHeldDuringReconnect(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	s1 := newFakeStream()
	s2 := newFakeStream()
	d := &fakeDialer{queue: []*fakeStream{s1, s2}}
	m := newTestManager(d, fake)

	conn, err := m.Open(context.Background(), SessionConfig{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer conn.Close()

	s1.fail(errors.New("connection reset"))
	fake.BlockUntil(1)

	_ = conn.Send([]byte("held"))
	fake.Advance(2 * time.Second)

	deadline := time.After(2 * time.Second)
	for len(s2.writes()) == 0 {
		select {
		case <-deadline:
			t.Fatal("Timed out waiting for the backlog flush")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if got := s2.writes()[0]; !bytes.Equal(got, []byte("held")) {
		t.Errorf("Expected held audio on the new stream, got %q", got)
	}
}

func TestConn_StateObserver(t *testing.T) {
	s1 := newFakeStream()
	d := &fakeDialer{queue: []*fakeStream{s1}}
	m := newTestManager(d, clock.NewFake(time.Unix(0, 0)))

	var mu sync.Mutex
	var states []State
	conn, err := m.Open(context.Background(), SessionConfig{}, WithStateObserver(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	conn.Close()

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateConnecting, StateConnected, StateIdle}
	if len(states) != len(want) {
		t.Fatalf("Expected states %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("State %d: expected %s, got %s", i, want[i], states[i])
		}
	}
}

type brokenStream struct{ *fakeStream }

func (s *brokenStream) WriteAudio([]byte) error { return errors.New("write: broken pipe") }

func TestConn_FailedFlushKeepsBacklog(t *testing.T) {
	m := newTestManager(&fakeDialer{}, clock.NewFake(time.Unix(0, 0)))
	conn := m.NewConn(SessionConfig{})
	defer conn.Close()

	if err := conn.Send([]byte("abcdef")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	broken := &brokenStream{newFakeStream()}
	if err := conn.attach(broken); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	if got := conn.backlog.Available(); got != 6 {
		t.Fatalf("Expected 6 bytes held after a failed flush, got %d", got)
	}

	// Audio arriving before the next link queues behind the held bytes
	if err := conn.Send([]byte("gh")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	next := newFakeStream()
	if err := conn.attach(next); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	writes := next.writes()
	if len(writes) != 1 || !bytes.Equal(writes[0], []byte("abcdefgh")) {
		t.Errorf("Expected the held audio on the next stream, got %q", writes)
	}
	if !conn.backlog.IsEmpty() {
		t.Error("Expected the backlog to be empty after a successful flush")
	}
}

func TestNewManager_ReconnectPolicy(t *testing.T) {
	tests := []struct {
		name   string
		policy *resilience.ReconnectPolicy
		want   resilience.ReconnectPolicy
	}{
		{"unset uses default", nil, resilience.DefaultReconnectPolicy()},
		{"explicit zero disables reconnect", &resilience.ReconnectPolicy{}, resilience.ReconnectPolicy{}},
		{"zero backoff kept", &resilience.ReconnectPolicy{MaxAttempts: 5}, resilience.ReconnectPolicy{MaxAttempts: 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(Options{Dialer: &fakeDialer{}, Reconnect: tt.policy})
			if m.reconnect != tt.want {
				t.Errorf("Expected %+v, got %+v", tt.want, m.reconnect)
			}
		})
	}
}
