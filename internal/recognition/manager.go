package recognition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-gateway/internal/audio"
	"github.com/lexiqai/caption-gateway/internal/clock"
	"github.com/lexiqai/caption-gateway/internal/observability"
	"github.com/lexiqai/caption-gateway/internal/resilience"
)

const defaultBacklogSize = 256 * 1024

// Options configures a Manager
type Options struct {
	Dialer           Dialer
	Clock            clock.Clock
	HandshakeTimeout time.Duration
	Reconnect        *resilience.ReconnectPolicy // Nil uses resilience.DefaultReconnectPolicy
	BacklogSize      int
	Breaker          *resilience.CircuitBreaker // Optional, guards every dial
}

// Manager opens recognition connections with a shared dialer, breaker and policy
type Manager struct {
	opts      Options
	reconnect resilience.ReconnectPolicy
}

// NewManager creates a Manager, filling unset options with defaults
func NewManager(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	reconnect := resilience.DefaultReconnectPolicy()
	if opts.Reconnect != nil {
		reconnect = *opts.Reconnect
	}
	if opts.BacklogSize < 2 {
		opts.BacklogSize = defaultBacklogSize
	}
	return &Manager{opts: opts, reconnect: reconnect}
}

// ConnOption customizes a single connection
type ConnOption func(*Conn)

// WithStateObserver registers fn for advisory state changes
func WithStateObserver(fn func(State)) ConnOption {
	return func(c *Conn) { c.onState = fn }
}

// WithServiceErrorObserver registers fn for every in-band service error,
// fatal or not. It runs on the reader goroutine.
func WithServiceErrorObserver(fn func(*ServiceError)) ConnOption {
	return func(c *Conn) { c.onServiceError = fn }
}

// WithLogger sets the connection logger
func WithLogger(logger zerolog.Logger) ConnOption {
	return func(c *Conn) { c.logger = logger }
}

// NewConn creates a connection that is not dialed yet. Audio sent before
// Connect completes is held in the backlog.
func (m *Manager) NewConn(cfg SessionConfig, opts ...ConnOption) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		m:          m,
		cfg:        cfg,
		logger:     observability.Component("recognition"),
		ctx:        ctx,
		cancel:     cancel,
		backlog:    audio.NewBacklog(m.opts.BacklogSize),
		reconnects: resilience.NewReconnector(m.reconnect),
		messages:   make(chan *Response, 16),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open dials a connection and starts reading from it
func (m *Manager) Open(ctx context.Context, cfg SessionConfig, opts ...ConnOption) (*Conn, error) {
	c := m.NewConn(cfg, opts...)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Conn is one logical recognition connection. It survives transport drops
// by reconnecting; Messages delivers every service message in order until
// the connection ends.
type Conn struct {
	m              *Manager
	cfg            SessionConfig
	logger         zerolog.Logger
	onState        func(State)
	onServiceError func(*ServiceError)

	ctx        context.Context
	cancel     context.CancelFunc
	reconnects *resilience.Reconnector

	mu      sync.Mutex
	stream  Stream
	open    bool
	closed  bool
	started bool
	backlog *audio.Backlog

	messages  chan *Response
	done      chan struct{}
	err       error
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Connect performs the handshake and starts the reader. It may be called once.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrTransportClosed
	}
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("recognition connection already started")
	}
	c.started = true
	c.mu.Unlock()

	stream, err := c.dial(ctx)
	if err != nil {
		c.setState(StateIdle)
		c.finish(err)
		return err
	}

	if err := c.attach(stream); err != nil {
		stream.Close()
		c.finish(err)
		return err
	}

	c.wg.Add(1)
	go c.readLoop()
	return nil
}

// dial opens one stream bounded by the handshake timeout
func (c *Conn) dial(ctx context.Context) (Stream, error) {
	c.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, c.m.opts.HandshakeTimeout)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	start := time.Now()
	var stream Stream
	dialFn := func() error {
		s, err := c.m.opts.Dialer.Dial(dialCtx, c.cfg)
		if err != nil {
			return err
		}
		stream = s
		return nil
	}

	var err error
	if c.m.opts.Breaker != nil {
		err = c.m.opts.Breaker.Call(dialFn)
	} else {
		err = dialFn()
	}
	if err != nil {
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %v", ErrHandshakeTimeout, err)
		}
		return nil, err
	}

	observability.RecordHandshake(time.Since(start))
	c.setState(StateConnected)
	return stream, nil
}

// attach installs a freshly dialed stream and flushes the backlog into it
func (c *Conn) attach(stream Stream) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrTransportClosed
	}

	if dropped := c.backlog.TakeDropped(); dropped > 0 {
		observability.RecordAudioBytes("dropped", dropped)
		c.logger.Warn().Int("bytes", dropped).Msg("Audio backlog overflowed while the link was down")
	}

	c.stream = stream
	if pending := c.backlog.Drain(); len(pending) > 0 {
		if err := stream.WriteAudio(pending); err != nil {
			// Held for the next link; the reader sees the same failure and reconnects
			c.backlog.Write(pending)
			c.logger.Warn().Err(err).Int("bytes", len(pending)).Msg("Failed to flush audio backlog")
			return nil
		}
		observability.RecordAudioBytes("out", len(pending))
	}

	c.open = true
	return nil
}

// Send forwards one audio chunk, or holds it while the link is not open
func (c *Conn) Send(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrTransportClosed
	}
	observability.RecordAudioBytes("in", len(chunk))

	if !c.open {
		c.backlog.Write(chunk)
		return nil
	}

	if err := c.stream.WriteAudio(chunk); err != nil {
		// The reader sees the same failure and reconnects; keep the audio for the next link
		c.open = false
		c.backlog.Write(chunk)
		c.logger.Debug().Err(err).Msg("Audio write failed, holding chunk")
		return nil
	}
	observability.RecordAudioBytes("out", len(chunk))
	return nil
}

// Messages delivers service messages in arrival order. It is closed when the connection ends.
func (c *Conn) Messages() <-chan *Response {
	return c.messages
}

// Done is closed when the connection has ended
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended: nil after Close or a normal close by
// the service, otherwise a fatal *ServiceError, ErrMaxRetriesExceeded or the
// handshake error.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close ends the audio, closes the stream and stops any reconnection. It is idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.open = false
	c.backlog.Clear()
	stream := c.stream
	started := c.started
	c.mu.Unlock()

	c.cancel()
	var err error
	if stream != nil {
		err = stream.Close()
	}
	c.wg.Wait()

	if !started {
		c.finish(nil)
	}
	c.setState(StateIdle)
	return err
}

func (c *Conn) readLoop() {
	defer c.wg.Done()

	for {
		c.mu.Lock()
		stream := c.stream
		c.mu.Unlock()

		err := c.readStream(stream)
		if err == nil {
			c.finish(nil)
			return
		}

		var svcErr *ServiceError
		if errors.As(err, &svcErr) {
			c.closeStream()
			c.finish(err)
			return
		}

		if c.isClosed() {
			c.finish(nil)
			return
		}

		c.logger.Warn().Err(err).Msg("Recognition stream closed abnormally")
		c.closeStream()

		err = resilience.Reconnect(c.ctx, c.m.opts.Clock, c.reconnects, func(ctx context.Context, attempt int) error {
			s, err := c.dial(ctx)
			if err != nil {
				return err
			}
			if err := c.attach(s); err != nil {
				s.Close()
				return err
			}
			c.logger.Info().Int("attempt", attempt).Msg("Recognition stream reconnected")
			return nil
		})
		if err != nil {
			if c.isClosed() || errors.Is(err, context.Canceled) {
				c.finish(nil)
				return
			}
			c.setState(StateIdle)
			c.finish(fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, err))
			return
		}
	}
}

// readStream pumps one stream until it ends. It returns nil on a normal close,
// a fatal *ServiceError, or the transport error that should trigger a reconnect.
func (c *Conn) readStream(stream Stream) error {
	for {
		resp, err := stream.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if svcErr := serviceErrorFrom(resp); svcErr != nil {
			observability.RecordServiceError(svcErr.Code, svcErr.Fatal())
			c.logger.Error().Int("code", svcErr.Code).Str("message", svcErr.Message).Bool("fatal", svcErr.Fatal()).Msg("Recognition service error")
			if c.onServiceError != nil {
				c.onServiceError(svcErr)
			}
			if svcErr.Fatal() {
				return svcErr
			}
			if len(resp.Tokens) == 0 && !resp.Finished {
				continue
			}
		}

		select {
		case c.messages <- resp:
		case <-c.ctx.Done():
			return nil
		}
	}
}

func (c *Conn) closeStream() {
	c.mu.Lock()
	stream := c.stream
	c.stream = nil
	c.open = false
	c.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// finish records the terminal error and closes the output channels once
func (c *Conn) finish(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		c.mu.Lock()
		c.open = false
		c.mu.Unlock()
		close(c.messages)
		close(c.done)
	})
}

func (c *Conn) setState(state State) {
	observability.RecordConnectionState(int(state))
	if c.onState != nil {
		c.onState(state)
	}
}
