// Package session runs at most one capture session at a time: it connects a
// capture source to the recognition service and drives the caption pipeline.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-gateway/internal/capture"
	"github.com/lexiqai/caption-gateway/internal/captions"
	"github.com/lexiqai/caption-gateway/internal/clock"
	"github.com/lexiqai/caption-gateway/internal/observability"
	"github.com/lexiqai/caption-gateway/internal/recognition"
	"github.com/lexiqai/caption-gateway/internal/transcript"
)

// Settings are the per-session recognition options
type Settings struct {
	APIKey         string `json:"apiKey"`
	TargetLanguage string `json:"translateTo"`    // Empty disables translation
	SourceLanguage string `json:"sourceLanguage"` // Empty for auto-detection
	ContextText    string `json:"context"`
}

// StartRequest asks the controller to start capturing
type StartRequest struct {
	OwnerID   string
	SourceURL string
	Source    capture.Source
	Config    Settings
	Sink      Sink
}

// State describes the controller for status queries
type State struct {
	Active     bool      `json:"active"`
	OwnerID    string    `json:"ownerId,omitempty"`
	SessionID  string    `json:"sessionId,omitempty"`
	StartedAt  time.Time `json:"startedAt,omitempty"`
	Connection string    `json:"connection"`
}

// Options configures a Controller
type Options struct {
	Manager       *recognition.Manager
	Clock         clock.Clock
	SettleDelay   time.Duration // Wait after forcing a previous session down
	Captions      captions.Config
	DefaultAPIKey string // Used when a request carries no key
	Model         string
}

// Controller owns the single active session
type Controller struct {
	opts   Options
	logger zerolog.Logger

	startMu sync.Mutex

	mu      sync.Mutex
	current *Session
	ending  *Session // Replaced or stopped, teardown still running
	last    *transcript.History
}

// NewController creates a controller
func NewController(opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Captions.MaxChars == 0 {
		opts.Captions = captions.DefaultConfig()
	}
	return &Controller{
		opts:   opts,
		logger: observability.Component("session"),
	}
}

// Start validates req, tears down any active session and opens a new one.
// The session is visible to Stop and OwnerRemoved during the handshake; if
// it is stopped there, Start returns ErrStartCancelled. On error nothing is
// left running.
func (c *Controller) Start(ctx context.Context, req StartRequest) error {
	if err := validate(req); err != nil {
		observability.RecordStartFailure("invalid_request")
		return err
	}

	c.startMu.Lock()
	defer c.startMu.Unlock()

	c.mu.Lock()
	previous := c.current
	if previous == nil {
		previous = c.ending
	}
	c.mu.Unlock()

	if previous != nil {
		c.logger.Info().Str("session_id", previous.id).Msg("Replacing active session")
		c.end(previous, ReasonReplaced, nil)
		<-previous.done
		if err := clock.Sleep(ctx, c.opts.Clock, c.opts.SettleDelay); err != nil {
			return err
		}
	}

	s := c.newSession(req)
	s.logger.Info().Str("source_url", req.SourceURL).Str("target_language", req.Config.TargetLanguage).Msg("Starting session")

	s.wg.Add(1)
	go s.forwardAudio()

	c.mu.Lock()
	c.current = s
	c.mu.Unlock()

	err := s.conn.Connect(ctx)
	if err == nil && s.announce() {
		c.mu.Lock()
		c.last = s.history
		c.mu.Unlock()

		s.setState(recognition.StateRecording)

		go c.run(s)
		go c.watchSource(s)
		return nil
	}

	if s.isStopped() {
		<-s.done
		observability.RecordStartFailure("cancelled")
		s.logger.Info().Msg("Session stopped during the handshake")
		return ErrStartCancelled
	}

	c.end(s, ReasonStartFailed, nil)
	observability.RecordStartFailure(startFailureReason(err))
	s.logger.Warn().Err(err).Msg("Failed to open recognition stream")
	return fmt.Errorf("failed to connect: %w", err)
}

func validate(req StartRequest) error {
	if req.OwnerID == "" {
		return ErrNoActiveCaptureTarget
	}
	if isPrivilegedURL(req.SourceURL) {
		return ErrIneligibleSource
	}
	if req.Source == nil {
		return ErrMissingStreamHandle
	}
	if req.Sink == nil {
		return fmt.Errorf("session sink is required")
	}
	return nil
}

func startFailureReason(err error) string {
	var svcErr *recognition.ServiceError
	switch {
	case errors.Is(err, recognition.ErrHandshakeTimeout):
		return "handshake_timeout"
	case errors.As(err, &svcErr):
		return "service_error"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "connect_failed"
	}
}

func (c *Controller) newSession(req StartRequest) *Session {
	id := observability.NewCorrelationID()
	ctx, cancel := context.WithCancel(context.Background())
	logger := observability.WithSession(id, req.OwnerID)

	apiKey := req.Config.APIKey
	if apiKey == "" {
		apiKey = c.opts.DefaultAPIKey
	}

	s := &Session{
		id:        id,
		ownerID:   req.OwnerID,
		sourceURL: req.SourceURL,
		startedAt: c.opts.Clock.Now(),
		settings:  req.Config,
		source:    req.Source,
		sink:      req.Sink,
		history:   transcript.NewHistory(),
		metrics:   observability.NewSessionMetrics(id),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.processor = transcript.NewProcessor(s.history, req.Config.TargetLanguage != "")
	s.scheduler = captions.NewScheduler(c.opts.Captions, c.opts.Clock, req.Sink)
	s.conn = c.opts.Manager.NewConn(recognition.SessionConfig{
		APIKey:         apiKey,
		Model:          c.opts.Model,
		LanguageHint:   req.Config.SourceLanguage,
		TargetLanguage: req.Config.TargetLanguage,
		ContextText:    req.Config.ContextText,
	},
		recognition.WithLogger(logger),
		recognition.WithStateObserver(s.setState),
		recognition.WithServiceErrorObserver(s.onServiceError),
	)
	return s
}

// run pumps messages until the connection ends, then stops the session
func (c *Controller) run(s *Session) {
	s.pump()

	err := s.conn.Err()
	switch {
	case err != nil:
		c.end(s, ReasonFatal, err)
	default:
		c.end(s, ReasonStreamEnded, nil)
	}
}

// watchSource stops the session when the capture source ends
func (c *Controller) watchSource(s *Session) {
	select {
	case <-s.source.Done():
		err := s.source.Err()
		if err != nil {
			c.end(s, ReasonFatal, err)
			return
		}
		c.end(s, ReasonSourceEnded, nil)
	case <-s.ctx.Done():
	}
}

// Stop ends the active session, if any
func (c *Controller) Stop() {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()

	if s != nil {
		c.end(s, ReasonUser, nil)
	}
}

// StopOwner ends the active session when ownerID is its owner
func (c *Controller) StopOwner(ownerID string) bool {
	return c.endOwner(ownerID, ReasonUser)
}

// OwnerRemoved ends the active session when its owner has gone away
func (c *Controller) OwnerRemoved(ownerID string) bool {
	return c.endOwner(ownerID, ReasonOwnerRemoved)
}

func (c *Controller) endOwner(ownerID, reason string) bool {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()

	if s == nil || s.ownerID != ownerID {
		return false
	}
	c.end(s, reason, nil)
	return true
}

// Shutdown ends the active session for process exit
func (c *Controller) Shutdown() {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()

	if s != nil {
		c.end(s, ReasonShutdown, nil)
	}
}

// State returns the controller state
func (c *Controller) State() State {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()

	if s == nil {
		return State{Connection: recognition.StateIdle.String()}
	}
	return State{
		Active:     true,
		OwnerID:    s.ownerID,
		SessionID:  s.id,
		StartedAt:  s.startedAt,
		Connection: s.connectionState().String(),
	}
}

// Transcript returns the active session's transcript, or the last session's
// until a new session starts. ok is false if no session has run.
func (c *Controller) Transcript() (snap transcript.Snapshot, ok bool) {
	c.mu.Lock()
	h := c.last
	c.mu.Unlock()

	if h == nil {
		return transcript.Snapshot{}, false
	}
	return h.Snapshot(), true
}

// end is the single teardown path. It runs once per session; the sink is
// told about err first, then sees the caption cleared and Stopped. A session
// stopped before Start announced it only gets the idle state. Until the
// teardown finishes the session stays visible to Start as ending.
func (c *Controller) end(s *Session, reason string, err error) {
	s.stopOnce.Do(func() {
		announced := s.markStopped()

		c.mu.Lock()
		if c.current == s {
			c.current = nil
			c.ending = s
		}
		c.mu.Unlock()

		s.cancel()
		s.scheduler.Stop()
		if closeErr := s.conn.Close(); closeErr != nil {
			s.logger.Debug().Err(closeErr).Msg("Error closing recognition stream")
		}
		s.wg.Wait()

		if err != nil {
			s.logger.Error().Err(err).Str("reason", reason).Msg("Session failed")
			sentry.WithScope(func(scope *sentry.Scope) {
				scope.SetTag("session_id", s.id)
				scope.SetTag("reason", reason)
				sentry.CaptureException(err)
			})
			s.sink.Error(err)
		}

		if announced {
			s.sink.Clear()
			s.sink.State(recognition.StateIdle)
			s.sink.Stopped()
		} else {
			s.sink.State(recognition.StateIdle)
		}

		s.metrics.RecordEnd(reason)
		s.logger.Info().Str("reason", reason).Dur("duration", c.opts.Clock.Now().Sub(s.startedAt)).Msg("Session stopped")

		c.mu.Lock()
		if c.ending == s {
			c.ending = nil
		}
		c.mu.Unlock()
		close(s.done)
	})
}
