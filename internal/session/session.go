package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-gateway/internal/capture"
	"github.com/lexiqai/caption-gateway/internal/captions"
	"github.com/lexiqai/caption-gateway/internal/observability"
	"github.com/lexiqai/caption-gateway/internal/recognition"
	"github.com/lexiqai/caption-gateway/internal/transcript"
)

// Stop reasons, also used as metric labels
const (
	ReasonUser         = "user"
	ReasonReplaced     = "replaced"
	ReasonOwnerRemoved = "owner_removed"
	ReasonSourceEnded  = "source_ended"
	ReasonStreamEnded  = "stream_ended"
	ReasonFatal        = "fatal_error"
	ReasonShutdown     = "shutdown"
	ReasonStartFailed  = "start_failed"
)

// Session is one active capture: its connection, transcript pipeline and sink
type Session struct {
	id        string
	ownerID   string
	sourceURL string
	startedAt time.Time
	settings  Settings

	source    capture.Source
	sink      Sink
	conn      *recognition.Conn
	history   *transcript.History
	processor *transcript.Processor
	scheduler *captions.Scheduler
	metrics   *observability.SessionMetrics
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	state     recognition.State
	announced bool // Sink has seen Started
	stopped   bool
	stopOnce  sync.Once
	done      chan struct{} // Closed once teardown has finished
}

// ID returns the session identifier
func (s *Session) ID() string { return s.id }

// OwnerID returns the capture target the session belongs to
func (s *Session) OwnerID() string { return s.ownerID }

// History returns the session transcript
func (s *Session) History() *transcript.History { return s.history }

func (s *Session) connectionState() recognition.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// announce sends Started unless the session was stopped during the handshake.
// It holds the lock so a concurrent stop cannot slip its notifications in first.
func (s *Session) announce() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	s.announced = true
	s.sink.Started()
	return true
}

// markStopped flags the session as stopping and reports whether it was announced
func (s *Session) markStopped() (announced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return s.announced
}

// setState records the state and forwards it to the sink while the session runs
func (s *Session) setState(state recognition.State) {
	s.mu.Lock()
	s.state = state
	stopped := s.stopped
	s.mu.Unlock()

	if !stopped {
		s.sink.State(state)
	}
}

func (s *Session) onServiceError(err *recognition.ServiceError) {
	if err.Fatal() {
		// Reported once by the stop routine
		return
	}
	s.sink.Error(err)
}

// forwardAudio moves chunks from the source into the connection until either ends
func (s *Session) forwardAudio() {
	defer s.wg.Done()

	for {
		select {
		case chunk := <-s.source.Audio():
			if err := s.conn.Send(chunk); err != nil {
				return
			}
		case <-s.source.Done():
			return
		case <-s.ctx.Done():
			return
		}
	}
}

// pump feeds recognition messages through the processor into the scheduler and sink.
// It returns once the connection has ended.
func (s *Session) pump() {
	for resp := range s.conn.Messages() {
		if s.isStopped() {
			continue
		}
		d := s.processor.Process(resp)
		if d.Empty() {
			continue
		}

		if len(d.ExportTokens) > 0 {
			s.sink.Transcript(TranscriptUpdate{
				Original:       s.history.Original(),
				Translation:    s.history.Translation(),
				HasTranslation: s.settings.TargetLanguage != "",
				Tokens:         d.ExportTokens,
			})
		}

		s.scheduler.Apply(d)

		if d.StreamFinished {
			s.logger.Info().Msg("Recognition stream finished")
			s.sink.Final(*d.Final)
		}
	}
}
