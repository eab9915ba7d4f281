package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-gateway/internal/capture"
	"github.com/lexiqai/caption-gateway/internal/captions"
	"github.com/lexiqai/caption-gateway/internal/observability"
	"github.com/lexiqai/caption-gateway/internal/recognition"
	"github.com/lexiqai/caption-gateway/internal/session"
	"github.com/lexiqai/caption-gateway/internal/transcript"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	// Capture clients are browser extensions with their own origins
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  16384,
	WriteBufferSize: 4096,
}

// Control messages sent by capture clients. Audio arrives as binary frames.
const (
	msgStart        = "start"
	msgStop         = "stop"
	msgCaptureError = "capture_error"
)

// ControlMessage is a text frame from the capture client
type ControlMessage struct {
	Type      string           `json:"type"`
	OwnerID   string           `json:"ownerId,omitempty"`
	SourceURL string           `json:"sourceUrl,omitempty"`
	Settings  session.Settings `json:"settings"`
	Error     string           `json:"error,omitempty"`
}

// Events pushed to the capture client
const (
	EventStarted    = "started"
	EventStopped    = "stopped"
	EventCaption    = "caption"
	EventClear      = "clear"
	EventState      = "state"
	EventError      = "error"
	EventTranscript = "transcript"
	EventFinal      = "final"
)

// Event is a text frame pushed to the capture client
type Event struct {
	Type       string                    `json:"type"`
	Caption    *captions.Caption         `json:"caption,omitempty"`
	State      string                    `json:"state,omitempty"`
	Error      string                    `json:"error,omitempty"`
	Code       int                       `json:"code,omitempty"`
	Transcript *session.TranscriptUpdate `json:"transcript,omitempty"`
	Final      *transcript.Snapshot      `json:"final,omitempty"`
}

// eventWriter serializes event frames onto the capture websocket
type eventWriter struct {
	conn   *websocket.Conn
	logger zerolog.Logger

	mu     sync.Mutex
	broken bool
}

func (w *eventWriter) send(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.broken {
		return
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := w.conn.WriteJSON(ev); err != nil {
		w.broken = true
		w.logger.Debug().Err(err).Str("event", ev.Type).Msg("Failed to deliver event, dropping further output")
	}
}

func (w *eventWriter) sendError(err error) {
	ev := Event{Type: EventError, Error: err.Error()}
	var svcErr *recognition.ServiceError
	if errors.As(err, &svcErr) {
		ev.Code = svcErr.Code
	}
	w.send(ev)
}

// wsSink is one session's view of the capture websocket. Stopped also ends
// the session's source so the reader stops feeding it.
type wsSink struct {
	w      *eventWriter
	source *capture.StreamSource
}

func (s *wsSink) Show(c captions.Caption) { s.w.send(Event{Type: EventCaption, Caption: &c}) }
func (s *wsSink) Clear()                  { s.w.send(Event{Type: EventClear}) }
func (s *wsSink) Started()                { s.w.send(Event{Type: EventStarted}) }
func (s *wsSink) Error(err error)         { s.w.sendError(err) }

func (s *wsSink) Stopped() {
	s.w.send(Event{Type: EventStopped})
	s.source.End(nil)
}

func (s *wsSink) State(state recognition.State) {
	s.w.send(Event{Type: EventState, State: state.String()})
}

func (s *wsSink) Transcript(update session.TranscriptUpdate) {
	s.w.send(Event{Type: EventTranscript, Transcript: &update})
}

func (s *wsSink) Final(snap transcript.Snapshot) {
	s.w.send(Event{Type: EventFinal, Final: &snap})
}

// handleCaptureWS serves one capture client. A client may run several
// sessions in sequence over one connection; closing the socket ends the
// current one.
func (r *Router) handleCaptureWS(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Failed to upgrade capture connection")
		return
	}
	defer conn.Close()

	logger := observability.WithCorrelationID(observability.NewCorrelationID())
	writer := &eventWriter{conn: conn, logger: logger}
	logger.Info().Str("remote", req.RemoteAddr).Msg("Capture client connected")

	var (
		source  *capture.StreamSource
		ownerID string
	)
	endSource := func(err error) {
		if source != nil {
			source.End(err)
			source = nil
		}
	}
	defer endSource(nil)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("Capture connection read error")
			}
			logger.Info().Msg("Capture client disconnected")
			return
		}

		if msgType == websocket.BinaryMessage {
			if source == nil {
				continue
			}
			if err := source.Push(req.Context(), data); err != nil {
				logger.Debug().Err(err).Msg("Dropping audio for an ended source")
			}
			continue
		}

		var msg ControlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Error().Err(err).Msg("Failed to parse control message")
			continue
		}

		switch msg.Type {
		case msgStart:
			endSource(nil)
			next := capture.NewStreamSource(r.cfg.SourceBuffer)
			err := r.controller.Start(req.Context(), session.StartRequest{
				OwnerID:   msg.OwnerID,
				SourceURL: msg.SourceURL,
				Source:    next,
				Config:    msg.Settings,
				Sink:      &wsSink{w: writer, source: next},
			})
			if err != nil {
				logger.Info().Err(err).Str("owner_id", msg.OwnerID).Msg("Session start rejected")
				writer.sendError(err)
				continue
			}
			source = next
			ownerID = msg.OwnerID

		case msgStop:
			if source != nil {
				r.controller.StopOwner(ownerID)
				endSource(nil)
			}

		case msgCaptureError:
			logger.Warn().Str("error", msg.Error).Msg("Capture client reported a recorder fault")
			endSource(fmt.Errorf("%w: %s", capture.ErrRecorderFault, msg.Error))

		default:
			logger.Warn().Str("type", msg.Type).Msg("Unknown control message")
		}
	}
}
