package session

import (
	"github.com/lexiqai/caption-gateway/internal/captions"
	"github.com/lexiqai/caption-gateway/internal/recognition"
	"github.com/lexiqai/caption-gateway/internal/transcript"
)

// TranscriptUpdate carries the cumulative history after new final tokens arrived
type TranscriptUpdate struct {
	Original       string                   `json:"finalText"`
	Translation    string                   `json:"finalTranslation"`
	HasTranslation bool                     `json:"hasTranslation"`
	Tokens         []transcript.ExportToken `json:"tokens"` // Tokens added by this update
}

// Sink is the presentation side of a session. Delivery is at-least-once and
// calls for one session are serialized only per goroutine, so implementations
// must be safe for concurrent use and tolerate duplicates.
type Sink interface {
	captions.Display

	Started()
	Stopped()
	Error(err error)
	State(state recognition.State)
	Transcript(update TranscriptUpdate)
	Final(snapshot transcript.Snapshot)
}
