// Package transcript turns recognition messages into caption deltas and keeps
// the session's append-only transcript history.
package transcript

import (
	"strings"
	"sync"
)

// ExportToken is a final token kept for caption-file export
type ExportToken struct {
	Text          string `json:"text"`
	IsTranslation bool   `json:"isTranslation"`
	StartMs       *int64 `json:"startMs"`
	EndMs         *int64 `json:"endMs"`
}

// Snapshot is a point-in-time copy of the history
type Snapshot struct {
	Original    string        `json:"text"`
	Translation string        `json:"translation"`
	Tokens      []ExportToken `json:"tokens,omitempty"`
}

// History is the append-only transcript of one session. The processor is
// its only writer; readers take snapshots.
type History struct {
	mu          sync.RWMutex
	original    strings.Builder
	translation strings.Builder
	tokens      []ExportToken
}

// NewHistory creates an empty history
func NewHistory() *History {
	return &History{}
}

func (h *History) appendFinal(text string, translation bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if translation {
		h.translation.WriteString(text)
	} else {
		h.original.WriteString(text)
	}
}

func (h *History) appendTokens(tokens []ExportToken) {
	if len(tokens) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tokens = append(h.tokens, tokens...)
}

// Original returns the cumulative original-language text
func (h *History) Original() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.original.String()
}

// Translation returns the cumulative translated text
func (h *History) Translation() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.translation.String()
}

// Snapshot copies the full history including export tokens
func (h *History) Snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Snapshot{
		Original:    h.original.String(),
		Translation: h.translation.String(),
		Tokens:      append([]ExportToken(nil), h.tokens...),
	}
}

// Reset empties the history
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.original.Reset()
	h.translation.Reset()
	h.tokens = nil
}
