// Package captions schedules finalized transcript text into timed caption events.
package captions

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-gateway/internal/clock"
	"github.com/lexiqai/caption-gateway/internal/config"
	"github.com/lexiqai/caption-gateway/internal/observability"
	"github.com/lexiqai/caption-gateway/internal/transcript"
)

// Caption is one display event
type Caption struct {
	Text           string    `json:"text"`
	StartedAt      time.Time `json:"startedAt"`
	PlannedClearAt time.Time `json:"plannedClearAt"` // When the caption is replaced or cleared; zero if unknown
	Chunk          int       `json:"chunk"`          // 1-based index within a split flush
	Chunks         int       `json:"chunks"`
	Preview        bool      `json:"preview"` // Partial text, not a flushed caption
}

// IsFinalChunk reports whether this is the last caption of its flush
func (c Caption) IsFinalChunk() bool {
	return !c.Preview && c.Chunk == c.Chunks
}

// Display receives caption events. Calls are serialized and made while the
// scheduler holds its lock, so implementations must not call back into it.
type Display interface {
	Show(Caption)
	Clear()
}

// Config holds the scheduling thresholds
type Config struct {
	MaxChars         int           // Longest caption
	FlushChars       int           // Buffer length that flushes immediately
	Debounce         time.Duration // Idle time before a short buffer is flushed
	PerChar          time.Duration // Reading time per character
	MinDuration      time.Duration
	MaxDuration      time.Duration // Cap for a chunk followed by another chunk
	FirstMaxDuration time.Duration // Cap for a caption's own clear timer
}

// DefaultConfig returns the standard thresholds
func DefaultConfig() Config {
	return Config{
		MaxChars:         80,
		FlushChars:       50,
		Debounce:         1200 * time.Millisecond,
		PerChar:          40 * time.Millisecond,
		MinDuration:      1500 * time.Millisecond,
		MaxDuration:      3000 * time.Millisecond,
		FirstMaxDuration: 3500 * time.Millisecond,
	}
}

// ConfigFrom reads the thresholds from service configuration
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		MaxChars:         cfg.CaptionMaxChars,
		FlushChars:       cfg.CaptionFlushChars,
		Debounce:         time.Duration(cfg.CaptionDebounce) * time.Millisecond,
		PerChar:          time.Duration(cfg.CaptionMsPerChar) * time.Millisecond,
		MinDuration:      time.Duration(cfg.CaptionMinMs) * time.Millisecond,
		MaxDuration:      time.Duration(cfg.CaptionMaxMs) * time.Millisecond,
		FirstMaxDuration: time.Duration(cfg.CaptionFirstMaxMs) * time.Millisecond,
	}
}

// Scheduler buffers finalized text and shows it as captions: immediately on
// a sentence end, a long buffer or an endpoint, otherwise after a debounce.
// Every timer carries a generation so a callback from a cancelled timer is a no-op.
type Scheduler struct {
	cfg     Config
	clock   clock.Clock
	display Display
	logger  zerolog.Logger

	mu          sync.Mutex
	buffer      string
	lastShown   string
	clearAt     time.Time
	debounce    clock.Timer
	debounceGen uint64
	clearTimer  clock.Timer
	clearGen    uint64
	stopped     bool
}

// NewScheduler creates a scheduler writing to display
func NewScheduler(cfg Config, c clock.Clock, display Display) *Scheduler {
	if c == nil {
		c = clock.Real()
	}
	return &Scheduler{
		cfg:     cfg,
		clock:   c,
		display: display,
		logger:  observability.Component("captions"),
	}
}

// Apply feeds one transcript delta
func (s *Scheduler) Apply(d transcript.Delta) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	if d.EndpointHit {
		s.buffer += d.NewFinalText
		s.cancelDebounceLocked()
		s.flushLocked("endpoint")
		return
	}

	if d.NewFinalText != "" {
		s.buffer += d.NewFinalText
		buf := strings.TrimSpace(s.buffer)

		switch {
		case EndsSentence(buf):
			s.cancelDebounceLocked()
			s.flushLocked("punctuation")
		case utf8.RuneCountInString(buf) > s.cfg.FlushChars:
			s.cancelDebounceLocked()
			s.flushLocked("length")
		default:
			s.armDebounceLocked()
		}
	}

	if d.NewPartialText != "" && strings.TrimSpace(s.buffer) != "" {
		s.previewLocked(d.NewPartialText)
	}
}

// Buffer returns the text waiting to be shown
func (s *Scheduler) Buffer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer
}

// Current returns the text on display, empty when cleared
func (s *Scheduler) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastShown
}

// Stop cancels every timer and drops buffered text. Later deltas are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	s.cancelDebounceLocked()
	s.cancelClearLocked()
	s.buffer = ""
	s.lastShown = ""
	s.clearAt = time.Time{}
}

func (s *Scheduler) flushLocked(trigger string) {
	text := strings.TrimSpace(s.buffer)
	s.buffer = ""
	if text == "" {
		return
	}

	observability.RecordFlush(trigger)
	s.logger.Debug().Str("trigger", trigger).Int("chars", utf8.RuneCountInString(text)).Msg("Flushing caption buffer")

	if utf8.RuneCountInString(text) <= s.cfg.MaxChars {
		s.showAndScheduleClearLocked(text, 1, 1)
		return
	}
	s.showChunkLocked(SplitIntoSubtitles(text, s.cfg.MaxChars), 0)
}

// showChunkLocked shows chunks[idx]; the next chunk starts when its timer fires
func (s *Scheduler) showChunkLocked(chunks []string, idx int) {
	if idx >= len(chunks) {
		return
	}

	text := chunks[idx]
	if idx == len(chunks)-1 {
		s.showAndScheduleClearLocked(text, idx+1, len(chunks))
		return
	}

	d := s.duration(text, s.cfg.MaxDuration)
	s.showLocked(text, idx+1, len(chunks), d)
	s.armClearLocked(d, func() { s.showChunkLocked(chunks, idx+1) })
}

func (s *Scheduler) showAndScheduleClearLocked(text string, chunk, chunks int) {
	d := s.duration(text, s.cfg.FirstMaxDuration)
	if !s.showLocked(text, chunk, chunks, d) {
		// Same text is already up; make sure it still goes away
		if s.clearTimer == nil {
			s.armClearLocked(d, s.clearLocked)
		}
		return
	}
	s.armClearLocked(d, s.clearLocked)
}

// showLocked displays text unless it is already shown. It cancels the pending clear timer.
func (s *Scheduler) showLocked(text string, chunk, chunks int, d time.Duration) bool {
	if text == "" || text == s.lastShown {
		return false
	}

	s.cancelClearLocked()
	now := s.clock.Now()
	s.lastShown = text
	s.clearAt = now.Add(d)

	observability.RecordCaption(false)
	s.display.Show(Caption{
		Text:           text,
		StartedAt:      now,
		PlannedClearAt: s.clearAt,
		Chunk:          chunk,
		Chunks:         chunks,
	})
	return true
}

func (s *Scheduler) previewLocked(partial string) {
	preview := tail(strings.TrimSpace(s.buffer+partial), s.cfg.MaxChars)
	if preview == s.lastShown {
		return
	}

	s.lastShown = preview
	observability.RecordCaption(true)
	s.display.Show(Caption{
		Text:           preview,
		StartedAt:      s.clock.Now(),
		PlannedClearAt: s.clearAt,
		Preview:        true,
	})
}

func (s *Scheduler) clearLocked() {
	s.lastShown = ""
	s.clearAt = time.Time{}
	s.display.Clear()
}

func (s *Scheduler) duration(text string, max time.Duration) time.Duration {
	d := time.Duration(utf8.RuneCountInString(text)) * s.cfg.PerChar
	if d < s.cfg.MinDuration {
		d = s.cfg.MinDuration
	}
	if d > max {
		d = max
	}
	return d
}

func (s *Scheduler) armDebounceLocked() {
	s.cancelDebounceLocked()
	gen := s.debounceGen
	s.debounce = s.clock.AfterFunc(s.cfg.Debounce, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stopped || gen != s.debounceGen {
			return
		}
		s.debounce = nil
		if strings.TrimSpace(s.buffer) != "" {
			s.flushLocked("debounce")
		}
	})
}

func (s *Scheduler) cancelDebounceLocked() {
	s.debounceGen++
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
}

func (s *Scheduler) armClearLocked(d time.Duration, fn func()) {
	s.cancelClearLocked()
	gen := s.clearGen
	s.clearTimer = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stopped || gen != s.clearGen {
			return
		}
		s.clearTimer = nil
		fn()
	})
}

func (s *Scheduler) cancelClearLocked() {
	s.clearGen++
	if s.clearTimer != nil {
		s.clearTimer.Stop()
		s.clearTimer = nil
	}
}
