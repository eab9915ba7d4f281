package observability

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	globalLogger zerolog.Logger
	initOnce     sync.Once
)

// InitLogger initializes the global structured logger. Later calls are no-ops.
func InitLogger(level string, pretty bool) {
	initOnce.Do(func() {
		var out io.Writer = os.Stdout
		if pretty {
			// Pretty console output for development
			out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		}
		zerolog.SetGlobalLevel(ParseLevel(level))
		globalLogger = zerolog.New(out).With().Timestamp().Str("service", "caption-gateway").Logger()
		log.Logger = globalLogger
	})
}

// ParseLevel maps a LOG_LEVEL value onto a zerolog level, defaulting to info
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// GetLogger returns the global logger
func GetLogger() zerolog.Logger {
	InitLogger("info", false)
	return globalLogger
}

// Component returns a logger tagged with a component name
func Component(name string) zerolog.Logger {
	return GetLogger().With().Str("component", name).Logger()
}

// WithSession returns a logger carrying the session and owner identifiers
func WithSession(sessionID, ownerID string) zerolog.Logger {
	return WithCorrelationID(sessionID).With().Str("owner_id", ownerID).Logger()
}

// WithCorrelationID creates a logger with a correlation ID
func WithCorrelationID(correlationID string) zerolog.Logger {
	if correlationID == "" {
		correlationID = NewCorrelationID()
	}
	return GetLogger().With().Str("session_id", correlationID).Logger()
}

// NewCorrelationID generates a new correlation ID
func NewCorrelationID() string {
	return uuid.New().String()
}
