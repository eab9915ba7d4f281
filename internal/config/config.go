package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Recognition providers understood by the gateway
const (
	ProviderSoniox   = "soniox"
	ProviderDeepgram = "deepgram"
)

// Config holds all configuration for the caption gateway service
type Config struct {
	// Server configuration
	Port           string `envconfig:"PORT" default:"8080"`
	GRPCHealthPort string `envconfig:"GRPC_HEALTH_PORT" default:"50052"` // Empty disables the gRPC health server

	// Recognition service configuration
	RecognitionProvider string `envconfig:"RECOGNITION_PROVIDER" default:"soniox"` // soniox, deepgram
	RecognitionURL      string `envconfig:"RECOGNITION_URL" default:"wss://stt-rt.soniox.com/transcribe-websocket"`
	RecognitionModel    string `envconfig:"RECOGNITION_MODEL" default:"stt-rt-v4"`
	RecognitionAPIKey   string `envconfig:"RECOGNITION_API_KEY" default:""` // Used when a start request carries no key

	// Deepgram backend configuration (RECOGNITION_PROVIDER=deepgram)
	DeepgramAPIKey string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel  string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`

	// Connection lifecycle
	HandshakeTimeout     int `envconfig:"HANDSHAKE_TIMEOUT_MS" default:"10000"`  // Milliseconds to complete the handshake
	ReconnectMaxAttempts int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"3"`    // Attempts after an abnormal close
	ReconnectBackoff     int `envconfig:"RECONNECT_BACKOFF_MS" default:"2000"`   // Multiplied by the attempt number
	SettleDelay          int `envconfig:"SETTLE_DELAY_MS" default:"300"`         // Wait after forcing a previous session down
	AudioBacklogSize     int `envconfig:"AUDIO_BACKLOG_SIZE" default:"262144"`   // Bytes held while the link is not open

	// Caption scheduling
	CaptionMaxChars   int `envconfig:"CAPTION_MAX_CHARS" default:"80"`     // Longest single caption
	CaptionFlushChars int `envconfig:"CAPTION_FLUSH_CHARS" default:"50"`   // Buffer length that forces a flush
	CaptionDebounce   int `envconfig:"CAPTION_DEBOUNCE_MS" default:"1200"` // Idle time before a short buffer is flushed
	CaptionMsPerChar  int `envconfig:"CAPTION_MS_PER_CHAR" default:"40"`   // Reading speed
	CaptionMinMs      int `envconfig:"CAPTION_MIN_MS" default:"1500"`
	CaptionMaxMs      int `envconfig:"CAPTION_MAX_MS" default:"3000"`
	CaptionFirstMaxMs int `envconfig:"CAPTION_FIRST_MAX_MS" default:"3500"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failed dials before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Probe dial attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
	SentryDSN      string `envconfig:"SENTRY_DSN" default:""`          // Error reporting, disabled when empty
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects values the session engine cannot run with
func (c *Config) Validate() error {
	switch c.RecognitionProvider {
	case ProviderSoniox:
		if c.RecognitionURL == "" {
			return fmt.Errorf("RECOGNITION_URL is required")
		}
	case ProviderDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when RECOGNITION_PROVIDER=deepgram")
		}
	default:
		return fmt.Errorf("unknown RECOGNITION_PROVIDER %q", c.RecognitionProvider)
	}

	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("HANDSHAKE_TIMEOUT_MS must be positive, got %d", c.HandshakeTimeout)
	}
	if c.ReconnectMaxAttempts < 0 {
		return fmt.Errorf("RECONNECT_MAX_ATTEMPTS must be >= 0, got %d", c.ReconnectMaxAttempts)
	}
	if c.AudioBacklogSize < 2 {
		return fmt.Errorf("AUDIO_BACKLOG_SIZE must be >= 2, got %d", c.AudioBacklogSize)
	}
	if c.CaptionMaxChars <= 0 || c.CaptionFlushChars <= 0 {
		return fmt.Errorf("caption character limits must be positive")
	}
	if c.CaptionMinMs > c.CaptionMaxMs || c.CaptionMinMs > c.CaptionFirstMaxMs {
		return fmt.Errorf("CAPTION_MIN_MS must not exceed CAPTION_MAX_MS or CAPTION_FIRST_MAX_MS")
	}

	return nil
}

// HandshakeTimeoutDuration returns the handshake timeout as a time.Duration
func (c *Config) HandshakeTimeoutDuration() time.Duration {
	return time.Duration(c.HandshakeTimeout) * time.Millisecond
}

// SettleDelayDuration returns the settle delay as a time.Duration
func (c *Config) SettleDelayDuration() time.Duration {
	return time.Duration(c.SettleDelay) * time.Millisecond
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
