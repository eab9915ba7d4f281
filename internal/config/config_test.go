package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	os.Setenv("RECOGNITION_API_KEY", "test-recognition-key")
	defer os.Unsetenv("RECOGNITION_API_KEY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.RecognitionAPIKey != "test-recognition-key" {
		t.Errorf("Expected RecognitionAPIKey 'test-recognition-key', got '%s'", cfg.RecognitionAPIKey)
	}
}

func TestLoad_UnknownProvider(t *testing.T) {
	os.Setenv("RECOGNITION_PROVIDER", "whisper")
	defer os.Unsetenv("RECOGNITION_PROVIDER")

	_, err := Load()
	if err == nil {
		t.Error("Expected error for unknown recognition provider")
	}
}

func TestLoad_DeepgramRequiresKey(t *testing.T) {
	os.Setenv("RECOGNITION_PROVIDER", "deepgram")
	os.Unsetenv("DEEPGRAM_API_KEY")
	defer os.Unsetenv("RECOGNITION_PROVIDER")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when DEEPGRAM_API_KEY is missing")
	}

	os.Setenv("DEEPGRAM_API_KEY", "test-deepgram-key")
	defer os.Unsetenv("DEEPGRAM_API_KEY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.DeepgramModel != "nova-2" {
		t.Errorf("Expected default DeepgramModel 'nova-2', got '%s'", cfg.DeepgramModel)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}

	if cfg.RecognitionProvider != ProviderSoniox {
		t.Errorf("Expected default RecognitionProvider 'soniox', got '%s'", cfg.RecognitionProvider)
	}

	if cfg.RecognitionURL != "wss://stt-rt.soniox.com/transcribe-websocket" {
		t.Errorf("Unexpected default RecognitionURL '%s'", cfg.RecognitionURL)
	}

	if cfg.RecognitionModel != "stt-rt-v4" {
		t.Errorf("Expected default RecognitionModel 'stt-rt-v4', got '%s'", cfg.RecognitionModel)
	}

	if cfg.HandshakeTimeoutDuration() != 10*time.Second {
		t.Errorf("Expected default handshake timeout 10s, got %v", cfg.HandshakeTimeoutDuration())
	}

	if cfg.SettleDelayDuration() != 300*time.Millisecond {
		t.Errorf("Expected default settle delay 300ms, got %v", cfg.SettleDelayDuration())
	}
}

func TestConfig_CaptionDefaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.CaptionMaxChars != 80 {
		t.Errorf("Expected default CaptionMaxChars 80, got %d", cfg.CaptionMaxChars)
	}
	if cfg.CaptionFlushChars != 50 {
		t.Errorf("Expected default CaptionFlushChars 50, got %d", cfg.CaptionFlushChars)
	}
	if cfg.CaptionDebounce != 1200 {
		t.Errorf("Expected default CaptionDebounce 1200, got %d", cfg.CaptionDebounce)
	}
	if cfg.CaptionMsPerChar != 40 {
		t.Errorf("Expected default CaptionMsPerChar 40, got %d", cfg.CaptionMsPerChar)
	}
	if cfg.CaptionMinMs != 1500 || cfg.CaptionMaxMs != 3000 || cfg.CaptionFirstMaxMs != 3500 {
		t.Errorf("Unexpected display clamp defaults: %d/%d/%d", cfg.CaptionMinMs, cfg.CaptionMaxMs, cfg.CaptionFirstMaxMs)
	}
}

func TestConfig_ResilienceDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.ReconnectMaxAttempts != 3 {
		t.Errorf("Expected default ReconnectMaxAttempts 3, got %d", cfg.ReconnectMaxAttempts)
	}

	if cfg.ReconnectBackoff != 2000 {
		t.Errorf("Expected default ReconnectBackoff 2000, got %d", cfg.ReconnectBackoff)
	}

	if cfg.CircuitBreakerMaxFailures != 5 {
		t.Errorf("Expected default CircuitBreakerMaxFailures 5, got %d", cfg.CircuitBreakerMaxFailures)
	}

	if cfg.CircuitBreakerResetTimeout != 30 {
		t.Errorf("Expected default CircuitBreakerResetTimeout 30, got %d", cfg.CircuitBreakerResetTimeout)
	}

	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("Expected default RetryMaxAttempts 3, got %d", cfg.RetryMaxAttempts)
	}
}

func TestConfig_ObservabilityDefaults(t *testing.T) {
	os.Unsetenv("LOG_LEVEL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}

	if cfg.LogPretty {
		t.Error("Expected default LogPretty false, got true")
	}

	if !cfg.MetricsEnabled {
		t.Error("Expected default MetricsEnabled true, got false")
	}

	if cfg.SentryDSN != "" {
		t.Errorf("Expected empty default SentryDSN, got '%s'", cfg.SentryDSN)
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	base := func() Config {
		return Config{
			RecognitionProvider:  ProviderSoniox,
			RecognitionURL:       "wss://example.test/ws",
			HandshakeTimeout:     10000,
			ReconnectMaxAttempts: 3,
			AudioBacklogSize:     1024,
			CaptionMaxChars:      80,
			CaptionFlushChars:    50,
			CaptionMinMs:         1500,
			CaptionMaxMs:         3000,
			CaptionFirstMaxMs:    3500,
		}
	}

	cfg := base()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected base config to validate, got %v", err)
	}

	cases := map[string]func(c *Config){
		"zero handshake":     func(c *Config) { c.HandshakeTimeout = 0 },
		"negative reconnect": func(c *Config) { c.ReconnectMaxAttempts = -1 },
		"tiny backlog":       func(c *Config) { c.AudioBacklogSize = 1 },
		"zero caption chars": func(c *Config) { c.CaptionMaxChars = 0 },
		"inverted clamp":     func(c *Config) { c.CaptionMinMs = 4000 },
		"missing url":        func(c *Config) { c.RecognitionURL = "" },
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestGetEnv(t *testing.T) {
	os.Setenv("TEST_KEY", "test-value")
	defer os.Unsetenv("TEST_KEY")

	value := GetEnv("TEST_KEY", "default")
	if value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}

	value = GetEnv("NON_EXISTENT_KEY", "default")
	if value != "default" {
		t.Errorf("Expected 'default', got '%s'", value)
	}
}
