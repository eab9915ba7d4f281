package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/lexiqai/caption-gateway/internal/clock"
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	MaxAttempts       int           // Maximum number of attempts
	InitialBackoff    time.Duration // Initial backoff duration
	MaxBackoff        time.Duration // Maximum backoff duration
	BackoffMultiplier float64       // Multiplier for exponential backoff
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryableFunc is a function that can be retried
type RetryableFunc func(ctx context.Context) error

// IsRetryableError checks if an error is retryable
type IsRetryableError func(error) bool

// Retry executes fn until it succeeds, returns a non-retryable error, or the
// attempts run out. Backoff waits honour ctx.
func Retry(ctx context.Context, c clock.Clock, fn RetryableFunc, config *RetryConfig, isRetryable IsRetryableError) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if isRetryable != nil && !isRetryable(err) {
			return err
		}

		// Don't sleep after the last attempt
		if attempt < config.MaxAttempts-1 {
			if ctx.Err() != nil {
				return lastErr
			}
			if sleepErr := clock.Sleep(ctx, c, backoff); sleepErr != nil {
				return lastErr
			}
			backoff = CalculateBackoff(attempt+1, config.InitialBackoff, config.MaxBackoff, config.BackoffMultiplier)
		}
	}

	return lastErr
}

// CalculateBackoff calculates the backoff duration for a given attempt
func CalculateBackoff(attempt int, initialBackoff time.Duration, maxBackoff time.Duration, multiplier float64) time.Duration {
	backoff := float64(initialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= multiplier
		if time.Duration(backoff) >= maxBackoff {
			return maxBackoff
		}
	}
	return time.Duration(backoff)
}

var retryableFragments = []string{
	// Connection errors
	"connection refused",
	"connection reset",
	"broken pipe",
	"unexpected eof",
	"network is unreachable",
	"no route to host",
	"bad handshake",
	// Timeout errors
	"deadline exceeded",
	"timeout",
	// Resource exhaustion (may be temporary)
	"too many connections",
	"rate limit",
	"unavailable",
}

// IsRetryableNetworkError checks if an error is a retryable network error
func IsRetryableNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range retryableFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
