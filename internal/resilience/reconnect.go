package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/lexiqai/caption-gateway/internal/clock"
	"github.com/lexiqai/caption-gateway/internal/observability"
)

// ErrRetriesExhausted is returned by Reconnect once the attempt budget is spent
var ErrRetriesExhausted = errors.New("reconnect attempts exhausted")

// ReconnectPolicy bounds reconnection after an abnormal close. Attempt n waits
// Backoff × n before dialing (linear backoff).
type ReconnectPolicy struct {
	MaxAttempts int           // Attempts allowed between two successful connections
	Backoff     time.Duration // Base delay, multiplied by the attempt number
}

// DefaultReconnectPolicy returns the 3 attempts / 2s, 4s, 6s policy
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts: 3,
		Backoff:     2 * time.Second,
	}
}

// Delay returns the wait before the given 1-based attempt
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return p.Backoff * time.Duration(attempt)
}

// Reconnector counts consecutive reconnection attempts against a policy.
// It is not safe for concurrent use; the owning connection loop drives it.
type Reconnector struct {
	policy   ReconnectPolicy
	attempts int
}

// NewReconnector creates a Reconnector for the policy
func NewReconnector(policy ReconnectPolicy) *Reconnector {
	return &Reconnector{policy: policy}
}

// Next claims the next attempt. ok is false once the budget is exceeded.
func (r *Reconnector) Next() (attempt int, delay time.Duration, ok bool) {
	r.attempts++
	if r.attempts > r.policy.MaxAttempts {
		return r.attempts, 0, false
	}
	return r.attempts, r.policy.Delay(r.attempts), true
}

// Reset zeroes the counter after a successful connection
func (r *Reconnector) Reset() {
	r.attempts = 0
}

// Attempts returns the number of attempts claimed since the last reset
func (r *Reconnector) Attempts() int {
	return r.attempts
}

// ReconnectFunc is a function that attempts to reconnect
type ReconnectFunc func(ctx context.Context, attempt int) error

// Reconnect waits and retries fn according to r's policy. The counter is reset
// when fn succeeds. Waiting honours ctx cancellation.
func Reconnect(ctx context.Context, c clock.Clock, r *Reconnector, fn ReconnectFunc) error {
	logger := observability.Component("reconnect")

	for {
		attempt, delay, ok := r.Next()
		if !ok {
			observability.RecordReconnect("exhausted")
			return ErrRetriesExhausted
		}

		logger.Info().
			Int("attempt", attempt).
			Int("max_attempts", r.policy.MaxAttempts).
			Dur("backoff", delay).
			Msg("Reconnecting")

		if err := clock.Sleep(ctx, c, delay); err != nil {
			return err
		}

		observability.RecordReconnect("attempt")
		err := fn(ctx, attempt)
		if err == nil {
			observability.RecordReconnect("success")
			r.Reset()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		logger.Warn().Err(err).Int("attempt", attempt).Msg("Reconnection attempt failed")
	}
}
