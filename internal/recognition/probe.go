package recognition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/lexiqai/caption-gateway/internal/clock"
	"github.com/lexiqai/caption-gateway/internal/observability"
	"github.com/lexiqai/caption-gateway/internal/resilience"
)

// ErrProbeTimeout is returned when the credentials check does not settle in time
var ErrProbeTimeout = errors.New("recognition probe timed out")

// ProbeOptions configures a credentials check
type ProbeOptions struct {
	Clock       clock.Clock
	Timeout     time.Duration // Whole check, default 8s
	ErrorWindow time.Duration // How long to wait for an in-band error, default 2s
	Retry       *resilience.RetryConfig
}

// Probe checks that apiKey is accepted: it dials, sends a minimal config and
// waits ErrorWindow for an in-band error. No error within the window, or a
// normal close, counts as success. Dial failures are retried when they look transient.
func Probe(ctx context.Context, d Dialer, apiKey, model string, opts ProbeOptions) error {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Second
	}
	if opts.ErrorWindow <= 0 {
		opts.ErrorWindow = 2 * time.Second
	}

	logger := observability.Component("probe")

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	cfg := SessionConfig{APIKey: apiKey, Model: model, minimal: true}

	var stream Stream
	err := resilience.Retry(ctx, opts.Clock, func(ctx context.Context) error {
		s, err := d.Dial(ctx, cfg)
		if err != nil {
			return err
		}
		stream = s
		return nil
	}, opts.Retry, resilience.IsRetryableNetworkError)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrProbeTimeout
		}
		logger.Warn().Err(err).Msg("Probe dial failed")
		return fmt.Errorf("connection failed: %w", err)
	}
	defer stream.Close()

	result := make(chan error, 1)
	go func() {
		for {
			resp, err := stream.Receive()
			if err != nil {
				if errors.Is(err, io.EOF) {
					result <- nil
				} else {
					result <- err
				}
				return
			}
			if svcErr := serviceErrorFrom(resp); svcErr != nil {
				result <- svcErr
				return
			}
		}
	}()

	window := make(chan struct{})
	t := opts.Clock.AfterFunc(opts.ErrorWindow, func() { close(window) })
	defer t.Stop()

	select {
	case err := <-result:
		if err != nil {
			logger.Info().Err(err).Msg("Probe rejected")
		}
		return err
	case <-window:
		return nil
	case <-ctx.Done():
		return ErrProbeTimeout
	}
}
