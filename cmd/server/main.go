package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/lexiqai/caption-gateway/internal/captions"
	"github.com/lexiqai/caption-gateway/internal/config"
	"github.com/lexiqai/caption-gateway/internal/httpapi"
	"github.com/lexiqai/caption-gateway/internal/observability"
	"github.com/lexiqai/caption-gateway/internal/recognition"
	"github.com/lexiqai/caption-gateway/internal/resilience"
	"github.com/lexiqai/caption-gateway/internal/session"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	// Initialize Sentry for error monitoring
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: config.GetEnv("ENVIRONMENT", "development"),
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Sentry init failed")
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	logger.Info().
		Str("port", cfg.Port).
		Str("provider", cfg.RecognitionProvider).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Caption Gateway starting")

	// Recognition backend
	var (
		dialer        recognition.Dialer
		model         = cfg.RecognitionModel
		defaultAPIKey = cfg.RecognitionAPIKey
	)
	switch cfg.RecognitionProvider {
	case config.ProviderDeepgram:
		dialer = recognition.NewDeepgramDialer(cfg.DeepgramAPIKey, cfg.DeepgramModel)
		model = cfg.DeepgramModel
		if defaultAPIKey == "" {
			defaultAPIKey = cfg.DeepgramAPIKey
		}
	default:
		dialer = recognition.NewSonioxDialer(cfg.RecognitionURL)
	}

	breaker := resilience.NewCircuitBreaker(
		"recognition",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)

	manager := recognition.NewManager(recognition.Options{
		Dialer:           dialer,
		HandshakeTimeout: cfg.HandshakeTimeoutDuration(),
		Reconnect: &resilience.ReconnectPolicy{
			MaxAttempts: cfg.ReconnectMaxAttempts,
			Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
		},
		BacklogSize: cfg.AudioBacklogSize,
		Breaker:     breaker,
	})

	controller := session.NewController(session.Options{
		Manager:       manager,
		SettleDelay:   cfg.SettleDelayDuration(),
		Captions:      captions.ConfigFrom(cfg),
		DefaultAPIKey: defaultAPIKey,
		Model:         model,
	})

	// Readiness checks are built here to avoid import cycles
	recognitionCheck := observability.HealthCheck{
		Name: "recognition",
		Check: func(ctx context.Context) (bool, error) {
			if state := breaker.GetState(); state == resilience.StateOpen {
				return false, fmt.Errorf("circuit breaker is %s", state)
			}
			return true, nil
		},
	}

	handler := httpapi.NewRouter(httpapi.RouterConfig{
		DefaultAPIKey: defaultAPIKey,
		Model:         model,
		Probe: recognition.ProbeOptions{
			Retry: &resilience.RetryConfig{
				MaxAttempts:       cfg.RetryMaxAttempts,
				InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
				MaxBackoff:        2 * time.Second,
				BackoffMultiplier: 2.0,
			},
		},
		MetricsEnabled: cfg.MetricsEnabled,
		Readiness:      []observability.HealthCheck{recognitionCheck},
	}, controller, dialer)

	// The capture websocket is long-lived, so only headers get a read timeout
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// gRPC health service mirrors readiness
	if cfg.GRPCHealthPort != "" {
		grpcServer, healthServer := observability.NewGRPCHealthServer()
		lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCHealthPort))
		if err != nil {
			logger.Fatal().Err(err).Str("port", cfg.GRPCHealthPort).Msg("Failed to listen for gRPC health")
		}
		go observability.WatchReadiness(ctx, healthServer, 10*time.Second, recognitionCheck)
		go func() {
			logger.Info().Str("port", cfg.GRPCHealthPort).Msg("gRPC health server listening")
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error().Err(err).Msg("gRPC health server stopped")
			}
		}()
		defer grpcServer.GracefulStop()
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/streams/capture", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	controller.Shutdown()
	stop()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
