package observability

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewGRPCHealthServer returns a gRPC server exposing the standard health service
func NewGRPCHealthServer() (*grpc.Server, *health.Server) {
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return srv, hs
}

// WatchReadiness re-runs the checks every interval and mirrors the result into
// the gRPC health server until ctx is cancelled.
func WatchReadiness(ctx context.Context, hs *health.Server, interval time.Duration, checks ...HealthCheck) {
	logger := Component("grpc-health")
	last := healthpb.HealthCheckResponse_UNKNOWN

	update := func() {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		_, ok := CheckDependencies(checkCtx, checks...)
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if ok {
			status = healthpb.HealthCheckResponse_SERVING
		}
		if status != last {
			logger.Info().Str("status", status.String()).Msg("Readiness changed")
			last = status
		}
		hs.SetServingStatus("", status)
		hs.SetServingStatus(serviceName, status)
	}

	update()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
			update()
		}
	}
}
