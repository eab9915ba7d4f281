package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const (
	serviceName    = "caption-gateway"
	serviceVersion = "1.0.0"
)

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status       string                      `json:"status"`
	Service      string                      `json:"service"`
	Version      string                      `json:"version"`
	Timestamp    string                      `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the status of a dependency
type DependencyStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

// HealthCheckFunc reports whether a dependency is usable
type HealthCheckFunc func(ctx context.Context) (bool, error)

// HealthCheck names a dependency check. Checks are passed in from main to
// avoid import cycles.
type HealthCheck struct {
	Name  string
	Check HealthCheckFunc
}

// HealthCheckHandler handles liveness requests
func HealthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, HealthStatus{
			Status:    "healthy",
			Service:   serviceName,
			Version:   serviceVersion,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// CheckDependencies runs every check and reports per-dependency status
func CheckDependencies(ctx context.Context, checks ...HealthCheck) (map[string]DependencyStatus, bool) {
	dependencies := make(map[string]DependencyStatus, len(checks))
	allHealthy := true

	for _, hc := range checks {
		if hc.Check == nil {
			continue
		}
		start := time.Now()
		healthy, err := hc.Check(ctx)

		status := DependencyStatus{Status: "healthy", LatencyMs: time.Since(start).Milliseconds()}
		if err != nil || !healthy {
			status.Status = "unhealthy"
			allHealthy = false
			if err != nil {
				status.Message = err.Error()
			}
		}
		dependencies[hc.Name] = status
	}

	return dependencies, allHealthy
}

// ReadinessHandler handles readiness check requests
func ReadinessHandler(checks ...HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		dependencies, allHealthy := CheckDependencies(ctx, checks...)

		status := HealthStatus{
			Status:       "ready",
			Service:      serviceName,
			Version:      serviceVersion,
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
			Dependencies: dependencies,
		}

		code := http.StatusOK
		if !allHealthy {
			status.Status = "not_ready"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
