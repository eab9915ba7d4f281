// Package httpapi exposes the caption gateway over HTTP: the capture
// websocket, session control, transcript export and health endpoints.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-gateway/internal/export"
	"github.com/lexiqai/caption-gateway/internal/observability"
	"github.com/lexiqai/caption-gateway/internal/recognition"
	"github.com/lexiqai/caption-gateway/internal/session"
)

// RouterConfig configures the HTTP surface
type RouterConfig struct {
	// Recognition
	DefaultAPIKey string // Used by the probe when a request carries no key
	Model         string
	Probe         recognition.ProbeOptions

	// Capture
	SourceBuffer int // Audio chunks queued per capture connection

	// Observability
	MetricsEnabled bool
	Readiness      []observability.HealthCheck
}

// Router serves the control, export and capture endpoints for one controller
type Router struct {
	cfg        RouterConfig
	logger     zerolog.Logger
	controller *session.Controller
	dialer     recognition.Dialer
	mux        *http.ServeMux
}

// NewRouter builds the HTTP handler with CORS and panic recovery applied
func NewRouter(cfg RouterConfig, controller *session.Controller, dialer recognition.Dialer) http.Handler {
	if cfg.SourceBuffer <= 0 {
		cfg.SourceBuffer = 64
	}

	r := &Router{
		cfg:        cfg,
		logger:     observability.Component("httpapi"),
		controller: controller,
		dialer:     dialer,
		mux:        http.NewServeMux(),
	}

	r.routes()
	return withSentryRecovery(withCORS(r.mux))
}

func (r *Router) routes() {
	// Health
	r.mux.HandleFunc("GET /health", observability.HealthCheckHandler())
	r.mux.HandleFunc("GET /ready", observability.ReadinessHandler(r.cfg.Readiness...))
	if r.cfg.MetricsEnabled {
		r.mux.Handle("GET /metrics", promhttp.Handler())
	}

	// Capture websocket
	r.mux.HandleFunc("GET /streams/capture", r.handleCaptureWS)

	// Session control
	r.mux.HandleFunc("GET /session", r.handleSessionState)
	r.mux.HandleFunc("POST /session/stop", r.handleSessionStop)
	r.mux.HandleFunc("POST /session/owner-removed", r.handleOwnerRemoved)

	// Transcript
	r.mux.HandleFunc("GET /export", r.handleExport)

	// Recognition key test
	r.mux.HandleFunc("POST /recognition/probe", r.handleProbe)
}

func (r *Router) handleSessionState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, r.controller.State())
}

func (r *Router) handleSessionStop(w http.ResponseWriter, _ *http.Request) {
	r.controller.Stop()
	writeJSON(w, http.StatusOK, r.controller.State())
}

type ownerRequest struct {
	OwnerID string `json:"ownerId"`
}

func (r *Router) handleOwnerRemoved(w http.ResponseWriter, req *http.Request) {
	var body ownerRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.OwnerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ownerId is required"})
		return
	}

	stopped := r.controller.OwnerRemoved(body.OwnerID)
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

func (r *Router) handleExport(w http.ResponseWriter, req *http.Request) {
	format, err := export.ParseFormat(req.URL.Query().Get("format"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	snap, ok := r.controller.Transcript()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": export.ErrEmptyTranscript.Error()})
		return
	}

	body, err := export.Render(format, snap, time.Now())
	switch {
	case errors.Is(err, export.ErrEmptyTranscript):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	case errors.Is(err, export.ErrNoTimestamps):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	case err != nil:
		captureError(req, err, "export failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "export failed"})
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+format.Filename()+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

type probeRequest struct {
	APIKey string `json:"apiKey"`
}

type probeResponse struct {
	OK    bool   `json:"ok"`
	Code  int    `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

func (r *Router) handleProbe(w http.ResponseWriter, req *http.Request) {
	var body probeRequest
	if req.ContentLength != 0 {
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}

	apiKey := body.APIKey
	if apiKey == "" {
		apiKey = r.cfg.DefaultAPIKey
	}
	if apiKey == "" {
		writeJSON(w, http.StatusBadRequest, probeResponse{Error: "apiKey is required"})
		return
	}

	err := recognition.Probe(req.Context(), r.dialer, apiKey, r.cfg.Model, r.cfg.Probe)
	if err == nil {
		writeJSON(w, http.StatusOK, probeResponse{OK: true})
		return
	}

	r.logger.Info().Err(err).Msg("Recognition probe failed")
	resp := probeResponse{Error: err.Error()}
	var svcErr *recognition.ServiceError
	if errors.As(err, &svcErr) {
		resp.Code = svcErr.Code
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetTag("handler", msg)
		sentry.CaptureException(err)
	})
}
