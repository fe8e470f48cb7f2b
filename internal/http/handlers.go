// Package httpapi exposes the bridge's operational HTTP surface: liveness
// and readiness probes, Prometheus metrics, and a diagnostics snapshot.
// This is strictly an operations surface alongside the WebSocket transport;
// it carries no political-simulation semantics of its own.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"politicalsim/bridge/internal/logging"
)

// ReadinessProvider exposes bridge state required for readiness checks.
type ReadinessProvider interface {
	SnapshotConnectionCounts() (active, pending int)
	StartupError() error
	Uptime() time.Duration
}

// DiagnosticsProvider supplies the aggregate status surfaced at /api/stats.
type DiagnosticsProvider interface {
	Diagnostics() map[string]any
}

// Options configures the HandlerSet.
type Options struct {
	Logger      *logging.Logger
	Readiness   ReadinessProvider
	Diagnostics DiagnosticsProvider
	JWTSecret   string
	TimeSource  func() time.Time
}

// HandlerSet bundles the bridge's operational HTTP handlers.
type HandlerSet struct {
	logger      *logging.Logger
	readiness   ReadinessProvider
	diagnostics DiagnosticsProvider
	jwtSecret   string
	now         func() time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:      logger,
		readiness:   opts.Readiness,
		diagnostics: opts.Diagnostics,
		jwtSecret:   strings.TrimSpace(opts.JWTSecret),
		now:         now,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/stats", h.StatsHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports bridge readiness, including connection counts and startup status.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status               string  `json:"status"`
		Message              string  `json:"message,omitempty"`
		UptimeSeconds        float64 `json:"uptime_seconds"`
		ActiveConnections    int     `json:"active_connections"`
		PendingConnections   int     `json:"pending_connections"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok"}
		if h.readiness != nil {
			active, pending := h.readiness.SnapshotConnectionCounts()
			resp.ActiveConnections = active
			resp.PendingConnections = pending
			resp.UptimeSeconds = h.readiness.Uptime().Seconds()
			if err := h.readiness.StartupError(); err != nil {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		writeJSON(w, status, resp)
	}
}

// StatsHandler reports a diagnostics snapshot covering turn state, event
// throughput, and active alerts. When a JWT secret is configured the
// request must carry a valid bearer token; otherwise the endpoint is open,
// matching the handshake-only auth model used by the WebSocket transport.
func (h *HandlerSet) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.jwtSecret != "" && !h.authoriseBearer(r) {
			h.logger.Warn("diagnostics request denied: unauthorized", logging.String("remote_addr", r.RemoteAddr))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if h.diagnostics == nil {
			writeJSON(w, http.StatusOK, map[string]any{})
			return
		}
		writeJSON(w, http.StatusOK, h.diagnostics.Diagnostics())
	}
}

func (h *HandlerSet) authoriseBearer(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return false
	}
	raw := strings.TrimSpace(header[len("Bearer "):])
	if raw == "" {
		return false
	}
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return []byte(h.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
