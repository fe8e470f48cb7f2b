package httpapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"politicalsim/bridge/internal/logging"
)

type stubReadiness struct {
	active, pending int
	uptime          time.Duration
	err             error
}

func (s *stubReadiness) SnapshotConnectionCounts() (int, int) { return s.active, s.pending }
func (s *stubReadiness) StartupError() error                  { return s.err }
func (s *stubReadiness) Uptime() time.Duration                { return s.uptime }

type stubDiagnostics struct {
	payload map[string]any
}

func (s stubDiagnostics) Diagnostics() map[string]any { return s.payload }

func TestLivenessHandlerReturnsJSON(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), TimeSource: func() time.Time { return fixed }})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/livez", nil)

	handlers.LivenessHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestReadinessHandlerUnavailable(t *testing.T) {
	t.Parallel()

	readiness := &stubReadiness{active: 3, pending: 1, uptime: 45 * time.Second, err: errors.New("boom")}
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Readiness: readiness})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	handlers.ReadinessHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestReadinessHandlerOK(t *testing.T) {
	t.Parallel()

	readiness := &stubReadiness{active: 3, pending: 0, uptime: 90 * time.Second}
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Readiness: readiness})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	handlers.ReadinessHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestStatsHandlerOpenWithoutSecret(t *testing.T) {
	t.Parallel()

	handlers := NewHandlerSet(Options{
		Logger:      logging.NewTestLogger(),
		Diagnostics: stubDiagnostics{payload: map[string]any{"turn_number": 4}},
	})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	handlers.StatsHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestStatsHandlerRequiresBearerWhenSecretConfigured(t *testing.T) {
	t.Parallel()

	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), JWTSecret: "s3cret"})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	handlers.StatsHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
}

func TestStatsHandlerAcceptsValidBearer(t *testing.T) {
	t.Parallel()

	secret := "s3cret"
	handlers := NewHandlerSet(Options{
		Logger:      logging.NewTestLogger(),
		JWTSecret:   secret,
		Diagnostics: stubDiagnostics{payload: map[string]any{}},
	})

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "ops"})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rr := httptest.NewRecorder()
	handlers.StatsHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d", rr.Code)
	}
}

func TestStatsHandlerRejectsWrongSigningSecret(t *testing.T) {
	t.Parallel()

	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), JWTSecret: "correct"})
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "ops"})
	signed, err := token.SignedString([]byte("wrong"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rr := httptest.NewRecorder()
	handlers.StatsHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for mis-signed token, got %d", rr.Code)
	}
}
