package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/securewatch/securewatch/internal/config"
	"github.com/securewatch/securewatch/internal/logging"
	"github.com/securewatch/securewatch/internal/risk"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubProvider returns the same scores for every login
type stubProvider struct {
	scores risk.ScoreVector
}

func (p stubProvider) Predict(context.Context, string, []float64, [][]float64) (risk.ScoreVector, error) {
	return p.scores, nil
}

var quietScores = risk.ScoreVector{Outlier: 0.1, Reconstruction: 0.1, Sequence: 0.1, Network: 0.1}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:            "0",
		Env:             "development",
		LogLevel:        "error",
		LedgerCapacity:  config.DefaultLedgerCapacity,
		SignalTimeout:   time.Second,
		NotifyThreshold: config.DefaultNotifyThreshold,
		NotifyWorkers:   1,
		NotifyQueueSize: 16,
		AdminSecret:     "s3cret",
	}
}

// newTestServer creates a server with a stubbed signal provider
func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	s, err := New(cfg,
		WithLogger(logging.Discard()),
		WithProvider(stubProvider{scores: quietScores}),
		WithDrainDelay(0),
	)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	t.Cleanup(func() { _ = s.Shutdown() })
	return s
}

func serve(s *Server, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	s.router.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	w := serve(s, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp.Status)
	}
	if resp.Ledger["capacity"] != config.DefaultLedgerCapacity {
		t.Errorf("Expected ledger capacity %d, got %v", config.DefaultLedgerCapacity, resp.Ledger)
	}
	names := map[string]bool{}
	for _, c := range resp.Checks {
		names[c.Name] = true
	}
	for _, want := range []string{"ledger", "notifications"} {
		if !names[want] {
			t.Errorf("Expected health check %q, got %v", want, resp.Checks)
		}
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	w := serve(s, "GET", "/health/live", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	// Start hasn't been called so ready is false
	if w := serve(s, "GET", "/health/ready", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	if w := serve(s, "GET", "/health/ready", ""); w.Code != http.StatusOK {
		t.Errorf("Expected 200 after Start, got %d", w.Code)
	}

	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if w := serve(s, "GET", "/health/ready", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 after Shutdown, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t, nil)

	expected := []string{
		"GET:/",
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"GET:/ws/alerts",
		"GET:/ws/stats",
		"POST:/security/analyze-login",
		"GET:/security/history",
		"GET:/security/incidents/:id",
		"POST:/security/feedback",
		"GET:/security/report/:id",
		"POST:/security/reset",
	}

	routeSet := make(map[string]bool)
	for _, route := range s.router.Routes() {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// Decision flow through the full middleware chain
// ---------------------------------------------------------------------------

func TestAnalyzeThenHistory(t *testing.T) {
	s := newTestServer(t, nil)

	w := serve(s, "POST", "/security/analyze-login", `{"user_id":"user_101","features":[0.2,0.3]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("Expected X-Request-ID header")
	}

	var res map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if res["verdict"] != "BLOCK" || res["reason"] != "FRAUD_RING" {
		t.Errorf("Expected BLOCK/FRAUD_RING, got %v/%v", res["verdict"], res["reason"])
	}

	w = serve(s, "GET", "/security/history", "")
	var history []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &history); err != nil {
		t.Fatalf("Expected a JSON array: %v: %s", err, w.Body.String())
	}
	if len(history) != 1 || history[0]["id"] != res["incident_id"] {
		t.Errorf("Expected the new incident in history, got %v", history)
	}
}

func TestResetRequiresAdminSecret(t *testing.T) {
	s := newTestServer(t, nil)

	if w := serve(s, "POST", "/security/reset", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without secret, got %d", w.Code)
	}

	req := httptest.NewRequest("POST", "/security/reset", nil)
	req.Header.Set("X-Admin-Secret", "s3cret")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 with secret, got %d: %s", w.Code, w.Body.String())
	}
}

func TestPolicyFileOverridesFraudRing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("fraud_ring: [user_202]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.PolicyFile = path
	s := newTestServer(t, cfg)

	if got := s.Policies().Current().InFraudRing("user_202"); !got {
		t.Error("Expected user_202 in fraud ring")
	}
	if got := s.Policies().Current().InFraudRing("user_101"); got {
		t.Error("Expected default ring replaced")
	}
}

func TestNetworkScoresFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scores.csv")
	if err := os.WriteFile(path, []byte("user_id,network_risk_score\nuser_9,0.9\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.NetworkScoresFile = path
	s, err := New(cfg, WithLogger(logging.Discard()), WithDrainDelay(0))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	t.Cleanup(func() { _ = s.Shutdown() })

	w := serve(s, "POST", "/security/analyze-login", `{"user_id":"user_9","features":[0.3,0.3]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"network":0.9`) {
		t.Errorf("Expected network score from file in breakdown, got %s", w.Body.String())
	}
}

func TestInvalidNetworkScoresFile(t *testing.T) {
	cfg := testConfig()
	cfg.NetworkScoresFile = filepath.Join(t.TempDir(), "missing.csv")
	if _, err := New(cfg, WithLogger(logging.Discard())); err == nil {
		t.Error("Expected error for missing network scores file")
	}
}

// ---------------------------------------------------------------------------
// Dashboard page test
// ---------------------------------------------------------------------------

func TestDashboardEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	w := serve(s, "GET", "/", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for dashboard, got %d", w.Code)
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/html") {
		t.Errorf("Expected HTML content type, got %q", w.Header().Get("Content-Type"))
	}
	if !strings.Contains(w.Body.String(), "/ws/alerts") {
		t.Error("Expected dashboard to subscribe to alerts")
	}
}

func TestHubStatsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	w := serve(s, "GET", "/ws/stats", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// 404 test
// ---------------------------------------------------------------------------

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t, nil)

	w := serve(s, "GET", "/v1/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestMaskDSN(t *testing.T) {
	got := maskDSN("postgres://app:hunter2@db:5432/securewatch?sslmode=disable")
	if strings.Contains(got, "hunter2") {
		t.Errorf("Expected password masked, got %s", got)
	}
}
