package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestDisabledConfigYieldsNoops(t *testing.T) {
	mgr := NewManager(Config{})
	if err := mgr.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Recording through a disabled manager must not panic.
	m := mgr.Metrics()
	m.RecordAgentRun(context.Background(), 100*time.Millisecond, 2, nil)
	m.RecordToolCall(context.Background(), "search", 50*time.Millisecond, nil)
	m.RecordLLMRequest(context.Background(), "qwen3:8b", 10*time.Millisecond, 300*time.Millisecond, nil)
	m.RecordIngestion(context.Background(), time.Second, 3, 12, nil)

	if err := mgr.Shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDisabledMetricsHandlerServes404(t *testing.T) {
	mgr := NewManager(Config{})
	if err := mgr.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	mgr.MetricsHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestEnabledMetricsExposed(t *testing.T) {
	mgr := NewManager(Config{Metrics: MetricsConfig{Enabled: true, Namespace: "helicon"}})
	if err := mgr.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m := mgr.Metrics()
	m.RecordToolCall(context.Background(), "multiply", 25*time.Millisecond, nil)
	m.RecordToolCall(context.Background(), "multiply", 30*time.Millisecond, context.DeadlineExceeded)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	mgr.MetricsHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "tool_calls_total") {
		t.Errorf("exposition missing tool_calls_total:\n%s", body)
	}
	if !strings.Contains(body, "tool_errors_total") {
		t.Errorf("exposition missing tool_errors_total:\n%s", body)
	}
}

func TestNilSafeRecorder(t *testing.T) {
	var m *PrometheusMetrics

	m.RecordAgentRun(context.Background(), time.Second, 1, nil)
	m.RecordToolCall(context.Background(), "x", time.Second, nil)
	m.RecordLLMRequest(context.Background(), "x", 0, time.Second, nil)
	m.RecordIngestion(context.Background(), time.Second, 0, 0, nil)
	m.RecordHTTPRequest(http.MethodGet, "/", http.StatusOK, time.Millisecond)
}

func TestHTTPMiddlewareRecords(t *testing.T) {
	recorded := &recordingMetrics{}

	handler := HTTPMiddleware(nil, recorded)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/chat", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
	if recorded.lastStatus != http.StatusTeapot {
		t.Errorf("recorded status = %d, want %d", recorded.lastStatus, http.StatusTeapot)
	}
	if recorded.lastPath != "/v1/chat" {
		t.Errorf("recorded path = %q, want /v1/chat", recorded.lastPath)
	}
}

type recordingMetrics struct {
	NoopMetrics
	lastPath   string
	lastStatus int
}

func (r *recordingMetrics) RecordHTTPRequest(_, path string, status int, _ time.Duration) {
	r.lastPath = path
	r.lastStatus = status
}
