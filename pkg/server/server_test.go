package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/helicon-ai/helicon/pkg/agent"
	"github.com/helicon-ai/helicon/pkg/auth"
	"github.com/helicon-ai/helicon/pkg/config"
	"github.com/helicon-ai/helicon/pkg/ingest"
	"github.com/helicon-ai/helicon/pkg/mcp"
	"github.com/helicon-ai/helicon/pkg/model"
	"github.com/helicon-ai/helicon/pkg/store"
	"github.com/helicon-ai/helicon/pkg/vectordb"
)

type fakeAgent struct {
	events []model.Event
	record agent.RunRecord

	mu   sync.Mutex
	got  []model.ChatMessage
	opts agent.RunOptions
}

func (f *fakeAgent) Run(ctx context.Context, conversation []model.ChatMessage, opts agent.RunOptions) (<-chan model.Event, *agent.RunRecord) {
	f.mu.Lock()
	f.got = conversation
	f.opts = opts
	f.mu.Unlock()

	record := f.record
	ch := make(chan model.Event, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch, &record
}

type fakeCatalog struct {
	tools     []mcp.ToolDescriptor
	refreshed int
	fail      bool
}

func (f *fakeCatalog) Tools() []mcp.ToolDescriptor     { return f.tools }
func (f *fakeCatalog) ListServers() []mcp.ServerHandle { return nil }
func (f *fakeCatalog) RefreshTools(ctx context.Context) error {
	f.refreshed++
	if f.fail {
		return context.DeadlineExceeded
	}
	return nil
}

type fakeIngestor struct {
	report ingest.IngestionReport
	got    ingest.Options
	target string
}

func (f *fakeIngestor) IngestPath(ctx context.Context, pathOrURL string, opts ingest.Options) (*ingest.IngestionReport, error) {
	f.target = pathOrURL
	f.got = opts
	report := f.report
	return &report, nil
}

type fakeQueryEmbedder struct{ got string }

func (f *fakeQueryEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	f.got = text
	return []float32{0.1, 0.2}, nil
}

type fakeSearcher struct {
	results []vectordb.SearchResult
	userID  string
	tags    []string
	topK    int
}

func (f *fakeSearcher) Search(ctx context.Context, vector []float32, topK int, collection, userID string, tags []string) ([]vectordb.SearchResult, error) {
	f.userID = userID
	f.tags = tags
	f.topK = topK
	return f.results, nil
}

func testServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	cfg := config.ServerConfig{}
	cfg.SetDefaults()
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if deps.Auth == nil {
		deps.Auth = injectUser("alice")
	}
	return New(cfg, deps)
}

// injectUser stands in for the auth middleware.
func injectUser(userID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), userID)))
		})
	}
}

func TestChatSSEFraming(t *testing.T) {
	fa := &fakeAgent{
		events: []model.Event{
			model.LogEvent("info", "thinking about it"),
			model.ToolStartEvent("web_search", map[string]interface{}{"q": "go"}),
			model.TokenEvent("Hello "),
			model.TokenEvent("world"),
			model.DoneEvent(1, 1, model.StatusSuccess, "Hello world"),
		},
		record: agent.RunRecord{Status: model.StatusSuccess, FinalText: "Hello world"},
	}
	srv := testServer(t, Deps{Agent: fa})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"message":"hi"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if rec.Header().Get("X-Session-ID") == "" {
		t.Errorf("missing X-Session-ID header")
	}

	body := rec.Body.String()

	// Padding comment arrives before the first token event and is large
	// enough to defeat proxy buffering.
	padIdx := strings.Index(body, "\n: ")
	tokenIdx := strings.Index(body, "event: token")
	if padIdx < 0 || tokenIdx < 0 || padIdx > tokenIdx {
		t.Fatalf("padding comment missing or after first token event:\n%s", body[:200])
	}
	commentLine, _, _ := bufio.NewReader(strings.NewReader(body[padIdx+1:])).ReadLine()
	if len(commentLine) < ssePaddingBytes {
		t.Errorf("padding comment is %d bytes, want >= %d", len(commentLine), ssePaddingBytes)
	}

	// Events in order: log, tool, token, token, done.
	var names []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "event: ") {
			names = append(names, strings.TrimPrefix(line, "event: "))
		}
	}
	want := []string{"log", "tool", "token", "token", "done"}
	if len(names) != len(want) {
		t.Fatalf("events = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, names[i], want[i])
		}
	}

	// Log events must not wait for padding: the log frame precedes it.
	logIdx := strings.Index(body, "event: log")
	if logIdx > padIdx {
		t.Errorf("log event came after padding; padding should precede token output only")
	}
}

func TestChatPersistsConversation(t *testing.T) {
	fa := &fakeAgent{
		events: []model.Event{model.DoneEvent(1, 0, model.StatusSuccess, "answer")},
		record: agent.RunRecord{Status: model.StatusSuccess, FinalText: "answer"},
	}
	st, err := store.New(config.StoreConfig{Driver: "sqlite", DSN: "file::memory:?cache=shared"})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	srv := testServer(t, Deps{Agent: fa, History: st})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"message":"hi","session_id":"s1"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	msgs, err := st.ListMessages(context.Background(), "s1", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("stored %d messages, want user + assistant", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[0].Content != "hi" {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].Role != "assistant" || msgs[1].Content != "answer" {
		t.Errorf("second message = %+v", msgs[1])
	}
}

func TestChatRejectsEmptyBody(t *testing.T) {
	srv := testServer(t, Deps{Agent: &fakeAgent{}})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSearchEnforcesUserTag(t *testing.T) {
	fs := &fakeSearcher{results: []vectordb.SearchResult{{ID: "1", Text: "hit", Score: 0.9}}}
	srv := testServer(t, Deps{
		Embedder:          &fakeQueryEmbedder{},
		Vectors:           fs,
		DefaultCollection: "docs",
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/search", strings.NewReader(`{"query":"what","tags":["project:x"]}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if fs.userID != "alice" {
		t.Errorf("search userID = %q, want alice", fs.userID)
	}
	if fs.topK != defaultTopK {
		t.Errorf("topK = %d, want default %d", fs.topK, defaultTopK)
	}
	if len(fs.tags) != 1 || fs.tags[0] != "project:x" {
		t.Errorf("tags = %v", fs.tags)
	}

	var resp struct {
		Results []vectordb.SearchResult `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Text != "hit" {
		t.Errorf("results = %+v", resp.Results)
	}
}

func TestIngestEndpoint(t *testing.T) {
	fi := &fakeIngestor{report: ingest.IngestionReport{TotalFiles: 2, TotalChunks: 9}}
	srv := testServer(t, Deps{Ingestor: fi})

	body := `{"path":"/data/docs","recursive":true,"tags":["kb"]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if fi.target != "/data/docs" || !fi.got.Recursive {
		t.Errorf("ingestor got %q %+v", fi.target, fi.got)
	}
	if fi.got.UserID != "alice" {
		t.Errorf("ingestion user = %q, want alice", fi.got.UserID)
	}

	var report ingest.IngestionReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	if report.TotalChunks != 9 {
		t.Errorf("TotalChunks = %d", report.TotalChunks)
	}
}

func TestIngestURLForcesWebSource(t *testing.T) {
	fi := &fakeIngestor{}
	srv := testServer(t, Deps{Ingestor: fi})

	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(`{"url":"https://example.com"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if fi.target != "https://example.com" || !fi.got.FromWeb {
		t.Errorf("ingestor got %q from_web=%v", fi.target, fi.got.FromWeb)
	}
}

func TestToolsListAndRefresh(t *testing.T) {
	fc := &fakeCatalog{tools: []mcp.ToolDescriptor{{ServerID: "web", QualifiedName: "web.search", ExposedName: "web_search"}}}
	srv := testServer(t, Deps{Registry: fc})

	req := httptest.NewRequest(http.MethodGet, "/v1/tools", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "web_search") {
		t.Errorf("tool list missing exposed name: %s", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/tools/refresh", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d", rec.Code)
	}
	if fc.refreshed != 1 {
		t.Errorf("refreshed %d times, want 1", fc.refreshed)
	}
}

func TestRateLimitReturns429(t *testing.T) {
	cfg := config.ServerConfig{}
	cfg.SetDefaults()
	cfg.RateLimit.Enabled = config.BoolPtr(true)
	cfg.RateLimit.RPS = 1
	cfg.RateLimit.Burst = 2

	srv := New(cfg, Deps{
		Registry: &fakeCatalog{},
		Auth:     injectUser("alice"),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	limited := false
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/tools", nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Errorf("burst of requests was never rate limited")
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv := testServer(t, Deps{})

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, rec.Code)
		}
	}
}

func TestReadyzUnavailable(t *testing.T) {
	srv := testServer(t, Deps{
		Readiness: func(ctx context.Context) error { return context.DeadlineExceeded },
	})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz status = %d, want 503", rec.Code)
	}
}
