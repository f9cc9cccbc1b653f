package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/helicon-ai/helicon/pkg/config"
	"github.com/helicon-ai/helicon/pkg/model"
)

func testConfig(baseURL string) config.LLMConfig {
	cfg := config.LLMConfig{BaseURL: baseURL}
	cfg.SetDefaults()
	return cfg
}

// fakeRuntime serves /api/show for every model and streams the given JSON
// lines from /api/chat.
func fakeRuntime(t *testing.T, streamLines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/show":
			w.WriteHeader(http.StatusOK)
		case "/api/chat":
			w.Header().Set("Content-Type", "application/x-ndjson")
			for _, line := range streamLines {
				fmt.Fprintln(w, line)
			}
		default:
			http.NotFound(w, r)
		}
	}))
}

func drain(t *testing.T, ch <-chan StreamChunk) (content, thinking string, calls []model.ToolCall) {
	t.Helper()
	for chunk := range ch {
		if chunk.Err != nil {
			t.Fatalf("stream error: %v", chunk.Err)
		}
		content += chunk.Content
		thinking += chunk.Thinking
		if chunk.Done {
			calls = chunk.ToolCalls
		}
	}
	return content, thinking, calls
}

func TestOllamaChatStream_ContentAndThinking(t *testing.T) {
	server := fakeRuntime(t, []string{
		`{"message":{"thinking":"hmm"},"done":false}`,
		`{"message":{"content":"Hello"},"done":false}`,
		`{"message":{"content":" world"},"done":false}`,
		`{"message":{},"done":true}`,
	})
	defer server.Close()

	p := NewOllamaProvider(testConfig(server.URL), nil)
	ch, err := p.ChatStream(context.Background(), []model.ChatMessage{model.UserMessage("hi")}, ChatOptions{})
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}

	content, thinking, calls := drain(t, ch)
	if content != "Hello world" {
		t.Errorf("content = %q, want %q", content, "Hello world")
	}
	if thinking != "hmm" {
		t.Errorf("thinking = %q, want %q", thinking, "hmm")
	}
	if len(calls) != 0 {
		t.Errorf("tool calls = %v, want none", calls)
	}
}

func TestOllamaChatStream_ToolCallStringFragments(t *testing.T) {
	// Arguments stream as JSON string fragments that only parse once
	// concatenated.
	server := fakeRuntime(t, []string{
		`{"message":{"tool_calls":[{"index":0,"function":{"name":"mult","arguments":"{\"a\":3,"}}]},"done":false}`,
		`{"message":{"tool_calls":[{"index":0,"function":{"arguments":"\"b\":2}"}}]},"done":false}`,
		`{"message":{},"done":true}`,
	})
	defer server.Close()

	p := NewOllamaProvider(testConfig(server.URL), nil)
	ch, err := p.ChatStream(context.Background(), []model.ChatMessage{model.UserMessage("double 3")}, ChatOptions{})
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}

	_, _, calls := drain(t, ch)
	if len(calls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(calls))
	}
	if calls[0].Name != "mult" {
		t.Errorf("name = %q, want mult", calls[0].Name)
	}
	if calls[0].Args["a"] != float64(3) || calls[0].Args["b"] != float64(2) {
		t.Errorf("args = %v, want a=3 b=2", calls[0].Args)
	}
}

func TestOllamaChatStream_ToolCallWholeObject(t *testing.T) {
	server := fakeRuntime(t, []string{
		`{"message":{"tool_calls":[{"function":{"name":"search","arguments":{"q":"golang"}}}]},"done":false}`,
		`{"message":{},"done":true}`,
	})
	defer server.Close()

	p := NewOllamaProvider(testConfig(server.URL), nil)
	ch, err := p.ChatStream(context.Background(), []model.ChatMessage{model.UserMessage("find it")}, ChatOptions{})
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}

	_, _, calls := drain(t, ch)
	if len(calls) != 1 || calls[0].Name != "search" {
		t.Fatalf("tool calls = %v, want one search call", calls)
	}
	if calls[0].Args["q"] != "golang" {
		t.Errorf("args = %v, want q=golang", calls[0].Args)
	}
}

func TestOllamaChatStream_MalformedArgumentsBecomeEmpty(t *testing.T) {
	server := fakeRuntime(t, []string{
		`{"message":{"tool_calls":[{"index":0,"function":{"name":"bad","arguments":"{not json"}}]},"done":false}`,
		`{"message":{},"done":true}`,
	})
	defer server.Close()

	p := NewOllamaProvider(testConfig(server.URL), nil)
	ch, err := p.ChatStream(context.Background(), []model.ChatMessage{model.UserMessage("go")}, ChatOptions{})
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}

	_, _, calls := drain(t, ch)
	if len(calls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(calls))
	}
	if len(calls[0].Args) != 0 {
		t.Errorf("args = %v, want empty object", calls[0].Args)
	}
}

func TestOllamaChatStream_RuntimeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/show":
			w.WriteHeader(http.StatusOK)
		case "/api/chat":
			http.Error(w, `{"error":"model exploded"}`, http.StatusBadRequest)
		}
	}))
	defer server.Close()

	p := NewOllamaProvider(testConfig(server.URL), nil)
	ch, err := p.ChatStream(context.Background(), []model.ChatMessage{model.UserMessage("hi")}, ChatOptions{})
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}

	var streamErr error
	for chunk := range ch {
		if chunk.Err != nil {
			streamErr = chunk.Err
		}
	}

	var httpErr *HTTPError
	if !errors.As(streamErr, &httpErr) {
		t.Fatalf("stream error = %v, want HTTPError", streamErr)
	}
	if httpErr.Snippet != "model exploded" {
		t.Errorf("snippet = %q, want the probed error message", httpErr.Snippet)
	}
}

func TestOllamaEnsureModel_PullsWhenMissing(t *testing.T) {
	var pulls atomic.Int32
	known := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/show":
			if known {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(http.StatusNotFound)
			}
		case "/api/pull":
			pulls.Add(1)
			known = true
			w.WriteHeader(http.StatusOK)
		case "/api/embeddings":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"embedding": []float32{0.1, 0.2}})
		}
	}))
	defer server.Close()

	p := NewOllamaProvider(testConfig(server.URL), nil)

	vec, err := p.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vec) != 2 {
		t.Errorf("embedding length = %d, want 2", len(vec))
	}
	if pulls.Load() != 1 {
		t.Errorf("pulls = %d, want 1", pulls.Load())
	}

	// Second call hits the ensured cache; no extra pull.
	if _, err := p.Embed(context.Background(), "again"); err != nil {
		t.Fatalf("Embed() second call error = %v", err)
	}
	if pulls.Load() != 1 {
		t.Errorf("pulls after cached ensure = %d, want 1", pulls.Load())
	}
}

func TestOllamaEnsureModel_FailsFastWithoutAutoPull(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/show":
			w.WriteHeader(http.StatusNotFound)
		case "/api/pull":
			t.Error("pull should not be attempted with auto-pull disabled")
		}
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.AutoPull = config.BoolPtr(false)

	p := NewOllamaProvider(cfg, nil)
	_, err := p.Embed(context.Background(), "hello")
	if !errors.Is(err, ErrModelMissing) {
		t.Fatalf("Embed() error = %v, want ErrModelMissing", err)
	}
}

func TestOllamaChatRequest_CarriesToolsAndOptions(t *testing.T) {
	var got ollamaChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/show":
			w.WriteHeader(http.StatusOK)
		case "/api/chat":
			_ = json.NewDecoder(r.Body).Decode(&got)
			fmt.Fprintln(w, `{"message":{},"done":true}`)
		}
	}))
	defer server.Close()

	p := NewOllamaProvider(testConfig(server.URL), nil)
	tools := []model.ToolDefinition{{
		Name:       "lookup",
		Parameters: json.RawMessage(`{"type":"object","properties":{}}`),
	}}
	ch, err := p.ChatStream(context.Background(),
		[]model.ChatMessage{model.UserMessage("hi")},
		ChatOptions{Tools: tools, Think: "low"})
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	drain(t, ch)

	if !got.Stream {
		t.Error("request not marked streaming")
	}
	if len(got.Tools) != 1 || got.Tools[0].Function.Name != "lookup" {
		t.Errorf("tools = %+v, want the lookup tool", got.Tools)
	}
	if got.Think != "low" {
		t.Errorf("think = %v, want low", got.Think)
	}
	if got.Options == nil || got.Options.NumCtx != 8192 {
		t.Errorf("options = %+v, want num_ctx 8192", got.Options)
	}
}
