package mcp

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/helicon-ai/helicon/pkg/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testWireRequest decodes incoming envelopes with the params kept raw.
type testWireRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

func objSchema(props string) json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{` + props + `}}`)
}

// fakeServer is an HTTP tool server speaking the JSON-RPC dialect. It
// records tool calls and can be flipped into a failing state to simulate an
// outage.
type fakeServer struct {
	*httptest.Server

	mu    sync.Mutex
	tools []wireTool
	calls []CallParams
	down  bool
}

func newFakeServer(tools ...wireTool) *fakeServer {
	fs := &fakeServer{tools: tools}
	fs.Server = httptest.NewServer(http.HandlerFunc(fs.handle))
	return fs
}

func (fs *fakeServer) setDown(down bool) {
	fs.mu.Lock()
	fs.down = down
	fs.mu.Unlock()
}

func (fs *fakeServer) recordedCalls() []CallParams {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]CallParams(nil), fs.calls...)
}

func (fs *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	down := fs.down
	fs.mu.Unlock()
	if down {
		http.Error(w, "gone", http.StatusNotFound)
		return
	}

	var req testWireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeResult := func(result string) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(result)})
	}

	switch req.Method {
	case MethodInitialize:
		writeResult(`{"protocolVersion":"2024-11-05","serverInfo":{"name":"fake","version":"0"},"capabilities":{"tools":{"list":true,"call":true}}}`)
	case MethodListTools:
		fs.mu.Lock()
		payload, _ := json.Marshal(listToolsResult{Tools: fs.tools})
		fs.mu.Unlock()
		writeResult(string(payload))
	case MethodCallTool:
		var params CallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fs.mu.Lock()
		fs.calls = append(fs.calls, params)
		fs.mu.Unlock()
		writeResult(`{"content":[{"type":"text","text":"ok:` + params.Name + `"}]}`)
	case MethodPing:
		writeResult(`{"ok":true}`)
	default:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: CodeMethodNotFound, Message: "method not found"},
		})
	}
}

// config builds the server entry pointing at this fake server.
func (fs *fakeServer) config(name string) config.MCPServerConfig {
	return config.MCPServerConfig{Name: name, URL: fs.URL, Transport: config.MCPTransportHTTP}
}

func registryFor(servers ...config.MCPServerConfig) *Registry {
	cfg := config.MCPConfig{Servers: servers}
	cfg.SetDefaults()
	return NewRegistry(cfg, testLogger())
}
