package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPTransport_ListAndCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req testWireRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		switch r.URL.Path {
		case "/tools/list":
			if req.Method != MethodListTools {
				t.Errorf("envelope method = %q, want %q", req.Method, MethodListTools)
			}
			_ = enc.Encode(Response{
				JSONRPC: "2.0",
				ID:      req.ID,
				Result:  json.RawMessage(`{"tools":[{"name":"lookup","description":"Lookup things","inputSchema":{"type":"object","properties":{"q":{"type":"string"}}}}]}`),
			})
		case "/tools/call":
			var params CallParams
			_ = json.Unmarshal(req.Params, &params)
			if params.Name != "lookup" {
				_ = enc.Encode(Response{
					JSONRPC: "2.0",
					ID:      req.ID,
					Error:   &RPCError{Code: CodeMethodNotFound, Message: "unknown tool"},
				})
				return
			}
			_ = enc.Encode(Response{
				JSONRPC: "2.0",
				ID:      req.ID,
				Result:  json.RawMessage(`{"content":[{"type":"json","json":{"answer":42}}]}`),
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	tr := newHTTPTransport(server.URL, nil, 5*time.Second)
	ctx := context.Background()

	tools, err := tr.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "lookup" {
		t.Fatalf("ListTools() = %v, want the lookup tool", tools)
	}

	result, err := tr.CallTool(ctx, "lookup", map[string]interface{}{"q": "golang"})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	m, ok := result.(map[string]interface{})
	if !ok {
		t.Fatalf("CallTool() result type = %T, want map", result)
	}
	if m["answer"] != float64(42) {
		t.Errorf("result answer = %v, want 42", m["answer"])
	}

	// Unknown tool: the server's RPC error comes back verbatim.
	_, err = tr.CallTool(ctx, "missing", nil)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("CallTool(missing) error = %v, want RPCError", err)
	}
	if rpcErr.Code != CodeMethodNotFound {
		t.Errorf("Code = %d, want %d", rpcErr.Code, CodeMethodNotFound)
	}
}

func TestHTTPTransport_SSEResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req testWireRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "event: message\n")
		fmt.Fprintf(w, "data: {\"jsonrpc\":\"2.0\",\"id\":%d,\"result\":{\"content\":[{\"type\":\"text\",\"text\":\"from sse\"}]}}\n\n", req.ID)
	}))
	defer server.Close()

	tr := newHTTPTransport(server.URL, nil, 5*time.Second)
	result, err := tr.CallTool(context.Background(), "anything", nil)
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if result != "from sse" {
		t.Errorf("CallTool() = %v, want %q", result, "from sse")
	}
}

func TestHTTPTransport_ForwardsHeaders(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		var req testWireRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{"ok":true}`)})
	}))
	defer server.Close()

	tr := newHTTPTransport(server.URL, map[string]string{"Authorization": "Bearer xyz"}, 5*time.Second)
	if err := tr.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if got != "Bearer xyz" {
		t.Errorf("Authorization header = %q, want %q", got, "Bearer xyz")
	}
}

func TestHTTPTransport_HTTPErrorIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	tr := newHTTPTransport(server.URL, nil, 2*time.Second)
	_, err := tr.ListTools(context.Background())
	if !IsTransportError(err) {
		t.Errorf("ListTools() error = %v, want transport error", err)
	}
}
