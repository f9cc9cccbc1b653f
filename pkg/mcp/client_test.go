package mcp

import (
	"context"
	"testing"

	"github.com/helicon-ai/helicon/pkg/config"
)

func TestClient_TransportSelection(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.MCPServerConfig
		want string
	}{
		{
			name: "ws scheme",
			cfg:  config.MCPServerConfig{Name: "a", URL: "ws://localhost:1/mcp"},
			want: "ws",
		},
		{
			name: "wss scheme",
			cfg:  config.MCPServerConfig{Name: "a", URL: "wss://localhost:1"},
			want: "ws",
		},
		{
			name: "http scheme",
			cfg:  config.MCPServerConfig{Name: "a", URL: "http://localhost:1"},
			want: "http",
		},
		{
			name: "https scheme",
			cfg:  config.MCPServerConfig{Name: "a", URL: "https://localhost:1"},
			want: "http",
		},
		{
			name: "explicit ws overrides http url",
			cfg:  config.MCPServerConfig{Name: "a", URL: "http://localhost:1", Transport: config.MCPTransportWebSocket},
			want: "ws",
		},
		{
			name: "explicit http overrides ws url",
			cfg:  config.MCPServerConfig{Name: "a", URL: "ws://localhost:1", Transport: config.MCPTransportHTTP},
			want: "http",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.cfg, WithLogger(testLogger()))
			if err != nil {
				t.Fatalf("NewClient() error = %v", err)
			}
			defer client.Close()

			var got string
			switch client.tr.(type) {
			case *wsTransport:
				got = "ws"
			case *httpTransport:
				got = "http"
			default:
				got = "other"
			}
			if got != tt.want {
				t.Errorf("transport = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClient_HealthRestoredOnlyByDiscovery(t *testing.T) {
	srv := newFakeServer(wireTool{Name: "t", InputSchema: objSchema("")})
	defer srv.Close()

	client, err := NewClient(srv.config("srv"), WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	defer client.Close()
	ctx := context.Background()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !client.Healthy() {
		t.Fatal("Healthy() = false after Connect, want true")
	}

	// A transport failure on a call flips the flag.
	srv.setDown(true)
	if _, err := client.CallTool(ctx, "srv.t", nil); err == nil {
		t.Fatal("CallTool() on downed server succeeded, want error")
	}
	if client.Healthy() {
		t.Fatal("Healthy() = true after transport failure, want false")
	}

	// A successful call does not restore health; only discovery does.
	srv.setDown(false)
	if _, err := client.CallTool(ctx, "srv.t", nil); err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if client.Healthy() {
		t.Error("Healthy() = true after successful call, want false until rediscovery")
	}
	if _, err := client.ListTools(ctx); err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	if !client.Healthy() {
		t.Error("Healthy() = false after successful ListTools, want true")
	}
}

func TestClient_HealthCheckLeavesFlagAlone(t *testing.T) {
	srv := newFakeServer(wireTool{Name: "t", InputSchema: objSchema("")})
	defer srv.Close()

	client, err := NewClient(srv.config("srv"), WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	defer client.Close()
	ctx := context.Background()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	srv.setDown(true)
	if client.HealthCheck(ctx) {
		t.Error("HealthCheck() = true for downed server, want false")
	}
	if !client.Healthy() {
		t.Error("Healthy() = false after failed probe, want unchanged true")
	}
}

func TestClient_ListToolsQualifiesNames(t *testing.T) {
	srv := newFakeServer(wireTool{Name: "search", Description: "Find", InputSchema: objSchema("")})
	defer srv.Close()

	client, err := NewClient(srv.config("web"), WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	defer client.Close()

	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	if len(tools) != 1 {
		t.Fatalf("ListTools() returned %d tools, want 1", len(tools))
	}
	if tools[0].QualifiedName != "web.search" {
		t.Errorf("QualifiedName = %q, want %q", tools[0].QualifiedName, "web.search")
	}
	if tools[0].ServerID != "web" {
		t.Errorf("ServerID = %q, want %q", tools[0].ServerID, "web")
	}
	if tools[0].ExposedName != "" {
		t.Errorf("ExposedName = %q, want empty before catalog assignment", tools[0].ExposedName)
	}
}
