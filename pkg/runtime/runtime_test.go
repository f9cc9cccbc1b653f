package runtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/helicon-ai/helicon/pkg/mcp"
	"github.com/helicon-ai/helicon/pkg/store"
)

type catalogStore struct {
	store.Noop
	mu      sync.Mutex
	byServe map[string][]store.CatalogTool
}

func (c *catalogStore) RecordToolCatalog(ctx context.Context, serverID string, tools []store.CatalogTool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.byServe == nil {
		c.byServe = make(map[string][]store.CatalogTool)
	}
	c.byServe[serverID] = tools
	return nil
}

func TestRecordCatalogGroupsByServer(t *testing.T) {
	rec := &catalogStore{}
	rt := &Runtime{
		store: rec,
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	tools := []mcp.ToolDescriptor{
		{ServerID: "web", QualifiedName: "web.search", ExposedName: "web_search"},
		{ServerID: "web", QualifiedName: "web.fetch", ExposedName: "web_fetch"},
		{ServerID: "files", QualifiedName: "files.read", ExposedName: "files_read"},
	}
	servers := []mcp.ServerHandle{
		{ServerID: "web", Healthy: true},
		{ServerID: "files", Healthy: true},
		{ServerID: "down", Healthy: false},
	}

	rt.recordCatalog(tools, servers)

	if got := len(rec.byServe["web"]); got != 2 {
		t.Errorf("web catalog has %d tools, want 2", got)
	}
	if got := len(rec.byServe["files"]); got != 1 {
		t.Errorf("files catalog has %d tools, want 1", got)
	}
	// A connected but empty server still gets its (empty) inventory
	// recorded, clearing stale rows.
	if _, ok := rec.byServe["down"]; !ok {
		t.Errorf("empty server was not recorded")
	}
}

func TestReadinessDelegatesToStore(t *testing.T) {
	rt := &Runtime{store: store.Noop{}}
	if err := rt.readiness(context.Background()); err != nil {
		t.Errorf("readiness with noop store = %v", err)
	}
}
