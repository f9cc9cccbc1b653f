// Package mcp implements the tool-server side of the runtime: a JSON-RPC 2.0
// client per configured server (WebSocket preferred, HTTP POST fallback,
// stdio subprocess) and a registry that aggregates every server's tools into
// one consistent catalog under deterministic, model-safe names.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/helicon-ai/helicon/pkg/config"
	"github.com/helicon-ai/helicon/pkg/model"
)

// RefreshState is the lifecycle state of the periodic refresh loop.
type RefreshState string

const (
	RefreshIdle       RefreshState = "idle"
	RefreshRefreshing RefreshState = "refreshing"
	RefreshStopped    RefreshState = "stopped"
)

// RefreshFunc receives the catalog after every refresh, outside the registry
// lock. Used by the persistence collaborator to record the tool inventory.
type RefreshFunc func(tools []ToolDescriptor, servers []ServerHandle)

// Registry aggregates N tool-server clients into a single catalog. Catalog
// reads take a snapshot under the lock; a refresh builds the replacement off
// to the side and swaps it in atomically, so concurrent calls observe either
// the old set or the new set, never a mix.
type Registry struct {
	cfg config.MCPConfig
	log *slog.Logger

	mu          sync.RWMutex
	clients     map[string]*Client
	tools       []ToolDescriptor
	byQualified map[string]ToolDescriptor
	byExposed   map[string]string
	state       RefreshState
	onRefresh   RefreshFunc

	// refreshMu serializes discovery rounds, manual or periodic.
	refreshMu sync.Mutex

	loopMu   sync.Mutex
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewRegistry(cfg config.MCPConfig, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		cfg:         cfg,
		log:         log,
		clients:     make(map[string]*Client),
		byQualified: make(map[string]ToolDescriptor),
		byExposed:   make(map[string]string),
		state:       RefreshIdle,
	}
}

// SetOnRefresh installs the catalog callback. Pass nil to remove it.
func (r *Registry) SetOnRefresh(fn RefreshFunc) {
	r.mu.Lock()
	r.onRefresh = fn
	r.mu.Unlock()
}

// ConnectAll builds one client per configured server, connects them
// concurrently, and runs the initial discovery. Per-server failures are
// logged, not fatal: an unreachable server stays registered unhealthy so a
// later refresh can pick it up.
func (r *Registry) ConnectAll(ctx context.Context) error {
	r.mu.Lock()
	for _, sc := range r.cfg.Servers {
		if _, ok := r.clients[sc.Name]; ok {
			continue
		}
		client, err := NewClient(sc,
			WithLogger(r.log),
			WithTimeouts(r.cfg.ConnectTimeout, r.cfg.CallTimeout),
		)
		if err != nil {
			r.log.Error("skipping tool server", "server", sc.Name, "error", err)
			continue
		}
		r.clients[sc.Name] = client
	}
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			if err := c.Connect(ctx); err != nil {
				r.log.Warn("tool server connect failed", "server", c.ID(), "error", err)
			}
		}(c)
	}
	wg.Wait()

	return r.RefreshTools(ctx)
}

// RefreshTools rediscovers every server's tools concurrently and atomically
// swaps the catalog. A server that fails discovery only drops its own tools
// from the new catalog; the others are unaffected.
func (r *Registry) RefreshTools(ctx context.Context) error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	r.mu.RLock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	onRefresh := r.onRefresh
	r.mu.RUnlock()

	discovered := make([][]ToolDescriptor, len(clients))
	var wg sync.WaitGroup
	for i, c := range clients {
		wg.Add(1)
		go func(i int, c *Client) {
			defer wg.Done()
			tools, err := c.ListTools(ctx)
			if err != nil {
				r.log.Warn("tool discovery failed", "server", c.ID(), "error", err)
				return
			}
			discovered[i] = tools
		}(i, c)
	}
	wg.Wait()

	var all []ToolDescriptor
	seen := make(map[string]bool)
	for _, tools := range discovered {
		for _, d := range tools {
			if seen[d.QualifiedName] {
				r.log.Warn("duplicate tool name from server", "tool", d.QualifiedName)
				continue
			}
			if err := validateToolSchema(d.InputSchema); err != nil {
				r.log.Warn("skipping tool with invalid schema", "tool", d.QualifiedName, "error", err)
				continue
			}
			seen[d.QualifiedName] = true
			all = append(all, d)
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].QualifiedName < all[j].QualifiedName })
	assignExposedNames(all)

	byQualified := make(map[string]ToolDescriptor, len(all))
	byExposed := make(map[string]string, len(all))
	for _, d := range all {
		byQualified[d.QualifiedName] = d
		byExposed[d.ExposedName] = d.QualifiedName
	}

	r.mu.Lock()
	r.tools = all
	r.byQualified = byQualified
	r.byExposed = byExposed
	r.mu.Unlock()

	r.log.Info("tool catalog refreshed", "servers", len(clients), "tools", len(all))

	if onRefresh != nil {
		onRefresh(append([]ToolDescriptor(nil), all...), r.ListServers())
	}
	return nil
}

// Tools returns a copy of the current catalog, sorted by qualified name.
func (r *Registry) Tools() []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ToolDescriptor(nil), r.tools...)
}

// ToLLMTools renders the catalog for the model runtime: exposed names only,
// schemas passed through untouched, tools of unhealthy servers omitted.
func (r *Registry) ToLLMTools() []model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]model.ToolDefinition, 0, len(r.tools))
	for _, d := range r.tools {
		client, ok := r.clients[d.ServerID]
		if !ok || !client.Healthy() {
			continue
		}
		defs = append(defs, model.ToolDefinition{
			Name:        d.ExposedName,
			Description: d.Description,
			Parameters:  d.InputSchema,
		})
	}
	return defs
}

// CallTool resolves name as either a qualified or an exposed tool name and
// routes the call to the owning server. The outbound request always carries
// the local name the server registered.
func (r *Registry) CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	r.mu.RLock()
	d, ok := r.byQualified[name]
	if !ok {
		if qualified, mapped := r.byExposed[name]; mapped {
			d, ok = r.byQualified[qualified]
		}
	}
	var client *Client
	if ok {
		client = r.clients[d.ServerID]
	}
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if client == nil || !client.Healthy() {
		return nil, fmt.Errorf("%w: %s", ErrServerUnhealthy, d.ServerID)
	}
	return client.CallTool(ctx, d.QualifiedName, args)
}

// ListServers reports a handle per connected server, healthy or not, sorted
// by server id.
func (r *Registry) ListServers() []ServerHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int, len(r.clients))
	for _, d := range r.tools {
		counts[d.ServerID]++
	}

	handles := make([]ServerHandle, 0, len(r.clients))
	for id, c := range r.clients {
		handles = append(handles, c.Handle(counts[id]))
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i].ServerID < handles[j].ServerID })
	return handles
}

// ListHealthyServers reports only the servers whose last discovery
// round-trip succeeded.
func (r *Registry) ListHealthyServers() []ServerHandle {
	all := r.ListServers()
	healthy := all[:0]
	for _, h := range all {
		if h.Healthy {
			healthy = append(healthy, h)
		}
	}
	return healthy
}

// CloseAll stops the refresh loop and closes every client.
func (r *Registry) CloseAll() error {
	r.StopPeriodicRefresh()

	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*Client)
	r.tools = nil
	r.byQualified = make(map[string]ToolDescriptor)
	r.byExposed = make(map[string]string)
	r.mu.Unlock()

	var firstErr error
	for _, c := range clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// State reports the refresh loop's lifecycle state.
func (r *Registry) State() RefreshState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Registry) setState(s RefreshState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// StartPeriodicRefresh launches the background rediscovery loop. An interval
// at or below zero disables it. Starting again with the identical interval
// while the loop is running is a no-op; a different interval replaces the
// running loop.
func (r *Registry) StartPeriodicRefresh(interval time.Duration) {
	if interval <= 0 {
		r.log.Info("periodic tool refresh disabled")
		return
	}

	r.loopMu.Lock()
	defer r.loopMu.Unlock()

	if r.stopCh != nil {
		if interval == r.interval {
			return
		}
		close(r.stopCh)
		<-r.doneCh
	}

	r.interval = interval
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.setState(RefreshIdle)
	go r.refreshLoop(interval, r.stopCh, r.doneCh)
	r.log.Info("periodic tool refresh started", "interval", interval)
}

// StopPeriodicRefresh cancels the loop and waits out any refresh already in
// flight. Safe to call when the loop never started.
func (r *Registry) StopPeriodicRefresh() {
	r.loopMu.Lock()
	stopCh, doneCh := r.stopCh, r.doneCh
	r.stopCh, r.doneCh = nil, nil
	r.interval = 0
	r.loopMu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

func (r *Registry) refreshLoop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			r.setState(RefreshStopped)
			return
		case <-ticker.C:
			// Stop wins when both are ready.
			select {
			case <-stop:
				r.setState(RefreshStopped)
				return
			default:
			}
			r.setState(RefreshRefreshing)
			if err := r.RefreshTools(context.Background()); err != nil {
				r.log.Warn("periodic refresh failed", "error", err)
			}
			r.setState(RefreshIdle)
		}
	}
}
