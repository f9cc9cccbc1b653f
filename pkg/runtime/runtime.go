// Package runtime is the composition root: it wires configuration into the
// store, LLM provider, tool registry, embedder, vector store, ingestion
// pipeline, agent and HTTP server, and owns their lifecycle.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/helicon-ai/helicon/pkg/agent"
	"github.com/helicon-ai/helicon/pkg/auth"
	"github.com/helicon-ai/helicon/pkg/config"
	"github.com/helicon-ai/helicon/pkg/embedder"
	"github.com/helicon-ai/helicon/pkg/ingest"
	"github.com/helicon-ai/helicon/pkg/llm"
	"github.com/helicon-ai/helicon/pkg/logger"
	"github.com/helicon-ai/helicon/pkg/mcp"
	"github.com/helicon-ai/helicon/pkg/observability"
	"github.com/helicon-ai/helicon/pkg/server"
	"github.com/helicon-ai/helicon/pkg/store"
	"github.com/helicon-ai/helicon/pkg/tokens"
	"github.com/helicon-ai/helicon/pkg/vectordb"
)

// shutdownTimeout bounds the drain of in-flight requests and telemetry.
const shutdownTimeout = 15 * time.Second

// Runtime holds every wired component.
type Runtime struct {
	cfg *config.Config
	log *slog.Logger

	obs      *observability.Manager
	store    store.Store
	provider llm.Provider
	registry *mcp.Registry
	embedder *embedder.Embedder
	vectors  vectordb.Store
	ingestor *ingest.Service
	watcher  *ingest.Watcher
	agent    *agent.Agent
	server   *server.Server

	logClose func()
}

// New wires the full stack from a processed configuration. Components that
// fail fast (store, vector store, LLM provider) abort construction; tool
// servers degrade to an empty catalog.
func New(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	rt := &Runtime{cfg: cfg}

	if err := rt.initLogger(); err != nil {
		return nil, err
	}
	log := rt.log

	rt.obs = observability.NewManager(cfg.Observability)
	if err := rt.obs.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}
	metrics := rt.obs.Metrics()

	st, err := store.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	rt.store = st

	provider, err := llm.New(cfg.LLM, log)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	rt.provider = provider

	rt.registry = mcp.NewRegistry(cfg.MCP, log)
	rt.registry.SetOnRefresh(rt.recordCatalog)
	if err := rt.registry.ConnectAll(ctx); err != nil {
		// Tool servers are optional; the agent runs without tools.
		log.Warn("tool server discovery incomplete", "error", err)
	}
	if interval := cfg.MCP.RefreshInterval(); interval > 0 {
		rt.registry.StartPeriodicRefresh(interval)
	}

	rt.embedder = embedder.New(provider, log)

	vectors, err := vectordb.New(cfg.Vector, log)
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}
	rt.vectors = vectors
	if err := vectors.EnsureCollection(ctx, cfg.Vector.Collection); err != nil {
		return nil, fmt.Errorf("ensure collection %s: %w", cfg.Vector.Collection, err)
	}

	rt.ingestor = ingest.NewService(cfg.Ingest, rt.embedder, vectors, cfg.Vector.Collection, log,
		ingest.WithMetrics(metrics),
		ingest.WithRecordStore(st),
	)
	if len(cfg.Ingest.Watch) > 0 {
		watcher, err := ingest.NewWatcher(rt.ingestor, cfg.Ingest.Watch, cfg.Ingest.WatchDebounce,
			ingest.Options{UserID: auth.DefaultUserID}, log)
		if err != nil {
			return nil, fmt.Errorf("watcher: %w", err)
		}
		rt.watcher = watcher
	}

	agentOpts := []agent.Option{
		agent.WithLogger(log),
		agent.WithMetrics(metrics),
	}
	if counter, err := tokens.NewCounter(cfg.LLM.ChatModel); err == nil {
		agentOpts = append(agentOpts, agent.WithTokenCounter(counter, cfg.LLM.NumCtx))
	} else {
		log.Warn("token counting disabled", "error", err)
	}
	rt.agent = agent.New(cfg.Agent, provider, rt.registry, agentOpts...)

	authMW, err := rt.authMiddleware(ctx)
	if err != nil {
		return nil, err
	}

	rt.server = server.New(cfg.Server, server.Deps{
		Agent:             rt.agent,
		Registry:          rt.registry,
		Ingestor:          rt.ingestor,
		Embedder:          rt.embedder,
		Vectors:           vectors,
		History:           st,
		Auth:              authMW,
		Observability:     observability.HTTPMiddleware(rt.obs.Tracer("http"), metrics),
		MetricsHandler:    rt.obs.MetricsHandler(),
		Readiness:         rt.readiness,
		DefaultCollection: cfg.Vector.Collection,
		Logger:            log,
	})

	return rt, nil
}

func (rt *Runtime) initLogger() error {
	level, err := logger.ParseLevel(rt.cfg.Logger.Level)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}

	output := os.Stderr
	if rt.cfg.Logger.File != "" {
		file, closeFn, err := logger.OpenLogFile(rt.cfg.Logger.File)
		if err != nil {
			return fmt.Errorf("logger: %w", err)
		}
		output = file
		rt.logClose = closeFn
	}

	logger.Init(level, output, rt.cfg.Logger.Format)
	rt.log = logger.Default()
	return nil
}

func (rt *Runtime) authMiddleware(ctx context.Context) (func(http.Handler) http.Handler, error) {
	var validator *auth.Validator
	if rt.cfg.Auth.IsEnabled() {
		v, err := auth.NewValidator(ctx, rt.cfg.Auth)
		if err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
		validator = v
	}
	return auth.Middleware(rt.cfg.Auth, validator, rt.log), nil
}

// recordCatalog persists the tool inventory after each registry refresh.
func (rt *Runtime) recordCatalog(toolList []mcp.ToolDescriptor, servers []mcp.ServerHandle) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	byServer := make(map[string][]store.CatalogTool)
	for _, t := range toolList {
		byServer[t.ServerID] = append(byServer[t.ServerID], store.CatalogTool{
			ServerID:      t.ServerID,
			QualifiedName: t.QualifiedName,
			ExposedName:   t.ExposedName,
			Description:   t.Description,
		})
	}
	for _, sh := range servers {
		if err := rt.store.RecordToolCatalog(ctx, sh.ServerID, byServer[sh.ServerID]); err != nil {
			rt.log.Warn("recording tool catalog failed", "server", sh.ServerID, "error", err)
			return
		}
	}
}

func (rt *Runtime) readiness(ctx context.Context) error {
	return rt.store.Ping(ctx)
}

// Ingestor exposes the pipeline for one-shot CLI ingestion.
func (rt *Runtime) Ingestor() *ingest.Service { return rt.ingestor }

// Agent exposes the agent for the chat REPL.
func (rt *Runtime) Agent() *agent.Agent { return rt.agent }

// Registry exposes the tool registry for CLI catalog commands.
func (rt *Runtime) Registry() *mcp.Registry { return rt.registry }

// Logger returns the configured logger.
func (rt *Runtime) Logger() *slog.Logger { return rt.log }

// Run serves HTTP until the context is cancelled, then shuts down.
func (rt *Runtime) Run(ctx context.Context) error {
	if rt.watcher != nil {
		if err := rt.watcher.Start(ctx); err != nil {
			return fmt.Errorf("watcher: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- rt.server.Start() }()

	select {
	case err := <-errCh:
		rt.Shutdown()
		return err
	case <-ctx.Done():
	}

	rt.log.Info("shutting down")
	return rt.Shutdown()
}

// Shutdown stops the refresh loop, drains the server, and closes every
// component in reverse construction order.
func (rt *Runtime) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	rt.registry.StopPeriodicRefresh()
	if rt.watcher != nil {
		rt.watcher.Stop()
	}

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	keep(rt.server.Shutdown(ctx))
	keep(rt.registry.CloseAll())
	keep(rt.vectors.Close())
	keep(rt.provider.Close())
	keep(rt.store.Close())
	keep(rt.obs.Shutdown(ctx))

	if rt.logClose != nil {
		rt.logClose()
	}
	return firstErr
}
