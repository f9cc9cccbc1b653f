// Package server is the HTTP edge: chat streaming over SSE, ingestion and
// search endpoints, tool catalog reads, session history, and the health and
// metrics surfaces.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/helicon-ai/helicon/pkg/agent"
	"github.com/helicon-ai/helicon/pkg/config"
	"github.com/helicon-ai/helicon/pkg/ingest"
	"github.com/helicon-ai/helicon/pkg/mcp"
	"github.com/helicon-ai/helicon/pkg/model"
	"github.com/helicon-ai/helicon/pkg/store"
	"github.com/helicon-ai/helicon/pkg/vectordb"
)

// AgentRunner starts one completion run. *agent.Agent implements it.
type AgentRunner interface {
	Run(ctx context.Context, conversation []model.ChatMessage, opts agent.RunOptions) (<-chan model.Event, *agent.RunRecord)
}

// ToolCatalog is the registry surface the edge needs. *mcp.Registry
// implements it.
type ToolCatalog interface {
	Tools() []mcp.ToolDescriptor
	ListServers() []mcp.ServerHandle
	RefreshTools(ctx context.Context) error
}

// Ingestor runs the ingestion pipeline. *ingest.Service implements it.
type Ingestor interface {
	IngestPath(ctx context.Context, pathOrURL string, opts ingest.Options) (*ingest.IngestionReport, error)
}

// QueryEmbedder embeds one search query. *embedder.Embedder implements it.
type QueryEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the read side of the vector store.
type Searcher interface {
	Search(ctx context.Context, vector []float32, topK int, collection, userID string, tags []string) ([]vectordb.SearchResult, error)
}

// Deps are the collaborators behind the routes. Auth and Observability are
// optional middleware; History defaults to the no-op store.
type Deps struct {
	Agent    AgentRunner
	Registry ToolCatalog
	Ingestor Ingestor
	Embedder QueryEmbedder
	Vectors  Searcher
	History  store.Store

	Auth           func(http.Handler) http.Handler
	Observability  func(http.Handler) http.Handler
	MetricsHandler http.Handler

	// Readiness gates /readyz; nil means always ready.
	Readiness func(ctx context.Context) error

	DefaultCollection string
	Logger            *slog.Logger
}

// Server serves the HTTP API.
type Server struct {
	cfg  config.ServerConfig
	deps Deps
	log  *slog.Logger
	http *http.Server
}

// New builds the server and its route tree.
func New(cfg config.ServerConfig, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.History == nil {
		deps.History = store.Noop{}
	}

	s := &Server{
		cfg:  cfg,
		deps: deps,
		log:  deps.Logger,
	}
	s.http = &http.Server{
		Addr:        cfg.Address(),
		Handler:     s.routes(),
		ReadTimeout: cfg.ReadTimeout,
		IdleTimeout: cfg.IdleTimeout,
		// WriteTimeout stays zero: chat responses stream indefinitely.
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if s.deps.Observability != nil {
		r.Use(s.deps.Observability)
	}
	r.Use(corsMiddleware(s.cfg.CORS))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	if s.deps.MetricsHandler != nil {
		r.Handle("/metrics", s.deps.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		if s.deps.Auth != nil {
			r.Use(s.deps.Auth)
		}
		if s.cfg.RateLimit.IsEnabled() {
			r.Use(newRateLimiter(s.cfg.RateLimit).middleware)
		}

		r.Post("/chat", s.handleChat)
		r.Post("/ingest", s.handleIngest)
		r.Post("/search", s.handleSearch)
		r.Get("/tools", s.handleToolList)
		r.Post("/tools/refresh", s.handleToolRefresh)
		r.Get("/sessions", s.handleSessionList)
		r.Get("/sessions/{id}/messages", s.handleSessionMessages)
	})

	return r
}

// Handler exposes the route tree for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start).Round(time.Millisecond),
			"remote", r.RemoteAddr)
	})
}

func corsMiddleware(cfg *config.CORSConfig) func(http.Handler) http.Handler {
	allowed := func(origin string) bool {
		if cfg == nil {
			return false
		}
		for _, o := range cfg.AllowedOrigins {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && allowed(origin) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				if cfg != nil {
					h.Set("Access-Control-Allow-Methods", joinComma(cfg.AllowedMethods))
					h.Set("Access-Control-Allow-Headers", joinComma(cfg.AllowedHeaders))
				}
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func joinComma(items []string) string {
	out := ""
	for i, item := range items {
		if i > 0 {
			out += ", "
		}
		out += item
	}
	return out
}
