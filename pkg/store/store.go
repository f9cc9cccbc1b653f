// Package store persists sessions, conversation history, tool runs and
// ingestion records to a relational database. The core never depends on
// this data being present: with no driver configured a Noop store stands
// in and the process runs stateless.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/helicon-ai/helicon/pkg/config"
	"github.com/helicon-ai/helicon/pkg/model"
)

// ErrSessionNotFound is returned when a session id does not exist or
// belongs to another user.
var ErrSessionNotFound = errors.New("session not found")

// Session is one conversation owned by a user.
type Session struct {
	ID        string
	UserID    string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one persisted chat message.
type Message struct {
	SessionID string
	Seq       int
	Role      string
	Content   string
	ToolName  string
	CreatedAt time.Time
}

// ToolRun records one executed tool call.
type ToolRun struct {
	SessionID string
	Tool      string
	ArgsJSON  string
	Error     string
	LatencyMS int64
	StartedAt time.Time
}

// IngestionRun summarizes one ingestion invocation.
type IngestionRun struct {
	ID          string
	UserID      string
	Root        string
	TotalFiles  int
	TotalChunks int
	Errors      []string
	Status      string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// IngestionFile is one processed file within a run.
type IngestionFile struct {
	RunID     string
	Path      string
	URI       string
	MIME      string
	Chunks    int
	SizeBytes int64
	Error     string
}

// Document identifies an ingested document per user. The (UserID, PathHash)
// pair is unique; re-ingesting replaces the row.
type Document struct {
	UserID     string
	PathHash   string
	URI        string
	MIME       string
	Chunks     int
	Collection string
	IngestedAt time.Time
}

// CatalogTool is one discovered tool, recorded per refresh cycle.
type CatalogTool struct {
	ServerID      string
	QualifiedName string
	ExposedName   string
	Description   string
}

// Store is the persistence surface used by the server, the agent runner and
// the ingestion pipeline. Implementations must be safe for concurrent use.
type Store interface {
	// EnsureSession creates the session if missing and bumps updated_at.
	EnsureSession(ctx context.Context, id, userID string) (*Session, error)

	// GetSession returns the session, scoped to the user.
	GetSession(ctx context.Context, id, userID string) (*Session, error)

	// ListSessions returns the user's sessions, most recently updated first.
	ListSessions(ctx context.Context, userID string) ([]Session, error)

	// AppendMessages appends chat messages to a session in order.
	AppendMessages(ctx context.Context, sessionID string, messages []model.ChatMessage) error

	// ListMessages returns a session's messages in sequence order, scoped
	// to the user.
	ListMessages(ctx context.Context, sessionID, userID string) ([]Message, error)

	// RecordToolRuns persists the tool executions of one agent run.
	RecordToolRuns(ctx context.Context, runs []ToolRun) error

	// RecordIngestion persists a run summary with its per-file rows and
	// upserts the document index.
	RecordIngestion(ctx context.Context, run IngestionRun, files []IngestionFile, docs []Document) error

	// RecordToolCatalog replaces the recorded catalog of one server.
	RecordToolCatalog(ctx context.Context, serverID string, tools []CatalogTool) error

	// Ping probes connectivity.
	Ping(ctx context.Context) error

	Close() error
}

// New opens the configured store, or a Noop store when persistence is
// disabled.
func New(cfg config.StoreConfig) (Store, error) {
	if !cfg.Enabled() {
		return Noop{}, nil
	}
	return openSQL(cfg)
}

// Noop discards all writes and reports nothing found. It stands in when no
// database is configured.
type Noop struct{}

func (Noop) EnsureSession(ctx context.Context, id, userID string) (*Session, error) {
	now := time.Now().UTC()
	return &Session{ID: id, UserID: userID, CreatedAt: now, UpdatedAt: now}, nil
}

func (Noop) GetSession(context.Context, string, string) (*Session, error) {
	return nil, ErrSessionNotFound
}

func (Noop) ListSessions(context.Context, string) ([]Session, error) { return []Session{}, nil }

func (Noop) AppendMessages(context.Context, string, []model.ChatMessage) error { return nil }

func (Noop) ListMessages(context.Context, string, string) ([]Message, error) {
	return nil, ErrSessionNotFound
}

func (Noop) RecordToolRuns(context.Context, []ToolRun) error { return nil }

func (Noop) RecordIngestion(context.Context, IngestionRun, []IngestionFile, []Document) error {
	return nil
}

func (Noop) RecordToolCatalog(context.Context, string, []CatalogTool) error { return nil }

func (Noop) Ping(context.Context) error { return nil }

func (Noop) Close() error { return nil }
