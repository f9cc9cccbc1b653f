package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/helicon-ai/helicon/pkg/config"
	"github.com/helicon-ai/helicon/pkg/model"
)

// sqlStore implements Store over database/sql for sqlite, postgres and
// mysql. Schema is created idempotently at open.
type sqlStore struct {
	db      *sql.DB
	dialect string
}

func openSQL(cfg config.StoreConfig) (*sqlStore, error) {
	db, err := sql.Open(cfg.DriverName(), cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	maxConns := cfg.MaxConns
	if cfg.Dialect() == "sqlite" {
		// sqlite serializes writers; more connections just contend.
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to %s database: %w", cfg.Dialect(), err)
	}

	s := &sqlStore{db: db, dialect: cfg.Dialect()}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// autoincrement renders the dialect's auto-incrementing primary key column.
func (s *sqlStore) autoincrement() string {
	switch s.dialect {
	case "postgres":
		return "BIGSERIAL PRIMARY KEY"
	case "mysql":
		return "BIGINT PRIMARY KEY AUTO_INCREMENT"
	default:
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
}

func (s *sqlStore) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
    id VARCHAR(64) PRIMARY KEY,
    user_id VARCHAR(255) NOT NULL,
    title TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, updated_at)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS messages (
    id %s,
    session_id VARCHAR(64) NOT NULL,
    seq INTEGER NOT NULL,
    role VARCHAR(16) NOT NULL,
    content TEXT NOT NULL,
    tool_name VARCHAR(255),
    created_at TIMESTAMP NOT NULL
)`, s.autoincrement()),
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS tool_runs (
    id %s,
    session_id VARCHAR(64) NOT NULL,
    tool VARCHAR(255) NOT NULL,
    args_json TEXT,
    error TEXT,
    latency_ms BIGINT NOT NULL,
    started_at TIMESTAMP NOT NULL
)`, s.autoincrement()),
		`CREATE INDEX IF NOT EXISTS idx_tool_runs_session ON tool_runs(session_id)`,
		`CREATE TABLE IF NOT EXISTS ingestion_runs (
    id VARCHAR(64) PRIMARY KEY,
    user_id VARCHAR(255) NOT NULL,
    root TEXT NOT NULL,
    total_files INTEGER NOT NULL,
    total_chunks INTEGER NOT NULL,
    errors TEXT,
    status VARCHAR(16) NOT NULL,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL
)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS ingestion_files (
    id %s,
    run_id VARCHAR(64) NOT NULL,
    path TEXT NOT NULL,
    uri TEXT NOT NULL,
    mime VARCHAR(255),
    chunks INTEGER NOT NULL,
    size_bytes BIGINT NOT NULL,
    error TEXT
)`, s.autoincrement()),
		`CREATE INDEX IF NOT EXISTS idx_ingestion_files_run ON ingestion_files(run_id)`,
		`CREATE TABLE IF NOT EXISTS documents (
    user_id VARCHAR(255) NOT NULL,
    path_hash VARCHAR(64) NOT NULL,
    uri TEXT NOT NULL,
    mime VARCHAR(255),
    chunks INTEGER NOT NULL,
    collection VARCHAR(255) NOT NULL,
    ingested_at TIMESTAMP NOT NULL,
    PRIMARY KEY (user_id, path_hash)
)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS tool_catalogs (
    id %s,
    server_id VARCHAR(255) NOT NULL,
    qualified_name VARCHAR(255) NOT NULL,
    exposed_name VARCHAR(255) NOT NULL,
    description TEXT,
    recorded_at TIMESTAMP NOT NULL
)`, s.autoincrement()),
		`CREATE INDEX IF NOT EXISTS idx_tool_catalogs_server ON tool_catalogs(server_id)`,
	}

	// mysql has no CREATE INDEX IF NOT EXISTS; index errors there are
	// expected on re-open and ignored.
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if s.dialect == "mysql" && strings.HasPrefix(strings.TrimSpace(stmt), "CREATE INDEX") {
				continue
			}
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $N for postgres.
func (s *sqlStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) EnsureSession(ctx context.Context, id, userID string) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()

	existing, err := s.GetSession(ctx, id, userID)
	if err == nil {
		_, err = s.db.ExecContext(ctx,
			s.rebind(`UPDATE sessions SET updated_at = ? WHERE id = ? AND user_id = ?`),
			now, id, userID)
		if err != nil {
			return nil, fmt.Errorf("touch session: %w", err)
		}
		existing.UpdatedAt = now
		return existing, nil
	}
	if err != ErrSessionNotFound {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO sessions (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`),
		id, userID, "", now, now)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &Session{ID: id, UserID: userID, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *sqlStore) GetSession(ctx context.Context, id, userID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT id, user_id, title, created_at, updated_at FROM sessions WHERE id = ? AND user_id = ?`),
		id, userID)

	var sess Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

func (s *sqlStore) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT id, user_id, title, created_at, updated_at FROM sessions WHERE user_id = ? ORDER BY updated_at DESC`),
		userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *sqlStore) AppendMessages(ctx context.Context, sessionID string, messages []model.ChatMessage) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var next int
	row := tx.QueryRowContext(ctx,
		s.rebind(`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE session_id = ?`), sessionID)
	if err := row.Scan(&next); err != nil {
		return fmt.Errorf("max seq: %w", err)
	}

	now := time.Now().UTC()
	for _, msg := range messages {
		next++
		_, err := tx.ExecContext(ctx,
			s.rebind(`INSERT INTO messages (session_id, seq, role, content, tool_name, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
			sessionID, next, string(msg.Role), msg.Content, msg.ToolName, now)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return tx.Commit()
}

func (s *sqlStore) ListMessages(ctx context.Context, sessionID, userID string) ([]Message, error) {
	if _, err := s.GetSession(ctx, sessionID, userID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT session_id, seq, role, content, COALESCE(tool_name, ''), created_at FROM messages WHERE session_id = ? ORDER BY seq`),
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.SessionID, &m.Seq, &m.Role, &m.Content, &m.ToolName, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *sqlStore) RecordToolRuns(ctx context.Context, runs []ToolRun) error {
	if len(runs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, run := range runs {
		_, err := tx.ExecContext(ctx,
			s.rebind(`INSERT INTO tool_runs (session_id, tool, args_json, error, latency_ms, started_at) VALUES (?, ?, ?, ?, ?, ?)`),
			run.SessionID, run.Tool, run.ArgsJSON, run.Error, run.LatencyMS, run.StartedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert tool run: %w", err)
		}
	}
	return tx.Commit()
}

func (s *sqlStore) RecordIngestion(ctx context.Context, run IngestionRun, files []IngestionFile, docs []Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	_, err = tx.ExecContext(ctx,
		s.rebind(`INSERT INTO ingestion_runs (id, user_id, root, total_files, total_chunks, errors, status, started_at, finished_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		run.ID, run.UserID, run.Root, run.TotalFiles, run.TotalChunks,
		strings.Join(run.Errors, "\n"), run.Status, run.StartedAt.UTC(), run.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert ingestion run: %w", err)
	}

	for _, f := range files {
		_, err := tx.ExecContext(ctx,
			s.rebind(`INSERT INTO ingestion_files (run_id, path, uri, mime, chunks, size_bytes, error) VALUES (?, ?, ?, ?, ?, ?, ?)`),
			run.ID, f.Path, f.URI, f.MIME, f.Chunks, f.SizeBytes, f.Error)
		if err != nil {
			return fmt.Errorf("insert ingestion file: %w", err)
		}
	}

	for _, doc := range docs {
		// Replace the per-user document row on re-ingestion.
		_, err := tx.ExecContext(ctx,
			s.rebind(`DELETE FROM documents WHERE user_id = ? AND path_hash = ?`),
			doc.UserID, doc.PathHash)
		if err != nil {
			return fmt.Errorf("replace document: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			s.rebind(`INSERT INTO documents (user_id, path_hash, uri, mime, chunks, collection, ingested_at) VALUES (?, ?, ?, ?, ?, ?, ?)`),
			doc.UserID, doc.PathHash, doc.URI, doc.MIME, doc.Chunks, doc.Collection, doc.IngestedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
	}
	return tx.Commit()
}

func (s *sqlStore) RecordToolCatalog(ctx context.Context, serverID string, tools []CatalogTool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		s.rebind(`DELETE FROM tool_catalogs WHERE server_id = ?`), serverID); err != nil {
		return fmt.Errorf("clear catalog: %w", err)
	}

	now := time.Now().UTC()
	for _, tool := range tools {
		_, err := tx.ExecContext(ctx,
			s.rebind(`INSERT INTO tool_catalogs (server_id, qualified_name, exposed_name, description, recorded_at) VALUES (?, ?, ?, ?, ?)`),
			serverID, tool.QualifiedName, tool.ExposedName, tool.Description, now)
		if err != nil {
			return fmt.Errorf("insert catalog tool: %w", err)
		}
	}
	return tx.Commit()
}

func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}
