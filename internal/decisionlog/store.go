// Package decisionlog persists one row per plugin chain run so policy
// decisions can be audited after the fact. Writes are best-effort; the
// gateway never fails a request because its audit trail is unavailable.
package decisionlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Entry records the outcome of one chain execution.
type Entry struct {
	RequestID     string
	Hook          string
	Subject       string // tool/prompt name or resource URI
	Outcome       string // "allow" or "block"
	PluginName    string // the blocking plugin, when Outcome is "block"
	ViolationCode string
	DurationMS    int64
	CreatedAt     time.Time
}

// Writer persists decision entries.
type Writer interface {
	Write(ctx context.Context, entry Entry) error
}

// NoopWriter ignores all writes.
type NoopWriter struct{}

// Write implements Writer.
func (NoopWriter) Write(_ context.Context, _ Entry) error { return nil }

// SQLWriter persists entries to SQLite or Postgres.
type SQLWriter struct {
	db      *sql.DB
	dialect string
}

// NewSQLiteWriter opens (or creates) a SQLite decision log at dsn.
func NewSQLiteWriter(dsn string) (*SQLWriter, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "mcpgate-decisions.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite decision log: %w", err)
	}
	w := &SQLWriter{db: db, dialect: "sqlite"}
	if err := w.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

// NewPostgresWriter opens a Postgres decision log at dsn.
func NewPostgresWriter(dsn string) (*SQLWriter, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres decision log: %w", err)
	}
	w := &SQLWriter{db: db, dialect: "postgres"}
	if err := w.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *SQLWriter) init() error {
	const schema = `CREATE TABLE IF NOT EXISTS decision_log (
		request_id     TEXT NOT NULL,
		hook           TEXT NOT NULL,
		subject        TEXT NOT NULL,
		outcome        TEXT NOT NULL,
		plugin_name    TEXT NOT NULL DEFAULT '',
		violation_code TEXT NOT NULL DEFAULT '',
		duration_ms    INTEGER NOT NULL DEFAULT 0,
		created_at     TIMESTAMP NOT NULL
	)`
	if _, err := w.db.Exec(schema); err != nil {
		return fmt.Errorf("create decision_log table: %w", err)
	}
	return nil
}

// Write implements Writer.
func (w *SQLWriter) Write(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO decision_log
		(request_id, hook, subject, outcome, plugin_name, violation_code, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if w.dialect == "postgres" {
		query = `INSERT INTO decision_log
		(request_id, hook, subject, outcome, plugin_name, violation_code, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	}
	_, err := w.db.ExecContext(ctx, query,
		entry.RequestID, entry.Hook, entry.Subject, entry.Outcome,
		entry.PluginName, entry.ViolationCode, entry.DurationMS, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("write decision log entry: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (w *SQLWriter) Close() error { return w.db.Close() }
