// Package audit implements the optional audit sink: a write-only
// SQLite record of broker lifecycle events, subscribed to the same
// events.Hub the /events route serves. It is never read by the state
// manager or the dispatcher and never gates correctness. Its only
// purpose is letting an operator answer "what happened to task X"
// after the fact, including for stale submissions the in-memory state
// manager has already forgotten.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mattjoyce/rbxstudio-mcp-broker/internal/events"
)

// Sink subscribes to a Hub and appends every event to a SQLite table.
type Sink struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates (if needed) the SQLite database at path and its schema.
// The broker's queue itself stays purely in-memory; this database only
// ever holds the append-only event log.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("audit db path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := db.ExecContext(pctx, `CREATE TABLE IF NOT EXISTS broker_events (
  id         INTEGER PRIMARY KEY,
  event_type TEXT NOT NULL,
  occurred_at TEXT NOT NULL,
  payload    JSON NOT NULL
);`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap audit schema: %w", err)
	}

	return db, nil
}

// New wraps an already-open database as a Sink.
func New(db *sql.DB, logger *slog.Logger) *Sink {
	return &Sink{db: db, logger: logger}
}

// Run subscribes to hub and appends every event until ctx is cancelled.
// Writes are best-effort: a failed insert is logged and the sink keeps
// draining, since the audit log is diagnostic, never authoritative.
func (s *Sink) Run(ctx context.Context, hub *events.Hub) {
	ch, cancel := hub.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.record(ctx, ev)
		}
	}
}

func (s *Sink) record(ctx context.Context, ev events.Event) {
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(wctx,
		`INSERT INTO broker_events (id, event_type, occurred_at, payload) VALUES (?, ?, ?, ?)`,
		ev.ID, ev.Type, ev.At.Format(time.RFC3339Nano), string(ev.Data),
	)
	if err != nil {
		s.logger.Warn("audit sink write failed", "event_id", ev.ID, "event_type", ev.Type, "error", err)
	}
}

// Close releases the underlying database handle.
func (s *Sink) Close() error {
	return s.db.Close()
}
