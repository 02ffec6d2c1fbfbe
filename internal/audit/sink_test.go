package audit

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattjoyce/rbxstudio-mcp-broker/internal/events"
)

func TestSinkRecordsPublishedEvents(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "audit.db")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sink := New(db, logger)

	hub := events.NewHub(16)
	runCtx, runCancel := context.WithCancel(context.Background())
	go sink.Run(runCtx, hub)
	defer runCancel()
	time.Sleep(50 * time.Millisecond) // let the sink subscribe before publishing

	hub.Publish(events.TypeTaskQueued, events.TaskEvent{TaskID: "abc-123"})

	deadline := time.Now().Add(2 * time.Second)
	var count int
	for time.Now().Before(deadline) {
		row := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM broker_events WHERE event_type = ?", events.TypeTaskQueued)
		if err := row.Scan(&count); err != nil {
			t.Fatalf("scan: %v", err)
		}
		if count > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if count == 0 {
		t.Fatal("expected audit sink to record the published event")
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
