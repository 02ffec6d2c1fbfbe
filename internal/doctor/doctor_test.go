package doctor

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/mattjoyce/rbxstudio-mcp-broker/internal/config"
)

func TestRunReportsDiscoveredTools(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Teleport.luau"), []byte("return {}"), 0o644); err != nil {
		t.Fatalf("seed tool file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatalf("seed non-tool file: %v", err)
	}

	cfg := config.Defaults()
	cfg.ToolsDir = dir
	cfg.Addr = "127.0.0.1:0"

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	result := Run(cfg, logger)

	if result.DiscoveredN != 1 {
		t.Fatalf("expected 1 discovered tool, got %d: %+v", result.DiscoveredN, result.Tools)
	}
	if result.Tools[0].Name != "Teleport" {
		t.Fatalf("expected tool name Teleport, got %q", result.Tools[0].Name)
	}
	if result.Tools[0].ContentHash == "" {
		t.Fatal("expected a content hash to be recorded")
	}
}

func TestRunDegradesToEmptyOnMissingDir(t *testing.T) {
	cfg := config.Defaults()
	cfg.ToolsDir = "/does/not/exist/at/all"
	cfg.Addr = "127.0.0.1:0"

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	result := Run(cfg, logger)

	if result.DiscoveredN != 0 {
		t.Fatalf("expected 0 discovered tools, got %d", result.DiscoveredN)
	}
}
