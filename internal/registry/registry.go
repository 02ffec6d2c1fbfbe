// Package registry implements the Tool Registry: a single non-recursive
// startup scan of a directory for `.luau` tool scripts, keyed by file
// stem. It is read-only after construction and shared by immutable
// reference with the MCP Server Facade.
package registry

import (
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

// Tool is a filesystem-sourced description of a discovered tool script.
// Created once at startup, never mutated afterwards.
type Tool struct {
	Name        string
	FilePath    string
	ContentHash string // blake3 hash, hex-encoded; diagnostics only.
}

// Registry is the read-only name->tool mapping produced by Discover.
type Registry struct {
	tools map[string]Tool
}

// Discover scans dir non-recursively for regular files with a `.luau`
// extension, keyed by file stem. A missing or unreadable directory
// degrades to an empty registry plus a warning; it is never fatal,
// matching the plugin-side assumption that Studio may not have the
// Tools folder populated yet.
func Discover(dir string, logger *slog.Logger) *Registry {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("tool registry directory unreadable, starting empty", "dir", dir, "error", err)
		return &Registry{tools: map[string]Tool{}}
	}

	tools := make(map[string]Tool, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.ToLower(filepath.Ext(e.Name())) != ".luau" {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		path := filepath.Join(dir, e.Name())

		hash := ""
		if b, err := os.ReadFile(path); err == nil {
			sum := blake3.Sum256(b)
			hash = hex.EncodeToString(sum[:])
		} else {
			logger.Warn("could not hash discovered tool", "file", path, "error", err)
		}

		tools[stem] = Tool{Name: stem, FilePath: path, ContentHash: hash}
	}

	return &Registry{tools: tools}
}

// Get looks up a discovered tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the discovered tool names in sorted order, used for
// capability advertisement in the MCP Server Facade.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// All returns every discovered tool sorted by name, for the doctor
// diagnostics command.
func (r *Registry) All() []Tool {
	all := make([]Tool, 0, len(r.tools))
	for _, name := range r.Names() {
		all = append(all, r.tools[name])
	}
	return all
}
