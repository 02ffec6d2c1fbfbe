// Package doctor implements the read-only diagnostics command: it
// never starts the broker or mutates state, only reports on the tools
// directory, port availability, and the installer's resolved config
// targets.
package doctor

import (
	"log/slog"
	"net"

	"github.com/mattjoyce/rbxstudio-mcp-broker/internal/config"
	"github.com/mattjoyce/rbxstudio-mcp-broker/internal/installer"
	"github.com/mattjoyce/rbxstudio-mcp-broker/internal/registry"
)

// ToolReport summarizes one discovered tool for diagnostics output.
type ToolReport struct {
	Name        string `json:"name"`
	FilePath    string `json:"file_path"`
	ContentHash string `json:"content_hash"`
}

// Result holds the outcome of a diagnostics run.
type Result struct {
	ToolsDir       string             `json:"tools_dir"`
	DiscoveredN    int                `json:"discovered_tools"`
	Tools          []ToolReport       `json:"tools"`
	Addr           string             `json:"addr"`
	PortAvailable  bool               `json:"port_available"`
	InstallTargets []installer.Target `json:"install_targets"`
}

// Run performs every check and returns the combined result. It never
// mutates configuration or starts the HTTP listener; it only probes
// whether the port is free by briefly binding and releasing it.
func Run(cfg config.Config, logger *slog.Logger) Result {
	reg := registry.Discover(cfg.ToolsDir, logger)
	all := reg.All()

	result := Result{
		ToolsDir:       cfg.ToolsDir,
		DiscoveredN:    len(all),
		Addr:           cfg.Addr,
		PortAvailable:  portFree(cfg.Addr),
		InstallTargets: installer.ConfigTargets(),
	}
	for _, t := range all {
		result.Tools = append(result.Tools, ToolReport{Name: t.Name, FilePath: t.FilePath, ContentHash: t.ContentHash})
	}
	return result
}

func portFree(addr string) bool {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}
