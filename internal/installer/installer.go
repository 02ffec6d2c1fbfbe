// Package installer implements the one-shot installer mode: copying
// the bundled Roblox Studio plugin artifact into its platform plugin
// directory and editing the Claude/Cursor JSON configs to register
// this broker as an MCP server.
package installer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// PluginArtifactName is the filename the installer writes into the
// Roblox Studio plugins directory.
const PluginArtifactName = "MCPStudioPlugin.rbxm"

// Target names one JSON config file the installer may edit.
type Target struct {
	Name string // "Claude" or "Cursor"
	Path string
}

// Installer performs the filesystem and JSON-editing steps of the
// one-shot install.
type Installer struct {
	// ExePath is the path recorded as "command" in each edited config;
	// defaults to os.Executable() when empty.
	ExePath string
	// PluginBytes is the embedded plugin artifact; if empty, the plugin
	// copy step is skipped with a warning rather than failing the whole
	// install, since a missing embed shouldn't block config wiring.
	PluginBytes []byte
}

// Report summarizes what the installer did.
type Report struct {
	PluginInstalledTo string
	PluginSkipped     bool
	Configured        []string // names of successfully configured clients
	Errors            []string // names + reasons for clients that failed
}

// Run performs the full installer flow: copy the plugin artifact (best
// effort), then edit each config target, succeeding overall if at
// least one target was configured.
func (i *Installer) Run(pluginsDir string) (Report, error) {
	var report Report

	if pluginsDir == "" || len(i.PluginBytes) == 0 {
		report.PluginSkipped = true
	} else if err := i.installPlugin(pluginsDir, &report); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("plugin artifact: %s", err))
	}

	exePath := i.ExePath
	if exePath == "" {
		resolved, err := os.Executable()
		if err != nil {
			return report, fmt.Errorf("resolve executable path: %w", err)
		}
		exePath = resolved
	}

	for _, target := range ConfigTargets() {
		if err := writeMCPConfig(target.Path, exePath); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", target.Name, err))
			continue
		}
		report.Configured = append(report.Configured, target.Name)
	}

	if len(report.Configured) == 0 {
		return report, fmt.Errorf("failed to configure integration for either Claude or Cursor: %v", report.Errors)
	}
	return report, nil
}

func (i *Installer) installPlugin(pluginsDir string, report *Report) error {
	if err := os.MkdirAll(pluginsDir, 0o755); err != nil {
		return fmt.Errorf("create plugins directory: %w", err)
	}
	path := filepath.Join(pluginsDir, PluginArtifactName)
	if err := os.WriteFile(path, i.PluginBytes, 0o644); err != nil {
		return fmt.Errorf("write plugin artifact: %w", err)
	}
	report.PluginInstalledTo = path
	return nil
}

// PluginsDir resolves the Roblox Studio plugins directory for the
// current OS: %LOCALAPPDATA%\Roblox\Plugins on Windows,
// ~/Documents/Roblox/Plugins on macOS.
func PluginsDir() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home := os.Getenv("HOME")
		if home == "" {
			return "", errors.New("HOME is not set")
		}
		return filepath.Join(home, "Documents", "Roblox", "Plugins"), nil
	case "windows":
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			return "", errors.New("LOCALAPPDATA is not set")
		}
		return filepath.Join(localAppData, "Roblox", "Plugins"), nil
	default:
		return "", errors.New("unsupported operating system for Roblox Studio plugins")
	}
}

// ConfigTargets resolves the Claude and Cursor config paths for the
// current OS, including the HOME/USERPROFILE/APPDATA fallback chain.
func ConfigTargets() []Target {
	var targets []Target
	if p, err := claudeConfigPath(); err == nil {
		targets = append(targets, Target{Name: "Claude", Path: p})
	}
	if p, err := cursorConfigPath(); err == nil {
		targets = append(targets, Target{Name: "Cursor", Path: p})
	}
	return targets
}

func claudeConfigPath() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home := os.Getenv("HOME")
		if home == "" {
			return "", errors.New("HOME is not set")
		}
		return filepath.Join(home, "Library", "Application Support", "Claude", "claude_desktop_config.json"), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", errors.New("APPDATA is not set")
		}
		return filepath.Join(appData, "Claude", "claude_desktop_config.json"), nil
	default:
		return "", errors.New("unsupported operating system for Claude config")
	}
}

func cursorConfigPath() (string, error) {
	home := os.Getenv("HOME")
	if home == "" {
		home = os.Getenv("USERPROFILE")
	}
	if home == "" {
		return "", errors.New("neither HOME nor USERPROFILE is set")
	}
	return filepath.Join(home, ".cursor", "mcp.json"), nil
}

// writeMCPConfig ensures configPath exists, parses it as JSON, sets
// mcpServers."Roblox Studio" = {command, args: ["--stdio"]}, and writes
// it back pretty-printed.
func writeMCPConfig(configPath, exePath string) error {
	if dir := filepath.Dir(configPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create parent directory: %w", err)
		}
	}

	doc := map[string]any{}
	if b, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(b, &doc); err != nil {
			return fmt.Errorf("parse existing config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read existing config: %w", err)
	}

	servers, ok := doc["mcpServers"].(map[string]any)
	if !ok {
		servers = map[string]any{}
	}
	servers["Roblox Studio"] = map[string]any{
		"command": exePath,
		"args":    []string{"--stdio"},
	}
	doc["mcpServers"] = servers

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(configPath, out, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Message renders the human-readable report. No platform dialog boxes;
// every platform gets this on stdout instead.
func (r Report) Message() string {
	msg := "Roblox Studio MCP is ready to go for integration with configured AI clients.\n" +
		"Please restart Studio and any MCP clients (like Claude/Cursor) to apply the changes.\n\n" +
		"MCP clients successfully configured:\n"
	for _, name := range r.Configured {
		msg += "  - " + name + "\n"
	}
	if r.PluginInstalledTo != "" {
		msg += "\nPlugin installed to " + r.PluginInstalledTo + "\n"
	}
	if r.PluginSkipped {
		msg += "\nNote: no embedded plugin artifact was found; the plugin copy step was skipped.\n"
	}
	msg += "\nNote: connecting a third-party LLM to Roblox Studio via an MCP server will share your data with that external service provider. " +
		"Please review their privacy practices carefully before proceeding.\n" +
		"To uninstall, delete " + PluginArtifactName + " from your Plugins directory and remove entries from client configurations."
	return msg
}
