// Command mcp-broker is the composition root: it wires the tool
// registry, state manager, dispatcher, HTTP long-poll/admin endpoint,
// and MCP stdio facade together. --stdio selects broker mode, watch
// and doctor are subcommands, and running with neither runs the
// one-shot installer.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/rbxstudio-mcp-broker/internal/audit"
	"github.com/mattjoyce/rbxstudio-mcp-broker/internal/broker"
	"github.com/mattjoyce/rbxstudio-mcp-broker/internal/config"
	"github.com/mattjoyce/rbxstudio-mcp-broker/internal/doctor"
	"github.com/mattjoyce/rbxstudio-mcp-broker/internal/events"
	"github.com/mattjoyce/rbxstudio-mcp-broker/internal/httpapi"
	"github.com/mattjoyce/rbxstudio-mcp-broker/internal/installer"
	"github.com/mattjoyce/rbxstudio-mcp-broker/internal/lock"
	applog "github.com/mattjoyce/rbxstudio-mcp-broker/internal/log"
	"github.com/mattjoyce/rbxstudio-mcp-broker/internal/mcpstdio"
	"github.com/mattjoyce/rbxstudio-mcp-broker/internal/registry"
	"github.com/mattjoyce/rbxstudio-mcp-broker/internal/watch"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) > 0 {
		switch args[0] {
		case "watch":
			return runWatch(args[1:])
		case "doctor":
			return runDoctor(args[1:])
		case "version":
			fmt.Println("mcp-broker version " + version)
			return 0
		}
	}

	fs := flag.NewFlagSet("mcp-broker", flag.ContinueOnError)
	stdioMode := fs.Bool("stdio", false, "run in broker mode, speaking MCP over stdio")
	fs.BoolVar(stdioMode, "s", false, "shorthand for --stdio")
	configPath := fs.String("config", "", "optional YAML config override file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if !*stdioMode {
		return runInstaller()
	}
	return runBroker(*configPath)
}

func loadConfig(configPath string) (config.Config, error) {
	var cfg config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg = config.Defaults()
	}
	if err != nil {
		return cfg, err
	}
	cfg.ApplyEnv()
	return cfg, cfg.Validate()
}

func runBroker(configPath string) int {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 1
	}

	applog.Setup(cfg.LogLevel)
	logger := slog.Default()

	pidLock, err := lock.AcquirePIDLock(cfg.LockPath)
	if err != nil {
		logger.Error("could not acquire single-instance lock",
			"path", cfg.LockPath, "holder_pid", lock.ReadHolderPID(cfg.LockPath), "error", err)
		return 1
	}
	defer pidLock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := events.NewHub(256)
	tools := registry.Discover(cfg.ToolsDir, logger)

	var auditSink *audit.Sink
	if cfg.AuditDBPath != "" {
		db, err := audit.Open(ctx, cfg.AuditDBPath)
		if err != nil {
			logger.Error("could not open audit sink, continuing without it", "error", err)
		} else {
			auditSink = audit.New(db, logger)
			defer auditSink.Close()
		}
	}

	mgr := broker.New(cfg.CommandChannelCapacity, hub, logger)
	handle := mgr.Handle()
	dispatcher := broker.NewDispatcher(handle, cfg.ToolExecutionTimeout, logger)

	httpSrv := httpapi.New(httpapi.Config{Addr: cfg.Addr, LongPollDuration: cfg.LongPollDuration}, handle, hub, logger)
	mcpSrv := mcpstdio.New(os.Stdin, os.Stdout, dispatcher, tools, logger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		mgr.Run(ctx)
	}()

	if auditSink != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			auditSink.Run(ctx, hub)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpSrv.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("http server exited", "error", err)
		}
	}()

	exitCode := 0
	if err := mcpSrv.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Error("mcp stdio server exited", "error", err)
		exitCode = 1
	}

	stop()
	wg.Wait()
	return exitCode
}

func runInstaller() int {
	pluginsDir, err := installer.PluginsDir()
	if err != nil {
		fmt.Fprintln(os.Stderr, "note: Roblox Studio plugins directory not resolved, skipping plugin copy:", err)
		pluginsDir = ""
	}

	i := &installer.Installer{}
	report, err := i.Run(pluginsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "installer error:", err)
		return 1
	}
	fmt.Println(report.Message())
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	url := fs.String("url", "http://127.0.0.1:44755", "base URL of a running broker")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	p := tea.NewProgram(watch.New(*url))
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "watch error:", err)
		return 1
	}
	return 0
}

func runDoctor(args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional YAML config override file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	result := doctor.Run(cfg, logger)

	fmt.Printf("Tools directory: %s (%d discovered)\n", result.ToolsDir, result.DiscoveredN)
	for _, t := range result.Tools {
		fmt.Printf("  - %-20s %s  %s\n", t.Name, t.FilePath, t.ContentHash)
	}
	fmt.Printf("Listen address: %s (free: %v)\n", result.Addr, result.PortAvailable)
	fmt.Println("Installer targets:")
	for _, target := range result.InstallTargets {
		fmt.Printf("  - %-8s %s\n", target.Name, target.Path)
	}
	return 0
}
