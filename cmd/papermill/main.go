package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattwade/papermill/internal/admission"
	"github.com/mattwade/papermill/internal/api"
	"github.com/mattwade/papermill/internal/config"
	"github.com/mattwade/papermill/internal/dispatch"
	"github.com/mattwade/papermill/internal/engine"
	"github.com/mattwade/papermill/internal/history"
	"github.com/mattwade/papermill/internal/log"
	"github.com/mattwade/papermill/internal/storage"
	"github.com/mattwade/papermill/internal/tui"
	"github.com/mattwade/papermill/internal/workspace"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "serve":
		return runServe(args)
	case "convert":
		return runConvert(args)
	case "formats":
		return runFormats(args)
	case "config":
		return runConfigNoun(args)
	case "watch":
		return runWatch(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Print(`papermill - Document conversion service backed by LibreOffice

Usage:
  papermill <command> [flags]

Commands:
  serve             Run the conversion service in foreground
  convert           Convert a single document and exit
  formats           List supported conversion pairs
  config check      Validate configuration syntax and integrity
  config lock       Authorize current config state (update integrity hashes)
  watch             Real-time conversion monitoring TUI
  version           Show version information
  help              Show this help message

Use 'papermill <command> --help' for command-specific flags.
`)
}

type versionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	info := versionInfo{Version: strings.TrimSpace(version), Commit: strings.TrimSpace(gitCommit)}
	if info.Commit == "" || info.Commit == "unknown" {
		if rev := readBuildSetting("vcs.revision"); rev != "" {
			info.Commit = rev
		}
	}
	if len(info.Commit) > 12 {
		info.Commit = info.Commit[:12]
	}

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("papermill %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	return 0
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

// discoverConfigPath returns the first config location that exists:
// $PAPERMILL_CONFIG, ./config.yaml, /etc/papermill/config.yaml.
func discoverConfigPath() (string, error) {
	if env := os.Getenv("PAPERMILL_CONFIG"); env != "" {
		return env, nil
	}
	for _, p := range []string{"config.yaml", "/etc/papermill/config.yaml"} {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no config found; set --config, PAPERMILL_CONFIG, or create ./config.yaml")
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		discovered, err := discoverConfigPath()
		if err != nil {
			return nil, err
		}
		configPath = discovered
	}
	return config.Load(configPath)
}

// stack holds the wired service components shared by serve and convert.
type stack struct {
	cfg        *config.Config
	db         *sql.DB
	hist       *history.Store
	pool       *admission.Pool
	dispatcher *dispatch.Dispatcher
}

func buildStack(ctx context.Context, cfg *config.Config) (*stack, error) {
	db, err := storage.OpenSQLite(ctx, cfg.History.Path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	wsManager, err := workspace.NewFSManager(cfg.Workspace.Dir)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize workspace manager: %w", err)
	}

	resolver := engine.NewResolver(engine.ResolverOptions{
		ConfiguredPath: cfg.Engine.ExecutablePath,
	})
	runner := engine.NewRunner(resolver, wsManager, cfg.Engine.Timeout)
	pool := admission.NewPool(cfg.Engine.MaxConcurrency)
	hist := history.New(db)

	return &stack{
		cfg:        cfg,
		db:         db,
		hist:       hist,
		pool:       pool,
		dispatcher: dispatch.New(runner, pool, hist),
	}, nil
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("papermill starting", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := buildStack(ctx, cfg)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer st.db.Close()
	logger.Info("history database opened", "path", cfg.History.Path)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)

	go runCleanupLoop(ctx, cfg)

	if cfg.API.Enabled {
		apiServer := api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.APIKey,
		}, st.dispatcher, st.hist, st.pool, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	} else {
		logger.Warn("API server disabled; only one-shot conversions are available")
	}

	logger.Info("papermill running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("papermill stopped")
	return 0
}

// runCleanupLoop periodically removes abandoned operation directories.
func runCleanupLoop(ctx context.Context, cfg *config.Config) {
	logger := log.WithComponent("cleanup")

	wsManager, err := workspace.NewFSManager(cfg.Workspace.Dir)
	if err != nil {
		logger.Error("cleanup loop unavailable", "error", err)
		return
	}

	interval := cfg.Workspace.Retention / 2
	if interval < time.Minute {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := wsManager.Cleanup(ctx, cfg.Workspace.Retention)
			if err != nil {
				logger.Warn("workspace cleanup failed", "error", err)
				continue
			}
			if report.DeletedDirs > 0 {
				logger.Info("workspace cleanup complete", "deleted", report.DeletedDirs)
			}
		}
	}
}

func runConvert(args []string) int {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	fromFormat := fs.String("from", "", "Input format (default: inferred from input extension)")
	toFormat := fs.String("to", "", "Output format (default: inferred from output extension)")
	jsonOut := fs.Bool("json", false, "Print the full result as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "Usage: papermill convert [flags] <input> <output>")
		return 1
	}

	inputPath, err := filepath.Abs(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid input path: %v\n", err)
		return 1
	}
	outputPath, err := filepath.Abs(fs.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid output path: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)

	in := *fromFormat
	if in == "" {
		in = extFormat(inputPath)
	}
	out := *toFormat
	if out == "" {
		out = extFormat(outputPath)
	}
	if in == "" || out == "" {
		fmt.Fprintln(os.Stderr, "Formats could not be inferred; use --from and --to")
		return 1
	}

	ctx := context.Background()
	st, err := buildStack(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Startup failed: %v\n", err)
		return 1
	}
	defer st.db.Close()

	res := st.dispatcher.Convert(ctx, in, out, inputPath, outputPath)

	if *jsonOut {
		data, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(data))
	} else if res.Success {
		fmt.Printf("Converted %s -> %s (%s, %dms)\n", inputPath, res.OutputPath, res.Method, res.ElapsedMs)
	} else {
		fmt.Fprintf(os.Stderr, "Conversion failed (%s): %s\n", res.Kind, res.Error)
	}

	if !res.Success {
		return 1
	}
	return 0
}

func runFormats(args []string) int {
	fs := flag.NewFlagSet("formats", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "Output pairs as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	// Pair registration is static; no engine or storage needed.
	d := dispatch.New(nil, admission.NewPool(1), nil)
	pairs := d.Pairs()

	if *jsonOut {
		data, _ := json.MarshalIndent(pairs, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	for _, p := range pairs {
		fmt.Println(strings.Replace(p, "-", " -> ", 1))
	}
	return 0
}

func runConfigNoun(args []string) int {
	if len(args) < 1 || args[0] == "help" || args[0] == "--help" || args[0] == "-h" {
		fmt.Println("Usage: papermill config <action> [flags]")
		fmt.Println()
		fmt.Println("Actions:")
		fmt.Println("  check   Validate configuration syntax and integrity")
		fmt.Println("  lock    Authorize current config state (update integrity hashes)")
		if len(args) < 1 {
			return 1
		}
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		return runConfigCheck(actionArgs)
	case "lock":
		return runConfigLock(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("config check", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config check failed: %v\n", err)
		return 1
	}

	fmt.Printf("Config OK: service=%s max_concurrency=%d timeout=%s\n",
		cfg.Service.Name, cfg.Engine.MaxConcurrency, cfg.Engine.Timeout)
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("config lock", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	path := *configPath
	if path == "" {
		discovered, err := discoverConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		path = discovered
	}

	if err := config.Lock(path); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}

	fmt.Println("Successfully locked configuration")
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api-url", "http://localhost:8090", "Service API URL")
	apiKey := fs.String("api-key", os.Getenv("PAPERMILL_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or PAPERMILL_API_KEY env var.")
		return 1
	}

	m := tui.NewMonitor(*apiURL, *apiKey)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func extFormat(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}
