// Package main is the CLI entry point for Aspy — a transparent HTTP
// proxy that sits between Claude Code and the LLM provider API.
//
// Aspy intercepts every request and response, reconstructs tool
// calls, thinking blocks, and token usage from streaming and buffered
// traffic alike, tracks per-user sessions and their context-window
// usage, injects threshold-crossing warnings and compaction-prompt
// hints, and durably records everything to JSONL and SQLite while
// fanning a live copy out over a websocket — all without any change
// to how Claude Code talks to the provider.
//
// Architecture overview:
//
//	Claude Code --> Aspy Proxy (:4317) --> LLM Provider (Anthropic/OpenAI)
//	                 |                         |
//	                 +-- stream-forward --------+
//	                 |-- parse SSE/JSON into events
//	                 |-- transform request (tags, system, compaction)
//	                 |-- record: session state, JSONL, SQLite, live hub
//
// CLI commands (cobra):
//
//	aspy              - Interactive first-run setup
//	aspy start [-d]   - Start the proxy (foreground or daemon)
//	aspy stop         - Stop the proxy
//	aspy status       - Show proxy status and session summary
//	aspy sessions     - List active sessions
//	aspy config       - View/edit proxy configuration
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aspyproxy/aspy/internal/config"
	"github.com/aspyproxy/aspy/internal/events"
	"github.com/aspyproxy/aspy/internal/live"
	"github.com/aspyproxy/aspy/internal/parser"
	"github.com/aspyproxy/aspy/internal/pipeline"
	"github.com/aspyproxy/aspy/internal/proxy"
	"github.com/aspyproxy/aspy/internal/state"
	"github.com/aspyproxy/aspy/internal/storage/jsonl"
	"github.com/aspyproxy/aspy/internal/storage/sqlite"
	"github.com/aspyproxy/aspy/internal/transform"
)

// Build-time variables injected via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123 -X main.buildDate=2026-02-10"
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// defaultConfigDir returns the path to ~/.aspy/ where all runtime
// state lives: config.yaml, rules.yaml, the events/ JSONL directory,
// and aspy.db.
func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".aspy"
	}
	return filepath.Join(home, ".aspy")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// configDir is the global flag for the Aspy config/state directory.
var configDir string

var rootCmd = &cobra.Command{
	Use:   "aspy",
	Short: "Aspy — observability proxy for Claude Code",
	Long: `Aspy is a transparent HTTP proxy that sits between Claude Code and
the LLM provider API. It reconstructs tool calls, thinking blocks, and
token usage from the traffic, tracks per-user session and
context-window state, and records everything to durable storage and a
live feed.

Run 'aspy start' to start the proxy, or run 'aspy' with no arguments
for interactive first-run setup.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFirstTimeSetup(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&configDir,
		"config-dir",
		defaultConfigDir(),
		"Path to Aspy config and state directory",
	)

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(configCmd)
}

// ============================================================================
// aspy start
// ============================================================================

var daemonMode bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Aspy proxy server",
	Long: `Start the Aspy proxy server. The proxy forwards LLM API traffic to its
configured upstream, reconstructs events from it, and serves the query
API and live feed on the same port.

By default runs in the foreground. Use -d for daemon/background mode.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStart(cmd, args)
	},
}

func init() {
	startCmd.Flags().BoolVarP(&daemonMode, "daemon", "d", false, "Run proxy in daemon/background mode")
}

// runStart wires together every subsystem and starts the HTTP server:
//
//  1. Handle daemon mode (re-exec as background process if -d)
//  2. Load config.yaml
//  3. Build the parser, session/state store, and transform engine
//  4. Open the JSONL and SQLite sinks and wire them into the pipeline
//  5. Start the live-subscriber hub
//  6. Create the proxy server and the query API
//  7. Mount everything on one HTTP mux, write a PID file
//  8. Start the config/rules file watcher for hot-reload
//  9. Start a retention ticker for the SQLite sink
//  10. Block until SIGINT/SIGTERM or HTTP /shutdown, then drain
func runStart(cmd *cobra.Command, args []string) error {
	if daemonMode && os.Getenv("ASPY_DAEMONIZED") != "1" {
		return spawnDaemon()
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	p := parser.New(cfg.Parser.DispatcherModelSubstring)
	st := state.New(cfg.Session.IdleTimeout, cfg.Session.SessionTimeout)

	transformEngine, err := transform.NewEngine(expandHome(cfg.Transform.RulesPath))
	if err != nil {
		return fmt.Errorf("failed to load transform rules: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pipelineMetrics := pipeline.NewMetrics()
	pipelineMetrics.Register(registry)
	pl := pipeline.New(nil, pipelineMetrics)
	pl.Register(pipeline.CredentialRedactor{})
	pl.Register(pipeline.NewRecorderProcessor(st))

	jsonlSink, err := jsonl.New(expandHome(cfg.Storage.JSONLDir))
	if err != nil {
		return fmt.Errorf("failed to open jsonl sink: %w", err)
	}
	pl.Register(pipeline.NewSinkProcessor("jsonl", jsonlSink.Write, func() error { return nil }, 4096, nil))

	sqliteMetrics := sqlite.NewPromMetrics()
	sqliteMetrics.Register(registry)
	sqliteSink, err := sqlite.Open(expandHome(cfg.Storage.SQLitePath), sqliteMetrics, nil)
	if err != nil {
		return fmt.Errorf("failed to open sqlite sink: %w", err)
	}
	pl.Register(pipeline.NewSinkProcessor("sqlite", func(ev events.TrackedEvent) error {
		sqliteSink.Write(ev)
		return nil
	}, sqliteSink.Close, 4096, nil))

	var hub *live.Hub
	if cfg.Live.Enabled {
		hub = live.NewHub(cfg.Live.EventsPerSecond, cfg.Live.Burst, nil)
		pl.Register(pipeline.NewLiveProcessor(hub))
	}

	proxyServer := proxy.New(proxy.Options{
		Providers:  upstreamMap(cfg.Providers),
		Parser:     p,
		State:      st,
		Pipeline:   pl,
		Transform:  transformEngine,
		Thresholds: cfg.Context.Thresholds,
		Log:        nil,
	})
	api := proxy.NewAPI(proxy.APIOptions{State: st, Version: version})

	mux := http.NewServeMux()
	mux.Handle("/provider/", proxyServer)
	mux.Handle("/api/", api.Mux())
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	if hub != nil {
		mux.Handle("/live", hub)
	}

	shutdownCh := make(chan struct{}, 1)
	mux.HandleFunc("/shutdown", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		if !isLoopback(r.RemoteAddr) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"shutting_down"}`)
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout/ReadTimeout — streaming LLM responses can run
		// for minutes.
	}

	pidFile := filepath.Join(configDir, "aspy.pid")
	if err := writePIDFile(pidFile); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer removePIDFile(pidFile)

	watcher, err := config.NewWatcher(configDir, config.WatchTargets{
		OnRulesChange: func() {
			if reloadErr := transformEngine.Reload(); reloadErr != nil {
				fmt.Fprintf(os.Stderr, "[aspy] Warning: failed to reload transform rules: %v\n", reloadErr)
			} else {
				fmt.Println("[aspy] Transform rules reloaded")
			}
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start config watcher: %w", err)
	}
	defer watcher.Close()

	retentionDone := make(chan struct{})
	go runRetentionLoop(sqliteSink, cfg.Storage.RetentionTick, cfg.Storage.RetentionHrs, retentionDone)
	defer close(retentionDone)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("[aspy] Proxy listening on http://%s\n", addr)
		if !daemonMode {
			fmt.Println("[aspy] Press Ctrl+C to stop")
		}
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		fmt.Println("\n[aspy] Shutting down (signal received)...")
	case <-shutdownCh:
		fmt.Println("[aspy] Shutting down (stop command received)...")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		fmt.Fprintf(os.Stderr, "[aspy] Shutdown error: %v\n", shutdownErr)
	}
	if shutdownErr := pl.Shutdown(shutdownCtx); shutdownErr != nil {
		fmt.Fprintf(os.Stderr, "[aspy] Pipeline shutdown error: %v\n", shutdownErr)
	}

	fmt.Println("[aspy] Stopped")
	return nil
}

// runRetentionLoop periodically purges SQLite rows older than
// retentionHrs, stopping when done is closed.
func runRetentionLoop(sink *sqlite.Sink, tick time.Duration, retentionHrs int, done <-chan struct{}) {
	if retentionHrs <= 0 {
		return
	}
	if tick <= 0 {
		tick = time.Hour
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	window := time.Duration(retentionHrs) * time.Hour
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			removed, err := sink.RunRetention(ctx, window)
			cancel()
			if err != nil {
				fmt.Fprintf(os.Stderr, "[aspy] retention sweep failed: %v\n", err)
				continue
			}
			if removed > 0 {
				fmt.Printf("[aspy] retention sweep removed %s rows older than %s\n", humanize.Comma(removed), humanize.Time(time.Now().Add(-window)))
			}
		case <-done:
			return
		}
	}
}

// expandHome replaces a leading "~" with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// upstreamMap flattens the config's per-provider struct into the
// proxy's providerKey->upstream URL map.
func upstreamMap(providers map[string]config.ProviderConfig) map[string]string {
	out := make(map[string]string, len(providers))
	for k, v := range providers {
		out[k] = v.Upstream
	}
	return out
}

// spawnDaemon re-executes the aspy binary as a detached background
// process, the same pattern every daemon in this family uses: Go
// can't fork() safely since the runtime is multi-threaded, so the
// parent re-execs a child with an env var telling it not to re-exec
// again, then exits.
func spawnDaemon() error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to find executable path: %w", err)
	}

	logPath := filepath.Join(configDir, "aspy.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	daemonArgs := []string{"start"}
	if configDir != defaultConfigDir() {
		daemonArgs = append(daemonArgs, "--config-dir", configDir)
	}

	child := exec.Command(exePath, daemonArgs...)
	child.Stdout = logFile
	child.Stderr = logFile
	child.Env = append(os.Environ(), "ASPY_DAEMONIZED=1")

	if err := child.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Printf("[aspy] Proxy started in background (PID %d)\n", child.Process.Pid)
	fmt.Printf("[aspy] Log file: %s\n", logPath)
	fmt.Println("[aspy] Use 'aspy stop' to stop the proxy")

	if err := child.Process.Release(); err != nil {
		fmt.Fprintf(os.Stderr, "[aspy] Warning: failed to release child process: %v\n", err)
	}

	logFile.Close()
	return nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func removePIDFile(path string) {
	os.Remove(path)
}

// isLoopback restricts the /shutdown endpoint to local-only access.
func isLoopback(remoteAddr string) bool {
	host := remoteAddr
	if idx := strings.LastIndex(remoteAddr, ":"); idx != -1 {
		host = remoteAddr[:idx]
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	return host == "127.0.0.1" || host == "::1" || strings.HasPrefix(host, "127.")
}

// ============================================================================
// aspy stop
// ============================================================================

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running Aspy proxy",
	Long: `Stop a running Aspy proxy. Tries HTTP shutdown first (cross-platform),
then falls back to PID file + SIGTERM on Unix systems.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop(cmd, args)
	},
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	addr := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(addr+"/shutdown", "application/json", nil)
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			fmt.Println("[aspy] Stop signal sent to proxy")
			os.Remove(filepath.Join(configDir, "aspy.pid"))
			return nil
		}
	}

	if runtime.GOOS == "windows" {
		return fmt.Errorf("proxy is not responding at %s — cannot stop", addr)
	}

	pidFile := filepath.Join(configDir, "aspy.pid")
	pidBytes, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("proxy is not running (no PID file and HTTP unreachable)")
		}
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(pidBytes)))
	if err != nil {
		return fmt.Errorf("invalid PID in %s: %w", pidFile, err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		os.Remove(pidFile)
		return fmt.Errorf("failed to stop proxy (PID %d): %w", pid, err)
	}

	os.Remove(pidFile)
	fmt.Printf("[aspy] Sent stop signal to proxy (PID %d)\n", pid)
	return nil
}

// ============================================================================
// aspy status
// ============================================================================

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show proxy status and global stats",
	Long: `Display whether the Aspy proxy is running and a summary of the global
event totals (requests, tool calls, tokens). Queries the live proxy
process for accurate real-time data.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd, args)
	},
}

type statusJSON struct {
	Status        string `json:"status"`
	UptimeSeconds int    `json:"uptime_seconds"`
	Version       string `json:"version"`
}

type statsJSON struct {
	TotalRequests  uint64 `json:"TotalRequests"`
	TotalToolCalls uint64 `json:"TotalToolCalls"`
	InputTokens    uint64 `json:"InputTokens"`
	OutputTokens   uint64 `json:"OutputTokens"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	addr := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(addr + "/api/health")
	if err != nil {
		fmt.Println("[aspy] Status: NOT RUNNING")
		fmt.Printf("[aspy] Expected at: %s\n", addr)
		return nil
	}
	defer resp.Body.Close()

	var health statusJSON
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &health); err == nil {
		fmt.Println("[aspy] Status: RUNNING")
		fmt.Printf("[aspy] Listening on: %s\n", addr)
		fmt.Printf("[aspy] Uptime: %s\n", humanize.Time(time.Now().Add(-time.Duration(health.UptimeSeconds)*time.Second)))
		fmt.Printf("[aspy] Version: %s\n", health.Version)
	}

	statsResp, err := client.Get(addr + "/api/stats")
	if err != nil {
		return nil
	}
	defer statsResp.Body.Close()
	statsBody, _ := io.ReadAll(statsResp.Body)
	var stats statsJSON
	if err := json.Unmarshal(statsBody, &stats); err != nil {
		return nil
	}
	fmt.Println()
	fmt.Printf("  Requests:    %s\n", humanize.Comma(int64(stats.TotalRequests)))
	fmt.Printf("  Tool calls:  %s\n", humanize.Comma(int64(stats.TotalToolCalls)))
	fmt.Printf("  Input tok:   %s\n", humanize.Comma(int64(stats.InputTokens)))
	fmt.Printf("  Output tok:  %s\n", humanize.Comma(int64(stats.OutputTokens)))
	return nil
}

// ============================================================================
// aspy sessions
// ============================================================================

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List active sessions on the running proxy",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSessions(cmd, args)
	},
}

type sessionJSON struct {
	UserID       string `json:"user_id"`
	SessionKey   string `json:"session_key"`
	Status       string `json:"status"`
	LastActivity string `json:"last_activity"`
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	addr := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(addr + "/api/sessions")
	if err != nil {
		return fmt.Errorf("proxy is not reachable at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	var body struct {
		Sessions []sessionJSON `json:"sessions"`
	}
	data, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(data, &body); err != nil {
		return fmt.Errorf("failed to parse session list: %w", err)
	}

	if len(body.Sessions) == 0 {
		fmt.Println("No active sessions.")
		return nil
	}

	fmt.Printf("%-20s %-30s %-10s %s\n", "USER", "SESSION", "STATUS", "LAST ACTIVITY")
	fmt.Printf("%-20s %-30s %-10s %s\n", "----", "-------", "------", "-------------")
	for _, s := range body.Sessions {
		fmt.Printf("%-20s %-30s %-10s %s\n", s.UserID, s.SessionKey, s.Status, s.LastActivity)
	}
	return nil
}

// ============================================================================
// aspy config
// ============================================================================

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View and edit proxy configuration",
	Long: `Manage the Aspy proxy configuration. The config file lives at
~/.aspy/config.yaml and defines the server bind address, upstream
provider URLs, storage locations, and context-window/transform
tuning.`,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := filepath.Join(configDir, "config.yaml")
		data, err := os.ReadFile(configPath)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Printf("No config file found at %s\n", configPath)
				fmt.Println("Run 'aspy' for interactive setup.")
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
		fmt.Println(string(data))
		return nil
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config in editor",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := filepath.Join(configDir, "config.yaml")

		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = os.Getenv("VISUAL")
		}
		if editor == "" {
			if runtime.GOOS == "windows" {
				editor = "notepad"
			} else {
				editor = "vi"
			}
		}

		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			if err := config.WriteDefault(configPath); err != nil {
				return fmt.Errorf("failed to create default config: %w", err)
			}
		}

		fmt.Printf("[aspy] Opening %s in %s...\n", configPath, editor)
		editorCmd := exec.Command(editor, configPath)
		editorCmd.Stdin = os.Stdin
		editorCmd.Stdout = os.Stdout
		editorCmd.Stderr = os.Stderr
		return editorCmd.Run()
	},
}

// ============================================================================
// First-run interactive setup
// ============================================================================

func runFirstTimeSetup(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Aspy — First-Time Setup ===")
	fmt.Println()

	configPath := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists at %s\n", configPath)
		fmt.Println("Use 'aspy start' to start the proxy.")
		fmt.Println("Use 'aspy config edit' to modify the configuration.")
		return nil
	}

	fmt.Printf("Creating config directory: %s\n", configDir)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	fmt.Println("Writing default config.yaml...")
	if err := config.WriteDefault(configPath); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}

	eventsDir := filepath.Join(configDir, "events")
	if err := os.MkdirAll(eventsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create events directory: %w", err)
	}

	fmt.Println()
	fmt.Println("Setup complete! Next steps:")
	fmt.Println()
	fmt.Println("  1. Point Claude Code's API base URL at the proxy:")
	fmt.Println("     http://127.0.0.1:4317/provider/anthropic")
	fmt.Println()
	fmt.Println("  2. Start the proxy:")
	fmt.Println("     aspy start")
	fmt.Println()
	fmt.Println("  3. Check status or active sessions:")
	fmt.Println("     aspy status")
	fmt.Println("     aspy sessions")
	fmt.Println()
	return nil
}
