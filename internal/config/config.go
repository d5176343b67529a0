// Package config handles loading, validating, and writing the Aspy
// proxy configuration from ~/.aspy/config.yaml.
//
// The config defines:
//   - Server bind address (host:port)
//   - The upstream LLM provider URL
//   - Streaming behavior (buffer SSE for tool-call inspection)
//   - Storage sink locations and retention
//   - Transformation rules file location
//   - Context-window warning thresholds and the dispatcher-model substring
//   - Session idle/timeout durations
//   - The live-subscriber hub's broadcast rate limit
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Aspy proxy configuration. Loaded from
// ~/.aspy/config.yaml, with sensible defaults for fields that are not
// explicitly set.
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Streaming StreamingConfig           `yaml:"streaming"`
	Storage   StorageConfig             `yaml:"storage"`
	Transform TransformConfig           `yaml:"transform"`
	Context   ContextConfig             `yaml:"context"`
	Parser    ParserConfig              `yaml:"parser"`
	Session   SessionConfig             `yaml:"session"`
	Live      LiveConfig                `yaml:"live"`
}

// ServerConfig defines where the proxy listens.
// Default: 127.0.0.1:4317 (loopback only — never bind to 0.0.0.0).
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ProviderConfig maps a provider key (e.g. "anthropic") to its
// upstream URL. The proxy forwards requests to this URL after
// inspection.
type ProviderConfig struct {
	Upstream string `yaml:"upstream"`
}

// StreamingConfig holds the SSE buffering settings. They are parsed and
// validated only: the proxy always forwards each SSE chunk and
// accumulates it for tool_use reconstruction in the same loop, and
// applies no stall timeout of its own, whatever Buffer and
// BufferTimeoutMs are set to.
type StreamingConfig struct {
	Buffer          bool `yaml:"buffer"`
	BufferTimeoutMs int  `yaml:"bufferTimeoutMs"`
}

// StorageConfig locates the JSONL and SQLite event sinks.
type StorageConfig struct {
	JSONLDir      string        `yaml:"jsonl_dir"`
	SQLitePath    string        `yaml:"sqlite_path"`
	RetentionHrs  int           `yaml:"retention_hours"`
	RetentionTick time.Duration `yaml:"retention_tick"`
}

// TransformConfig points at the rules file the transform.Engine loads
// (tag editor, system editor, and compact-enhancer tuning). Kept as a
// separate file, not inlined, so the config watcher's basename dispatch
// (rules.yaml vs config.yaml) can hot-reload each independently.
type TransformConfig struct {
	RulesPath string `yaml:"rules_path"`
}

// ContextConfig tunes the context-window interceptor. TokenLimit is
// validated but not passed to the context gauges, which use
// contextwin.DefaultLimit.
type ContextConfig struct {
	Thresholds []int `yaml:"thresholds"`
	TokenLimit int   `yaml:"token_limit"`
}

// ParserConfig tunes the SSE/request parser.
type ParserConfig struct {
	DispatcherModelSubstring string `yaml:"dispatcher_model_substring"`
}

// SessionConfig governs the idle/timeout transitions a session goes through.
type SessionConfig struct {
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

// LiveConfig tunes the live-subscriber hub.
type LiveConfig struct {
	Enabled         bool    `yaml:"enabled"`
	EventsPerSecond float64 `yaml:"events_per_second"`
	Burst           int     `yaml:"burst"`
}

// Load reads and parses config.yaml from the given path.
// If the file doesn't exist, returns defaults (not an error).
// Invalid YAML or validation failures return an error.
func Load(path string) (*Config, error) {
	cfg := applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file — use defaults. Normal on first run before
			// first-run setup or `aspy config edit` writes one.
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// WriteDefault writes a default config.yaml with all fields populated
// and a comment header. Used by first-run setup and `aspy config edit`
// when no config file exists yet.
func WriteDefault(path string) error {
	cfg := applyDefaults()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}

	header := `# Aspy Proxy Configuration
#
# server:
#   host: Bind address (default: 127.0.0.1, loopback only)
#   port: Listen port (default: 4317)
#
# providers:
#   <key>:
#     upstream: Full URL to the real LLM API
#
# streaming:
#   buffer / bufferTimeoutMs: validated only; streams are always
#     forwarded and accumulated together, with no stall timeout
#
# storage:
#   jsonl_dir: directory for daily-rotated JSONL event logs
#   sqlite_path: path to the queryable SQLite database
#   retention_hours: how long SQLite rows are kept before purge
#
# transform:
#   rules_path: path to the tag/system-editor rules.yaml
#
# context:
#   thresholds: percentage crossings that trigger a warning injection
#   token_limit: validated only; the context gauges use a built-in
#     200000-token limit
#
# parser:
#   dispatcher_model_substring: model-name substring identifying a
#     dispatcher/sub-agent call, excluded from compaction detection
#
# session:
#   idle_timeout / session_timeout: lifecycle transition durations
#
# live:
#   enabled: serve the websocket live-subscriber hub
#   events_per_second / burst: broadcast loop rate limit

`
	return os.WriteFile(path, []byte(header+string(data)), 0o644)
}

// applyDefaults returns a Config with all fields set to their default values.
func applyDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 4317,
		},
		Providers: map[string]ProviderConfig{
			"anthropic": {Upstream: "https://api.anthropic.com"},
		},
		Streaming: StreamingConfig{
			Buffer:          true,
			BufferTimeoutMs: 30000,
		},
		Storage: StorageConfig{
			JSONLDir:      "~/.aspy/events",
			SQLitePath:    "~/.aspy/aspy.db",
			RetentionHrs:  24,
			RetentionTick: time.Hour,
		},
		Transform: TransformConfig{
			RulesPath: "~/.aspy/rules.yaml",
		},
		Context: ContextConfig{
			Thresholds: []int{70, 80, 90, 95},
			TokenLimit: 200_000,
		},
		Parser: ParserConfig{
			DispatcherModelSubstring: "haiku",
		},
		Session: SessionConfig{
			IdleTimeout:    30 * time.Minute,
			SessionTimeout: 2 * time.Hour,
		},
		Live: LiveConfig{
			Enabled:         true,
			EventsPerSecond: 50,
			Burst:           20,
		},
	}
}

// validate checks the config for logical errors after parsing.
func validate(cfg *Config) error {
	if cfg.Server.Host == "" {
		return fmt.Errorf("server.host must not be empty")
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range (1-65535)", cfg.Server.Port)
	}

	for name, p := range cfg.Providers {
		if p.Upstream == "" {
			return fmt.Errorf("provider %q: upstream URL is required", name)
		}
	}

	if cfg.Streaming.BufferTimeoutMs < 0 {
		return fmt.Errorf("streaming.bufferTimeoutMs must be non-negative")
	}
	if cfg.Storage.RetentionHrs < 0 {
		return fmt.Errorf("storage.retention_hours must be non-negative")
	}
	for _, t := range cfg.Context.Thresholds {
		if t < 0 || t > 100 {
			return fmt.Errorf("context.thresholds entry %d out of range (0-100)", t)
		}
	}
	if cfg.Context.TokenLimit <= 0 {
		return fmt.Errorf("context.token_limit must be positive")
	}
	if cfg.Live.EventsPerSecond < 0 {
		return fmt.Errorf("live.events_per_second must be non-negative")
	}

	return nil
}
