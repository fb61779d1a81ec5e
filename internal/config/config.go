// Package config resolves and holds sparkq's YAML configuration document
// (§4.G/§6.2). Load performs the deterministic 3-step lookup; the active
// value is held behind an atomic.Pointer so Reload swaps in a freshly
// parsed document rather than mutating the live one in place (Design
// Note: "configuration is loaded once and thereafter immutable... reload
// constructs a new value and atomically swaps the reference").
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/sparkq/sparkq/internal/db"
)

type ProjectConfig struct {
	Name     string `yaml:"name"`
	RepoPath string `yaml:"repo_path"`
}

type ServerConfig struct {
	Host                 string `yaml:"host"`
	Port                 int    `yaml:"port"`
	ShutdownGraceSeconds int    `yaml:"shutdown_grace_seconds"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type PurgeConfig struct {
	OlderThanDays int `yaml:"older_than_days"`
}

type QueueRunnerConfig struct {
	PollInterval            int    `yaml:"poll_interval"`
	AutoFailIntervalSeconds int    `yaml:"auto_fail_interval_seconds"`
	BaseURL                 string `yaml:"base_url"`
}

type TaskClassConfig struct {
	Timeout int `yaml:"timeout"`
}

type ToolConfig struct {
	TaskClass   string `yaml:"task_class"`
	Description string `yaml:"description"`
}

type ObservabilityConfig struct {
	SentryDSN string `yaml:"sentry_dsn"`
	LogLevel  string `yaml:"log_level"`
}

// Config is the parsed configuration document (§6.2), plus the ambient
// observability additions (§6.2 extension table in SPEC_FULL.md).
type Config struct {
	Project       ProjectConfig              `yaml:"project"`
	Server        ServerConfig               `yaml:"server"`
	Database      DatabaseConfig             `yaml:"database"`
	Purge         PurgeConfig                `yaml:"purge"`
	QueueRunner   QueueRunnerConfig          `yaml:"queue_runner"`
	TaskClasses   map[string]TaskClassConfig `yaml:"task_classes"`
	Tools         map[string]ToolConfig      `yaml:"tools"`
	ScriptDirs    []string                   `yaml:"script_dirs"`
	Observability ObservabilityConfig        `yaml:"observability"`

	// sourcePath records where this document was loaded from, so Reload
	// can re-read the same file and relative paths can resolve against its
	// directory.
	sourcePath string
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                 "0.0.0.0",
			Port:                 5005,
			ShutdownGraceSeconds: 10,
		},
		Database: DatabaseConfig{Path: "sparkq.db"},
		Purge:    PurgeConfig{OlderThanDays: 3},
		QueueRunner: QueueRunnerConfig{
			PollInterval:            30,
			AutoFailIntervalSeconds: 30,
		},
		TaskClasses: map[string]TaskClassConfig{
			db.TaskClassFastScript:   {Timeout: db.DefaultTaskClassTimeouts[db.TaskClassFastScript]},
			db.TaskClassMediumScript: {Timeout: db.DefaultTaskClassTimeouts[db.TaskClassMediumScript]},
			db.TaskClassLLMLite:      {Timeout: db.DefaultTaskClassTimeouts[db.TaskClassLLMLite]},
			db.TaskClassLLMHeavy:     {Timeout: db.DefaultTaskClassTimeouts[db.TaskClassLLMHeavy]},
		},
		Tools:         map[string]ToolConfig{},
		Observability: ObservabilityConfig{LogLevel: "info"},
	}
}

// Holder wraps an atomic.Pointer[Config], the single shared handle every
// component reads the live configuration through.
type Holder struct {
	ptr atomic.Pointer[Config]
}

// NewHolder loads the initial configuration via the 3-step resolution
// order and wraps it in a Holder.
func NewHolder() (*Holder, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	h := &Holder{}
	h.ptr.Store(cfg)
	return h, nil
}

// Get returns the currently active configuration. The returned pointer is
// never mutated in place; callers that hold it across a Reload keep seeing
// the value as of when they called Get.
func (h *Holder) Get() *Config {
	return h.ptr.Load()
}

// Reload re-resolves and re-parses the configuration document and
// atomically swaps in the new value. The previous value remains valid for
// anyone still holding a reference to it.
func (h *Holder) Reload() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	h.ptr.Store(cfg)
	return cfg, nil
}

// Load resolves the configuration path per the deterministic 3-step order
// — SPARKQ_CONFIG env var, ./sparkq.yml, <repo-root>/sparkq.yml — and
// parses it, falling back to defaults for anything unset. No config file
// existing at all is not an error; sparkq runs on its built-in defaults.
func Load() (*Config, error) {
	cfg := defaults()

	path, err := resolvePath()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return finalize(cfg, "")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return finalize(cfg, path)
		}
		return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	return finalize(cfg, path)
}

func resolvePath() (string, error) {
	if p := os.Getenv("SPARKQ_CONFIG"); p != "" {
		return p, nil
	}
	if _, err := os.Stat("sparkq.yml"); err == nil {
		return "sparkq.yml", nil
	}
	repoRoot, err := findRepoRoot()
	if err != nil {
		return "", nil
	}
	candidate := filepath.Join(repoRoot, "sparkq.yml")
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}
	return "", nil
}

// findRepoRoot walks up from the working directory looking for a go.mod,
// the repository-root marker the "repository root" fallback path means.
func findRepoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no repository root found")
		}
		dir = parent
	}
}

func finalize(cfg *Config, sourcePath string) (*Config, error) {
	cfg.sourcePath = sourcePath

	baseDir := "."
	if sourcePath != "" {
		baseDir = filepath.Dir(sourcePath)
	}
	if !filepath.IsAbs(cfg.Database.Path) {
		cfg.Database.Path = filepath.Join(baseDir, cfg.Database.Path)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("invalid server.port %d: must be between 1 and 65535", cfg.Server.Port)
	}

	return cfg, nil
}

// TaskClassTimeouts flattens TaskClasses into the map the lifecycle engine
// consumes, falling back to the built-in defaults for any class a loaded
// document didn't override.
func (c *Config) TaskClassTimeouts() map[string]int {
	out := make(map[string]int, len(db.DefaultTaskClassTimeouts))
	for class, timeout := range db.DefaultTaskClassTimeouts {
		out[class] = timeout
	}
	for class, tc := range c.TaskClasses {
		if tc.Timeout > 0 {
			out[class] = tc.Timeout
		}
	}
	return out
}

// Addr returns the server's HTTP bind address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
