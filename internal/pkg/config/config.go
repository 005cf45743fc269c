// Package config loads the service configuration from a YAML file and
// AGENTSTREAM_ environment variables using koanf.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. Nested keys use "__",
// e.g. AGENTSTREAM_SERVER__PORT=9000.
const EnvPrefix = "AGENTSTREAM_"

// DefaultPath is read when no explicit config path is given.
const DefaultPath = "config.yaml"

type Config struct {
	Server       ServerConfig    `koanf:"server"`
	Log          LogConfig       `koanf:"log"`
	Storage      StorageConfig   `koanf:"storage"`
	Files        FilesConfig     `koanf:"files"`
	Pipeline     PipelineConfig  `koanf:"pipeline"`
	Engine       EngineConfig    `koanf:"engine"`
	Telemetry    TelemetryConfig `koanf:"telemetry"`
	DefaultAgent string          `koanf:"default_agent"`
	Agents       []AgentConfig   `koanf:"agents"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
	// RequestTimeout applies to non-streaming routes only.
	RequestTimeout time.Duration `koanf:"request_timeout"`
	// ShutdownTimeout bounds graceful shutdown, including in-flight runs.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, postgres, memory
	SQLite SQLiteConfig `koanf:"sqlite"`
	// Database is the generic database configuration for multi-dialect support
	Database DatabaseConfig `koanf:"database"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// DatabaseConfig is the generic database configuration supporting multiple dialects.
type DatabaseConfig struct {
	Driver       string `koanf:"driver"` // sqlite, postgres
	DSN          string `koanf:"dsn"`    // Data source name / connection string
	MaxOpenConns int    `koanf:"max_open_conns"`
}

type FilesConfig struct {
	Dir            string `koanf:"dir"`
	MaxUploadBytes int64  `koanf:"max_upload_bytes"`
}

// PipelineConfig tunes the delivery channel and run lifetime.
type PipelineConfig struct {
	// ChannelCapacity bounds undelivered records per run. Zero is unbounded.
	ChannelCapacity int `koanf:"channel_capacity"`
	// Overflow is the policy for a full bounded channel: block or drop.
	Overflow string `koanf:"overflow"`
	// RunTimeout bounds a run's producer. Zero means no timeout.
	RunTimeout time.Duration `koanf:"run_timeout"`
}

type EngineConfig struct {
	Type               string       `koanf:"type"` // openai
	MaxTurns           int          `koanf:"max_turns"`
	HistoryTokenBudget int          `koanf:"history_token_budget"`
	OpenAI             OpenAIConfig `koanf:"openai"`
}

type OpenAIConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"` // Custom API endpoint
	Model   string `koanf:"model"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

// AgentConfig declares one agent of the roster.
type AgentConfig struct {
	Name         string   `koanf:"name"`
	Description  string   `koanf:"description"`
	Instructions string   `koanf:"instructions"`
	Model        string   `koanf:"model"` // Optional: override engine.openai.model
	Handoffs     []string `koanf:"handoffs"`
	Tools        []string `koanf:"tools"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

var defaults = map[string]any{
	"server.port":                 8080,
	"server.request_timeout":      "30s",
	"server.shutdown_timeout":     "30s",
	"log.level":                   "info",
	"log.format":                  "json",
	"storage.type":                "sqlite",
	"storage.sqlite.path":         "data/agentstream.db",
	"files.dir":                   "data/files",
	"files.max_upload_bytes":      32 << 20,
	"pipeline.overflow":           "block",
	"engine.type":                 "openai",
	"engine.max_turns":            10,
	"engine.history_token_budget": 8000,
	"engine.openai.model":         "gpt-4o-mini",
	"telemetry.service_name":      "agentstream",
	"default_agent":               "triage",
}

// Load reads path (DefaultPath when empty), then environment overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	for key, v := range defaults {
		if !k.Exists(key) {
			k.Set(key, v)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Substitute environment variables in secrets
	cfg.Engine.OpenAI.APIKey = substituteEnvVars(cfg.Engine.OpenAI.APIKey)
	cfg.Engine.OpenAI.BaseURL = substituteEnvVars(cfg.Engine.OpenAI.BaseURL)
	cfg.Storage.Database.DSN = substituteEnvVars(cfg.Storage.Database.DSN)
	if cfg.Engine.OpenAI.APIKey == "" {
		cfg.Engine.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if len(cfg.Agents) == 0 {
		cfg.Agents = DefaultAgents()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultAgents is the roster used when the configuration declares none.
func DefaultAgents() []AgentConfig {
	return []AgentConfig{{
		Name:        "triage",
		Description: "Answers general questions and routes the user to a specialist agent.",
		Instructions: "You are a helpful assistant. Use get_context to learn which file the user " +
			"is working on and set_current_file_id when they refer to a different file.",
		Tools: []string{"get_context", "set_current_file_id"},
	}}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("storage.type: unsupported %q", c.Storage.Type)
	}
	if c.Storage.Type == "postgres" && c.Storage.Database.DSN == "" {
		return errors.New("storage.database.dsn is required for postgres")
	}

	switch c.Pipeline.Overflow {
	case "", "block", "drop":
	default:
		return fmt.Errorf("pipeline.overflow: unsupported %q", c.Pipeline.Overflow)
	}
	if c.Pipeline.ChannelCapacity < 0 {
		return errors.New("pipeline.channel_capacity must not be negative")
	}

	names := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if a.Name == "" {
			return errors.New("agents: name is required")
		}
		if names[a.Name] {
			return fmt.Errorf("agents: duplicate name %q", a.Name)
		}
		names[a.Name] = true
	}
	for _, a := range c.Agents {
		for _, h := range a.Handoffs {
			if !names[h] {
				return fmt.Errorf("agents: %s hands off to unknown agent %q", a.Name, h)
			}
		}
	}
	if !names[c.DefaultAgent] {
		return fmt.Errorf("default_agent %q is not in the agent roster", c.DefaultAgent)
	}
	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
