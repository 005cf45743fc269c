package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tjfontaine/agentstream/internal/adapters/storage/postgres"
	"github.com/tjfontaine/agentstream/internal/adapters/storage/sqlite"
	"github.com/tjfontaine/agentstream/internal/agents"
	"github.com/tjfontaine/agentstream/internal/core/ports"
	"github.com/tjfontaine/agentstream/internal/engine/openai"
	"github.com/tjfontaine/agentstream/internal/pkg/config"
	"github.com/tjfontaine/agentstream/internal/storage/memory"
)

// openStorage opens the provider named by cfg.Type.
func openStorage(ctx context.Context, cfg config.StorageConfig) (ports.StorageProvider, error) {
	switch cfg.Type {
	case "sqlite":
		return sqlite.NewProvider(cfg.SQLite.Path)
	case "postgres":
		return postgres.NewProvider(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns)
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Type)
	}
}

// newEngine builds the engine named by cfg.Type.
func newEngine(cfg config.EngineConfig, roster *agents.Registry, logger *slog.Logger) (ports.Engine, error) {
	switch cfg.Type {
	case "openai":
		if cfg.OpenAI.APIKey == "" && cfg.OpenAI.BaseURL == "" {
			return nil, fmt.Errorf("engine.openai.api_key is required (or set OPENAI_API_KEY)")
		}
		return openai.New(roster, openai.Options{
			APIKey:   cfg.OpenAI.APIKey,
			BaseURL:  cfg.OpenAI.BaseURL,
			Model:    cfg.OpenAI.Model,
			MaxTurns: cfg.MaxTurns,
			Logger:   logger,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported engine type %q", cfg.Type)
	}
}

// parseLevel maps log.level to a slog level. Unknown values are info.
func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}
