package runtime

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/tjfontaine/agentstream/internal/adapters/config/file"
	"github.com/tjfontaine/agentstream/internal/core/ports"
)

// Option is a functional option for configuring an App.
type Option func(*App) error

// WithFileConfig uses file-based configuration with hot-reload (default).
// The path should point to a config.yaml file that will be watched for changes.
func WithFileConfig(path string) Option {
	return func(a *App) error {
		provider, err := file.NewProvider(path, file.WithLogger(a.logger))
		if err != nil {
			return fmt.Errorf("create file config provider: %w", err)
		}
		a.config = provider
		return nil
	}
}

// WithConfigProvider sets a custom config provider.
func WithConfigProvider(provider ports.ConfigProvider) Option {
	return func(a *App) error {
		a.config = provider
		return nil
	}
}

// WithStorageProvider sets a storage provider instead of opening the one
// named by storage.type. The App does not close a provider it was given.
func WithStorageProvider(provider ports.StorageProvider) Option {
	return func(a *App) error {
		a.storage = provider
		return nil
	}
}

// WithEventPublisher sets a custom event publisher.
func WithEventPublisher(publisher ports.EventPublisher) Option {
	return func(a *App) error {
		a.events = publisher
		return nil
	}
}

// WithEngine sets the agent engine instead of building one from engine.type.
func WithEngine(engine ports.Engine) Option {
	return func(a *App) error {
		a.engine = engine
		return nil
	}
}

// WithLogger sets a custom logger.
// Options that log, such as WithFileConfig, should come after it.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) error {
		a.logger = logger
		return nil
	}
}

// WithLogLevel lets config reloads change the level of the App's logger.
func WithLogLevel(level *slog.LevelVar) Option {
	return func(a *App) error {
		a.level = level
		return nil
	}
}

// WithListener serves on ln instead of listening on server.port.
func WithListener(ln net.Listener) Option {
	return func(a *App) error {
		a.listener = ln
		return nil
	}
}
