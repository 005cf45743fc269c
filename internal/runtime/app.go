// Package runtime assembles the agentstream service from configuration and
// manages its lifecycle: storage, the agent roster and engine, the chat
// service, the HTTP server and config hot-reload.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/tjfontaine/agentstream/internal/adapters/events/direct"
	chatapi "github.com/tjfontaine/agentstream/internal/api/chat"
	"github.com/tjfontaine/agentstream/internal/api/controlplane"
	"github.com/tjfontaine/agentstream/internal/agents"
	"github.com/tjfontaine/agentstream/internal/chat"
	"github.com/tjfontaine/agentstream/internal/core/ports"
	"github.com/tjfontaine/agentstream/internal/pipeline"
	"github.com/tjfontaine/agentstream/internal/pkg/config"
	"github.com/tjfontaine/agentstream/internal/server"
	"github.com/tjfontaine/agentstream/internal/telemetry"
	"github.com/tjfontaine/agentstream/internal/tokens"
)

// ErrAlreadyRunning is returned by Run on an App that was already started.
var ErrAlreadyRunning = errors.New("runtime: app already running")

// App is the assembled service. Build it with New and start it with Run.
type App struct {
	// Dependencies (injected via options)
	config   ports.ConfigProvider
	storage  ports.StorageProvider
	events   ports.EventPublisher
	engine   ports.Engine
	logger   *slog.Logger
	level    *slog.LevelVar
	listener net.Listener

	// Built by Run
	ownsStorage bool
	agents      *agents.Registry
	chats       *chat.Service

	mu      sync.Mutex
	running bool
}

// New creates an App with the given options. A config provider is required.
func New(opts ...Option) (*App, error) {
	app := &App{logger: slog.Default()}

	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if app.config == nil {
		return nil, fmt.Errorf("config provider required (use WithFileConfig or WithConfigProvider)")
	}
	return app, nil
}

// Run loads the configuration, builds the service and serves until ctx is
// cancelled. On the way out it stops accepting requests, waits for in-flight
// runs up to server.shutdown_timeout and releases its resources.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return ErrAlreadyRunning
	}
	a.running = true
	a.mu.Unlock()

	cfg, err := a.config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.level != nil {
		a.level.Set(parseLevel(cfg.Log.Level))
	}

	srv, err := a.build(ctx, cfg)
	if err != nil {
		a.close()
		return err
	}

	a.logger.Info("agentstream starting",
		slog.Int("port", cfg.Server.Port),
		slog.String("storage", cfg.Storage.Type),
		slog.String("engine", cfg.Engine.Type),
		slog.Int("agents", len(cfg.Agents)),
		slog.String("default_agent", cfg.DefaultAgent),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if a.listener != nil {
			return srv.Serve(gctx, a.listener)
		}
		return srv.Start(gctx)
	})
	g.Go(func() error {
		a.watchConfig(gctx)
		return nil
	})
	runErr := g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.chats.Drain(drainCtx); err != nil {
		a.logger.Warn("shutdown with runs in flight", slog.String("error", err.Error()))
	}

	a.close()
	a.logger.Info("agentstream stopped")
	return runErr
}

// build wires storage, the roster, the engine and the chat service, and
// returns the HTTP server with every route registered.
func (a *App) build(ctx context.Context, cfg *config.Config) (*server.Server, error) {
	if a.storage == nil {
		store, err := openStorage(ctx, cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.storage = store
		a.ownsStorage = true
	}
	if a.events == nil {
		publisher, err := direct.NewPublisher(a.storage)
		if err != nil {
			return nil, fmt.Errorf("create event publisher: %w", err)
		}
		a.events = publisher
	}

	roster, err := agents.NewRegistry(cfg.Agents, cfg.DefaultAgent)
	if err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}
	a.agents = roster

	if a.engine == nil {
		engine, err := newEngine(cfg.Engine, roster, a.logger)
		if err != nil {
			return nil, fmt.Errorf("create engine: %w", err)
		}
		a.engine = engine
	}

	overflow, err := pipeline.ParseOverflowPolicy(cfg.Pipeline.Overflow)
	if err != nil {
		return nil, err
	}
	chats, err := chat.NewService(chat.Options{
		Store:           a.storage,
		Engine:          a.engine,
		Agents:          roster,
		Publisher:       a.events,
		Logger:          a.logger,
		Tracer:          telemetry.Tracer("agentstream/chat"),
		Tokens:          tokens.NewRegistry(),
		Model:           cfg.Engine.OpenAI.Model,
		HistoryBudget:   cfg.Engine.HistoryTokenBudget,
		ChannelCapacity: cfg.Pipeline.ChannelCapacity,
		Overflow:        overflow,
		RunTimeout:      cfg.Pipeline.RunTimeout,
	})
	if err != nil {
		return nil, err
	}
	a.chats = chats

	srv := server.New(server.Options{
		Port:            cfg.Server.Port,
		Logger:          a.logger,
		RequestTimeout:  cfg.Server.RequestTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		ServiceName:     cfg.Telemetry.ServiceName,
	})

	chatHandler := chatapi.NewHandler(chats, roster, a.logger)
	cp := controlplane.NewServer(controlplane.Options{
		Store:          a.storage,
		FilesDir:       cfg.Files.Dir,
		MaxUploadBytes: cfg.Files.MaxUploadBytes,
		Logger:         a.logger,
	})

	// Streams outlive the request timeout.
	srv.Router.Post("/chat/streaming", chatHandler.HandleStreaming)
	srv.Router.Get("/chat/ws", chatHandler.HandleWebSocket)
	srv.Bounded(func(r chi.Router) {
		r.Get("/chat/agents", chatHandler.HandleAgents)
		cp.Register(r)
	})

	return srv, nil
}

// watchConfig applies config changes until ctx ends.
func (a *App) watchConfig(ctx context.Context) {
	if err := a.config.Watch(ctx, a.reload); err != nil {
		a.logger.Warn("config hot-reload disabled", slog.String("error", err.Error()))
		return
	}
	<-ctx.Done()
}

// reload applies the parts of cfg that can change at runtime: the agent
// roster and the log level. Everything else needs a restart.
func (a *App) reload(cfg *config.Config) {
	if err := a.agents.Reload(cfg.Agents, cfg.DefaultAgent); err != nil {
		a.logger.Error("failed to reload agents, keeping previous roster", slog.String("error", err.Error()))
		return
	}
	if a.level != nil {
		a.level.Set(parseLevel(cfg.Log.Level))
	}
	a.logger.Info("reload complete",
		slog.Int("agents", len(cfg.Agents)),
		slog.String("default_agent", cfg.DefaultAgent),
	)
}

// close releases resources in reverse order of creation.
func (a *App) close() {
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			a.logger.Error("failed to close events", slog.String("error", err.Error()))
		}
	}

	if a.storage != nil && a.ownsStorage {
		if err := a.storage.Close(); err != nil {
			a.logger.Error("failed to close storage", slog.String("error", err.Error()))
		}
	}

	if err := a.config.Close(); err != nil {
		a.logger.Error("failed to close config", slog.String("error", err.Error()))
	}
}
