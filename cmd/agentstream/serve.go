package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/agentstream/internal/pkg/config"
	"github.com/tjfontaine/agentstream/internal/telemetry"
	"github.com/tjfontaine/agentstream/pkg/agentstream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Logging and tracing are set up before the App loads the same
		// file itself and starts watching it.
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		level := levelVar(cfg.Log.Level)
		logger := newLogger(os.Stderr, cfg.Log.Format, level)
		slog.SetDefault(logger)

		shutdown, err := telemetry.InitTracer(telemetry.Options{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     cfg.Telemetry.Enabled,
		}, logger)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			}
		}()

		app, err := agentstream.New(
			agentstream.WithLogger(logger),
			agentstream.WithLogLevel(level),
			agentstream.WithFileConfig(configPath),
		)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := app.Run(ctx); err != nil {
			logger.Error("agentstream exited", slog.String("error", err.Error()))
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
