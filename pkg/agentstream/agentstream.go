// Package agentstream provides the public API for embedding the agentstream
// service. This is the stable API for external consumers.
package agentstream

import (
	"github.com/tjfontaine/agentstream/internal/runtime"
)

// App is the assembled service.
// See internal/runtime.App for full documentation.
type App = runtime.App

// Option is a functional option for configuring an App.
type Option = runtime.Option

// ErrAlreadyRunning is returned by Run on an App that was already started.
var ErrAlreadyRunning = runtime.ErrAlreadyRunning

// New creates a new App with the given options.
// Example:
//
//	app, err := agentstream.New(
//	    agentstream.WithLogger(logger),
//	    agentstream.WithFileConfig("config.yaml"),
//	)
//	if err != nil {
//	    return err
//	}
//	return app.Run(ctx)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithFileConfig     = runtime.WithFileConfig
	WithConfigProvider = runtime.WithConfigProvider

	// Storage and events
	WithStorageProvider = runtime.WithStorageProvider
	WithEventPublisher  = runtime.WithEventPublisher

	// Agents
	WithEngine = runtime.WithEngine

	// Advanced options
	WithLogger   = runtime.WithLogger
	WithLogLevel = runtime.WithLogLevel
	WithListener = runtime.WithListener
)
