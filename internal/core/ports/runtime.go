// Package ports defines the core interfaces of the service: storage, the
// agent engine, configuration sources and lifecycle event publishing.
package ports

import (
	"context"
	"iter"

	"github.com/tjfontaine/agentstream/internal/core/domain"
	"github.com/tjfontaine/agentstream/internal/pkg/config"
)

// ConfigProvider loads and manages configuration.
// Implementations: file-based (default).
type ConfigProvider interface {
	Load(ctx context.Context) (*config.Config, error)
	Watch(ctx context.Context, onChange func(*config.Config)) error
	Close() error
}

// EventPublisher publishes run lifecycle events.
// Implementations: direct storage (default).
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.LifecycleEvent) error
	Close() error
}

// HistoryMessage is one message of conversation history handed to the engine.
type HistoryMessage struct {
	Role    string
	Content string
}

// RunInput starts one engine run.
type RunInput struct {
	// Agent is the name of the agent to start with.
	Agent string
	// History is the conversation so far, oldest first, including the new user message.
	History []HistoryMessage
	// Context is shared with the engine's tools for the duration of the run.
	Context *domain.RunContext
}

// Engine runs agents and streams raw run events. The sequence ends when the
// run is exhausted; a non-nil error is the last value yielded on failure.
type Engine interface {
	Run(ctx context.Context, in *RunInput) iter.Seq2[domain.RunEvent, error]
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(ctx context.Context, in *RunInput) iter.Seq2[domain.RunEvent, error]

func (f EngineFunc) Run(ctx context.Context, in *RunInput) iter.Seq2[domain.RunEvent, error] {
	return f(ctx, in)
}

// AgentInfo describes an agent for the roster endpoint.
type AgentInfo struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Handoffs        []string `json:"handoffs"`
	Tools           []string `json:"tools"`
	InputGuardrails []string `json:"input_guardrails"`
}

// AgentDirectory resolves agent names and lists the roster.
type AgentDirectory interface {
	// Resolve returns the agent to run for name, falling back to the default agent.
	Resolve(name string) string
	Describe() []AgentInfo
}
