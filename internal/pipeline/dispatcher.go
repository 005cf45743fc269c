package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/tjfontaine/agentstream/internal/core/domain"
)

var (
	// ErrHandlerExists is returned when a second handler is registered for a kind.
	ErrHandlerExists = errors.New("pipeline: handler already registered")
	// ErrDispatcherSealed is returned when registering after the run started.
	ErrDispatcherSealed = errors.New("pipeline: dispatcher sealed")
	// ErrUnknownEvent is returned when registering for a kind outside the taxonomy.
	ErrUnknownEvent = errors.New("pipeline: unknown event name")
)

// Handler is a side effect invoked for one normalized event.
type Handler func(ctx context.Context, ev domain.Event) error

// Dispatcher maps normalized event kinds to side-effect handlers. Handlers
// are registered before the run starts; Seal freezes the registry.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[domain.EventName]Handler
	sealed   bool
}

// NewDispatcher returns an empty dispatcher. Kinds without a handler are no-ops.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[domain.EventName]Handler)}
}

// Register sets the handler for name.
func (d *Dispatcher) Register(name domain.EventName, h Handler) error {
	if !slices.Contains(domain.EventNames, name) {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
	if h == nil {
		return fmt.Errorf("pipeline: nil handler for %s", name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sealed {
		return ErrDispatcherSealed
	}
	if _, ok := d.handlers[name]; ok {
		return fmt.Errorf("%w: %s", ErrHandlerExists, name)
	}
	d.handlers[name] = h
	return nil
}

// Seal rejects further registrations. It is called by the pipeline on start.
func (d *Dispatcher) Seal() {
	d.mu.Lock()
	d.sealed = true
	d.mu.Unlock()
}

// Dispatch runs the handler registered for ev's kind, if any.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.Event) error {
	if ev == nil {
		return nil
	}
	d.mu.RLock()
	h := d.handlers[ev.EventName()]
	d.mu.RUnlock()

	if h == nil {
		return nil
	}
	if err := h(ctx, ev); err != nil {
		return fmt.Errorf("%s handler: %w", ev.EventName(), err)
	}
	return nil
}
