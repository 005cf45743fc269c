// Package agents holds the agent roster: each agent's instructions, tools
// and handoff targets, and the lookup used to pick the agent for a run.
package agents

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/tjfontaine/agentstream/internal/core/ports"
	"github.com/tjfontaine/agentstream/internal/pkg/config"
)

// HandoffPrefix prefixes the synthetic tool that transfers control to another agent.
const HandoffPrefix = "transfer_to_"

// Agent is one entry of the roster.
type Agent struct {
	Name            string
	Description     string
	Instructions    string
	Model           string
	Tools           []Tool
	Handoffs        []string
	InputGuardrails []string
}

// Tool returns the agent's tool called name.
func (a *Agent) Tool(name string) (Tool, bool) {
	for _, t := range a.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// HandoffTarget reports which agent a tool call named toolName transfers to.
func (a *Agent) HandoffTarget(toolName string) (string, bool) {
	for _, h := range a.Handoffs {
		if HandoffToolName(h) == toolName {
			return h, true
		}
	}
	return "", false
}

// HandoffToolName is the tool name exposed for a handoff to agent.
func HandoffToolName(agent string) string {
	var b strings.Builder
	b.WriteString(HandoffPrefix)
	for _, r := range strings.ToLower(agent) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Registry is the agent roster. It is safe for concurrent use and can be
// replaced wholesale on configuration reload.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	order  []string
	def    string
}

var _ ports.AgentDirectory = (*Registry)(nil)

// NewRegistry builds the roster from configuration.
func NewRegistry(cfgs []config.AgentConfig, defaultAgent string) (*Registry, error) {
	r := &Registry{}
	if err := r.Reload(cfgs, defaultAgent); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload replaces the roster. On error the previous roster is kept.
func (r *Registry) Reload(cfgs []config.AgentConfig, defaultAgent string) error {
	builtins := Builtins()
	agents := make(map[string]*Agent, len(cfgs))
	order := make([]string, 0, len(cfgs))
	handoffTools := make(map[string]string, len(cfgs))

	for _, c := range cfgs {
		if c.Name == "" {
			return fmt.Errorf("agent without a name")
		}
		if _, dup := agents[c.Name]; dup {
			return fmt.Errorf("duplicate agent %q", c.Name)
		}
		tool := HandoffToolName(c.Name)
		if other, clash := handoffTools[tool]; clash {
			return fmt.Errorf("agents %q and %q share handoff tool %s", other, c.Name, tool)
		}
		handoffTools[tool] = c.Name
		a := &Agent{
			Name:         c.Name,
			Description:  c.Description,
			Instructions: c.Instructions,
			Model:        c.Model,
			Handoffs:     slices.Clone(c.Handoffs),
		}
		for _, name := range c.Tools {
			t, ok := builtins[name]
			if !ok {
				return fmt.Errorf("agent %s: unknown tool %q", c.Name, name)
			}
			a.Tools = append(a.Tools, t)
		}
		agents[c.Name] = a
		order = append(order, c.Name)
	}
	for _, a := range agents {
		for _, h := range a.Handoffs {
			if _, ok := agents[h]; !ok {
				return fmt.Errorf("agent %s: unknown handoff target %q", a.Name, h)
			}
		}
	}
	if _, ok := agents[defaultAgent]; !ok {
		return fmt.Errorf("default agent %q is not in the roster", defaultAgent)
	}

	r.mu.Lock()
	r.agents = agents
	r.order = order
	r.def = defaultAgent
	r.mu.Unlock()
	return nil
}

// Get returns the agent called name.
func (r *Registry) Get(name string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	return a, ok
}

// Default returns the name of the default agent.
func (r *Registry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.def
}

// Resolve returns name if it is in the roster and the default agent otherwise.
func (r *Registry) Resolve(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.agents[name]; ok {
		return name
	}
	return r.def
}

// Describe lists the roster in configuration order.
func (r *Registry) Describe() []ports.AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ports.AgentInfo, 0, len(r.order))
	for _, name := range r.order {
		a := r.agents[name]
		info := ports.AgentInfo{
			Name:            a.Name,
			Description:     a.Description,
			Handoffs:        slices.Clone(a.Handoffs),
			Tools:           make([]string, 0, len(a.Tools)),
			InputGuardrails: slices.Clone(a.InputGuardrails),
		}
		if info.Handoffs == nil {
			info.Handoffs = []string{}
		}
		if info.InputGuardrails == nil {
			info.InputGuardrails = []string{}
		}
		for _, t := range a.Tools {
			info.Tools = append(info.Tools, t.Name)
		}
		out = append(out, info)
	}
	return out
}
