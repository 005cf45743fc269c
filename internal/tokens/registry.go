// Package tokens counts conversation history tokens and trims history to a
// token budget before it is handed to the engine.
package tokens

import (
	"slices"
	"strings"

	"github.com/tjfontaine/agentstream/internal/core/ports"
)

// Counter counts tokens for one family of models.
type Counter interface {
	// CountMessages counts the prompt tokens of msgs, including per-message overhead.
	CountMessages(model string, msgs []ports.HistoryMessage) (int, error)
	SupportsModel(model string) bool
}

// Registry picks a counter by model name. Models no counter claims use the
// character-based Estimator.
type Registry struct {
	counters []Counter
	fallback Counter
}

// NewRegistry returns a registry holding the tiktoken counter.
func NewRegistry() *Registry {
	r := &Registry{fallback: NewEstimator()}
	r.Register(NewOpenAICounter())
	return r
}

// Register adds a counter. Earlier registrations win.
func (r *Registry) Register(c Counter) {
	r.counters = append(r.counters, c)
}

// Counter returns the counter used for model.
func (r *Registry) Counter(model string) Counter {
	for _, c := range r.counters {
		if c.SupportsModel(model) {
			return c
		}
	}
	return r.fallback
}

// Trim returns the longest suffix of history whose token count fits budget.
// The last message (the new user turn) is always kept, even when it alone
// exceeds the budget. A budget of zero or less disables trimming.
func (r *Registry) Trim(model string, history []ports.HistoryMessage, budget int) ([]ports.HistoryMessage, error) {
	if budget <= 0 || len(history) <= 1 {
		return history, nil
	}
	c := r.Counter(model)

	total := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		n, err := c.CountMessages(model, history[i:i+1])
		if err != nil {
			return nil, err
		}
		if total+n > budget && i < len(history)-1 {
			break
		}
		total += n
		start = i
	}
	return slices.Clone(history[start:]), nil
}

// Estimator approximates token counts from character length.
type Estimator struct {
	// CharsPerToken is the average characters per token (default: 4)
	CharsPerToken float64
}

func NewEstimator() *Estimator {
	return &Estimator{CharsPerToken: 4.0}
}

func (e *Estimator) CountMessages(_ string, msgs []ports.HistoryMessage) (int, error) {
	chars := 0
	for _, m := range msgs {
		// role tokens + separators
		chars += len(m.Role) + len(m.Content) + 4
	}
	return int(float64(chars) / e.CharsPerToken), nil
}

// SupportsModel returns true - estimator supports all models as a fallback.
func (e *Estimator) SupportsModel(string) bool {
	return true
}

// ModelMatcher helps match model names to provider patterns.
type ModelMatcher struct {
	prefixes []string
	exact    []string
}

func NewModelMatcher(prefixes, exact []string) *ModelMatcher {
	return &ModelMatcher{prefixes: prefixes, exact: exact}
}

// Matches returns true if the model matches any pattern.
func (m *ModelMatcher) Matches(model string) bool {
	if slices.Contains(m.exact, model) {
		return true
	}
	for _, p := range m.prefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}
