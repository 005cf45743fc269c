package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tjfontaine/agentstream/internal/core/domain"
)

// Classifier maps raw run events to normalized events. It tracks the current
// agent in the conversation state so repeated reports of the same agent are
// suppressed. A Classifier is owned by a single producer and is not safe for
// concurrent use.
type Classifier struct {
	state *domain.ConversationState
	now   func() time.Time
}

// ClassifierOption configures a Classifier.
type ClassifierOption func(*Classifier)

// WithClock overrides the clock used to timestamp events.
func WithClock(now func() time.Time) ClassifierOption {
	return func(c *Classifier) {
		c.now = now
	}
}

// NewClassifier returns a classifier reading and updating state. A nil state
// starts from an empty one.
func NewClassifier(state *domain.ConversationState, opts ...ClassifierOption) *Classifier {
	if state == nil {
		state = &domain.ConversationState{}
	}
	c := &Classifier{state: state, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the conversation state the classifier updates.
func (c *Classifier) State() *domain.ConversationState {
	return c.state
}

// Classify returns the normalized event for ev, or nil when ev produces none.
// It never fails: unknown variants, tags and payloads yield nil.
func (c *Classifier) Classify(ev domain.RunEvent) domain.Event {
	switch e := ev.(type) {
	case domain.AgentUpdatedEvent:
		return c.changeAgent(e.NewAgent.Name)
	case *domain.AgentUpdatedEvent:
		if e == nil {
			return nil
		}
		return c.changeAgent(e.NewAgent.Name)
	case domain.RawResponseEvent:
		return c.classifyFragment(e.Data)
	case *domain.RawResponseEvent:
		if e == nil {
			return nil
		}
		return c.classifyFragment(e.Data)
	case domain.RunItemEvent:
		return c.classifyItem(e.Name, e.Item)
	case *domain.RunItemEvent:
		if e == nil {
			return nil
		}
		return c.classifyItem(e.Name, e.Item)
	default:
		return nil
	}
}

// changeAgent is the single de-duplication point for both the top-level
// agent update and the handoff run item.
func (c *Classifier) changeAgent(name string) domain.Event {
	if c.state.CurrentAgent != nil && *c.state.CurrentAgent == name {
		return nil
	}
	c.state.SetAgent(name)
	return domain.NewAgentChanged(c.now(), name)
}

func (c *Classifier) classifyFragment(f domain.ResponseFragment) domain.Event {
	if f.Type != domain.FragmentOutputTextDelta {
		return nil
	}
	return domain.NewMessageDelta(c.now(), f.Delta)
}

func (c *Classifier) classifyItem(name string, item domain.RunItem) domain.Event {
	switch name {
	case domain.RunItemHandoffOccurred, domain.RunItemHandoffOccured:
		h, ok := asHandoff(item)
		if !ok {
			return nil
		}
		return c.changeAgent(h.TargetAgent.Name)

	case domain.RunItemMessageOutputCreated:
		m, ok := asMessageOutput(item)
		if !ok {
			return nil
		}
		text, ok := firstText(m.Content)
		if !ok {
			return nil
		}
		visible, think := ExtractThink(text)
		return domain.NewNewMessage(c.now(), visible, think, m.Agent.Name)

	case domain.RunItemToolCalled:
		tc, ok := asToolCall(item)
		if !ok {
			return nil
		}
		return domain.NewToolCalled(c.now(), tc.Name, tc.CallID, tc.Arguments)

	case domain.RunItemToolOutput:
		to, ok := asToolOutput(item)
		if !ok {
			return nil
		}
		return domain.NewToolCallOutput(c.now(), rawString(to.RawItem, "call_id"), rawString(to.RawItem, "output"))
	}
	return nil
}

// firstText returns the text of the first text-bearing content block.
func firstText(blocks []domain.ContentBlock) (string, bool) {
	for _, b := range blocks {
		switch b.Type {
		case domain.ContentTypeOutputText, domain.ContentTypeText:
			return b.Text, true
		}
	}
	return "", false
}

// rawString reads key from a loosely typed payload. Missing keys map to "";
// non-string values are rendered as JSON.
func rawString(raw map[string]any, key string) string {
	v, ok := raw[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func asHandoff(item domain.RunItem) (domain.HandoffItem, bool) {
	switch v := item.(type) {
	case domain.HandoffItem:
		return v, true
	case *domain.HandoffItem:
		if v != nil {
			return *v, true
		}
	}
	return domain.HandoffItem{}, false
}

func asMessageOutput(item domain.RunItem) (domain.MessageOutputItem, bool) {
	switch v := item.(type) {
	case domain.MessageOutputItem:
		return v, true
	case *domain.MessageOutputItem:
		if v != nil {
			return *v, true
		}
	}
	return domain.MessageOutputItem{}, false
}

func asToolCall(item domain.RunItem) (domain.ToolCallItem, bool) {
	switch v := item.(type) {
	case domain.ToolCallItem:
		return v, true
	case *domain.ToolCallItem:
		if v != nil {
			return *v, true
		}
	}
	return domain.ToolCallItem{}, false
}

func asToolOutput(item domain.RunItem) (domain.ToolOutputItem, bool) {
	switch v := item.(type) {
	case domain.ToolOutputItem:
		return v, true
	case *domain.ToolOutputItem:
		if v != nil {
			return *v, true
		}
	}
	return domain.ToolOutputItem{}, false
}
