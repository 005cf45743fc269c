package domain

import (
	"sync"
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// AgentContext is the opaque per-conversation context handed to agents.
type AgentContext struct {
	CurrentFileID string `json:"current_file_id,omitempty"`
	UserID        string `json:"user_id,omitempty"`
}

// ConversationState is the minimal state persisted with a conversation.
// CurrentAgent is nil until the first agent assignment.
type ConversationState struct {
	Context      AgentContext `json:"context"`
	CurrentAgent *string      `json:"current_agent"`
}

// Agent returns the current agent name, or "" if none was assigned yet.
func (s *ConversationState) Agent() string {
	if s == nil || s.CurrentAgent == nil {
		return ""
	}
	return *s.CurrentAgent
}

// SetAgent records name as the current agent.
func (s *ConversationState) SetAgent(name string) {
	s.CurrentAgent = &name
}

// Conversation is a persisted chat thread.
type Conversation struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	State     ConversationState `json:"state"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Message is a persisted conversation message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Agent          string    `json:"agent,omitempty"`
	Think          *string   `json:"think,omitempty"`
	FileID         string    `json:"file_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// File is an uploaded file that can be put in focus for a conversation.
type File struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Path        string    `json:"-"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// RunContext is the AgentContext shared by the engine's tools and the
// pipeline for the duration of one run.
type RunContext struct {
	mu    sync.RWMutex
	value AgentContext
}

func NewRunContext(v AgentContext) *RunContext {
	return &RunContext{value: v}
}

// Load returns a snapshot of the context.
func (c *RunContext) Load() AgentContext {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Update applies fn to the context under the write lock.
func (c *RunContext) Update(fn func(*AgentContext)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.value)
}
