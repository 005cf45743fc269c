package ports

import (
	"context"
	"errors"

	"github.com/tjfontaine/agentstream/internal/core/domain"
)

// ErrNotFound is returned (wrapped) by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

// ConversationStore defines the interface for conversation storage
type ConversationStore interface {
	// CreateConversation creates a new conversation
	CreateConversation(ctx context.Context, conv *domain.Conversation) error

	// GetConversation retrieves a conversation by ID
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)

	// ListConversations lists conversations with filtering, sorting and pagination
	ListConversations(ctx context.Context, opts ListOptions) ([]*domain.Conversation, error)

	// CountConversations counts conversations matching the filter in opts
	CountConversations(ctx context.Context, opts ListOptions) (int, error)

	// UpdateConversationState replaces the persisted state of a conversation
	UpdateConversationState(ctx context.Context, id string, state domain.ConversationState) error

	// RenameConversation changes the display name of a conversation
	RenameConversation(ctx context.Context, id, name string) error

	// DeleteConversation deletes a conversation and its messages
	DeleteConversation(ctx context.Context, id string) error
}

// MessageStore defines the interface for message storage
type MessageStore interface {
	// CreateMessage appends a message to a conversation
	CreateMessage(ctx context.Context, msg *domain.Message) error

	// ListMessages returns a conversation's messages ordered by creation time
	ListMessages(ctx context.Context, conversationID string) ([]*domain.Message, error)
}

// FileStore defines the interface for uploaded file metadata
type FileStore interface {
	CreateFile(ctx context.Context, file *domain.File) error
	GetFile(ctx context.Context, id string) (*domain.File, error)
	// GetFiles returns the files among ids that exist; missing ids are skipped
	GetFiles(ctx context.Context, ids []string) ([]*domain.File, error)
}

// RunEventStore stores the run lifecycle audit log
type RunEventStore interface {
	AppendRunEvent(ctx context.Context, rec *domain.RunEventRecord) error
	ListRunEvents(ctx context.Context, runID string) ([]*domain.RunEventRecord, error)
}

// ListOptions defines options for listing conversations
type ListOptions struct {
	// Query filters by substring of the conversation name
	Query string
	// Name filters by exact conversation name
	Name      string
	SortField string // created_at, updated_at, name
	SortDesc  bool
	Limit     int
	Offset    int
}

// StorageProvider manages all storage operations.
// Implementations: SQLite (default), PostgreSQL, in-memory
type StorageProvider interface {
	ConversationStore
	MessageStore
	FileStore
	RunEventStore

	Close() error
}
