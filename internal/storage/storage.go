// Package storage re-exports the storage ports so store implementations and
// their callers share one import.
package storage

import (
	"github.com/tjfontaine/agentstream/internal/core/ports"
)

// Re-export storage interfaces and types from core/ports.
type (
	ConversationStore = ports.ConversationStore
	MessageStore      = ports.MessageStore
	FileStore         = ports.FileStore
	RunEventStore     = ports.RunEventStore
	Provider          = ports.StorageProvider
	ListOptions       = ports.ListOptions
)

// ErrNotFound is reported (wrapped) when a record does not exist.
var ErrNotFound = ports.ErrNotFound
