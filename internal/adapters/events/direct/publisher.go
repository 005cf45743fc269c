// Package direct provides a direct event publisher that writes to storage.
package direct

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/tjfontaine/agentstream/internal/core/domain"
	"github.com/tjfontaine/agentstream/internal/core/ports"
)

// Publisher implements ports.EventPublisher by writing directly to storage.
// This is the default implementation for single-instance deployments.
type Publisher struct {
	store ports.RunEventStore
}

// NewPublisher creates a new direct event publisher.
func NewPublisher(store ports.RunEventStore) (*Publisher, error) {
	if store == nil {
		return nil, fmt.Errorf("storage provider required")
	}

	return &Publisher{
		store: store,
	}, nil
}

// Publish writes a lifecycle event directly to the run_events table.
func (p *Publisher) Publish(ctx context.Context, event *domain.LifecycleEvent) error {
	if event == nil {
		return fmt.Errorf("nil lifecycle event")
	}

	rec := &domain.RunEventRecord{
		ID:             "evt_" + uuid.New().String(),
		RunID:          event.RunID,
		ConversationID: event.ConversationID,
		Type:           string(event.Type),
		CreatedAt:      event.Timestamp.UTC(),
	}

	if event.Data != nil {
		data, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal %s data: %w", event.Type, err)
		}
		rec.Data = string(data)
	}

	return p.store.AppendRunEvent(ctx, rec)
}

// Close is a no-op for direct publisher.
func (p *Publisher) Close() error {
	return nil
}

var _ ports.EventPublisher = (*Publisher)(nil)
