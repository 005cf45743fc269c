package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/agentstream/internal/core/domain"
	"github.com/tjfontaine/agentstream/internal/pipeline"
)

// registerSideEffects installs the persistence handlers for one run. state is
// the classifier's conversation state and rc the context shared with the
// engine's tools; both are only touched on the producer goroutine.
func (s *Service) registerSideEffects(d *pipeline.Dispatcher, conversationID string, state *domain.ConversationState, rc *domain.RunContext) error {
	persisted := rc.Load()

	saveState := func(ctx context.Context) error {
		state.Context = rc.Load()
		if err := s.opts.Store.UpdateConversationState(ctx, conversationID, *state); err != nil {
			return fmt.Errorf("update conversation state: %w", err)
		}
		persisted = state.Context
		return nil
	}

	handlers := map[domain.EventName]pipeline.Handler{
		domain.EventNewMessage: func(ctx context.Context, ev domain.Event) error {
			m, ok := ev.(*domain.NewMessage)
			if !ok {
				return fmt.Errorf("unexpected event %T", ev)
			}
			return s.opts.Store.CreateMessage(ctx, &domain.Message{
				ID:             "msg_" + uuid.New().String(),
				ConversationID: conversationID,
				Role:           domain.RoleAssistant,
				Content:        m.Content,
				Think:          m.Think,
				Agent:          m.Agent,
				CreatedAt:      time.Now(),
			})
		},
		domain.EventAgentChanged: func(ctx context.Context, _ domain.Event) error {
			return saveState(ctx)
		},
		domain.EventToolCallOutput: func(ctx context.Context, _ domain.Event) error {
			if rc.Load() == persisted {
				return nil
			}
			return saveState(ctx)
		},
	}

	for name, h := range handlers {
		if err := d.Register(name, h); err != nil {
			return err
		}
	}
	return nil
}
