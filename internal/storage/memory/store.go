package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tjfontaine/agentstream/internal/core/domain"
	"github.com/tjfontaine/agentstream/internal/storage"
)

// Store is an in-memory implementation of storage.Provider. Records are
// copied in and out so callers never share memory with the store.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*domain.Conversation
	messages      map[string][]*domain.Message
	files         map[string]*domain.File
	runEvents     map[string][]*domain.RunEventRecord
}

var _ storage.Provider = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		conversations: make(map[string]*domain.Conversation),
		messages:      make(map[string][]*domain.Message),
		files:         make(map[string]*domain.File),
		runEvents:     make(map[string][]*domain.RunEventRecord),
	}
}

func (s *Store) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[conv.ID]; exists {
		return fmt.Errorf("conversation %s already exists", conv.ID)
	}

	now := time.Now().UTC()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	s.conversations[conv.ID] = cloneConversation(conv)
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, exists := s.conversations[id]
	if !exists {
		return nil, fmt.Errorf("conversation %s: %w", id, storage.ErrNotFound)
	}
	return cloneConversation(conv), nil
}

func (s *Store) ListConversations(ctx context.Context, opts storage.ListOptions) ([]*domain.Conversation, error) {
	s.mu.RLock()
	result := s.filter(opts)
	s.mu.RUnlock()

	var cmp func(a, b *domain.Conversation) int
	switch opts.SortField {
	case "", "updated_at":
		cmp = func(a, b *domain.Conversation) int { return a.UpdatedAt.Compare(b.UpdatedAt) }
	case "created_at":
		cmp = func(a, b *domain.Conversation) int { return a.CreatedAt.Compare(b.CreatedAt) }
	case "name":
		cmp = func(a, b *domain.Conversation) int { return strings.Compare(a.Name, b.Name) }
	default:
		return nil, fmt.Errorf("invalid sort field %q", opts.SortField)
	}
	slices.SortStableFunc(result, func(a, b *domain.Conversation) int {
		c := cmp(a, b)
		if c == 0 {
			c = strings.Compare(a.ID, b.ID)
		}
		if opts.SortDesc {
			return -c
		}
		return c
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if opts.Offset >= len(result) {
		return []*domain.Conversation{}, nil
	}
	result = result[opts.Offset:]
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CountConversations(ctx context.Context, opts storage.ListOptions) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.filter(opts)), nil
}

// filter must be called with the read lock held.
func (s *Store) filter(opts storage.ListOptions) []*domain.Conversation {
	query := strings.ToLower(opts.Query)
	var result []*domain.Conversation
	for _, conv := range s.conversations {
		if opts.Name != "" && conv.Name != opts.Name {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(conv.Name), query) {
			continue
		}
		result = append(result, cloneConversation(conv))
	}
	return result
}

func (s *Store) UpdateConversationState(ctx context.Context, id string, state domain.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[id]
	if !exists {
		return fmt.Errorf("conversation %s: %w", id, storage.ErrNotFound)
	}
	conv.State = cloneState(state)
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) RenameConversation(ctx context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[id]
	if !exists {
		return fmt.Errorf("conversation %s: %w", id, storage.ErrNotFound)
	}
	conv.Name = name
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[id]; !exists {
		return fmt.Errorf("conversation %s: %w", id, storage.ErrNotFound)
	}
	delete(s.conversations, id)
	delete(s.messages, id)
	return nil
}

func (s *Store) CreateMessage(ctx context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[msg.ConversationID]
	if !exists {
		return fmt.Errorf("conversation %s: %w", msg.ConversationID, storage.ErrNotFound)
	}

	msg.CreatedAt = time.Now().UTC()
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], cloneMessage(msg))
	conv.UpdatedAt = msg.CreatedAt
	return nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[conversationID]
	out := make([]*domain.Message, len(msgs))
	for i, m := range msgs {
		out[i] = cloneMessage(m)
	}
	return out, nil
}

func (s *Store) CreateFile(ctx context.Context, file *domain.File) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.files[file.ID]; exists {
		return fmt.Errorf("file %s already exists", file.ID)
	}
	file.CreatedAt = time.Now().UTC()
	f := *file
	s.files[file.ID] = &f
	return nil
}

func (s *Store) GetFile(ctx context.Context, id string) (*domain.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, exists := s.files[id]
	if !exists {
		return nil, fmt.Errorf("file %s: %w", id, storage.ErrNotFound)
	}
	out := *f
	return &out, nil
}

func (s *Store) GetFiles(ctx context.Context, ids []string) ([]*domain.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.File
	for _, id := range ids {
		if f, exists := s.files[id]; exists {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) AppendRunEvent(ctx context.Context, rec *domain.RunEventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	cp := *rec
	s.runEvents[rec.RunID] = append(s.runEvents[rec.RunID], &cp)
	return nil
}

func (s *Store) ListRunEvents(ctx context.Context, runID string) ([]*domain.RunEventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.runEvents[runID]
	out := make([]*domain.RunEventRecord, len(events))
	for i, e := range events {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

func (s *Store) Close() error {
	return nil
}

func cloneConversation(c *domain.Conversation) *domain.Conversation {
	out := *c
	out.State = cloneState(c.State)
	return &out
}

func cloneState(st domain.ConversationState) domain.ConversationState {
	if st.CurrentAgent != nil {
		st.SetAgent(*st.CurrentAgent)
	}
	return st
}

func cloneMessage(m *domain.Message) *domain.Message {
	out := *m
	if m.Think != nil {
		think := *m.Think
		out.Think = &think
	}
	return &out
}
