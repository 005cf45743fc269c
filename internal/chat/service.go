// Package chat starts pipeline runs for chat requests. It checks the
// conversation precondition, records the user turn, loads history, and wires
// the persistence side effects into the pipeline's dispatcher.
package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/agentstream/internal/core/domain"
	"github.com/tjfontaine/agentstream/internal/core/ports"
	"github.com/tjfontaine/agentstream/internal/pipeline"
	"github.com/tjfontaine/agentstream/internal/tokens"
)

// conversationNameLen bounds the name derived from a conversation's first message.
const conversationNameLen = 48

// Store is the persistence the chat service needs.
type Store interface {
	ports.ConversationStore
	ports.MessageStore
	ports.FileStore
}

// Request is a chat turn submitted by a client.
type Request struct {
	ConversationID string `json:"conversation_id,omitempty"`
	FileID         string `json:"file_id,omitempty"`
	Message        string `json:"message"`

	// RequestID correlates the run's logs with the HTTP request.
	RequestID string `json:"-"`
}

// Options wires a Service.
type Options struct {
	Store     Store
	Engine    ports.Engine
	Agents    ports.AgentDirectory
	Publisher ports.EventPublisher
	Logger    *slog.Logger
	Tracer    trace.Tracer

	// Tokens and HistoryBudget trim history before a run. A zero budget
	// disables trimming.
	Tokens        *tokens.Registry
	Model         string
	HistoryBudget int

	ChannelCapacity int
	Overflow        pipeline.OverflowPolicy
	RunTimeout      time.Duration
}

// Service starts chat runs.
type Service struct {
	opts   Options
	logger *slog.Logger

	runs   sync.WaitGroup
	active atomic.Int64
}

// NewService validates opts and returns a Service.
func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("chat: store is required")
	}
	if opts.Engine == nil {
		return nil, errors.New("chat: engine is required")
	}
	if opts.Agents == nil {
		return nil, errors.New("chat: agent directory is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{opts: opts, logger: logger}, nil
}

// Run is a started chat run. The embedded pipeline delivers its records.
type Run struct {
	*pipeline.Pipeline

	ID             string
	ConversationID string
	// Created is true when the request had no conversation id.
	Created bool
}

// Start checks the request, records the user message and launches the run.
// Errors returned here happen before any engine work and are *domain.APIError
// when caused by the request.
func (s *Service) Start(ctx context.Context, req *Request) (*Run, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, domain.ErrInvalidRequest("message must not be empty").
			WithCode(domain.ErrorCodeEmptyMessage).
			WithParam("message")
	}

	conv, created, err := s.conversation(ctx, req)
	if err != nil {
		return nil, err
	}
	state := conv.State

	if req.FileID != "" {
		if _, err := s.opts.Store.GetFile(ctx, req.FileID); err != nil {
			if errors.Is(err, ports.ErrNotFound) {
				return nil, domain.ErrNotFound(fmt.Sprintf("file %s not found", req.FileID)).
					WithCode(domain.ErrorCodeFileNotFound).
					WithParam("file_id")
			}
			return nil, fmt.Errorf("get file: %w", err)
		}
		state.Context.CurrentFileID = req.FileID
		if err := s.opts.Store.UpdateConversationState(ctx, conv.ID, state); err != nil {
			return nil, fmt.Errorf("update conversation state: %w", err)
		}
	}

	userMsg := &domain.Message{
		ID:             "msg_" + uuid.New().String(),
		ConversationID: conv.ID,
		Role:           domain.RoleUser,
		Content:        req.Message,
		FileID:         req.FileID,
		CreatedAt:      time.Now(),
	}
	if err := s.opts.Store.CreateMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("create user message: %w", err)
	}

	history, err := s.history(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	runID := "run_" + uuid.New().String()
	agent := s.opts.Agents.Resolve(state.Agent())
	rc := domain.NewRunContext(state.Context)

	classifier := pipeline.NewClassifier(&state)
	dispatcher := pipeline.NewDispatcher()
	if err := s.registerSideEffects(dispatcher, conv.ID, classifier.State(), rc); err != nil {
		return nil, err
	}

	p, err := pipeline.New(pipeline.Config{
		Classifier: classifier,
		Dispatcher: dispatcher,
		Channel: pipeline.NewChannel(
			pipeline.WithCapacity(s.opts.ChannelCapacity),
			pipeline.WithOverflow(s.opts.Overflow),
		),
		Logger:         s.logger,
		Tracer:         s.opts.Tracer,
		Publisher:      s.opts.Publisher,
		RunID:          runID,
		ConversationID: conv.ID,
		RequestID:      req.RequestID,
		RunTimeout:     s.opts.RunTimeout,
	})
	if err != nil {
		return nil, err
	}

	in := &ports.RunInput{Agent: agent, History: history, Context: rc}
	src := func(ctx context.Context) iter.Seq2[domain.RunEvent, error] {
		return s.opts.Engine.Run(ctx, in)
	}
	if err := p.Start(ctx, src); err != nil {
		return nil, err
	}
	s.track(p)

	s.logger.Info("chat run started",
		slog.String("run_id", runID),
		slog.String("conversation_id", conv.ID),
		slog.String("agent", agent),
		slog.Int("history", len(history)),
		slog.Bool("created", created),
	)

	return &Run{Pipeline: p, ID: runID, ConversationID: conv.ID, Created: created}, nil
}

func (s *Service) track(p *pipeline.Pipeline) {
	s.active.Add(1)
	s.runs.Add(1)
	go func() {
		<-p.Done()
		s.active.Add(-1)
		s.runs.Done()
	}()
}

// Active reports the number of runs whose producer has not finished.
func (s *Service) Active() int {
	return int(s.active.Load())
}

// Drain waits for every started run to finish, or for ctx to end.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain %d runs: %w", s.Active(), ctx.Err())
	}
}

// conversation returns the conversation named by req, or a new one when req
// names none.
func (s *Service) conversation(ctx context.Context, req *Request) (*domain.Conversation, bool, error) {
	if req.ConversationID != "" {
		conv, err := s.opts.Store.GetConversation(ctx, req.ConversationID)
		if err != nil {
			if errors.Is(err, ports.ErrNotFound) {
				return nil, false, domain.ErrConversationNotFound(req.ConversationID)
			}
			return nil, false, fmt.Errorf("get conversation: %w", err)
		}
		return conv, false, nil
	}

	now := time.Now()
	conv := &domain.Conversation{
		ID:        "conv_" + uuid.New().String(),
		Name:      ConversationName(req.Message),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.opts.Store.CreateConversation(ctx, conv); err != nil {
		return nil, false, fmt.Errorf("create conversation: %w", err)
	}
	return conv, true, nil
}

func (s *Service) history(ctx context.Context, conversationID string) ([]ports.HistoryMessage, error) {
	msgs, err := s.opts.Store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	history := make([]ports.HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, ports.HistoryMessage{Role: m.Role, Content: m.Content})
	}

	if s.opts.Tokens == nil || s.opts.HistoryBudget <= 0 {
		return history, nil
	}
	trimmed, err := s.opts.Tokens.Trim(s.opts.Model, history, s.opts.HistoryBudget)
	if err != nil {
		return nil, fmt.Errorf("trim history: %w", err)
	}
	if dropped := len(history) - len(trimmed); dropped > 0 {
		s.logger.Debug("history trimmed to token budget",
			slog.String("conversation_id", conversationID),
			slog.Int("dropped", dropped),
			slog.Int("budget", s.opts.HistoryBudget),
		)
	}
	return trimmed, nil
}

// ConversationName derives a display name from the first user message.
func ConversationName(message string) string {
	name := strings.Join(strings.Fields(message), " ")
	if utf8.RuneCountInString(name) <= conversationNameLen {
		return name
	}
	runes := []rune(name)
	return string(runes[:conversationNameLen]) + "..."
}
