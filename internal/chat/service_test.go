package chat

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tjfontaine/agentstream/internal/agents"
	"github.com/tjfontaine/agentstream/internal/core/domain"
	"github.com/tjfontaine/agentstream/internal/core/ports"
	"github.com/tjfontaine/agentstream/internal/pkg/config"
	"github.com/tjfontaine/agentstream/internal/storage/memory"
	"github.com/tjfontaine/agentstream/internal/tokens"
)

// scriptedEngine replays events and records the input of every run.
type scriptedEngine struct {
	mu     sync.Mutex
	inputs []*ports.RunInput
	script func(in *ports.RunInput) []domain.RunEvent
	err    error
}

func (e *scriptedEngine) Run(ctx context.Context, in *ports.RunInput) iter.Seq2[domain.RunEvent, error] {
	e.mu.Lock()
	e.inputs = append(e.inputs, in)
	e.mu.Unlock()

	return func(yield func(domain.RunEvent, error) bool) {
		for _, ev := range e.script(in) {
			if !yield(ev, nil) {
				return
			}
		}
		if e.err != nil {
			yield(nil, e.err)
		}
	}
}

func (e *scriptedEngine) lastInput() *ports.RunInput {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inputs[len(e.inputs)-1]
}

func fixed(events ...domain.RunEvent) func(*ports.RunInput) []domain.RunEvent {
	return func(*ports.RunInput) []domain.RunEvent { return events }
}

func agentUpdated(name string) domain.RunEvent {
	return domain.AgentUpdatedEvent{NewAgent: domain.AgentRef{Name: name}}
}

func messageOutput(agent, text string) domain.RunEvent {
	return domain.RunItemEvent{Name: domain.RunItemMessageOutputCreated, Item: domain.MessageOutputItem{
		Agent:   domain.AgentRef{Name: agent},
		Content: []domain.ContentBlock{{Type: domain.ContentTypeOutputText, Text: text}},
	}}
}

func toolCalled(name, id, args string) domain.RunEvent {
	return domain.RunItemEvent{Name: domain.RunItemToolCalled, Item: domain.ToolCallItem{Name: name, CallID: id, Arguments: args}}
}

func toolOutput(id, output string) domain.RunEvent {
	return domain.RunItemEvent{Name: domain.RunItemToolOutput, Item: domain.ToolOutputItem{
		RawItem: map[string]any{"call_id": id, "output": output},
	}}
}

func newTestService(t *testing.T, engine ports.Engine) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	roster, err := agents.NewRegistry([]config.AgentConfig{
		{Name: "A", Handoffs: []string{"B"}},
		{Name: "B"},
	}, "A")
	if err != nil {
		t.Fatal(err)
	}
	svc, err := NewService(Options{Store: store, Engine: engine, Agents: roster})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc, store
}

func drain(t *testing.T, run *Run) []domain.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out []domain.Event
	for rec := range run.Records(ctx) {
		ev, err := domain.DecodeEvent(rec)
		if err != nil {
			t.Fatalf("DecodeEvent(%q) error = %v", rec, err)
		}
		out = append(out, ev)
	}
	if err := run.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	return out
}

func assistantMessages(t *testing.T, store *memory.Store, convID string) []*domain.Message {
	t.Helper()
	msgs, err := store.ListMessages(context.Background(), convID)
	if err != nil {
		t.Fatal(err)
	}
	var out []*domain.Message
	for _, m := range msgs {
		if m.Role == domain.RoleAssistant {
			out = append(out, m)
		}
	}
	return out
}

func TestService_EndToEnd(t *testing.T) {
	engine := &scriptedEngine{script: fixed(
		agentUpdated("A"),
		messageOutput("A", "<think>plan</think>Hello"),
		toolCalled("search", "id1", "{}"),
		toolOutput("id1", "result"),
	)}
	svc, store := newTestService(t, engine)

	run, err := svc.Start(context.Background(), &Request{Message: "hi there"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !run.Created || !strings.HasPrefix(run.ConversationID, "conv_") {
		t.Errorf("run = %+v, want a created conversation", run)
	}

	events := drain(t, run)
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4", len(events))
	}

	if ac, ok := events[0].(*domain.AgentChanged); !ok || ac.CurrentAgent != "A" {
		t.Errorf("events[0] = %#v", events[0])
	}
	nm, ok := events[1].(*domain.NewMessage)
	if !ok || nm.Content != "Hello" || nm.Think == nil || *nm.Think != "plan" || nm.Agent != "A" {
		t.Errorf("events[1] = %#v", events[1])
	}
	if tc, ok := events[2].(*domain.ToolCalled); !ok || tc.ToolName != "search" || tc.ToolCallID != "id1" || tc.Args != "{}" {
		t.Errorf("events[2] = %#v", events[2])
	}
	if to, ok := events[3].(*domain.ToolCallOutput); !ok || to.CallID != "id1" || to.Output != "result" {
		t.Errorf("events[3] = %#v", events[3])
	}

	persisted := assistantMessages(t, store, run.ConversationID)
	if len(persisted) != 1 || persisted[0].Content != "Hello" || persisted[0].Agent != "A" {
		t.Fatalf("persisted assistant messages = %+v, want exactly one Hello", persisted)
	}
	if persisted[0].Think == nil || *persisted[0].Think != "plan" {
		t.Errorf("persisted think = %v", persisted[0].Think)
	}

	conv, _ := store.GetConversation(context.Background(), run.ConversationID)
	if conv.State.Agent() != "A" {
		t.Errorf("persisted agent = %q, want A", conv.State.Agent())
	}
	if conv.Name != "hi there" {
		t.Errorf("conversation name = %q", conv.Name)
	}
}

func TestService_UnknownConversation(t *testing.T) {
	engine := &scriptedEngine{script: fixed()}
	svc, _ := newTestService(t, engine)

	_, err := svc.Start(context.Background(), &Request{ConversationID: "conv_missing", Message: "hi"})
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != domain.ErrorCodeConversationNotFound {
		t.Fatalf("Start() error = %v, want conversation_not_found", err)
	}
	if len(engine.inputs) != 0 {
		t.Error("engine must not run for an unknown conversation")
	}
}

func TestService_EmptyMessage(t *testing.T) {
	svc, _ := newTestService(t, &scriptedEngine{script: fixed()})

	_, err := svc.Start(context.Background(), &Request{Message: "   "})
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != domain.ErrorCodeEmptyMessage {
		t.Fatalf("Start() error = %v, want empty_message", err)
	}
}

func TestService_ResumesPersistedAgent(t *testing.T) {
	engine := &scriptedEngine{script: fixed(
		agentUpdated("B"),
		messageOutput("B", "still me"),
	)}
	svc, store := newTestService(t, engine)
	ctx := context.Background()

	b := "B"
	conv := &domain.Conversation{ID: "conv_1", Name: "x", State: domain.ConversationState{CurrentAgent: &b}}
	if err := store.CreateConversation(ctx, conv); err != nil {
		t.Fatal(err)
	}

	run, err := svc.Start(ctx, &Request{ConversationID: "conv_1", Message: "again"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if run.Created {
		t.Error("existing conversation reported as created")
	}
	events := drain(t, run)

	if got := engine.lastInput().Agent; got != "B" {
		t.Errorf("run started with agent %q, want persisted B", got)
	}
	// The repeated agent report is suppressed.
	if len(events) != 1 {
		t.Fatalf("got %d events, want only the message", len(events))
	}
	if _, ok := events[0].(*domain.NewMessage); !ok {
		t.Errorf("events[0] = %#v", events[0])
	}
}

func TestService_HandoffPersistsAgent(t *testing.T) {
	engine := &scriptedEngine{script: fixed(
		agentUpdated("A"),
		domain.RunItemEvent{Name: domain.RunItemHandoffOccured, Item: domain.HandoffItem{
			SourceAgent: domain.AgentRef{Name: "A"},
			TargetAgent: domain.AgentRef{Name: "B"},
		}},
		agentUpdated("B"),
		messageOutput("B", "hello from B"),
	)}
	svc, store := newTestService(t, engine)

	run, err := svc.Start(context.Background(), &Request{Message: "transfer me"})
	if err != nil {
		t.Fatal(err)
	}
	events := drain(t, run)

	var changes []string
	for _, ev := range events {
		if ac, ok := ev.(*domain.AgentChanged); ok {
			changes = append(changes, ac.CurrentAgent)
		}
	}
	if got := strings.Join(changes, ","); got != "A,B" {
		t.Errorf("agent changes = %s, want A,B", got)
	}

	conv, _ := store.GetConversation(context.Background(), run.ConversationID)
	if conv.State.Agent() != "B" {
		t.Errorf("persisted agent = %q, want B", conv.State.Agent())
	}
	if run.Stats().FinalAgent != "B" {
		t.Errorf("final agent = %q", run.Stats().FinalAgent)
	}
}

func TestService_FileContext(t *testing.T) {
	// The script mimics a tool that moves the focus to another file.
	engine := &scriptedEngine{script: func(in *ports.RunInput) []domain.RunEvent {
		in.Context.Update(func(c *domain.AgentContext) { c.CurrentFileID = "file_2" })
		return []domain.RunEvent{
			agentUpdated("A"),
			toolCalled(agents.ToolSetCurrentFileID, "c1", `{"current_file_id":"file_2"}`),
			toolOutput("c1", "true"),
		}
	}}
	svc, store := newTestService(t, engine)
	ctx := context.Background()

	for _, id := range []string{"file_1", "file_2"} {
		if err := store.CreateFile(ctx, &domain.File{ID: id, Name: id + ".txt"}); err != nil {
			t.Fatal(err)
		}
	}

	run, err := svc.Start(ctx, &Request{Message: "look at this", FileID: "file_1"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	drain(t, run)
	if got := engine.lastInput().Context; got == nil {
		t.Fatal("engine got no run context")
	}

	msgs, _ := store.ListMessages(ctx, run.ConversationID)
	if msgs[0].Role != domain.RoleUser || msgs[0].FileID != "file_1" {
		t.Errorf("user message = %+v, want file_1 attached", msgs[0])
	}
	conv, _ := store.GetConversation(ctx, run.ConversationID)
	if conv.State.Context.CurrentFileID != "file_2" {
		t.Errorf("persisted file = %q, want file_2 from the tool", conv.State.Context.CurrentFileID)
	}
}

func TestService_UnknownFile(t *testing.T) {
	svc, _ := newTestService(t, &scriptedEngine{script: fixed()})

	_, err := svc.Start(context.Background(), &Request{Message: "hi", FileID: "file_nope"})
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != domain.ErrorCodeFileNotFound {
		t.Fatalf("Start() error = %v, want file_not_found", err)
	}
}

func TestService_UpstreamFailure(t *testing.T) {
	engine := &scriptedEngine{
		script: fixed(agentUpdated("A"), messageOutput("A", "partial")),
		err:    errors.New("model unavailable"),
	}
	svc, store := newTestService(t, engine)

	run, err := svc.Start(context.Background(), &Request{Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	n := 0
	for range run.Records(ctx) {
		n++
	}
	if n != 2 {
		t.Errorf("got %d records before close, want 2", n)
	}
	if err := run.Wait(ctx); err == nil || !strings.Contains(err.Error(), "model unavailable") {
		t.Errorf("Wait() error = %v", err)
	}
	if got := assistantMessages(t, store, run.ConversationID); len(got) != 1 {
		t.Errorf("persisted %d assistant messages, want 1", len(got))
	}
}

func TestService_HistoryAndTrim(t *testing.T) {
	engine := &scriptedEngine{script: fixed(messageOutput("A", strings.Repeat("answer ", 40)))}
	store := memory.New()
	roster, _ := agents.NewRegistry([]config.AgentConfig{{Name: "A"}}, "A")
	svc, err := NewService(Options{
		Store:         store,
		Engine:        engine,
		Agents:        roster,
		Tokens:        tokens.NewRegistry(),
		Model:         "local-model",
		HistoryBudget: 30,
	})
	if err != nil {
		t.Fatal(err)
	}

	run, err := svc.Start(context.Background(), &Request{Message: "first"})
	if err != nil {
		t.Fatal(err)
	}
	drain(t, run)

	run, err = svc.Start(context.Background(), &Request{ConversationID: run.ConversationID, Message: "second"})
	if err != nil {
		t.Fatal(err)
	}
	drain(t, run)

	hist := engine.lastInput().History
	if len(hist) == 0 || hist[len(hist)-1].Content != "second" {
		t.Fatalf("history = %+v, want the new message last", hist)
	}
	// The long assistant answer does not fit the budget and is trimmed.
	if len(hist) != 1 {
		t.Errorf("history kept %d messages, want 1", len(hist))
	}
}

func TestConversationName(t *testing.T) {
	if got := ConversationName("  hello   world \n"); got != "hello world" {
		t.Errorf("ConversationName() = %q", got)
	}
	long := strings.Repeat("é", 60)
	if got := ConversationName(long); got != strings.Repeat("é", conversationNameLen)+"..." {
		t.Errorf("ConversationName() = %q", got)
	}
}

func TestService_Drain(t *testing.T) {
	release := make(chan struct{})
	engine := ports.EngineFunc(func(ctx context.Context, in *ports.RunInput) iter.Seq2[domain.RunEvent, error] {
		return func(yield func(domain.RunEvent, error) bool) {
			<-release
			yield(agentUpdated("A"), nil)
		}
	})
	svc, _ := newTestService(t, engine)

	run, err := svc.Start(context.Background(), &Request{Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	run.Detach()

	if svc.Active() != 1 {
		t.Errorf("Active() = %d, want 1", svc.Active())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := svc.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Drain() with a blocked run = %v, want deadline exceeded", err)
	}

	close(release)
	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := svc.Drain(ctx2); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if svc.Active() != 0 {
		t.Errorf("Active() = %d after drain", svc.Active())
	}
}
