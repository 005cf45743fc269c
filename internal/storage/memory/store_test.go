package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tjfontaine/agentstream/internal/core/domain"
	"github.com/tjfontaine/agentstream/internal/storage"
)

func TestMemoryStore_CreateConversation(t *testing.T) {
	store := New()
	ctx := context.Background()

	conv := &domain.Conversation{ID: "test-conv-1", Name: "hello"}
	if err := store.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	if err := store.CreateConversation(ctx, &domain.Conversation{ID: "test-conv-1"}); err == nil {
		t.Error("expected error for duplicate conversation")
	}

	retrieved, err := store.GetConversation(ctx, "test-conv-1")
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if retrieved.Name != "hello" {
		t.Errorf("Name = %v, want hello", retrieved.Name)
	}

	if _, err := store.GetConversation(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetConversation missing = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := New()
	ctx := context.Background()
	_ = store.CreateConversation(ctx, &domain.Conversation{ID: "c"})

	var state domain.ConversationState
	state.SetAgent("triage")
	_ = store.UpdateConversationState(ctx, "c", state)

	got, _ := store.GetConversation(ctx, "c")
	*got.State.CurrentAgent = "mutated"

	again, _ := store.GetConversation(ctx, "c")
	if again.State.Agent() != "triage" {
		t.Errorf("stored agent = %q, caller mutation leaked", again.State.Agent())
	}
}

func TestMemoryStore_Messages(t *testing.T) {
	store := New()
	ctx := context.Background()
	_ = store.CreateConversation(ctx, &domain.Conversation{ID: "c"})

	think := "plan"
	if err := store.CreateMessage(ctx, &domain.Message{ID: "m1", ConversationID: "c", Role: domain.RoleUser, Content: "Hello"}); err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}
	if err := store.CreateMessage(ctx, &domain.Message{ID: "m2", ConversationID: "c", Role: domain.RoleAssistant, Content: "Hi", Think: &think}); err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}

	msgs, _ := store.ListMessages(ctx, "c")
	if len(msgs) != 2 {
		t.Fatalf("Messages count = %d, want 2", len(msgs))
	}
	if msgs[0].Content != "Hello" || msgs[1].Think == nil || *msgs[1].Think != "plan" {
		t.Errorf("messages = %+v, %+v", msgs[0], msgs[1])
	}

	err := store.CreateMessage(ctx, &domain.Message{ID: "m3", ConversationID: "missing"})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("CreateMessage missing = %v, want ErrNotFound", err)
	}

	if err := store.DeleteConversation(ctx, "c"); err != nil {
		t.Fatalf("DeleteConversation() error = %v", err)
	}
	if msgs, _ := store.ListMessages(ctx, "c"); len(msgs) != 0 {
		t.Errorf("messages survived delete: %d", len(msgs))
	}
	if err := store.DeleteConversation(ctx, "c"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_ListConversations(t *testing.T) {
	store := New()
	ctx := context.Background()
	for _, name := range []string{"alpha", "beta", "Alphabet"} {
		_ = store.CreateConversation(ctx, &domain.Conversation{ID: name, Name: name})
		time.Sleep(time.Millisecond)
	}

	got, err := store.ListConversations(ctx, storage.ListOptions{SortField: "created_at"})
	if err != nil {
		t.Fatalf("ListConversations() error = %v", err)
	}
	if len(got) != 3 || got[0].Name != "alpha" || got[2].Name != "Alphabet" {
		t.Errorf("created_at order = %v", names(got))
	}

	got, _ = store.ListConversations(ctx, storage.ListOptions{Query: "ALPHA", SortField: "name"})
	if len(got) != 2 || got[0].Name != "Alphabet" || got[1].Name != "alpha" {
		t.Errorf("query results = %v", names(got))
	}

	got, _ = store.ListConversations(ctx, storage.ListOptions{SortField: "created_at", SortDesc: true, Limit: 1, Offset: 1})
	if len(got) != 1 || got[0].Name != "beta" {
		t.Errorf("paged results = %v", names(got))
	}

	got, _ = store.ListConversations(ctx, storage.ListOptions{Offset: 10})
	if len(got) != 0 {
		t.Errorf("offset past end = %v", names(got))
	}

	if n, _ := store.CountConversations(ctx, storage.ListOptions{Name: "beta"}); n != 1 {
		t.Errorf("CountConversations = %d, want 1", n)
	}
	if _, err := store.ListConversations(ctx, storage.ListOptions{SortField: "bogus"}); err == nil {
		t.Error("expected error for invalid sort field")
	}
}

func TestMemoryStore_FilesAndRunEvents(t *testing.T) {
	store := New()
	ctx := context.Background()

	_ = store.CreateFile(ctx, &domain.File{ID: "f1", Name: "a.txt"})
	if _, err := store.GetFile(ctx, "f1"); err != nil {
		t.Fatalf("GetFile() error = %v", err)
	}
	if _, err := store.GetFile(ctx, "f2"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetFile missing = %v", err)
	}
	if files, _ := store.GetFiles(ctx, []string{"f1", "f2"}); len(files) != 1 {
		t.Errorf("GetFiles = %d, want 1", len(files))
	}

	_ = store.AppendRunEvent(ctx, &domain.RunEventRecord{ID: "e1", RunID: "r1", Type: "run.started"})
	_ = store.AppendRunEvent(ctx, &domain.RunEventRecord{ID: "e2", RunID: "r1", Type: "run.completed"})
	events, _ := store.ListRunEvents(ctx, "r1")
	if len(events) != 2 || events[1].Type != "run.completed" {
		t.Errorf("run events = %+v", events)
	}
}

func names(convs []*domain.Conversation) []string {
	out := make([]string, len(convs))
	for i, c := range convs {
		out[i] = c.Name
	}
	return out
}
