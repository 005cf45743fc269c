package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tjfontaine/agentstream/internal/core/domain"
	"github.com/tjfontaine/agentstream/internal/core/ports"
)

func TestNewProvider(t *testing.T) {
	provider, err := NewProvider(":memory:")
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	if provider == nil {
		t.Fatal("NewProvider returned nil")
	}
	defer provider.Close()

	var _ ports.StorageProvider = provider
}

func TestNewProvider_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "agentstream.db")

	provider, err := NewProvider(path)
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	defer provider.Close()

	ctx := context.Background()
	if err := provider.CreateConversation(ctx, &domain.Conversation{ID: "c1"}); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if _, err := provider.GetConversation(ctx, "c1"); err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
}

func TestIsFilePath(t *testing.T) {
	tests := map[string]bool{
		"":                              false,
		":memory:":                      false,
		"file:test?mode=memory":         false,
		"data/agentstream.db":           true,
		"/var/lib/agentstream/store.db": true,
	}
	for in, want := range tests {
		if got := isFilePath(in); got != want {
			t.Errorf("isFilePath(%q) = %v, want %v", in, got, want)
		}
	}
}
