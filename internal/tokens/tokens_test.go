package tokens

import (
	"strings"
	"testing"

	"github.com/tjfontaine/agentstream/internal/core/ports"
)

func msg(role, content string) ports.HistoryMessage {
	return ports.HistoryMessage{Role: role, Content: content}
}

func TestEstimator_CountMessages(t *testing.T) {
	e := NewEstimator()

	got, err := e.CountMessages("any", []ports.HistoryMessage{msg("user", "Hello, how are you?")})
	if err != nil {
		t.Fatalf("CountMessages() error = %v", err)
	}
	// (4 + 19 + 4) / 4
	if got != 6 {
		t.Errorf("CountMessages() = %d, want 6", got)
	}
}

func TestOpenAICounter_CountMessages(t *testing.T) {
	c := NewOpenAICounter()

	short, err := c.CountMessages("gpt-4o", []ports.HistoryMessage{msg("user", "Hello")})
	if err != nil {
		t.Fatalf("CountMessages() error = %v", err)
	}
	if short < tokensPerMessage+tokensPerRole+1 {
		t.Errorf("CountMessages() = %d, want at least overhead plus one token", short)
	}

	long, err := c.CountMessages("gpt-4o", []ports.HistoryMessage{
		msg("user", "Hello"),
		msg("assistant", strings.Repeat("lorem ipsum ", 50)),
	})
	if err != nil {
		t.Fatalf("CountMessages() error = %v", err)
	}
	if long <= short {
		t.Errorf("longer history counted %d, not more than %d", long, short)
	}
}

func TestOpenAICounter_SupportsModel(t *testing.T) {
	c := NewOpenAICounter()
	tests := []struct {
		model string
		want  bool
	}{
		{"gpt-4o-mini", true},
		{"gpt-3.5-turbo", true},
		{"o3-mini", true},
		{"claude-3-5-sonnet", false},
		{"llama3", false},
	}
	for _, tt := range tests {
		if got := c.SupportsModel(tt.model); got != tt.want {
			t.Errorf("SupportsModel(%q) = %v, want %v", tt.model, got, tt.want)
		}
	}
}

func TestEncodingFor(t *testing.T) {
	if encodingFor("gpt-4-turbo") != encodingFor("gpt-3.5-turbo") {
		t.Error("gpt-4 and gpt-3.5 should share cl100k_base")
	}
	if encodingFor("gpt-4o") == encodingFor("gpt-4") {
		t.Error("gpt-4o should not use the gpt-4 encoding")
	}
	if encodingFor("unknown-model") != encodingFor("gpt-5") {
		t.Error("unknown models should fall back to o200k_base")
	}
}

func TestRegistry_Counter(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Counter("gpt-4o").(*OpenAICounter); !ok {
		t.Error("gpt-4o should use the tiktoken counter")
	}
	if _, ok := r.Counter("mistral-large").(*Estimator); !ok {
		t.Error("unknown model should use the estimator")
	}
}

func TestRegistry_Trim(t *testing.T) {
	r := &Registry{fallback: NewEstimator()}

	// Each message costs (4 + 36 + 4) / 4 = 11 tokens under the estimator.
	body := strings.Repeat("x", 36)
	history := []ports.HistoryMessage{
		msg("user", body),
		msg("user", body),
		msg("user", body),
		msg("user", body),
	}

	tests := []struct {
		name   string
		budget int
		want   int
	}{
		{name: "disabled", budget: 0, want: 4},
		{name: "fits all", budget: 100, want: 4},
		{name: "fits two", budget: 25, want: 2},
		{name: "exact", budget: 33, want: 3},
		{name: "last message always kept", budget: 1, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Trim("local-model", history, tt.budget)
			if err != nil {
				t.Fatalf("Trim() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("Trim() kept %d messages, want %d", len(got), tt.want)
			}
		})
	}
}

func TestModelMatcher(t *testing.T) {
	m := NewModelMatcher([]string{"gpt-"}, []string{"davinci"})
	if !m.Matches("gpt-4") || !m.Matches("davinci") {
		t.Error("expected prefix and exact matches")
	}
	if m.Matches("davinci-002") || m.Matches("claude") {
		t.Error("unexpected match")
	}
}
