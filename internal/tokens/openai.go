package tokens

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/tjfontaine/agentstream/internal/core/ports"
)

// Chat format overhead: 3 tokens per message plus 1 for the role.
const (
	tokensPerMessage = 3
	tokensPerRole    = 1
)

// OpenAICounter counts tokens for OpenAI chat models using tiktoken.
type OpenAICounter struct {
	matcher *ModelMatcher

	mu     sync.RWMutex
	codecs map[tokenizer.Encoding]tokenizer.Codec
}

func NewOpenAICounter() *OpenAICounter {
	return &OpenAICounter{
		// "o" series: o1, o3, o4 reasoning models
		matcher: NewModelMatcher([]string{"gpt-", "o1", "o3", "o4", "chatgpt-"}, nil),
		codecs:  make(map[tokenizer.Encoding]tokenizer.Codec),
	}
}

func (c *OpenAICounter) SupportsModel(model string) bool {
	return c.matcher.Matches(model)
}

// CountMessages counts msgs in the chat wire format of model.
func (c *OpenAICounter) CountMessages(model string, msgs []ports.HistoryMessage) (int, error) {
	codec, err := c.codec(model)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, m := range msgs {
		ids, _, err := codec.Encode(m.Content)
		if err != nil {
			return 0, fmt.Errorf("encode message: %w", err)
		}
		total += tokensPerMessage + tokensPerRole + len(ids)
	}
	return total, nil
}

// CountText counts tokens for a plain text string.
func (c *OpenAICounter) CountText(model, text string) (int, error) {
	codec, err := c.codec(model)
	if err != nil {
		return 0, err
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (c *OpenAICounter) codec(model string) (tokenizer.Codec, error) {
	enc := encodingFor(model)

	c.mu.RLock()
	cached, ok := c.codecs[enc]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	codec, err := tokenizer.Get(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer encoding: %w", err)
	}

	c.mu.Lock()
	c.codecs[enc] = codec
	c.mu.Unlock()
	return codec, nil
}

// encodingFor maps a model to its tiktoken encoding. Unknown and newer
// models use o200k_base.
func encodingFor(model string) tokenizer.Encoding {
	model = strings.ToLower(model)
	switch {
	case strings.HasPrefix(model, "gpt-4o"),
		strings.HasPrefix(model, "gpt-4.1"),
		strings.HasPrefix(model, "gpt-5"),
		strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"),
		strings.HasPrefix(model, "o4"),
		strings.HasPrefix(model, "chatgpt-"):
		return tokenizer.O200kBase
	case strings.HasPrefix(model, "gpt-4"), strings.HasPrefix(model, "gpt-3.5"):
		return tokenizer.Cl100kBase
	default:
		return tokenizer.O200kBase
	}
}
