package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/docsage/docsage/pkg/models"
)

// perMessageOverhead approximates the wire framing tokens around each chat
// message (<|start|>role ... <|end|>).
const perMessageOverhead = 3

// TokenCounter estimates token counts for strings and message lists. It uses
// a BPE encoding when one can be loaded for the model and falls back to a
// character heuristic otherwise, so counting never fails. The core only
// relies on monotonicity, not exactness.
type TokenCounter struct {
	model string

	once     sync.Once
	encoding *tiktoken.Tiktoken
}

// NewTokenCounter builds a counter for the given model. The encoding is
// resolved lazily on first use.
func NewTokenCounter(model string) *TokenCounter {
	return &TokenCounter{model: model}
}

func (tc *TokenCounter) load() {
	tc.once.Do(func() {
		enc, err := tiktoken.EncodingForModel(tc.model)
		if err != nil {
			enc, err = tiktoken.GetEncoding("cl100k_base")
		}
		if err == nil {
			tc.encoding = enc
		}
	})
}

// Count returns the token estimate for a text fragment.
func (tc *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	tc.load()
	if tc.encoding != nil {
		return len(tc.encoding.Encode(text, nil, nil))
	}
	// Heuristic: roughly four characters per token, rounded up.
	return (len(text) + 3) / 4
}

// CountMessage estimates one message including role overhead and serialized
// tool calls.
func (tc *TokenCounter) CountMessage(msg models.Message) int {
	total := perMessageOverhead
	total += tc.Count(string(msg.Role))
	total += tc.Count(msg.Content)
	for _, call := range msg.ToolCalls {
		total += tc.Count(call.Name)
		total += tc.Count(string(call.Arguments))
	}
	return total
}

// CountMessages estimates a message list, including the reply priming.
func (tc *TokenCounter) CountMessages(messages []models.Message) int {
	total := perMessageOverhead // reply is primed with <|start|>assistant
	for _, msg := range messages {
		total += tc.CountMessage(msg)
	}
	return total
}
