package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docsage/docsage/pkg/models"
)

// MockTurn scripts one provider round-trip for the mock provider. Zero-value
// fields are skipped; an Err turn fails the call.
type MockTurn struct {
	Text      string
	ToolCalls []models.ToolCall
	Delay     time.Duration
	Err       error
}

// MockProvider is the deterministic in-process backend used for development
// and tests. Behavior, in priority order:
//
//  1. Scripted turns, consumed one per call.
//  2. If the last user message matches "please call tool <name>" and the
//     toolset offers that tool, respond with a single tool call. A follow-up
//     call on the same conversation (tool results present) summarizes them.
//  3. Echo the last user message.
//
// Token accounting is a deterministic word count so assertions are stable.
type MockProvider struct {
	mu    sync.Mutex
	turns []MockTurn

	// ChunkSize controls how streamed text is split. Default 8 bytes.
	ChunkSize int

	counter *TokenCounter
}

// NewMockProvider creates an unscripted mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{counter: NewTokenCounter("mock")}
}

// Script queues turns to be consumed by subsequent calls, in order.
func (p *MockProvider) Script(turns ...MockTurn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turns = append(p.turns, turns...)
}

// Name returns "mock".
func (p *MockProvider) Name() string { return "mock" }

// Capabilities advertises a small but tool-capable backend.
func (p *MockProvider) Capabilities() Capabilities {
	return Capabilities{
		MaxContext:        8192,
		SupportsTools:     true,
		SupportsStreaming: true,
		SupportedModels:   []string{"mock"},
	}
}

// CountTokens estimates tokens with the shared counter.
func (p *MockProvider) CountTokens(text string) int {
	return p.counter.Count(text)
}

// Query resolves one turn synchronously.
func (p *MockProvider) Query(ctx context.Context, messages []models.Message, opts QueryOptions, tools []ToolSpec) (*Result, error) {
	turn := p.nextTurn(messages, tools)
	if turn.Delay > 0 {
		select {
		case <-time.After(turn.Delay):
		case <-ctx.Done():
			return nil, models.WrapKind(models.KindProviderTimeout, ctx.Err())
		}
	}
	if turn.Err != nil {
		return nil, turn.Err
	}

	prompt := 0
	for _, m := range messages {
		prompt += p.counter.CountMessage(m)
	}
	completion := p.counter.Count(turn.Text)
	return &Result{
		Content:   turn.Text,
		Model:     "mock",
		ToolCalls: turn.ToolCalls,
		Usage: models.Usage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
	}, nil
}

// StreamQuery resolves one turn as a chunked stream.
func (p *MockProvider) StreamQuery(ctx context.Context, messages []models.Message, opts QueryOptions, tools []ToolSpec) (<-chan StreamEvent, error) {
	turn := p.nextTurn(messages, tools)
	chunk := p.ChunkSize
	if chunk <= 0 {
		chunk = 8
	}

	events := make(chan StreamEvent, 16)
	go func() {
		defer close(events)
		if turn.Delay > 0 {
			select {
			case <-time.After(turn.Delay):
			case <-ctx.Done():
				events <- StreamEvent{Err: models.WrapKind(models.KindProviderTimeout, ctx.Err())}
				return
			}
		}
		if turn.Err != nil {
			events <- StreamEvent{Err: turn.Err}
			return
		}

		for text := turn.Text; text != ""; {
			n := chunk
			if n > len(text) {
				n = len(text)
			}
			select {
			case events <- StreamEvent{Text: text[:n]}:
			case <-ctx.Done():
				events <- StreamEvent{Err: models.WrapKind(models.KindClientGone, ctx.Err())}
				return
			}
			text = text[n:]
		}
		for i := range turn.ToolCalls {
			events <- StreamEvent{ToolCall: &turn.ToolCalls[i]}
		}
		completion := p.counter.Count(turn.Text)
		events <- StreamEvent{
			Usage: &models.Usage{CompletionTokens: completion, TotalTokens: completion},
			Done:  true,
		}
	}()
	return events, nil
}

func (p *MockProvider) nextTurn(messages []models.Message, tools []ToolSpec) MockTurn {
	p.mu.Lock()
	if len(p.turns) > 0 {
		turn := p.turns[0]
		p.turns = p.turns[1:]
		p.mu.Unlock()
		return turn
	}
	p.mu.Unlock()
	return p.defaultTurn(messages, tools)
}

// defaultTurn implements the unscripted conventions.
func (p *MockProvider) defaultTurn(messages []models.Message, tools []ToolSpec) MockTurn {
	// If the conversation already carries tool results for the latest
	// assistant tool calls, summarize them instead of calling again.
	if results := trailingToolResults(messages); len(results) > 0 {
		var b strings.Builder
		b.WriteString("Tool results: ")
		for i, r := range results {
			if i > 0 {
				b.WriteString("; ")
			}
			fmt.Fprintf(&b, "%s -> %s", r.Name, strings.TrimSpace(r.Content))
		}
		return MockTurn{Text: b.String()}
	}

	last := lastUserContent(messages)
	if name, ok := requestedTool(last); ok {
		for _, t := range tools {
			if t.Name == name {
				return MockTurn{ToolCalls: []models.ToolCall{{
					ID:        "call_" + uuid.NewString()[:8],
					Name:      name,
					Arguments: json.RawMessage(`{}`),
				}}}
			}
		}
		return MockTurn{Text: fmt.Sprintf("I don't have a tool named %q.", name)}
	}

	if last == "" {
		return MockTurn{Text: "How can I help with your documentation?"}
	}
	return MockTurn{Text: "Echo: " + last}
}

// requestedTool parses the "please call tool <name>" convention.
func requestedTool(content string) (string, bool) {
	lower := strings.ToLower(content)
	const marker = "please call tool "
	idx := strings.Index(lower, marker)
	if idx < 0 {
		return "", false
	}
	rest := strings.TrimSpace(content[idx+len(marker):])
	if rest == "" {
		return "", false
	}
	name := strings.FieldsFunc(rest, func(r rune) bool {
		return r == ' ' || r == '.' || r == ',' || r == '\n'
	})
	if len(name) == 0 {
		return "", false
	}
	return name[0], true
}

func lastUserContent(messages []models.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// trailingToolResults returns the tool messages that follow the last
// assistant message, if any.
func trailingToolResults(messages []models.Message) []models.Message {
	var results []models.Message
	for i := len(messages) - 1; i >= 0; i-- {
		switch messages[i].Role {
		case models.RoleTool:
			results = append([]models.Message{messages[i]}, results...)
		case models.RoleAssistant:
			if len(messages[i].ToolCalls) > 0 {
				return results
			}
			return nil
		default:
			return nil
		}
	}
	return nil
}
