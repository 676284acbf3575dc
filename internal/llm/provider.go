// Package llm defines the provider-agnostic client abstraction plus the
// concrete OpenAI-compatible and mock providers, the token counter used for
// history budgeting, and the response cache.
package llm

import (
	"context"
	"encoding/json"

	"github.com/docsage/docsage/pkg/models"
)

// QueryOptions are per-call generation parameters.
type QueryOptions struct {
	// Model overrides the provider's default model when set.
	Model string `json:"model,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`

	// MaxTokens caps the completion length. 0 uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// Capabilities describes what the active provider supports.
type Capabilities struct {
	MaxContext        int      `json:"max_context"`
	SupportsTools     bool     `json:"supports_tools"`
	SupportsStreaming bool     `json:"supports_streaming"`
	SupportedModels   []string `json:"supported_models"`
}

// ToolSpec is the wire-facing shape of a registered function, exposed to
// providers for tool calling.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Result is a finalized provider round-trip.
type Result struct {
	Content   string
	Model     string
	ToolCalls []models.ToolCall
	Usage     models.Usage
}

// StreamEvent is one tagged event on a provider stream. Exactly one of the
// payload fields is meaningful per event; Done closes the stream.
type StreamEvent struct {
	// Text is an incremental content delta.
	Text string

	// ToolCall is a fully assembled tool call, emitted at stream end.
	ToolCall *models.ToolCall

	// Usage arrives with the final event when the provider reports it.
	Usage *models.Usage

	// Err terminates the stream with a failure.
	Err error

	// Done is true on the final event of a successful stream.
	Done bool
}

// Provider is the uniform chat interface each backend implements.
//
// Implementations must be safe for concurrent use; each call owns its own
// request state.
type Provider interface {
	// Name returns the stable lowercase provider identifier.
	Name() string

	// Query performs one blocking chat round-trip.
	Query(ctx context.Context, messages []models.Message, opts QueryOptions, tools []ToolSpec) (*Result, error)

	// StreamQuery performs one chat round-trip, delivering tagged events on
	// the returned channel. The channel is closed after the Done or Err
	// event. Tool-call deltas are buffered internally and surface as whole
	// ToolCall events before Done.
	StreamQuery(ctx context.Context, messages []models.Message, opts QueryOptions, tools []ToolSpec) (<-chan StreamEvent, error)

	// Capabilities reports the provider's limits and features.
	Capabilities() Capabilities

	// CountTokens estimates the token count of a text fragment.
	CountTokens(text string) int
}
