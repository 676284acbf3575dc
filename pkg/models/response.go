package models

import "time"

// Usage reports token consumption for a provider round-trip. For turns with
// multiple round-trips the counts are summed.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates usage from a follow-up round-trip.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// ToolExecution records the outcome of a single tool call made during a turn.
type ToolExecution struct {
	ToolCallID string        `json:"tool_call_id"`
	Name       string        `json:"name"`
	Result     string        `json:"result"`
	IsError    bool          `json:"is_error,omitempty"`
	Duration   time.Duration `json:"duration_ns,omitempty"`
}

// HistoryOptimizationInfo summarizes what the history optimizer did to the
// conversation during a turn.
type HistoryOptimizationInfo struct {
	WasOptimized    bool `json:"was_optimized"`
	OriginalCount   int  `json:"original_count"`
	OptimizedCount  int  `json:"optimized_count"`
	PartialToolLoop bool `json:"partial_tool_loop,omitempty"`
}

// LLMResponse is the finalized result of one orchestrated turn.
type LLMResponse struct {
	Content  string `json:"content"`
	Model    string `json:"model"`
	Provider string `json:"provider"`
	Usage    Usage  `json:"usage"`

	// ToolCalls are the calls from the last assistant message, if any.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolExecutionResults lists every tool executed during the turn, in
	// invocation order.
	ToolExecutionResults []ToolExecution `json:"tool_execution_results,omitempty"`

	// OptimizedConversationHistory is the finalized, possibly trimmed
	// history including this turn's messages.
	OptimizedConversationHistory []Message `json:"optimized_conversation_history,omitempty"`

	HistoryOptimizationInfo *HistoryOptimizationInfo `json:"history_optimization_info,omitempty"`

	// Cached is true when the response was served from the response cache.
	Cached bool `json:"cached,omitempty"`
}
