package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleSystem is the system prompt role.
	RoleSystem Role = "system"

	// RoleUser is the end-user role.
	RoleUser Role = "user"

	// RoleAssistant is the model role. Only assistant messages may carry
	// tool calls.
	RoleAssistant Role = "assistant"

	// RoleTool is a tool result message. Every tool message references the
	// originating tool call by ID.
	RoleTool Role = "tool"
)

// Message is a single entry in a conversation history.
//
// Invariants enforced by Validate:
//   - a tool message has a non-empty ToolCallID
//   - ToolCalls appears only on assistant messages
//   - an assistant message has content, tool calls, or both
type Message struct {
	// Role indicates who sent the message.
	Role Role `json:"role"`

	// Content is the text content. May be empty on an assistant message
	// that carries tool calls.
	Content string `json:"content,omitempty"`

	// Name optionally identifies the tool that produced a tool message.
	Name string `json:"name,omitempty"`

	// ToolCallID links a tool message to the assistant tool call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolCalls contains tool invocation requests. Assistant messages only.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a structured request by the model to invoke a registered
// function. IDs are unique within a turn.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Validate checks the role-dependent message invariants.
func (m Message) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser:
		if len(m.ToolCalls) > 0 {
			return fmt.Errorf("%s message cannot carry tool calls", m.Role)
		}
	case RoleAssistant:
		if m.Content == "" && len(m.ToolCalls) == 0 {
			return errors.New("assistant message needs content or tool calls")
		}
		if m.ToolCallID != "" {
			return errors.New("assistant message cannot carry a tool_call_id")
		}
	case RoleTool:
		if m.ToolCallID == "" {
			return errors.New("tool message requires a tool_call_id")
		}
		if len(m.ToolCalls) > 0 {
			return errors.New("tool message cannot carry tool calls")
		}
	default:
		return fmt.Errorf("unknown role %q", m.Role)
	}
	return nil
}

// NewUserMessage builds a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewSystemMessage builds a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewToolMessage builds a tool result message answering the given call.
func NewToolMessage(callID, name, content string) Message {
	return Message{Role: RoleTool, ToolCallID: callID, Name: name, Content: content}
}
