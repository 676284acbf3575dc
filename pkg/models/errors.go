package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind categorizes failures surfaced across the orchestration boundary.
type ErrorKind string

const (
	KindInvalidRequest      ErrorKind = "invalid_request"
	KindTemplateError       ErrorKind = "template_error"
	KindContextOverflow     ErrorKind = "context_overflow"
	KindProviderTimeout     ErrorKind = "provider_timeout"
	KindProviderRateLimited ErrorKind = "provider_rate_limited"
	KindProviderUnavailable ErrorKind = "provider_unavailable"
	KindProviderProtocol    ErrorKind = "provider_protocol"
	KindToolNotFound        ErrorKind = "tool_not_found"
	KindInvalidArguments    ErrorKind = "invalid_arguments"
	KindToolTimeout         ErrorKind = "tool_timeout"
	KindToolExecution       ErrorKind = "tool_execution"
	KindPartialToolLoop     ErrorKind = "partial_tool_loop"
	KindCacheError          ErrorKind = "cache_error"
	KindClientGone          ErrorKind = "client_gone"
	KindAuth                ErrorKind = "auth"
	KindNotFound            ErrorKind = "not_found"
	KindConflict            ErrorKind = "conflict"
	KindRateLimited         ErrorKind = "rate_limited"
	KindNetwork             ErrorKind = "network"
	KindUnknown             ErrorKind = "unknown"
)

// Retryable reports whether a failure of this kind is transient enough that
// retrying the same operation may succeed.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindProviderTimeout, KindProviderRateLimited, KindProviderUnavailable,
		KindRateLimited, KindNetwork:
		return true
	default:
		return false
	}
}

// KindError is a structured error carrying an ErrorKind, a human-readable
// message, and an optional cause.
type KindError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *KindError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Kind))
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *KindError) Unwrap() error {
	return e.Cause
}

// NewKindError builds a KindError with a formatted message.
func NewKindError(kind ErrorKind, format string, args ...any) *KindError {
	return &KindError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapKind wraps a cause with an error kind. A nil cause yields nil.
func WrapKind(kind ErrorKind, cause error) *KindError {
	if cause == nil {
		return nil
	}
	return &KindError{Kind: kind, Message: cause.Error(), Cause: cause}
}

// KindOf extracts the ErrorKind from an error chain, classifying untyped
// errors by message content. Nil errors map to the empty kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return classifyError(err)
}

// classifyError infers a kind from the error content. Modeled on transport
// error classification rather than provider-specific types so it works for
// both the LLM and Git HTTP clients.
func classifyError(err error) ErrorKind {
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "context deadline"):
		return KindProviderTimeout
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "429"):
		return KindProviderRateLimited
	case strings.Contains(msg, "connection"),
		strings.Contains(msg, "network"),
		strings.Contains(msg, "refused"),
		strings.Contains(msg, "unreachable"),
		strings.Contains(msg, "reset"):
		return KindNetwork
	case strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "forbidden"),
		strings.Contains(msg, "permission"):
		return KindAuth
	case strings.Contains(msg, "not found"),
		strings.Contains(msg, "404"):
		return KindNotFound
	case strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "504"):
		return KindProviderUnavailable
	default:
		return KindUnknown
	}
}
