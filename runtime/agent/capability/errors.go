package capability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// LLM error kinds.
const (
	// LLMErrorAuth indicates authentication or authorization failures.
	LLMErrorAuth LLMErrorKind = "auth"
	// LLMErrorInvalidRequest indicates a request the provider will never accept
	// as is.
	LLMErrorInvalidRequest LLMErrorKind = "invalid_request"
	// LLMErrorContextLength indicates the prompt exceeds the model context.
	LLMErrorContextLength LLMErrorKind = "context_length_exceeded"
	// LLMErrorRateLimited indicates provider throttling.
	LLMErrorRateLimited LLMErrorKind = "rate_limited"
	// LLMErrorUnavailable indicates a transient provider failure (5xx).
	LLMErrorUnavailable LLMErrorKind = "unavailable"
	// LLMErrorNetwork indicates a transport level failure reaching the provider.
	LLMErrorNetwork LLMErrorKind = "network"
	// LLMErrorUnknown indicates an unclassified failure.
	LLMErrorUnknown LLMErrorKind = "unknown"
)

type (
	// LLMErrorKind classifies model failures for retry decisions.
	LLMErrorKind string

	// LLMError is returned by LLM capabilities.
	LLMError struct {
		// Provider names the model provider, e.g. "anthropic".
		Provider string
		// Kind classifies the failure.
		Kind LLMErrorKind
		// Status is the provider HTTP status when known.
		Status int
		// Message is a human readable description.
		Message string
		// Cause is the underlying error.
		Cause error
	}

	// ToolError is returned by Tool capabilities.
	ToolError struct {
		// Name is the tool name.
		Name string
		// Message is a human readable description.
		Message string
		// Transient marks failures a retry may fix.
		Transient bool
		// Cause is the underlying error.
		Cause error
	}

	// WorkerSpawnError is returned by Worker capabilities.
	WorkerSpawnError struct {
		// Task is the task of the worker that failed to start.
		Task string
		// Message is a human readable description.
		Message string
		// Cause is the underlying error.
		Cause error
	}
)

// NewLLMError builds an LLMError.
func NewLLMError(provider string, kind LLMErrorKind, status int, msg string, cause error) *LLMError {
	if kind == "" {
		kind = LLMErrorUnknown
	}
	return &LLMError{Provider: provider, Kind: kind, Status: status, Message: msg, Cause: cause}
}

// Error implements error.
func (e *LLMError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Provider != "" {
		return fmt.Sprintf("%s: llm %s: %s", e.Provider, e.Kind, msg)
	}
	return fmt.Sprintf("llm %s: %s", e.Kind, msg)
}

// Unwrap returns the cause.
func (e *LLMError) Unwrap() error { return e.Cause }

// Retryable reports whether the failure is transient.
func (e *LLMError) Retryable() bool {
	switch e.Kind {
	case LLMErrorRateLimited, LLMErrorUnavailable, LLMErrorNetwork:
		return true
	default:
		return false
	}
}

// AsLLMError returns the first *LLMError in err's chain.
func AsLLMError(err error) (*LLMError, bool) {
	var le *LLMError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

// NewToolError builds a ToolError wrapping cause.
func NewToolError(name, msg string, cause error) *ToolError {
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &ToolError{Name: name, Message: msg, Cause: cause}
}

// Error implements error.
func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %s", e.Name, e.Message)
}

// Unwrap returns the cause.
func (e *ToolError) Unwrap() error { return e.Cause }

// Retryable reports whether the failure is transient.
func (e *ToolError) Retryable() bool { return e.Transient }

// Error implements error.
func (e *WorkerSpawnError) Error() string {
	return fmt.Sprintf("spawn worker %q: %s", e.Task, e.Message)
}

// Unwrap returns the cause.
func (e *WorkerSpawnError) Unwrap() error { return e.Cause }

// KindForStatus maps a provider HTTP status to an error kind. Zero maps to
// LLMErrorUnknown.
func KindForStatus(status int) LLMErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return LLMErrorAuth
	case status == http.StatusRequestEntityTooLarge:
		return LLMErrorContextLength
	case status == http.StatusTooManyRequests:
		return LLMErrorRateLimited
	case status == http.StatusRequestTimeout:
		return LLMErrorNetwork
	case status >= http.StatusInternalServerError:
		return LLMErrorUnavailable
	case status >= http.StatusBadRequest:
		return LLMErrorInvalidRequest
	default:
		return LLMErrorUnknown
	}
}

// KindForError classifies failures that carry no provider status, such as
// dial errors and deadlines.
func KindForError(err error) LLMErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return LLMErrorNetwork
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return LLMErrorNetwork
	}
	return LLMErrorUnknown
}
