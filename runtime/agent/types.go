package agent

import (
	"encoding/json"
	"time"
)

// Conversation roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Halt kinds.
const (
	// HaltCompleted indicates the task finished and a response was emitted.
	HaltCompleted HaltKind = "completed"
	// HaltBudgetExceeded indicates a step, delegation or rejection budget ran out.
	HaltBudgetExceeded HaltKind = "budget_exceeded"
	// HaltShutdown indicates an explicit shutdown request or cancellation.
	HaltShutdown HaltKind = "shutdown"
	// HaltRuntimeFailure indicates a capability failure the kernel could not
	// recover from (for example the model call failed after retries).
	HaltRuntimeFailure HaltKind = "runtime_failure"
	// HaltKernelError indicates a malformed state transition.
	HaltKernelError HaltKind = "kernel_error"
)

type (
	// Role identifies the author of a conversation message.
	Role string

	// Message is one entry of the conversation history.
	Message struct {
		// Role is the message author.
		Role Role `json:"role"`
		// Content is the text content of the message.
		Content string `json:"content,omitempty"`
		// ToolCalls lists the tool invocations requested by an assistant message.
		ToolCalls []ToolCall `json:"tool_calls,omitempty"`
		// ToolCallID correlates a tool message with the call it answers.
		ToolCallID string `json:"tool_call_id,omitempty"`
		// Name is the tool name for tool messages.
		Name string `json:"name,omitempty"`
	}

	// ToolCall is a tool invocation requested by the model.
	ToolCall struct {
		// ID is the provider assigned call identifier.
		ID string `json:"id,omitempty"`
		// Name is the tool name.
		Name string `json:"name"`
		// Args is the JSON encoded argument object.
		Args json.RawMessage `json:"args,omitempty"`
	}

	// ToolResult is the structured outcome of a tool execution.
	ToolResult struct {
		// CallID echoes ToolCall.ID.
		CallID string `json:"call_id,omitempty"`
		// Name is the tool name.
		Name string `json:"name"`
		// Content is the JSON encoded result.
		Content json.RawMessage `json:"content,omitempty"`
		// Error carries a tool level error message the model should see. Tool
		// level errors are results, not runtime failures.
		Error string `json:"error,omitempty"`
	}

	// ToolSpec advertises a tool to the model.
	ToolSpec struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Schema      json.RawMessage `json:"schema,omitempty"`
	}

	// LLMRequest is a model completion request.
	LLMRequest struct {
		// System is the system prompt.
		System string `json:"system,omitempty"`
		// Messages is the conversation history sent to the model.
		Messages []Message `json:"messages"`
		// Tools lists the tools the model may call.
		Tools []ToolSpec `json:"tools,omitempty"`
		// Model overrides the provider default model when set.
		Model string `json:"model,omitempty"`
		// MaxTokens bounds the completion length. Zero uses the provider default.
		MaxTokens int `json:"max_tokens,omitempty"`
	}

	// LLMResponse is a model completion.
	LLMResponse struct {
		// Content is the assistant text.
		Content string `json:"content,omitempty"`
		// ToolCalls lists the tools the model wants to invoke.
		ToolCalls []ToolCall `json:"tool_calls,omitempty"`
		// Usage reports token consumption.
		Usage TokenUsage `json:"usage"`
		// StopReason is the provider stop reason.
		StopReason string `json:"stop_reason,omitempty"`
	}

	// TokenUsage reports token consumption for a completion.
	TokenUsage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	}

	// ApprovalRequest describes an action awaiting human approval.
	ApprovalRequest struct {
		// IntentID correlates the request with the RequestApproval intent.
		IntentID IntentID `json:"intent_id"`
		// Call is the tool call awaiting approval.
		Call ToolCall `json:"call"`
		// Description is a human readable summary of the pending action.
		Description string `json:"description"`
	}

	// Decision is the outcome of an approval request.
	Decision struct {
		Granted bool   `json:"granted"`
		Reason  string `json:"reason,omitempty"`
	}

	// WorkerSpec describes a delegated sub task.
	WorkerSpec struct {
		// Task is the instruction given to the worker.
		Task string `json:"task"`
		// CallID is the delegate tool call that requested the worker.
		CallID string `json:"call_id,omitempty"`
		// MaxSteps bounds the worker kernel. Zero uses the spawner default.
		MaxSteps int `json:"max_steps,omitempty"`
		// Shared gives the worker access to the coordination board.
		Shared bool `json:"shared,omitempty"`
	}

	// WorkerReport is the final outcome of a worker.
	WorkerReport struct {
		// WorkerID identifies the worker.
		WorkerID string `json:"worker_id"`
		// Output is the worker's final response.
		Output string `json:"output,omitempty"`
		// Halt is the reason the worker session ended.
		Halt HaltReason `json:"halt"`
		// Stalled is set when the worker made no progress within its stall
		// window and was cancelled.
		Stalled bool `json:"stalled,omitempty"`
		// Duration is the worker wall time.
		Duration time.Duration `json:"duration,omitempty"`
	}

	// HaltKind classifies why a session stopped.
	HaltKind string

	// HaltReason is returned to the caller when a session terminates.
	HaltReason struct {
		Kind HaltKind `json:"kind"`
		// Message is surfaced verbatim to the user.
		Message string `json:"message,omitempty"`
		// Budget names the exhausted budget for HaltBudgetExceeded.
		Budget string `json:"budget,omitempty"`
	}
)

// Grant returns an approving decision.
func Grant() Decision { return Decision{Granted: true} }

// Deny returns a denying decision with the given reason.
func Deny(reason string) Decision { return Decision{Reason: reason} }

// String renders the halt reason for display.
func (r HaltReason) String() string {
	s := string(r.Kind)
	if r.Budget != "" {
		s += "(" + r.Budget + ")"
	}
	if r.Message != "" {
		s += ": " + r.Message
	}
	return s
}
