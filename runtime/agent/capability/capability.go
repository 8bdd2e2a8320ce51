// Package capability declares the side-effect interfaces the runtime
// interpreter depends on. Hosts supply implementations (model providers,
// tool registries, approval UIs, worker spawners, telemetry sinks); the
// kernel never holds any of them.
//
// Capabilities compose: retry.WrapLLM and retry.WrapTool wrap any LLM or Tool
// with bounded exponential backoff, and the rate limiting middleware in
// features/model/middleware wraps any LLM.
package capability

import (
	"context"
	"time"

	"goa.design/agentkernel/runtime/agent"
)

type (
	// Tool executes a tool call. Failures are reported with *ToolError.
	Tool interface {
		Execute(ctx context.Context, call agent.ToolCall) (agent.ToolResult, error)
	}

	// LLM completes a model request. Failures are reported with *LLMError.
	LLM interface {
		Complete(ctx context.Context, req agent.LLMRequest) (agent.LLMResponse, error)
	}

	// Approval asks a human to approve an action. It never fails: a
	// cancelled or timed out request resolves to a denial.
	Approval interface {
		Request(ctx context.Context, req agent.ApprovalRequest) agent.Decision
	}

	// Worker spawns delegated sub-sessions. Spawn returns as soon as the
	// worker started; callers poll the handle for completion. Failures are
	// reported with *WorkerSpawnError.
	Worker interface {
		Spawn(ctx context.Context, id agent.IntentID, spec agent.WorkerSpec) (WorkerHandle, error)
	}

	// WorkerHandle tracks a running worker.
	WorkerHandle interface {
		// ID returns the worker identifier.
		ID() string
		// Poll returns the final report and true once the worker completed
		// or stalled. It never blocks.
		Poll() (agent.WorkerReport, bool)
		// Cancel stops the worker. Cancelling a worker never affects its
		// parent.
		Cancel()
	}

	// Telemetry records structured runtime events. It is a side channel:
	// implementations must not block and errors are never surfaced.
	Telemetry interface {
		Record(ctx context.Context, ev TelemetryEvent)
	}

	// TelemetryEvent is one structured telemetry record.
	TelemetryEvent struct {
		// Name identifies the event, e.g. "intent.executed".
		Name string
		// SessionID identifies the owning session.
		SessionID string
		// IntentID identifies the intent the event relates to, if any.
		IntentID agent.IntentID
		// Kind is the intent kind.
		Kind string
		// Duration is the execution time.
		Duration time.Duration
		// Err is the failure message, empty on success.
		Err string
		// Attrs carries additional dimensions.
		Attrs map[string]string
	}

	// Set bundles the capabilities handed to the interpreter. Any field may be
	// nil; intents that need a missing capability fail with a RuntimeError.
	Set struct {
		Tool      Tool
		LLM       LLM
		Approval  Approval
		Worker    Worker
		Telemetry Telemetry
	}

	// ToolFunc adapts a function to Tool.
	ToolFunc func(ctx context.Context, call agent.ToolCall) (agent.ToolResult, error)

	// LLMFunc adapts a function to LLM.
	LLMFunc func(ctx context.Context, req agent.LLMRequest) (agent.LLMResponse, error)

	// ApprovalFunc adapts a function to Approval.
	ApprovalFunc func(ctx context.Context, req agent.ApprovalRequest) agent.Decision

	// WorkerFunc adapts a function to Worker.
	WorkerFunc func(ctx context.Context, id agent.IntentID, spec agent.WorkerSpec) (WorkerHandle, error)

	// TelemetryFunc adapts a function to Telemetry.
	TelemetryFunc func(ctx context.Context, ev TelemetryEvent)
)

// Execute calls f.
func (f ToolFunc) Execute(ctx context.Context, call agent.ToolCall) (agent.ToolResult, error) {
	return f(ctx, call)
}

// Complete calls f.
func (f LLMFunc) Complete(ctx context.Context, req agent.LLMRequest) (agent.LLMResponse, error) {
	return f(ctx, req)
}

// Request calls f.
func (f ApprovalFunc) Request(ctx context.Context, req agent.ApprovalRequest) agent.Decision {
	return f(ctx, req)
}

// Spawn calls f.
func (f WorkerFunc) Spawn(ctx context.Context, id agent.IntentID, spec agent.WorkerSpec) (WorkerHandle, error) {
	return f(ctx, id, spec)
}

// Record calls f.
func (f TelemetryFunc) Record(ctx context.Context, ev TelemetryEvent) {
	f(ctx, ev)
}

// DenyAll is an Approval that denies every request with the given reason.
func DenyAll(reason string) Approval {
	return ApprovalFunc(func(context.Context, agent.ApprovalRequest) agent.Decision {
		return agent.Deny(reason)
	})
}
