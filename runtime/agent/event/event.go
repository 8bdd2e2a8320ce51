// Package event defines the normalized stimuli consumed by the kernel and the
// envelopes transports use to carry them with per-session ordering.
package event

import (
	"goa.design/agentkernel/runtime/agent"
	"goa.design/agentkernel/runtime/agent/intent"
)

// Event types.
const (
	TypeUserMessage     Type = "user_message"
	TypeLLMResult       Type = "llm_result"
	TypeToolResult      Type = "tool_result"
	TypeApprovalOutcome Type = "approval_outcome"
	TypeWorkerResult    Type = "worker_result"
	TypeIntentFailed    Type = "intent_failed"
	TypeShutdown        Type = "shutdown"
	TypeTick            Type = "tick"
)

type (
	// Type names a kernel event.
	Type string

	// KernelEvent is the closed union of stimuli the kernel consumes.
	KernelEvent interface {
		Type() Type
		isKernelEvent()
	}

	// UserMessage is a new user turn.
	UserMessage struct {
		Text string `json:"text"`
	}

	// LLMResult carries a model completion for a RequestLLM intent.
	LLMResult struct {
		IntentID agent.IntentID    `json:"intent_id"`
		Response agent.LLMResponse `json:"response"`
	}

	// ToolResult carries a tool result for a CallTool intent.
	ToolResult struct {
		IntentID agent.IntentID   `json:"intent_id"`
		Result   agent.ToolResult `json:"result"`
	}

	// ApprovalOutcome carries the decision for a RequestApproval intent.
	ApprovalOutcome struct {
		IntentID agent.IntentID `json:"intent_id"`
		Decision agent.Decision `json:"decision"`
	}

	// WorkerResult carries the final report of a worker spawned by a
	// SpawnWorker intent. Report.Stalled marks a worker that stopped making
	// progress.
	WorkerResult struct {
		IntentID agent.IntentID     `json:"intent_id"`
		Report   agent.WorkerReport `json:"report"`
	}

	// IntentFailed reports that an intent's capability call failed.
	IntentFailed struct {
		IntentID agent.IntentID `json:"intent_id"`
		Kind     intent.Kind    `json:"kind"`
		Message  string         `json:"message"`
	}

	// Shutdown asks the session to terminate.
	Shutdown struct {
		Reason string `json:"reason,omitempty"`
	}

	// Tick signals the passage of time while waiting on workers.
	Tick struct{}
)

func (UserMessage) Type() Type     { return TypeUserMessage }
func (LLMResult) Type() Type       { return TypeLLMResult }
func (ToolResult) Type() Type      { return TypeToolResult }
func (ApprovalOutcome) Type() Type { return TypeApprovalOutcome }
func (WorkerResult) Type() Type    { return TypeWorkerResult }
func (IntentFailed) Type() Type    { return TypeIntentFailed }
func (Shutdown) Type() Type        { return TypeShutdown }
func (Tick) Type() Type            { return TypeTick }

func (UserMessage) isKernelEvent()     {}
func (LLMResult) isKernelEvent()       {}
func (ToolResult) isKernelEvent()      {}
func (ApprovalOutcome) isKernelEvent() {}
func (WorkerResult) isKernelEvent()    {}
func (IntentFailed) isKernelEvent()    {}
func (Shutdown) isKernelEvent()        {}
func (Tick) isKernelEvent()            {}

// IntentOf returns the intent an event answers, if any.
func IntentOf(ev KernelEvent) (agent.IntentID, bool) {
	switch e := ev.(type) {
	case LLMResult:
		return e.IntentID, true
	case ToolResult:
		return e.IntentID, true
	case ApprovalOutcome:
		return e.IntentID, true
	case WorkerResult:
		return e.IntentID, true
	case IntentFailed:
		return e.IntentID, true
	default:
		return agent.IntentID{}, false
	}
}

// FromObservation converts an observation into the kernel event that feeds
// it back. Observations the kernel does not consume (WorkerSpawned,
// ResponseEmitted, Halted) return false.
func FromObservation(obs intent.Observation) (KernelEvent, bool) {
	switch o := obs.(type) {
	case intent.ToolCompleted:
		return ToolResult{IntentID: o.ID, Result: o.Result}, true
	case intent.LLMCompleted:
		return LLMResult{IntentID: o.ID, Response: o.Response}, true
	case intent.ApprovalGiven:
		return ApprovalOutcome{IntentID: o.ID, Decision: o.Decision}, true
	case intent.WorkerCompleted:
		return WorkerResult{IntentID: o.ID, Report: o.Report}, true
	case intent.RuntimeError:
		return IntentFailed{IntentID: o.ID, Kind: o.Kind, Message: o.Message()}, true
	default:
		return nil, false
	}
}
