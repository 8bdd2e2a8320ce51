// Package hooks publishes session notifications (approval prompts, responses,
// worker lifecycle, failures and halts) to in-process subscribers such as
// user interfaces, loggers and stream bridges. Hooks are observational: the
// kernel never reads them.
package hooks

import (
	"time"

	"goa.design/agentkernel/runtime/agent"
)

// Event types.
const (
	ApprovalRequested EventType = "approval_requested"
	ApprovalResolved  EventType = "approval_resolved"
	ResponseEmitted   EventType = "response_emitted"
	IntentFailed      EventType = "intent_failed"
	WorkerSpawned     EventType = "worker_spawned"
	WorkerCompleted   EventType = "worker_completed"
	StepCompleted     EventType = "step_completed"
	SessionHalted     EventType = "session_halted"
)

type (
	// EventType identifies a hook event.
	EventType string

	// Event is implemented by every hook event. Subscribers switch on the
	// concrete type to read payloads.
	Event interface {
		Type() EventType
		SessionID() string
		// Timestamp is the creation time in Unix milliseconds.
		Timestamp() int64
	}

	baseEvent struct {
		typ       EventType
		sessionID string
		timestamp int64
	}

	// ApprovalRequestedEvent fires when an approval is waiting for a human
	// decision. Resolve it through the session's approval registry.
	ApprovalRequestedEvent struct {
		baseEvent
		Request agent.ApprovalRequest
	}

	// ApprovalResolvedEvent fires when a pending approval was decided,
	// including denials caused by timeouts or cancellation.
	ApprovalResolvedEvent struct {
		baseEvent
		IntentID agent.IntentID
		Decision agent.Decision
	}

	// ResponseEmittedEvent carries a response for the user.
	ResponseEmittedEvent struct {
		baseEvent
		IntentID agent.IntentID
		Text     string
	}

	// IntentFailedEvent fires when a capability failed to execute an intent.
	IntentFailedEvent struct {
		baseEvent
		IntentID agent.IntentID
		Kind     string
		Message  string
	}

	// WorkerSpawnedEvent fires when a worker sub-session started.
	WorkerSpawnedEvent struct {
		baseEvent
		IntentID agent.IntentID
		WorkerID string
		Task     string
	}

	// WorkerCompletedEvent fires when a worker finished or stalled.
	WorkerCompletedEvent struct {
		baseEvent
		IntentID agent.IntentID
		Report   agent.WorkerReport
	}

	// StepCompletedEvent fires after each kernel step that proposed intents.
	StepCompletedEvent struct {
		baseEvent
		Step    uint64
		Intents int
	}

	// SessionHaltedEvent fires once when the session terminates.
	SessionHaltedEvent struct {
		baseEvent
		Reason agent.HaltReason
	}
)

func newBase(t EventType, sessionID string) baseEvent {
	return baseEvent{typ: t, sessionID: sessionID, timestamp: time.Now().UnixMilli()}
}

func (e baseEvent) Type() EventType   { return e.typ }
func (e baseEvent) SessionID() string { return e.sessionID }
func (e baseEvent) Timestamp() int64  { return e.timestamp }

// NewApprovalRequestedEvent builds an ApprovalRequestedEvent.
func NewApprovalRequestedEvent(sessionID string, req agent.ApprovalRequest) *ApprovalRequestedEvent {
	return &ApprovalRequestedEvent{baseEvent: newBase(ApprovalRequested, sessionID), Request: req}
}

// NewApprovalResolvedEvent builds an ApprovalResolvedEvent.
func NewApprovalResolvedEvent(sessionID string, id agent.IntentID, d agent.Decision) *ApprovalResolvedEvent {
	return &ApprovalResolvedEvent{baseEvent: newBase(ApprovalResolved, sessionID), IntentID: id, Decision: d}
}

// NewResponseEmittedEvent builds a ResponseEmittedEvent.
func NewResponseEmittedEvent(sessionID string, id agent.IntentID, text string) *ResponseEmittedEvent {
	return &ResponseEmittedEvent{baseEvent: newBase(ResponseEmitted, sessionID), IntentID: id, Text: text}
}

// NewIntentFailedEvent builds an IntentFailedEvent.
func NewIntentFailedEvent(sessionID string, id agent.IntentID, kind, msg string) *IntentFailedEvent {
	return &IntentFailedEvent{baseEvent: newBase(IntentFailed, sessionID), IntentID: id, Kind: kind, Message: msg}
}

// NewWorkerSpawnedEvent builds a WorkerSpawnedEvent.
func NewWorkerSpawnedEvent(sessionID string, id agent.IntentID, workerID, task string) *WorkerSpawnedEvent {
	return &WorkerSpawnedEvent{baseEvent: newBase(WorkerSpawned, sessionID), IntentID: id, WorkerID: workerID, Task: task}
}

// NewWorkerCompletedEvent builds a WorkerCompletedEvent.
func NewWorkerCompletedEvent(sessionID string, id agent.IntentID, r agent.WorkerReport) *WorkerCompletedEvent {
	return &WorkerCompletedEvent{baseEvent: newBase(WorkerCompleted, sessionID), IntentID: id, Report: r}
}

// NewStepCompletedEvent builds a StepCompletedEvent.
func NewStepCompletedEvent(sessionID string, step uint64, intents int) *StepCompletedEvent {
	return &StepCompletedEvent{baseEvent: newBase(StepCompleted, sessionID), Step: step, Intents: intents}
}

// NewSessionHaltedEvent builds a SessionHaltedEvent.
func NewSessionHaltedEvent(sessionID string, reason agent.HaltReason) *SessionHaltedEvent {
	return &SessionHaltedEvent{baseEvent: newBase(SessionHalted, sessionID), Reason: reason}
}
