package intent

import (
	"goa.design/agentkernel/runtime/agent"
	"goa.design/agentkernel/runtime/agent/capability"
)

type (
	// Observation is the result of executing one intent. Every observation
	// is correlated 1:1 with the IntentID of the node that produced it.
	Observation interface {
		// IntentID returns the identifier of the executed intent.
		IntentID() agent.IntentID
		isObservation()
	}

	// ToolCompleted reports a tool execution.
	ToolCompleted struct {
		ID     agent.IntentID
		Result agent.ToolResult
	}

	// LLMCompleted reports a model completion.
	LLMCompleted struct {
		ID       agent.IntentID
		Response agent.LLMResponse
	}

	// ApprovalGiven reports the decision for an approval request.
	ApprovalGiven struct {
		ID       agent.IntentID
		Request  agent.ApprovalRequest
		Decision agent.Decision
	}

	// WorkerSpawned reports that a worker started. The session polls the
	// handle for the worker's completion.
	WorkerSpawned struct {
		ID     agent.IntentID
		Spec   agent.WorkerSpec
		Handle capability.WorkerHandle
	}

	// WorkerCompleted reports the final outcome of a worker spawned by ID.
	WorkerCompleted struct {
		ID     agent.IntentID
		Report agent.WorkerReport
	}

	// ResponseEmitted reports that an EmitResponse intent surfaced its text.
	ResponseEmitted struct {
		ID   agent.IntentID
		Text string
	}

	// RuntimeError reports a capability failure. It is recoverable: the
	// kernel sees it as an ordinary event on its next step.
	RuntimeError struct {
		ID   agent.IntentID
		Kind Kind
		Err  error
	}

	// Halted reports that a Halt intent executed.
	Halted struct {
		ID     agent.IntentID
		Reason agent.HaltReason
	}
)

func (o ToolCompleted) IntentID() agent.IntentID   { return o.ID }
func (o LLMCompleted) IntentID() agent.IntentID    { return o.ID }
func (o ApprovalGiven) IntentID() agent.IntentID   { return o.ID }
func (o WorkerSpawned) IntentID() agent.IntentID   { return o.ID }
func (o WorkerCompleted) IntentID() agent.IntentID { return o.ID }
func (o ResponseEmitted) IntentID() agent.IntentID { return o.ID }
func (o RuntimeError) IntentID() agent.IntentID    { return o.ID }
func (o Halted) IntentID() agent.IntentID          { return o.ID }

func (ToolCompleted) isObservation()   {}
func (LLMCompleted) isObservation()    {}
func (ApprovalGiven) isObservation()   {}
func (WorkerSpawned) isObservation()   {}
func (WorkerCompleted) isObservation() {}
func (ResponseEmitted) isObservation() {}
func (RuntimeError) isObservation()    {}
func (Halted) isObservation()          {}

// Message returns the error text, or an empty string when Err is nil.
func (o RuntimeError) Message() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}
