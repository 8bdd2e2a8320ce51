// Package intent defines the side-effecting actions proposed by the kernel,
// the DAG that orders them and the observations produced by executing them.
//
// # Intents
//
// An Intent is a proposal: the kernel never executes anything itself. The
// runtime interpreter turns each intent into a capability call and reports
// the result as an Observation correlated by the intent's IntentID.
//
// # Graphs
//
// Graphs are built per kernel step with a Builder tagged with that step and
// merged into a long-lived pending graph. Dependencies may only reference
// intents from the same step (with a lower index) or an earlier step, so the
// pending graph is acyclic by construction and never needs cycle detection.
package intent

import "goa.design/agentkernel/runtime/agent"

// Intent kinds.
const (
	KindCallTool        Kind = "call_tool"
	KindRequestLLM      Kind = "request_llm"
	KindRequestApproval Kind = "request_approval"
	KindSpawnWorker     Kind = "spawn_worker"
	KindEmitResponse    Kind = "emit_response"
	KindHalt            Kind = "halt"
)

type (
	// Kind names an intent family.
	Kind string

	// Intent is the closed union of actions the kernel may propose.
	Intent interface {
		// Kind returns the intent family.
		Kind() Kind
		isIntent()
	}

	// CallTool invokes a tool.
	CallTool struct {
		Call agent.ToolCall
	}

	// RequestLLM asks the model for a completion.
	RequestLLM struct {
		Request agent.LLMRequest
	}

	// RequestApproval asks a human to approve a tool call.
	RequestApproval struct {
		Request agent.ApprovalRequest
	}

	// SpawnWorker starts a delegated sub-session.
	SpawnWorker struct {
		Spec agent.WorkerSpec
	}

	// EmitResponse surfaces text to the user.
	EmitResponse struct {
		Text string
	}

	// Halt terminates the session.
	Halt struct {
		Reason agent.HaltReason
	}
)

func (CallTool) Kind() Kind        { return KindCallTool }
func (RequestLLM) Kind() Kind      { return KindRequestLLM }
func (RequestApproval) Kind() Kind { return KindRequestApproval }
func (SpawnWorker) Kind() Kind     { return KindSpawnWorker }
func (EmitResponse) Kind() Kind    { return KindEmitResponse }
func (Halt) Kind() Kind            { return KindHalt }

func (CallTool) isIntent()        {}
func (RequestLLM) isIntent()      {}
func (RequestApproval) isIntent() {}
func (SpawnWorker) isIntent()     {}
func (EmitResponse) isIntent()    {}
func (Halt) isIntent()            {}
