// Package kernel implements the cognitive engine: a pure reducer that turns
// the agent state and an ordered batch of kernel events into a new state and
// a graph of proposed intents.
//
// # Determinism
//
// Step performs no I/O, holds no locks or channels, reads no clocks and uses
// no randomness. Intent identifiers are derived from the step counter and the
// position of each intent in the step's graph, so replaying the same event
// log through a freshly initialized kernel yields the same identifiers and
// the same final state. This is the only durability contract of the system:
// see runlog.Replay.
//
// # Immutability
//
// State is a value. Step never mutates the state it receives: every slice it
// changes is copied first, so callers may keep and compare earlier states.
//
// # Turns
//
// A user message starts a turn with a RequestLLM intent. A completion without
// tool calls ends the turn with EmitResponse (followed by Halt unless the
// kernel is conversational). A completion with tool calls opens a round of
// outstanding calls: plain tools become CallTool intents, tools that need a
// human decision become RequestApproval intents and the delegate tool becomes
// SpawnWorker. Once every outstanding call is answered the kernel either asks
// the model again (when at least one tool produced a result) or summarizes
// the denials and worker reports in a response.
package kernel

import (
	"goa.design/agentkernel/runtime/agent"
	"goa.design/agentkernel/runtime/agent/event"
	"goa.design/agentkernel/runtime/agent/intent"
)

type (
	// Options configures kernel decisions. Options never change during a
	// session; replay must use the same options.
	Options struct {
		// System is the system prompt sent with every model request.
		System string
		// Tools lists the tools advertised to the model.
		Tools []agent.ToolSpec
		// Model overrides the provider default model.
		Model string
		// MaxTokens bounds each completion. Zero uses the provider default.
		MaxTokens int
		// RequireApproval lists the tools whose calls need a human decision.
		RequireApproval []string
		// DelegateTool names the tool the model calls to spawn a worker.
		// Empty disables delegation.
		DelegateTool string
		// Conversational keeps the session alive after a response. By
		// default the kernel runs in task mode and halts after its first
		// response.
		Conversational bool
		// MaxHistory bounds the conversation history. Zero keeps everything.
		MaxHistory int
	}

	// Kernel holds the current state and applies Step to it. A Kernel is not
	// safe for concurrent use; the session orchestrator is its only caller.
	Kernel struct {
		opts  Options
		state State
	}
)

// New returns a kernel starting from initial.
func New(opts Options, initial State) *Kernel {
	return &Kernel{opts: opts, state: initial}
}

// Options returns the kernel options.
func (k *Kernel) Options() Options {
	return k.opts
}

// State returns the current state. The returned value shares its slices with
// the kernel and must be treated as read-only.
func (k *Kernel) State() State {
	return k.state
}

// Process applies one batch of events and returns the intents proposed for
// it. The state is replaced only when the batch is processed successfully.
// Errors are *Error values and are fatal to the session.
func (k *Kernel) Process(events []event.KernelEvent) (*intent.Graph, error) {
	next, g, err := Step(k.opts, k.state, events)
	if err != nil {
		return nil, err
	}
	k.state = next
	return g, nil
}
