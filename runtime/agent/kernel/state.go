package kernel

import (
	"slices"

	"goa.design/agentkernel/runtime/agent"
)

// Call kinds tracked in a round.
const (
	CallTool     CallKind = "tool"
	CallApproval CallKind = "approval"
	CallWorker   CallKind = "worker"
)

type (
	// State is the immutable agent state threaded through every kernel step.
	State struct {
		// History is the ordered conversation history.
		History []agent.Message
		// Step counts the steps that proposed intents.
		Step uint64
		// Budgets bounds steps, delegations and rejections.
		Budgets Budgets
		// Delegations counts spawned workers.
		Delegations int
		// Rejections counts denied approvals.
		Rejections int
		// Scratchpad is an opaque handle to externally owned scratch storage.
		Scratchpad string
		// Shutdown is set once a shutdown event was processed.
		Shutdown bool
		// Turn tracks the intents the current turn is waiting on.
		Turn Turn
	}

	// Budgets bounds a session. Zero or negative values mean unlimited.
	Budgets struct {
		MaxSteps       int
		MaxDelegations int
		MaxRejections  int
	}

	// Turn tracks the in-progress user turn.
	Turn struct {
		// LLM is the awaited RequestLLM intent, zero when none.
		LLM agent.IntentID
		// Outstanding lists the tool, approval and worker calls of the
		// current round that have not been answered yet.
		Outstanding []Call
		// Results counts tool results received in the current round.
		Results int
		// Notes collects denial and worker summaries of the current round.
		Notes []string
		// Inbox counts user messages received while the turn was active.
		Inbox int
	}

	// CallKind classifies an outstanding call.
	CallKind string

	// Call is an outstanding model tool call.
	Call struct {
		ID   agent.IntentID
		Kind CallKind
		Call agent.ToolCall
	}
)

// NewState returns the initial state of a session.
func NewState(budgets Budgets, scratchpad string) State {
	return State{Budgets: budgets, Scratchpad: scratchpad}
}

// Active reports whether a turn is waiting on intents.
func (t Turn) Active() bool {
	return !t.LLM.IsZero() || len(t.Outstanding) > 0
}

// Idle reports whether the state has no turn in progress.
func (s State) Idle() bool {
	return !s.Turn.Active()
}

// appendHistory returns a new history slice with msgs appended and trimmed to
// limit entries. The input slice is never modified.
func appendHistory(h []agent.Message, limit int, msgs ...agent.Message) []agent.Message {
	out := make([]agent.Message, 0, len(h)+len(msgs))
	out = append(out, h...)
	out = append(out, msgs...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
		// A tool message without its assistant call is meaningless to the model.
		for len(out) > 0 && out[0].Role == agent.RoleTool {
			out = out[1:]
		}
		out = slices.Clone(out)
	}
	return out
}

// withoutCall returns calls minus the entry at i, without modifying calls.
func withoutCall(calls []Call, i int) []Call {
	out := make([]Call, 0, len(calls)-1)
	out = append(out, calls[:i]...)
	return append(out, calls[i+1:]...)
}

// withCall returns calls plus c, without modifying calls.
func withCall(calls []Call, c Call) []Call {
	out := make([]Call, 0, len(calls)+1)
	out = append(out, calls...)
	return append(out, c)
}

// withNote returns notes plus n, without modifying notes.
func withNote(notes []string, n string) []string {
	out := make([]string, 0, len(notes)+1)
	out = append(out, notes...)
	return append(out, n)
}
