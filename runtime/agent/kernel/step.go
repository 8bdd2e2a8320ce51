package kernel

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"goa.design/agentkernel/runtime/agent"
	"goa.design/agentkernel/runtime/agent/event"
	"goa.design/agentkernel/runtime/agent/intent"
)

// Budget names reported in halt reasons.
const (
	BudgetSteps       = "steps"
	BudgetDelegations = "delegations"
	BudgetRejections  = "rejections"
)

// Priorities of proposed intents. Approvals go first so humans see requests
// as early as possible.
const (
	priorityDefault  = 0
	priorityApproval = 1
)

// reducer accumulates the effect of one batch.
type reducer struct {
	opts   Options
	prev   State
	state  State
	b      *intent.Builder
	halted bool
}

// Step is the pure kernel transition. It returns the next state and the graph
// of intents proposed for events. The graph is tagged with prev.Step+1 and
// the step counter advances only when the graph is not empty, so batches that
// merely record results (or are only ticks) leave identifiers untouched.
//
// Step consults the budgets before proposing work: a graph that would be
// emitted past MaxSteps, a spawn past MaxDelegations and an approval request
// that could take rejections past MaxRejections are all replaced by a single
// Halt(BudgetExceeded). Requests pending in the same round count as possible
// rejections.
func Step(opts Options, prev State, events []event.KernelEvent) (State, *intent.Graph, error) {
	r := &reducer{
		opts:  opts,
		prev:  prev,
		state: prev,
		b:     intent.NewBuilder(prev.Step + 1),
	}
	for _, ev := range events {
		if err := r.apply(ev); err != nil {
			return prev, nil, err
		}
		if r.halted {
			break
		}
	}
	if !r.halted && r.b.Len() > 0 && exceeds(int(prev.Step+1), prev.Budgets.MaxSteps) {
		r.haltBudget(BudgetSteps)
	}
	g, err := r.b.Build()
	if err != nil {
		return prev, nil, &Error{Step: prev.Step + 1, Err: err}
	}
	if !g.Empty() {
		r.state.Step = prev.Step + 1
	}
	return r.state, g, nil
}

func (r *reducer) apply(ev event.KernelEvent) error {
	if ev == nil {
		return &Error{Step: r.prev.Step + 1, Err: ErrNilEvent}
	}
	if id, ok := event.IntentOf(ev); ok && id.Step > r.prev.Step {
		return &Error{Step: r.prev.Step + 1, Event: ev.Type(), Err: fmt.Errorf("%w: %s", ErrFutureIntent, id)}
	}
	if r.state.Shutdown {
		return nil
	}
	switch e := ev.(type) {
	case event.Tick:
	case event.Shutdown:
		r.state.Shutdown = true
		r.halt(agent.HaltReason{Kind: agent.HaltShutdown, Message: e.Reason})
	case event.UserMessage:
		if exceeds(int(r.prev.Step+1), r.prev.Budgets.MaxSteps) {
			r.haltBudget(BudgetSteps)
			return nil
		}
		r.state.History = r.history(agent.Message{Role: agent.RoleUser, Content: e.Text})
		if r.state.Turn.Active() {
			r.state.Turn.Inbox++
			return nil
		}
		r.requestLLM()
	case event.LLMResult:
		r.onLLMResult(e)
	case event.ToolResult:
		c, ok := r.take(e.IntentID, CallTool)
		if !ok {
			return nil
		}
		r.state.History = r.history(toolMessage(c.Call, resultText(e.Result)))
		r.state.Turn.Results++
		r.settle()
	case event.ApprovalOutcome:
		c, ok := r.take(e.IntentID, CallApproval)
		if !ok {
			return nil
		}
		if e.Decision.Granted {
			id := r.b.Add(intent.CallTool{Call: c.Call})
			r.state.Turn.Outstanding = withCall(r.state.Turn.Outstanding, Call{ID: id, Kind: CallTool, Call: c.Call})
			return nil
		}
		r.deny(c, e.Decision.Reason)
		r.settle()
	case event.WorkerResult:
		c, ok := r.take(e.IntentID, CallWorker)
		if !ok {
			return nil
		}
		note := workerNote(e.Report)
		r.state.History = r.history(toolMessage(c.Call, note))
		r.state.Turn.Notes = withNote(r.state.Turn.Notes, note)
		r.settle()
	case event.IntentFailed:
		r.onFailure(e)
	default:
		return &Error{Step: r.prev.Step + 1, Event: ev.Type(), Err: ErrUnknownEvent}
	}
	return nil
}

func (r *reducer) onLLMResult(e event.LLMResult) {
	if r.state.Turn.LLM.IsZero() || e.IntentID != r.state.Turn.LLM {
		return
	}
	r.state.Turn.LLM = agent.IntentID{}
	calls := make([]agent.ToolCall, len(e.Response.ToolCalls))
	for i, c := range e.Response.ToolCalls {
		if c.ID == "" {
			c.ID = fmt.Sprintf("call_%s_%d", e.IntentID, i)
		}
		calls[i] = c
	}
	r.state.History = r.history(agent.Message{
		Role:      agent.RoleAssistant,
		Content:   e.Response.Content,
		ToolCalls: calls,
	})
	if len(calls) == 0 {
		r.respond(e.Response.Content)
		if r.opts.Conversational && r.state.Turn.Inbox > 0 {
			r.requestLLM()
		}
		return
	}
	r.state.Turn.Results = 0
	r.state.Turn.Notes = nil
	r.state.Turn.Outstanding = nil
	var spawns, approvals int
	for _, c := range calls {
		switch {
		case r.opts.DelegateTool != "" && c.Name == r.opts.DelegateTool:
			if exceeds(r.state.Delegations+spawns+1, r.prev.Budgets.MaxDelegations) {
				r.haltBudget(BudgetDelegations)
				return
			}
			spawns++
			id := r.b.Add(intent.SpawnWorker{Spec: workerSpec(c)})
			r.state.Turn.Outstanding = withCall(r.state.Turn.Outstanding, Call{ID: id, Kind: CallWorker, Call: c})
		case slices.Contains(r.opts.RequireApproval, c.Name):
			// Every pending request may still be denied.
			if exceeds(r.state.Rejections+approvals+1, r.prev.Budgets.MaxRejections) {
				r.haltBudget(BudgetRejections)
				return
			}
			approvals++
			req := agent.ApprovalRequest{
				IntentID:    r.b.NextID(),
				Call:        c,
				Description: describeCall(c),
			}
			id := r.b.Add(intent.RequestApproval{Request: req}, intent.WithPriority(priorityApproval))
			r.state.Turn.Outstanding = withCall(r.state.Turn.Outstanding, Call{ID: id, Kind: CallApproval, Call: c})
		default:
			id := r.b.Add(intent.CallTool{Call: c}, intent.WithPriority(priorityDefault))
			r.state.Turn.Outstanding = withCall(r.state.Turn.Outstanding, Call{ID: id, Kind: CallTool, Call: c})
		}
	}
	r.state.Delegations += spawns
}

func (r *reducer) onFailure(e event.IntentFailed) {
	if !r.state.Turn.LLM.IsZero() && e.IntentID == r.state.Turn.LLM {
		r.state.Turn.LLM = agent.IntentID{}
		r.halt(agent.HaltReason{Kind: agent.HaltRuntimeFailure, Message: "model request failed: " + e.Message})
		return
	}
	c, ok := r.take(e.IntentID, "")
	if !ok {
		return
	}
	switch c.Kind {
	case CallTool:
		r.state.History = r.history(toolMessage(c.Call, "error: "+e.Message))
		r.state.Turn.Results++
	case CallApproval:
		r.deny(c, e.Message)
	case CallWorker:
		note := fmt.Sprintf("worker for %q failed to start: %s", c.Call.Name, e.Message)
		r.state.History = r.history(toolMessage(c.Call, note))
		r.state.Turn.Notes = withNote(r.state.Turn.Notes, note)
	}
	r.settle()
}

// take removes the outstanding call with the given identifier and kind. An
// empty kind matches any call.
func (r *reducer) take(id agent.IntentID, kind CallKind) (Call, bool) {
	for i, c := range r.state.Turn.Outstanding {
		if c.ID != id {
			continue
		}
		if kind != "" && c.Kind != kind {
			return Call{}, false
		}
		r.state.Turn.Outstanding = withoutCall(r.state.Turn.Outstanding, i)
		return c, true
	}
	return Call{}, false
}

func (r *reducer) deny(c Call, reason string) {
	r.state.Rejections++
	if exceeds(r.state.Rejections, r.prev.Budgets.MaxRejections) {
		r.haltBudget(BudgetRejections)
		return
	}
	if reason == "" {
		reason = "denied"
	}
	note := fmt.Sprintf("%s was not approved: %s", c.Call.Name, reason)
	r.state.History = r.history(toolMessage(c.Call, note))
	r.state.Turn.Notes = withNote(r.state.Turn.Notes, note)
}

// settle closes the round once every outstanding call has been answered.
func (r *reducer) settle() {
	t := r.state.Turn
	if t.Active() || r.halted {
		return
	}
	if t.Results > 0 || t.Inbox > 0 {
		r.requestLLM()
		return
	}
	text := strings.Join(t.Notes, "\n")
	r.state.History = r.history(agent.Message{Role: agent.RoleAssistant, Content: text})
	r.respond(text)
}

func (r *reducer) requestLLM() {
	req := agent.LLMRequest{
		System:    r.opts.System,
		Messages:  r.state.History,
		Tools:     r.opts.Tools,
		Model:     r.opts.Model,
		MaxTokens: r.opts.MaxTokens,
	}
	id := r.b.Add(intent.RequestLLM{Request: req})
	r.state.Turn = Turn{LLM: id}
}

// respond emits the response and, in task mode, the halt that follows it.
func (r *reducer) respond(text string) {
	inbox := r.state.Turn.Inbox
	r.state.Turn = Turn{Inbox: inbox}
	id := r.b.Add(intent.EmitResponse{Text: text})
	if !r.opts.Conversational {
		r.b.Add(intent.Halt{Reason: agent.HaltReason{Kind: agent.HaltCompleted, Message: text}}, intent.DependsOn(id))
	}
}

// halt replaces everything proposed in this step with a single Halt.
func (r *reducer) halt(reason agent.HaltReason) {
	r.b.Reset()
	r.b.Add(intent.Halt{Reason: reason})
	r.state.Turn = Turn{}
	r.halted = true
}

func (r *reducer) haltBudget(name string) {
	r.halt(agent.HaltReason{
		Kind:    agent.HaltBudgetExceeded,
		Budget:  name,
		Message: name + " budget exhausted",
	})
}

func (r *reducer) history(msgs ...agent.Message) []agent.Message {
	return appendHistory(r.state.History, r.opts.MaxHistory, msgs...)
}

// exceeds reports whether n is over a budget limit. Limits <= 0 are unlimited.
func exceeds(n, limit int) bool {
	return limit > 0 && n > limit
}

func toolMessage(c agent.ToolCall, content string) agent.Message {
	return agent.Message{Role: agent.RoleTool, ToolCallID: c.ID, Name: c.Name, Content: content}
}

func resultText(res agent.ToolResult) string {
	if res.Error != "" {
		return "error: " + res.Error
	}
	return string(res.Content)
}

func workerNote(rep agent.WorkerReport) string {
	if rep.Stalled {
		if rep.Output == "" {
			return fmt.Sprintf("worker %s stalled", rep.WorkerID)
		}
		return fmt.Sprintf("worker %s stalled: %s", rep.WorkerID, rep.Output)
	}
	if rep.Halt.Kind != "" && rep.Halt.Kind != agent.HaltCompleted {
		return fmt.Sprintf("worker %s stopped (%s): %s", rep.WorkerID, rep.Halt, rep.Output)
	}
	return fmt.Sprintf("worker %s finished: %s", rep.WorkerID, rep.Output)
}

func describeCall(c agent.ToolCall) string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + string(c.Args)
}

// workerSpec decodes the delegate tool arguments. Arguments that are not an
// object with a task are used verbatim as the task.
func workerSpec(c agent.ToolCall) agent.WorkerSpec {
	var args struct {
		Task     string `json:"task"`
		MaxSteps int    `json:"max_steps"`
		Shared   *bool  `json:"shared"`
	}
	spec := agent.WorkerSpec{CallID: c.ID, Shared: true}
	if err := json.Unmarshal(c.Args, &args); err != nil || args.Task == "" {
		spec.Task = string(c.Args)
		return spec
	}
	spec.Task = args.Task
	spec.MaxSteps = args.MaxSteps
	if args.Shared != nil {
		spec.Shared = *args.Shared
	}
	return spec
}
