// Package approval correlates approval requests with decisions supplied by an
// external collaborator, typically a user interface.
//
// A request registers a completion handle keyed by the intent ID, announces
// itself on the hooks bus and then waits for the first of: a decision
// delivered through Resolve, cancellation of its context, the optional
// timeout, or Clear. Every outcome other than an explicit decision is a
// denial.
package approval

import (
	"context"
	"slices"
	"sync"
	"time"

	"goa.design/agentkernel/runtime/agent"
	"goa.design/agentkernel/runtime/agent/capability"
	"goa.design/agentkernel/runtime/agent/hooks"
	"goa.design/agentkernel/runtime/agent/telemetry"
)

// Denial reasons used when no decision was supplied.
const (
	ReasonCancelled  = "approval cancelled"
	ReasonTimedOut   = "approval timed out"
	ReasonTerminated = "session terminated"
)

type (
	// Options configures a Registry.
	Options struct {
		// SessionID tags published notifications.
		SessionID string
		// Bus receives ApprovalRequested and ApprovalResolved notifications.
		// Optional.
		Bus hooks.Bus
		// Timeout bounds each wait. Zero waits until a decision or
		// cancellation.
		Timeout time.Duration
		// Logger logs notification failures and unmatched decisions.
		Logger telemetry.Logger
	}

	// Registry implements capability.Approval. It is safe for concurrent use.
	Registry struct {
		opts    Options
		mu      sync.Mutex
		pending map[agent.IntentID]*entry
	}

	entry struct {
		req      agent.ApprovalRequest
		decision chan agent.Decision
	}
)

var _ capability.Approval = (*Registry)(nil)

// New returns an empty registry.
func New(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	return &Registry{opts: opts, pending: make(map[agent.IntentID]*entry)}
}

// Request registers req and waits for its decision.
func (r *Registry) Request(ctx context.Context, req agent.ApprovalRequest) agent.Decision {
	e := &entry{req: req, decision: make(chan agent.Decision, 1)}
	r.mu.Lock()
	r.pending[req.IntentID] = e
	r.mu.Unlock()
	defer r.remove(req.IntentID, e)

	r.publish(ctx, hooks.NewApprovalRequestedEvent(r.opts.SessionID, req))

	var timeout <-chan time.Time
	if r.opts.Timeout > 0 {
		t := time.NewTimer(r.opts.Timeout)
		defer t.Stop()
		timeout = t.C
	}
	var d agent.Decision
	select {
	case d = <-e.decision:
	case <-ctx.Done():
		d = agent.Deny(ReasonCancelled)
	case <-timeout:
		d = agent.Deny(ReasonTimedOut)
	}
	r.publish(context.WithoutCancel(ctx), hooks.NewApprovalResolvedEvent(r.opts.SessionID, req.IntentID, d))
	return d
}

// Resolve delivers d to the pending request for id. It returns false when no
// request is pending, for example because it already timed out.
func (r *Registry) Resolve(id agent.IntentID, d agent.Decision) bool {
	r.mu.Lock()
	e, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		r.opts.Logger.Debug(context.Background(), "no pending approval", "intent", id.String())
		return false
	}
	e.decision <- d
	return true
}

// Pending returns the pending requests ordered by intent ID.
func (r *Registry) Pending() []agent.ApprovalRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]agent.ApprovalRequest, 0, len(r.pending))
	for _, e := range r.pending {
		out = append(out, e.req)
	}
	slices.SortFunc(out, func(a, b agent.ApprovalRequest) int { return a.IntentID.Compare(b.IntentID) })
	return out
}

// Clear denies every pending request.
func (r *Registry) Clear() {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[agent.IntentID]*entry)
	r.mu.Unlock()
	for _, e := range pending {
		e.decision <- agent.Deny(ReasonTerminated)
	}
}

func (r *Registry) remove(id agent.IntentID, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.pending[id]; ok && cur == e {
		delete(r.pending, id)
	}
}

func (r *Registry) publish(ctx context.Context, ev hooks.Event) {
	if r.opts.Bus == nil {
		return
	}
	if err := r.opts.Bus.Publish(ctx, ev); err != nil {
		r.opts.Logger.Warn(ctx, "approval notification failed", "type", string(ev.Type()), "err", err)
	}
}
