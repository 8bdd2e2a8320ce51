// Package session runs the orchestration loop that ties the kernel to the
// outside world.
//
// A Session owns the pending intent graph and the completed set. It pulls
// envelope batches from its transport, consults the kernel, merges the
// proposed graph, dispatches ready intents through the executor and publishes
// every observation back onto the transport as a kernel event. The session is
// idle while the pending graph is empty and executing otherwise.
//
// Run returns only when the session terminates: a Halt intent executed, the
// kernel reported an error, the transport failed, or the context was
// cancelled. Termination cancels in-flight capability calls, denies pending
// approvals, cancels workers and waits for every goroutine the session
// started.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"goa.design/agentkernel/runtime/agent"
	"goa.design/agentkernel/runtime/agent/approval"
	"goa.design/agentkernel/runtime/agent/capability"
	"goa.design/agentkernel/runtime/agent/event"
	"goa.design/agentkernel/runtime/agent/executor"
	"goa.design/agentkernel/runtime/agent/hooks"
	"goa.design/agentkernel/runtime/agent/intent"
	"goa.design/agentkernel/runtime/agent/interpreter"
	"goa.design/agentkernel/runtime/agent/kernel"
	"goa.design/agentkernel/runtime/agent/runlog"
	"goa.design/agentkernel/runtime/agent/telemetry"
	"goa.design/agentkernel/runtime/agent/transport"
)

const (
	defaultPollInterval = 50 * time.Millisecond
	defaultDedupSize    = 4096
)

type (
	// Options configures a Session.
	Options struct {
		// ID identifies the session. Required.
		ID string
		// Kernel is the session's kernel. Required.
		Kernel *kernel.Kernel
		// Transport carries the session's events. Required.
		Transport transport.Transport
		// Capabilities are handed to the interpreter. When Approval is nil
		// the session's approval registry is used.
		Capabilities capability.Set
		// ApprovalTimeout bounds approval waits when the session's registry
		// serves approvals. Zero waits until a decision or termination.
		ApprovalTimeout time.Duration
		// Bus receives UI notifications. Optional.
		Bus hooks.Bus
		// Journal records every batch the kernel consulted. Optional.
		Journal runlog.Store
		// Store records the session lifecycle. Optional.
		Store Store
		// MaxInFlight bounds concurrently executing intents.
		MaxInFlight int
		// PollInterval is the worker polling period.
		PollInterval time.Duration
		// DedupSize bounds the envelope IDs remembered for deduplication.
		DedupSize int
		// Logger and Tracer default to no-ops.
		Logger telemetry.Logger
		Tracer telemetry.Tracer
	}

	// Session is a running orchestration loop. Run may be called once.
	Session struct {
		opts      Options
		kernel    *kernel.Kernel
		transport transport.Transport
		approvals *approval.Registry
		exec      *executor.Executor
		bus       hooks.Bus
		logger    telemetry.Logger
		clock     *event.Clock
		seen      *lru.Cache[string, struct{}]

		pending   *intent.Graph
		completed intent.Set
		workers   map[agent.IntentID]capability.WorkerHandle
		response  string
	}

	batch struct {
		envs []event.Envelope
		err  error
	}

	// outcome is set once the loop must stop.
	outcome struct {
		reason agent.HaltReason
		err    error
	}
)

// New validates opts and returns a session ready to run.
func New(opts Options) (*Session, error) {
	if opts.ID == "" {
		return nil, errors.New("session id is required")
	}
	if opts.Kernel == nil {
		return nil, errors.New("kernel is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.NewNoopTracer()
	}
	if opts.Bus == nil {
		opts.Bus = hooks.NewBus()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.DedupSize <= 0 {
		opts.DedupSize = defaultDedupSize
	}
	seen, err := lru.New[string, struct{}](opts.DedupSize)
	if err != nil {
		return nil, fmt.Errorf("dedup cache: %w", err)
	}
	approvals := approval.New(approval.Options{
		SessionID: opts.ID,
		Bus:       opts.Bus,
		Timeout:   opts.ApprovalTimeout,
		Logger:    opts.Logger,
	})
	caps := opts.Capabilities
	if caps.Approval == nil {
		caps.Approval = approvals
	}
	interp := interpreter.New(caps,
		interpreter.WithSessionID(opts.ID),
		interpreter.WithLogger(opts.Logger),
		interpreter.WithTracer(opts.Tracer))
	return &Session{
		opts:      opts,
		kernel:    opts.Kernel,
		transport: opts.Transport,
		approvals: approvals,
		exec:      executor.New(interp, opts.MaxInFlight),
		bus:       opts.Bus,
		logger:    opts.Logger,
		clock:     &event.Clock{},
		seen:      seen,
		pending:   intent.NewGraph(),
		completed: intent.NewSet(),
		workers:   make(map[agent.IntentID]capability.WorkerHandle),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.opts.ID }

// Kernel returns the session's kernel. Read its state only after Run
// returned.
func (s *Session) Kernel() *kernel.Kernel { return s.kernel }

// Approvals returns the registry external deciders resolve approvals with.
func (s *Session) Approvals() *approval.Registry { return s.approvals }

// Bus returns the notification bus.
func (s *Session) Bus() hooks.Bus { return s.bus }

// Publisher returns a publisher for events originating from source, sharing
// the session's logical clock.
func (s *Session) Publisher(source string) *transport.Publisher {
	return transport.NewPublisher(s.transport, s.opts.ID, source, s.clock)
}

// LastResponse returns the text of the most recent EmitResponse. Read it
// only after Run returned.
func (s *Session) LastResponse() string { return s.response }

// Run executes the loop until the session terminates and returns the halt
// reason. The error is non-nil for kernel errors, transport failures and
// cancellation.
func (s *Session) Run(ctx context.Context) (agent.HaltReason, error) {
	if s.opts.Store != nil {
		if _, err := s.opts.Store.CreateSession(ctx, s.opts.ID, time.Now()); err != nil {
			return agent.HaltReason{Kind: agent.HaltRuntimeFailure, Message: err.Error()}, fmt.Errorf("create session: %w", err)
		}
	}
	runCtx, cancel := context.WithCancel(ctx)
	batches := make(chan batch)
	pumpDone := make(chan struct{})
	go s.pump(runCtx, batches, pumpDone)

	ticker := time.NewTicker(s.opts.PollInterval)
	var out *outcome
	for out == nil {
		select {
		case b := <-batches:
			out = s.handleBatch(runCtx, b)
		case r := <-s.exec.Results():
			out = s.handleResult(runCtx, r)
		case <-ticker.C:
			out = s.pollWorkers(runCtx)
		case <-ctx.Done():
			out = &outcome{
				reason: agent.HaltReason{Kind: agent.HaltShutdown, Message: ctx.Err().Error()},
				err:    ctx.Err(),
			}
		}
	}
	ticker.Stop()

	cancel()
	s.approvals.Clear()
	for _, h := range s.workers {
		h.Cancel()
	}
	s.exec.Wait()
	<-pumpDone
	s.finish(context.WithoutCancel(ctx), out)
	return out.reason, out.err
}

func (s *Session) finish(ctx context.Context, out *outcome) {
	s.notify(ctx, hooks.NewSessionHaltedEvent(s.opts.ID, out.reason))
	if s.opts.Store != nil {
		if _, err := s.opts.Store.EndSession(ctx, s.opts.ID, time.Now(), out.reason); err != nil {
			s.logger.Error(ctx, "end session failed", "session", s.opts.ID, "err", err)
		}
	}
	s.logger.Info(ctx, "session halted", "session", s.opts.ID, "reason", out.reason.String())
}

// pump forwards transport batches to the loop until ctx is cancelled or the
// transport fails.
func (s *Session) pump(ctx context.Context, out chan<- batch, done chan<- struct{}) {
	defer close(done)
	for {
		envs, err := s.transport.NextBatch(ctx)
		if err != nil && ctx.Err() != nil {
			return
		}
		select {
		case out <- batch{envs: envs, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) handleBatch(ctx context.Context, b batch) *outcome {
	if b.err != nil {
		if errors.Is(b.err, transport.ErrClosed) {
			return &outcome{reason: agent.HaltReason{Kind: agent.HaltShutdown, Message: "transport closed"}}
		}
		return &outcome{
			reason: agent.HaltReason{Kind: agent.HaltRuntimeFailure, Message: b.err.Error()},
			err:    b.err,
		}
	}
	var consulted []event.Envelope
	ticksOnly := true
	for _, env := range b.envs {
		if s.seen.Contains(env.ID) {
			continue
		}
		s.seen.Add(env.ID, struct{}{})
		s.clock.Observe(env.Clock)
		if out, ok := env.Event.(event.ApprovalOutcome); ok && env.Source != event.SourceRuntime {
			if !s.approvals.Resolve(out.IntentID, out.Decision) {
				s.logger.Debug(ctx, "approval outcome without pending request", "intent", out.IntentID.String())
			}
			continue
		}
		if _, tick := env.Event.(event.Tick); !tick {
			ticksOnly = false
		}
		consulted = append(consulted, env)
	}
	if len(consulted) == 0 || (ticksOnly && !s.pending.Empty()) {
		return nil
	}

	g, err := s.kernel.Process(event.Events(consulted))
	if err != nil {
		return &outcome{reason: agent.HaltReason{Kind: agent.HaltKernelError, Message: err.Error()}, err: err}
	}
	// Idle ticks change no kernel state, so replay does not need them.
	if s.opts.Journal != nil && !(ticksOnly && g.Empty()) {
		rec := &runlog.Record{
			SessionID: s.opts.ID,
			Step:      s.kernel.State().Step,
			Envelopes: consulted,
			Timestamp: time.Now().UTC(),
		}
		if err := s.opts.Journal.Append(ctx, rec); err != nil {
			err = fmt.Errorf("journal: %w", err)
			return &outcome{reason: agent.HaltReason{Kind: agent.HaltRuntimeFailure, Message: err.Error()}, err: err}
		}
	}
	if g.Empty() {
		return nil
	}
	if err := s.pending.Merge(g, s.completed); err != nil {
		err = &kernel.Error{Step: g.Step(), Err: err}
		return &outcome{reason: agent.HaltReason{Kind: agent.HaltKernelError, Message: err.Error()}, err: err}
	}
	s.notify(ctx, hooks.NewStepCompletedEvent(s.opts.ID, g.Step(), g.Len()))
	s.exec.Dispatch(ctx, s.pending, s.completed)
	return nil
}

func (s *Session) handleResult(ctx context.Context, r executor.Result) *outcome {
	id := r.Node.ID
	s.completed.Add(id)
	s.exec.Complete(id)

	switch o := r.Observation.(type) {
	case intent.Halted:
		return &outcome{reason: o.Reason}
	case intent.ResponseEmitted:
		s.response = o.Text
		s.notify(ctx, hooks.NewResponseEmittedEvent(s.opts.ID, id, o.Text))
	case intent.WorkerSpawned:
		s.workers[id] = o.Handle
		s.notify(ctx, hooks.NewWorkerSpawnedEvent(s.opts.ID, id, o.Handle.ID(), o.Spec.Task))
	case intent.RuntimeError:
		s.notify(ctx, hooks.NewIntentFailedEvent(s.opts.ID, id, string(o.Kind), o.Message()))
	}
	if ev, ok := event.FromObservation(r.Observation); ok {
		if out := s.publish(ctx, ev); out != nil {
			return out
		}
	}
	if s.pending.IsComplete(s.completed) {
		s.pending = intent.NewGraph()
		return nil
	}
	s.exec.Dispatch(ctx, s.pending, s.completed)
	return nil
}

// pollWorkers reports finished workers. A round with running workers and no
// completion publishes a Tick so the kernel observes the passage of time.
func (s *Session) pollWorkers(ctx context.Context) *outcome {
	if len(s.workers) == 0 {
		return nil
	}
	ids := make([]agent.IntentID, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, agent.IntentID.Compare)
	finished := 0
	for _, id := range ids {
		report, done := s.workers[id].Poll()
		if !done {
			continue
		}
		delete(s.workers, id)
		finished++
		s.notify(ctx, hooks.NewWorkerCompletedEvent(s.opts.ID, id, report))
		if out := s.publish(ctx, event.WorkerResult{IntentID: id, Report: report}); out != nil {
			return out
		}
	}
	if finished == 0 {
		return s.publish(ctx, event.Tick{})
	}
	return nil
}

func (s *Session) publish(ctx context.Context, ev event.KernelEvent) *outcome {
	env := event.NewEnvelope(s.opts.ID, event.SourceRuntime, s.clock.Tick(), ev)
	if err := s.transport.Publish(ctx, env); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return &outcome{reason: agent.HaltReason{Kind: agent.HaltRuntimeFailure, Message: err.Error()}, err: err}
	}
	return nil
}

func (s *Session) notify(ctx context.Context, ev hooks.Event) {
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.logger.Warn(ctx, "notification failed", "session", s.opts.ID, "type", string(ev.Type()), "err", err)
	}
}
