package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"goa.design/agentkernel/runtime/agent"
	"goa.design/agentkernel/runtime/agent/capability"
	"goa.design/agentkernel/runtime/agent/event"
	"goa.design/agentkernel/runtime/agent/kernel"
	"goa.design/agentkernel/runtime/agent/session"
	"goa.design/agentkernel/runtime/agent/telemetry"
	"goa.design/agentkernel/runtime/agent/toolset"
	"goa.design/agentkernel/runtime/agent/transport"
	"goa.design/agentkernel/runtime/agent/transport/inmem"
)

const (
	defaultStallAfter = 2 * time.Minute
	defaultMaxHistory = 40
	defaultMaxSteps   = 12
)

type (
	// Options configures a Spawner.
	Options struct {
		// SessionID is the parent session. Worker IDs are derived from it.
		SessionID string
		// LLM serves worker completions. Required.
		LLM capability.LLM
		// Tools executes non-coordination tool calls. Optional.
		Tools capability.Tool
		// ToolSpecs are advertised to worker models in addition to the
		// coordination tools.
		ToolSpecs []agent.ToolSpec
		// Kernel is the template for worker kernels. Delegation is always
		// disabled and workers always run in task mode.
		Kernel kernel.Options
		// Budgets bounds each worker. A spec's MaxSteps overrides MaxSteps.
		Budgets kernel.Budgets
		// Board is the coordination surface shared by sibling workers.
		// Defaults to a new board.
		Board *Board
		// StallAfter cancels a worker that neither published an event nor
		// started a model or tool call for that long. A single call that runs
		// longer is reported as a stall, so it must exceed the slowest
		// expected completion. Negative disables stall detection.
		StallAfter time.Duration
		// Approval answers worker approval requests. Defaults to denying
		// everything.
		Approval capability.Approval
		// Telemetry, MaxInFlight, PollInterval and Logger configure the
		// nested sessions.
		Telemetry    capability.Telemetry
		MaxInFlight  int
		PollInterval time.Duration
		Logger       telemetry.Logger
	}

	// Spawner implements capability.Worker.
	Spawner struct {
		opts Options
		wg   sync.WaitGroup
		now  func() time.Time
	}

	handle struct {
		id         string
		cancel     context.CancelFunc
		done       chan struct{}
		report     agent.WorkerReport
		progress   *progressTransport
		stallAfter time.Duration
		started    time.Time
		now        func() time.Time
		stalled    atomic.Bool
	}

	// progressTransport records the time of the last publish, which is the
	// worker's progress signal.
	progressTransport struct {
		transport.Transport
		now  func() time.Time
		last atomic.Int64
	}

	// progressLLM and progressTool mark progress when a call starts.
	progressLLM struct {
		next     capability.LLM
		progress *progressTransport
	}

	progressTool struct {
		next     capability.Tool
		progress *progressTransport
	}
)

var _ capability.Worker = (*Spawner)(nil)

// NewSpawner validates opts and returns a Spawner.
func NewSpawner(opts Options) (*Spawner, error) {
	if opts.LLM == nil {
		return nil, errors.New("worker llm is required")
	}
	if opts.Board == nil {
		opts.Board = NewBoard()
	}
	if opts.StallAfter == 0 {
		opts.StallAfter = defaultStallAfter
	}
	if opts.Approval == nil {
		opts.Approval = capability.DenyAll("workers cannot obtain approvals")
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Kernel.MaxHistory == 0 {
		opts.Kernel.MaxHistory = defaultMaxHistory
	}
	if opts.Budgets.MaxSteps == 0 {
		opts.Budgets.MaxSteps = defaultMaxSteps
	}
	return &Spawner{opts: opts, now: time.Now}, nil
}

// Board returns the coordination board shared by the spawned workers.
func (s *Spawner) Board() *Board { return s.opts.Board }

// Spawn starts a worker sub-session for spec. The worker keeps running after
// ctx is cancelled; use the handle to cancel it.
func (s *Spawner) Spawn(ctx context.Context, id agent.IntentID, spec agent.WorkerSpec) (capability.WorkerHandle, error) {
	if spec.Task == "" {
		return nil, &capability.WorkerSpawnError{Task: spec.Task, Message: "task is required"}
	}
	workerID := fmt.Sprintf("%s/worker-%s", s.opts.SessionID, id)

	var coord *toolset.Registry
	specs := append([]agent.ToolSpec(nil), s.opts.ToolSpecs...)
	if spec.Shared {
		coord = toolset.New()
		if err := RegisterCoordTools(coord, s.opts.Board, workerID); err != nil {
			return nil, &capability.WorkerSpawnError{Task: spec.Task, Message: "register coordination tools", Cause: err}
		}
		specs = append(specs, coord.Specs()...)
	}

	kopts := s.opts.Kernel
	kopts.Tools = specs
	kopts.DelegateTool = ""
	kopts.Conversational = false
	budgets := s.opts.Budgets
	if spec.MaxSteps > 0 {
		budgets.MaxSteps = spec.MaxSteps
	}

	pt := &progressTransport{Transport: inmem.New(workerID), now: s.now}
	pt.touch()
	sess, err := session.New(session.Options{
		ID:        workerID,
		Kernel:    kernel.New(kopts, kernel.NewState(budgets, workerID)),
		Transport: pt,
		Capabilities: capability.Set{
			LLM:       progressLLM{next: s.opts.LLM, progress: pt},
			Tool:      progressTool{next: tools{coord: coord, shared: s.opts.Tools}, progress: pt},
			Approval:  s.opts.Approval,
			Telemetry: s.opts.Telemetry,
		},
		MaxInFlight:  s.opts.MaxInFlight,
		PollInterval: s.opts.PollInterval,
		Logger:       s.opts.Logger,
	})
	if err != nil {
		return nil, &capability.WorkerSpawnError{Task: spec.Task, Message: "create worker session", Cause: err}
	}
	if _, err := sess.Publisher(event.SourceUser).Publish(ctx, event.UserMessage{Text: spec.Task}); err != nil {
		return nil, &capability.WorkerSpawnError{Task: spec.Task, Message: "submit task", Cause: err}
	}

	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &handle{
		id:         workerID,
		cancel:     cancel,
		done:       make(chan struct{}),
		progress:   pt,
		stallAfter: s.opts.StallAfter,
		started:    s.now(),
		now:        s.now,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		reason, err := sess.Run(wctx)
		if err != nil {
			s.opts.Logger.Warn(wctx, "worker ended with error", "worker", workerID, "err", err)
		}
		h.report = agent.WorkerReport{
			WorkerID: workerID,
			Output:   sess.LastResponse(),
			Halt:     reason,
			Duration: s.now().Sub(h.started),
		}
		if spec.Shared {
			s.opts.Board.Append(workerID, TagDone, reason.String())
		}
		close(h.done)
	}()
	s.opts.Logger.Info(ctx, "worker spawned", "worker", workerID, "task", spec.Task)
	return h, nil
}

// Wait blocks until every spawned worker returned.
func (s *Spawner) Wait() {
	s.wg.Wait()
}

func (h *handle) ID() string { return h.id }

// Poll never blocks. A worker idle for longer than its stall window is
// cancelled and reported as stalled.
func (h *handle) Poll() (agent.WorkerReport, bool) {
	if h.stalled.Load() {
		return h.stalledReport(), true
	}
	select {
	case <-h.done:
		return h.report, true
	default:
	}
	if h.stallAfter > 0 && h.now().Sub(h.progress.lastProgress()) > h.stallAfter {
		h.stalled.Store(true)
		h.cancel()
		return h.stalledReport(), true
	}
	return agent.WorkerReport{}, false
}

func (h *handle) Cancel() {
	h.cancel()
}

func (h *handle) stalledReport() agent.WorkerReport {
	return agent.WorkerReport{
		WorkerID: h.id,
		Output:   fmt.Sprintf("no progress for %s", h.stallAfter),
		Halt:     agent.HaltReason{Kind: agent.HaltShutdown, Message: "stalled"},
		Stalled:  true,
		Duration: h.now().Sub(h.started),
	}
}

func (p *progressTransport) Publish(ctx context.Context, env event.Envelope) error {
	p.touch()
	return p.Transport.Publish(ctx, env)
}

func (l progressLLM) Complete(ctx context.Context, req agent.LLMRequest) (agent.LLMResponse, error) {
	l.progress.touch()
	return l.next.Complete(ctx, req)
}

func (t progressTool) Execute(ctx context.Context, call agent.ToolCall) (agent.ToolResult, error) {
	t.progress.touch()
	return t.next.Execute(ctx, call)
}

func (p *progressTransport) touch() {
	p.last.Store(p.now().UnixNano())
}

func (p *progressTransport) lastProgress() time.Time {
	return time.Unix(0, p.last.Load())
}
