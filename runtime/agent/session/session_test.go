package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"goa.design/agentkernel/runtime/agent"
	"goa.design/agentkernel/runtime/agent/capability"
	"goa.design/agentkernel/runtime/agent/event"
	"goa.design/agentkernel/runtime/agent/hooks"
	"goa.design/agentkernel/runtime/agent/intent"
	"goa.design/agentkernel/runtime/agent/kernel"
	"goa.design/agentkernel/runtime/agent/retry"
	"goa.design/agentkernel/runtime/agent/runlog"
	runloginmem "goa.design/agentkernel/runtime/agent/runlog/inmem"
	"goa.design/agentkernel/runtime/agent/session"
	sessioninmem "goa.design/agentkernel/runtime/agent/session/inmem"
	"goa.design/agentkernel/runtime/agent/transport/inmem"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type (
	harness struct {
		session   *session.Session
		transport *inmem.Transport
		journal   *runloginmem.Store
		store     *sessioninmem.Store
	}

	// scriptedLLM answers the i-th completion with script[i].
	scriptedLLM struct {
		mu       sync.Mutex
		script   []agent.LLMResponse
		requests []agent.LLMRequest
	}

	pollHandle struct {
		polls  atomic.Int32
		after  int32
		report agent.WorkerReport
	}
)

func (l *scriptedLLM) Complete(_ context.Context, req agent.LLMRequest) (agent.LLMResponse, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = append(l.requests, req)
	if len(l.requests) > len(l.script) {
		return agent.LLMResponse{}, errors.New("unexpected completion")
	}
	return l.script[len(l.requests)-1], nil
}

func (l *scriptedLLM) calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests)
}

func (h *pollHandle) ID() string { return h.report.WorkerID }
func (h *pollHandle) Poll() (agent.WorkerReport, bool) {
	if h.polls.Add(1) < h.after {
		return agent.WorkerReport{}, false
	}
	return h.report, true
}
func (h *pollHandle) Cancel() {}

func newHarness(t *testing.T, kopts kernel.Options, caps capability.Set) *harness {
	t.Helper()
	h := &harness{transport: inmem.New("s1"), journal: runloginmem.New(), store: sessioninmem.New()}
	s, err := session.New(session.Options{
		ID:           "s1",
		Kernel:       kernel.New(kopts, kernel.NewState(kernel.Budgets{MaxSteps: 20}, "")),
		Transport:    h.transport,
		Capabilities: caps,
		Journal:      h.journal,
		Store:        h.store,
		MaxInFlight:  4,
		PollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	h.session = s
	return h
}

func (h *harness) say(t *testing.T, text string) {
	t.Helper()
	_, err := h.session.Publisher(event.SourceUser).Publish(context.Background(), event.UserMessage{Text: text})
	require.NoError(t, err)
}

func (h *harness) run(t *testing.T) (agent.HaltReason, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.session.Run(ctx)
}

func (h *harness) records(t *testing.T) []*runlog.Record {
	t.Helper()
	recs, err := runlog.All(context.Background(), h.journal, "s1")
	require.NoError(t, err)
	return recs
}

// journaled returns every event the kernel consulted, in order.
func (h *harness) journaled(t *testing.T) []event.KernelEvent {
	t.Helper()
	var out []event.KernelEvent
	for _, r := range h.records(t) {
		out = append(out, event.Events(r.Envelopes)...)
	}
	return out
}

func (h *harness) replayedIntents(t *testing.T, kopts kernel.Options) []intent.Intent {
	t.Helper()
	res, err := runlog.Replay(context.Background(), h.journal, "s1", kopts, kernel.NewState(kernel.Budgets{MaxSteps: 20}, ""))
	require.NoError(t, err)
	var out []intent.Intent
	for _, g := range res.Graphs {
		for _, n := range g.Nodes() {
			out = append(out, n.Intent)
		}
	}
	return out
}

func countType[T event.KernelEvent](evs []event.KernelEvent) int {
	n := 0
	for _, ev := range evs {
		if _, ok := ev.(T); ok {
			n++
		}
	}
	return n
}

func TestSingleTurnWithoutTools(t *testing.T) {
	llm := &scriptedLLM{script: []agent.LLMResponse{{Content: "hello!"}}}
	h := newHarness(t, kernel.Options{}, capability.Set{LLM: llm})
	h.say(t, "hi")

	reason, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, agent.HaltCompleted, reason.Kind)
	assert.Equal(t, "hello!", reason.Message)
	assert.Equal(t, "hello!", h.session.LastResponse())

	hist := h.session.Kernel().State().History
	require.Len(t, hist, 2)
	assert.Equal(t, agent.RoleUser, hist[0].Role)
	assert.Equal(t, agent.RoleAssistant, hist[1].Role)

	info, err := h.store.LoadSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusEnded, info.Status)
	require.NotNil(t, info.Halt)
	assert.Equal(t, reason, *info.Halt)
}

func TestDeniedApprovalNeverCallsTool(t *testing.T) {
	kopts := kernel.Options{RequireApproval: []string{"fs.delete"}}
	llm := &scriptedLLM{script: []agent.LLMResponse{{
		ToolCalls: []agent.ToolCall{{ID: "c1", Name: "fs.delete", Args: json.RawMessage(`{"path":"/tmp/x"}`)}},
	}}}
	var toolCalls atomic.Int32
	tool := capability.ToolFunc(func(context.Context, agent.ToolCall) (agent.ToolResult, error) {
		toolCalls.Add(1)
		return agent.ToolResult{}, nil
	})
	h := newHarness(t, kopts, capability.Set{LLM: llm, Tool: tool})

	var requested atomic.Int32
	ui := h.session.Publisher(event.SourceUI)
	_, err := h.session.Bus().Register(hooks.SubscriberFunc(func(ctx context.Context, ev hooks.Event) error {
		if e, ok := ev.(*hooks.ApprovalRequestedEvent); ok {
			requested.Add(1)
			_, err := ui.Publish(ctx, event.ApprovalOutcome{IntentID: e.Request.IntentID, Decision: agent.Deny("unsafe")})
			return err
		}
		return nil
	}))
	require.NoError(t, err)
	h.say(t, "delete temp files")

	reason, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, agent.HaltCompleted, reason.Kind)
	assert.Contains(t, reason.Message, "unsafe")
	assert.EqualValues(t, 1, requested.Load())
	assert.Zero(t, toolCalls.Load())
	for _, in := range h.replayedIntents(t, kopts) {
		_, isCall := in.(intent.CallTool)
		assert.False(t, isCall, "CallTool proposed for a denied approval")
	}
	assert.Equal(t, 1, h.session.Kernel().State().Rejections)
}

func TestIndependentToolCallsRunConcurrently(t *testing.T) {
	llm := &scriptedLLM{script: []agent.LLMResponse{
		{ToolCalls: []agent.ToolCall{{ID: "a", Name: "fs.read"}, {ID: "b", Name: "fs.read"}}},
		{Content: "both read"},
	}}
	var started sync.WaitGroup
	started.Add(2)
	tool := capability.ToolFunc(func(ctx context.Context, call agent.ToolCall) (agent.ToolResult, error) {
		started.Done()
		waited := make(chan struct{})
		go func() { started.Wait(); close(waited) }()
		select {
		case <-waited:
		case <-ctx.Done():
			return agent.ToolResult{}, ctx.Err()
		}
		return agent.ToolResult{Content: json.RawMessage(`"` + call.ID + `"`)}, nil
	})
	h := newHarness(t, kernel.Options{}, capability.Set{LLM: llm, Tool: tool})
	h.say(t, "read two files")

	reason, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, "both read", reason.Message)
	require.Equal(t, 2, llm.calls())
	second := llm.requests[1].Messages
	var toolMsgs int
	for _, m := range second {
		if m.Role == agent.RoleTool {
			toolMsgs++
		}
	}
	assert.Equal(t, 2, toolMsgs, "both results reach the model in one request")
	assert.Equal(t, uint64(4), h.session.Kernel().State().Step)
}

func TestWorkerDelegationPollsThenSummarizes(t *testing.T) {
	kopts := kernel.Options{DelegateTool: "delegate"}
	llm := &scriptedLLM{script: []agent.LLMResponse{{
		ToolCalls: []agent.ToolCall{{ID: "d1", Name: "delegate", Args: json.RawMessage(`{"task":"index repo"}`)}},
	}}}
	handle := &pollHandle{after: 10, report: agent.WorkerReport{
		WorkerID: "w1",
		Output:   "indexed 42 files",
		Halt:     agent.HaltReason{Kind: agent.HaltCompleted},
	}}
	var spec agent.WorkerSpec
	worker := capability.WorkerFunc(func(_ context.Context, _ agent.IntentID, s agent.WorkerSpec) (capability.WorkerHandle, error) {
		spec = s
		return handle, nil
	})
	h := newHarness(t, kopts, capability.Set{LLM: llm, Worker: worker})
	h.say(t, "index the repository")

	reason, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, "index repo", spec.Task)
	assert.Contains(t, reason.Message, "indexed 42 files")
	assert.Equal(t, 1, llm.calls(), "worker summary does not need another completion")

	evs := h.journaled(t)
	assert.Equal(t, 1, countType[event.WorkerResult](evs))
	assert.EqualValues(t, 10, handle.polls.Load())

	recs := h.records(t)
	assert.Len(t, recs, 3, "user message, model result and worker result")
	for _, r := range recs {
		evs := event.Events(r.Envelopes)
		assert.Less(t, countType[event.Tick](evs), len(evs), "idle ticks are not journaled")
	}
	intents := h.replayedIntents(t, kopts)
	assert.Len(t, intents, 4)
}

func TestTransientLLMFailureIsRetried(t *testing.T) {
	var calls atomic.Int32
	base := capability.LLMFunc(func(context.Context, agent.LLMRequest) (agent.LLMResponse, error) {
		if calls.Add(1) == 1 {
			return agent.LLMResponse{}, capability.NewLLMError("fake", capability.LLMErrorRateLimited, 429, "slow down", nil)
		}
		return agent.LLMResponse{Content: "hello!"}, nil
	})
	cfg := retry.Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, BackoffMultiplier: 2}
	h := newHarness(t, kernel.Options{}, capability.Set{LLM: retry.WrapLLM(base, cfg)})
	h.say(t, "hi")

	reason, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, "hello!", reason.Message)
	assert.EqualValues(t, 2, calls.Load())
	evs := h.journaled(t)
	assert.Equal(t, 1, countType[event.LLMResult](evs))
	assert.Zero(t, countType[event.IntentFailed](evs))
}

func TestFatalLLMFailureHalts(t *testing.T) {
	llm := capability.LLMFunc(func(context.Context, agent.LLMRequest) (agent.LLMResponse, error) {
		return agent.LLMResponse{}, capability.NewLLMError("fake", capability.LLMErrorAuth, 401, "bad key", nil)
	})
	h := newHarness(t, kernel.Options{}, capability.Set{LLM: llm})
	var failed atomic.Int32
	_, err := h.session.Bus().Register(hooks.SubscriberFunc(func(_ context.Context, ev hooks.Event) error {
		if _, ok := ev.(*hooks.IntentFailedEvent); ok {
			failed.Add(1)
		}
		return nil
	}))
	require.NoError(t, err)
	h.say(t, "hi")

	reason, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, agent.HaltRuntimeFailure, reason.Kind)
	assert.Contains(t, reason.Message, "bad key")
	assert.EqualValues(t, 1, failed.Load())
}

func TestCancellationDeniesPendingApproval(t *testing.T) {
	kopts := kernel.Options{RequireApproval: []string{"fs.delete"}}
	llm := &scriptedLLM{script: []agent.LLMResponse{{ToolCalls: []agent.ToolCall{{ID: "c1", Name: "fs.delete"}}}}}
	h := newHarness(t, kopts, capability.Set{LLM: llm})
	h.say(t, "delete")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for len(h.session.Approvals().Pending()) == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()
	reason, err := h.session.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, agent.HaltShutdown, reason.Kind)
	assert.Empty(t, h.session.Approvals().Pending())
}

func TestShutdownEventHalts(t *testing.T) {
	h := newHarness(t, kernel.Options{Conversational: true}, capability.Set{})
	_, err := h.session.Publisher(event.SourceUser).Publish(context.Background(), event.Shutdown{Reason: "bye"})
	require.NoError(t, err)
	reason, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, agent.HaltShutdown, reason.Kind)
}

func TestKernelErrorTerminates(t *testing.T) {
	h := newHarness(t, kernel.Options{}, capability.Set{})
	_, err := h.session.Publisher(event.SourceUI).Publish(context.Background(),
		event.ToolResult{IntentID: agent.IntentID{Step: 99}})
	require.NoError(t, err)
	reason, err := h.run(t)
	var kerr *kernel.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, agent.HaltKernelError, reason.Kind)
}

func TestDuplicateEnvelopesAreDropped(t *testing.T) {
	llm := &scriptedLLM{script: []agent.LLMResponse{{Content: "once"}}}
	h := newHarness(t, kernel.Options{}, capability.Set{LLM: llm})
	env := event.NewEnvelope("s1", event.SourceUser, 1, event.UserMessage{Text: "hi"})
	ctx := context.Background()
	require.NoError(t, h.transport.Publish(ctx, env))
	require.NoError(t, h.transport.Publish(ctx, env))

	reason, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, "once", reason.Message)
	assert.Equal(t, 1, llm.calls())
	assert.Equal(t, 1, countType[event.UserMessage](h.journaled(t)))
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := session.New(session.Options{})
	require.Error(t, err)
	_, err = session.New(session.Options{ID: "s"})
	require.Error(t, err)
	_, err = session.New(session.Options{ID: "s", Kernel: kernel.New(kernel.Options{}, kernel.State{})})
	require.Error(t, err)
}
