package runlog_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentkernel/runtime/agent"
	"goa.design/agentkernel/runtime/agent/event"
	"goa.design/agentkernel/runtime/agent/kernel"
	"goa.design/agentkernel/runtime/agent/runlog"
	"goa.design/agentkernel/runtime/agent/runlog/inmem"
)

// journal drives a kernel through a tool round and journals every batch the
// way the session does.
func journal(t *testing.T, s runlog.Store, opts kernel.Options) ([]agent.IntentID, kernel.State) {
	t.Helper()
	ctx := context.Background()
	k := kernel.New(opts, kernel.NewState(kernel.Budgets{}, ""))
	var ids []agent.IntentID
	process := func(evs ...event.KernelEvent) []agent.IntentID {
		envs := make([]event.Envelope, len(evs))
		for i, ev := range evs {
			envs[i] = event.NewEnvelope("s1", event.SourceRuntime, uint64(i), ev)
		}
		g, err := k.Process(evs)
		require.NoError(t, err)
		require.NoError(t, s.Append(ctx, &runlog.Record{SessionID: "s1", Step: k.State().Step, Envelopes: envs}))
		ids = append(ids, g.IDs()...)
		return g.IDs()
	}
	llm := process(event.UserMessage{Text: "read two files"})
	calls := process(event.LLMResult{IntentID: llm[0], Response: agent.LLMResponse{ToolCalls: []agent.ToolCall{
		{ID: "a", Name: "fs.read"}, {ID: "b", Name: "fs.read"},
	}}})
	process(event.ToolResult{IntentID: calls[1], Result: agent.ToolResult{CallID: "b", Content: []byte(`2`)}})
	next := process(event.ToolResult{IntentID: calls[0], Result: agent.ToolResult{CallID: "a", Content: []byte(`1`)}})
	process(event.LLMResult{IntentID: next[0], Response: agent.LLMResponse{Content: "done"}})
	return ids, k.State()
}

func TestReplayReconstructsSession(t *testing.T) {
	s := inmem.New()
	ids, final := journal(t, s, kernel.Options{})

	res, err := runlog.Replay(context.Background(), s, "s1", kernel.Options{}, kernel.NewState(kernel.Budgets{}, ""))
	require.NoError(t, err)
	assert.Equal(t, 5, res.Records)
	var replayed []agent.IntentID
	for _, g := range res.Graphs {
		replayed = append(replayed, g.IDs()...)
	}
	if diff := cmp.Diff(ids, replayed); diff != "" {
		t.Fatalf("ids diff (-live +replay):\n%s", diff)
	}
	if diff := cmp.Diff(final, res.State); diff != "" {
		t.Fatalf("state diff (-live +replay):\n%s", diff)
	}
}

func TestReplayDetectsDivergentOptions(t *testing.T) {
	s := inmem.New()
	journal(t, s, kernel.Options{})
	_, err := runlog.Replay(context.Background(), s, "s1",
		kernel.Options{RequireApproval: []string{"fs.read"}},
		kernel.NewState(kernel.Budgets{}, ""))
	require.Error(t, err)
}

func TestAllPagesThroughJournal(t *testing.T) {
	s := inmem.New()
	ctx := context.Background()
	for range 250 {
		require.NoError(t, s.Append(ctx, &runlog.Record{SessionID: "s"}))
	}
	all, err := runlog.All(ctx, s, "s")
	require.NoError(t, err)
	require.Len(t, all, 250)
	assert.Equal(t, "250", all[249].ID)
}
