package event

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentkernel/runtime/agent"
	"goa.design/agentkernel/runtime/agent/intent"
)

func TestCodecPreservesEventPayloads(t *testing.T) {
	id := agent.IntentID{Step: 4, Index: 1}
	events := []KernelEvent{
		UserMessage{Text: "hi"},
		LLMResult{IntentID: id, Response: agent.LLMResponse{
			Content:   "calling",
			ToolCalls: []agent.ToolCall{{ID: "c1", Name: "fs.list", Args: json.RawMessage(`{"dir":"/tmp"}`)}},
		}},
		ToolResult{IntentID: id, Result: agent.ToolResult{Name: "fs.list", Content: json.RawMessage(`["a"]`)}},
		ApprovalOutcome{IntentID: id, Decision: agent.Deny("unsafe")},
		WorkerResult{IntentID: id, Report: agent.WorkerReport{WorkerID: "w1", Stalled: true}},
		IntentFailed{IntentID: id, Kind: intent.KindCallTool, Message: "boom"},
		Shutdown{Reason: "bye"},
		Tick{},
	}
	for _, ev := range events {
		t.Run(string(ev.Type()), func(t *testing.T) {
			env := NewEnvelope("s1", SourceRuntime, 7, ev)
			b, err := Encode(env)
			require.NoError(t, err)
			got, err := Decode(b)
			require.NoError(t, err)
			assert.Equal(t, env.ID, got.ID)
			assert.Equal(t, "s1", got.SessionID)
			assert.Equal(t, uint64(7), got.Clock)
			assert.Equal(t, ev, got.Event)
		})
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"id":"x","type":"nope"}`))
	require.ErrorContains(t, err, `unknown type "nope"`)
	_, err = Encode(Envelope{ID: "x"})
	require.Error(t, err)
}

func TestFromObservation(t *testing.T) {
	id := agent.IntentID{Step: 1}
	ev, ok := FromObservation(intent.RuntimeError{ID: id, Kind: intent.KindRequestLLM, Err: errors.New("rate limited")})
	require.True(t, ok)
	assert.Equal(t, IntentFailed{IntentID: id, Kind: intent.KindRequestLLM, Message: "rate limited"}, ev)

	ev, ok = FromObservation(intent.ApprovalGiven{ID: id, Decision: agent.Grant()})
	require.True(t, ok)
	assert.Equal(t, ApprovalOutcome{IntentID: id, Decision: agent.Grant()}, ev)

	for _, obs := range []intent.Observation{
		intent.Halted{ID: id},
		intent.ResponseEmitted{ID: id},
		intent.WorkerSpawned{ID: id},
	} {
		_, ok := FromObservation(obs)
		assert.False(t, ok, "%T", obs)
	}

	got, ok := IntentOf(ev)
	require.True(t, ok)
	assert.Equal(t, id, got)
	_, ok = IntentOf(UserMessage{})
	assert.False(t, ok)
}

func TestClockIsMonotonic(t *testing.T) {
	var c Clock
	assert.Equal(t, uint64(1), c.Tick())
	assert.Equal(t, uint64(11), c.Observe(10))
	assert.Equal(t, uint64(12), c.Observe(3))

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Tick()
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(62), c.Now())
}
