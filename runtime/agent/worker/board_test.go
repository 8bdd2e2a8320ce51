package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentkernel/runtime/agent"
	"goa.design/agentkernel/runtime/agent/capability"
	"goa.design/agentkernel/runtime/agent/toolset"
)

func TestBoardAppendIsOrdered(t *testing.T) {
	b := NewBoard()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 25 {
				b.Append(fmt.Sprintf("w%d", i), TagProgress, fmt.Sprint(j))
			}
		}()
	}
	wg.Wait()

	notes := b.Since(0)
	require.Len(t, notes, 200)
	for i, n := range notes {
		assert.Equal(t, uint64(i+1), n.Seq)
	}
	assert.Len(t, b.Since(150), 50)
	assert.Empty(t, b.Since(200))
	assert.Equal(t, 200, b.Len())
}

func TestBoardFirstClaimWins(t *testing.T) {
	b := NewBoard()
	owner, ok := b.Claim("a", "main.go")
	assert.True(t, ok)
	assert.Equal(t, "a", owner)

	owner, ok = b.Claim("b", "main.go")
	assert.False(t, ok)
	assert.Equal(t, "a", owner)

	_, ok = b.Claim("a", "main.go")
	assert.True(t, ok, "reclaiming an owned resource succeeds")

	owner, ok = b.Claim("b", "util.go")
	assert.True(t, ok)
	assert.Equal(t, "b", owner)
	assert.Len(t, b.ByTag(TagClaim), 4)
	assert.Equal(t, "", b.Owner("other.go"))
}

func TestBoardConcurrentClaimsHaveOneOwner(t *testing.T) {
	b := NewBoard()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := b.Claim(fmt.Sprintf("w%d", i), "shared"); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.NotEmpty(t, b.Owner("shared"))
}

func TestCoordTools(t *testing.T) {
	b := NewBoard()
	r := toolset.New()
	require.NoError(t, RegisterCoordTools(r, b, "w1"))
	ctx := context.Background()

	res, err := r.Execute(ctx, agent.ToolCall{ID: "c1", Name: ToolClaim, Args: json.RawMessage(`{"resource":"a.go"}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"resource":"a.go","owner":"w1","claimed":true}`, string(res.Content))

	_, err = r.Execute(ctx, agent.ToolCall{ID: "c2", Name: ToolPost, Args: json.RawMessage(`{"tag":"progress","body":"half way"}`)})
	require.NoError(t, err)

	res, err = r.Execute(ctx, agent.ToolCall{ID: "c3", Name: ToolRead, Args: json.RawMessage(`{"tag":"progress"}`)})
	require.NoError(t, err)
	var out struct {
		Notes []Note `json:"notes"`
	}
	require.NoError(t, json.Unmarshal(res.Content, &out))
	require.Len(t, out.Notes, 1)
	assert.Equal(t, "half way", out.Notes[0].Body)
	assert.Equal(t, "w1", out.Notes[0].Author)

	res, err = r.Execute(ctx, agent.ToolCall{ID: "c4", Name: ToolRead, Args: json.RawMessage(`{"since":5}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"notes":[]}`, string(res.Content))

	_, err = r.Execute(ctx, agent.ToolCall{ID: "c5", Name: ToolPost, Args: json.RawMessage(`{"tag":"claim","body":"x"}`)})
	var terr *capability.ToolError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 2, b.Len())
}

func TestToolsRouting(t *testing.T) {
	coord := toolset.New()
	require.NoError(t, RegisterCoordTools(coord, NewBoard(), "w1"))
	var sharedCalls []string
	shared := capability.ToolFunc(func(_ context.Context, call agent.ToolCall) (agent.ToolResult, error) {
		sharedCalls = append(sharedCalls, call.Name)
		return agent.ToolResult{Name: call.Name, Content: json.RawMessage(`true`)}, nil
	})
	ctx := context.Background()

	_, err := tools{coord: coord, shared: shared}.Execute(ctx, agent.ToolCall{Name: ToolRead})
	require.NoError(t, err)
	_, err = tools{coord: coord, shared: shared}.Execute(ctx, agent.ToolCall{Name: "fs.read"})
	require.NoError(t, err)
	assert.Equal(t, []string{"fs.read"}, sharedCalls)

	_, err = tools{}.Execute(ctx, agent.ToolCall{Name: "fs.read"})
	var terr *capability.ToolError
	assert.ErrorAs(t, err, &terr)
}

func TestDelegateSpecSchemaIsValidJSON(t *testing.T) {
	spec := DelegateSpec("delegate")
	assert.Equal(t, "delegate", spec.Name)
	var schema map[string]any
	require.NoError(t, json.Unmarshal(spec.Schema, &schema))
	assert.Equal(t, []any{"task"}, schema["required"])
}
