package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentkernel/features/policy/basic"
	"goa.design/agentkernel/runtime/agent"
	"goa.design/agentkernel/runtime/agent/telemetry"
	"goa.design/agentkernel/runtime/agent/toolset"
)

func TestStackAppliesToolPolicy(t *testing.T) {
	cfg := Config{
		Transport:       TransportInmem,
		Journal:         JournalInmem,
		DelegateTool:    "delegate",
		RequireApproval: []string{"deploy"},
		MaxSteps:        7,
		Policy: PolicyConfig{
			BlockTools:   []string{toolset.ToolEcho},
			ApprovalTags: []string{toolset.TagReadOnly},
		},
	}
	ctx := context.Background()
	st, err := newStack(ctx, cfg, telemetry.NewNoopLogger())
	require.NoError(t, err)
	defer st.close(ctx)

	kopts, budgets := st.kernelOptions()
	var names []string
	for _, s := range kopts.Tools {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{toolset.ToolNow, "delegate"}, names)
	assert.ElementsMatch(t, []string{"deploy", toolset.ToolNow}, kopts.RequireApproval)
	assert.Equal(t, 7, budgets.MaxSteps)

	tools := st.toolCapability()
	_, err = tools.Execute(ctx, agent.ToolCall{Name: toolset.ToolEcho, Args: json.RawMessage(`{"text":"x"}`)})
	assert.ErrorIs(t, err, basic.ErrBlocked)
	_, err = tools.Execute(ctx, agent.ToolCall{Name: toolset.ToolNow})
	assert.NoError(t, err)
}

func TestStackRejectsConflictingPolicy(t *testing.T) {
	cfg := Config{Transport: TransportInmem, Journal: JournalInmem, Policy: PolicyConfig{
		AllowTools: []string{toolset.ToolEcho},
		BlockTools: []string{toolset.ToolEcho},
	}}
	_, err := newStack(context.Background(), cfg, telemetry.NewNoopLogger())
	assert.Error(t, err)
}
