package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentkernel/runtime/agent"
	"goa.design/agentkernel/runtime/agent/event"
	"goa.design/agentkernel/runtime/agent/hooks"
)

type published struct {
	mu  sync.Mutex
	evs []event.KernelEvent
}

func (p *published) publish(_ context.Context, ev event.KernelEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evs = append(p.evs, ev)
	return nil
}

func (p *published) snapshot() []event.KernelEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]event.KernelEvent(nil), p.evs...)
}

func request(step uint64, tool string) *hooks.ApprovalRequestedEvent {
	return hooks.NewApprovalRequestedEvent("s1", agent.ApprovalRequest{
		IntentID:    agent.IntentID{Step: step},
		Call:        agent.ToolCall{ID: tool, Name: tool},
		Description: "call " + tool,
	})
}

func TestApproverPublishesDecisions(t *testing.T) {
	var pub published
	var out bytes.Buffer
	a := newApprover(strings.NewReader("y\nnope\n"), &out, pub.publish)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.HandleEvent(ctx, request(1, "fs.delete")))
	require.NoError(t, a.HandleEvent(ctx, request(2, "shell.exec")))
	require.NoError(t, a.HandleEvent(ctx, hooks.NewSessionHaltedEvent("s1", agent.HaltReason{Kind: agent.HaltCompleted})))

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	require.Eventually(t, func() bool { return len(pub.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	evs := pub.snapshot()
	first := evs[0].(event.ApprovalOutcome)
	assert.Equal(t, agent.IntentID{Step: 1}, first.IntentID)
	assert.True(t, first.Decision.Granted)
	second := evs[1].(event.ApprovalOutcome)
	assert.Equal(t, agent.IntentID{Step: 2}, second.IntentID)
	assert.False(t, second.Decision.Granted)
	assert.Contains(t, out.String(), "approve call fs.delete?")
}

func TestApproverDeniesOnClosedInput(t *testing.T) {
	var pub published
	a := newApprover(strings.NewReader(""), &bytes.Buffer{}, pub.publish)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.HandleEvent(ctx, request(3, "echo")))

	go func() { _ = a.Run(ctx) }()
	require.Eventually(t, func() bool { return len(pub.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, pub.snapshot()[0].(event.ApprovalOutcome).Decision.Granted)
}

func TestApproverQueueFull(t *testing.T) {
	a := newApprover(strings.NewReader(""), &bytes.Buffer{}, (&published{}).publish)
	for i := range approvalQueue {
		require.NoError(t, a.HandleEvent(context.Background(), request(uint64(i+1), "echo")))
	}
	assert.ErrorIs(t, a.HandleEvent(context.Background(), request(99, "echo")), errApprovalQueueFull)
}

func TestDecide(t *testing.T) {
	assert.True(t, decide(" Y ").Granted)
	assert.True(t, decide("yes").Granted)
	assert.False(t, decide("").Granted)
	assert.False(t, decide("no").Granted)
}
