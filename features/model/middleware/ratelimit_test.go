package middleware

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"goa.design/pulse/rmap"

	"goa.design/agentkernel/runtime/agent"
	"goa.design/agentkernel/runtime/agent/capability"
	"goa.design/agentkernel/runtime/agent/retry"
)

type fakeLLM struct {
	err   error
	calls int
}

func (f *fakeLLM) Complete(context.Context, agent.LLMRequest) (agent.LLMResponse, error) {
	f.calls++
	return agent.LLMResponse{Content: "ok"}, f.err
}

type fakeBudgetMap struct {
	mu     sync.Mutex
	values map[string]string
	ch     chan rmap.EventKind
}

func newFakeBudgetMap() *fakeBudgetMap {
	return &fakeBudgetMap{values: make(map[string]string), ch: make(chan rmap.EventKind, 1)}
}

func (m *fakeBudgetMap) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *fakeBudgetMap) SetIfNotExists(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value
	return true, nil
}

func (m *fakeBudgetMap) TestAndSet(_ context.Context, key, test, value string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.values[key]
	if !ok || cur != test {
		return cur, nil
	}
	m.values[key] = value
	select {
	case m.ch <- rmap.EventChange:
	default:
	}
	return cur, nil
}

func (m *fakeBudgetMap) Subscribe() <-chan rmap.EventKind { return m.ch }

func (m *fakeBudgetMap) set(key, value string) {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	m.ch <- rmap.EventChange
}

var hello = agent.LLMRequest{Messages: []agent.Message{{Role: agent.RoleUser, Content: "hello"}}}

func TestLimiterBacksOffOnRateLimit(t *testing.T) {
	l := newLimiter(context.Background(), nil, "", 60000, 60000)
	next := &fakeLLM{err: capability.NewLLMError("p", capability.LLMErrorRateLimited, 429, "slow", nil)}

	_, err := l.Wrap(next).Complete(context.Background(), hello)
	le, ok := capability.AsLLMError(err)
	require.True(t, ok)
	assert.Equal(t, capability.LLMErrorRateLimited, le.Kind)
	assert.Equal(t, 30000.0, l.TPM())

	for range 10 {
		_, _ = l.Wrap(next).Complete(context.Background(), hello)
	}
	assert.Equal(t, 6000.0, l.TPM(), "budget never drops below the floor")
}

func TestLimiterRaisesBudgetOnSuccess(t *testing.T) {
	l := newLimiter(context.Background(), nil, "", 60000, 120000)
	next := &fakeLLM{}
	_, err := l.Wrap(next).Complete(context.Background(), hello)
	require.NoError(t, err)
	assert.Equal(t, 63000.0, l.TPM())
	assert.Equal(t, 1, next.calls)
}

func TestLimiterIgnoresOtherErrors(t *testing.T) {
	l := newLimiter(context.Background(), nil, "", 60000, 60000)
	next := &fakeLLM{err: errors.New("boom")}
	_, err := l.Wrap(next).Complete(context.Background(), hello)
	require.Error(t, err)
	assert.Equal(t, 60000.0, l.TPM())
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	l := newLimiter(context.Background(), nil, "", 600, 600)
	next := &fakeLLM{}
	ctx := context.Background()
	// Drain the bucket.
	_, err := l.Wrap(next).Complete(ctx, hello)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = l.Wrap(next).Complete(ctx, hello)
	require.Error(t, err)
	assert.Equal(t, 1, next.calls)
}

func TestLimiterDeadlineIsNotRetried(t *testing.T) {
	l := newLimiter(context.Background(), nil, "", 600, 600)
	next := &fakeLLM{}
	_, err := l.Wrap(next).Complete(context.Background(), hello)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	cfg := retry.Config{MaxAttempts: 5, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1}
	_, err = retry.WrapLLM(l.Wrap(next), cfg).Complete(ctx, hello)
	require.Error(t, err)
	le, ok := capability.AsLLMError(err)
	require.True(t, ok)
	assert.False(t, le.Retryable())
	assert.False(t, retry.IsRetryable(err))
	assert.Equal(t, 1, next.calls)
}

func TestLimiterReturnsContextError(t *testing.T) {
	l := newLimiter(context.Background(), nil, "", 600, 600)
	next := &fakeLLM{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Wrap(next).Complete(ctx, hello)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, next.calls)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, minTokens, estimateTokens(agent.LLMRequest{}))
	req := agent.LLMRequest{
		System: "123",
		Messages: []agent.Message{
			{Content: "456"},
			{ToolCalls: []agent.ToolCall{{Args: []byte(`{"a":1}`)}}},
		},
	}
	assert.Equal(t, 13/charsPerToken+minTokens, estimateTokens(req))
}

func TestSharedBudget(t *testing.T) {
	m := newFakeBudgetMap()
	m.values["model"] = strconv.Itoa(80000)
	l := newLimiter(context.Background(), m, "model", 100000, 100000)
	assert.Equal(t, 80000.0, l.TPM(), "seeded from the shared map")

	next := &fakeLLM{err: capability.NewLLMError("p", capability.LLMErrorRateLimited, 429, "slow", nil)}
	_, _ = l.Wrap(next).Complete(context.Background(), hello)
	assert.Eventually(t, func() bool {
		v, _ := m.Get("model")
		return v == "40000"
	}, time.Second, 5*time.Millisecond)

	m.set("model", "20000")
	assert.Eventually(t, func() bool { return l.TPM() == 20000 }, time.Second, 5*time.Millisecond)
}

func TestSharedBudgetSeedsMissingKey(t *testing.T) {
	m := newFakeBudgetMap()
	l := newLimiter(context.Background(), m, "model", 50000, 50000)
	v, ok := m.Get("model")
	require.True(t, ok)
	assert.Equal(t, "50000", v)
	assert.Equal(t, 50000.0, l.TPM())
}
