package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentkernel/runtime/agent"
	"goa.design/agentkernel/runtime/agent/capability"
)

type (
	entry struct {
		level   string
		msg     string
		keyvals []any
	}

	captureLogger struct {
		mu      sync.Mutex
		entries []entry
	}

	captureMetrics struct {
		mu       sync.Mutex
		counters map[string]float64
		timers   map[string][]time.Duration
	}
)

func (l *captureLogger) add(level, msg string, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry{level: level, msg: msg, keyvals: kv})
}

func (l *captureLogger) Debug(_ context.Context, msg string, kv ...any) { l.add("debug", msg, kv) }
func (l *captureLogger) Info(_ context.Context, msg string, kv ...any)  { l.add("info", msg, kv) }
func (l *captureLogger) Warn(_ context.Context, msg string, kv ...any)  { l.add("warn", msg, kv) }
func (l *captureLogger) Error(_ context.Context, msg string, kv ...any) { l.add("error", msg, kv) }

func newCaptureMetrics() *captureMetrics {
	return &captureMetrics{counters: map[string]float64{}, timers: map[string][]time.Duration{}}
}

func (m *captureMetrics) IncCounter(name string, value float64, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key(name, tags)] += value
}

func (m *captureMetrics) RecordTimer(name string, d time.Duration, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timers[key(name, tags)] = append(m.timers[key(name, tags)], d)
}

func key(name string, tags []string) string {
	for _, t := range tags {
		name += "|" + t
	}
	return name
}

func TestRecorderSuccess(t *testing.T) {
	logger := &captureLogger{}
	metrics := newCaptureMetrics()
	r := NewRecorder(logger, metrics)

	r.Record(context.Background(), capability.TelemetryEvent{
		Name:      "intent.executed",
		SessionID: "s1",
		IntentID:  agent.IntentID{Step: 2, Index: 1},
		Kind:      "call_tool",
		Duration:  15 * time.Millisecond,
	})

	require.Len(t, logger.entries, 1)
	assert.Equal(t, "debug", logger.entries[0].level)
	assert.Equal(t, "intent.executed", logger.entries[0].msg)
	assert.Contains(t, logger.entries[0].keyvals, "2.1")
	assert.Equal(t, 1.0, metrics.counters["agentkernel.intents|kind|call_tool|outcome|ok"])
	assert.Equal(t, []time.Duration{15 * time.Millisecond}, metrics.timers["agentkernel.intent.duration|kind|call_tool|outcome|ok"])
}

func TestRecorderFailure(t *testing.T) {
	logger := &captureLogger{}
	metrics := newCaptureMetrics()
	r := NewRecorder(logger, metrics)

	r.Record(context.Background(), capability.TelemetryEvent{
		Name:  "intent.executed",
		Kind:  "request_llm",
		Err:   "boom",
		Attrs: map[string]string{"provider": "anthropic"},
	})

	require.Len(t, logger.entries, 1)
	assert.Equal(t, "warn", logger.entries[0].level)
	assert.Contains(t, logger.entries[0].keyvals, "boom")
	assert.Contains(t, logger.entries[0].keyvals, "anthropic")
	assert.Equal(t, 1.0, metrics.counters["agentkernel.intents|kind|request_llm|outcome|error"])
	assert.Empty(t, metrics.timers, "zero durations are not timed")
}

func TestNilPortsAreNoops(t *testing.T) {
	r := NewRecorder(nil, nil)
	assert.NotPanics(t, func() {
		r.Record(context.Background(), capability.TelemetryEvent{Name: "x", Duration: time.Second})
	})
}

func TestFieldersPairs(t *testing.T) {
	fs := fielders("hello", []any{"a", 1, 2, "skipped", "trailing"})
	require.Len(t, fs, 3)
	attrs := kvAttrs([]any{"s", "v", "n", 3, "b", true, "f", 1.5, "d", time.Second})
	require.Len(t, attrs, 5)
	assert.Equal(t, "1s", attrs[4].Value.AsString())
	tags := tagAttrs([]string{"k", "v", "odd"})
	require.Len(t, tags, 2)
	assert.Equal(t, "", tags[1].Value.AsString())
}

func TestNoopTracer(t *testing.T) {
	ctx, span := NoopTracer{}.Start(context.Background(), "op")
	assert.NotNil(t, ctx)
	span.AddEvent("e", "k", "v")
	span.RecordError(assert.AnError)
	span.End()
}
