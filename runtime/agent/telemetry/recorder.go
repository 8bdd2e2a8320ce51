package telemetry

import (
	"context"

	"goa.design/agentkernel/runtime/agent/capability"
)

const (
	// MetricIntents counts executed intents, tagged by kind and outcome.
	MetricIntents = "agentkernel.intents"
	// MetricIntentDuration times intent execution, tagged by kind and outcome.
	MetricIntentDuration = "agentkernel.intent.duration"
)

// Recorder implements capability.Telemetry by logging every event and
// recording intent counters and timers.
type Recorder struct {
	logger  Logger
	metrics Metrics
}

// NewRecorder returns a Recorder. Nil ports are replaced with no-ops.
func NewRecorder(logger Logger, metrics Metrics) *Recorder {
	if logger == nil {
		logger = NoopLogger{}
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &Recorder{logger: logger, metrics: metrics}
}

var _ capability.Telemetry = (*Recorder)(nil)

// Record logs ev and updates the intent metrics.
func (r *Recorder) Record(ctx context.Context, ev capability.TelemetryEvent) {
	outcome := "ok"
	if ev.Err != "" {
		outcome = "error"
	}
	keyvals := []any{
		"session", ev.SessionID,
		"intent", ev.IntentID.String(),
		"kind", ev.Kind,
		"duration_ms", ev.Duration.Milliseconds(),
	}
	for k, v := range ev.Attrs {
		keyvals = append(keyvals, k, v)
	}
	if ev.Err != "" {
		r.logger.Warn(ctx, ev.Name, append(keyvals, "err", ev.Err)...)
	} else {
		r.logger.Debug(ctx, ev.Name, keyvals...)
	}
	r.metrics.IncCounter(MetricIntents, 1, "kind", ev.Kind, "outcome", outcome)
	if ev.Duration > 0 {
		r.metrics.RecordTimer(MetricIntentDuration, ev.Duration, "kind", ev.Kind, "outcome", outcome)
	}
}
