package hooks

import (
	"context"

	"goa.design/agentkernel/runtime/agent/telemetry"
)

// NewLogSubscriber returns a subscriber that logs every event. It never
// fails.
func NewLogSubscriber(logger telemetry.Logger) Subscriber {
	return SubscriberFunc(func(ctx context.Context, event Event) error {
		kv := []any{"session", event.SessionID(), "type", string(event.Type())}
		switch e := event.(type) {
		case *ApprovalRequestedEvent:
			logger.Info(ctx, "approval requested", append(kv, "intent", e.Request.IntentID.String(), "tool", e.Request.Call.Name)...)
		case *ApprovalResolvedEvent:
			logger.Info(ctx, "approval resolved", append(kv, "intent", e.IntentID.String(), "granted", e.Decision.Granted, "reason", e.Decision.Reason)...)
		case *ResponseEmittedEvent:
			logger.Info(ctx, "response", append(kv, "intent", e.IntentID.String(), "text", e.Text)...)
		case *IntentFailedEvent:
			logger.Warn(ctx, "intent failed", append(kv, "intent", e.IntentID.String(), "kind", e.Kind, "err", e.Message)...)
		case *WorkerSpawnedEvent:
			logger.Info(ctx, "worker spawned", append(kv, "intent", e.IntentID.String(), "worker", e.WorkerID, "task", e.Task)...)
		case *WorkerCompletedEvent:
			logger.Info(ctx, "worker completed", append(kv, "intent", e.IntentID.String(), "worker", e.Report.WorkerID, "stalled", e.Report.Stalled)...)
		case *StepCompletedEvent:
			logger.Debug(ctx, "step", append(kv, "step", e.Step, "intents", e.Intents)...)
		case *SessionHaltedEvent:
			logger.Info(ctx, "session halted", append(kv, "reason", e.Reason.String())...)
		default:
			logger.Debug(ctx, "hook event", kv...)
		}
		return nil
	})
}
