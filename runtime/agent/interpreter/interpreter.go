// Package interpreter executes intents against host capabilities. Every
// execution yields exactly one observation correlated by the intent's ID;
// capability failures, missing capabilities and panics all become
// RuntimeError observations instead of unwinding into the caller.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"goa.design/agentkernel/runtime/agent"
	"goa.design/agentkernel/runtime/agent/capability"
	"goa.design/agentkernel/runtime/agent/intent"
	"goa.design/agentkernel/runtime/agent/telemetry"
)

type (
	// Interpreter maps intents to capability calls. It is safe for
	// concurrent use when the capabilities are.
	Interpreter struct {
		caps      capability.Set
		sessionID string
		logger    telemetry.Logger
		tracer    telemetry.Tracer
		now       func() time.Time
	}

	// Option configures an Interpreter.
	Option func(*Interpreter)
)

// ErrMissingCapability is wrapped by RuntimeError observations for intents
// whose capability was not configured.
var ErrMissingCapability = errors.New("capability not configured")

// WithSessionID tags telemetry records with the session identifier.
func WithSessionID(id string) Option {
	return func(i *Interpreter) { i.sessionID = id }
}

// WithLogger sets the logger.
func WithLogger(l telemetry.Logger) Option {
	return func(i *Interpreter) { i.logger = l }
}

// WithTracer sets the tracer used to open one span per intent.
func WithTracer(t telemetry.Tracer) Option {
	return func(i *Interpreter) { i.tracer = t }
}

// New returns an interpreter over caps.
func New(caps capability.Set, opts ...Option) *Interpreter {
	i := &Interpreter{
		caps:   caps,
		logger: telemetry.NewNoopLogger(),
		tracer: telemetry.NewNoopTracer(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Execute runs node and returns its observation. It blocks for as long as
// the capability does, including while an approval is pending.
func (i *Interpreter) Execute(ctx context.Context, node intent.Node) (obs intent.Observation) {
	kind := node.Intent.Kind()
	ctx, span := i.tracer.Start(ctx, "intent."+string(kind),
		trace.WithAttributes(
			attribute.String("agentkernel.intent_id", node.ID.String()),
			attribute.String("agentkernel.session_id", i.sessionID),
		))
	start := i.now()
	defer func() {
		if r := recover(); r != nil {
			obs = intent.RuntimeError{ID: node.ID, Kind: kind, Err: fmt.Errorf("panic executing %s: %v", kind, r)}
		}
		i.finish(ctx, span, node, obs, i.now().Sub(start))
	}()
	return i.dispatch(ctx, node)
}

func (i *Interpreter) dispatch(ctx context.Context, node intent.Node) intent.Observation {
	id := node.ID
	switch in := node.Intent.(type) {
	case intent.CallTool:
		if i.caps.Tool == nil {
			return missing(id, in.Kind())
		}
		res, err := i.caps.Tool.Execute(ctx, in.Call)
		if err != nil {
			return intent.RuntimeError{ID: id, Kind: in.Kind(), Err: err}
		}
		if res.CallID == "" {
			res.CallID = in.Call.ID
		}
		if res.Name == "" {
			res.Name = in.Call.Name
		}
		return intent.ToolCompleted{ID: id, Result: res}
	case intent.RequestLLM:
		if i.caps.LLM == nil {
			return missing(id, in.Kind())
		}
		resp, err := i.caps.LLM.Complete(ctx, in.Request)
		if err != nil {
			return intent.RuntimeError{ID: id, Kind: in.Kind(), Err: err}
		}
		return intent.LLMCompleted{ID: id, Response: resp}
	case intent.RequestApproval:
		req := in.Request
		req.IntentID = id
		if i.caps.Approval == nil {
			return intent.ApprovalGiven{ID: id, Request: req, Decision: agent.Deny("no approver configured")}
		}
		return intent.ApprovalGiven{ID: id, Request: req, Decision: i.caps.Approval.Request(ctx, req)}
	case intent.SpawnWorker:
		if i.caps.Worker == nil {
			return missing(id, in.Kind())
		}
		h, err := i.caps.Worker.Spawn(ctx, id, in.Spec)
		if err != nil {
			return intent.RuntimeError{ID: id, Kind: in.Kind(), Err: err}
		}
		return intent.WorkerSpawned{ID: id, Spec: in.Spec, Handle: h}
	case intent.EmitResponse:
		return intent.ResponseEmitted{ID: id, Text: in.Text}
	case intent.Halt:
		return intent.Halted{ID: id, Reason: in.Reason}
	default:
		return intent.RuntimeError{ID: id, Kind: node.Intent.Kind(), Err: fmt.Errorf("unsupported intent %T", node.Intent)}
	}
}

func (i *Interpreter) finish(ctx context.Context, span telemetry.Span, node intent.Node, obs intent.Observation, d time.Duration) {
	defer span.End()
	rec := capability.TelemetryEvent{
		Name:      "intent.executed",
		SessionID: i.sessionID,
		IntentID:  node.ID,
		Kind:      string(node.Intent.Kind()),
		Duration:  d,
	}
	switch o := obs.(type) {
	case intent.RuntimeError:
		rec.Err = o.Message()
		span.RecordError(o.Err)
		span.SetStatus(codes.Error, o.Message())
		i.logger.Warn(ctx, "intent failed", "intent", node.ID.String(), "kind", string(o.Kind), "err", o.Err)
	case intent.ApprovalGiven:
		rec.Attrs = map[string]string{"granted": fmt.Sprint(o.Decision.Granted)}
	case intent.LLMCompleted:
		span.AddEvent("llm.usage",
			"input_tokens", o.Response.Usage.InputTokens,
			"output_tokens", o.Response.Usage.OutputTokens)
	}
	if i.caps.Telemetry != nil {
		i.caps.Telemetry.Record(ctx, rec)
	}
}

func missing(id agent.IntentID, kind intent.Kind) intent.Observation {
	return intent.RuntimeError{ID: id, Kind: kind, Err: fmt.Errorf("%s: %w", kind, ErrMissingCapability)}
}
