// Package transport defines the ordered event channel between event producers
// (users, UIs, the session itself) and the session orchestrator.
//
// Implementations must preserve FIFO order per session. Delivery is
// at-least-once: consumers deduplicate envelopes by ID and the kernel ignores
// events for intents that are no longer outstanding.
package transport

import (
	"context"
	"errors"
	"fmt"

	"goa.design/agentkernel/runtime/agent/event"
)

type (
	// Transport carries envelopes for one session.
	Transport interface {
		// NextBatch blocks until at least one envelope is available and
		// returns the queued envelopes in FIFO order. It returns ErrClosed
		// once the transport is closed and drained.
		NextBatch(ctx context.Context) ([]event.Envelope, error)
		// Publish enqueues env. Failures are *Error values.
		Publish(ctx context.Context, env event.Envelope) error
		// Close releases resources. Pending NextBatch calls return ErrClosed.
		Close() error
	}

	// Error reports a delivery failure. Transports retry internally before
	// surfacing one.
	Error struct {
		// Op is the failed operation, "publish" or "receive".
		Op string
		// SessionID identifies the session.
		SessionID string
		// Err is the underlying failure.
		Err error
	}
)

// ErrClosed is returned by closed transports.
var ErrClosed = errors.New("transport closed")

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("transport %s (session %s): %v", e.Op, e.SessionID, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Publisher stamps kernel events with envelopes for one session and source,
// ticking a shared Lamport clock.
type Publisher struct {
	t         Transport
	sessionID string
	source    string
	clock     *event.Clock
}

// NewPublisher returns a Publisher. clock may be shared with other
// publishers of the same process; nil allocates a private clock.
func NewPublisher(t Transport, sessionID, source string, clock *event.Clock) *Publisher {
	if clock == nil {
		clock = &event.Clock{}
	}
	return &Publisher{t: t, sessionID: sessionID, source: source, clock: clock}
}

// Publish wraps ev in a new envelope and publishes it.
func (p *Publisher) Publish(ctx context.Context, ev event.KernelEvent) (event.Envelope, error) {
	env := event.NewEnvelope(p.sessionID, p.source, p.clock.Tick(), ev)
	return env, p.t.Publish(ctx, env)
}
