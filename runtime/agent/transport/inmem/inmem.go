// Package inmem provides an in-process implementation of transport.Transport
// backed by a FIFO queue. It is used for tests, worker sub-sessions and
// single-process deployments.
package inmem

import (
	"context"
	"sync"

	"goa.design/agentkernel/runtime/agent/event"
	"goa.design/agentkernel/runtime/agent/transport"
)

type (
	// Transport is an unbounded in-memory FIFO queue.
	Transport struct {
		sessionID string
		maxBatch  int

		mu     sync.Mutex
		queue  []event.Envelope
		closed bool
		notify chan struct{}
	}

	// Option configures a Transport.
	Option func(*Transport)
)

var _ transport.Transport = (*Transport)(nil)

// WithMaxBatch caps the number of envelopes returned by NextBatch. Zero
// returns everything queued.
func WithMaxBatch(n int) Option {
	return func(t *Transport) { t.maxBatch = n }
}

// New returns an empty transport for sessionID.
func New(sessionID string, opts ...Option) *Transport {
	t := &Transport{sessionID: sessionID, notify: make(chan struct{}, 1)}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Publish appends env to the queue.
func (t *Transport) Publish(_ context.Context, env event.Envelope) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return &transport.Error{Op: "publish", SessionID: t.sessionID, Err: transport.ErrClosed}
	}
	t.queue = append(t.queue, env)
	t.mu.Unlock()
	t.signal()
	return nil
}

// NextBatch returns the queued envelopes, blocking while the queue is empty.
func (t *Transport) NextBatch(ctx context.Context) ([]event.Envelope, error) {
	for {
		t.mu.Lock()
		if n := len(t.queue); n > 0 {
			if t.maxBatch > 0 && n > t.maxBatch {
				n = t.maxBatch
			}
			batch := make([]event.Envelope, n)
			copy(batch, t.queue)
			t.queue = t.queue[n:]
			more := len(t.queue) > 0
			t.mu.Unlock()
			if more {
				t.signal()
			}
			return batch, nil
		}
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return nil, transport.ErrClosed
		}
		select {
		case <-t.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len returns the number of queued envelopes.
func (t *Transport) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// Close stops accepting envelopes. Queued envelopes remain readable.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.signal()
	return nil
}

func (t *Transport) signal() {
	select {
	case t.notify <- struct{}{}:
	default:
	}
}
