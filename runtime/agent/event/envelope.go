package event

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Envelope sources.
const (
	// SourceUser marks events typed by the user.
	SourceUser = "user"
	// SourceUI marks events produced by an external UI, such as approval
	// decisions.
	SourceUI = "ui"
	// SourceRuntime marks events converted from observations by the session.
	SourceRuntime = "runtime"
)

type (
	// Envelope wraps a kernel event with the metadata transports need to
	// guarantee per-session FIFO delivery and consumers need to deduplicate.
	Envelope struct {
		// ID uniquely identifies the envelope. Redeliveries keep the same ID.
		ID string
		// SessionID identifies the owning session.
		SessionID string
		// Source identifies the producer.
		Source string
		// Clock is the producer's Lamport clock value.
		Clock uint64
		// Timestamp is the wall clock time the envelope was created.
		Timestamp time.Time
		// Event is the wrapped kernel event.
		Event KernelEvent
	}

	// Clock is a Lamport logical clock.
	Clock struct {
		mu sync.Mutex
		t  uint64
	}
)

// NewEnvelope wraps ev with a fresh identifier.
func NewEnvelope(sessionID, source string, clock uint64, ev KernelEvent) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Source:    source,
		Clock:     clock,
		Timestamp: time.Now().UTC(),
		Event:     ev,
	}
}

// Events extracts the kernel events of envs in order.
func Events(envs []Envelope) []KernelEvent {
	out := make([]KernelEvent, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.Event)
	}
	return out
}

// Tick advances the clock for a local event and returns the new value.
func (c *Clock) Tick() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t++
	return c.t
}

// Observe merges a received clock value and returns the new local value.
func (c *Clock) Observe(remote uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if remote > c.t {
		c.t = remote
	}
	c.t++
	return c.t
}

// Now returns the current value without advancing it.
func (c *Clock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}
