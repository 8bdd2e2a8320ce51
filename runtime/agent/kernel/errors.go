package kernel

import (
	"errors"
	"fmt"

	"goa.design/agentkernel/runtime/agent/event"
)

var (
	// ErrNilEvent indicates a nil event in a batch.
	ErrNilEvent = errors.New("nil event")
	// ErrUnknownEvent indicates an event type the kernel does not handle.
	ErrUnknownEvent = errors.New("unknown event type")
	// ErrFutureIntent indicates an event answering an intent that was never
	// proposed.
	ErrFutureIntent = errors.New("event references an intent from a future step")
)

// Error is a malformed state transition. It is fatal: the session terminates
// when Process returns one.
type Error struct {
	// Step is the step being computed.
	Step uint64
	// Event is the type of the offending event, if any.
	Event event.Type
	// Err is the underlying cause.
	Err error
}

// Error implements error.
func (e *Error) Error() string {
	if e.Event != "" {
		return fmt.Sprintf("kernel step %d: %s: %v", e.Step, e.Event, e.Err)
	}
	return fmt.Sprintf("kernel step %d: %v", e.Step, e.Err)
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error { return e.Err }
