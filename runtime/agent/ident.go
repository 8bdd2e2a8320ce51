// Package agent defines the value types shared by every layer of the agent
// kernel: intent identifiers, conversation messages, tool and model payloads,
// approval decisions, worker specs and halt reasons.
//
// The package has no dependencies on the rest of the module. Everything in it
// is a plain value that can be copied, compared and serialized.
package agent

import (
	"fmt"
	"strconv"
	"strings"
)

// IntentID identifies an intent deterministically by the kernel step that
// proposed it and its position within that step's graph. Replaying the same
// event log through a fresh kernel yields the same identifiers, which is what
// makes deduplication and replay possible.
//
// Steps start at 1; the zero value means "no intent".
type IntentID struct {
	// Step is the kernel step that created the intent.
	Step uint64
	// Index is the position of the intent within the step's graph.
	Index uint32
}

// IsZero reports whether id is the zero identifier.
func (id IntentID) IsZero() bool {
	return id.Step == 0 && id.Index == 0
}

// Less orders identifiers by step, then index.
func (id IntentID) Less(other IntentID) bool {
	if id.Step != other.Step {
		return id.Step < other.Step
	}
	return id.Index < other.Index
}

// Compare returns -1, 0 or +1 depending on whether id sorts before, equal to
// or after other. It is suitable for slices.SortFunc.
func (id IntentID) Compare(other IntentID) int {
	switch {
	case id == other:
		return 0
	case id.Less(other):
		return -1
	default:
		return 1
	}
}

// String renders the identifier as "<step>.<index>".
func (id IntentID) String() string {
	return strconv.FormatUint(id.Step, 10) + "." + strconv.FormatUint(uint64(id.Index), 10)
}

// MarshalText implements encoding.TextMarshaler so identifiers can be used as
// JSON values and map keys.
func (id IntentID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *IntentID) UnmarshalText(b []byte) error {
	parsed, err := ParseIntentID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseIntentID parses the "<step>.<index>" form produced by String.
func ParseIntentID(s string) (IntentID, error) {
	step, index, ok := strings.Cut(s, ".")
	if !ok {
		return IntentID{}, fmt.Errorf("invalid intent id %q", s)
	}
	st, err := strconv.ParseUint(step, 10, 64)
	if err != nil {
		return IntentID{}, fmt.Errorf("invalid intent id %q: %w", s, err)
	}
	ix, err := strconv.ParseUint(index, 10, 32)
	if err != nil {
		return IntentID{}, fmt.Errorf("invalid intent id %q: %w", s, err)
	}
	return IntentID{Step: st, Index: uint32(ix)}, nil
}
