// Package runlog is the session journal: an append-only log of the event
// batches the kernel consulted, in order.
//
// Because intent identifiers are derived deterministically from the kernel
// step, replaying the journal through a freshly initialized kernel with the
// same options and initial state reconstructs the session exactly. This is
// the only durability mechanism; there is no checkpoint of the pending graph.
package runlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"goa.design/agentkernel/runtime/agent/event"
	"goa.design/agentkernel/runtime/agent/intent"
	"goa.design/agentkernel/runtime/agent/kernel"
)

type (
	// Record is one journaled kernel batch.
	Record struct {
		// ID is assigned by the store. IDs are opaque and ordered within a
		// session.
		ID string
		// SessionID identifies the session.
		SessionID string
		// Step is the kernel step after the batch was processed.
		Step uint64
		// Envelopes is the batch, in the order it was handed to the kernel.
		Envelopes []event.Envelope
		// Timestamp is the time the batch was processed.
		Timestamp time.Time
	}

	// Page is a forward page of records.
	Page struct {
		// Records are ordered oldest first.
		Records []*Record
		// NextCursor fetches the next page. Empty when there are no more
		// records.
		NextCursor string
	}

	// Store persists journal records.
	Store interface {
		// Append stores r and assigns its ID. Failures must be surfaced: a
		// session that cannot journal cannot be replayed.
		Append(ctx context.Context, r *Record) error
		// List returns the next page of records for sessionID. cursor is
		// empty for the first page; limit must be positive.
		List(ctx context.Context, sessionID, cursor string, limit int) (Page, error)
	}

	// ReplayResult is the outcome of a replay.
	ReplayResult struct {
		// Graphs holds the graph produced for each record, in order.
		Graphs []*intent.Graph
		// State is the final kernel state.
		State kernel.State
		// Records is the number of records replayed.
		Records int
	}
)

// ErrStepMismatch is returned when a replayed record does not land on the
// step that was journaled, meaning the options or the initial state differ
// from the original session.
var ErrStepMismatch = errors.New("replayed step does not match journal")

const replayPageSize = 100

// All reads every record of sessionID.
func All(ctx context.Context, s Store, sessionID string) ([]*Record, error) {
	var out []*Record
	cursor := ""
	for {
		page, err := s.List(ctx, sessionID, cursor, replayPageSize)
		if err != nil {
			return nil, fmt.Errorf("list journal: %w", err)
		}
		out = append(out, page.Records...)
		if page.NextCursor == "" {
			return out, nil
		}
		cursor = page.NextCursor
	}
}

// Replay feeds every journaled batch of sessionID into a kernel built from
// opts and initial and returns the regenerated graphs and final state.
func Replay(ctx context.Context, s Store, sessionID string, opts kernel.Options, initial kernel.State) (ReplayResult, error) {
	records, err := All(ctx, s, sessionID)
	if err != nil {
		return ReplayResult{}, err
	}
	k := kernel.New(opts, initial)
	res := ReplayResult{Graphs: make([]*intent.Graph, 0, len(records))}
	for _, r := range records {
		g, err := k.Process(event.Events(r.Envelopes))
		if err != nil {
			return res, fmt.Errorf("replay record %s: %w", r.ID, err)
		}
		if r.Step != 0 && k.State().Step != r.Step {
			return res, fmt.Errorf("replay record %s: got step %d, journaled %d: %w", r.ID, k.State().Step, r.Step, ErrStepMismatch)
		}
		res.Graphs = append(res.Graphs, g)
		res.Records++
	}
	res.State = k.State()
	return res, nil
}
