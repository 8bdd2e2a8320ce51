// Package inmem provides an in-memory runlog.Store for tests and local
// development. It is not durable.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"goa.design/agentkernel/runtime/agent/runlog"
)

// Store implements runlog.Store in memory.
type Store struct {
	mu      sync.Mutex
	records map[string][]*runlog.Record
}

var _ runlog.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{records: make(map[string][]*runlog.Record)}
}

// Append implements runlog.Store. IDs are 1-based sequence numbers per
// session.
func (s *Store) Append(_ context.Context, r *runlog.Record) error {
	if r == nil {
		return errors.New("record is required")
	}
	if r.SessionID == "" {
		return errors.New("session_id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.records[r.SessionID]
	r.ID = strconv.Itoa(len(all) + 1)
	cp := *r
	cp.Envelopes = append(cp.Envelopes[:0:0], r.Envelopes...)
	s.records[r.SessionID] = append(all, &cp)
	return nil
}

// List implements runlog.Store.
func (s *Store) List(_ context.Context, sessionID, cursor string, limit int) (runlog.Page, error) {
	if sessionID == "" {
		return runlog.Page{}, errors.New("session_id is required")
	}
	if limit <= 0 {
		return runlog.Page{}, errors.New("limit must be > 0")
	}
	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return runlog.Page{}, fmt.Errorf("invalid cursor %q", cursor)
		}
		start = n
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.records[sessionID]
	if start >= len(all) {
		return runlog.Page{}, nil
	}
	end := min(start+limit, len(all))
	page := runlog.Page{Records: append([]*runlog.Record(nil), all[start:end]...)}
	if end < len(all) {
		page.NextCursor = page.Records[len(page.Records)-1].ID
	}
	return page, nil
}
