// Package inmem provides an in-memory session.Store for tests and local
// development.
package inmem

import (
	"context"
	"errors"
	"sync"
	"time"

	"goa.design/agentkernel/runtime/agent"
	"goa.design/agentkernel/runtime/agent/session"
)

// Store is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]session.Info
}

var _ session.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{sessions: make(map[string]session.Info)}
}

// CreateSession implements session.Store.
func (s *Store) CreateSession(_ context.Context, id string, createdAt time.Time) (session.Info, error) {
	if id == "" {
		return session.Info{}, errors.New("session id is required")
	}
	if createdAt.IsZero() {
		return session.Info{}, errors.New("created_at is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[id]; ok {
		if existing.Status == session.StatusEnded {
			return session.Info{}, session.ErrSessionEnded
		}
		return clone(existing), nil
	}
	info := session.Info{ID: id, Status: session.StatusActive, CreatedAt: createdAt.UTC()}
	s.sessions[id] = info
	return clone(info), nil
}

// LoadSession implements session.Store.
func (s *Store) LoadSession(_ context.Context, id string) (session.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.sessions[id]
	if !ok {
		return session.Info{}, session.ErrSessionNotFound
	}
	return clone(info), nil
}

// EndSession implements session.Store.
func (s *Store) EndSession(_ context.Context, id string, endedAt time.Time, reason agent.HaltReason) (session.Info, error) {
	if endedAt.IsZero() {
		return session.Info{}, errors.New("ended_at is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.sessions[id]
	if !ok {
		return session.Info{}, session.ErrSessionNotFound
	}
	if info.Status == session.StatusEnded {
		return clone(info), nil
	}
	at := endedAt.UTC()
	info.Status = session.StatusEnded
	info.EndedAt = &at
	info.Halt = &reason
	s.sessions[id] = info
	return clone(info), nil
}

func clone(in session.Info) session.Info {
	out := in
	if in.EndedAt != nil {
		at := *in.EndedAt
		out.EndedAt = &at
	}
	if in.Halt != nil {
		h := *in.Halt
		out.Halt = &h
	}
	return out
}
