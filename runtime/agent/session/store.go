package session

import (
	"context"
	"errors"
	"time"

	"goa.design/agentkernel/runtime/agent"
)

// Session lifecycle states.
const (
	// StatusActive marks a running session.
	StatusActive Status = "active"
	// StatusEnded marks a terminated session. Ended sessions never restart.
	StatusEnded Status = "ended"
)

type (
	// Status is the lifecycle state of a session.
	Status string

	// Info is the durable metadata of a session.
	Info struct {
		// ID identifies the session.
		ID string
		// Status is the lifecycle state.
		Status Status
		// CreatedAt is the time the session started.
		CreatedAt time.Time
		// EndedAt is set once the session ended.
		EndedAt *time.Time
		// Halt is the termination reason, set once the session ended.
		Halt *agent.HaltReason
	}

	// Store persists session metadata. Failures are surfaced so callers can
	// refuse to run sessions they cannot account for.
	Store interface {
		// CreateSession creates an active session, or returns the existing
		// one. It returns ErrSessionEnded for ended sessions.
		CreateSession(ctx context.Context, id string, createdAt time.Time) (Info, error)
		// LoadSession returns ErrSessionNotFound for unknown sessions.
		LoadSession(ctx context.Context, id string) (Info, error)
		// EndSession records the halt reason. Ending an ended session returns
		// the stored metadata unchanged.
		EndSession(ctx context.Context, id string, endedAt time.Time, reason agent.HaltReason) (Info, error)
	}
)

var (
	// ErrSessionNotFound indicates the session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionEnded indicates the session exists but has ended.
	ErrSessionEnded = errors.New("session ended")
)
