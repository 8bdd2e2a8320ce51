package mongo

import (
	"context"
	"errors"
	"time"

	clientsmongo "goa.design/agentkernel/features/session/mongo/clients/mongo"
	"goa.design/agentkernel/runtime/agent"
	"goa.design/agentkernel/runtime/agent/session"
)

// Store implements session.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

var _ session.Store = (*Store)(nil)

// NewStore builds a Store using the provided client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// CreateSession implements session.Store.
func (s *Store) CreateSession(ctx context.Context, id string, createdAt time.Time) (session.Info, error) {
	return s.client.CreateSession(ctx, id, createdAt)
}

// LoadSession implements session.Store.
func (s *Store) LoadSession(ctx context.Context, id string) (session.Info, error) {
	return s.client.LoadSession(ctx, id)
}

// EndSession implements session.Store.
func (s *Store) EndSession(ctx context.Context, id string, endedAt time.Time, reason agent.HaltReason) (session.Info, error) {
	return s.client.EndSession(ctx, id, endedAt, reason)
}

// Name reports the health check name of the underlying client.
func (s *Store) Name() string { return s.client.Name() }

// Ping checks connectivity to MongoDB.
func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx) }
