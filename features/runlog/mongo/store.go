package mongo

import (
	"context"
	"errors"

	clientsmongo "goa.design/agentkernel/features/runlog/mongo/clients/mongo"
	"goa.design/agentkernel/runtime/agent/runlog"
)

// Store implements runlog.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

var _ runlog.Store = (*Store)(nil)

// NewStore builds a Mongo-backed journal.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// Append implements runlog.Store.
func (s *Store) Append(ctx context.Context, r *runlog.Record) error {
	return s.client.Append(ctx, r)
}

// List implements runlog.Store.
func (s *Store) List(ctx context.Context, sessionID, cursor string, limit int) (runlog.Page, error) {
	return s.client.List(ctx, sessionID, cursor, limit)
}

// Name reports the health check name of the underlying client.
func (s *Store) Name() string { return s.client.Name() }

// Ping checks connectivity to MongoDB.
func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx) }
