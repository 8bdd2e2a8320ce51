// Package mongo hosts the MongoDB client used by the session store.
//
// Each session is one document keyed by session_id. Creation and termination
// are single FindOneAndUpdate round trips so concurrent callers agree on the
// stored state: the first create wins and the first halt reason sticks.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"

	"goa.design/agentkernel/runtime/agent"
	"goa.design/agentkernel/runtime/agent/session"
)

const (
	defaultCollection = "agentkernel_sessions"
	defaultTimeout    = 5 * time.Second
	clientName        = "session-mongo"
)

type (
	// Client exposes the session lifecycle operations.
	Client interface {
		health.Pinger

		CreateSession(ctx context.Context, sessionID string, createdAt time.Time) (session.Info, error)
		LoadSession(ctx context.Context, sessionID string) (session.Info, error)
		EndSession(ctx context.Context, sessionID string, endedAt time.Time, reason agent.HaltReason) (session.Info, error)
	}

	// Options configures the client.
	Options struct {
		Client     *mongodriver.Client
		Database   string
		Collection string
		Timeout    time.Duration
	}

	client struct {
		mongo   *mongodriver.Client
		coll    collection
		timeout time.Duration
	}

	sessionDocument struct {
		SessionID string        `bson:"session_id"`
		Status    string        `bson:"status"`
		CreatedAt time.Time     `bson:"created_at"`
		EndedAt   *time.Time    `bson:"ended_at,omitempty"`
		Halt      *haltDocument `bson:"halt,omitempty"`
	}

	haltDocument struct {
		Kind    string `bson:"kind"`
		Message string `bson:"message,omitempty"`
		Budget  string `bson:"budget,omitempty"`
	}

	// collection is the subset of *mongodriver.Collection the client uses.
	collection interface {
		FindOne(ctx context.Context, filter any) decoder
		FindOneAndUpdate(ctx context.Context, filter, update any, opts ...*options.FindOneAndUpdateOptions) decoder
		CreateIndex(ctx context.Context, model mongodriver.IndexModel) error
	}

	decoder interface {
		Decode(v any) error
	}

	driverCollection struct {
		*mongodriver.Collection
	}
)

// New returns a Client backed by MongoDB and ensures the unique session index.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	if opts.Collection == "" {
		opts.Collection = defaultCollection
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	coll := driverCollection{opts.Client.Database(opts.Database).Collection(opts.Collection)}
	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()
	if err := ensureIndex(ctx, coll); err != nil {
		return nil, err
	}
	return &client{mongo: opts.Client, coll: coll, timeout: opts.Timeout}, nil
}

func (c *client) Name() string { return clientName }

func (c *client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

// CreateSession inserts an active session unless one exists and returns the
// stored document either way.
func (c *client) CreateSession(ctx context.Context, sessionID string, createdAt time.Time) (session.Info, error) {
	if sessionID == "" {
		return session.Info{}, errors.New("session id is required")
	}
	if createdAt.IsZero() {
		return session.Info{}, errors.New("created_at is required")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	update := bson.M{"$setOnInsert": bson.M{
		"session_id": sessionID,
		"status":     string(session.StatusActive),
		"created_at": createdAt.UTC(),
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var doc sessionDocument
	if err := c.coll.FindOneAndUpdate(ctx, bson.M{"session_id": sessionID}, update, opts).Decode(&doc); err != nil {
		return session.Info{}, err
	}
	if doc.Status == string(session.StatusEnded) {
		return session.Info{}, session.ErrSessionEnded
	}
	return doc.info(), nil
}

func (c *client) LoadSession(ctx context.Context, sessionID string) (session.Info, error) {
	if sessionID == "" {
		return session.Info{}, errors.New("session id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	var doc sessionDocument
	err := c.coll.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return session.Info{}, session.ErrSessionNotFound
	}
	if err != nil {
		return session.Info{}, err
	}
	return doc.info(), nil
}

// EndSession marks an active session ended. Ending an ended session returns
// it unchanged.
func (c *client) EndSession(ctx context.Context, sessionID string, endedAt time.Time, reason agent.HaltReason) (session.Info, error) {
	if sessionID == "" {
		return session.Info{}, errors.New("session id is required")
	}
	if endedAt.IsZero() {
		return session.Info{}, errors.New("ended_at is required")
	}
	uctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	filter := bson.M{"session_id": sessionID, "status": string(session.StatusActive)}
	update := bson.M{"$set": bson.M{
		"status":   string(session.StatusEnded),
		"ended_at": endedAt.UTC(),
		"halt":     &haltDocument{Kind: string(reason.Kind), Message: reason.Message, Budget: reason.Budget},
	}}
	var doc sessionDocument
	err := c.coll.FindOneAndUpdate(uctx, filter, update, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		// Unknown or already ended.
		return c.LoadSession(ctx, sessionID)
	}
	if err != nil {
		return session.Info{}, err
	}
	return doc.info(), nil
}

func (d sessionDocument) info() session.Info {
	info := session.Info{
		ID:        d.SessionID,
		Status:    session.Status(d.Status),
		CreatedAt: d.CreatedAt.UTC(),
	}
	if d.EndedAt != nil {
		at := d.EndedAt.UTC()
		info.EndedAt = &at
	}
	if d.Halt != nil {
		info.Halt = &agent.HaltReason{Kind: agent.HaltKind(d.Halt.Kind), Message: d.Halt.Message, Budget: d.Halt.Budget}
	}
	return info
}

func ensureIndex(ctx context.Context, coll collection) error {
	return coll.CreateIndex(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
}

func (c driverCollection) FindOne(ctx context.Context, filter any) decoder {
	return c.Collection.FindOne(ctx, filter)
}

func (c driverCollection) FindOneAndUpdate(ctx context.Context, filter, update any, opts ...*options.FindOneAndUpdateOptions) decoder {
	return c.Collection.FindOneAndUpdate(ctx, filter, update, opts...)
}

func (c driverCollection) CreateIndex(ctx context.Context, model mongodriver.IndexModel) error {
	_, err := c.Indexes().CreateOne(ctx, model)
	return err
}
