// Package mongo implements the MongoDB client behind the journal store.
// Records are stored one document per kernel batch, with each envelope kept
// in its JSON wire form, and are paged by ObjectID within a session.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"

	"goa.design/agentkernel/runtime/agent/event"
	"goa.design/agentkernel/runtime/agent/runlog"
)

type (
	// Client exposes the journal operations.
	Client interface {
		health.Pinger

		Append(ctx context.Context, r *runlog.Record) error
		List(ctx context.Context, sessionID, cursor string, limit int) (runlog.Page, error)
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

	recordDocument struct {
		ID        primitive.ObjectID `bson:"_id,omitempty"`
		SessionID string             `bson:"session_id"`
		Step      int64              `bson:"step"`
		Envelopes []string           `bson:"envelopes"`
		Timestamp time.Time          `bson:"timestamp"`
	}

	collection interface {
		InsertOne(ctx context.Context, document any, opts ...*options.InsertOneOptions) (*mongodriver.InsertOneResult, error)
		Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error)
		CreateIndex(ctx context.Context, model mongodriver.IndexModel) error
	}

	cursor interface {
		Next(ctx context.Context) bool
		Decode(val any) error
		Err() error
		Close(ctx context.Context) error
	}

	mongoCollection struct {
		coll *mongodriver.Collection
	}
)

const (
	defaultCollection = "agentkernel_journal"
	defaultTimeout    = 5 * time.Second
	clientName        = "journal-mongo"
)

// New returns a Client backed by opts.Client and ensures the session index.
func New(ctx context.Context, opts Options) (Client, error) {
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
	coll := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(opts.Collection)}
	ictx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	err := coll.CreateIndex(ictx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "_id", Value: 1}},
	})
	if err != nil {
		return nil, fmt.Errorf("ensure journal index: %w", err)
	}
	return &client{mongo: opts.Client, coll: coll, timeout: opts.Timeout}, nil
}

func (c *client) Name() string { return clientName }

func (c *client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) Append(ctx context.Context, r *runlog.Record) error {
	if r == nil {
		return errors.New("record is required")
	}
	if r.SessionID == "" {
		return errors.New("session id is required")
	}
	doc := recordDocument{
		SessionID: r.SessionID,
		Step:      int64(r.Step),
		Envelopes: make([]string, 0, len(r.Envelopes)),
		Timestamp: r.Timestamp.UTC(),
	}
	for _, env := range r.Envelopes {
		b, err := event.Encode(env)
		if err != nil {
			return err
		}
		doc.Envelopes = append(doc.Envelopes, string(b))
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	res, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("insert journal record: %w", err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	r.ID = oid.Hex()
	return nil
}

func (c *client) List(ctx context.Context, sessionID, cursor string, limit int) (page runlog.Page, err error) {
	if sessionID == "" {
		return runlog.Page{}, errors.New("session id is required")
	}
	if limit <= 0 {
		return runlog.Page{}, errors.New("limit must be > 0")
	}
	filter := bson.M{"session_id": sessionID}
	if cursor != "" {
		oid, err := primitive.ObjectIDFromHex(cursor)
		if err != nil {
			return runlog.Page{}, fmt.Errorf("invalid cursor %q: %w", cursor, err)
		}
		filter["_id"] = bson.M{"$gt": oid}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	cur, err := c.coll.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit+1)))
	if err != nil {
		return runlog.Page{}, fmt.Errorf("find journal records: %w", err)
	}
	defer func() {
		if cerr := cur.Close(ctx); err == nil && cerr != nil {
			err = cerr
		}
	}()

	var records []*runlog.Record
	for cur.Next(ctx) {
		var doc recordDocument
		if err := cur.Decode(&doc); err != nil {
			return runlog.Page{}, err
		}
		r, err := doc.record()
		if err != nil {
			return runlog.Page{}, err
		}
		records = append(records, r)
	}
	if err := cur.Err(); err != nil {
		return runlog.Page{}, err
	}
	var next string
	if len(records) > limit {
		records = records[:limit]
		next = records[limit-1].ID
	}
	return runlog.Page{Records: records, NextCursor: next}, nil
}

func (d recordDocument) record() (*runlog.Record, error) {
	r := &runlog.Record{
		ID:        d.ID.Hex(),
		SessionID: d.SessionID,
		Step:      uint64(d.Step),
		Envelopes: make([]event.Envelope, 0, len(d.Envelopes)),
		Timestamp: d.Timestamp,
	}
	for _, raw := range d.Envelopes {
		env, err := event.Decode([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", r.ID, err)
		}
		r.Envelopes = append(r.Envelopes, env)
	}
	return r, nil
}

func (c mongoCollection) InsertOne(ctx context.Context, document any, opts ...*options.InsertOneOptions) (*mongodriver.InsertOneResult, error) {
	return c.coll.InsertOne(ctx, document, opts...)
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error) {
	return c.coll.Find(ctx, filter, opts...)
}

func (c mongoCollection) CreateIndex(ctx context.Context, model mongodriver.IndexModel) error {
	_, err := c.coll.Indexes().CreateOne(ctx, model)
	return err
}
