// Package pulse implements transport.Transport on top of goa.design/pulse
// streams. Each session owns the Redis stream "session/<id>"; envelopes are
// JSON encoded with the event codec and read back through a consumer group
// that starts at the oldest entry, so events published before the session
// started are delivered. Delivery is at-least-once: entries are acknowledged
// once handed to the session, which deduplicates redeliveries by envelope ID.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	clientspulse "goa.design/agentkernel/features/transport/pulse/clients/pulse"
	"goa.design/agentkernel/runtime/agent/event"
	"goa.design/agentkernel/runtime/agent/retry"
	"goa.design/agentkernel/runtime/agent/telemetry"
	"goa.design/agentkernel/runtime/agent/transport"
)

const (
	defaultSinkName = "agentkernel"
	defaultMaxBatch = 64
	defaultBuffer   = 256
)

type (
	// Options configures a Transport.
	Options struct {
		// Client opens Pulse streams. Required.
		Client clientspulse.Client
		// SessionID selects the stream. Required.
		SessionID string
		// SinkName is the consumer group name. Defaults to "agentkernel".
		SinkName string
		// MaxBatch bounds the envelopes returned by one NextBatch call.
		// Defaults to 64.
		MaxBatch int
		// Buffer bounds the envelopes read ahead of the session. Defaults
		// to 256.
		Buffer int
		// Retry bounds publish retries. Defaults to retry.DefaultConfig().
		Retry *retry.Config
		// Logger reports dropped entries and acknowledgement failures.
		Logger telemetry.Logger
	}

	// Transport is a Pulse backed session transport.
	Transport struct {
		sessionID string
		stream    clientspulse.Stream
		sink      clientspulse.Sink
		maxBatch  int
		retry     retry.Config
		logger    telemetry.Logger

		queue     chan event.Envelope
		cancel    context.CancelFunc
		done      chan struct{}
		closed    chan struct{}
		closeOnce sync.Once
	}
)

var _ transport.Transport = (*Transport)(nil)

// StreamName returns the Pulse stream carrying the session events.
func StreamName(sessionID string) string {
	return "session/" + sessionID
}

// New opens the session stream and starts consuming it.
func New(ctx context.Context, opts Options) (*Transport, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	if opts.SessionID == "" {
		return nil, errors.New("session id is required")
	}
	if opts.SinkName == "" {
		opts.SinkName = defaultSinkName
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = defaultMaxBatch
	}
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	cfg := retry.DefaultConfig()
	if opts.Retry != nil {
		cfg = *opts.Retry
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	str, err := opts.Client.Stream(StreamName(opts.SessionID))
	if err != nil {
		return nil, err
	}
	sink, err := str.NewSink(ctx, opts.SinkName, streamopts.WithSinkStartAtOldest())
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &Transport{
		sessionID: opts.SessionID,
		stream:    str,
		sink:      sink,
		maxBatch:  opts.MaxBatch,
		retry:     cfg,
		logger:    opts.Logger,
		queue:     make(chan event.Envelope, opts.Buffer),
		cancel:    cancel,
		done:      make(chan struct{}),
		closed:    make(chan struct{}),
	}
	go t.consume(runCtx)
	return t, nil
}

// NextBatch blocks for the first envelope and returns it with whatever else
// is already buffered.
func (t *Transport) NextBatch(ctx context.Context) ([]event.Envelope, error) {
	select {
	case env := <-t.queue:
		return t.drain([]event.Envelope{env}), nil
	case <-t.done:
		if batch := t.drain(nil); len(batch) > 0 {
			return batch, nil
		}
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Publish appends env to the session stream, retrying transient failures.
func (t *Transport) Publish(ctx context.Context, env event.Envelope) error {
	select {
	case <-t.closed:
		return &transport.Error{Op: "publish", SessionID: t.sessionID, Err: transport.ErrClosed}
	default:
	}
	payload, err := event.Encode(env)
	if err != nil {
		return &transport.Error{Op: "publish", SessionID: t.sessionID, Err: err}
	}
	err = retry.Do(ctx, t.retry, func(ctx context.Context) error {
		_, err := t.stream.Add(ctx, string(env.Event.Type()), payload)
		return err
	},
		retry.WithName("pulse.publish"),
		retry.WithLogger(t.logger),
		retry.WithClassifier(func(err error) bool { return !errors.Is(err, context.Canceled) }),
	)
	if err != nil {
		return &transport.Error{Op: "publish", SessionID: t.sessionID, Err: err}
	}
	return nil
}

// Close stops consuming and closes the consumer group. The stream is kept;
// use Destroy to delete it.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.cancel()
		<-t.done
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		t.sink.Close(ctx)
	})
	return nil
}

// Destroy deletes the session stream.
func (t *Transport) Destroy(ctx context.Context) error {
	if err := t.stream.Destroy(ctx); err != nil {
		return fmt.Errorf("destroy %s: %w", StreamName(t.sessionID), err)
	}
	return nil
}

func (t *Transport) consume(ctx context.Context) {
	defer close(t.done)
	ch := t.sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			env, err := event.Decode(ev.Payload)
			if err != nil {
				t.logger.Warn(ctx, "dropping undecodable stream entry", "session", t.sessionID, "entry", ev.ID, "err", err)
				t.ack(ctx, ev)
				continue
			}
			select {
			case t.queue <- env:
			case <-ctx.Done():
				return
			}
			t.ack(ctx, ev)
		}
	}
}

func (t *Transport) ack(ctx context.Context, ev *streaming.Event) {
	if err := t.sink.Ack(ctx, ev); err != nil {
		t.logger.Warn(ctx, "stream ack failed", "session", t.sessionID, "entry", ev.ID, "err", err)
	}
}

func (t *Transport) drain(batch []event.Envelope) []event.Envelope {
	for len(batch) < t.maxBatch {
		select {
		case env := <-t.queue:
			batch = append(batch, env)
		default:
			return batch
		}
	}
	return batch
}
