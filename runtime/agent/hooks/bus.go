package hooks

import (
	"context"
	"errors"
	"slices"
	"sync"
)

type (
	// Bus fans session notifications out to registered subscribers.
	//
	// Events are delivered synchronously in the publisher's goroutine, in
	// registration order, and delivery stops at the first subscriber error.
	Bus interface {
		// Publish delivers event to every registered subscriber.
		Publish(ctx context.Context, event Event) error
		// Register adds a subscriber. Closing the returned Subscription
		// unregisters it.
		Register(sub Subscriber) (Subscription, error)
	}

	// Subscriber reacts to published events. HandleEvent should only fail when
	// the session must not proceed; other failures should be logged and
	// swallowed.
	Subscriber interface {
		HandleEvent(ctx context.Context, event Event) error
	}

	// SubscriberFunc adapts a function to Subscriber.
	SubscriberFunc func(ctx context.Context, event Event) error

	// Subscription is an active registration. Close is idempotent.
	Subscription interface {
		Close() error
	}

	bus struct {
		mu   sync.RWMutex
		subs []*subscription
	}

	subscription struct {
		bus  *bus
		sub  Subscriber
		once sync.Once
	}
)

// NewBus returns an in-memory bus.
func NewBus() Bus {
	return &bus{}
}

// HandleEvent calls f.
func (f SubscriberFunc) HandleEvent(ctx context.Context, event Event) error {
	return f(ctx, event)
}

func (b *bus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	subs := slices.Clone(b.subs)
	b.mu.RUnlock()
	for _, s := range subs {
		if err := s.sub.HandleEvent(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (b *bus) Register(sub Subscriber) (Subscription, error) {
	if sub == nil {
		return nil, errors.New("subscriber is required")
	}
	s := &subscription{bus: b, sub: sub}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	return s, nil
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		s.bus.subs = slices.DeleteFunc(s.bus.subs, func(o *subscription) bool { return o == s })
	})
	return nil
}
