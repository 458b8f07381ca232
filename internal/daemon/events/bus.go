package events

import (
	"context"
	"sync"

	ferrors "git.home.luguber.info/inful/indexwatch/internal/foundation/errors"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = ferrors.RuntimeError("event bus is closed").Build()

// Bus fans run outcomes and companion lifecycle changes out to the journal,
// the notifier and tests.
//
// Publish blocks until every matching subscriber has taken the event or ctx
// ends; subscribers are served in the order they subscribed. Nothing here is
// durable. Close closes every subscription channel exactly once.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscription
	nextID uint64
	closed bool
}

type subscription struct {
	id uint64
	// key identifies T so SubscriberCount can match without reflection.
	key     any
	deliver func(ctx context.Context, evt Event) error
	close   func()
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a channel receiving every published event assignable to
// T. With T = Event the subscriber sees everything. The returned func
// unsubscribes and closes the channel; calling it more than once is safe.
func Subscribe[T Event](b *Bus, buffer int) (<-chan T, func()) {
	ch := make(chan T, buffer)
	// chMu orders sends against close; publishers always carry a deadline so
	// close waits at most that long.
	var (
		chMu     sync.RWMutex
		chClosed bool
	)
	closeCh := func() {
		chMu.Lock()
		defer chMu.Unlock()
		if !chClosed {
			chClosed = true
			close(ch)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		closeCh()
		return ch, func() {}
	}

	b.nextID++
	sub := &subscription{
		id:  b.nextID,
		key: (*T)(nil),
		deliver: func(ctx context.Context, evt Event) error {
			v, ok := evt.(T)
			if !ok {
				return nil
			}
			chMu.RLock()
			defer chMu.RUnlock()
			if chClosed {
				return nil
			}
			select {
			case ch <- v:
				return nil
			case <-ctx.Done():
				return ferrors.WrapError(ctx.Err(), ferrors.CategoryRuntime, "event publish canceled").
					WithContext("event", evt.EventName()).
					Build()
			}
		},
		close: closeCh,
	}
	b.subs = append(b.subs, sub)

	return ch, func() { b.unsubscribe(sub.id) }
}

func (b *Bus) unsubscribe(id uint64) {
	var found *subscription
	b.mu.Lock()
	for i, s := range b.subs {
		if s.id == id {
			found = s
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	if found != nil {
		found.close()
	}
}

// SubscriberCount reports the live subscriptions registered for exactly T.
func SubscriberCount[T Event](b *Bus) int {
	if b == nil {
		return 0
	}
	key := any((*T)(nil))
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, s := range b.subs {
		if s.key == key {
			n++
		}
	}
	return n
}

// Publish hands evt to each matching subscriber in turn.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	if evt == nil {
		return ferrors.ValidationError("event cannot be nil").Build()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	targets := make([]*subscription, len(b.subs))
	copy(targets, b.subs)
	b.mu.RUnlock()

	for _, s := range targets {
		if err := s.deliver(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

// Close marks the bus closed and closes every subscription channel.
// A Publish already delivering may still complete; later ones get ErrClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
}
