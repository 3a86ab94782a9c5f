// Package memory provides an in-process Broker for tests and single-node use.
package memory

import (
	"context"
	"sync"

	"github.com/greenfelt/croupier/internal/services/game/domain/event"
)

const subscriberBuffer = 64

// Broker fans events out to in-process subscribers. A subscriber that stops
// draining loses events rather than blocking the publisher.
type Broker struct {
	mu     sync.Mutex
	closed bool
	subs   map[string]map[int]chan event.Event
	nextID int
}

// New returns an empty broker.
func New() *Broker {
	return &Broker{subs: make(map[string]map[int]chan event.Event)}
}

// Publish implements stream.Broker.
func (b *Broker) Publish(ctx context.Context, evt event.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	for _, ch := range b.subs[evt.TableID] {
		select {
		case ch <- evt:
		default:
		}
	}
	return nil
}

// Subscribe implements stream.Broker.
func (b *Broker) Subscribe(ctx context.Context, tableID string) (<-chan event.Event, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan event.Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}, nil
	}

	if b.subs[tableID] == nil {
		b.subs[tableID] = make(map[int]chan event.Event)
	}
	id := b.nextID
	b.nextID++
	b.subs[tableID][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[tableID][id]; ok {
			delete(b.subs[tableID], id)
			close(sub)
		}
	}
	return ch, cancel, nil
}

// Close closes all subscriber channels.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for id, ch := range subs {
			delete(subs, id)
			close(ch)
		}
	}
	return nil
}
