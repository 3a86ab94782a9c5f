// Package stream fans committed journal events out to connected clients.
package stream

import (
	"context"

	"github.com/greenfelt/croupier/internal/services/game/domain/event"
)

// Broker publishes committed events and delivers them to per-table
// subscribers. Published events must already be redacted; the broker is a
// dumb pipe and applies no game logic.
type Broker interface {
	// Publish delivers evt to all current subscribers of its table.
	Publish(ctx context.Context, evt event.Event) error
	// Subscribe returns a channel of events for tableID and a cancel func.
	// The channel is closed after cancel or when the broker shuts down.
	Subscribe(ctx context.Context, tableID string) (<-chan event.Event, func(), error)
	Close() error
}
