// Package event defines the typed facts recorded in the per-table journal.
//
// Events are the only way game state changes. The journal is append-only and
// ordered by a per-table sequence number assigned on append; any table value
// is reconstructible by replaying its events from the created event onward.
package event

import (
	"strings"
	"time"
)

// Type identifies the kind of a game event.
type Type string

// Blackjack table lifecycle events.
const (
	// TypeCreated records a new table with its countdown deadline.
	TypeCreated Type = "created"
	// TypeJoined records a player taking a seat on an existing table.
	TypeJoined Type = "joined"
	// TypeBet records a bet placed on a hand before the deal.
	TypeBet Type = "bet"
	// TypeStarted records the end of the countdown and the initial deal.
	TypeStarted Type = "started"
	// TypeEnded records table resolution; the table is immutable afterwards.
	TypeEnded Type = "ended"
	// TypeNewDeck records the remote deck bound to the table's lifetime.
	TypeNewDeck Type = "info.newDeck"
)

// Blackjack play events.
const (
	// TypeDraw records a card drawn into a seat hand.
	TypeDraw Type = "draw"
	// TypeDrawDealer records a card drawn into the dealer hand.
	TypeDrawDealer Type = "draw.dealer"
	// TypeSplit records a two-card hand split into sibling hands.
	TypeSplit Type = "split"
	// TypeTurn records play control passing to a hand or to the dealer.
	TypeTurn Type = "turn"
	// TypeBust records a seat hand exceeding twenty-one.
	TypeBust Type = "bust"
	// TypeBustDealer records the dealer hand exceeding twenty-one.
	TypeBustDealer Type = "bust.dealer"
	// TypeShowDealer records the dealer hole card being revealed.
	TypeShowDealer Type = "show.dealer"
	// TypeWin, TypeTie, and TypeLose record per-hand outcomes.
	TypeWin  Type = "win"
	TypeTie  Type = "tie"
	TypeLose Type = "lose"
)

// Roulette events. Rounds share the journal primitives with blackjack tables.
const (
	// TypeSpin records the wheel landing on a pocket.
	TypeSpin Type = "spin"
)

// TypeUpdate marks a full-state snapshot on the internal channel. It is a
// recovery checkpoint, never a source of truth beyond the events it summarizes.
const TypeUpdate Type = "update"

// ActorType identifies who or what triggered an event.
type ActorType string

const (
	// ActorTypeSystem indicates the event was triggered by the engine or scheduler.
	ActorTypeSystem ActorType = "system"
	// ActorTypePlayer indicates the event was triggered by a seated player.
	ActorTypePlayer ActorType = "player"
)

// Event represents an immutable fact in the per-table journal.
type Event struct {
	// TableID is the logical table this event belongs to.
	TableID string
	// Seq is the event sequence number within the table (starts at 1).
	// Assigned by storage on append.
	Seq uint64
	// Generation identifies which game on this table the event belongs to.
	// It increments each time a new table value supersedes an ended one.
	Generation uint64
	// Timestamp is when the event occurred.
	Timestamp time.Time
	// Type identifies the kind of event.
	Type Type
	// ActorType identifies who triggered the event.
	ActorType ActorType
	// ActorID is the player ID when ActorType is player.
	ActorID string
	// PayloadJSON holds event-specific data as JSON.
	PayloadJSON []byte
}

// IsValid reports whether the event type is usable.
func (t Type) IsValid() bool {
	return strings.TrimSpace(string(t)) != ""
}

// IsOutcome reports whether the type is a per-hand resolution outcome.
func (t Type) IsOutcome() bool {
	return t == TypeWin || t == TypeTie || t == TypeLose
}
