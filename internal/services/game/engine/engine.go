// Package engine is the blackjack table state machine. Every mutation loads
// the authoritative snapshot, validates, clones, mutates the clone, and
// commits events plus the new snapshot under the sequence it read. Concurrent
// writers conflict at the journal and retry on fresh state, so no update is
// ever silently lost.
package engine

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/greenfelt/croupier/internal/platform/errors"
	"github.com/greenfelt/croupier/internal/platform/id"
	"github.com/greenfelt/croupier/internal/services/game/deck"
	"github.com/greenfelt/croupier/internal/services/game/domain/card"
	"github.com/greenfelt/croupier/internal/services/game/domain/event"
	"github.com/greenfelt/croupier/internal/services/game/domain/table"
	"github.com/greenfelt/croupier/internal/services/game/eventlog"
	"github.com/greenfelt/croupier/internal/services/game/ledger"
	"github.com/greenfelt/croupier/internal/services/game/rules"
	"github.com/greenfelt/croupier/internal/services/game/storage"
)

const commitMaxRetries = 3

// Engine coordinates one or more blackjack tables over a shared journal.
// Scheduled jobs travel inside the journal append, so the engine needs no
// direct job store handle.
type Engine struct {
	log   *eventlog.Log
	decks deck.Service
	sink  ledger.Sink
	rules rules.Rules

	now    func() time.Time
	tracer trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithNow overrides the engine clock.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New returns an Engine over log, dealing from decks and settling through
// sink under ruleset.
func New(log *eventlog.Log, decks deck.Service, sink ledger.Sink, ruleset rules.Rules, opts ...Option) *Engine {
	e := &Engine{
		log:    log,
		decks:  decks,
		sink:   sink,
		rules:  ruleset,
		now:    func() time.Time { return time.Now().UTC() },
		tracer: otel.Tracer("croupier/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// JoinResult reports where a join landed.
type JoinResult struct {
	Table table.Table
	Seat  int
	// Created is true when the join opened a fresh table.
	Created bool
}

// Join seats playerID at tableID. When no live table exists a new one is
// created with a fresh shoe and a countdown, and the deal is scheduled for
// the countdown deadline.
func (e *Engine) Join(ctx context.Context, tableID, playerID string) (JoinResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Join")
	defer span.End()

	tableID = strings.TrimSpace(tableID)
	playerID = strings.TrimSpace(playerID)
	if tableID == "" {
		return JoinResult{}, apperrors.New(apperrors.CodeTableIDRequired, "table id is required")
	}
	if playerID == "" {
		return JoinResult{}, apperrors.New(apperrors.CodePlayerIDRequired, "player id is required")
	}

	var result JoinResult
	err := e.commit(ctx, tableID, func(state *table.Table, seq uint64) (*table.Table, []event.Event, []storage.Job, error) {
		now := e.now()

		if state == nil || state.Ended() {
			next, events, jobs, err := e.openTable(ctx, tableID, playerID, state, now)
			if err != nil {
				return nil, nil, nil, err
			}
			result = JoinResult{Table: next.Clone(), Seat: 0, Created: true}
			return next, events, jobs, nil
		}

		if state.Started(now) {
			return nil, nil, nil, apperrors.New(apperrors.CodeAlreadyStarted, "table already started")
		}
		if _, seated := state.SeatOf(playerID); seated {
			return nil, nil, nil, apperrors.New(apperrors.CodeAlreadyJoined, "player already seated")
		}
		if len(state.Seats) >= e.rules.Seats {
			return nil, nil, nil, apperrors.New(apperrors.CodeTableFull, "no free seats")
		}

		next := state.Clone()
		seat := len(next.Seats)
		next.Seats = append(next.Seats, table.Seat{PlayerID: playerID, Hands: []table.Hand{{}}})

		payload, err := event.MarshalPayload(event.JoinedPayload{PlayerID: playerID, Seat: seat})
		if err != nil {
			return nil, nil, nil, err
		}
		events := []event.Event{{
			TableID:     tableID,
			Generation:  next.Generation,
			Type:        event.TypeJoined,
			ActorType:   event.ActorTypePlayer,
			ActorID:     playerID,
			PayloadJSON: payload,
		}}

		result = JoinResult{Table: next.Clone(), Seat: seat}
		return &next, events, nil, nil
	})
	if err != nil {
		return JoinResult{}, err
	}
	return result, nil
}

// openTable builds a fresh table for playerID, drawing a new shoe and
// scheduling the deal. A previous ended table bumps the generation so stale
// scheduler jobs from the old game detect obsolescence.
func (e *Engine) openTable(ctx context.Context, tableID, playerID string, prev *table.Table, now time.Time) (*table.Table, []event.Event, []storage.Job, error) {
	shoeID, err := e.decks.NewShoe(ctx, e.rules.DeckCount)
	if err != nil {
		return nil, nil, nil, err
	}

	generation := uint64(1)
	if prev != nil {
		generation = prev.Generation + 1
	}
	startingAt := now.Add(e.rules.Countdown)

	next := table.Table{
		ID:         tableID,
		Generation: generation,
		CreatedAt:  now,
		StartingAt: startingAt,
		DeckID:     shoeID,
		Phase:      table.PhaseCountdown,
		Seats:      []table.Seat{{PlayerID: playerID, Hands: []table.Hand{{}}}},
	}

	createdPayload, err := event.MarshalPayload(event.CreatedPayload{
		PlayerID:   playerID,
		Seat:       0,
		CreatedAt:  now,
		StartingAt: startingAt,
		DeckCount:  e.rules.DeckCount,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	deckPayload, err := event.MarshalPayload(event.NewDeckPayload{DeckID: shoeID})
	if err != nil {
		return nil, nil, nil, err
	}

	events := []event.Event{
		{
			TableID:     tableID,
			Generation:  generation,
			Type:        event.TypeCreated,
			ActorType:   event.ActorTypePlayer,
			ActorID:     playerID,
			PayloadJSON: createdPayload,
		},
		{
			TableID:     tableID,
			Generation:  generation,
			Type:        event.TypeNewDeck,
			PayloadJSON: deckPayload,
		},
	}
	jobs := []storage.Job{{
		TableID:    tableID,
		Generation: generation,
		Kind:       storage.JobDeal,
		Key:        "deal",
		FireAt:     startingAt,
	}}
	return &next, events, jobs, nil
}

// PlaceBet sets the stake for playerID's first hand. Bets close when the
// countdown expires.
func (e *Engine) PlaceBet(ctx context.Context, tableID, playerID string, amount int64) error {
	ctx, span := e.tracer.Start(ctx, "engine.PlaceBet")
	defer span.End()

	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return apperrors.New(apperrors.CodePlayerIDRequired, "player id is required")
	}
	if amount <= 0 {
		return apperrors.New(apperrors.CodeBetInvalid, "bet amount must be positive")
	}

	return e.commit(ctx, tableID, func(state *table.Table, seq uint64) (*table.Table, []event.Event, []storage.Job, error) {
		if state == nil {
			return nil, nil, nil, apperrors.New(apperrors.CodeNotFound, "table not found")
		}
		if state.Ended() {
			return nil, nil, nil, apperrors.New(apperrors.CodeGameAlreadyEnded, "table already ended")
		}
		if state.Started(e.now()) {
			return nil, nil, nil, apperrors.New(apperrors.CodeAlreadyStarted, "betting closed at deal time")
		}
		seat, seated := state.SeatOf(playerID)
		if !seated {
			return nil, nil, nil, apperrors.New(apperrors.CodeNotFound, "player not seated")
		}

		next := state.Clone()
		betID, err := id.NewID()
		if err != nil {
			return nil, nil, nil, err
		}
		bet := table.Bet{ID: betID, Amount: amount}
		next.Seats[seat].Hands[0].Bet = &bet

		payload, err := event.MarshalPayload(event.BetPayload{
			PlayerID: playerID,
			Seat:     seat,
			Hand:     0,
			BetID:    bet.ID,
			Amount:   amount,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		events := []event.Event{{
			TableID:     tableID,
			Generation:  next.Generation,
			Type:        event.TypeBet,
			ActorType:   event.ActorTypePlayer,
			ActorID:     playerID,
			PayloadJSON: payload,
		}}
		return &next, events, nil, nil
	})
}

// Snapshot returns the current table state for observers, with the dealer
// hole card redacted until it has been revealed.
func (e *Engine) Snapshot(ctx context.Context, tableID string) (table.Table, error) {
	state, _, err := e.loadState(ctx, tableID)
	if err != nil {
		return table.Table{}, err
	}
	if state == nil {
		return table.Table{}, apperrors.New(apperrors.CodeNotFound, "table not found")
	}
	redacted := state.Clone()
	for i := range redacted.Dealer.Cards {
		if redacted.Dealer.Cards[i].Hidden {
			redacted.Dealer.Cards[i].Card = card.Card{}
		}
	}
	return redacted, nil
}
