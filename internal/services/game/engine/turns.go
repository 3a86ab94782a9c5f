package engine

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/greenfelt/croupier/internal/platform/errors"
	"github.com/greenfelt/croupier/internal/platform/id"
	"github.com/greenfelt/croupier/internal/services/game/domain/card"
	"github.com/greenfelt/croupier/internal/services/game/domain/event"
	"github.com/greenfelt/croupier/internal/services/game/domain/table"
	"github.com/greenfelt/croupier/internal/services/game/storage"
)

// Hit draws one card into playerID's active hand. Busting resolves the hand
// and advances the turn.
func (e *Engine) Hit(ctx context.Context, tableID, playerID string) error {
	ctx, span := e.tracer.Start(ctx, "engine.Hit")
	defer span.End()

	return e.commit(ctx, tableID, func(state *table.Table, seq uint64) (*table.Table, []event.Event, []storage.Job, error) {
		ptr, err := e.requireTurn(state, playerID)
		if err != nil {
			return nil, nil, nil, err
		}

		drawn, err := e.decks.Draw(ctx, state.DeckID, 1)
		if err != nil {
			return nil, nil, nil, err
		}

		next := state.Clone()
		hand := &next.Seats[ptr.Seat].Hands[ptr.Hand]
		hand.Cards = append(hand.Cards, drawn[0])

		var events []event.Event
		drawPayload, err := event.MarshalPayload(event.DrawPayload{Seat: ptr.Seat, Hand: ptr.Hand, Card: drawn[0]})
		if err != nil {
			return nil, nil, nil, err
		}
		events = append(events, event.Event{
			TableID:     tableID,
			Generation:  next.Generation,
			Type:        event.TypeDraw,
			ActorType:   event.ActorTypePlayer,
			ActorID:     playerID,
			PayloadJSON: drawPayload,
		})

		var jobs []storage.Job
		if score := hand.Score(); score > 21 {
			hand.Busted = true
			bustPayload, err := event.MarshalPayload(event.BustPayload{
				PlayerID: playerID,
				Seat:     ptr.Seat,
				Hand:     ptr.Hand,
				Score:    score,
			})
			if err != nil {
				return nil, nil, nil, err
			}
			events = append(events, event.Event{
				TableID:     tableID,
				Generation:  next.Generation,
				Type:        event.TypeBust,
				ActorType:   event.ActorTypePlayer,
				ActorID:     playerID,
				PayloadJSON: bustPayload,
			})
			if err := e.advanceTurn(ctx, &next, &events, &jobs); err != nil {
				return nil, nil, nil, err
			}
		}
		return &next, events, jobs, nil
	})
}

// Stand resolves playerID's active hand without drawing and advances the
// turn.
func (e *Engine) Stand(ctx context.Context, tableID, playerID string) error {
	ctx, span := e.tracer.Start(ctx, "engine.Stand")
	defer span.End()

	return e.commit(ctx, tableID, func(state *table.Table, seq uint64) (*table.Table, []event.Event, []storage.Job, error) {
		if _, err := e.requireTurn(state, playerID); err != nil {
			return nil, nil, nil, err
		}

		next := state.Clone()
		var events []event.Event
		var jobs []storage.Job
		if err := e.advanceTurn(ctx, &next, &events, &jobs); err != nil {
			return nil, nil, nil, err
		}
		return &next, events, jobs, nil
	})
}

// Split turns a two-card pair into two hands. The second card moves to a new
// sibling hand carrying the same stake, and the current hand immediately
// draws its replacement; the sibling draws when the turn reaches it.
func (e *Engine) Split(ctx context.Context, tableID, playerID string) error {
	ctx, span := e.tracer.Start(ctx, "engine.Split")
	defer span.End()

	return e.commit(ctx, tableID, func(state *table.Table, seq uint64) (*table.Table, []event.Event, []storage.Job, error) {
		ptr, err := e.requireTurn(state, playerID)
		if err != nil {
			return nil, nil, nil, err
		}

		seat := state.Seats[ptr.Seat]
		hand := seat.Hands[ptr.Hand]
		if len(hand.Cards) != 2 || hand.Cards[0].Rank != hand.Cards[1].Rank {
			return nil, nil, nil, apperrors.New(apperrors.CodeSplitNotAllowed, "split requires a two-card pair")
		}
		if len(seat.Hands) > e.rules.MaxSplits {
			return nil, nil, nil, apperrors.New(apperrors.CodeSplitNotAllowed, "split limit reached")
		}

		drawn, err := e.decks.Draw(ctx, state.DeckID, 1)
		if err != nil {
			return nil, nil, nil, err
		}

		next := state.Clone()
		current := &next.Seats[ptr.Seat].Hands[ptr.Hand]
		moved := current.Cards[1]
		current.Cards = current.Cards[:1]
		current.Cards = append(current.Cards, drawn[0])

		sibling := table.Hand{Cards: []card.Card{moved}}
		var siblingBetID string
		var siblingAmount int64
		if current.Bet != nil {
			siblingBetID, err = id.NewID()
			if err != nil {
				return nil, nil, nil, err
			}
			siblingAmount = current.Bet.Amount
			sibling.Bet = &table.Bet{ID: siblingBetID, Amount: siblingAmount}
		}
		newHand := len(next.Seats[ptr.Seat].Hands)
		next.Seats[ptr.Seat].Hands = append(next.Seats[ptr.Seat].Hands, sibling)

		splitPayload, err := event.MarshalPayload(event.SplitPayload{
			PlayerID: playerID,
			Seat:     ptr.Seat,
			FromHand: ptr.Hand,
			NewHand:  newHand,
			Card:     moved,
			BetID:    siblingBetID,
			Amount:   siblingAmount,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		drawPayload, err := event.MarshalPayload(event.DrawPayload{Seat: ptr.Seat, Hand: ptr.Hand, Card: drawn[0]})
		if err != nil {
			return nil, nil, nil, err
		}
		events := []event.Event{
			{
				TableID:     tableID,
				Generation:  next.Generation,
				Type:        event.TypeSplit,
				ActorType:   event.ActorTypePlayer,
				ActorID:     playerID,
				PayloadJSON: splitPayload,
			},
			{
				TableID:     tableID,
				Generation:  next.Generation,
				Type:        event.TypeDraw,
				ActorType:   event.ActorTypePlayer,
				ActorID:     playerID,
				PayloadJSON: drawPayload,
			},
		}
		return &next, events, nil, nil
	})
}

// requireTurn validates that playerID holds the turn on a live table.
func (e *Engine) requireTurn(state *table.Table, playerID string) (table.TurnPointer, error) {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return table.TurnPointer{}, apperrors.New(apperrors.CodePlayerIDRequired, "player id is required")
	}
	if state == nil {
		return table.TurnPointer{}, apperrors.New(apperrors.CodeNotFound, "table not found")
	}
	if state.Ended() {
		return table.TurnPointer{}, apperrors.New(apperrors.CodeGameAlreadyEnded, "table already ended")
	}
	if state.Phase == table.PhaseCountdown || state.Turn == nil {
		return table.TurnPointer{}, apperrors.New(apperrors.CodeGameNotStarted, "table has not been dealt")
	}
	if state.Turn.PlayerID != playerID {
		return table.TurnPointer{}, apperrors.New(apperrors.CodeNotYourTurn, "not this player's turn")
	}
	return *state.Turn, nil
}

// advanceTurn moves the pointer off the current hand. Entering a one-card
// split sibling draws its second card; reaching the dealer flips the table
// into the dealer phase and schedules auto-play immediately.
func (e *Engine) advanceTurn(ctx context.Context, next *table.Table, events *[]event.Event, jobs *[]storage.Job) error {
	now := e.now()
	pointer := next.NextTurn(*next.Turn)
	next.Turn = &pointer

	turnPayload, err := event.MarshalPayload(event.TurnPayload{
		PlayerID: pointer.PlayerID,
		Seat:     pointer.Seat,
		Hand:     pointer.Hand,
	})
	if err != nil {
		return err
	}
	*events = append(*events, event.Event{
		TableID:     next.ID,
		Generation:  next.Generation,
		Type:        event.TypeTurn,
		PayloadJSON: turnPayload,
	})

	if pointer.IsDealer() {
		next.Phase = table.PhaseDealer
		*jobs = append(*jobs, storage.Job{
			TableID:    next.ID,
			Generation: next.Generation,
			Kind:       storage.JobDealer,
			Key:        "dealer",
			FireAt:     now,
		})
		return nil
	}

	hand := &next.Seats[pointer.Seat].Hands[pointer.Hand]
	if len(hand.Cards) == 1 {
		drawn, err := e.decks.Draw(ctx, next.DeckID, 1)
		if err != nil {
			return err
		}
		hand.Cards = append(hand.Cards, drawn[0])
		drawPayload, err := event.MarshalPayload(event.DrawPayload{
			Seat: pointer.Seat,
			Hand: pointer.Hand,
			Card: drawn[0],
		})
		if err != nil {
			return err
		}
		*events = append(*events, event.Event{
			TableID:     next.ID,
			Generation:  next.Generation,
			Type:        event.TypeDraw,
			PayloadJSON: drawPayload,
		})
	}

	if e.rules.TurnTimeout > 0 {
		*jobs = append(*jobs, storage.Job{
			TableID:    next.ID,
			Generation: next.Generation,
			Kind:       storage.JobTurnTimeout,
			Key:        fmt.Sprintf("seat-%d-hand-%d", pointer.Seat, pointer.Hand),
			FireAt:     now.Add(e.rules.TurnTimeout),
		})
	}
	return nil
}
