package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/greenfelt/croupier/internal/services/game/domain/card"
	"github.com/greenfelt/croupier/internal/services/game/domain/event"
	"github.com/greenfelt/croupier/internal/services/game/domain/table"
	"github.com/greenfelt/croupier/internal/services/game/ledger"
	"github.com/greenfelt/croupier/internal/services/game/storage"
)

// JobHandler executes one scheduled job against fresh authoritative state.
type JobHandler func(ctx context.Context, job storage.Job) error

// JobHandlers maps every blackjack job kind to its handler for scheduler
// registration.
func (e *Engine) JobHandlers() map[storage.JobKind]JobHandler {
	return map[storage.JobKind]JobHandler{
		storage.JobDeal:        e.HandleDeal,
		storage.JobDealer:      e.HandleDealerPlay,
		storage.JobTurnTimeout: e.HandleTurnTimeout,
	}
}

// HandleDeal runs the initial deal when the countdown expires. A stale
// generation or an already-dealt table makes it a no-op, so duplicate timer
// fires and superseded tables cost nothing.
func (e *Engine) HandleDeal(ctx context.Context, job storage.Job) error {
	ctx, span := e.tracer.Start(ctx, "engine.HandleDeal")
	defer span.End()

	return e.commit(ctx, job.TableID, func(state *table.Table, seq uint64) (*table.Table, []event.Event, []storage.Job, error) {
		if state == nil || state.Generation != job.Generation || state.Phase != table.PhaseCountdown {
			return nil, nil, nil, nil
		}

		seats := len(state.Seats)
		drawn, err := e.decks.Draw(ctx, state.DeckID, 2+2*seats)
		if err != nil {
			return nil, nil, nil, err
		}

		next := state.Clone()
		var events []event.Event
		appendEvent := func(eventType event.Type, payload any) error {
			encoded, err := event.MarshalPayload(payload)
			if err != nil {
				return err
			}
			events = append(events, event.Event{
				TableID:     next.ID,
				Generation:  next.Generation,
				Type:        eventType,
				PayloadJSON: encoded,
			})
			return nil
		}

		// Round one: dealer face-up, then every seat's first card.
		next.Dealer.Cards = append(next.Dealer.Cards, table.DealerCard{Card: drawn[0]})
		if err := appendEvent(event.TypeDrawDealer, event.DealerDrawPayload{Card: drawn[0]}); err != nil {
			return nil, nil, nil, err
		}
		for seat := 0; seat < seats; seat++ {
			c := drawn[1+seat]
			next.Seats[seat].Hands[0].Cards = append(next.Seats[seat].Hands[0].Cards, c)
			if err := appendEvent(event.TypeDraw, event.DrawPayload{Seat: seat, Hand: 0, Card: c}); err != nil {
				return nil, nil, nil, err
			}
		}

		// Round two: dealer hole card, then every seat's second card.
		hole := drawn[1+seats]
		next.Dealer.Cards = append(next.Dealer.Cards, table.DealerCard{Card: hole, Hidden: true})
		if err := appendEvent(event.TypeDrawDealer, event.DealerDrawPayload{Card: hole, Hidden: true}); err != nil {
			return nil, nil, nil, err
		}
		for seat := 0; seat < seats; seat++ {
			c := drawn[2+seats+seat]
			next.Seats[seat].Hands[0].Cards = append(next.Seats[seat].Hands[0].Cards, c)
			if err := appendEvent(event.TypeDraw, event.DrawPayload{Seat: seat, Hand: 0, Card: c}); err != nil {
				return nil, nil, nil, err
			}
		}

		next.Phase = table.PhasePlaying
		pointer := next.FirstTurn()
		next.Turn = &pointer

		if err := appendEvent(event.TypeStarted, event.StartedPayload{Seats: seats}); err != nil {
			return nil, nil, nil, err
		}
		if err := appendEvent(event.TypeTurn, event.TurnPayload{
			PlayerID: pointer.PlayerID,
			Seat:     pointer.Seat,
			Hand:     pointer.Hand,
		}); err != nil {
			return nil, nil, nil, err
		}

		var jobs []storage.Job
		if e.rules.TurnTimeout > 0 && !pointer.IsDealer() {
			jobs = append(jobs, storage.Job{
				TableID:    next.ID,
				Generation: next.Generation,
				Kind:       storage.JobTurnTimeout,
				Key:        fmt.Sprintf("seat-%d-hand-%d", pointer.Seat, pointer.Hand),
				FireAt:     e.now().Add(e.rules.TurnTimeout),
			})
		}
		return &next, events, jobs, nil
	})
}

// HandleDealerPlay resolves the table once control reaches the dealer:
// reveal, draw to the stand threshold, settle every hand, end the table.
func (e *Engine) HandleDealerPlay(ctx context.Context, job storage.Job) error {
	ctx, span := e.tracer.Start(ctx, "engine.HandleDealerPlay")
	defer span.End()

	var entries []ledger.Entry
	err := e.commit(ctx, job.TableID, func(state *table.Table, seq uint64) (*table.Table, []event.Event, []storage.Job, error) {
		if state == nil || state.Generation != job.Generation || state.Phase != table.PhaseDealer {
			return nil, nil, nil, nil
		}
		entries = entries[:0]

		next := state.Clone()
		var events []event.Event
		appendEvent := func(eventType event.Type, payload any) error {
			encoded, err := event.MarshalPayload(payload)
			if err != nil {
				return err
			}
			events = append(events, event.Event{
				TableID:     next.ID,
				Generation:  next.Generation,
				Type:        eventType,
				PayloadJSON: encoded,
			})
			return nil
		}

		if hole, hidden := next.Dealer.HiddenCard(); hidden {
			next.Dealer.Reveal()
			if err := appendEvent(event.TypeShowDealer, event.ShowDealerPayload{Card: hole}); err != nil {
				return nil, nil, nil, err
			}
		}

		for e.dealerDraws(next.Dealer) {
			drawn, err := e.decks.Draw(ctx, next.DeckID, 1)
			if err != nil {
				return nil, nil, nil, err
			}
			next.Dealer.Cards = append(next.Dealer.Cards, table.DealerCard{Card: drawn[0]})
			if err := appendEvent(event.TypeDrawDealer, event.DealerDrawPayload{Card: drawn[0]}); err != nil {
				return nil, nil, nil, err
			}
		}

		dealerScore := next.Dealer.Score()
		if dealerScore > 21 {
			next.Dealer.Busted = true
			if err := appendEvent(event.TypeBustDealer, event.DealerBustPayload{Score: dealerScore}); err != nil {
				return nil, nil, nil, err
			}
		}

		for seatIdx := range next.Seats {
			seat := &next.Seats[seatIdx]
			for handIdx := range seat.Hands {
				hand := &seat.Hands[handIdx]
				outcome, payout := e.settle(*hand, next.Dealer)
				hand.Result = outcome

				payload := event.OutcomePayload{
					PlayerID:    seat.PlayerID,
					Seat:        seatIdx,
					Hand:        handIdx,
					Score:       hand.Score(),
					DealerScore: dealerScore,
					Natural:     card.IsNatural(hand.Cards),
					Payout:      payout,
				}
				if err := appendEvent(outcomeEventType(outcome), payload); err != nil {
					return nil, nil, nil, err
				}

				if hand.Bet != nil {
					entries = append(entries, ledger.Entry{
						IdempotencyKey: ledger.Key(next.ID, next.Generation, seatIdx, handIdx),
						TableID:        next.ID,
						Generation:     next.Generation,
						PlayerID:       seat.PlayerID,
						BetID:          hand.Bet.ID,
						Amount:         payout,
						Result:         string(outcome),
					})
				}
			}
		}

		endedAt := e.now()
		if err := appendEvent(event.TypeEnded, event.EndedPayload{DealerScore: dealerScore, EndedAt: endedAt}); err != nil {
			return nil, nil, nil, err
		}
		next.EndedAt = &endedAt
		next.Phase = table.PhaseEnded
		next.Turn = nil
		return &next, events, nil, nil
	})
	if err != nil {
		return err
	}

	if len(entries) > 0 {
		if err := e.sink.Post(ctx, entries); err != nil {
			log.Printf("engine: post payouts table=%s generation=%d: %v", job.TableID, job.Generation, err)
		}
	}
	return nil
}

// HandleTurnTimeout auto-stands a hand that sat idle past the turn timeout.
// The job key pins the exact seat and hand, so a turn that has already moved
// on makes the timeout a no-op.
func (e *Engine) HandleTurnTimeout(ctx context.Context, job storage.Job) error {
	ctx, span := e.tracer.Start(ctx, "engine.HandleTurnTimeout")
	defer span.End()

	var seat, hand int
	if _, err := fmt.Sscanf(job.Key, "seat-%d-hand-%d", &seat, &hand); err != nil {
		return fmt.Errorf("parse turn timeout key %q: %w", job.Key, err)
	}

	return e.commit(ctx, job.TableID, func(state *table.Table, seq uint64) (*table.Table, []event.Event, []storage.Job, error) {
		if state == nil || state.Generation != job.Generation || state.Phase != table.PhasePlaying {
			return nil, nil, nil, nil
		}
		if state.Turn == nil || state.Turn.IsDealer() || state.Turn.Seat != seat || state.Turn.Hand != hand {
			return nil, nil, nil, nil
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

// dealerDraws reports whether the house keeps drawing: below 17 always, on
// soft 17 only when the ruleset says so.
func (e *Engine) dealerDraws(dealer table.DealerHand) bool {
	score := dealer.Score()
	if score < 17 {
		return true
	}
	if score == 17 && dealer.Soft() && e.rules.DealerHitsSoft17 {
		return true
	}
	return false
}

// settle compares one hand against the dealer and returns the outcome with
// the signed wallet credit. Ties return the stake; wins return stake plus
// winnings, with naturals paying the premium ratio.
func (e *Engine) settle(hand table.Hand, dealer table.DealerHand) (table.Result, int64) {
	var stake int64
	if hand.Bet != nil {
		stake = hand.Bet.Amount
	}

	if hand.Busted {
		return table.ResultLose, 0
	}
	score := hand.Score()
	dealerScore := dealer.Score()
	switch {
	case dealer.Busted || score > dealerScore:
		if card.IsNatural(hand.Cards) {
			return table.ResultWin, e.rules.NaturalPayout(stake)
		}
		return table.ResultWin, stake * 2
	case score == dealerScore:
		return table.ResultTie, stake
	default:
		return table.ResultLose, 0
	}
}

func outcomeEventType(result table.Result) event.Type {
	switch result {
	case table.ResultWin:
		return event.TypeWin
	case table.ResultTie:
		return event.TypeTie
	default:
		return event.TypeLose
	}
}
