// Package projection maintains read-only table views for observers. A view
// adopts snapshots wholesale and folds incremental events through a pure
// reducer; it never originates truth and never calls the engine. Applying is
// idempotent by sequence number, so duplicate or replayed deliveries are
// no-ops.
package projection

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/greenfelt/croupier/internal/services/game/domain/card"
	"github.com/greenfelt/croupier/internal/services/game/domain/event"
	"github.com/greenfelt/croupier/internal/services/game/domain/table"
	"github.com/greenfelt/croupier/internal/services/game/storage"
)

// View is the derived state of one table with the sequence it reflects.
type View struct {
	Table table.Table
	Seq   uint64
}

// Projector tracks views for any number of tables.
type Projector struct {
	mu    sync.Mutex
	views map[string]*View
}

// New returns an empty projector.
func New() *Projector {
	return &Projector{views: make(map[string]*View)}
}

// View returns a copy of the current view for tableID.
func (p *Projector) View(tableID string) (View, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	view, ok := p.views[tableID]
	if !ok {
		return View{}, false
	}
	return View{Table: view.Table.Clone(), Seq: view.Seq}, true
}

// AdoptSnapshot replaces the view with the snapshot state. Snapshots older
// than the view are discarded.
func (p *Projector) AdoptSnapshot(record storage.SnapshotRecord) error {
	var state table.Table
	if err := json.Unmarshal(record.StateJSON, &state); err != nil {
		return fmt.Errorf("decode snapshot state: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.views[record.TableID]; ok && existing.Seq >= record.Seq {
		return nil
	}
	p.views[record.TableID] = &View{Table: state, Seq: record.Seq}
	return nil
}

// Apply folds one event into the view. Events at or below the view's
// sequence are duplicates and are discarded.
func (p *Projector) Apply(evt event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	view, ok := p.views[evt.TableID]
	if !ok {
		view = &View{}
		p.views[evt.TableID] = view
	}
	if evt.Seq != 0 && evt.Seq <= view.Seq {
		return nil
	}

	if err := Reduce(&view.Table, evt); err != nil {
		return err
	}
	view.Seq = evt.Seq
	return nil
}

// Reduce applies one event to state in place. It mirrors the engine's
// mutations exactly, so folding a finished table's journal from scratch
// reproduces the engine's final snapshot.
func Reduce(state *table.Table, evt event.Event) error {
	switch evt.Type {
	case event.TypeCreated:
		var payload event.CreatedPayload
		if err := event.UnmarshalPayload(evt, &payload); err != nil {
			return err
		}
		*state = table.Table{
			ID:         evt.TableID,
			Generation: evt.Generation,
			CreatedAt:  payload.CreatedAt,
			StartingAt: payload.StartingAt,
			Phase:      table.PhaseCountdown,
			Seats:      []table.Seat{{PlayerID: payload.PlayerID, Hands: []table.Hand{{}}}},
		}
		return nil

	case event.TypeNewDeck:
		var payload event.NewDeckPayload
		if err := event.UnmarshalPayload(evt, &payload); err != nil {
			return err
		}
		state.DeckID = payload.DeckID
		return nil

	case event.TypeJoined:
		var payload event.JoinedPayload
		if err := event.UnmarshalPayload(evt, &payload); err != nil {
			return err
		}
		state.Seats = append(state.Seats, table.Seat{PlayerID: payload.PlayerID, Hands: []table.Hand{{}}})
		return nil

	case event.TypeBet:
		var payload event.BetPayload
		if err := event.UnmarshalPayload(evt, &payload); err != nil {
			return err
		}
		hand, err := handAt(state, payload.Seat, payload.Hand)
		if err != nil {
			return err
		}
		hand.Bet = &table.Bet{ID: payload.BetID, Amount: payload.Amount}
		return nil

	case event.TypeDraw:
		var payload event.DrawPayload
		if err := event.UnmarshalPayload(evt, &payload); err != nil {
			return err
		}
		hand, err := handAt(state, payload.Seat, payload.Hand)
		if err != nil {
			return err
		}
		hand.Cards = append(hand.Cards, payload.Card)
		return nil

	case event.TypeDrawDealer:
		var payload event.DealerDrawPayload
		if err := event.UnmarshalPayload(evt, &payload); err != nil {
			return err
		}
		state.Dealer.Cards = append(state.Dealer.Cards, table.DealerCard{Card: payload.Card, Hidden: payload.Hidden})
		return nil

	case event.TypeShowDealer:
		var payload event.ShowDealerPayload
		if err := event.UnmarshalPayload(evt, &payload); err != nil {
			return err
		}
		for i := range state.Dealer.Cards {
			if state.Dealer.Cards[i].Hidden {
				state.Dealer.Cards[i].Card = payload.Card
				state.Dealer.Cards[i].Hidden = false
			}
		}
		return nil

	case event.TypeSplit:
		var payload event.SplitPayload
		if err := event.UnmarshalPayload(evt, &payload); err != nil {
			return err
		}
		hand, err := handAt(state, payload.Seat, payload.FromHand)
		if err != nil {
			return err
		}
		if len(hand.Cards) < 2 {
			return fmt.Errorf("split on %d-card hand", len(hand.Cards))
		}
		hand.Cards = hand.Cards[:len(hand.Cards)-1]

		sibling := table.Hand{Cards: []card.Card{payload.Card}}
		if payload.BetID != "" {
			sibling.Bet = &table.Bet{ID: payload.BetID, Amount: payload.Amount}
		}
		state.Seats[payload.Seat].Hands = append(state.Seats[payload.Seat].Hands, sibling)
		return nil

	case event.TypeStarted:
		state.Phase = table.PhasePlaying
		return nil

	case event.TypeTurn:
		var payload event.TurnPayload
		if err := event.UnmarshalPayload(evt, &payload); err != nil {
			return err
		}
		pointer := table.TurnPointer{PlayerID: payload.PlayerID, Seat: payload.Seat, Hand: payload.Hand}
		state.Turn = &pointer
		if pointer.IsDealer() {
			state.Phase = table.PhaseDealer
		}
		return nil

	case event.TypeBust:
		var payload event.BustPayload
		if err := event.UnmarshalPayload(evt, &payload); err != nil {
			return err
		}
		hand, err := handAt(state, payload.Seat, payload.Hand)
		if err != nil {
			return err
		}
		hand.Busted = true
		return nil

	case event.TypeBustDealer:
		state.Dealer.Busted = true
		return nil

	case event.TypeWin, event.TypeTie, event.TypeLose:
		var payload event.OutcomePayload
		if err := event.UnmarshalPayload(evt, &payload); err != nil {
			return err
		}
		hand, err := handAt(state, payload.Seat, payload.Hand)
		if err != nil {
			return err
		}
		hand.Result = outcomeResult(evt.Type)
		return nil

	case event.TypeEnded:
		var payload event.EndedPayload
		if err := event.UnmarshalPayload(evt, &payload); err != nil {
			return err
		}
		endedAt := payload.EndedAt
		state.EndedAt = &endedAt
		state.Phase = table.PhaseEnded
		state.Turn = nil
		return nil

	case event.TypeUpdate:
		var full table.Table
		if err := json.Unmarshal(evt.PayloadJSON, &full); err != nil {
			return fmt.Errorf("decode update payload: %w", err)
		}
		*state = full
		return nil

	default:
		return fmt.Errorf("unhandled event type %q", evt.Type)
	}
}

func handAt(state *table.Table, seat, hand int) (*table.Hand, error) {
	if seat < 0 || seat >= len(state.Seats) {
		return nil, fmt.Errorf("seat %d out of range", seat)
	}
	hands := state.Seats[seat].Hands
	if hand < 0 || hand >= len(hands) {
		return nil, fmt.Errorf("hand %d out of range for seat %d", hand, seat)
	}
	return &state.Seats[seat].Hands[hand], nil
}

func outcomeResult(eventType event.Type) table.Result {
	switch eventType {
	case event.TypeWin:
		return table.ResultWin
	case event.TypeTie:
		return table.ResultTie
	default:
		return table.ResultLose
	}
}
