// Package table models the authoritative state of one blackjack table.
//
// A table value is only ever mutated by the engine in response to validated
// actions or scheduled phase transitions, and every mutation is recorded as
// journal events. The struct marshals to JSON as the snapshot format
// published on the internal channel.
package table

import (
	"time"

	"github.com/greenfelt/croupier/internal/services/game/domain/card"
)

// DealerPlayerID is the reserved player id the turn pointer uses when play
// control transfers to the house.
const DealerPlayerID = "dealer"

// Phase describes where a table is in its lifecycle.
type Phase string

const (
	// PhaseCountdown runs from creation until StartingAt; joins and bets only.
	PhaseCountdown Phase = "countdown"
	// PhasePlaying runs from the initial deal until the last seat resolves.
	PhasePlaying Phase = "playing"
	// PhaseDealer covers dealer auto-play and payout resolution.
	PhaseDealer Phase = "dealer"
	// PhaseEnded marks an immutable, historical table.
	PhaseEnded Phase = "ended"
)

// Result records how a hand resolved against the dealer.
type Result string

const (
	ResultWin  Result = "win"
	ResultTie  Result = "tie"
	ResultLose Result = "lose"
)

// Bet is a wager attached to a hand.
type Bet struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
}

// Hand is one hand of cards belonging to a seat. A seat starts with exactly
// one hand; splitting appends sibling hands to the same seat.
type Hand struct {
	Cards  []card.Card `json:"cards"`
	Busted bool        `json:"busted"`
	Bet    *Bet        `json:"bet,omitempty"`
	Result Result      `json:"result,omitempty"`
}

// Score returns the blackjack value of the hand.
func (h Hand) Score() int {
	return card.Score(h.Cards)
}

// Resolved reports whether the hand can no longer act.
func (h Hand) Resolved() bool {
	return h.Busted || h.Result != ""
}

// Seat is an ordered slot at a table occupied by one player.
type Seat struct {
	PlayerID string `json:"player_id"`
	Hands    []Hand `json:"hands"`
}

// DealerCard is a dealer card with its face-down flag. At most one dealer
// card is hidden at a time; it is revealed in one atomic event before dealer
// auto-play begins.
type DealerCard struct {
	Card   card.Card `json:"card"`
	Hidden bool      `json:"hidden"`
}

// DealerHand is the house hand.
type DealerHand struct {
	Cards  []DealerCard `json:"cards"`
	Busted bool         `json:"busted"`
}

// Score returns the value of the dealer hand including hidden cards.
func (d DealerHand) Score() int {
	return card.Score(d.cards())
}

// VisibleScore returns the value of the face-up dealer cards only.
func (d DealerHand) VisibleScore() int {
	visible := make([]card.Card, 0, len(d.Cards))
	for _, c := range d.Cards {
		if !c.Hidden {
			visible = append(visible, c.Card)
		}
	}
	return card.Score(visible)
}

// Soft reports whether the dealer hand counts an ace as eleven.
func (d DealerHand) Soft() bool {
	return card.IsSoft(d.cards())
}

// Reveal turns all hidden cards face up.
func (d *DealerHand) Reveal() {
	for i := range d.Cards {
		d.Cards[i].Hidden = false
	}
}

// HiddenCard returns the face-down card, if any.
func (d DealerHand) HiddenCard() (card.Card, bool) {
	for _, c := range d.Cards {
		if c.Hidden {
			return c.Card, true
		}
	}
	return card.Card{}, false
}

func (d DealerHand) cards() []card.Card {
	cards := make([]card.Card, 0, len(d.Cards))
	for _, c := range d.Cards {
		cards = append(cards, c.Card)
	}
	return cards
}

// TurnPointer references the hand currently authorized to act, or the dealer.
// The engine guarantees it always references a hand that exists and is not
// already resolved at the instant control passes to it.
type TurnPointer struct {
	PlayerID string `json:"player_id"`
	Seat     int    `json:"seat"`
	Hand     int    `json:"hand"`
}

// IsDealer reports whether the pointer references the house.
func (t TurnPointer) IsDealer() bool {
	return t.PlayerID == DealerPlayerID
}

// Table is the authoritative state of one game on a logical table id.
// Exactly one non-ended table may exist per table id at a time; creating a
// new one supersedes the prior ended one and increments Generation.
type Table struct {
	ID         string       `json:"id"`
	Generation uint64       `json:"generation"`
	CreatedAt  time.Time    `json:"created_at"`
	StartingAt time.Time    `json:"starting_at"`
	EndedAt    *time.Time   `json:"ended_at,omitempty"`
	DeckID     string       `json:"deck_id"`
	Phase      Phase        `json:"phase"`
	Seats      []Seat       `json:"seats"`
	Dealer     DealerHand   `json:"dealer"`
	Turn       *TurnPointer `json:"turn,omitempty"`
}

// Ended reports whether the table is immutable history.
func (t Table) Ended() bool {
	return t.Phase == PhaseEnded
}

// Started reports whether the countdown deadline has passed at now.
func (t Table) Started(now time.Time) bool {
	return !now.Before(t.StartingAt)
}

// SeatOf returns the seat index occupied by playerID.
func (t Table) SeatOf(playerID string) (int, bool) {
	for i, seat := range t.Seats {
		if seat.PlayerID == playerID {
			return i, true
		}
	}
	return 0, false
}

// Clone returns a deep copy safe to mutate without aliasing the original.
// The engine always reads, clones, mutates the clone, and commits the result.
func (t Table) Clone() Table {
	dup := t
	if t.EndedAt != nil {
		endedAt := *t.EndedAt
		dup.EndedAt = &endedAt
	}
	if t.Turn != nil {
		turn := *t.Turn
		dup.Turn = &turn
	}
	dup.Seats = make([]Seat, len(t.Seats))
	for i, seat := range t.Seats {
		cloned := seat
		cloned.Hands = make([]Hand, len(seat.Hands))
		for j, hand := range seat.Hands {
			dupHand := hand
			dupHand.Cards = append([]card.Card(nil), hand.Cards...)
			if hand.Bet != nil {
				bet := *hand.Bet
				dupHand.Bet = &bet
			}
			cloned.Hands[j] = dupHand
		}
		dup.Seats[i] = cloned
	}
	dup.Dealer.Cards = append([]DealerCard(nil), t.Dealer.Cards...)
	return dup
}

// FirstTurn returns the pointer for the first unresolved hand, or the dealer
// pointer when no seat can act.
func (t Table) FirstTurn() TurnPointer {
	for seatIdx, seat := range t.Seats {
		for handIdx, hand := range seat.Hands {
			if !hand.Resolved() {
				return TurnPointer{PlayerID: seat.PlayerID, Seat: seatIdx, Hand: handIdx}
			}
		}
	}
	return TurnPointer{PlayerID: DealerPlayerID}
}

// NextTurn advances from the given pointer: the same seat's next unresolved
// hand first (split siblings), then the first later seat with an unresolved
// hand, and finally the dealer when no seats remain.
func (t Table) NextTurn(from TurnPointer) TurnPointer {
	if from.IsDealer() {
		return from
	}
	if from.Seat >= 0 && from.Seat < len(t.Seats) {
		seat := t.Seats[from.Seat]
		for handIdx := from.Hand + 1; handIdx < len(seat.Hands); handIdx++ {
			if !seat.Hands[handIdx].Resolved() {
				return TurnPointer{PlayerID: seat.PlayerID, Seat: from.Seat, Hand: handIdx}
			}
		}
	}
	for seatIdx := from.Seat + 1; seatIdx < len(t.Seats); seatIdx++ {
		for handIdx, hand := range t.Seats[seatIdx].Hands {
			if !hand.Resolved() {
				return TurnPointer{PlayerID: t.Seats[seatIdx].PlayerID, Seat: seatIdx, Hand: handIdx}
			}
		}
	}
	return TurnPointer{PlayerID: DealerPlayerID}
}
