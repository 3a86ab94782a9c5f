package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/greenfelt/croupier/internal/services/game/domain/card"
)

// CreatedPayload captures the payload for created events.
type CreatedPayload struct {
	PlayerID   string    `json:"player_id"`
	Seat       int       `json:"seat"`
	CreatedAt  time.Time `json:"created_at"`
	StartingAt time.Time `json:"starting_at"`
	DeckCount  int       `json:"deck_count"`
}

// NewDeckPayload captures the payload for info.newDeck events.
type NewDeckPayload struct {
	DeckID string `json:"deck_id"`
}

// JoinedPayload captures the payload for joined events.
type JoinedPayload struct {
	PlayerID string `json:"player_id"`
	Seat     int    `json:"seat"`
}

// BetPayload captures the payload for bet events.
type BetPayload struct {
	PlayerID string `json:"player_id"`
	Seat     int    `json:"seat"`
	Hand     int    `json:"hand"`
	BetID    string `json:"bet_id"`
	Amount   int64  `json:"amount"`
}

// StartedPayload captures the payload for started events.
type StartedPayload struct {
	Seats int `json:"seats"`
}

// DrawPayload captures the payload for draw events.
type DrawPayload struct {
	Seat int       `json:"seat"`
	Hand int       `json:"hand"`
	Card card.Card `json:"card"`
}

// DealerDrawPayload captures the payload for draw.dealer events.
// Hidden cards broadcast their code redacted; the full card is recorded
// in the journal payload and revealed by show.dealer.
type DealerDrawPayload struct {
	Card   card.Card `json:"card"`
	Hidden bool      `json:"hidden"`
}

// ShowDealerPayload captures the payload for show.dealer events.
type ShowDealerPayload struct {
	Card card.Card `json:"card"`
}

// SplitPayload captures the payload for split events. The moved card leaves
// the source hand and seeds the new sibling hand with the same bet amount.
type SplitPayload struct {
	PlayerID string    `json:"player_id"`
	Seat     int       `json:"seat"`
	FromHand int       `json:"from_hand"`
	NewHand  int       `json:"new_hand"`
	Card     card.Card `json:"card"`
	BetID    string    `json:"bet_id"`
	Amount   int64     `json:"amount"`
}

// TurnPayload captures the payload for turn events. PlayerID is "dealer"
// when control transfers to the house.
type TurnPayload struct {
	PlayerID string `json:"player_id"`
	Seat     int    `json:"seat"`
	Hand     int    `json:"hand"`
}

// BustPayload captures the payload for bust events.
type BustPayload struct {
	PlayerID string `json:"player_id"`
	Seat     int    `json:"seat"`
	Hand     int    `json:"hand"`
	Score    int    `json:"score"`
}

// DealerBustPayload captures the payload for bust.dealer events.
type DealerBustPayload struct {
	Score int `json:"score"`
}

// OutcomePayload captures the payload for win, tie, and lose events.
// Payout is the signed amount credited to the wallet ledger.
type OutcomePayload struct {
	PlayerID    string `json:"player_id"`
	Seat        int    `json:"seat"`
	Hand        int    `json:"hand"`
	Score       int    `json:"score"`
	DealerScore int    `json:"dealer_score"`
	Natural     bool   `json:"natural,omitempty"`
	Payout      int64  `json:"payout"`
}

// EndedPayload captures the payload for ended events.
type EndedPayload struct {
	DealerScore int       `json:"dealer_score"`
	EndedAt     time.Time `json:"ended_at"`
}

// RoundCreatedPayload captures the payload for roulette created events.
type RoundCreatedPayload struct {
	PlayerID  string    `json:"player_id"`
	CreatedAt time.Time `json:"created_at"`
	SpinAt    time.Time `json:"spin_at"`
}

// RouletteBetPayload captures the payload for roulette bet events.
type RouletteBetPayload struct {
	PlayerID string `json:"player_id"`
	BetID    string `json:"bet_id"`
	Kind     string `json:"kind"`
	Pick     int    `json:"pick,omitempty"`
	Amount   int64  `json:"amount"`
}

// SpinPayload captures the payload for spin events.
type SpinPayload struct {
	Pocket int    `json:"pocket"`
	Color  string `json:"color"`
}

// RouletteOutcomePayload captures the payload for roulette win and lose events.
type RouletteOutcomePayload struct {
	PlayerID string `json:"player_id"`
	BetID    string `json:"bet_id"`
	Payout   int64  `json:"payout"`
}

// MarshalPayload encodes a typed payload for storage in an event.
func MarshalPayload(payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	return data, nil
}

// UnmarshalPayload decodes an event payload into the typed target.
func UnmarshalPayload(evt Event, target any) error {
	if len(evt.PayloadJSON) == 0 {
		return fmt.Errorf("event %s@%d has no payload", evt.Type, evt.Seq)
	}
	if err := json.Unmarshal(evt.PayloadJSON, target); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", evt.Type, err)
	}
	return nil
}
