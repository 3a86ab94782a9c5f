// Package roulette models the authoritative state of one roulette round.
//
// Rounds live on the same journal primitives as blackjack tables: state is
// only mutated by the roulette engine, every mutation is an event, and the
// current round is always reconstructible by replay. There is deliberately
// no package-level current round; state is scoped per logical table id.
package roulette

import (
	"time"
)

// Pockets is the number of wheel pockets on a single-zero wheel (0-36).
const Pockets = 37

// Phase describes where a round is in its lifecycle.
type Phase string

const (
	// PhaseBetting runs from the first bet until SpinAt.
	PhaseBetting Phase = "betting"
	// PhaseEnded marks a resolved, immutable round.
	PhaseEnded Phase = "ended"
)

// BetKind identifies what a wager covers.
type BetKind string

const (
	// KindStraight covers a single pocket; pays 35 to 1.
	KindStraight BetKind = "straight"
	// KindRed and KindBlack cover a color; pay 1 to 1. Zero loses both.
	KindRed   BetKind = "red"
	KindBlack BetKind = "black"
	// KindOdd and KindEven cover parity; pay 1 to 1. Zero loses both.
	KindOdd  BetKind = "odd"
	KindEven BetKind = "even"
)

// IsValid reports whether the kind is one of the supported wagers.
func (k BetKind) IsValid() bool {
	switch k {
	case KindStraight, KindRed, KindBlack, KindOdd, KindEven:
		return true
	}
	return false
}

// Multiplier returns the winnings-to-stake ratio for the kind.
func (k BetKind) Multiplier() int64 {
	if k == KindStraight {
		return 35
	}
	return 1
}

// Bet is one wager in a round.
type Bet struct {
	ID       string  `json:"id"`
	PlayerID string  `json:"player_id"`
	Kind     BetKind `json:"kind"`
	// Pick is the covered pocket for straight bets.
	Pick   int   `json:"pick,omitempty"`
	Amount int64 `json:"amount"`
	Payout int64 `json:"payout"`
}

// Wins reports whether the bet covers the given pocket.
func (b Bet) Wins(pocket int) bool {
	switch b.Kind {
	case KindStraight:
		return b.Pick == pocket
	case KindRed:
		return ColorOf(pocket) == "red"
	case KindBlack:
		return ColorOf(pocket) == "black"
	case KindOdd:
		return pocket != 0 && pocket%2 == 1
	case KindEven:
		return pocket != 0 && pocket%2 == 0
	}
	return false
}

// redPockets is the standard single-zero wheel red set.
var redPockets = map[int]bool{
	1: true, 3: true, 5: true, 7: true, 9: true, 12: true,
	14: true, 16: true, 18: true, 19: true, 21: true, 23: true,
	25: true, 27: true, 30: true, 32: true, 34: true, 36: true,
}

// ColorOf returns "red", "black", or "green" for a pocket.
func ColorOf(pocket int) string {
	if pocket == 0 {
		return "green"
	}
	if redPockets[pocket] {
		return "red"
	}
	return "black"
}

// Round is the authoritative state of one roulette round on a table id.
type Round struct {
	ID         string     `json:"id"`
	Generation uint64     `json:"generation"`
	CreatedAt  time.Time  `json:"created_at"`
	SpinAt     time.Time  `json:"spin_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Phase      Phase      `json:"phase"`
	Bets       []Bet      `json:"bets"`
	// Pocket is set by the spin; nil while betting.
	Pocket *int   `json:"pocket,omitempty"`
	Color  string `json:"color,omitempty"`
}

// Ended reports whether the round is immutable history.
func (r Round) Ended() bool {
	return r.Phase == PhaseEnded
}

// BettingOpen reports whether bets are still accepted at now.
func (r Round) BettingOpen(now time.Time) bool {
	return r.Phase == PhaseBetting && now.Before(r.SpinAt)
}

// Clone returns a deep copy safe to mutate without aliasing the original.
func (r Round) Clone() Round {
	dup := r
	if r.EndedAt != nil {
		endedAt := *r.EndedAt
		dup.EndedAt = &endedAt
	}
	if r.Pocket != nil {
		pocket := *r.Pocket
		dup.Pocket = &pocket
	}
	dup.Bets = append([]Bet(nil), r.Bets...)
	return dup
}
