// Package ledger forwards settled payouts to the wallet service. The journal
// stays the source of truth; the sink is an at-least-once side channel and
// every entry carries an idempotency key so the wallet can dedupe.
package ledger

import (
	"context"
	"fmt"
)

// Entry is one settled payout for one hand.
type Entry struct {
	// IdempotencyKey is stable across redeliveries of the same outcome.
	IdempotencyKey string `json:"idempotency_key"`
	TableID        string `json:"table_id"`
	Generation     uint64 `json:"generation"`
	PlayerID       string `json:"player_id"`
	BetID          string `json:"bet_id"`
	// Amount is the signed credit in cents. Losses post a zero entry so the
	// wallet can close the reservation made at bet time.
	Amount int64  `json:"amount"`
	Result string `json:"result"`
}

// Key builds the idempotency key for a hand outcome.
func Key(tableID string, generation uint64, seat, hand int) string {
	return fmt.Sprintf("%s:%d:%d:%d", tableID, generation, seat, hand)
}

// RoundKey builds the idempotency key for a roulette bet outcome.
func RoundKey(roundID string, generation uint64, betID string) string {
	return fmt.Sprintf("%s:%d:%s", roundID, generation, betID)
}

// Sink accepts settled payouts.
type Sink interface {
	Post(ctx context.Context, entries []Entry) error
}

// Noop discards every entry. It stands in when no wallet is configured.
type Noop struct{}

// Post implements Sink.
func (Noop) Post(ctx context.Context, entries []Entry) error {
	return nil
}
