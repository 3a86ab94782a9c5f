// Package deck supplies shuffled shoes to the table engine. Two
// implementations exist: an HTTP client against a deck-dealing API and a
// local shuffler for offline play and tests.
package deck

import (
	"context"

	"github.com/greenfelt/croupier/internal/services/game/domain/card"
)

// Service creates shoes and deals cards from them.
type Service interface {
	// NewShoe creates a shuffled shoe of deckCount interleaved decks and
	// returns its identifier.
	NewShoe(ctx context.Context, deckCount int) (string, error)
	// Draw deals count cards from the shoe in order.
	Draw(ctx context.Context, shoeID string, count int) ([]card.Card, error)
}
