package deck

import (
	"context"
	"math/rand"
	"sync"

	apperrors "github.com/greenfelt/croupier/internal/platform/errors"
	"github.com/greenfelt/croupier/internal/platform/id"
	"github.com/greenfelt/croupier/internal/platform/random"
	"github.com/greenfelt/croupier/internal/services/game/domain/card"
)

// LocalService shuffles shoes in process. Shoes live in memory only, so it
// suits single-node deployments and tests; the same seed always yields the
// same shoe order.
type LocalService struct {
	mu    sync.Mutex
	seed  *int64
	shoes map[string][]card.Card
}

// NewLocalService returns a service seeding each shoe from crypto/rand.
func NewLocalService() *LocalService {
	return &LocalService{shoes: make(map[string][]card.Card)}
}

// NewSeededLocalService returns a service where every shoe shuffles from
// seed. Deterministic shoes keep engine tests reproducible.
func NewSeededLocalService(seed int64) *LocalService {
	return &LocalService{seed: &seed, shoes: make(map[string][]card.Card)}
}

// NewShoe implements Service.
func (s *LocalService) NewShoe(ctx context.Context, deckCount int) (string, error) {
	if deckCount <= 0 {
		deckCount = 1
	}

	seed := int64(0)
	if s.seed != nil {
		seed = *s.seed
	} else {
		generated, err := random.NewSeed()
		if err != nil {
			return "", apperrors.Wrap(apperrors.CodeDeckUnavailable, "seed shoe", err)
		}
		seed = generated
	}

	cards := card.Shoe(deckCount)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(cards), func(i, j int) {
		cards[i], cards[j] = cards[j], cards[i]
	})

	shoeID, err := id.NewID()
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeDeckUnavailable, "name shoe", err)
	}

	s.mu.Lock()
	s.shoes[shoeID] = cards
	s.mu.Unlock()

	return shoeID, nil
}

// Draw implements Service.
func (s *LocalService) Draw(ctx context.Context, shoeID string, count int) ([]card.Card, error) {
	if count <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	shoe, ok := s.shoes[shoeID]
	if !ok {
		return nil, apperrors.New(apperrors.CodeDeckUnavailable, "unknown shoe")
	}
	if len(shoe) < count {
		return nil, apperrors.New(apperrors.CodeDeckUnavailable, "shoe exhausted")
	}

	dealt := make([]card.Card, count)
	copy(dealt, shoe[:count])
	s.shoes[shoeID] = shoe[count:]
	return dealt, nil
}
