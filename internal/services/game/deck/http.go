package deck

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cenkalti/backoff/v5"

	apperrors "github.com/greenfelt/croupier/internal/platform/errors"
	"github.com/greenfelt/croupier/internal/platform/timeouts"
	"github.com/greenfelt/croupier/internal/services/game/domain/card"
)

// DefaultBaseURL is the public deck-dealing API.
const DefaultBaseURL = "https://deckofcardsapi.com/api/deck"

const httpMaxTries = 3

// HTTPService deals from a remote deck API. Responses carry cards in the
// API's wire shape, which card.Card mirrors directly.
type HTTPService struct {
	baseURL string
	client  *http.Client
}

// NewHTTPService returns a service against baseURL. An empty baseURL selects
// DefaultBaseURL; a nil client gets a timeout-bounded default.
func NewHTTPService(baseURL string, client *http.Client) *HTTPService {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: timeouts.DeckRequest}
	}
	return &HTTPService{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type shoeResponse struct {
	Success bool        `json:"success"`
	DeckID  string      `json:"deck_id"`
	Cards   []card.Card `json:"cards"`
}

// NewShoe implements Service.
func (s *HTTPService) NewShoe(ctx context.Context, deckCount int) (string, error) {
	if deckCount <= 0 {
		deckCount = 1
	}
	endpoint := fmt.Sprintf("%s/new/shuffle/?deck_count=%d", s.baseURL, deckCount)
	response, err := s.get(ctx, endpoint)
	if err != nil {
		return "", err
	}
	if response.DeckID == "" {
		return "", apperrors.New(apperrors.CodeDeckUnavailable, "deck API returned no deck id")
	}
	return response.DeckID, nil
}

// Draw implements Service.
func (s *HTTPService) Draw(ctx context.Context, shoeID string, count int) ([]card.Card, error) {
	if count <= 0 {
		return nil, nil
	}
	endpoint := fmt.Sprintf("%s/%s/draw/?count=%d", s.baseURL, url.PathEscape(shoeID), count)
	response, err := s.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if len(response.Cards) != count {
		return nil, apperrors.WithMetadata(apperrors.CodeDeckUnavailable, "deck API dealt short", map[string]string{
			"requested": strconv.Itoa(count),
			"dealt":     strconv.Itoa(len(response.Cards)),
		})
	}
	return response.Cards, nil
}

// get fetches endpoint with bounded retries. 4xx responses are permanent;
// transport errors and 5xx responses retry.
func (s *HTTPService) get(ctx context.Context, endpoint string) (shoeResponse, error) {
	operation := func() (shoeResponse, error) {
		requestCtx, cancel := context.WithTimeout(ctx, timeouts.DeckRequest)
		defer cancel()

		request, err := http.NewRequestWithContext(requestCtx, http.MethodGet, endpoint, nil)
		if err != nil {
			return shoeResponse{}, backoff.Permanent(err)
		}
		httpResponse, err := s.client.Do(request)
		if err != nil {
			return shoeResponse{}, err
		}
		defer httpResponse.Body.Close()

		if httpResponse.StatusCode >= 500 {
			return shoeResponse{}, fmt.Errorf("deck API status %d", httpResponse.StatusCode)
		}
		if httpResponse.StatusCode != http.StatusOK {
			return shoeResponse{}, backoff.Permanent(fmt.Errorf("deck API status %d", httpResponse.StatusCode))
		}

		var decoded shoeResponse
		if err := json.NewDecoder(httpResponse.Body).Decode(&decoded); err != nil {
			return shoeResponse{}, fmt.Errorf("decode deck API response: %w", err)
		}
		if !decoded.Success {
			return shoeResponse{}, fmt.Errorf("deck API reported failure")
		}
		return decoded, nil
	}

	response, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(httpMaxTries))
	if err != nil {
		return shoeResponse{}, apperrors.Wrap(apperrors.CodeDeckUnavailable, "deck API request failed", err)
	}
	return response, nil
}
