package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v5"

	apperrors "github.com/greenfelt/croupier/internal/platform/errors"
	"github.com/greenfelt/croupier/internal/platform/timeouts"
)

const postMaxTries = 3

// HTTPSink posts entries to a wallet service endpoint as a JSON batch.
type HTTPSink struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSink returns a sink posting to endpoint. A nil client gets a
// timeout-bounded default.
func NewHTTPSink(endpoint string, client *http.Client) *HTTPSink {
	if client == nil {
		client = &http.Client{Timeout: timeouts.LedgerRequest}
	}
	return &HTTPSink{endpoint: strings.TrimSpace(endpoint), client: client}
}

// Post implements Sink with bounded retries. 4xx responses are permanent.
func (s *HTTPSink) Post(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	body, err := json.Marshal(map[string][]Entry{"entries": entries})
	if err != nil {
		return fmt.Errorf("marshal ledger entries: %w", err)
	}

	operation := func() (struct{}, error) {
		requestCtx, cancel := context.WithTimeout(ctx, timeouts.LedgerRequest)
		defer cancel()

		request, err := http.NewRequestWithContext(requestCtx, http.MethodPost, s.endpoint, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		request.Header.Set("Content-Type", "application/json")

		response, err := s.client.Do(request)
		if err != nil {
			return struct{}{}, err
		}
		defer response.Body.Close()

		if response.StatusCode >= 500 {
			return struct{}{}, fmt.Errorf("wallet status %d", response.StatusCode)
		}
		if response.StatusCode >= 400 {
			return struct{}{}, backoff.Permanent(fmt.Errorf("wallet status %d", response.StatusCode))
		}
		return struct{}{}, nil
	}

	if _, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(postMaxTries)); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageUnavailable, "post ledger entries", err)
	}
	return nil
}
