// Package eventlog composes the journal, snapshot store, and stream broker
// into the single write path every engine goes through. Appends are durable
// before anything is broadcast, so a crash between the two can only cost a
// notification, never recorded history.
package eventlog

import (
	"context"
	"log"

	"github.com/cenkalti/backoff/v5"

	apperrors "github.com/greenfelt/croupier/internal/platform/errors"
	"github.com/greenfelt/croupier/internal/platform/timeouts"
	"github.com/greenfelt/croupier/internal/services/game/domain/event"
	"github.com/greenfelt/croupier/internal/services/game/storage"
	"github.com/greenfelt/croupier/internal/services/game/stream"
)

const publishMaxTries = 3

// Log is the append and read surface over a table journal.
type Log struct {
	store  storage.Store
	broker stream.Broker
}

// New composes store and broker into a Log.
func New(store storage.Store, broker stream.Broker) *Log {
	return &Log{store: store, broker: broker}
}

// Commit atomically appends events with the snapshot and any scheduled jobs
// under the expected sequence, then broadcasts redacted copies. A conflicting
// append surfaces storage.ErrConflict untouched so engines can reread and
// retry. Broadcast failures are logged and swallowed; subscribers recover by
// refetching.
func (l *Log) Commit(ctx context.Context, req storage.AppendRequest) ([]event.Event, error) {
	appended, err := l.store.AppendEvents(ctx, req)
	if err != nil {
		return nil, err
	}

	for _, evt := range appended {
		l.publish(ctx, event.RedactForBroadcast(evt))
	}
	return appended, nil
}

func (l *Log) publish(ctx context.Context, evt event.Event) {
	if l.broker == nil {
		return
	}
	publishCtx, cancel := context.WithTimeout(ctx, timeouts.Publish)
	defer cancel()

	_, err := backoff.Retry(publishCtx, func() (struct{}, error) {
		return struct{}{}, l.broker.Publish(publishCtx, evt)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(publishMaxTries))
	if err != nil {
		log.Printf("eventlog: publish table=%s seq=%d: %v", evt.TableID, evt.Seq, err)
	}
}

// LatestSnapshot returns the stored snapshot for tableID.
func (l *Log) LatestSnapshot(ctx context.Context, tableID string) (storage.SnapshotRecord, error) {
	return l.store.GetLatestSnapshot(ctx, tableID)
}

// LatestSeq returns the last appended sequence for tableID, 0 when empty.
func (l *Log) LatestSeq(ctx context.Context, tableID string) (uint64, error) {
	return l.store.GetLatestSeq(ctx, tableID)
}

// Replay streams the full journal for tableID in order, in pages, invoking
// apply for each event. Engines use it to rebuild state when no snapshot is
// available.
func (l *Log) Replay(ctx context.Context, tableID string, apply func(event.Event) error) error {
	var afterSeq uint64
	for {
		page, err := l.store.ListEvents(ctx, tableID, afterSeq, 200)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		for _, evt := range page {
			if err := apply(evt); err != nil {
				return err
			}
			afterSeq = evt.Seq
		}
	}
}

// HistoryRequest selects a redacted page of a table's journal.
type HistoryRequest struct {
	TableID    string
	Filter     string
	PageSize   int
	CursorSeq  uint64
	Descending bool
}

// HistoryPage is one page of redacted history plus its continuation cursor.
type HistoryPage struct {
	Events     []event.Event
	NextCursor uint64
}

// History returns a client-safe page of the journal. The filter uses the
// list-filtering grammar over type, actor_type, actor_id, generation, seq,
// and ts fields.
func (l *Log) History(ctx context.Context, req HistoryRequest) (HistoryPage, error) {
	condition, err := storage.ParseEventFilter(req.Filter)
	if err != nil {
		return HistoryPage{}, apperrors.Wrap(apperrors.CodeFilterInvalid, "invalid history filter", err)
	}

	result, err := l.store.ListEventsPage(ctx, storage.ListEventsPageRequest{
		TableID:      req.TableID,
		PageSize:     req.PageSize,
		CursorSeq:    req.CursorSeq,
		Descending:   req.Descending,
		FilterClause: condition.Clause,
		FilterParams: condition.Params,
	})
	if err != nil {
		return HistoryPage{}, err
	}

	page := HistoryPage{Events: make([]event.Event, 0, len(result.Events))}
	for _, evt := range result.Events {
		page.Events = append(page.Events, event.RedactForBroadcast(evt))
	}
	if result.HasNextPage && len(page.Events) > 0 {
		page.NextCursor = page.Events[len(page.Events)-1].Seq
	}
	return page, nil
}

// Subscribe proxies to the broker so callers only hold one handle.
func (l *Log) Subscribe(ctx context.Context, tableID string) (<-chan event.Event, func(), error) {
	if l.broker == nil {
		ch := make(chan event.Event)
		close(ch)
		return ch, func() {}, nil
	}
	return l.broker.Subscribe(ctx, tableID)
}
