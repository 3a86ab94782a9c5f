package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	apperrors "github.com/greenfelt/croupier/internal/platform/errors"
	"github.com/greenfelt/croupier/internal/services/game/domain/event"
	"github.com/greenfelt/croupier/internal/services/game/domain/table"
	"github.com/greenfelt/croupier/internal/services/game/projection"
	"github.com/greenfelt/croupier/internal/services/game/storage"
)

// mutation builds the next state, the events recording the change, and any
// jobs to schedule, from the current state. It must not mutate state; it
// clones and returns the clone. A nil state means no table exists yet.
type mutation func(state *table.Table, seq uint64) (*table.Table, []event.Event, []storage.Job, error)

// loadState reads the latest snapshot for tableID, falling back to a journal
// replay when the snapshot is missing. It returns a nil table when the
// journal is empty.
func (e *Engine) loadState(ctx context.Context, tableID string) (*table.Table, uint64, error) {
	record, err := e.log.LatestSnapshot(ctx, tableID)
	if errors.Is(err, storage.ErrNotFound) {
		return e.rebuildState(ctx, tableID)
	}
	if err != nil {
		return nil, 0, apperrors.Wrap(apperrors.CodeStorageUnavailable, "load table snapshot", err)
	}

	var state table.Table
	if err := json.Unmarshal(record.StateJSON, &state); err != nil {
		return nil, 0, fmt.Errorf("decode table snapshot: %w", err)
	}
	return &state, record.Seq, nil
}

// rebuildState folds the full journal into a table. A missing snapshot with
// a non-empty journal happens after a restore from the events table alone;
// the journal stays the source of truth.
func (e *Engine) rebuildState(ctx context.Context, tableID string) (*table.Table, uint64, error) {
	var state table.Table
	var seq uint64
	err := e.log.Replay(ctx, tableID, func(evt event.Event) error {
		if err := projection.Reduce(&state, evt); err != nil {
			return err
		}
		seq = evt.Seq
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("rebuild table from journal: %w", err)
	}
	if seq == 0 {
		return nil, 0, nil
	}
	return &state, seq, nil
}

// commit runs mutate against fresh state and appends its output under the
// sequence that state was read at. A conflicting concurrent append triggers a
// reread and retry. Jobs ride in the append request and are inserted in the
// same store transaction, so a failed commit schedules nothing and a stale
// no-op can never consume a job belonging to a transition that has not
// happened yet.
func (e *Engine) commit(ctx context.Context, tableID string, mutate mutation) error {
	var lastErr error
	for attempt := 0; attempt < commitMaxRetries; attempt++ {
		state, seq, err := e.loadState(ctx, tableID)
		if err != nil {
			return err
		}

		next, events, jobs, err := mutate(state, seq)
		if err != nil {
			return err
		}
		if next == nil || len(events) == 0 {
			return nil
		}

		snapshot, err := snapshotOf(*next)
		if err != nil {
			return err
		}
		_, err = e.log.Commit(ctx, storage.AppendRequest{
			TableID:     tableID,
			ExpectedSeq: seq,
			Events:      events,
			Snapshot:    snapshot,
			Jobs:        jobs,
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return err
		}
		lastErr = err
	}
	return apperrors.Wrap(apperrors.CodeConflict, "table busy, retry", lastErr)
}

func snapshotOf(state table.Table) (storage.SnapshotRecord, error) {
	encoded, err := json.Marshal(state)
	if err != nil {
		return storage.SnapshotRecord{}, fmt.Errorf("encode table snapshot: %w", err)
	}
	return storage.SnapshotRecord{
		TableID:    state.ID,
		Generation: state.Generation,
		StateJSON:  encoded,
	}, nil
}
