// Package memory provides an in-memory Store for tests and single-node use.
// It enforces the same sequence and claim semantics as the SQLite store.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/greenfelt/croupier/internal/services/game/domain/event"
	"github.com/greenfelt/croupier/internal/services/game/storage"
)

type jobKey struct {
	tableID    string
	generation uint64
	kind       storage.JobKind
	key        string
}

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu        sync.Mutex
	registry  *event.Registry
	events    map[string][]event.Event
	snapshots map[string]storage.SnapshotRecord
	jobs      map[jobKey]*storage.Job
}

// New returns an empty store validating appends against registry.
func New(registry *event.Registry) *Store {
	return &Store{
		registry:  registry,
		events:    make(map[string][]event.Event),
		snapshots: make(map[string]storage.SnapshotRecord),
		jobs:      make(map[jobKey]*storage.Job),
	}
}

// AppendEvents implements storage.EventStore.
func (s *Store) AppendEvents(ctx context.Context, req storage.AppendRequest) ([]event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tableID := strings.TrimSpace(req.TableID)
	if tableID == "" {
		return nil, storage.ErrNotFound
	}

	log := s.events[tableID]
	currentSeq := uint64(0)
	if len(log) > 0 {
		currentSeq = log[len(log)-1].Seq
	}
	if currentSeq != req.ExpectedSeq {
		return nil, storage.ErrConflict
	}

	appended := make([]event.Event, 0, len(req.Events))
	seq := currentSeq
	for _, evt := range req.Events {
		evt.TableID = tableID
		if s.registry != nil {
			validated, err := s.registry.ValidateForAppend(evt)
			if err != nil {
				return nil, err
			}
			evt = validated
		}
		if evt.Timestamp.IsZero() {
			evt.Timestamp = time.Now().UTC()
		}
		evt.Timestamp = evt.Timestamp.UTC().Truncate(time.Millisecond)
		seq++
		evt.Seq = seq
		appended = append(appended, evt)
	}

	s.events[tableID] = append(log, appended...)

	snapshot := req.Snapshot
	snapshot.TableID = tableID
	snapshot.Seq = seq
	snapshot.UpdatedAt = time.Now().UTC()
	s.snapshots[tableID] = snapshot

	for _, job := range req.Jobs {
		key := jobKey{job.TableID, job.Generation, job.Kind, job.Key}
		if _, exists := s.jobs[key]; exists {
			continue
		}
		job.Status = storage.JobStatusPending
		stored := job
		s.jobs[key] = &stored
	}

	return appended, nil
}

// ListEvents implements storage.EventStore.
func (s *Store) ListEvents(ctx context.Context, tableID string, afterSeq uint64, limit int) ([]event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	var page []event.Event
	for _, evt := range s.events[tableID] {
		if evt.Seq <= afterSeq {
			continue
		}
		page = append(page, evt)
		if len(page) >= limit {
			break
		}
	}
	return page, nil
}

// GetLatestSeq implements storage.EventStore.
func (s *Store) GetLatestSeq(ctx context.Context, tableID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.events[tableID]
	if len(log) == 0 {
		return 0, nil
	}
	return log[len(log)-1].Seq, nil
}

// ListEventsPage implements storage.EventStore. The memory store supports
// pagination and ordering; SQL filter clauses require the SQLite store.
func (s *Store) ListEventsPage(ctx context.Context, req storage.ListEventsPageRequest) (storage.ListEventsPageResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	all := append([]event.Event(nil), s.events[req.TableID]...)
	if req.Descending {
		sort.Slice(all, func(i, j int) bool { return all[i].Seq > all[j].Seq })
	}

	var page []event.Event
	for _, evt := range all {
		if req.CursorSeq > 0 {
			if req.Descending && evt.Seq >= req.CursorSeq {
				continue
			}
			if !req.Descending && evt.Seq <= req.CursorSeq {
				continue
			}
		}
		page = append(page, evt)
		if len(page) > pageSize {
			break
		}
	}

	result := storage.ListEventsPageResult{Events: page}
	if len(page) > pageSize {
		result.Events = page[:pageSize]
		result.HasNextPage = true
	}
	return result, nil
}

// GetLatestSnapshot implements storage.SnapshotStore.
func (s *Store) GetLatestSnapshot(ctx context.Context, tableID string) (storage.SnapshotRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, ok := s.snapshots[tableID]
	if !ok {
		return storage.SnapshotRecord{}, storage.ErrNotFound
	}
	return snapshot, nil
}

// PutJob implements storage.JobStore.
func (s *Store) PutJob(ctx context.Context, job storage.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := jobKey{job.TableID, job.Generation, job.Kind, job.Key}
	if _, exists := s.jobs[key]; exists {
		return nil
	}
	job.Status = storage.JobStatusPending
	s.jobs[key] = &job
	return nil
}

// ClaimDueJobs implements storage.JobStore.
func (s *Store) ClaimDueJobs(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]storage.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 10
	}
	var due []*storage.Job
	for _, job := range s.jobs {
		switch job.Status {
		case storage.JobStatusPending:
			if !job.FireAt.After(now) {
				due = append(due, job)
			}
		case storage.JobStatusLeased:
			// Expired leases are reclaimable; the holder is presumed gone.
			if job.LeasedUntil != nil && !job.LeasedUntil.After(now) {
				due = append(due, job)
			}
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].FireAt.Before(due[j].FireAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]storage.Job, 0, len(due))
	for _, job := range due {
		leasedUntil := now.Add(lease)
		job.Status = storage.JobStatusLeased
		job.LeasedUntil = &leasedUntil
		job.Attempts++
		claimed = append(claimed, *job)
	}
	return claimed, nil
}

// CompleteJob implements storage.JobStore.
func (s *Store) CompleteJob(ctx context.Context, job storage.Job) error {
	return s.transition(job, storage.JobStatusDone, time.Time{}, "")
}

// RetryJob implements storage.JobStore.
func (s *Store) RetryJob(ctx context.Context, job storage.Job, retryAt time.Time, lastError string) error {
	return s.transition(job, storage.JobStatusPending, retryAt, lastError)
}

// FailJob implements storage.JobStore.
func (s *Store) FailJob(ctx context.Context, job storage.Job, lastError string) error {
	return s.transition(job, storage.JobStatusDead, time.Time{}, lastError)
}

func (s *Store) transition(job storage.Job, status storage.JobStatus, fireAt time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := jobKey{job.TableID, job.Generation, job.Kind, job.Key}
	stored, ok := s.jobs[key]
	if !ok {
		return storage.ErrNotFound
	}
	stored.Status = status
	stored.LeasedUntil = nil
	stored.LastError = lastError
	if !fireAt.IsZero() {
		stored.FireAt = fireAt
	}
	return nil
}

// Close implements storage.Store.
func (s *Store) Close() error {
	return nil
}
