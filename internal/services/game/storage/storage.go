// Package storage defines the persistence boundary for the game engine:
// the per-table event journal, snapshot checkpoints, and scheduler jobs.
package storage

import (
	"context"
	"time"

	apperrors "github.com/greenfelt/croupier/internal/platform/errors"
	"github.com/greenfelt/croupier/internal/services/game/domain/event"
)

// ErrNotFound indicates a requested persistence record is missing.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// ErrConflict indicates an append lost an optimistic concurrency race: the
// journal advanced past the sequence the caller based its mutation on.
// Callers reload state and retry.
var ErrConflict = apperrors.New(apperrors.CodeConflict, "journal sequence conflict")

// SnapshotRecord is a full serialized table (or round) state checkpoint
// derived from the journal. Snapshots are accelerators for recovery, not the
// source of authority.
type SnapshotRecord struct {
	TableID    string
	// Seq is the journal sequence the snapshot reflects.
	Seq        uint64
	Generation uint64
	StateJSON  []byte
	UpdatedAt  time.Time
}

// AppendRequest atomically appends the events of one validated action and
// publishes the resulting state as the table's new snapshot.
type AppendRequest struct {
	TableID string
	// ExpectedSeq is the journal sequence the caller read before mutating.
	// The append fails with ErrConflict if the journal has advanced, which
	// closes the read-modify-write race between concurrent actions.
	ExpectedSeq uint64
	// Events receive consecutive sequence numbers starting at ExpectedSeq+1.
	Events []event.Event
	// Snapshot is stored with Seq set to the last appended sequence.
	Snapshot SnapshotRecord
	// Jobs are inserted in the same transaction as the events, so a
	// scheduled job exists exactly when the phase transition that needs it
	// committed. A job persisted ahead of a failed append would be consumed
	// by the stale-phase no-op check and its key burned forever.
	Jobs []Job
}

// EventStore owns the append-only journal that is the source of truth for
// state reconstruction.
type EventStore interface {
	// AppendEvents atomically appends all events of one action and updates
	// the table snapshot, or fails without side effects. Returns the events
	// with sequence numbers and timestamps assigned.
	AppendEvents(ctx context.Context, req AppendRequest) ([]event.Event, error)
	// ListEvents returns events ordered by sequence ascending. Callers page
	// by passing the last seen sequence until an empty page returns.
	ListEvents(ctx context.Context, tableID string, afterSeq uint64, limit int) ([]event.Event, error)
	// GetLatestSeq returns the latest sequence for a table, 0 if none.
	GetLatestSeq(ctx context.Context, tableID string) (uint64, error)
	// ListEventsPage returns a paginated, filtered event history view.
	ListEventsPage(ctx context.Context, req ListEventsPageRequest) (ListEventsPageResult, error)
}

// SnapshotStore reads the latest published snapshot for a table.
type SnapshotStore interface {
	// GetLatestSnapshot returns the current snapshot, or ErrNotFound when
	// the table has no history yet.
	GetLatestSnapshot(ctx context.Context, tableID string) (SnapshotRecord, error)
}

// JobKind identifies a deferred phase transition.
type JobKind string

const (
	// JobDeal begins dealing when a table's countdown expires.
	JobDeal JobKind = "deal"
	// JobDealer runs dealer auto-play and payout resolution.
	JobDealer JobKind = "dealer"
	// JobTurnTimeout auto-stands a hand whose player went quiet.
	JobTurnTimeout JobKind = "turn.timeout"
	// JobSpin resolves a roulette round when its betting window closes.
	JobSpin JobKind = "spin"
)

// JobStatus tracks a job through its lifecycle.
type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusLeased  JobStatus = "leased"
	JobStatusDone    JobStatus = "done"
	JobStatusDead    JobStatus = "dead"
)

// Job is one durable deferred action keyed by (TableID, Generation, Kind,
// Key). The generation key makes stale timers detect obsolescence cheaply:
// a job scheduled for a superseded table no-ops instead of erroring.
type Job struct {
	TableID    string
	Generation uint64
	Kind       JobKind
	// Key disambiguates jobs of the same kind within a generation, such as
	// one turn timeout per (seat, hand).
	Key      string
	FireAt   time.Time
	Status   JobStatus
	Attempts int
	// LeasedUntil bounds how long a claim suppresses redelivery.
	LeasedUntil *time.Time
	LastError   string
}

// JobStore persists scheduler jobs with at-most-once claim semantics.
type JobStore interface {
	// PutJob stores a job. Storing an already-present key is a no-op so
	// duplicate scheduling attempts stay idempotent.
	PutJob(ctx context.Context, job Job) error
	// ClaimDueJobs leases up to limit due jobs until now+lease. A job is
	// claimed by at most one caller at a time.
	ClaimDueJobs(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]Job, error)
	// CompleteJob marks a claimed job done.
	CompleteJob(ctx context.Context, job Job) error
	// RetryJob releases a claimed job for another attempt at retryAt.
	RetryJob(ctx context.Context, job Job, retryAt time.Time, lastError string) error
	// FailJob marks a claimed job dead after its attempts are exhausted.
	FailJob(ctx context.Context, job Job, lastError string) error
}

// ListEventsPageRequest describes filters for event history views.
type ListEventsPageRequest struct {
	// TableID scopes the query (required).
	TableID string
	// PageSize is the maximum number of events to return (default 50, max 200).
	PageSize int
	// CursorSeq is the sequence to paginate from (0 for the first page).
	CursorSeq uint64
	// Descending orders results newest first when true.
	Descending bool
	// FilterClause is an optional SQL WHERE fragment produced by ParseEventFilter.
	FilterClause string
	// FilterParams are the positional parameters for the filter clause.
	FilterParams []any
}

// ListEventsPageResult contains one page of event history.
type ListEventsPageResult struct {
	Events      []event.Event
	HasNextPage bool
}

// Store is the composite interface the engine runtime wires.
type Store interface {
	EventStore
	SnapshotStore
	JobStore
	Close() error
}
