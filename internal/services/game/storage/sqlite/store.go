// Package sqlite provides the SQLite-backed journal, snapshot, and job stores.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/greenfelt/croupier/internal/platform/storage/sqlitemigrate"
	"github.com/greenfelt/croupier/internal/services/game/domain/event"
	"github.com/greenfelt/croupier/internal/services/game/storage"
	"github.com/greenfelt/croupier/internal/services/game/storage/sqlite/migrations"
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis reverses toMillis for persisted millisecond timestamps.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func toNullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func fromNullMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

// Store provides a SQLite-backed store implementing all storage interfaces.
type Store struct {
	sqlDB    *sql.DB
	registry *event.Registry
}

// Open opens the journal store at the provided path and applies embedded
// migrations. Appended events are validated against registry.
func Open(path string, registry *event.Registry) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, "."); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{sqlDB: sqlDB, registry: registry}, nil
}

// Close closes the underlying SQLite database.
//
// Close is intentionally nil-safe so callers can defer it in all startup paths.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// AppendEvents appends events, upserts the snapshot, and inserts any
// scheduled jobs in one transaction. The expected-sequence check and the
// inserts share the transaction, so a concurrent writer on the same table
// loses with storage.ErrConflict and retries on a fresh read, and a job is
// only ever visible alongside the phase transition that scheduled it.
func (s *Store) AppendEvents(ctx context.Context, req storage.AppendRequest) ([]event.Event, error) {
	tableID := strings.TrimSpace(req.TableID)
	if tableID == "" {
		return nil, storage.ErrNotFound
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentSeq uint64
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events WHERE table_id = ?`, tableID)
	if err := row.Scan(&currentSeq); err != nil {
		return nil, fmt.Errorf("read latest seq: %w", err)
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

		_, err := tx.ExecContext(ctx, `
INSERT INTO events (table_id, seq, generation, event_type, actor_type, actor_id, payload, timestamp)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			evt.TableID, evt.Seq, evt.Generation, string(evt.Type),
			string(evt.ActorType), evt.ActorID, string(evt.PayloadJSON), toMillis(evt.Timestamp))
		if err != nil {
			return nil, fmt.Errorf("insert event: %w", err)
		}
		appended = append(appended, evt)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO snapshots (table_id, seq, generation, state, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(table_id) DO UPDATE SET
    seq = excluded.seq,
    generation = excluded.generation,
    state = excluded.state,
    updated_at = excluded.updated_at`,
		tableID, seq, req.Snapshot.Generation, string(req.Snapshot.StateJSON), toMillis(time.Now()))
	if err != nil {
		return nil, fmt.Errorf("upsert snapshot: %w", err)
	}

	for _, job := range req.Jobs {
		_, err = tx.ExecContext(ctx, `
INSERT INTO jobs (table_id, generation, kind, key, fire_at, status, attempts, leased_until, last_error)
VALUES (?, ?, ?, ?, ?, 'pending', 0, NULL, '')
ON CONFLICT(table_id, generation, kind, key) DO NOTHING`,
			job.TableID, job.Generation, string(job.Kind), job.Key, toMillis(job.FireAt))
		if err != nil {
			return nil, fmt.Errorf("insert job: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append tx: %w", err)
	}
	return appended, nil
}

// ListEvents returns events with seq greater than afterSeq in ascending order.
func (s *Store) ListEvents(ctx context.Context, tableID string, afterSeq uint64, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT table_id, seq, generation, event_type, actor_type, actor_id, payload, timestamp
FROM events
WHERE table_id = ? AND seq > ?
ORDER BY seq ASC
LIMIT ?`, tableID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetLatestSeq returns the highest appended sequence, 0 for an unknown table.
func (s *Store) GetLatestSeq(ctx context.Context, tableID string) (uint64, error) {
	var seq uint64
	row := s.sqlDB.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events WHERE table_id = ?`, tableID)
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("read latest seq: %w", err)
	}
	return seq, nil
}

// ListEventsPage returns a filtered, cursor-paginated slice of the journal.
func (s *Store) ListEventsPage(ctx context.Context, req storage.ListEventsPageRequest) (storage.ListEventsPageResult, error) {
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	var sb strings.Builder
	sb.WriteString(`
SELECT table_id, seq, generation, event_type, actor_type, actor_id, payload, timestamp
FROM events
WHERE table_id = ?`)
	params := []any{req.TableID}

	if req.CursorSeq > 0 {
		if req.Descending {
			sb.WriteString(" AND seq < ?")
		} else {
			sb.WriteString(" AND seq > ?")
		}
		params = append(params, req.CursorSeq)
	}
	if clause := strings.TrimSpace(req.FilterClause); clause != "" {
		sb.WriteString(" AND (")
		sb.WriteString(clause)
		sb.WriteString(")")
		params = append(params, req.FilterParams...)
	}
	if req.Descending {
		sb.WriteString(" ORDER BY seq DESC")
	} else {
		sb.WriteString(" ORDER BY seq ASC")
	}
	sb.WriteString(" LIMIT ?")
	params = append(params, pageSize+1)

	rows, err := s.sqlDB.QueryContext(ctx, sb.String(), params...)
	if err != nil {
		return storage.ListEventsPageResult{}, fmt.Errorf("list events page: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return storage.ListEventsPageResult{}, err
	}

	result := storage.ListEventsPageResult{Events: events}
	if len(events) > pageSize {
		result.Events = events[:pageSize]
		result.HasNextPage = true
	}
	return result, nil
}

func scanEvents(rows *sql.Rows) ([]event.Event, error) {
	var events []event.Event
	for rows.Next() {
		var evt event.Event
		var eventType, actorType, payload string
		var ts int64
		if err := rows.Scan(&evt.TableID, &evt.Seq, &evt.Generation, &eventType, &actorType, &evt.ActorID, &payload, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt.Type = event.Type(eventType)
		evt.ActorType = event.ActorType(actorType)
		evt.PayloadJSON = []byte(payload)
		evt.Timestamp = fromMillis(ts)
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return events, nil
}

// GetLatestSnapshot returns the stored snapshot for the table.
func (s *Store) GetLatestSnapshot(ctx context.Context, tableID string) (storage.SnapshotRecord, error) {
	var record storage.SnapshotRecord
	var state string
	var updatedAt int64
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT table_id, seq, generation, state, updated_at FROM snapshots WHERE table_id = ?`, tableID)
	err := row.Scan(&record.TableID, &record.Seq, &record.Generation, &state, &updatedAt)
	if err == sql.ErrNoRows {
		return storage.SnapshotRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.SnapshotRecord{}, fmt.Errorf("read snapshot: %w", err)
	}
	record.StateJSON = []byte(state)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}

// PutJob inserts the job if its key is new. Re-inserting an existing key is a
// no-op, which makes scheduling idempotent across engine retries.
func (s *Store) PutJob(ctx context.Context, job storage.Job) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO jobs (table_id, generation, kind, key, fire_at, status, attempts, leased_until, last_error)
VALUES (?, ?, ?, ?, ?, 'pending', 0, NULL, '')
ON CONFLICT(table_id, generation, kind, key) DO NOTHING`,
		job.TableID, job.Generation, string(job.Kind), job.Key, toMillis(job.FireAt))
	if err != nil {
		return fmt.Errorf("put job: %w", err)
	}
	return nil
}

// ClaimDueJobs leases up to limit due jobs. A job is due when pending with
// fire_at in the past, or leased with an expired lease. Each claim bumps the
// attempt counter under the same conditional update that takes the lease, so
// two pollers cannot both claim one job.
func (s *Store) ClaimDueJobs(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]storage.Job, error) {
	if limit <= 0 {
		limit = 10
	}
	nowMillis := toMillis(now)

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT table_id, generation, kind, key, fire_at, status, attempts, leased_until, last_error
FROM jobs
WHERE (status = 'pending' AND fire_at <= ?)
   OR (status = 'leased' AND leased_until IS NOT NULL AND leased_until <= ?)
ORDER BY fire_at ASC
LIMIT ?`, nowMillis, nowMillis, limit)
	if err != nil {
		return nil, fmt.Errorf("list due jobs: %w", err)
	}
	candidates, err := scanJobs(rows)
	if err != nil {
		return nil, err
	}

	leasedUntil := now.Add(lease)
	var claimed []storage.Job
	for _, job := range candidates {
		res, err := s.sqlDB.ExecContext(ctx, `
UPDATE jobs
SET status = 'leased', leased_until = ?, attempts = attempts + 1
WHERE table_id = ? AND generation = ? AND kind = ? AND key = ?
  AND ((status = 'pending' AND fire_at <= ?)
   OR (status = 'leased' AND leased_until IS NOT NULL AND leased_until <= ?))`,
			toMillis(leasedUntil), job.TableID, job.Generation, string(job.Kind), job.Key, nowMillis, nowMillis)
		if err != nil {
			return nil, fmt.Errorf("claim job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("claim job result: %w", err)
		}
		if affected != 1 {
			continue
		}
		job.Status = storage.JobStatusLeased
		job.LeasedUntil = &leasedUntil
		job.Attempts++
		claimed = append(claimed, job)
	}
	return claimed, nil
}

// CompleteJob marks the job done and drops its lease.
func (s *Store) CompleteJob(ctx context.Context, job storage.Job) error {
	return s.transition(ctx, job, storage.JobStatusDone, nil, "")
}

// RetryJob returns the job to pending with a new fire time.
func (s *Store) RetryJob(ctx context.Context, job storage.Job, retryAt time.Time, lastError string) error {
	return s.transition(ctx, job, storage.JobStatusPending, &retryAt, lastError)
}

// FailJob parks the job permanently after the handler gave up.
func (s *Store) FailJob(ctx context.Context, job storage.Job, lastError string) error {
	return s.transition(ctx, job, storage.JobStatusDead, nil, lastError)
}

func (s *Store) transition(ctx context.Context, job storage.Job, status storage.JobStatus, fireAt *time.Time, lastError string) error {
	query := `UPDATE jobs SET status = ?, leased_until = NULL, last_error = ?`
	params := []any{string(status), lastError}
	if fireAt != nil {
		query += `, fire_at = ?`
		params = append(params, toMillis(*fireAt))
	}
	query += ` WHERE table_id = ? AND generation = ? AND kind = ? AND key = ?`
	params = append(params, job.TableID, job.Generation, string(job.Kind), job.Key)

	res, err := s.sqlDB.ExecContext(ctx, query, params...)
	if err != nil {
		return fmt.Errorf("transition job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition job result: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanJobs(rows *sql.Rows) ([]storage.Job, error) {
	defer rows.Close()
	var jobs []storage.Job
	for rows.Next() {
		var job storage.Job
		var kind, status string
		var fireAt int64
		var leasedUntil sql.NullInt64
		if err := rows.Scan(&job.TableID, &job.Generation, &kind, &job.Key, &fireAt, &status, &job.Attempts, &leasedUntil, &job.LastError); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		job.Kind = storage.JobKind(kind)
		job.Status = storage.JobStatus(status)
		job.FireAt = fromMillis(fireAt)
		job.LeasedUntil = fromNullMillis(leasedUntil)
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read jobs: %w", err)
	}
	return jobs, nil
}
