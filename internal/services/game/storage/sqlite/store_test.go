package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/greenfelt/croupier/internal/services/game/domain/event"
	"github.com/greenfelt/croupier/internal/services/game/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "journal.db"), event.GameRegistry())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAppendEventsAssignsContiguousSeqs(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	appended, err := store.AppendEvents(ctx, storage.AppendRequest{
		TableID:     "tbl-1",
		ExpectedSeq: 0,
		Events: []event.Event{
			{Type: event.TypeCreated, ActorType: event.ActorTypePlayer, ActorID: "p1", PayloadJSON: []byte(`{}`)},
			{Type: event.TypeJoined, ActorType: event.ActorTypePlayer, ActorID: "p2", PayloadJSON: []byte(`{}`)},
		},
		Snapshot: storage.SnapshotRecord{StateJSON: []byte(`{"phase":"countdown"}`)},
	})
	if err != nil {
		t.Fatalf("AppendEvents() error = %v", err)
	}
	if len(appended) != 2 {
		t.Fatalf("appended %d events, want 2", len(appended))
	}
	if appended[0].Seq != 1 || appended[1].Seq != 2 {
		t.Fatalf("seqs = %d, %d, want 1, 2", appended[0].Seq, appended[1].Seq)
	}

	seq, err := store.GetLatestSeq(ctx, "tbl-1")
	if err != nil {
		t.Fatalf("GetLatestSeq() error = %v", err)
	}
	if seq != 2 {
		t.Fatalf("GetLatestSeq() = %d, want 2", seq)
	}
}

func TestAppendEventsRejectsStaleExpectedSeq(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := storage.AppendRequest{
		TableID:     "tbl-1",
		ExpectedSeq: 0,
		Events: []event.Event{
			{Type: event.TypeCreated, ActorType: event.ActorTypePlayer, ActorID: "p1", PayloadJSON: []byte(`{}`)},
		},
		Snapshot: storage.SnapshotRecord{StateJSON: []byte(`{}`)},
	}
	if _, err := store.AppendEvents(ctx, base); err != nil {
		t.Fatalf("AppendEvents() error = %v", err)
	}

	_, err := store.AppendEvents(ctx, base)
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("AppendEvents() error = %v, want ErrConflict", err)
	}

	seq, err := store.GetLatestSeq(ctx, "tbl-1")
	if err != nil {
		t.Fatalf("GetLatestSeq() error = %v", err)
	}
	if seq != 1 {
		t.Fatalf("GetLatestSeq() after conflict = %d, want 1", seq)
	}
}

func TestAppendEventsUpsertsSnapshot(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.AppendEvents(ctx, storage.AppendRequest{
		TableID:     "tbl-1",
		ExpectedSeq: 0,
		Events: []event.Event{
			{Type: event.TypeCreated, ActorType: event.ActorTypePlayer, ActorID: "p1", PayloadJSON: []byte(`{}`)},
		},
		Snapshot: storage.SnapshotRecord{Generation: 1, StateJSON: []byte(`{"v":1}`)},
	}); err != nil {
		t.Fatalf("AppendEvents() error = %v", err)
	}
	if _, err := store.AppendEvents(ctx, storage.AppendRequest{
		TableID:     "tbl-1",
		ExpectedSeq: 1,
		Events: []event.Event{
			{Type: event.TypeJoined, ActorType: event.ActorTypePlayer, ActorID: "p2", PayloadJSON: []byte(`{}`)},
		},
		Snapshot: storage.SnapshotRecord{Generation: 1, StateJSON: []byte(`{"v":2}`)},
	}); err != nil {
		t.Fatalf("AppendEvents() error = %v", err)
	}

	snapshot, err := store.GetLatestSnapshot(ctx, "tbl-1")
	if err != nil {
		t.Fatalf("GetLatestSnapshot() error = %v", err)
	}
	if snapshot.Seq != 2 {
		t.Fatalf("snapshot.Seq = %d, want 2", snapshot.Seq)
	}
	if string(snapshot.StateJSON) != `{"v":2}` {
		t.Fatalf("snapshot.StateJSON = %s, want {\"v\":2}", snapshot.StateJSON)
	}
}

func TestGetLatestSnapshotUnknownTable(t *testing.T) {
	store := openTestStore(t)

	_, err := store.GetLatestSnapshot(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetLatestSnapshot() error = %v, want ErrNotFound", err)
	}
}

func TestListEventsPageFiltersAndPaginates(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	events := []event.Event{
		{Type: event.TypeCreated, ActorType: event.ActorTypePlayer, ActorID: "p1", PayloadJSON: []byte(`{}`)},
		{Type: event.TypeJoined, ActorType: event.ActorTypePlayer, ActorID: "p2", PayloadJSON: []byte(`{}`)},
		{Type: event.TypeStarted, PayloadJSON: []byte(`{}`)},
		{Type: event.TypeDraw, PayloadJSON: []byte(`{}`)},
	}
	if _, err := store.AppendEvents(ctx, storage.AppendRequest{
		TableID:  "tbl-1",
		Events:   events,
		Snapshot: storage.SnapshotRecord{StateJSON: []byte(`{}`)},
	}); err != nil {
		t.Fatalf("AppendEvents() error = %v", err)
	}

	condition, err := storage.ParseEventFilter(`actor_type = "player"`)
	if err != nil {
		t.Fatalf("ParseEventFilter() error = %v", err)
	}
	result, err := store.ListEventsPage(ctx, storage.ListEventsPageRequest{
		TableID:      "tbl-1",
		PageSize:     1,
		FilterClause: condition.Clause,
		FilterParams: condition.Params,
	})
	if err != nil {
		t.Fatalf("ListEventsPage() error = %v", err)
	}
	if len(result.Events) != 1 {
		t.Fatalf("page has %d events, want 1", len(result.Events))
	}
	if result.Events[0].Type != event.TypeCreated {
		t.Fatalf("first event = %s, want %s", result.Events[0].Type, event.TypeCreated)
	}
	if !result.HasNextPage {
		t.Fatal("HasNextPage = false, want true")
	}

	next, err := store.ListEventsPage(ctx, storage.ListEventsPageRequest{
		TableID:      "tbl-1",
		PageSize:     10,
		CursorSeq:    result.Events[0].Seq,
		FilterClause: condition.Clause,
		FilterParams: condition.Params,
	})
	if err != nil {
		t.Fatalf("ListEventsPage() error = %v", err)
	}
	if len(next.Events) != 1 || next.Events[0].Type != event.TypeJoined {
		t.Fatalf("second page = %+v, want single joined event", next.Events)
	}
	if next.HasNextPage {
		t.Fatal("HasNextPage = true on final page")
	}
}

func TestClaimDueJobsLeasesOnce(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	job := storage.Job{
		TableID:    "tbl-1",
		Generation: 1,
		Kind:       storage.JobDeal,
		Key:        "deal",
		FireAt:     now.Add(-time.Second),
	}
	if err := store.PutJob(ctx, job); err != nil {
		t.Fatalf("PutJob() error = %v", err)
	}
	// Idempotent re-schedule must not reset the job.
	if err := store.PutJob(ctx, job); err != nil {
		t.Fatalf("PutJob() repeat error = %v", err)
	}

	claimed, err := store.ClaimDueJobs(ctx, now, 10, time.Minute)
	if err != nil {
		t.Fatalf("ClaimDueJobs() error = %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed %d jobs, want 1", len(claimed))
	}
	if claimed[0].Attempts != 1 {
		t.Fatalf("Attempts = %d, want 1", claimed[0].Attempts)
	}

	again, err := store.ClaimDueJobs(ctx, now, 10, time.Minute)
	if err != nil {
		t.Fatalf("ClaimDueJobs() error = %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("claimed %d jobs while leased, want 0", len(again))
	}

	// An expired lease is reclaimable.
	expired, err := store.ClaimDueJobs(ctx, now.Add(2*time.Minute), 10, time.Minute)
	if err != nil {
		t.Fatalf("ClaimDueJobs() error = %v", err)
	}
	if len(expired) != 1 {
		t.Fatalf("claimed %d jobs after lease expiry, want 1", len(expired))
	}
	if expired[0].Attempts != 2 {
		t.Fatalf("Attempts after reclaim = %d, want 2", expired[0].Attempts)
	}
}

func TestJobTransitions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	job := storage.Job{
		TableID:    "tbl-1",
		Generation: 1,
		Kind:       storage.JobSpin,
		Key:        "spin",
		FireAt:     now.Add(-time.Second),
	}
	if err := store.PutJob(ctx, job); err != nil {
		t.Fatalf("PutJob() error = %v", err)
	}
	claimed, err := store.ClaimDueJobs(ctx, now, 1, time.Minute)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimDueJobs() = %v, %v", claimed, err)
	}

	if err := store.RetryJob(ctx, claimed[0], now.Add(time.Second), "deck unavailable"); err != nil {
		t.Fatalf("RetryJob() error = %v", err)
	}
	if jobs, _ := store.ClaimDueJobs(ctx, now, 1, time.Minute); len(jobs) != 0 {
		t.Fatal("retried job claimable before its retry time")
	}
	retried, err := store.ClaimDueJobs(ctx, now.Add(2*time.Second), 1, time.Minute)
	if err != nil || len(retried) != 1 {
		t.Fatalf("ClaimDueJobs() after retry = %v, %v", retried, err)
	}

	if err := store.CompleteJob(ctx, retried[0]); err != nil {
		t.Fatalf("CompleteJob() error = %v", err)
	}
	if jobs, _ := store.ClaimDueJobs(ctx, now.Add(time.Hour), 1, time.Minute); len(jobs) != 0 {
		t.Fatal("completed job was claimed again")
	}

	if err := store.CompleteJob(ctx, storage.Job{TableID: "missing", Kind: storage.JobSpin, Key: "spin"}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("CompleteJob(missing) error = %v, want ErrNotFound", err)
	}
}

func TestAppendEventsInsertsJobsAtomically(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	base := storage.AppendRequest{
		TableID:     "tbl-1",
		ExpectedSeq: 0,
		Events: []event.Event{
			{Type: event.TypeCreated, ActorType: event.ActorTypePlayer, ActorID: "p1", PayloadJSON: []byte(`{}`)},
		},
		Snapshot: storage.SnapshotRecord{StateJSON: []byte(`{}`)},
		Jobs: []storage.Job{
			{TableID: "tbl-1", Generation: 1, Kind: storage.JobDealer, Key: "dealer", FireAt: now.Add(-time.Second)},
		},
	}
	if _, err := store.AppendEvents(ctx, base); err != nil {
		t.Fatalf("AppendEvents() error = %v", err)
	}

	// The job from a conflicted append must be rolled back with the events.
	lost := base
	lost.Jobs = []storage.Job{
		{TableID: "tbl-1", Generation: 1, Kind: storage.JobTurnTimeout, Key: "seat-0-hand-0", FireAt: now.Add(-time.Second)},
	}
	if _, err := store.AppendEvents(ctx, lost); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("AppendEvents() error = %v, want ErrConflict", err)
	}

	claimed, err := store.ClaimDueJobs(ctx, now, 10, time.Minute)
	if err != nil {
		t.Fatalf("ClaimDueJobs() error = %v", err)
	}
	if len(claimed) != 1 || claimed[0].Kind != storage.JobDealer {
		t.Fatalf("claimed = %+v, want only the dealer job", claimed)
	}
}
