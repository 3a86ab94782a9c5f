package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	apperrors "github.com/greenfelt/croupier/internal/platform/errors"
	"github.com/greenfelt/croupier/internal/services/game/domain/card"
	"github.com/greenfelt/croupier/internal/services/game/domain/event"
	"github.com/greenfelt/croupier/internal/services/game/domain/table"
	"github.com/greenfelt/croupier/internal/services/game/eventlog"
	"github.com/greenfelt/croupier/internal/services/game/ledger"
	"github.com/greenfelt/croupier/internal/services/game/projection"
	"github.com/greenfelt/croupier/internal/services/game/rules"
	"github.com/greenfelt/croupier/internal/services/game/storage"
	storagememory "github.com/greenfelt/croupier/internal/services/game/storage/memory"
	streammemory "github.com/greenfelt/croupier/internal/services/game/stream/memory"
)

// scriptedDecks deals a fixed card sequence so every game is deterministic.
type scriptedDecks struct {
	mu    sync.Mutex
	cards []card.Card
}

func newScriptedDecks(t *testing.T, codes ...string) *scriptedDecks {
	t.Helper()
	d := &scriptedDecks{}
	for _, code := range codes {
		parsed, err := card.Parse(code)
		if err != nil {
			t.Fatalf("card.Parse(%q) error = %v", code, err)
		}
		d.cards = append(d.cards, parsed)
	}
	return d
}

func (d *scriptedDecks) NewShoe(ctx context.Context, deckCount int) (string, error) {
	return "shoe-1", nil
}

func (d *scriptedDecks) Draw(ctx context.Context, shoeID string, count int) ([]card.Card, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.cards) < count {
		return nil, apperrors.New(apperrors.CodeDeckUnavailable, "script exhausted")
	}
	dealt := d.cards[:count]
	d.cards = d.cards[count:]
	return dealt, nil
}

type recordingSink struct {
	entries []ledger.Entry
}

func (s *recordingSink) Post(ctx context.Context, entries []ledger.Entry) error {
	s.entries = append(s.entries, entries...)
	return nil
}

type fixture struct {
	engine *Engine
	store  storage.Store
	decks  *scriptedDecks
	sink   *recordingSink
	rules  rules.Rules
	now    time.Time
}

func newFixture(t *testing.T, ruleset rules.Rules, codes ...string) *fixture {
	t.Helper()
	return newFixtureWithStore(t, storagememory.New(event.GameRegistry()), ruleset, codes...)
}

func newFixtureWithStore(t *testing.T, store storage.Store, ruleset rules.Rules, codes ...string) *fixture {
	t.Helper()
	broker := streammemory.New()
	t.Cleanup(func() { _ = broker.Close() })

	f := &fixture{
		store: store,
		decks: newScriptedDecks(t, codes...),
		sink:  &recordingSink{},
		rules: ruleset,
		now:   time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC),
	}
	f.engine = New(
		eventlog.New(store, broker),
		f.decks,
		f.sink,
		ruleset,
		WithNow(func() time.Time { return f.now }),
	)
	return f
}

// runDue claims and dispatches scheduled jobs until nothing is due at f.now.
func (f *fixture) runDue(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	handlers := f.engine.JobHandlers()
	for {
		jobs, err := f.store.ClaimDueJobs(ctx, f.now, 10, time.Minute)
		if err != nil {
			t.Fatalf("ClaimDueJobs() error = %v", err)
		}
		if len(jobs) == 0 {
			return
		}
		for _, job := range jobs {
			handler, ok := handlers[job.Kind]
			if !ok {
				t.Fatalf("no handler registered for job kind %s", job.Kind)
			}
			if err := handler(ctx, job); err != nil {
				t.Fatalf("handle %s job error = %v", job.Kind, err)
			}
			if err := f.store.CompleteJob(ctx, job); err != nil {
				t.Fatalf("CompleteJob(%s) error = %v", job.Kind, err)
			}
		}
	}
}

// deal joins the players, places a 100 stake each, and runs the countdown out.
func (f *fixture) deal(t *testing.T, tableID string, players ...string) {
	t.Helper()
	ctx := context.Background()
	for _, player := range players {
		if _, err := f.engine.Join(ctx, tableID, player); err != nil {
			t.Fatalf("Join(%s) error = %v", player, err)
		}
		if err := f.engine.PlaceBet(ctx, tableID, player, 100); err != nil {
			t.Fatalf("PlaceBet(%s) error = %v", player, err)
		}
	}
	f.now = f.now.Add(f.rules.Countdown)
	f.runDue(t)
}

func (f *fixture) snapshot(t *testing.T, tableID string) table.Table {
	t.Helper()
	state, err := f.engine.Snapshot(context.Background(), tableID)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	return state
}

func (f *fixture) journal(t *testing.T, tableID string) []event.Event {
	t.Helper()
	events, err := f.store.ListEvents(context.Background(), tableID, 0, 1000)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	return events
}

func TestJoinOpensTable(t *testing.T) {
	f := newFixture(t, rules.Default())
	ctx := context.Background()

	result, err := f.engine.Join(ctx, "t1", "p1")
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if !result.Created || result.Seat != 0 {
		t.Fatalf("result = %+v, want created at seat 0", result)
	}
	if result.Table.Generation != 1 || result.Table.Phase != table.PhaseCountdown {
		t.Fatalf("table = %+v, want generation 1 countdown", result.Table)
	}
	if got, want := result.Table.StartingAt, f.now.Add(f.rules.Countdown); !got.Equal(want) {
		t.Fatalf("StartingAt = %v, want %v", got, want)
	}

	jobs, err := f.store.ClaimDueJobs(ctx, result.Table.StartingAt, 10, time.Minute)
	if err != nil {
		t.Fatalf("ClaimDueJobs() error = %v", err)
	}
	if len(jobs) != 1 || jobs[0].Kind != storage.JobDeal || jobs[0].Generation != 1 {
		t.Fatalf("due jobs = %+v, want one deal for generation 1", jobs)
	}
}

func TestJoinValidation(t *testing.T) {
	f := newFixture(t, rules.Default())
	ctx := context.Background()

	if _, err := f.engine.Join(ctx, "", "p1"); apperrors.CodeOf(err) != apperrors.CodeTableIDRequired {
		t.Fatalf("Join without table error = %v, want %s", err, apperrors.CodeTableIDRequired)
	}
	if _, err := f.engine.Join(ctx, "t1", " "); apperrors.CodeOf(err) != apperrors.CodePlayerIDRequired {
		t.Fatalf("Join without player error = %v, want %s", err, apperrors.CodePlayerIDRequired)
	}
}

func TestJoinSeatsInOrder(t *testing.T) {
	f := newFixture(t, rules.Default())
	ctx := context.Background()

	if _, err := f.engine.Join(ctx, "t1", "p1"); err != nil {
		t.Fatalf("Join(p1) error = %v", err)
	}
	result, err := f.engine.Join(ctx, "t1", "p2")
	if err != nil {
		t.Fatalf("Join(p2) error = %v", err)
	}
	if result.Created || result.Seat != 1 {
		t.Fatalf("result = %+v, want seat 1 on existing table", result)
	}

	if _, err := f.engine.Join(ctx, "t1", "p1"); apperrors.CodeOf(err) != apperrors.CodeAlreadyJoined {
		t.Fatalf("rejoin error = %v, want %s", err, apperrors.CodeAlreadyJoined)
	}
}

func TestJoinFullTable(t *testing.T) {
	ruleset := rules.Default()
	ruleset.Seats = 2
	f := newFixture(t, ruleset)
	ctx := context.Background()

	for _, player := range []string{"p1", "p2"} {
		if _, err := f.engine.Join(ctx, "t1", player); err != nil {
			t.Fatalf("Join(%s) error = %v", player, err)
		}
	}
	if _, err := f.engine.Join(ctx, "t1", "p3"); apperrors.CodeOf(err) != apperrors.CodeTableFull {
		t.Fatalf("Join on full table error = %v, want %s", err, apperrors.CodeTableFull)
	}
}

func TestJoinClosesAtCountdownDeadline(t *testing.T) {
	f := newFixture(t, rules.Default())
	ctx := context.Background()

	if _, err := f.engine.Join(ctx, "t1", "p1"); err != nil {
		t.Fatalf("Join(p1) error = %v", err)
	}
	deadline := f.now.Add(f.rules.Countdown)

	f.now = deadline.Add(-time.Nanosecond)
	if _, err := f.engine.Join(ctx, "t1", "p2"); err != nil {
		t.Fatalf("Join just before deadline error = %v", err)
	}

	f.now = deadline
	if _, err := f.engine.Join(ctx, "t1", "p3"); apperrors.CodeOf(err) != apperrors.CodeAlreadyStarted {
		t.Fatalf("Join at deadline error = %v, want %s", err, apperrors.CodeAlreadyStarted)
	}
}

func TestPlaceBet(t *testing.T) {
	f := newFixture(t, rules.Default())
	ctx := context.Background()

	if _, err := f.engine.Join(ctx, "t1", "p1"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if err := f.engine.PlaceBet(ctx, "t1", "p1", 250); err != nil {
		t.Fatalf("PlaceBet() error = %v", err)
	}

	state := f.snapshot(t, "t1")
	bet := state.Seats[0].Hands[0].Bet
	if bet == nil || bet.Amount != 250 || bet.ID == "" {
		t.Fatalf("bet = %+v, want 250 with an id", bet)
	}
}

func TestPlaceBetGuards(t *testing.T) {
	f := newFixture(t, rules.Default())
	ctx := context.Background()

	if err := f.engine.PlaceBet(ctx, "t1", "p1", 100); apperrors.CodeOf(err) != apperrors.CodeNotFound {
		t.Fatalf("bet on missing table error = %v, want %s", err, apperrors.CodeNotFound)
	}

	if _, err := f.engine.Join(ctx, "t1", "p1"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if err := f.engine.PlaceBet(ctx, "t1", "p1", 0); apperrors.CodeOf(err) != apperrors.CodeBetInvalid {
		t.Fatalf("zero bet error = %v, want %s", err, apperrors.CodeBetInvalid)
	}
	if err := f.engine.PlaceBet(ctx, "t1", "ghost", 100); apperrors.CodeOf(err) != apperrors.CodeNotFound {
		t.Fatalf("unseated bet error = %v, want %s", err, apperrors.CodeNotFound)
	}

	f.now = f.now.Add(f.rules.Countdown)
	if err := f.engine.PlaceBet(ctx, "t1", "p1", 100); apperrors.CodeOf(err) != apperrors.CodeAlreadyStarted {
		t.Fatalf("late bet error = %v, want %s", err, apperrors.CodeAlreadyStarted)
	}
}

func TestDealOrderAlternatesRounds(t *testing.T) {
	f := newFixture(t, rules.Default(), "7S", "KS", "QD", "AH", "5C", "9H")
	f.deal(t, "t1", "p1", "p2")

	state := f.snapshot(t, "t1")
	if state.Phase != table.PhasePlaying {
		t.Fatalf("phase = %s, want playing", state.Phase)
	}
	if state.Turn == nil || state.Turn.PlayerID != "p1" || state.Turn.Seat != 0 || state.Turn.Hand != 0 {
		t.Fatalf("turn = %+v, want p1 seat 0 hand 0", state.Turn)
	}
	if got := state.Seats[0].Hands[0].Cards; len(got) != 2 || got[0].Code != "KS" || got[1].Code != "5C" {
		t.Fatalf("p1 cards = %+v, want KS then 5C", got)
	}
	if got := state.Seats[1].Hands[0].Cards; len(got) != 2 || got[0].Code != "QD" || got[1].Code != "9H" {
		t.Fatalf("p2 cards = %+v, want QD then 9H", got)
	}

	// Observers see the hole card slot, never its value.
	if len(state.Dealer.Cards) != 2 || state.Dealer.Cards[0].Card.Code != "7S" {
		t.Fatalf("dealer cards = %+v, want 7S face up first", state.Dealer.Cards)
	}
	if !state.Dealer.Cards[1].Hidden || state.Dealer.Cards[1].Card.Code != "" {
		t.Fatalf("hole card = %+v, want hidden and redacted", state.Dealer.Cards[1])
	}

	// The journal keeps the full hole card for replay.
	events := f.journal(t, "t1")
	wantTypes := []event.Type{
		event.TypeCreated, event.TypeNewDeck, event.TypeBet,
		event.TypeJoined, event.TypeBet,
		event.TypeDrawDealer, event.TypeDraw, event.TypeDraw,
		event.TypeDrawDealer, event.TypeDraw, event.TypeDraw,
		event.TypeStarted, event.TypeTurn,
	}
	if len(events) != len(wantTypes) {
		t.Fatalf("journal has %d events, want %d", len(events), len(wantTypes))
	}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Fatalf("event %d type = %s, want %s", i, events[i].Type, want)
		}
	}
	var hole event.DealerDrawPayload
	if err := event.UnmarshalPayload(events[8], &hole); err != nil {
		t.Fatalf("unmarshal hole payload: %v", err)
	}
	if !hole.Hidden || hole.Card.Code != "AH" {
		t.Fatalf("journal hole = %+v, want hidden AH", hole)
	}
}

func TestDealIgnoresStaleJobs(t *testing.T) {
	f := newFixture(t, rules.Default(), "7S", "KS", "AH", "5C")
	f.deal(t, "t1", "p1")

	before, err := f.store.GetLatestSeq(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetLatestSeq() error = %v", err)
	}

	for _, generation := range []uint64{1, 99} {
		err := f.engine.HandleDeal(context.Background(), storage.Job{
			TableID: "t1", Generation: generation, Kind: storage.JobDeal, Key: "deal",
		})
		if err != nil {
			t.Fatalf("HandleDeal(generation=%d) error = %v", generation, err)
		}
	}

	after, err := f.store.GetLatestSeq(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetLatestSeq() error = %v", err)
	}
	if after != before {
		t.Fatalf("seq moved from %d to %d on stale deals", before, after)
	}
}

func TestHitBustLosesStake(t *testing.T) {
	// Dealer 9+7=16 draws to 18; p1 sits on 15, hits into a king and busts.
	f := newFixture(t, rules.Default(), "9S", "KS", "7H", "5C", "KH", "2C")
	f.deal(t, "t1", "p1")
	ctx := context.Background()

	if err := f.engine.Hit(ctx, "t1", "p1"); err != nil {
		t.Fatalf("Hit() error = %v", err)
	}
	f.runDue(t)

	state := f.snapshot(t, "t1")
	if state.Phase != table.PhaseEnded {
		t.Fatalf("phase = %s, want ended", state.Phase)
	}
	hand := state.Seats[0].Hands[0]
	if !hand.Busted || hand.Result != table.ResultLose {
		t.Fatalf("hand = %+v, want busted lose", hand)
	}
	if score := state.Dealer.Score(); score != 18 {
		t.Fatalf("dealer score = %d, want 18", score)
	}
	if len(f.sink.entries) != 1 || f.sink.entries[0].Amount != 0 || f.sink.entries[0].Result != "lose" {
		t.Fatalf("ledger entries = %+v, want one losing zero", f.sink.entries)
	}
}

func TestStandSettlesAgainstDealer(t *testing.T) {
	// Dealer shows 9 over a 9 hole and stands on 18. Seats finish on 20, 18,
	// and 17: a win, a push, and a loss.
	f := newFixture(t, rules.Default(), "9S", "KS", "QD", "8C", "9H", "KH", "8D", "9C")
	f.deal(t, "t1", "p1", "p2", "p3")
	ctx := context.Background()

	for _, player := range []string{"p1", "p2", "p3"} {
		if err := f.engine.Stand(ctx, "t1", player); err != nil {
			t.Fatalf("Stand(%s) error = %v", player, err)
		}
	}
	f.runDue(t)

	state := f.snapshot(t, "t1")
	if state.Phase != table.PhaseEnded || state.Turn != nil {
		t.Fatalf("state = %+v, want ended with no turn", state)
	}
	wantResults := []table.Result{table.ResultWin, table.ResultTie, table.ResultLose}
	for i, want := range wantResults {
		if got := state.Seats[i].Hands[0].Result; got != want {
			t.Fatalf("seat %d result = %s, want %s", i, got, want)
		}
	}
	if len(f.sink.entries) != 3 {
		t.Fatalf("ledger saw %d entries, want 3", len(f.sink.entries))
	}
	wantPayouts := []int64{200, 100, 0}
	for i, want := range wantPayouts {
		if got := f.sink.entries[i].Amount; got != want {
			t.Fatalf("seat %d payout = %d, want %d", i, got, want)
		}
	}
}

func TestNaturalPaysPremium(t *testing.T) {
	// Ace-king natural against a dealer 19 pays 3 to 2 on a 100 stake.
	f := newFixture(t, rules.Default(), "9S", "AS", "7H", "KD", "3C")
	f.deal(t, "t1", "p1")
	ctx := context.Background()

	if err := f.engine.Stand(ctx, "t1", "p1"); err != nil {
		t.Fatalf("Stand() error = %v", err)
	}
	f.runDue(t)

	state := f.snapshot(t, "t1")
	if got := state.Seats[0].Hands[0].Result; got != table.ResultWin {
		t.Fatalf("result = %s, want win", got)
	}
	if len(f.sink.entries) != 1 || f.sink.entries[0].Amount != 250 {
		t.Fatalf("ledger entries = %+v, want one 250 payout", f.sink.entries)
	}
}

func TestDealerBustPaysSurvivors(t *testing.T) {
	f := newFixture(t, rules.Default(), "9S", "KS", "7H", "9C", "8H")
	f.deal(t, "t1", "p1")
	ctx := context.Background()

	if err := f.engine.Stand(ctx, "t1", "p1"); err != nil {
		t.Fatalf("Stand() error = %v", err)
	}
	f.runDue(t)

	state := f.snapshot(t, "t1")
	if !state.Dealer.Busted {
		t.Fatalf("dealer = %+v, want busted", state.Dealer)
	}
	if got := state.Seats[0].Hands[0].Result; got != table.ResultWin {
		t.Fatalf("result = %s, want win", got)
	}
	if len(f.sink.entries) != 1 || f.sink.entries[0].Amount != 200 {
		t.Fatalf("ledger entries = %+v, want one 200 payout", f.sink.entries)
	}
}

func TestSplitPair(t *testing.T) {
	f := newFixture(t, rules.Default(), "9S", "8S", "7H", "8D", "KH", "QC", "3C")
	f.deal(t, "t1", "p1")
	ctx := context.Background()

	if err := f.engine.Split(ctx, "t1", "p1"); err != nil {
		t.Fatalf("Split() error = %v", err)
	}

	state := f.snapshot(t, "t1")
	hands := state.Seats[0].Hands
	if len(hands) != 2 {
		t.Fatalf("hands = %d, want 2 after split", len(hands))
	}
	if got := hands[0].Cards; len(got) != 2 || got[0].Code != "8S" || got[1].Code != "KH" {
		t.Fatalf("hand 0 cards = %+v, want 8S then the split draw KH", got)
	}
	if got := hands[1].Cards; len(got) != 1 || got[0].Code != "8D" {
		t.Fatalf("hand 1 cards = %+v, want only the moved 8D", got)
	}
	if hands[1].Bet == nil || hands[1].Bet.Amount != 100 || hands[1].Bet.ID == hands[0].Bet.ID {
		t.Fatalf("sibling bet = %+v, want same stake under a new id", hands[1].Bet)
	}

	// Standing the first hand passes to the sibling, which draws on entry.
	if err := f.engine.Stand(ctx, "t1", "p1"); err != nil {
		t.Fatalf("Stand() hand 0 error = %v", err)
	}
	state = f.snapshot(t, "t1")
	if state.Turn == nil || state.Turn.Hand != 1 {
		t.Fatalf("turn = %+v, want hand 1", state.Turn)
	}
	if got := state.Seats[0].Hands[1].Cards; len(got) != 2 || got[1].Code != "QC" {
		t.Fatalf("hand 1 cards = %+v, want entry draw QC", got)
	}

	if err := f.engine.Stand(ctx, "t1", "p1"); err != nil {
		t.Fatalf("Stand() hand 1 error = %v", err)
	}
	f.runDue(t)

	state = f.snapshot(t, "t1")
	if state.Phase != table.PhaseEnded {
		t.Fatalf("phase = %s, want ended", state.Phase)
	}
	// Both 18s lose to the dealer 19; two hands settle separately.
	for i, hand := range state.Seats[0].Hands {
		if hand.Result != table.ResultLose {
			t.Fatalf("hand %d result = %s, want lose", i, hand.Result)
		}
	}
	if len(f.sink.entries) != 2 {
		t.Fatalf("ledger saw %d entries, want 2", len(f.sink.entries))
	}
	if f.sink.entries[0].IdempotencyKey == f.sink.entries[1].IdempotencyKey {
		t.Fatalf("ledger keys collide: %s", f.sink.entries[0].IdempotencyKey)
	}
}

func TestSplitGuards(t *testing.T) {
	t.Run("requires pair", func(t *testing.T) {
		f := newFixture(t, rules.Default(), "9S", "8S", "7H", "9D")
		f.deal(t, "t1", "p1")
		err := f.engine.Split(context.Background(), "t1", "p1")
		if apperrors.CodeOf(err) != apperrors.CodeSplitNotAllowed {
			t.Fatalf("Split() error = %v, want %s", err, apperrors.CodeSplitNotAllowed)
		}
	})

	t.Run("limit reached", func(t *testing.T) {
		// The split draw pairs the first hand again, but one split per seat is
		// the cap.
		f := newFixture(t, rules.Default(), "9S", "8S", "7H", "8D", "8H")
		f.deal(t, "t1", "p1")
		ctx := context.Background()
		if err := f.engine.Split(ctx, "t1", "p1"); err != nil {
			t.Fatalf("first Split() error = %v", err)
		}
		err := f.engine.Split(ctx, "t1", "p1")
		if apperrors.CodeOf(err) != apperrors.CodeSplitNotAllowed {
			t.Fatalf("second Split() error = %v, want %s", err, apperrors.CodeSplitNotAllowed)
		}
	})
}

func TestTurnGuards(t *testing.T) {
	f := newFixture(t, rules.Default(), "7S", "KS", "QD", "AH", "5C", "9H")
	ctx := context.Background()

	if _, err := f.engine.Join(ctx, "t1", "p1"); err != nil {
		t.Fatalf("Join(p1) error = %v", err)
	}
	if err := f.engine.Hit(ctx, "t1", "p1"); apperrors.CodeOf(err) != apperrors.CodeGameNotStarted {
		t.Fatalf("Hit before deal error = %v, want %s", err, apperrors.CodeGameNotStarted)
	}
	if err := f.engine.Stand(ctx, "missing", "p1"); apperrors.CodeOf(err) != apperrors.CodeNotFound {
		t.Fatalf("Stand on missing table error = %v, want %s", err, apperrors.CodeNotFound)
	}
	if err := f.engine.Hit(ctx, "t1", ""); apperrors.CodeOf(err) != apperrors.CodePlayerIDRequired {
		t.Fatalf("Hit without player error = %v, want %s", err, apperrors.CodePlayerIDRequired)
	}

	f.deal(t, "t1", "p2")
	if err := f.engine.Hit(ctx, "t1", "p2"); apperrors.CodeOf(err) != apperrors.CodeNotYourTurn {
		t.Fatalf("Hit out of turn error = %v, want %s", err, apperrors.CodeNotYourTurn)
	}
}

func TestTurnTimeoutAutoStands(t *testing.T) {
	f := newFixture(t, rules.Default(), "9S", "KS", "7H", "9C", "8H")
	f.deal(t, "t1", "p1")

	// The player never acts; the timeout stands the hand and the dealer
	// resolves the table in the same sweep.
	f.now = f.now.Add(f.rules.TurnTimeout)
	f.runDue(t)

	state := f.snapshot(t, "t1")
	if state.Phase != table.PhaseEnded {
		t.Fatalf("phase = %s, want ended after timeout", state.Phase)
	}
	if got := state.Seats[0].Hands[0].Result; got != table.ResultWin {
		t.Fatalf("result = %s, want win against busted dealer", got)
	}

	// A late duplicate of the same timeout finds the table ended and no-ops.
	err := f.engine.HandleTurnTimeout(context.Background(), storage.Job{
		TableID: "t1", Generation: 1, Kind: storage.JobTurnTimeout, Key: "seat-0-hand-0",
	})
	if err != nil {
		t.Fatalf("stale HandleTurnTimeout() error = %v", err)
	}
}

func TestTimeoutForActedHandIsNoOp(t *testing.T) {
	// Two seats; p1 stands before their timeout fires. The p1 timeout job must
	// not stand p2's hand.
	f := newFixture(t, rules.Default(), "9S", "KS", "QD", "9H", "KH", "8D")
	f.deal(t, "t1", "p1", "p2")
	ctx := context.Background()

	if err := f.engine.Stand(ctx, "t1", "p1"); err != nil {
		t.Fatalf("Stand(p1) error = %v", err)
	}
	err := f.engine.HandleTurnTimeout(ctx, storage.Job{
		TableID: "t1", Generation: 1, Kind: storage.JobTurnTimeout, Key: "seat-0-hand-0",
	})
	if err != nil {
		t.Fatalf("HandleTurnTimeout() error = %v", err)
	}

	state := f.snapshot(t, "t1")
	if state.Turn == nil || state.Turn.PlayerID != "p2" {
		t.Fatalf("turn = %+v, want still p2", state.Turn)
	}
}

func TestReplayReproducesSnapshot(t *testing.T) {
	f := newFixture(t, rules.Default(), "9S", "KS", "QD", "8C", "9H", "KH", "8D", "9C")
	f.deal(t, "t1", "p1", "p2", "p3")
	ctx := context.Background()

	for _, player := range []string{"p1", "p2", "p3"} {
		if err := f.engine.Stand(ctx, "t1", player); err != nil {
			t.Fatalf("Stand(%s) error = %v", player, err)
		}
	}
	f.runDue(t)

	proj := projection.New()
	for _, evt := range f.journal(t, "t1") {
		if err := proj.Apply(evt); err != nil {
			t.Fatalf("Apply(%s@%d) error = %v", evt.Type, evt.Seq, err)
		}
	}
	view, ok := proj.View("t1")
	if !ok {
		t.Fatal("projection has no view for t1")
	}

	record, err := f.store.GetLatestSnapshot(ctx, "t1")
	if err != nil {
		t.Fatalf("GetLatestSnapshot() error = %v", err)
	}
	if view.Seq != record.Seq {
		t.Fatalf("view seq = %d, want %d", view.Seq, record.Seq)
	}
	folded, err := json.Marshal(view.Table)
	if err != nil {
		t.Fatalf("marshal folded state: %v", err)
	}
	if !bytes.Equal(folded, record.StateJSON) {
		t.Fatalf("replayed state diverges from snapshot:\nfolded:   %s\nsnapshot: %s", folded, record.StateJSON)
	}
}

// flakyStore fails a fixed number of appends with a sequence conflict so
// tests can drive the engine through exhausted commit retries.
type flakyStore struct {
	*storagememory.Store
	mu       sync.Mutex
	failures int
}

func (s *flakyStore) AppendEvents(ctx context.Context, req storage.AppendRequest) ([]event.Event, error) {
	s.mu.Lock()
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return nil, storage.ErrConflict
	}
	return s.Store.AppendEvents(ctx, req)
}

func TestFailedStandSchedulesNoDealerJob(t *testing.T) {
	// Dealer stands on 18, p1 holds 19. The first stand exhausts its commit
	// retries; the table must still be playable and the dealer job must only
	// exist once a stand actually commits.
	store := &flakyStore{Store: storagememory.New(event.GameRegistry())}
	f := newFixtureWithStore(t, store, rules.Default(), "9S", "KS", "9H", "9C")
	f.deal(t, "t1", "p1")
	ctx := context.Background()

	store.mu.Lock()
	store.failures = commitMaxRetries
	store.mu.Unlock()
	err := f.engine.Stand(ctx, "t1", "p1")
	if code := apperrors.CodeOf(err); code != apperrors.CodeConflict {
		t.Fatalf("Stand() error = %v, want code %s", err, apperrors.CodeConflict)
	}

	// A scheduler sweep landing in this window must find nothing to claim;
	// a dealer job consumed here would burn its key while the table is
	// still in the playing phase.
	jobs, err := f.store.ClaimDueJobs(ctx, f.now, 10, time.Minute)
	if err != nil {
		t.Fatalf("ClaimDueJobs() error = %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("claimed %d jobs after failed stand, want 0", len(jobs))
	}

	if err := f.engine.Stand(ctx, "t1", "p1"); err != nil {
		t.Fatalf("Stand() retry error = %v", err)
	}
	f.runDue(t)

	state := f.snapshot(t, "t1")
	if state.Phase != table.PhaseEnded || state.Turn != nil {
		t.Fatalf("state = %+v, want ended with no turn", state)
	}
	if got := state.Seats[0].Hands[0].Result; got != table.ResultWin {
		t.Fatalf("result = %s, want win", got)
	}
}

// snapshotlessStore drops every snapshot read so state loads always fall
// back to the journal.
type snapshotlessStore struct {
	*storagememory.Store
}

func (s *snapshotlessStore) GetLatestSnapshot(ctx context.Context, tableID string) (storage.SnapshotRecord, error) {
	return storage.SnapshotRecord{}, storage.ErrNotFound
}

func TestMissingSnapshotRebuildsFromJournal(t *testing.T) {
	store := &snapshotlessStore{Store: storagememory.New(event.GameRegistry())}
	f := newFixtureWithStore(t, store, rules.Default(), "9S", "KS", "9H", "9C")
	f.deal(t, "t1", "p1")
	ctx := context.Background()

	state := f.snapshot(t, "t1")
	if state.Phase != table.PhasePlaying {
		t.Fatalf("phase = %s, want playing", state.Phase)
	}
	if got := len(state.Seats[0].Hands[0].Cards); got != 2 {
		t.Fatalf("seat 0 has %d cards, want 2", got)
	}

	if err := f.engine.Stand(ctx, "t1", "p1"); err != nil {
		t.Fatalf("Stand() error = %v", err)
	}
	f.runDue(t)

	state = f.snapshot(t, "t1")
	if state.Phase != table.PhaseEnded {
		t.Fatalf("phase = %s, want ended", state.Phase)
	}
	if got := state.Seats[0].Hands[0].Result; got != table.ResultWin {
		t.Fatalf("result = %s, want win", got)
	}
}
