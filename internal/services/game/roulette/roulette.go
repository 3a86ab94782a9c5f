// Package roulette runs the single-zero wheel on the same journal primitives
// as the blackjack engine: one journal per wheel, snapshot-commit under an
// expected sequence, and a durable generation-keyed spin job.
package roulette

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/greenfelt/croupier/internal/platform/errors"
	"github.com/greenfelt/croupier/internal/platform/id"
	"github.com/greenfelt/croupier/internal/platform/random"
	"github.com/greenfelt/croupier/internal/services/game/domain/event"
	"github.com/greenfelt/croupier/internal/services/game/domain/roulette"
	"github.com/greenfelt/croupier/internal/services/game/eventlog"
	"github.com/greenfelt/croupier/internal/services/game/ledger"
	"github.com/greenfelt/croupier/internal/services/game/rules"
	"github.com/greenfelt/croupier/internal/services/game/storage"
)

const commitMaxRetries = 3

// Engine coordinates roulette wheels over a shared journal. The spin job
// travels inside the journal append, so the engine needs no direct job store
// handle.
type Engine struct {
	log   *eventlog.Log
	sink  ledger.Sink
	rules rules.Rules

	now    func() time.Time
	spin   func() int
	tracer trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithNow overrides the engine clock.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSpin overrides the wheel, for deterministic tests.
func WithSpin(spin func() int) Option {
	return func(e *Engine) { e.spin = spin }
}

// New returns an Engine over log settling through sink.
func New(log *eventlog.Log, sink ledger.Sink, ruleset rules.Rules, opts ...Option) *Engine {
	e := &Engine{
		log:    log,
		sink:   sink,
		rules:  ruleset,
		now:    func() time.Time { return time.Now().UTC() },
		tracer: otel.Tracer("croupier/roulette"),
	}
	e.spin = func() int {
		seed, err := random.NewSeed()
		if err != nil {
			seed = time.Now().UnixNano()
		}
		return rand.New(rand.NewSource(seed)).Intn(roulette.Pockets)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BetRequest places one wager on a wheel.
type BetRequest struct {
	WheelID  string
	PlayerID string
	Kind     roulette.BetKind
	// Pick is the pocket for straight bets, ignored otherwise.
	Pick   int
	Amount int64
}

// PlaceBet records a wager. The first bet on an idle wheel opens a new round
// and schedules its spin at the end of the betting window.
func (e *Engine) PlaceBet(ctx context.Context, req BetRequest) (roulette.Round, error) {
	ctx, span := e.tracer.Start(ctx, "roulette.PlaceBet")
	defer span.End()

	req.WheelID = strings.TrimSpace(req.WheelID)
	req.PlayerID = strings.TrimSpace(req.PlayerID)
	if req.WheelID == "" {
		return roulette.Round{}, apperrors.New(apperrors.CodeTableIDRequired, "wheel id is required")
	}
	if req.PlayerID == "" {
		return roulette.Round{}, apperrors.New(apperrors.CodePlayerIDRequired, "player id is required")
	}
	if req.Amount <= 0 {
		return roulette.Round{}, apperrors.New(apperrors.CodeBetInvalid, "bet amount must be positive")
	}
	if !req.Kind.IsValid() {
		return roulette.Round{}, apperrors.New(apperrors.CodeBetKindInvalid, "unknown bet kind")
	}
	if req.Kind == roulette.KindStraight && (req.Pick < 0 || req.Pick >= roulette.Pockets) {
		return roulette.Round{}, apperrors.New(apperrors.CodeBetInvalid, "straight pick out of range")
	}

	var result roulette.Round
	err := e.commit(ctx, req.WheelID, func(state *roulette.Round, seq uint64) (*roulette.Round, []event.Event, []storage.Job, error) {
		now := e.now()

		var next roulette.Round
		var events []event.Event
		var jobs []storage.Job

		if state == nil || state.Ended() {
			generation := uint64(1)
			if state != nil {
				generation = state.Generation + 1
			}
			next = roulette.Round{
				ID:         req.WheelID,
				Generation: generation,
				CreatedAt:  now,
				SpinAt:     now.Add(e.rules.RouletteBetting),
				Phase:      roulette.PhaseBetting,
			}
			createdPayload, err := event.MarshalPayload(event.RoundCreatedPayload{
				PlayerID:  req.PlayerID,
				CreatedAt: now,
				SpinAt:    next.SpinAt,
			})
			if err != nil {
				return nil, nil, nil, err
			}
			events = append(events, event.Event{
				TableID:     req.WheelID,
				Generation:  generation,
				Type:        event.TypeCreated,
				ActorType:   event.ActorTypePlayer,
				ActorID:     req.PlayerID,
				PayloadJSON: createdPayload,
			})
			jobs = append(jobs, storage.Job{
				TableID:    req.WheelID,
				Generation: generation,
				Kind:       storage.JobSpin,
				Key:        "spin",
				FireAt:     next.SpinAt,
			})
		} else {
			if !state.BettingOpen(now) {
				return nil, nil, nil, apperrors.New(apperrors.CodeBettingClosed, "wheel is spinning")
			}
			next = state.Clone()
		}

		betID, err := id.NewID()
		if err != nil {
			return nil, nil, nil, err
		}
		bet := roulette.Bet{
			ID:       betID,
			PlayerID: req.PlayerID,
			Kind:     req.Kind,
			Amount:   req.Amount,
		}
		if req.Kind == roulette.KindStraight {
			bet.Pick = req.Pick
		}
		next.Bets = append(next.Bets, bet)

		betPayload, err := event.MarshalPayload(event.RouletteBetPayload{
			PlayerID: req.PlayerID,
			BetID:    bet.ID,
			Kind:     string(req.Kind),
			Pick:     bet.Pick,
			Amount:   req.Amount,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		events = append(events, event.Event{
			TableID:     req.WheelID,
			Generation:  next.Generation,
			Type:        event.TypeBet,
			ActorType:   event.ActorTypePlayer,
			ActorID:     req.PlayerID,
			PayloadJSON: betPayload,
		})

		result = next.Clone()
		return &next, events, jobs, nil
	})
	if err != nil {
		return roulette.Round{}, err
	}
	return result, nil
}

// Snapshot returns the current round for observers.
func (e *Engine) Snapshot(ctx context.Context, wheelID string) (roulette.Round, error) {
	state, _, err := e.loadState(ctx, wheelID)
	if err != nil {
		return roulette.Round{}, err
	}
	if state == nil {
		return roulette.Round{}, apperrors.New(apperrors.CodeNotFound, "wheel not found")
	}
	return state.Clone(), nil
}

// JobHandlers maps the spin job to its handler for scheduler registration.
func (e *Engine) JobHandlers() map[storage.JobKind]func(ctx context.Context, job storage.Job) error {
	return map[storage.JobKind]func(ctx context.Context, job storage.Job) error{
		storage.JobSpin: e.HandleSpin,
	}
}

// HandleSpin lands the ball and settles every bet. A stale generation or an
// already-ended round makes it a no-op.
func (e *Engine) HandleSpin(ctx context.Context, job storage.Job) error {
	ctx, span := e.tracer.Start(ctx, "roulette.HandleSpin")
	defer span.End()

	var entries []ledger.Entry
	err := e.commit(ctx, job.TableID, func(state *roulette.Round, seq uint64) (*roulette.Round, []event.Event, []storage.Job, error) {
		if state == nil || state.Generation != job.Generation || state.Phase != roulette.PhaseBetting {
			return nil, nil, nil, nil
		}
		entries = entries[:0]

		next := state.Clone()
		pocket := e.spin()
		color := roulette.ColorOf(pocket)
		next.Pocket = &pocket
		next.Color = color

		var events []event.Event
		appendEvent := func(eventType event.Type, payload any) error {
			encoded, err := event.MarshalPayload(payload)
			if err != nil {
				return err
			}
			events = append(events, event.Event{
				TableID:     next.ID,
				Generation:  next.Generation,
				Type:        eventType,
				PayloadJSON: encoded,
			})
			return nil
		}

		if err := appendEvent(event.TypeSpin, event.SpinPayload{Pocket: pocket, Color: color}); err != nil {
			return nil, nil, nil, err
		}

		for i := range next.Bets {
			bet := &next.Bets[i]
			outcomeType := event.TypeLose
			if bet.Wins(pocket) {
				bet.Payout = bet.Amount + bet.Amount*bet.Kind.Multiplier()
				outcomeType = event.TypeWin
			}
			if err := appendEvent(outcomeType, event.RouletteOutcomePayload{
				PlayerID: bet.PlayerID,
				BetID:    bet.ID,
				Payout:   bet.Payout,
			}); err != nil {
				return nil, nil, nil, err
			}
			entries = append(entries, ledger.Entry{
				IdempotencyKey: ledger.RoundKey(next.ID, next.Generation, bet.ID),
				TableID:        next.ID,
				Generation:     next.Generation,
				PlayerID:       bet.PlayerID,
				BetID:          bet.ID,
				Amount:         bet.Payout,
				Result:         string(outcomeType),
			})
		}

		endedAt := e.now()
		if err := appendEvent(event.TypeEnded, event.EndedPayload{EndedAt: endedAt}); err != nil {
			return nil, nil, nil, err
		}
		next.EndedAt = &endedAt
		next.Phase = roulette.PhaseEnded
		return &next, events, nil, nil
	})
	if err != nil {
		return err
	}

	// The round is already ended and committed; a ledger failure must not
	// send the job back through a mutation that will now no-op. Entries are
	// idempotent, so a later reconciliation can re-post them.
	if len(entries) > 0 {
		if err := e.sink.Post(ctx, entries); err != nil {
			log.Printf("roulette: post payouts wheel=%s generation=%d: %v", job.TableID, job.Generation, err)
		}
	}
	return nil
}

type mutation func(state *roulette.Round, seq uint64) (*roulette.Round, []event.Event, []storage.Job, error)

// loadState reads the latest round snapshot, falling back to a journal
// replay when the snapshot is missing.
func (e *Engine) loadState(ctx context.Context, wheelID string) (*roulette.Round, uint64, error) {
	record, err := e.log.LatestSnapshot(ctx, wheelID)
	if errors.Is(err, storage.ErrNotFound) {
		return e.rebuildState(ctx, wheelID)
	}
	if err != nil {
		return nil, 0, apperrors.Wrap(apperrors.CodeStorageUnavailable, "load round snapshot", err)
	}

	var state roulette.Round
	if err := json.Unmarshal(record.StateJSON, &state); err != nil {
		return nil, 0, fmt.Errorf("decode round snapshot: %w", err)
	}
	return &state, record.Seq, nil
}

// rebuildState folds the full journal into a round. See reduceRound for the
// per-event mutations.
func (e *Engine) rebuildState(ctx context.Context, wheelID string) (*roulette.Round, uint64, error) {
	var state roulette.Round
	var seq uint64
	err := e.log.Replay(ctx, wheelID, func(evt event.Event) error {
		if err := reduceRound(&state, evt); err != nil {
			return err
		}
		seq = evt.Seq
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("rebuild round from journal: %w", err)
	}
	if seq == 0 {
		return nil, 0, nil
	}
	return &state, seq, nil
}

// reduceRound applies one journal event to state in place. It mirrors the
// engine's mutations exactly, so folding a finished round's journal from
// scratch reproduces the engine's final snapshot.
func reduceRound(state *roulette.Round, evt event.Event) error {
	switch evt.Type {
	case event.TypeCreated:
		var payload event.RoundCreatedPayload
		if err := event.UnmarshalPayload(evt, &payload); err != nil {
			return err
		}
		*state = roulette.Round{
			ID:         evt.TableID,
			Generation: evt.Generation,
			CreatedAt:  payload.CreatedAt,
			SpinAt:     payload.SpinAt,
			Phase:      roulette.PhaseBetting,
		}
		return nil

	case event.TypeBet:
		var payload event.RouletteBetPayload
		if err := event.UnmarshalPayload(evt, &payload); err != nil {
			return err
		}
		state.Bets = append(state.Bets, roulette.Bet{
			ID:       payload.BetID,
			PlayerID: payload.PlayerID,
			Kind:     roulette.BetKind(payload.Kind),
			Pick:     payload.Pick,
			Amount:   payload.Amount,
		})
		return nil

	case event.TypeSpin:
		var payload event.SpinPayload
		if err := event.UnmarshalPayload(evt, &payload); err != nil {
			return err
		}
		pocket := payload.Pocket
		state.Pocket = &pocket
		state.Color = payload.Color
		return nil

	case event.TypeWin, event.TypeLose:
		var payload event.RouletteOutcomePayload
		if err := event.UnmarshalPayload(evt, &payload); err != nil {
			return err
		}
		for i := range state.Bets {
			if state.Bets[i].ID == payload.BetID {
				state.Bets[i].Payout = payload.Payout
			}
		}
		return nil

	case event.TypeEnded:
		var payload event.EndedPayload
		if err := event.UnmarshalPayload(evt, &payload); err != nil {
			return err
		}
		endedAt := payload.EndedAt
		state.EndedAt = &endedAt
		state.Phase = roulette.PhaseEnded
		return nil

	default:
		return fmt.Errorf("unhandled event type %q", evt.Type)
	}
}

func (e *Engine) commit(ctx context.Context, wheelID string, mutate mutation) error {
	var lastErr error
	for attempt := 0; attempt < commitMaxRetries; attempt++ {
		state, seq, err := e.loadState(ctx, wheelID)
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

		encoded, err := json.Marshal(*next)
		if err != nil {
			return fmt.Errorf("encode round snapshot: %w", err)
		}
		_, err = e.log.Commit(ctx, storage.AppendRequest{
			TableID:     wheelID,
			ExpectedSeq: seq,
			Events:      events,
			Snapshot: storage.SnapshotRecord{
				TableID:    wheelID,
				Generation: next.Generation,
				StateJSON:  encoded,
			},
			Jobs: jobs,
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return err
		}
		lastErr = err
	}
	return apperrors.Wrap(apperrors.CodeConflict, "wheel busy, retry", lastErr)
}
