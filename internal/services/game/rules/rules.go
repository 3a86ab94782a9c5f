// Package rules holds the table rule set. Operators can override the house
// defaults with a Lua script that returns a table of settings.
package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/Shopify/go-lua"

	apperrors "github.com/greenfelt/croupier/internal/platform/errors"
)

// MaxSeats is the hard ceiling on seats per table regardless of script.
const MaxSeats = 7

// Rules are the effective settings for a table.
type Rules struct {
	// Seats is the seat cap for the table, at most MaxSeats.
	Seats int
	// DeckCount is the number of interleaved decks in the shoe.
	DeckCount int
	// Countdown is the join window between table creation and the deal.
	Countdown time.Duration
	// TurnTimeout auto-stands a player who sits idle on their turn.
	// Zero disables the timeout.
	TurnTimeout time.Duration
	// DealerHitsSoft17 makes the dealer draw on soft 17 instead of standing.
	DealerHitsSoft17 bool
	// MaxSplits caps how many hands one seat can split into.
	MaxSplits int
	// NaturalPayoutNum and NaturalPayoutDen set the blackjack premium,
	// 3:2 by default.
	NaturalPayoutNum int64
	NaturalPayoutDen int64
	// RouletteBetting is the window between the first roulette bet and
	// the spin.
	RouletteBetting time.Duration
}

// Default returns the house rules.
func Default() Rules {
	return Rules{
		Seats:            MaxSeats,
		DeckCount:        6,
		Countdown:        10 * time.Second,
		TurnTimeout:      30 * time.Second,
		DealerHitsSoft17: false,
		MaxSplits:        1,
		NaturalPayoutNum: 3,
		NaturalPayoutDen: 2,
		RouletteBetting:  30 * time.Second,
	}
}

// NaturalPayout returns the premium credit for a natural on bet, stake
// included.
func (r Rules) NaturalPayout(bet int64) int64 {
	return bet + bet*r.NaturalPayoutNum/r.NaturalPayoutDen
}

// Load evaluates script and applies its overrides on top of Default. The
// script must return a table; unknown keys are rejected so typos fail loudly
// at startup instead of silently running house defaults.
func Load(script string) (Rules, error) {
	rules := Default()
	if strings.TrimSpace(script) == "" {
		return rules, nil
	}

	state := lua.NewState()
	lua.OpenLibraries(state)

	if err := lua.LoadString(state, script); err != nil {
		return Rules{}, apperrors.Wrap(apperrors.CodeRulesScriptInvalid, "load rules script", err)
	}
	if err := state.ProtectedCall(0, 1, 0); err != nil {
		return Rules{}, apperrors.Wrap(apperrors.CodeRulesScriptInvalid, "run rules script", err)
	}
	if state.TypeOf(-1) != lua.TypeTable {
		return Rules{}, apperrors.New(apperrors.CodeRulesScriptInvalid, "rules script must return a table")
	}

	var err error
	state.PushNil()
	for state.Next(-2) {
		key, ok := state.ToString(-2)
		if !ok {
			err = fmt.Errorf("non-string key in rules table")
			state.Pop(2)
			break
		}
		if applyErr := applyField(state, &rules, key); applyErr != nil {
			err = applyErr
			state.Pop(2)
			break
		}
		state.Pop(1)
	}
	if err != nil {
		return Rules{}, apperrors.Wrap(apperrors.CodeRulesScriptInvalid, "invalid rules script", err)
	}
	if err := rules.validate(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

func applyField(state *lua.State, rules *Rules, key string) error {
	switch key {
	case "seats":
		return intField(state, key, &rules.Seats)
	case "deck_count":
		return intField(state, key, &rules.DeckCount)
	case "countdown_seconds":
		return secondsField(state, key, &rules.Countdown)
	case "turn_timeout_seconds":
		return secondsField(state, key, &rules.TurnTimeout)
	case "dealer_hits_soft_17":
		rules.DealerHitsSoft17 = state.ToBoolean(-1)
		return nil
	case "max_splits":
		return intField(state, key, &rules.MaxSplits)
	case "natural_payout_num":
		return int64Field(state, key, &rules.NaturalPayoutNum)
	case "natural_payout_den":
		return int64Field(state, key, &rules.NaturalPayoutDen)
	case "roulette_betting_seconds":
		return secondsField(state, key, &rules.RouletteBetting)
	default:
		return fmt.Errorf("unknown rules key %q", key)
	}
}

func intField(state *lua.State, key string, target *int) error {
	value, ok := state.ToInteger(-1)
	if !ok {
		return fmt.Errorf("rules key %q must be an integer", key)
	}
	*target = value
	return nil
}

func int64Field(state *lua.State, key string, target *int64) error {
	value, ok := state.ToInteger(-1)
	if !ok {
		return fmt.Errorf("rules key %q must be an integer", key)
	}
	*target = int64(value)
	return nil
}

func secondsField(state *lua.State, key string, target *time.Duration) error {
	value, ok := state.ToInteger(-1)
	if !ok {
		return fmt.Errorf("rules key %q must be an integer", key)
	}
	*target = time.Duration(value) * time.Second
	return nil
}

func (r Rules) validate() error {
	if r.Seats < 1 || r.Seats > MaxSeats {
		return apperrors.New(apperrors.CodeRulesScriptInvalid, fmt.Sprintf("seats must be between 1 and %d", MaxSeats))
	}
	if r.DeckCount < 1 {
		return apperrors.New(apperrors.CodeRulesScriptInvalid, "deck_count must be at least 1")
	}
	if r.Countdown <= 0 {
		return apperrors.New(apperrors.CodeRulesScriptInvalid, "countdown_seconds must be positive")
	}
	if r.TurnTimeout < 0 {
		return apperrors.New(apperrors.CodeRulesScriptInvalid, "turn_timeout_seconds must not be negative")
	}
	if r.MaxSplits < 0 {
		return apperrors.New(apperrors.CodeRulesScriptInvalid, "max_splits must not be negative")
	}
	if r.NaturalPayoutNum < 0 || r.NaturalPayoutDen < 1 {
		return apperrors.New(apperrors.CodeRulesScriptInvalid, "natural payout ratio is invalid")
	}
	if r.RouletteBetting <= 0 {
		return apperrors.New(apperrors.CodeRulesScriptInvalid, "roulette_betting_seconds must be positive")
	}
	return nil
}
