// Package app wires the game service runtime: configuration, storage, the
// stream broker, both engines, the scheduler, and the HTTP surface, with
// graceful shutdown on context cancellation.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/greenfelt/croupier/internal/platform/timeouts"
	"github.com/greenfelt/croupier/internal/services/game/api"
	"github.com/greenfelt/croupier/internal/services/game/deck"
	"github.com/greenfelt/croupier/internal/services/game/domain/event"
	"github.com/greenfelt/croupier/internal/services/game/engine"
	"github.com/greenfelt/croupier/internal/services/game/eventlog"
	"github.com/greenfelt/croupier/internal/services/game/ledger"
	rouletteengine "github.com/greenfelt/croupier/internal/services/game/roulette"
	"github.com/greenfelt/croupier/internal/services/game/rules"
	"github.com/greenfelt/croupier/internal/services/game/scheduler"
	storagesqlite "github.com/greenfelt/croupier/internal/services/game/storage/sqlite"
	"github.com/greenfelt/croupier/internal/services/game/stream"
	streammemory "github.com/greenfelt/croupier/internal/services/game/stream/memory"
	streamredis "github.com/greenfelt/croupier/internal/services/game/stream/redis"
)

// Config holds the game service runtime configuration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `env:"CROUPIER_ADDR" envDefault:":8080"`
	// DatabasePath locates the sqlite journal file.
	DatabasePath string `env:"CROUPIER_DB_PATH" envDefault:"croupier.db"`
	// RedisAddr enables the redis broker; empty runs the in-process broker.
	RedisAddr string `env:"CROUPIER_REDIS_ADDR"`
	// DeckServiceURL points at the remote deck service; empty shuffles locally.
	DeckServiceURL string `env:"CROUPIER_DECK_URL"`
	// LedgerURL points at the wallet ledger; empty discards payout entries.
	LedgerURL string `env:"CROUPIER_LEDGER_URL"`
	// RulesScript is an optional Lua file overriding the default house rules.
	RulesScript string `env:"CROUPIER_RULES_SCRIPT"`
	// JWTSecret signs and verifies player bearer tokens.
	JWTSecret string `env:"CROUPIER_JWT_SECRET"`
}

// Run starts the game service and blocks until ctx is canceled or the server
// fails.
func Run(ctx context.Context, cfg Config) error {
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return errors.New("CROUPIER_JWT_SECRET is required")
	}

	ruleset, err := loadRules(cfg.RulesScript)
	if err != nil {
		return err
	}

	store, err := storagesqlite.Open(cfg.DatabasePath, event.GameRegistry())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("app: close store: %v", err)
		}
	}()

	broker, err := openBroker(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() {
		if err := broker.Close(); err != nil {
			log.Printf("app: close broker: %v", err)
		}
	}()

	eventLog := eventlog.New(store, broker)
	sink := openLedger(cfg.LedgerURL)
	tables := engine.New(eventLog, openDecks(cfg.DeckServiceURL), sink, ruleset)
	wheels := rouletteengine.New(eventLog, sink, ruleset)

	runner := scheduler.New(store, scheduler.Options{})
	for kind, handler := range tables.JobHandlers() {
		runner.Register(kind, scheduler.Handler(handler))
	}
	for kind, handler := range wheels.JobHandlers() {
		runner.Register(kind, scheduler.Handler(handler))
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.New(tables, wheels, eventLog, api.NewAuth([]byte(cfg.JWTSecret))).Router(),
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	schedulerDone := make(chan error, 1)
	go func() {
		schedulerDone <- runner.Run(ctx)
	}()

	serverDone := make(chan error, 1)
	go func() {
		log.Printf("app: listening on %s", cfg.Addr)
		serverDone <- server.ListenAndServe()
	}()

	select {
	case err := <-serverDone:
		return fmt.Errorf("http server: %w", err)
	case err := <-schedulerDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("scheduler: %w", err)
		}
	case <-ctx.Done():
		<-schedulerDone
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("app: http shutdown: %v", err)
	}
	return nil
}

func loadRules(path string) (rules.Rules, error) {
	if strings.TrimSpace(path) == "" {
		return rules.Default(), nil
	}
	script, err := os.ReadFile(path)
	if err != nil {
		return rules.Rules{}, fmt.Errorf("read rules script: %w", err)
	}
	ruleset, err := rules.Load(string(script))
	if err != nil {
		return rules.Rules{}, fmt.Errorf("load rules script %s: %w", path, err)
	}
	return ruleset, nil
}

func openBroker(ctx context.Context, redisAddr string) (stream.Broker, error) {
	if strings.TrimSpace(redisAddr) == "" {
		return streammemory.New(), nil
	}
	broker, err := streamredis.Dial(ctx, redisAddr)
	if err != nil {
		return nil, fmt.Errorf("dial redis %s: %w", redisAddr, err)
	}
	return broker, nil
}

func openDecks(deckURL string) deck.Service {
	if strings.TrimSpace(deckURL) == "" {
		return deck.NewLocalService()
	}
	return deck.NewHTTPService(deckURL, nil)
}

func openLedger(ledgerURL string) ledger.Sink {
	if strings.TrimSpace(ledgerURL) == "" {
		return ledger.Noop{}
	}
	return ledger.NewHTTPSink(ledgerURL, nil)
}
