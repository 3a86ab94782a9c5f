// Package croupier parses the game command flags and starts the table runtime.
package croupier

import (
	"context"
	"flag"

	entrypoint "github.com/greenfelt/croupier/internal/platform/cmd"
	"github.com/greenfelt/croupier/internal/services/game/app"
)

// ParseConfig parses environment and flags into a runtime Config.
func ParseConfig(fs *flag.FlagSet, args []string) (app.Config, error) {
	var cfg app.Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return app.Config{}, err
	}
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The HTTP listen address")
	fs.StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "The sqlite journal path")
	fs.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "The redis broker address (empty runs in-process)")
	fs.StringVar(&cfg.DeckServiceURL, "deck-url", cfg.DeckServiceURL, "The deck service base URL (empty shuffles locally)")
	fs.StringVar(&cfg.LedgerURL, "ledger-url", cfg.LedgerURL, "The wallet ledger URL (empty discards entries)")
	fs.StringVar(&cfg.RulesScript, "rules", cfg.RulesScript, "Path to a Lua rules script overriding the defaults")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return app.Config{}, err
	}
	return cfg, nil
}

// Run starts the game service.
func Run(ctx context.Context, cfg app.Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceGame, func(ctx context.Context) error {
		return app.Run(ctx, cfg)
	})
}
