package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	croupiercmd "github.com/greenfelt/croupier/internal/cmd/croupier"
	"github.com/greenfelt/croupier/internal/platform/config"
)

func main() {
	cfg, err := croupiercmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	log.SetPrefix("[CROUPIER] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := croupiercmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
