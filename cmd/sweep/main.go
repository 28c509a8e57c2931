// sweep runs a single expiration pass against the configured backend and
// prints the result. Useful from cron when the server's own sweeper is
// not running.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/eldtechnologies/cipherroom/internal/config"
	"github.com/eldtechnologies/cipherroom/internal/logging"
	"github.com/eldtechnologies/cipherroom/internal/store"
	"github.com/eldtechnologies/cipherroom/internal/sweeper"
)

func main() {
	var retention time.Duration
	flagSet := pflag.NewFlagSet("sweep", pflag.ContinueOnError)
	flagSet.DurationVarP(&retention, "retention", "r", 0, "override RETENTION for this run")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if retention > 0 {
		cfg.Retention = retention
	}

	logger := logging.New(cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := store.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.Backend).Msg("storage initialization failed")
	}

	res := sweeper.New(backend, logger, sweeper.Options{Retention: cfg.Retention}).Sweep(ctx)
	backend.Close()

	fmt.Printf("rooms=%d scanned=%d removed=%d failures=%d\n", res.Rooms, res.Scanned, res.Removed, res.Failures)
	if res.Failures > 0 {
		os.Exit(1)
	}
}
