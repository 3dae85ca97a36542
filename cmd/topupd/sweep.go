package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"wallet.hh/internal/config"
)

func sweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire pending intents past their deadline once and exit",
		Long: `Expire pending intents past their deadline once and exit.

Meant for cron when serve runs with --sweep-interval=0. Safe to run
alongside serve against Postgres; a bolt file can only be opened by one
process at a time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.ValidateStore(); err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			return sweepOnce(cmd.Context(), cfg)
		},
	}
}

func sweepOnce(ctx context.Context, cfg config.Config) error {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// Expiry never talks to the gateway.
	svc := newService(cfg, st, nil, logger)
	n, err := svc.SweepExpired(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	fmt.Printf("expired %d intents\n", n)
	return nil
}
