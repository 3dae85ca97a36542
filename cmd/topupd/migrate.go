package main

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"wallet.hh/internal/config"
	"wallet.hh/internal/store"
)

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Store.Driver == config.DriverBolt {
				fmt.Println("bolt store creates its buckets on open, nothing to migrate")
				return nil
			}
			if err := cfg.ValidateStore(); err != nil {
				return fmt.Errorf("config error: %w", err)
			}

			pool, err := pgxpool.New(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("db error: %w", err)
			}
			defer pool.Close()

			if err := store.New(pool).Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("schema applied")
			return nil
		},
	}
}
