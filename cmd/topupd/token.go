package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"wallet.hh/internal/auth"
	"wallet.hh/internal/config"
)

func tokenCmd(configPath *string) *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token [user-id]",
		Short: "Mint a bearer token for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != auth.RoleUser && role != auth.RoleAdmin {
				return fmt.Errorf("unknown role %q", role)
			}
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is required")
			}

			tok, err := auth.NewJWT(cfg.Auth.JWTSecret).Issue(args[0], role, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", auth.RoleUser, "token role (user or admin)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")

	return cmd
}
