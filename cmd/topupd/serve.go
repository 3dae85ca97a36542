package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"wallet.hh/internal/api"
	"wallet.hh/internal/auth"
	"wallet.hh/internal/config"
	"wallet.hh/internal/eventlog"
	"wallet.hh/internal/topup"
	"wallet.hh/internal/webhook"
)

const shutdownTimeout = 5 * time.Second

func serveCmd(configPath *string) *cobra.Command {
	var sweepInterval time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("sweep-interval") {
				cfg.Sweep.Interval = sweepInterval
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().DurationVar(&sweepInterval, "sweep-interval", time.Minute, "how often to expire stale intents (0 disables)")

	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	gw, err := newGateway(cfg)
	if err != nil {
		return fmt.Errorf("gateway config: %w", err)
	}
	svc := newService(cfg, st, gw, logger)

	srv := api.NewServer(api.Deps{
		Topups:        svc,
		Users:         st,
		Verifier:      webhook.NewVerifier(cfg.Webhook.Secret),
		Auth:          auth.NewJWT(cfg.Auth.JWTSecret),
		RatePerSecond: cfg.RateLimit.PerSecond,
		RateBurst:     cfg.RateLimit.Burst,
	}, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Printf("listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(ctxShutdown)
	})
	if cfg.Sweep.Interval > 0 {
		g.Go(func() error {
			runSweeper(gctx, svc, cfg.Sweep.Interval, logger)
			return nil
		})
	}

	return g.Wait()
}

// runSweeper expires due intents every interval until ctx is done. A failed
// sweep is logged and retried on the next tick.
func runSweeper(ctx context.Context, svc *topup.Service, interval time.Duration, logger eventlog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.SweepExpired(ctx); err != nil && ctx.Err() == nil {
				eventlog.Event(logger, "sweep_failed", map[string]any{
					"error": err.Error(),
				})
			}
		}
	}
}
