package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"wallet.hh/internal/api"
	"wallet.hh/internal/config"
	"wallet.hh/internal/eventlog"
	"wallet.hh/internal/gateway"
	"wallet.hh/internal/store"
	"wallet.hh/internal/topup"
)

type backend interface {
	topup.IntentStore
	api.UserStore
}

var (
	_ backend = (*store.Store)(nil)
	_ backend = (*store.BoltStore)(nil)
)

func openStore(ctx context.Context, cfg config.Config) (backend, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverBolt:
		st, err := store.OpenBolt(cfg.Store.BoltPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open bolt store: %w", err)
		}
		return st, func() { st.Close() }, nil
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("db error: %w", err)
		}
		return store.New(pool, store.WithTimeout(cfg.Store.Timeout)), pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func newGateway(cfg config.Config) (*gateway.Client, error) {
	return gateway.NewClient(gateway.Config{
		BaseURL:            cfg.Gateway.BaseURL,
		MerchantCode:       cfg.Gateway.MerchantCode,
		Secret:             cfg.Gateway.Secret,
		SignatureAlgorithm: cfg.Gateway.SignatureAlgorithm,
		CallbackURL:        cfg.Gateway.CallbackURL,
		ReturnURL:          cfg.Gateway.ReturnURL,
		Timeout:            cfg.Gateway.Timeout,
	})
}

func newService(cfg config.Config, st topup.IntentStore, gw topup.Gateway, logger eventlog.Logger) *topup.Service {
	return topup.NewService(st, gw, topup.Config{
		MinAmount:            cfg.Topup.MinAmount,
		MaxAmount:            cfg.Topup.MaxAmount,
		TTL:                  cfg.Topup.TTL,
		DefaultPaymentMethod: cfg.Topup.DefaultPaymentMethod,
		PersistenceTimeout:   cfg.Store.Timeout,
	}, logger)
}
