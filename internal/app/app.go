// Package app wires configuration into a ready-to-serve handler.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/yourorg/listings-proxy/ddf"
	"github.com/yourorg/listings-proxy/internal/archive"
	"github.com/yourorg/listings-proxy/internal/config"
	"github.com/yourorg/listings-proxy/internal/listings"
	"github.com/yourorg/listings-proxy/internal/logger"
	"github.com/yourorg/listings-proxy/internal/metrics"
	"github.com/yourorg/listings-proxy/internal/odata"
	"github.com/yourorg/listings-proxy/internal/redisx"
	"github.com/yourorg/listings-proxy/internal/store"
)

type App struct {
	Handler http.Handler
	Service *listings.Service
	Metrics *metrics.Metrics

	cache   *redisx.Client
	store   *store.Store
	archive *archive.Queue
	log     zerolog.Logger
}

// New builds the proxy. Redis and Postgres are only connected when configured;
// a configured backend that cannot be reached is an error.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{Metrics: metrics.New(), log: logger.Component("app")}

	opts := ddf.Options{
		BaseURL:   cfg.DDF.BaseURL,
		Timeout:   cfg.DDF.RequestTimeout,
		Transport: a.Metrics.Transport("listings", nil),
		Logger:    logger.Retryable{L: logger.Component("ddf")},
	}
	tokenOpts := opts
	tokenOpts.Transport = a.Metrics.Transport("token", nil)

	a.Service = &listings.Service{
		Tokens: ddf.NewTokenClient(ddf.Credentials{
			TokenURL:     cfg.DDF.TokenURL,
			ClientID:     cfg.DDF.ClientID,
			ClientSecret: cfg.DDF.ClientSecret,
			Scope:        cfg.DDF.Scope,
		}, tokenOpts),
		Upstream: ddf.NewClient(opts),
		Metrics:  a.Metrics,
		Config: listings.Config{
			Filter: odata.Options{
				CreatedAfter:       cfg.Filter.CreatedAfter,
				DefaultTransaction: cfg.Filter.DefaultTransaction,
			},
			MaxPages: cfg.DDF.MaxPages,
			PageRate: cfg.DDF.PageRate,
			Expand:   cfg.DDF.Expand,
			CacheTTL: cfg.CacheTTL,
		},
	}

	if cfg.RedisAddr != "" {
		a.cache = redisx.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := a.cache.Ping(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.Service.Cache = a.cache
		a.log.Info().Str("addr", cfg.RedisAddr).Dur("ttl", cfg.CacheTTL).Msg("lookup cache enabled")
	}

	if cfg.PostgresDSN != "" {
		st, err := store.Open(cfg.PostgresDSN)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open store: %w", err)
		}
		a.store = st
		if err := st.Ping(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("postgres ping: %w", err)
		}
		if err := st.Migrate(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		a.archive = archive.New(cfg.ArchiveQueue, cfg.ArchiveWorkers, a.writeSnapshot)
		a.Service.Archive = a.archive
		a.log.Info().Int("workers", cfg.ArchiveWorkers).Msg("snapshot archive enabled")
	}

	a.Handler = BuildRouter(RouterDeps{
		Service:            a.Service,
		Metrics:            a.Metrics,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})
	return a, nil
}

func (a *App) writeSnapshot(ctx context.Context, j archive.Job) {
	if err := a.store.WriteSnapshot(ctx, j.Snapshot); err != nil {
		a.log.Warn().Err(err).Str("external_id", j.Snapshot.ExternalID).Msg("snapshot write failed")
	}
}

// Close drains the archive queue before closing its store.
func (a *App) Close() {
	if a.archive != nil {
		a.archive.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close store")
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close redis")
		}
	}
}
