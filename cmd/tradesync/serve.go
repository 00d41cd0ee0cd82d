package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/perpjournal/tradesync/internal/cache"
	"github.com/perpjournal/tradesync/internal/config"
	"github.com/perpjournal/tradesync/internal/httpapi"
	"github.com/perpjournal/tradesync/internal/metrics"
	"github.com/perpjournal/tradesync/internal/persistence/postgres"
	"github.com/perpjournal/tradesync/internal/scheduler"
	"github.com/perpjournal/tradesync/internal/secrets"
	syncsvc "github.com/perpjournal/tradesync/internal/sync"
)

// repoTimeout bounds each storage call issued by the repos.
const repoTimeout = 10 * time.Second

// shutdownGrace is how long serve waits for in-flight syncs on SIGTERM.
const shutdownGrace = 30 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the daily sync scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	cipher, err := secrets.NewCipher(cfg.EncryptionKey)
	if err != nil {
		return err
	}

	db, err := postgres.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime())
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer db.Close()

	connections := postgres.NewConnectionsRepo(db, repoTimeout)
	trades := postgres.NewTradesRepo(db, repoTimeout)
	leverage := postgres.NewLeverageRepo(db, repoTimeout)

	store := cache.NewMemory()
	if cfg.Redis.Addr != "" {
		store = cache.NewRedis(redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}))
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis cache")
	}

	reg := metrics.NewRegistry()
	factory := syncsvc.NewClientFactory(cfg.Exchanges, store)
	orch := syncsvc.New(connections, trades, leverage, cipher, factory, reg)

	sched := scheduler.New(connections, orch, cfg.Scheduler.Interval(), cfg.Scheduler.MisfireGrace(), reg)
	sched.Start()

	srv := httpapi.NewServer(cfg.HTTP.Addr, connections, orch, cipher, reg)

	errc := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(stopCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	if err := sched.Stop(stopCtx); err != nil {
		log.Warn().Err(err).Msg("scheduler drain incomplete")
	}
	return nil
}
