package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/perpjournal/tradesync/internal/cache"
	"github.com/perpjournal/tradesync/internal/config"
	"github.com/perpjournal/tradesync/internal/persistence/postgres"
	"github.com/perpjournal/tradesync/internal/secrets"
	syncsvc "github.com/perpjournal/tradesync/internal/sync"
)

// syncCmd runs one sync job for a single connection and exits. Useful for
// backfills and for re-running a failed connection by hand.
func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <connection-id>",
		Short: "Run a one-off sync for a single connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			const timeout = 10 * time.Second
			orch := syncsvc.New(
				postgres.NewConnectionsRepo(db, timeout),
				postgres.NewTradesRepo(db, timeout),
				postgres.NewLeverageRepo(db, timeout),
				cipher,
				syncsvc.NewClientFactory(cfg.Exchanges, cache.NewMemory()),
				nil,
			)

			res, err := orch.Run(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("synced %s (%s): %d trades fetched, %d new\n", res.ConnectionID, res.Exchange, res.Fetched, res.New)
			return nil
		},
	}
}
