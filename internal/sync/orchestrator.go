// Package sync drives per-connection sync jobs: decrypt credentials, fetch
// and fold exchange history, run the normalization pipeline, and persist the
// outcome on the connection row.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/perpjournal/tradesync/internal/exchange"
	"github.com/perpjournal/tradesync/internal/metrics"
	"github.com/perpjournal/tradesync/internal/model"
	"github.com/perpjournal/tradesync/internal/persistence"
	"github.com/perpjournal/tradesync/internal/pipeline"
	"github.com/perpjournal/tradesync/internal/secrets"
)

// maxErrorLen bounds last_error on the connection row.
const maxErrorLen = 500

// ErrAlreadyRunning signals that the connection is mid-sync and the trigger
// was skipped.
var ErrAlreadyRunning = errors.New("sync already in progress for connection")

// ClientFactory builds an exchange client for decrypted credentials.
type ClientFactory func(ex model.Exchange, creds model.Credentials) (exchange.Client, error)

// Result summarizes one finished sync job.
type Result struct {
	ConnectionID string
	Exchange     model.Exchange
	Fetched      int
	New          int
}

// Orchestrator owns the sync state machine. One instance serves all
// connections; per-connection exclusivity is enforced by ClaimForSync.
type Orchestrator struct {
	connections persistence.ConnectionsRepo
	trades      persistence.TradesRepo
	leverage    persistence.LeverageRepo
	cipher      *secrets.Cipher
	factory     ClientFactory
	metrics     *metrics.Registry
	now         func() time.Time
}

// New builds an orchestrator. metrics may be nil in tests.
func New(
	connections persistence.ConnectionsRepo,
	trades persistence.TradesRepo,
	leverage persistence.LeverageRepo,
	cipher *secrets.Cipher,
	factory ClientFactory,
	reg *metrics.Registry,
) *Orchestrator {
	return &Orchestrator{
		connections: connections,
		trades:      trades,
		leverage:    leverage,
		cipher:      cipher,
		factory:     factory,
		metrics:     reg,
		now:         time.Now,
	}
}

// Run executes one sync job to completion. A connection already in_progress
// returns ErrAlreadyRunning; any other failure is written to the row as
// last_sync_status=failed with a user-facing last_error, and returned.
func (o *Orchestrator) Run(ctx context.Context, connectionID string) (Result, error) {
	return o.run(ctx, connectionID, false)
}

// Resync re-fetches the full history window, ignoring the incremental cursor.
// Dedup still keeps already-stored trades from being written twice.
func (o *Orchestrator) Resync(ctx context.Context, connectionID string) (Result, error) {
	return o.run(ctx, connectionID, true)
}

func (o *Orchestrator) run(ctx context.Context, connectionID string, full bool) (Result, error) {
	conn, err := o.connections.Get(ctx, connectionID)
	if err != nil {
		return Result{}, err
	}

	claimed, err := o.connections.ClaimForSync(ctx, connectionID)
	if err != nil {
		return Result{}, err
	}
	if !claimed {
		log.Debug().Str("connection_id", connectionID).Msg("sync already running, skipping trigger")
		return Result{}, ErrAlreadyRunning
	}

	if o.metrics != nil {
		o.metrics.ActiveSyncs.Inc()
		defer o.metrics.ActiveSyncs.Dec()
	}
	started := o.now()

	if full {
		conn.LastSyncTime = nil
	}
	res, err := o.runClaimed(ctx, conn)
	if err != nil {
		o.fail(ctx, conn, err)
		if o.metrics != nil {
			o.metrics.SyncRuns.WithLabelValues(string(conn.Exchange), "failed").Inc()
		}
		return Result{}, err
	}

	now := o.now().UTC()
	if err := o.connections.UpdateStatus(ctx, conn.ID, model.SyncSuccess, &now, ""); err != nil {
		return Result{}, err
	}
	if o.metrics != nil {
		ex := string(conn.Exchange)
		o.metrics.SyncRuns.WithLabelValues(ex, "success").Inc()
		o.metrics.SyncDuration.WithLabelValues(ex).Observe(o.now().Sub(started).Seconds())
		o.metrics.TradesInserted.WithLabelValues(ex).Add(float64(res.New))
		o.metrics.TradesDeduped.WithLabelValues(ex).Add(float64(res.Fetched - res.New))
	}
	log.Info().
		Str("connection_id", conn.ID).
		Str("exchange", string(conn.Exchange)).
		Int("fetched", res.Fetched).
		Int("new", res.New).
		Dur("took", o.now().Sub(started)).
		Msg("sync finished")
	return res, nil
}

func (o *Orchestrator) runClaimed(ctx context.Context, conn *model.ExchangeConnection) (Result, error) {
	creds, err := o.decrypt(conn)
	if err != nil {
		return Result{}, fmt.Errorf("decrypt credentials: %w", err)
	}

	client, err := o.factory(conn.Exchange, creds)
	if err != nil {
		return Result{}, err
	}

	positions, err := client.FetchTradeHistory(ctx, conn.LastSyncTime)
	if err != nil {
		return Result{}, err
	}

	trades := pipeline.NormalizeAll(conn.UserID, conn.Exchange, positions)

	overrides, err := o.leverage.Overrides(ctx, conn.UserID, conn.Exchange)
	if err != nil {
		return Result{}, fmt.Errorf("load leverage overrides: %w", err)
	}
	trades = pipeline.ResolveLeverage(trades, overrides, conn.Exchange)

	existing, err := o.trades.ExistingTradeIDs(ctx, conn.UserID, conn.Exchange)
	if err != nil {
		return Result{}, fmt.Errorf("load existing trade ids: %w", err)
	}
	fresh := pipeline.Dedup(trades, existing)

	inserted, err := o.trades.UpsertTrades(ctx, fresh)
	if err != nil {
		return Result{}, fmt.Errorf("upsert trades: %w", err)
	}

	return Result{
		ConnectionID: conn.ID,
		Exchange:     conn.Exchange,
		Fetched:      len(trades),
		New:          inserted,
	}, nil
}

func (o *Orchestrator) decrypt(conn *model.ExchangeConnection) (model.Credentials, error) {
	var creds model.Credentials
	var err error

	if creds.Key, err = o.cipher.Decrypt(conn.APIKeyEncrypted); err != nil {
		return creds, err
	}
	if conn.APISecretEncrypted != "" {
		if creds.Secret, err = o.cipher.Decrypt(conn.APISecretEncrypted); err != nil {
			return creds, err
		}
	}
	if conn.PassphraseEncrypted != "" {
		if creds.Passphrase, err = o.cipher.Decrypt(conn.PassphraseEncrypted); err != nil {
			return creds, err
		}
	}
	return creds, nil
}

// fail records the failure on the row. The stored message is user-facing and
// truncated; the full error stays in the logs.
func (o *Orchestrator) fail(ctx context.Context, conn *model.ExchangeConnection, cause error) {
	msg := truncate(exchange.UserMessage(cause), maxErrorLen)
	log.Error().
		Str("connection_id", conn.ID).
		Str("exchange", string(conn.Exchange)).
		Str("kind", string(exchange.KindOf(cause))).
		Err(cause).
		Msg("sync failed")

	if err := o.connections.UpdateStatus(ctx, conn.ID, model.SyncFailed, nil, msg); err != nil {
		log.Error().Str("connection_id", conn.ID).Err(err).Msg("failed to record sync failure")
	}
}

// Validate runs the credential check for a not-yet-persisted connection.
func (o *Orchestrator) Validate(ctx context.Context, ex model.Exchange, creds model.Credentials) error {
	client, err := o.factory(ex, creds)
	if err != nil {
		return err
	}
	return client.ValidateCredentials(ctx)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
