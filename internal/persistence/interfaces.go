// Package persistence defines the storage contracts the sync pipeline depends
// on. Implementations live in subpackages; the orchestrator and HTTP layer
// only see these interfaces.
package persistence

import (
	"context"
	"time"

	"github.com/perpjournal/tradesync/internal/model"
)

// ConnectionsRepo manages exchange connection rows. At most one active
// connection exists per (user, exchange); Create enforces it.
type ConnectionsRepo interface {
	Create(ctx context.Context, conn *model.ExchangeConnection) error
	Get(ctx context.Context, id string) (*model.ExchangeConnection, error)
	List(ctx context.Context) ([]model.ExchangeConnection, error)
	ListByUser(ctx context.Context, userID string) ([]model.ExchangeConnection, error)
	Delete(ctx context.Context, id string) error

	// UpdateStatus writes the sync outcome. lastSyncTime is only advanced
	// when non-nil; lastError replaces the stored value (empty clears it).
	UpdateStatus(ctx context.Context, id string, status model.SyncStatus, lastSyncTime *time.Time, lastError string) error

	// ClaimForSync atomically flips a connection to in_progress and clears
	// last_error. It returns false when the connection is already
	// in_progress, which the caller treats as "skip this trigger".
	ClaimForSync(ctx context.Context, id string) (bool, error)
}

// TradesRepo stores canonical trades, idempotent by
// (user_id, exchange, exchange_trade_id).
type TradesRepo interface {
	// ExistingTradeIDs returns the ids already stored for a user/exchange.
	ExistingTradeIDs(ctx context.Context, userID string, ex model.Exchange) (map[string]bool, error)

	// UpsertTrades writes the batch and reports how many rows were actually
	// inserted; conflicts on the dedup key count as zero.
	UpsertTrades(ctx context.Context, trades []model.CanonicalTrade) (int, error)
}

// LeverageRepo reads and writes per-user leverage overrides keyed by
// (user, exchange, symbol). Read-only during sync.
type LeverageRepo interface {
	Overrides(ctx context.Context, userID string, ex model.Exchange) (map[string]float64, error)
	SetOverride(ctx context.Context, userID string, ex model.Exchange, symbol string, leverage float64) error
	DeleteOverride(ctx context.Context, userID string, ex model.Exchange, symbol string) error
}
