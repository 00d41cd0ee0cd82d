package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/perpjournal/tradesync/internal/model"
	"github.com/perpjournal/tradesync/internal/persistence"
)

// tradesRepo implements TradesRepo for PostgreSQL.
type tradesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewTradesRepo creates a new PostgreSQL trades repository.
func NewTradesRepo(db *sqlx.DB, timeout time.Duration) persistence.TradesRepo {
	return &tradesRepo{db: db, timeout: timeout}
}

// ExistingTradeIDs returns every exchange_trade_id stored for a user/exchange.
func (r *tradesRepo) ExistingTradeIDs(ctx context.Context, userID string, ex model.Exchange) (map[string]bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT exchange_trade_id
		FROM trades
		WHERE user_id = $1 AND exchange = $2 AND exchange_trade_id <> ''`

	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, userID, string(ex)); err != nil {
		return nil, fmt.Errorf("failed to list trade ids: %w", err)
	}

	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// UpsertTrades writes the batch in one transaction. Conflicts on the dedup
// key leave the stored row untouched and do not count as inserts.
func (r *tradesRepo) UpsertTrades(ctx context.Context, trades []model.CanonicalTrade) (int, error) {
	if len(trades) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(trades)/100+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trades (
			user_id, exchange, symbol, side,
			entry_price, exit_price, quantity, leverage,
			fees, pnl_usd, pnl_percent,
			entry_time, exit_time, exchange_trade_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (user_id, exchange, exchange_trade_id) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, t := range trades {
		res, err := stmt.ExecContext(ctx,
			t.UserID, t.Exchange, t.Symbol, t.Side,
			t.EntryPrice, t.ExitPrice, t.Quantity, t.Leverage,
			t.Fees, t.PnlUSD, t.PnlPercent,
			t.EntryTime, t.ExitTime, t.ExchangeTradeID)
		if err != nil {
			return 0, fmt.Errorf("failed to upsert trade %s: %w", t.ExchangeTradeID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit trades: %w", err)
	}
	return inserted, nil
}
