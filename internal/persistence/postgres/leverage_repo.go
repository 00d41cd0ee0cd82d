package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/perpjournal/tradesync/internal/model"
	"github.com/perpjournal/tradesync/internal/persistence"
)

// ErrLeverageOutOfRange rejects overrides outside the [1, 200] range stored
// trades are bounded to.
var ErrLeverageOutOfRange = errors.New("leverage override must be between 1 and 200")

// leverageRepo implements LeverageRepo for PostgreSQL.
type leverageRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewLeverageRepo creates a new PostgreSQL leverage-override repository.
func NewLeverageRepo(db *sqlx.DB, timeout time.Duration) persistence.LeverageRepo {
	return &leverageRepo{db: db, timeout: timeout}
}

func (r *leverageRepo) Overrides(ctx context.Context, userID string, ex model.Exchange) (map[string]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows := []struct {
		Symbol   string  `db:"symbol"`
		Leverage float64 `db:"leverage"`
	}{}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT symbol, leverage
		FROM leverage_settings
		WHERE user_id = $1 AND exchange = $2`, userID, string(ex))
	if err != nil {
		return nil, fmt.Errorf("failed to list leverage overrides: %w", err)
	}

	overrides := make(map[string]float64, len(rows))
	for _, row := range rows {
		overrides[row.Symbol] = row.Leverage
	}
	return overrides, nil
}

func (r *leverageRepo) SetOverride(ctx context.Context, userID string, ex model.Exchange, symbol string, leverage float64) error {
	if leverage < 1 || leverage > 200 {
		return ErrLeverageOutOfRange
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO leverage_settings (user_id, exchange, symbol, leverage)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, exchange, symbol) DO UPDATE SET leverage = EXCLUDED.leverage`,
		userID, string(ex), symbol, leverage)
	if err != nil {
		return fmt.Errorf("failed to set leverage override: %w", err)
	}
	return nil
}

func (r *leverageRepo) DeleteOverride(ctx context.Context, userID string, ex model.Exchange, symbol string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		DELETE FROM leverage_settings
		WHERE user_id = $1 AND exchange = $2 AND symbol = $3`,
		userID, string(ex), symbol)
	if err != nil {
		return fmt.Errorf("failed to delete leverage override: %w", err)
	}
	return nil
}
