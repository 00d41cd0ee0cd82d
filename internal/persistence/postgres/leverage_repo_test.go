package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/perpjournal/tradesync/internal/model"
)

func TestSetOverrideRejectsOutOfRangeLeverage(t *testing.T) {
	// Validation happens before any query, so no database is needed.
	repo := NewLeverageRepo(nil, time.Second)

	for _, leverage := range []float64{0, 0.5, -3, 200.01, 1000} {
		err := repo.SetOverride(context.Background(), "u1", model.ExchangeBinance, "BTC-USDT", leverage)
		require.ErrorIs(t, err, ErrLeverageOutOfRange, "leverage %v", leverage)
	}
}
