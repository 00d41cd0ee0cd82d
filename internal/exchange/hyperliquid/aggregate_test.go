package hyperliquid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func ts(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

func TestAggregateOpenCloseMatch(t *testing.T) {
	fills := []Fill{
		{Coin: "ETH", Dir: "Open Long", Price: 2000, Size: 1, Fee: 0.5, Time: ts(100)},
		{Coin: "ETH", Dir: "Close Long", Price: 2100, Size: 1, Fee: 0.5, ClosedPnl: 100, Time: ts(200)},
	}

	trades := Aggregate(fills, DefaultLeverage)
	require.Len(t, trades, 1)

	tr := trades[0]
	require.Equal(t, "ETH", tr.Symbol)
	require.Equal(t, "BUY", tr.Side)
	require.InDelta(t, 2000, tr.EntryPrice, 1e-8)
	require.InDelta(t, 2100, tr.ExitPrice, 1e-8)
	require.InDelta(t, 1, tr.Quantity, 1e-8)
	require.InDelta(t, 100, tr.RealizedPnl, 1e-8)
	require.InDelta(t, 1.0, tr.Fees, 1e-8)
	require.InDelta(t, DefaultLeverage, tr.Leverage, 1e-8)
	require.Equal(t, "ETH_100000", tr.TradeID)
	require.Equal(t, ts(100), tr.EntryTime)
	require.Equal(t, ts(200), tr.ExitTime)
}

func TestAggregateSortsInput(t *testing.T) {
	// Close delivered before open still matches once sorted.
	fills := []Fill{
		{Coin: "BTC", Dir: "Close Short", Price: 59000, Size: 0.5, ClosedPnl: 500, Time: ts(200)},
		{Coin: "BTC", Dir: "Open Short", Price: 60000, Size: 0.5, Time: ts(100)},
	}
	trades := Aggregate(fills, DefaultLeverage)
	require.Len(t, trades, 1)
	require.Equal(t, "SELL", trades[0].Side)
	require.InDelta(t, 60000, trades[0].EntryPrice, 1e-8)
}

func TestAggregatePartialClose(t *testing.T) {
	fills := []Fill{
		{Coin: "SOL", Dir: "Open Long", Price: 100, Size: 2, Fee: 0.2, Time: ts(100)},
		{Coin: "SOL", Dir: "Open Long", Price: 110, Size: 2, Fee: 0.2, Time: ts(110)},
		{Coin: "SOL", Dir: "Close Long", Price: 120, Size: 1, ClosedPnl: 15, Fee: 0.1, Time: ts(200)},
		{Coin: "SOL", Dir: "Close Long", Price: 125, Size: 3, ClosedPnl: 60, Fee: 0.3, Time: ts(300)},
	}

	trades := Aggregate(fills, DefaultLeverage)
	require.Len(t, trades, 2)

	// Avg entry (100*2 + 110*2) / 4 = 105 for both closes.
	require.InDelta(t, 105, trades[0].EntryPrice, 1e-8)
	require.InDelta(t, 1, trades[0].Quantity, 1e-8)
	require.InDelta(t, 105, trades[1].EntryPrice, 1e-8)
	require.InDelta(t, 3, trades[1].Quantity, 1e-8)

	// Entry fees are charged once, on the first close.
	require.InDelta(t, 0.5, trades[0].Fees, 1e-8)
	require.InDelta(t, 0.3, trades[1].Fees, 1e-8)

	// Both closes share the entry time; the ids must still differ or the
	// dedup stage downstream keeps only the first close.
	require.Equal(t, "SOL_100000", trades[0].TradeID)
	require.Equal(t, "SOL_100000_300000", trades[1].TradeID)
	require.NotEqual(t, trades[0].TradeID, trades[1].TradeID)
}

func TestAggregatePartialCloseIDsUnique(t *testing.T) {
	fills := []Fill{
		{Coin: "SOL", Dir: "Open Long", Price: 100, Size: 4, Fee: 0.4, Time: ts(100)},
		{Coin: "SOL", Dir: "Close Long", Price: 110, Size: 1, ClosedPnl: 10, Fee: 0.1, Time: ts(200)},
		{Coin: "SOL", Dir: "Close Long", Price: 115, Size: 3, ClosedPnl: 45, Fee: 0.3, Time: ts(300)},
	}

	trades := Aggregate(fills, DefaultLeverage)
	require.Len(t, trades, 2)

	ids := map[string]bool{}
	for _, tr := range trades {
		require.False(t, ids[tr.TradeID], "duplicate trade id %s", tr.TradeID)
		ids[tr.TradeID] = true
	}
}

func TestAggregateOrphanClose(t *testing.T) {
	fills := []Fill{
		{Coin: "DOGE", Dir: "Close Long", Price: 0.1, Size: 1000, ClosedPnl: 12, Fee: 0.05, Time: ts(500)},
	}
	trades := Aggregate(fills, DefaultLeverage)
	require.Len(t, trades, 1)
	require.InDelta(t, 0.1, trades[0].EntryPrice, 1e-8)
	require.InDelta(t, 0.1, trades[0].ExitPrice, 1e-8)
	require.Equal(t, trades[0].EntryTime, trades[0].ExitTime)
}

func TestAggregateKeepsLongAndShortSeparate(t *testing.T) {
	fills := []Fill{
		{Coin: "ETH", Dir: "Open Long", Price: 2000, Size: 1, Time: ts(100)},
		{Coin: "ETH", Dir: "Open Short", Price: 2010, Size: 1, Time: ts(110)},
		{Coin: "ETH", Dir: "Close Long", Price: 2100, Size: 1, ClosedPnl: 100, Time: ts(200)},
		{Coin: "ETH", Dir: "Close Short", Price: 1990, Size: 1, ClosedPnl: 20, Time: ts(210)},
	}
	trades := Aggregate(fills, DefaultLeverage)
	require.Len(t, trades, 2)
	require.Equal(t, "BUY", trades[0].Side)
	require.Equal(t, "SELL", trades[1].Side)
}

func TestValidWallet(t *testing.T) {
	require.True(t, ValidWallet("0x1234567890abcdefABCDEF1234567890abcdef12"))
	require.False(t, ValidWallet("1234567890abcdefABCDEF1234567890abcdef12"))
	require.False(t, ValidWallet("0x1234"))
	require.False(t, ValidWallet("0x1234567890abcdefABCDEF1234567890abcdefXY"))
}
