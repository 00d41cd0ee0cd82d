package blofin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/perpjournal/tradesync/internal/model"
)

func ts(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

func TestAggregateContractConversion(t *testing.T) {
	fills := []Fill{
		{TradeID: "t1", OrderID: "o1", Symbol: "SOL-USDT", Side: "buy", Price: 150, Size: 5, Pnl: 0, Time: ts(100)},
		{TradeID: "t2", OrderID: "o2", Symbol: "SOL-USDT", Side: "sell", Price: 155, Size: 5, Pnl: 25, Time: ts(200)},
	}
	values := ContractValues{"SOL-USDT": 1}
	leverage := map[string]float64{"SOL-USDT": 20}

	positions := Aggregate(fills, values, leverage)
	require.Len(t, positions, 1)

	p := positions[0]
	require.Equal(t, "o1", p.TradeID)
	require.Equal(t, "LONG", p.Side)
	require.InDelta(t, 5, p.Quantity, 1e-8)
	require.InDelta(t, 150, p.EntryPrice, 1e-8)
	require.InDelta(t, 155, p.ExitPrice, 1e-8)
	require.InDelta(t, 25, p.RealizedPnl, 1e-8)
	require.InDelta(t, 20, p.Leverage, 1e-8)
}

func TestAggregateScalesContracts(t *testing.T) {
	// 100 BTC-USDT contracts at 0.001 BTC each is 0.1 BTC.
	fills := []Fill{
		{TradeID: "t1", Symbol: "BTC-USDT", Side: "buy", Price: 50000, Size: 100, Pnl: 0, Time: ts(100)},
		{TradeID: "t2", Symbol: "BTC-USDT", Side: "sell", Price: 51000, Size: 100, Pnl: 100, Time: ts(200)},
	}
	positions := Aggregate(fills, ContractValues{"BTC-USDT": 0.001}, nil)
	require.Len(t, positions, 1)
	require.InDelta(t, 0.1, positions[0].Quantity, 1e-8)
}

func TestAggregateLeverageFromMargin(t *testing.T) {
	fills := []Fill{
		{TradeID: "t1", Symbol: "ETH-USDT", Side: "sell", Price: 2000, Size: 100, Pnl: 0, Margin: 200, Time: ts(100)},
		{TradeID: "t2", Symbol: "ETH-USDT", Side: "buy", Price: 1900, Size: 100, Pnl: 100, Time: ts(200)},
	}
	// 100 contracts * 0.01 = 1 coin; position value 2000; margin 200 -> 10x.
	positions := Aggregate(fills, ContractValues{"ETH-USDT": 0.01}, nil)
	require.Len(t, positions, 1)
	require.Equal(t, "SHORT", positions[0].Side)
	require.InDelta(t, 10, positions[0].Leverage, 1e-8)
}

func TestContractValueFallbacks(t *testing.T) {
	values := ContractValues{}
	require.InDelta(t, 0.001, values.Value("BTC-USDT"), 1e-12)
	require.InDelta(t, 0.01, values.Value("ETH-USDT"), 1e-12)
	require.InDelta(t, 0.01, values.Value("DOGE-USDT"), 1e-12)
}

func TestDeriveExitPrice(t *testing.T) {
	require.InDelta(t, 2100, DeriveExitPrice("LONG", 2000, 1, 100), 1e-8)
	require.InDelta(t, 1900, DeriveExitPrice("SHORT", 2000, 1, 100), 1e-8)
	require.InDelta(t, 2000, DeriveExitPrice("LONG", 2000, 0, 100), 1e-8)
}

func TestMatchEntryExitPairs(t *testing.T) {
	t1, t2 := ts(100), ts(200)
	positions := []model.Position{
		{Symbol: "ETH-USDT", RealizedPnl: 30, EntryPrice: 2050, EntryTime: t2},
		{Symbol: "ETH-USDT", RealizedPnl: 0, EntryPrice: 2000, EntryTime: t1},
	}

	matched := MatchEntryExitPairs(positions)
	require.Len(t, matched, 1)

	p := matched[0]
	require.InDelta(t, 2000, p.EntryPrice, 1e-8)
	require.InDelta(t, 2050, p.ExitPrice, 1e-8)
	require.Equal(t, t1, p.EntryTime)
	require.Equal(t, t2, p.ExitTime)
}

func TestMatchEntryExitPairsPassThrough(t *testing.T) {
	// Already-folded positions with non-zero PnL are left alone.
	positions := []model.Position{
		{Symbol: "BTC-USDT", RealizedPnl: 50, EntryPrice: 50000, ExitPrice: 51000, EntryTime: ts(100), ExitTime: ts(200)},
		{Symbol: "SOL-USDT", RealizedPnl: -10, EntryPrice: 150, ExitPrice: 148, EntryTime: ts(300), ExitTime: ts(400)},
	}
	matched := MatchEntryExitPairs(positions)
	require.Equal(t, positions, matched)
}

func TestMatchEntryExitPairsDropsOrphanEntries(t *testing.T) {
	positions := []model.Position{
		{Symbol: "BTC-USDT", RealizedPnl: 0, EntryPrice: 50000, EntryTime: ts(100)},
	}
	require.Empty(t, MatchEntryExitPairs(positions))
}
