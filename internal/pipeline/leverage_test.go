package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/perpjournal/tradesync/internal/model"
)

func trade(leverage float64) model.CanonicalTrade {
	return model.CanonicalTrade{
		Symbol:     "BTC-USDT",
		EntryPrice: 50000,
		Quantity:   0.1,
		PnlUSD:     100,
		Leverage:   leverage,
	}
}

func TestResolveLeveragePrecedence(t *testing.T) {
	overrides := map[string]float64{"BTC-USDT": 25}

	// Exchange-supplied wins over the override.
	out := ResolveLeverage([]model.CanonicalTrade{trade(10)}, overrides, model.ExchangeBinance)
	require.InDelta(t, 10, out[0].Leverage, 1e-8)

	// Missing leverage falls to the override.
	out = ResolveLeverage([]model.CanonicalTrade{trade(0)}, overrides, model.ExchangeBinance)
	require.InDelta(t, 25, out[0].Leverage, 1e-8)

	// No override falls to the venue default.
	out = ResolveLeverage([]model.CanonicalTrade{trade(0)}, nil, model.ExchangeBinance)
	require.InDelta(t, 1, out[0].Leverage, 1e-8)

	out = ResolveLeverage([]model.CanonicalTrade{trade(0)}, nil, model.ExchangeHyperliquid)
	require.InDelta(t, 10, out[0].Leverage, 1e-8)
}

func TestResolveLeverageBoundsOverrides(t *testing.T) {
	// Overrides outside [1, 200] are ignored; the venue default applies so
	// every stored trade stays inside the leverage bounds.
	out := ResolveLeverage([]model.CanonicalTrade{trade(0)}, map[string]float64{"BTC-USDT": 0.5}, model.ExchangeBinance)
	require.InDelta(t, 1, out[0].Leverage, 1e-8)

	out = ResolveLeverage([]model.CanonicalTrade{trade(0)}, map[string]float64{"BTC-USDT": 300}, model.ExchangeBinance)
	require.InDelta(t, 1, out[0].Leverage, 1e-8)

	// A sub-1 value from the exchange counts as missing too.
	out = ResolveLeverage([]model.CanonicalTrade{trade(0.5)}, map[string]float64{"BTC-USDT": 25}, model.ExchangeBinance)
	require.InDelta(t, 25, out[0].Leverage, 1e-8)
}

func TestResolveLeverageRecomputesPnlPercent(t *testing.T) {
	// 100 / (50000*0.1/10) * 100 = 20%
	out := ResolveLeverage([]model.CanonicalTrade{trade(10)}, nil, model.ExchangeBinance)
	require.InDelta(t, 20.0, out[0].PnlPercent, 1e-4)

	// Scenario from Bybit: -100 / (30000*0.2/5) * 100 = -8.3333
	tr := model.CanonicalTrade{Symbol: "BTC-USDT", EntryPrice: 30000, Quantity: 0.2, PnlUSD: -100, Leverage: 5}
	out = ResolveLeverage([]model.CanonicalTrade{tr}, nil, model.ExchangeBybit)
	require.InDelta(t, -8.3333, out[0].PnlPercent, 1e-4)

	// Blofin contract scenario: 25 / (150*5/20) * 100 = 66.6667
	tr = model.CanonicalTrade{Symbol: "SOL-USDT", EntryPrice: 150, Quantity: 5, PnlUSD: 25, Leverage: 20}
	out = ResolveLeverage([]model.CanonicalTrade{tr}, nil, model.ExchangeBlofin)
	require.InDelta(t, 66.6667, out[0].PnlPercent, 1e-4)

	// Hyperliquid default: 100 / (2000*1/10) * 100 = 50
	tr = model.CanonicalTrade{Symbol: "ETH-USDC", EntryPrice: 2000, Quantity: 1, PnlUSD: 100}
	out = ResolveLeverage([]model.CanonicalTrade{tr}, nil, model.ExchangeHyperliquid)
	require.InDelta(t, 50.0, out[0].PnlPercent, 1e-4)
}

func TestPnlPercentZeroDenominator(t *testing.T) {
	require.Zero(t, PnlPercent(100, 0, 1, 10))
	require.Zero(t, PnlPercent(100, 2000, 0, 10))
	require.Zero(t, PnlPercent(100, 2000, 1, 0))
}

func TestDedup(t *testing.T) {
	trades := []model.CanonicalTrade{
		{ExchangeTradeID: "X"},
		{ExchangeTradeID: "Y"},
		{ExchangeTradeID: "Y"},
		{ExchangeTradeID: ""},
	}
	existing := map[string]bool{"X": true}

	out := Dedup(trades, existing)
	require.Len(t, out, 1)
	require.Equal(t, "Y", out[0].ExchangeTradeID)
}

func TestDedupAllNew(t *testing.T) {
	trades := []model.CanonicalTrade{{ExchangeTradeID: "A"}, {ExchangeTradeID: "B"}}
	out := Dedup(trades, nil)
	require.Len(t, out, 2)
}
