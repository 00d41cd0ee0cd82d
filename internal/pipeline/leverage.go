package pipeline

import "github.com/perpjournal/tradesync/internal/model"

// Stored trades must end with leverage in [minLeverage, maxOverrideLeverage].
// Exchange-supplied values are already ceiling-clamped by normalization;
// user overrides are only honored inside this range.
const (
	minLeverage         = 1.0
	maxOverrideLeverage = 200.0
)

// DefaultLeverage returns the venue fallback used when neither the exchange
// nor a user override supplied leverage.
func DefaultLeverage(ex model.Exchange) float64 {
	if ex == model.ExchangeHyperliquid {
		return 10.0
	}
	return 1.0
}

// ResolveLeverage fills missing leverage in precedence order: a value the
// exchange supplied stands, then the user's per-symbol override, then the
// venue default. PnL percent is recomputed afterwards for every trade so it
// always reflects the final leverage.
func ResolveLeverage(trades []model.CanonicalTrade, overrides map[string]float64, ex model.Exchange) []model.CanonicalTrade {
	out := make([]model.CanonicalTrade, len(trades))
	for i, t := range trades {
		if t.Leverage < minLeverage {
			if lv, ok := overrides[t.Symbol]; ok && lv >= minLeverage && lv <= maxOverrideLeverage {
				t.Leverage = lv
			} else {
				t.Leverage = DefaultLeverage(ex)
			}
		}
		t.PnlPercent = round(PnlPercent(t.PnlUSD, t.EntryPrice, t.Quantity, t.Leverage), 4)
		out[i] = t
	}
	return out
}

// PnlPercent computes return on margin: pnl / (entry*qty/leverage) * 100.
// A zero denominator yields 0.
func PnlPercent(pnlUSD, entryPrice, quantity, leverage float64) float64 {
	if entryPrice <= 0 || quantity <= 0 || leverage <= 0 {
		return 0
	}
	margin := entryPrice * quantity / leverage
	if margin == 0 {
		return 0
	}
	return pnlUSD / margin * 100
}
