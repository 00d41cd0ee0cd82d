// Package pipeline holds the venue-neutral stages of a sync run: normalize,
// leverage resolution, and dedup. Every stage is a pure function over slices
// so the orchestrator can compose them without shared state.
package pipeline

import (
	"math"
	"strings"

	"github.com/perpjournal/tradesync/internal/model"
)

// Field-specific clamp ceilings. Anything past its ceiling, or outside the
// numeric store's safe range, collapses to zero and the validity filter deals
// with it.
const (
	maxPrice    = 1e6
	maxQuantity = 1e6
	maxPnl      = 1e5
	maxLeverage = 125
	maxFees     = 1e5

	safeRange = 1e15
)

// clamp zeroes non-finite values, anything outside the safe range, and
// anything whose magnitude exceeds the field ceiling.
func clamp(v, ceiling float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if v <= -safeRange || v >= safeRange {
		return 0
	}
	if math.Abs(v) > ceiling {
		return 0
	}
	return v
}

func round(v float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}

// CanonicalSymbol maps a raw exchange symbol to BASE-QUOTE. Concatenated
// stablecoin pairs are split on their suffix; Hyperliquid coins settle in
// USDC. Symbols already containing a dash pass through uppercased.
func CanonicalSymbol(ex model.Exchange, raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return s
	}
	if ex == model.ExchangeHyperliquid && !strings.Contains(s, "-") {
		return s + "-USDC"
	}
	if strings.Contains(s, "-") {
		return s
	}
	for _, quote := range []string{"USDT", "BUSD", "USDC"} {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return s[:len(s)-len(quote)] + "-" + quote
		}
	}
	return s
}

// dropZeroPnl reports whether zero-PnL records are unmatched entry legs for
// this venue. Bybit and Hyperliquid return completed rounds, so a genuine
// break-even trade is kept there.
func dropZeroPnl(ex model.Exchange) bool {
	return ex == model.ExchangeBinance || ex == model.ExchangeBlofin
}

// Normalize converts one position to a canonical trade. The second return is
// false when the record fails validity and must be dropped.
func Normalize(userID string, ex model.Exchange, p model.Position) (model.CanonicalTrade, bool) {
	entry := round(clamp(p.EntryPrice, maxPrice), 8)
	exit := round(clamp(p.ExitPrice, maxPrice), 8)
	qty := round(clamp(p.Quantity, maxQuantity), 8)
	pnl := round(clamp(p.RealizedPnl, maxPnl), 2)

	if entry == 0 || exit == 0 || qty == 0 {
		return model.CanonicalTrade{}, false
	}
	if pnl == 0 && dropZeroPnl(ex) {
		return model.CanonicalTrade{}, false
	}

	exitTime := p.ExitTime
	if exitTime.Before(p.EntryTime) {
		exitTime = p.EntryTime
	}

	return model.CanonicalTrade{
		UserID:          userID,
		Exchange:        strings.ToLower(string(ex)),
		Symbol:          CanonicalSymbol(ex, p.Symbol),
		Side:            strings.ToUpper(p.Side),
		EntryPrice:      entry,
		ExitPrice:       exit,
		Quantity:        qty,
		Leverage:        round(clamp(p.Leverage, maxLeverage), 2),
		Fees:            round(clamp(p.Fees, maxFees), 8),
		PnlUSD:          pnl,
		EntryTime:       p.EntryTime.UTC(),
		ExitTime:        exitTime.UTC(),
		ExchangeTradeID: p.TradeID,
	}, true
}

// NormalizeAll runs Normalize over a batch, silently dropping invalid records.
func NormalizeAll(userID string, ex model.Exchange, positions []model.Position) []model.CanonicalTrade {
	trades := make([]model.CanonicalTrade, 0, len(positions))
	for _, p := range positions {
		if t, ok := Normalize(userID, ex, p); ok {
			trades = append(trades, t)
		}
	}
	return trades
}
