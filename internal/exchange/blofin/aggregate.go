package blofin

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/perpjournal/tradesync/internal/model"
)

// Fill is one fills-history record with numbers parsed. Size is in contracts,
// not coins; Pnl is zero for pure entry legs.
type Fill struct {
	TradeID string
	OrderID string
	Symbol  string
	Side    string
	Price   float64
	Size    float64
	Pnl     float64
	Fee     float64
	Lever   float64
	Margin  float64
	Time    time.Time
}

// Aggregate folds fills into round-trip positions using the same newest-first
// exit-run/entry-run walk as the Binance aggregator, then converts contract
// sizes to coin quantities via the instrument's contract value. Leverage is
// resolved per position: account leverage map first, then the fill's own
// lever field, then derived from margin.
func Aggregate(fills []Fill, values ContractValues, leverage map[string]float64) []model.Position {
	bySymbol := map[string][]Fill{}
	for _, f := range fills {
		if f.Symbol == "" {
			continue
		}
		bySymbol[f.Symbol] = append(bySymbol[f.Symbol], f)
	}

	var positions []model.Position
	for symbol, group := range bySymbol {
		sort.Slice(group, func(i, j int) bool { return group[i].Time.After(group[j].Time) })

		i := 0
		for i < len(group) {
			var exits, entries []Fill
			for i < len(group) && group[i].Pnl != 0 {
				exits = append(exits, group[i])
				i++
			}
			for i < len(group) && group[i].Pnl == 0 {
				entries = append(entries, group[i])
				i++
			}
			if len(entries) == 0 || len(exits) == 0 {
				continue
			}
			positions = append(positions, fold(symbol, entries, exits, values, leverage))
		}
	}
	return positions
}

func fold(symbol string, entries, exits []Fill, values ContractValues, leverage map[string]float64) model.Position {
	var entryContracts, entryWeighted float64
	for _, f := range entries {
		entryContracts += f.Size
		entryWeighted += f.Price * f.Size
	}
	var exitContracts, exitWeighted float64
	for _, f := range exits {
		exitContracts += f.Size
		exitWeighted += f.Price * f.Size
	}

	entryPrice := entries[0].Price
	if entryContracts > 0 {
		entryPrice = entryWeighted / entryContracts
	}
	exitPrice := exits[0].Price
	if exitContracts > 0 {
		exitPrice = exitWeighted / exitContracts
	}

	var pnl, fees float64
	for _, f := range entries {
		pnl += f.Pnl
		fees += math.Abs(f.Fee)
	}
	for _, f := range exits {
		pnl += f.Pnl
		fees += math.Abs(f.Fee)
	}

	first := entries[0]
	quantity := entryContracts * values.Value(symbol)

	side := "SHORT"
	if first.Side == "buy" || first.Side == "BUY" {
		side = "LONG"
	}

	lever := leverage[symbol]
	if lever == 0 {
		lever = first.Lever
	}
	if lever == 0 && first.Margin > 0 && entryPrice > 0 && quantity > 0 {
		lever = entryPrice * quantity / first.Margin
	}

	if exitPrice == 0 {
		exitPrice = DeriveExitPrice(side, entryPrice, quantity, pnl)
	}

	return model.Position{
		TradeID:     tradeID(first),
		Symbol:      symbol,
		Side:        side,
		EntryPrice:  entryPrice,
		ExitPrice:   exitPrice,
		Quantity:    quantity,
		RealizedPnl: pnl,
		Fees:        fees,
		Leverage:    lever,
		EntryTime:   entries[len(entries)-1].Time,
		ExitTime:    exits[0].Time,
	}
}

func tradeID(f Fill) string {
	if f.OrderID != "" {
		return f.OrderID
	}
	if f.TradeID != "" {
		return f.TradeID
	}
	return fmt.Sprintf("%s_%s", f.Symbol, strconv.FormatInt(f.Time.UnixMilli(), 10))
}

// DeriveExitPrice reconstructs a missing exit price from realized PnL:
// LONG exit = entry + pnl/qty, SHORT exit = entry - pnl/qty. With no PnL or
// quantity the entry price is the best available stand-in.
func DeriveExitPrice(side string, entry, quantity, pnl float64) float64 {
	if pnl == 0 || quantity == 0 || entry == 0 {
		return entry
	}
	if side == "LONG" {
		return entry + pnl/quantity
	}
	return entry - pnl/quantity
}
