package binance

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/perpjournal/tradesync/internal/model"
)

// Fill is one userTrades execution. RealizedPnl is zero for a pure entry leg
// and non-zero when the fill closes part of a position.
type Fill struct {
	ID          int64
	Symbol      string
	Side        string
	Price       float64
	Quantity    float64
	RealizedPnl float64
	Commission  float64
	Time        time.Time
}

// Aggregate folds fills into round-trip positions. Per symbol, fills are
// sorted newest-first and consumed greedily: a maximal run of exit fills
// (RealizedPnl != 0) followed by a maximal run of entry fills (RealizedPnl
// == 0) forms one position. Runs missing either side are discarded.
func Aggregate(fills []Fill, leverage map[string]float64) []model.Position {
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
			for i < len(group) && group[i].RealizedPnl != 0 {
				exits = append(exits, group[i])
				i++
			}
			for i < len(group) && group[i].RealizedPnl == 0 {
				entries = append(entries, group[i])
				i++
			}
			if len(entries) == 0 || len(exits) == 0 {
				continue
			}
			positions = append(positions, fold(symbol, entries, exits, leverage[symbol]))
		}
	}
	return positions
}

func fold(symbol string, entries, exits []Fill, leverage float64) model.Position {
	var entryQty, entryWeighted float64
	for _, f := range entries {
		entryQty += f.Quantity
		entryWeighted += f.Price * f.Quantity
	}
	var exitQty, exitWeighted float64
	for _, f := range exits {
		exitQty += f.Quantity
		exitWeighted += f.Price * f.Quantity
	}

	entryPrice := entries[0].Price
	if entryQty > 0 {
		entryPrice = entryWeighted / entryQty
	}
	exitPrice := exits[0].Price
	if exitQty > 0 {
		exitPrice = exitWeighted / exitQty
	}

	var pnl, fees float64
	for _, f := range entries {
		pnl += f.RealizedPnl
		fees += math.Abs(f.Commission)
	}
	for _, f := range exits {
		pnl += f.RealizedPnl
		fees += math.Abs(f.Commission)
	}

	// Newest-first ordering: entries[0] is the latest entry fill and anchors
	// the trade id and side, entries[last] holds the open time, exits[0] the
	// close time.
	side := "SELL"
	if entries[0].Side == "BUY" {
		side = "BUY"
	}

	return model.Position{
		TradeID:     strconv.FormatInt(entries[0].ID, 10),
		Symbol:      symbol,
		Side:        side,
		EntryPrice:  entryPrice,
		ExitPrice:   exitPrice,
		Quantity:    entryQty,
		RealizedPnl: pnl,
		Fees:        fees,
		Leverage:    leverage,
		EntryTime:   entries[len(entries)-1].Time,
		ExitTime:    exits[0].Time,
	}
}
