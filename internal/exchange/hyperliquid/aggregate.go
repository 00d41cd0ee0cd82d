package hyperliquid

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/perpjournal/tradesync/internal/model"
)

// Fill is one userFills record with numbers parsed. Dir is one of
// "Open Long", "Close Long", "Open Short", "Close Short".
type Fill struct {
	Coin      string
	Price     float64
	Size      float64
	Dir       string
	ClosedPnl float64
	Fee       float64
	Time      time.Time
}

func (r rawFill) toFill() Fill {
	px, _ := strconv.ParseFloat(r.Px, 64)
	sz, _ := strconv.ParseFloat(r.Sz, 64)
	pnl, _ := strconv.ParseFloat(r.ClosedPnl, 64)
	fee, _ := strconv.ParseFloat(r.Fee, 64)
	return Fill{
		Coin:      strings.ToUpper(r.Coin),
		Price:     px,
		Size:      sz,
		Dir:       r.Dir,
		ClosedPnl: pnl,
		Fee:       fee,
		Time:      time.UnixMilli(r.Time).UTC(),
	}
}

func side(dir string) string {
	if strings.Contains(dir, "Short") {
		return "SELL"
	}
	return "BUY"
}

// openPosition accumulates the entry legs of one (coin, side) position.
type openPosition struct {
	totalSize float64
	totalCost float64
	fees      float64
	entryTime time.Time
}

// Aggregate matches Open fills to Close fills per (coin, side), oldest first.
// Each Close emits one trade against the weighted-average entry accumulated so
// far; partial closes leave the remainder open at the same average price. A
// Close with no open position becomes a standalone single-fill trade.
func Aggregate(fills []Fill, defaultLeverage float64) []model.Position {
	sort.Slice(fills, func(i, j int) bool { return fills[i].Time.Before(fills[j].Time) })

	open := map[string]*openPosition{}
	used := map[string]bool{}
	var trades []model.Position

	for _, f := range fills {
		if f.Coin == "" || f.Price == 0 || f.Size == 0 {
			continue
		}
		key := f.Coin + "_" + side(f.Dir)

		switch {
		case strings.Contains(f.Dir, "Open"):
			pos, ok := open[key]
			if !ok {
				pos = &openPosition{entryTime: f.Time}
				open[key] = pos
			}
			pos.totalSize += f.Size
			pos.totalCost += f.Price * f.Size
			pos.fees += math.Abs(f.Fee)

		case strings.Contains(f.Dir, "Close"):
			pos, ok := open[key]
			if !ok || pos.totalSize <= 0 {
				// Orphan close: retention window cut off the open leg.
				trades = append(trades, model.Position{
					TradeID:     claimTradeID(used, f.Coin, f.Time, f.Time),
					Symbol:      f.Coin,
					Side:        side(f.Dir),
					EntryPrice:  f.Price,
					ExitPrice:   f.Price,
					Quantity:    f.Size,
					RealizedPnl: f.ClosedPnl,
					Fees:        math.Abs(f.Fee),
					Leverage:    defaultLeverage,
					EntryTime:   f.Time,
					ExitTime:    f.Time,
				})
				continue
			}

			avgEntry := pos.totalCost / pos.totalSize
			trades = append(trades, model.Position{
				TradeID:     claimTradeID(used, f.Coin, pos.entryTime, f.Time),
				Symbol:      f.Coin,
				Side:        side(f.Dir),
				EntryPrice:  avgEntry,
				ExitPrice:   f.Price,
				Quantity:    math.Min(f.Size, pos.totalSize),
				RealizedPnl: f.ClosedPnl,
				Fees:        pos.fees + math.Abs(f.Fee),
				Leverage:    defaultLeverage,
				EntryTime:   pos.entryTime,
				ExitTime:    f.Time,
			})

			pos.totalSize -= f.Size
			if pos.totalSize <= 0 {
				delete(open, key)
			} else {
				pos.totalCost = avgEntry * pos.totalSize
				pos.fees = 0
			}
		}
	}
	return trades
}

func tradeID(coin string, entryTime time.Time) string {
	return fmt.Sprintf("%s_%d", coin, entryTime.UnixMilli())
}

// claimTradeID makes ids unique per emitted trade: partial closes of one
// accumulated position share an entry time, so later closes carry the close
// time too. Downstream dedup keys on the id and would otherwise drop them.
func claimTradeID(used map[string]bool, coin string, entryTime, exitTime time.Time) string {
	id := tradeID(coin, entryTime)
	if used[id] {
		id = fmt.Sprintf("%s_%d", id, exitTime.UnixMilli())
		for n := 2; used[id]; n++ {
			id = fmt.Sprintf("%s_%d_%d", tradeID(coin, entryTime), exitTime.UnixMilli(), n)
		}
	}
	used[id] = true
	return id
}
