package bybit

import (
	"strconv"
	"strings"
	"time"

	"github.com/perpjournal/tradesync/internal/model"
)

// takerFeeRate approximates fees for closed-PnL records, which omit them.
// TODO: read exact fees from /v5/execution/list when the estimate proves too
// coarse in practice.
const takerFeeRate = 0.0006

// ClosedPnl is one /v5/position/closed-pnl record. Bybit serializes numbers
// as strings.
type ClosedPnl struct {
	Symbol        string `json:"symbol"`
	OrderID       string `json:"orderId"`
	Side          string `json:"side"`
	Qty           string `json:"qty"`
	AvgEntryPrice string `json:"avgEntryPrice"`
	AvgExitPrice  string `json:"avgExitPrice"`
	ClosedPnl     string `json:"closedPnl"`
	Leverage      string `json:"leverage"`
	CumEntryValue string `json:"cumEntryValue"`
	CumExitValue  string `json:"cumExitValue"`
	CreatedTime   string `json:"createdTime"`
	UpdatedTime   string `json:"updatedTime"`
}

func f(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func ms(s string) time.Time {
	v, _ := strconv.ParseInt(s, 10, 64)
	return time.UnixMilli(v).UTC()
}

// ToPositions converts closed-PnL records to positions. No folding is needed:
// each record is already one complete round trip with leverage attached. Fees
// are estimated as (cumEntryValue + cumExitValue) times the taker rate.
func ToPositions(records []ClosedPnl) []model.Position {
	positions := make([]model.Position, 0, len(records))
	for _, r := range records {
		entryTime := ms(r.CreatedTime)
		exitTime := ms(r.UpdatedTime)
		if exitTime.Before(entryTime) {
			exitTime = entryTime
		}
		positions = append(positions, model.Position{
			TradeID:     r.OrderID,
			Symbol:      r.Symbol,
			Side:        strings.ToUpper(r.Side),
			EntryPrice:  f(r.AvgEntryPrice),
			ExitPrice:   f(r.AvgExitPrice),
			Quantity:    f(r.Qty),
			RealizedPnl: f(r.ClosedPnl),
			Fees:        (f(r.CumEntryValue) + f(r.CumExitValue)) * takerFeeRate,
			Leverage:    f(r.Leverage),
			EntryTime:   entryTime,
			ExitTime:    exitTime,
		})
	}
	return positions
}
