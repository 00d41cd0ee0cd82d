package pipeline

import "github.com/perpjournal/tradesync/internal/model"

// Dedup drops trades whose exchange_trade_id is already stored for the
// (user, exchange) pair. Incremental windows overlap at the boundary since
// the since parameter is inclusive, so every sync runs through here. Repeated
// ids within the batch itself are also collapsed, first occurrence wins.
func Dedup(trades []model.CanonicalTrade, existing map[string]bool) []model.CanonicalTrade {
	out := make([]model.CanonicalTrade, 0, len(trades))
	seen := make(map[string]bool, len(trades))
	for _, t := range trades {
		id := t.ExchangeTradeID
		if id == "" || existing[id] || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, t)
	}
	return out
}
