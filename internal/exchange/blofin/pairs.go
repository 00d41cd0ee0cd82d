package blofin

import "github.com/perpjournal/tradesync/internal/model"

// MatchEntryExitPairs repairs the legacy interleaved layout in which Blofin
// returns an exit record (whose entry time is really the exit time) followed
// by the matching entry record with zero PnL. For each such consecutive
// same-symbol pair the entry record's price and time become the real entry,
// and the exit record's own values move to the exit fields. Unpaired exit
// records pass through untouched; unpaired zero-PnL records are dropped, the
// same way the validity filter would drop them later.
func MatchEntryExitPairs(positions []model.Position) []model.Position {
	matched := make([]model.Position, 0, len(positions))
	i := 0
	for i < len(positions) {
		cur := positions[i]
		if cur.RealizedPnl == 0 {
			i++
			continue
		}
		if i+1 < len(positions) {
			next := positions[i+1]
			if next.RealizedPnl == 0 && next.Symbol == cur.Symbol {
				cur.ExitTime = cur.EntryTime
				cur.EntryTime = next.EntryTime
				cur.ExitPrice = cur.EntryPrice
				cur.EntryPrice = next.EntryPrice
				matched = append(matched, cur)
				i += 2
				continue
			}
		}
		matched = append(matched, cur)
		i++
	}
	return matched
}
