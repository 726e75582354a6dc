// Package lots implements a pure, deterministic replay of the
// transaction log into per-symbol FIFO lot lists. Lots are derived
// state — this package never persists anything, it only folds over
// transactions handed to it.
package lots

import (
	"sort"

	"github.com/finrisk/valuation-service/internal/domain"
)

// epsilon is the clamp threshold below which a lot's remaining quantity
// is treated as fully consumed.
const epsilon = 1e-9

// Replay folds an ordered (by (timestamp, id)) transaction slice into a
// symbol -> open-lots map. It tolerates unsorted input by sorting first,
// since callers read from a database that already enforces the order but
// shouldn't have to guarantee it at every call site.
//
// BUY appends a new lot. SELL consumes from the head of the list (FIFO):
// oversell beyond available lots is silently clamped rather than
// rejected (see DESIGN.md's Open Questions section).
func Replay(transactions []domain.Transaction) map[string][]domain.Lot {
	sorted := make([]domain.Transaction, len(transactions))
	copy(sorted, transactions)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].ID < sorted[j].ID
	})

	lots := make(map[string][]domain.Lot)
	for _, tx := range sorted {
		if tx.Quantity <= 0 {
			continue
		}
		switch tx.Kind {
		case domain.Buy:
			lots[tx.Symbol] = append(lots[tx.Symbol], domain.Lot{
				Symbol:       tx.Symbol,
				RemainingQty: tx.Quantity,
				UnitCost:     tx.Price,
			})
		case domain.Sell:
			lots[tx.Symbol] = consume(lots[tx.Symbol], tx.Quantity)
		default:
			// Unknown kind: skip — no recoverable errors here.
		}
	}

	for symbol, symbolLots := range lots {
		lots[symbol] = dropExhausted(symbolLots)
	}
	return lots
}

// consume removes qty from the head of open, FIFO. Any excess beyond
// what's available is discarded rather than erroring.
func consume(open []domain.Lot, qty float64) []domain.Lot {
	remaining := qty
	i := 0
	for i < len(open) && remaining > epsilon {
		if open[i].RemainingQty <= remaining {
			remaining -= open[i].RemainingQty
			open[i].RemainingQty = 0
			i++
			continue
		}
		open[i].RemainingQty -= remaining
		remaining = 0
	}
	return open[i:]
}

// dropExhausted removes lots whose remaining quantity has decayed to
// (numerically) zero.
func dropExhausted(open []domain.Lot) []domain.Lot {
	out := open[:0:0]
	for _, lot := range open {
		if lot.RemainingQty > epsilon {
			out = append(out, lot)
		}
	}
	if out == nil {
		return nil
	}
	return out
}

// OpenQuantity sums remaining quantity for symbol across lots, used by
// the instrument delete guard.
func OpenQuantity(lots map[string][]domain.Lot, symbol string) float64 {
	var total float64
	for _, lot := range lots[symbol] {
		total += lot.RemainingQty
	}
	return total
}
