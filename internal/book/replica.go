// Package book maintains a locally-consistent replica of exchange order book
// state from a REST snapshot plus an ordered diff stream, and derives
// liquidity metrics from it.
package book

import (
	"marketsync/models"
)

// applyResult classifies the outcome of feeding one diff to the replica.
type applyResult int

const (
	// diffApplied means the diff was contiguous and has been merged.
	diffApplied applyResult = iota
	// diffStale means the diff's updates are already reflected (or older)
	// and was discarded.
	diffStale
	// diffGap means a sequence discontinuity was detected; the replica can
	// no longer be trusted and must be resynchronized.
	diffGap
)

// replica is the price-indexed bid/ask state. It is mutated by exactly one
// goroutine (the reconciler loop); readers only ever see immutable views
// built from it.
type replica struct {
	bids         map[float64]float64
	asks         map[float64]float64
	lastUpdateID int64
}

func newReplica() *replica {
	return &replica{
		bids: make(map[float64]float64),
		asks: make(map[float64]float64),
	}
}

// loadSnapshot replaces the replica contents with a fresh snapshot.
func (r *replica) loadSnapshot(snapshot *models.BookSnapshot) {
	r.bids = make(map[float64]float64, len(snapshot.Bids))
	r.asks = make(map[float64]float64, len(snapshot.Asks))
	for _, level := range snapshot.Bids {
		if level.Quantity > 0 {
			r.bids[level.Price] = level.Quantity
		}
	}
	for _, level := range snapshot.Asks {
		if level.Quantity > 0 {
			r.asks[level.Price] = level.Quantity
		}
	}
	r.lastUpdateID = snapshot.LastUpdateID
}

// applyDiff merges one incremental update, enforcing sequence contiguity:
// the replica is only mutated when firstUpdateID <= lastUpdateID+1 and
// finalUpdateID > lastUpdateID.
func (r *replica) applyDiff(diff *models.DepthDiff) applyResult {
	if diff.FinalUpdateID <= r.lastUpdateID {
		return diffStale
	}
	if diff.FirstUpdateID > r.lastUpdateID+1 {
		return diffGap
	}

	applySide(r.bids, diff.Bids)
	applySide(r.asks, diff.Asks)
	r.lastUpdateID = diff.FinalUpdateID
	return diffApplied
}

// applySide writes absolute quantities at each price. A quantity of zero
// deletes the level; storing it would corrupt volume sums.
func applySide(side map[float64]float64, levels []models.BookLevel) {
	for _, level := range levels {
		if level.Quantity == 0 {
			delete(side, level.Price)
			continue
		}
		side[level.Price] = level.Quantity
	}
}
