package book

import (
	"sort"
	"time"

	"marketsync/models"
)

// View is an immutable point-in-time reading of the replica. A new View is
// published after every applied diff or snapshot; readers never observe a
// partially-applied update.
type View struct {
	Symbol       string             `json:"symbol"`
	Synced       bool               `json:"synced"`
	LastUpdateID int64              `json:"last_update_id"`
	UpdatedAt    time.Time          `json:"updated_at"`
	BestBid      float64            `json:"best_bid"`
	BestAsk      float64            `json:"best_ask"`
	SpreadPct    float64            `json:"spread_percent"`
	Imbalance    float64            `json:"imbalance"`
	Bids         []models.BookLevel `json:"bids"`
	Asks         []models.BookLevel `json:"asks"`
}

// buildView derives the top-N metrics from the replica. Levels beyond depth
// stay in the replica for gap detection but are excluded here.
func buildView(symbol string, r *replica, depth int, synced bool) *View {
	bids := topLevels(r.bids, depth, true)
	asks := topLevels(r.asks, depth, false)

	view := &View{
		Symbol:       symbol,
		Synced:       synced,
		LastUpdateID: r.lastUpdateID,
		UpdatedAt:    time.Now().UTC(),
		Bids:         bids,
		Asks:         asks,
	}

	if len(bids) > 0 {
		view.BestBid = bids[0].Price
	}
	if len(asks) > 0 {
		view.BestAsk = asks[0].Price
	}

	if view.BestBid > 0 && view.BestAsk > 0 {
		mid := (view.BestBid + view.BestAsk) / 2
		if mid > 0 {
			view.SpreadPct = (view.BestAsk - view.BestBid) / mid * 100
		}
	}

	var bidVolume, askVolume float64
	for _, level := range bids {
		bidVolume += level.Quantity
	}
	for _, level := range asks {
		askVolume += level.Quantity
	}
	view.Imbalance = imbalance(bidVolume, askVolume)

	return view
}

// topLevels returns up to depth levels sorted best-first: bids descending by
// price, asks ascending.
func topLevels(side map[float64]float64, depth int, descending bool) []models.BookLevel {
	levels := make([]models.BookLevel, 0, len(side))
	for price, qty := range side {
		levels = append(levels, models.BookLevel{Price: price, Quantity: qty})
	}
	sort.Slice(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price > levels[j].Price
		}
		return levels[i].Price < levels[j].Price
	})
	if len(levels) > depth {
		levels = levels[:depth]
	}
	return levels
}

// imbalance is (bidVolume-askVolume)/(bidVolume+askVolume) clamped to
// [-1, 1], with 0 when both sides are empty.
func imbalance(bidVolume, askVolume float64) float64 {
	total := bidVolume + askVolume
	if total <= 0 {
		return 0
	}
	value := (bidVolume - askVolume) / total
	if value > 1 {
		return 1
	}
	if value < -1 {
		return -1
	}
	return value
}
