package book

import (
	"testing"

	"marketsync/models"
)

func snapshot100() *models.BookSnapshot {
	return &models.BookSnapshot{
		Symbol:       "BTCUSDT",
		LastUpdateID: 100,
		Bids:         []models.BookLevel{{Price: 100, Quantity: 1}},
		Asks:         []models.BookLevel{{Price: 101, Quantity: 1}},
	}
}

func TestApplyContiguousDiff(t *testing.T) {
	r := newReplica()
	r.loadSnapshot(snapshot100())

	diff := &models.DepthDiff{
		FirstUpdateID: 99,
		FinalUpdateID: 101,
		Bids:          []models.BookLevel{{Price: 100, Quantity: 2}},
	}
	if got := r.applyDiff(diff); got != diffApplied {
		t.Fatalf("expected diffApplied, got %d", got)
	}
	if r.bids[100] != 2 {
		t.Fatalf("expected bid qty 2 at 100, got %f", r.bids[100])
	}
	if r.lastUpdateID != 101 {
		t.Fatalf("expected lastUpdateID 101, got %d", r.lastUpdateID)
	}
}

func TestGapForcesResync(t *testing.T) {
	r := newReplica()
	r.loadSnapshot(snapshot100())

	diff := &models.DepthDiff{
		FirstUpdateID: 105,
		FinalUpdateID: 110,
		Bids:          []models.BookLevel{{Price: 100, Quantity: 5}},
	}
	if got := r.applyDiff(diff); got != diffGap {
		t.Fatalf("expected diffGap, got %d", got)
	}
	// A gapped diff must not mutate the replica.
	if r.bids[100] != 1 {
		t.Fatalf("replica mutated despite gap: %f", r.bids[100])
	}
	if r.lastUpdateID != 100 {
		t.Fatalf("lastUpdateID advanced despite gap: %d", r.lastUpdateID)
	}
}

func TestStaleDiffDiscarded(t *testing.T) {
	r := newReplica()
	r.loadSnapshot(snapshot100())

	diff := &models.DepthDiff{
		FirstUpdateID: 90,
		FinalUpdateID: 100,
		Bids:          []models.BookLevel{{Price: 100, Quantity: 9}},
	}
	if got := r.applyDiff(diff); got != diffStale {
		t.Fatalf("expected diffStale, got %d", got)
	}
	if r.bids[100] != 1 {
		t.Fatalf("stale diff mutated the replica: %f", r.bids[100])
	}
}

func TestZeroQuantityDeletesLevel(t *testing.T) {
	r := newReplica()
	r.loadSnapshot(snapshot100())

	diff := &models.DepthDiff{
		FirstUpdateID: 101,
		FinalUpdateID: 102,
		Bids:          []models.BookLevel{{Price: 100, Quantity: 0}},
		Asks:          []models.BookLevel{{Price: 101.5, Quantity: 3}},
	}
	if got := r.applyDiff(diff); got != diffApplied {
		t.Fatalf("expected diffApplied, got %d", got)
	}
	if _, ok := r.bids[100]; ok {
		t.Fatal("zero-quantity level must be removed, not stored")
	}
	if r.asks[101.5] != 3 {
		t.Fatalf("expected ask level at 101.5, got %f", r.asks[101.5])
	}

	view := buildView("BTCUSDT", r, 10, true)
	for _, level := range view.Bids {
		if level.Price == 100 {
			t.Fatal("deleted level leaked into the view")
		}
	}
}

func TestViewMetrics(t *testing.T) {
	r := newReplica()
	r.loadSnapshot(&models.BookSnapshot{
		Symbol:       "BTCUSDT",
		LastUpdateID: 1,
		Bids: []models.BookLevel{
			{Price: 100, Quantity: 3},
			{Price: 99, Quantity: 1},
		},
		Asks: []models.BookLevel{
			{Price: 102, Quantity: 1},
			{Price: 103, Quantity: 1},
		},
	})

	view := buildView("BTCUSDT", r, 10, true)
	if view.BestBid != 100 || view.BestAsk != 102 {
		t.Fatalf("unexpected best prices: bid=%f ask=%f", view.BestBid, view.BestAsk)
	}

	wantSpread := (102.0 - 100.0) / 101.0 * 100
	if diff := view.SpreadPct - wantSpread; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected spread %f, got %f", wantSpread, view.SpreadPct)
	}

	// bidVolume=4, askVolume=2 -> (4-2)/6
	wantImbalance := 2.0 / 6.0
	if diff := view.Imbalance - wantImbalance; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected imbalance %f, got %f", wantImbalance, view.Imbalance)
	}
}

func TestViewDepthLimitsMetricsOnly(t *testing.T) {
	r := newReplica()
	r.loadSnapshot(&models.BookSnapshot{
		Symbol:       "BTCUSDT",
		LastUpdateID: 1,
		Bids: []models.BookLevel{
			{Price: 100, Quantity: 1},
			{Price: 99, Quantity: 1},
			{Price: 98, Quantity: 100},
		},
		Asks: []models.BookLevel{{Price: 101, Quantity: 1}},
	})

	view := buildView("BTCUSDT", r, 2, true)
	if len(view.Bids) != 2 {
		t.Fatalf("expected 2 retained bid levels, got %d", len(view.Bids))
	}
	// The deep level is excluded from imbalance: bidVolume=2, askVolume=1.
	wantImbalance := 1.0 / 3.0
	if diff := view.Imbalance - wantImbalance; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected imbalance %f, got %f", wantImbalance, view.Imbalance)
	}
	// But it remains in the replica for future contiguity checks.
	if r.bids[98] != 100 {
		t.Fatal("deep level must stay in the replica")
	}
}

func TestEmptyBookMetrics(t *testing.T) {
	view := buildView("BTCUSDT", newReplica(), 10, false)
	if view.Imbalance != 0 {
		t.Fatalf("expected imbalance 0 for empty book, got %f", view.Imbalance)
	}
	if view.BestBid != 0 || view.BestAsk != 0 || view.SpreadPct != 0 {
		t.Fatalf("expected zeroed metrics, got %+v", view)
	}
	if view.Synced {
		t.Fatal("empty view must not be synced")
	}
}
