package book

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	appconfig "marketsync/config"
	"marketsync/internal/metrics"
	"marketsync/internal/stream"
	"marketsync/internal/wire"
	"marketsync/logger"
	"marketsync/models"
)

// SnapshotFunc fetches a full depth snapshot for a symbol.
type SnapshotFunc func(ctx context.Context, symbol string) (*models.BookSnapshot, error)

// fetchResult carries one snapshot fetch outcome back into the loop, tagged
// with the epoch it was started for so superseded fetches can be discarded.
type fetchResult struct {
	epoch    int64
	snapshot *models.BookSnapshot
	err      error
}

// Reconciler keeps one symbol's order book replica in sync with the diff
// stream and publishes derived metrics. All replica mutation happens on a
// single goroutine; readers get immutable views through an atomic pointer
// swap.
type Reconciler struct {
	symbol      string
	depth       int
	resyncDelay time.Duration
	fetch       SnapshotFunc
	mux         *stream.Multiplexer
	log         *logger.Entry

	view     atomic.Pointer[View]
	resyncCh chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	sub     *stream.Subscription
	wg      sync.WaitGroup
}

// NewReconciler builds a reconciler for one symbol. depth is the number of
// levels per side retained for derived metrics; deeper levels still reach
// the replica so gap detection stays correct.
func NewReconciler(cfg appconfig.BookConfig, symbol string, mux *stream.Multiplexer, fetch SnapshotFunc) *Reconciler {
	r := &Reconciler{
		symbol:      symbol,
		depth:       cfg.DepthLevels,
		resyncDelay: cfg.ResyncDelay,
		fetch:       fetch,
		mux:         mux,
		resyncCh:    make(chan struct{}, 1),
		log: logger.GetLogger().WithComponent("book_reconciler").WithFields(logger.Fields{
			"symbol": symbol,
		}),
	}
	r.view.Store(&View{Symbol: symbol})
	return r
}

// Start subscribes to the diff stream and launches the reconciliation loop.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("reconciler for %s already running", r.symbol)
	}

	sub, err := r.mux.Subscribe(stream.DepthKey(r.symbol))
	if err != nil {
		return fmt.Errorf("failed to subscribe to depth stream: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.running = true
	r.cancel = cancel
	r.sub = sub

	r.wg.Add(1)
	go r.run(loopCtx, sub)

	r.log.WithFields(logger.Fields{"depth": r.depth}).Info("reconciler started")
	return nil
}

// Stop cancels the loop and any in-flight snapshot fetch, then unsubscribes
// from the diff stream. Stopping a stopped reconciler is a no-op.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	sub := r.sub
	r.cancel = nil
	r.sub = nil
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
	sub.Cancel()
	r.log.Info("reconciler stopped")
}

// ForceResync discards the current replica state and refetches the snapshot.
// Used after app resume, when the gap accumulated in the background is
// unbounded and must be assumed discontiguous.
func (r *Reconciler) ForceResync() {
	select {
	case r.resyncCh <- struct{}{}:
	default:
	}
}

// View returns the most recently published immutable view.
func (r *Reconciler) View() *View {
	return r.view.Load()
}

// BestBid returns the highest retained bid price, 0 when empty.
func (r *Reconciler) BestBid() float64 { return r.view.Load().BestBid }

// BestAsk returns the lowest retained ask price, 0 when empty.
func (r *Reconciler) BestAsk() float64 { return r.view.Load().BestAsk }

// SpreadPercent returns the bid/ask spread relative to the midpoint.
func (r *Reconciler) SpreadPercent() float64 { return r.view.Load().SpreadPct }

// Imbalance returns the top-N volume imbalance in [-1, 1].
func (r *Reconciler) Imbalance() float64 { return r.view.Load().Imbalance }

func (r *Reconciler) run(ctx context.Context, sub *stream.Subscription) {
	defer r.wg.Done()

	rep := newReplica()
	results := make(chan fetchResult, 1)
	var epoch int64
	synced := false

	var retryTimer *time.Timer
	var retryC <-chan time.Time
	clearRetry := func() {
		if retryTimer != nil {
			retryTimer.Stop()
			retryTimer = nil
			retryC = nil
		}
	}
	scheduleRetry := func() {
		clearRetry()
		retryTimer = time.NewTimer(r.resyncDelay)
		retryC = retryTimer.C
	}

	startFetch := func() {
		epoch++
		tag := epoch
		go func() {
			snapshot, err := r.fetch(ctx, r.symbol)
			select {
			case results <- fetchResult{epoch: tag, snapshot: snapshot, err: err}:
			case <-ctx.Done():
			}
		}()
	}

	startFetch()
	defer clearRetry()

	for {
		select {
		case <-ctx.Done():
			return

		case <-r.resyncCh:
			metrics.IncrementResyncs(r.symbol)
			r.log.Info("forced resync requested")
			synced = false
			r.publish(rep, false)
			clearRetry()
			startFetch()

		case result := <-results:
			if result.epoch != epoch {
				// A newer fetch superseded this one.
				continue
			}
			if result.err != nil {
				if ctx.Err() != nil {
					return
				}
				r.log.WithError(result.err).Warn("snapshot fetch failed, retrying")
				scheduleRetry()
				continue
			}
			rep.loadSnapshot(result.snapshot)
			synced = true
			r.publish(rep, true)
			r.log.WithFields(logger.Fields{
				"last_update_id": rep.lastUpdateID,
			}).Info("order book synced from snapshot")

		case <-retryC:
			retryC = nil
			retryTimer = nil
			startFetch()

		case event, ok := <-sub.C:
			if !ok {
				return
			}
			if event.Kind != wire.KindDepth || event.Depth == nil {
				continue
			}
			if !synced {
				// Diffs observed while a snapshot fetch is in flight
				// belong to an unknown epoch; discard them.
				continue
			}

			switch rep.applyDiff(event.Depth) {
			case diffApplied:
				r.publish(rep, true)
			case diffStale:
			case diffGap:
				metrics.IncrementResyncs(r.symbol)
				r.log.WithFields(logger.Fields{
					"last_update_id":  rep.lastUpdateID,
					"first_update_id": event.Depth.FirstUpdateID,
					"final_update_id": event.Depth.FinalUpdateID,
				}).Warn("sequence gap detected, resyncing")
				synced = false
				r.publish(rep, false)
				clearRetry()
				startFetch()
			}
		}
	}
}

func (r *Reconciler) publish(rep *replica, synced bool) {
	r.view.Store(buildView(r.symbol, rep, r.depth, synced))
}
