package wire

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"golang.org/x/time/rate"

	appconfig "marketsync/config"
	"marketsync/internal/metrics"
	"marketsync/logger"
	"marketsync/models"
)

// SnapshotFetcher retrieves full order book snapshots over REST. Fetches are
// rate limited so resync storms cannot burn through the exchange request
// weight budget.
type SnapshotFetcher struct {
	client  *binance.Client
	limiter *rate.Limiter
	limit   int
	log     *logger.Log
}

// NewSnapshotFetcher builds a fetcher from the source configuration.
func NewSnapshotFetcher(cfg *appconfig.Config) *SnapshotFetcher {
	log := logger.GetLogger()

	pool := cfg.Source.Binance.ConnectionPool
	transport := &http.Transport{
		MaxIdleConns:        pool.MaxIdleConns,
		MaxIdleConnsPerHost: pool.MaxIdleConns,
		MaxConnsPerHost:     pool.MaxConnsPerHost,
		IdleConnTimeout:     pool.IdleConnTimeout,
	}

	timeout := cfg.Source.Binance.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := binance.NewClient("", "")
	client.HTTPClient = &http.Client{Transport: transport, Timeout: timeout}
	if cfg.Source.Binance.RestURL != "" {
		client.BaseURL = cfg.Source.Binance.RestURL
	}

	perSec := cfg.Book.SnapshotRatePerSec
	if perSec <= 0 {
		perSec = 2
	}

	fetcher := &SnapshotFetcher{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(perSec), 1),
		limit:   cfg.Book.SnapshotLimit,
		log:     log,
	}

	log.WithComponent("snapshot_fetcher").WithFields(logger.Fields{
		"rest_url":     cfg.Source.Binance.RestURL,
		"limit":        fetcher.limit,
		"rate_per_sec": perSec,
	}).Info("snapshot fetcher initialized")

	return fetcher
}

// Fetch retrieves the current depth snapshot for a symbol. The call blocks
// on the rate limiter first, so callers can retry in a tight loop without
// hammering the endpoint.
func (f *SnapshotFetcher) Fetch(ctx context.Context, symbol string) (*models.BookSnapshot, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait cancelled: %w", err)
	}

	start := time.Now()
	resp, err := f.client.NewDepthService().Symbol(symbol).Limit(f.limit).Do(ctx)
	if err != nil {
		metrics.IncrementSnapshotError(symbol)
		return nil, fmt.Errorf("failed to fetch depth snapshot for %s: %w", symbol, err)
	}

	snapshot := &models.BookSnapshot{
		Symbol:       symbol,
		LastUpdateID: resp.LastUpdateID,
		Bids:         make([]models.BookLevel, 0, len(resp.Bids)),
		Asks:         make([]models.BookLevel, 0, len(resp.Asks)),
		Timestamp:    time.Now().UTC(),
	}

	for _, bid := range resp.Bids {
		level, ok := parseLevel(bid.Price, bid.Quantity)
		if !ok {
			continue
		}
		snapshot.Bids = append(snapshot.Bids, level)
	}
	for _, ask := range resp.Asks {
		level, ok := parseLevel(ask.Price, ask.Quantity)
		if !ok {
			continue
		}
		snapshot.Asks = append(snapshot.Asks, level)
	}

	metrics.IncrementSnapshotSuccess(symbol)
	f.log.WithComponent("snapshot_fetcher").WithFields(logger.Fields{
		"symbol":         symbol,
		"last_update_id": snapshot.LastUpdateID,
		"bids":           len(snapshot.Bids),
		"asks":           len(snapshot.Asks),
		"duration_ms":    time.Since(start).Milliseconds(),
	}).Debug("depth snapshot fetched")

	return snapshot, nil
}

func parseLevel(priceStr, qtyStr string) (models.BookLevel, bool) {
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return models.BookLevel{}, false
	}
	qty, err := strconv.ParseFloat(qtyStr, 64)
	if err != nil {
		return models.BookLevel{}, false
	}
	return models.BookLevel{Price: price, Quantity: qty}, true
}
