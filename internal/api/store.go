package api

import (
	"strings"
	"sync"

	"marketsync/models"
)

// TickerStore keeps the latest ticker per symbol for pull-style reads. No
// history is retained; each update replaces the previous one.
type TickerStore struct {
	mu      sync.RWMutex
	tickers map[string]models.Ticker
}

func NewTickerStore() *TickerStore {
	return &TickerStore{tickers: make(map[string]models.Ticker)}
}

// Update stores the latest observed ticker for its symbol.
func (s *TickerStore) Update(ticker models.Ticker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickers[strings.ToUpper(ticker.Symbol)] = ticker
}

// Latest returns the most recent ticker for a symbol.
func (s *TickerStore) Latest(symbol string) (models.Ticker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ticker, ok := s.tickers[strings.ToUpper(symbol)]
	return ticker, ok
}
