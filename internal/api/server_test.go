package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appconfig "marketsync/config"
	"marketsync/internal/book"
	"marketsync/models"
)

type staticBook struct {
	view *book.View
}

func (s *staticBook) View() *book.View { return s.view }

func newTestServer(t *testing.T) (*Server, *TickerStore) {
	t.Helper()
	tickers := NewTickerStore()
	books := map[string]BookSource{
		"BTCUSDT": &staticBook{view: &book.View{
			Symbol:    "BTCUSDT",
			Synced:    true,
			BestBid:   100,
			BestAsk:   101,
			SpreadPct: 0.99,
			Imbalance: 0.25,
		}},
	}
	server := NewServer(appconfig.APIConfig{Enabled: true, Address: ":0"}, books, tickers)
	if server == nil {
		t.Fatal("expected enabled server")
	}
	return server, tickers
}

func TestDisabledServerIsNil(t *testing.T) {
	server := NewServer(appconfig.APIConfig{Enabled: false}, nil, nil)
	if server != nil {
		t.Fatal("expected nil server when disabled")
	}
}

func TestBookEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/book/btcusdt", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var view book.View
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if view.BestBid != 100 || view.BestAsk != 101 {
		t.Fatalf("unexpected view: %+v", view)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/book/ETHUSDT", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for untracked symbol, got %d", rec.Code)
	}
}

func TestTickerEndpoint(t *testing.T) {
	server, tickers := newTestServer(t)
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ticker/BTCUSDT", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before first ticker, got %d", rec.Code)
	}

	tickers.Update(models.Ticker{Symbol: "BTCUSDT", Price: 42000, At: time.Now()})

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ticker/btcusdt", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var ticker models.Ticker
	if err := json.Unmarshal(rec.Body.Bytes(), &ticker); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if ticker.Price != 42000 {
		t.Fatalf("unexpected ticker: %+v", ticker)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["books_synced"].(float64) != 1 {
		t.Fatalf("unexpected health body: %v", body)
	}
}
