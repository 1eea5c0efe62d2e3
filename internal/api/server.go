// Package api exposes the synchronized market state to UI collaborators over
// HTTP. It is a read-only surface; all state is produced elsewhere.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	appconfig "marketsync/config"
	"marketsync/internal/book"
	"marketsync/logger"
)

// BookSource is a pull-style reader of order book state. *book.Reconciler
// implements it.
type BookSource interface {
	View() *book.View
}

// Server hosts the JSON API publishing book metrics and tickers.
type Server struct {
	cfg        appconfig.APIConfig
	log        *logger.Log
	books      map[string]BookSource
	tickers    *TickerStore
	httpServer *http.Server
}

// NewServer constructs the API server when the feature is enabled. When
// disabled the returned server is nil and safe to Run.
func NewServer(cfg appconfig.APIConfig, books map[string]BookSource, tickers *TickerStore) *Server {
	if !cfg.Enabled {
		return nil
	}

	normalized := make(map[string]BookSource, len(books))
	for symbol, source := range books {
		normalized[strings.ToUpper(symbol)] = source
	}

	return &Server{
		cfg:     cfg,
		log:     logger.GetLogger(),
		books:   normalized,
		tickers: tickers,
	}
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the server fails.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", s.handleHealth)
	engine.GET("/api/ticker/:symbol", s.handleTicker)
	engine.GET("/api/book/:symbol", s.handleBook)

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	s.log.WithComponent("api_server").WithFields(logger.Fields{
		"address": s.cfg.Address,
	}).Info("api server started")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	synced := 0
	for _, source := range s.books {
		if source.View().Synced {
			synced++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"books":        len(s.books),
		"books_synced": synced,
	})
}

func (s *Server) handleTicker(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	ticker, ok := s.tickers.Latest(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no ticker for symbol"})
		return
	}
	c.JSON(http.StatusOK, ticker)
}

func (s *Server) handleBook(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	source, ok := s.books[symbol]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "symbol not tracked"})
		return
	}
	c.JSON(http.StatusOK, source.View())
}

// Handler builds the gin engine without binding a listener. Used by tests.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/healthz", s.handleHealth)
	engine.GET("/api/ticker/:symbol", s.handleTicker)
	engine.GET("/api/book/:symbol", s.handleBook)
	return engine
}
