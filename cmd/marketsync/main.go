package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	appconfig "marketsync/config"
	"marketsync/internal/api"
	"marketsync/internal/book"
	"marketsync/internal/lifecycle"
	"marketsync/internal/metrics"
	"marketsync/internal/stream"
	"marketsync/internal/wire"
	"marketsync/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := appconfig.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Marketsync.Name,
		"version": cfg.Marketsync.Version,
		"env":     appconfig.AppEnvironment(),
	}).Info("starting marketsync")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Enabled {
		metrics.Init(cfg.Metrics.Address)
		cw := cfg.Metrics.CloudWatch
		if cw.Enabled {
			metrics.StartCloudWatch(ctx, cw.Region, cw.Namespace, cw.Interval)
		}
	}

	symbols := cfg.Book.Symbols
	if len(symbols) == 0 {
		symbols = []string{"BTCUSDT"}
	}
	primary := symbols[0]

	dialer := func(dialCtx context.Context, key stream.Key) (stream.EventSource, error) {
		return wire.Dial(dialCtx, cfg.Source.Binance.WsURL, key.Path(), cfg.Stream.PingInterval)
	}

	mux := stream.NewMultiplexer(ctx, cfg.Stream, dialer, stream.TickerKey(primary))
	defer mux.Close()

	fetcher := wire.NewSnapshotFetcher(cfg)

	tickers := api.NewTickerStore()
	tickerSub, err := mux.SubscribeTicker(primary, tickers.Update)
	if err != nil {
		log.WithError(err).Error("Failed to subscribe to ticker stream")
		os.Exit(1)
	}
	defer tickerSub.Cancel()

	books := make(map[string]api.BookSource, len(symbols))
	reconcilers := make([]*book.Reconciler, 0, len(symbols))
	for _, symbol := range symbols {
		r := book.NewReconciler(cfg.Book, symbol, mux, fetcher.Fetch)
		if err := r.Start(ctx); err != nil {
			log.WithError(err).WithFields(logger.Fields{"symbol": symbol}).Error("Failed to start reconciler")
			os.Exit(1)
		}
		defer r.Stop()
		books[symbol] = r
		reconcilers = append(reconcilers, r)
	}

	supervisor := lifecycle.NewSupervisor(cfg.Lifecycle.ResumeSettle)
	supervisor.Register(mux)
	for _, r := range reconcilers {
		supervisor.RegisterResyncer(r)
	}
	defer supervisor.Close()

	server := api.NewServer(cfg.API, books, tickers)
	go func() {
		if err := server.Run(ctx); err != nil {
			log.WithError(err).Error("api server failed")
			cancel()
		}
	}()

	// SIGUSR1/SIGUSR2 mirror the host application's background/foreground
	// transitions; SIGINT/SIGTERM shut down.
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	visibilityCh := make(chan os.Signal, 4)
	signal.Notify(visibilityCh, syscall.SIGUSR1, syscall.SIGUSR2)

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return
		case sig := <-shutdownCh:
			log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
			return
		case sig := <-visibilityCh:
			if sig == syscall.SIGUSR1 {
				supervisor.Notify(lifecycle.Background)
			} else {
				supervisor.Notify(lifecycle.Foreground)
			}
		}
	}
}
