// streamer runs the subscription manager against the configured provider,
// subscribes the watch list, and logs trades and connection status.
// Usage: go run ./cmd/streamer --config configs/streamer.example.yaml
//
// The finnhub and poll providers read their key from FINNHUB_API_KEY (via
// ${FINNHUB_API_KEY} in the config file); a .env file is loaded if present.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/marketstream/internal/config"
	"github.com/rickgao/marketstream/internal/connection"
	"github.com/rickgao/marketstream/internal/database"
	"github.com/rickgao/marketstream/internal/logging"
	"github.com/rickgao/marketstream/internal/model"
	"github.com/rickgao/marketstream/internal/provider"
	"github.com/rickgao/marketstream/internal/symbol"
	"github.com/rickgao/marketstream/internal/version"
	"github.com/rickgao/marketstream/internal/writer"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	configPath := flag.String("config", "configs/streamer.example.yaml", "path to config file")
	symbolsFlag := flag.String("symbols", "", "comma-separated symbols, overrides symbols.watch")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.New(cfg.Log)
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	logger.Info("starting streamer",
		"version", version.String(),
		"config", *configPath,
		"provider", cfg.Provider.Kind,
	)

	watch := cfg.Symbols.Watch
	if *symbolsFlag != "" {
		watch = strings.Split(*symbolsFlag, ",")
	}
	symbols := symbol.NewNormalizer(cfg.Symbols.SuffixMap).NormalizeAll(watch)
	if len(symbols) == 0 {
		logger.Warn("no symbols to watch; the manager will stay idle")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	dial, err := provider.Build(cfg, logger)
	if err != nil {
		logger.Error("failed to build provider", "error", err)
		os.Exit(1)
	}

	mgr := connection.NewManager(provider.ManagerConfig(cfg), dial, logger)
	if err := mgr.Start(ctx); err != nil {
		logger.Error("failed to start manager", "error", err)
		os.Exit(1)
	}

	consumerID := "streamer-" + uuid.NewString()
	mgr.OnConnectionStatus(consumerID, func(s model.Status) {
		logger.Info("connection status", "connected", s.Connected)
	})
	for _, sym := range symbols {
		mgr.Subscribe(sym, consumerID, func(e model.TradeEvent) {
			logger.Info("trade",
				"symbol", e.Symbol,
				"price", e.Price.String(),
				"volume", e.Volume.String(),
				"time", e.Time().UTC().Format(time.RFC3339Nano),
			)
		})
	}

	// Optional trade recorder, subscribed as its own consumer
	var store pinger
	var recorder *writer.TradeWriter
	recorderID := "recorder-" + uuid.NewString()
	if cfg.Store.Enabled {
		logger.Info("connecting to database", "url", database.Redacted(cfg.Store.Database))
		pool, err := database.Connect(ctx, cfg.Store.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := database.EnsureSchema(ctx, pool); err != nil {
			logger.Error("failed to create schema", "error", err)
			os.Exit(1)
		}
		store = pool

		recorder = writer.NewTradeWriter(writer.WriterConfig{
			BatchSize:     cfg.Store.BatchSize,
			FlushInterval: cfg.Store.FlushInterval,
		}, pool, logger)
		if err := recorder.Start(ctx); err != nil {
			logger.Error("failed to start trade writer", "error", err)
			os.Exit(1)
		}
		for _, sym := range symbols {
			mgr.Subscribe(sym, recorderID, recorder.Record)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Debug.Addr != "" {
		server := &http.Server{
			Addr:              cfg.Debug.Addr,
			Handler:           newDebugRouter(mgr, cfg.Provider.Kind, store, logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("starting debug server", "addr", cfg.Debug.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	logger.Info("streamer running", "consumer_id", consumerID, "symbols", symbols)

	// Wait for shutdown
	<-gctx.Done()
	cancel()
	if err := g.Wait(); err != nil {
		logger.Error("debug server error", "error", err)
	}

	// cancel already stopped the coordinator; Stop closes the provider
	// connection, which ends every subscription.
	logger.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := mgr.Stop(shutdownCtx); err != nil {
		logger.Error("manager stop", "error", err)
	}
	if recorder != nil {
		if err := recorder.Stop(shutdownCtx); err != nil {
			logger.Error("trade writer stop", "error", err)
		}
	}

	logger.Info("streamer stopped")
}
