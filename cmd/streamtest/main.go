// streamtest dials the configured provider directly, subscribes to symbols
// and prints every parsed frame to the console. It bypasses the subscription
// manager, so there is no reconnect or pacing.
// Usage: go run ./cmd/streamtest --config configs/streamer.example.yaml --symbols AAPL,MSFT
//
// Required environment variables (finnhub and poll providers):
//
//	FINNHUB_API_KEY - Your API key from the Finnhub dashboard
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rickgao/marketstream/internal/config"
	"github.com/rickgao/marketstream/internal/connection"
	"github.com/rickgao/marketstream/internal/logging"
	"github.com/rickgao/marketstream/internal/provider"
	"github.com/rickgao/marketstream/internal/router"
	"github.com/rickgao/marketstream/internal/symbol"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	configPath := flag.String("config", "configs/streamer.example.yaml", "path to config file")
	symbolsFlag := flag.String("symbols", "", "comma-separated symbols, overrides symbols.watch")
	verbose := flag.Bool("verbose", false, "print raw frame JSON")
	flag.Parse()

	// Setup logger
	logger, err := logging.NewWithWriter(os.Stderr, "text", slog.LevelDebug)
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}

	// Load config
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	watch := cfg.Symbols.Watch
	if *symbolsFlag != "" {
		watch = strings.Split(*symbolsFlag, ",")
	}
	symbols := symbol.NewNormalizer(cfg.Symbols.SuffixMap).NormalizeAll(watch)
	if len(symbols) == 0 {
		logger.Error("no symbols given; set symbols.watch or --symbols")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	dial, err := provider.Build(cfg, logger)
	if err != nil {
		logger.Error("failed to build provider", "error", err)
		os.Exit(1)
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, cfg.Stream.ConnectTimeout)
	client, err := dial(dialCtx)
	dialCancel()
	if err != nil {
		logger.Error("failed to connect", "provider", cfg.Provider.Kind, "error", err)
		os.Exit(1)
	}
	defer client.Close()

	for _, sym := range symbols {
		if err := client.Send(router.EncodeSubscribe(sym)); err != nil {
			logger.Error("subscribe failed", "symbol", sym, "error", err)
			os.Exit(1)
		}
		fmt.Printf("[SUBSCRIBE] %s\n", sym)
	}

	stats := &frameStats{}
	go printStats(ctx, stats, logger)

	logger.Info("streaming started - press Ctrl+C to stop", "provider", cfg.Provider.Kind, "symbols", symbols)

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown complete", "frames", stats.frames.Load(), "trades", stats.trades.Load())
			return
		case err := <-client.Errors():
			logger.Error("connection error", "error", err)
			return
		case msg, ok := <-client.Messages():
			if !ok {
				logger.Info("message stream closed")
				return
			}
			printFrame(client, msg, stats, *verbose)
		}
	}
}

type frameStats struct {
	frames      atomic.Int64
	trades      atomic.Int64
	parseErrors atomic.Int64
}

func printFrame(client connection.Client, msg connection.TimestampedMessage, stats *frameStats, verbose bool) {
	stats.frames.Add(1)

	if verbose {
		var raw json.RawMessage = msg.Data
		data, err := json.MarshalIndent(raw, "", "  ")
		if err == nil {
			fmt.Printf("[RAW] %s\n", data)
		}
	}

	frame, err := router.ParseFrame(msg.Data)
	if err != nil {
		stats.parseErrors.Add(1)
		fmt.Printf("[PARSE ERROR] %v: %s\n", err, msg.Data)
		return
	}

	switch frame.Kind {
	case router.KindTrade:
		for _, e := range frame.Trades {
			stats.trades.Add(1)
			fmt.Printf("[TRADE] symbol=%s price=%s volume=%s time=%s ticks=%d\n",
				e.Symbol, e.Price, e.Volume, e.Time().UTC().Format(time.RFC3339Nano), frame.Ticks)
		}
	case router.KindPing:
		fmt.Println("[PING]")
		if err := client.Send(router.EncodePong()); err != nil {
			fmt.Printf("[PONG FAILED] %v\n", err)
		}
	case router.KindError:
		fmt.Printf("[ERROR] code=%d msg=%q rate_limited=%t\n", frame.Code, frame.Message, frame.RateLimited())
	default:
		fmt.Printf("[UNKNOWN] type=%q\n", frame.Type)
	}
}

func printStats(ctx context.Context, stats *frameStats, logger *slog.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("stats",
				"frames", stats.frames.Load(),
				"trades", stats.trades.Load(),
				"parse_errors", stats.parseErrors.Load(),
			)
		}
	}
}
