// Package provider turns configuration into the dial function the
// subscription manager connects through. It is the only place that knows
// which kinds of market-data source exist.
package provider

import (
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"

	"github.com/rickgao/marketstream/internal/api"
	"github.com/rickgao/marketstream/internal/auth"
	"github.com/rickgao/marketstream/internal/config"
	"github.com/rickgao/marketstream/internal/connection"
	"github.com/rickgao/marketstream/internal/poller"
	"github.com/rickgao/marketstream/internal/sim"
)

type options struct {
	clock clock.Clock
}

// Option configures Build.
type Option func(*options)

// WithClock drives the poll and sim providers from clk.
func WithClock(clk clock.Clock) Option {
	return func(o *options) {
		o.clock = clk
	}
}

// Build returns the DialFunc for cfg.Provider.Kind.
func Build(cfg *config.StreamerConfig, logger *slog.Logger, opts ...Option) (connection.DialFunc, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := options{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}

	switch cfg.Provider.Kind {
	case config.ProviderFinnhub:
		creds, err := auth.LoadCredentials(cfg.Provider.APIKey, cfg.Provider.APIKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load credentials: %w", err)
		}
		logger.Info("provider selected", "kind", cfg.Provider.Kind, "url", cfg.Provider.WSURL, "key", creds.Redacted())
		return connection.WebsocketDialer(ClientConfig(cfg, creds), logger), nil

	case config.ProviderPoll:
		creds, err := auth.LoadCredentials(cfg.Provider.APIKey, cfg.Provider.APIKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load credentials: %w", err)
		}
		rest := api.NewClient(cfg.Provider.RestURL, creds,
			api.WithTimeout(cfg.Provider.Timeout),
			api.WithRetries(cfg.Provider.MaxRetries, api.DefaultRetryBackoff),
			api.WithLogger(logger),
		)
		logger.Info("provider selected", "kind", cfg.Provider.Kind, "url", cfg.Provider.RestURL, "key", creds.Redacted())
		return poller.Dialer(PollerConfig(cfg), rest, logger, poller.WithClock(o.clock)), nil

	case config.ProviderSim:
		src := sim.New(SimConfig(cfg), sim.WithClock(o.clock))
		logger.Warn("provider selected: simulated prices, not market data", "kind", cfg.Provider.Kind)
		return poller.Dialer(PollerConfig(cfg), src, logger, poller.WithClock(o.clock)), nil

	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Provider.Kind)
	}
}

// ManagerConfig maps the stream section onto the manager's settings.
func ManagerConfig(cfg *config.StreamerConfig) connection.ManagerConfig {
	s := cfg.Stream
	return connection.ManagerConfig{
		ReconnectBaseDelay: s.ReconnectBaseDelay,
		ReconnectMaxDelay:  s.ReconnectMaxDelay,
		RateLimitCooldown:  s.RateLimitCooldown,
		SubscribeSpacing:   s.SubscribeSpacing,
		ConnectTimeout:     s.ConnectTimeout,
	}
}

// ClientConfig maps the provider and stream sections onto websocket settings.
func ClientConfig(cfg *config.StreamerConfig, creds *auth.Credentials) connection.ClientConfig {
	s := cfg.Stream
	return connection.ClientConfig{
		URL:              cfg.Provider.WSURL,
		Credentials:      creds,
		HandshakeTimeout: s.ConnectTimeout,
		PingInterval:     s.PingInterval,
		PingTimeout:      s.PingTimeout,
		WriteTimeout:     s.WriteTimeout,
		BufferSize:       s.BufferSize,
	}
}

// PollerConfig maps the poller section.
func PollerConfig(cfg *config.StreamerConfig) poller.Config {
	return poller.Config{
		Interval:    cfg.Poller.Interval,
		Concurrency: cfg.Poller.Concurrency,
		Timeout:     cfg.Poller.Timeout,
		BufferSize:  cfg.Stream.BufferSize,
	}
}

// SimConfig maps the simulator section.
func SimConfig(cfg *config.StreamerConfig) sim.Config {
	return sim.Config{
		BasePrice:  cfg.Simulator.BasePrice,
		Volatility: cfg.Simulator.Volatility,
		MaxVolume:  cfg.Simulator.MaxVolume,
		Seed:       cfg.Simulator.Seed,
	}
}
