package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rickgao/marketstream/internal/logging"
)

// Validate checks that all required fields are set and values are valid.
func (c *StreamerConfig) Validate() error {
	if err := c.Provider.validate(); err != nil {
		return err
	}
	if err := c.Stream.validate(); err != nil {
		return err
	}

	if c.Provider.Kind != ProviderFinnhub {
		if c.Poller.Interval <= 0 {
			return errors.New("poller.interval must be > 0")
		}
		if c.Poller.Concurrency < 1 {
			return errors.New("poller.concurrency must be >= 1")
		}
	}

	if c.Provider.Kind == ProviderSim {
		if c.Simulator.BasePrice <= 0 {
			return errors.New("simulator.base_price must be > 0")
		}
		if c.Simulator.Volatility < 0 {
			return errors.New("simulator.volatility must be >= 0")
		}
		if c.Simulator.MaxVolume < 1 {
			return errors.New("simulator.max_volume must be >= 1")
		}
	}

	for i, s := range c.Symbols.Watch {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("symbols.watch[%d] is empty", i)
		}
	}

	if c.Store.Enabled {
		if err := c.Store.Database.validate("store.database"); err != nil {
			return err
		}
		if c.Store.BatchSize < 1 {
			return errors.New("store.batch_size must be >= 1")
		}
		if c.Store.FlushInterval <= 0 {
			return errors.New("store.flush_interval must be > 0")
		}
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (p *ProviderConfig) validate() error {
	switch p.Kind {
	case ProviderFinnhub:
		if err := validateURL("provider.ws_url", p.WSURL, "ws", "wss"); err != nil {
			return err
		}
		if p.APIKey == "" && p.APIKeyPath == "" {
			return errors.New("provider.api_key or provider.api_key_path is required for finnhub")
		}
	case ProviderPoll:
		if err := validateURL("provider.rest_url", p.RestURL, "http", "https"); err != nil {
			return err
		}
		if p.APIKey == "" && p.APIKeyPath == "" {
			return errors.New("provider.api_key or provider.api_key_path is required for poll")
		}
	case ProviderSim:
	default:
		return fmt.Errorf("provider.kind must be one of finnhub, poll, sim, got %q", p.Kind)
	}
	if p.MaxRetries < 0 {
		return errors.New("provider.max_retries must be >= 0")
	}
	return nil
}

func (s *StreamConfig) validate() error {
	if s.ReconnectBaseDelay <= 0 {
		return errors.New("stream.reconnect_base_delay must be > 0")
	}
	if s.ReconnectMaxDelay < s.ReconnectBaseDelay {
		return fmt.Errorf("stream.reconnect_max_delay (%s) cannot be less than reconnect_base_delay (%s)",
			s.ReconnectMaxDelay, s.ReconnectBaseDelay)
	}
	if s.RateLimitCooldown <= s.ReconnectMaxDelay {
		return fmt.Errorf("stream.rate_limit_cooldown (%s) must exceed reconnect_max_delay (%s)",
			s.RateLimitCooldown, s.ReconnectMaxDelay)
	}
	if s.SubscribeSpacing < 0 {
		return errors.New("stream.subscribe_spacing must be >= 0")
	}
	if s.PingTimeout <= s.PingInterval {
		return fmt.Errorf("stream.ping_timeout (%s) must exceed ping_interval (%s)", s.PingTimeout, s.PingInterval)
	}
	if s.BufferSize < 1 {
		return errors.New("stream.buffer_size must be >= 1")
	}
	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be a %s URL, got %q", field, strings.Join(schemes, "/"), raw)
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
