package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultProviderKind       = ProviderFinnhub
	DefaultWSURL              = "wss://ws.finnhub.io"
	DefaultRestURL            = "https://finnhub.io/api/v1"
	DefaultAPITimeout         = 10 * time.Second
	DefaultMaxRetries         = 3
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 30 * time.Second
	DefaultRateLimitCooldown  = 60 * time.Second
	DefaultSubscribeSpacing   = 250 * time.Millisecond
	DefaultConnectTimeout     = 15 * time.Second
	DefaultPingInterval       = 30 * time.Second
	DefaultPingTimeout        = 90 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultBufferSize         = 10000
	DefaultPollInterval       = 5 * time.Second
	DefaultPollConcurrency    = 8
	DefaultPollTimeout        = 10 * time.Second
	DefaultSimBasePrice       = 100.0
	DefaultSimVolatility      = 0.002
	DefaultSimMaxVolume       = 500
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 4
	DefaultMinConns           = 1
	DefaultStoreBatchSize     = 500
	DefaultStoreFlushInterval = 1 * time.Second
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
	DefaultLogOutput          = "stdout"
	DefaultLogMaxSizeMB       = 100
	DefaultLogMaxAgeDays      = 7
	DefaultLogMaxBackups      = 5
)

func (c *StreamerConfig) applyDefaults() {
	// Provider defaults
	if c.Provider.Kind == "" {
		c.Provider.Kind = DefaultProviderKind
	}
	if c.Provider.WSURL == "" {
		c.Provider.WSURL = DefaultWSURL
	}
	if c.Provider.RestURL == "" {
		c.Provider.RestURL = DefaultRestURL
	}
	if c.Provider.Timeout == 0 {
		c.Provider.Timeout = DefaultAPITimeout
	}
	if c.Provider.MaxRetries == 0 {
		c.Provider.MaxRetries = DefaultMaxRetries
	}

	// Stream defaults
	s := &c.Stream
	if s.ReconnectBaseDelay == 0 {
		s.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if s.ReconnectMaxDelay == 0 {
		s.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if s.RateLimitCooldown == 0 {
		s.RateLimitCooldown = DefaultRateLimitCooldown
	}
	if s.SubscribeSpacing == 0 {
		s.SubscribeSpacing = DefaultSubscribeSpacing
	}
	if s.ConnectTimeout == 0 {
		s.ConnectTimeout = DefaultConnectTimeout
	}
	if s.PingInterval == 0 {
		s.PingInterval = DefaultPingInterval
	}
	if s.PingTimeout == 0 {
		s.PingTimeout = DefaultPingTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.BufferSize == 0 {
		s.BufferSize = DefaultBufferSize
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.Concurrency == 0 {
		c.Poller.Concurrency = DefaultPollConcurrency
	}
	if c.Poller.Timeout == 0 {
		c.Poller.Timeout = DefaultPollTimeout
	}

	// Simulator defaults
	if c.Simulator.BasePrice == 0 {
		c.Simulator.BasePrice = DefaultSimBasePrice
	}
	if c.Simulator.Volatility == 0 {
		c.Simulator.Volatility = DefaultSimVolatility
	}
	if c.Simulator.MaxVolume == 0 {
		c.Simulator.MaxVolume = DefaultSimMaxVolume
	}

	// Store defaults
	if c.Store.BatchSize == 0 {
		c.Store.BatchSize = DefaultStoreBatchSize
	}
	if c.Store.FlushInterval == 0 {
		c.Store.FlushInterval = DefaultStoreFlushInterval
	}
	applyDBDefaults(&c.Store.Database)

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if c.Log.Output == "" {
		c.Log.Output = DefaultLogOutput
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = DefaultLogMaxAgeDays
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = DefaultLogMaxBackups
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
