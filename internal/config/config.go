package config

import (
	"time"

	"github.com/rickgao/marketstream/internal/logging"
)

// Provider kinds.
const (
	ProviderFinnhub = "finnhub" // push websocket
	ProviderPoll    = "poll"    // REST quote polling
	ProviderSim     = "sim"     // simulated demo prices
)

// StreamerConfig is the root configuration for a streamer instance.
type StreamerConfig struct {
	Provider  ProviderConfig  `yaml:"provider"`
	Stream    StreamConfig    `yaml:"stream"`
	Poller    PollerConfig    `yaml:"poller"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Symbols   SymbolsConfig   `yaml:"symbols"`
	Store     StoreConfig     `yaml:"store"`
	Log       logging.Config  `yaml:"log"`
	Debug     DebugConfig     `yaml:"debug"`
}

// ProviderConfig selects the market-data source and its endpoints.
type ProviderConfig struct {
	Kind       string        `yaml:"kind"`
	WSURL      string        `yaml:"ws_url"`
	RestURL    string        `yaml:"rest_url"`
	APIKey     string        `yaml:"api_key"`      // Inline key, usually ${FINNHUB_API_KEY}
	APIKeyPath string        `yaml:"api_key_path"` // File holding the key; used when api_key is empty
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// StreamConfig holds subscription manager and websocket settings.
type StreamConfig struct {
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	RateLimitCooldown  time.Duration `yaml:"rate_limit_cooldown"`
	SubscribeSpacing   time.Duration `yaml:"subscribe_spacing"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	PingTimeout        time.Duration `yaml:"ping_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	BufferSize         int           `yaml:"buffer_size"`
}

// PollerConfig holds settings for the poll and sim providers.
type PollerConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
}

// SimulatorConfig tunes the demo price walk.
type SimulatorConfig struct {
	BasePrice  float64 `yaml:"base_price"`
	Volatility float64 `yaml:"volatility"`
	MaxVolume  int64   `yaml:"max_volume"`
	Seed       uint64  `yaml:"seed"`
}

// SymbolsConfig lists the symbols to watch and how to normalize them.
type SymbolsConfig struct {
	Watch     []string          `yaml:"watch"`
	SuffixMap map[string]string `yaml:"suffix_map"` // nil = symbol.DefaultSuffixes
}

// StoreConfig enables recording delivered trades to TimescaleDB.
type StoreConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// DebugConfig holds the debug HTTP server settings.
type DebugConfig struct {
	Addr string `yaml:"addr"` // empty disables the server
}
