// Package sim provides a simulated quote source for demos and local
// development. It is only used when explicitly configured; prices are a
// random walk and carry no market meaning.
package sim

import (
	"context"
	"hash/fnv"
	"math/rand/v2"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"

	"github.com/rickgao/marketstream/internal/model"
)

// Config holds simulator configuration.
type Config struct {
	BasePrice  float64 // Centre of the per-symbol starting price range
	Volatility float64 // Std-dev of the per-quote relative move
	MaxVolume  int64   // Volumes are uniform in [1, MaxVolume]
	Seed       uint64  // 0 = nondeterministic
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePrice:  100,
		Volatility: 0.002,
		MaxVolume:  500,
	}
}

// Option configures optional Source dependencies.
type Option func(*Source)

// WithClock replaces the clock used for quote timestamps.
func WithClock(clk clock.Clock) Option {
	return func(s *Source) {
		s.clock = clk
	}
}

var minPrice = decimal.New(1, -2)

type walk struct {
	price decimal.Decimal
	last  int64
}

// Source implements poller.QuoteSource with per-symbol random walks.
type Source struct {
	cfg   Config
	clock clock.Clock

	mu    sync.Mutex
	rng   *rand.Rand
	walks map[string]*walk
}

// New creates a simulated source.
func New(cfg Config, opts ...Option) *Source {
	d := DefaultConfig()
	if cfg.BasePrice <= 0 {
		cfg.BasePrice = d.BasePrice
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = d.Volatility
	}
	if cfg.MaxVolume <= 0 {
		cfg.MaxVolume = d.MaxVolume
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	s := &Source{
		cfg:   cfg,
		clock: clock.New(),
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		walks: make(map[string]*walk),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetQuote advances symbol's walk by one step.
func (s *Source) GetQuote(ctx context.Context, symbol string) (model.Quote, error) {
	if err := ctx.Err(); err != nil {
		return model.Quote{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.walks[symbol]
	if !ok {
		w = &walk{price: s.startPrice(symbol)}
		s.walks[symbol] = w
	} else {
		step := decimal.NewFromFloat(1 + s.rng.NormFloat64()*s.cfg.Volatility)
		w.price = decimal.Max(w.price.Mul(step).Round(2), minPrice)
	}

	// Timestamps strictly increase so every call produces a fresh quote.
	ts := s.clock.Now().UnixMilli()
	if ts <= w.last {
		ts = w.last + 1
	}
	w.last = ts

	return model.Quote{
		Symbol:          symbol,
		Price:           w.price,
		Volume:          decimal.NewFromInt(s.rng.Int64N(s.cfg.MaxVolume) + 1),
		TimestampMillis: ts,
	}, nil
}

// startPrice spreads symbols over [0.5, 1.5) * BasePrice, stable per symbol.
func (s *Source) startPrice(symbol string) decimal.Decimal {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	factor := 0.5 + float64(h.Sum32()%1000)/1000
	return decimal.Max(decimal.NewFromFloat(s.cfg.BasePrice*factor).Round(2), minPrice)
}
