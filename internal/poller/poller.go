package poller

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/marketstream/internal/connection"
	"github.com/rickgao/marketstream/internal/model"
	"github.com/rickgao/marketstream/internal/router"
)

// QuoteSource fetches the latest quote for a symbol.
type QuoteSource interface {
	GetQuote(ctx context.Context, symbol string) (model.Quote, error)
}

// rateLimitError is implemented by source errors that signal provider rate limiting.
type rateLimitError interface {
	IsRateLimit() bool
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Poll interval (default: 5s)
	Concurrency int           // Max concurrent requests (default: 8)
	Timeout     time.Duration // Per-request timeout (default: 10s)
	BufferSize  int           // Frame channel buffer (default: 1000)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Second,
		Concurrency: 8,
		Timeout:     10 * time.Second,
		BufferSize:  1000,
	}
}

// Option configures optional Client dependencies.
type Option func(*Client)

// WithClock replaces the clock driving the poll ticker.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		c.clock = clk
	}
}

// Stats is a snapshot of poll counters.
type Stats struct {
	Cycles   int64
	Fetched  int64
	Failures int64
	Emitted  int64
}

// Client polls a QuoteSource and presents the results as a provider connection.
type Client struct {
	cfg    Config
	source QuoteSource
	logger *slog.Logger
	clock  clock.Clock

	messages chan connection.TimestampedMessage
	errors   chan error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	symbols   map[string]int64 // symbol → last emitted quote timestamp
	connected bool
	closed    bool

	cycles   atomic.Int64
	fetched  atomic.Int64
	failures atomic.Int64
	emitted  atomic.Int64
}

// New creates a polling client.
func New(cfg Config, source QuoteSource, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = d.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = d.BufferSize
	}

	c := &Client{
		cfg:      cfg,
		source:   source,
		logger:   logger.With("component", "poller"),
		clock:    clock.New(),
		messages: make(chan connection.TimestampedMessage, cfg.BufferSize),
		errors:   make(chan error, 1),
		symbols:  make(map[string]int64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dialer returns a DialFunc that starts a fresh polling client per call.
func Dialer(cfg Config, source QuoteSource, logger *slog.Logger, opts ...Option) connection.DialFunc {
	return func(ctx context.Context) (connection.Client, error) {
		c := New(cfg, source, logger, opts...)
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Connect starts the polling loop. The loop outlives ctx; Close stops it.
func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return connection.ErrAlreadyClosed
	}
	if c.connected {
		return nil
	}
	c.connected = true

	c.ctx, c.cancel = context.WithCancel(context.Background())
	ticker := c.clock.Ticker(c.cfg.Interval)
	c.wg.Add(1)
	go c.run(ticker)

	c.logger.Info("poller started",
		"interval", c.cfg.Interval,
		"concurrency", c.cfg.Concurrency,
	)
	return nil
}

// Close stops polling. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	c.logger.Info("poller stopped", "cycles", c.cycles.Load())
	return nil
}

// Send interprets an outbound protocol frame.
func (c *Client) Send(data []byte) error {
	cmd, err := router.ParseCommand(data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return connection.ErrNotConnected
	}

	switch cmd.Type {
	case router.TypeSubscribe:
		if _, ok := c.symbols[cmd.Symbol]; !ok {
			c.symbols[cmd.Symbol] = 0
		}
	case router.TypeUnsubscribe:
		delete(c.symbols, cmd.Symbol)
	}
	return nil
}

// Messages returns the frame channel.
func (c *Client) Messages() <-chan connection.TimestampedMessage {
	return c.messages
}

// Errors returns the error channel.
func (c *Client) Errors() <-chan error {
	return c.errors
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Symbols returns the polled symbol set.
func (c *Client) Symbols() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Stats returns poll counters.
func (c *Client) Stats() Stats {
	return Stats{
		Cycles:   c.cycles.Load(),
		Fetched:  c.fetched.Load(),
		Failures: c.failures.Load(),
		Emitted:  c.emitted.Load(),
	}
}

// run is the main polling loop.
func (c *Client) run(ticker *clock.Ticker) {
	defer c.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.pollAll()
		}
	}
}

// pollAll fetches quotes for all symbols concurrently and emits one frame.
func (c *Client) pollAll() {
	start := c.clock.Now()
	symbols := c.Symbols()
	if len(symbols) == 0 {
		return
	}
	c.cycles.Add(1)

	var (
		mu          sync.Mutex
		quotes      []model.Quote
		rateLimited atomic.Bool
	)

	g := new(errgroup.Group)
	g.SetLimit(c.cfg.Concurrency)

	for _, symbol := range symbols {
		if c.ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			q, err := c.pollSymbol(symbol)
			if err != nil {
				c.failures.Add(1)
				var rl rateLimitError
				if errors.As(err, &rl) && rl.IsRateLimit() {
					rateLimited.Store(true)
					return nil
				}
				c.logger.Warn("failed to poll symbol", "symbol", symbol, "error", err)
				return nil
			}
			c.fetched.Add(1)

			mu.Lock()
			quotes = append(quotes, q)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	if c.ctx.Err() != nil {
		return
	}

	if rateLimited.Load() {
		c.logger.Warn("quote source rate limited")
		c.emit(router.EncodeError(http.StatusTooManyRequests, "quote source rate limit exceeded"))
		return
	}

	fresh := c.advance(quotes)
	if len(fresh) > 0 {
		c.emit(router.EncodeTrades(fresh))
	}

	c.logger.Debug("poll cycle complete",
		"symbols", len(symbols),
		"fresh", len(fresh),
		"duration", c.clock.Since(start),
	)
}

// pollSymbol fetches a single symbol's quote.
func (c *Client) pollSymbol(symbol string) (model.Quote, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.Timeout)
	defer cancel()
	return c.source.GetQuote(ctx, symbol)
}

// advance keeps quotes that are newer than the last emitted one for a
// still-subscribed symbol, in symbol order.
func (c *Client) advance(quotes []model.Quote) []model.Quote {
	c.mu.Lock()
	defer c.mu.Unlock()

	sort.Slice(quotes, func(i, j int) bool { return quotes[i].Symbol < quotes[j].Symbol })

	fresh := quotes[:0]
	for _, q := range quotes {
		last, ok := c.symbols[q.Symbol]
		if !ok || q.TimestampMillis <= last {
			continue
		}
		c.symbols[q.Symbol] = q.TimestampMillis
		fresh = append(fresh, q)
	}
	return fresh
}

func (c *Client) emit(data []byte) {
	msg := connection.TimestampedMessage{Data: data, ReceivedAt: c.clock.Now()}
	select {
	case c.messages <- msg:
		c.emitted.Add(1)
	default:
		c.logger.Warn("frame buffer full, dropping poll result")
	}
}
