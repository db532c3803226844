package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/marketstream/internal/model"
	"github.com/rickgao/marketstream/internal/router"
)

const insertTrade = `
	INSERT INTO trade_events (symbol, exchange_ts, received_at, price, volume)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (symbol, exchange_ts) DO NOTHING`

// TradeWriter batches trade events into the trade_events table.
type TradeWriter struct {
	cfg    WriterConfig
	logger *slog.Logger
	db     BatchSender
	now    func() time.Time

	// Queue between Record and the consumer goroutine
	input *router.GrowableBuffer[tradeRow]

	// Batching
	batch       []tradeRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics WriterMetrics
}

// NewTradeWriter creates a new TradeWriter.
func NewTradeWriter(cfg WriterConfig, db BatchSender, logger *slog.Logger) *TradeWriter {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultWriterConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = d.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = d.FlushInterval
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = d.FlushTimeout
	}
	return &TradeWriter{
		cfg:    cfg,
		db:     db,
		logger: logger.With("component", "trade_writer"),
		now:    time.Now,
		ctx:    context.Background(),
		input:  router.NewGrowableBuffer[tradeRow](cfg.BatchSize),
		batch:  make([]tradeRow, 0, cfg.BatchSize),
	}
}

// Record queues e for writing. It never blocks and is safe to use as a
// model.TradeHandler.
func (w *TradeWriter) Record(e model.TradeEvent) {
	row := w.transform(e)
	ok := w.input.Send(row)

	w.batchMu.Lock()
	if ok {
		w.metrics.Received++
	} else {
		w.metrics.Dropped++
	}
	w.batchMu.Unlock()
}

// Start begins consuming events and writing to the database.
func (w *TradeWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("trade writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains queued events, writes the final batch and shuts down. It
// returns ctx.Err() only when the drain did not finish in time.
func (w *TradeWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping trade writer")

	// Closing the queue lets consumeLoop drain it and exit. Cancelling stops
	// flushLoop; flush detaches from cancellation so queued rows still land.
	w.input.Close()
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("trade writer stop timed out")
		err = ctx.Err()
	}

	// Final flush
	w.flush(ctx)

	stats := w.Stats()
	w.logger.Info("trade writer stopped",
		"inserts", stats.Inserts,
		"conflicts", stats.Conflicts,
		"errors", stats.Errors,
	)
	return err
}

// Stats returns current metrics.
func (w *TradeWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	m := w.metrics
	m.Queued = w.input.Len()
	return m
}

// consumeLoop moves queued rows into the batch until the queue is closed and
// empty. Rows already waiting are taken in one pass.
func (w *TradeWriter) consumeLoop() {
	defer w.wg.Done()

	rows := make([]tradeRow, 0, w.cfg.BatchSize)
	for {
		row, ok := w.input.Receive()
		if !ok {
			return
		}
		rows = append(rows[:0], row)
		for len(rows) < w.cfg.BatchSize {
			next, ok := w.input.TryReceive()
			if !ok {
				break
			}
			rows = append(rows, next)
		}
		w.handleRows(rows)
	}
}

// flushLoop periodically flushes the batch.
func (w *TradeWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// handleRows adds rows to the batch, flushing each time it fills.
func (w *TradeWriter) handleRows(rows []tradeRow) {
	for len(rows) > 0 {
		w.batchMu.Lock()
		n := min(len(rows), max(w.cfg.BatchSize-len(w.batch), 0))
		w.batch = append(w.batch, rows[:n]...)
		shouldFlush := len(w.batch) >= w.cfg.BatchSize
		w.batchMu.Unlock()
		rows = rows[n:]

		if shouldFlush {
			w.flush(w.ctx)
		}
	}
}

// transform converts a TradeEvent to a tradeRow.
func (w *TradeWriter) transform(e model.TradeEvent) tradeRow {
	return tradeRow{
		Symbol:     e.Symbol,
		ExchangeTs: e.TimestampMillis,
		ReceivedAt: w.now().UnixMicro(),
		Price:      e.Price,
		Volume:     e.Volume,
	}
}

// flush writes the current batch to the database.
func (w *TradeWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]tradeRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	// A cancelled writer context must not lose the final batch.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.FlushTimeout)
	defer cancel()

	start := time.Now()
	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed trades",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows in one pgx.Batch with ON CONFLICT DO NOTHING.
func (w *TradeWriter) batchInsert(ctx context.Context, rows []tradeRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertTrade, r.Symbol, r.ExchangeTs, r.ReceivedAt, r.Price, r.Volume)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
