package writer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/marketstream/internal/model"
)

// fakeDB records queued batches. Rows whose symbol is in dup report a conflict.
type fakeDB struct {
	mu      sync.Mutex
	batches [][]any
	dup     map[string]bool
	err     error
}

func (f *fakeDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	defer f.mu.Unlock()

	var tags []pgconn.CommandTag
	var rows []any
	for _, q := range b.QueuedQueries {
		rows = append(rows, q.Arguments)
		if f.dup[q.Arguments[0].(string)] {
			tags = append(tags, pgconn.NewCommandTag("INSERT 0 0"))
		} else {
			tags = append(tags, pgconn.NewCommandTag("INSERT 0 1"))
		}
	}
	f.batches = append(f.batches, rows)
	return &fakeResults{tags: tags, err: f.err}
}

func (f *fakeDB) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

type fakeResults struct {
	tags []pgconn.CommandTag
	err  error
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	tag := r.tags[0]
	r.tags = r.tags[1:]
	return tag, nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }
func (r *fakeResults) QueryRow() pgx.Row        { return nil }
func (r *fakeResults) Close() error             { return nil }

func trade(symbol string, price string, ts int64) model.TradeEvent {
	return model.TradeEvent{
		Symbol:          symbol,
		Price:           decimal.RequireFromString(price),
		Volume:          decimal.NewFromInt(10),
		TimestampMillis: ts,
	}
}

func TestTradeWriter_Transform(t *testing.T) {
	w := NewTradeWriter(DefaultWriterConfig(), nil, nil)
	receivedAt := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return receivedAt }

	row := w.transform(trade("NSE:RELIANCE", "2901.35", 1705320000123))

	assert.Equal(t, "NSE:RELIANCE", row.Symbol)
	assert.Equal(t, int64(1705320000123), row.ExchangeTs)
	assert.Equal(t, receivedAt.UnixMicro(), row.ReceivedAt)
	assert.Equal(t, "2901.35", row.Price.String())
	assert.Equal(t, "10", row.Volume.String())
}

func TestTradeWriter_HandleRows_AddsToBatch(t *testing.T) {
	w := NewTradeWriter(WriterConfig{BatchSize: 100, FlushInterval: time.Hour}, &fakeDB{}, nil)

	w.handleRows([]tradeRow{w.transform(trade("AAPL", "187.5", 1))})

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	assert.Len(t, w.batch, 1)
}

func TestTradeWriter_FlushesFullBatch(t *testing.T) {
	db := &fakeDB{}
	w := NewTradeWriter(WriterConfig{BatchSize: 2, FlushInterval: time.Hour}, db, nil)

	w.handleRows([]tradeRow{w.transform(trade("AAPL", "1", 1))})
	require.Zero(t, db.rowCount(), "flushed before batch was full")

	w.handleRows([]tradeRow{w.transform(trade("MSFT", "2", 2))})
	require.Equal(t, 2, db.rowCount())

	stats := w.Stats()
	assert.Equal(t, int64(2), stats.Inserts)
	assert.Equal(t, int64(1), stats.Flushes)
}

func TestTradeWriter_SplitsOversizedInput(t *testing.T) {
	db := &fakeDB{}
	w := NewTradeWriter(WriterConfig{BatchSize: 2, FlushInterval: time.Hour}, db, nil)

	rows := make([]tradeRow, 0, 5)
	for i := int64(1); i <= 5; i++ {
		rows = append(rows, w.transform(trade("AAPL", "1", i)))
	}
	w.handleRows(rows)

	db.mu.Lock()
	sizes := make([]int, 0, len(db.batches))
	for _, b := range db.batches {
		sizes = append(sizes, len(b))
	}
	db.mu.Unlock()
	assert.Equal(t, []int{2, 2}, sizes)

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	assert.Len(t, w.batch, 1)
}

func TestTradeWriter_CountsConflicts(t *testing.T) {
	db := &fakeDB{dup: map[string]bool{"AAPL": true}}
	w := NewTradeWriter(WriterConfig{BatchSize: 10, FlushInterval: time.Hour}, db, nil)

	w.handleRows([]tradeRow{
		w.transform(trade("AAPL", "1", 1)),
		w.transform(trade("MSFT", "2", 2)),
	})
	w.flush(context.Background())

	stats := w.Stats()
	assert.Equal(t, int64(1), stats.Inserts)
	assert.Equal(t, int64(1), stats.Conflicts)
}

func TestTradeWriter_InsertError(t *testing.T) {
	db := &fakeDB{err: errors.New("connection reset")}
	w := NewTradeWriter(WriterConfig{BatchSize: 10, FlushInterval: time.Hour}, db, nil)

	w.handleRows([]tradeRow{w.transform(trade("AAPL", "1", 1))})
	w.flush(context.Background())

	stats := w.Stats()
	assert.Equal(t, int64(1), stats.Errors)
	assert.Zero(t, stats.Inserts)
	assert.Zero(t, stats.Flushes)
}

func TestTradeWriter_Lifecycle(t *testing.T) {
	db := &fakeDB{}
	w := NewTradeWriter(WriterConfig{BatchSize: 100, FlushInterval: time.Hour}, db, nil)

	require.NoError(t, w.Start(context.Background()))

	for i := int64(1); i <= 5; i++ {
		w.Record(trade("AAPL", "187.5", i))
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, w.Stop(stopCtx))
	assert.Less(t, time.Since(start), 500*time.Millisecond, "Stop waited for its deadline")

	// Stop drains the queue and writes the partial batch.
	assert.Equal(t, 5, db.rowCount())

	w.Record(trade("AAPL", "187.5", 6))
	stats := w.Stats()
	assert.Equal(t, int64(5), stats.Received)
	assert.Equal(t, int64(1), stats.Dropped)
	assert.Zero(t, stats.Queued)
}

func TestTradeWriter_StopEmptyReturnsPromptly(t *testing.T) {
	w := NewTradeWriter(WriterConfig{BatchSize: 10, FlushInterval: time.Hour}, &fakeDB{}, nil)
	require.NoError(t, w.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.NoError(t, w.Stop(ctx))
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestTradeWriter_StopBeforeStart(t *testing.T) {
	w := NewTradeWriter(DefaultWriterConfig(), &fakeDB{}, nil)
	assert.NoError(t, w.Stop(context.Background()))
}

func TestTradeWriter_QueuedBeforeStart(t *testing.T) {
	w := NewTradeWriter(DefaultWriterConfig(), &fakeDB{}, nil)

	w.Record(trade("AAPL", "1", 1))
	w.Record(trade("AAPL", "1", 2))

	assert.Equal(t, 2, w.Stats().Queued)
}

func TestTradeWriter_Stats(t *testing.T) {
	w := NewTradeWriter(DefaultWriterConfig(), nil, nil)

	stats := w.Stats()
	assert.Zero(t, stats.Inserts)
	assert.Zero(t, stats.Errors)
	assert.Zero(t, stats.Flushes)
}

func TestDefaultWriterConfig(t *testing.T) {
	cfg := DefaultWriterConfig()

	assert.Equal(t, 500, cfg.BatchSize)
	assert.Equal(t, time.Second, cfg.FlushInterval)
}
