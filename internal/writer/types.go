package writer

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// BatchSender sends a pgx batch. *pgxpool.Pool implements it.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// WriterConfig holds batching settings.
type WriterConfig struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// FlushTimeout bounds a single batch insert.
	FlushTimeout time.Duration
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     500,
		FlushInterval: time.Second,
		FlushTimeout:  10 * time.Second,
	}
}

// tradeRow is a row of the trade_events table.
type tradeRow struct {
	Symbol     string
	ExchangeTs int64 // Milliseconds
	ReceivedAt int64 // Microseconds
	Price      decimal.Decimal
	Volume     decimal.Decimal
}

// WriterMetrics tracks writer statistics.
type WriterMetrics struct {
	Received  int64
	Dropped   int64 // Recorded after Stop
	Queued    int   // Waiting for the consumer
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
}
