package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer runs a statement. *pgxpool.Pool implements it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// schema creates the trade_events table. A replayed subscription can deliver
// the same coalesced event twice, so (symbol, exchange_ts) is unique.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS trade_events (
		symbol      TEXT    NOT NULL,
		exchange_ts BIGINT  NOT NULL,
		received_at BIGINT  NOT NULL,
		price       NUMERIC NOT NULL,
		volume      NUMERIC NOT NULL,
		PRIMARY KEY (symbol, exchange_ts)
	)`,
	`CREATE INDEX IF NOT EXISTS trade_events_ts_idx ON trade_events (exchange_ts DESC)`,
}

// EnsureSchema creates missing tables and indexes.
func EnsureSchema(ctx context.Context, db Execer) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
