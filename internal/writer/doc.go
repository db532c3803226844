// Package writer records delivered trade events to TimescaleDB.
//
// The TradeWriter is an ordinary Feed consumer: its Record method is a
// TradeHandler. Events are queued without blocking the delivery goroutine
// and written in batches with append-only, conflict-ignoring inserts.
package writer
