// Package model defines shared data types used across the market stream.
//
// Conventions:
//   - Symbols: canonical streaming identifiers (e.g. "AAPL", "BINANCE:BTCUSDT")
//   - Prices and volumes: shopspring/decimal values, never float64
//   - Timestamps: int64 milliseconds since Unix epoch
package model
