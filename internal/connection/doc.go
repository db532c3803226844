// Package connection implements the streaming subscription manager.
//
// The Manager:
//   - Keeps at most one provider connection open, and only while someone listens
//   - Sends one subscribe per symbol regardless of listener count, paced to a
//     minimum spacing between frames
//   - Reconnects with exponential backoff and replays active symbols
//   - Pauses everything for a fixed cooldown when the provider rate-limits
//   - Fans coalesced trades and status transitions out to listeners on a
//     single delivery goroutine
//
// All manager state is owned by one coordinator goroutine. Public methods,
// connection pumps and timers communicate with it by posting closures.
package connection
