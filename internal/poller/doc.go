// Package poller implements the polling provider.
//
// The polling Client:
//   - Implements connection.Client, so the manager drives it exactly like a
//     streaming connection
//   - Interprets subscribe/unsubscribe frames locally as the polled symbol set
//   - Fetches quotes for every symbol each interval with bounded concurrency
//   - Emits one trade frame per cycle for quotes whose timestamp advanced
//   - Reports source rate limiting as a provider error frame (code 429)
package poller
