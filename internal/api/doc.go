// Package api provides a minimal REST quote client for the market-data
// provider. It exists to back the polling provider; the streaming path never
// touches it.
//
// REST endpoint:
//   - https://finnhub.io/api/v1
//
// Endpoints used: GET /quote?symbol=X
package api
