// Package database provides the TimescaleDB connection pool and schema used
// to record delivered trade events.
package database
