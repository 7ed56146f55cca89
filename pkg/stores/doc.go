// Package stores provides the persistence layer for the plant simulator.
// It includes a SQLite-based store with embedded migrations that records
// attack history, the telemetry event log and periodic tag snapshots.
package stores
