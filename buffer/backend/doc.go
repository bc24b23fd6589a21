// Package backend defines the [Backend] interface for the durable row
// stores a buffer flushes into, and provides two implementations:
//
//   - [MemoryBackend]: in-memory rows for tests and local development.
//   - [SQLiteBackend]: persistent rows backed by a SQLite database.
//
// The only operation a backend must support is an atomic
// increment-or-create ([Backend.Upsert]).
package backend
