// Package store persists host state for coven-hostd.
//
// # Data Models
//
//   - Host: last known status, maintenance flag, ping and connect times
//   - HostEvent: append-only lifecycle log (connected, disconnected, leaked, ...)
//   - CommandResult: answers that arrived with no caller waiting for them,
//     typically from cron commands
//
// # SQLite Configuration
//
// SQLiteStore uses modernc.org/sqlite with WAL mode:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as RFC3339 text in UTC. The schema is created on open.
// ":memory:" opens a private in-memory database pinned to one connection.
//
// # Testing
//
// Use NewMockStore() for unit tests, or NewSQLiteStore(":memory:") when the
// SQL itself is under test.
package store
