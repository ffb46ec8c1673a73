// Package store provides durable message persistence for deadrop using SQLite.
//
// # Data Model
//
// A single Message entity: id (monotonic, never reused), from_agent,
// to_agent, optional subject, body, created_at, and optional read_at.
// Messages are append-only; the only mutation is the one-way transition
// of read_at from NULL to a timestamp, performed by DrainUnread. The
// store never deletes messages.
//
// # Operations
//
//   - Deposit: append one message, return its id
//   - DrainUnread: return all unread messages for an agent (oldest
//     first) and mark them read in the same transaction
//   - ListInbox: read-only view of an inbox, newest first
//   - GetMessage, CountUnread: read-only helpers for the CLI
//
// # Concurrency
//
// The store is shared between independent short-lived processes; the
// database file is the only coordination point. Every operation is a
// single ACID transaction. SQLite is configured with:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//	PRAGMA synchronous=FULL;
//
// Transient BUSY/LOCKED failures are retried internally with bounded
// exponential backoff; callers see ErrUnavailable only after the retry
// budget is exhausted.
//
// # Error Handling
//
// All failures map onto four sentinels, tested with errors.Is:
//
//   - ErrInvalidInput: empty required field, detected before storage
//   - ErrUnavailable: the file cannot be opened, read, or written
//   - ErrCorrupted: the on-disk structure fails an integrity check
//   - ErrNotFound: no message with the requested id
//
// # Testing
//
// Use NewSQLiteStore with a t.TempDir() path for an isolated store per
// test case. Opening the same path from multiple handles models
// multi-process access.
package store
