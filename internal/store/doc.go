// Package store provides persistent storage for vault messages.
//
// # Architecture
//
// Store is the full interface used by the vault API. DueStore is the narrow
// slice the delivery scheduler needs (find due, mark delivered), so the
// scheduler can be tested against anything that satisfies those two calls.
//
// Implementations:
//
//   - SQLiteStore: modernc.org/sqlite, schema created on open
//   - PostgresStore: pgx via database/sql, schema from embedded goose migrations
//   - MockStore: in-memory, with hooks for injecting failures in tests
//
// SQLiteStore and PostgresStore share their queries; a small dialect value
// handles placeholder numbering and timestamp encoding.
//
// # Delivery State
//
// A message moves PENDING -> DUE -> DELIVERED. Only the last transition is
// persisted (delivered = true). MarkVaultMessageDelivered is a conditional
// update on delivered = FALSE, so running it any number of times is safe and
// it never reverts a delivered message. UpdateVaultMessage carries the same
// predicate, which keeps delivered messages immutable.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//
// Timestamps are stored as fixed-width UTC TEXT so that range predicates on
// deliver_at compare correctly.
//
// # Error Handling
//
//   - ErrNotFound: requested message does not exist
//   - ErrAlreadyDelivered: mutation attempted on a delivered message
package store
