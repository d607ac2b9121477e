// Package store is the SQLite-backed merge repository for purchase history.
//
// It is the single writer of every entity: stores, accounts, sellers,
// products, orders, order items, product attributes, media, raw messages,
// the sync run ledger and the audit log.
//
// # Merge-on-conflict
//
// Each Upsert* call runs in its own transaction:
//
//	INSERT ... ON CONFLICT(<unique key>) DO NOTHING
//	-- on conflict:
//	SELECT the stored row, merge in Go, UPDATE if anything changed
//
// The merge policy is "prefer non-empty over empty": an incoming value
// replaces the stored one, an absent incoming value never erases it. Keys
// (dedupe_key, canonical_key) and created_at are written once.
//
// Unique keys that may be absent (seller INN, media source URL) are stored
// as "" rather than NULL so that absent compares equal to absent.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - One open connection: writers serialize at transaction granularity
//
// # Migrations
//
// Schema lives in embedded migrations/*.sql, applied by Migrate in filename
// order and recorded in schema_migrations.
package store
