// Package ingest drives one ingestion run.
//
// A run collects messages, normalizes each into orders and merges the orders
// into the store, downloading or saving media on the way. Every run has a
// correlation id; its sync_runs row records the outcome and the counters.
//
// Failure model:
//   - collector failure, or a failed write of an Account or Store, fails the
//     whole run (status failed);
//   - any other failure while handling a message is recorded for that
//     message, counted in errors, and the run continues;
//   - media failures are counted in media_failed and never fail the item.
//
// Re-running with the same input is always safe: every write is a merge.
package ingest
