// Package dedupe derives the deterministic identity keys used to recognise the
// same real-world order, line item, product or attribute value across repeated,
// partially-complete observations.
//
// Every key is a hex SHA-256 over normalized parts, each written as
// "<byte length>:<text>" and joined with "||":
//   - nil and nil pointers become the empty string
//   - strings are trimmed, NFC-normalized and lower-cased
//   - time.Time becomes RFC 3339 (nanoseconds) in UTC
//   - decimals and floats become canonical decimal strings (trailing zeros trimmed)
//
// The first part is always a domain tag, so keys for different entity kinds
// never collide. Keys are persisted and must never change for the same input:
// testdata/golden/keys.golden pins them.
//
// Known limitation: when an order carries neither an external order id nor a
// source message id, its key falls back to (order date, total amount). Two
// genuinely different orders placed at the same instant for the same total
// will merge into one row.
package dedupe
