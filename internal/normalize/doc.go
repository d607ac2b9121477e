// Package normalize turns collected messages into normalized orders.
//
// A Message is what a collector hands over: headers, bodies, links and
// attachments of one mail. A Parser maps a Message to zero or more Orders.
// ParseEmail is the default parser; it recognizes the Russian marketplaces by
// markers in the message and falls back to a single item built from the
// subject when no item lines are found.
//
// Every Order is checked against a CUE schema (Validator) before it reaches
// the store.
package normalize
