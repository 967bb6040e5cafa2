// Package store persists subscribers, their follow relationships and the
// last-known changeset totals per watched OSM account.
//
// It is the only cross-cycle shared mutable state in the bot. Every write is
// atomic per account row; UpsertTotals performs its read-then-write inside a
// single transaction so concurrent cycles can never interleave.
package store
