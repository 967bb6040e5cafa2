// Package osm queries the OpenStreetMap changesets API and aggregates
// month-to-date edit totals per account.
//
// The API pages at 100 changesets per query and offers no cursor beyond its
// time-range filter, so pagination re-queries with the last changeset's
// creation time as the upper bound until a partial page comes back.
package osm
