// Package watch runs the poll-detect-notify pipeline: it aggregates fresh
// changeset totals per watched account, persists them, detects threshold
// crossings and fans out alerts to subscribers.
//
// At most one cycle is in flight at any time. Scheduled ticks that land while
// a cycle is still running are skipped; on-demand runs (after /follow or for
// /report) wait their turn and run to completion so replies reflect fresh
// data.
package watch
