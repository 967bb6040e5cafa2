package store

import "time"

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Recipient is one subscriber of a watched account, as needed for delivery.
type Recipient struct {
	ID     string
	ChatID int64
	Locale string
}

// Totals is the cumulative changeset state of one account.
type Totals struct {
	Changes    int64
	Changesets int64
}

// AccountTotals is Totals tagged with the account it belongs to (report rows).
type AccountTotals struct {
	Account string
	Totals
}
