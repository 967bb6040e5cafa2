package watch

import (
	"context"
	"errors"
	"time"

	"osmwatch/internal/store"
)

// ErrRecipientBlocked signals a permanent delivery failure (the recipient
// blocked the bot). The cycle reacts by removing the subscriber; any other
// delivery error is treated as transient and only logged.
var ErrRecipientBlocked = errors.New("recipient blocked delivery")

// Source aggregates fresh totals for one account.
type Source interface {
	Totals(ctx context.Context, account string) (store.Totals, error)
}

// Store is the slice of the stats store the cycle needs.
type Store interface {
	TrackedAccounts(ctx context.Context) ([]string, error)
	UpsertTotals(ctx context.Context, account string, t store.Totals) (prev int64, known bool, err error)
	Subscribers(ctx context.Context, account string) ([]store.Recipient, error)
	RemoveSubscriber(ctx context.Context, id string) error
}

// Notifier delivers one localized alert. It must return ErrRecipientBlocked
// (possibly wrapped) for permanent failures.
type Notifier interface {
	Alert(ctx context.Context, to store.Recipient, account string, threshold int64) error
}

type Config struct {
	// Interval between scheduled watchdog cycles.
	Interval time.Duration
	// FirstDelay is how long after startup the first cycle runs.
	FirstDelay time.Duration
	// Workers bounds per-account concurrency within one cycle.
	Workers int
}
