package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "osmwatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Store is the sqlite-backed registration and stats store.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	s := &Store{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AddSubscriber registers (or refreshes) a subscriber. Re-registering updates
// the delivery address and locale, which also migrates pre-i18n rows.
func (s *Store) AddSubscriber(ctx context.Context, id string, chatID int64, locale string) error {
	if strings.TrimSpace(locale) == "" {
		locale = "en"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers(id, chat_id, locale) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET chat_id=excluded.chat_id, locale=excluded.locale`,
		id, chatID, locale,
	)
	return err
}

// RemoveSubscriber deletes the subscriber, its subscriptions and any account
// totals left without a single remaining watcher, all in one transaction.
func (s *Store) RemoveSubscriber(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM subscribers WHERE id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE subscriber_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, pruneOrphansSQL); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) IsSubscriber(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM subscribers WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Follow subscribes subscriberID to account. Following twice is a no-op.
func (s *Store) Follow(ctx context.Context, subscriberID, account string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO subscriptions(subscriber_id, account) VALUES(?,?)`,
		subscriberID, account,
	)
	return err
}

// Unfollow removes one subscription and prunes accounts nobody watches
// anymore. Returns whether a subscription row actually existed.
func (s *Store) Unfollow(ctx context.Context, subscriberID, account string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE subscriber_id = ? AND account = ?`,
		subscriberID, account,
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	if _, err := tx.ExecContext(ctx, pruneOrphansSQL); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n > 0, nil
}

// AccountsFor lists the accounts one subscriber follows.
func (s *Store) AccountsFor(ctx context.Context, subscriberID string) ([]string, error) {
	return s.listAccounts(ctx,
		`SELECT DISTINCT account FROM subscriptions WHERE subscriber_id = ? ORDER BY account`,
		subscriberID)
}

// TrackedAccounts lists every account with at least one subscriber.
func (s *Store) TrackedAccounts(ctx context.Context) ([]string, error) {
	return s.listAccounts(ctx, `SELECT DISTINCT account FROM subscriptions ORDER BY account`)
}

func (s *Store) listAccounts(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertTotals stores the freshly aggregated totals for account and returns
// the changes value that was stored before, with known=false when the account
// had no prior record. Read and write happen in one transaction so no other
// cycle can interleave (the threshold detector depends on this).
func (s *Store) UpsertTotals(ctx context.Context, account string, t Totals) (prev int64, known bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		`SELECT changes FROM account_totals WHERE account = ?`, account).Scan(&prev)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		prev, known = 0, false
	case err != nil:
		return 0, false, err
	default:
		known = true
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO account_totals(account, changes, changesets, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(account) DO UPDATE SET
		   changes=excluded.changes, changesets=excluded.changesets, updated_at=excluded.updated_at`,
		account, t.Changes, t.Changesets, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, false, err
	}
	if err := tx.Commit(); err != nil {
		return 0, false, err
	}
	return prev, known, nil
}

// Subscribers lists everyone following account, with delivery address and locale.
func (s *Store) Subscribers(ctx context.Context, account string) ([]Recipient, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, locale FROM subscribers
		 WHERE id IN (SELECT DISTINCT subscriber_id FROM subscriptions WHERE account = ?)`,
		account,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Recipient
	for rows.Next() {
		var r Recipient
		if err := rows.Scan(&r.ID, &r.ChatID, &r.Locale); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TotalsFor returns the stored totals for every account the subscriber
// follows. Accounts never polled successfully are absent.
func (s *Store) TotalsFor(ctx context.Context, subscriberID string) ([]AccountTotals, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account, changes, changesets FROM account_totals
		 WHERE account IN (SELECT account FROM subscriptions WHERE subscriber_id = ?)
		 ORDER BY account`,
		subscriberID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AccountTotals
	for rows.Next() {
		var at AccountTotals
		if err := rows.Scan(&at.Account, &at.Changes, &at.Changesets); err != nil {
			return nil, err
		}
		out = append(out, at)
	}
	return out, rows.Err()
}

const pruneOrphansSQL = `DELETE FROM account_totals
	WHERE account NOT IN (SELECT DISTINCT account FROM subscriptions)`

// PruneOrphans drops totals for accounts without any remaining subscriber.
func (s *Store) PruneOrphans(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, pruneOrphansSQL)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Debug("pruned orphaned account totals", logx.Int64("count", n))
	}
	return n, nil
}
