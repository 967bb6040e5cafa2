package store

import (
	"context"
	"path/filepath"
	"testing"

	logx "osmwatch/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "registration.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertTotalsReturnsPrevious(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	prev, known, err := s.UpsertTotals(ctx, "alice", Totals{Changes: 900, Changesets: 3})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if known || prev != 0 {
		t.Fatalf("first upsert: prev=%d known=%v, want 0/false", prev, known)
	}

	prev, known, err = s.UpsertTotals(ctx, "alice", Totals{Changes: 1200, Changesets: 5})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if !known || prev != 900 {
		t.Fatalf("second upsert: prev=%d known=%v, want 900/true", prev, known)
	}

	// Unchanged totals still write and still report the stored value.
	prev, known, err = s.UpsertTotals(ctx, "alice", Totals{Changes: 1200, Changesets: 5})
	if err != nil {
		t.Fatalf("third upsert: %v", err)
	}
	if !known || prev != 1200 {
		t.Fatalf("third upsert: prev=%d known=%v, want 1200/true", prev, known)
	}
}

func TestSubscribeAndFanout(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.AddSubscriber(ctx, "@bob", 100, "de"); err != nil {
		t.Fatalf("AddSubscriber: %v", err)
	}
	if err := s.AddSubscriber(ctx, "@carol", 200, ""); err != nil {
		t.Fatalf("AddSubscriber: %v", err)
	}
	if err := s.Follow(ctx, "@bob", "alice"); err != nil {
		t.Fatalf("Follow: %v", err)
	}
	if err := s.Follow(ctx, "@bob", "alice"); err != nil {
		t.Fatalf("duplicate Follow must be a no-op: %v", err)
	}
	if err := s.Follow(ctx, "@carol", "alice"); err != nil {
		t.Fatalf("Follow: %v", err)
	}

	tracked, err := s.TrackedAccounts(ctx)
	if err != nil {
		t.Fatalf("TrackedAccounts: %v", err)
	}
	if len(tracked) != 1 || tracked[0] != "alice" {
		t.Fatalf("tracked = %v, want [alice]", tracked)
	}

	rcpts, err := s.Subscribers(ctx, "alice")
	if err != nil {
		t.Fatalf("Subscribers: %v", err)
	}
	if len(rcpts) != 2 {
		t.Fatalf("subscribers = %+v, want 2", rcpts)
	}
	byID := map[string]Recipient{}
	for _, r := range rcpts {
		byID[r.ID] = r
	}
	if byID["@bob"].ChatID != 100 || byID["@bob"].Locale != "de" {
		t.Fatalf("bob = %+v, want chat 100 locale de", byID["@bob"])
	}
	if byID["@carol"].Locale != "en" {
		t.Fatalf("empty locale should default to en, got %q", byID["@carol"].Locale)
	}
}

func TestUnfollowPrunesOrphanTotals(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.AddSubscriber(ctx, "@bob", 100, "en"); err != nil {
		t.Fatal(err)
	}
	if err := s.Follow(ctx, "@bob", "alice"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.UpsertTotals(ctx, "alice", Totals{Changes: 500, Changesets: 2}); err != nil {
		t.Fatal(err)
	}

	removed, err := s.Unfollow(ctx, "@bob", "alice")
	if err != nil {
		t.Fatalf("Unfollow: %v", err)
	}
	if !removed {
		t.Fatal("Unfollow reported no row removed")
	}

	// Counter row must not outlive the last subscription.
	_, known, err := s.UpsertTotals(ctx, "alice", Totals{Changes: 500, Changesets: 2})
	if err != nil {
		t.Fatal(err)
	}
	if known {
		t.Fatal("orphaned totals were not pruned")
	}

	removed, err = s.Unfollow(ctx, "@bob", "alice")
	if err != nil {
		t.Fatalf("second Unfollow: %v", err)
	}
	if removed {
		t.Fatal("second Unfollow should report nothing removed")
	}
}

func TestRemoveSubscriberCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.AddSubscriber(ctx, "@bob", 100, "en"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddSubscriber(ctx, "@carol", 200, "en"); err != nil {
		t.Fatal(err)
	}
	if err := s.Follow(ctx, "@bob", "alice"); err != nil {
		t.Fatal(err)
	}
	if err := s.Follow(ctx, "@bob", "dave"); err != nil {
		t.Fatal(err)
	}
	if err := s.Follow(ctx, "@carol", "alice"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.UpsertTotals(ctx, "alice", Totals{Changes: 10, Changesets: 1}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.UpsertTotals(ctx, "dave", Totals{Changes: 20, Changesets: 1}); err != nil {
		t.Fatal(err)
	}

	if err := s.RemoveSubscriber(ctx, "@bob"); err != nil {
		t.Fatalf("RemoveSubscriber: %v", err)
	}

	registered, err := s.IsSubscriber(ctx, "@bob")
	if err != nil {
		t.Fatal(err)
	}
	if registered {
		t.Fatal("@bob should be gone")
	}

	tracked, err := s.TrackedAccounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(tracked) != 1 || tracked[0] != "alice" {
		t.Fatalf("tracked = %v, want [alice] (dave orphaned)", tracked)
	}

	// dave's totals must be pruned, alice's kept (carol still follows).
	_, known, err := s.UpsertTotals(ctx, "dave", Totals{Changes: 20, Changesets: 1})
	if err != nil {
		t.Fatal(err)
	}
	if known {
		t.Fatal("dave totals should have been pruned with the cascade")
	}
	_, known, err = s.UpsertTotals(ctx, "alice", Totals{Changes: 11, Changesets: 2})
	if err != nil {
		t.Fatal(err)
	}
	if !known {
		t.Fatal("alice totals should have survived")
	}
}

func TestTotalsForSubscriber(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.AddSubscriber(ctx, "@bob", 100, "en"); err != nil {
		t.Fatal(err)
	}
	if err := s.Follow(ctx, "@bob", "alice"); err != nil {
		t.Fatal(err)
	}
	if err := s.Follow(ctx, "@bob", "zoe"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.UpsertTotals(ctx, "alice", Totals{Changes: 1200, Changesets: 5}); err != nil {
		t.Fatal(err)
	}

	got, err := s.TotalsFor(ctx, "@bob")
	if err != nil {
		t.Fatalf("TotalsFor: %v", err)
	}
	// zoe was never polled, so only alice shows up.
	if len(got) != 1 || got[0].Account != "alice" || got[0].Changes != 1200 || got[0].Changesets != 5 {
		t.Fatalf("got %+v, want [{alice 1200 5}]", got)
	}
}
