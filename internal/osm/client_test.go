package osm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	logx "osmwatch/pkg/logx"
)

func testClient(baseURL string) *Client {
	return NewClient(Config{
		BaseURL:       baseURL,
		UserAgent:     "osmwatch test",
		RatePerSec:    1000,
		RetryAttempts: 1,
	}, logx.Nop())
}

// changesetsXML renders n changesets, each carrying changes edits, with
// ascending creation timestamps.
func changesetsXML(n int, changes int64, startAt time.Time) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><osm version="0.6">`)
	for i := 0; i < n; i++ {
		at := startAt.Add(time.Duration(i) * time.Minute).Format(time.RFC3339)
		fmt.Fprintf(&b, `<changeset id="%d" created_at="%s" changes_count="%d" open="false"/>`, i+1, at, changes)
	}
	b.WriteString(`</osm>`)
	return b.String()
}

// pagedServer answers the first query with the first page and every
// follow-up (time param contains the cursor) with the second page.
func pagedServer(t *testing.T, firstPage, secondPage string) (*httptest.Server, *[]string) {
	t.Helper()
	var mu sync.Mutex
	var timeParams []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tp := r.URL.Query().Get("time")
		mu.Lock()
		timeParams = append(timeParams, tp)
		n := len(timeParams)
		mu.Unlock()

		w.Header().Set("Content-Type", "text/xml")
		if n == 1 {
			fmt.Fprint(w, firstPage)
			return
		}
		fmt.Fprint(w, secondPage)
	}))
	t.Cleanup(srv.Close)
	return srv, &timeParams
}

func TestTotalsSinglePage(t *testing.T) {
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	body := `<?xml version="1.0"?><osm>` +
		`<changeset created_at="2026-08-01T10:00:00Z" changes_count="5"/>` +
		`<changeset created_at="2026-08-02T10:00:00Z" changes_count="7"/>` +
		`<changeset created_at="2026-08-03T10:00:00Z" changes_count="9"/>` +
		`</osm>`
	srv, timeParams := pagedServer(t, body, changesetsXML(0, 0, start))

	got, err := testClient(srv.URL).Totals(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if got.Changes != 21 || got.Changesets != 3 {
		t.Fatalf("got %+v, want {21 3}", got)
	}
	if len(*timeParams) != 1 {
		t.Fatalf("expected 1 query for a partial page, got %d", len(*timeParams))
	}
}

func TestTotalsPaginatesFullThenEmpty(t *testing.T) {
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	srv, timeParams := pagedServer(t,
		changesetsXML(100, 2, start),
		changesetsXML(0, 0, start))

	got, err := testClient(srv.URL).Totals(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if got.Changes != 200 || got.Changesets != 100 {
		t.Fatalf("got %+v, want {200 100}", got)
	}
	if len(*timeParams) != 2 {
		t.Fatalf("expected 2 queries, got %d", len(*timeParams))
	}

	// The follow-up query must use the last changeset's creation time as the
	// upper time bound.
	lastCreated := start.Add(99 * time.Minute).Format(time.RFC3339)
	if want := "," + lastCreated; !strings.HasSuffix((*timeParams)[1], want) {
		t.Fatalf("second query time param = %q, want suffix %q", (*timeParams)[1], want)
	}
}

func TestTotalsPaginatesFullThenPartial(t *testing.T) {
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	srv, timeParams := pagedServer(t,
		changesetsXML(100, 1, start),
		changesetsXML(50, 3, start.Add(100*time.Minute)))

	got, err := testClient(srv.URL).Totals(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if got.Changesets != 150 {
		t.Fatalf("changesets = %d, want 150 across two pages", got.Changesets)
	}
	if got.Changes != 100*1+50*3 {
		t.Fatalf("changes = %d, want 250", got.Changes)
	}
	if len(*timeParams) != 2 {
		t.Fatalf("expected 2 queries, got %d", len(*timeParams))
	}
}

func TestTotalsEmptyWindow(t *testing.T) {
	srv, _ := pagedServer(t, `<?xml version="1.0"?><osm></osm>`, "")

	got, err := testClient(srv.URL).Totals(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if got.Changes != 0 || got.Changesets != 0 {
		t.Fatalf("got %+v, want {0 0}", got)
	}
}

func TestTotalsSourceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "be right back", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	_, err := testClient(srv.URL).Totals(context.Background(), "alice")
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrSourceUnavailable", err)
	}
}

func TestTotalsMalformedBodyNotRetried(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		fmt.Fprint(w, "this is not xml")
	}))
	t.Cleanup(srv.Close)

	c := NewClient(Config{BaseURL: srv.URL, RatePerSec: 1000, RetryAttempts: 5}, logx.Nop())
	_, err := c.Totals(context.Background(), "alice")
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrSourceUnavailable", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("malformed body retried %d times, want a single attempt", calls)
	}
}

func TestExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("display_name") == "alice" {
			fmt.Fprint(w, `<?xml version="1.0"?><osm></osm>`)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	c := testClient(srv.URL)
	ok, err := c.Exists(context.Background(), "alice")
	if err != nil || !ok {
		t.Fatalf("Exists(alice) = %v, %v; want true, nil", ok, err)
	}
	ok, err = c.Exists(context.Background(), "nobody")
	if err != nil || ok {
		t.Fatalf("Exists(nobody) = %v, %v; want false, nil", ok, err)
	}
}
