package osm

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry-go"
	"golang.org/x/time/rate"

	"osmwatch/internal/store"
	logx "osmwatch/pkg/logx"
)

// ErrSourceUnavailable marks a failed changesets query: unreachable API,
// non-200 status or malformed body. Callers skip the account and retry on
// the next cycle.
var ErrSourceUnavailable = errors.New("osm api unavailable")

// pageSize is the OSM API's fixed changesets-per-query cap (server-side).
const pageSize = 100

const defaultBaseURL = "https://www.openstreetmap.org/api/0.6"

type Config struct {
	BaseURL       string
	UserAgent     string
	From          string
	Timeout       time.Duration
	RatePerSec    int
	RetryAttempts int
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger

	now func() time.Time
}

func NewClient(cfg Config, log logx.Logger) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log:     log,
		now:     time.Now,
	}
}

type changesetPage struct {
	XMLName    xml.Name    `xml:"osm"`
	Changesets []changeset `xml:"changeset"`
}

type changeset struct {
	CreatedAt    string `xml:"created_at,attr"`
	ChangesCount int64  `xml:"changes_count,attr"`
}

// Totals sums the account's closed changesets since the start of the current
// month. Pagination is a plain loop: as long as a query returns a positive
// multiple of the page size, re-query with the last changeset's created_at as
// the upper time bound and keep accumulating. A partial or empty page ends
// the walk. No partial totals are returned on error.
func (c *Client) Totals(ctx context.Context, account string) (store.Totals, error) {
	windowStart := monthStart(c.now())

	var total store.Totals
	cursor := ""
	for {
		page, err := c.fetchPage(ctx, account, windowStart, cursor)
		if err != nil {
			return store.Totals{}, err
		}
		for _, cs := range page.Changesets {
			total.Changesets++
			total.Changes += cs.ChangesCount
		}
		n := len(page.Changesets)
		if n == 0 || n%pageSize != 0 {
			break
		}
		cursor = page.Changesets[n-1].CreatedAt
	}
	return total, nil
}

// Exists probes whether account is a known OSM user. The changesets endpoint
// answers non-200 for unknown display names; capitalization matters.
func (c *Client) Exists(ctx context.Context, account string) (bool, error) {
	u := c.cfg.BaseURL + "/changesets?display_name=" + url.QueryEscape(account)

	if err := c.limiter.Wait(ctx); err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return false, err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK, nil
}

func (c *Client) fetchPage(ctx context.Context, account, windowStart, cursor string) (*changesetPage, error) {
	timeRange := windowStart
	if cursor != "" {
		timeRange += "," + cursor
	}
	u := c.cfg.BaseURL + "/changesets?closed=true&time=" + url.QueryEscape(timeRange) +
		"&display_name=" + url.QueryEscape(account)

	var page *changesetPage
	err := retry.Do(
		func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return retry.Unrecoverable(err)
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			c.setHeaders(req)

			resp, err := c.http.Do(req)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				err := fmt.Errorf("%w: status %d", ErrSourceUnavailable, resp.StatusCode)
				if resp.StatusCode >= 400 && resp.StatusCode < 500 {
					// Client errors won't heal by retrying.
					return retry.Unrecoverable(err)
				}
				return err
			}

			var p changesetPage
			if derr := xml.NewDecoder(resp.Body).Decode(&p); derr != nil {
				return retry.Unrecoverable(fmt.Errorf("%w: decode: %v", ErrSourceUnavailable, derr))
			}
			page = &p
			return nil
		},
		retry.Attempts(uint(c.cfg.RetryAttempts)),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(2*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.log.Debug("changesets query retry",
				logx.String("account", account), logx.Int("attempt", int(n)+1), logx.Err(err))
		}),
	)
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if c.cfg.From != "" {
		req.Header.Set("From", c.cfg.From)
	}
}

// monthStart formats the first instant of t's month the way the OSM time
// filter expects it.
func monthStart(t time.Time) string {
	return t.UTC().Format("2006-01") + "-01T00:00"
}
