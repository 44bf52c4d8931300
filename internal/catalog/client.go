// Package catalog is the client for the RAWG games catalog API. It walks
// paginated listings transparently, retrying transient failures with
// exponential backoff and treating 404 as the end of pagination.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	resty "github.com/go-resty/resty/v2"
)

const (
	defaultPageSize = 40
	defaultRetries  = 5
)

// ErrMissingAPIKey is returned by New when no credential is configured.
var ErrMissingAPIKey = errors.New("catalog: API key not set")

type Client struct {
	http     *resty.Client
	apiKey   string
	pageSize int
	retries  int
	backoff  time.Duration
	// sleep is swappable in tests
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

// WithRetries overrides the per-page retry ceiling.
func WithRetries(n int) Option { return func(c *Client) { c.retries = n } }

// WithBackoff overrides the base backoff unit (default 1s).
func WithBackoff(d time.Duration) Option { return func(c *Client) { c.backoff = d } }

func WithPageSize(n int) Option { return func(c *Client) { c.pageSize = n } }

// New builds a catalog client. Absence of the API key is a fatal
// precondition: no request is ever attempted without it.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	c := &Client{
		http:     resty.New().SetBaseURL(baseURL).SetTimeout(30 * time.Second),
		apiKey:   apiKey,
		pageSize: defaultPageSize,
		retries:  defaultRetries,
		backoff:  time.Second,
		sleep:    sleepCtx,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type page struct {
	Count    int      `json:"count"`
	Next     *string  `json:"next"`
	Previous *string  `json:"previous"`
	Results  []Record `json:"results"`
}

// FetchMonth returns every game released in the given calendar month.
func (c *Client) FetchMonth(ctx context.Context, year, month int) ([]Record, error) {
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return c.fetchAll(ctx, map[string]string{
		"dates": fmt.Sprintf("%s,%s", first.Format("2006-01-02"), last.Format("2006-01-02")),
	})
}

// FetchRecentlyUpdated returns games the catalog marked updated within the
// last N days.
func (c *Client) FetchRecentlyUpdated(ctx context.Context, days int) ([]Record, error) {
	if days <= 0 {
		days = 7
	}
	now := time.Now().UTC()
	return c.fetchAll(ctx, map[string]string{
		"updated": fmt.Sprintf("%s,%s", now.AddDate(0, 0, -days).Format("2006-01-02"), now.Format("2006-01-02")),
	})
}

// fetchAll walks all pages for the given filter. Exhausting retries on a
// single page aborts the walk and returns what was accumulated; callers
// must tolerate under-fetching.
func (c *Client) fetchAll(ctx context.Context, filter map[string]string) ([]Record, error) {
	var all []Record
	for pageNum := 1; ; pageNum++ {
		params := map[string]string{
			"key":       c.apiKey,
			"page":      strconv.Itoa(pageNum),
			"page_size": strconv.Itoa(c.pageSize),
		}
		for k, v := range filter {
			params[k] = v
		}
		pg, err := c.fetchPage(ctx, params)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return all, err
			}
			slog.Warn("catalog fetch aborted", "page", pageNum, "accumulated", len(all), "error", err)
			return all, nil
		}
		if pg == nil {
			// 404: no more pages
			return all, nil
		}
		all = append(all, pg.Results...)
		if pg.Next == nil || *pg.Next == "" {
			return all, nil
		}
	}
}

// fetchPage issues one page request with bounded retries. A nil page with
// nil error signals end of pagination (404).
func (c *Client) fetchPage(ctx context.Context, params map[string]string) (*page, error) {
	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		var out page
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetResult(&out).
			Get("/games")
		switch {
		case err != nil:
			// network-level failure: transient
			lastErr = err
		case resp.StatusCode() == http.StatusNotFound:
			return nil, nil
		case resp.StatusCode() >= 500:
			lastErr = fmt.Errorf("catalog: server error %d", resp.StatusCode())
		case resp.StatusCode() >= 400:
			// other client errors are not retried
			return nil, fmt.Errorf("catalog: request rejected with %d", resp.StatusCode())
		default:
			return &out, nil
		}
		wait := c.backoff * time.Duration(1<<attempt)
		slog.Warn("catalog request failed", "attempt", attempt+1, "retry_in", wait, "error", lastErr)
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("catalog: retries exhausted: %w", lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
