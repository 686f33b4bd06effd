// Package fetcher retrieves paginated JSON collections with bounded concurrency.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	custom_errors "repo-catalog/internal/errors"
	"repo-catalog/internal/github"
)

const (
	DefaultPerPage          = 100
	DefaultConcurrency      = 4
	DefaultThresholdPercent = 10
)

// Transport issues one GET and reports status, pagination hints and body.
type Transport interface {
	Fetch(ctx context.Context, url string, header http.Header) (*github.Response, error)
}

// Guard gates each request on the remaining quota.
type Guard interface {
	IsApproachingLimit(ctx context.Context, thresholdPercent int) bool
	Backoff(ctx context.Context) error
}

// Options bound a single collection fetch.
type Options struct {
	PerPage     int
	Concurrency int
	// MaxPages caps the page count; zero means no cap. Ignored when All is set.
	MaxPages int
	All      bool
	// ItemBudget, when positive, limits how many items are fetched and returned.
	ItemBudget       int
	ThresholdPercent int
}

func (o Options) withDefaults() Options {
	if o.PerPage <= 0 {
		o.PerPage = DefaultPerPage
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.ThresholdPercent <= 0 {
		o.ThresholdPercent = DefaultThresholdPercent
	}
	return o
}

// lastPage applies the page ceiling and the item budget to the remote's estimate.
func (o Options) lastPage(reported int) int {
	last := max(reported, 1)
	if !o.All && o.MaxPages > 0 && last > o.MaxPages {
		last = o.MaxPages
	}
	if o.ItemBudget > 0 {
		budgetPages := (o.ItemBudget + o.PerPage - 1) / o.PerPage
		if last > budgetPages {
			last = budgetPages
		}
	}
	return last
}

// Page is the decoded items of one page.
type Page struct {
	Number int
	Items  []json.RawMessage
}

// Fetcher fetches ordered multi-page collections.
type Fetcher struct {
	transport Transport
	guard     Guard
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// New creates a Fetcher. guard may be nil, in which case no quota check is made.
func New(transport Transport, guard Guard, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		transport: transport,
		guard:     guard,
		logger:    logger.With("component", "fetcher"),
	}
}

// SetPacing spaces out requests to at most perSecond. Zero or less disables pacing.
func (f *Fetcher) SetPacing(perSecond float64) {
	if perSecond <= 0 {
		f.limiter = nil
		return
	}
	f.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
}

// FetchAll fetches every page of the collection at baseURL and returns its items in
// page order. It fails only when page 1 cannot be fetched.
func (f *Fetcher) FetchAll(ctx context.Context, baseURL string, header http.Header, opts Options) ([]json.RawMessage, error) {
	pages, err := f.FetchPages(ctx, baseURL, header, opts)
	if err != nil {
		return nil, err
	}
	var items []json.RawMessage
	for _, p := range pages {
		items = append(items, p.Items...)
	}
	if opts.ItemBudget > 0 && len(items) > opts.ItemBudget {
		items = items[:opts.ItemBudget]
	}
	return items, nil
}

// FetchPages fetches page 1, then pages 2..last concurrently. A page that comes back
// empty stops dispatch of any later page not yet started, while earlier pages
// still complete. Failed pages are logged and left out. The result is ordered by page number.
func (f *Fetcher) FetchPages(ctx context.Context, baseURL string, header http.Header, opts Options) ([]Page, error) {
	opts = opts.withDefaults()
	logger := f.logger.With("url", baseURL)

	firstURL, err := pageURL(baseURL, 1, opts.PerPage)
	if err != nil {
		return nil, &custom_errors.PageError{URL: baseURL, Page: 1, Err: err}
	}
	first, reported, err := f.fetchPage(ctx, firstURL, header, 1, opts)
	if err != nil {
		return nil, err
	}
	if len(first) == 0 {
		logger.Debug("Collection is empty")
		return nil, nil
	}

	last := opts.lastPage(reported)
	logger.Info("Fetching collection", "reported_last_page", reported, "last_page", last, "concurrency", opts.Concurrency)

	results := make([][]json.RawMessage, last+1)
	results[1] = first

	// emptyAt is the lowest page number seen empty. Pages above it are not
	// requested and their results are dropped; pages below it still run.
	var emptyAt atomic.Int64
	emptyAt.Store(int64(last + 1))
	var g errgroup.Group
	g.SetLimit(opts.Concurrency)
	for p := 2; p <= last; p++ {
		if int64(p) > emptyAt.Load() || ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if int64(p) > emptyAt.Load() {
				return nil
			}
			u, err := pageURL(baseURL, p, opts.PerPage)
			if err != nil {
				logger.Warn("Skipping page with invalid URL", "page", p, "error", err)
				return nil
			}
			items, _, err := f.fetchPage(ctx, u, header, p, opts)
			if err != nil {
				logger.Warn("Page failed, continuing without it", "page", p, "error", err)
				return nil
			}
			if len(items) == 0 {
				lowerTo(&emptyAt, int64(p))
				logger.Debug("Empty page, stopping dispatch past it", "page", p)
				return nil
			}
			results[p] = items
			return nil
		})
	}
	_ = g.Wait()

	stopAt := int(emptyAt.Load())
	pages := make([]Page, 0, last)
	for p := 1; p <= last && p < stopAt; p++ {
		if len(results[p]) > 0 {
			pages = append(pages, Page{Number: p, Items: results[p]})
		}
	}
	return pages, nil
}

// lowerTo sets v to n unless v already holds a smaller value.
func lowerTo(v *atomic.Int64, n int64) {
	for {
		cur := v.Load()
		if n >= cur || v.CompareAndSwap(cur, n) {
			return
		}
	}
}

// fetchPage returns the decoded items and the reported last page.
func (f *Fetcher) fetchPage(ctx context.Context, u string, header http.Header, page int, opts Options) ([]json.RawMessage, int, error) {
	if f.guard != nil && f.guard.IsApproachingLimit(ctx, opts.ThresholdPercent) {
		if err := f.guard.Backoff(ctx); err != nil {
			return nil, 0, &custom_errors.PageError{URL: u, Page: page, Err: err}
		}
		if f.guard.IsApproachingLimit(ctx, opts.ThresholdPercent) {
			return nil, 0, &custom_errors.PageError{URL: u, Page: page, Err: custom_errors.ErrRateLimited}
		}
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, 0, &custom_errors.PageError{URL: u, Page: page, Err: err}
		}
	}

	resp, err := f.transport.Fetch(ctx, u, header)
	if err != nil {
		return nil, 0, &custom_errors.PageError{URL: u, Page: page, Err: err}
	}
	if !resp.OK() {
		return nil, 0, &custom_errors.PageError{URL: u, Page: page, StatusCode: resp.StatusCode}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(resp.Body, &items); err != nil {
		return nil, 0, &custom_errors.PageError{URL: u, Page: page, Err: &custom_errors.DecodeError{What: fmt.Sprintf("page %d", page), Err: err}}
	}
	return items, resp.LastPage, nil
}

func pageURL(base string, page, perPage int) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
