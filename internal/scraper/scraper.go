// Package scraper collects starred repositories, star lists and list membership, and
// per-repository metadata, caching everything it fetches.
package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"repo-catalog/internal/cache"
	custom_errors "repo-catalog/internal/errors"
	"repo-catalog/internal/fetcher"
	"repo-catalog/internal/github"
	"repo-catalog/internal/model"
)

// Cache keys.
const (
	KeyStarred        = "starred_repos"
	KeyLists          = "github_lists"
	KeyListMembership = "github_list_repos"
)

const (
	DefaultWebURL          = "https://github.com"
	DefaultListMaxPages    = 100
	DefaultListConcurrency = 4

	starMediaType = "application/vnd.github.star+json"
)

// Transport is the remote access the scraper needs.
type Transport interface {
	Fetch(ctx context.Context, url string, header http.Header) (*github.Response, error)
	FetchPage(ctx context.Context, url string, header http.Header) (*github.Response, error)
	HasCredentials() bool
}

// Options configure a Scraper.
type Options struct {
	WebURL          string
	Fetch           fetcher.Options
	ListMaxPages    int
	ListConcurrency int
}

// Lists is the outcome of a list scrape.
type Lists struct {
	Lists      []model.ListMeta
	Membership model.ListMembership
}

// Scraper fetches remote collections through the fetcher and caches the results.
type Scraper struct {
	transport Transport
	fetcher   *fetcher.Fetcher
	cache     *cache.Store
	guard     fetcher.Guard
	opts      Options
	logger    *slog.Logger
}

// New creates a Scraper. guard may be nil.
func New(transport Transport, f *fetcher.Fetcher, c *cache.Store, guard fetcher.Guard, opts Options, logger *slog.Logger) *Scraper {
	if opts.WebURL == "" {
		opts.WebURL = DefaultWebURL
	}
	opts.WebURL = strings.TrimRight(opts.WebURL, "/")
	if opts.ListMaxPages <= 0 {
		opts.ListMaxPages = DefaultListMaxPages
	}
	if opts.ListConcurrency <= 0 {
		opts.ListConcurrency = DefaultListConcurrency
	}
	if opts.Fetch.ThresholdPercent <= 0 {
		opts.Fetch.ThresholdPercent = fetcher.DefaultThresholdPercent
	}
	return &Scraper{
		transport: transport,
		fetcher:   f,
		cache:     c,
		guard:     guard,
		opts:      opts,
		logger:    logger.With("component", "scraper"),
	}
}

// FetchStarredRepos returns the authenticated account's starred repositories. A cached
// copy younger than maxAge is served without touching the network.
func (s *Scraper) FetchStarredRepos(ctx context.Context, maxAge time.Duration) ([]model.Repository, error) {
	var items []json.RawMessage
	found, err := s.cache.GetJSON(ctx, KeyStarred, cache.TypeStarred, maxAge, &items)
	if err != nil {
		s.logger.Warn("Ignoring unreadable starred cache entry", "error", err)
	}
	if found {
		s.logger.Info("Serving starred repositories from cache", "count", len(items))
		return github.DecodeStarred(items, s.logger), nil
	}

	if !s.transport.HasCredentials() {
		return nil, custom_errors.ErrMissingCredentials
	}

	header := http.Header{}
	header.Set("Accept", starMediaType)
	items, err = s.fetcher.FetchAll(ctx, "user/starred", header, s.opts.Fetch)
	if err != nil {
		return nil, fmt.Errorf("fetch starred repositories: %w", err)
	}
	if items == nil {
		items = []json.RawMessage{}
	}
	s.logger.Info("Fetched starred repositories", "count", len(items))

	if _, err := s.cache.PutJSON(ctx, KeyStarred, cache.TypeStarred, items); err != nil {
		s.logger.Error("Failed to cache starred repositories", "error", err)
	}
	if _, err := s.cache.PutJSON(ctx, KeyStarred, cache.TypeRepoData, github.StarredRepoObjects(items)); err != nil {
		s.logger.Error("Failed to cache starred repository data", "error", err)
	}

	return github.DecodeStarred(items, s.logger), nil
}

// FetchListsAndMembership scrapes user's star lists from the profile page, then each
// list's member repositories.
func (s *Scraper) FetchListsAndMembership(ctx context.Context, user string) (Lists, error) {
	if user == "" {
		return Lists{}, fmt.Errorf("fetch lists: %w", custom_errors.ErrMissingCredentials)
	}
	profileURL := s.opts.WebURL + "/" + url.PathEscape(user) + "?tab=stars"
	logger := s.logger.With("user", user)

	if err := s.gate(ctx); err != nil {
		return Lists{}, &custom_errors.PageError{URL: profileURL, Page: 1, Err: err}
	}
	resp, err := s.transport.FetchPage(ctx, profileURL, nil)
	if err != nil {
		return Lists{}, &custom_errors.PageError{URL: profileURL, Page: 1, Err: err}
	}
	if !resp.OK() {
		return Lists{}, &custom_errors.PageError{URL: profileURL, Page: 1, StatusCode: resp.StatusCode}
	}
	profile, err := ParseListPage(resp.Body, profileURL)
	if err != nil {
		return Lists{}, err
	}
	for _, l := range profile.Lists {
		if _, ok := ParseCount(l.CountText); !ok {
			logger.Warn("Could not parse list repository count", "list", l.Name, "text", l.CountText)
		}
	}
	logger.Info("Found star lists", "count", len(profile.Lists))

	members := make([][]string, len(profile.Lists))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.ListConcurrency)
	for i, l := range profile.Lists {
		g.Go(func() error {
			members[i] = s.fetchListMembers(gctx, l)
			return nil
		})
	}
	_ = g.Wait()

	result := Lists{Lists: profile.Lists, Membership: model.ListMembership{}}
	if result.Lists == nil {
		result.Lists = []model.ListMeta{}
	}
	for i, l := range profile.Lists {
		hrefs := members[i]
		if hrefs == nil {
			hrefs = []string{}
		}
		result.Membership[l.Name] = hrefs
		if _, err := s.cache.PutJSON(ctx, l.Name, cache.TypeList, model.ListEntry{ListMeta: l, Hrefs: hrefs}); err != nil {
			logger.Error("Failed to cache list", "list", l.Name, "error", err)
		}
	}
	if _, err := s.cache.PutJSON(ctx, KeyLists, cache.TypeLists, result.Lists); err != nil {
		logger.Error("Failed to cache list metadata", "error", err)
	}
	if _, err := s.cache.PutJSON(ctx, KeyListMembership, cache.TypeListMembership, result.Membership); err != nil {
		logger.Error("Failed to cache list membership", "error", err)
	}
	return result, nil
}

// fetchListMembers walks a list's pages until a page adds no new links, there is no
// next page, or the page ceiling is reached. Failures end the walk with what was found.
func (s *Scraper) fetchListMembers(ctx context.Context, list model.ListMeta) []string {
	logger := s.logger.With("list", list.Name)
	seen := map[string]bool{}
	var hrefs []string

	next := list.URL
	for page := 1; page <= s.opts.ListMaxPages && next != ""; page++ {
		if err := s.gate(ctx); err != nil {
			logger.Warn("Stopping list fetch", "page", page, "error", err)
			break
		}
		resp, err := s.transport.FetchPage(ctx, next, nil)
		if err != nil {
			logger.Warn("List page failed", "page", page, "error", err)
			break
		}
		if !resp.OK() {
			logger.Warn("List page failed", "page", page, "status", resp.StatusCode)
			break
		}
		parsed, err := ParseListPage(resp.Body, next)
		if err != nil {
			logger.Warn("List page could not be parsed", "page", page, "error", err)
			break
		}

		added := 0
		for _, h := range parsed.RepoLinks {
			if !seen[h] {
				seen[h] = true
				hrefs = append(hrefs, h)
				added++
			}
		}
		if added == 0 {
			break
		}
		next = parsed.NextPage
	}
	logger.Debug("Fetched list members", "count", len(hrefs))
	return hrefs
}

// CachedLists returns the list metadata and membership from the last scrape.
func (s *Scraper) CachedLists(ctx context.Context) (Lists, bool, error) {
	var result Lists
	found, err := s.cache.GetJSON(ctx, KeyLists, cache.TypeLists, 0, &result.Lists)
	if err != nil || !found {
		return Lists{}, false, err
	}
	found, err = s.cache.GetJSON(ctx, KeyListMembership, cache.TypeListMembership, 0, &result.Membership)
	if err != nil || !found {
		return Lists{}, false, err
	}
	return result, true, nil
}

// CachedList returns a single list's cached entry.
func (s *Scraper) CachedList(ctx context.Context, name string) (model.ListEntry, bool, error) {
	var entry model.ListEntry
	found, err := s.cache.GetJSON(ctx, name, cache.TypeList, 0, &entry)
	if err != nil || !found {
		return model.ListEntry{}, false, err
	}
	return entry, true, nil
}

// FetchRepoData returns the metadata of fullName ("owner/name"), cached as repo_data under
// that key. found is false for repositories the remote refuses to serve; that outcome is
// cached too.
func (s *Scraper) FetchRepoData(ctx context.Context, fullName string, maxAge time.Duration) (model.Repository, bool, error) {
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return model.Repository{}, false, &custom_errors.ErrInvalidRepoFormat{Repo: fullName}
	}
	logger := s.logger.With("repo", fullName)

	entry, found, err := s.cache.GetFresh(ctx, fullName, cache.TypeRepoData, maxAge)
	if err != nil {
		return model.Repository{}, false, err
	}
	if found {
		if cache.IsInaccessible([]byte(entry.Payload)) {
			logger.Debug("Repository cached as inaccessible")
			return model.Repository{}, false, nil
		}
		return firstRepository([]byte(entry.Payload), logger)
	}

	if !s.transport.HasCredentials() {
		return model.Repository{}, false, custom_errors.ErrMissingCredentials
	}
	if err := s.gate(ctx); err != nil {
		return model.Repository{}, false, err
	}
	resp, err := s.transport.Fetch(ctx, fmt.Sprintf("repos/%s/%s", url.PathEscape(owner), url.PathEscape(name)), nil)
	if err != nil {
		return model.Repository{}, false, err
	}
	if resp.RateLimited {
		return model.Repository{}, false, fmt.Errorf("fetch repository %s: status %d: %w", fullName, resp.StatusCode, custom_errors.ErrRateLimited)
	}
	if cache.InaccessibleStatus(resp.StatusCode) {
		if _, err := s.cache.MarkInaccessible(ctx, fullName, resp.StatusCode); err != nil {
			logger.Error("Failed to cache inaccessible marker", "error", err)
		}
		return model.Repository{}, false, nil
	}
	if !resp.OK() {
		return model.Repository{}, false, fmt.Errorf("fetch repository %s: unexpected status %d", fullName, resp.StatusCode)
	}

	if _, err := s.cache.Put(ctx, fullName, cache.TypeRepoData, resp.Body); err != nil {
		logger.Error("Failed to cache repository data", "error", err)
	}
	return firstRepository(resp.Body, logger)
}

func firstRepository(payload []byte, logger *slog.Logger) (model.Repository, bool, error) {
	repos, err := github.DecodeRepositories(payload, logger)
	if err != nil {
		return model.Repository{}, false, err
	}
	if len(repos) == 0 {
		return model.Repository{}, false, nil
	}
	return repos[0], true, nil
}

// gate backs off once when the quota is nearly spent and gives up if it still is.
func (s *Scraper) gate(ctx context.Context) error {
	if s.guard == nil || !s.guard.IsApproachingLimit(ctx, s.opts.Fetch.ThresholdPercent) {
		return nil
	}
	if err := s.guard.Backoff(ctx); err != nil {
		return err
	}
	if s.guard.IsApproachingLimit(ctx, s.opts.Fetch.ThresholdPercent) {
		return custom_errors.ErrRateLimited
	}
	return nil
}
