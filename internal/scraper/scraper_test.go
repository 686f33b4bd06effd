package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repo-catalog/internal/cache"
	"repo-catalog/internal/database"
	"repo-catalog/internal/database/dbtest"
	custom_errors "repo-catalog/internal/errors"
	"repo-catalog/internal/fetcher"
	"repo-catalog/internal/github"
)

const profilePage = `<html><body>
<div id="profile-lists-container">
  <a class="Box-row" href="/stars/octo/lists/tools">
    <h3>Tools</h3>
    <span class="Truncate-text">Things I use</span>
    <div class="color-fg-muted">5 repositories</div>
  </a>
  <a class="Box-row" href="/stars/octo/lists/games">
    <h3>Games</h3>
    <div class="color-fg-muted">1 repository</div>
  </a>
</div>
</body></html>`

func listPage(links []string, next string) string {
	body := `<html><body><div id="user-list-repositories">`
	for _, l := range links {
		body += fmt.Sprintf(`<div><h3><a href="%s">%s</a></h3></div>`, l, l)
	}
	body += `</div>`
	if next != "" {
		body += fmt.Sprintf(`<a class="next_page" rel="next" href="%s">Next</a>`, next)
	}
	return body + `</body></html>`
}

type testEnv struct {
	scraper  *Scraper
	mem      *dbtest.MemStore
	server   *httptest.Server
	requests map[string]*int32
}

func (e *testEnv) count(path string) int32 {
	if c, ok := e.requests[path]; ok {
		return atomic.LoadInt32(c)
	}
	return 0
}

func newTestEnv(t *testing.T, token string, routes map[string]http.HandlerFunc) *testEnv {
	t.Helper()
	env := &testEnv{requests: map[string]*int32{}}
	mux := http.NewServeMux()
	for path, h := range routes {
		var n int32
		env.requests[path] = &n
		h := h
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&n, 1)
			h(w, r)
		})
	}
	env.server = httptest.NewServer(mux)
	t.Cleanup(env.server.Close)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	client := github.NewClient(token, logger)
	require.NoError(t, client.WithEnterpriseURL(env.server.URL))

	env.mem = dbtest.New()
	store := cache.New(env.mem, logger)
	f := fetcher.New(client, nil, logger)
	env.scraper = New(client, f, store, nil, Options{WebURL: env.server.URL, Fetch: fetcher.Options{PerPage: 2, Concurrency: 2}}, logger)
	return env
}

func TestScraper_FetchListsAndMembership(t *testing.T) {
	env := newTestEnv(t, "", map[string]http.HandlerFunc{
		"/octo": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "stars", r.URL.Query().Get("tab"))
			fmt.Fprint(w, profilePage)
		},
		"/stars/octo/lists/tools": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, listPage([]string{"/a/one", "/a/two", "/b/three", "/b/four", "/c/five"}, ""))
		},
		"/stars/octo/lists/games": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, listPage([]string{"/g/chess"}, ""))
		},
	})
	ctx := context.Background()

	result, err := env.scraper.FetchListsAndMembership(ctx, "octo")

	require.NoError(t, err)
	require.Len(t, result.Lists, 2)
	assert.Equal(t, "Tools", result.Lists[0].Name)
	assert.Equal(t, "Things I use", result.Lists[0].Description)
	assert.Equal(t, env.server.URL+"/stars/octo/lists/tools", result.Lists[0].URL)
	assert.Equal(t, []int{5, 1}, []int{result.Lists[0].DeclaredCount, result.Lists[1].DeclaredCount})
	assert.Len(t, result.Membership["Tools"], 5)
	assert.Equal(t, []string{"/g/chess"}, result.Membership["Games"])

	assert.Equal(t, int32(1), env.count("/octo"))
	assert.Equal(t, int32(2), env.count("/stars/octo/lists/tools")+env.count("/stars/octo/lists/games"), "one membership fetch per list")

	cached, found, err := env.scraper.CachedLists(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, result.Lists, cached.Lists)
	assert.Equal(t, result.Membership, cached.Membership)

	games, found, err := env.scraper.CachedList(ctx, "Games")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, games.DeclaredCount)
	assert.Equal(t, []string{"/g/chess"}, games.Hrefs)
}

func TestScraper_ListPagination(t *testing.T) {
	env := newTestEnv(t, "", map[string]http.HandlerFunc{
		"/octo": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `<div id="profile-lists-container"><a class="Box-row" href="/l"><h3>Big</h3><div class="color-fg-muted">lots</div></a></div>`)
		},
		"/l": func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Query().Get("page") {
			case "":
				fmt.Fprint(w, listPage([]string{"/a/1", "/a/2"}, "/l?page=2"))
			case "2":
				fmt.Fprint(w, listPage([]string{"/a/3"}, "/l?page=3"))
			default:
				// Repeats earlier links: nothing new, the walk ends here.
				fmt.Fprint(w, listPage([]string{"/a/1"}, "/l?page=4"))
			}
		},
	})

	result, err := env.scraper.FetchListsAndMembership(context.Background(), "octo")

	require.NoError(t, err)
	assert.Equal(t, []string{"/a/1", "/a/2", "/a/3"}, result.Membership["Big"])
	assert.Equal(t, 0, result.Lists[0].DeclaredCount, "unparsable count is zero")
	assert.Equal(t, int32(3), env.count("/l"))
}

func TestScraper_ProfileFailureIsReturned(t *testing.T) {
	env := newTestEnv(t, "", map[string]http.HandlerFunc{
		"/octo": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		},
	})

	_, err := env.scraper.FetchListsAndMembership(context.Background(), "octo")

	var pageErr *custom_errors.PageError
	require.ErrorAs(t, err, &pageErr)
	assert.Equal(t, http.StatusNotFound, pageErr.StatusCode)
}

func TestScraper_FetchStarredRepos(t *testing.T) {
	env := newTestEnv(t, "token", map[string]http.HandlerFunc{
		"/api/v3/user/starred": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, starMediaType, r.Header.Get("Accept"))
			fmt.Fprint(w, `[
				{"starred_at": "2024-01-01T00:00:00Z", "repo": {"id": 1, "name": "one", "full_name": "a/one", "owner": {"login": "a"}}},
				{"starred_at": "2024-01-02T00:00:00Z", "repo": {"id": 2, "name": "two", "full_name": "a/two", "owner": {"login": "a"}}}
			]`)
		},
	})
	ctx := context.Background()

	repos, err := env.scraper.FetchStarredRepos(ctx, time.Hour)
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, "a/one", repos[0].FullName)
	require.NotNil(t, repos[1].StarredAt)

	// Expanded through the repo_data entry.
	row, err := env.mem.GetExpandedRepo(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, KeyStarred, row.CacheKey)

	// Second call is served from cache.
	again, err := env.scraper.FetchStarredRepos(ctx, time.Hour)
	require.NoError(t, err)
	assert.Len(t, again, 2)
	assert.Equal(t, int32(1), env.count("/api/v3/user/starred"))
}

func TestScraper_FetchStarredRepos_MissingCredentials(t *testing.T) {
	env := newTestEnv(t, "", nil)

	_, err := env.scraper.FetchStarredRepos(context.Background(), time.Hour)

	assert.ErrorIs(t, err, custom_errors.ErrMissingCredentials)
}

func TestScraper_FetchRepoData(t *testing.T) {
	env := newTestEnv(t, "token", map[string]http.HandlerFunc{
		"/api/v3/repos/a/one": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"id": 1, "name": "one", "full_name": "a/one", "language": "Go"}`)
		},
		"/api/v3/repos/a/secret": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message": "Not Found"}`)
		},
	})
	ctx := context.Background()

	repo, found, err := env.scraper.FetchRepoData(ctx, "a/one", time.Hour)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Go", *repo.Language)

	for i := 0; i < 2; i++ {
		_, found, err = env.scraper.FetchRepoData(ctx, "a/secret", time.Hour)
		require.NoError(t, err)
		assert.False(t, found)
	}
	assert.Equal(t, int32(1), env.count("/api/v3/repos/a/secret"), "inaccessible marker is served from cache")

	_, _, err = env.scraper.FetchRepoData(ctx, "a/one", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int32(1), env.count("/api/v3/repos/a/one"))

	_, _, err = env.scraper.FetchRepoData(ctx, "nonsense", time.Hour)
	var formatErr *custom_errors.ErrInvalidRepoFormat
	assert.ErrorAs(t, err, &formatErr)
}

func TestScraper_FetchRepoData_RateLimitIsNotInaccessible(t *testing.T) {
	env := newTestEnv(t, "token", map[string]http.HandlerFunc{
		"/api/v3/repos/a/abuse": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"message": "You have exceeded a secondary rate limit"}`)
		},
		"/api/v3/repos/a/busy": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-RateLimit-Limit", "5000")
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10))
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"message": "API rate limit exceeded"}`)
		},
	})
	ctx := context.Background()

	for _, name := range []string{"a/abuse", "a/busy", "a/busy"} {
		_, found, err := env.scraper.FetchRepoData(ctx, name, time.Hour)

		assert.ErrorIs(t, err, custom_errors.ErrRateLimited, name)
		assert.False(t, found)
		_, err = env.mem.GetCacheEntry(ctx, database.GetCacheEntryParams{Key: name, Type: cache.TypeRepoData})
		assert.ErrorIs(t, err, pgx.ErrNoRows, "%s must not be cached as inaccessible", name)
	}
}
