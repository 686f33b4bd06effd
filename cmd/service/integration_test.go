//go:build integration

// cmd/service/integration_test.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"repo-catalog/internal/cache"
	"repo-catalog/internal/config"
	"repo-catalog/internal/database"
	"repo-catalog/internal/scraper"
)

func setupTestDatabase(ctx context.Context, t *testing.T) (*pgxpool.Pool, func()) {
	// Start a postgres container
	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	// Get the connection string
	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Run migrations
	m, err := migrate.New("file://../../migrations", connStr)
	require.NoError(t, err)
	require.NoError(t, m.Up())

	// Create a connection pool
	dbpool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	teardown := func() {
		dbpool.Close()
		require.NoError(t, pgContainer.Terminate(ctx))
	}
	return dbpool, teardown
}

// makeClone lays out just enough of a repository for git to read its origin.
func makeClone(t *testing.T, dir, remote string) {
	t.Helper()
	gitDir := filepath.Join(dir, ".git")
	for _, sub := range []string{"objects", "refs/heads"} {
		require.NoError(t, os.MkdirAll(filepath.Join(gitDir, sub), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("ref: refs/heads/main\n"), 0o644))
	cfg := "[core]\n\trepositoryformatversion = 0\n\tbare = false\n"
	if remote != "" {
		cfg += fmt.Sprintf("[remote \"origin\"]\n\turl = %s\n", remote)
	}
	require.NoError(t, os.WriteFile(filepath.Join(gitDir, "config"), []byte(cfg), 0o644))
}

func fakeGitHub(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/rate_limit", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"resources":{"core":{"limit":5000,"remaining":4990,"reset":0}}}`)
	})
	mux.HandleFunc("/api/v3/user", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"login":"octo"}`)
	})
	mux.HandleFunc("/api/v3/user/starred", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"starred_at":"2024-03-01T10:00:00Z","repo":{"id":11,"name":"alpha","full_name":"o/alpha",
				"owner":{"login":"o","id":1,"type":"User"},"html_url":"https://github.com/o/alpha",
				"clone_url":"https://github.com/o/alpha.git","language":"Go","topics":["cli"],"stargazers_count":7}},
			{"starred_at":"2024-03-02T10:00:00Z","repo":{"id":12,"name":"gamma","full_name":"o/gamma",
				"owner":{"login":"o","id":1,"type":"User"},"html_url":"https://github.com/o/gamma"}}
		]`)
	})
	mux.HandleFunc("/api/v3/repos/o/beta", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	})
	mux.HandleFunc("/octo", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div id="profile-lists-container">
			<a class="Box-row" href="/stars/octo/lists/fav"><h3>Fav</h3><div class="color-fg-muted">1 repository</div></a>
		</div></body></html>`)
	})
	mux.HandleFunc("/stars/octo/lists/fav", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div id="user-list-repositories">
			<div><h3><a href="/o/gamma">o / gamma</a></h3></div>
		</div></body></html>`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestSyncer_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	dbpool, teardown := setupTestDatabase(ctx, t)
	defer teardown()

	gh := fakeGitHub(t)
	root := t.TempDir()
	makeClone(t, filepath.Join(root, "alpha"), "https://github.com/o/alpha.git")
	makeClone(t, filepath.Join(root, "alpha-copy"), "https://github.com/o/alpha")
	makeClone(t, filepath.Join(root, "beta"), "git@github.com:o/beta.git")

	cfg := &config.Config{
		GithubToken:        "test-token",
		GithubAPIURL:       gh.URL,
		GithubWebURL:       gh.URL,
		ScanRoots:          []string{root},
		FetchConcurrency:   2,
		RateLimitThreshold: 10,
		RateLimitBackoff:   time.Millisecond,
		ReconcileWorkers:   2,
		CommitEvery:        1,
		CacheMaxAge:        time.Hour,
		EnrichLimit:        10,
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	store := database.NewStore(dbpool)
	appSyncer, err := newSyncer(cfg, store, logger)
	require.NoError(t, err)

	// --- ACT ---
	report, err := appSyncer.RunOnce(ctx)
	require.NoError(t, err)

	// --- ASSERT ---
	q := database.New(dbpool)
	assert.Equal(t, 3, report.Folders.Processed)
	assert.Equal(t, 2, report.Starred.Processed)

	alpha, err := q.GetRepoByFullName(ctx, "o/alpha")
	require.NoError(t, err)
	assert.True(t, alpha.Starred)
	require.NotNil(t, alpha.RemoteID)
	assert.Equal(t, int64(11), *alpha.RemoteID)
	assert.Equal(t, "cli", alpha.Topics)
	assert.True(t, alpha.DupeFlag, "two clones of the same repository")
	assert.Equal(t, int32(2), alpha.DupeCount)

	gamma, err := q.GetRepoByFullName(ctx, "o/gamma")
	require.NoError(t, err)
	star, err := q.GetStarByRepoID(ctx, gamma.ID)
	require.NoError(t, err)
	fav, err := q.GetListByName(ctx, "Fav")
	require.NoError(t, err)
	require.NotNil(t, star.ListID)
	assert.Equal(t, fav.ID, *star.ListID)
	assert.Equal(t, int32(1), fav.DeclaredCount)

	expanded, err := q.GetExpandedRepo(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, "o/alpha", expanded.FullName)

	_, err = q.GetCacheEntry(ctx, database.GetCacheEntryParams{Key: scraper.KeyStarred, Type: cache.TypeStarred})
	assert.NoError(t, err)
	marker, err := q.GetCacheEntry(ctx, database.GetCacheEntryParams{Key: "o/beta", Type: cache.TypeRepoData})
	require.NoError(t, err)
	assert.True(t, cache.IsInaccessible([]byte(marker.Payload)))

	// A second run is served from cache and changes nothing.
	again, err := appSyncer.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Folders.Created)
	assert.Equal(t, 0, again.Starred.Created)
	folders, err := q.ListValidFolders(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, folders, 3)
	for _, f := range folders {
		assert.Equal(t, int32(2), f.ScanCount)
	}
}

func TestStore_SavepointRollback_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	dbpool, teardown := setupTestDatabase(ctx, t)
	defer teardown()
	store := database.NewStore(dbpool)
	innerErr := errors.New("inner unit failed")

	err := store.ExecTx(ctx, func(tx database.Store) error {
		if _, err := tx.CreateRepo(ctx, database.CreateRepoParams{GitUrl: "https://github.com/o/kept", Name: "kept", Now: time.Now()}); err != nil {
			return err
		}
		err := tx.ExecTx(ctx, func(inner database.Store) error {
			if _, err := inner.CreateRepo(ctx, database.CreateRepoParams{GitUrl: "https://github.com/o/dropped", Name: "dropped", Now: time.Now()}); err != nil {
				return err
			}
			return innerErr
		})
		assert.ErrorIs(t, err, innerErr)
		return nil
	})
	require.NoError(t, err)

	_, err = store.GetRepoByURL(ctx, "https://github.com/o/kept")
	assert.NoError(t, err)
	_, err = store.GetRepoByURL(ctx, "https://github.com/o/dropped")
	assert.ErrorIs(t, err, pgx.ErrNoRows)

	// Concurrent writers of one cache key end with a single row.
	c := cache.New(store, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func(i int) {
			_, err := c.Put(ctx, "k", cache.TypeLists, []byte(fmt.Sprintf(`{"n":%d}`, i)))
			errs <- err
		}(i)
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-errs)
	}
	entries, err := store.ListCacheEntriesByType(ctx, cache.TypeLists)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
