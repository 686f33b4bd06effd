package cache

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repo-catalog/internal/database/dbtest"
	custom_errors "repo-catalog/internal/errors"
)

func newTestStore(t *testing.T) (*Store, *dbtest.MemStore, *time.Time) {
	t.Helper()
	mem := dbtest.New()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := New(mem, logger)

	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	return s, mem, &clock
}

func TestStore_Put_IsIdempotent(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()
	payload := []byte(`{"hello": "world"}`)

	first, err := s.Put(ctx, "k", TypeLists, payload)
	require.NoError(t, err)

	*clock = clock.Add(time.Minute)
	second, err := s.Put(ctx, "k", TypeLists, payload)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))

	entry, found, err := s.Get(ctx, "k", TypeLists)
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, string(payload), entry.Payload)
}

func TestStore_Put_ConcurrentWriters(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Put(ctx, "shared", TypeStarred, []byte(`[]`))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entries, err := mem.ListCacheEntriesByType(ctx, TypeStarred)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, 7, mem.Calls("UpdateCacheEntry"))
}

func TestStore_Put_RejectsInvalidJSON(t *testing.T) {
	s, _, _ := newTestStore(t)

	_, err := s.Put(context.Background(), "k", TypeLists, []byte(`{not json`))

	var decodeErr *custom_errors.DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestStore_GetFresh(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()
	_, err := s.Put(ctx, "k", TypeLists, []byte(`[]`))
	require.NoError(t, err)

	*clock = clock.Add(2 * time.Hour)

	_, found, err := s.GetFresh(ctx, "k", TypeLists, time.Hour)
	require.NoError(t, err)
	assert.False(t, found, "stale entry is reported absent")

	_, found, err = s.GetFresh(ctx, "k", TypeLists, 0)
	require.NoError(t, err)
	assert.True(t, found, "zero max age accepts any age")
}

func TestStore_Put_ExpandsRepoData(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx := context.Background()

	payload := `[
		{"id": 1, "name": "a", "full_name": "octo/a", "owner": {"login": "octo", "id": 9}, "topics": ["x", "y"], "license": {"spdx_id": "MIT"}},
		{"id": null, "name": "ghost", "full_name": "octo/ghost"},
		{"id": 2, "name": "b", "full_name": "octo/b"}
	]`
	_, err := s.Put(ctx, "starred_repos", TypeRepoData, []byte(payload))
	require.NoError(t, err)

	a, err := mem.GetExpandedRepo(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "octo/a", a.FullName)
	assert.Equal(t, "octo", a.OwnerLogin)
	assert.Equal(t, int64(9), *a.OwnerID)
	assert.Equal(t, "x,y", a.Topics)
	assert.Equal(t, "MIT", *a.LicenseSpdxID)
	assert.Equal(t, "starred_repos", a.CacheKey)

	_, err = mem.GetExpandedRepo(ctx, 2)
	assert.NoError(t, err)
	_, err = mem.GetExpandedRepoByFullName(ctx, "octo/ghost")
	assert.Error(t, err, "null id objects are not expanded")

	entry, found, err := s.Get(ctx, "starred_repos", TypeRepoData)
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, entry.Payload, "ghost", "raw payload is cached in full")
}

func TestStore_Put_NullIDDoesNotOverwriteID(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "octo/a", TypeRepoData, []byte(`{"id": 77, "name": "a", "full_name": "octo/a", "stargazers_count": 3}`))
	require.NoError(t, err)
	_, err = s.Put(ctx, "octo/a", TypeRepoData, []byte(`{"id": null, "name": "a", "full_name": "octo/a", "stargazers_count": 99}`))
	require.NoError(t, err)

	row, err := mem.GetExpandedRepoByFullName(ctx, "octo/a")
	require.NoError(t, err)
	assert.Equal(t, int64(77), row.RepoID)
	assert.Equal(t, int32(3), row.StargazersCount)
}

func TestStore_Put_ExpansionFailureKeepsCacheWrite(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx := context.Background()
	mem.FailWith(func(method string, arg any) error {
		if method == "UpsertExpandedRepo" {
			return errors.New("disk full")
		}
		return nil
	})

	_, err := s.Put(ctx, "octo/a", TypeRepoData, []byte(`[{"id": 1, "name": "a"}, {"id": 2, "name": "b"}]`))
	require.NoError(t, err)

	_, found, err := s.Get(ctx, "octo/a", TypeRepoData)
	require.NoError(t, err)
	assert.True(t, found)

	mem.FailWith(nil)
	_, err = mem.GetExpandedRepo(ctx, 1)
	assert.Error(t, err)
}

func TestStore_Put_PersistenceErrorIsReturned(t *testing.T) {
	s, mem, _ := newTestStore(t)
	boom := errors.New("connection reset")
	mem.FailWith(func(method string, arg any) error {
		if method == "InsertCacheEntry" {
			return boom
		}
		return nil
	})

	_, err := s.Put(context.Background(), "k", TypeLists, []byte(`{}`))

	assert.ErrorIs(t, err, boom)
}

func TestStore_MarkInaccessible(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.MarkInaccessible(ctx, "octo/private", 404)
	require.NoError(t, err)

	entry, found, err := s.Get(ctx, "octo/private", TypeRepoData)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, IsInaccessible([]byte(entry.Payload)))
	assert.Equal(t, 0, mem.Calls("UpsertExpandedRepo"))

	assert.False(t, IsInaccessible([]byte(`{"id": 1}`)))
	assert.False(t, IsInaccessible([]byte(`[{"inaccessible": true}]`)))
	assert.True(t, InaccessibleStatus(451))
	assert.False(t, InaccessibleStatus(500))
}
