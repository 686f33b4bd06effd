package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repo-catalog/internal/database"
	"repo-catalog/internal/database/dbtest"
	"repo-catalog/internal/gitlocal"
	"repo-catalog/internal/model"
)

// fakeInspector answers from maps; paths missing from remotes are reported as gone.
type fakeInspector struct {
	mu      sync.Mutex
	remotes map[string]string
	block   map[string]chan struct{}
	entered chan string
}

func (f *fakeInspector) RemoteURL(ctx context.Context, dir string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remotes[dir]
}

func (f *fakeInspector) Stat(dir string) (model.FolderStats, error) {
	f.mu.Lock()
	_, ok := f.remotes[dir]
	wait := f.block[dir]
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- dir
	}
	if wait != nil {
		<-wait
	}
	if !ok {
		return model.FolderStats{}, fmt.Errorf("stat %s: %w", dir, fs.ErrNotExist)
	}
	return model.FolderStats{SizeBytes: 10, FileCount: 2, DirCount: 1, ModifiedAt: time.Unix(1700000000, 0)}, nil
}

func (f *fakeInspector) remove(dir string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.remotes, dir)
}

func newTestEngine(t *testing.T, remotes map[string]string) (*Engine, *dbtest.MemStore, *fakeInspector) {
	t.Helper()
	mem := dbtest.New()
	insp := &fakeInspector{remotes: remotes}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return New(mem, insp, Options{Workers: 3, CommitEvery: 2}, logger), mem, insp
}

func TestEngine_ReconcileFolder_FallbackOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("url with .git matches stored url without it", func(t *testing.T) {
		e, mem, _ := newTestEngine(t, map[string]string{"/src/b": "https://github.com/a/b.git"})
		existing, err := mem.CreateRepo(ctx, database.CreateRepoParams{GitUrl: "https://github.com/a/b", Name: "b"})
		require.NoError(t, err)

		folder, err := e.ReconcileFolder(ctx, "/src/b")

		require.NoError(t, err)
		require.NotNil(t, folder)
		assert.Equal(t, existing.ID, *folder.RepoID)
		assert.Equal(t, 1, mem.Calls("CreateRepo"), "no new repository is created")
	})

	t.Run("url without .git matches stored url with it", func(t *testing.T) {
		e, mem, _ := newTestEngine(t, map[string]string{"/src/b": "https://github.com/a/b"})
		existing, err := mem.CreateRepo(ctx, database.CreateRepoParams{GitUrl: "https://github.com/a/b.git", Name: "b"})
		require.NoError(t, err)

		folder, err := e.ReconcileFolder(ctx, "/src/b")

		require.NoError(t, err)
		assert.Equal(t, existing.ID, *folder.RepoID)
	})

	t.Run("falls back to the folder name", func(t *testing.T) {
		e, mem, _ := newTestEngine(t, map[string]string{"/src/Tool": "git@github.com:someone/tool.git"})
		existing, err := mem.CreateRepo(ctx, database.CreateRepoParams{GitUrl: "https://github.com/octo/tool", Name: "tool"})
		require.NoError(t, err)

		folder, err := e.ReconcileFolder(ctx, "/src/Tool")

		require.NoError(t, err)
		assert.Equal(t, existing.ID, *folder.RepoID)
	})

	t.Run("creates a repository when nothing matches", func(t *testing.T) {
		e, mem, _ := newTestEngine(t, map[string]string{"/src/b": "git@github.com:a/b.git"})

		folder, err := e.ReconcileFolder(ctx, "/src/b")

		require.NoError(t, err)
		repo, err := mem.GetRepo(ctx, *folder.RepoID)
		require.NoError(t, err)
		assert.Equal(t, "git@github.com:a/b.git", repo.GitUrl)
		assert.Equal(t, "a", repo.Owner)
		assert.Equal(t, "a/b", repo.FullName)
		assert.Equal(t, int32(2), folder.FileCount)
		assert.Equal(t, int32(1), folder.ScanCount)
	})

	t.Run("folder without remote gets a local identity", func(t *testing.T) {
		e, mem, _ := newTestEngine(t, map[string]string{"/src/notes": gitlocal.NoRemote})

		folder, err := e.ReconcileFolder(ctx, "/src/notes")

		require.NoError(t, err)
		repo, err := mem.GetRepo(ctx, *folder.RepoID)
		require.NoError(t, err)
		assert.Equal(t, "local:///src/notes", repo.GitUrl)
		assert.Equal(t, "notes", repo.Name)
	})
}

func TestEngine_ReconcileFolder_Rescan(t *testing.T) {
	ctx := context.Background()
	e, mem, insp := newTestEngine(t, map[string]string{"/src/b": "https://github.com/a/b"})

	first, err := e.ReconcileFolder(ctx, "/src/b")
	require.NoError(t, err)
	second, err := e.ReconcileFolder(ctx, "/src/b")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int32(2), second.ScanCount)

	insp.remove("/src/b")
	gone, err := e.ReconcileFolder(ctx, "/src/b")
	require.NoError(t, err)
	assert.Nil(t, gone)

	_, err = mem.GetValidFolderByPath(ctx, "/src/b")
	assert.ErrorIs(t, err, pgx.ErrNoRows, "vanished folder is invalidated")
}

func TestEngine_DetectDuplicates(t *testing.T) {
	ctx := context.Background()
	e, mem, _ := newTestEngine(t, map[string]string{
		"/one/b":   "https://github.com/a/b.git",
		"/two/b":   "https://github.com/a/b.git",
		"/three/b": "https://github.com/a/b",
		"/solo/c":  "https://github.com/a/c.git",
	})

	stats := e.ReconcileFolders(ctx, []string{"/one/b", "/two/b", "/three/b", "/solo/c"})
	require.Equal(t, 0, stats.Errors)
	assert.Equal(t, 4, stats.Processed)
	assert.Equal(t, 2, stats.Created)

	_, err := e.DetectDuplicates(ctx)
	require.NoError(t, err)

	shared, err := mem.GetRepoByFullName(ctx, "a/b")
	require.NoError(t, err)
	assert.True(t, shared.DupeFlag)
	assert.Equal(t, int32(3), shared.DupeCount)

	solo, err := mem.GetRepoByFullName(ctx, "a/c")
	require.NoError(t, err)
	assert.False(t, solo.DupeFlag)
	assert.Equal(t, int32(0), solo.DupeCount)
}

func TestEngine_DetectDuplicates_DistinctRows(t *testing.T) {
	ctx := context.Background()
	e, mem, _ := newTestEngine(t, nil)
	for i := 0; i < 3; i++ {
		_, err := mem.CreateRepo(ctx, database.CreateRepoParams{GitUrl: "https://github.com/a/b", Name: fmt.Sprintf("b%d", i)})
		require.NoError(t, err)
	}
	single, err := mem.CreateRepo(ctx, database.CreateRepoParams{GitUrl: "https://github.com/a/c", Name: "c"})
	require.NoError(t, err)

	flagged, err := e.DetectDuplicates(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), flagged)

	repos, err := mem.ListRepos(ctx, database.ListReposParams{DupesOnly: true, Limit: 10})
	require.NoError(t, err)
	require.Len(t, repos, 3)
	for _, r := range repos {
		assert.Equal(t, int32(3), r.DupeCount)
	}

	// Flags are recomputed from scratch.
	flagged, err = e.DetectDuplicates(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), flagged)
	got, err := mem.GetRepo(ctx, single.ID)
	require.NoError(t, err)
	assert.False(t, got.DupeFlag)
}

func TestEngine_DetectDuplicates_WaitsForInflightUnits(t *testing.T) {
	ctx := context.Background()
	e, mem, insp := newTestEngine(t, map[string]string{
		"/one/b": "https://github.com/a/b",
		"/two/b": "https://github.com/a/b",
	})
	_, err := e.ReconcileFolder(ctx, "/one/b")
	require.NoError(t, err)

	release := make(chan struct{})
	insp.block = map[string]chan struct{}{"/two/b": release}
	insp.entered = make(chan string, 1)

	unitDone := make(chan struct{})
	go func() {
		defer close(unitDone)
		_, err := e.ReconcileFolder(ctx, "/two/b")
		assert.NoError(t, err)
	}()
	<-insp.entered

	dupesDone := make(chan struct{})
	go func() {
		defer close(dupesDone)
		_, err := e.DetectDuplicates(ctx)
		assert.NoError(t, err)
	}()

	select {
	case <-dupesDone:
		t.Fatal("duplicate detection ran while a unit was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-unitDone
	<-dupesDone

	repo, err := mem.GetRepoByURL(ctx, "https://github.com/a/b")
	require.NoError(t, err)
	assert.Equal(t, int32(2), repo.DupeCount, "the in-flight folder is counted")
}

func TestEngine_ReconcileFolders_FailureIsolation(t *testing.T) {
	ctx := context.Background()
	e, mem, _ := newTestEngine(t, map[string]string{
		"/src/a": "https://github.com/x/a",
		"/src/b": "https://github.com/x/b",
		"/src/c": "https://github.com/x/c",
	})
	mem.FailWith(func(method string, arg any) error {
		if p, ok := arg.(database.UpsertFolderParams); ok && p.Path == "/src/b" {
			return errors.New("constraint violation")
		}
		return nil
	})

	stats := e.ReconcileFolders(ctx, []string{"/src/a", "/src/b", "/src/c"})

	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 2, stats.Processed)
	mem.FailWith(nil)

	_, err := mem.GetRepoByURL(ctx, "https://github.com/x/b")
	assert.ErrorIs(t, err, pgx.ErrNoRows, "the failed unit's repository insert is rolled back")
	for _, p := range []string{"/src/a", "/src/c"} {
		_, err := mem.GetValidFolderByPath(ctx, p)
		assert.NoError(t, err, p)
	}
}

func ptr[T any](v T) *T { return &v }

func TestEngine_ReconcileStarred(t *testing.T) {
	ctx := context.Background()
	starredAt := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	t.Run("matches a cloned repository by url", func(t *testing.T) {
		e, mem, _ := newTestEngine(t, map[string]string{"/src/b": "https://github.com/a/b.git"})
		folder, err := e.ReconcileFolder(ctx, "/src/b")
		require.NoError(t, err)

		repo, err := e.ReconcileStarred(ctx, model.Repository{
			RemoteID:    ptr(int64(42)),
			Owner:       "a",
			Name:        "b",
			FullName:    "a/b",
			HTMLURL:     "https://github.com/a/b",
			CloneURL:    "https://github.com/a/b.git",
			Description: ptr("a thing"),
			Topics:      []string{"go", "cli"},
			StarsCount:  12,
			StarredAt:   &starredAt,
		})

		require.NoError(t, err)
		assert.Equal(t, *folder.RepoID, repo.ID)
		assert.True(t, repo.Starred)
		assert.Equal(t, starredAt, *repo.StarredAt)
		assert.Equal(t, int64(42), *repo.RemoteID)
		assert.Equal(t, "go,cli", repo.Topics)

		star, err := mem.GetStarByRepoID(ctx, repo.ID)
		require.NoError(t, err)
		assert.Equal(t, int32(12), star.StargazersCount)
		assert.Nil(t, star.ListID)
	})

	t.Run("matches by full name case-insensitively", func(t *testing.T) {
		e, mem, _ := newTestEngine(t, nil)
		existing, err := mem.CreateRepo(ctx, database.CreateRepoParams{GitUrl: "ssh://mirror/x", Owner: "Octo", Name: "Tool", FullName: "Octo/Tool"})
		require.NoError(t, err)

		repo, err := e.ReconcileStarred(ctx, model.Repository{FullName: "octo/tool", Name: "tool", HTMLURL: "https://github.com/octo/tool"})

		require.NoError(t, err)
		assert.Equal(t, existing.ID, repo.ID)
	})

	t.Run("creates a repository when nothing matches", func(t *testing.T) {
		e, mem, _ := newTestEngine(t, nil)

		repo, err := e.ReconcileStarred(ctx, model.Repository{Owner: "a", Name: "new", FullName: "a/new", CloneURL: "https://github.com/a/new.git"})

		require.NoError(t, err)
		assert.Equal(t, "https://github.com/a/new", repo.GitUrl)
		assert.Equal(t, 1, mem.Calls("CreateRepo"))

		again, err := e.ReconcileStarred(ctx, model.Repository{Owner: "a", Name: "new", FullName: "a/new", CloneURL: "https://github.com/a/new.git"})
		require.NoError(t, err)
		assert.Equal(t, repo.ID, again.ID)
		assert.Equal(t, 1, mem.Calls("CreateRepo"), "second pass matches")
	})

	t.Run("remote id is never cleared", func(t *testing.T) {
		e, _, _ := newTestEngine(t, nil)
		repo, err := e.ReconcileStarred(ctx, model.Repository{RemoteID: ptr(int64(7)), Name: "r", FullName: "o/r"})
		require.NoError(t, err)

		updated, err := e.ApplyRemoteMetadata(ctx, repo.ID, model.Repository{Name: "r", FullName: "o/r", Language: ptr("Go")})

		require.NoError(t, err)
		assert.Equal(t, int64(7), *updated.RemoteID)
		assert.Equal(t, "Go", *updated.Language)
	})
}

func TestEngine_ReconcileStarredBatch(t *testing.T) {
	ctx := context.Background()
	e, mem, _ := newTestEngine(t, nil)
	mem.FailWith(func(method string, arg any) error {
		if p, ok := arg.(database.UpsertStarParams); ok && p.StargazersCount == 666 {
			return errors.New("boom")
		}
		return nil
	})

	stats := e.ReconcileStarredBatch(ctx, []model.Repository{
		{Name: "a", FullName: "o/a", HTMLURL: "https://github.com/o/a"},
		{Name: "b", FullName: "o/b", HTMLURL: "https://github.com/o/b", StarsCount: 666},
		{Name: "c", FullName: "o/c", HTMLURL: "https://github.com/o/c"},
	})

	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 2, stats.Created)
	mem.FailWith(nil)
	_, err := mem.GetRepoByFullName(ctx, "o/b")
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestEngine_ReconcileLists(t *testing.T) {
	ctx := context.Background()
	e, mem, _ := newTestEngine(t, nil)

	for _, name := range []string{"one", "two", "three"} {
		_, err := e.ReconcileStarred(ctx, model.Repository{Owner: "a", Name: name, FullName: "a/" + name, HTMLURL: "https://github.com/a/" + name})
		require.NoError(t, err)
	}
	// Known but not starred.
	_, err := mem.CreateRepo(ctx, database.CreateRepoParams{GitUrl: "https://github.com/z/unstarred", Name: "unstarred", FullName: "z/unstarred"})
	require.NoError(t, err)

	lists := []model.ListMeta{
		{Name: "Tools", URL: "https://github.com/stars/me/lists/tools", DeclaredCount: 3},
		{Name: "Games", URL: "https://github.com/stars/me/lists/games", DeclaredCount: 1},
	}
	membership := model.ListMembership{
		"Tools": {"/A/One", "https://github.com/a/two.git", "/z/unstarred"},
		"Games": {"/a/two"},
	}

	stats := e.ReconcileLists(ctx, lists, membership)
	require.Equal(t, 0, stats.Errors)
	assert.Equal(t, 2, stats.Created)

	tools, err := mem.GetListByName(ctx, "Tools")
	require.NoError(t, err)
	assert.Equal(t, int32(3), tools.DeclaredCount)

	starOf := func(fullName string) database.GitStar {
		repo, err := mem.GetRepoByFullName(ctx, fullName)
		require.NoError(t, err)
		star, err := mem.GetStarByRepoID(ctx, repo.ID)
		require.NoError(t, err)
		return star
	}
	assert.Equal(t, tools.ID, *starOf("a/one").ListID)
	assert.Equal(t, tools.ID, *starOf("a/two").ListID, "first list wins")
	assert.Nil(t, starOf("a/three").ListID, "starred but in no list")

	// A renamed list keeps its row.
	lists[0].Name = "Utilities"
	membership["Utilities"] = membership["Tools"]
	stats = e.ReconcileLists(ctx, lists, membership)
	require.Equal(t, 0, stats.Errors)
	assert.Equal(t, 0, stats.Created)

	renamed, err := mem.GetListByURL(ctx, "https://github.com/stars/me/lists/tools")
	require.NoError(t, err)
	assert.Equal(t, tools.ID, renamed.ID)
	assert.Equal(t, "Utilities", renamed.Name)
}

func TestEngine_ReconcileLists_ClearsLeftMembers(t *testing.T) {
	ctx := context.Background()
	e, mem, _ := newTestEngine(t, nil)
	for _, name := range []string{"kept", "gone"} {
		_, err := e.ReconcileStarred(ctx, model.Repository{Owner: "a", Name: name, FullName: "a/" + name, HTMLURL: "https://github.com/a/" + name})
		require.NoError(t, err)
	}
	lists := []model.ListMeta{{Name: "Tools", URL: "https://github.com/stars/me/lists/tools"}}
	listID := func(fullName string) *int64 {
		repo, err := mem.GetRepoByFullName(ctx, fullName)
		require.NoError(t, err)
		star, err := mem.GetStarByRepoID(ctx, repo.ID)
		require.NoError(t, err)
		return star.ListID
	}

	e.ReconcileLists(ctx, lists, model.ListMembership{"Tools": {"/a/kept", "/a/gone"}})
	require.NotNil(t, listID("a/gone"))

	stats := e.ReconcileLists(ctx, lists, model.ListMembership{"Tools": {"/A/Kept"}})

	assert.Equal(t, 0, stats.Errors)
	assert.NotNil(t, listID("a/kept"))
	assert.Nil(t, listID("a/gone"), "left every list")

	e.ReconcileLists(ctx, nil, model.ListMembership{})
	assert.Nil(t, listID("a/kept"), "no lists at all")
}
