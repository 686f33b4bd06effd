// Package dbtest provides an in-memory database.Store for unit tests.
//
// Top-level transactions are serialised; nested ExecTx calls behave like savepoints.
// A failed transaction restores the state captured when it began.
package dbtest

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"repo-catalog/internal/database"
	"repo-catalog/internal/repourl"
)

type state struct {
	txMu sync.Mutex
	mu   sync.Mutex

	nextID   int64
	cache    map[[2]string]database.CacheEntry
	expanded map[int64]database.ExpandedRepo
	repos    map[int64]database.GitRepo
	folders  map[int64]database.GitFolder
	lists    map[int64]database.GitList
	stars    map[int64]database.GitStar

	// fail, when set, is consulted before every query; a non-nil error is returned as is.
	fail func(method string, arg any) error
	// calls counts query invocations by method name.
	calls map[string]int
}

type snapshot struct {
	nextID   int64
	cache    map[[2]string]database.CacheEntry
	expanded map[int64]database.ExpandedRepo
	repos    map[int64]database.GitRepo
	folders  map[int64]database.GitFolder
	lists    map[int64]database.GitList
	stars    map[int64]database.GitStar
}

// MemStore implements database.Store in memory.
type MemStore struct {
	*state
	inTx bool
}

var _ database.Store = (*MemStore)(nil)

// New returns an empty store.
func New() *MemStore {
	return &MemStore{state: &state{
		cache:    map[[2]string]database.CacheEntry{},
		expanded: map[int64]database.ExpandedRepo{},
		repos:    map[int64]database.GitRepo{},
		folders:  map[int64]database.GitFolder{},
		lists:    map[int64]database.GitList{},
		stars:    map[int64]database.GitStar{},
		calls:    map[string]int{},
	}}
}

// FailWith installs a failure hook; pass nil to clear it.
func (s *MemStore) FailWith(fn func(method string, arg any) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fn
}

// Calls reports how many times method was invoked.
func (s *MemStore) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *MemStore) ExecTx(ctx context.Context, fn func(database.Store) error) error {
	if !s.inTx {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	snap := s.snapshot()
	if err := fn(&MemStore{state: s.state, inTx: true}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *state) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot{
		nextID:   s.nextID,
		cache:    copyMap(s.cache),
		expanded: copyMap(s.expanded),
		repos:    copyMap(s.repos),
		folders:  copyMap(s.folders),
		lists:    copyMap(s.lists),
		stars:    copyMap(s.stars),
	}
}

func (s *state) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID = snap.nextID
	s.cache = snap.cache
	s.expanded = snap.expanded
	s.repos = snap.repos
	s.folders = snap.folders
	s.lists = snap.lists
	s.stars = snap.stars
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// enter locks the state and runs the failure hook. Callers must unlock.
func (s *state) enter(method string, arg any) error {
	s.mu.Lock()
	s.calls[method]++
	if s.fail != nil {
		if err := s.fail(method, arg); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	return nil
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

func sortedRepos(m map[int64]database.GitRepo) []database.GitRepo {
	out := make([]database.GitRepo, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *state) firstRepo(match func(database.GitRepo) bool) (database.GitRepo, error) {
	for _, r := range sortedRepos(s.repos) {
		if match(r) {
			return r, nil
		}
	}
	return database.GitRepo{}, pgx.ErrNoRows
}

// Cache

func (s *MemStore) GetCacheEntry(ctx context.Context, arg database.GetCacheEntryParams) (database.CacheEntry, error) {
	if err := s.enter("GetCacheEntry", arg); err != nil {
		return database.CacheEntry{}, err
	}
	defer s.mu.Unlock()
	e, ok := s.cache[[2]string{arg.Key, arg.Type}]
	if !ok {
		return database.CacheEntry{}, pgx.ErrNoRows
	}
	return e, nil
}

func (s *MemStore) InsertCacheEntry(ctx context.Context, arg database.InsertCacheEntryParams) (database.CacheEntry, error) {
	if err := s.enter("InsertCacheEntry", arg); err != nil {
		return database.CacheEntry{}, err
	}
	defer s.mu.Unlock()
	k := [2]string{arg.Key, arg.Type}
	if _, ok := s.cache[k]; ok {
		return database.CacheEntry{}, pgx.ErrNoRows
	}
	e := database.CacheEntry{
		ID:        s.id(),
		Key:       arg.Key,
		Type:      arg.Type,
		Payload:   arg.Payload,
		CreatedAt: arg.Now,
		UpdatedAt: arg.Now,
	}
	s.cache[k] = e
	return e, nil
}

func (s *MemStore) UpdateCacheEntry(ctx context.Context, arg database.UpdateCacheEntryParams) (database.CacheEntry, error) {
	if err := s.enter("UpdateCacheEntry", arg); err != nil {
		return database.CacheEntry{}, err
	}
	defer s.mu.Unlock()
	k := [2]string{arg.Key, arg.Type}
	e, ok := s.cache[k]
	if !ok {
		return database.CacheEntry{}, pgx.ErrNoRows
	}
	e.Payload = arg.Payload
	e.UpdatedAt = arg.UpdatedAt
	s.cache[k] = e
	return e, nil
}

func (s *MemStore) ListCacheEntriesByType(ctx context.Context, type_ string) ([]database.CacheEntry, error) {
	if err := s.enter("ListCacheEntriesByType", type_); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	var out []database.CacheEntry
	for _, e := range s.cache {
		if e.Type == type_ {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemStore) GetExpandedRepo(ctx context.Context, repoID int64) (database.ExpandedRepo, error) {
	if err := s.enter("GetExpandedRepo", repoID); err != nil {
		return database.ExpandedRepo{}, err
	}
	defer s.mu.Unlock()
	r, ok := s.expanded[repoID]
	if !ok {
		return database.ExpandedRepo{}, pgx.ErrNoRows
	}
	return r, nil
}

func (s *MemStore) GetExpandedRepoByFullName(ctx context.Context, fullName string) (database.ExpandedRepo, error) {
	if err := s.enter("GetExpandedRepoByFullName", fullName); err != nil {
		return database.ExpandedRepo{}, err
	}
	defer s.mu.Unlock()
	var found *database.ExpandedRepo
	for _, r := range s.expanded {
		if strings.EqualFold(r.FullName, fullName) && (found == nil || r.RepoID < found.RepoID) {
			r := r
			found = &r
		}
	}
	if found == nil {
		return database.ExpandedRepo{}, pgx.ErrNoRows
	}
	return *found, nil
}

func (s *MemStore) UpsertExpandedRepo(ctx context.Context, arg database.UpsertExpandedRepoParams) (database.ExpandedRepo, error) {
	if err := s.enter("UpsertExpandedRepo", arg); err != nil {
		return database.ExpandedRepo{}, err
	}
	defer s.mu.Unlock()
	r := database.ExpandedRepo(arg)
	if prev, ok := s.expanded[r.RepoID]; ok && r.OwnerID == nil {
		r.OwnerID = prev.OwnerID
	}
	s.expanded[r.RepoID] = r
	return r, nil
}

// Repos

func (s *MemStore) GetRepo(ctx context.Context, id int64) (database.GitRepo, error) {
	if err := s.enter("GetRepo", id); err != nil {
		return database.GitRepo{}, err
	}
	defer s.mu.Unlock()
	r, ok := s.repos[id]
	if !ok {
		return database.GitRepo{}, pgx.ErrNoRows
	}
	return r, nil
}

func (s *MemStore) GetRepoByURL(ctx context.Context, gitUrl string) (database.GitRepo, error) {
	if err := s.enter("GetRepoByURL", gitUrl); err != nil {
		return database.GitRepo{}, err
	}
	defer s.mu.Unlock()
	return s.firstRepo(func(r database.GitRepo) bool { return r.GitUrl == gitUrl })
}

func (s *MemStore) GetRepoByFullName(ctx context.Context, fullName string) (database.GitRepo, error) {
	if err := s.enter("GetRepoByFullName", fullName); err != nil {
		return database.GitRepo{}, err
	}
	defer s.mu.Unlock()
	return s.firstRepo(func(r database.GitRepo) bool { return strings.EqualFold(r.FullName, fullName) })
}

func (s *MemStore) GetRepoByOwnerAndName(ctx context.Context, arg database.GetRepoByOwnerAndNameParams) (database.GitRepo, error) {
	if err := s.enter("GetRepoByOwnerAndName", arg); err != nil {
		return database.GitRepo{}, err
	}
	defer s.mu.Unlock()
	return s.firstRepo(func(r database.GitRepo) bool {
		return strings.EqualFold(r.Owner, arg.Owner) && strings.EqualFold(r.Name, arg.Name)
	})
}

func (s *MemStore) GetRepoByName(ctx context.Context, name string) (database.GitRepo, error) {
	if err := s.enter("GetRepoByName", name); err != nil {
		return database.GitRepo{}, err
	}
	defer s.mu.Unlock()
	return s.firstRepo(func(r database.GitRepo) bool { return strings.EqualFold(r.Name, name) })
}

func (s *MemStore) CreateRepo(ctx context.Context, arg database.CreateRepoParams) (database.GitRepo, error) {
	if err := s.enter("CreateRepo", arg); err != nil {
		return database.GitRepo{}, err
	}
	defer s.mu.Unlock()
	r := database.GitRepo{
		ID:        s.id(),
		GitUrl:    arg.GitUrl,
		Owner:     arg.Owner,
		Name:      arg.Name,
		FullName:  arg.FullName,
		CreatedAt: arg.Now,
		UpdatedAt: arg.Now,
	}
	s.repos[r.ID] = r
	return r, nil
}

func (s *MemStore) UpdateRepoMetadata(ctx context.Context, arg database.UpdateRepoMetadataParams) (database.GitRepo, error) {
	if err := s.enter("UpdateRepoMetadata", arg); err != nil {
		return database.GitRepo{}, err
	}
	defer s.mu.Unlock()
	r, ok := s.repos[arg.ID]
	if !ok {
		return database.GitRepo{}, pgx.ErrNoRows
	}
	if r.RemoteID == nil {
		r.RemoteID = arg.RemoteID
	}
	r.Owner = arg.Owner
	r.Name = arg.Name
	r.FullName = arg.FullName
	r.Description = arg.Description
	r.HtmlUrl = arg.HtmlUrl
	r.CloneUrl = arg.CloneUrl
	r.SshUrl = arg.SshUrl
	r.Language = arg.Language
	r.License = arg.License
	r.Topics = arg.Topics
	r.Visibility = arg.Visibility
	r.Private = arg.Private
	r.Fork = arg.Fork
	r.Archived = arg.Archived
	r.StargazersCount = arg.StargazersCount
	r.ForksCount = arg.ForksCount
	r.WatchersCount = arg.WatchersCount
	r.OpenIssuesCount = arg.OpenIssuesCount
	r.HasIssues = arg.HasIssues
	r.HasWiki = arg.HasWiki
	r.HasPages = arg.HasPages
	r.DefaultBranch = arg.DefaultBranch
	r.RepoCreatedAt = arg.RepoCreatedAt
	r.RepoUpdatedAt = arg.RepoUpdatedAt
	r.PushedAt = arg.PushedAt
	r.UpdatedAt = arg.UpdatedAt
	s.repos[r.ID] = r
	return r, nil
}

func (s *MemStore) SetRepoStarred(ctx context.Context, arg database.SetRepoStarredParams) (database.GitRepo, error) {
	if err := s.enter("SetRepoStarred", arg); err != nil {
		return database.GitRepo{}, err
	}
	defer s.mu.Unlock()
	r, ok := s.repos[arg.ID]
	if !ok {
		return database.GitRepo{}, pgx.ErrNoRows
	}
	r.Starred = true
	if arg.StarredAt != nil {
		r.StarredAt = arg.StarredAt
	}
	r.UpdatedAt = arg.UpdatedAt
	s.repos[r.ID] = r
	return r, nil
}

func (s *MemStore) ResetDupeFlags(ctx context.Context) (int64, error) {
	if err := s.enter("ResetDupeFlags", nil); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.repos {
		if r.DupeFlag || r.DupeCount != 0 {
			r.DupeFlag = false
			r.DupeCount = 0
			s.repos[id] = r
			n++
		}
	}
	return n, nil
}

func (s *MemStore) ApplyDupeFlags(ctx context.Context) (int64, error) {
	if err := s.enter("ApplyDupeFlags", nil); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	groups := map[string][]int64{}
	for id, r := range s.repos {
		groups[r.GitUrl] = append(groups[r.GitUrl], id)
	}
	var n int64
	for _, ids := range groups {
		member := map[int64]bool{}
		for _, id := range ids {
			member[id] = true
		}
		folders := 0
		for _, f := range s.folders {
			if f.Valid && f.RepoID != nil && member[*f.RepoID] {
				folders++
			}
		}
		size := len(ids)
		if folders > size {
			size = folders
		}
		if size <= 1 {
			continue
		}
		for _, id := range ids {
			r := s.repos[id]
			r.DupeFlag = true
			r.DupeCount = int32(size)
			s.repos[id] = r
			n++
		}
	}
	return n, nil
}

func (s *MemStore) ListRepos(ctx context.Context, arg database.ListReposParams) ([]database.GitRepo, error) {
	if err := s.enter("ListRepos", arg); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	var out []database.GitRepo
	for _, r := range sortedRepos(s.repos) {
		if arg.StarredOnly && !r.Starred {
			continue
		}
		if arg.DupesOnly && !r.DupeFlag {
			continue
		}
		if int32(len(out)) >= arg.Limit {
			break
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *MemStore) ListReposWithoutRemoteID(ctx context.Context, arg database.ListReposWithoutRemoteIDParams) ([]database.GitRepo, error) {
	if err := s.enter("ListReposWithoutRemoteID", arg); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	var out []database.GitRepo
	for _, r := range sortedRepos(s.repos) {
		if r.RemoteID != nil || r.ID <= arg.AfterID || !repourl.IsGitHub(r.GitUrl) {
			continue
		}
		if s.freshlyInaccessible(r.FullName, arg.StaleBefore) {
			continue
		}
		if int32(len(out)) >= arg.Limit {
			break
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *state) freshlyInaccessible(fullName string, staleBefore time.Time) bool {
	for k, e := range s.cache {
		if k[1] != "repo_data" || !strings.EqualFold(k[0], fullName) || e.UpdatedAt.Before(staleBefore) {
			continue
		}
		var marker struct {
			Inaccessible bool `json:"inaccessible"`
		}
		if json.Unmarshal([]byte(e.Payload), &marker) == nil && marker.Inaccessible {
			return true
		}
	}
	return false
}

// Folders

func (s *MemStore) GetValidFolderByPath(ctx context.Context, path string) (database.GitFolder, error) {
	if err := s.enter("GetValidFolderByPath", path); err != nil {
		return database.GitFolder{}, err
	}
	defer s.mu.Unlock()
	for _, f := range s.folders {
		if f.Valid && f.Path == path {
			return f, nil
		}
	}
	return database.GitFolder{}, pgx.ErrNoRows
}

func (s *MemStore) UpsertFolder(ctx context.Context, arg database.UpsertFolderParams) (database.GitFolder, error) {
	if err := s.enter("UpsertFolder", arg); err != nil {
		return database.GitFolder{}, err
	}
	defer s.mu.Unlock()
	modified := arg.FsModifiedAt
	for id, f := range s.folders {
		if f.Valid && f.Path == arg.Path {
			f.RepoID = arg.RepoID
			f.SizeBytes = arg.SizeBytes
			f.FileCount = arg.FileCount
			f.DirCount = arg.DirCount
			f.FsCreatedAt = arg.FsCreatedAt
			f.FsModifiedAt = modified
			f.FsAccessedAt = arg.FsAccessedAt
			f.ScanCount++
			f.LastSeenAt = arg.Now
			s.folders[id] = f
			return f, nil
		}
	}
	f := database.GitFolder{
		ID:           s.id(),
		Path:         arg.Path,
		Valid:        true,
		RepoID:       arg.RepoID,
		SizeBytes:    arg.SizeBytes,
		FileCount:    arg.FileCount,
		DirCount:     arg.DirCount,
		FsCreatedAt:  arg.FsCreatedAt,
		FsModifiedAt: modified,
		FsAccessedAt: arg.FsAccessedAt,
		ScanCount:    1,
		FirstSeenAt:  arg.Now,
		LastSeenAt:   arg.Now,
	}
	s.folders[f.ID] = f
	return f, nil
}

func (s *MemStore) InvalidateFolder(ctx context.Context, path string) (int64, error) {
	if err := s.enter("InvalidateFolder", path); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	var n int64
	for id, f := range s.folders {
		if f.Valid && f.Path == path {
			f.Valid = false
			s.folders[id] = f
			n++
		}
	}
	return n, nil
}

func (s *MemStore) ListValidFolders(ctx context.Context, limit int32) ([]database.GitFolder, error) {
	if err := s.enter("ListValidFolders", limit); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	var out []database.GitFolder
	for _, f := range s.folders {
		if f.Valid {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	if int32(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Lists

func (s *MemStore) GetListByName(ctx context.Context, name string) (database.GitList, error) {
	if err := s.enter("GetListByName", name); err != nil {
		return database.GitList{}, err
	}
	defer s.mu.Unlock()
	for _, l := range s.lists {
		if l.Name == name {
			return l, nil
		}
	}
	return database.GitList{}, pgx.ErrNoRows
}

func (s *MemStore) GetListByURL(ctx context.Context, url string) (database.GitList, error) {
	if err := s.enter("GetListByURL", url); err != nil {
		return database.GitList{}, err
	}
	defer s.mu.Unlock()
	var found *database.GitList
	for _, l := range s.lists {
		if url != "" && l.Url == url && (found == nil || l.ID < found.ID) {
			l := l
			found = &l
		}
	}
	if found == nil {
		return database.GitList{}, pgx.ErrNoRows
	}
	return *found, nil
}

func (s *MemStore) CreateList(ctx context.Context, arg database.CreateListParams) (database.GitList, error) {
	if err := s.enter("CreateList", arg); err != nil {
		return database.GitList{}, err
	}
	defer s.mu.Unlock()
	l := database.GitList{
		ID:            s.id(),
		Name:          arg.Name,
		Description:   arg.Description,
		Url:           arg.Url,
		DeclaredCount: arg.DeclaredCount,
		CreatedAt:     arg.Now,
		UpdatedAt:     arg.Now,
	}
	s.lists[l.ID] = l
	return l, nil
}

func (s *MemStore) UpdateList(ctx context.Context, arg database.UpdateListParams) (database.GitList, error) {
	if err := s.enter("UpdateList", arg); err != nil {
		return database.GitList{}, err
	}
	defer s.mu.Unlock()
	l, ok := s.lists[arg.ID]
	if !ok {
		return database.GitList{}, pgx.ErrNoRows
	}
	l.Name = arg.Name
	l.Description = arg.Description
	l.Url = arg.Url
	l.DeclaredCount = arg.DeclaredCount
	l.UpdatedAt = arg.UpdatedAt
	s.lists[l.ID] = l
	return l, nil
}

func (s *MemStore) ListLists(ctx context.Context) ([]database.GitList, error) {
	if err := s.enter("ListLists", nil); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	var out []database.GitList
	for _, l := range s.lists {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Stars

func (s *MemStore) GetStarByRepoID(ctx context.Context, repoID int64) (database.GitStar, error) {
	if err := s.enter("GetStarByRepoID", repoID); err != nil {
		return database.GitStar{}, err
	}
	defer s.mu.Unlock()
	for _, st := range s.stars {
		if st.RepoID == repoID {
			return st, nil
		}
	}
	return database.GitStar{}, pgx.ErrNoRows
}

func (s *MemStore) UpsertStar(ctx context.Context, arg database.UpsertStarParams) (database.GitStar, error) {
	if err := s.enter("UpsertStar", arg); err != nil {
		return database.GitStar{}, err
	}
	defer s.mu.Unlock()
	for id, st := range s.stars {
		if st.RepoID == arg.RepoID {
			if arg.StarredAt != nil {
				st.StarredAt = arg.StarredAt
			}
			st.Description = arg.Description
			st.StargazersCount = arg.StargazersCount
			st.UpdatedAt = arg.Now
			s.stars[id] = st
			return st, nil
		}
	}
	st := database.GitStar{
		ID:              s.id(),
		RepoID:          arg.RepoID,
		StarredAt:       arg.StarredAt,
		Description:     arg.Description,
		StargazersCount: arg.StargazersCount,
		CreatedAt:       arg.Now,
		UpdatedAt:       arg.Now,
	}
	s.stars[st.ID] = st
	return st, nil
}

func (s *MemStore) SetStarList(ctx context.Context, arg database.SetStarListParams) (database.GitStar, error) {
	if err := s.enter("SetStarList", arg); err != nil {
		return database.GitStar{}, err
	}
	defer s.mu.Unlock()
	for id, st := range s.stars {
		if st.RepoID == arg.RepoID {
			st.ListID = arg.ListID
			st.UpdatedAt = arg.UpdatedAt
			s.stars[id] = st
			return st, nil
		}
	}
	return database.GitStar{}, pgx.ErrNoRows
}

func (s *MemStore) ClearUnlistedStars(ctx context.Context, arg database.ClearUnlistedStarsParams) (int64, error) {
	if err := s.enter("ClearUnlistedStars", arg); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	members := map[string]bool{}
	for _, n := range arg.MemberNames {
		members[n] = true
	}
	var n int64
	for id, st := range s.stars {
		r, ok := s.repos[st.RepoID]
		if st.ListID == nil || !ok || members[strings.ToLower(r.FullName)] {
			continue
		}
		st.ListID = nil
		st.UpdatedAt = arg.UpdatedAt
		s.stars[id] = st
		n++
	}
	return n, nil
}

func (s *MemStore) ListStars(ctx context.Context, limit int32) ([]database.GitStar, error) {
	if err := s.enter("ListStars", limit); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	var out []database.GitStar
	for _, st := range s.stars {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if int32(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}
