package database

import (
	"context"
)

type Querier interface {
	ApplyDupeFlags(ctx context.Context) (int64, error)
	ClearUnlistedStars(ctx context.Context, arg ClearUnlistedStarsParams) (int64, error)
	CreateList(ctx context.Context, arg CreateListParams) (GitList, error)
	CreateRepo(ctx context.Context, arg CreateRepoParams) (GitRepo, error)
	GetCacheEntry(ctx context.Context, arg GetCacheEntryParams) (CacheEntry, error)
	GetExpandedRepo(ctx context.Context, repoID int64) (ExpandedRepo, error)
	GetExpandedRepoByFullName(ctx context.Context, fullName string) (ExpandedRepo, error)
	GetListByName(ctx context.Context, name string) (GitList, error)
	GetListByURL(ctx context.Context, url string) (GitList, error)
	GetRepo(ctx context.Context, id int64) (GitRepo, error)
	GetRepoByFullName(ctx context.Context, fullName string) (GitRepo, error)
	GetRepoByName(ctx context.Context, name string) (GitRepo, error)
	GetRepoByOwnerAndName(ctx context.Context, arg GetRepoByOwnerAndNameParams) (GitRepo, error)
	GetRepoByURL(ctx context.Context, gitUrl string) (GitRepo, error)
	GetStarByRepoID(ctx context.Context, repoID int64) (GitStar, error)
	GetValidFolderByPath(ctx context.Context, path string) (GitFolder, error)
	InsertCacheEntry(ctx context.Context, arg InsertCacheEntryParams) (CacheEntry, error)
	InvalidateFolder(ctx context.Context, path string) (int64, error)
	ListCacheEntriesByType(ctx context.Context, type_ string) ([]CacheEntry, error)
	ListLists(ctx context.Context) ([]GitList, error)
	ListRepos(ctx context.Context, arg ListReposParams) ([]GitRepo, error)
	ListReposWithoutRemoteID(ctx context.Context, arg ListReposWithoutRemoteIDParams) ([]GitRepo, error)
	ListStars(ctx context.Context, limit int32) ([]GitStar, error)
	ListValidFolders(ctx context.Context, limit int32) ([]GitFolder, error)
	ResetDupeFlags(ctx context.Context) (int64, error)
	SetRepoStarred(ctx context.Context, arg SetRepoStarredParams) (GitRepo, error)
	SetStarList(ctx context.Context, arg SetStarListParams) (GitStar, error)
	UpdateCacheEntry(ctx context.Context, arg UpdateCacheEntryParams) (CacheEntry, error)
	UpdateList(ctx context.Context, arg UpdateListParams) (GitList, error)
	UpdateRepoMetadata(ctx context.Context, arg UpdateRepoMetadataParams) (GitRepo, error)
	UpsertExpandedRepo(ctx context.Context, arg UpsertExpandedRepoParams) (ExpandedRepo, error)
	UpsertFolder(ctx context.Context, arg UpsertFolderParams) (GitFolder, error)
	UpsertStar(ctx context.Context, arg UpsertStarParams) (GitStar, error)
}

var _ Querier = (*Queries)(nil)
