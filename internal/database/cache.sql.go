package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

const cacheEntryColumns = `id, key, type, payload, created_at, updated_at`

func scanCacheEntry(row pgx.Row) (CacheEntry, error) {
	var i CacheEntry
	err := row.Scan(
		&i.ID,
		&i.Key,
		&i.Type,
		&i.Payload,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getCacheEntry = `-- name: GetCacheEntry :one
SELECT ` + cacheEntryColumns + ` FROM cache_entries
WHERE key = $1 AND type = $2
`

type GetCacheEntryParams struct {
	Key  string
	Type string
}

func (q *Queries) GetCacheEntry(ctx context.Context, arg GetCacheEntryParams) (CacheEntry, error) {
	return scanCacheEntry(q.db.QueryRow(ctx, getCacheEntry, arg.Key, arg.Type))
}

// InsertCacheEntry returns pgx.ErrNoRows when (key, type) already exists.
const insertCacheEntry = `-- name: InsertCacheEntry :one
INSERT INTO cache_entries (key, type, payload, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT ON CONSTRAINT cache_entries_key_type_key DO NOTHING
RETURNING ` + cacheEntryColumns

type InsertCacheEntryParams struct {
	Key     string
	Type    string
	Payload string
	Now     time.Time
}

func (q *Queries) InsertCacheEntry(ctx context.Context, arg InsertCacheEntryParams) (CacheEntry, error) {
	return scanCacheEntry(q.db.QueryRow(ctx, insertCacheEntry, arg.Key, arg.Type, arg.Payload, arg.Now))
}

const updateCacheEntry = `-- name: UpdateCacheEntry :one
UPDATE cache_entries
SET payload = $3, updated_at = $4
WHERE key = $1 AND type = $2
RETURNING ` + cacheEntryColumns

type UpdateCacheEntryParams struct {
	Key       string
	Type      string
	Payload   string
	UpdatedAt time.Time
}

func (q *Queries) UpdateCacheEntry(ctx context.Context, arg UpdateCacheEntryParams) (CacheEntry, error) {
	return scanCacheEntry(q.db.QueryRow(ctx, updateCacheEntry, arg.Key, arg.Type, arg.Payload, arg.UpdatedAt))
}

const listCacheEntriesByType = `-- name: ListCacheEntriesByType :many
SELECT ` + cacheEntryColumns + ` FROM cache_entries
WHERE type = $1
ORDER BY key
`

func (q *Queries) ListCacheEntriesByType(ctx context.Context, type_ string) ([]CacheEntry, error) {
	rows, err := q.db.Query(ctx, listCacheEntriesByType, type_)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CacheEntry
	for rows.Next() {
		i, err := scanCacheEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const expandedRepoColumns = `repo_id, cache_key, name, full_name, owner_login, owner_id, owner_type, owner_url,
    license_key, license_name, license_spdx_id, description, html_url, clone_url, ssh_url, git_url,
    homepage, language, topics, visibility, default_branch, private, fork, archived, disabled,
    has_issues, has_projects, has_wiki, has_pages, has_discussions, stargazers_count, watchers_count,
    forks_count, open_issues_count, size, repo_created_at, repo_updated_at, pushed_at, expanded_at`

func scanExpandedRepo(row pgx.Row) (ExpandedRepo, error) {
	var i ExpandedRepo
	err := row.Scan(
		&i.RepoID,
		&i.CacheKey,
		&i.Name,
		&i.FullName,
		&i.OwnerLogin,
		&i.OwnerID,
		&i.OwnerType,
		&i.OwnerUrl,
		&i.LicenseKey,
		&i.LicenseName,
		&i.LicenseSpdxID,
		&i.Description,
		&i.HtmlUrl,
		&i.CloneUrl,
		&i.SshUrl,
		&i.GitUrl,
		&i.Homepage,
		&i.Language,
		&i.Topics,
		&i.Visibility,
		&i.DefaultBranch,
		&i.Private,
		&i.Fork,
		&i.Archived,
		&i.Disabled,
		&i.HasIssues,
		&i.HasProjects,
		&i.HasWiki,
		&i.HasPages,
		&i.HasDiscussions,
		&i.StargazersCount,
		&i.WatchersCount,
		&i.ForksCount,
		&i.OpenIssuesCount,
		&i.Size,
		&i.RepoCreatedAt,
		&i.RepoUpdatedAt,
		&i.PushedAt,
		&i.ExpandedAt,
	)
	return i, err
}

const getExpandedRepo = `-- name: GetExpandedRepo :one
SELECT ` + expandedRepoColumns + ` FROM expanded_repos
WHERE repo_id = $1
`

func (q *Queries) GetExpandedRepo(ctx context.Context, repoID int64) (ExpandedRepo, error) {
	return scanExpandedRepo(q.db.QueryRow(ctx, getExpandedRepo, repoID))
}

const getExpandedRepoByFullName = `-- name: GetExpandedRepoByFullName :one
SELECT ` + expandedRepoColumns + ` FROM expanded_repos
WHERE lower(full_name) = lower($1)
ORDER BY repo_id
LIMIT 1
`

func (q *Queries) GetExpandedRepoByFullName(ctx context.Context, fullName string) (ExpandedRepo, error) {
	return scanExpandedRepo(q.db.QueryRow(ctx, getExpandedRepoByFullName, fullName))
}

// The conflict target is the remote id, so an existing repo_id is never rewritten.
const upsertExpandedRepo = `-- name: UpsertExpandedRepo :one
INSERT INTO expanded_repos (` + expandedRepoColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
        $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, $35, $36, $37, $38, $39)
ON CONFLICT (repo_id) DO UPDATE SET
    cache_key = excluded.cache_key,
    name = excluded.name,
    full_name = excluded.full_name,
    owner_login = excluded.owner_login,
    owner_id = COALESCE(excluded.owner_id, expanded_repos.owner_id),
    owner_type = excluded.owner_type,
    owner_url = excluded.owner_url,
    license_key = excluded.license_key,
    license_name = excluded.license_name,
    license_spdx_id = excluded.license_spdx_id,
    description = excluded.description,
    html_url = excluded.html_url,
    clone_url = excluded.clone_url,
    ssh_url = excluded.ssh_url,
    git_url = excluded.git_url,
    homepage = excluded.homepage,
    language = excluded.language,
    topics = excluded.topics,
    visibility = excluded.visibility,
    default_branch = excluded.default_branch,
    private = excluded.private,
    fork = excluded.fork,
    archived = excluded.archived,
    disabled = excluded.disabled,
    has_issues = excluded.has_issues,
    has_projects = excluded.has_projects,
    has_wiki = excluded.has_wiki,
    has_pages = excluded.has_pages,
    has_discussions = excluded.has_discussions,
    stargazers_count = excluded.stargazers_count,
    watchers_count = excluded.watchers_count,
    forks_count = excluded.forks_count,
    open_issues_count = excluded.open_issues_count,
    size = excluded.size,
    repo_created_at = excluded.repo_created_at,
    repo_updated_at = excluded.repo_updated_at,
    pushed_at = excluded.pushed_at,
    expanded_at = excluded.expanded_at
RETURNING ` + expandedRepoColumns

type UpsertExpandedRepoParams ExpandedRepo

func (q *Queries) UpsertExpandedRepo(ctx context.Context, arg UpsertExpandedRepoParams) (ExpandedRepo, error) {
	row := q.db.QueryRow(ctx, upsertExpandedRepo,
		arg.RepoID,
		arg.CacheKey,
		arg.Name,
		arg.FullName,
		arg.OwnerLogin,
		arg.OwnerID,
		arg.OwnerType,
		arg.OwnerUrl,
		arg.LicenseKey,
		arg.LicenseName,
		arg.LicenseSpdxID,
		arg.Description,
		arg.HtmlUrl,
		arg.CloneUrl,
		arg.SshUrl,
		arg.GitUrl,
		arg.Homepage,
		arg.Language,
		arg.Topics,
		arg.Visibility,
		arg.DefaultBranch,
		arg.Private,
		arg.Fork,
		arg.Archived,
		arg.Disabled,
		arg.HasIssues,
		arg.HasProjects,
		arg.HasWiki,
		arg.HasPages,
		arg.HasDiscussions,
		arg.StargazersCount,
		arg.WatchersCount,
		arg.ForksCount,
		arg.OpenIssuesCount,
		arg.Size,
		arg.RepoCreatedAt,
		arg.RepoUpdatedAt,
		arg.PushedAt,
		arg.ExpandedAt,
	)
	return scanExpandedRepo(row)
}
