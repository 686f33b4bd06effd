package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

const gitRepoColumns = `id, git_url, owner, name, full_name, starred, starred_at, dupe_flag, dupe_count,
    remote_id, description, html_url, clone_url, ssh_url, language, license, topics, visibility,
    private, fork, archived, stargazers_count, forks_count, watchers_count, open_issues_count,
    has_issues, has_wiki, has_pages, default_branch, repo_created_at, repo_updated_at, pushed_at,
    created_at, updated_at`

func scanGitRepo(row pgx.Row) (GitRepo, error) {
	var i GitRepo
	err := row.Scan(
		&i.ID,
		&i.GitUrl,
		&i.Owner,
		&i.Name,
		&i.FullName,
		&i.Starred,
		&i.StarredAt,
		&i.DupeFlag,
		&i.DupeCount,
		&i.RemoteID,
		&i.Description,
		&i.HtmlUrl,
		&i.CloneUrl,
		&i.SshUrl,
		&i.Language,
		&i.License,
		&i.Topics,
		&i.Visibility,
		&i.Private,
		&i.Fork,
		&i.Archived,
		&i.StargazersCount,
		&i.ForksCount,
		&i.WatchersCount,
		&i.OpenIssuesCount,
		&i.HasIssues,
		&i.HasWiki,
		&i.HasPages,
		&i.DefaultBranch,
		&i.RepoCreatedAt,
		&i.RepoUpdatedAt,
		&i.PushedAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

func collectGitRepos(rows pgx.Rows, err error) ([]GitRepo, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []GitRepo
	for rows.Next() {
		i, err := scanGitRepo(rows)
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

const getRepo = `-- name: GetRepo :one
SELECT ` + gitRepoColumns + ` FROM git_repos WHERE id = $1
`

func (q *Queries) GetRepo(ctx context.Context, id int64) (GitRepo, error) {
	return scanGitRepo(q.db.QueryRow(ctx, getRepo, id))
}

const getRepoByURL = `-- name: GetRepoByURL :one
SELECT ` + gitRepoColumns + ` FROM git_repos
WHERE git_url = $1
ORDER BY id
LIMIT 1
`

func (q *Queries) GetRepoByURL(ctx context.Context, gitUrl string) (GitRepo, error) {
	return scanGitRepo(q.db.QueryRow(ctx, getRepoByURL, gitUrl))
}

const getRepoByFullName = `-- name: GetRepoByFullName :one
SELECT ` + gitRepoColumns + ` FROM git_repos
WHERE lower(full_name) = lower($1)
ORDER BY id
LIMIT 1
`

func (q *Queries) GetRepoByFullName(ctx context.Context, fullName string) (GitRepo, error) {
	return scanGitRepo(q.db.QueryRow(ctx, getRepoByFullName, fullName))
}

const getRepoByOwnerAndName = `-- name: GetRepoByOwnerAndName :one
SELECT ` + gitRepoColumns + ` FROM git_repos
WHERE lower(owner) = lower($1) AND lower(name) = lower($2)
ORDER BY id
LIMIT 1
`

type GetRepoByOwnerAndNameParams struct {
	Owner string
	Name  string
}

func (q *Queries) GetRepoByOwnerAndName(ctx context.Context, arg GetRepoByOwnerAndNameParams) (GitRepo, error) {
	return scanGitRepo(q.db.QueryRow(ctx, getRepoByOwnerAndName, arg.Owner, arg.Name))
}

const getRepoByName = `-- name: GetRepoByName :one
SELECT ` + gitRepoColumns + ` FROM git_repos
WHERE lower(name) = lower($1)
ORDER BY id
LIMIT 1
`

func (q *Queries) GetRepoByName(ctx context.Context, name string) (GitRepo, error) {
	return scanGitRepo(q.db.QueryRow(ctx, getRepoByName, name))
}

const createRepo = `-- name: CreateRepo :one
INSERT INTO git_repos (git_url, owner, name, full_name, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
RETURNING ` + gitRepoColumns

type CreateRepoParams struct {
	GitUrl   string
	Owner    string
	Name     string
	FullName string
	Now      time.Time
}

func (q *Queries) CreateRepo(ctx context.Context, arg CreateRepoParams) (GitRepo, error) {
	return scanGitRepo(q.db.QueryRow(ctx, createRepo, arg.GitUrl, arg.Owner, arg.Name, arg.FullName, arg.Now))
}

// remote_id is only filled, never cleared.
const updateRepoMetadata = `-- name: UpdateRepoMetadata :one
UPDATE git_repos SET
    remote_id = COALESCE(remote_id, $2),
    owner = $3,
    name = $4,
    full_name = $5,
    description = $6,
    html_url = $7,
    clone_url = $8,
    ssh_url = $9,
    language = $10,
    license = $11,
    topics = $12,
    visibility = $13,
    private = $14,
    fork = $15,
    archived = $16,
    stargazers_count = $17,
    forks_count = $18,
    watchers_count = $19,
    open_issues_count = $20,
    has_issues = $21,
    has_wiki = $22,
    has_pages = $23,
    default_branch = $24,
    repo_created_at = $25,
    repo_updated_at = $26,
    pushed_at = $27,
    updated_at = $28
WHERE id = $1
RETURNING ` + gitRepoColumns

type UpdateRepoMetadataParams struct {
	ID              int64
	RemoteID        *int64
	Owner           string
	Name            string
	FullName        string
	Description     *string
	HtmlUrl         string
	CloneUrl        string
	SshUrl          string
	Language        *string
	License         *string
	Topics          string
	Visibility      string
	Private         bool
	Fork            bool
	Archived        bool
	StargazersCount int32
	ForksCount      int32
	WatchersCount   int32
	OpenIssuesCount int32
	HasIssues       bool
	HasWiki         bool
	HasPages        bool
	DefaultBranch   string
	RepoCreatedAt   *time.Time
	RepoUpdatedAt   *time.Time
	PushedAt        *time.Time
	UpdatedAt       time.Time
}

func (q *Queries) UpdateRepoMetadata(ctx context.Context, arg UpdateRepoMetadataParams) (GitRepo, error) {
	row := q.db.QueryRow(ctx, updateRepoMetadata,
		arg.ID,
		arg.RemoteID,
		arg.Owner,
		arg.Name,
		arg.FullName,
		arg.Description,
		arg.HtmlUrl,
		arg.CloneUrl,
		arg.SshUrl,
		arg.Language,
		arg.License,
		arg.Topics,
		arg.Visibility,
		arg.Private,
		arg.Fork,
		arg.Archived,
		arg.StargazersCount,
		arg.ForksCount,
		arg.WatchersCount,
		arg.OpenIssuesCount,
		arg.HasIssues,
		arg.HasWiki,
		arg.HasPages,
		arg.DefaultBranch,
		arg.RepoCreatedAt,
		arg.RepoUpdatedAt,
		arg.PushedAt,
		arg.UpdatedAt,
	)
	return scanGitRepo(row)
}

const setRepoStarred = `-- name: SetRepoStarred :one
UPDATE git_repos SET starred = TRUE, starred_at = COALESCE($2, starred_at), updated_at = $3
WHERE id = $1
RETURNING ` + gitRepoColumns

type SetRepoStarredParams struct {
	ID        int64
	StarredAt *time.Time
	UpdatedAt time.Time
}

func (q *Queries) SetRepoStarred(ctx context.Context, arg SetRepoStarredParams) (GitRepo, error) {
	return scanGitRepo(q.db.QueryRow(ctx, setRepoStarred, arg.ID, arg.StarredAt, arg.UpdatedAt))
}

const resetDupeFlags = `-- name: ResetDupeFlags :execrows
UPDATE git_repos SET dupe_flag = FALSE, dupe_count = 0
WHERE dupe_flag OR dupe_count <> 0
`

func (q *Queries) ResetDupeFlags(ctx context.Context) (int64, error) {
	result, err := q.db.Exec(ctx, resetDupeFlags)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// A group's size is the larger of its repo rows and the valid folders pointing at them,
// so several clones sharing one repo row count as duplicates too.
const applyDupeFlags = `-- name: ApplyDupeFlags :execrows
WITH groups AS (
    SELECT r.git_url, GREATEST(COUNT(DISTINCT r.id), COUNT(f.id)) AS size
    FROM git_repos r
    LEFT JOIN git_folders f ON f.repo_id = r.id AND f.valid
    GROUP BY r.git_url
)
UPDATE git_repos r SET dupe_flag = TRUE, dupe_count = g.size
FROM groups g
WHERE r.git_url = g.git_url AND g.size > 1
`

func (q *Queries) ApplyDupeFlags(ctx context.Context) (int64, error) {
	result, err := q.db.Exec(ctx, applyDupeFlags)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const listRepos = `-- name: ListRepos :many
SELECT ` + gitRepoColumns + ` FROM git_repos
WHERE ($1::bool = FALSE OR starred) AND ($2::bool = FALSE OR dupe_flag)
ORDER BY id
LIMIT $3
`

type ListReposParams struct {
	StarredOnly bool
	DupesOnly   bool
	Limit       int32
}

func (q *Queries) ListRepos(ctx context.Context, arg ListReposParams) ([]GitRepo, error) {
	return collectGitRepos(q.db.Query(ctx, listRepos, arg.StarredOnly, arg.DupesOnly, arg.Limit))
}

const listReposWithoutRemoteID = `-- name: ListReposWithoutRemoteID :many
SELECT ` + gitRepoColumns + ` FROM git_repos r
WHERE r.remote_id IS NULL
  AND r.id > $1
  AND r.git_url ~* '^([a-z+]+://)?([^@/]+@)?github\.com[:/]'
  AND NOT EXISTS (
    SELECT 1 FROM cache_entries c
    WHERE c.type = 'repo_data'
      AND lower(c.key) = lower(r.full_name)
      AND c.updated_at >= $2
      AND c.payload::jsonb ->> 'inaccessible' = 'true'
  )
ORDER BY r.id
LIMIT $3
`

type ListReposWithoutRemoteIDParams struct {
	AfterID     int64
	StaleBefore time.Time
	Limit       int32
}

// ListReposWithoutRemoteID returns GitHub-hosted repositories with no remote id, skipping
// those whose inaccessible marker was written at or after StaleBefore.
func (q *Queries) ListReposWithoutRemoteID(ctx context.Context, arg ListReposWithoutRemoteIDParams) ([]GitRepo, error) {
	return collectGitRepos(q.db.Query(ctx, listReposWithoutRemoteID, arg.AfterID, arg.StaleBefore, arg.Limit))
}
