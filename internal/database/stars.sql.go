package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

const gitStarColumns = `id, repo_id, list_id, starred_at, description, stargazers_count, created_at, updated_at`

func scanGitStar(row pgx.Row) (GitStar, error) {
	var i GitStar
	err := row.Scan(
		&i.ID,
		&i.RepoID,
		&i.ListID,
		&i.StarredAt,
		&i.Description,
		&i.StargazersCount,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getStarByRepoID = `-- name: GetStarByRepoID :one
SELECT ` + gitStarColumns + ` FROM git_stars WHERE repo_id = $1
`

func (q *Queries) GetStarByRepoID(ctx context.Context, repoID int64) (GitStar, error) {
	return scanGitStar(q.db.QueryRow(ctx, getStarByRepoID, repoID))
}

// list_id is left alone on update; list linkage belongs to SetStarList.
const upsertStar = `-- name: UpsertStar :one
INSERT INTO git_stars (repo_id, starred_at, description, stargazers_count, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (repo_id) DO UPDATE SET
    starred_at = COALESCE(excluded.starred_at, git_stars.starred_at),
    description = excluded.description,
    stargazers_count = excluded.stargazers_count,
    updated_at = excluded.updated_at
RETURNING ` + gitStarColumns

type UpsertStarParams struct {
	RepoID          int64
	StarredAt       *time.Time
	Description     *string
	StargazersCount int32
	Now             time.Time
}

func (q *Queries) UpsertStar(ctx context.Context, arg UpsertStarParams) (GitStar, error) {
	return scanGitStar(q.db.QueryRow(ctx, upsertStar, arg.RepoID, arg.StarredAt, arg.Description, arg.StargazersCount, arg.Now))
}

const setStarList = `-- name: SetStarList :one
UPDATE git_stars SET list_id = $2, updated_at = $3
WHERE repo_id = $1
RETURNING ` + gitStarColumns

type SetStarListParams struct {
	RepoID    int64
	ListID    *int64
	UpdatedAt time.Time
}

func (q *Queries) SetStarList(ctx context.Context, arg SetStarListParams) (GitStar, error) {
	return scanGitStar(q.db.QueryRow(ctx, setStarList, arg.RepoID, arg.ListID, arg.UpdatedAt))
}

// Stars whose repository is not named in MemberNames lose their list link.
const clearUnlistedStars = `-- name: ClearUnlistedStars :execrows
UPDATE git_stars s SET list_id = NULL, updated_at = $2
FROM git_repos r
WHERE s.repo_id = r.id
  AND s.list_id IS NOT NULL
  AND NOT (lower(r.full_name) = ANY($1::text[]))
`

type ClearUnlistedStarsParams struct {
	MemberNames []string
	UpdatedAt   time.Time
}

func (q *Queries) ClearUnlistedStars(ctx context.Context, arg ClearUnlistedStarsParams) (int64, error) {
	result, err := q.db.Exec(ctx, clearUnlistedStars, arg.MemberNames, arg.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const listStars = `-- name: ListStars :many
SELECT ` + gitStarColumns + ` FROM git_stars
ORDER BY starred_at DESC NULLS LAST, id
LIMIT $1
`

func (q *Queries) ListStars(ctx context.Context, limit int32) ([]GitStar, error) {
	rows, err := q.db.Query(ctx, listStars, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []GitStar
	for rows.Next() {
		i, err := scanGitStar(rows)
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
