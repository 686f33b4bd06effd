package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

const gitListColumns = `id, name, description, url, declared_count, created_at, updated_at`

func scanGitList(row pgx.Row) (GitList, error) {
	var i GitList
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Description,
		&i.Url,
		&i.DeclaredCount,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getListByName = `-- name: GetListByName :one
SELECT ` + gitListColumns + ` FROM git_lists WHERE name = $1
`

func (q *Queries) GetListByName(ctx context.Context, name string) (GitList, error) {
	return scanGitList(q.db.QueryRow(ctx, getListByName, name))
}

const getListByURL = `-- name: GetListByURL :one
SELECT ` + gitListColumns + ` FROM git_lists
WHERE url = $1 AND url <> ''
ORDER BY id
LIMIT 1
`

func (q *Queries) GetListByURL(ctx context.Context, url string) (GitList, error) {
	return scanGitList(q.db.QueryRow(ctx, getListByURL, url))
}

const createList = `-- name: CreateList :one
INSERT INTO git_lists (name, description, url, declared_count, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
RETURNING ` + gitListColumns

type CreateListParams struct {
	Name          string
	Description   string
	Url           string
	DeclaredCount int32
	Now           time.Time
}

func (q *Queries) CreateList(ctx context.Context, arg CreateListParams) (GitList, error) {
	return scanGitList(q.db.QueryRow(ctx, createList, arg.Name, arg.Description, arg.Url, arg.DeclaredCount, arg.Now))
}

const updateList = `-- name: UpdateList :one
UPDATE git_lists SET name = $2, description = $3, url = $4, declared_count = $5, updated_at = $6
WHERE id = $1
RETURNING ` + gitListColumns

type UpdateListParams struct {
	ID            int64
	Name          string
	Description   string
	Url           string
	DeclaredCount int32
	UpdatedAt     time.Time
}

func (q *Queries) UpdateList(ctx context.Context, arg UpdateListParams) (GitList, error) {
	return scanGitList(q.db.QueryRow(ctx, updateList, arg.ID, arg.Name, arg.Description, arg.Url, arg.DeclaredCount, arg.UpdatedAt))
}

const listLists = `-- name: ListLists :many
SELECT ` + gitListColumns + ` FROM git_lists ORDER BY name
`

func (q *Queries) ListLists(ctx context.Context) ([]GitList, error) {
	rows, err := q.db.Query(ctx, listLists)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []GitList
	for rows.Next() {
		i, err := scanGitList(rows)
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
