package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

const gitFolderColumns = `id, path, valid, repo_id, size_bytes, file_count, dir_count, fs_created_at,
    fs_modified_at, fs_accessed_at, scan_count, first_seen_at, last_seen_at`

func scanGitFolder(row pgx.Row) (GitFolder, error) {
	var i GitFolder
	err := row.Scan(
		&i.ID,
		&i.Path,
		&i.Valid,
		&i.RepoID,
		&i.SizeBytes,
		&i.FileCount,
		&i.DirCount,
		&i.FsCreatedAt,
		&i.FsModifiedAt,
		&i.FsAccessedAt,
		&i.ScanCount,
		&i.FirstSeenAt,
		&i.LastSeenAt,
	)
	return i, err
}

const getValidFolderByPath = `-- name: GetValidFolderByPath :one
SELECT ` + gitFolderColumns + ` FROM git_folders
WHERE path = $1 AND valid
`

func (q *Queries) GetValidFolderByPath(ctx context.Context, path string) (GitFolder, error) {
	return scanGitFolder(q.db.QueryRow(ctx, getValidFolderByPath, path))
}

const upsertFolder = `-- name: UpsertFolder :one
INSERT INTO git_folders (path, valid, repo_id, size_bytes, file_count, dir_count, fs_created_at,
    fs_modified_at, fs_accessed_at, scan_count, first_seen_at, last_seen_at)
VALUES ($1, TRUE, $2, $3, $4, $5, $6, $7, $8, 1, $9, $9)
ON CONFLICT (path) WHERE valid DO UPDATE SET
    repo_id = excluded.repo_id,
    size_bytes = excluded.size_bytes,
    file_count = excluded.file_count,
    dir_count = excluded.dir_count,
    fs_created_at = excluded.fs_created_at,
    fs_modified_at = excluded.fs_modified_at,
    fs_accessed_at = excluded.fs_accessed_at,
    scan_count = git_folders.scan_count + 1,
    last_seen_at = excluded.last_seen_at
RETURNING ` + gitFolderColumns

type UpsertFolderParams struct {
	Path         string
	RepoID       *int64
	SizeBytes    int64
	FileCount    int32
	DirCount     int32
	FsCreatedAt  *time.Time
	FsModifiedAt *time.Time
	FsAccessedAt *time.Time
	Now          time.Time
}

func (q *Queries) UpsertFolder(ctx context.Context, arg UpsertFolderParams) (GitFolder, error) {
	row := q.db.QueryRow(ctx, upsertFolder,
		arg.Path,
		arg.RepoID,
		arg.SizeBytes,
		arg.FileCount,
		arg.DirCount,
		arg.FsCreatedAt,
		arg.FsModifiedAt,
		arg.FsAccessedAt,
		arg.Now,
	)
	return scanGitFolder(row)
}

const invalidateFolder = `-- name: InvalidateFolder :execrows
UPDATE git_folders SET valid = FALSE
WHERE path = $1 AND valid
`

func (q *Queries) InvalidateFolder(ctx context.Context, path string) (int64, error) {
	result, err := q.db.Exec(ctx, invalidateFolder, path)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const listValidFolders = `-- name: ListValidFolders :many
SELECT ` + gitFolderColumns + ` FROM git_folders
WHERE valid
ORDER BY path
LIMIT $1
`

func (q *Queries) ListValidFolders(ctx context.Context, limit int32) ([]GitFolder, error) {
	rows, err := q.db.Query(ctx, listValidFolders, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []GitFolder
	for rows.Next() {
		i, err := scanGitFolder(rows)
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
