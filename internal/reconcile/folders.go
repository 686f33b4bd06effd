package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"repo-catalog/internal/database"
	"repo-catalog/internal/gitlocal"
	"repo-catalog/internal/repourl"
)

// ReconcileFolder records the clone at path and links it to a repository. It returns a nil
// folder when path no longer holds a clone; a valid folder row for it is invalidated.
func (e *Engine) ReconcileFolder(ctx context.Context, path string) (*database.GitFolder, error) {
	folder, _, err := e.reconcileFolder(ctx, path)
	return folder, err
}

// ReconcileFolders reconciles every path on the worker pool, one transaction per folder.
func (e *Engine) ReconcileFolders(ctx context.Context, paths []string) Stats {
	return runBatch(ctx, e, "folders", paths, func(ctx context.Context, path string) (outcome, error) {
		folder, created, err := e.reconcileFolder(ctx, path)
		switch {
		case err != nil:
			return outcomeSkipped, err
		case folder == nil:
			return outcomeSkipped, nil
		case created:
			return outcomeCreated, nil
		}
		return outcomeMatched, nil
	})
}

func (e *Engine) reconcileFolder(ctx context.Context, path string) (*database.GitFolder, bool, error) {
	e.inflight.RLock()
	defer e.inflight.RUnlock()

	path = filepath.Clean(path)
	logger := e.logger.With("path", path)

	stats, err := e.local.Stat(path)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, gitlocal.ErrNotAClone) {
		reason := err
		err := e.unit(ctx, func(tx database.Store) error {
			n, err := tx.InvalidateFolder(ctx, path)
			if n > 0 {
				logger.Info("Folder is gone, invalidated", "reason", reason)
			}
			return err
		})
		return nil, false, err
	}
	if err != nil {
		return nil, false, err
	}

	remote := e.local.RemoteURL(ctx, path)
	if remote == "" || remote == gitlocal.NoRemote {
		remote = repourl.LocalURL(path)
		logger.Debug("No remote configured, using local identity", "git_url", remote)
	}

	var folder database.GitFolder
	var created bool
	err = e.unit(ctx, func(tx database.Store) error {
		repo, isNew, err := e.resolveFolderRepo(ctx, tx, path, remote)
		if err != nil {
			return err
		}
		created = isNew

		now := e.now()
		modified := stats.ModifiedAt
		folder, err = tx.UpsertFolder(ctx, database.UpsertFolderParams{
			Path:         path,
			RepoID:       &repo.ID,
			SizeBytes:    stats.SizeBytes,
			FileCount:    int32(stats.FileCount),
			DirCount:     int32(stats.DirCount),
			FsCreatedAt:  stats.CreatedAt,
			FsModifiedAt: &modified,
			FsAccessedAt: stats.AccessedAt,
			Now:          now,
		})
		if err != nil {
			return fmt.Errorf("upsert folder: %w", err)
		}
		logger.Debug("Folder reconciled", "repo_id", repo.ID, "git_url", repo.GitUrl, "new_repo", isNew)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &folder, created, nil
}

// resolveFolderRepo finds the repository for a folder by exact URL, the URL without
// ".git", the URL with ".git", then the folder's base name. It creates one if all miss.
func (e *Engine) resolveFolderRepo(ctx context.Context, q database.Querier, path, remote string) (database.GitRepo, bool, error) {
	for _, u := range urlVariants(remote) {
		repo, found, err := lookup(q.GetRepoByURL(ctx, u))
		if err != nil || found {
			return repo, false, err
		}
	}

	name := filepath.Base(path)
	repo, found, err := lookup(q.GetRepoByName(ctx, name))
	if err != nil || found {
		return repo, false, err
	}

	id, ok := repourl.Parse(remote)
	if !ok {
		id = repourl.Identity{Name: name}
	}
	repo, err = q.CreateRepo(ctx, database.CreateRepoParams{
		GitUrl:   remote,
		Owner:    id.Owner,
		Name:     id.Name,
		FullName: id.FullName(),
		Now:      e.now(),
	})
	if err != nil {
		return database.GitRepo{}, false, fmt.Errorf("create repo: %w", err)
	}
	return repo, true, nil
}

// urlVariants returns u, u without ".git" and u with ".git", without repeats.
func urlVariants(u string) []string {
	out := []string{u}
	for _, v := range []string{repourl.TrimGitSuffix(u), repourl.WithGitSuffix(u)} {
		if v != out[0] && (len(out) == 1 || v != out[1]) {
			out = append(out, v)
		}
	}
	return out
}
