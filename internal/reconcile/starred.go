package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"repo-catalog/internal/database"
	"repo-catalog/internal/model"
	"repo-catalog/internal/repourl"
)

// ReconcileStarred makes sure a repository row exists for a starred record, marks it
// starred, refreshes its metadata and upserts its star row.
func (e *Engine) ReconcileStarred(ctx context.Context, rec model.Repository) (database.GitRepo, error) {
	repo, _, err := e.reconcileStarred(ctx, rec)
	return repo, err
}

// ReconcileStarredBatch reconciles every record on the worker pool, one transaction each.
func (e *Engine) ReconcileStarredBatch(ctx context.Context, recs []model.Repository) Stats {
	return runBatch(ctx, e, "starred", recs, func(ctx context.Context, rec model.Repository) (outcome, error) {
		_, created, err := e.reconcileStarred(ctx, rec)
		if err != nil {
			return outcomeSkipped, fmt.Errorf("%s: %w", rec.FullName, err)
		}
		if created {
			return outcomeCreated, nil
		}
		return outcomeMatched, nil
	})
}

func (e *Engine) reconcileStarred(ctx context.Context, rec model.Repository) (database.GitRepo, bool, error) {
	e.inflight.RLock()
	defer e.inflight.RUnlock()

	var repo database.GitRepo
	var created bool
	err := e.unit(ctx, func(tx database.Store) error {
		var found bool
		var err error
		repo, found, err = matchStarred(ctx, tx, rec)
		if err != nil {
			return err
		}
		now := e.now()
		if !found {
			repo, err = tx.CreateRepo(ctx, database.CreateRepoParams{
				GitUrl:   canonicalURL(rec),
				Owner:    rec.Owner,
				Name:     rec.Name,
				FullName: rec.FullName,
				Now:      now,
			})
			if err != nil {
				return fmt.Errorf("create repo: %w", err)
			}
			created = true
		}

		if repo, err = applyMetadata(ctx, tx, repo, rec, now); err != nil {
			return err
		}
		if repo, err = tx.SetRepoStarred(ctx, database.SetRepoStarredParams{
			ID:        repo.ID,
			StarredAt: rec.StarredAt,
			UpdatedAt: now,
		}); err != nil {
			return fmt.Errorf("set starred: %w", err)
		}
		if _, err := tx.UpsertStar(ctx, database.UpsertStarParams{
			RepoID:          repo.ID,
			StarredAt:       rec.StarredAt,
			Description:     rec.Description,
			StargazersCount: int32(rec.StarsCount),
			Now:             now,
		}); err != nil {
			return fmt.Errorf("upsert star: %w", err)
		}
		return nil
	})
	if err != nil {
		return database.GitRepo{}, false, err
	}
	e.logger.Debug("Starred repository reconciled", "full_name", rec.FullName, "repo_id", repo.ID, "new_repo", created)
	return repo, created, nil
}

// matchStarred tries every URL the record carries (with and without ".git"), then
// full_name, then owner and name, then the bare name.
func matchStarred(ctx context.Context, q database.Querier, rec model.Repository) (database.GitRepo, bool, error) {
	seen := map[string]bool{}
	for _, u := range rec.URLs() {
		for _, v := range urlVariants(u) {
			if seen[v] {
				continue
			}
			seen[v] = true
			if repo, found, err := lookup(q.GetRepoByURL(ctx, v)); err != nil || found {
				return repo, found, err
			}
		}
	}
	if rec.FullName != "" {
		if repo, found, err := lookup(q.GetRepoByFullName(ctx, rec.FullName)); err != nil || found {
			return repo, found, err
		}
	}
	if rec.Owner != "" && rec.Name != "" {
		repo, found, err := lookup(q.GetRepoByOwnerAndName(ctx, database.GetRepoByOwnerAndNameParams{
			Owner: rec.Owner,
			Name:  rec.Name,
		}))
		if err != nil || found {
			return repo, found, err
		}
	}
	if rec.Name != "" {
		return lookup(q.GetRepoByName(ctx, rec.Name))
	}
	return database.GitRepo{}, false, nil
}

// canonicalURL picks the URL a repository row created from a remote record is stored under.
func canonicalURL(rec model.Repository) string {
	switch {
	case rec.HTMLURL != "":
		return rec.HTMLURL
	case rec.CloneURL != "":
		return repourl.TrimGitSuffix(rec.CloneURL)
	case rec.FullName != "":
		return "https://github.com/" + rec.FullName
	}
	return ""
}

// ApplyRemoteMetadata refreshes a repository row from a remote record in its own transaction.
func (e *Engine) ApplyRemoteMetadata(ctx context.Context, repoID int64, rec model.Repository) (database.GitRepo, error) {
	e.inflight.RLock()
	defer e.inflight.RUnlock()

	var repo database.GitRepo
	err := e.unit(ctx, func(tx database.Store) error {
		current, err := tx.GetRepo(ctx, repoID)
		if err != nil {
			return fmt.Errorf("get repo %d: %w", repoID, err)
		}
		repo, err = applyMetadata(ctx, tx, current, rec, e.now())
		return err
	})
	return repo, err
}

func applyMetadata(ctx context.Context, q database.Querier, repo database.GitRepo, rec model.Repository, now time.Time) (database.GitRepo, error) {
	owner, name, fullName := repo.Owner, repo.Name, repo.FullName
	if rec.Owner != "" {
		owner = rec.Owner
	}
	if rec.Name != "" {
		name = rec.Name
	}
	if rec.FullName != "" {
		fullName = rec.FullName
	}

	updated, err := q.UpdateRepoMetadata(ctx, database.UpdateRepoMetadataParams{
		ID:              repo.ID,
		RemoteID:        rec.RemoteID,
		Owner:           owner,
		Name:            name,
		FullName:        fullName,
		Description:     rec.Description,
		HtmlUrl:         rec.HTMLURL,
		CloneUrl:        rec.CloneURL,
		SshUrl:          rec.SSHURL,
		Language:        rec.Language,
		License:         license(rec),
		Topics:          strings.Join(rec.Topics, ","),
		Visibility:      rec.Visibility,
		Private:         rec.Private,
		Fork:            rec.Fork,
		Archived:        rec.Archived,
		StargazersCount: int32(rec.StarsCount),
		ForksCount:      int32(rec.ForksCount),
		WatchersCount:   int32(rec.WatchersCount),
		OpenIssuesCount: int32(rec.OpenIssuesCount),
		HasIssues:       rec.HasIssues,
		HasWiki:         rec.HasWiki,
		HasPages:        rec.HasPages,
		DefaultBranch:   rec.DefaultBranch,
		RepoCreatedAt:   rec.RepoCreatedAt,
		RepoUpdatedAt:   rec.RepoUpdatedAt,
		PushedAt:        rec.PushedAt,
		UpdatedAt:       now,
	})
	if err != nil {
		return database.GitRepo{}, fmt.Errorf("update repo metadata: %w", err)
	}
	return updated, nil
}

func license(rec model.Repository) *string {
	for _, v := range []*string{rec.LicenseSPDXID, rec.LicenseName, rec.LicenseKey} {
		if v != nil && *v != "" {
			return v
		}
	}
	return nil
}
