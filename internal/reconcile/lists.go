package reconcile

import (
	"context"
	"fmt"
	"time"

	"repo-catalog/internal/database"
	"repo-catalog/internal/model"
	"repo-catalog/internal/repourl"
)

// ReconcileLists upserts every list and links the stars of its member repositories to it.
// A repository in several lists is linked to the first of them. Stars of repositories in
// no list end with a null list, including those that were linked before.
func (e *Engine) ReconcileLists(ctx context.Context, lists []model.ListMeta, membership model.ListMembership) Stats {
	owner := map[string]string{}
	for _, l := range lists {
		for _, href := range membership[l.Name] {
			key := repourl.NormalizeFullName(href)
			if _, taken := owner[key]; !taken && key != "" {
				owner[key] = l.Name
			}
		}
	}

	stats := runBatch(ctx, e, "lists", lists, func(ctx context.Context, l model.ListMeta) (outcome, error) {
		created, err := e.reconcileList(ctx, l, membership[l.Name], owner)
		if err != nil {
			return outcomeSkipped, fmt.Errorf("list %q: %w", l.Name, err)
		}
		if created {
			return outcomeCreated, nil
		}
		return outcomeMatched, nil
	})
	if ctx.Err() == nil {
		if err := e.clearUnlisted(ctx, owner); err != nil {
			e.logger.Error("Failed to clear stale list links", "error", err)
		}
	}
	return stats
}

// clearUnlisted drops the list link of every star whose repository left all lists.
func (e *Engine) clearUnlisted(ctx context.Context, owner map[string]string) error {
	e.inflight.RLock()
	defer e.inflight.RUnlock()

	members := make([]string, 0, len(owner))
	for key := range owner {
		members = append(members, key)
	}
	return e.unit(ctx, func(tx database.Store) error {
		cleared, err := tx.ClearUnlistedStars(ctx, database.ClearUnlistedStarsParams{
			MemberNames: members,
			UpdatedAt:   e.now(),
		})
		if err != nil {
			return err
		}
		if cleared > 0 {
			e.logger.Info("Cleared stale list links", "stars", cleared)
		}
		return nil
	})
}

func (e *Engine) reconcileList(ctx context.Context, meta model.ListMeta, hrefs []string, owner map[string]string) (bool, error) {
	e.inflight.RLock()
	defer e.inflight.RUnlock()
	logger := e.logger.With("list", meta.Name)

	var created bool
	err := e.unit(ctx, func(tx database.Store) error {
		now := e.now()
		list, isNew, err := upsertList(ctx, tx, meta, now)
		if err != nil {
			return err
		}
		created = isNew

		linked, missing := 0, 0
		for _, href := range hrefs {
			key := repourl.NormalizeFullName(href)
			if owner[key] != meta.Name {
				continue
			}
			repo, found, err := lookup(tx.GetRepoByFullName(ctx, key))
			if err != nil {
				return err
			}
			if !found {
				missing++
				continue
			}
			if _, found, err := lookup(tx.GetStarByRepoID(ctx, repo.ID)); err != nil {
				return err
			} else if !found {
				missing++
				continue
			}
			if _, err := tx.SetStarList(ctx, database.SetStarListParams{
				RepoID:    repo.ID,
				ListID:    &list.ID,
				UpdatedAt: now,
			}); err != nil {
				return fmt.Errorf("link star %s: %w", key, err)
			}
			linked++
		}
		logger.Info("List reconciled", "list_id", list.ID, "members", len(hrefs), "linked", linked, "not_starred", missing)
		return nil
	})
	return created, err
}

// upsertList matches by name, then by URL (a renamed list keeps its URL).
func upsertList(ctx context.Context, q database.Querier, meta model.ListMeta, now time.Time) (database.GitList, bool, error) {
	existing, found, err := lookup(q.GetListByName(ctx, meta.Name))
	if err != nil {
		return database.GitList{}, false, err
	}
	if !found && meta.URL != "" {
		existing, found, err = lookup(q.GetListByURL(ctx, meta.URL))
		if err != nil {
			return database.GitList{}, false, err
		}
	}

	if !found {
		list, err := q.CreateList(ctx, database.CreateListParams{
			Name:          meta.Name,
			Description:   meta.Description,
			Url:           meta.URL,
			DeclaredCount: int32(meta.DeclaredCount),
			Now:           now,
		})
		if err != nil {
			return database.GitList{}, false, fmt.Errorf("create list: %w", err)
		}
		return list, true, nil
	}

	list, err := q.UpdateList(ctx, database.UpdateListParams{
		ID:            existing.ID,
		Name:          meta.Name,
		Description:   meta.Description,
		Url:           meta.URL,
		DeclaredCount: int32(meta.DeclaredCount),
		UpdatedAt:     now,
	})
	if err != nil {
		return database.GitList{}, false, fmt.Errorf("update list: %w", err)
	}
	return list, false, nil
}
