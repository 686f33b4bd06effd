// Package cache stores keyed JSON payloads and projects repo_data payloads into
// structured expanded repository rows.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"repo-catalog/internal/database"
	custom_errors "repo-catalog/internal/errors"
	"repo-catalog/internal/github"
	"repo-catalog/internal/model"
)

// Cache entry types.
const (
	TypeRepoData       = "repo_data"
	TypeStarred        = "starred"
	TypeLists          = "lists"
	TypeListMembership = "list_membership"
	TypeList           = "list"
)

// Store is the keyed payload cache.
type Store struct {
	db     database.Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a cache Store over db.
func New(db database.Store, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With("component", "cache"),
		now:    time.Now,
	}
}

// Get returns the entry for (key, type). found is false when no entry exists.
func (s *Store) Get(ctx context.Context, key, typ string) (database.CacheEntry, bool, error) {
	entry, err := s.db.GetCacheEntry(ctx, database.GetCacheEntryParams{Key: key, Type: typ})
	if errors.Is(err, pgx.ErrNoRows) {
		return database.CacheEntry{}, false, nil
	}
	if err != nil {
		return database.CacheEntry{}, false, fmt.Errorf("get cache entry %s/%s: %w", typ, key, err)
	}
	return entry, true, nil
}

// GetFresh is Get, but entries last written more than maxAge ago are reported as absent.
// A maxAge of zero or less accepts any age.
func (s *Store) GetFresh(ctx context.Context, key, typ string, maxAge time.Duration) (database.CacheEntry, bool, error) {
	entry, found, err := s.Get(ctx, key, typ)
	if err != nil || !found {
		return entry, found, err
	}
	if maxAge > 0 && s.now().Sub(entry.UpdatedAt) > maxAge {
		return database.CacheEntry{}, false, nil
	}
	return entry, true, nil
}

// GetJSON decodes a fresh entry into v.
func (s *Store) GetJSON(ctx context.Context, key, typ string, maxAge time.Duration, v any) (bool, error) {
	entry, found, err := s.GetFresh(ctx, key, typ, maxAge)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal([]byte(entry.Payload), v); err != nil {
		return false, &custom_errors.DecodeError{What: typ + " cache entry " + key, Err: err}
	}
	return true, nil
}

// Put upserts the payload under (key, type). created_at is set once; every write
// advances updated_at. repo_data payloads are also expanded; an expansion failure is
// logged and leaves the cache write in place.
func (s *Store) Put(ctx context.Context, key, typ string, payload []byte) (database.CacheEntry, error) {
	if !json.Valid(payload) {
		return database.CacheEntry{}, &custom_errors.DecodeError{What: typ + " payload for " + key, Err: errors.New("invalid JSON")}
	}
	now := s.now()

	var entry database.CacheEntry
	err := s.db.ExecTx(ctx, func(tx database.Store) error {
		var err error
		entry, err = upsert(ctx, tx, key, typ, string(payload), now)
		if err != nil {
			return err
		}
		if typ != TypeRepoData || IsInaccessible(payload) {
			return nil
		}

		// Savepoint: only the expansion is rolled back when it fails.
		err = tx.ExecTx(ctx, func(sp database.Store) error {
			return s.expand(ctx, sp, key, payload, now)
		})
		if err != nil {
			s.logger.Warn("Failed to expand repo_data payload", "key", key, "error", err)
		}
		return nil
	})
	if err != nil {
		return database.CacheEntry{}, fmt.Errorf("put cache entry %s/%s: %w", typ, key, err)
	}
	return entry, nil
}

// PutJSON marshals v and stores it with Put.
func (s *Store) PutJSON(ctx context.Context, key, typ string, v any) (database.CacheEntry, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return database.CacheEntry{}, fmt.Errorf("marshal %s payload for %s: %w", typ, key, err)
	}
	return s.Put(ctx, key, typ, payload)
}

// upsert inserts the entry, or updates the row a concurrent or earlier writer created.
func upsert(ctx context.Context, q database.Querier, key, typ, payload string, now time.Time) (database.CacheEntry, error) {
	entry, err := q.InsertCacheEntry(ctx, database.InsertCacheEntryParams{
		Key:     key,
		Type:    typ,
		Payload: payload,
		Now:     now,
	})
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return database.CacheEntry{}, err
	}
	return q.UpdateCacheEntry(ctx, database.UpdateCacheEntryParams{
		Key:       key,
		Type:      typ,
		Payload:   payload,
		UpdatedAt: now,
	})
}

func (s *Store) expand(ctx context.Context, q database.Querier, key string, payload []byte, now time.Time) error {
	repos, err := github.DecodeRepositories(payload, s.logger.With("key", key))
	if err != nil {
		return err
	}

	expanded := 0
	for _, r := range repos {
		if r.RemoteID == nil {
			s.logger.Warn("Skipping repository without id", "key", key, "full_name", r.FullName)
			continue
		}
		if _, err := q.UpsertExpandedRepo(ctx, ExpandedRow(key, r, now)); err != nil {
			return fmt.Errorf("upsert expanded repo %d: %w", *r.RemoteID, err)
		}
		expanded++
	}
	s.logger.Debug("Expanded repo_data payload", "key", key, "records", len(repos), "expanded", expanded)
	return nil
}

// ExpandedRow flattens a repository record into its expanded row. r.RemoteID must be set.
func ExpandedRow(key string, r model.Repository, now time.Time) database.UpsertExpandedRepoParams {
	return database.UpsertExpandedRepoParams{
		RepoID:          *r.RemoteID,
		CacheKey:        key,
		Name:            r.Name,
		FullName:        r.FullName,
		OwnerLogin:      r.Owner,
		OwnerID:         r.OwnerID,
		OwnerType:       r.OwnerType,
		OwnerUrl:        r.OwnerURL,
		LicenseKey:      r.LicenseKey,
		LicenseName:     r.LicenseName,
		LicenseSpdxID:   r.LicenseSPDXID,
		Description:     r.Description,
		HtmlUrl:         r.HTMLURL,
		CloneUrl:        r.CloneURL,
		SshUrl:          r.SSHURL,
		GitUrl:          r.GitURL,
		Homepage:        r.Homepage,
		Language:        r.Language,
		Topics:          strings.Join(r.Topics, ","),
		Visibility:      r.Visibility,
		DefaultBranch:   r.DefaultBranch,
		Private:         r.Private,
		Fork:            r.Fork,
		Archived:        r.Archived,
		Disabled:        r.Disabled,
		HasIssues:       r.HasIssues,
		HasProjects:     r.HasProjects,
		HasWiki:         r.HasWiki,
		HasPages:        r.HasPages,
		HasDiscussions:  r.HasDiscussions,
		StargazersCount: int32(r.StarsCount),
		WatchersCount:   int32(r.WatchersCount),
		ForksCount:      int32(r.ForksCount),
		OpenIssuesCount: int32(r.OpenIssuesCount),
		Size:            int32(r.Size),
		RepoCreatedAt:   r.RepoCreatedAt,
		RepoUpdatedAt:   r.RepoUpdatedAt,
		PushedAt:        r.PushedAt,
		ExpandedAt:      now,
	}
}
