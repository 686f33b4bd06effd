// internal/syncer/syncer.go
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"repo-catalog/internal/database"
	custom_errors "repo-catalog/internal/errors"
	"repo-catalog/internal/gitlocal"
	"repo-catalog/internal/model"
	"repo-catalog/internal/ratelimit"
	"repo-catalog/internal/reconcile"
	"repo-catalog/internal/repourl"
	"repo-catalog/internal/scraper"
)

// Remote is the part of the scraper a run depends on.
type Remote interface {
	FetchStarredRepos(ctx context.Context, maxAge time.Duration) ([]model.Repository, error)
	FetchListsAndMembership(ctx context.Context, user string) (scraper.Lists, error)
	FetchRepoData(ctx context.Context, fullName string, maxAge time.Duration) (model.Repository, bool, error)
}

// UserSource resolves the account whose star lists are scraped.
type UserSource interface {
	AuthenticatedUser(ctx context.Context) (string, error)
}

// LimitChecker reports the remote quota before a run.
type LimitChecker interface {
	CheckLimits(ctx context.Context) ratelimit.Status
}

// Options configure what a run covers.
type Options struct {
	ScanRoots   []string
	ScanExclude []string
	// User overrides the account resolved through UserSource.
	User        string
	Interval    time.Duration
	CacheMaxAge time.Duration
	// EnrichLimit caps how many repositories without a remote id are looked up per run; 0 disables it.
	EnrichLimit int
}

// Report summarises one run.
type Report struct {
	RunID      string
	Folders    reconcile.Stats
	Starred    reconcile.Stats
	Lists      reconcile.Stats
	Duplicates int64
	Enriched   int
}

// Syncer orchestrates local scanning, remote fetching and reconciliation.
type Syncer struct {
	db     database.Querier
	engine *reconcile.Engine
	remote Remote
	users  UserSource
	limits LimitChecker
	opts   Options
	logger *slog.Logger

	scan func(ctx context.Context, logger *slog.Logger, roots, exclude []string) ([]string, error)
}

// NewSyncer creates a new Syncer instance. users and limits may be nil.
func NewSyncer(db database.Querier, engine *reconcile.Engine, remote Remote, users UserSource, limits LimitChecker, opts Options, logger *slog.Logger) *Syncer {
	return &Syncer{
		db:     db,
		engine: engine,
		remote: remote,
		users:  users,
		limits: limits,
		opts:   opts,
		logger: logger,
		scan:   gitlocal.Scan,
	}
}

// Start runs a sync immediately, then on every interval until ctx is done.
// Without an interval it runs once and returns.
func (s *Syncer) Start(ctx context.Context) {
	if s.opts.Interval <= 0 {
		s.runSyncCycle(ctx)
		return
	}

	s.logger.Info("Starting syncer", "interval", s.opts.Interval.String())
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.runSyncCycle(ctx) // Initial sync

	for {
		select {
		case <-ticker.C:
			s.runSyncCycle(ctx)
		case <-ctx.Done():
			s.logger.Info("Syncer shutting down", "reason", ctx.Err())
			return
		}
	}
}

func (s *Syncer) runSyncCycle(ctx context.Context) {
	report, err := s.RunOnce(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("Sync cycle failed", "run_id", report.RunID, "error", err)
	}
}

// RunOnce performs one full pass: the local and remote branches concurrently, then
// duplicate detection, list linkage and metadata enrichment.
func (s *Syncer) RunOnce(ctx context.Context) (Report, error) {
	report := Report{RunID: uuid.NewString()}
	logger := s.logger.With("run_id", report.RunID)
	logger.Info("Starting new sync cycle")
	started := time.Now()

	var lists scraper.Lists
	var haveLists bool

	// A plain group: a failed scan does not cancel the remote branch.
	var g errgroup.Group
	g.Go(func() error {
		paths, err := s.scan(ctx, logger, s.opts.ScanRoots, s.opts.ScanExclude)
		if err != nil {
			return err
		}
		report.Folders = s.engine.ReconcileFolders(ctx, paths)
		return nil
	})
	g.Go(func() error {
		report.Starred, lists, haveLists = s.syncRemote(ctx, logger)
		return nil
	})
	if err := g.Wait(); err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	dupes, err := s.engine.DetectDuplicates(ctx)
	if err != nil {
		return report, err
	}
	report.Duplicates = dupes

	if haveLists {
		report.Lists = s.engine.ReconcileLists(ctx, lists.Lists, lists.Membership)
	}

	report.Enriched = s.enrich(ctx, logger)

	logger.Info("Sync cycle finished",
		"duration", time.Since(started).String(),
		"folders", report.Folders.Processed,
		"starred", report.Starred.Processed,
		"lists", report.Lists.Processed,
		"duplicates", report.Duplicates,
		"enriched", report.Enriched,
	)
	return report, nil
}

// syncRemote fetches and reconciles starred repositories, then fetches star lists.
// Failures are logged; they only skip the steps that need the missing data.
func (s *Syncer) syncRemote(ctx context.Context, logger *slog.Logger) (reconcile.Stats, scraper.Lists, bool) {
	if s.limits != nil {
		if st := s.limits.CheckLimits(ctx); st.Hit {
			logger.Warn("Remote quota exhausted, requests will be gated", "detail", st.Detail)
		}
	}

	var starred reconcile.Stats
	recs, err := s.remote.FetchStarredRepos(ctx, s.opts.CacheMaxAge)
	if err != nil {
		logRemoteError(logger, "starred repositories", err)
	} else {
		starred = s.engine.ReconcileStarredBatch(ctx, recs)
	}

	user, err := s.resolveUser(ctx)
	if err != nil {
		logRemoteError(logger, "star lists", err)
		return starred, scraper.Lists{}, false
	}
	lists, err := s.remote.FetchListsAndMembership(ctx, user)
	if err != nil {
		logRemoteError(logger, "star lists", err)
		return starred, scraper.Lists{}, false
	}
	return starred, lists, true
}

func (s *Syncer) resolveUser(ctx context.Context) (string, error) {
	if s.opts.User != "" {
		return s.opts.User, nil
	}
	if s.users == nil {
		return "", custom_errors.ErrMissingCredentials
	}
	return s.users.AuthenticatedUser(ctx)
}

// enrich looks up remote metadata for GitHub repositories that have none yet. At most
// EnrichLimit lookups are made; repositories recently found inaccessible are skipped.
func (s *Syncer) enrich(ctx context.Context, logger *slog.Logger) int {
	if s.opts.EnrichLimit <= 0 {
		return 0
	}
	var staleBefore time.Time
	if s.opts.CacheMaxAge > 0 {
		staleBefore = time.Now().Add(-s.opts.CacheMaxAge)
	}

	enriched, attempts := 0, 0
	var after int64
	for attempts < s.opts.EnrichLimit {
		repos, err := s.db.ListReposWithoutRemoteID(ctx, database.ListReposWithoutRemoteIDParams{
			AfterID:     after,
			StaleBefore: staleBefore,
			Limit:       int32(s.opts.EnrichLimit - attempts),
		})
		if err != nil {
			logger.Error("Failed to list repositories for enrichment", "error", err)
			return enriched
		}
		if len(repos) == 0 {
			break
		}
		for _, repo := range repos {
			after = repo.ID
			id, ok := repourl.Parse(repo.GitUrl)
			if !ok || id.Owner == "" || !repourl.IsGitHub(repo.GitUrl) {
				continue
			}
			attempts++
			rec, found, err := s.remote.FetchRepoData(ctx, id.FullName(), s.opts.CacheMaxAge)
			if errors.Is(err, custom_errors.ErrMissingCredentials) || errors.Is(err, custom_errors.ErrRateLimited) || ctx.Err() != nil {
				logRemoteError(logger, "repository metadata", err)
				return enriched
			}
			if err != nil {
				logger.Warn("Failed to fetch repository metadata", "repo", id.FullName(), "error", err)
				continue
			}
			if !found {
				continue
			}
			if _, err := s.engine.ApplyRemoteMetadata(ctx, repo.ID, rec); err != nil {
				logger.Error("Failed to apply repository metadata", "repo_id", repo.ID, "error", err)
				continue
			}
			enriched++
		}
	}
	return enriched
}

func logRemoteError(logger *slog.Logger, what string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, custom_errors.ErrMissingCredentials):
		logger.Warn("Skipping remote "+what+": no credentials configured", "error", err)
	case errors.Is(err, custom_errors.ErrRateLimited):
		logger.Warn("Skipping remote "+what+": rate limit reached", "error", err)
	default:
		logger.Error("Failed to fetch remote "+what, "error", err)
	}
}
