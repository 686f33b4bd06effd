// Package reconcile merges local clones, starred repositories and star lists into the
// repository, folder, star and list tables.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"repo-catalog/internal/database"
	"repo-catalog/internal/model"
)

const (
	DefaultWorkers     = 4
	DefaultCommitEvery = 100
)

// LocalInspector reads what the local filesystem and git know about a clone directory.
type LocalInspector interface {
	RemoteURL(ctx context.Context, dir string) string
	Stat(dir string) (model.FolderStats, error)
}

// Options tune batch reconciliation.
type Options struct {
	Workers int
	// CommitEvery is how many units pass between progress reports. Every unit commits on its own.
	CommitEvery int
}

// Stats summarise a batch. Errors counts units that were rolled back.
type Stats struct {
	Processed int
	Created   int
	Skipped   int
	Errors    int
}

// Engine is the only writer of relationship fields: starred, dupe flags and list links.
type Engine struct {
	db     database.Store
	local  LocalInspector
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	// inflight is held shared by every unit and exclusively by DetectDuplicates.
	inflight sync.RWMutex
	// writeMu serialises unit transactions.
	writeMu sync.Mutex
}

// New creates an Engine.
func New(db database.Store, local LocalInspector, opts Options, logger *slog.Logger) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.CommitEvery <= 0 {
		opts.CommitEvery = DefaultCommitEvery
	}
	return &Engine{
		db:     db,
		local:  local,
		opts:   opts,
		logger: logger.With("component", "reconcile"),
		now:    time.Now,
	}
}

// unit runs fn as one transaction. A failure rolls back only fn's writes.
func (e *Engine) unit(ctx context.Context, fn func(tx database.Store) error) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.db.ExecTx(ctx, fn)
}

// lookup turns a single-row query result into (value, found, error).
func lookup[T any](v T, err error) (T, bool, error) {
	if errors.Is(err, pgx.ErrNoRows) {
		var zero T
		return zero, false, nil
	}
	if err != nil {
		var zero T
		return zero, false, err
	}
	return v, true, nil
}

// DetectDuplicates recomputes dupe flags from scratch. It waits for every in-flight
// unit to finish and holds off new ones until it is done.
func (e *Engine) DetectDuplicates(ctx context.Context) (int64, error) {
	e.inflight.Lock()
	defer e.inflight.Unlock()

	var flagged int64
	err := e.unit(ctx, func(tx database.Store) error {
		cleared, err := tx.ResetDupeFlags(ctx)
		if err != nil {
			return err
		}
		flagged, err = tx.ApplyDupeFlags(ctx)
		if err != nil {
			return err
		}
		e.logger.Info("Duplicate detection finished", "cleared", cleared, "flagged", flagged)
		return nil
	})
	return flagged, err
}

type counters struct {
	processed atomic.Int64
	created   atomic.Int64
	skipped   atomic.Int64
	errors    atomic.Int64
}

func (c *counters) stats() Stats {
	return Stats{
		Processed: int(c.processed.Load()),
		Created:   int(c.created.Load()),
		Skipped:   int(c.skipped.Load()),
		Errors:    int(c.errors.Load()),
	}
}

// runBatch runs one unit per item on the worker pool. work reports whether the item was
// created (true), skipped, or failed.
func runBatch[T any](ctx context.Context, e *Engine, what string, items []T, work func(context.Context, T) (outcome, error)) Stats {
	var c counters
	var done atomic.Int64
	logger := e.logger.With("batch", what)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for _, item := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := work(gctx, item)
			switch {
			case err != nil:
				c.errors.Add(1)
				logger.Error("Unit rolled back", "item", item, "error", err)
			case res == outcomeSkipped:
				c.skipped.Add(1)
			case res == outcomeCreated:
				c.created.Add(1)
				c.processed.Add(1)
			default:
				c.processed.Add(1)
			}
			if n := done.Add(1); n%int64(e.opts.CommitEvery) == 0 {
				logger.Info("Reconciliation progress", "done", n, "total", len(items))
			}
			return nil
		})
	}
	_ = g.Wait()

	stats := c.stats()
	logger.Info("Batch finished",
		"total", len(items),
		"processed", stats.Processed,
		"created", stats.Created,
		"skipped", stats.Skipped,
		"errors", stats.Errors,
	)
	return stats
}

type outcome int

const (
	outcomeMatched outcome = iota
	outcomeCreated
	outcomeSkipped
)
