// Package ratelimit decides whether further remote calls are safe given the remote quota.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"repo-catalog/internal/model"
)

// DefaultBackoff is the pause callers take when a limit is near.
const DefaultBackoff = 5 * time.Second

// ResourceCore is the quota that REST API requests draw from.
const ResourceCore = "core"

// QuotaSource reports the current quota of every rate-limited resource.
type QuotaSource interface {
	Quotas(ctx context.Context) ([]model.Quota, error)
}

// Status is the outcome of CheckLimits.
type Status struct {
	Hit       bool
	Detail    string
	Resources []model.Quota
}

// Guard queries the quota source on every call; it holds no quota state of its own.
type Guard struct {
	source   QuotaSource
	backoff  time.Duration
	// resource is the quota gated by IsApproachingLimit.
	resource string
	logger   *slog.Logger
}

// NewGuard creates a Guard. A non-positive backoff uses DefaultBackoff.
func NewGuard(source QuotaSource, backoff time.Duration, logger *slog.Logger) *Guard {
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	return &Guard{
		source:   source,
		backoff:  backoff,
		resource: ResourceCore,
		logger:   logger.With("component", "ratelimit"),
	}
}

// CheckLimits reports a hit when any limited resource has no requests left.
// A failure to read the quota counts as a hit.
func (g *Guard) CheckLimits(ctx context.Context) Status {
	quotas, err := g.source.Quotas(ctx)
	if err != nil {
		g.logger.Warn("Could not read rate limit, assuming it is exhausted", "error", err)
		return Status{Hit: true, Detail: fmt.Sprintf("rate limit unavailable: %v", err)}
	}

	var exhausted []string
	for _, q := range quotas {
		if q.Limit == 0 {
			continue
		}
		if q.Remaining <= 0 {
			exhausted = append(exhausted, fmt.Sprintf("%s (resets %s)", q.Resource, q.Reset.Format(time.RFC3339)))
		}
	}
	if len(exhausted) == 0 {
		return Status{Detail: "ok", Resources: quotas}
	}
	sort.Strings(exhausted)
	return Status{Hit: true, Detail: "exhausted: " + strings.Join(exhausted, ", "), Resources: quotas}
}

// IsApproachingLimit reports whether the core resource has at most
// max(1, floor(limit*thresholdPercent/100)) requests left. Other resources such as
// search or graphql are not drawn on by the requests it gates. Errors count as approaching.
func (g *Guard) IsApproachingLimit(ctx context.Context, thresholdPercent int) bool {
	quotas, err := g.source.Quotas(ctx)
	if err != nil {
		g.logger.Warn("Could not read rate limit, assuming it is exhausted", "error", err)
		return true
	}
	for _, q := range quotas {
		if q.Resource != g.resource || q.Limit == 0 {
			continue
		}
		threshold := max(1, q.Limit*thresholdPercent/100)
		if q.Remaining <= threshold {
			g.logger.Info("Approaching rate limit",
				"resource", q.Resource,
				"limit", q.Limit,
				"remaining", q.Remaining,
				"threshold", threshold,
				"reset", q.Reset,
			)
			return true
		}
	}
	return false
}

// Backoff waits for the fixed backoff delay or until ctx is done.
func (g *Guard) Backoff(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(g.backoff):
		return nil
	}
}
