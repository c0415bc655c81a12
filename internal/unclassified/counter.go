// Package unclassified counts the failures nobody has triaged yet.
package unclassified

import (
	"log/slog"
	"sync"

	"github.com/livinlefevreloca/treeherd/internal/filter"
	"github.com/livinlefevreloca/treeherd/internal/metrics"
	"github.com/livinlefevreloca/treeherd/internal/model"
)

// Counts are the unclassified failures in enabled tiers, and the subset of
// them the active filter shows
type Counts struct {
	All      int `json:"all_unclassified_failure_count"`
	Filtered int `json:"filtered_unclassified_failure_count"`
}

// Count recomputes both counts over every job
func Count(jobs []model.Job, matcher *filter.Matcher) Counts {
	var counts Counts
	for i := range jobs {
		job := &jobs[i]
		if !job.IsUnclassifiedFailure() || !matcher.HasTier(job.Tier) {
			continue
		}
		counts.All++
		if matcher.ShowJob(job) {
			counts.Filtered++
		}
	}
	return counts
}

// Counter holds the latest counts
type Counter struct {
	mu     sync.RWMutex
	counts Counts

	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewCounter(m *metrics.Metrics, logger *slog.Logger) *Counter {
	return &Counter{metrics: m, logger: logger}
}

// Recompute replaces the counts. Call it after job updates and filter changes.
func (c *Counter) Recompute(jobs []model.Job, matcher *filter.Matcher) Counts {
	counts := Count(jobs, matcher)

	c.mu.Lock()
	previous := c.counts
	c.counts = counts
	c.mu.Unlock()

	if counts != previous {
		c.logger.Debug("unclassified counts changed",
			"all", counts.All,
			"filtered", counts.Filtered)
	}
	c.metrics.SetUnclassified(counts.All, counts.Filtered)
	return counts
}

// Counts returns the latest counts
func (c *Counter) Counts() Counts {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counts
}
