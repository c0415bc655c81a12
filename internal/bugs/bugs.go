// Package bugs prefetches summaries for bugs referenced by push commit
// messages. Failures are logged and swallowed; they never affect push or
// job state.
package bugs

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/livinlefevreloca/treeherd/internal/client"
	"github.com/livinlefevreloca/treeherd/internal/model"
)

// bugPattern matches "Bug 123456", "bug #123456" and "-- 123456"
var bugPattern = regexp.MustCompile(`(?i)(?:\bbug\s*#?\s*|--\s*)(\d{4,8})\b`)

// Fetcher looks up bug summaries
type Fetcher interface {
	GetBugs(ctx context.Context, trackerURL string, ids []int) ([]client.Bug, error)
}

// Config controls the prefetcher
type Config struct {
	TrackerURL     string
	BatchSize      int
	MaxConcurrency int
	RequestsPerSec float64
	CacheTTL       time.Duration
}

// DefaultConfig returns prefetcher defaults for trackerURL
func DefaultConfig(trackerURL string) Config {
	return Config{
		TrackerURL:     trackerURL,
		BatchSize:      50,
		MaxConcurrency: 2,
		RequestsPerSec: 5,
		CacheTTL:       30 * time.Minute,
	}
}

// Prefetcher caches bug summaries for recently seen pushes
type Prefetcher struct {
	config  Config
	fetcher Fetcher
	cache   *gocache.Cache
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewPrefetcher creates a prefetcher backed by fetcher
func NewPrefetcher(config Config, fetcher Fetcher, logger *slog.Logger) *Prefetcher {
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 1
	}
	limit := rate.Inf
	if config.RequestsPerSec > 0 {
		limit = rate.Limit(config.RequestsPerSec)
	}

	return &Prefetcher{
		config:  config,
		fetcher: fetcher,
		cache:   gocache.New(config.CacheTTL, 2*config.CacheTTL),
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// ExtractBugIDs returns the sorted, unique bug numbers mentioned in the
// commit messages of pushes
func ExtractBugIDs(pushes []model.Push) []int {
	seen := make(map[int]bool)
	for _, push := range pushes {
		for _, rev := range push.Revisions {
			for _, m := range bugPattern.FindAllStringSubmatch(rev.Comments, -1) {
				id, err := strconv.Atoi(m[1])
				if err == nil {
					seen[id] = true
				}
			}
		}
	}

	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Summary returns a cached bug summary
func (p *Prefetcher) Summary(id int) (string, bool) {
	v, ok := p.cache.Get(strconv.Itoa(id))
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Prefetch fetches summaries for uncached bugs referenced by pushes and
// returns how many were stored. It never returns an error.
func (p *Prefetcher) Prefetch(ctx context.Context, pushes []model.Push) int {
	if p.config.TrackerURL == "" {
		return 0
	}

	var missing []int
	for _, id := range ExtractBugIDs(pushes) {
		if _, ok := p.Summary(id); !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return 0
	}

	results := make([][]client.Bug, (len(missing)+p.config.BatchSize-1)/p.config.BatchSize)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.MaxConcurrency)
	for i := range results {
		lo := i * p.config.BatchSize
		hi := min(lo+p.config.BatchSize, len(missing))
		batch := missing[lo:hi]
		g.Go(func() error {
			if err := p.limiter.Wait(gctx); err != nil {
				return err
			}
			bugs, err := p.fetcher.GetBugs(gctx, p.config.TrackerURL, batch)
			if err != nil {
				return err
			}
			results[i] = bugs
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		p.logger.Debug("bug prefetch failed", "bug_count", len(missing), "error", err)
	}

	stored := 0
	for _, bugs := range results {
		for _, bug := range bugs {
			p.cache.Set(strconv.Itoa(bug.ID), bug.Summary, gocache.DefaultExpiration)
			stored++
		}
	}
	return stored
}
