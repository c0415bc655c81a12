// Package pushes owns the loaded push list and job index of a dashboard
// session and keeps them in step with the backend.
package pushes

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/livinlefevreloca/treeherd/internal/filter"
	"github.com/livinlefevreloca/treeherd/internal/inbox"
	"github.com/livinlefevreloca/treeherd/internal/location"
	"github.com/livinlefevreloca/treeherd/internal/metrics"
	"github.com/livinlefevreloca/treeherd/internal/model"
	"github.com/livinlefevreloca/treeherd/internal/notify"
	"github.com/livinlefevreloca/treeherd/internal/urlparams"
)

// Messages shown when a fetch fails
const (
	MsgFetchPushesFailed = "Error retrieving push data!"
	MsgPollPushesFailed  = "Error fetching new push data"
	MsgFetchJobsFailed   = "Error retrieving job data!"
)

// lastModifiedLayout matches the zone-less UTC format the backend expects
const lastModifiedLayout = "2006-01-02T15:04:05.000"

var (
	// pollingKeys are passed on every poll to stay within the URL range
	pollingKeys = []string{
		urlparams.ParamToChange,
		urlparams.ParamEndDate,
		urlparams.ParamRevision,
		urlparams.FieldAuthor,
	}
	fetchKeys = append(append([]string(nil), pollingKeys...),
		urlparams.ParamFromChange,
		urlparams.ParamStartDate,
	)
)

// Backend is the subset of the backend client the repository needs
type Backend interface {
	GetPushes(ctx context.Context, repo string, params url.Values) ([]model.Push, error)
	GetJobs(ctx context.Context, repo string, params url.Values) ([]model.Job, error)
}

// Enricher prefetches side data for newly loaded pushes. It must never
// affect push or job state.
type Enricher interface {
	Prefetch(ctx context.Context, pushes []model.Push) int
}

// Config controls fetch sizes and job fan-out
type Config struct {
	DefaultRepo    string
	DefaultCount   int
	MaxFetchSize   int
	WatermarkSkew  time.Duration
	JobBatchSize   int
	JobConcurrency int
	UpdateBuffer   int
	UpdateTimeout  time.Duration
}

// DefaultConfig returns the dashboard defaults
func DefaultConfig() Config {
	return Config{
		DefaultRepo:    urlparams.DefaultRepo,
		DefaultCount:   10,
		MaxFetchSize:   100,
		WatermarkSkew:  3 * time.Second,
		JobBatchSize:   20,
		JobConcurrency: 4,
		UpdateBuffer:   256,
		UpdateTimeout:  time.Second,
	}
}

// Option configures optional collaborators
type Option func(*Repository)

// WithEnricher runs e in the background for every batch of new pushes
func WithEnricher(e Enricher) Option {
	return func(r *Repository) { r.enricher = e }
}

// WithMetrics records fetch and merge metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Repository) { r.metrics = m }
}

// WithClock replaces the wall clock used for the job watermark
func WithClock(c clock.Clock) Option {
	return func(r *Repository) { r.clock = c }
}

// Repository holds the push list and job index. All methods are safe for
// concurrent use; a poll and a load-more may run at the same time because
// merging is idempotent.
type Repository struct {
	backend  Backend
	loc      *location.Location
	notifier notify.Sender
	enricher Enricher
	metrics  *metrics.Metrics
	clock    clock.Clock
	config   Config
	logger   *slog.Logger
	updates  *inbox.Inbox[Update]

	mu            sync.RWMutex
	repo          string
	pushes        []model.Push
	oldest        int64
	jobs          map[int]model.Job
	jobsLoaded    map[int]bool
	decisionTasks map[int]model.DecisionTask
	loading       bool
	generation    uint64
	// rangeLoaded is set once the first fetch of the generation finished
	rangeLoaded   bool
	matcher       *filter.Matcher

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// NewRepository creates an empty repository reading its range from loc
func NewRepository(backend Backend, loc *location.Location, notifier notify.Sender, config Config, logger *slog.Logger, opts ...Option) *Repository {
	if config.DefaultRepo == "" {
		config.DefaultRepo = urlparams.DefaultRepo
	}
	if config.JobBatchSize <= 0 {
		config.JobBatchSize = DefaultConfig().JobBatchSize
	}
	if config.JobConcurrency <= 0 {
		config.JobConcurrency = DefaultConfig().JobConcurrency
	}
	if config.UpdateBuffer <= 0 {
		config.UpdateBuffer = DefaultConfig().UpdateBuffer
	}
	if config.UpdateTimeout <= 0 {
		config.UpdateTimeout = DefaultConfig().UpdateTimeout
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	r := &Repository{
		backend:       backend,
		loc:           loc,
		notifier:      notifier,
		clock:         clock.NewClock(),
		config:        config,
		logger:        logger,
		updates:       inbox.New[Update](config.UpdateBuffer, config.UpdateTimeout, logger),
		jobs:          make(map[int]model.Job),
		jobsLoaded:    make(map[int]bool),
		decisionTasks: make(map[int]model.DecisionTask),
		bgCtx:         bgCtx,
		bgCancel:      bgCancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Updates is the channel of changes for the session loop
func (r *Repository) Updates() *inbox.Inbox[Update] {
	return r.updates
}

// Close stops background enrichment and waits for it
func (r *Repository) Close() {
	r.bgCancel()
	r.bgWG.Wait()
	r.updates.Close()
}

// =============================================================================
// Fetching
// =============================================================================

// InitialCount is the page size of the first fetch for the current range
func (r *Repository) InitialCount() int {
	if r.loc.Get(urlparams.ParamFromChange) != "" {
		return r.config.MaxFetchSize
	}
	return r.config.DefaultCount
}

// Load performs the first fetch of a range
func (r *Repository) Load(ctx context.Context) error {
	return r.FetchPushes(ctx, r.InitialCount())
}

// FetchPushes requests a page of count pushes. Once pushes are loaded the
// fromchange/tochange bounds are replaced by push_timestamp__lte of the
// oldest loaded push, so successive pages neither skip nor repeat pushes.
func (r *Repository) FetchPushes(ctx context.Context, count int) error {
	return r.fetchPushes(ctx, count, false)
}

// FetchNextPushes loads count more pushes below the oldest loaded one and
// then moves fromchange to the new oldest revision without reloading.
func (r *Repository) FetchNextPushes(ctx context.Context, count int) error {
	r.loc.UpdateSilently(func(values url.Values) url.Values {
		if values.Get(urlparams.ParamRevision) != "" {
			// a single push becomes the top of a range
			revision := values.Get(urlparams.ParamRevision)
			values.Del(urlparams.ParamRevision)
			values.Set(urlparams.ParamToChange, revision)
		} else if values.Get(urlparams.ParamStartDate) != "" {
			values.Del(urlparams.ParamStartDate)
		}
		return values
	})
	return r.fetchPushes(ctx, count, true)
}

func (r *Repository) fetchPushes(ctx context.Context, count int, setFromchange bool) error {
	snap := r.loc.Snapshot()
	repo := r.repoOf(snap)
	params := pick(snap.Values, fetchKeys)
	params.Set("count", strconv.Itoa(count))

	r.mu.Lock()
	gen := r.generation
	if len(r.pushes) > 0 {
		params.Del(urlparams.ParamFromChange)
		params.Del(urlparams.ParamToChange)
		params.Set("push_timestamp__lte", strconv.FormatInt(r.oldest, 10))
	}
	r.loading = true
	r.mu.Unlock()

	start := r.clock.Now()
	incoming, err := r.backend.GetPushes(ctx, repo, params)
	r.metrics.ObserveFetch("get pushes", r.clock.Since(start).Seconds(), err)
	if err != nil {
		r.setLoading(gen, false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.Error("failed to fetch pushes", "repo", repo, "count", count, "error", err)
		r.notifier.Send(MsgFetchPushesFailed, notify.SeverityDanger, notify.Sticky())
		r.markRangeLoaded(ctx, gen, repo)
		return fmt.Errorf("fetch pushes: %w", err)
	}

	added, live := r.addPushes(ctx, gen, repo, incoming)
	if !live {
		return nil
	}
	if setFromchange {
		r.updateURLFromchange()
	}
	err = r.loadJobsFor(ctx, gen, repo, added)
	r.markRangeLoaded(ctx, gen, repo)
	return err
}

// PollMode is the kind of work a poll does
type PollMode int

const (
	PollRange          PollMode = iota // discover newer pushes, then refresh jobs
	PollSingleRevision                 // one revision is open; refresh its jobs only
)

// String returns a human-readable representation of the poll mode
func (m PollMode) String() string {
	switch m {
	case PollRange:
		return "range"
	case PollSingleRevision:
		return "single_revision"
	default:
		return "unknown"
	}
}

// SelectPollMode picks single-revision mode when exactly one push is loaded
// for a revision parameter
func SelectPollMode(pushCount int, revision string) PollMode {
	if pushCount == 1 && revision != "" {
		return PollSingleRevision
	}
	return PollRange
}

// PollMode is the mode the next poll will run in
func (r *Repository) PollMode() PollMode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return SelectPollMode(len(r.pushes), r.loc.Get(urlparams.ParamRevision))
}

// PollPushes runs one polling step. With a single push loaded for a
// revision only its jobs are refreshed; otherwise pushes newer than the
// latest loaded one are merged and then jobs are refreshed.
func (r *Repository) PollPushes(ctx context.Context) error {
	snap := r.loc.Snapshot()
	repo := r.repoOf(snap)

	// the watermark is read before jobs of new pushes raise it, so
	// updates to older pushes in between are still fetched
	r.mu.RLock()
	gen := r.generation
	loaded := len(r.pushes)
	latest := ""
	if loaded > 0 {
		latest = r.pushes[0].Revision
	}
	watermark := Watermark(r.jobs, r.clock.Now(), r.config.WatermarkSkew)
	r.mu.RUnlock()

	if SelectPollMode(loaded, snap.Get(urlparams.ParamRevision)) == PollSingleRevision {
		return r.fetchJobsSince(ctx, gen, watermark)
	}

	params := pick(snap.Values, pollingKeys)
	if latest != "" {
		params.Set(urlparams.ParamFromChange, latest)
	}

	start := r.clock.Now()
	incoming, err := r.backend.GetPushes(ctx, repo, params)
	r.metrics.ObserveFetch("poll pushes", r.clock.Since(start).Seconds(), err)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.Error("failed to poll pushes", "repo", repo, "error", err)
		r.notifier.Send(MsgPollPushesFailed, notify.SeverityDanger, notify.Sticky())
		return fmt.Errorf("poll pushes: %w", err)
	}

	added, live := r.addPushes(ctx, gen, repo, incoming)
	if !live {
		return nil
	}
	if err := r.loadJobsFor(ctx, gen, repo, added); err != nil {
		return err
	}
	return r.fetchJobsSince(ctx, gen, watermark)
}

// FetchNewJobs fetches jobs of every loaded push modified after the
// watermark
func (r *Repository) FetchNewJobs(ctx context.Context) error {
	r.mu.RLock()
	gen := r.generation
	watermark := Watermark(r.jobs, r.clock.Now(), r.config.WatermarkSkew)
	r.mu.RUnlock()
	return r.fetchJobsSince(ctx, gen, watermark)
}

func (r *Repository) fetchJobsSince(ctx context.Context, gen uint64, watermark time.Time) error {
	r.mu.RLock()
	if gen != r.generation {
		r.mu.RUnlock()
		return nil
	}
	repo := r.repo
	ids := pushIDs(r.pushes)
	r.mu.RUnlock()

	if len(ids) == 0 {
		return nil
	}

	extra := url.Values{"last_modified__gt": {watermark.Format(lastModifiedLayout)}}
	jobs, fetched, err := r.fetchJobs(ctx, repo, ids, extra)
	r.applyJobs(ctx, gen, repo, jobs, fetched)
	if err != nil {
		return r.jobsFailed(ctx, repo, err)
	}
	return nil
}

// loadJobsFor fetches every job of newly added pushes
func (r *Repository) loadJobsFor(ctx context.Context, gen uint64, repo string, added []model.Push) error {
	if len(added) == 0 || r.loc.Get(urlparams.ParamNoJobs) != "" {
		return nil
	}

	jobs, fetched, err := r.fetchJobs(ctx, repo, pushIDs(added), nil)
	r.applyJobs(ctx, gen, repo, jobs, fetched)
	if err != nil {
		return r.jobsFailed(ctx, repo, err)
	}
	return nil
}

func (r *Repository) jobsFailed(ctx context.Context, repo string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	r.logger.Error("failed to fetch jobs", "repo", repo, "error", err)
	r.notifier.Send(MsgFetchJobsFailed, notify.SeverityDanger, notify.Sticky())
	return fmt.Errorf("fetch jobs: %w", err)
}

// fetchJobs requests jobs for ids in batches of push_id__in. Failed batches
// are collected; jobs from the batches that succeeded are still returned
// along with the push ids they covered.
func (r *Repository) fetchJobs(ctx context.Context, repo string, ids []int, extra url.Values) ([]model.Job, []int, error) {
	var (
		mu      sync.Mutex
		jobs    []model.Job
		fetched []int
		errs    *multierror.Error
	)

	g := new(errgroup.Group)
	g.SetLimit(r.config.JobConcurrency)
	for _, batch := range batches(ids, r.config.JobBatchSize) {
		g.Go(func() error {
			params := url.Values{"push_id__in": {joinIDs(batch)}}
			for key, vals := range extra {
				params[key] = vals
			}

			start := r.clock.Now()
			got, err := r.backend.GetJobs(ctx, repo, params)
			r.metrics.ObserveFetch("get jobs", r.clock.Since(start).Seconds(), err)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("push_id__in=%s: %w", joinIDs(batch), err))
				return nil
			}
			jobs = append(jobs, got...)
			fetched = append(fetched, batch...)
			return nil
		})
	}
	g.Wait()

	return jobs, fetched, errs.ErrorOrNil()
}

// =============================================================================
// Applying results
// =============================================================================

// addPushes merges incoming into the list unless the repository was reset
// or switched repo since gen was read
func (r *Repository) addPushes(ctx context.Context, gen uint64, repo string, incoming []model.Push) ([]model.Push, bool) {
	r.mu.Lock()
	if !r.liveLocked(ctx, gen, repo) {
		r.mu.Unlock()
		r.logger.Debug("discarding stale push results", "repo", repo, "push_count", len(incoming))
		return nil, false
	}

	r.repo = repo
	r.loading = false
	result := Merge(r.pushes, incoming)
	r.pushes = result.Pushes
	r.oldest = result.OldestTimestamp
	pushCount, jobCount := len(r.pushes), len(r.jobs)
	jobsLoaded := AllJobsLoaded(r.pushes, r.jobsLoaded)
	r.mu.Unlock()

	r.metrics.PushesMerged(len(result.Added))
	r.metrics.SetLoaded(pushCount, jobCount)

	if len(result.Added) == 0 {
		return nil, true
	}

	r.logger.Info("pushes merged",
		"repo", repo,
		"added", len(result.Added),
		"push_count", pushCount,
		"oldest_timestamp", result.OldestTimestamp)

	r.publish(ctx, Update{
		Kind:       UpdatePushes,
		Generation: gen,
		Repo:       repo,
		Pushes:     result.Added,
		JobsLoaded: jobsLoaded,
	})
	r.enrich(result.Added)
	return result.Added, true
}

// applyJobs writes jobs into the index and marks fetched pushes as loaded
func (r *Repository) applyJobs(ctx context.Context, gen uint64, repo string, jobs []model.Job, fetched []int) {
	r.mu.Lock()
	if !r.liveLocked(ctx, gen, repo) {
		r.mu.Unlock()
		r.logger.Debug("discarding stale job results", "repo", repo, "job_count", len(jobs))
		return
	}

	for _, id := range fetched {
		r.jobsLoaded[id] = true
	}
	result := UpdateJobIndex(r.jobs, jobs, r.pushes, r.jobsLoaded)
	for pushID, task := range DecisionTasks(result.Applied) {
		r.decisionTasks[pushID] = task
	}
	pushCount, jobCount := len(r.pushes), len(r.jobs)
	r.mu.Unlock()

	r.metrics.JobsMerged(len(result.Applied))
	r.metrics.SetLoaded(pushCount, jobCount)

	if len(result.Applied) == 0 && len(fetched) == 0 {
		return
	}

	r.logger.Debug("jobs merged",
		"repo", repo,
		"job_count", len(result.Applied),
		"jobs_loaded", result.JobsLoaded)

	r.publish(ctx, Update{
		Kind:       UpdateJobs,
		Generation: gen,
		Repo:       repo,
		Jobs:       result.Applied,
		JobsLoaded: result.JobsLoaded,
	})
}

// liveLocked reports whether results fetched under gen for repo may still
// be applied. Caller holds r.mu.
func (r *Repository) liveLocked(ctx context.Context, gen uint64, repo string) bool {
	if ctx.Err() != nil || gen != r.generation {
		return false
	}
	return r.repo == "" || r.repo == repo
}

// markRangeLoaded publishes UpdateLoaded the first time a fetch of gen
// completes, failed or not
func (r *Repository) markRangeLoaded(ctx context.Context, gen uint64, repo string) {
	r.mu.Lock()
	if r.rangeLoaded || !r.liveLocked(ctx, gen, repo) {
		r.mu.Unlock()
		return
	}
	r.rangeLoaded = true
	pushCount := len(r.pushes)
	jobsLoaded := AllJobsLoaded(r.pushes, r.jobsLoaded)
	r.mu.Unlock()

	r.logger.Debug("range loaded", "repo", repo, "generation", gen, "push_count", pushCount)
	r.publish(ctx, Update{Kind: UpdateLoaded, Generation: gen, Repo: repo, JobsLoaded: jobsLoaded})
}

func (r *Repository) setLoading(gen uint64, loading bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen == r.generation {
		r.loading = loading
	}
}

// updateURLFromchange persists the loaded range after a load-more
func (r *Repository) updateURLFromchange() {
	r.mu.RLock()
	if len(r.pushes) == 0 {
		r.mu.RUnlock()
		return
	}
	oldest := r.pushes[len(r.pushes)-1].Revision
	r.mu.RUnlock()

	r.loc.UpdateSilently(func(values url.Values) url.Values {
		values.Set(urlparams.ParamFromChange, oldest)
		return values
	})
}

func (r *Repository) publish(ctx context.Context, u Update) {
	if !r.updates.SendContext(ctx, u) {
		r.logger.Warn("dropped repository update", "kind", u.Kind.String(), "generation", u.Generation)
	}
}

func (r *Repository) enrich(pushes []model.Push) {
	if r.enricher == nil {
		return
	}
	r.bgWG.Add(1)
	go func() {
		defer r.bgWG.Done()
		n := r.enricher.Prefetch(r.bgCtx, pushes)
		r.logger.Debug("prefetched push enrichment", "push_count", len(pushes), "fetched", n)
	}()
}

// =============================================================================
// Range changes
// =============================================================================

// Reset drops all pushes and jobs. Fetches in flight are discarded when
// they complete.
func (r *Repository) Reset() {
	r.mu.Lock()
	r.generation++
	gen := r.generation
	r.repo = ""
	r.pushes = nil
	r.oldest = 0
	r.jobs = make(map[int]model.Job)
	r.jobsLoaded = make(map[int]bool)
	r.decisionTasks = make(map[int]model.DecisionTask)
	r.loading = false
	r.rangeLoaded = false
	r.mu.Unlock()

	r.metrics.SetLoaded(0, 0)
	r.logger.Info("push repository reset", "generation", gen)
	r.publish(context.Background(), Update{Kind: UpdateCleared, Generation: gen})
}

// Narrow keeps only the loaded push of revision and its jobs. It reports
// false, changing nothing, when that push is not loaded; the caller then
// resets and loads the range again.
func (r *Repository) Narrow(ctx context.Context, revision string) bool {
	r.mu.Lock()
	var keep *model.Push
	if revision != "" {
		for i := range r.pushes {
			if r.pushes[i].Revision == revision {
				p := r.pushes[i]
				keep = &p
				break
			}
		}
	}
	if keep == nil {
		r.mu.Unlock()
		return false
	}

	r.generation++
	gen := r.generation
	repo := r.repo
	jobs := make(map[int]model.Job)
	var kept []model.Job
	for id, job := range r.jobs {
		if job.PushID == keep.ID {
			jobs[id] = job
			kept = append(kept, job)
		}
	}
	r.pushes = []model.Push{*keep}
	r.oldest = keep.PushTimestamp
	r.jobs = jobs
	r.jobsLoaded = map[int]bool{keep.ID: r.jobsLoaded[keep.ID]}
	decision, hasDecision := r.decisionTasks[keep.ID]
	r.decisionTasks = make(map[int]model.DecisionTask)
	if hasDecision {
		r.decisionTasks[keep.ID] = decision
	}
	r.loading = false
	r.rangeLoaded = true
	jobsLoaded := AllJobsLoaded(r.pushes, r.jobsLoaded)
	r.mu.Unlock()

	r.metrics.SetLoaded(1, len(jobs))
	r.logger.Info("narrowed to loaded revision", "revision", revision, "push_id", keep.ID, "job_count", len(jobs))

	r.publish(ctx, Update{Kind: UpdateCleared, Generation: gen, Repo: repo})
	r.publish(ctx, Update{Kind: UpdatePushes, Generation: gen, Repo: repo, Pushes: []model.Push{*keep}, JobsLoaded: jobsLoaded})
	r.publish(ctx, Update{Kind: UpdateJobs, Generation: gen, Repo: repo, Jobs: kept, JobsLoaded: jobsLoaded})
	return true
}

// Seed merges previously cached pushes and jobs for repo. It is only used
// before the first fetch; fetched records overwrite seeded ones.
func (r *Repository) Seed(repo string, pushes []model.Push, jobs []model.Job) {
	r.mu.Lock()
	if r.repo != "" && r.repo != repo {
		r.mu.Unlock()
		return
	}
	gen := r.generation
	r.repo = repo
	result := Merge(r.pushes, pushes)
	r.pushes = result.Pushes
	r.oldest = result.OldestTimestamp
	for _, p := range result.Added {
		r.jobsLoaded[p.ID] = true
	}
	applied := UpdateJobIndex(r.jobs, jobs, r.pushes, r.jobsLoaded)
	for pushID, task := range DecisionTasks(applied.Applied) {
		r.decisionTasks[pushID] = task
	}
	r.rangeLoaded = true
	pushCount, jobCount := len(r.pushes), len(r.jobs)
	r.mu.Unlock()

	r.metrics.SetLoaded(pushCount, jobCount)
	r.logger.Info("seeded from cache", "repo", repo, "push_count", len(result.Added), "job_count", len(applied.Applied))

	if len(result.Added) > 0 {
		r.publish(context.Background(), Update{Kind: UpdatePushes, Generation: gen, Repo: repo, Pushes: result.Added, JobsLoaded: applied.JobsLoaded})
	}
	if len(applied.Applied) > 0 {
		r.publish(context.Background(), Update{Kind: UpdateJobs, Generation: gen, Repo: repo, Jobs: applied.Applied, JobsLoaded: applied.JobsLoaded})
	}
}

// =============================================================================
// Reads
// =============================================================================

// SetFilter sets the matcher used to derive Job.Visible
func (r *Repository) SetFilter(m *filter.Matcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matcher = m
}

// Pushes returns the loaded pushes, newest first
func (r *Repository) Pushes() []model.Push {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]model.Push(nil), r.pushes...)
}

// GetPush returns a loaded push by id
func (r *Repository) GetPush(id int) (model.Push, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.pushes {
		if p.ID == id {
			return p, true
		}
	}
	return model.Push{}, false
}

// Job returns an indexed job by id
func (r *Repository) Job(id int) (model.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if ok {
		job.Visible = r.visibleLocked(&job)
	}
	return job, ok
}

// JobsByTaskID returns every indexed run of a task ordered by retry id
func (r *Repository) JobsByTaskID(taskID string) []model.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.Job
	for _, job := range r.jobs {
		if job.TaskID == taskID {
			job.Visible = r.visibleLocked(&job)
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RetryID < out[j].RetryID })
	return out
}

// Jobs returns every indexed job in push order, then by job id
func (r *Repository) Jobs() []model.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.orderedLocked(0, false)
}

// GetAllShownJobs returns the visible jobs of pushID, or of every push
// when pushID is zero
func (r *Repository) GetAllShownJobs(pushID int) []model.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.orderedLocked(pushID, true)
}

func (r *Repository) orderedLocked(pushID int, visibleOnly bool) []model.Job {
	rank := make(map[int]int, len(r.pushes))
	for i, p := range r.pushes {
		rank[p.ID] = i
	}

	out := make([]model.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		if pushID != 0 && job.PushID != pushID {
			continue
		}
		job.Visible = r.visibleLocked(&job)
		if visibleOnly && !job.Visible {
			continue
		}
		out = append(out, job)
	}

	sort.Slice(out, func(i, j int) bool {
		ri, rj := rank[out[i].PushID], rank[out[j].PushID]
		if ri != rj {
			return ri < rj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Repository) visibleLocked(job *model.Job) bool {
	if r.matcher == nil {
		return true
	}
	return r.matcher.ShowJob(job)
}

// RevisionTips summarizes each loaded push, newest first
func (r *Repository) RevisionTips() []model.RevisionTip {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tips := make([]model.RevisionTip, len(r.pushes))
	for i, p := range r.pushes {
		tips[i] = p.Tip()
	}
	return tips
}

// DecisionTaskMap returns the decision task found for each push
func (r *Repository) DecisionTaskMap() map[int]model.DecisionTask {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int]model.DecisionTask, len(r.decisionTasks))
	for id, task := range r.decisionTasks {
		out[id] = task
	}
	return out
}

// JobsLoaded reports whether every loaded push has had its jobs fetched
func (r *Repository) JobsLoaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return AllJobsLoaded(r.pushes, r.jobsLoaded)
}

// RangeLoaded reports whether the first fetch of the current range
// finished. It is false between a reset and the end of the next load.
func (r *Repository) RangeLoaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rangeLoaded
}

// LoadingPushes reports whether a push fetch is in flight
func (r *Repository) LoadingPushes() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loading
}

// OldestTimestamp is the push timestamp of the oldest loaded push
func (r *Repository) OldestTimestamp() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.oldest
}

// Repo is the repository the loaded data belongs to
func (r *Repository) Repo() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.repo
}

// Generation changes on every reset or range change
func (r *Repository) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// Watermark is the last_modified lower bound the next job poll will use
func (r *Repository) Watermark() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Watermark(r.jobs, r.clock.Now(), r.config.WatermarkSkew)
}

func (r *Repository) repoOf(snap location.Snapshot) string {
	if repo := snap.Get(urlparams.ParamRepo); repo != "" {
		return repo
	}
	return r.config.DefaultRepo
}

func pick(values url.Values, keys []string) url.Values {
	out := make(url.Values, len(keys))
	for _, key := range keys {
		if v := values.Get(key); v != "" {
			out.Set(key, v)
		}
	}
	return out
}

func pushIDs(pushes []model.Push) []int {
	ids := make([]int, len(pushes))
	for i, p := range pushes {
		ids[i] = p.ID
	}
	return ids
}

func batches(ids []int, size int) [][]int {
	var out [][]int
	for len(ids) > 0 {
		n := min(size, len(ids))
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	return out
}

func joinIDs(ids []int) string {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = strconv.Itoa(id)
	}
	return strings.Join(strs, ",")
}
