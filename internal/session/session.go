// Package session wires one dashboard session together: the location, the
// push repository, the polling scheduler, the selection synchronizer and
// the unclassified counter, driven from a single main loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"

	"github.com/livinlefevreloca/treeherd/internal/filter"
	"github.com/livinlefevreloca/treeherd/internal/inbox"
	"github.com/livinlefevreloca/treeherd/internal/location"
	"github.com/livinlefevreloca/treeherd/internal/metrics"
	"github.com/livinlefevreloca/treeherd/internal/model"
	"github.com/livinlefevreloca/treeherd/internal/notify"
	"github.com/livinlefevreloca/treeherd/internal/pushes"
	"github.com/livinlefevreloca/treeherd/internal/scheduler"
	"github.com/livinlefevreloca/treeherd/internal/selection"
	"github.com/livinlefevreloca/treeherd/internal/syncer"
	"github.com/livinlefevreloca/treeherd/internal/unclassified"
	"github.com/livinlefevreloca/treeherd/internal/urlparams"
)

// ErrStopped is returned by requests made after the session loop exited
var ErrStopped = errors.New("session: stopped")

// Backend is the backend client surface the session needs
type Backend interface {
	pushes.Backend
	selection.Lookup
}

// Cache is the persisted push and job store read for warm starts
type Cache interface {
	RecentPushes(repo string, limit int) ([]model.Push, error)
	JobsForPushes(repo string, pushIDs []int) ([]model.Job, error)
	PrunePushes(repo string, keep int) (int64, error)
}

// CacheWriter buffers merged records for the cache
type CacheWriter interface {
	Buffer(repo string, pushes []model.Push, jobs []model.Job) error
	GetStats() syncer.Stats
	Shutdown() error
}

// Config holds the settings of one session
type Config struct {
	DefaultRepo  string
	Repository   pushes.Config
	Scheduler    scheduler.Config
	Selection    selection.Config
	InboxSize    int
	InboxTimeout time.Duration
	WarmStart    bool
	RetainPushes int
}

// Option configures optional collaborators
type Option func(*Session)

// WithClock replaces the wall clock of every component
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithMetrics records metrics for every component
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithCache warm starts from cache and writes merged records through writer
func WithCache(cache Cache, writer CacheWriter) Option {
	return func(s *Session) {
		s.cache = cache
		s.writer = writer
	}
}

// WithEnricher prefetches side data for newly loaded pushes
func WithEnricher(e pushes.Enricher) Option {
	return func(s *Session) { s.enricher = e }
}

// Session owns every component of one dashboard tab
type Session struct {
	config   Config
	loc      *location.Location
	center   *notify.Center
	clock    clock.Clock
	metrics  *metrics.Metrics
	logger   *slog.Logger
	cache    Cache
	writer   CacheWriter
	enricher pushes.Enricher

	repo      *pushes.Repository
	filters   *filter.Model
	selection *selection.Synchronizer
	counter   *unclassified.Counter
	scheduler *scheduler.Scheduler
	inbox     *inbox.Inbox[Message]
	events    *broadcaster

	// Owned by the main loop
	lastFilters urlparams.FilterParams
	rangeCtx    context.Context
	rangeCancel context.CancelFunc

	syncKick     chan struct{}
	wg           sync.WaitGroup
	started      bool
	startMu      sync.Mutex
	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}
}

// New creates a session for loc. Nothing is fetched until Run.
func New(config Config, backend Backend, loc *location.Location, center *notify.Center, logger *slog.Logger, opts ...Option) (*Session, error) {
	if config.DefaultRepo == "" {
		config.DefaultRepo = urlparams.DefaultRepo
	}
	config.Repository.DefaultRepo = config.DefaultRepo
	if config.InboxSize <= 0 {
		config.InboxSize = 1024
	}
	if config.InboxTimeout <= 0 {
		config.InboxTimeout = 5 * time.Second
	}

	s := &Session{
		config:   config,
		loc:      loc,
		center:   center,
		clock:    clock.NewClock(),
		logger:   logger,
		events:   newBroadcaster(),
		syncKick: make(chan struct{}, 1),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	repoOpts := []pushes.Option{pushes.WithClock(s.clock), pushes.WithMetrics(s.metrics)}
	if s.enricher != nil {
		repoOpts = append(repoOpts, pushes.WithEnricher(s.enricher))
	}
	s.repo = pushes.NewRepository(backend, loc, center, config.Repository, logger, repoOpts...)
	s.filters = filter.NewModel(loc, config.DefaultRepo, logger)
	s.selection = selection.NewSynchronizer(loc, selectionIndex{Repository: s.repo, session: s}, backend, center,
		config.Selection, logger, selection.WithClock(s.clock), selection.WithMetrics(s.metrics))
	s.counter = unclassified.NewCounter(s.metrics, logger)
	s.inbox = inbox.New[Message](config.InboxSize, config.InboxTimeout, logger)

	sched, err := scheduler.NewScheduler(config.Scheduler, s.repo, s.clock, s.metrics, logger)
	if err != nil {
		s.selection.Close()
		s.repo.Close()
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	s.scheduler = sched

	return s, nil
}

// selectionIndex resolves against the repository but reports the repo of
// the location, which is known before the first fetch completes
type selectionIndex struct {
	*pushes.Repository
	session *Session
}

func (i selectionIndex) Repo() string {
	return i.session.repoName()
}

func (s *Session) repoName() string {
	if repo := s.loc.Get(urlparams.ParamRepo); repo != "" {
		return repo
	}
	return s.config.DefaultRepo
}

// =============================================================================
// Main loop
// =============================================================================

// Run loads the current range, starts polling and processes events until
// ctx is done or Shutdown is called
func (s *Session) Run(ctx context.Context) error {
	s.startMu.Lock()
	if s.started {
		s.startMu.Unlock()
		return errors.New("session already started")
	}
	s.started = true
	s.startMu.Unlock()
	defer close(s.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	locChanged, unsubscribeLoc := s.loc.Subscribe()
	defer unsubscribeLoc()
	notes, unsubscribeNotes := s.center.Subscribe(64)
	defer unsubscribeNotes()

	s.loc.TrackReload(urlparams.ReloadParams...)
	s.defaultRepo()
	s.refreshFilters()
	s.newRange(ctx)

	seeded := s.warmStart()
	if seeded {
		s.goLoad("poll after warm start", s.repo.PollPushes, nil)
	} else {
		s.goLoad("initial load", s.repo.Load, nil)
	}

	s.wg.Add(2)
	go s.runSelection(ctx)
	go func() {
		defer s.wg.Done()
		s.scheduler.Start(ctx)
	}()

	s.logger.Info("session started", "repo", s.repoName(), "query", s.loc.Query(), "warm_start", seeded)

	updates := s.repo.Updates()
	for {
		select {
		case <-ctx.Done():
			s.stop(cancel)
			return nil

		case <-s.shutdown:
			s.stop(cancel)
			return nil

		case <-locChanged:
			s.handleLocationChange(ctx)

		case u := <-updates.C():
			updates.MarkReceived()
			s.handleUpdate(u)

		case msg := <-s.inbox.C():
			s.inbox.MarkReceived()
			s.inbox.UpdateDepthStats()
			s.handleMessage(msg)

		case n := <-notes:
			s.metrics.Notification(string(n.Severity))
			s.events.publish(Event{Type: EventNotification, Notification: &n})
		}
	}
}

// Shutdown stops the main loop. Run returns once every component stopped.
func (s *Session) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
	})
}

// Done is closed when Run returns
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) stop(cancel context.CancelFunc) {
	s.logger.Info("shutting down session")

	s.scheduler.Shutdown()
	<-s.scheduler.Done()

	s.selection.FlushNavigation()
	cancel()
	s.wg.Wait()
	s.selection.Close()
	s.repo.Close()

	// records merged before the repository stopped still reach the cache
	for {
		u, ok := s.repo.Updates().TryReceive()
		if !ok {
			break
		}
		s.bufferUpdate(u)
	}

	if s.writer != nil {
		if err := s.writer.Shutdown(); err != nil {
			s.logger.Error("error shutting down cache writer", "error", err)
		}
	}
	s.inbox.Close()

	s.logger.Info("session shutdown complete")
}

// defaultRepo writes the default repo without triggering a reload
func (s *Session) defaultRepo() {
	s.loc.UpdateSilently(func(values url.Values) url.Values {
		if values.Get(urlparams.ParamRepo) == "" {
			values.Set(urlparams.ParamRepo, s.config.DefaultRepo)
		}
		return values
	})
}

// newRange cancels loads of the previous range
func (s *Session) newRange(ctx context.Context) {
	if s.rangeCancel != nil {
		s.rangeCancel()
	}
	s.rangeCtx, s.rangeCancel = context.WithCancel(ctx)
}

// goLoad runs fn for the current range in the background. The result is
// sent on reply when it is non-nil.
func (s *Session) goLoad(op string, fn func(ctx context.Context) error, reply chan<- interface{}) {
	ctx := s.rangeCtx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := fn(ctx)
		if err != nil && ctx.Err() == nil {
			s.logger.Warn("load failed", "op", op, "error", err)
		}
		if reply != nil {
			reply <- err
		}
	}()
}

func (s *Session) handleLocationChange(ctx context.Context) {
	if s.loc.Get(urlparams.ParamRepo) == "" {
		s.defaultRepo()
	}

	if changed, before, after := s.loc.CommitReload(); changed {
		s.logger.Info("range changed", "before", before.Encode(), "after", after.Encode())
		s.newRange(ctx)

		// the old range is dropped here, before the selection is kicked, so
		// a token for the new range waits for its load instead of being
		// resolved against the old one
		sameRepo := before.Get(urlparams.ParamRepo) == after.Get(urlparams.ParamRepo)
		if !sameRepo || !s.repo.Narrow(ctx, after.Get(urlparams.ParamRevision)) {
			s.repo.Reset()
			s.goLoad("load range", s.repo.Load, nil)
		}
	}

	s.refreshFilters()
	s.kickSync()
	s.events.publish(Event{Type: EventState, Reason: "location"})
}

// refreshFilters updates visibility and counts when the filter
// parameters changed
func (s *Session) refreshFilters() {
	params := s.filters.Params()
	if s.lastFilters != nil && params.Equal(s.lastFilters) {
		return
	}
	s.lastFilters = params

	matcher := filter.NewMatcher(params)
	s.repo.SetFilter(matcher)
	s.counter.Recompute(s.repo.Jobs(), matcher)
}

func (s *Session) handleUpdate(u pushes.Update) {
	s.logger.Debug("handling repository update",
		"kind", u.Kind.String(),
		"generation", u.Generation,
		"push_count", len(u.Pushes),
		"job_count", len(u.Jobs))

	s.bufferUpdate(u)
	if u.Kind != pushes.UpdatePushes {
		s.counter.Recompute(s.repo.Jobs(), filter.NewMatcher(s.lastFilters))
	}
	s.kickSync()
	s.events.publish(Event{Type: EventState, Reason: u.Kind.String()})
}

func (s *Session) bufferUpdate(u pushes.Update) {
	if s.writer == nil || u.Repo == "" || len(u.Pushes)+len(u.Jobs) == 0 {
		return
	}
	if err := s.writer.Buffer(u.Repo, u.Pushes, u.Jobs); err != nil {
		s.logger.Warn("failed to buffer cache update", "repo", u.Repo, "error", err)
	}
}

// warmStart seeds the repository from the cache when the location names
// no explicit range
func (s *Session) warmStart() bool {
	if s.cache == nil {
		return false
	}

	repo := s.repoName()
	if s.config.RetainPushes > 0 {
		removed, err := s.cache.PrunePushes(repo, s.config.RetainPushes)
		if err != nil {
			s.logger.Warn("failed to prune cache", "repo", repo, "error", err)
		} else if removed > 0 {
			s.logger.Info("pruned cached pushes", "repo", repo, "removed", removed)
		}
	}

	if !s.config.WarmStart {
		return false
	}
	snap := s.loc.Snapshot()
	for _, key := range urlparams.ReloadParams {
		if key != urlparams.ParamRepo && snap.Has(key) {
			return false
		}
	}

	cached, err := s.cache.RecentPushes(repo, s.repo.InitialCount())
	if err != nil {
		s.logger.Warn("failed to read cached pushes", "repo", repo, "error", err)
		return false
	}
	if len(cached) == 0 {
		return false
	}

	ids := make([]int, len(cached))
	for i, p := range cached {
		ids[i] = p.ID
	}
	jobs, err := s.cache.JobsForPushes(repo, ids)
	if err != nil {
		s.logger.Warn("failed to read cached jobs", "repo", repo, "error", err)
		return false
	}

	s.repo.Seed(repo, cached, jobs)
	return true
}

// =============================================================================
// Selection
// =============================================================================

func (s *Session) kickSync() {
	select {
	case s.syncKick <- struct{}{}:
	default:
		// a sync is already pending and will see the latest state
	}
}

// runSelection resolves the selection off the main loop, since a remote
// lookup can take as long as a request
func (s *Session) runSelection(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.syncKick:
			before := s.selection.State()
			after := s.selection.Sync(ctx)
			if before != after {
				s.events.publish(Event{Type: EventState, Reason: "selection"})
			}
		}
	}
}

// =============================================================================
// Messages
// =============================================================================

// handleMessage dispatches messages to appropriate handlers
func (s *Session) handleMessage(msg Message) {
	s.logger.Debug("handling message", "type", msg.Type.String())

	switch msg.Type {
	case MsgNavigate:
		data := msg.Data.(NavigateMsg)
		reply(msg, s.loc.Navigate(data.Query))
	case MsgFilter:
		data := msg.Data.(FilterMsg)
		reply(msg, applyFilter(s.filters, data))
	case MsgSelectJob:
		data := msg.Data.(SelectJobMsg)
		s.selection.SelectJob(data.JobID)
		reply(msg, nil)
	case MsgChangeJob:
		s.handleChangeJob(msg)
	case MsgClearSelection:
		s.selection.Clear()
		reply(msg, nil)
	case MsgFetchNextPushes:
		data := msg.Data.(FetchNextPushesMsg)
		count := data.Count
		if count <= 0 {
			count = s.config.Repository.DefaultCount
		}
		s.goLoad("fetch next pushes", func(ctx context.Context) error {
			return s.repo.FetchNextPushes(ctx, count)
		}, msg.ResponseChan)
	case MsgGetState:
		reply(msg, s.snapshot())
	case MsgShutdown:
		s.Shutdown()
		reply(msg, nil)
	default:
		s.logger.Warn("unknown message type", "type", msg.Type)
		reply(msg, fmt.Errorf("unknown message type %d", msg.Type))
	}
}

func (s *Session) handleChangeJob(msg Message) {
	data := msg.Data.(ChangeJobMsg)
	// visibility must reflect filters edited just before this message
	s.refreshFilters()
	job, ok := s.selection.ChangeJob(data.Direction, data.UnclassifiedOnly)
	reply(msg, ChangeJobResponse{Job: job, Selected: ok})
}

func reply(msg Message, v interface{}) {
	if msg.ResponseChan != nil {
		msg.ResponseChan <- v
	}
}

func (s *Session) snapshot() State {
	snap := s.loc.Snapshot()
	state := State{
		Query:          snap.Values.Encode(),
		Repo:           s.repoName(),
		Filters:        urlparams.FromValues(snap.Values, true),
		Counts:         s.counter.Counts(),
		Selection:      SelectionState{State: s.selection.State().Name()},
		PushCount:      len(s.repo.Pushes()),
		JobCount:       len(s.repo.Jobs()),
		LoadingPushes:  s.repo.LoadingPushes(),
		JobsLoaded:     s.repo.JobsLoaded(),
		PollMode:       s.repo.PollMode().String(),
		Generation:     s.repo.Generation(),
		InboxStats:     s.inbox.GetStats(),
		SchedulerStats: s.scheduler.GetStats(),
	}
	if job, ok := s.selection.Selected(); ok {
		state.Selection.Job = &job
	}
	if s.writer != nil {
		stats := s.writer.GetStats()
		state.SyncerStats = &stats
	}
	return state
}

// =============================================================================
// Requests
// =============================================================================

// request sends a message to the main loop and waits for its response
func (s *Session) request(ctx context.Context, typ MessageType, data interface{}) (interface{}, error) {
	response := make(chan interface{}, 1)
	msg := Message{Type: typ, Data: data, ResponseChan: response}

	select {
	case <-s.done:
		return nil, ErrStopped
	default:
	}
	if !s.inbox.SendContext(ctx, msg) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrStopped
	}

	select {
	case v := <-response:
		if err, ok := v.(error); ok {
			return nil, err
		}
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrStopped
	}
}

// Navigate replaces the whole query, as a browser navigation would
func (s *Session) Navigate(ctx context.Context, query string) error {
	_, err := s.request(ctx, MsgNavigate, NavigateMsg{Query: query})
	return err
}

// ApplyFilter runs one filter operation
func (s *Session) ApplyFilter(ctx context.Context, op FilterOp, field string, values ...string) error {
	_, err := s.request(ctx, MsgFilter, FilterMsg{Op: op, Field: field, Values: values})
	return err
}

// SelectJob selects a job by id
func (s *Session) SelectJob(ctx context.Context, id int) error {
	_, err := s.request(ctx, MsgSelectJob, SelectJobMsg{JobID: id})
	return err
}

// ClearSelection drops the selection
func (s *Session) ClearSelection(ctx context.Context) error {
	_, err := s.request(ctx, MsgClearSelection, nil)
	return err
}

// ChangeJob moves the selection to the next or previous visible job
func (s *Session) ChangeJob(ctx context.Context, direction selection.Direction, unclassifiedOnly bool) (ChangeJobResponse, error) {
	v, err := s.request(ctx, MsgChangeJob, ChangeJobMsg{Direction: direction, UnclassifiedOnly: unclassifiedOnly})
	if err != nil {
		return ChangeJobResponse{}, err
	}
	return v.(ChangeJobResponse), nil
}

// FetchNextPushes loads count more pushes and waits for them
func (s *Session) FetchNextPushes(ctx context.Context, count int) error {
	_, err := s.request(ctx, MsgFetchNextPushes, FetchNextPushesMsg{Count: count})
	return err
}

// State returns a snapshot of the session
func (s *Session) State(ctx context.Context) (State, error) {
	v, err := s.request(ctx, MsgGetState, nil)
	if err != nil {
		return State{}, err
	}
	return v.(State), nil
}

// =============================================================================
// Reads
// =============================================================================

// Pushes returns the loaded pushes, newest first
func (s *Session) Pushes() []model.Push {
	return s.repo.Pushes()
}

// Push returns a loaded push by id
func (s *Session) Push(id int) (model.Push, bool) {
	return s.repo.GetPush(id)
}

// Jobs returns the jobs of pushID, only the visible ones when visibleOnly
func (s *Session) Jobs(pushID int, visibleOnly bool) []model.Job {
	if visibleOnly {
		return s.repo.GetAllShownJobs(pushID)
	}
	out := []model.Job{}
	for _, job := range s.repo.Jobs() {
		if job.PushID == pushID {
			out = append(out, job)
		}
	}
	return out
}

// DecisionTasks returns the decision task of each loaded push
func (s *Session) DecisionTasks() map[int]model.DecisionTask {
	return s.repo.DecisionTaskMap()
}

// Notifications is the notification channel of the session
func (s *Session) Notifications() *notify.Center {
	return s.center
}

// Subscribe returns a channel of session events and a function that ends
// the subscription
func (s *Session) Subscribe(buffer int) (<-chan Event, func()) {
	return s.events.subscribe(buffer)
}
