// Package selection keeps the selected job consistent with the location.
//
// The location is the only input. Clicks, keyboard navigation, history
// navigation and the initial load all write the selection token to the
// location; Sync then resolves whatever the location holds against the
// job index, falling back to a backend lookup, and writes the canonical
// token back.
package selection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"

	"github.com/livinlefevreloca/treeherd/internal/debounce"
	"github.com/livinlefevreloca/treeherd/internal/location"
	"github.com/livinlefevreloca/treeherd/internal/metrics"
	"github.com/livinlefevreloca/treeherd/internal/model"
	"github.com/livinlefevreloca/treeherd/internal/notify"
	"github.com/livinlefevreloca/treeherd/internal/urlparams"
)

// NextJobKey is the debounce key of keyboard navigation writes
const NextJobKey = "nextJob"

// MsgLookupFailed is shown when the backend could not be asked for a
// selection outside the loaded range
const MsgLookupFailed = "Unable to look up selected job %s: backend unavailable"

// MsgPushLookupFailed is shown when a job outside the range was found but
// its push was not
const MsgPushLookupFailed = "Unable to find push with id %d for selected job"

// Index is the loaded job data selection resolves against. RangeLoaded
// reports whether the first fetch of the current range has finished.
type Index interface {
	Repo() string
	RangeLoaded() bool
	Job(id int) (model.Job, bool)
	JobsByTaskID(taskID string) []model.Job
	Jobs() []model.Job
}

// Lookup finds jobs outside the loaded range, and the push holding them
type Lookup interface {
	GetJob(ctx context.Context, repo string, id int) (*model.Job, error)
	FindTaskRun(ctx context.Context, repo, taskID string, retryID int, hasRetry bool) ([]model.Job, error)
	GetPush(ctx context.Context, repo string, id int) (*model.Push, error)
}

// Config holds selection settings
type Config struct {
	// Debounce is the delay before a navigation step is written
	Debounce time.Duration

	// LinkBase prefixes "load push" links, e.g. https://treeherder.mozilla.org
	LinkBase string
}

// DefaultConfig returns the default selection settings
func DefaultConfig() Config {
	return Config{
		Debounce: 200 * time.Millisecond,
	}
}

// Direction of a navigation step
type Direction int

const (
	Next Direction = iota
	Previous
)

func (d Direction) String() string {
	if d == Previous {
		return "previous"
	}
	return "next"
}

// ParseDirection parses "next" or "previous"
func ParseDirection(raw string) (Direction, error) {
	switch raw {
	case "next":
		return Next, nil
	case "previous":
		return Previous, nil
	default:
		return Next, fmt.Errorf("unknown direction %q", raw)
	}
}

// Option configures a Synchronizer
type Option func(*Synchronizer)

func WithClock(c clock.Clock) Option {
	return func(s *Synchronizer) { s.clock = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Synchronizer) { s.metrics = m }
}

// WithRecorder records every state transition
func WithRecorder(r *StateRecorder) Option {
	return func(s *Synchronizer) { s.recorder = r }
}

// Synchronizer resolves the location's selection token
type Synchronizer struct {
	loc      *location.Location
	index    Index
	lookup   Lookup
	notifier notify.Sender
	config   Config
	logger   *slog.Logger

	clock     clock.Clock
	metrics   *metrics.Metrics
	debouncer *debounce.Debouncer
	recorder  *StateRecorder

	// syncMu serializes resolutions
	syncMu sync.Mutex

	mu    sync.RWMutex
	state State

	// cursor is the navigation anchor while a nextJob write is pending
	cursor *model.Job
}

// NewSynchronizer creates a synchronizer in the unselected state
func NewSynchronizer(loc *location.Location, index Index, lookup Lookup, notifier notify.Sender, config Config, logger *slog.Logger, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		loc:      loc,
		index:    index,
		lookup:   lookup,
		notifier: notifier,
		config:   config,
		logger:   logger,
		clock:    clock.NewClock(),
		state:    &UnselectedState{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.debouncer = debounce.New(config.Debounce, s.clock, logger)
	return s
}

// Close cancels any pending navigation write
func (s *Synchronizer) Close() {
	s.debouncer.Stop()
}

// State returns the current state
func (s *Synchronizer) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Selected returns the resolved job, if any
func (s *Synchronizer) Selected() (model.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if resolved, ok := s.state.(*ResolvedLocalState); ok {
		return resolved.Job, true
	}
	return model.Job{}, false
}

func (s *Synchronizer) transitionTo(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	if s.recorder != nil {
		s.recorder.Record(state)
	}
}

// tokenOf returns the raw token and whether it is a legacy job id
func tokenOf(snap location.Snapshot) (string, bool) {
	if raw := snap.Get(urlparams.ParamSelectedTaskRun); raw != "" {
		return raw, false
	}
	if raw := snap.Get(urlparams.ParamSelectedJob); raw != "" {
		return raw, true
	}
	return "", false
}

func parseToken(raw string, legacy bool) (model.Token, error) {
	if legacy {
		return model.ParseJobID(raw)
	}
	return model.ParseTaskRun(raw)
}

// Sync resolves the current selection token. It is the only path that
// changes the selected job. A token seen before the current range finished
// loading stays in resolving_local, untouched, until a later Sync.
func (s *Synchronizer) Sync(ctx context.Context) State {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	snap := s.loc.Snapshot()
	raw, legacy := tokenOf(snap)
	if raw == "" {
		if _, ok := s.State().(*UnselectedState); !ok {
			s.transitionTo(&UnselectedState{})
		}
		return s.State()
	}

	unselected := &UnselectedState{}
	token, err := parseToken(raw, legacy)
	if err != nil {
		s.logger.Warn("unreadable selection token", "token", raw, "error", err)
		s.transitionTo(unselected.ToNotFound(raw))
		s.notifyNotFound(model.Token{}, raw, legacy)
		s.metrics.Selection(metrics.OutcomeNotFound)
		s.clearToken(raw)
		return s.State()
	}

	resolving := unselected.ToResolvingLocal(token, raw)
	if !s.index.RangeLoaded() {
		if _, ok := s.State().(*ResolvingLocalState); !ok {
			s.transitionTo(resolving)
		}
		return s.State()
	}
	s.transitionTo(resolving)

	if job, ok := s.resolveLocal(token); ok {
		s.resolved(resolving.ToResolvedLocal(job), raw)
		return s.State()
	}

	if snap.Has(urlparams.ParamRevision) {
		// a single push opened on purpose; a token from another push is dropped
		s.logger.Debug("selection outside single revision cleared", "token", raw)
		s.transitionTo(resolving.ToUnselected())
		s.metrics.Selection(metrics.OutcomeCleared)
		s.clearToken(raw)
		return s.State()
	}

	remote := resolving.ToResolvingRemote()
	s.transitionTo(remote)
	s.resolveRemote(ctx, remote)
	return s.State()
}

// resolveLocal finds the token in the index
func (s *Synchronizer) resolveLocal(token model.Token) (model.Job, bool) {
	if !token.IsTaskRun() {
		return s.index.Job(token.JobID)
	}
	return matchRun(s.index.JobsByTaskID(token.TaskID), token)
}

// matchRun picks the run a task token names. A token without a retry id
// names the highest retry.
func matchRun(runs []model.Job, token model.Token) (model.Job, bool) {
	if token.HasRetry {
		for _, job := range runs {
			if job.RetryID == token.RetryID {
				return job, true
			}
		}
		return model.Job{}, false
	}

	if len(runs) == 0 {
		return model.Job{}, false
	}
	best := runs[0]
	for _, job := range runs[1:] {
		if job.RetryID > best.RetryID {
			best = job
		}
	}
	return best, true
}

func (s *Synchronizer) resolved(state *ResolvedLocalState, raw string) {
	previous, wasSelected := s.Selected()
	s.transitionTo(state)

	job := state.Job
	if !wasSelected || previous.ID != job.ID {
		s.logger.Info("job selected", "job_id", job.ID, "task_run", job.TaskRunStr())
		s.metrics.Selection(metrics.OutcomeLocal)
	}

	// rewrite to the canonical form unless the token changed meanwhile
	s.loc.Update(func(values url.Values) url.Values {
		if current, _ := tokenOf(location.Snapshot{Values: values}); current != raw {
			return values
		}
		values.Del(urlparams.ParamSelectedJob)
		if job.TaskID == "" {
			values.Set(urlparams.ParamSelectedJob, strconv.Itoa(job.ID))
		} else {
			values.Set(urlparams.ParamSelectedTaskRun, job.TaskRunStr())
		}
		return values
	})
}

func (s *Synchronizer) resolveRemote(ctx context.Context, state *ResolvingRemoteState) {
	repo := s.index.Repo()
	token := state.Token

	var found *model.Job
	var err error
	if token.IsTaskRun() {
		var runs []model.Job
		runs, err = s.lookup.FindTaskRun(ctx, repo, token.TaskID, token.RetryID, token.HasRetry)
		if job, ok := matchRun(runs, token); err == nil && ok {
			found = &job
		}
	} else {
		found, err = s.lookup.GetJob(ctx, repo, token.JobID)
	}

	if ctx.Err() != nil {
		s.logger.Debug("selection lookup abandoned", "token", state.Raw)
		return
	}

	if err != nil && !errors.Is(err, model.ErrNotFound) {
		s.logger.Warn("selection lookup failed", "token", state.Raw, "error", err)
		s.lookupFailed(state, fmt.Sprintf(MsgLookupFailed, state.Raw))
		return
	}

	if found == nil {
		s.transitionTo(state.ToNotFound())
		s.notifyNotFound(token, state.Raw, !token.IsTaskRun())
		s.metrics.Selection(metrics.OutcomeNotFound)
		s.clearToken(state.Raw)
		return
	}

	// the job may have arrived with a poll while the lookup was in flight
	if job, ok := s.resolveLocal(token); ok {
		s.resolved(state.ToResolvedLocal(job), state.Raw)
		return
	}

	revision := found.PushRevision
	if revision == "" {
		push, err := s.lookup.GetPush(ctx, repo, found.PushID)
		if ctx.Err() != nil {
			s.logger.Debug("selection lookup abandoned", "token", state.Raw)
			return
		}
		if err != nil {
			s.logger.Warn("push lookup failed", "token", state.Raw, "push_id", found.PushID, "error", err)
			s.lookupFailed(state, fmt.Sprintf(MsgPushLookupFailed, found.PushID))
			return
		}
		revision = push.Revision
	}

	message := fmt.Sprintf("Selected job: %d", token.JobID)
	if token.IsTaskRun() {
		message = "Selected task: " + token.TaskID
	}
	link := s.pushLink(repo, revision, found.TaskRunStr())
	s.notifier.Send(message+" not within current push range.", notify.SeverityDanger,
		notify.Sticky(), notify.WithLink("Load push", link))

	s.logger.Info("selected job outside loaded range",
		"token", state.Raw,
		"job_id", found.ID,
		"push_revision", revision)
	s.transitionTo(state.ToUnselected())
	s.metrics.Selection(metrics.OutcomeOutside)
	s.clearToken(state.Raw)
}

// lookupFailed clears a token the backend could not be asked about
func (s *Synchronizer) lookupFailed(state *ResolvingRemoteState, message string) {
	s.transitionTo(state.ToNotFound())
	s.notifier.Send(message, notify.SeverityDanger, notify.Sticky())
	s.metrics.Selection(metrics.OutcomeNotFound)
	s.clearToken(state.Raw)
}

func (s *Synchronizer) notifyNotFound(token model.Token, raw string, legacy bool) {
	var message string
	switch {
	case token.IsTaskRun() && token.HasRetry:
		message = fmt.Sprintf("Task not found: %s, run %d", token.TaskID, token.RetryID)
	case token.IsTaskRun():
		message = "Task not found: " + token.TaskID
	case legacy:
		message = "Job ID not found: " + raw
	default:
		message = "Task not found: " + raw
	}
	s.notifier.Send(message, notify.SeverityDanger, notify.Sticky())
}

// pushLink builds the deep link that loads the push holding a job
func (s *Synchronizer) pushLink(repo, revision, taskRun string) string {
	params := url.Values{
		urlparams.ParamRepo:            {repo},
		urlparams.ParamRevision:        {revision},
		urlparams.ParamSelectedTaskRun: {taskRun},
	}
	return s.config.LinkBase + "/jobs?" + params.Encode()
}

// clearToken removes the selection from the location if it still holds raw
func (s *Synchronizer) clearToken(raw string) {
	s.loc.Update(func(values url.Values) url.Values {
		if current, _ := tokenOf(location.Snapshot{Values: values}); current != raw {
			return values
		}
		values.Del(urlparams.ParamSelectedJob)
		values.Del(urlparams.ParamSelectedTaskRun)
		return values
	})
}

// SelectJob writes a job id to the location. A loaded job is written in
// canonical form; anything else goes through the legacy parameter and is
// resolved remotely.
func (s *Synchronizer) SelectJob(id int) {
	s.cancelNavigation()
	if job, ok := s.index.Job(id); ok && job.TaskID != "" {
		s.writeTaskRun(job.TaskRunStr())
		return
	}
	s.loc.Update(func(values url.Values) url.Values {
		values.Del(urlparams.ParamSelectedTaskRun)
		values.Set(urlparams.ParamSelectedJob, strconv.Itoa(id))
		return values
	})
}

// SelectTaskRun writes a task run token to the location
func (s *Synchronizer) SelectTaskRun(raw string) {
	s.cancelNavigation()
	s.writeTaskRun(raw)
}

// Clear removes any selection from the location
func (s *Synchronizer) Clear() {
	s.cancelNavigation()
	s.loc.Update(func(values url.Values) url.Values {
		values.Del(urlparams.ParamSelectedJob)
		values.Del(urlparams.ParamSelectedTaskRun)
		return values
	})
}

func (s *Synchronizer) writeTaskRun(raw string) {
	s.loc.Update(func(values url.Values) url.Values {
		values.Del(urlparams.ParamSelectedJob)
		values.Set(urlparams.ParamSelectedTaskRun, raw)
		return values
	})
}

func (s *Synchronizer) cancelNavigation() {
	s.debouncer.Cancel(NextJobKey)
	s.mu.Lock()
	s.cursor = nil
	s.mu.Unlock()
}

// ChangeJob moves the selection to the next or previous visible job,
// wrapping at either end. The location write is debounced so holding a
// navigation key does not resolve every job on the way. It returns the
// job moved to, or false when nothing was selectable and the selection was
// cleared.
func (s *Synchronizer) ChangeJob(direction Direction, unclassifiedOnly bool) (model.Job, bool) {
	s.mu.RLock()
	anchorID := 0
	if s.cursor != nil {
		anchorID = s.cursor.ID
	} else if resolved, ok := s.state.(*ResolvedLocalState); ok {
		anchorID = resolved.Job.ID
	}
	s.mu.RUnlock()

	// the anchor stays a candidate even when it is no longer visible
	candidates := make([]model.Job, 0)
	for _, job := range s.index.Jobs() {
		if !job.Visible && job.ID != anchorID {
			continue
		}
		if unclassifiedOnly && !job.IsUnclassifiedFailure() {
			continue
		}
		candidates = append(candidates, job)
	}

	current := -1
	for i, job := range candidates {
		if job.ID == anchorID {
			current = i
			break
		}
	}

	next := -1
	if len(candidates) > 0 {
		if direction == Next {
			next = (current + 1) % len(candidates)
		} else if current <= 0 {
			next = len(candidates) - 1
		} else {
			next = current - 1
		}
	}

	if next < 0 || next == current {
		noMore := "No jobs to select"
		if unclassifiedOnly {
			noMore = "No unclassified failures to select"
		}
		s.notifier.Send(noMore, notify.SeverityInfo)
		s.Clear()
		return model.Job{}, false
	}

	target := candidates[next]
	s.mu.Lock()
	s.cursor = &target
	s.mu.Unlock()

	s.debouncer.Call(NextJobKey, func() {
		s.mu.Lock()
		if s.cursor != nil && s.cursor.ID == target.ID {
			s.cursor = nil
		}
		s.mu.Unlock()
		s.writeTaskRun(target.TaskRunStr())
	})

	s.logger.Debug("job navigation",
		"direction", direction.String(),
		"unclassified_only", unclassifiedOnly,
		"job_id", target.ID)
	return target, true
}

// FlushNavigation writes a pending navigation step immediately
func (s *Synchronizer) FlushNavigation() bool {
	return s.debouncer.Flush(NextJobKey)
}
