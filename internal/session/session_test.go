package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/treeherd/internal/client"
	"github.com/livinlefevreloca/treeherd/internal/db"
	"github.com/livinlefevreloca/treeherd/internal/filter"
	"github.com/livinlefevreloca/treeherd/internal/location"
	"github.com/livinlefevreloca/treeherd/internal/metrics"
	"github.com/livinlefevreloca/treeherd/internal/model"
	"github.com/livinlefevreloca/treeherd/internal/notify"
	"github.com/livinlefevreloca/treeherd/internal/pushes"
	"github.com/livinlefevreloca/treeherd/internal/scheduler"
	"github.com/livinlefevreloca/treeherd/internal/selection"
	"github.com/livinlefevreloca/treeherd/internal/syncer"
	"github.com/livinlefevreloca/treeherd/internal/testutil"
	"github.com/livinlefevreloca/treeherd/internal/unclassified"
	"github.com/livinlefevreloca/treeherd/internal/urlparams"
)

var baseTime = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	session *Session
	loc     *location.Location
	center  *notify.Center
	backend *testutil.FakeBackend
	clock   *fakeclock.FakeClock
	logger  *testutil.TestLogger
}

func testConfig() Config {
	config := Config{
		Repository: pushes.DefaultConfig(),
		Scheduler:  scheduler.DefaultConfig(),
		Selection:  selection.DefaultConfig(),
	}
	config.Selection.LinkBase = "https://th.example"
	return config
}

func newFixture(t *testing.T, query string, config Config, opts ...Option) *fixture {
	t.Helper()
	logger := testutil.NewTestLogger()
	backend := testutil.NewFakeBackend(t)

	c, err := client.New(backend.URL(), client.WithLogger(logger.Logger()))
	require.NoError(t, err)
	loc, err := location.New(query, logger.Logger())
	require.NoError(t, err)

	clk := fakeclock.NewFakeClock(baseTime.Add(time.Hour))
	center := notify.NewCenter(50, clk, logger.Logger())
	opts = append([]Option{WithClock(clk), WithMetrics(metrics.New())}, opts...)

	s, err := New(config, c, loc, center, logger.Logger(), opts...)
	require.NoError(t, err)

	return &fixture{session: s, loc: loc, center: center, backend: backend, clock: clk, logger: logger}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	go f.session.Run(context.Background())
	t.Cleanup(f.stop)
}

func (f *fixture) stop() {
	f.session.Shutdown()
	<-f.session.Done()
}

func (f *fixture) state(t *testing.T) State {
	t.Helper()
	state, err := f.session.State(context.Background())
	require.NoError(t, err)
	return state
}

// waitForState polls the session state until cond holds
func (f *fixture) waitForState(t *testing.T, cond func(State) bool, msg string) State {
	t.Helper()
	var last State
	testutil.WaitFor(t, func() bool {
		last = f.state(t)
		return cond(last)
	}, 2*time.Second, msg)
	return last
}

func loaded(pushCount int) func(State) bool {
	return func(s State) bool {
		return s.PushCount == pushCount && s.JobsLoaded && !s.LoadingPushes
	}
}

// seedBackend stores pushes 1..n on repo with one job each, job id i*10
func seedBackend(b *testutil.FakeBackend, repo string, n int, result string) {
	for i := 1; i <= n; i++ {
		b.AddPushes(repo, testutil.MakePush(i, fmt.Sprintf("%s-rev%d", repo, i), int64(i*100)))
		b.AddJobs(repo, testutil.MakeJob(i*10, i, result, baseTime))
	}
}

// =============================================================================
// Loading Tests
// =============================================================================

// TestSession_InitialLoad verifies pushes and jobs of the URL range are loaded.
func TestSession_InitialLoad(t *testing.T) {
	f := newFixture(t, "repo=try", testConfig())
	seedBackend(f.backend, "try", 3, model.ResultSuccess)
	f.start(t)

	state := f.waitForState(t, loaded(3), "initial load")
	require.Equal(t, 3, state.JobCount)
	require.Equal(t, "try", state.Repo)
	require.Equal(t, "range", state.PollMode)
}

// TestSession_DefaultsRepoSilently verifies the default repo is written without a reload.
func TestSession_DefaultsRepoSilently(t *testing.T) {
	f := newFixture(t, "", testConfig())
	seedBackend(f.backend, urlparams.DefaultRepo, 1, model.ResultSuccess)
	f.start(t)

	f.waitForState(t, loaded(1), "initial load")
	require.Equal(t, urlparams.DefaultRepo, f.loc.Get(urlparams.ParamRepo))

	// a few round trips through the loop so the location signal is handled
	for i := 0; i < 3; i++ {
		require.Equal(t, uint64(0), f.state(t).Generation)
	}
	require.Len(t, f.backend.RequestsTo("/push/"), 1)
}

// TestSession_NavigateToOtherRepo verifies a repo change resets and reloads.
func TestSession_NavigateToOtherRepo(t *testing.T) {
	f := newFixture(t, "repo=try", testConfig())
	seedBackend(f.backend, "try", 3, model.ResultSuccess)
	seedBackend(f.backend, "autoland", 2, model.ResultSuccess)
	f.start(t)
	f.waitForState(t, loaded(3), "initial load")

	require.NoError(t, f.session.Navigate(context.Background(), "repo=autoland"))

	state := f.waitForState(t, func(s State) bool {
		return s.Repo == "autoland" && loaded(2)(s)
	}, "autoland loaded")
	require.NotZero(t, state.Generation)
	require.Equal(t, "autoland-rev2", f.session.Pushes()[0].Revision)
}

// TestSession_NarrowToLoadedRevision verifies opening a loaded revision keeps only its push.
func TestSession_NarrowToLoadedRevision(t *testing.T) {
	f := newFixture(t, "repo=try", testConfig())
	seedBackend(f.backend, "try", 3, model.ResultSuccess)
	f.start(t)
	f.waitForState(t, loaded(3), "initial load")
	requestsBefore := len(f.backend.RequestsTo("/push/"))

	require.NoError(t, f.session.Navigate(context.Background(), "repo=try&revision=try-rev2"))

	state := f.waitForState(t, func(s State) bool {
		return s.PushCount == 1 && s.PollMode == "single_revision"
	}, "narrowed to revision")
	require.Equal(t, 1, state.JobCount)
	require.Equal(t, "try-rev2", f.session.Pushes()[0].Revision)
	require.Len(t, f.backend.RequestsTo("/push/"), requestsBefore)
}

// TestSession_PollsOnTick verifies new pushes appear after a poll interval.
func TestSession_PollsOnTick(t *testing.T) {
	config := testConfig()
	f := newFixture(t, "repo=try", config)
	seedBackend(f.backend, "try", 2, model.ResultSuccess)
	f.start(t)
	f.waitForState(t, loaded(2), "initial load")

	f.backend.AddPushes("try", testutil.MakePush(3, "try-rev3", 300))
	f.backend.AddJobs("try", testutil.MakeJob(30, 3, model.ResultRunning, baseTime))
	f.clock.WaitForWatcherAndIncrement(config.Scheduler.PollInterval)

	state := f.waitForState(t, loaded(3), "polled push")
	require.Equal(t, 3, state.JobCount)
	require.Equal(t, int64(1), state.SchedulerStats.Ticks)
}

// TestSession_FetchNextPushes verifies load-more extends the range without a reload.
func TestSession_FetchNextPushes(t *testing.T) {
	config := testConfig()
	config.Repository.DefaultCount = 2
	f := newFixture(t, "repo=try", config)
	seedBackend(f.backend, "try", 5, model.ResultSuccess)
	f.start(t)
	f.waitForState(t, loaded(2), "initial load")

	require.NoError(t, f.session.FetchNextPushes(context.Background(), 2))

	state := f.state(t)
	require.Equal(t, 4, state.PushCount)
	require.Equal(t, uint64(0), state.Generation)
	require.Equal(t, "try-rev2", f.loc.Get(urlparams.ParamFromChange))
}

// TestSession_FetchFailureNotifies verifies a failed load reaches subscribers as an event.
func TestSession_FetchFailureNotifies(t *testing.T) {
	f := newFixture(t, "repo=try", testConfig())
	f.backend.FailPath("/push/", http.StatusInternalServerError)
	events, unsubscribe := f.session.Subscribe(16)
	defer unsubscribe()
	f.start(t)

	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Type != EventNotification {
				continue
			}
			require.Equal(t, pushes.MsgFetchPushesFailed, e.Notification.Message)
			require.Equal(t, notify.SeverityDanger, e.Notification.Severity)
			return
		case <-timeout:
			t.Fatal("no notification event received")
		}
	}
}

// =============================================================================
// Selection Tests
// =============================================================================

// TestSession_SelectionResolvesAfterLoad verifies a legacy job id is resolved and rewritten.
func TestSession_SelectionResolvesAfterLoad(t *testing.T) {
	f := newFixture(t, "repo=try&selectedJob=20", testConfig())
	seedBackend(f.backend, "try", 3, model.ResultSuccess)
	f.start(t)

	state := f.waitForState(t, func(s State) bool {
		return s.Selection.State == "resolved_local"
	}, "selection resolved")
	require.Equal(t, 20, state.Selection.Job.ID)

	testutil.WaitFor(t, func() bool {
		return f.loc.Get(urlparams.ParamSelectedTaskRun) == "task20.0"
	}, time.Second, "token rewritten")
	require.Empty(t, f.loc.Get(urlparams.ParamSelectedJob))
}

// TestSession_TaskRunResolvesOnFirstPage verifies a token is held, not cleared, while the first page loads.
func TestSession_TaskRunResolvesOnFirstPage(t *testing.T) {
	f := newFixture(t, "repo=try&selectedTaskRun=task20.0", testConfig())
	seedBackend(f.backend, "try", 3, model.ResultSuccess)

	// a location change while the first page is in flight kicks the selection early
	var once sync.Once
	f.backend.BeforeRequest(func(r *http.Request) {
		if strings.Contains(r.URL.Path, "/push/") {
			once.Do(func() {
				f.loc.SetParam("unrelated", "1")
				time.Sleep(50 * time.Millisecond)
			})
		}
	})
	f.start(t)

	state := f.waitForState(t, func(s State) bool {
		return s.Selection.State == "resolved_local"
	}, "selection resolved")
	require.Equal(t, 20, state.Selection.Job.ID)
	require.Equal(t, "task20.0", f.loc.Get(urlparams.ParamSelectedTaskRun))
	require.Empty(t, f.center.List())
	require.Len(t, f.logger.Find("job selected", "job_id", 20, "task_run", "task20.0"), 1)

	for _, req := range f.backend.RequestsTo("/jobs/") {
		require.Empty(t, req.Query().Get("task_id"), "no remote lookup expected")
	}
}

// TestSession_DeepLinkIntoUnloadedRevision verifies a "Load push" link keeps its selection across the reload.
func TestSession_DeepLinkIntoUnloadedRevision(t *testing.T) {
	config := testConfig()
	config.Repository.DefaultCount = 2
	f := newFixture(t, "repo=try", config)
	seedBackend(f.backend, "try", 5, model.ResultSuccess)
	f.start(t)
	f.waitForState(t, loaded(2), "initial load")

	require.NoError(t, f.session.Navigate(context.Background(), "repo=try&revision=try-rev1&selectedTaskRun=task10.0"))

	state := f.waitForState(t, func(s State) bool {
		return s.Selection.State == "resolved_local"
	}, "selection resolved in new revision")
	require.Equal(t, 10, state.Selection.Job.ID)
	require.Equal(t, "try-rev1", f.session.Pushes()[0].Revision)
	require.Equal(t, "task10.0", f.loc.Get(urlparams.ParamSelectedTaskRun))
	require.Empty(t, f.center.List())
	require.Empty(t, f.logger.Find("selection outside single revision cleared"))
}

// TestSession_OutsideRangeLinkLoadsPush verifies the "Load push" link of an unloaded job selects it when followed.
func TestSession_OutsideRangeLinkLoadsPush(t *testing.T) {
	config := testConfig()
	config.Repository.DefaultCount = 2
	f := newFixture(t, "repo=try", config)
	seedBackend(f.backend, "try", 5, model.ResultSuccess)
	f.start(t)
	f.waitForState(t, loaded(2), "initial load")

	require.NoError(t, f.session.SelectJob(context.Background(), 10))

	var link string
	testutil.WaitFor(t, func() bool {
		notes := f.center.List()
		if len(notes) == 0 {
			return false
		}
		link = notes[0].URL
		return true
	}, 2*time.Second, "outside range notification")
	require.Equal(t, "https://th.example/jobs?repo=try&revision=try-rev1&selectedTaskRun=task10.0", link)
	require.Len(t, f.backend.RequestsTo("/push/1/"), 1)
	require.Empty(t, f.loc.Get(urlparams.ParamSelectedJob))

	u, err := url.Parse(link)
	require.NoError(t, err)
	require.NoError(t, f.session.Navigate(context.Background(), u.RawQuery))

	state := f.waitForState(t, func(s State) bool {
		return s.Selection.State == "resolved_local"
	}, "selection resolved after following the link")
	require.Equal(t, 10, state.Selection.Job.ID)
}

// TestSession_ChangeJob verifies navigation selects the first visible job after the debounce.
func TestSession_ChangeJob(t *testing.T) {
	config := testConfig()
	f := newFixture(t, "repo=try", config)
	seedBackend(f.backend, "try", 3, model.ResultSuccess)
	f.start(t)
	f.waitForState(t, loaded(3), "initial load")

	result, err := f.session.ChangeJob(context.Background(), selection.Next, false)
	require.NoError(t, err)
	require.True(t, result.Selected)
	require.Equal(t, 30, result.Job.ID)
	require.Empty(t, f.loc.Get(urlparams.ParamSelectedTaskRun))

	f.clock.Increment(config.Selection.Debounce)

	f.waitForState(t, func(s State) bool {
		return s.Selection.Job != nil && s.Selection.Job.ID == 30
	}, "navigation resolved")
	require.Equal(t, "task30.0", f.loc.Get(urlparams.ParamSelectedTaskRun))
}

// TestSession_SelectAndClear verifies explicit selection writes go through the loop.
func TestSession_SelectAndClear(t *testing.T) {
	f := newFixture(t, "repo=try", testConfig())
	seedBackend(f.backend, "try", 2, model.ResultSuccess)
	f.start(t)
	f.waitForState(t, loaded(2), "initial load")

	require.NoError(t, f.session.SelectJob(context.Background(), 10))
	require.Equal(t, "task10.0", f.loc.Get(urlparams.ParamSelectedTaskRun))
	f.waitForState(t, func(s State) bool { return s.Selection.State == "resolved_local" }, "selected")

	require.NoError(t, f.session.ClearSelection(context.Background()))
	require.Empty(t, f.loc.Get(urlparams.ParamSelectedTaskRun))
	f.waitForState(t, func(s State) bool { return s.Selection.State == "unselected" }, "cleared")
}

// =============================================================================
// Filter Tests
// =============================================================================

// TestSession_FilterChangeRecomputesCounts verifies counts follow filter edits.
func TestSession_FilterChangeRecomputesCounts(t *testing.T) {
	f := newFixture(t, "repo=try", testConfig())
	f.backend.AddPushes("try", testutil.MakePush(1, "rev1", 100))
	f.backend.AddJobs("try",
		testutil.MakeJob(10, 1, model.ResultSuccess, baseTime),
		testutil.MakeJob(20, 1, model.ResultTestFailed, baseTime),
		testutil.MakeJob(30, 1, model.ResultBusted, baseTime),
	)
	f.start(t)

	f.waitForState(t, func(s State) bool {
		return s.Counts == unclassified.Counts{All: 2, Filtered: 2}
	}, "initial counts")

	require.NoError(t, f.session.ApplyFilter(context.Background(), FilterAdd, "job_type_symbol", "j20"))

	state := f.waitForState(t, func(s State) bool {
		return s.Counts == unclassified.Counts{All: 2, Filtered: 1}
	}, "filtered counts")
	require.Equal(t, []string{"j20"}, state.Filters["job_type_symbol"])

	shown := f.session.Jobs(1, true)
	require.Len(t, shown, 1)
	require.Equal(t, 20, shown[0].ID)
	require.Len(t, f.session.Jobs(1, false), 3)
}

// TestSession_ApplyFilterErrors verifies invalid operations are reported to the caller.
func TestSession_ApplyFilterErrors(t *testing.T) {
	f := newFixture(t, "repo=try", testConfig())
	f.start(t)

	err := f.session.ApplyFilter(context.Background(), FilterAdd, "not_a_field", "x")
	require.True(t, errors.Is(err, filter.ErrUnknownField))

	err = f.session.ApplyFilter(context.Background(), FilterAdd, "platform")
	require.ErrorIs(t, err, ErrInvalidFilterArgs)

	err = f.session.ApplyFilter(context.Background(), FilterOp("explode"), "")
	require.True(t, errors.Is(err, ErrUnknownFilterOp))
}

// TestParseFilterOp verifies operation names are validated.
func TestParseFilterOp(t *testing.T) {
	op, err := ParseFilterOp("toggleInProgress")
	require.NoError(t, err)
	require.Equal(t, FilterToggleInProgress, op)

	_, err = ParseFilterOp("drop_tables")
	require.ErrorIs(t, err, ErrUnknownFilterOp)
}

// =============================================================================
// Cache Tests
// =============================================================================

// TestSession_WarmStart verifies cached pushes seed the session and fetched records are written back.
func TestSession_WarmStart(t *testing.T) {
	database, err := db.OpenWithConfig(db.Config{DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	cached := []model.Push{
		testutil.MakePush(1, "try-rev1", 100),
		testutil.MakePush(2, "try-rev2", 200),
	}
	cachedJobs := []model.Job{
		testutil.MakeJob(10, 1, model.ResultSuccess, baseTime),
		testutil.MakeJob(20, 2, model.ResultSuccess, baseTime),
	}
	require.NoError(t, database.StoreRecords("try", cached, cachedJobs))

	config := testConfig()
	config.WarmStart = true
	config.RetainPushes = 10

	logger := testutil.NewTestLogger().Logger()
	writer, err := syncer.NewSyncer(syncer.DefaultConfig(), fakeclock.NewFakeClock(baseTime), logger)
	require.NoError(t, err)
	writer.Start(database)

	f := newFixture(t, "repo=try", config, WithCache(database, writer))
	seedBackend(f.backend, "try", 3, model.ResultSuccess)
	f.start(t)

	f.waitForState(t, loaded(3), "warm start and poll")

	pushRequests := f.backend.RequestsTo("/push/")
	require.NotEmpty(t, pushRequests)
	require.Equal(t, "try-rev2", pushRequests[0].Query().Get(urlparams.ParamFromChange))

	f.stop()
	count, err := database.CountPushes("try")
	require.NoError(t, err)
	require.Equal(t, 3, count)
}

// TestSession_WarmStartSkippedForExplicitRange verifies a URL range always fetches from the backend.
func TestSession_WarmStartSkippedForExplicitRange(t *testing.T) {
	database, err := db.OpenWithConfig(db.Config{DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.StoreRecords("try", []model.Push{testutil.MakePush(1, "try-rev1", 100)}, nil))

	config := testConfig()
	config.WarmStart = true
	f := newFixture(t, "repo=try&revision=try-rev3", config, WithCache(database, nil))
	seedBackend(f.backend, "try", 3, model.ResultSuccess)
	f.start(t)

	f.waitForState(t, loaded(1), "revision loaded")
	require.Equal(t, "try-rev3", f.session.Pushes()[0].Revision)
}

// =============================================================================
// Shutdown Tests
// =============================================================================

// TestSession_ShutdownMessage verifies the loop exits and later requests fail.
func TestSession_ShutdownMessage(t *testing.T) {
	f := newFixture(t, "repo=try", testConfig())
	go f.session.Run(context.Background())

	f.session.request(context.Background(), MsgShutdown, nil)

	select {
	case <-f.session.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}

	err := f.session.Navigate(context.Background(), "repo=autoland")
	require.ErrorIs(t, err, ErrStopped)
	require.Error(t, f.session.Run(context.Background()))
}

// TestSession_ContextCancelStops verifies cancelling the run context stops the session.
func TestSession_ContextCancelStops(t *testing.T) {
	f := newFixture(t, "repo=try", testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	go f.session.Run(ctx)

	cancel()
	select {
	case <-f.session.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
}

// =============================================================================
// Event Tests
// =============================================================================

// TestBroadcaster_SlowSubscriber verifies a full subscriber misses events without blocking.
func TestBroadcaster_SlowSubscriber(t *testing.T) {
	b := newBroadcaster()
	fast, unsubscribeFast := b.subscribe(4)
	defer unsubscribeFast()
	_, unsubscribeSlow := b.subscribe(1)
	defer unsubscribeSlow()

	require.Equal(t, 0, b.publish(Event{Type: EventState}))
	require.Equal(t, 1, b.publish(Event{Type: EventState}))
	require.Len(t, fast, 2)

	unsubscribeSlow()
	require.Equal(t, 0, b.publish(Event{Type: EventState}))
}
