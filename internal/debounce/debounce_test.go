package debounce

import (
	"sync"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/treeherd/internal/testutil"
)

const delay = 200 * time.Millisecond

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) record(v string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, v)
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func newTestDebouncer() (*Debouncer, *fakeclock.FakeClock) {
	clk := fakeclock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(delay, clk, testutil.NewTestLogger().Logger()), clk
}

// TestFunc_CoalescesBurst verifies only the last value of a burst is delivered.
func TestFunc_CoalescesBurst(t *testing.T) {
	d, clk := newTestDebouncer()
	defer d.Stop()
	rec := &recorder{}
	write := Func(d, "nextJob", rec.record)

	write("a")
	write("b")
	write("c")

	clk.WaitForWatcherAndIncrement(delay)
	testutil.WaitFor(t, func() bool { return len(rec.get()) == 1 }, time.Second, "debounced call")
	require.Equal(t, []string{"c"}, rec.get())
	require.False(t, d.Pending("nextJob"))
}

// TestCall_WaitsForDelay verifies nothing runs before the delay elapses.
func TestCall_WaitsForDelay(t *testing.T) {
	d, clk := newTestDebouncer()
	defer d.Stop()
	rec := &recorder{}

	d.Call("nextJob", func() { rec.record("x") })
	clk.WaitForWatcherAndIncrement(delay / 2)

	require.Empty(t, rec.get())
	require.True(t, d.Pending("nextJob"))
}

// TestCall_KeysAreIndependent verifies one key never delays another.
func TestCall_KeysAreIndependent(t *testing.T) {
	d, clk := newTestDebouncer()
	defer d.Stop()
	rec := &recorder{}

	d.Call("nextJob", func() { rec.record("job") })
	d.Call("filters", func() { rec.record("filters") })

	clk.WaitForNWatchersAndIncrement(delay, 2)
	testutil.WaitFor(t, func() bool { return len(rec.get()) == 2 }, time.Second, "both keys")
	require.ElementsMatch(t, []string{"job", "filters"}, rec.get())
}

// TestFlushAndCancel verifies pending calls can be run early or dropped.
func TestFlushAndCancel(t *testing.T) {
	d, _ := newTestDebouncer()
	defer d.Stop()
	rec := &recorder{}

	d.Call("nextJob", func() { rec.record("flushed") })
	require.True(t, d.Flush("nextJob"))
	require.False(t, d.Flush("nextJob"))
	require.Equal(t, []string{"flushed"}, rec.get())

	d.Call("nextJob", func() { rec.record("cancelled") })
	require.True(t, d.Cancel("nextJob"))
	require.False(t, d.Cancel("nextJob"))
	require.Equal(t, []string{"flushed"}, rec.get())
}

// TestStop_DropsPending verifies Stop cancels everything.
func TestStop_DropsPending(t *testing.T) {
	d, clk := newTestDebouncer()
	rec := &recorder{}

	d.Call("nextJob", func() { rec.record("x") })
	d.Stop()
	clk.Increment(delay)

	require.Empty(t, rec.get())
	require.False(t, d.Pending("nextJob"))
}
