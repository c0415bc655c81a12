package db

import (
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/treeherd/internal/model"
	"github.com/livinlefevreloca/treeherd/internal/testutil"
)

// Test Fixtures and Helpers

// NewTestDB creates a migrated in-memory SQLite database for testing
func NewTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := OpenWithConfig(Config{DSN: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

var baseTime = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

// =============================================================================
// Migration Tests
// =============================================================================

// TestMigrate_AppliesEmbeddedMigrations verifies both tables are created once.
func TestMigrate_AppliesEmbeddedMigrations(t *testing.T) {
	db := NewTestDB(t)

	versions, err := db.AppliedMigrations()
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, versions)

	// running again is a no-op
	require.NoError(t, db.Migrate())
	versions, err = db.AppliedMigrations()
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, versions)
}

// TestParseMigration_Dependencies verifies directives after the Up marker are read.
func TestParseMigration_Dependencies(t *testing.T) {
	content := "-- +migrate Up\n-- +migrate Depends: 001 002\n-- a comment\nCREATE TABLE t (id INTEGER);\n"

	m, err := ParseMigration("003_add_t.sql", content)
	require.NoError(t, err)
	require.Equal(t, 3, m.Version)
	require.Equal(t, "add_t", m.Name)
	require.Equal(t, []int{1, 2}, m.Dependencies)
	require.Equal(t, "CREATE TABLE t (id INTEGER);", m.UpSQL)
}

// TestParseMigration_Invalid verifies malformed files are rejected.
func TestParseMigration_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  string
	}{
		{"bad filename", "1_x.sql", "-- +migrate Up\nSELECT 1;"},
		{"missing marker", "001_x.sql", "SELECT 1;"},
		{"no sql", "001_x.sql", "-- +migrate Up\n"},
		{"bad dependency", "002_x.sql", "-- +migrate Up\n-- +migrate Depends: one\nSELECT 1;"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMigration(tt.filename, tt.content)
			require.Error(t, err)
		})
	}
}

// TestLoadMigrations_Gap verifies version gaps are rejected.
func TestLoadMigrations_Gap(t *testing.T) {
	fsys := fstest.MapFS{
		"m/001_a.sql": {Data: []byte("-- +migrate Up\nSELECT 1;")},
		"m/003_c.sql": {Data: []byte("-- +migrate Up\nSELECT 1;")},
	}

	_, err := LoadMigrations(fsys, "m")
	require.ErrorContains(t, err, "gap in migration versions")
}

// TestLoadMigrations_MissingDependency verifies unknown dependencies are rejected.
func TestLoadMigrations_MissingDependency(t *testing.T) {
	fsys := fstest.MapFS{
		"m/001_a.sql": {Data: []byte("-- +migrate Up\n-- +migrate Depends: 007\nSELECT 1;")},
	}

	_, err := LoadMigrations(fsys, "m")
	require.ErrorContains(t, err, "non-existent version 7")
}

// =============================================================================
// Cache Tests
// =============================================================================

// TestStoreRecords_RoundTrip verifies pushes and jobs are read back intact.
func TestStoreRecords_RoundTrip(t *testing.T) {
	db := NewTestDB(t)

	pushes := []model.Push{
		testutil.MakePush(1, "rev1", 100),
		testutil.MakePush(2, "rev2", 200),
		testutil.MakePush(3, "rev3", 300),
	}
	jobs := []model.Job{
		testutil.MakeJob(11, 1, model.ResultSuccess, baseTime),
		testutil.MakeJob(12, 2, model.ResultTestFailed, baseTime),
		testutil.MakeJob(13, 3, model.ResultBusted, baseTime),
	}
	require.NoError(t, db.StoreRecords("autoland", pushes, jobs))

	recent, err := db.RecentPushes("autoland", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, pushes[2], recent[0])
	require.Equal(t, pushes[1], recent[1])

	cached, err := db.JobsForPushes("autoland", []int{2, 3})
	require.NoError(t, err)
	require.Len(t, cached, 2)
	require.Equal(t, 12, cached[0].ID)
	require.Equal(t, model.ResultTestFailed, cached[0].Result)
	require.True(t, cached[0].LastModified.Equal(baseTime))
}

// TestStoreRecords_ReposAreSeparate verifies one repo never sees another's rows.
func TestStoreRecords_ReposAreSeparate(t *testing.T) {
	db := NewTestDB(t)

	require.NoError(t, db.StoreRecords("autoland", []model.Push{testutil.MakePush(1, "a", 100)}, nil))
	require.NoError(t, db.StoreRecords("try", []model.Push{testutil.MakePush(1, "b", 100)}, nil))

	recent, err := db.RecentPushes("try", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "b", recent[0].Revision)
}

// TestStoreRecords_JobLastWriteWins verifies an older job record never replaces a newer one.
func TestStoreRecords_JobLastWriteWins(t *testing.T) {
	db := NewTestDB(t)

	newer := testutil.MakeJob(1, 1, model.ResultTestFailed, baseTime.Add(time.Minute))
	older := testutil.MakeJob(1, 1, model.ResultRunning, baseTime)

	require.NoError(t, db.StoreRecords("autoland", nil, []model.Job{newer}))
	require.NoError(t, db.StoreRecords("autoland", nil, []model.Job{older}))

	cached, err := db.JobsForPushes("autoland", []int{1})
	require.NoError(t, err)
	require.Len(t, cached, 1)
	require.Equal(t, model.ResultTestFailed, cached[0].Result)

	newest := testutil.MakeJob(1, 1, model.ResultSuccess, baseTime.Add(2*time.Minute))
	require.NoError(t, db.StoreRecords("autoland", nil, []model.Job{newest}))
	cached, err = db.JobsForPushes("autoland", []int{1})
	require.NoError(t, err)
	require.Equal(t, model.ResultSuccess, cached[0].Result)
}

// TestStoreRecords_PushInsertedOnce verifies storing a push again is a no-op.
func TestStoreRecords_PushInsertedOnce(t *testing.T) {
	db := NewTestDB(t)
	push := testutil.MakePush(1, "rev1", 100)

	require.NoError(t, db.StoreRecords("autoland", []model.Push{push}, nil))
	require.NoError(t, db.StoreRecords("autoland", []model.Push{push}, nil))

	count, err := db.CountPushes("autoland")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

// TestStoreRecords_VisibilityNotStored verifies the derived flag is not cached.
func TestStoreRecords_VisibilityNotStored(t *testing.T) {
	db := NewTestDB(t)
	job := testutil.MakeJob(1, 1, model.ResultSuccess, baseTime)
	job.Visible = true

	require.NoError(t, db.StoreRecords("autoland", nil, []model.Job{job}))
	cached, err := db.JobsForPushes("autoland", []int{1})
	require.NoError(t, err)
	require.False(t, cached[0].Visible)
}

// TestPrunePushes verifies only the newest pushes and their jobs are kept.
func TestPrunePushes(t *testing.T) {
	db := NewTestDB(t)

	var pushes []model.Push
	var jobs []model.Job
	for i := 1; i <= 5; i++ {
		pushes = append(pushes, testutil.MakePush(i, "rev", int64(i*100)))
		jobs = append(jobs, testutil.MakeJob(100+i, i, model.ResultSuccess, baseTime))
	}
	require.NoError(t, db.StoreRecords("autoland", pushes, jobs))

	removed, err := db.PrunePushes("autoland", 2)
	require.NoError(t, err)
	require.Equal(t, int64(3), removed)

	recent, err := db.RecentPushes("autoland", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, 5, recent[0].ID)

	cached, err := db.JobsForPushes("autoland", []int{1, 2, 3, 4, 5})
	require.NoError(t, err)
	require.Len(t, cached, 2)
}

// TestIsDuplicate verifies constraint errors are classified.
func TestIsDuplicate(t *testing.T) {
	db := NewTestDB(t)

	_, err := db.Exec("INSERT INTO schema_migrations (version) VALUES (1)")
	require.True(t, IsDuplicate(err))
	require.False(t, IsDuplicate(nil))
}
