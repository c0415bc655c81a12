package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/treeherd/internal/config"
	"github.com/livinlefevreloca/treeherd/internal/model"
	"github.com/livinlefevreloca/treeherd/internal/testutil"
)

// =============================================================================
// Logger Tests
// =============================================================================

// TestNewLogger verifies level and format handling.
func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept", "push_id", 7)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "kept", entry["msg"])
	require.EqualValues(t, 7, entry["push_id"])
}

// TestNewLogger_Invalid verifies bad settings are rejected.
func TestNewLogger_Invalid(t *testing.T) {
	_, err := newLogger(config.LoggingConfig{Level: "loud", Format: "text"}, &bytes.Buffer{})
	require.Error(t, err)

	_, err = newLogger(config.LoggingConfig{Level: "info", Format: "xml"}, &bytes.Buffer{})
	require.Error(t, err)
}

// =============================================================================
// Serve Tests
// =============================================================================

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// TestServe_EndToEnd verifies a session is served over HTTP against a backend.
func TestServe_EndToEnd(t *testing.T) {
	backend := testutil.NewFakeBackend(t)
	backend.AddPushes("try", testutil.MakePush(1, "rev1", 100))
	backend.AddJobs("try", testutil.MakeJob(10, 1, model.ResultTestFailed, time.Now()))
	backend.AddBug(1001, "Intermittent crash in foo")

	cfg := config.DefaultConfig()
	cfg.Backend.URL = backend.URL()
	cfg.Backend.BugTrackerURL = backend.URL()
	cfg.HTTP.Port = freePort(t)
	cfg.Metrics.Enabled = false
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- serve(ctx, cfg, "repo=try", testutil.NewTestLogger().Logger())
	}()

	stateURL := fmt.Sprintf("http://127.0.0.1:%d/api/state", cfg.HTTP.Port)
	var state map[string]any
	testutil.WaitFor(t, func() bool {
		resp, err := http.Get(stateURL)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		state = nil
		if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
			return false
		}
		return state["jobs_loaded"] == true && state["push_count"] == float64(1)
	}, 5*time.Second, "session served over http")

	require.Equal(t, "try", state["repo"])

	bugURL := fmt.Sprintf("http://127.0.0.1:%d/api/bugs/1001", cfg.HTTP.Port)
	testutil.WaitFor(t, func() bool {
		resp, err := http.Get(bugURL)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, "bug summary prefetched")

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
	}
}
