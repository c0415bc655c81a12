package api

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/treeherd/internal/testutil"
)

// TestServer_ServeUntilCancelled verifies the server answers and stops cleanly.
func TestServer_ServeUntilCancelled(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	srv := NewServer("test", "127.0.0.1", 0, handler, testutil.NewTestLogger().Logger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, listener) }()

	resp, err := http.Get("http://" + listener.Addr().String() + "/")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusTeapot, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

// TestServer_RunListenError verifies a bad address is reported.
func TestServer_RunListenError(t *testing.T) {
	srv := NewServer("test", "256.0.0.1", 1, http.NotFoundHandler(), testutil.NewTestLogger().Logger())
	err := srv.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to listen")
}
