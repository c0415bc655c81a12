package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Server serves one handler until its context is cancelled
type Server struct {
	name            string
	server          *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// NewServer creates a server for handler on address:port
func NewServer(name, address string, port int, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		name: name,
		server: &http.Server{
			Addr:              net.JoinHostPort(address, fmt.Sprintf("%d", port)),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdownTimeout: 5 * time.Second,
		logger:          logger,
	}
}

// Addr is the listen address
func (s *Server) Addr() string {
	return s.server.Addr
}

// Run listens until ctx is done, then shuts the server down gracefully
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen for %s on %s: %w", s.name, s.server.Addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is done
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	// event streams end with the request context
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "server", s.name, "address", listener.Addr().String())
		errCh <- s.server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s server failed: %w", s.name, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down server", "server", s.name)
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.server.Close()
		return fmt.Errorf("%s server shutdown: %w", s.name, err)
	}
	return nil
}
