// Package api exposes a running session to a rendering layer over HTTP
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tedsuo/rata"

	"github.com/livinlefevreloca/treeherd/internal/filter"
	"github.com/livinlefevreloca/treeherd/internal/model"
	"github.com/livinlefevreloca/treeherd/internal/notify"
	"github.com/livinlefevreloca/treeherd/internal/selection"
	"github.com/livinlefevreloca/treeherd/internal/session"
)

// Session is the session surface served over HTTP
type Session interface {
	State(ctx context.Context) (session.State, error)
	Navigate(ctx context.Context, query string) error
	ApplyFilter(ctx context.Context, op session.FilterOp, field string, values ...string) error
	SelectJob(ctx context.Context, id int) error
	ClearSelection(ctx context.Context) error
	ChangeJob(ctx context.Context, direction selection.Direction, unclassifiedOnly bool) (session.ChangeJobResponse, error)
	FetchNextPushes(ctx context.Context, count int) error

	Pushes() []model.Push
	Push(id int) (model.Push, bool)
	Jobs(pushID int, visibleOnly bool) []model.Job
	DecisionTasks() map[int]model.DecisionTask
	Notifications() *notify.Center
	Subscribe(buffer int) (<-chan session.Event, func())
}

// Config holds the handler settings
type Config struct {
	// RequestTimeout bounds requests into the session loop
	RequestTimeout time.Duration

	// EventBuffer is the per-stream event buffer
	EventBuffer int
}

// DefaultConfig returns the default handler settings
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 30 * time.Second,
		EventBuffer:    64,
	}
}

// BugSummaries serves prefetched bug summaries
type BugSummaries interface {
	Summary(id int) (string, bool)
}

// Option configures optional handler collaborators
type Option func(*server)

// WithBugSummaries serves GET /api/bugs/:bug_id from b
func WithBugSummaries(b BugSummaries) Option {
	return func(s *server) { s.bugs = b }
}

type server struct {
	session Session
	bugs    BugSummaries
	config  Config
	logger  *slog.Logger
}

// NewHandler returns the router for every API route
func NewHandler(s Session, config Config, logger *slog.Logger, opts ...Option) (http.Handler, error) {
	srv := &server{session: s, config: config, logger: logger}
	for _, opt := range opts {
		opt(srv)
	}

	handlers := rata.Handlers{
		GetState:           http.HandlerFunc(srv.getState),
		ListPushes:         http.HandlerFunc(srv.listPushes),
		GetPush:            http.HandlerFunc(srv.getPush),
		ListPushJobs:       http.HandlerFunc(srv.listPushJobs),
		FetchNextPushes:    http.HandlerFunc(srv.fetchNextPushes),
		ListDecisionTasks:  http.HandlerFunc(srv.listDecisionTasks),
		GetBug:             http.HandlerFunc(srv.getBug),
		ListNotifications:  http.HandlerFunc(srv.listNotifications),
		ClearNotification:  http.HandlerFunc(srv.clearNotification),
		ClearNotifications: http.HandlerFunc(srv.clearNotifications),
		Navigate:           http.HandlerFunc(srv.navigate),
		ApplyFilter:        http.HandlerFunc(srv.applyFilter),
		ChangeSelection:    http.HandlerFunc(srv.changeSelection),
		StreamEvents:       http.HandlerFunc(srv.streamEvents),
	}

	router, err := rata.NewRouter(Routes, handlers)
	if err != nil {
		return nil, err
	}
	return srv.logRequests(router), nil
}

// =============================================================================
// State and pushes
// =============================================================================

func (s *server) getState(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	state, err := s.session.State(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *server) listPushes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Pushes())
}

func (s *server) getPush(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(w, r, ":push_id")
	if !ok {
		return
	}
	push, found := s.session.Push(id)
	if !found {
		writeMessage(w, http.StatusNotFound, "push not loaded")
		return
	}
	writeJSON(w, http.StatusOK, push)
}

func (s *server) listPushJobs(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(w, r, ":push_id")
	if !ok {
		return
	}
	if _, found := s.session.Push(id); !found {
		writeMessage(w, http.StatusNotFound, "push not loaded")
		return
	}

	visibleOnly := false
	if raw := r.URL.Query().Get("visible"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "visible must be a boolean")
			return
		}
		visibleOnly = v
	}
	writeJSON(w, http.StatusOK, s.session.Jobs(id, visibleOnly))
}

func (s *server) fetchNextPushes(w http.ResponseWriter, r *http.Request) {
	count := 0
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeMessage(w, http.StatusBadRequest, "count must be a positive integer")
			return
		}
		count = n
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	if err := s.session.FetchNextPushes(ctx, count); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) listDecisionTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.session.DecisionTasks()
	out := make(map[string]model.DecisionTask, len(tasks))
	for pushID, task := range tasks {
		out[strconv.Itoa(pushID)] = task
	}
	writeJSON(w, http.StatusOK, out)
}

// BugResponse is a prefetched bug summary
type BugResponse struct {
	ID      int    `json:"id"`
	Summary string `json:"summary"`
}

func (s *server) getBug(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(w, r, ":bug_id")
	if !ok {
		return
	}
	if s.bugs == nil {
		writeMessage(w, http.StatusNotFound, "bug summaries are disabled")
		return
	}
	summary, found := s.bugs.Summary(id)
	if !found {
		writeMessage(w, http.StatusNotFound, "bug not prefetched")
		return
	}
	writeJSON(w, http.StatusOK, BugResponse{ID: id, Summary: summary})
}

// =============================================================================
// Notifications
// =============================================================================

func (s *server) listNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Notifications().List())
}

func (s *server) clearNotification(w http.ResponseWriter, r *http.Request) {
	if !s.session.Notifications().Clear(r.FormValue(":notification_id")) {
		writeMessage(w, http.StatusNotFound, "no such notification")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) clearNotifications(w http.ResponseWriter, r *http.Request) {
	s.session.Notifications().ClearAll()
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Location edits
// =============================================================================

// NavigateRequest replaces the dashboard query
type NavigateRequest struct {
	Query string `json:"query"`
}

func (s *server) navigate(w http.ResponseWriter, r *http.Request) {
	var req NavigateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	if err := s.session.Navigate(ctx, req.Query); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FilterRequest is the body of a filter operation
type FilterRequest struct {
	Field  string   `json:"field"`
	Values []string `json:"values"`
}

func (s *server) applyFilter(w http.ResponseWriter, r *http.Request) {
	op, err := session.ParseFilterOp(r.FormValue(":op"))
	if err != nil {
		writeMessage(w, http.StatusNotFound, err.Error())
		return
	}

	var req FilterRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	if err := s.session.ApplyFilter(ctx, op, req.Field, req.Values...); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SelectionRequest selects, clears or moves the selection
type SelectionRequest struct {
	Action           string `json:"action"` // select, clear, next or previous
	JobID            int    `json:"job_id,omitempty"`
	UnclassifiedOnly bool   `json:"unclassified_only,omitempty"`
}

// SelectionResponse is returned for next and previous
type SelectionResponse struct {
	Selected bool       `json:"selected"`
	Job      *model.Job `json:"job,omitempty"`
}

func (s *server) changeSelection(w http.ResponseWriter, r *http.Request) {
	var req SelectionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	switch req.Action {
	case "select":
		if req.JobID <= 0 {
			writeMessage(w, http.StatusBadRequest, "job_id is required")
			return
		}
		if err := s.session.SelectJob(ctx, req.JobID); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case "clear":
		if err := s.session.ClearSelection(ctx); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case "next", "previous":
		direction, _ := selection.ParseDirection(req.Action)
		result, err := s.session.ChangeJob(ctx, direction, req.UnclassifiedOnly)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp := SelectionResponse{Selected: result.Selected}
		if result.Selected {
			resp.Job = &result.Job
		}
		writeJSON(w, http.StatusOK, resp)

	default:
		writeMessage(w, http.StatusBadRequest, "unknown action "+strconv.Quote(req.Action))
	}
}

// =============================================================================
// Helpers
// =============================================================================

func (s *server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.config.RequestTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), s.config.RequestTimeout)
}

// writeError maps session and validation errors onto status codes
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		// client went away
		return
	case errors.Is(err, filter.ErrUnknownField),
		errors.Is(err, session.ErrUnknownFilterOp),
		errors.Is(err, session.ErrInvalidFilterArgs):
		status = http.StatusBadRequest
	}

	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeMessage(w, status, err.Error())
}

func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	id, err := strconv.Atoi(r.FormValue(name))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, name[1:]+" must be an integer")
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusRecorder captures the status written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush lets the event stream flush through the recorder
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("handled request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
