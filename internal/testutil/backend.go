package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/livinlefevreloca/treeherd/internal/model"
)

// FakeBackend serves the push, job and bug endpoints from memory
type FakeBackend struct {
	Server *httptest.Server

	mu        sync.Mutex
	pushes    map[string][]model.Push
	jobs      map[string][]model.Job
	bugs      map[int]string
	failures  map[string]int
	requests  []*url.URL
	pageSize  int
	beforeReq func(r *http.Request)
}

// NewFakeBackend starts a backend; it is closed by t.Cleanup
func NewFakeBackend(t interface{ Cleanup(func()) }) *FakeBackend {
	b := &FakeBackend{
		pushes:   make(map[string][]model.Push),
		jobs:     make(map[string][]model.Job),
		bugs:     make(map[int]string),
		failures: make(map[string]int),
		pageSize: 0,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/project/{repo}/push/{$}", b.handlePushes)
	mux.HandleFunc("GET /api/project/{repo}/push/{id}/{$}", b.handlePush)
	mux.HandleFunc("GET /api/project/{repo}/jobs/{$}", b.handleJobs)
	mux.HandleFunc("GET /api/project/{repo}/jobs/{id}/{$}", b.handleJob)
	mux.HandleFunc("GET /rest/bug", b.handleBugs)

	b.Server = httptest.NewServer(b.intercept(mux))
	t.Cleanup(b.Server.Close)
	return b
}

// URL returns the base URL of the backend
func (b *FakeBackend) URL() string {
	return b.Server.URL
}

// AddPushes stores pushes for repo
func (b *FakeBackend) AddPushes(repo string, pushes ...model.Push) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pushes[repo] = append(b.pushes[repo], pushes...)
}

// AddJobs stores or replaces jobs for repo, keyed by id
func (b *FakeBackend) AddJobs(repo string, jobs ...model.Job) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, job := range jobs {
		replaced := false
		for i := range b.jobs[repo] {
			if b.jobs[repo][i].ID == job.ID {
				b.jobs[repo][i] = job
				replaced = true
				break
			}
		}
		if !replaced {
			b.jobs[repo] = append(b.jobs[repo], job)
		}
	}
}

// AddBug stores a bug summary
func (b *FakeBackend) AddBug(id int, summary string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bugs[id] = summary
}

// SetJobPageSize forces job responses to be split into pages of n
func (b *FakeBackend) SetJobPageSize(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pageSize = n
}

// FailPath makes requests whose path contains fragment return status.
// A status of zero clears the failure.
func (b *FakeBackend) FailPath(fragment string, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if status == 0 {
		delete(b.failures, fragment)
		return
	}
	b.failures[fragment] = status
}

// BeforeRequest installs a hook run before every request is served
func (b *FakeBackend) BeforeRequest(fn func(r *http.Request)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.beforeReq = fn
}

// Requests returns the URLs requested so far
func (b *FakeBackend) Requests() []*url.URL {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*url.URL, len(b.requests))
	copy(out, b.requests)
	return out
}

// RequestsTo returns the requests whose path contains fragment
func (b *FakeBackend) RequestsTo(fragment string) []*url.URL {
	var out []*url.URL
	for _, u := range b.Requests() {
		if strings.Contains(u.Path, fragment) {
			out = append(out, u)
		}
	}
	return out
}

func (b *FakeBackend) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.requests = append(b.requests, r.URL)
		hook := b.beforeReq
		status := 0
		for fragment, s := range b.failures {
			if strings.Contains(r.URL.Path, fragment) {
				status = s
			}
		}
		b.mu.Unlock()

		if hook != nil {
			hook(r)
		}
		if status != 0 {
			http.Error(w, http.StatusText(status), status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (b *FakeBackend) handlePushes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	b.mu.Lock()
	pushes := append([]model.Push(nil), b.pushes[r.PathValue("repo")]...)
	b.mu.Unlock()

	sort.Slice(pushes, func(i, j int) bool {
		return pushes[i].PushTimestamp > pushes[j].PushTimestamp
	})

	if rev := q.Get("revision"); rev != "" {
		pushes = filterPushes(pushes, func(p model.Push) bool { return p.Revision == rev })
	}
	if author := q.Get("author"); author != "" {
		pushes = filterPushes(pushes, func(p model.Push) bool { return p.Author == author })
	}
	if lte := q.Get("push_timestamp__lte"); lte != "" {
		limit, _ := strconv.ParseInt(lte, 10, 64)
		pushes = filterPushes(pushes, func(p model.Push) bool { return p.PushTimestamp <= limit })
	}
	if to := q.Get("tochange"); to != "" {
		if ts, ok := timestampOf(pushes, to); ok {
			pushes = filterPushes(pushes, func(p model.Push) bool { return p.PushTimestamp <= ts })
		}
	}
	if from := q.Get("fromchange"); from != "" {
		if ts, ok := timestampOf(pushes, from); ok {
			pushes = filterPushes(pushes, func(p model.Push) bool { return p.PushTimestamp >= ts })
		}
	}

	count := 10
	if c := q.Get("count"); c != "" {
		count, _ = strconv.Atoi(c)
	} else if q.Get("fromchange") != "" {
		count = len(pushes)
	}
	if count >= 0 && len(pushes) > count {
		pushes = pushes[:count]
	}

	writeJSON(w, model.PushPage{Results: pushes})
}

func (b *FakeBackend) handlePush(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(r.PathValue("id"))

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.pushes[r.PathValue("repo")] {
		if p.ID == id {
			writeJSON(w, p)
			return
		}
	}
	http.NotFound(w, r)
}

func (b *FakeBackend) handleJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	b.mu.Lock()
	jobs := append([]model.Job(nil), b.jobs[r.PathValue("repo")]...)
	pageSize := b.pageSize
	b.mu.Unlock()

	if in := q.Get("push_id__in"); in != "" {
		ids := make(map[int]bool)
		for _, s := range strings.Split(in, ",") {
			id, _ := strconv.Atoi(s)
			ids[id] = true
		}
		jobs = filterJobs(jobs, func(j model.Job) bool { return ids[j.PushID] })
	}
	if gt := q.Get("last_modified__gt"); gt != "" {
		var ts model.Timestamp
		if err := ts.UnmarshalJSON([]byte(`"` + gt + `"`)); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		jobs = filterJobs(jobs, func(j model.Job) bool { return j.LastModified.After(ts.Time) })
	}
	if task := q.Get("task_id"); task != "" {
		jobs = filterJobs(jobs, func(j model.Job) bool { return j.TaskID == task })
	}
	if retry := q.Get("retry_id"); retry != "" {
		id, _ := strconv.Atoi(retry)
		jobs = filterJobs(jobs, func(j model.Job) bool { return j.RetryID == id })
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })

	offset, _ := strconv.Atoi(q.Get("offset"))
	if offset > len(jobs) {
		offset = len(jobs)
	}
	jobs = jobs[offset:]

	page := model.JobPage{Results: jobs}
	if pageSize > 0 && len(jobs) > pageSize {
		page.Results = jobs[:pageSize]
		nextQuery := r.URL.Query()
		nextQuery.Set("offset", strconv.Itoa(offset+pageSize))
		page.Next = fmt.Sprintf("%s%s?%s", b.Server.URL, r.URL.Path, nextQuery.Encode())
	}
	writeJSON(w, page)
}

func (b *FakeBackend) handleJob(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(r.PathValue("id"))

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, j := range b.jobs[r.PathValue("repo")] {
		if j.ID == id {
			writeJSON(w, j)
			return
		}
	}
	http.NotFound(w, r)
}

func (b *FakeBackend) handleBugs(w http.ResponseWriter, r *http.Request) {
	type bug struct {
		ID      int    `json:"id"`
		Summary string `json:"summary"`
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var out []bug
	for _, s := range strings.Split(r.URL.Query().Get("id"), ",") {
		id, _ := strconv.Atoi(s)
		if summary, ok := b.bugs[id]; ok {
			out = append(out, bug{ID: id, Summary: summary})
		}
	}
	writeJSON(w, map[string]any{"bugs": out})
}

func filterPushes(pushes []model.Push, keep func(model.Push) bool) []model.Push {
	out := pushes[:0:0]
	for _, p := range pushes {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

func filterJobs(jobs []model.Job, keep func(model.Job) bool) []model.Job {
	out := jobs[:0:0]
	for _, j := range jobs {
		if keep(j) {
			out = append(out, j)
		}
	}
	return out
}

func timestampOf(pushes []model.Push, revision string) (int64, bool) {
	for _, p := range pushes {
		if p.Revision == revision {
			return p.PushTimestamp, true
		}
	}
	return 0, false
}

// MakePush builds a push with a single revision
func MakePush(id int, revision string, timestamp int64) model.Push {
	return model.Push{
		ID:            id,
		Revision:      revision,
		Author:        "dev@example.com",
		PushTimestamp: timestamp,
		Revisions: []model.Revision{
			{Revision: revision, Author: "dev@example.com", Comments: fmt.Sprintf("Bug %d - change %s", 1000+id, revision)},
		},
	}
}

// MakeJob builds a completed job on push pushID
func MakeJob(id, pushID int, result string, lastModified time.Time) model.Job {
	return model.Job{
		ID:             id,
		PushID:         pushID,
		TaskID:         fmt.Sprintf("task%d", id),
		RetryID:        0,
		Result:         result,
		State:          model.StateCompleted,
		Tier:           1,
		LastModified:   model.Timestamp{Time: lastModified.UTC()},
		Platform:       "linux64",
		PlatformOption: "opt",
		JobTypeName:    fmt.Sprintf("test-linux64/opt-job-%d", id),
		JobTypeSymbol:  fmt.Sprintf("j%d", id),
		JobGroupName:   "unknown",
		JobGroupSymbol: "?",
	}
}
