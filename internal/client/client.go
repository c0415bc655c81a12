// Package client talks to a Treeherder-compatible backend.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/livinlefevreloca/treeherd/internal/model"
)

// maxJobPages bounds how many "next" links one job query follows
const maxJobPages = 100

// Client fetches pushes and jobs from the backend
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	pageSize   int
}

// Option configures the Client during construction
type Option func(*clientConfig) error

type clientConfig struct {
	httpClient *http.Client
	logger     *slog.Logger
	timeout    time.Duration
	pageSize   int
}

// New creates a client for the backend at baseURL
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("client: baseURL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("client: invalid baseURL: %w", err)
	}

	cfg := &clientConfig{pageSize: 2000}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	httpClient := cfg.httpClient
	if httpClient == nil {
		httpClient = cleanhttp.DefaultPooledClient()
	}
	if cfg.timeout > 0 {
		httpClient.Timeout = cfg.timeout
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
		pageSize:   cfg.pageSize,
	}, nil
}

// WithHTTPClient overrides the pooled default client
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *clientConfig) error {
		cfg.httpClient = c
		return nil
	}
}

// WithLogger configures structured logging
func WithLogger(l *slog.Logger) Option {
	return func(cfg *clientConfig) error {
		cfg.logger = l
		return nil
	}
}

// WithTimeout bounds every request; a timeout is reported as a NetworkError
func WithTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) error {
		if d < 0 {
			return fmt.Errorf("client: negative timeout %v", d)
		}
		cfg.timeout = d
		return nil
	}
}

// WithJobPageSize sets the count requested per job page
func WithJobPageSize(n int) Option {
	return func(cfg *clientConfig) error {
		if n <= 0 {
			return fmt.Errorf("client: job page size must be positive, got %d", n)
		}
		cfg.pageSize = n
		return nil
	}
}

func (c *Client) projectURL(repo, resource string, query url.Values) string {
	u := fmt.Sprintf("%s/api/project/%s/%s/", c.baseURL, url.PathEscape(repo), resource)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// getJSON performs a GET and decodes the body into dst. A 404 is returned
// as model.ErrNotFound, any other failure as a *NetworkError.
func (c *Client) getJSON(ctx context.Context, op, rawURL string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: op, URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("backend request",
		"op", op,
		"url", rawURL,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s: %w", op, model.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return &NetworkError{Op: op, URL: rawURL, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return &NetworkError{Op: op, URL: rawURL, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// GetPushes returns one page of pushes. An empty page is not an error.
func (c *Client) GetPushes(ctx context.Context, repo string, params url.Values) ([]model.Push, error) {
	var page model.PushPage
	if err := c.getJSON(ctx, "get pushes", c.projectURL(repo, "push", params), &page); err != nil {
		return nil, err
	}
	if page.Results == nil {
		return []model.Push{}, nil
	}
	return page.Results, nil
}

// GetPush returns a single push by id
func (c *Client) GetPush(ctx context.Context, repo string, id int) (*model.Push, error) {
	var push model.Push
	u := fmt.Sprintf("%s/api/project/%s/push/%d/", c.baseURL, url.PathEscape(repo), id)
	if err := c.getJSON(ctx, "get push", u, &push); err != nil {
		return nil, err
	}
	return &push, nil
}

// GetJobs returns every job matching params, following "next" links
func (c *Client) GetJobs(ctx context.Context, repo string, params url.Values) ([]model.Job, error) {
	query := url.Values{}
	for key, vals := range params {
		query[key] = append([]string(nil), vals...)
	}
	if query.Get("count") == "" {
		query.Set("count", strconv.Itoa(c.pageSize))
	}

	jobs := []model.Job{}
	next := c.projectURL(repo, "jobs", query)
	for pages := 0; next != ""; pages++ {
		if pages >= maxJobPages {
			c.logger.Warn("job query truncated", "repo", repo, "pages", pages, "job_count", len(jobs))
			break
		}

		var page model.JobPage
		if err := c.getJSON(ctx, "get jobs", next, &page); err != nil {
			return nil, err
		}
		jobs = append(jobs, page.Results...)
		next = page.Next
	}
	return jobs, nil
}

// GetJob returns a single job by id, or model.ErrNotFound
func (c *Client) GetJob(ctx context.Context, repo string, id int) (*model.Job, error) {
	var job model.Job
	u := fmt.Sprintf("%s/api/project/%s/jobs/%d/", c.baseURL, url.PathEscape(repo), id)
	if err := c.getJSON(ctx, "get job", u, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// FindTaskRun returns the jobs for a task. With hasRetry only the given
// run is requested. No match is model.ErrNotFound.
func (c *Client) FindTaskRun(ctx context.Context, repo, taskID string, retryID int, hasRetry bool) ([]model.Job, error) {
	params := url.Values{"task_id": {taskID}}
	if hasRetry {
		params.Set("retry_id", strconv.Itoa(retryID))
	}

	jobs, err := c.GetJobs(ctx, repo, params)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("find task run %s: %w", taskID, model.ErrNotFound)
	}
	return jobs, nil
}

// Bug is the summary of one bug tracker entry
type Bug struct {
	ID      int    `json:"id"`
	Summary string `json:"summary"`
}

type bugPage struct {
	Bugs []Bug `json:"bugs"`
}

// GetBugs fetches summaries for ids from a Bugzilla-compatible tracker
func (c *Client) GetBugs(ctx context.Context, trackerURL string, ids []int) ([]Bug, error) {
	if len(ids) == 0 {
		return []Bug{}, nil
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = strconv.Itoa(id)
	}
	query := url.Values{
		"id":             {strings.Join(strs, ",")},
		"include_fields": {"id,summary"},
	}
	u := strings.TrimSuffix(trackerURL, "/") + "/rest/bug?" + query.Encode()

	var page bugPage
	if err := c.getJSON(ctx, "get bugs", u, &page); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return []Bug{}, nil
		}
		return nil, err
	}
	return page.Bugs, nil
}
