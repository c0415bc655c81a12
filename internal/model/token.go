package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// slugIDPattern matches a 22 character taskcluster slug id. Slug ids may
// contain '-', so a '-' retry separator is only recognized after one.
var slugIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{22}$`)

var taskIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Token is a selection token: either a bare numeric job id (legacy
// selectedJob) or a task run (selectedTaskRun).
type Token struct {
	JobID    int
	TaskID   string
	RetryID  int
	HasRetry bool
}

// IsTaskRun reports whether the token addresses a task rather than a job id
func (t Token) IsTaskRun() bool {
	return t.TaskID != ""
}

// String returns the URL form of the token
func (t Token) String() string {
	switch {
	case t.TaskID != "" && t.HasRetry:
		return fmt.Sprintf("%s.%d", t.TaskID, t.RetryID)
	case t.TaskID != "":
		return t.TaskID
	default:
		return strconv.Itoa(t.JobID)
	}
}

// ParseJobID parses a legacy numeric selectedJob value
func ParseJobID(raw string) (Token, error) {
	id, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return Token{}, fmt.Errorf("%w: job id %q", ErrAmbiguousToken, raw)
	}
	return Token{JobID: id}, nil
}

// ParseTaskRun parses "task_id", "task_id.retry_id", or for slug ids the
// older "task_id-retry_id" form.
func ParseTaskRun(raw string) (Token, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Token{}, fmt.Errorf("%w: empty task run", ErrAmbiguousToken)
	}

	if taskID, run, ok := strings.Cut(raw, "."); ok {
		return taskRunToken(raw, taskID, run)
	}

	if len(raw) > 23 {
		if idx := strings.LastIndex(raw, "-"); idx == 22 && slugIDPattern.MatchString(raw[:idx]) {
			return taskRunToken(raw, raw[:idx], raw[idx+1:])
		}
	}

	if !taskIDPattern.MatchString(raw) {
		return Token{}, fmt.Errorf("%w: task run %q", ErrAmbiguousToken, raw)
	}
	return Token{TaskID: raw}, nil
}

func taskRunToken(raw, taskID, run string) (Token, error) {
	if !taskIDPattern.MatchString(taskID) {
		return Token{}, fmt.Errorf("%w: task run %q", ErrAmbiguousToken, raw)
	}
	retryID, err := strconv.Atoi(run)
	if err != nil || retryID < 0 {
		return Token{}, fmt.Errorf("%w: retry id in %q", ErrAmbiguousToken, raw)
	}
	return Token{TaskID: taskID, RetryID: retryID, HasRetry: true}, nil
}
