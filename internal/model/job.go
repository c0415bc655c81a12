package model

import (
	"fmt"
	"strings"
	"time"
)

// Result values reported by the backend
const (
	ResultSuccess    = "success"
	ResultTestFailed = "testfailed"
	ResultBusted     = "busted"
	ResultException  = "exception"
	ResultRetry      = "retry"
	ResultUserCancel = "usercancel"
	ResultSuperseded = "superseded"
	ResultRunning    = "running"
	ResultPending    = "pending"
	ResultRunnable   = "runnable"
	ResultUnknown    = "unknown"
)

// StateCompleted is the only job state in which Result is meaningful
const StateCompleted = "completed"

// FailureResults are the results counted as failures
var FailureResults = []string{ResultTestFailed, ResultBusted, ResultException}

// AllResultStatuses lists every status a job can be filtered on
var AllResultStatuses = []string{
	ResultTestFailed,
	ResultBusted,
	ResultException,
	ResultSuccess,
	ResultRetry,
	ResultUserCancel,
	ResultSuperseded,
	ResultRunning,
	ResultPending,
	ResultRunnable,
}

// Failure classification ids
const (
	ClassificationNone                    = 0
	ClassificationNotClassified           = 1
	ClassificationFixedByCommit           = 2
	ClassificationExpectedFail            = 3
	ClassificationIntermittent            = 4
	ClassificationInfra                   = 5
	ClassificationNewFailureNotClassified = 6
	ClassificationAutoclassified          = 7
	ClassificationIntermittentNeedsBugID  = 8
)

// ClassificationNames maps classification ids to their display names
var ClassificationNames = map[int]string{
	ClassificationNotClassified:           "not classified",
	ClassificationFixedByCommit:           "fixed by commit",
	ClassificationExpectedFail:            "expected fail",
	ClassificationIntermittent:            "intermittent",
	ClassificationInfra:                   "infra",
	ClassificationNewFailureNotClassified: "new failure not classified",
	ClassificationAutoclassified:          "autoclassified intermittent",
	ClassificationIntermittentNeedsBugID:  "intermittent needs bugid",
}

// unclassifiedIDs are the classification ids still shown in "unclassified" mode
var unclassifiedIDs = map[int]bool{
	ClassificationNone:           true,
	ClassificationNotClassified:  true,
	ClassificationAutoclassified: true,
}

// backend timestamps carry no zone and are always UTC
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

const timestampLayout = "2006-01-02T15:04:05.999999"

// Timestamp decodes the backend's zone-less UTC timestamps
type Timestamp struct {
	time.Time
}

// UnmarshalJSON accepts "2006-01-02T15:04:05[.ffffff]" with or without a zone
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		return nil
	}

	for _, layout := range timestampLayouts {
		parsed, err := time.ParseInLocation(layout, raw, time.UTC)
		if err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}

	return fmt.Errorf("invalid timestamp %q", raw)
}

// MarshalJSON writes the backend format so cached jobs round-trip
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.UTC().Format(timestampLayout) + `"`), nil
}

// Job is one CI task execution belonging to a push
type Job struct {
	ID                      int       `json:"id"`
	PushID                  int       `json:"push_id"`
	PushRevision            string    `json:"push_revision,omitempty"`
	TaskID                  string    `json:"task_id"`
	RetryID                 int       `json:"retry_id"`
	Result                  string    `json:"result"`
	State                   string    `json:"state"`
	Tier                    int       `json:"tier"`
	FailureClassificationID int       `json:"failure_classification_id"`
	LastModified            Timestamp `json:"last_modified"`
	Platform                string    `json:"platform"`
	PlatformOption          string    `json:"platform_option"`
	JobTypeName             string    `json:"job_type_name"`
	JobTypeSymbol           string    `json:"job_type_symbol"`
	JobGroupName            string    `json:"job_group_name"`
	JobGroupSymbol          string    `json:"job_group_symbol"`
	MachineName             string    `json:"machine_name,omitempty"`
	BuildSystemType         string    `json:"build_system_type,omitempty"`
	RefDataName             string    `json:"ref_data_name,omitempty"`
	StartTimestamp          int64     `json:"start_timestamp,omitempty"`
	EndTimestamp            int64     `json:"end_timestamp,omitempty"`

	// Visible is derived by the filter model, never sent by the server
	Visible bool `json:"visible"`
}

// ResultStatus is the result once the job completed, otherwise its state
func (j *Job) ResultStatus() string {
	if j.State == "" || j.State == StateCompleted {
		return j.Result
	}
	return j.State
}

// IsClassified reports whether a human (or a bug match) annotated the job
func (j *Job) IsClassified() bool {
	return !unclassifiedIDs[j.FailureClassificationID]
}

// IsUnclassifiedFailure reports whether the job failed and is not yet triaged
func (j *Job) IsUnclassifiedFailure() bool {
	return contains(FailureResults, j.Result) && !j.IsClassified()
}

// IsDecisionTask reports whether this is a successful decision task
func (j *Job) IsDecisionTask() bool {
	return strings.Contains(j.JobTypeName, "Decision Task") &&
		j.Result == ResultSuccess &&
		j.JobTypeSymbol == "D"
}

// TaskRunStr is the canonical selection token for the job
func (j *Job) TaskRunStr() string {
	return fmt.Sprintf("%s.%d", j.TaskID, j.RetryID)
}

// PlatformDisplay is "<display name> <platform_option>"
func (j *Job) PlatformDisplay() string {
	return PlatformName(j.Platform) + " " + j.PlatformOption
}

// SearchStr joins platform, group and type information into one
// lower-cased string so free-text search can match across them
func (j *Job) SearchStr() string {
	symbolInfo := j.JobGroupSymbol
	if symbolInfo == "?" {
		symbolInfo = ""
	}

	parts := []string{PlatformName(j.Platform), j.PlatformOption}
	if j.JobGroupName != "unknown" {
		parts = append(parts, j.JobGroupName)
	}
	parts = append(parts, j.JobTypeName, fmt.Sprintf("%s(%s)", symbolInfo, j.JobTypeSymbol))

	return strings.ToLower(strings.Join(parts, " "))
}

// ClassificationName returns the display name of the job's classification
func ClassificationName(id int) string {
	if name, ok := ClassificationNames[id]; ok {
		return name
	}
	return "unknown"
}

// DecisionTask identifies the decision task of a push
type DecisionTask struct {
	PushID int    `json:"push_id"`
	TaskID string `json:"id"`
	Run    int    `json:"run"`
}

// JobPage is the body returned by the job-list endpoint. Next is the URL of
// the following page, empty on the last one.
type JobPage struct {
	Results []Job  `json:"results"`
	Next    string `json:"next,omitempty"`
}

func contains(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}
