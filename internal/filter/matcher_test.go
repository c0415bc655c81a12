package filter

import (
	"testing"

	"github.com/livinlefevreloca/treeherd/internal/model"
	"github.com/livinlefevreloca/treeherd/internal/urlparams"
)

func paramsWith(overrides urlparams.FilterParams) urlparams.FilterParams {
	params := urlparams.Defaults()
	for field, values := range overrides {
		params[field] = values
	}
	return params
}

func completedJob(result string, classification int) *model.Job {
	return &model.Job{
		ID:                      1,
		State:                   model.StateCompleted,
		Result:                  result,
		Tier:                    1,
		FailureClassificationID: classification,
		Platform:                "linux64",
		PlatformOption:          "debug",
		JobTypeName:             "test-linux64/debug-mochitest-browser-chrome-1",
		JobTypeSymbol:           "bc1",
		JobGroupName:            "Mochitests",
		JobGroupSymbol:          "M",
	}
}

// =============================================================================
// Status and Classification Tests
// =============================================================================

// TestShowJob_ResultStatus verifies that a job whose result is not selected is hidden.
func TestShowJob_ResultStatus(t *testing.T) {
	m := NewMatcher(paramsWith(urlparams.FilterParams{
		urlparams.FieldResultStatus: {"testfailed"},
	}))

	if m.ShowJob(completedJob(model.ResultSuccess, 0)) {
		t.Error("expected success job to be hidden")
	}
	if !m.ShowJob(completedJob(model.ResultTestFailed, 0)) {
		t.Error("expected testfailed job to be shown")
	}
}

// TestShowJob_RunningUsesState verifies that incomplete jobs are matched on their state.
func TestShowJob_RunningUsesState(t *testing.T) {
	m := NewMatcher(paramsWith(urlparams.FilterParams{
		urlparams.FieldResultStatus: {"running"},
	}))

	job := completedJob(model.ResultUnknown, 0)
	job.State = "running"

	if !m.ShowJob(job) {
		t.Error("expected running job to be shown")
	}
}

// TestShowJob_RunnableBypassesStatus verifies that runnable jobs ignore status filters.
func TestShowJob_RunnableBypassesStatus(t *testing.T) {
	for _, statuses := range [][]string{{"testfailed"}, {"runnable", "success"}} {
		m := NewMatcher(paramsWith(urlparams.FilterParams{
			urlparams.FieldResultStatus:    statuses,
			urlparams.FieldClassifiedState: {"classified"},
		}))

		job := &model.Job{Result: model.ResultRunnable, Platform: "linux64", JobTypeName: "build"}
		if !m.ShowJob(job) {
			t.Errorf("expected runnable job to be shown with resultStatus=%v", statuses)
		}
	}
}

// TestShowJob_RunnableStillFieldFiltered verifies that field filters apply to runnable jobs.
func TestShowJob_RunnableStillFieldFiltered(t *testing.T) {
	m := NewMatcher(paramsWith(urlparams.FilterParams{
		"job_type_name": {"mochitest"},
	}))

	job := &model.Job{Result: model.ResultRunnable, JobTypeName: "build-linux64/opt"}
	if m.ShowJob(job) {
		t.Error("expected runnable job to be hidden by job_type_name")
	}
}

// TestShowJob_ClassifiedState verifies the unclassified scenario from the dashboard.
func TestShowJob_ClassifiedState(t *testing.T) {
	m := NewMatcher(paramsWith(urlparams.FilterParams{
		urlparams.FieldResultStatus:    {"testfailed"},
		urlparams.FieldClassifiedState: {"unclassified"},
	}))

	jobA := completedJob(model.ResultTestFailed, 0)
	jobB := completedJob(model.ResultTestFailed, model.ClassificationExpectedFail)
	jobC := completedJob(model.ResultTestFailed, model.ClassificationAutoclassified)

	if !m.ShowJob(jobA) {
		t.Error("expected unclassified job A to be visible")
	}
	if m.ShowJob(jobB) {
		t.Error("expected classified job B to be hidden")
	}
	if !m.ShowJob(jobC) {
		t.Error("expected autoclassified job C to count as unclassified")
	}

	onlyClassified := NewMatcher(paramsWith(urlparams.FilterParams{
		urlparams.FieldClassifiedState: {"classified"},
	}))
	if onlyClassified.ShowJob(jobA) {
		t.Error("expected unclassified job hidden when only classified is selected")
	}
	if !onlyClassified.ShowJob(jobB) {
		t.Error("expected classified job shown when only classified is selected")
	}
}

// =============================================================================
// Field Filter Tests
// =============================================================================

// TestShowJob_FieldFilters verifies each match type against the same job.
func TestShowJob_FieldFilters(t *testing.T) {
	tests := []struct {
		name   string
		field  string
		values []string
		want   bool
	}{
		{"substr any", "job_type_name", []string{"nothing", "browser-chrome"}, true},
		{"substr none", "job_type_name", []string{"xpcshell"}, false},
		{"exact match", "job_type_symbol", []string{"bc1", "bc2"}, true},
		{"exact partial", "job_type_symbol", []string{"bc"}, false},
		{"searchStr all", "searchStr", []string{"linux", "mochitest", "bc1"}, true},
		{"searchStr missing term", "searchStr", []string{"linux", "windows"}, false},
		{"platform display", "platform", []string{"linux x64 debug"}, true},
		{"platform raw name", "platform", []string{"linux64"}, false},
		{"tier exact", "tier", []string{"1"}, true},
		{"tier other", "tier", []string{"3"}, false},
		{"job id", "job_id", []string{"1"}, true},
		{"absent field passes", "machine_name", []string{"t-linux"}, true},
		{"author passes", "author", []string{"someone@example.com"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMatcher(paramsWith(urlparams.FilterParams{tt.field: tt.values}))
			if got := m.ShowJob(completedJob(model.ResultSuccess, 0)); got != tt.want {
				t.Errorf("ShowJob with %s=%v = %v, want %v", tt.field, tt.values, got, tt.want)
			}
		})
	}
}

// TestShowJob_ChoiceField verifies failure classification id filtering.
func TestShowJob_ChoiceField(t *testing.T) {
	m := NewMatcher(paramsWith(urlparams.FilterParams{
		"failure_classification_id": {"4"},
	}))

	if !m.ShowJob(completedJob(model.ResultTestFailed, model.ClassificationIntermittent)) {
		t.Error("expected intermittent job to match")
	}
	if m.ShowJob(completedJob(model.ResultTestFailed, model.ClassificationInfra)) {
		t.Error("expected infra job not to match")
	}
	// id 0 is treated as an absent field
	if !m.ShowJob(completedJob(model.ResultTestFailed, model.ClassificationNone)) {
		t.Error("expected unset classification to pass")
	}
}

// TestField_DisplayValue verifies choice display names.
func TestField_DisplayValue(t *testing.T) {
	f, ok := LookupField("failure_classification_id")
	if !ok {
		t.Fatal("expected failure_classification_id in catalogue")
	}
	if f.Name != "failure_classification_id" {
		t.Errorf("expected name to be filled in, got %q", f.Name)
	}
	if got := f.DisplayValue("2"); got != "fixed by commit" {
		t.Errorf("expected 'fixed by commit', got %q", got)
	}
	if got := f.DisplayValue("99"); got != "99" {
		t.Errorf("expected passthrough, got %q", got)
	}
}

// TestFieldCatalogue_Whitelisted verifies every catalogue field is decoded by the codec.
func TestFieldCatalogue_Whitelisted(t *testing.T) {
	for _, name := range FieldNames() {
		if !urlparams.IsFilterField(name) {
			t.Errorf("catalogue field %s is not in urlparams.FilterFields", name)
		}
	}
}

// TestMatchType_String verifies match type names.
func TestMatchType_String(t *testing.T) {
	names := map[MatchType]string{
		MatchSubstr:    "substr",
		MatchSearchStr: "searchStr",
		MatchExactStr:  "exactstr",
		MatchChoice:    "choice",
		MatchType(99):  "unknown",
	}
	for m, want := range names {
		if m.String() != want {
			t.Errorf("expected %s, got %s", want, m.String())
		}
	}
}
