// Package urlparams converts between dashboard query strings and typed
// filter parameters.
package urlparams

import (
	"sort"
)

// Reserved filter fields
const (
	FieldResultStatus    = "resultStatus"
	FieldClassifiedState = "classifiedState"
	FieldTier            = "tier"
	FieldSearchStr       = "searchStr"
	FieldAuthor          = "author"
)

// Non-filter parameters that the dashboard reads
const (
	ParamRepo            = "repo"
	ParamRevision        = "revision"
	ParamFromChange      = "fromchange"
	ParamToChange        = "tochange"
	ParamStartDate       = "startdate"
	ParamEndDate         = "enddate"
	ParamNoJobs          = "nojobs"
	ParamSelectedJob     = "selectedJob"
	ParamSelectedTaskRun = "selectedTaskRun"
	ParamGroupState      = "group_state"
	ParamDuplicateJobs   = "duplicate_jobs"
)

// DefaultRepo is written to the location when no repo is given
const DefaultRepo = "autoland"

// DeprecatedPrefix was prepended to filter keys by older dashboard links
const DeprecatedPrefix = "filter-"

// FilterFields is the whitelist of keys decoded into FilterParams. Every
// other key is carried through untouched.
var FilterFields = []string{
	FieldResultStatus,
	FieldClassifiedState,
	"ref_data_name",
	"build_system_type",
	"job_type_name",
	"job_type_symbol",
	"job_group_name",
	"job_group_symbol",
	"machine_name",
	"platform",
	FieldTier,
	"failure_classification_id",
	"job_id",
	FieldAuthor,
	"task_id",
	FieldSearchStr,
}

// ReloadParams are the range-defining keys. A navigation that changes any of
// them invalidates the loaded pushes.
var ReloadParams = []string{
	ParamRepo,
	ParamRevision,
	FieldAuthor,
	ParamFromChange,
	ParamToChange,
	ParamStartDate,
	ParamEndDate,
	ParamNoJobs,
}

var filterFieldSet = func() map[string]bool {
	set := make(map[string]bool, len(FilterFields))
	for _, field := range FilterFields {
		set[field] = true
	}
	return set
}()

// IsFilterField reports whether key is decoded as a filter field
func IsFilterField(key string) bool {
	return filterFieldSet[key]
}

// FailureResultStatuses is the resultStatus set of "unclassified failures" mode
var FailureResultStatuses = []string{"testfailed", "busted", "exception"}

// Defaults returns a fresh copy of the reserved field defaults
func Defaults() FilterParams {
	return FilterParams{
		FieldResultStatus: {
			"testfailed", "busted", "exception", "success", "retry",
			"usercancel", "running", "pending", "runnable",
		},
		FieldClassifiedState: {"classified", "unclassified"},
		FieldTier:            {"1", "2"},
	}
}

// FilterParams maps a filter field to its accepted values
type FilterParams map[string][]string

// Clone returns a deep copy
func (p FilterParams) Clone() FilterParams {
	out := make(FilterParams, len(p))
	for field, values := range p {
		out[field] = append([]string(nil), values...)
	}
	return out
}

// Get returns the values of field, nil when unset
func (p FilterParams) Get(field string) []string {
	return p[field]
}

// Has reports whether value is among the values of field
func (p FilterParams) Has(field, value string) bool {
	for _, v := range p[field] {
		if v == value {
			return true
		}
	}
	return false
}

// Equal compares two parameter sets ignoring value order
func (p FilterParams) Equal(other FilterParams) bool {
	if len(p) != len(other) {
		return false
	}
	for field, values := range p {
		otherValues, ok := other[field]
		if !ok || !SetEqual(values, otherValues) {
			return false
		}
	}
	return true
}

// MatchesDefault reports whether values set-equal the default of field.
// Fields without a default never match.
func MatchesDefault(field string, values []string) bool {
	def, ok := Defaults()[field]
	if !ok {
		return false
	}
	return SetEqual(def, values)
}

// SetEqual compares two string slices as sets
func SetEqual(a, b []string) bool {
	as := dedupe(a)
	bs := dedupe(b)
	if len(as) != len(bs) {
		return false
	}
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
