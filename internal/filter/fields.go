package filter

import (
	"strconv"
	"strings"

	"github.com/livinlefevreloca/treeherd/internal/model"
)

// MatchType selects how filter values are compared with a job field
type MatchType int

const (
	// MatchSubstr passes when any filter value is a substring of the field
	MatchSubstr MatchType = iota
	// MatchSearchStr passes when every filter value is a substring of the field
	MatchSearchStr
	// MatchExactStr passes when the field equals one of the filter values
	MatchExactStr
	// MatchChoice is MatchExactStr over enumerated ids with display names
	MatchChoice
)

// String returns the name used by the dashboard for the match type
func (m MatchType) String() string {
	switch m {
	case MatchSubstr:
		return "substr"
	case MatchSearchStr:
		return "searchStr"
	case MatchExactStr:
		return "exactstr"
	case MatchChoice:
		return "choice"
	default:
		return "unknown"
	}
}

// Matches compares a lower-cased job value against the filter values
func (m MatchType) Matches(jobValue string, values []string) bool {
	switch m {
	case MatchSubstr:
		for _, v := range values {
			if strings.Contains(jobValue, v) {
				return true
			}
		}
		return false
	case MatchSearchStr:
		for _, v := range values {
			if !strings.Contains(jobValue, v) {
				return false
			}
		}
		return true
	case MatchExactStr, MatchChoice:
		for _, v := range values {
			if v == jobValue {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Field describes one job-field filter
type Field struct {
	Name      string
	Title     string
	MatchType MatchType

	// Choices maps enumerated values to display names (MatchChoice only)
	Choices map[string]string

	// Value extracts the raw job value; "" means the job has no such field
	Value func(job *model.Job) string
}

// DisplayValue returns the human readable form of a filter value
func (f Field) DisplayValue(value string) string {
	if name, ok := f.Choices[value]; ok {
		return name
	}
	return value
}

func intValue(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

var classificationChoices = func() map[string]string {
	choices := make(map[string]string, len(model.ClassificationNames))
	for id, name := range model.ClassificationNames {
		choices[strconv.Itoa(id)] = name
	}
	return choices
}()

// fields is the closed catalogue of job-field filters
var fields = map[string]Field{
	"ref_data_name": {
		Title: "ref data name", MatchType: MatchSubstr,
		Value: func(j *model.Job) string { return j.RefDataName },
	},
	"build_system_type": {
		Title: "build system", MatchType: MatchSubstr,
		Value: func(j *model.Job) string { return j.BuildSystemType },
	},
	"job_type_name": {
		Title: "job name", MatchType: MatchSubstr,
		Value: func(j *model.Job) string { return j.JobTypeName },
	},
	"job_type_symbol": {
		Title: "job symbol", MatchType: MatchExactStr,
		Value: func(j *model.Job) string { return j.JobTypeSymbol },
	},
	"job_group_name": {
		Title: "group name", MatchType: MatchSubstr,
		Value: func(j *model.Job) string { return j.JobGroupName },
	},
	"job_group_symbol": {
		Title: "group symbol", MatchType: MatchExactStr,
		Value: func(j *model.Job) string { return j.JobGroupSymbol },
	},
	"machine_name": {
		Title: "machine name", MatchType: MatchSubstr,
		Value: func(j *model.Job) string { return j.MachineName },
	},
	"platform": {
		Title: "platform", MatchType: MatchSubstr,
		Value: func(j *model.Job) string { return j.PlatformDisplay() },
	},
	"tier": {
		Title: "tier", MatchType: MatchExactStr,
		Value: func(j *model.Job) string { return intValue(j.Tier) },
	},
	"failure_classification_id": {
		Title: "failure classification", MatchType: MatchChoice,
		Choices: classificationChoices,
		Value:   func(j *model.Job) string { return intValue(j.FailureClassificationID) },
	},
	"job_id": {
		Title: "job id", MatchType: MatchExactStr,
		Value: func(j *model.Job) string { return intValue(j.ID) },
	},
	"author": {
		// jobs carry no author; the push list is narrowed server side
		Title: "author", MatchType: MatchSubstr,
		Value: func(*model.Job) string { return "" },
	},
	"task_id": {
		Title: "task id", MatchType: MatchExactStr,
		Value: func(j *model.Job) string { return j.TaskID },
	},
	"searchStr": {
		Title: "search string", MatchType: MatchSearchStr,
		Value: func(j *model.Job) string { return j.SearchStr() },
	},
}

func init() {
	for name, f := range fields {
		f.Name = name
		fields[name] = f
	}
}

// LookupField returns the catalogue entry for a job-field filter
func LookupField(name string) (Field, bool) {
	f, ok := fields[name]
	return f, ok
}

// FieldNames returns the names of every job-field filter
func FieldNames() []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	return names
}
