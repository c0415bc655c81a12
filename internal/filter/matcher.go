// Package filter decides which jobs are visible under the dashboard's
// filter parameters and applies filter edits to the location.
package filter

import (
	"strings"

	"github.com/livinlefevreloca/treeherd/internal/model"
	"github.com/livinlefevreloca/treeherd/internal/urlparams"
)

// Matcher evaluates job visibility against one fixed set of parameters
type Matcher struct {
	params urlparams.FilterParams
}

// NewMatcher takes ownership of a copy of params
func NewMatcher(params urlparams.FilterParams) *Matcher {
	return &Matcher{params: params.Clone()}
}

// Params returns a copy of the parameters
func (m *Matcher) Params() urlparams.FilterParams {
	return m.params.Clone()
}

// Tiers returns the enabled tier values
func (m *Matcher) Tiers() []string {
	return append([]string(nil), m.params[urlparams.FieldTier]...)
}

// HasTier reports whether tier is enabled
func (m *Matcher) HasTier(tier int) bool {
	return m.params.Has(urlparams.FieldTier, intValue(tier))
}

// IsUnclassifiedFailures reports whether the parameters are exactly the
// "unclassified failures" combination
func (m *Matcher) IsUnclassifiedFailures() bool {
	return urlparams.SetEqual(m.params[urlparams.FieldResultStatus], urlparams.FailureResultStatuses) &&
		urlparams.SetEqual(m.params[urlparams.FieldClassifiedState], []string{"unclassified"})
}

// ShowJob reports whether job is visible. Runnable jobs bypass the status
// and classification checks but are still subject to field filters.
func (m *Matcher) ShowJob(job *model.Job) bool {
	if job.ResultStatus() != model.ResultRunnable {
		if !m.params.Has(urlparams.FieldResultStatus, job.ResultStatus()) {
			return false
		}
		if !m.checkClassifiedState(job) {
			return false
		}
	}
	return m.checkFieldFilters(job)
}

func (m *Matcher) checkClassifiedState(job *model.Job) bool {
	classified := job.IsClassified()
	if !classified && !m.params.Has(urlparams.FieldClassifiedState, "unclassified") {
		return false
	}
	if classified && !m.params.Has(urlparams.FieldClassifiedState, "classified") {
		return false
	}
	return true
}

func (m *Matcher) checkFieldFilters(job *model.Job) bool {
	for name, values := range m.params {
		field, ok := fields[name]
		if !ok {
			continue
		}

		jobValue := field.Value(job)
		if jobValue == "" {
			continue
		}

		if !field.MatchType.Matches(strings.ToLower(jobValue), values) {
			return false
		}
	}
	return true
}
