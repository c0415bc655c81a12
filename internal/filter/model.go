package filter

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/livinlefevreloca/treeherd/internal/location"
	"github.com/livinlefevreloca/treeherd/internal/model"
	"github.com/livinlefevreloca/treeherd/internal/urlparams"
)

// ErrUnknownField is returned when editing a key that is not a filter field
var ErrUnknownField = errors.New("filter: unknown field")

// Model edits the filter parameters stored in a location. It keeps no
// parameters of its own; every read decodes the location and every edit
// is written back to it.
type Model struct {
	loc         *location.Location
	defaultRepo string
	logger      *slog.Logger
}

// NewModel creates a filter model bound to loc
func NewModel(loc *location.Location, defaultRepo string, logger *slog.Logger) *Model {
	return &Model{
		loc:         loc,
		defaultRepo: defaultRepo,
		logger:      logger,
	}
}

// Params decodes the current filter parameters
func (m *Model) Params() urlparams.FilterParams {
	return urlparams.FromValues(m.loc.Snapshot().Values, true)
}

// Matcher returns a matcher over the current parameters
func (m *Model) Matcher() *Matcher {
	return NewMatcher(m.Params())
}

// ShowJob reports whether job is visible under the current parameters
func (m *Model) ShowJob(job *model.Job) bool {
	return m.Matcher().ShowJob(job)
}

// IsUnclassifiedFailures reports whether "unclassified failures" mode is on
func (m *Model) IsUnclassifiedFailures() bool {
	return m.Matcher().IsUnclassifiedFailures()
}

// edit decodes the location, applies fn and re-encodes. An edit that would
// leave no tier selected is dropped.
func (m *Model) edit(op string, fn func(params urlparams.FilterParams)) {
	m.loc.Update(func(values url.Values) url.Values {
		params := urlparams.FromValues(values, true)
		tiers := append([]string(nil), params[urlparams.FieldTier]...)

		fn(params)

		if remaining, ok := params[urlparams.FieldTier]; ok && len(remaining) == 0 {
			m.logger.Debug("refusing to clear the last tier", "op", op)
			params[urlparams.FieldTier] = tiers
		}

		_, rest := urlparams.Split(values)
		return urlparams.ToValues(params, rest, m.defaultRepo)
	})
}

func normalize(field, value string) string {
	if field == urlparams.FieldAuthor {
		return value
	}
	return strings.ToLower(value)
}

func checkField(field string) error {
	if !urlparams.IsFilterField(field) {
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	return nil
}

// AddFilter adds value to field, ignoring duplicates
func (m *Model) AddFilter(field, value string) error {
	if err := checkField(field); err != nil {
		return err
	}
	value = normalize(field, value)

	m.edit("add", func(params urlparams.FilterParams) {
		if !params.Has(field, value) {
			params[field] = append(params[field], value)
		}
	})
	return nil
}

// RemoveFilter removes value from field, or the whole field when value is empty
func (m *Model) RemoveFilter(field, value string) error {
	if err := checkField(field); err != nil {
		return err
	}
	value = normalize(field, value)

	m.edit("remove", func(params urlparams.FilterParams) {
		if value == "" {
			delete(params, field)
			return
		}
		current := params[field]
		if len(current) == 0 {
			return
		}
		kept := make([]string, 0, len(current))
		for _, v := range current {
			if v != value {
				kept = append(kept, v)
			}
		}
		params[field] = kept
	})
	return nil
}

// ReplaceFilter sets field to exactly values
func (m *Model) ReplaceFilter(field string, values ...string) error {
	if err := checkField(field); err != nil {
		return err
	}
	normalized := make([]string, 0, len(values))
	for _, v := range values {
		normalized = append(normalized, normalize(field, v))
	}

	m.edit("replace", func(params urlparams.FilterParams) {
		params[field] = normalized
	})
	return nil
}

// ToggleFilter removes value when present and adds it otherwise
func (m *Model) ToggleFilter(field, value string) error {
	if err := checkField(field); err != nil {
		return err
	}
	if m.Params().Has(field, normalize(field, value)) {
		return m.RemoveFilter(field, value)
	}
	return m.AddFilter(field, value)
}

// ToggleResultStatuses turns every status in statuses off when all of them
// are on, and turns all of them on otherwise.
func (m *Model) ToggleResultStatuses(statuses ...string) {
	m.edit("toggle_result_statuses", func(params urlparams.FilterParams) {
		current := params[urlparams.FieldResultStatus]

		allOn := true
		for _, s := range statuses {
			if !params.Has(urlparams.FieldResultStatus, s) {
				allOn = false
				break
			}
		}

		if allOn {
			drop := make(map[string]bool, len(statuses))
			for _, s := range statuses {
				drop[s] = true
			}
			kept := make([]string, 0, len(current))
			for _, s := range current {
				if !drop[s] {
					kept = append(kept, s)
				}
			}
			params[urlparams.FieldResultStatus] = kept
			return
		}

		merged := append([]string(nil), statuses...)
		for _, s := range current {
			if !contains(merged, s) {
				merged = append(merged, s)
			}
		}
		params[urlparams.FieldResultStatus] = merged
	})
}

// ToggleInProgress toggles the pending and running statuses together
func (m *Model) ToggleInProgress() {
	m.ToggleResultStatuses(model.ResultPending, model.ResultRunning)
}

// ToggleClassifiedFilter toggles one classifiedState value
func (m *Model) ToggleClassifiedFilter(state string) error {
	return m.ToggleFilter(urlparams.FieldClassifiedState, state)
}

// ToggleUnclassifiedFailures switches into "unclassified failures" mode,
// or leaves it by resetting the status and classification filters to their
// defaults.
func (m *Model) ToggleUnclassifiedFailures() {
	if m.IsUnclassifiedFailures() {
		m.ResetNonFieldFilters()
		return
	}
	m.edit("enter_unclassified_failures", func(params urlparams.FilterParams) {
		params[urlparams.FieldResultStatus] = append([]string(nil), urlparams.FailureResultStatuses...)
		params[urlparams.FieldClassifiedState] = []string{"unclassified"}
	})
}

// SetOnlySuperseded shows only superseded jobs
func (m *Model) SetOnlySuperseded() {
	m.edit("set_only_superseded", func(params urlparams.FilterParams) {
		params[urlparams.FieldResultStatus] = []string{model.ResultSuperseded}
		params[urlparams.FieldClassifiedState] = urlparams.Defaults()[urlparams.FieldClassifiedState]
	})
}

// ClearNonStatusFilters drops every job-field filter, keeping the status
// and classification checkboxes.
func (m *Model) ClearNonStatusFilters() {
	m.edit("clear_non_status", func(params urlparams.FilterParams) {
		for field := range params {
			if field != urlparams.FieldResultStatus && field != urlparams.FieldClassifiedState {
				delete(params, field)
			}
		}
	})
}

// ResetNonFieldFilters restores the default status and classification
// filters without touching job-field filters.
func (m *Model) ResetNonFieldFilters() {
	m.edit("reset_non_field", func(params urlparams.FilterParams) {
		defaults := urlparams.Defaults()
		params[urlparams.FieldResultStatus] = defaults[urlparams.FieldResultStatus]
		params[urlparams.FieldClassifiedState] = defaults[urlparams.FieldClassifiedState]
	})
}

func contains(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}
