package session

import (
	"errors"
	"fmt"

	"github.com/livinlefevreloca/treeherd/internal/filter"
)

// ErrUnknownFilterOp is returned for an operation name that does not exist
var ErrUnknownFilterOp = errors.New("session: unknown filter operation")

// ErrInvalidFilterArgs is returned when an operation gets the wrong arguments
var ErrInvalidFilterArgs = errors.New("session: invalid filter arguments")

// FilterOp names a filter model operation
type FilterOp string

const (
	FilterAdd                        FilterOp = "add"
	FilterRemove                     FilterOp = "remove"
	FilterReplace                    FilterOp = "replace"
	FilterToggle                     FilterOp = "toggle"
	FilterToggleResultStatuses       FilterOp = "toggleResultStatuses"
	FilterToggleUnclassifiedFailures FilterOp = "toggleUnclassifiedFailures"
	FilterToggleInProgress           FilterOp = "toggleInProgress"
	FilterToggleClassified           FilterOp = "toggleClassified"
	FilterOnlySuperseded             FilterOp = "onlySuperseded"
	FilterClearNonStatus             FilterOp = "clearNonStatus"
	FilterReset                      FilterOp = "reset"
)

// ParseFilterOp validates an operation name
func ParseFilterOp(raw string) (FilterOp, error) {
	switch op := FilterOp(raw); op {
	case FilterAdd, FilterRemove, FilterReplace, FilterToggle,
		FilterToggleResultStatuses, FilterToggleUnclassifiedFailures,
		FilterToggleInProgress, FilterToggleClassified, FilterOnlySuperseded,
		FilterClearNonStatus, FilterReset:
		return op, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFilterOp, raw)
}

// applyFilter runs one operation against the filter model
func applyFilter(m *filter.Model, msg FilterMsg) error {
	single := func() (string, error) {
		if msg.Field == "" || len(msg.Values) != 1 {
			return "", fmt.Errorf("%w: %s needs a field and exactly one value", ErrInvalidFilterArgs, msg.Op)
		}
		return msg.Values[0], nil
	}

	switch msg.Op {
	case FilterAdd:
		value, err := single()
		if err != nil {
			return err
		}
		return m.AddFilter(msg.Field, value)
	case FilterRemove:
		if len(msg.Values) == 0 {
			return m.RemoveFilter(msg.Field, "")
		}
		value, err := single()
		if err != nil {
			return err
		}
		return m.RemoveFilter(msg.Field, value)
	case FilterReplace:
		return m.ReplaceFilter(msg.Field, msg.Values...)
	case FilterToggle:
		value, err := single()
		if err != nil {
			return err
		}
		return m.ToggleFilter(msg.Field, value)
	case FilterToggleResultStatuses:
		if len(msg.Values) == 0 {
			return fmt.Errorf("%w: %s needs at least one status", ErrInvalidFilterArgs, msg.Op)
		}
		m.ToggleResultStatuses(msg.Values...)
	case FilterToggleUnclassifiedFailures:
		m.ToggleUnclassifiedFailures()
	case FilterToggleInProgress:
		m.ToggleInProgress()
	case FilterToggleClassified:
		if len(msg.Values) != 1 {
			return fmt.Errorf("%w: %s needs exactly one state", ErrInvalidFilterArgs, msg.Op)
		}
		return m.ToggleClassifiedFilter(msg.Values[0])
	case FilterOnlySuperseded:
		m.SetOnlySuperseded()
	case FilterClearNonStatus:
		m.ClearNonStatusFilters()
	case FilterReset:
		m.ResetNonFieldFilters()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFilterOp, msg.Op)
	}
	return nil
}
