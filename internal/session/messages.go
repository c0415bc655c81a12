package session

import (
	"github.com/livinlefevreloca/treeherd/internal/inbox"
	"github.com/livinlefevreloca/treeherd/internal/model"
	"github.com/livinlefevreloca/treeherd/internal/scheduler"
	"github.com/livinlefevreloca/treeherd/internal/selection"
	"github.com/livinlefevreloca/treeherd/internal/syncer"
	"github.com/livinlefevreloca/treeherd/internal/unclassified"
	"github.com/livinlefevreloca/treeherd/internal/urlparams"
)

// Message is the container for all messages sent to the session loop
type Message struct {
	Type         MessageType
	Data         interface{}
	ResponseChan chan<- interface{} // Optional, for request/response pattern
}

// MessageType identifies the type of message being sent to the session
type MessageType int

const (
	// Location edits
	MsgNavigate MessageType = iota // Replace the whole query
	MsgFilter                      // Apply a filter operation

	// Selection
	MsgSelectJob      // Select a job by id
	MsgChangeJob      // Move to the next or previous job
	MsgClearSelection // Drop the selection

	// Pushes
	MsgFetchNextPushes // Load more pushes below the oldest one

	// State queries
	MsgGetState // Request a state snapshot

	// Control
	MsgShutdown // Shutdown the session
)

// String returns a human-readable representation of the message type
func (m MessageType) String() string {
	switch m {
	case MsgNavigate:
		return "navigate"
	case MsgFilter:
		return "filter"
	case MsgSelectJob:
		return "select_job"
	case MsgChangeJob:
		return "change_job"
	case MsgClearSelection:
		return "clear_selection"
	case MsgFetchNextPushes:
		return "fetch_next_pushes"
	case MsgGetState:
		return "get_state"
	case MsgShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// NavigateMsg replaces the location query
type NavigateMsg struct {
	Query string
}

// FilterMsg applies one filter model operation
type FilterMsg struct {
	Op     FilterOp
	Field  string
	Values []string
}

// SelectJobMsg selects a job by id
type SelectJobMsg struct {
	JobID int
}

// ChangeJobMsg moves the selection
type ChangeJobMsg struct {
	Direction        selection.Direction
	UnclassifiedOnly bool
}

// ChangeJobResponse is the response to ChangeJobMsg
type ChangeJobResponse struct {
	Job      model.Job
	Selected bool
}

// FetchNextPushesMsg loads count more pushes
type FetchNextPushesMsg struct {
	Count int
}

// SelectionState describes the selection for the rendering layer
type SelectionState struct {
	State string     `json:"state"`
	Job   *model.Job `json:"job,omitempty"`
}

// State is the response to MsgGetState
type State struct {
	Query         string                 `json:"query"`
	Repo          string                 `json:"repo"`
	Filters       urlparams.FilterParams `json:"filters"`
	Counts        unclassified.Counts    `json:"counts"`
	Selection     SelectionState         `json:"selection"`
	PushCount     int                    `json:"push_count"`
	JobCount      int                    `json:"job_count"`
	LoadingPushes bool                   `json:"loading_pushes"`
	JobsLoaded    bool                   `json:"jobs_loaded"`
	PollMode      string                 `json:"poll_mode"`
	Generation    uint64                 `json:"generation"`

	// Not serialized; for diagnostics only
	InboxStats     inbox.Stats     `json:"-"`
	SchedulerStats scheduler.Stats `json:"-"`
	SyncerStats    *syncer.Stats   `json:"-"`
}
