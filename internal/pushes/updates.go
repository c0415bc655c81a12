package pushes

import "github.com/livinlefevreloca/treeherd/internal/model"

// UpdateKind identifies what changed in the repository
type UpdateKind int

const (
	UpdatePushes  UpdateKind = iota // new pushes merged
	UpdateJobs                      // jobs written to the index
	UpdateCleared                   // everything dropped by a reset or range change
	UpdateLoaded                    // the first fetch of a range finished
)

// String returns a human-readable representation of the update kind
func (k UpdateKind) String() string {
	switch k {
	case UpdatePushes:
		return "pushes"
	case UpdateJobs:
		return "jobs"
	case UpdateCleared:
		return "cleared"
	case UpdateLoaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// Update is published after every change so consumers never poll the
// repository for differences
type Update struct {
	Kind       UpdateKind
	Generation uint64
	Repo       string
	Pushes     []model.Push
	Jobs       []model.Job
	JobsLoaded bool
}
