package syncer

import "github.com/livinlefevreloca/treeherd/internal/model"

// CacheUpdate is one batch of fetched records to persist
type CacheUpdate struct {
	UpdateID string // UUID, logged with the write
	Repo     string
	Pushes   []model.Push
	Jobs     []model.Job
}

// Size is the number of records in the update
func (u CacheUpdate) Size() int {
	return len(u.Pushes) + len(u.Jobs)
}

// Writer persists cache updates
type Writer interface {
	StoreRecords(repo string, pushes []model.Push, jobs []model.Job) error
}

// Stats provides current syncer statistics
type Stats struct {
	BufferedUpdates int
	BufferedRecords int
	WrittenUpdates  int64
	FailedUpdates   int64
}
