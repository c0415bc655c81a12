package pushes

import (
	"sort"
	"time"

	"github.com/livinlefevreloca/treeherd/internal/model"
)

// MergeResult is the push list after a merge
type MergeResult struct {
	Pushes          []model.Push
	OldestTimestamp int64
	// Added holds the incoming pushes that were not already known
	Added []model.Push
}

// Merge unions incoming into existing by push id and sorts the result by
// push timestamp, newest first. Merging the same page twice gives the same
// list as merging it once. Neither input is modified.
func Merge(existing, incoming []model.Push) MergeResult {
	known := make(map[int]bool, len(existing)+len(incoming))
	merged := make([]model.Push, 0, len(existing)+len(incoming))
	for _, p := range existing {
		if known[p.ID] {
			continue
		}
		known[p.ID] = true
		merged = append(merged, p)
	}

	var added []model.Push
	for _, p := range incoming {
		if known[p.ID] {
			continue
		}
		known[p.ID] = true
		merged = append(merged, p)
		added = append(added, p)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].PushTimestamp != merged[j].PushTimestamp {
			return merged[i].PushTimestamp > merged[j].PushTimestamp
		}
		return merged[i].ID > merged[j].ID
	})

	result := MergeResult{Pushes: merged, Added: added}
	if len(merged) > 0 {
		result.OldestTimestamp = merged[len(merged)-1].PushTimestamp
	}
	return result
}

// JobIndexResult reports what UpdateJobIndex changed
type JobIndexResult struct {
	// Applied holds the incoming jobs that were written to the index
	Applied []model.Job
	// JobsLoaded is true once every push has received a job-list response
	JobsLoaded bool
}

// UpdateJobIndex writes incoming jobs into index keyed by job id. A record
// older than the one already indexed is ignored so an out-of-order response
// never rolls a job back. index is modified in place.
func UpdateJobIndex(index map[int]model.Job, incoming []model.Job, pushes []model.Push, loaded map[int]bool) JobIndexResult {
	var result JobIndexResult
	for _, job := range incoming {
		if current, ok := index[job.ID]; ok && job.LastModified.Before(current.LastModified.Time) {
			continue
		}
		job.Visible = false
		index[job.ID] = job
		result.Applied = append(result.Applied, job)
	}

	result.JobsLoaded = AllJobsLoaded(pushes, loaded)
	return result
}

// AllJobsLoaded reports whether every push has had its jobs fetched
func AllJobsLoaded(pushes []model.Push, loaded map[int]bool) bool {
	for _, p := range pushes {
		if !loaded[p.ID] {
			return false
		}
	}
	return true
}

// Watermark is the newest last_modified in index minus skew. With an empty
// index it is now minus skew.
func Watermark(index map[int]model.Job, now time.Time, skew time.Duration) time.Time {
	var latest time.Time
	for _, job := range index {
		if job.LastModified.After(latest) {
			latest = job.LastModified.Time
		}
	}
	if latest.IsZero() {
		latest = now
	}
	return latest.Add(-skew).UTC()
}

// DecisionTasks returns the decision task of each push found in jobs
func DecisionTasks(jobs []model.Job) map[int]model.DecisionTask {
	out := make(map[int]model.DecisionTask)
	for i := range jobs {
		if jobs[i].IsDecisionTask() {
			out[jobs[i].PushID] = model.DecisionTask{
				PushID: jobs[i].PushID,
				TaskID: jobs[i].TaskID,
				Run:    jobs[i].RetryID,
			}
		}
	}
	return out
}
