package db

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/livinlefevreloca/treeherd/internal/model"
)

// lastModifiedLayout sorts lexically in time order
const lastModifiedLayout = "2006-01-02T15:04:05.000000"

// StoreRecords upserts pushes and jobs for repo in one transaction. Pushes
// are immutable and only inserted once; a job row is replaced only by a
// record at least as new as the stored one.
func (db *DB) StoreRecords(repo string, pushes []model.Push, jobs []model.Job) error {
	if len(pushes) == 0 && len(jobs) == 0 {
		return nil
	}

	return db.WithTransaction(func(tx *Tx) error {
		if err := tx.insertPushes(repo, pushes); err != nil {
			return err
		}
		return tx.upsertJobs(repo, jobs)
	})
}

func (tx *Tx) insertPushes(repo string, pushes []model.Push) error {
	if len(pushes) == 0 {
		return nil
	}

	stmt, err := tx.Prepare(`
		INSERT INTO pushes (repo, id, revision, author, push_timestamp, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (repo, id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare push insert: %w", err)
	}
	defer stmt.Close()

	for _, push := range pushes {
		payload, err := json.Marshal(push)
		if err != nil {
			return fmt.Errorf("encode push %d: %w", push.ID, err)
		}
		if _, err := stmt.Exec(repo, push.ID, push.Revision, push.Author, push.PushTimestamp, string(payload)); err != nil {
			return fmt.Errorf("insert push %d: %w", push.ID, err)
		}
	}
	return nil
}

func (tx *Tx) upsertJobs(repo string, jobs []model.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	stmt, err := tx.Prepare(`
		INSERT INTO jobs (repo, id, push_id, task_id, retry_id, last_modified, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (repo, id) DO UPDATE SET
			push_id = excluded.push_id,
			task_id = excluded.task_id,
			retry_id = excluded.retry_id,
			last_modified = excluded.last_modified,
			payload = excluded.payload
		WHERE excluded.last_modified >= jobs.last_modified
	`)
	if err != nil {
		return fmt.Errorf("prepare job upsert: %w", err)
	}
	defer stmt.Close()

	for _, job := range jobs {
		job.Visible = false
		payload, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("encode job %d: %w", job.ID, err)
		}
		lastModified := job.LastModified.UTC().Format(lastModifiedLayout)
		if _, err := stmt.Exec(repo, job.ID, job.PushID, job.TaskID, job.RetryID, lastModified, string(payload)); err != nil {
			return fmt.Errorf("upsert job %d: %w", job.ID, err)
		}
	}
	return nil
}

// RecentPushes returns the newest cached pushes of repo, newest first
func (db *DB) RecentPushes(repo string, limit int) ([]model.Push, error) {
	rows, err := db.Query(`
		SELECT payload
		FROM pushes
		WHERE repo = ?
		ORDER BY push_timestamp DESC, id DESC
		LIMIT ?
	`, repo, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pushes := []model.Push{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var push model.Push
		if err := json.Unmarshal([]byte(payload), &push); err != nil {
			return nil, fmt.Errorf("decode cached push: %w", err)
		}
		pushes = append(pushes, push)
	}
	return pushes, rows.Err()
}

// JobsForPushes returns the cached jobs of the given pushes ordered by id
func (db *DB) JobsForPushes(repo string, pushIDs []int) ([]model.Job, error) {
	jobs := []model.Job{}
	if len(pushIDs) == 0 {
		return jobs, nil
	}

	args := make([]any, 0, len(pushIDs)+1)
	args = append(args, repo)
	for _, id := range pushIDs {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(pushIDs)), ", ")

	rows, err := db.Query(`
		SELECT payload
		FROM jobs
		WHERE repo = ? AND push_id IN (`+placeholders+`)
		ORDER BY id
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var job model.Job
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			return nil, fmt.Errorf("decode cached job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CountPushes returns how many pushes of repo are cached
func (db *DB) CountPushes(repo string) (int, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM pushes WHERE repo = ?", repo).Scan(&count)
	return count, err
}

// PrunePushes keeps the newest keep pushes of repo and deletes the rest
// along with their jobs. It returns the number of pushes removed.
func (db *DB) PrunePushes(repo string, keep int) (int64, error) {
	var removed int64
	err := db.WithTransaction(func(tx *Tx) error {
		stale := `
			SELECT id FROM pushes
			WHERE repo = ?
			ORDER BY push_timestamp DESC, id DESC
			LIMIT -1 OFFSET ?
		`
		if _, err := tx.Exec("DELETE FROM jobs WHERE repo = ? AND push_id IN ("+stale+")", repo, repo, keep); err != nil {
			return fmt.Errorf("prune jobs: %w", err)
		}
		result, err := tx.Exec("DELETE FROM pushes WHERE repo = ? AND id IN ("+stale+")", repo, repo, keep)
		if err != nil {
			return fmt.Errorf("prune pushes: %w", err)
		}
		removed, err = result.RowsAffected()
		return err
	})
	return removed, err
}
