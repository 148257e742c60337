package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// mutateAttempts bounds compare-and-swap retries when writers race on one job.
const mutateAttempts = 8

// Create persists a new job at version 1.
func (s *Store) Create(ctx context.Context, job *Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidJob)
	}
	now := s.clock()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	job.Version = 1
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO jobs (id, status, version, snapshot_json, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Status()), job.Version, string(payload), formatTime(job.CreatedAt), formatTime(now),
	); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Get returns the latest snapshot of a job or ErrJobNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns jobs newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, statuses ...JobStatus) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	query += ` ORDER BY created_at DESC`
	return s.queryJobs(ctx, query, args...)
}

// NextPending returns the oldest unclaimed job that still has work to do.
func (s *Store) NextPending(ctx context.Context) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+jobColumns+` FROM jobs
         WHERE status IN (?, ?) AND claimed_by IS NULL
         ORDER BY created_at ASC LIMIT 1`,
		string(JobPending), string(JobRunning),
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next pending job: %w", err)
	}
	return job, nil
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]*Job, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// Mutate applies fn to a private copy of the latest snapshot and commits it
// only if no other writer advanced the version in between. On conflict the
// snapshot is reloaded and fn runs again. An error from fn aborts without
// writing anything.
func (s *Store) Mutate(ctx context.Context, id string, fn func(*Job) error) (*Job, error) {
	ctx = ensureContext(ctx)
	for attempt := 0; attempt < mutateAttempts; attempt++ {
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		next, err := current.Clone()
		if err != nil {
			return nil, err
		}
		if err := fn(next); err != nil {
			return nil, err
		}
		next.ID = current.ID
		next.CreatedAt = current.CreatedAt
		next.Version = current.Version + 1
		next.UpdatedAt = s.clock()

		payload, err := json.Marshal(next)
		if err != nil {
			return nil, fmt.Errorf("encode job: %w", err)
		}
		res, err := s.execWithRetry(ctx,
			`UPDATE jobs SET snapshot_json = ?, status = ?, version = ?, updated_at = ?
             WHERE id = ? AND version = ?`,
			string(payload), string(next.Status()), next.Version, formatTime(next.UpdatedAt),
			id, current.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("update job: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			return next, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrVersionConflict, id)
}

// ClaimJob marks a job as owned by owner. It returns false when another
// owner already holds it.
func (s *Store) ClaimJob(ctx context.Context, id, owner string) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET claimed_by = ? WHERE id = ? AND claimed_by IS NULL`, owner, id)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseClaim drops owner's claim on a job.
func (s *Store) ReleaseClaim(ctx context.Context, id, owner string) error {
	if _, err := s.execWithRetry(ctx,
		`UPDATE jobs SET claimed_by = NULL WHERE id = ? AND claimed_by = ?`, id, owner); err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

// ForegroundClaimPrefix marks claims held by a foreground CLI run rather
// than by the daemon.
const ForegroundClaimPrefix = "cli:"

// ReleaseDaemonClaims clears every claim not held by a foreground run. The
// daemon calls it at startup since it is the only daemon instance; claims of
// CLI runs stay with their process.
func (s *Store) ReleaseDaemonClaims(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET claimed_by = NULL
         WHERE claimed_by IS NOT NULL AND substr(claimed_by, 1, ?) != ?`,
		len(ForegroundClaimPrefix), ForegroundClaimPrefix)
	if err != nil {
		return 0, fmt.Errorf("release claims: %w", err)
	}
	return res.RowsAffected()
}

// StageHeartbeat refreshes the heartbeat of a running stage.
func (s *Store) StageHeartbeat(ctx context.Context, id, stage string) error {
	_, err := s.Mutate(ctx, id, func(job *Job) error {
		exec := job.Stage(stage)
		if exec == nil || exec.Status != StatusRunning {
			return fmt.Errorf("%w: heartbeat for %s in state %v", ErrInvalidTransition, stage, statusOf(exec))
		}
		now := s.clock()
		exec.Heartbeat = &now
		return nil
	})
	if err != nil {
		return fmt.Errorf("stage heartbeat: %w", err)
	}
	return nil
}

// ReclaimStaleStages fails running stages whose heartbeat is older than
// cutoff with a retryable interrupted error. It returns the number reclaimed.
func (s *Store) ReclaimStaleStages(ctx context.Context, cutoff time.Time) (int, error) {
	running, err := s.List(ctx, JobRunning)
	if err != nil {
		return 0, err
	}
	reclaimed := 0
	for _, candidate := range running {
		if !hasStaleStage(candidate, cutoff) {
			continue
		}
		count := 0
		_, err := s.Mutate(ctx, candidate.ID, func(job *Job) error {
			count = 0
			now := s.clock()
			for _, entry := range job.Stages {
				exec := entry.Exec
				if exec.Status != StatusRunning || !isStale(exec, cutoff) {
					continue
				}
				stageErr := &StageError{
					Kind:      KindInterrupted,
					Message:   "stage heartbeat expired; executor stopped before the stage finished",
					Retryable: true,
				}
				if err := exec.Fail(stageErr, now); err != nil {
					return err
				}
				job.Error = fmt.Sprintf("stage %s interrupted", entry.Name)
				count++
			}
			return nil
		})
		if err != nil {
			return reclaimed, fmt.Errorf("reclaim job %s: %w", candidate.ID, err)
		}
		reclaimed += count
	}
	return reclaimed, nil
}

func hasStaleStage(job *Job, cutoff time.Time) bool {
	for _, entry := range job.Stages {
		if entry.Exec.Status == StatusRunning && isStale(entry.Exec, cutoff) {
			return true
		}
	}
	return false
}

func isStale(exec *StageExecution, cutoff time.Time) bool {
	return exec.Heartbeat == nil || exec.Heartbeat.Before(cutoff)
}

func statusOf(exec *StageExecution) Status {
	if exec == nil {
		return ""
	}
	return exec.Status
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[JobStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[JobStatus(status)] = count
	}
	return stats, rows.Err()
}

// Remove deletes a job that is not running.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE id = ? AND status != ?`, id, string(JobRunning))
	if err != nil {
		return false, fmt.Errorf("remove job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
