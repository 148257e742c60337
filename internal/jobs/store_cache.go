package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CacheEntry is one row of the stage cache index.
type CacheEntry struct {
	Stage       string
	Fingerprint string
	JobID       string
	Output      map[string]any
	CreatedAt   time.Time
}

// LookupCache returns the most recent output recorded for stage and
// fingerprint, or nil when none exists.
func (s *Store) LookupCache(ctx context.Context, stage, fingerprint string) (*CacheEntry, error) {
	if fingerprint == "" {
		return nil, nil
	}
	var (
		jobID   string
		payload string
		created sql.NullString
	)
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT job_id, output_json, created_at FROM stage_cache WHERE stage = ? AND fingerprint = ?`,
		stage, fingerprint,
	).Scan(&jobID, &payload, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup cache: %w", err)
	}
	entry := &CacheEntry{Stage: stage, Fingerprint: fingerprint, JobID: jobID}
	if err := json.Unmarshal([]byte(payload), &entry.Output); err != nil {
		return nil, fmt.Errorf("decode cached output: %w", err)
	}
	if t, err := parseTimeString(created.String); err == nil {
		entry.CreatedAt = t
	}
	return entry, nil
}

// RecordCache stores output as the reusable result for stage and fingerprint.
func (s *Store) RecordCache(ctx context.Context, stage, fingerprint, jobID string, output map[string]any) error {
	if fingerprint == "" {
		return nil
	}
	payload, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("encode cached output: %w", err)
	}
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO stage_cache (stage, fingerprint, job_id, output_json, created_at) VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(stage, fingerprint) DO UPDATE SET
             job_id = excluded.job_id, output_json = excluded.output_json, created_at = excluded.created_at`,
		stage, fingerprint, jobID, string(payload), formatTime(s.clock()),
	); err != nil {
		return fmt.Errorf("record cache: %w", err)
	}
	return nil
}

// PurgeCache removes cache rows for stage, or all rows when stage is empty.
func (s *Store) PurgeCache(ctx context.Context, stage string) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if stage == "" {
		res, err = s.execWithRetry(ctx, `DELETE FROM stage_cache`)
	} else {
		res, err = s.execWithRetry(ctx, `DELETE FROM stage_cache WHERE stage = ?`, stage)
	}
	if err != nil {
		return 0, fmt.Errorf("purge cache: %w", err)
	}
	return res.RowsAffected()
}
