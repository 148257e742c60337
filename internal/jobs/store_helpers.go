package jobs

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const jobColumns = "id, status, version, snapshot_json, claimed_by, created_at, updated_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id        string
		status    string
		version   int64
		snapshot  string
		claimedBy sql.NullString
		created   sql.NullString
		updated   sql.NullString
	)
	if err := scanner.Scan(&id, &status, &version, &snapshot, &claimedBy, &created, &updated); err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal([]byte(snapshot), &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	job.ID = id
	job.Version = version
	if t, err := parseTimeString(created.String); err == nil {
		job.CreatedAt = t
	}
	if t, err := parseTimeString(updated.String); err == nil {
		job.UpdatedAt = t
	}
	return &job, nil
}

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
