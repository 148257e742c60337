package stagecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"mediaflow/internal/jobs"
	"mediaflow/internal/pipeline"
)

// IsAbsent reports whether value is the cache sentinel for "no value".
func IsAbsent(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	default:
		return false
	}
}

// CanReuse reports whether previous holds every required field with a
// non-sentinel value. Keys are checked for existence first, so records that
// predate newly added optional fields stay reusable.
func CanReuse(required []string, previous map[string]any) bool {
	return len(MissingFields(required, previous)) == 0 && previous != nil
}

// MissingFields lists the required fields that are absent from previous.
func MissingFields(required []string, previous map[string]any) []string {
	var missing []string
	for _, field := range required {
		value, ok := previous[field]
		if !ok || IsAbsent(value) {
			missing = append(missing, field)
		}
	}
	return missing
}

// Fingerprint hashes the stage name and the declared cache fields of params.
// Parameters outside fields never influence the result.
func Fingerprint(stage string, params map[string]any, fields []string) (string, error) {
	if len(fields) == 0 {
		return "", nil
	}
	keys := append([]string(nil), fields...)
	sort.Strings(keys)
	selected := make(map[string]any, len(keys))
	for _, key := range keys {
		selected[key] = params[key]
	}
	payload, err := json.Marshal(struct {
		Stage  string         `json:"stage"`
		Fields map[string]any `json:"fields"`
	}{Stage: stage, Fields: selected})
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", stage, err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// Index is the persisted cache lookup used by Check and Record.
type Index interface {
	LookupCache(ctx context.Context, stage, fingerprint string) (*jobs.CacheEntry, error)
	RecordCache(ctx context.Context, stage, fingerprint, jobID string, output map[string]any) error
}

// Decision is the outcome of a cache check.
type Decision struct {
	Fingerprint string
	Hit         bool
	Output      map[string]any
	SourceJobID string
	// Inconsistent marks a candidate record that lacked required fields.
	// The caller falls back to full execution.
	Inconsistent bool
	Missing      []string
}

// Check fingerprints params for stage and consults the index.
func Check(ctx context.Context, index Index, stage *pipeline.Stage, params map[string]any) (Decision, error) {
	if !stage.Cacheable() || index == nil {
		return Decision{}, nil
	}
	fp, err := Fingerprint(stage.Name, params, stage.CacheFields)
	if err != nil {
		return Decision{}, err
	}
	decision := Decision{Fingerprint: fp}
	entry, err := index.LookupCache(ctx, stage.Name, fp)
	if err != nil {
		return decision, err
	}
	if entry == nil {
		return decision, nil
	}
	if missing := MissingFields(stage.ReuseFields, entry.Output); len(missing) > 0 || entry.Output == nil {
		decision.Inconsistent = true
		decision.Missing = missing
		return decision, nil
	}
	decision.Hit = true
	decision.Output = entry.Output
	decision.SourceJobID = entry.JobID
	return decision, nil
}

// Record stores output for a later Check when the stage is cacheable.
func Record(ctx context.Context, index Index, stage *pipeline.Stage, fingerprint, jobID string, output map[string]any) error {
	if !stage.Cacheable() || index == nil || fingerprint == "" {
		return nil
	}
	return index.RecordCache(ctx, stage.Name, fingerprint, jobID, output)
}
