package artifacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
	"mediaflow/internal/objectstore"
	"mediaflow/internal/pipeline"
)

// Policy controls sync for one stage.
type Policy struct {
	ArtifactFields []string
	Disabled       bool
	SkipFields     []string
	RequireRemote  bool
}

// PolicyFor derives the sync policy from a stage definition.
func PolicyFor(stage *pipeline.Stage) Policy {
	return Policy{
		ArtifactFields: stage.Artifacts,
		Disabled:       stage.DisableSync,
		SkipFields:     stage.SkipSync,
		RequireRemote:  stage.RequireRemote,
	}
}

// Report lists what a Sync call did per field.
type Report struct {
	Uploaded []string `json:"uploaded,omitempty"`
	Skipped  []string `json:"skipped,omitempty"`
	Failed   []string `json:"failed,omitempty"`
}

// SyncError is returned when a stage that requires remote copies could not
// upload every artifact.
type SyncError struct {
	Stage  string
	Fields []string
	Err    error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s: %s failed: %v", e.Stage, strings.Join(e.Fields, ", "), e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

func (e *SyncError) ErrorKind() string { return jobs.KindSync }

func (e *SyncError) Retryable() bool { return true }

// Skip reasons recorded in logs.
const (
	skipDisabled      = "disabled"
	skipAlreadySynced = "already_synced"
	skipAlreadyRemote = "already_remote"
	skipNoValue       = "no_value"
	skipNotAPath      = "not_a_path"
)

// RemoteField returns the derived remote field name for field.
func RemoteField(field string, list bool) string {
	if list {
		return field + jobs.RemoteURLsSuffix
	}
	return field + jobs.RemoteURLSuffix
}

// Manager uploads artifacts through an object store.
type Manager struct {
	store  objectstore.Store
	logger *slog.Logger
}

// NewManager returns a manager. A nil store disables sync globally.
func NewManager(store objectstore.Store, logger *slog.Logger) *Manager {
	return &Manager{store: store, logger: logging.NewComponentLogger(logger, "artifact-sync")}
}

// Enabled reports whether a remote store is configured.
func (m *Manager) Enabled() bool {
	return m != nil && m.store != nil
}

// Sync uploads every declared artifact of exec that has no remote copy yet
// and records the derived remote fields in exec.Output.
func (m *Manager) Sync(ctx context.Context, stage string, exec *jobs.StageExecution, namespace string, policy Policy) (Report, error) {
	var report Report
	logger := logging.WithContext(ctx, m.logger).With(logging.String(logging.FieldStage, stage))
	if !m.Enabled() || policy.Disabled {
		logger.Debug("artifact sync disabled", logging.String(logging.FieldEventType, "artifact_sync_disabled"))
		return report, nil
	}
	if exec == nil || exec.Status != jobs.StatusSuccess {
		return report, fmt.Errorf("sync %s: stage is not successful", stage)
	}

	used := make(map[string]struct{})
	var failures []error
	for _, field := range policy.ArtifactFields {
		skip := func(reason string) {
			report.Skipped = append(report.Skipped, field)
			logger.Info("artifact sync skipped",
				logging.String(logging.FieldEventType, "artifact_sync_skip"),
				logging.String("field", field),
				logging.String("reason", reason),
			)
		}
		if slices.Contains(policy.SkipFields, field) {
			skip(skipDisabled)
			continue
		}
		value, ok := exec.Output[field]
		if !ok || value == nil || value == "" {
			skip(skipNoValue)
			continue
		}

		var (
			remoteField string
			remoteValue any
			reason      string
			err         error
		)
		switch v := value.(type) {
		case string:
			remoteField = RemoteField(field, false)
			if _, exists := exec.Output[remoteField]; exists {
				skip(skipAlreadySynced)
				continue
			}
			if objectstore.IsRemoteURL(v) {
				skip(skipAlreadyRemote)
				continue
			}
			remoteValue, err = m.upload(ctx, namespace, stage, v, used)
		case []any, []string:
			remoteField = RemoteField(field, true)
			if existing, exists := exec.Output[remoteField]; exists && !isEmptyList(existing) {
				skip(skipAlreadySynced)
				continue
			}
			remoteValue, reason, err = m.uploadList(ctx, namespace, stage, toStrings(v), used)
			if reason != "" {
				skip(reason)
				continue
			}
		default:
			skip(skipNotAPath)
			continue
		}

		if err != nil {
			report.Failed = append(report.Failed, field)
			failures = append(failures, fmt.Errorf("%s: %w", field, err))
			logging.WarnWithContext(logger, "artifact sync failed", "artifact_sync_failed",
				logging.String("field", field),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check storage credentials and that the worker wrote the file"),
				logging.String(logging.FieldImpact, "local artifact remains authoritative; remote copy missing"),
			)
			continue
		}
		if exec.Output == nil {
			exec.Output = make(map[string]any)
		}
		exec.Output[remoteField] = remoteValue
		report.Uploaded = append(report.Uploaded, field)
		logger.Info("artifact uploaded",
			logging.String(logging.FieldEventType, "artifact_sync_upload"),
			logging.String("field", field),
			logging.String("remote_field", remoteField),
		)
	}

	if len(failures) > 0 && policy.RequireRemote {
		return report, &SyncError{Stage: stage, Fields: report.Failed, Err: errors.Join(failures...)}
	}
	return report, nil
}

func (m *Manager) upload(ctx context.Context, namespace, stage, localPath string, used map[string]struct{}) (string, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("local artifact: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("local artifact %s is a directory", localPath)
	}
	key := uniqueKey(objectstore.Key(namespace, stage, filepath.Base(localPath)), used)
	return m.store.Put(ctx, localPath, key)
}

// uploadList uploads every local entry of a list field. The remote list is
// written only when every entry succeeded, so a partial failure is retried
// in full on the next sync. Entries that are already URLs pass through.
func (m *Manager) uploadList(ctx context.Context, namespace, stage string, values []string, used map[string]struct{}) ([]any, string, error) {
	if values == nil {
		return nil, skipNotAPath, nil
	}
	if len(values) == 0 {
		return nil, skipNoValue, nil
	}
	out := make([]any, 0, len(values))
	local := 0
	for _, value := range values {
		if objectstore.IsRemoteURL(value) {
			out = append(out, value)
			continue
		}
		local++
		remote, err := m.upload(ctx, namespace, stage, value, used)
		if err != nil {
			return nil, "", err
		}
		out = append(out, remote)
	}
	if local == 0 {
		return nil, skipAlreadyRemote, nil
	}
	return out, "", nil
}

func uniqueKey(key string, used map[string]struct{}) string {
	candidate := key
	ext := path.Ext(key)
	stem := strings.TrimSuffix(key, ext)
	for i := 1; ; i++ {
		if _, taken := used[candidate]; !taken {
			used[candidate] = struct{}{}
			return candidate
		}
		candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
	}
}

func toStrings(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok || s == "" {
				return nil
			}
			out = append(out, s)
		}
		return out
	}
	return nil
}

func isEmptyList(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case []any:
		return len(v) == 0
	case []string:
		return len(v) == 0
	}
	return false
}
