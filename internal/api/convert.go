package api

import (
	"context"
	"sort"

	"mediaflow/internal/gpulock"
	"mediaflow/internal/worker"
	"mediaflow/internal/workflow"
)

// FromStatusSummary converts workflow diagnostics into the API shape.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	status := WorkflowStatus{
		Running:   summary.Running,
		Owner:     summary.Owner,
		LastError: summary.LastError,
		LastJobID: summary.LastJobID,
		JobStats:  make(map[string]int, len(summary.JobStats)),
	}
	for key, count := range summary.JobStats {
		status.JobStats[string(key)] = count
	}
	if len(summary.ActiveJobs) > 0 {
		status.ActiveJobs = make(map[string]string, len(summary.ActiveJobs))
		for id, started := range summary.ActiveJobs {
			status.ActiveJobs[id] = formatTime(started)
		}
	}
	return status
}

// StageHealthSlice converts worker health in stage name order.
func StageHealthSlice(health []worker.Health) []StageHealth {
	out := make([]StageHealth, 0, len(health))
	for _, h := range health {
		out = append(out, StageHealth{Name: h.Stage, Ready: h.Ready, Detail: h.Detail})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// InspectLock reports the current holder of the locker's resource.
func InspectLock(ctx context.Context, locker gpulock.Locker) (LockStatus, error) {
	status := LockStatus{Resource: locker.Resource()}
	holder, err := locker.Inspect(ctx)
	if err != nil {
		return status, err
	}
	if holder != nil {
		status.Holder = holder
		status.Held = !holder.Stale
	}
	return status, nil
}
