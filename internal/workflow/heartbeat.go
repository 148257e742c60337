package workflow

import (
	"context"
	"log/slog"
	"time"

	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
	"mediaflow/internal/metrics"
)

// HeartbeatMonitor fails running stages whose executor stopped sending
// heartbeats.
type HeartbeatMonitor struct {
	store            *jobs.Store
	logger           *slog.Logger
	metrics          *metrics.Metrics
	heartbeatTimeout time.Duration
}

// NewHeartbeatMonitor creates a new monitor. A non-positive timeout disables
// periodic reclamation.
func NewHeartbeatMonitor(store *jobs.Store, logger *slog.Logger, m *metrics.Metrics, timeout time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		store:            store,
		logger:           logger,
		metrics:          m,
		heartbeatTimeout: timeout,
	}
}

// ReclaimStale fails stages whose heartbeat is older than the timeout.
func (h *HeartbeatMonitor) ReclaimStale(ctx context.Context) error {
	if h.heartbeatTimeout <= 0 {
		return nil
	}
	return h.reclaim(ctx, h.store.Now().Add(-h.heartbeatTimeout))
}

func (h *HeartbeatMonitor) reclaim(ctx context.Context, cutoff time.Time) error {
	reclaimed, err := h.store.ReclaimStaleStages(ctx, cutoff)
	if err != nil {
		return err
	}
	if reclaimed > 0 {
		h.metrics.StagesReclaimed(reclaimed)
		logging.WarnWithContext(h.logger, "reclaimed stale stages", "heartbeat_reclaimed",
			logging.Int("count", reclaimed),
			logging.String(logging.FieldErrorHint, "retry the interrupted stages once the cause is understood"),
			logging.String(logging.FieldImpact, "affected jobs are marked failed"),
		)
	}
	return nil
}
