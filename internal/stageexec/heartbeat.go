package stageexec

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
)

// startHeartbeat refreshes the running stage's heartbeat until the returned
// stop function is called.
func startHeartbeat(ctx context.Context, store *jobs.Store, logger *slog.Logger, every time.Duration, jobID, stage string) func() {
	if every <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := store.StageHeartbeat(ctx, jobID, stage); err != nil {
					if errors.Is(err, context.Canceled) {
						return
					}
					logger.Warn("stage heartbeat failed",
						logging.String(logging.FieldEventType, "heartbeat_failed"),
						logging.Error(err),
					)
				}
			}
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}
