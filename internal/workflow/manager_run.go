package workflow

import (
	"context"
	"errors"
	"time"

	"mediaflow/internal/logging"
	"mediaflow/internal/services"
	"mediaflow/internal/stageexec"
)

// Start begins background processing. Claims left by a previous daemon are
// released and stages whose heartbeat expired are failed as interrupted
// first. Foreground CLI runs keep their claims and live stages.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	m.mu.Unlock()

	if released, err := m.store.ReleaseDaemonClaims(ctx); err != nil {
		return err
	} else if released > 0 {
		m.logger.Info("released stale job claims", logging.Int64("count", released))
	}
	if err := m.heartbeat.ReclaimStale(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("workflow already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	go m.loop(runCtx)
	return nil
}

// Stop terminates background processing and waits for in-flight jobs.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) loop(ctx context.Context) {
	defer m.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}

		if err := m.heartbeat.ReclaimStale(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.WarnWithContext(m.logger, "reclaim stale stages failed; stuck stages may remain", "heartbeat_reclaim_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check job database access"),
			)
		}

		select {
		case m.slots <- struct{}{}:
		case <-ctx.Done():
			return
		}

		job, err := m.store.NextPending(ctx)
		if err != nil {
			<-m.slots
			m.handleNextJobError(ctx, err)
			continue
		}
		if job == nil {
			<-m.slots
			m.waitOrShutdown(ctx, m.pollInterval)
			continue
		}
		claimed, err := m.store.ClaimJob(ctx, job.ID, m.owner)
		if err != nil || !claimed {
			<-m.slots
			if err != nil {
				m.handleNextJobError(ctx, err)
			}
			continue
		}

		m.wg.Add(1)
		go m.process(ctx, job.ID)
	}
}

func (m *Manager) process(ctx context.Context, jobID string) {
	defer m.wg.Done()
	defer func() { <-m.slots }()

	m.trackActive(jobID, true)
	m.metrics.JobStarted()
	defer func() {
		m.metrics.JobFinished()
		m.trackActive(jobID, false)
	}()

	jobCtx := services.WithJobID(ctx, jobID)
	logger := logging.WithContext(jobCtx, m.logger)
	logger.Info("job processing started", logging.String(logging.FieldEventType, "job_start"))

	job, err := m.runner.RunJob(jobCtx, jobID)
	m.setLastJob(jobID)
	switch {
	case err == nil:
		logger.Info("job processing finished",
			logging.String(logging.FieldEventType, "job_complete"),
			logging.String("status", string(job.Status())),
		)
	case errors.Is(err, stageexec.ErrStageFailed),
		errors.Is(err, stageexec.ErrJobCancelled),
		errors.Is(err, stageexec.ErrJobFailed):
		// Terminal outcome already persisted and logged by the executor.
		logger.Info("job processing stopped",
			logging.String(logging.FieldEventType, "job_stopped"),
			logging.String("reason", err.Error()),
		)
	case errors.Is(err, context.Canceled):
		logger.Info("job processing interrupted by shutdown")
	default:
		m.setLastError(err)
		logging.ErrorWithContext(logger, "job processing error", "job_error",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the job is retried after the error retry interval"),
		)
		// Hold the claim so the loop does not spin on the same job.
		m.waitOrShutdown(ctx, m.retryDelay)
	}

	if err := m.store.ReleaseClaim(context.WithoutCancel(ctx), jobID, m.owner); err != nil {
		logger.Warn("release job claim failed", logging.Error(err))
	}
}

func (m *Manager) handleNextJobError(ctx context.Context, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	m.setLastError(err)
	logging.ErrorWithContext(m.logger, "failed to fetch next job", "queue_fetch_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check job database access"),
	)
	m.waitOrShutdown(ctx, m.retryDelay)
}

func (m *Manager) waitOrShutdown(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Active returns the ids of jobs currently being processed.
func (m *Manager) Active() map[string]time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]time.Time, len(m.active))
	for id, started := range m.active {
		out[id] = started
	}
	return out
}

func (m *Manager) trackActive(jobID string, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if on {
		m.active[jobID] = time.Now()
		return
	}
	delete(m.active, jobID)
}
