package gpulock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mediaflow/internal/config"
	"mediaflow/internal/logging"
)

// GuardOptions tunes one guarded section.
type GuardOptions struct {
	Timeout time.Duration
	Poll    time.Duration
	// RenewEvery is the heartbeat period; zero disables renewal.
	RenewEvery time.Duration
	Logger     *slog.Logger
	// OnAcquired runs after the lock is held, before fn.
	OnAcquired func(*Ticket)
}

// Guard acquires locker, keeps the claim renewed while fn runs, and releases
// it on every exit path including panics.
func Guard(ctx context.Context, locker Locker, opts GuardOptions, fn func(context.Context) error) (err error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	ticket, err := locker.Acquire(ctx, opts.Timeout, opts.Poll)
	if err != nil {
		return err
	}
	logger.Info("resource lock acquired",
		logging.String(logging.FieldEventType, "lock_acquired"),
		logging.String("resource", ticket.Resource),
		logging.Duration("waited", ticket.Waited),
	)

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		stopHeartbeat()
		wg.Wait()
		if releaseErr := locker.Release(ctx, ticket); releaseErr != nil {
			logging.WarnWithContext(logger, "resource lock release failed", "lock_release_failed",
				logging.String("resource", ticket.Resource),
				logging.Error(releaseErr),
				logging.String(logging.FieldErrorHint, "the lease expires on its own after the configured ttl"),
			)
			if err == nil {
				err = releaseErr
			}
			return
		}
		logger.Info("resource lock released",
			logging.String(logging.FieldEventType, "lock_released"),
			logging.String("resource", ticket.Resource),
		)
	}()

	if opts.RenewEvery > 0 {
		wg.Add(1)
		go renewLoop(heartbeatCtx, &wg, locker, ticket, opts.RenewEvery, logger)
	}
	if opts.OnAcquired != nil {
		opts.OnAcquired(ticket)
	}
	return fn(ctx)
}

func renewLoop(ctx context.Context, wg *sync.WaitGroup, locker Locker, ticket *Ticket, every time.Duration, logger *slog.Logger) {
	defer wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := locker.Renew(ctx, ticket); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				logging.ErrorWithContext(logger, "resource lock renew failed", "lock_renew_failed",
					logging.String("resource", ticket.Resource),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "another holder may now own the resource"),
				)
			}
		}
	}
}

// New builds the locker selected by cfg.GPU.Backend.
func New(cfg *config.Config, store LeaseStore) (Locker, error) {
	switch cfg.GPU.Backend {
	case config.LockBackendLease, "":
		locker, err := NewLeaseLocker(store, cfg.GPU.Resource, "", cfg.LeaseTTL())
		if err != nil {
			return nil, err
		}
		return locker, nil
	case config.LockBackendFlock:
		locker, err := NewFileLocker(cfg.Paths.StateDir, cfg.GPU.Resource, "")
		if err != nil {
			return nil, err
		}
		return locker, nil
	default:
		return nil, fmt.Errorf("gpu.backend: unsupported value %q", cfg.GPU.Backend)
	}
}

// DefaultOptions derives guard timings from cfg. Renewal runs at a third of
// the lease ttl.
func DefaultOptions(cfg *config.Config, logger *slog.Logger) GuardOptions {
	return GuardOptions{
		Timeout:    cfg.AcquireTimeout(),
		Poll:       cfg.PollInterval(),
		RenewEvery: cfg.LeaseTTL() / 3,
		Logger:     logger,
	}
}
