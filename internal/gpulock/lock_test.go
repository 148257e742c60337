package gpulock_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"mediaflow/internal/gpulock"
	"mediaflow/internal/jobs"
	"mediaflow/internal/testsupport"
)

func newLeaseLocker(t *testing.T, store *jobs.Store, holder string, ttl time.Duration) *gpulock.LeaseLocker {
	t.Helper()
	locker, err := gpulock.NewLeaseLocker(store, "gpu0", holder, ttl)
	if err != nil {
		t.Fatalf("NewLeaseLocker: %v", err)
	}
	return locker
}

func TestLeaseAcquireTimeoutIsResourceUnavailable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	first := newLeaseLocker(t, store, "job-a", time.Minute)
	second := newLeaseLocker(t, store, "job-b", time.Minute)

	held, err := first.Acquire(ctx, time.Second, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	start := time.Now()
	ticket, err := second.Acquire(ctx, 150*time.Millisecond, 20*time.Millisecond)
	if !errors.Is(err, gpulock.ErrResourceUnavailable) {
		t.Fatalf("expected ErrResourceUnavailable, got %v", err)
	}
	if ticket != nil {
		t.Fatal("timed out acquire must not return a ticket")
	}
	if waited := time.Since(start); waited < 150*time.Millisecond {
		t.Fatalf("returned before timeout: %s", waited)
	}
	var unavailable *gpulock.UnavailableError
	if !errors.As(err, &unavailable) || unavailable.Holder != "job-a" {
		t.Fatalf("expected holder in error, got %v", err)
	}
	stageErr := jobs.StageErrorFrom(err)
	if stageErr.Kind != jobs.KindResourceUnavailable || !stageErr.Retryable {
		t.Fatalf("unexpected stage error %#v", stageErr)
	}

	if err := second.Release(ctx, ticket); err != nil {
		t.Fatalf("releasing a nil ticket should be a no-op: %v", err)
	}
	holder, err := first.Inspect(ctx)
	if err != nil || holder == nil || holder.Holder != "job-a" {
		t.Fatalf("failed acquirer disturbed the holder: %#v, %v", holder, err)
	}

	if err := first.Release(ctx, held); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := first.Release(ctx, held); err != nil {
		t.Fatalf("second release should be idempotent: %v", err)
	}
	if holder, _ := first.Inspect(ctx); holder != nil {
		t.Fatalf("expected free resource, got %#v", holder)
	}
}

func TestLeaseWaiterProceedsAfterRelease(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	first := newLeaseLocker(t, store, "job-a", time.Minute)
	second := newLeaseLocker(t, store, "job-b", time.Minute)

	held, err := first.Acquire(ctx, time.Second, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = first.Release(ctx, held)
	}()
	ticket, err := second.Acquire(ctx, 2*time.Second, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("waiter should acquire after release: %v", err)
	}
	if ticket.Waited < 40*time.Millisecond {
		t.Fatalf("expected waiter to wait, waited %s", ticket.Waited)
	}
	_ = second.Release(ctx, ticket)
}

func TestStaleLeaseIsReclaimed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	crashed := newLeaseLocker(t, store, "crashed", 30*time.Millisecond)
	next := newLeaseLocker(t, store, "next", time.Minute)

	stale, err := crashed.Acquire(ctx, time.Second, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	ticket, err := next.Acquire(ctx, time.Second, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("stale lease should be reclaimed: %v", err)
	}
	if err := crashed.Renew(ctx, stale); !errors.Is(err, gpulock.ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost for reclaimed lease, got %v", err)
	}
	if err := crashed.Release(ctx, stale); err != nil {
		t.Fatalf("release of reclaimed lease: %v", err)
	}
	holder, _ := next.Inspect(ctx)
	if holder == nil || holder.Holder != "next" {
		t.Fatalf("stale holder's release removed the new lease: %#v", holder)
	}
	_ = next.Release(ctx, ticket)
}

func TestGuardReleasesOnErrorAndPanic(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	locker := newLeaseLocker(t, store, "guard", time.Minute)
	opts := gpulock.GuardOptions{Timeout: time.Second, Poll: 10 * time.Millisecond, RenewEvery: 5 * time.Millisecond}

	boom := errors.New("worker failed")
	var acquired atomic.Bool
	opts.OnAcquired = func(*gpulock.Ticket) { acquired.Store(true) }
	err := gpulock.Guard(ctx, locker, opts, func(context.Context) error {
		time.Sleep(20 * time.Millisecond)
		return boom
	})
	if !errors.Is(err, boom) || !acquired.Load() {
		t.Fatalf("expected worker error after acquire, got %v", err)
	}
	if holder, _ := locker.Inspect(ctx); holder != nil {
		t.Fatalf("lock leaked after error: %#v", holder)
	}

	func() {
		defer func() { _ = recover() }()
		_ = gpulock.Guard(ctx, locker, opts, func(context.Context) error { panic("crash") })
	}()
	if holder, _ := locker.Inspect(ctx); holder != nil {
		t.Fatalf("lock leaked after panic: %#v", holder)
	}
}

func TestFileLockerExclusive(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	first, err := gpulock.NewFileLocker(dir, "gpu0", "a")
	if err != nil {
		t.Fatalf("NewFileLocker: %v", err)
	}
	second, err := gpulock.NewFileLocker(dir, "gpu0", "b")
	if err != nil {
		t.Fatalf("NewFileLocker: %v", err)
	}

	held, err := first.Acquire(ctx, time.Second, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := second.Acquire(ctx, 60*time.Millisecond, 10*time.Millisecond); !errors.Is(err, gpulock.ErrResourceUnavailable) {
		t.Fatalf("expected ErrResourceUnavailable, got %v", err)
	}
	holder, err := second.Inspect(ctx)
	if err != nil || holder == nil || holder.Holder != "a" {
		t.Fatalf("unexpected holder %#v, %v", holder, err)
	}
	if err := first.Renew(ctx, held); err != nil {
		t.Fatalf("renew: %v", err)
	}
	if err := first.Release(ctx, held); err != nil {
		t.Fatalf("release: %v", err)
	}
	ticket, err := second.Acquire(ctx, time.Second, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	_ = second.Release(ctx, ticket)
}

func TestAcquireHonoursContextCancellation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	holderLock := newLeaseLocker(t, store, "a", time.Minute)
	waiter := newLeaseLocker(t, store, "b", time.Minute)
	held, err := holderLock.Acquire(context.Background(), time.Second, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer holderLock.Release(context.Background(), held)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := waiter.Acquire(ctx, time.Minute, 10*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got %v", err)
	}
}
