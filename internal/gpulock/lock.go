package gpulock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"mediaflow/internal/jobs"
)

var (
	// ErrResourceUnavailable marks a lock wait that timed out.
	ErrResourceUnavailable = errors.New("resource unavailable")
	// ErrLeaseLost is returned by Renew when another holder took over.
	ErrLeaseLost = errors.New("lease lost")
)

// releaseTimeout bounds cleanup when the caller's context is already done.
const releaseTimeout = 5 * time.Second

// UnavailableError reports a timed out acquisition.
type UnavailableError struct {
	Resource string
	Holder   string
	Waited   time.Duration
}

func (e *UnavailableError) Error() string {
	msg := fmt.Sprintf("resource %s unavailable after %s", e.Resource, e.Waited.Round(time.Millisecond))
	if e.Holder != "" {
		msg += " (held by " + e.Holder + ")"
	}
	return msg
}

func (e *UnavailableError) Is(target error) bool { return target == ErrResourceUnavailable }

func (e *UnavailableError) ErrorKind() string { return jobs.KindResourceUnavailable }

func (e *UnavailableError) Retryable() bool { return true }

// Ticket is the proof of ownership for one acquisition.
type Ticket struct {
	Resource   string
	Holder     string
	Token      string
	AcquiredAt time.Time
	Waited     time.Duration

	released bool
	release  func(context.Context) error
}

// Holder describes the current owner of a resource for inspection.
type Holder struct {
	Resource   string    `json:"resource"`
	Backend    string    `json:"backend"`
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
	RenewedAt  time.Time `json:"renewed_at,omitzero"`
	ExpiresAt  time.Time `json:"expires_at,omitzero"`
	// Stale marks an expired lease that the next acquirer will reclaim.
	Stale bool `json:"stale"`
}

// Locker is an exclusive, restart-safe resource lock.
type Locker interface {
	// Acquire waits up to timeout, polling every poll, for the resource.
	Acquire(ctx context.Context, timeout, poll time.Duration) (*Ticket, error)
	// Release gives the resource back. It is idempotent and accepts nil.
	Release(ctx context.Context, ticket *Ticket) error
	// Renew extends the holder's claim.
	Renew(ctx context.Context, ticket *Ticket) error
	// Inspect reports the current holder, or nil when the resource is free.
	Inspect(ctx context.Context) (*Holder, error)
	// Resource names the guarded resource.
	Resource() string
}

// HolderID builds a holder identity that is unique per process.
func HolderID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString()[:8])
}

// pollAcquire calls try until it succeeds, the timeout elapses, or ctx ends.
// try is always attempted at least once.
func pollAcquire(ctx context.Context, timeout, poll time.Duration, try func() (bool, error)) (time.Duration, error) {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	start := time.Now()
	deadline := start.Add(timeout)
	for {
		ok, err := try()
		if err != nil {
			return time.Since(start), err
		}
		if ok {
			return time.Since(start), nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return time.Since(start), ErrResourceUnavailable
		}
		wait := poll
		if wait > remaining {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return time.Since(start), ctx.Err()
		case <-timer.C:
		}
	}
}

func releaseContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
}

func releaseTicket(ctx context.Context, ticket *Ticket) error {
	if ticket == nil || ticket.released || ticket.release == nil {
		return nil
	}
	rctx, cancel := releaseContext(ctx)
	defer cancel()
	if err := ticket.release(rctx); err != nil {
		return err
	}
	ticket.released = true
	return nil
}
