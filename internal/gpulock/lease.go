package gpulock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mediaflow/internal/jobs"
)

// LeaseStore is the persistence the lease backend needs.
type LeaseStore interface {
	TryAcquireLease(ctx context.Context, resource, holder, token string, ttl time.Duration) (bool, error)
	RenewLease(ctx context.Context, resource, token string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, resource, token string) (bool, error)
	GetLease(ctx context.Context, resource string) (*jobs.Lease, error)
	Now() time.Time
}

// LeaseLocker keeps the lock as a lease row with an expiry.
type LeaseLocker struct {
	store    LeaseStore
	resource string
	holder   string
	ttl      time.Duration
}

// NewLeaseLocker returns a lease-backed locker for resource.
func NewLeaseLocker(store LeaseStore, resource, holder string, ttl time.Duration) (*LeaseLocker, error) {
	if store == nil {
		return nil, errors.New("lease locker requires a store")
	}
	if resource == "" {
		return nil, errors.New("lease locker requires a resource name")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("lease ttl must be positive, got %s", ttl)
	}
	if holder == "" {
		holder = HolderID()
	}
	return &LeaseLocker{store: store, resource: resource, holder: holder, ttl: ttl}, nil
}

func (l *LeaseLocker) Resource() string { return l.resource }

// TTL returns the lease lifetime.
func (l *LeaseLocker) TTL() time.Duration { return l.ttl }

func (l *LeaseLocker) Acquire(ctx context.Context, timeout, poll time.Duration) (*Ticket, error) {
	token := uuid.NewString()
	waited, err := pollAcquire(ctx, timeout, poll, func() (bool, error) {
		return l.store.TryAcquireLease(ctx, l.resource, l.holder, token, l.ttl)
	})
	if errors.Is(err, ErrResourceUnavailable) {
		unavailable := &UnavailableError{Resource: l.resource, Waited: waited}
		if lease, inspectErr := l.store.GetLease(ctx, l.resource); inspectErr == nil && lease != nil {
			unavailable.Holder = lease.Holder
		}
		return nil, unavailable
	}
	if err != nil {
		return nil, err
	}
	ticket := &Ticket{
		Resource:   l.resource,
		Holder:     l.holder,
		Token:      token,
		AcquiredAt: l.store.Now(),
		Waited:     waited,
	}
	ticket.release = func(ctx context.Context) error {
		_, err := l.store.ReleaseLease(ctx, l.resource, token)
		return err
	}
	return ticket, nil
}

func (l *LeaseLocker) Release(ctx context.Context, ticket *Ticket) error {
	return releaseTicket(ctx, ticket)
}

func (l *LeaseLocker) Renew(ctx context.Context, ticket *Ticket) error {
	if ticket == nil || ticket.released {
		return ErrLeaseLost
	}
	ok, err := l.store.RenewLease(ctx, l.resource, ticket.Token, l.ttl)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLeaseLost, l.resource)
	}
	return nil
}

func (l *LeaseLocker) Inspect(ctx context.Context) (*Holder, error) {
	lease, err := l.store.GetLease(ctx, l.resource)
	if err != nil || lease == nil {
		return nil, err
	}
	return &Holder{
		Resource:   lease.Resource,
		Backend:    "lease",
		Holder:     lease.Holder,
		AcquiredAt: lease.AcquiredAt,
		RenewedAt:  lease.RenewedAt,
		ExpiresAt:  lease.ExpiresAt,
		Stale:      lease.Expired(l.store.Now()),
	}, nil
}
