package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Lease is a time-bounded ownership record of a shared resource.
type Lease struct {
	Resource   string    `json:"resource"`
	Holder     string    `json:"holder"`
	Token      string    `json:"-"`
	AcquiredAt time.Time `json:"acquired_at"`
	RenewedAt  time.Time `json:"renewed_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the lease lapsed at now.
func (l *Lease) Expired(now time.Time) bool {
	return l == nil || !now.Before(l.ExpiresAt)
}

// TryAcquireLease takes the resource for holder when it is free or the
// current lease expired. It returns false when a live lease is held by
// someone else. The check and the write are one statement.
func (s *Store) TryAcquireLease(ctx context.Context, resource, holder, token string, ttl time.Duration) (bool, error) {
	now := s.clock()
	res, err := s.execWithRetry(ctx,
		`INSERT INTO resource_leases (resource, holder, token, acquired_at, renewed_at, expires_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(resource) DO UPDATE SET
             holder = excluded.holder, token = excluded.token, acquired_at = excluded.acquired_at,
             renewed_at = excluded.renewed_at, expires_at = excluded.expires_at
         WHERE resource_leases.expires_at <= ?`,
		resource, holder, token, formatTime(now), formatTime(now), formatTime(now.Add(ttl)),
		formatTime(now),
	)
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RenewLease extends the lease identified by token. It returns false when the
// lease was lost.
func (s *Store) RenewLease(ctx context.Context, resource, token string, ttl time.Duration) (bool, error) {
	now := s.clock()
	res, err := s.execWithRetry(ctx,
		`UPDATE resource_leases SET renewed_at = ?, expires_at = ?
         WHERE resource = ? AND token = ? AND expires_at > ?`,
		formatTime(now), formatTime(now.Add(ttl)), resource, token, formatTime(now),
	)
	if err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseLease deletes the lease only if token still owns it.
func (s *Store) ReleaseLease(ctx context.Context, resource, token string) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM resource_leases WHERE resource = ? AND token = ?`, resource, token)
	if err != nil {
		return false, fmt.Errorf("release lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetLease returns the current lease row for resource, expired or not.
func (s *Store) GetLease(ctx context.Context, resource string) (*Lease, error) {
	var (
		holder, token                  string
		acquired, renewed, expiresText string
	)
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT holder, token, acquired_at, renewed_at, expires_at FROM resource_leases WHERE resource = ?`,
		resource,
	).Scan(&holder, &token, &acquired, &renewed, &expiresText)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lease: %w", err)
	}
	lease := &Lease{Resource: resource, Holder: holder, Token: token}
	lease.AcquiredAt, _ = parseTimeString(acquired)
	lease.RenewedAt, _ = parseTimeString(renewed)
	lease.ExpiresAt, _ = parseTimeString(expiresText)
	return lease, nil
}

// Now exposes the store clock so lease callers compare expiry consistently.
func (s *Store) Now() time.Time {
	return s.clock()
}
