package gpulock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// FileLocker holds the resource with an advisory flock. Holder metadata is
// written next to the lock file so other processes can inspect it.
type FileLocker struct {
	dir      string
	resource string
	holder   string
}

type holderFile struct {
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
	RenewedAt  time.Time `json:"renewed_at"`
}

// NewFileLocker returns a flock-backed locker storing files under dir.
func NewFileLocker(dir, resource, holder string) (*FileLocker, error) {
	if dir == "" || resource == "" {
		return nil, errors.New("file locker requires a directory and resource name")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	if holder == "" {
		holder = HolderID()
	}
	return &FileLocker{dir: dir, resource: resource, holder: holder}, nil
}

func (f *FileLocker) Resource() string { return f.resource }

func (f *FileLocker) lockPath() string { return filepath.Join(f.dir, f.resource+".lock") }

func (f *FileLocker) holderPath() string { return filepath.Join(f.dir, f.resource+".holder") }

func (f *FileLocker) Acquire(ctx context.Context, timeout, poll time.Duration) (*Ticket, error) {
	fl := flock.New(f.lockPath())
	waited, err := pollAcquire(ctx, timeout, poll, fl.TryLock)
	if err != nil {
		_ = fl.Close()
	}
	if errors.Is(err, ErrResourceUnavailable) {
		unavailable := &UnavailableError{Resource: f.resource, Waited: waited}
		if meta, readErr := f.readHolder(); readErr == nil {
			unavailable.Holder = meta.Holder
		}
		return nil, unavailable
	}
	if err != nil {
		return nil, fmt.Errorf("flock %s: %w", f.lockPath(), err)
	}

	now := time.Now().UTC()
	ticket := &Ticket{
		Resource:   f.resource,
		Holder:     f.holder,
		Token:      uuid.NewString(),
		AcquiredAt: now,
		Waited:     waited,
	}
	if err := f.writeHolder(holderFile{Holder: f.holder, AcquiredAt: now, RenewedAt: now}); err != nil {
		_ = fl.Unlock()
		return nil, err
	}
	ticket.release = func(context.Context) error {
		_ = os.Remove(f.holderPath())
		return fl.Unlock()
	}
	return ticket, nil
}

func (f *FileLocker) Release(ctx context.Context, ticket *Ticket) error {
	return releaseTicket(ctx, ticket)
}

// Renew refreshes the holder metadata; the flock itself never expires.
func (f *FileLocker) Renew(_ context.Context, ticket *Ticket) error {
	if ticket == nil || ticket.released {
		return ErrLeaseLost
	}
	meta, err := f.readHolder()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLeaseLost, err)
	}
	meta.RenewedAt = time.Now().UTC()
	return f.writeHolder(meta)
}

func (f *FileLocker) Inspect(context.Context) (*Holder, error) {
	probe := flock.New(f.lockPath())
	free, err := probe.TryLock()
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", f.lockPath(), err)
	}
	if free {
		_ = probe.Unlock()
		return nil, nil
	}
	_ = probe.Close()
	holder := &Holder{Resource: f.resource, Backend: "flock"}
	if meta, err := f.readHolder(); err == nil {
		holder.Holder = meta.Holder
		holder.AcquiredAt = meta.AcquiredAt
		holder.RenewedAt = meta.RenewedAt
	}
	return holder, nil
}

func (f *FileLocker) readHolder() (holderFile, error) {
	var meta holderFile
	data, err := os.ReadFile(f.holderPath())
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(data, &meta)
	return meta, err
}

func (f *FileLocker) writeHolder(meta holderFile) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	tmp := f.holderPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write holder file: %w", err)
	}
	return os.Rename(tmp, f.holderPath())
}
