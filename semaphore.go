package goflows

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Permit is an opaque token for one granted unit of admission. It is owned by
// the holder until released (or, for leased semaphores, until the lease runs
// out and the semaphore reclaims it).
type Permit struct {
	// ID uniquely identifies this grant. Lease-based semaphores key their
	// expiry timers and store entries by it.
	ID string

	// Deadline is when a leased permit self-expires. Zero for non-leased
	// permits.
	Deadline time.Time
}

func newPermit() *Permit {
	return &Permit{ID: uuid.NewString()}
}

// Semaphore is permit-counted admission control. One instance may be shared by
// several independent pipelines; the permit budget is then global to the
// instance, not per pipeline.
type Semaphore interface {
	// Acquire suspends until a permit is free, then grants it. It returns
	// early with ctx.Err() if the context is cancelled first, and propagates
	// backing-store errors for distributed variants; a permit is either fully
	// granted or not granted at all.
	Acquire(ctx context.Context) (*Permit, error)

	// TryAcquire grants a permit if one is free without suspending,
	// otherwise returns ErrNoPermit.
	TryAcquire(ctx context.Context) (*Permit, error)

	// Release returns a permit, making one waiter (if any) eligible.
	// Releasing a permit that is not outstanding returns ErrPermitNotHeld.
	Release(ctx context.Context, p *Permit) error

	// ReleaseAll forcibly reclaims every outstanding permit. Used on
	// shutdown or cancellation of the owning scope.
	ReleaseAll(ctx context.Context) error

	// Available reports a best-effort snapshot of free permits.
	Available(ctx context.Context) (int, error)

	// TotalPermits returns the configured permit budget.
	TotalPermits() int
}

// LocalSemaphore is the in-process Semaphore. At all times
//
//	available + outstanding == total
//
// with outstanding tracked per permit ID so releases can be validated.
type LocalSemaphore struct {
	total int

	mu          sync.Mutex
	outstanding map[string]struct{}
	changed     chan struct{}
}

var _ Semaphore = (*LocalSemaphore)(nil)

// NewLocalSemaphore creates a semaphore with the given permit budget.
func NewLocalSemaphore(total int) (*LocalSemaphore, error) {
	if total <= 0 {
		return nil, fmt.Errorf("%w: total permits must be > 0, got %d", ErrInvalidConfig, total)
	}
	return &LocalSemaphore{
		total:       total,
		outstanding: make(map[string]struct{}),
		changed:     make(chan struct{}),
	}, nil
}

// Acquire implements Semaphore.
func (s *LocalSemaphore) Acquire(ctx context.Context) (*Permit, error) {
	for {
		s.mu.Lock()
		if len(s.outstanding) < s.total {
			p := newPermit()
			s.outstanding[p.ID] = struct{}{}
			s.mu.Unlock()
			return p, nil
		}
		ch := s.changed
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ch:
		}
	}
}

// TryAcquire implements Semaphore.
func (s *LocalSemaphore) TryAcquire(ctx context.Context) (*Permit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.outstanding) >= s.total {
		return nil, ErrNoPermit
	}
	p := newPermit()
	s.outstanding[p.ID] = struct{}{}
	return p, nil
}

// Release implements Semaphore.
func (s *LocalSemaphore) Release(ctx context.Context, p *Permit) error {
	if p == nil {
		return ErrPermitNotHeld
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.outstanding[p.ID]; !ok {
		return ErrPermitNotHeld
	}
	delete(s.outstanding, p.ID)
	s.notifyLocked()
	return nil
}

// ReleaseAll implements Semaphore.
func (s *LocalSemaphore) ReleaseAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.outstanding)
	s.notifyLocked()
	return nil
}

// Available implements Semaphore.
func (s *LocalSemaphore) Available(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total - len(s.outstanding), nil
}

// TotalPermits implements Semaphore.
func (s *LocalSemaphore) TotalPermits() int {
	return s.total
}

// notifyLocked wakes every waiter. Callers must hold s.mu.
func (s *LocalSemaphore) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}
