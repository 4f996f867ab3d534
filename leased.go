package goflows

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// PermitStore is the backing store a LeasedSemaphore records its grants in.
// Implementations must make Grant atomic: the capacity check and the insert
// happen as one step, so two racing acquirers can never both land the last
// permit.
type PermitStore interface {
	// Grant records a permit with the given lease deadline if fewer than
	// limit unexpired permits are outstanding. Returns whether it was
	// granted.
	Grant(ctx context.Context, id string, deadline time.Time, limit int) (granted bool, err error)

	// Revoke removes a permit. Returns whether it was still outstanding.
	Revoke(ctx context.Context, id string) (revoked bool, err error)

	// Outstanding counts unexpired permits.
	Outstanding(ctx context.Context) (int, error)

	// Clear removes every permit.
	Clear(ctx context.Context) error
}

// LeasedSemaphore is a Semaphore whose permits are valid only for a lease
// duration. A permit not released within its lease is reclaimed by a
// background timer, so a crashed holder cannot starve the pool forever.
// With a RedisPermitStore the semaphore is shared across processes; the
// default MemoryPermitStore keeps it in-process.
type LeasedSemaphore struct {
	store PermitStore
	total int
	lease time.Duration
	retry time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	changed chan struct{}
}

var _ Semaphore = (*LeasedSemaphore)(nil)

// LeasedSemaphoreOption is a functional option for configuring a LeasedSemaphore.
type LeasedSemaphoreOption func(*LeasedSemaphore)

// WithPermitStore sets the backing store. Defaults to an in-process
// MemoryPermitStore.
func WithPermitStore(store PermitStore) LeasedSemaphoreOption {
	return func(s *LeasedSemaphore) {
		s.store = store
	}
}

// WithRetryInterval sets how often a suspended Acquire re-checks the store
// for capacity freed by another process. Releases within this process wake
// waiters immediately; the interval only bounds how stale a remote release
// can go unnoticed.
func WithRetryInterval(d time.Duration) LeasedSemaphoreOption {
	return func(s *LeasedSemaphore) {
		s.retry = d
	}
}

// NewLeasedSemaphore creates a lease-based semaphore with the given permit
// budget and lease duration.
func NewLeasedSemaphore(total int, lease time.Duration, opts ...LeasedSemaphoreOption) (*LeasedSemaphore, error) {
	if total <= 0 {
		return nil, fmt.Errorf("%w: total permits must be > 0, got %d", ErrInvalidConfig, total)
	}
	if lease <= 0 {
		return nil, fmt.Errorf("%w: lease must be > 0, got %v", ErrInvalidConfig, lease)
	}
	out := &LeasedSemaphore{
		total:   total,
		lease:   lease,
		retry:   25 * time.Millisecond,
		timers:  make(map[string]*time.Timer),
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(out)
	}
	if out.store == nil {
		out.store = NewMemoryPermitStore()
	}
	return out, nil
}

// Acquire implements Semaphore. Store errors propagate to the caller; no
// permit is granted in that case.
func (s *LeasedSemaphore) Acquire(ctx context.Context) (*Permit, error) {
	ticker := time.NewTicker(s.retry)
	defer ticker.Stop()
	for {
		p, err := s.tryGrant(ctx)
		if err == nil {
			return p, nil
		}
		if err != ErrNoPermit {
			return nil, err
		}

		s.mu.Lock()
		ch := s.changed
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ch:
		case <-ticker.C:
		}
	}
}

// TryAcquire implements Semaphore.
func (s *LeasedSemaphore) TryAcquire(ctx context.Context) (*Permit, error) {
	return s.tryGrant(ctx)
}

func (s *LeasedSemaphore) tryGrant(ctx context.Context) (*Permit, error) {
	p := newPermit()
	p.Deadline = time.Now().Add(s.lease)
	granted, err := s.store.Grant(ctx, p.ID, p.Deadline, s.total)
	if err != nil {
		return nil, err
	}
	if !granted {
		return nil, ErrNoPermit
	}

	s.mu.Lock()
	s.timers[p.ID] = time.AfterFunc(time.Until(p.Deadline), func() {
		s.expire(p.ID)
	})
	s.mu.Unlock()
	return p, nil
}

// Release implements Semaphore. Releasing cancels the pending auto-expiry.
// A permit whose lease has already run out returns ErrPermitNotHeld.
func (s *LeasedSemaphore) Release(ctx context.Context, p *Permit) error {
	if p == nil {
		return ErrPermitNotHeld
	}
	s.mu.Lock()
	timer, ok := s.timers[p.ID]
	if ok {
		timer.Stop()
		delete(s.timers, p.ID)
	}
	s.mu.Unlock()
	if !ok {
		return ErrPermitNotHeld
	}

	revoked, err := s.store.Revoke(ctx, p.ID)
	if err != nil {
		return err
	}
	if !revoked {
		return ErrPermitNotHeld
	}
	s.notify()
	return nil
}

// ReleaseAll implements Semaphore.
func (s *LeasedSemaphore) ReleaseAll(ctx context.Context) error {
	s.mu.Lock()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	if err := s.store.Clear(ctx); err != nil {
		return err
	}
	s.notify()
	return nil
}

// Available implements Semaphore.
func (s *LeasedSemaphore) Available(ctx context.Context) (int, error) {
	outstanding, err := s.store.Outstanding(ctx)
	if err != nil {
		return 0, err
	}
	return s.total - outstanding, nil
}

// TotalPermits implements Semaphore.
func (s *LeasedSemaphore) TotalPermits() int {
	return s.total
}

// expire runs when a permit's lease lapses without an explicit release.
func (s *LeasedSemaphore) expire(id string) {
	s.mu.Lock()
	_, ok := s.timers[id]
	delete(s.timers, id)
	s.mu.Unlock()
	if !ok {
		// Released explicitly while the timer was firing.
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.store.Revoke(ctx, id); err != nil {
		slog.Debug("lease expiry revoke failed", "permit", id, "error", err)
	}
	s.notify()
}

func (s *LeasedSemaphore) notify() {
	s.mu.Lock()
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
}

// MemoryPermitStore is the in-process PermitStore: a deadline map purged on
// every operation.
type MemoryPermitStore struct {
	mu        sync.Mutex
	deadlines map[string]time.Time
}

var _ PermitStore = (*MemoryPermitStore)(nil)

// NewMemoryPermitStore creates an empty in-process permit store.
func NewMemoryPermitStore() *MemoryPermitStore {
	return &MemoryPermitStore{deadlines: make(map[string]time.Time)}
}

// Grant implements PermitStore.
func (m *MemoryPermitStore) Grant(ctx context.Context, id string, deadline time.Time, limit int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked()
	if len(m.deadlines) >= limit {
		return false, nil
	}
	m.deadlines[id] = deadline
	return true, nil
}

// Revoke implements PermitStore.
func (m *MemoryPermitStore) Revoke(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked()
	if _, ok := m.deadlines[id]; !ok {
		return false, nil
	}
	delete(m.deadlines, id)
	return true, nil
}

// Outstanding implements PermitStore.
func (m *MemoryPermitStore) Outstanding(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked()
	return len(m.deadlines), nil
}

// Clear implements PermitStore.
func (m *MemoryPermitStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.deadlines)
	return nil
}

func (m *MemoryPermitStore) purgeLocked() {
	now := time.Now()
	for id, deadline := range m.deadlines {
		if deadline.Before(now) {
			delete(m.deadlines, id)
		}
	}
}
