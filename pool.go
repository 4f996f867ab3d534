package goflows

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Pooled wraps a pooled resource with its creation time. It is exclusively
// owned by one borrower between Borrow and Release.
type Pooled[T any] struct {
	Value     T
	createdAt time.Time
}

// Age returns how long ago the resource was created.
func (p *Pooled[T]) Age() time.Duration {
	return time.Since(p.createdAt)
}

// Pool is a bounded pool of expensive-to-create resources (connections,
// clients, buffers). Resources are created lazily up to maxSize; Borrow
// suspends once every slot is in use. A resource released after the
// configured maximum duration is destroyed via the closer instead of being
// returned, freeing its slot for a fresh one.
type Pool[T any] struct {
	maxSize     int
	maxDuration time.Duration
	factory     func(ctx context.Context) (T, error)
	closer      func(T) error

	mu      sync.Mutex
	idle    []*Pooled[T]
	created int
	closed  bool
	changed chan struct{}
}

// PoolOption is a functional option for configuring a Pool.
type PoolOption[T any] func(*Pool[T])

// WithMaxDuration sets the maximum age a resource may reach before it is
// destroyed on release rather than recycled. Zero (the default) means
// resources never age out.
func WithMaxDuration[T any](d time.Duration) PoolOption[T] {
	return func(p *Pool[T]) {
		p.maxDuration = d
	}
}

// WithCloser sets the hook used to destroy a resource, on age-out and on
// Close. Defaults to a no-op.
func WithCloser[T any](closer func(T) error) PoolOption[T] {
	return func(p *Pool[T]) {
		p.closer = closer
	}
}

// NewPool creates a pool of at most maxSize resources produced by factory.
// maxSize must be positive: a zero-capacity pool could never grant a borrow,
// so it is rejected up front instead of deadlocking the first caller.
func NewPool[T any](maxSize int, factory func(ctx context.Context) (T, error), opts ...PoolOption[T]) (*Pool[T], error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("%w: pool maxSize must be > 0, got %d", ErrInvalidConfig, maxSize)
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: pool factory is required", ErrInvalidConfig)
	}
	out := &Pool[T]{
		maxSize: maxSize,
		factory: factory,
		closer:  func(T) error { return nil },
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(out)
	}
	return out, nil
}

// Borrow returns an exclusively-owned resource, creating one lazily if the
// pool has capacity and none is idle, otherwise suspending until a slot
// frees up or ctx is cancelled. A factory error propagates to the caller and
// leaves the pool usable: the reserved slot is returned before the error.
func (p *Pool[T]) Borrow(ctx context.Context) (*Pooled[T], error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		if n := len(p.idle); n > 0 {
			res := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.mu.Unlock()
			return res, nil
		}
		if p.created < p.maxSize {
			p.created++
			p.mu.Unlock()
			return p.create(ctx)
		}
		ch := p.changed
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ch:
		}
	}
}

func (p *Pool[T]) create(ctx context.Context) (*Pooled[T], error) {
	value, err := p.factory(ctx)
	if err != nil {
		p.mu.Lock()
		p.created--
		p.notifyLocked()
		p.mu.Unlock()
		return nil, err
	}
	return &Pooled[T]{Value: value, createdAt: time.Now()}, nil
}

// Release returns a resource to the idle set. If the resource has outlived
// the pool's maximum duration, or the pool has been closed, it is destroyed
// via the closer and its slot freed instead.
func (p *Pool[T]) Release(res *Pooled[T]) error {
	if res == nil {
		return nil
	}
	p.mu.Lock()
	expired := p.maxDuration > 0 && res.Age() > p.maxDuration
	if p.closed || expired {
		p.created--
		p.notifyLocked()
		p.mu.Unlock()
		if err := p.closer(res.Value); err != nil {
			slog.Debug("pool resource close failed", "error", err)
			return err
		}
		return nil
	}
	p.idle = append(p.idle, res)
	p.notifyLocked()
	p.mu.Unlock()
	return nil
}

// Use borrows a resource, applies fn to it and releases it on every exit
// path, including a panic in fn.
func (p *Pool[T]) Use(ctx context.Context, fn func(value T) error) error {
	res, err := p.Borrow(ctx)
	if err != nil {
		return err
	}
	defer p.Release(res)
	return fn(res.Value)
}

// Close destroys all idle resources and rejects further borrows. Resources
// still on loan are destroyed as they are released.
func (p *Pool[T]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.created -= len(idle)
	p.notifyLocked()
	p.mu.Unlock()

	var firstErr error
	for _, res := range idle {
		if err := p.closer(res.Value); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Idle reports a snapshot of the number of idle resources.
func (p *Pool[T]) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

func (p *Pool[T]) notifyLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}
