package goflows

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// IdlePolicy controls how AdaptiveMapper reacts to an empty poll.
type IdlePolicy int

const (
	// IdleReset drops concurrency straight back to the minimum. This is the
	// default and suits polling producers that go quiet between bursts.
	IdleReset IdlePolicy = iota

	// IdleDecay steps concurrency down by one instead.
	IdleDecay
)

// completionEvent carries a finished worker's result together with the
// sequence stamp assigned at dispatch, so the ordered mode can re-emit
// results in input order.
type completionEvent[O any] struct {
	seq uint64
	msg Message[O]
}

// AdaptiveMapper pulls items from a PollFunc and applies an async transform
// to up to Concurrency() of them simultaneously, emitting results as
// Message values. Concurrency starts at the configured minimum and is
// re-evaluated after every poll: a poll that returned items steps it up by
// one toward the maximum, an empty poll resets it to the minimum (or steps
// it down, per the IdlePolicy).
//
// Results are emitted as workers finish, so output order need not match
// input order; WithOrdered buffers and reorders by dispatch sequence when
// input order matters downstream.
//
// If a transform fails, in-flight siblings are cancelled, any permits they
// hold are released, and the error is emitted as the stream's final Message.
// Results already emitted stand. A poll returning io.EOF completes the
// stream gracefully: workers drain and the output channel closes.
type AdaptiveMapper[I any, O any] struct {
	RunnerBase[string]
	poll      PollFunc[I]
	transform TransformFunc[I, O]

	min         int
	max         int
	policy      IdlePolicy
	ordered     bool
	idleBackoff time.Duration
	sem         Semaphore

	outputChan  chan Message[O]
	completions chan completionEvent[O]

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	current  int
	inflight int
	changed  chan struct{}

	failOnce sync.Once
	failErr  error

	workers   sync.WaitGroup
	reorderWg sync.WaitGroup
}

// AdaptiveMapperOption is a functional option for configuring an AdaptiveMapper.
type AdaptiveMapperOption[I any, O any] func(*AdaptiveMapper[I, O])

// WithConcurrencyBounds sets the floor and ceiling of the worker count.
// Defaults to (1, 1), i.e. sequential until configured otherwise.
func WithConcurrencyBounds[I any, O any](minimum, maximum int) AdaptiveMapperOption[I, O] {
	return func(m *AdaptiveMapper[I, O]) {
		m.min = minimum
		m.max = maximum
	}
}

// WithIdlePolicy sets how an empty poll affects concurrency.
func WithIdlePolicy[I any, O any](policy IdlePolicy) AdaptiveMapperOption[I, O] {
	return func(m *AdaptiveMapper[I, O]) {
		m.policy = policy
	}
}

// WithOrdered makes the mapper emit results in input order, buffering
// finished results until their predecessors complete.
func WithOrdered[I any, O any](ordered bool) AdaptiveMapperOption[I, O] {
	return func(m *AdaptiveMapper[I, O]) {
		m.ordered = ordered
	}
}

// WithSemaphore gates every worker on a permit from sem for the duration of
// its transform. The semaphore may be shared with other pipelines; admission
// is then global to the shared instance.
func WithSemaphore[I any, O any](sem Semaphore) AdaptiveMapperOption[I, O] {
	return func(m *AdaptiveMapper[I, O]) {
		m.sem = sem
	}
}

// WithIdleBackoff sets how long the mapper pauses after an empty poll before
// polling again. Defaults to 10ms.
func WithIdleBackoff[I any, O any](d time.Duration) AdaptiveMapperOption[I, O] {
	return func(m *AdaptiveMapper[I, O]) {
		m.idleBackoff = d
	}
}

// WithResultBuffer sets the buffer size for the output channel.
// Default is unbuffered.
func WithResultBuffer[I any, O any](size int) AdaptiveMapperOption[I, O] {
	return func(m *AdaptiveMapper[I, O]) {
		m.outputChan = make(chan Message[O], size)
	}
}

// NewAdaptiveMapper creates a mapper over poll and transform. Like other
// runners, it starts polling as soon as it is created.
func NewAdaptiveMapper[I any, O any](poll PollFunc[I], transform TransformFunc[I, O],
	opts ...AdaptiveMapperOption[I, O]) (*AdaptiveMapper[I, O], error) {
	if poll == nil || transform == nil {
		return nil, fmt.Errorf("%w: poll and transform are required", ErrInvalidConfig)
	}
	out := &AdaptiveMapper[I, O]{
		RunnerBase:  NewRunnerBase("stop"),
		poll:        poll,
		transform:   transform,
		min:         1,
		max:         1,
		idleBackoff: 10 * time.Millisecond,
		changed:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(out)
	}
	if out.min < 1 || out.max < out.min {
		return nil, fmt.Errorf("%w: concurrency bounds must satisfy 1 <= minimum <= maximum, got [%d, %d]",
			ErrInvalidConfig, out.min, out.max)
	}
	if out.outputChan == nil {
		out.outputChan = make(chan Message[O])
	}
	out.current = out.min
	out.ctx, out.cancel = context.WithCancel(context.Background())
	if out.ordered {
		out.completions = make(chan completionEvent[O], out.max)
	}
	out.run()
	return out, nil
}

// OutputChan returns the channel results are emitted on. It is closed once
// the mapper has fully wound down.
func (m *AdaptiveMapper[I, O]) OutputChan() <-chan Message[O] {
	return m.outputChan
}

// Concurrency reports the current worker ceiling.
func (m *AdaptiveMapper[I, O]) Concurrency() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Stop cancels polling and all outstanding workers, waits for them to
// release their slots and permits, then closes the output channel.
func (m *AdaptiveMapper[I, O]) Stop() error {
	m.cancel()
	return m.RunnerBase.Stop()
}

func (m *AdaptiveMapper[I, O]) run() {
	m.start()
	if m.ordered {
		m.reorderWg.Add(1)
		go m.reorder()
	}
	go func() {
		defer m.cleanup()
		defer close(m.outputChan)
		defer m.cancel()

		m.dispatch()

		m.workers.Wait()
		if m.ordered {
			close(m.completions)
			m.reorderWg.Wait()
		}
		if err := m.failure(); err != nil {
			select {
			case m.outputChan <- Message[O]{Error: err, Source: m}:
			case <-m.controlChan:
			}
		}
	}()
}

func (m *AdaptiveMapper[I, O]) dispatch() {
	var seq uint64
	for m.ctx.Err() == nil {
		items, err := m.poll(m.ctx)
		if err == io.EOF {
			return
		}
		if err != nil {
			if m.ctx.Err() == nil {
				m.fail(err)
			}
			return
		}

		m.adapt(len(items) > 0)

		if len(items) == 0 {
			select {
			case <-m.ctx.Done():
			case <-time.After(m.idleBackoff):
			}
			continue
		}

		for _, item := range items {
			if err := m.acquireSlot(); err != nil {
				return
			}
			var permit *Permit
			if m.sem != nil {
				permit, err = m.sem.Acquire(m.ctx)
				if err != nil {
					m.releaseSlot()
					if m.ctx.Err() == nil {
						m.fail(err)
					}
					return
				}
			}
			m.workers.Add(1)
			go m.work(item, seq, permit)
			seq++
		}
	}
}

func (m *AdaptiveMapper[I, O]) work(item I, seq uint64, permit *Permit) {
	defer m.workers.Done()
	defer m.releaseSlot()
	if permit != nil {
		defer func() {
			// Permits are returned even when m.ctx is already cancelled.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			m.sem.Release(ctx, permit)
		}()
	}

	out, err := m.transform(m.ctx, item)
	if err != nil {
		if m.ctx.Err() == nil {
			m.fail(err)
		}
		return
	}

	msg := Message[O]{Value: out}
	if m.ordered {
		select {
		case m.completions <- completionEvent[O]{seq: seq, msg: msg}:
		case <-m.ctx.Done():
		}
		return
	}
	select {
	case m.outputChan <- msg:
	case <-m.ctx.Done():
	}
}

// reorder re-emits completed results in dispatch order. A gap left by a
// failed worker stalls emission of its successors, which is fine: the stream
// is already unwinding by then.
func (m *AdaptiveMapper[I, O]) reorder() {
	defer m.reorderWg.Done()
	buffered := make(map[uint64]Message[O])
	var next uint64
	for ev := range m.completions {
		buffered[ev.seq] = ev.msg
		for {
			msg, ok := buffered[next]
			if !ok {
				break
			}
			delete(buffered, next)
			next++
			select {
			case m.outputChan <- msg:
			case <-m.ctx.Done():
				return
			}
		}
	}
}

func (m *AdaptiveMapper[I, O]) adapt(productive bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if productive {
		if m.current < m.max {
			m.current++
		}
	} else {
		switch m.policy {
		case IdleDecay:
			if m.current > m.min {
				m.current--
			}
		default:
			m.current = m.min
		}
	}
	m.notifyLocked()
}

// acquireSlot waits until the in-flight worker count is below the current
// ceiling. Raising the ceiling wakes waiters via the changed channel.
func (m *AdaptiveMapper[I, O]) acquireSlot() error {
	for {
		m.mu.Lock()
		if m.inflight < m.current {
			m.inflight++
			m.mu.Unlock()
			return nil
		}
		ch := m.changed
		m.mu.Unlock()

		select {
		case <-m.ctx.Done():
			return m.ctx.Err()
		case <-ch:
		}
	}
}

func (m *AdaptiveMapper[I, O]) releaseSlot() {
	m.mu.Lock()
	m.inflight--
	m.notifyLocked()
	m.mu.Unlock()
}

func (m *AdaptiveMapper[I, O]) notifyLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

// fail records the first failure and cancels everything in flight.
func (m *AdaptiveMapper[I, O]) fail(err error) {
	m.failOnce.Do(func() {
		m.mu.Lock()
		m.failErr = err
		m.mu.Unlock()
		m.cancel()
	})
}

func (m *AdaptiveMapper[I, O]) failure() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failErr
}
