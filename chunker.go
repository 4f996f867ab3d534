package goflows

import (
	"fmt"
	"time"
)

// ChunkStrategy decides when a Chunker closes the batch it is building.
type ChunkStrategy struct {
	size   int
	window time.Duration
}

// ChunkCount emits a batch every size items.
func ChunkCount(size int) ChunkStrategy {
	return ChunkStrategy{size: size}
}

// ChunkTimeWindow emits a batch when size items have accumulated or window
// has elapsed since the first item of the current batch arrived, whichever
// comes first.
func ChunkTimeWindow(size int, window time.Duration) ChunkStrategy {
	return ChunkStrategy{size: size, window: window}
}

func (s ChunkStrategy) validate() error {
	if s.size <= 0 {
		return fmt.Errorf("%w: chunk size must be > 0, got %d", ErrInvalidConfig, s.size)
	}
	if s.window < 0 {
		return fmt.Errorf("%w: chunk window must be >= 0, got %v", ErrInvalidConfig, s.window)
	}
	return nil
}

// Chunker groups an item stream into batches. Concatenating the emitted
// batches reproduces the input in arrival order: nothing is dropped,
// duplicated or reordered. Batches are never empty.
//
// One goroutine owns the pending buffer and the window timer, so an item
// append can never race a timer flush and a batch can never be emitted twice.
// The output channel is unbuffered: emitting the next batch suspends until
// the consumer has accepted the previous one.
//
// The stream completes when the input channel is closed; any non-empty
// remainder is flushed as a final batch and the pending timer cancelled.
// Stop tears the chunker down without waiting for a consumer, discarding
// whatever remainder the consumer does not take.
type Chunker[T any] struct {
	RunnerBase[string]
	strategy   ChunkStrategy
	source     <-chan T
	inputChan  chan T
	outputChan chan []T

	// Owned by the run goroutine.
	pending []T
	timer   *time.Timer
	timerC  <-chan time.Time
}

// ChunkerOption is a functional option for configuring a Chunker.
type ChunkerOption[T any] func(*Chunker[T])

// WithChunkSource feeds the chunker from an existing channel instead of the
// self-owned input channel. Send must not be used in this mode.
func WithChunkSource[T any](source <-chan T) ChunkerOption[T] {
	return func(c *Chunker[T]) {
		c.source = source
	}
}

// NewChunker creates a chunker with the given strategy. Like other runners,
// it starts as soon as it is created.
func NewChunker[T any](strategy ChunkStrategy, opts ...ChunkerOption[T]) (*Chunker[T], error) {
	if err := strategy.validate(); err != nil {
		return nil, err
	}
	out := &Chunker[T]{
		RunnerBase: NewRunnerBase("stop"),
		strategy:   strategy,
		outputChan: make(chan []T), // rendezvous
	}
	for _, opt := range opts {
		opt(out)
	}
	if out.source == nil {
		out.inputChan = make(chan T)
		out.source = out.inputChan
	}
	out.run()
	return out, nil
}

// Chunk wires source through a new Chunker and returns its batch channel.
// The channel is closed once the source is closed and the remainder flushed.
func Chunk[T any](strategy ChunkStrategy, source <-chan T) (<-chan []T, error) {
	c, err := NewChunker(strategy, WithChunkSource(source))
	if err != nil {
		return nil, err
	}
	return c.BatchChan(), nil
}

// BatchChan returns the channel emitted batches can be received from.
func (c *Chunker[T]) BatchChan() <-chan []T {
	return c.outputChan
}

// SendChan returns the channel items can be sent on for chunking.
// Only valid when the chunker owns its input channel.
func (c *Chunker[T]) SendChan() chan<- T {
	return c.inputChan
}

// Send sends one item into this chunker.
func (c *Chunker[T]) Send(value T) {
	c.inputChan <- value
}

func (c *Chunker[T]) run() {
	c.start()
	go func() {
		defer c.cleanup()
		defer close(c.outputChan)
		defer c.stopTimer()
		for {
			select {
			case <-c.controlChan:
				// Teardown. Offer the remainder but don't wait on a
				// consumer that may already be gone.
				c.emit(false)
				return
			case value, ok := <-c.source:
				if !ok {
					c.emit(true)
					return
				}
				c.pending = append(c.pending, value)
				if len(c.pending) == 1 && c.strategy.window > 0 {
					c.timer = time.NewTimer(c.strategy.window)
					c.timerC = c.timer.C
				}
				if len(c.pending) >= c.strategy.size {
					if !c.emit(true) {
						return
					}
				}
			case <-c.timerC:
				c.timerC = nil
				if !c.emit(true) {
					return
				}
			}
		}
	}()
}

// emit hands the pending batch to the consumer. Empty batches are
// suppressed. With wait set, the send is a rendezvous that can be interrupted
// only by a stop command (in which case emit reports false); without it the
// batch is offered and dropped if no consumer is ready.
func (c *Chunker[T]) emit(wait bool) bool {
	c.stopTimer()
	if len(c.pending) == 0 {
		return true
	}
	batch := c.pending
	c.pending = nil
	if !wait {
		select {
		case c.outputChan <- batch:
		default:
		}
		return true
	}
	select {
	case c.outputChan <- batch:
		return true
	case <-c.controlChan:
		return false
	}
}

func (c *Chunker[T]) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
		c.timerC = nil
	}
}
