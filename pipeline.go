package goflows

import (
	"fmt"
	"sync"
)

// Stage is any building block that can be part of a Pipeline.
// All goflows runner components implement this interface.
type Stage interface {
	// Stop stops the stage and cleans up its resources
	Stop() error

	// IsRunning returns true if the stage is currently running
	IsRunning() bool
}

// Pipeline is a composite of connected stages that is itself stoppable as a
// unit. Stages are stopped in reverse order of addition so downstream stages
// can drain what upstream ones have already emitted.
type Pipeline struct {
	name string

	mu     sync.RWMutex
	stages []Stage
}

// NewPipeline creates an empty pipeline with the given name.
func NewPipeline(name string) *Pipeline {
	return &Pipeline{name: name}
}

// Add appends a stage to this pipeline.
func (p *Pipeline) Add(stage Stage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stages = append(p.stages, stage)
}

// Stop stops all stages in reverse order.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.stages) - 1; i >= 0; i-- {
		if err := p.stages[i].Stop(); err != nil {
			return fmt.Errorf("failed to stop stage %d: %w", i, err)
		}
	}
	return nil
}

// IsRunning returns true if any stage in the pipeline is running.
func (p *Pipeline) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, stage := range p.stages {
		if stage.IsRunning() {
			return true
		}
	}
	return false
}

// Name returns the pipeline's name.
func (p *Pipeline) Name() string {
	return p.name
}

// Count returns the number of stages in this pipeline.
func (p *Pipeline) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.stages)
}

// Flow wires the full producer-to-sink path: a poll source fanned out
// through an AdaptiveMapper, results grouped by a Chunker, batches handed to
// a sink callback. Done is closed once the sink has seen the final batch;
// Err reports the first failure from any stage.
type Flow[I any, O any] struct {
	*Pipeline
	mapper  *AdaptiveMapper[I, O]
	chunker *Chunker[O]

	done chan struct{}

	errMu sync.Mutex
	err   error
}

// FlowConfig configures NewFlow.
type FlowConfig[I any, O any] struct {
	// Minimum and Maximum bound the mapper's adaptive concurrency.
	// Zero values default to (1, 1).
	Minimum int
	Maximum int

	// IdlePolicy is applied after empty polls.
	IdlePolicy IdlePolicy

	// Ordered preserves input order through the mapper.
	Ordered bool

	// Semaphore, when set, gates every transform on a permit from a
	// possibly shared admission-control instance.
	Semaphore Semaphore

	// Ack, when set, is called for each item of a batch the sink accepted.
	// Connectors point this at OffsetTracker.MarkProcessed to advance their
	// upstream cursor once a pull is fully processed.
	Ack func(item O)
}

// NewFlow assembles and starts a flow. The sink is called sequentially, one
// batch at a time; returning an error from it tears the flow down.
func NewFlow[I any, O any](name string, poll PollFunc[I], transform TransformFunc[I, O],
	strategy ChunkStrategy, sink func(batch []O) error, cfg FlowConfig[I, O]) (*Flow[I, O], error) {

	if sink == nil {
		return nil, fmt.Errorf("%w: flow sink is required", ErrInvalidConfig)
	}
	if cfg.Minimum == 0 {
		cfg.Minimum = 1
	}
	if cfg.Maximum == 0 {
		cfg.Maximum = cfg.Minimum
	}

	mapperOpts := []AdaptiveMapperOption[I, O]{
		WithConcurrencyBounds[I, O](cfg.Minimum, cfg.Maximum),
		WithIdlePolicy[I, O](cfg.IdlePolicy),
		WithOrdered[I, O](cfg.Ordered),
	}
	if cfg.Semaphore != nil {
		mapperOpts = append(mapperOpts, WithSemaphore[I, O](cfg.Semaphore))
	}
	mapper, err := NewAdaptiveMapper(poll, transform, mapperOpts...)
	if err != nil {
		return nil, err
	}

	chunkIn := make(chan O)
	chunker, err := NewChunker(strategy, WithChunkSource(chunkIn))
	if err != nil {
		mapper.Stop()
		return nil, err
	}

	out := &Flow[I, O]{
		Pipeline: NewPipeline(name),
		mapper:   mapper,
		chunker:  chunker,
		done:     make(chan struct{}),
	}
	out.Pipeline.Add(mapper)
	out.Pipeline.Add(chunker)

	// Bridge mapper results into the chunker, surfacing the first error.
	go func() {
		defer close(chunkIn)
		for msg := range mapper.OutputChan() {
			if msg.Error != nil {
				out.setErr(msg.Error)
				return
			}
			select {
			case chunkIn <- msg.Value:
			case <-chunker.ClosedChan():
				return
			}
		}
	}()

	// Drive the sink from the chunker's rendezvous channel.
	go func() {
		defer close(out.done)
		for batch := range chunker.BatchChan() {
			if err := sink(batch); err != nil {
				out.setErr(err)
				out.Pipeline.Stop()
				return
			}
			if cfg.Ack != nil {
				for _, item := range batch {
					cfg.Ack(item)
				}
			}
		}
	}()

	return out, nil
}

// Done is closed once the sink has processed the final batch.
func (f *Flow[I, O]) Done() <-chan struct{} {
	return f.done
}

// Err returns the first error any stage surfaced, if any.
func (f *Flow[I, O]) Err() error {
	f.errMu.Lock()
	defer f.errMu.Unlock()
	return f.err
}

func (f *Flow[I, O]) setErr(err error) {
	f.errMu.Lock()
	if f.err == nil {
		f.err = err
	}
	f.errMu.Unlock()
}
