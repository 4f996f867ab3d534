package goflows

import "sync"

// RunnerBase holds the shared lifecycle state for components that run their
// own goroutine: a control channel for commands (parameterized so components
// can define richer command types than a plain "stop"), a completion channel,
// and a wait group the component's goroutines register with.
//
// Components embed RunnerBase, call start() when they spin up their goroutine
// and cleanup() (usually deferred) when it exits.
type RunnerBase[C any] struct {
	stopCmd     C
	controlChan chan C
	closedChan  chan error

	mu        sync.RWMutex
	isRunning bool
	wg        sync.WaitGroup
}

// NewRunnerBase creates the lifecycle state for a component. stopCmd is the
// command value Stop sends on the control channel.
func NewRunnerBase[C any](stopCmd C) RunnerBase[C] {
	return RunnerBase[C]{
		stopCmd:     stopCmd,
		controlChan: make(chan C),
		closedChan:  make(chan error, 1),
	}
}

// IsRunning returns true if the component's goroutine has not yet exited.
func (r *RunnerBase[C]) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isRunning
}

// ClosedChan returns a channel that is closed once the component has fully
// wound down. A pending error, if any, is sent before the close.
func (r *RunnerBase[C]) ClosedChan() <-chan error {
	return r.closedChan
}

// Stop asks the component to wind down and waits until it has.
// Stopping an already-stopped component is a no-op.
func (r *RunnerBase[C]) Stop() error {
	r.mu.RLock()
	running := r.isRunning
	r.mu.RUnlock()
	if !running {
		return nil
	}
	select {
	case r.controlChan <- r.stopCmd:
	case <-r.closedChan:
		// Wound down on its own (e.g. input closed) before the command landed.
	}
	r.wg.Wait()
	return nil
}

func (r *RunnerBase[C]) start() {
	r.mu.Lock()
	r.isRunning = true
	r.mu.Unlock()
	r.wg.Add(1)
}

func (r *RunnerBase[C]) cleanup() {
	r.mu.Lock()
	r.isRunning = false
	r.mu.Unlock()
	close(r.closedChan)
	r.wg.Done()
}

// DebugInfo returns a snapshot of the lifecycle state for debugging.
func (r *RunnerBase[C]) DebugInfo() any {
	return map[string]any{
		"isRunning": r.IsRunning(),
	}
}
