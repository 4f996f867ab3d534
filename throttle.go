package goflows

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Throttle is a rate-paced pass-through between an input and output channel.
// Values are forwarded unchanged, each one waiting its turn against a token
// bucket. Connectors put one in front of a polling producer to keep it from
// hammering an upstream between quiet periods.
//
// The Throttle does not own either channel; it winds down when the input is
// closed or Stop is called.
type Throttle[T any] struct {
	RunnerBase[string]
	limiter *rate.Limiter
	input   <-chan T
	output  chan<- T

	ctx    context.Context
	cancel context.CancelFunc
}

// NewThrottle creates a throttle forwarding input to output at the given
// sustained rate with the given burst. Like other runners, it starts as soon
// as it is created.
func NewThrottle[T any](input <-chan T, output chan<- T, limit rate.Limit, burst int) (*Throttle[T], error) {
	if limit <= 0 || burst <= 0 {
		return nil, fmt.Errorf("%w: throttle rate and burst must be > 0, got (%v, %d)",
			ErrInvalidConfig, limit, burst)
	}
	out := &Throttle[T]{
		RunnerBase: NewRunnerBase("stop"),
		limiter:    rate.NewLimiter(limit, burst),
		input:      input,
		output:     output,
	}
	out.ctx, out.cancel = context.WithCancel(context.Background())
	out.run()
	return out, nil
}

// Stop halts forwarding, abandoning any value still waiting on the limiter.
func (t *Throttle[T]) Stop() error {
	t.cancel()
	return t.RunnerBase.Stop()
}

func (t *Throttle[T]) run() {
	t.start()
	go func() {
		defer t.cleanup()
		defer t.cancel()
		for {
			select {
			case <-t.controlChan:
				return
			case value, ok := <-t.input:
				if !ok {
					return
				}
				if err := t.limiter.Wait(t.ctx); err != nil {
					return
				}
				select {
				case t.output <- value:
				case <-t.ctx.Done():
					return
				}
			}
		}
	}()
}
