package goflows

import "context"

// IDFunc is an identity function that returns its input unchanged.
// It's commonly used as a default mapper function for pipes and other operations.
func IDFunc[T any](input T) T {
	return input
}

// Message represents a value with optional error and source information.
// It's used by channels to carry both successful values and error conditions.
type Message[T any] struct {
	Value  T     // The actual value being transmitted
	Error  error // Any error that occurred during processing
	Source any   // Optional source information for debugging
}

// PollFunc is a pull-based producer. Each call returns the next zero or more
// items. Returning an empty slice means the upstream is currently idle;
// returning io.EOF means it has completed and will never yield again.
type PollFunc[T any] func(ctx context.Context) ([]T, error)

// TransformFunc is a fallible per-item transform applied by AdaptiveMapper.
// The context is cancelled when the mapper is stopped or a sibling fails.
type TransformFunc[I any, O any] func(ctx context.Context, input I) (O, error)
