package goflows

import "errors"

var (
	// ErrInvalidConfig is wrapped by constructors rejecting bad bounds,
	// e.g. a pool with no capacity or a mapper with minimum > maximum.
	ErrInvalidConfig = errors.New("goflows: invalid configuration")

	// ErrNoPermit is returned by TryAcquire when no permit is free.
	ErrNoPermit = errors.New("goflows: no permit available")

	// ErrPermitNotHeld is returned when releasing a permit the semaphore does
	// not consider outstanding, including one whose lease already expired.
	ErrPermitNotHeld = errors.New("goflows: permit not held")

	// ErrPoolClosed is returned by Borrow and Use after Close.
	ErrPoolClosed = errors.New("goflows: pool closed")
)
