package goflows

import (
	"context"
	"io"
	"sync"
)

// ChanSource adapts a channel into a PollFunc. Each poll waits for one value,
// then drains whatever else is immediately available up to maxBatch, so a
// bursty producer yields productive polls and a quiet one parks the caller.
// A closed channel ends the stream with io.EOF.
func ChanSource[T any](ch <-chan T, maxBatch int) PollFunc[T] {
	if maxBatch <= 0 {
		maxBatch = 1
	}
	return func(ctx context.Context) ([]T, error) {
		var batch []T
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case value, ok := <-ch:
			if !ok {
				return nil, io.EOF
			}
			batch = append(batch, value)
		}
		for len(batch) < maxBatch {
			select {
			case value, ok := <-ch:
				if !ok {
					return batch, nil
				}
				batch = append(batch, value)
			default:
				return batch, nil
			}
		}
		return batch, nil
	}
}

// SliceSource adapts a finite slice into a PollFunc yielding batchSize items
// per poll, then io.EOF. Useful in tests and for replaying backfills.
func SliceSource[T any](items []T, batchSize int) PollFunc[T] {
	if batchSize <= 0 {
		batchSize = 1
	}
	var mu sync.Mutex
	next := 0
	return func(ctx context.Context) ([]T, error) {
		mu.Lock()
		defer mu.Unlock()
		if next >= len(items) {
			return nil, io.EOF
		}
		end := min(next+batchSize, len(items))
		batch := items[next:end]
		next = end
		return batch, nil
	}
}
