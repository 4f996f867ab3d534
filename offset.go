package goflows

import (
	"fmt"
	"sync"
)

// OffsetTracker coordinates commit of an upstream cursor with downstream
// acknowledgment of the records pulled under it. Created per upstream batch,
// it counts distinct record acknowledgments and fires the batch-finished
// callback exactly once, when the last of the expected records has been
// acked. Connectors with pull-based cursors use one tracker per pull to get
// at-least-once delivery: the cursor only advances once everything derived
// from it has been processed, so a crash mid-batch re-delivers from the last
// fully committed cursor.
//
// All mutation is serialized by one mutex, so concurrent acknowledgments
// from multiple workers cannot double-fire the batch callback or race on the
// size check. Callbacks run under that mutex and must not call back into the
// tracker.
type OffsetTracker[K comparable] struct {
	mu         sync.Mutex
	total      int
	acked      map[K]struct{}
	finished   bool
	onRecord   func(record K)
	onFinished func()
}

// NewOffsetTracker creates a tracker expecting total distinct records.
// onRecord (optional) runs on each record's first acknowledgment; onFinished
// (optional) runs exactly once, when the distinct-ack count reaches total.
func NewOffsetTracker[K comparable](total int, onRecord func(record K), onFinished func()) (*OffsetTracker[K], error) {
	if total <= 0 {
		return nil, fmt.Errorf("%w: offset tracker needs > 0 records, got %d", ErrInvalidConfig, total)
	}
	return &OffsetTracker[K]{
		total:      total,
		acked:      make(map[K]struct{}, total),
		onRecord:   onRecord,
		onFinished: onFinished,
	}, nil
}

// MarkProcessed acknowledges one record. Re-acknowledging an already-acked
// record, or any record after the batch finished, is an idempotent no-op.
func (t *OffsetTracker[K]) MarkProcessed(record K) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return
	}
	if _, ok := t.acked[record]; ok {
		return
	}
	t.acked[record] = struct{}{}
	if t.onRecord != nil {
		t.onRecord(record)
	}
	if len(t.acked) == t.total {
		t.finished = true
		if t.onFinished != nil {
			t.onFinished()
		}
	}
}

// Acked reports how many distinct records have been acknowledged.
func (t *OffsetTracker[K]) Acked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.acked)
}

// Finished reports whether every expected record has been acknowledged.
func (t *OffsetTracker[K]) Finished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finished
}
