package goflows

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ExampleOffsetTracker() {
	tracker, _ := NewOffsetTracker(3,
		func(record string) { fmt.Println("committed", record) },
		func() { fmt.Println("batch finished") })

	tracker.MarkProcessed("a")
	tracker.MarkProcessed("b")
	tracker.MarkProcessed("b") // duplicate, ignored
	tracker.MarkProcessed("c")

	// Output:
	// committed a
	// committed b
	// committed c
	// batch finished
}

func TestOffsetTrackerFinishesAfterLastDistinctAck(t *testing.T) {
	log.Println("============== TestOffsetTrackerFinishesAfterLastDistinctAck ================")
	var committed []string
	finished := 0
	tracker, err := NewOffsetTracker(5,
		func(record string) { committed = append(committed, record) },
		func() { finished++ })
	require.NoError(t, err)

	// A's duplicate ack is absorbed; only E completes the batch.
	for _, record := range []string{"A", "B", "A", "C", "D"} {
		tracker.MarkProcessed(record)
		assert.Equal(t, 0, finished, "Batch must not finish before all records are acked")
	}
	tracker.MarkProcessed("E")

	assert.Equal(t, 1, finished, "Batch-finished fires exactly once, after E")
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, committed,
		"Per-record commit fires once per distinct record")
	assert.True(t, tracker.Finished())
	assert.Equal(t, 5, tracker.Acked())
}

func TestOffsetTrackerAcksAfterFinishAreNoOps(t *testing.T) {
	log.Println("============== TestOffsetTrackerAcksAfterFinishAreNoOps ================")
	records, finished := 0, 0
	tracker, err := NewOffsetTracker(2,
		func(record int) { records++ },
		func() { finished++ })
	require.NoError(t, err)

	tracker.MarkProcessed(1)
	tracker.MarkProcessed(2)
	tracker.MarkProcessed(1)
	tracker.MarkProcessed(2)

	assert.Equal(t, 2, records)
	assert.Equal(t, 1, finished)
}

func TestOffsetTrackerConcurrentAcks(t *testing.T) {
	log.Println("============== TestOffsetTrackerConcurrentAcks ================")
	const total = 100
	var records, finished int32
	tracker, err := NewOffsetTracker(total,
		func(record int) { atomic.AddInt32(&records, 1) },
		func() { atomic.AddInt32(&finished, 1) })
	require.NoError(t, err)

	// Several workers ack overlapping record sets.
	var wg sync.WaitGroup
	for n := 0; n < 4; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < total; i++ {
				tracker.MarkProcessed(i)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(total), atomic.LoadInt32(&records),
		"Each record commits exactly once despite racing ackers")
	assert.Equal(t, int32(1), atomic.LoadInt32(&finished),
		"Batch-finished must not double-fire under concurrency")
}

func TestOffsetTrackerInvalidConfig(t *testing.T) {
	log.Println("============== TestOffsetTrackerInvalidConfig ================")
	_, err := NewOffsetTracker[string](0, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
