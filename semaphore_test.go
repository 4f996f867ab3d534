package goflows

import (
	"context"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func available(t *testing.T, sem Semaphore) int {
	t.Helper()
	n, err := sem.Available(context.Background())
	require.NoError(t, err)
	return n
}

func TestLocalSemaphoreConservation(t *testing.T) {
	log.Println("============== TestLocalSemaphoreConservation ================")
	ctx := context.Background()
	sem, err := NewLocalSemaphore(3)
	require.NoError(t, err)

	assert.Equal(t, 3, sem.TotalPermits())
	assert.Equal(t, 3, available(t, sem))

	p1, err := sem.Acquire(ctx)
	require.NoError(t, err)
	p2, err := sem.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, available(t, sem), "available + outstanding must equal total")

	require.NoError(t, sem.Release(ctx, p1))
	assert.Equal(t, 2, available(t, sem))

	require.NoError(t, sem.Release(ctx, p2))
	assert.Equal(t, 3, available(t, sem))
}

func TestLocalSemaphoreTryAcquire(t *testing.T) {
	log.Println("============== TestLocalSemaphoreTryAcquire ================")
	ctx := context.Background()
	sem, err := NewLocalSemaphore(1)
	require.NoError(t, err)

	p, err := sem.TryAcquire(ctx)
	require.NoError(t, err)

	_, err = sem.TryAcquire(ctx)
	assert.ErrorIs(t, err, ErrNoPermit, "Second TryAcquire should report no permit without suspending")

	require.NoError(t, sem.Release(ctx, p))
	_, err = sem.TryAcquire(ctx)
	assert.NoError(t, err)
}

func TestLocalSemaphoreDoubleRelease(t *testing.T) {
	log.Println("============== TestLocalSemaphoreDoubleRelease ================")
	ctx := context.Background()
	sem, err := NewLocalSemaphore(2)
	require.NoError(t, err)

	p, err := sem.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, sem.Release(ctx, p))

	assert.ErrorIs(t, sem.Release(ctx, p), ErrPermitNotHeld)
	assert.Equal(t, 2, available(t, sem), "A double release must not over-credit the pool")
}

func TestLocalSemaphoreReleaseAll(t *testing.T) {
	log.Println("============== TestLocalSemaphoreReleaseAll ================")
	ctx := context.Background()
	sem, err := NewLocalSemaphore(4)
	require.NoError(t, err)

	for n := 0; n < 4; n++ {
		_, err := sem.Acquire(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 0, available(t, sem))

	require.NoError(t, sem.ReleaseAll(ctx))
	assert.Equal(t, 4, available(t, sem), "ReleaseAll should restore the full budget")
}

func TestLocalSemaphoreAcquireHonorsCancellation(t *testing.T) {
	log.Println("============== TestLocalSemaphoreAcquireHonorsCancellation ================")
	ctx := context.Background()
	sem, err := NewLocalSemaphore(1)
	require.NoError(t, err)

	_, err = sem.Acquire(ctx)
	require.NoError(t, err)

	cancelled, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = sem.Acquire(cancelled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, available(t, sem), "A cancelled acquire must not leak a permit")
}

// Two waves: 100 holders over 50 permits, each holding for 50ms, should take
// roughly two hold periods end to end.
func TestLocalSemaphoreTwoWaves(t *testing.T) {
	log.Println("============== TestLocalSemaphoreTwoWaves ================")
	ctx := context.Background()
	sem, err := NewLocalSemaphore(50)
	require.NoError(t, err)

	const holders = 100
	const hold = 50 * time.Millisecond

	start := time.Now()
	var wg sync.WaitGroup
	for n := 0; n < holders; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := sem.Acquire(ctx)
			assert.NoError(t, err)
			time.Sleep(hold)
			assert.NoError(t, sem.Release(ctx, p))
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 2*hold, "100 holders over 50 permits need two waves")
	assert.Less(t, elapsed, 8*hold, "Waiters should be admitted as soon as permits free up")
	assert.Equal(t, 50, available(t, sem))
}

func TestSemaphoreSharedAcrossPipelines(t *testing.T) {
	log.Println("============== TestSemaphoreSharedAcrossPipelines ================")
	ctx := context.Background()
	sem, err := NewLocalSemaphore(2)
	require.NoError(t, err)

	// Two independent borrowers against one budget.
	var mu sync.Mutex
	inUse, maxInUse := 0, 0
	var wg sync.WaitGroup
	for n := 0; n < 8; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := sem.Acquire(ctx)
			assert.NoError(t, err)
			mu.Lock()
			inUse++
			if inUse > maxInUse {
				maxInUse = inUse
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			inUse--
			mu.Unlock()
			assert.NoError(t, sem.Release(ctx, p))
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxInUse, 2, "Admission is global to the shared instance")
}

func TestLocalSemaphoreInvalidConfig(t *testing.T) {
	log.Println("============== TestLocalSemaphoreInvalidConfig ================")
	_, err := NewLocalSemaphore(0)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewLocalSemaphore(-5)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
