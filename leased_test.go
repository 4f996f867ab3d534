package goflows

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeasedSemaphoreGrantAndRelease(t *testing.T) {
	log.Println("============== TestLeasedSemaphoreGrantAndRelease ================")
	ctx := context.Background()
	sem, err := NewLeasedSemaphore(2, time.Second)
	require.NoError(t, err)

	p1, err := sem.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, p1.Deadline.IsZero(), "Leased permits carry their expiry deadline")
	assert.Equal(t, 1, available(t, sem))

	require.NoError(t, sem.Release(ctx, p1))
	assert.Equal(t, 2, available(t, sem))
}

func TestLeasedSemaphoreLeaseExpiry(t *testing.T) {
	log.Println("============== TestLeasedSemaphoreLeaseExpiry ================")
	ctx := context.Background()
	sem, err := NewLeasedSemaphore(1, 40*time.Millisecond)
	require.NoError(t, err)

	// Simulate a crashed holder: acquire and never release.
	p, err := sem.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, available(t, sem))

	// The background timer reclaims the permit at lease expiry.
	require.Eventually(t, func() bool {
		return available(t, sem) == 1
	}, time.Second, 5*time.Millisecond, "Expired lease should be reclaimed automatically")

	// Releasing after expiry reports the permit is no longer held.
	assert.ErrorIs(t, sem.Release(ctx, p), ErrPermitNotHeld)
}

func TestLeasedSemaphoreExpiryUnblocksWaiter(t *testing.T) {
	log.Println("============== TestLeasedSemaphoreExpiryUnblocksWaiter ================")
	ctx := context.Background()
	sem, err := NewLeasedSemaphore(1, 30*time.Millisecond, WithRetryInterval(5*time.Millisecond))
	require.NoError(t, err)

	_, err = sem.Acquire(ctx)
	require.NoError(t, err)

	// A waiter parked on Acquire gets the permit once the first holder's
	// lease lapses.
	start := time.Now()
	p2, err := sem.Acquire(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	require.NoError(t, sem.Release(ctx, p2))
}

func TestLeasedSemaphoreReleaseCancelsExpiry(t *testing.T) {
	log.Println("============== TestLeasedSemaphoreReleaseCancelsExpiry ================")
	ctx := context.Background()
	sem, err := NewLeasedSemaphore(1, 30*time.Millisecond)
	require.NoError(t, err)

	p, err := sem.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, sem.Release(ctx, p))

	// Reacquire and hold past the first permit's would-be expiry; the
	// cancelled timer must not reclaim the new grant.
	p2, err := sem.Acquire(ctx)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, available(t, sem), "Only the live lease should count")
	require.NoError(t, sem.Release(ctx, p2))
}

func TestLeasedSemaphoreTryAcquire(t *testing.T) {
	log.Println("============== TestLeasedSemaphoreTryAcquire ================")
	ctx := context.Background()
	sem, err := NewLeasedSemaphore(1, time.Second)
	require.NoError(t, err)

	_, err = sem.TryAcquire(ctx)
	require.NoError(t, err)
	_, err = sem.TryAcquire(ctx)
	assert.ErrorIs(t, err, ErrNoPermit)
}

func TestLeasedSemaphoreReleaseAll(t *testing.T) {
	log.Println("============== TestLeasedSemaphoreReleaseAll ================")
	ctx := context.Background()
	sem, err := NewLeasedSemaphore(3, time.Second)
	require.NoError(t, err)

	for n := 0; n < 3; n++ {
		_, err := sem.Acquire(ctx)
		require.NoError(t, err)
	}
	require.NoError(t, sem.ReleaseAll(ctx))
	assert.Equal(t, 3, available(t, sem))
}

func TestLeasedSemaphoreInvalidConfig(t *testing.T) {
	log.Println("============== TestLeasedSemaphoreInvalidConfig ================")
	_, err := NewLeasedSemaphore(0, time.Second)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewLeasedSemaphore(1, 0)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestMemoryPermitStorePurgesExpired(t *testing.T) {
	log.Println("============== TestMemoryPermitStorePurgesExpired ================")
	ctx := context.Background()
	store := NewMemoryPermitStore()

	granted, err := store.Grant(ctx, "a", time.Now().Add(10*time.Millisecond), 1)
	require.NoError(t, err)
	assert.True(t, granted)

	// At capacity while the lease is live.
	granted, err = store.Grant(ctx, "b", time.Now().Add(time.Second), 1)
	require.NoError(t, err)
	assert.False(t, granted)

	time.Sleep(20 * time.Millisecond)

	// The expired grant no longer counts against the limit.
	granted, err = store.Grant(ctx, "c", time.Now().Add(time.Second), 1)
	require.NoError(t, err)
	assert.True(t, granted)

	revoked, err := store.Revoke(ctx, "a")
	require.NoError(t, err)
	assert.False(t, revoked, "Expired permits are already gone")
}
