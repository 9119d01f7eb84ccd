package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBegin_FirstCallerOwns(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	claim := cache.Begin("key-1")
	assert.True(t, claim.Owner())
}

func TestBegin_FollowerSharesOutcome(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	owner := cache.Begin("key-1")
	require.True(t, owner.Owner())

	follower := cache.Begin("key-1")
	require.False(t, follower.Owner())

	go owner.Complete("result-A", nil)

	got, err := follower.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "result-A", got)
}

func TestBegin_CompletedEntryServedImmediately(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	owner := cache.Begin("key-1")
	owner.Complete("result-A", nil)

	later := cache.Begin("key-1")
	require.False(t, later.Owner())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := later.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "result-A", got)
}

func TestBegin_SingleOwnerUnderRace(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	const callers = 32
	var owners atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			claim := cache.Begin("same-key")
			if claim.Owner() {
				owners.Add(1)
				claim.Complete("r", nil)
			} else {
				got, err := claim.Await(context.Background())
				assert.NoError(t, err)
				assert.Equal(t, "r", got)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), owners.Load())
}

func TestComplete_ErrorSharedThenDropped(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	boom := errors.New("provider exploded")

	owner := cache.Begin("key-1")
	follower := cache.Begin("key-1")
	owner.Complete(nil, boom)

	_, err := follower.Await(context.Background())
	assert.ErrorIs(t, err, boom)

	// The failed entry is gone; a retry executes afresh.
	retry := cache.Begin("key-1")
	assert.True(t, retry.Owner())
}

func TestBegin_ExpiredEntryReexecutes(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	owner := cache.Begin("key-1")
	owner.Complete("old", nil)

	time.Sleep(20 * time.Millisecond)

	retry := cache.Begin("key-1")
	assert.True(t, retry.Owner())
}

func TestEviction_OldestCompletedFirst(t *testing.T) {
	cache := New(5*time.Minute, 3)
	defer cache.Close()

	for i := 0; i < 3; i++ {
		claim := cache.Begin(fmt.Sprintf("key-%d", i))
		require.True(t, claim.Owner())
		claim.Complete(i, nil)
	}
	require.Equal(t, 3, cache.Len())

	// A fourth key evicts key-0, the oldest insertion.
	claim := cache.Begin("key-3")
	require.True(t, claim.Owner())
	claim.Complete(3, nil)
	assert.Equal(t, 3, cache.Len())

	again := cache.Begin("key-0")
	assert.True(t, again.Owner(), "evicted key should re-execute")
}

func TestEviction_SkipsPendingEntries(t *testing.T) {
	cache := New(5*time.Minute, 2)
	defer cache.Close()

	pending := cache.Begin("in-flight")
	done := cache.Begin("done")
	done.Complete("x", nil)

	// Cap reached; insertion must evict "done", never "in-flight".
	third := cache.Begin("new-key")
	require.True(t, third.Owner())

	follower := cache.Begin("in-flight")
	assert.False(t, follower.Owner(), "pending entry must survive eviction")
	pending.Complete("y", nil)
}

func TestAwait_ContextCancelled(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Begin("key-1") // owner never completes
	follower := cache.Begin("key-1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := follower.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSweepExpired(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	for i := 0; i < 5; i++ {
		claim := cache.Begin(fmt.Sprintf("key-%d", i))
		claim.Complete(i, nil)
	}
	time.Sleep(20 * time.Millisecond)
	cache.SweepExpired()
	assert.Equal(t, 0, cache.Len())
}
