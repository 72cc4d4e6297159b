package bucket

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStore_Consume(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	t.Run("first consume starts the window", func(t *testing.T) {
		st, err := store.Consume(ctx, "user:1", 1, 10, time.Minute)
		require.NoError(t, err)
		assert.True(t, st.Success)
		assert.Equal(t, 9, st.RemainingPoints)
		assert.Equal(t, 1, st.ConsumedPoints)
	})

	t.Run("consumes accumulate within the window", func(t *testing.T) {
		for i := 0; i < 9; i++ {
			st, err := store.Consume(ctx, "user:1", 1, 10, time.Minute)
			require.NoError(t, err)
			assert.True(t, st.Success)
		}
		st, err := store.Peek(ctx, "user:1", 10)
		require.NoError(t, err)
		assert.Equal(t, 10, st.ConsumedPoints)
		assert.Equal(t, 0, st.RemainingPoints)
	})

	t.Run("consume over capacity fails without mutating state", func(t *testing.T) {
		st, err := store.Consume(ctx, "user:1", 1, 10, time.Minute)
		require.NoError(t, err)
		assert.False(t, st.Success)
		assert.Positive(t, st.MsBeforeReset(time.Now()))

		after, err := store.Peek(ctx, "user:1", 10)
		require.NoError(t, err)
		assert.Equal(t, 10, after.ConsumedPoints, "failed consume must leave state unchanged")
	})
}

func TestInMemoryStore_WindowExpiry(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	st, err := store.Consume(ctx, "user:2", 3, 3, 30*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, st.Success)

	st, err = store.Consume(ctx, "user:2", 1, 3, 30*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, st.Success)

	time.Sleep(40 * time.Millisecond)

	st, err = store.Consume(ctx, "user:2", 1, 3, 30*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, st.Success, "elapsed window must reset the bucket")
	assert.Equal(t, 1, st.ConsumedPoints)
}

func TestInMemoryStore_Delete(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	_, err := store.Consume(ctx, "user:3", 5, 5, time.Minute)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "user:3"))

	st, err := store.Peek(ctx, "user:3", 5)
	require.NoError(t, err)
	assert.Equal(t, 0, st.ConsumedPoints)
	assert.Equal(t, 5, st.RemainingPoints)
}

func TestInMemoryStore_PeekDoesNotMutate(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Peek(ctx, "user:4", 10)
		require.NoError(t, err)
	}
	st, err := store.Consume(ctx, "user:4", 1, 10, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, st.ConsumedPoints)
}

// TestInMemoryStore_ConcurrentLastPoint pins the invariant that two parallel
// consumers contending for the last unit of capacity never both succeed.
func TestInMemoryStore_ConcurrentLastPoint(t *testing.T) {
	ctx := context.Background()

	for round := 0; round < 50; round++ {
		store := NewInMemoryStore()
		// Fill the bucket to capacity-1.
		_, err := store.Consume(ctx, "user:5", 9, 10, time.Minute)
		require.NoError(t, err)

		var successes atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				st, err := store.Consume(ctx, "user:5", 1, 10, time.Minute)
				require.NoError(t, err)
				if st.Success {
					successes.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), successes.Load(), "exactly one consumer may take the last point")
	}
}

// TestInMemoryStore_CapacitySum pins the window invariant: the sum of
// successful consumes within one window never exceeds capacity.
func TestInMemoryStore_CapacitySum(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	var successes atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := store.Consume(ctx, "guild:6", 1, 25, time.Minute)
			require.NoError(t, err)
			if st.Success {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(25), successes.Load())
}
