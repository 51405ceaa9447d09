package redis

import (
	"context"
	"testing"
	"time"

	"seckill/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserLock(t *testing.T) {
	ctx := context.Background()

	t.Run("second acquire is busy", func(t *testing.T) {
		_, rdb := testutil.NewRedis(t)
		lock := NewUserLock(rdb)

		h, ok, err := lock.TryAcquire(ctx, OrderLockKey(1), 30*time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "lock:order:1", h.Key)
		assert.NotEmpty(t, h.Token)

		_, ok, err = lock.TryAcquire(ctx, OrderLockKey(1), 30*time.Second)
		require.NoError(t, err)
		assert.False(t, ok)

		// 不同用户互不影响
		_, ok, err = lock.TryAcquire(ctx, OrderLockKey(2), 30*time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("release frees the key", func(t *testing.T) {
		mr, rdb := testutil.NewRedis(t)
		lock := NewUserLock(rdb)

		h, ok, err := lock.TryAcquire(ctx, OrderLockKey(1), 30*time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, lock.Release(ctx, h))
		assert.False(t, mr.Exists(h.Key))

		_, ok, err = lock.TryAcquire(ctx, OrderLockKey(1), 30*time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("release with stale token keeps the other holder", func(t *testing.T) {
		mr, rdb := testutil.NewRedis(t)
		lock := NewUserLock(rdb)

		stale, ok, err := lock.TryAcquire(ctx, OrderLockKey(1), time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		mr.FastForward(2 * time.Second)

		current, ok, err := lock.TryAcquire(ctx, OrderLockKey(1), 30*time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		assert.ErrorIs(t, lock.Release(ctx, stale), ErrLockNotHeld)
		got, err := mr.Get(current.Key)
		require.NoError(t, err)
		assert.Equal(t, current.Token, got)
	})

	t.Run("release twice", func(t *testing.T) {
		_, rdb := testutil.NewRedis(t)
		lock := NewUserLock(rdb)

		h, _, err := lock.TryAcquire(ctx, OrderLockKey(3), 30*time.Second)
		require.NoError(t, err)
		require.NoError(t, lock.Release(ctx, h))
		assert.ErrorIs(t, lock.Release(ctx, h), ErrLockNotHeld)
	})
}
