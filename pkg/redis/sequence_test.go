package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"seckill/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceGenerator_UniqueUnderConcurrency(t *testing.T) {
	_, rdb := testutil.NewRedis(t)
	gen := NewSequenceGenerator(rdb)

	const workers, perWorker = 100, 100
	const n = workers * perWorker
	ids := make([]int64, n)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id, err := gen.NextID(context.Background(), "order")
				if err != nil {
					t.Errorf("next id: %v", err)
					return
				}
				ids[base+i] = id
			}
		}(w * perWorker)
	}
	wg.Wait()

	seen := make(map[int64]struct{}, n)
	for _, id := range ids {
		require.NotZero(t, id)
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %d", id)
		seen[id] = struct{}{}
	}
}

func TestSequenceGenerator_MonotonicSequential(t *testing.T) {
	_, rdb := testutil.NewRedis(t)
	now := time.Date(2026, 3, 1, 23, 59, 58, 0, time.UTC)
	gen := NewSequenceGenerator(rdb).WithClock(func() time.Time { return now })

	var prev int64
	for i := 0; i < 50; i++ {
		if i%10 == 0 {
			// 跨秒、跨天
			now = now.Add(time.Second)
		}
		id, err := gen.NextID(context.Background(), "order")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, id, prev)
		prev = id
	}
}

func TestSequenceGenerator_DailyCounterKey(t *testing.T) {
	mr, rdb := testutil.NewRedis(t)
	day := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	gen := NewSequenceGenerator(rdb).WithClock(func() time.Time { return day })

	id1, err := gen.NextID(context.Background(), "order")
	require.NoError(t, err)
	id2, err := gen.NextID(context.Background(), "order")
	require.NoError(t, err)

	got, err := mr.Get("icr:order:2026-10-18")
	require.NoError(t, err)
	assert.Equal(t, "2", got)

	ts, count := SplitID(id2)
	assert.True(t, day.Equal(ts), "got %s", ts)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, id1+1, id2)
}

func TestSequenceGenerator_StoreDown(t *testing.T) {
	mr, rdb := testutil.NewRedis(t)
	gen := NewSequenceGenerator(rdb)
	mr.Close()

	_, err := gen.NextID(context.Background(), "order")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSequenceGenerator_Exhausted(t *testing.T) {
	mr, rdb := testutil.NewRedis(t)
	day := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	gen := NewSequenceGenerator(rdb).WithClock(func() time.Time { return day })

	// 当天低 32 位只剩最后一个
	require.NoError(t, mr.Set(SequenceKey("order", "2026-10-18"), "4294967294"))

	id, err := gen.NextID(context.Background(), "order")
	require.NoError(t, err)
	_, count := SplitID(id)
	assert.Equal(t, int64(1<<32-1), count)

	_, err = gen.NextID(context.Background(), "order")
	assert.ErrorIs(t, err, ErrSequenceExhausted)

	// 其他日期不受影响
	next := NewSequenceGenerator(rdb).WithClock(func() time.Time { return day.AddDate(0, 0, 1) })
	_, err = next.NextID(context.Background(), "order")
	assert.NoError(t, err)
}
