package redis

import (
	"context"
	"testing"
	"time"

	"seckill/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestStates(t *testing.T) {
	mr, rdb := testutil.NewRedis(t)
	ctx := context.Background()
	states := NewRequestStates(rdb, time.Minute)

	_, found, err := states.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, states.Put(ctx, RequestState{OrderID: 1, UserID: 7, VoucherID: 2, Status: RequestFailed, Reason: "stock anomaly"}))

	st, found, err := states.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, RequestState{OrderID: 1, UserID: 7, VoucherID: 2, Status: RequestFailed, Reason: "stock anomaly"}, st)

	mr.FastForward(2 * time.Minute)
	_, found, err = states.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStock(t *testing.T) {
	_, rdb := testutil.NewRedis(t)
	ctx := context.Background()
	stock := NewStock(rdb)

	n, err := stock.Get(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, n)

	ok, err := stock.Preload(ctx, 1, 10)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = stock.Preload(ctx, 1, 99)
	require.NoError(t, err)
	assert.False(t, ok, "preload must not overwrite live stock")

	n, err = stock.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	require.NoError(t, stock.Set(ctx, 1, 3))
	n, err = stock.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
