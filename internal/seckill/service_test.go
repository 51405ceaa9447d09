package seckill

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"seckill/internal/clock"
	"seckill/internal/model"
	"seckill/internal/repository"
	"seckill/internal/testutil"
	rediskey "seckill/pkg/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	svc *Service
	mr  *miniredis.Miniredis
	db  *gorm.DB
}

func newFixture(t *testing.T, clk clock.Clock) fixture {
	t.Helper()
	mr, rdb := testutil.NewRedis(t)
	db := testutil.NewDB(t)
	svc := NewService(Deps{
		Vouchers:  repository.NewVoucherRepo(db),
		Orders:    repository.NewOrderRepo(db),
		IDs:       rediskey.NewSequenceGenerator(rdb),
		Admission: rediskey.NewAdmission(rdb, "stream.orders", time.Hour),
		Stock:     rediskey.NewStock(rdb),
		States:    rediskey.NewRequestStates(rdb, time.Hour),
		Clock:     clk,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return fixture{svc: svc, mr: mr, db: db}
}

func (f fixture) newVoucher(t *testing.T, stock int64, begin, end time.Time) model.Voucher {
	t.Helper()
	v, err := f.svc.CreateVoucher(context.Background(), VoucherInput{
		Title: "100 off 150", PayValue: 8000, ActualValue: 10000, Stock: stock,
		BeginTime: begin, EndTime: end,
	})
	require.NoError(t, err)
	return v
}

func TestPlaceOrder_LastUnit(t *testing.T) {
	now := time.Now()
	f := newFixture(t, clock.NewFixed(now))
	v := f.newVoucher(t, 1, now.Add(-time.Minute), now.Add(time.Hour))
	ctx := context.Background()

	id, err := f.svc.PlaceOrder(ctx, v.ID, 1)
	require.NoError(t, err)
	assert.NotZero(t, id)

	_, err = f.svc.PlaceOrder(ctx, v.ID, 2)
	assert.ErrorIs(t, err, ErrOutOfStock)

	left, err := f.svc.Stock(ctx, v.ID)
	require.NoError(t, err)
	assert.Zero(t, left)
}

func TestPlaceOrder_SameUserTwice(t *testing.T) {
	now := time.Now()
	f := newFixture(t, clock.NewFixed(now))
	v := f.newVoucher(t, 5, now.Add(-time.Minute), now.Add(time.Hour))
	ctx := context.Background()

	_, err := f.svc.PlaceOrder(ctx, v.ID, 1)
	require.NoError(t, err)
	_, err = f.svc.PlaceOrder(ctx, v.ID, 1)
	assert.ErrorIs(t, err, ErrDuplicateOrder)

	left, err := f.svc.Stock(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), left)
}

func TestPlaceOrder_SaleWindow(t *testing.T) {
	begin := time.Date(2026, 11, 11, 0, 0, 0, 0, time.UTC)
	end := begin.Add(time.Hour)

	cases := []struct {
		name string
		now  time.Time
		want error
	}{
		{"before begin", begin.Add(-time.Second), ErrSaleNotStarted},
		{"after end", end.Add(time.Second), ErrSaleEnded},
		{"at begin", begin, nil},
		{"at end", end, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, clock.NewFixed(tc.now))
			v := f.newVoucher(t, 10, begin, end)
			_, err := f.svc.PlaceOrder(context.Background(), v.ID, 1)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestPlaceOrder_UnknownVoucher(t *testing.T) {
	f := newFixture(t, clock.NewSystem())
	_, err := f.svc.PlaceOrder(context.Background(), 999, 1)
	assert.ErrorIs(t, err, ErrVoucherNotFound)
}

func TestPlaceOrder_RedisDown(t *testing.T) {
	now := time.Now()
	f := newFixture(t, clock.NewFixed(now))
	v := f.newVoucher(t, 5, now.Add(-time.Minute), now.Add(time.Hour))
	f.mr.Close()

	_, err := f.svc.PlaceOrder(context.Background(), v.ID, 1)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestOrderResult(t *testing.T) {
	now := time.Now()
	f := newFixture(t, clock.NewFixed(now))
	v := f.newVoucher(t, 5, now.Add(-time.Minute), now.Add(time.Hour))
	ctx := context.Background()

	id, err := f.svc.PlaceOrder(ctx, v.ID, 1)
	require.NoError(t, err)

	t.Run("pending for owner", func(t *testing.T) {
		view, err := f.svc.OrderResult(ctx, 1, id)
		require.NoError(t, err)
		assert.Equal(t, rediskey.RequestPending, view.Status)
		assert.Equal(t, v.ID, view.VoucherID)
	})

	t.Run("hidden from other users", func(t *testing.T) {
		_, err := f.svc.OrderResult(ctx, 2, id)
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := f.svc.OrderResult(ctx, 1, id+1)
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})

	t.Run("falls back to db after state expires", func(t *testing.T) {
		require.NoError(t, f.db.Create(&model.VoucherOrder{ID: id, UserID: 1, VoucherID: v.ID}).Error)
		f.mr.FastForward(2 * time.Hour)

		view, err := f.svc.OrderResult(ctx, 1, id)
		require.NoError(t, err)
		assert.Equal(t, rediskey.RequestCreated, view.Status)
	})
}

func TestVoucherAdmin(t *testing.T) {
	now := time.Now()
	f := newFixture(t, clock.NewFixed(now))
	ctx := context.Background()

	_, err := f.svc.CreateVoucher(ctx, VoucherInput{Title: "x", Stock: 0, BeginTime: now, EndTime: now.Add(time.Hour)})
	assert.ErrorIs(t, err, ErrInvalidVoucher)
	_, err = f.svc.CreateVoucher(ctx, VoucherInput{Title: "x", Stock: 1, BeginTime: now, EndTime: now})
	assert.ErrorIs(t, err, ErrInvalidVoucher)

	v := f.newVoucher(t, 8, now, now.Add(time.Hour))
	got, err := f.mr.Get(rediskey.StockKey(v.ID))
	require.NoError(t, err)
	assert.Equal(t, "8", got)

	// 已有库存 key 时 preload 不覆盖
	_, err = f.svc.PlaceOrder(ctx, v.ID, 1)
	require.NoError(t, err)
	ok, err := f.svc.PreloadStock(ctx, v.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	left, err := f.svc.Stock(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), left)

	// key 丢失后用 DB 库存补写，减去还在队列里的那一单
	f.mr.Del(rediskey.StockKey(v.ID))
	ok, err = f.svc.PreloadStock(ctx, v.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	left, err = f.svc.Stock(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), left)

	// 在途订单按 DB 已售抵扣：落库之后不会被重复减掉
	require.NoError(t, f.db.Model(&model.Voucher{}).Where("id = ?", v.ID).
		Update("stock", gorm.Expr("stock - 1")).Error)
	f.mr.Del(rediskey.StockKey(v.ID))
	_, err = f.svc.PreloadStock(ctx, v.ID)
	require.NoError(t, err)
	left, err = f.svc.Stock(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), left)

	// Redis 整体丢失（已准入集合也没了）时以 DB 库存为准
	f.mr.FlushAll()
	_, err = f.svc.PreloadStock(ctx, v.ID)
	require.NoError(t, err)
	left, err = f.svc.Stock(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), left)

	_, err = f.svc.PreloadStock(ctx, 999)
	assert.ErrorIs(t, err, ErrVoucherNotFound)

	list, err := f.svc.ListVouchers(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
