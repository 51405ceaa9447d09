package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"seckill/internal/model"
	"seckill/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	t.Run("unsupported driver", func(t *testing.T) {
		_, err := Open("mysql", "root@/db")
		require.Error(t, err)
	})

	t.Run("sqlite memory", func(t *testing.T) {
		db, err := Open("sqlite", "file:open_test?mode=memory&cache=shared")
		require.NoError(t, err)
		require.NoError(t, Migrate(db))
		assert.True(t, db.Migrator().HasTable(&model.VoucherOrder{}))
		assert.True(t, db.Migrator().HasIndex(&model.VoucherOrder{}, "idx_user_voucher"))
	})
}

func TestVoucherRepo(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewVoucherRepo(db)
	ctx := context.Background()

	now := time.Now()
	v := &model.Voucher{Title: "50 off", PayValue: 100, ActualValue: 5000, TotalStock: 10, Stock: 10,
		BeginTime: now, EndTime: now.Add(time.Hour)}
	require.NoError(t, repo.Create(ctx, v))
	require.NotZero(t, v.ID)

	got, err := repo.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "50 off", got.Title)
	assert.Equal(t, int64(10), got.Stock)

	_, err = repo.Get(ctx, v.ID+100)
	assert.ErrorIs(t, err, ErrVoucherNotFound)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestOrderRepo_InTx(t *testing.T) {
	ctx := context.Background()

	t.Run("decrement and create", func(t *testing.T) {
		db := testutil.NewDB(t)
		v := testutil.InsertVoucher(t, db, 2)
		repo := NewOrderRepo(db)

		err := repo.InTx(ctx, func(tx Tx) error {
			has, err := tx.HasOrder(7, v.ID)
			require.NoError(t, err)
			require.False(t, has)

			ok, err := tx.DecrementStock(v.ID)
			require.NoError(t, err)
			require.True(t, ok)
			return tx.CreateOrder(&model.VoucherOrder{ID: 100, UserID: 7, VoucherID: v.ID})
		})
		require.NoError(t, err)

		o, err := repo.Get(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusUnpaid, o.Status)

		var left model.Voucher
		require.NoError(t, db.First(&left, v.ID).Error)
		assert.Equal(t, int64(1), left.Stock)
	})

	t.Run("duplicate rolls back the decrement", func(t *testing.T) {
		db := testutil.NewDB(t)
		v := testutil.InsertVoucher(t, db, 5)
		repo := NewOrderRepo(db)
		require.NoError(t, db.Create(&model.VoucherOrder{ID: 1, UserID: 7, VoucherID: v.ID}).Error)

		err := repo.InTx(ctx, func(tx Tx) error {
			if _, err := tx.DecrementStock(v.ID); err != nil {
				return err
			}
			return tx.CreateOrder(&model.VoucherOrder{ID: 2, UserID: 7, VoucherID: v.ID})
		})
		assert.ErrorIs(t, err, ErrOrderExists)

		var left model.Voucher
		require.NoError(t, db.First(&left, v.ID).Error)
		assert.Equal(t, int64(5), left.Stock)
	})

	t.Run("zero stock is not decremented", func(t *testing.T) {
		db := testutil.NewDB(t)
		v := testutil.InsertVoucher(t, db, 0)
		repo := NewOrderRepo(db)

		errEmpty := errors.New("empty")
		err := repo.InTx(ctx, func(tx Tx) error {
			ok, err := tx.DecrementStock(v.ID)
			if err != nil {
				return err
			}
			if !ok {
				return errEmpty
			}
			return nil
		})
		assert.ErrorIs(t, err, errEmpty)

		var left model.Voucher
		require.NoError(t, db.First(&left, v.ID).Error)
		assert.Zero(t, left.Stock)
	})

	t.Run("missing order", func(t *testing.T) {
		repo := NewOrderRepo(testutil.NewDB(t))
		_, err := repo.Get(ctx, 42)
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(errors.New("UNIQUE constraint failed: voucher_orders.user_id")))
	assert.True(t, isUniqueViolation(errors.New(`ERROR: duplicate key value violates unique constraint "idx_user_voucher"`)))
	assert.False(t, isUniqueViolation(errors.New("database is locked")))
}
