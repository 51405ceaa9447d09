package seckill

import (
	"context"
	"errors"
	"fmt"

	"seckill/internal/model"
	"seckill/internal/repository"
	rediskey "seckill/pkg/redis"
)

// Outcome 一次落单的结果。
type Outcome int

const (
	Created Outcome = iota
	// AlreadyExists 该用户已有这张券的订单（重复投递），视为成功。
	AlreadyExists
	// StockAnomaly Redis 放行了但 DB 库存已为 0，两边库存不一致。
	StockAnomaly
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case AlreadyExists:
		return "already_exists"
	case StockAnomaly:
		return "stock_anomaly"
	default:
		return "unknown"
	}
}

// Transactor 提供事务执行器，由 repository.OrderRepo 实现。
type Transactor interface {
	InTx(ctx context.Context, fn func(tx repository.Tx) error) error
}

// Materializer 把在途请求落成 DB 订单。
// 调用方必须已持有该用户的锁，锁句柄作为参数显式传入。
type Materializer struct {
	tx Transactor
}

func NewMaterializer(tx Transactor) *Materializer {
	return &Materializer{tx: tx}
}

var errStockAnomaly = errors.New("stock anomaly")

// Materialize 在一个事务里完成：查重 → 条件扣减 DB 库存 → 插入订单。
// 重复执行同一请求只会产生一条订单、一次扣减。
func (m *Materializer) Materialize(ctx context.Context, lock rediskey.LockHandle, req model.OrderRequest) (Outcome, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}
	if lock.Token == "" || lock.Key != rediskey.OrderLockKey(req.UserID) {
		return 0, ErrLockNotHeld
	}

	outcome := Created
	err := m.tx.InTx(ctx, func(tx repository.Tx) error {
		exists, err := tx.HasOrder(req.UserID, req.VoucherID)
		if err != nil {
			return fmt.Errorf("has order: %w", err)
		}
		if exists {
			outcome = AlreadyExists
			return nil
		}

		ok, err := tx.DecrementStock(req.VoucherID)
		if err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}
		if !ok {
			return errStockAnomaly
		}
		return tx.CreateOrder(req.Order())
	})

	switch {
	case err == nil:
		return outcome, nil
	case errors.Is(err, errStockAnomaly):
		return StockAnomaly, nil
	case errors.Is(err, repository.ErrOrderExists):
		// 并发插入撞上唯一索引，扣减已随事务回滚
		return AlreadyExists, nil
	default:
		return 0, fmt.Errorf("materialize order %d: %w", req.OrderID, err)
	}
}
