package redis

import (
	"context"
	"errors"

	rd "github.com/redis/go-redis/v9"
)

// Stock 管理 Redis 影子库存。
type Stock struct {
	rdb rd.Cmdable
}

func NewStock(rdb rd.Cmdable) *Stock {
	return &Stock{rdb: rdb}
}

// Set 覆盖写入库存，仅用于新建秒杀券。
func (s *Stock) Set(ctx context.Context, voucherID uint, stock int64) error {
	if err := s.rdb.Set(ctx, StockKey(voucherID), stock, 0).Err(); err != nil {
		return unavailable("stock set", err)
	}
	return nil
}

// Preload 仅在 key 不存在时写入（SETNX），不会覆盖正在扣减的库存。
// 返回 true 表示本次写入生效。
func (s *Stock) Preload(ctx context.Context, voucherID uint, stock int64) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, StockKey(voucherID), stock, 0).Result()
	if err != nil {
		return false, unavailable("stock preload", err)
	}
	return ok, nil
}

// Admitted 已准入的用户数（一人一单集合大小），包含还在队列里没落库的。
func (s *Stock) Admitted(ctx context.Context, voucherID uint) (int64, error) {
	n, err := s.rdb.SCard(ctx, OrderMarkerKey(voucherID)).Result()
	if err != nil {
		return 0, unavailable("stock admitted", err)
	}
	return n, nil
}

// Get 读取实时库存，key 不存在视为 0。
func (s *Stock) Get(ctx context.Context, voucherID uint) (int64, error) {
	val, err := s.rdb.Get(ctx, StockKey(voucherID)).Int64()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return 0, nil
		}
		return 0, unavailable("stock get", err)
	}
	return val, nil
}
