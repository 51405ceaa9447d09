package seckill

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"seckill/internal/model"
)

// VoucherInput 新建秒杀券的参数，金额单位：分。
type VoucherInput struct {
	Title       string
	PayValue    int64
	ActualValue int64
	Stock       int64
	BeginTime   time.Time
	EndTime     time.Time
}

func (in VoucherInput) validate() error {
	switch {
	case strings.TrimSpace(in.Title) == "":
		return fmt.Errorf("%w: title is required", ErrInvalidVoucher)
	case in.Stock <= 0:
		return fmt.Errorf("%w: stock must be > 0", ErrInvalidVoucher)
	case in.PayValue < 0 || in.ActualValue < 0:
		return fmt.Errorf("%w: values must be >= 0", ErrInvalidVoucher)
	case !in.EndTime.After(in.BeginTime):
		return fmt.Errorf("%w: end_time must be after begin_time", ErrInvalidVoucher)
	}
	return nil
}

// CreateVoucher 新建秒杀券并把库存写进 Redis。
// Redis 写入失败时券已落库，可以之后调用 PreloadStock 补写。
func (s *Service) CreateVoucher(ctx context.Context, in VoucherInput) (model.Voucher, error) {
	if err := in.validate(); err != nil {
		return model.Voucher{}, err
	}
	v := model.Voucher{
		Title:       in.Title,
		PayValue:    in.PayValue,
		ActualValue: in.ActualValue,
		TotalStock:  in.Stock,
		Stock:       in.Stock,
		BeginTime:   in.BeginTime,
		EndTime:     in.EndTime,
	}
	if err := s.vouchers.Create(ctx, &v); err != nil {
		return model.Voucher{}, fmt.Errorf("create voucher: %w", err)
	}
	if err := s.stock.Set(ctx, v.ID, v.Stock); err != nil {
		s.log.ErrorContext(ctx, "voucher stored but stock not loaded",
			slog.Uint64("voucher_id", uint64(v.ID)), slog.Any("err", err))
		return v, err
	}
	s.log.InfoContext(ctx, "voucher created",
		slog.Uint64("voucher_id", uint64(v.ID)), slog.Int64("stock", v.Stock))
	return v, nil
}

// PreloadStock 补写 Redis 库存 key，key 已存在时不覆盖。返回 true 表示本次写入生效。
// DB 库存落后于队列里还没落库的订单，所以要再减去这部分：
// 已准入集合里的人数减去 DB 已售出的就是在途订单数。
func (s *Service) PreloadStock(ctx context.Context, voucherID uint) (bool, error) {
	v, err := s.vouchers.Get(ctx, voucherID)
	if err != nil {
		return false, err
	}
	admitted, err := s.stock.Admitted(ctx, v.ID)
	if err != nil {
		return false, err
	}
	stock := v.Stock
	if inFlight := admitted - v.Sold(); inFlight > 0 {
		stock -= inFlight
	}
	if stock < 0 {
		stock = 0
	}
	ok, err := s.stock.Preload(ctx, v.ID, stock)
	if err != nil {
		return false, err
	}
	if ok {
		s.log.InfoContext(ctx, "stock preloaded", slog.Uint64("voucher_id", uint64(v.ID)),
			slog.Int64("stock", stock), slog.Int64("in_flight", admitted-v.Sold()))
	}
	return ok, nil
}

func (s *Service) ListVouchers(ctx context.Context) ([]model.Voucher, error) {
	return s.vouchers.List(ctx)
}

// Stock Redis 中的实时库存。
func (s *Service) Stock(ctx context.Context, voucherID uint) (int64, error) {
	return s.stock.Get(ctx, voucherID)
}
