package seckill

import (
	"errors"

	"seckill/internal/repository"
	rediskey "seckill/pkg/redis"
)

var (
	ErrOutOfStock     = errors.New("out of stock")
	ErrDuplicateOrder = errors.New("duplicate order")
	ErrSaleNotStarted = errors.New("sale not started")
	ErrSaleEnded      = errors.New("sale ended")
	ErrInvalidVoucher = errors.New("invalid voucher")

	ErrVoucherNotFound = repository.ErrVoucherNotFound
	ErrOrderNotFound   = repository.ErrOrderNotFound

	// ErrUnavailable Redis / DB 暂时不可用，调用方可以稍后重试。
	ErrUnavailable = rediskey.ErrUnavailable
	// ErrLockNotHeld 落单时传入的锁不属于该用户。
	ErrLockNotHeld = rediskey.ErrLockNotHeld
)
