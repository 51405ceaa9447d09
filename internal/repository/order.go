package repository

import (
	"context"
	"errors"
	"strings"

	"seckill/internal/model"

	"gorm.io/gorm"
)

var (
	// ErrOrderExists 唯一索引 (user_id, voucher_id) 冲突。
	ErrOrderExists = errors.New("order already exists")
	// ErrOrderNotFound 订单不存在。
	ErrOrderNotFound = errors.New("order not found")
)

// OrderRepo 订单读写；写路径只通过 InTx 暴露的事务句柄进行。
type OrderRepo struct {
	db *gorm.DB
}

func NewOrderRepo(db *gorm.DB) *OrderRepo {
	return &OrderRepo{db: db}
}

// Tx 事务内可用的订单操作，只能在 InTx 回调里拿到。
type Tx interface {
	HasOrder(userID int64, voucherID uint) (bool, error)
	DecrementStock(voucherID uint) (bool, error)
	CreateOrder(o *model.VoucherOrder) error
}

// InTx 在一个数据库事务里执行 fn，fn 返回错误则回滚。
func (r *OrderRepo) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return r.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&orderTx{db: db})
	})
}

func (r *OrderRepo) Get(ctx context.Context, id int64) (model.VoucherOrder, error) {
	var o model.VoucherOrder
	if err := r.db.WithContext(ctx).First(&o, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.VoucherOrder{}, ErrOrderNotFound
		}
		return model.VoucherOrder{}, err
	}
	return o, nil
}

type orderTx struct {
	db *gorm.DB
}

// HasOrder 该用户是否已持有这张券的订单。
func (t *orderTx) HasOrder(userID int64, voucherID uint) (bool, error) {
	var n int64
	err := t.db.Model(&model.VoucherOrder{}).
		Where("user_id = ? AND voucher_id = ?", userID, voucherID).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DecrementStock 条件扣减 DB 库存（stock > 0 作为乐观条件），返回是否扣减成功。
func (t *orderTx) DecrementStock(voucherID uint) (bool, error) {
	res := t.db.Model(&model.Voucher{}).
		Where("id = ? AND stock > 0", voucherID).
		UpdateColumn("stock", gorm.Expr("stock - 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CreateOrder 插入订单，唯一键冲突返回 ErrOrderExists。
func (t *orderTx) CreateOrder(o *model.VoucherOrder) error {
	if err := t.db.Create(o).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrOrderExists
		}
		return err
	}
	return nil
}

// isUniqueViolation 兼容未开启 TranslateError 的驱动，退回到错误文本匹配。
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "unique") || strings.Contains(s, "duplicate")
}
