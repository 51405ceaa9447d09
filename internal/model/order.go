package model

import "time"

// OrderStatus 订单状态
type OrderStatus int

const (
	OrderStatusUnpaid    OrderStatus = iota + 1 // 未支付
	OrderStatusPaid                             // 已支付
	OrderStatusUsed                             // 已核销
	OrderStatusCancelled                        // 已取消
	OrderStatusRefunding                        // 退款中
	OrderStatusRefunded                         // 已退款
)

// VoucherOrder 秒杀订单。ID 来自全局序列号生成器，不走自增。
// (user_id, voucher_id) 唯一索引是一人一单的最后一道防线。
type VoucherOrder struct {
	ID        int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID    int64       `gorm:"not null;uniqueIndex:idx_user_voucher,priority:1" json:"user_id"`
	VoucherID uint        `gorm:"not null;uniqueIndex:idx_user_voucher,priority:2;index" json:"voucher_id"`
	Status    OrderStatus `gorm:"not null;default:1" json:"status"`
}

// 显式实现结构，确定表名
func (VoucherOrder) TableName() string { return "voucher_orders" }
