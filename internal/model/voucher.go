package model

import (
	"time"

	"gorm.io/gorm"
)

// Voucher 秒杀券：面值、库存、秒杀时间段
type Voucher struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Title       string `gorm:"size:128;not null" json:"title"`
	PayValue    int64  `gorm:"not null" json:"pay_value"`    // 支付金额，单位：分
	ActualValue int64  `gorm:"not null" json:"actual_value"` // 抵扣金额，单位：分

	// TotalStock 为初始库存；Stock 是 DB 侧的权威剩余库存，只由异步落单扣减。
	// 秒杀准入判断走 Redis 里的影子库存，不读这里。
	TotalStock int64     `gorm:"not null;default:0" json:"total_stock"`
	Stock      int64     `gorm:"not null;default:0" json:"stock"`
	BeginTime  time.Time `gorm:"not null" json:"begin_time"`
	EndTime    time.Time `gorm:"not null" json:"end_time"`
}

func (Voucher) TableName() string { return "seckill_vouchers" }

// Sold 已落库的售出数量。
func (v Voucher) Sold() int64 { return v.TotalStock - v.Stock }

// 秒杀时间段是闭区间 [BeginTime, EndTime]。
func (v Voucher) NotStarted(t time.Time) bool { return t.Before(v.BeginTime) }
func (v Voucher) Ended(t time.Time) bool      { return t.After(v.EndTime) }
