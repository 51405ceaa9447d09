package model

import "fmt"

// OrderRequest 是准入成功后、落单之前的在途下单请求。
// 它只存在于 Redis Stream 里，落单成功并 ACK 后即消失。
type OrderRequest struct {
	OrderID   int64 `json:"order_id"`
	UserID    int64 `json:"user_id"`
	VoucherID uint  `json:"voucher_id"`
}

// Validate 做最小字段校验，防止消费者处理脏消息。
func (r OrderRequest) Validate() error {
	if r.OrderID <= 0 {
		return fmt.Errorf("order_id is required")
	}
	if r.UserID <= 0 {
		return fmt.Errorf("user_id is required")
	}
	if r.VoucherID == 0 {
		return fmt.Errorf("voucher_id is required")
	}
	return nil
}

// Order 由请求生成待支付订单。
func (r OrderRequest) Order() *VoucherOrder {
	return &VoucherOrder{
		ID:        r.OrderID,
		UserID:    r.UserID,
		VoucherID: r.VoucherID,
		Status:    OrderStatusUnpaid,
	}
}
