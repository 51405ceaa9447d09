package redis

import "fmt"

// StockKey Redis 影子库存，准入脚本以它为准判断“还有没有货”。
func StockKey(voucherID uint) string {
	return fmt.Sprintf("seckill:stock:%d", voucherID)
}

// OrderMarkerKey 已下单用户集合（SET），一人一单的快速判断。
func OrderMarkerKey(voucherID uint) string {
	return fmt.Sprintf("seckill:order:%d", voucherID)
}

// OrderLockKey 落单时的用户级分布式锁。
func OrderLockKey(userID int64) string {
	return fmt.Sprintf("lock:order:%d", userID)
}

// SequenceKey 按天拆分的自增计数器，day 格式 YYYY-MM-DD。
func SequenceKey(prefix, day string) string {
	return fmt.Sprintf("icr:%s:%s", prefix, day)
}

// RequestStateKey 存储订单的异步状态（pending/created/failed）。
func RequestStateKey(orderID int64) string {
	return fmt.Sprintf("seckill:request:state:%d", orderID)
}
