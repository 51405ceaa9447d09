package queue

import (
	"fmt"
	"strconv"

	"seckill/internal/model"

	rd "github.com/redis/go-redis/v9"
)

// stream 字段名，与准入脚本写入的字段保持一致。
const (
	fieldOrderID     = "order_id"
	fieldUserID      = "user_id"
	fieldVoucherID   = "voucher_id"
	fieldTraceParent = "traceparent"
)

// Entry 是从订单 stream 里解析出来的一条在途请求。
type Entry struct {
	ID          string
	Request     model.OrderRequest
	TraceParent string
}

// Decode 解析 stream 消息，字段缺失或非法时返回错误（调用方按脏消息处理）。
func Decode(xm rd.XMessage) (Entry, error) {
	orderStr, err := getStreamString(xm.Values, fieldOrderID)
	if err != nil {
		return Entry{}, err
	}
	userStr, err := getStreamString(xm.Values, fieldUserID)
	if err != nil {
		return Entry{}, err
	}
	voucherStr, err := getStreamString(xm.Values, fieldVoucherID)
	if err != nil {
		return Entry{}, err
	}

	orderID, err := strconv.ParseInt(orderStr, 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("invalid order_id %q", orderStr)
	}
	userID, err := strconv.ParseInt(userStr, 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("invalid user_id %q", userStr)
	}
	voucherID, err := strconv.ParseUint(voucherStr, 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("invalid voucher_id %q", voucherStr)
	}

	req := model.OrderRequest{OrderID: orderID, UserID: userID, VoucherID: uint(voucherID)}
	if err := req.Validate(); err != nil {
		return Entry{}, err
	}

	// traceparent 可选
	tp, _ := getStreamString(xm.Values, fieldTraceParent)
	return Entry{ID: xm.ID, Request: req, TraceParent: tp}, nil
}

func encode(req model.OrderRequest, traceParent string) map[string]interface{} {
	return map[string]interface{}{
		fieldOrderID:     req.OrderID,
		fieldUserID:      req.UserID,
		fieldVoucherID:   req.VoucherID,
		fieldTraceParent: traceParent,
	}
}

func getStreamString(values map[string]interface{}, key string) (string, error) {
	v, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing field %s", key)
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	default:
		return "", fmt.Errorf("unsupported field type %s: %T", key, v)
	}
}
