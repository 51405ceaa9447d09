package redis

import (
	"context"
	"strconv"
	"time"

	rd "github.com/redis/go-redis/v9"
)

const (
	// RequestPending 已准入、已入队，等待异步落单（由准入脚本写入）。
	RequestPending = "pending"
	// RequestCreated 订单已落库。
	RequestCreated = "created"
	// RequestFailed 落单失败（终态），Reason 给出原因。
	RequestFailed = "failed"
)

// RequestState 对应 Redis 内的请求状态结构。
type RequestState struct {
	OrderID   int64
	UserID    int64
	VoucherID uint
	Status    string
	Reason    string
}

// RequestStates 读写订单异步状态。
type RequestStates struct {
	rdb rd.Cmdable
	ttl time.Duration
}

func NewRequestStates(rdb rd.Cmdable, ttl time.Duration) *RequestStates {
	return &RequestStates{rdb: rdb, ttl: ttl}
}

// Get 查询 order_id 当前状态。found=false 表示 key 不存在（未准入或已过期）。
func (s *RequestStates) Get(ctx context.Context, orderID int64) (RequestState, bool, error) {
	m, err := s.rdb.HGetAll(ctx, RequestStateKey(orderID)).Result()
	if err != nil {
		return RequestState{}, false, unavailable("request state get", err)
	}
	if len(m) == 0 {
		return RequestState{}, false, nil
	}

	out := RequestState{
		OrderID: orderID,
		Status:  m["status"],
		Reason:  m["reason"],
	}
	out.UserID, _ = strconv.ParseInt(m["user_id"], 10, 64)
	if v, err := strconv.ParseUint(m["voucher_id"], 10, 64); err == nil {
		out.VoucherID = uint(v)
	}
	if out.Status == "" {
		out.Status = RequestPending
	}
	return out, true, nil
}

// Put 更新状态，并刷新 key TTL。
func (s *RequestStates) Put(ctx context.Context, st RequestState) error {
	key := RequestStateKey(st.OrderID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"order_id", st.OrderID,
		"user_id", st.UserID,
		"voucher_id", st.VoucherID,
		"status", st.Status,
		"reason", st.Reason,
	)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("request state put", err)
	}
	return nil
}
