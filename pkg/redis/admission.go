package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaSeckill：秒杀准入脚本，Redis 单线程执行，整段不可被其他请求打断。
// KEYS[1]=库存key KEYS[2]=已下单用户集合 KEYS[3]=订单 stream KEYS[4]=请求状态 hash
// ARGV[1]=voucher_id ARGV[2]=user_id ARGV[3]=order_id ARGV[4]=traceparent ARGV[5]=状态 TTL 秒
// 返回 {0, stream_id} 准入；{1} 库存不足；{2} 重复下单
const luaSeckill = `
local stock = tonumber(redis.call('GET', KEYS[1]) or '0')
if stock == nil or stock <= 0 then
  return {1}
end
if redis.call('SISMEMBER', KEYS[2], ARGV[2]) == 1 then
  return {2}
end

redis.call('INCRBY', KEYS[1], -1)
redis.call('SADD', KEYS[2], ARGV[2])

-- 入队与扣减在同一个脚本里，避免“扣了库存却没进队列”
local id = redis.call('XADD', KEYS[3], '*',
  'order_id', ARGV[3], 'user_id', ARGV[2], 'voucher_id', ARGV[1], 'traceparent', ARGV[4])

redis.call('HSET', KEYS[4], 'order_id', ARGV[3], 'user_id', ARGV[2], 'voucher_id', ARGV[1], 'status', 'pending')
local ttl = tonumber(ARGV[5])
if ttl ~= nil and ttl > 0 then
  redis.call('EXPIRE', KEYS[4], ttl)
end
return {0, id}
`

var seckillScript = rd.NewScript(luaSeckill)

// AdmitOutcome 准入结果
type AdmitOutcome int

const (
	Admitted AdmitOutcome = iota
	OutOfStock
	Duplicate
)

func (o AdmitOutcome) String() string {
	switch o {
	case Admitted:
		return "admitted"
	case OutOfStock:
		return "out_of_stock"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// AdmitArgs 一次准入需要的参数。
type AdmitArgs struct {
	VoucherID   uint
	UserID      int64
	OrderID     int64
	TraceParent string
}

// AdmitResult Position 仅在 Admitted 时有值，是订单在 stream 里的位置。
type AdmitResult struct {
	Outcome  AdmitOutcome
	Position string
}

// Admission 包装准入脚本：库存判断、一人一单判断、扣减、占位、入队一步完成。
type Admission struct {
	rdb      rd.Scripter
	stream   string
	stateTTL time.Duration
}

func NewAdmission(rdb rd.Scripter, stream string, stateTTL time.Duration) *Admission {
	return &Admission{rdb: rdb, stream: stream, stateTTL: stateTTL}
}

// Admit 执行准入脚本。
func (a *Admission) Admit(ctx context.Context, args AdmitArgs) (AdmitResult, error) {
	keys := []string{
		StockKey(args.VoucherID),
		OrderMarkerKey(args.VoucherID),
		a.stream,
		RequestStateKey(args.OrderID),
	}
	res, err := seckillScript.Run(ctx, a.rdb, keys,
		strconv.FormatUint(uint64(args.VoucherID), 10),
		strconv.FormatInt(args.UserID, 10),
		strconv.FormatInt(args.OrderID, 10),
		args.TraceParent,
		int64(a.stateTTL/time.Second),
	).Slice()
	if err != nil {
		return AdmitResult{}, unavailable("seckill script", err)
	}
	return parseAdmitReply(res)
}

func parseAdmitReply(res []interface{}) (AdmitResult, error) {
	if len(res) == 0 {
		return AdmitResult{}, fmt.Errorf("seckill script: empty reply")
	}
	code, ok := res[0].(int64)
	if !ok {
		return AdmitResult{}, fmt.Errorf("seckill script: unexpected code type %T", res[0])
	}
	switch code {
	case 0:
		if len(res) < 2 {
			return AdmitResult{}, fmt.Errorf("seckill script: missing stream id")
		}
		pos, _ := res[1].(string)
		return AdmitResult{Outcome: Admitted, Position: pos}, nil
	case 1:
		return AdmitResult{Outcome: OutOfStock}, nil
	case 2:
		return AdmitResult{Outcome: Duplicate}, nil
	default:
		return AdmitResult{}, fmt.Errorf("seckill script: unknown code %d", code)
	}
}
