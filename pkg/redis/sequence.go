package redis

import (
	"context"
	"errors"
	"time"

	rd "github.com/redis/go-redis/v9"
)

const (
	// sequenceEpoch 2022-01-01T00:00:00Z，时间戳部分从这里开始计秒。
	sequenceEpoch int64 = 1640995200
	// sequenceCountBits 低位留给当天计数器。
	sequenceCountBits = 32
)

// ErrSequenceExhausted 当天计数器已用完低位空间。
var ErrSequenceExhausted = errors.New("daily sequence exhausted")

// SequenceGenerator 全局唯一 ID：高位是距 epoch 的秒数，低位是 Redis 按天自增的计数。
// 计数器按自然日分 key，不会跨天溢出，也方便按天统计下单量。
type SequenceGenerator struct {
	rdb rd.Cmdable
	now func() time.Time
}

func NewSequenceGenerator(rdb rd.Cmdable) *SequenceGenerator {
	return &SequenceGenerator{rdb: rdb, now: time.Now}
}

// WithClock 替换时间源（测试用）。
func (g *SequenceGenerator) WithClock(now func() time.Time) *SequenceGenerator {
	g.now = now
	return g
}

// NextID 生成 prefix 下的下一个 ID。Redis 不可达时直接失败，不在本地兜底生成。
func (g *SequenceGenerator) NextID(ctx context.Context, prefix string) (int64, error) {
	now := g.now().UTC()
	timestamp := now.Unix() - sequenceEpoch

	key := SequenceKey(prefix, now.Format("2006-01-02"))
	count, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, unavailable("sequence incr", err)
	}
	if count >= 1<<sequenceCountBits {
		return 0, ErrSequenceExhausted
	}
	return timestamp<<sequenceCountBits | count, nil
}

// SplitID 拆出 ID 的时间与计数部分，便于排查。
func SplitID(id int64) (time.Time, int64) {
	ts := id >> sequenceCountBits
	count := id & (1<<sequenceCountBits - 1)
	return time.Unix(ts+sequenceEpoch, 0).UTC(), count
}
