package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"seckill/internal/model"
	"seckill/internal/telemetry"

	rd "github.com/redis/go-redis/v9"
)

// Stream 订单请求队列：Redis Stream + 消费者组。
// 消息被 XREADGROUP 读到后进入该消费者的 pending 列表，直到 Ack 才移除。
type Stream struct {
	rdb    rd.UniversalClient
	stream string
	group  string
}

func NewStream(rdb rd.UniversalClient, stream, group string) *Stream {
	return &Stream{rdb: rdb, stream: stream, group: group}
}

func (s *Stream) Name() string  { return s.stream }
func (s *Stream) Group() string { return s.group }

// EnsureGroup 创建消费者组（连带创建 stream），组已存在时忽略。
func (s *Stream) EnsureGroup(ctx context.Context) error {
	err := s.rdb.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("xgroup create %s/%s: %w", s.stream, s.group, err)
}

// Append 直接写入一条请求。正常路径由准入脚本 XADD，这里供运维补单和测试使用。
func (s *Stream) Append(ctx context.Context, req model.OrderRequest, traceParent string) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	id, err := s.rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: s.stream,
		Values: encode(req, traceParent),
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return id, nil
}

// Read 读取新消息（ID ">"），最多阻塞 block；超时返回空。
func (s *Stream) Read(ctx context.Context, consumer string, count int64, block time.Duration) ([]rd.XMessage, error) {
	return s.readGroup(ctx, consumer, ">", count, block)
}

// ReadPending 读取已投递给该消费者但未 Ack 的消息（ID "0"），不阻塞。
func (s *Stream) ReadPending(ctx context.Context, consumer string, count int64) ([]rd.XMessage, error) {
	return s.readGroup(ctx, consumer, "0", count, -1)
}

func (s *Stream) readGroup(ctx context.Context, consumer, streamID string, count int64, block time.Duration) ([]rd.XMessage, error) {
	streams, err := s.rdb.XReadGroup(ctx, &rd.XReadGroupArgs{
		Group:    s.group,
		Consumer: consumer,
		Streams:  []string{s.stream, streamID},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup %s: %w", streamID, err)
	}
	out := make([]rd.XMessage, 0, count)
	for _, st := range streams {
		out = append(out, st.Messages...)
	}
	return out, nil
}

// Ack 确认并删除消息，两步在同一个 MULTI 里。
func (s *Stream) Ack(ctx context.Context, id string) error {
	pipe := s.rdb.TxPipeline()
	pipe.XAck(ctx, s.stream, s.group, id)
	pipe.XDel(ctx, s.stream, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("xack %s: %w", id, err)
	}
	return nil
}

// Claim 把其他消费者名下空闲超过 minIdle 的消息转到 consumer 名下。
// 换了消费者名重新部署后，旧名字下的 pending 消息靠它找回。
func (s *Stream) Claim(ctx context.Context, consumer string, minIdle time.Duration, count int64) ([]rd.XMessage, error) {
	pendings, err := s.rdb.XPendingExt(ctx, &rd.XPendingExtArgs{
		Stream: s.stream,
		Group:  s.group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xpending: %w", err)
	}

	ids := make([]string, 0, len(pendings))
	for _, p := range pendings {
		if p.Consumer != consumer && p.Idle >= minIdle {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	msgs, err := s.rdb.XClaim(ctx, &rd.XClaimArgs{
		Stream:   s.stream,
		Group:    s.group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xclaim: %w", err)
	}
	return msgs, nil
}

// Stats 队列积压情况，只用于观测。
type Stats struct {
	Length  int64 `json:"length"`
	Pending int64 `json:"pending"`
}

func (s *Stream) Stats(ctx context.Context) (Stats, error) {
	length, err := s.rdb.XLen(ctx, s.stream).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("xlen: %w", err)
	}
	p, err := s.rdb.XPending(ctx, s.stream, s.group).Result()
	if err != nil {
		// 组或 stream 还没建
		if length == 0 || strings.Contains(err.Error(), "NOGROUP") {
			return s.observe(Stats{Length: length}), nil
		}
		return Stats{}, fmt.Errorf("xpending: %w", err)
	}
	return s.observe(Stats{Length: length, Pending: p.Count}), nil
}

func (s *Stream) observe(st Stats) Stats {
	telemetry.QueueLength.Set(float64(st.Length))
	telemetry.QueuePending.Set(float64(st.Pending))
	return st
}

// WatchBacklog 定时采样队列积压写入指标，直到 ctx 取消。
func (s *Stream) WatchBacklog(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = s.Stats(ctx)
		}
	}
}
