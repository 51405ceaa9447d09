package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"seckill/internal/telemetry"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
)

// OrderEvent 是订单落库后写入 Kafka 的事件，供下游（支付、通知）订阅。
type OrderEvent struct {
	OrderID   int64     `json:"order_id,string"`
	UserID    int64     `json:"user_id"`
	VoucherID uint      `json:"voucher_id"`
	CreatedAt time.Time `json:"created_at"`
}

// EventPublisher 订单事件发布。发布失败不影响落单。
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, ev OrderEvent) error
	Close() error
}

// NopPublisher 未配置 Kafka 时使用。
type NopPublisher struct{}

func (NopPublisher) PublishOrderCreated(context.Context, OrderEvent) error { return nil }
func (NopPublisher) Close() error                                          { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher 封装 Kafka 写入器，外面套一层熔断：
// Kafka 故障时快速失败，不拖慢 worker 的落单节奏。
type KafkaPublisher struct {
	w  messageWriter
	cb *gobreaker.CircuitBreaker
}

// NewKafkaPublisher 创建生产者并配置可靠性参数：
// - Hash + Key: 同一订单落到同一分区。
// - RequireAll: 等待 ISR 副本确认。
// - MaxAttempts/Timeout: 控制重试与超时边界。
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	return newKafkaPublisher(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 3 * time.Second,
		ReadTimeout:  3 * time.Second,
		BatchTimeout: 10 * time.Millisecond,
	}, logger)
}

func newKafkaPublisher(w messageWriter, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "kafka-order-events",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return &KafkaPublisher{w: w, cb: cb}
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }

// PublishOrderCreated 同步写入一条事件，order_id 作为 key。
func (p *KafkaPublisher) PublishOrderCreated(ctx context.Context, ev OrderEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = p.cb.Execute(func() (interface{}, error) {
		return nil, p.w.WriteMessages(ctx, kafka.Message{
			Key:   []byte(strconv.FormatInt(ev.OrderID, 10)),
			Value: b,
		})
	})
	if err != nil {
		telemetry.EventsPublishedTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("publish order %d: %w", ev.OrderID, err)
	}
	telemetry.EventsPublishedTotal.WithLabelValues("ok").Inc()
	return nil
}
