package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"seckill/internal/model"
	"seckill/internal/seckill"
	"seckill/internal/telemetry"
	rediskey "seckill/pkg/redis"

	rd "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// WorkerState worker 生命周期状态。
type WorkerState int32

const (
	StateStarting WorkerState = iota
	StateDrainingPending
	StateConsuming
	StateRestarting
	StateStopped
)

func (s WorkerState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateDrainingPending:
		return "draining_pending"
	case StateConsuming:
		return "consuming"
	case StateRestarting:
		return "restarting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// errLockBusy 该用户的锁被占用，消息留在 pending 里稍后重试。
var errLockBusy = errors.New("user lock busy")

type Materializer interface {
	Materialize(ctx context.Context, lock rediskey.LockHandle, req model.OrderRequest) (seckill.Outcome, error)
}

type WorkerConfig struct {
	Consumer  string
	Batch     int64
	Block     time.Duration
	LockLease time.Duration
	// ClaimIdle > 0 时，启动阶段认领其他消费者名下空闲超过该时长的消息。
	ClaimIdle    time.Duration
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
	// FinishTimeout 单条消息落单到 Ack 最多用多久（停机时也一样）。
	FinishTimeout  time.Duration
	PublishTimeout time.Duration
	ReleaseTimeout time.Duration
}

func (c *WorkerConfig) setDefaults() {
	if c.Consumer == "" {
		c.Consumer = "c1"
	}
	if c.Batch <= 0 {
		c.Batch = 10
	}
	if c.Block <= 0 {
		c.Block = 2 * time.Second
	}
	if c.LockLease <= 0 {
		c.LockLease = 30 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff < c.RetryBackoff {
		c.MaxBackoff = 5 * time.Second
		if c.MaxBackoff < c.RetryBackoff {
			c.MaxBackoff = c.RetryBackoff
		}
	}
	if c.FinishTimeout <= 0 {
		c.FinishTimeout = 10 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
	if c.ReleaseTimeout <= 0 {
		c.ReleaseTimeout = time.Second
	}
}

// Worker 单消费者串行落单：先清空自己的 pending 列表，再消费新消息。
// 任何失败的消息都不 Ack，留在 pending 里由下一轮 DrainingPending 重试。
type Worker struct {
	stream       *Stream
	locks        *rediskey.UserLock
	materializer Materializer
	states       *rediskey.RequestStates
	events       EventPublisher
	cfg          WorkerConfig
	log          *slog.Logger

	state   atomic.Int32
	backoff time.Duration
}

func NewWorker(stream *Stream, locks *rediskey.UserLock, m Materializer, states *rediskey.RequestStates,
	events EventPublisher, cfg WorkerConfig, logger *slog.Logger) *Worker {
	cfg.setDefaults()
	if events == nil {
		events = NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		stream:       stream,
		locks:        locks,
		materializer: m,
		states:       states,
		events:       events,
		cfg:          cfg,
		log:          logger.With(slog.String("consumer", cfg.Consumer)),
		backoff:      cfg.RetryBackoff,
	}
	w.setState(StateStarting)
	return w
}

func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

func (w *Worker) setState(s WorkerState) {
	if WorkerState(w.state.Swap(int32(s))) != s {
		telemetry.WorkerState.Set(float64(s))
		w.log.Debug("worker state", slog.String("state", s.String()))
	}
}

// Run 阻塞运行直到 ctx 取消。取消后不再发起新的读取，正在处理的那条消息会处理完。
func (w *Worker) Run(ctx context.Context) error {
	defer w.setState(StateStopped)
	w.log.Info("order worker started", slog.String("stream", w.stream.Name()), slog.String("group", w.stream.Group()))

	next := StateStarting
	for ctx.Err() == nil {
		w.setState(next)
		switch next {
		case StateStarting:
			next = w.start(ctx)
		case StateDrainingPending:
			next = w.drainPending(ctx)
		case StateConsuming:
			next = w.consume(ctx)
		case StateRestarting:
			next = w.restart(ctx)
		default:
			return fmt.Errorf("unexpected worker state %s", next)
		}
	}
	w.log.Info("order worker stopped")
	return nil
}

func (w *Worker) start(ctx context.Context) WorkerState {
	if err := w.stream.EnsureGroup(ctx); err != nil {
		w.log.Error("ensure consumer group", slog.Any("err", err))
		return StateRestarting
	}
	if w.cfg.ClaimIdle > 0 {
		msgs, err := w.stream.Claim(ctx, w.cfg.Consumer, w.cfg.ClaimIdle, w.cfg.Batch*10)
		if err != nil {
			w.log.Error("claim stale entries", slog.Any("err", err))
			return StateRestarting
		}
		if len(msgs) > 0 {
			w.log.Info("claimed stale entries", slog.Int("count", len(msgs)))
		}
	}
	return StateDrainingPending
}

// drainPending 每次从 pending 列表头部取一批；全部成功就继续取，列表空了才去消费新消息。
func (w *Worker) drainPending(ctx context.Context) WorkerState {
	msgs, err := w.stream.ReadPending(ctx, w.cfg.Consumer, w.cfg.Batch)
	if err != nil {
		if ctx.Err() != nil {
			return StateStopped
		}
		w.log.Error("read pending entries", slog.Any("err", err))
		return StateRestarting
	}
	if len(msgs) == 0 {
		return StateConsuming
	}
	if err := w.processBatch(ctx, msgs); err != nil {
		w.wait(ctx)
		return StateDrainingPending
	}
	w.resetBackoff()
	return StateDrainingPending
}

func (w *Worker) consume(ctx context.Context) WorkerState {
	msgs, err := w.stream.Read(ctx, w.cfg.Consumer, w.cfg.Batch, w.cfg.Block)
	if err != nil {
		if ctx.Err() != nil {
			return StateStopped
		}
		w.log.Error("read new entries", slog.Any("err", err))
		return StateRestarting
	}
	if err := w.processBatch(ctx, msgs); err != nil {
		return StateDrainingPending
	}
	w.resetBackoff()
	return StateConsuming
}

// restart 退避后重建消费者组（Redis 重启后组可能丢失），再回到 pending 处理。
func (w *Worker) restart(ctx context.Context) WorkerState {
	w.wait(ctx)
	if err := w.stream.EnsureGroup(ctx); err != nil {
		if ctx.Err() == nil {
			w.log.Error("recreate consumer group", slog.Any("err", err))
		}
		return StateRestarting
	}
	return StateDrainingPending
}

// processBatch 按顺序处理，遇到第一条失败就停下，剩余消息留在 pending。
func (w *Worker) processBatch(ctx context.Context, msgs []rd.XMessage) error {
	for _, xm := range msgs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.process(ctx, xm); err != nil {
			lvl := slog.LevelWarn
			if errors.Is(err, errLockBusy) {
				lvl = slog.LevelDebug
			}
			w.log.Log(ctx, lvl, "process entry failed, will retry",
				slog.String("entry_id", xm.ID), slog.Any("err", err))
			return err
		}
	}
	return nil
}

// process 单条消息：解析 → 加用户锁 → 落单 → 记录状态 → Ack → 发事件。
// 在脱离取消的 ctx 上执行，保证停机时这一条能完整处理。
func (w *Worker) process(parent context.Context, xm rd.XMessage) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), w.cfg.FinishTimeout)
	defer cancel()

	entry, err := Decode(xm)
	if err != nil {
		// 脏消息直接 Ack 丢弃，避免阻塞队列
		telemetry.MalformedEntriesTotal.Inc()
		w.log.WarnContext(ctx, "drop malformed entry", slog.String("entry_id", xm.ID), slog.Any("err", err))
		return w.stream.Ack(ctx, xm.ID)
	}

	opts := []trace.SpanStartOption{
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.message.id", xm.ID),
			attribute.Int64("order.id", entry.Request.OrderID),
		),
	}
	if sc := telemetry.ExtractSpanContext(entry.TraceParent); sc.IsValid() {
		opts = append(opts, trace.WithLinks(trace.Link{SpanContext: sc}))
	}
	ctx, span := telemetry.Tracer().Start(ctx, "seckill.MaterializeOrder", opts...)
	defer span.End()

	err = w.handle(ctx, entry)
	if err != nil && !errors.Is(err, errLockBusy) {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// handle 落单并 Ack 之后才发事件：事件是尽力而为的，不能拖住 Ack 和锁释放。
func (w *Worker) handle(ctx context.Context, entry Entry) error {
	created, err := w.materialize(ctx, entry)
	if created {
		w.publish(ctx, entry.Request)
	}
	return err
}

// materialize 持用户锁落单、记录状态并 Ack，返回前释放锁。
// created 表示这次确实新建了订单（即使随后 Ack 失败）。
func (w *Worker) materialize(ctx context.Context, entry Entry) (created bool, err error) {
	req := entry.Request
	lock, ok, err := w.locks.TryAcquire(ctx, rediskey.OrderLockKey(req.UserID), w.cfg.LockLease)
	if err != nil {
		return false, err
	}
	if !ok {
		telemetry.LockBusyTotal.Inc()
		return false, errLockBusy
	}
	defer w.release(ctx, lock, req.UserID)

	outcome, err := w.materializer.Materialize(ctx, lock, req)
	if err != nil {
		telemetry.MaterializationsTotal.WithLabelValues("error").Inc()
		return false, err
	}
	telemetry.MaterializationsTotal.WithLabelValues(outcome.String()).Inc()

	state := rediskey.RequestState{OrderID: req.OrderID, UserID: req.UserID, VoucherID: req.VoucherID}
	switch outcome {
	case seckill.Created, seckill.AlreadyExists:
		state.Status = rediskey.RequestCreated
	case seckill.StockAnomaly:
		// Redis 放行但 DB 没库存：无法自动修复，记录后 Ack，交给人工对账
		w.log.ErrorContext(ctx, "stock anomaly: admitted request has no db stock",
			slog.Int64("order_id", req.OrderID),
			slog.Int64("user_id", req.UserID),
			slog.Uint64("voucher_id", uint64(req.VoucherID)))
		state.Status = rediskey.RequestFailed
		state.Reason = "stock anomaly"
	}
	if err := w.states.Put(ctx, state); err != nil {
		w.log.WarnContext(ctx, "record request state", slog.Int64("order_id", req.OrderID), slog.Any("err", err))
	}

	return outcome == seckill.Created, w.stream.Ack(ctx, entry.ID)
}

// release 用独立的短超时释放锁，处理超时也不会让锁挂满整个租期。
func (w *Worker) release(ctx context.Context, lock rediskey.LockHandle, userID int64) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.ReleaseTimeout)
	defer cancel()
	if err := w.locks.Release(ctx, lock); err != nil {
		w.log.WarnContext(ctx, "release user lock", slog.Int64("user_id", userID), slog.Any("err", err))
	}
}

func (w *Worker) publish(ctx context.Context, req model.OrderRequest) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.PublishTimeout)
	defer cancel()
	ev := OrderEvent{OrderID: req.OrderID, UserID: req.UserID, VoucherID: req.VoucherID, CreatedAt: time.Now()}
	if err := w.events.PublishOrderCreated(ctx, ev); err != nil {
		w.log.WarnContext(ctx, "publish order event", slog.Int64("order_id", req.OrderID), slog.Any("err", err))
	}
}

// wait 按当前退避时长休眠，然后翻倍（不超过上限）。
func (w *Worker) wait(ctx context.Context) {
	t := time.NewTimer(w.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
	w.backoff *= 2
	if w.backoff > w.cfg.MaxBackoff {
		w.backoff = w.cfg.MaxBackoff
	}
}

func (w *Worker) resetBackoff() {
	w.backoff = w.cfg.RetryBackoff
}
