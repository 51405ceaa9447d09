package seckill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"seckill/internal/clock"
	"seckill/internal/model"
	"seckill/internal/repository"
	"seckill/internal/telemetry"
	rediskey "seckill/pkg/redis"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// orderIDPrefix 订单号在序列号生成器里的业务前缀。
const orderIDPrefix = "order"

type VoucherStore interface {
	Create(ctx context.Context, v *model.Voucher) error
	Get(ctx context.Context, id uint) (model.Voucher, error)
	List(ctx context.Context) ([]model.Voucher, error)
}

type OrderReader interface {
	Get(ctx context.Context, id int64) (model.VoucherOrder, error)
}

type IDGenerator interface {
	NextID(ctx context.Context, prefix string) (int64, error)
}

type Admitter interface {
	Admit(ctx context.Context, args rediskey.AdmitArgs) (rediskey.AdmitResult, error)
}

// Deps 组装 Service 需要的依赖。
type Deps struct {
	Vouchers  VoucherStore
	Orders    OrderReader
	IDs       IDGenerator
	Admission Admitter
	Stock     *rediskey.Stock
	States    *rediskey.RequestStates
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Service 秒杀热路径与券管理。
type Service struct {
	vouchers  VoucherStore
	orders    OrderReader
	ids       IDGenerator
	admission Admitter
	stock     *rediskey.Stock
	states    *rediskey.RequestStates
	clock     clock.Clock
	log       *slog.Logger

	// 同一张券的并发读库合并成一次
	loads singleflight.Group
}

func NewService(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = clock.NewSystem()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Service{
		vouchers:  d.Vouchers,
		orders:    d.Orders,
		ids:       d.IDs,
		admission: d.Admission,
		stock:     d.Stock,
		states:    d.States,
		clock:     d.Clock,
		log:       d.Logger,
	}
}

// PlaceOrder 秒杀下单热路径：时间窗校验 → 生成订单号 → Lua 准入（扣减 + 一人一单 + 入队）。
// 成功只代表已准入并入队，订单由后台 worker 异步落库。
func (s *Service) PlaceOrder(ctx context.Context, voucherID uint, userID int64) (orderID int64, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "seckill.PlaceOrder",
		trace.WithAttributes(
			attribute.Int64("voucher.id", int64(voucherID)),
			attribute.Int64("user.id", userID),
		),
	)
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	v, err := s.loadVoucher(ctx, voucherID)
	if err != nil {
		return 0, err
	}
	now := s.clock.Now()
	if v.NotStarted(now) {
		return 0, ErrSaleNotStarted
	}
	if v.Ended(now) {
		return 0, ErrSaleEnded
	}

	orderID, err = s.ids.NextID(ctx, orderIDPrefix)
	if err != nil {
		telemetry.AdmissionsTotal.WithLabelValues("error").Inc()
		if errors.Is(err, ErrUnavailable) {
			return 0, fmt.Errorf("next order id: %w", err)
		}
		return 0, fmt.Errorf("next order id: %w: %w", ErrUnavailable, err)
	}

	res, err := s.admission.Admit(ctx, rediskey.AdmitArgs{
		VoucherID:   voucherID,
		UserID:      userID,
		OrderID:     orderID,
		TraceParent: telemetry.InjectTraceParent(ctx),
	})
	if err != nil {
		telemetry.AdmissionsTotal.WithLabelValues("error").Inc()
		s.log.WarnContext(ctx, "seckill admission failed",
			slog.Uint64("voucher_id", uint64(voucherID)),
			slog.Int64("user_id", userID),
			slog.Any("err", err))
		return 0, err
	}
	telemetry.AdmissionsTotal.WithLabelValues(res.Outcome.String()).Inc()
	span.SetAttributes(attribute.String("seckill.outcome", res.Outcome.String()))

	switch res.Outcome {
	case rediskey.Admitted:
		span.SetAttributes(attribute.Int64("order.id", orderID))
		s.log.DebugContext(ctx, "seckill admitted",
			slog.Int64("order_id", orderID),
			slog.String("position", res.Position))
		return orderID, nil
	case rediskey.OutOfStock:
		return 0, ErrOutOfStock
	case rediskey.Duplicate:
		return 0, ErrDuplicateOrder
	default:
		return 0, fmt.Errorf("unexpected admission outcome %s", res.Outcome)
	}
}

func (s *Service) loadVoucher(ctx context.Context, id uint) (model.Voucher, error) {
	v, err, _ := s.loads.Do(strconv.FormatUint(uint64(id), 10), func() (any, error) {
		return s.vouchers.Get(ctx, id)
	})
	if err != nil {
		if errors.Is(err, ErrVoucherNotFound) {
			return model.Voucher{}, err
		}
		return model.Voucher{}, fmt.Errorf("load voucher %d: %w: %w", id, ErrUnavailable, err)
	}
	return v.(model.Voucher), nil
}

// OrderView 对外展示的异步下单状态。
type OrderView struct {
	OrderID   int64  `json:"order_id,string"`
	VoucherID uint   `json:"voucher_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

// OrderResult 查询下单结果：先看 Redis 请求状态，过期或不可用时回落到 DB 订单。
// 不属于 userID 的订单一律视为不存在。
func (s *Service) OrderResult(ctx context.Context, userID, orderID int64) (OrderView, error) {
	st, found, err := s.states.Get(ctx, orderID)
	if err != nil {
		s.log.WarnContext(ctx, "request state unavailable, falling back to db",
			slog.Int64("order_id", orderID), slog.Any("err", err))
	}
	if err == nil && found {
		if st.UserID != userID {
			return OrderView{}, ErrOrderNotFound
		}
		return OrderView{OrderID: orderID, VoucherID: st.VoucherID, Status: st.Status, Reason: st.Reason}, nil
	}

	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return OrderView{}, ErrOrderNotFound
		}
		return OrderView{}, fmt.Errorf("get order %d: %w: %w", orderID, ErrUnavailable, err)
	}
	if o.UserID != userID {
		return OrderView{}, ErrOrderNotFound
	}
	return OrderView{OrderID: o.ID, VoucherID: o.VoucherID, Status: rediskey.RequestCreated}, nil
}
