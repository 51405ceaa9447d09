package router

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"seckill/internal/middleware"
	"seckill/internal/queue"
	"seckill/internal/seckill"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type QueueStats interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

type WorkerStatus interface {
	State() queue.WorkerState
}

// Deps 路由依赖。Worker 可为空（只起 API 不起 worker 时）。
type Deps struct {
	Service    *seckill.Service
	Queue      QueueStats
	Worker     WorkerStatus
	Tokens     middleware.TokenParser
	AdminToken string
	Logger     *slog.Logger
}

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, d Deps) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	r.Use(middleware.Metrics(), middleware.Tracing())

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 券
	r.GET("/api/vouchers", listVouchers(d.Service))
	r.GET("/api/vouchers/:id/stock", getStock(d.Service))

	admin := r.Group("/api", middleware.RequireAdmin(d.AdminToken))
	admin.POST("/vouchers", createVoucher(d.Service))
	admin.POST("/vouchers/:id/preload", preloadStock(d.Service))
	admin.GET("/seckill/queue", queueStats(d.Queue, d.Worker))

	// 秒杀
	user := r.Group("/api/seckill", middleware.RequireUser(d.Tokens))
	user.POST("/vouchers/:id", placeOrder(d.Service, d.Logger))
	user.GET("/orders/:id", getOrder(d.Service))
}

// writeError 把领域错误映射成 HTTP 状态码与提示。
func writeError(c *gin.Context, log *slog.Logger, err error) {
	status, msg := http.StatusInternalServerError, "服务内部错误"
	switch {
	case errors.Is(err, seckill.ErrOutOfStock):
		status, msg = http.StatusBadRequest, "库存不足"
	case errors.Is(err, seckill.ErrDuplicateOrder):
		status, msg = http.StatusBadRequest, "该券已抢购过，限购一张"
	case errors.Is(err, seckill.ErrSaleNotStarted):
		status, msg = http.StatusBadRequest, "秒杀尚未开始"
	case errors.Is(err, seckill.ErrSaleEnded):
		status, msg = http.StatusBadRequest, "秒杀已经结束"
	case errors.Is(err, seckill.ErrInvalidVoucher):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, seckill.ErrVoucherNotFound):
		status, msg = http.StatusNotFound, "券不存在"
	case errors.Is(err, seckill.ErrOrderNotFound):
		status, msg = http.StatusNotFound, "订单不存在"
	case errors.Is(err, seckill.ErrUnavailable):
		status, msg = http.StatusServiceUnavailable, "系统繁忙，请稍后重试"
	}
	if status >= http.StatusInternalServerError && log != nil {
		log.ErrorContext(c.Request.Context(), "request failed",
			slog.String("path", c.FullPath()), slog.Any("err", err))
	}
	c.JSON(status, gin.H{"code": status, "msg": msg})
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "券ID无效"})
		return 0, false
	}
	return uint(id), true
}

// listVouchers 查询券列表。
func listVouchers(svc *seckill.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := svc.ListVouchers(c.Request.Context())
		if err != nil {
			writeError(c, nil, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": list})
	}
}

// createVoucher 创建秒杀券（含时间窗校验），同时写入 Redis 库存。
func createVoucher(svc *seckill.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Title       string `json:"title" binding:"required"`
			PayValue    int64  `json:"pay_value" binding:"min=0"`
			ActualValue int64  `json:"actual_value" binding:"min=0"`
			Stock       int64  `json:"stock" binding:"required,min=1"`
			BeginTime   string `json:"begin_time" binding:"required"`
			EndTime     string `json:"end_time" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		begin, err := time.Parse(time.RFC3339, req.BeginTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "begin_time 格式错误，请用 RFC3339"})
			return
		}
		end, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "end_time 格式错误，请用 RFC3339"})
			return
		}

		v, err := svc.CreateVoucher(c.Request.Context(), seckill.VoucherInput{
			Title:       req.Title,
			PayValue:    req.PayValue,
			ActualValue: req.ActualValue,
			Stock:       req.Stock,
			BeginTime:   begin,
			EndTime:     end,
		})
		if err != nil {
			writeError(c, nil, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": v})
	}
}

// preloadStock 用 DB 剩余库存补写 Redis 库存（key 存在时不覆盖）。
func preloadStock(svc *seckill.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		loaded, err := svc.PreloadStock(c.Request.Context(), id)
		if err != nil {
			writeError(c, nil, err)
			return
		}
		msg := "预热成功"
		if !loaded {
			msg = "库存已存在，未覆盖"
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": msg, "data": gin.H{"loaded": loaded}})
	}
}

// getStock 查询 Redis 中的实时库存。
func getStock(svc *seckill.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		stock, err := svc.Stock(c.Request.Context(), id)
		if err != nil {
			writeError(c, nil, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"stock": stock}})
	}
}

// placeOrder 秒杀下单入口。成功只表示已排队，订单由后台异步落库，
// 客户端拿 order_id 轮询 /api/seckill/orders/:id。
func placeOrder(svc *seckill.Service, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		userID, ok := middleware.UserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "未登录"})
			return
		}

		orderID, err := svc.PlaceOrder(c.Request.Context(), id, userID)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"code": 0,
			"data": gin.H{
				"order_id": strconv.FormatInt(orderID, 10),
				"status":   "pending",
			},
		})
	}
}

// getOrder 根据 order_id 查询异步落单状态。
func getOrder(svc *seckill.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || orderID <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "order_id 无效"})
			return
		}
		userID, ok := middleware.UserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "未登录"})
			return
		}

		view, err := svc.OrderResult(c.Request.Context(), userID, orderID)
		if err != nil {
			writeError(c, nil, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": view})
	}
}

// queueStats 队列积压与 worker 状态。
func queueStats(q QueueStats, w WorkerStatus) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := q.Stats(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"code": 503, "msg": err.Error()})
			return
		}
		data := gin.H{"length": st.Length, "pending": st.Pending}
		if w != nil {
			data["worker_state"] = w.State().String()
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": data})
	}
}
