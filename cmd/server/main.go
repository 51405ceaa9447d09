package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"seckill/internal/auth"
	"seckill/internal/clock"
	"seckill/internal/config"
	"seckill/internal/queue"
	"seckill/internal/repository"
	"seckill/internal/router"
	"seckill/internal/seckill"
	"seckill/internal/telemetry"
	rediskey "seckill/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}
	logger := telemetry.NewLogger(os.Stdout, cfg.ServiceName, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(cfg config.AppConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(flushCtx); err != nil {
			logger.Warn("flush tracer", slog.Any("err", err))
		}
	}()

	// 1. 数据库，自动建表
	db, err := repository.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	if err := repository.Migrate(db); err != nil {
		return err
	}

	// 2. Redis
	rdb := rd.NewClient(&rd.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		return err
	}

	// 3. 组件
	orders := repository.NewOrderRepo(db)
	states := rediskey.NewRequestStates(rdb, cfg.RequestStateTTL)
	svc := seckill.NewService(seckill.Deps{
		Vouchers:  repository.NewVoucherRepo(db),
		Orders:    orders,
		IDs:       rediskey.NewSequenceGenerator(rdb),
		Admission: rediskey.NewAdmission(rdb, cfg.OrderStream, cfg.RequestStateTTL),
		Stock:     rediskey.NewStock(rdb),
		States:    states,
		Clock:     clock.NewSystem(),
		Logger:    logger,
	})

	stream := queue.NewStream(rdb, cfg.OrderStream, cfg.OrderGroup)
	if err := stream.EnsureGroup(ctx); err != nil {
		return err
	}

	var events queue.EventPublisher = queue.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		events = queue.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	}
	defer events.Close()

	worker := queue.NewWorker(stream, rediskey.NewUserLock(rdb), seckill.NewMaterializer(orders), states, events,
		queue.WorkerConfig{
			Consumer:       cfg.OrderConsumer,
			Batch:          cfg.WorkerBatch,
			Block:          cfg.WorkerBlock,
			LockLease:      cfg.WorkerLockLease,
			ClaimIdle:      cfg.WorkerClaimIdle,
			RetryBackoff:   cfg.WorkerRetryBackoff,
			MaxBackoff:     cfg.WorkerMaxBackoff,
			PublishTimeout: cfg.WorkerPublishTimeout,
		}, logger)

	// 4. HTTP
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	router.Setup(r, router.Deps{
		Service:    svc,
		Queue:      stream,
		Worker:     worker,
		Tokens:     auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL),
		AdminToken: cfg.AdminToken,
		Logger:     logger,
	})
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", slog.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		stream.WatchBacklog(gctx, 10*time.Second)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
