package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig 聚合运行时配置，全部通过环境变量注入，.env 仅用于本地开发。
type AppConfig struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	// sqlite | postgres
	DBDriver string `envconfig:"DB_DRIVER" default:"sqlite"`
	DBDSN    string `envconfig:"DB_DSN" default:"seckill.db"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// 订单请求队列（Redis Stream + 消费者组）
	OrderStream   string `envconfig:"ORDER_STREAM" default:"stream.orders"`
	OrderGroup    string `envconfig:"ORDER_GROUP" default:"g1"`
	OrderConsumer string `envconfig:"ORDER_CONSUMER" default:"c1"`

	// 异步落单 worker
	WorkerBatch        int64         `envconfig:"WORKER_BATCH" default:"10"`
	WorkerBlock        time.Duration `envconfig:"WORKER_BLOCK" default:"2s"`
	WorkerLockLease    time.Duration `envconfig:"WORKER_LOCK_LEASE" default:"30s"`
	WorkerClaimIdle    time.Duration `envconfig:"WORKER_CLAIM_IDLE" default:"0s"`
	WorkerRetryBackoff time.Duration `envconfig:"WORKER_RETRY_BACKOFF" default:"100ms"`
	WorkerMaxBackoff   time.Duration `envconfig:"WORKER_MAX_BACKOFF" default:"5s"`

	// 发 Kafka 事件的超时，与落单/Ack 的时间预算分开
	WorkerPublishTimeout time.Duration `envconfig:"WORKER_PUBLISH_TIMEOUT" default:"5s"`

	RequestStateTTL time.Duration `envconfig:"REQUEST_STATE_TTL" default:"24h"`

	// 为空时不发订单事件
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"seckill.order-created"`

	JWTSecret  string        `envconfig:"JWT_SECRET" default:"dev-jwt-secret"`
	JWTTTL     time.Duration `envconfig:"JWT_TTL" default:"2h"`
	AdminToken string        `envconfig:"ADMIN_TOKEN" default:"dev-admin-token"`

	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `envconfig:"SERVICE_NAME" default:"seckill"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load 读取并校验配置。files 为空时尝试加载当前目录的 .env（不存在则忽略），
// 已存在的环境变量不会被 .env 覆盖。
func Load(files ...string) (AppConfig, error) {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return AppConfig{}, fmt.Errorf("load .env: %w", err)
		}
	} else if err := godotenv.Load(files...); err != nil {
		return AppConfig{}, fmt.Errorf("load env files: %w", err)
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, err
	}
	cfg.KafkaBrokers = trimAll(cfg.KafkaBrokers)
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c AppConfig) Validate() error {
	switch strings.ToLower(c.DBDriver) {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("invalid DB_DRIVER %q: want sqlite or postgres", c.DBDriver)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("DB_DSN must not be empty")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR must not be empty")
	}
	if c.OrderStream == "" {
		return fmt.Errorf("ORDER_STREAM must not be empty")
	}
	if c.OrderGroup == "" {
		return fmt.Errorf("ORDER_GROUP must not be empty")
	}
	if c.OrderConsumer == "" {
		return fmt.Errorf("ORDER_CONSUMER must not be empty")
	}
	if c.WorkerBatch <= 0 {
		return fmt.Errorf("WORKER_BATCH must be > 0")
	}
	if c.WorkerBlock <= 0 {
		return fmt.Errorf("WORKER_BLOCK must be > 0")
	}
	if c.WorkerLockLease <= 0 {
		return fmt.Errorf("WORKER_LOCK_LEASE must be > 0")
	}
	if c.WorkerClaimIdle < 0 {
		return fmt.Errorf("WORKER_CLAIM_IDLE must be >= 0")
	}
	if c.WorkerRetryBackoff <= 0 {
		return fmt.Errorf("WORKER_RETRY_BACKOFF must be > 0")
	}
	if c.WorkerMaxBackoff < c.WorkerRetryBackoff {
		return fmt.Errorf("WORKER_MAX_BACKOFF must be >= WORKER_RETRY_BACKOFF")
	}
	if c.WorkerPublishTimeout <= 0 {
		return fmt.Errorf("WORKER_PUBLISH_TIMEOUT must be > 0")
	}
	if c.RequestStateTTL <= 0 {
		return fmt.Errorf("REQUEST_STATE_TTL must be > 0")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("KAFKA_TOPIC must not be empty when KAFKA_BROKERS is set")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must not be empty")
	}
	if c.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be > 0")
	}
	if c.AdminToken == "" {
		return fmt.Errorf("ADMIN_TOKEN must not be empty")
	}
	return nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}
