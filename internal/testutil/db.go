package testutil

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"seckill/internal/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB 为每个测试打开独立的内存 SQLite 库并建表。
// 单连接，避免 SQLite 并发写时报 database is locked。
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&model.Voucher{}, &model.VoucherOrder{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// InsertVoucher 插入一张正在秒杀中的券。
func InsertVoucher(t *testing.T, db *gorm.DB, stock int64) model.Voucher {
	t.Helper()
	now := time.Now()
	v := model.Voucher{
		Title:       "100 off 150",
		PayValue:    8000,
		ActualValue: 10000,
		TotalStock:  stock,
		Stock:       stock,
		BeginTime:   now.Add(-time.Hour),
		EndTime:     now.Add(time.Hour),
	}
	if err := db.Create(&v).Error; err != nil {
		t.Fatalf("insert voucher: %v", err)
	}
	return v
}
