package repository

import (
	"context"
	"errors"

	"seckill/internal/model"

	"gorm.io/gorm"
)

// ErrVoucherNotFound 券不存在。
var ErrVoucherNotFound = errors.New("voucher not found")

type VoucherRepo struct {
	db *gorm.DB
}

func NewVoucherRepo(db *gorm.DB) *VoucherRepo {
	return &VoucherRepo{db: db}
}

func (r *VoucherRepo) Create(ctx context.Context, v *model.Voucher) error {
	return r.db.WithContext(ctx).Create(v).Error
}

func (r *VoucherRepo) Get(ctx context.Context, id uint) (model.Voucher, error) {
	var v model.Voucher
	if err := r.db.WithContext(ctx).First(&v, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Voucher{}, ErrVoucherNotFound
		}
		return model.Voucher{}, err
	}
	return v, nil
}

func (r *VoucherRepo) List(ctx context.Context) ([]model.Voucher, error) {
	var list []model.Voucher
	if err := r.db.WithContext(ctx).Order("id").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
