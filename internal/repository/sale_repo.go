package repository

import (
	"context"
	"errors"

	"rafflesystem/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrSaleNotFound = errors.New("销售记录不存在")

type SaleRepository struct {
	db *gorm.DB
}

func NewSaleRepository(db *gorm.DB) *SaleRepository {
	return &SaleRepository{db: db}
}

func (r *SaleRepository) Exists(ctx context.Context, tx *gorm.DB, paymentRef string) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	var count int64
	err := tx.WithContext(ctx).
		Model(&model.SaleRecord{}).
		Where("id = ?", paymentRef).
		Count(&count).Error
	return count > 0, err
}

// CreateIfAbsent 主键冲突时不插入，返回 false 表示该支付已入账
func (r *SaleRepository) CreateIfAbsent(ctx context.Context, tx *gorm.DB, sale *model.SaleRecord) (bool, error) {
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).
		Create(sale)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *SaleRepository) GetByID(ctx context.Context, paymentRef string) (*model.SaleRecord, error) {
	var sale model.SaleRecord
	err := r.db.WithContext(ctx).Where("id = ?", paymentRef).First(&sale).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSaleNotFound
		}
		return nil, err
	}
	return &sale, nil
}

func (r *SaleRepository) List(ctx context.Context, buyerID string, page, pageSize int) ([]*model.SaleRecord, int64, error) {
	var sales []*model.SaleRecord
	var total int64

	query := r.db.WithContext(ctx).Model(&model.SaleRecord{})
	if buyerID != "" {
		query = query.Where("buyer_id = ?", buyerID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&sales).Error

	return sales, total, err
}

// SumAmount 累计收入（最小货币单位）
func (r *SaleRepository) SumAmount(ctx context.Context) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&model.SaleRecord{}).
		Select("COALESCE(SUM(amount_minor), 0)").
		Scan(&sum).Error
	return sum, err
}
