package repository

import (
	"context"
	"errors"

	"rafflesystem/internal/model"

	"gorm.io/gorm"
)

type CreditTransactionRepository struct {
	db *gorm.DB
}

func NewCreditTransactionRepository(db *gorm.DB) *CreditTransactionRepository {
	return &CreditTransactionRepository{db: db}
}

// Create 流水只追加，(type, reference) 重复时由唯一索引拒绝
func (r *CreditTransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.CreditTransaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

// GetByReference 查询幂等键对应的流水，不存在时返回 nil, nil
func (r *CreditTransactionRepository) GetByReference(ctx context.Context, tx *gorm.DB, txType, reference string) (*model.CreditTransaction, error) {
	if tx == nil {
		tx = r.db
	}
	var trans model.CreditTransaction
	err := tx.WithContext(ctx).
		Where("type = ? AND reference = ?", txType, reference).
		First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

func (r *CreditTransactionRepository) ListByUser(ctx context.Context, userID string, page, pageSize int) ([]*model.CreditTransaction, int64, error) {
	var list []*model.CreditTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.CreditTransaction{}).Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&list).Error

	return list, total, err
}

// SumByUser 流水合计，对账用：应当等于账户余额
func (r *CreditTransactionRepository) SumByUser(ctx context.Context, userID string) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&model.CreditTransaction{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	return sum, err
}
