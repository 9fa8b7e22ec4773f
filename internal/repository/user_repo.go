package repository

import (
	"context"
	"errors"

	"rafflesystem/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrUserNotFound   = errors.New("用户不存在")
	ErrOptimisticLock = errors.New("乐观锁冲突，请重试")
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create 插入账户，uid 已存在时不做任何修改，返回是否真正插入
func (r *UserRepository) Create(ctx context.Context, tx *gorm.DB, account *model.UserAccount) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(account)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *UserRepository) GetByUserID(ctx context.Context, tx *gorm.DB, userID string) (*model.UserAccount, error) {
	if tx == nil {
		tx = r.db
	}
	var account model.UserAccount
	err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetForUpdate 在事务内读取账户并加行锁（SQLite 下退化为普通读，依赖版本号冲突检测）
func (r *UserRepository) GetForUpdate(ctx context.Context, tx *gorm.DB, userID string) (*model.UserAccount, error) {
	var account model.UserAccount
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &account, nil
}

// UpdateWithVersion 按版本号条件更新，版本不匹配说明有并发写入
func (r *UserRepository) UpdateWithVersion(ctx context.Context, tx *gorm.DB, userID string, version int, updates map[string]interface{}) error {
	updates["version"] = gorm.Expr("version + 1")

	result := tx.WithContext(ctx).
		Model(&model.UserAccount{}).
		Where("user_id = ? AND version = ?", userID, version).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}

	return nil
}

func (r *UserRepository) SetRole(ctx context.Context, userID, role string) error {
	result := r.db.WithContext(ctx).
		Model(&model.UserAccount{}).
		Where("user_id = ?", userID).
		Update("role", role)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) List(ctx context.Context, role string, page, pageSize int) ([]*model.UserAccount, int64, error) {
	var accounts []*model.UserAccount
	var total int64

	query := r.db.WithContext(ctx).Model(&model.UserAccount{})
	if role != "" {
		query = query.Where("role = ?", role)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&accounts).Error

	return accounts, total, err
}

func (r *UserRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.UserAccount{}).Count(&count).Error
	return count, err
}
