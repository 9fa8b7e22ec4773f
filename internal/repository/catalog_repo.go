package repository

import (
	"context"
	"errors"

	"rafflesystem/internal/model"

	"gorm.io/gorm"
)

var (
	ErrPackageNotFound = errors.New("积分包不存在")
	ErrTierNotFound    = errors.New("奖励等级不存在")
)

// CatalogRepository 积分包与奖励等级，两者都是管理员维护的静态目录
type CatalogRepository struct {
	db *gorm.DB
}

func NewCatalogRepository(db *gorm.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

func (r *CatalogRepository) CreatePackage(ctx context.Context, pkg *model.CreditPackage) error {
	return r.db.WithContext(ctx).Create(pkg).Error
}

func (r *CatalogRepository) GetPackage(ctx context.Context, tx *gorm.DB, id string) (*model.CreditPackage, error) {
	if tx == nil {
		tx = r.db
	}
	var pkg model.CreditPackage
	err := tx.WithContext(ctx).Where("id = ?", id).First(&pkg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPackageNotFound
		}
		return nil, err
	}
	return &pkg, nil
}

func (r *CatalogRepository) ListPackages(ctx context.Context) ([]*model.CreditPackage, error) {
	var pkgs []*model.CreditPackage
	err := r.db.WithContext(ctx).Order("credits ASC").Find(&pkgs).Error
	return pkgs, err
}

func (r *CatalogRepository) CreateTier(ctx context.Context, tier *model.RewardTier) error {
	return r.db.WithContext(ctx).Create(tier).Error
}

func (r *CatalogRepository) GetTier(ctx context.Context, tx *gorm.DB, id string) (*model.RewardTier, error) {
	if tx == nil {
		tx = r.db
	}
	var tier model.RewardTier
	err := tx.WithContext(ctx).Where("id = ?", id).First(&tier).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTierNotFound
		}
		return nil, err
	}
	return &tier, nil
}

func (r *CatalogRepository) ListTiers(ctx context.Context) ([]*model.RewardTier, error) {
	var tiers []*model.RewardTier
	err := r.db.WithContext(ctx).Order("level ASC").Find(&tiers).Error
	return tiers, err
}
