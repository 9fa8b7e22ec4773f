package repository

import (
	"context"
	"errors"
	"time"

	"rafflesystem/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrRaffleNotFound     = errors.New("抽奖不存在")
	ErrRaffleStateInvalid = errors.New("抽奖状态不合法")
)

type RaffleFilter struct {
	State    string
	Category string
	Page     int
	PageSize int
}

type RaffleRepository struct {
	db *gorm.DB
}

func NewRaffleRepository(db *gorm.DB) *RaffleRepository {
	return &RaffleRepository{db: db}
}

func (r *RaffleRepository) Create(ctx context.Context, tx *gorm.DB, raffle *model.Raffle) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(raffle).Error
}

func (r *RaffleRepository) GetByID(ctx context.Context, tx *gorm.DB, id string) (*model.Raffle, error) {
	if tx == nil {
		tx = r.db
	}
	var raffle model.Raffle
	err := tx.WithContext(ctx).Where("id = ?", id).First(&raffle).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRaffleNotFound
		}
		return nil, err
	}
	return &raffle, nil
}

func (r *RaffleRepository) GetForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.Raffle, error) {
	var raffle model.Raffle
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&raffle).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRaffleNotFound
		}
		return nil, err
	}
	return &raffle, nil
}

// IncrementProgress 募集进度 +1，只允许在 funding 状态且未满额时发生
func (r *RaffleRepository) IncrementProgress(ctx context.Context, tx *gorm.DB, id string, version int) error {
	result := tx.WithContext(ctx).
		Model(&model.Raffle{}).
		Where("id = ? AND version = ? AND state = ? AND funding_progress < funding_target",
			id, version, model.RaffleStateFunding).
		Updates(map[string]interface{}{
			"funding_progress": gorm.Expr("funding_progress + 1"),
			"version":          gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}

	return nil
}

// UpdateState 条件状态迁移：WHERE id = ? AND state = fromState，再叠加调用方的 scopes。
// 影响行数为 0 说明前置条件已不成立（已被别人迁移），返回 ErrRaffleStateInvalid。
func (r *RaffleRepository) UpdateState(
	ctx context.Context, tx *gorm.DB, id string, fromState, toState string,
	updates map[string]interface{}, scopes ...func(*gorm.DB) *gorm.DB,
) error {
	if !model.CanTransitionTo(fromState, toState) {
		return ErrRaffleStateInvalid
	}

	if tx == nil {
		tx = r.db
	}

	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["state"] = toState
	updates["version"] = gorm.Expr("version + 1")

	result := tx.WithContext(ctx).
		Model(&model.Raffle{}).
		Scopes(scopes...).
		Where("id = ? AND state = ?", id, fromState).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrRaffleStateInvalid
	}

	return nil
}

func (r *RaffleRepository) UpdateImage(ctx context.Context, id, imageURL string) error {
	result := r.db.WithContext(ctx).
		Model(&model.Raffle{}).
		Where("id = ?", id).
		Update("image_url", imageURL)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRaffleNotFound
	}
	return nil
}

// editableRaffleColumns 管理端可修改的列；募集进度、状态、开奖结果只能由业务流程写入
var editableRaffleColumns = map[string]bool{
	"name":                true,
	"description":         true,
	"category":            true,
	"value_tier":          true,
	"featured":            true,
	"prize_value":         true,
	"ticket_price":        true,
	"chosen_ticket_price": true,
	"sale_cutoff_at":      true,
}

// UpdateMetadata 修改展示信息和票价，不在白名单内的列直接丢弃。
// version +1 让进行中的购票事务冲突重试，重新读取新票价。
func (r *RaffleRepository) UpdateMetadata(ctx context.Context, id string, updates map[string]interface{}) error {
	columns := make(map[string]interface{}, len(updates)+1)
	for k, v := range updates {
		if editableRaffleColumns[k] {
			columns[k] = v
		}
	}
	if len(columns) == 0 {
		return nil
	}
	columns["version"] = gorm.Expr("version + 1")

	result := r.db.WithContext(ctx).
		Model(&model.Raffle{}).
		Where("id = ?", id).
		Updates(columns)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRaffleNotFound
	}
	return nil
}

// CountActive 尚未结束的抽奖
func (r *RaffleRepository) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Raffle{}).
		Where("state <> ?", model.RaffleStateFinalized).
		Count(&count).Error
	return count, err
}

// FundingComplete 募集已满额
func FundingComplete(db *gorm.DB) *gorm.DB {
	return db.Where("funding_progress >= funding_target")
}

// DrawDue 开奖时间已到
func DrawDue(now time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("scheduled_draw_at IS NOT NULL AND scheduled_draw_at <= ?", now)
	}
}

func (r *RaffleRepository) ListByState(ctx context.Context, state string, limit int, scopes ...func(*gorm.DB) *gorm.DB) ([]*model.Raffle, error) {
	var raffles []*model.Raffle
	err := r.db.WithContext(ctx).
		Scopes(scopes...).
		Where("state = ?", state).
		Order("created_at ASC").
		Limit(limit).
		Find(&raffles).Error
	return raffles, err
}

// ListStuckDrawing 进入 drawing 超过 before 仍未开奖的抽奖
func (r *RaffleRepository) ListStuckDrawing(ctx context.Context, before time.Time, limit int) ([]*model.Raffle, error) {
	var raffles []*model.Raffle
	err := r.db.WithContext(ctx).
		Where("state = ? AND updated_at < ?", model.RaffleStateDrawing, before).
		Limit(limit).
		Find(&raffles).Error
	return raffles, err
}

func (r *RaffleRepository) List(ctx context.Context, filter RaffleFilter) ([]*model.Raffle, int64, error) {
	var raffles []*model.Raffle
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Raffle{})
	if filter.State != "" {
		query = query.Where("state = ?", filter.State)
	}
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	order := "created_at DESC"
	if filter.State == model.RaffleStateFinalized {
		order = "finalized_at DESC"
	}

	err = query.
		Order(order).
		Offset((filter.Page - 1) * filter.PageSize).
		Limit(filter.PageSize).
		Find(&raffles).Error

	return raffles, total, err
}
