package repository

import (
	"context"

	"rafflesystem/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TicketRepository struct {
	db *gorm.DB
}

func NewTicketRepository(db *gorm.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

func (r *TicketRepository) Create(ctx context.Context, tx *gorm.DB, ticket *model.Ticket) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(ticket).Error
}

// ClaimNumber 占用 (raffle_id, number)，返回 false 表示号码已被占用
func (r *TicketRepository) ClaimNumber(ctx context.Context, tx *gorm.DB, claim *model.TicketNumberClaim) (bool, error) {
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "raffle_id"}, {Name: "number"}},
			DoNothing: true,
		}).
		Create(claim)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *TicketRepository) NumberTaken(ctx context.Context, tx *gorm.DB, raffleID string, number int64) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).
		Model(&model.TicketNumberClaim{}).
		Where("raffle_id = ? AND number = ?", raffleID, number).
		Count(&count).Error
	return count > 0, err
}

// TakenNumbers 已占用的号码，升序
func (r *TicketRepository) TakenNumbers(ctx context.Context, tx *gorm.DB, raffleID string) ([]int64, error) {
	var numbers []int64
	err := tx.WithContext(ctx).
		Model(&model.TicketNumberClaim{}).
		Where("raffle_id = ?", raffleID).
		Order("number ASC").
		Pluck("number", &numbers).Error
	return numbers, err
}

// ListByRaffle 按购买顺序枚举抽奖的全部票，开奖时在事务内调用
func (r *TicketRepository) ListByRaffle(ctx context.Context, tx *gorm.DB, raffleID string) ([]*model.Ticket, error) {
	if tx == nil {
		tx = r.db
	}
	var tickets []*model.Ticket
	err := tx.WithContext(ctx).
		Where("raffle_id = ?", raffleID).
		Order("purchased_at ASC, id ASC").
		Find(&tickets).Error
	return tickets, err
}

func (r *TicketRepository) CountByRaffle(ctx context.Context, raffleID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Ticket{}).
		Where("raffle_id = ?", raffleID).
		Count(&count).Error
	return count, err
}

func (r *TicketRepository) ListByUser(ctx context.Context, userID string, page, pageSize int) ([]*model.Ticket, int64, error) {
	var tickets []*model.Ticket
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Ticket{}).Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("purchased_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&tickets).Error

	return tickets, total, err
}
