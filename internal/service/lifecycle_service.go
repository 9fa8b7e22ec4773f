package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rafflesystem/internal/config"
	"rafflesystem/internal/infrastructure/metrics"
	"rafflesystem/internal/model"
	"rafflesystem/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ============================================================================
// 抽奖生命周期状态机
// ============================================================================
//
//   funding ──(进度 >= 目标)──▶ countdown ──(到达开奖时间)──▶ drawing ──▶ finalized
//                                                                  └──▶ draw_error
//
// 扫描只负责前两条边，drawing 之后由开奖服务处理。
// 每个抽奖各自一个条件更新（WHERE state = 原状态），重复扫描是空操作；
// 单个抽奖失败只记日志，下一轮扫描自然补上。
//
// ============================================================================

const sweepBatchSize = 200

type LifecycleService struct {
	db         *gorm.DB
	cfg        *config.Config
	logger     *zap.Logger
	raffleRepo *repository.RaffleRepository
	outboxRepo *repository.OutboxRepository
}

func NewLifecycleService(db *gorm.DB, cfg *config.Config, logger *zap.Logger) *LifecycleService {
	return &LifecycleService{
		db:         db,
		cfg:        cfg,
		logger:     logger,
		raffleRepo: repository.NewRaffleRepository(db),
		outboxRepo: repository.NewOutboxRepository(db),
	}
}

type SweepReport struct {
	ToCountdown []string `json:"to_countdown"`
	ToDrawing   []string `json:"to_drawing"`
	Skipped     int      `json:"skipped"`
	Failed      int      `json:"failed"`
}

// Sweep 扫描一轮，返回本轮完成的迁移
func (s *LifecycleService) Sweep(ctx context.Context, now time.Time) (*SweepReport, error) {
	now = now.UTC()
	report := &SweepReport{}

	funded, err := s.raffleRepo.ListByState(ctx, model.RaffleStateFunding, sweepBatchSize, repository.FundingComplete)
	if err != nil {
		return report, fmt.Errorf("查询募集中的抽奖失败: %w", err)
	}
	for _, raffle := range funded {
		drawAt := now.Add(s.cfg.Business.DrawDelay)
		s.apply(ctx, report, raffle, model.RaffleStateFunding, model.RaffleStateCountdown, now,
			map[string]interface{}{"scheduled_draw_at": drawAt},
			repository.FundingComplete,
		)
	}

	due, err := s.raffleRepo.ListByState(ctx, model.RaffleStateCountdown, sweepBatchSize, repository.DrawDue(now))
	if err != nil {
		return report, fmt.Errorf("查询倒计时中的抽奖失败: %w", err)
	}
	for _, raffle := range due {
		s.apply(ctx, report, raffle, model.RaffleStateCountdown, model.RaffleStateDrawing, now, nil,
			repository.DrawDue(now),
		)
	}

	if len(report.ToCountdown)+len(report.ToDrawing)+report.Failed > 0 {
		s.logger.Info("生命周期扫描完成",
			zap.Strings("to_countdown", report.ToCountdown),
			zap.Strings("to_drawing", report.ToDrawing),
			zap.Int("skipped", report.Skipped),
			zap.Int("failed", report.Failed),
		)
	}
	return report, nil
}

func (s *LifecycleService) apply(
	ctx context.Context, report *SweepReport, raffle *model.Raffle, from, to string, now time.Time,
	updates map[string]interface{}, scopes ...func(*gorm.DB) *gorm.DB,
) {
	err := s.Transition(ctx, raffle.ID, from, to, now, updates, scopes...)
	switch {
	case err == nil:
		if to == model.RaffleStateCountdown {
			report.ToCountdown = append(report.ToCountdown, raffle.ID)
		} else {
			report.ToDrawing = append(report.ToDrawing, raffle.ID)
		}
	case errors.Is(err, repository.ErrRaffleStateInvalid):
		// 已被其他实例迁移
		report.Skipped++
	default:
		report.Failed++
		s.logger.Error("抽奖状态迁移失败",
			zap.String("raffle_id", raffle.ID),
			zap.String("from", from),
			zap.String("to", to),
			zap.Error(err),
		)
	}
}

// Transition 条件迁移并在同一事务写入状态变更事件
func (s *LifecycleService) Transition(
	ctx context.Context, raffleID, from, to string, now time.Time,
	updates map[string]interface{}, scopes ...func(*gorm.DB) *gorm.DB,
) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.transitionInTx(ctx, tx, raffleID, from, to, now, updates, scopes...)
	})
	if err != nil {
		return err
	}
	metrics.StateTransitions.WithLabelValues(from, to).Inc()
	return nil
}

func (s *LifecycleService) transitionInTx(
	ctx context.Context, tx *gorm.DB, raffleID, from, to string, now time.Time,
	updates map[string]interface{}, scopes ...func(*gorm.DB) *gorm.DB,
) error {
	if err := s.raffleRepo.UpdateState(ctx, tx, raffleID, from, to, updates, scopes...); err != nil {
		return err
	}
	return s.outboxRepo.AppendRaffleEvent(ctx, tx, s.cfg.Kafka.Topic.RaffleState, &model.RaffleStateEvent{
		EventType:  model.EventRaffleStateChanged,
		RaffleID:   raffleID,
		From:       from,
		To:         to,
		OccurredAt: now,
	})
}
