package job

import (
	"context"
	"errors"
	"time"

	"rafflesystem/internal/config"
	"rafflesystem/internal/repository"
	"rafflesystem/internal/service"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DrawCompensateJob 事件丢失兜底：进入 drawing 超过宽限期仍未开奖的抽奖重新触发开奖
type DrawCompensateJob struct {
	raffleRepo  *repository.RaffleRepository
	winner      *service.WinnerService
	logger      *zap.Logger
	stopCh      chan struct{}
	interval    time.Duration
	gracePeriod time.Duration
	batchSize   int
}

func NewDrawCompensateJob(db *gorm.DB, winner *service.WinnerService, cfg *config.Config, logger *zap.Logger) *DrawCompensateJob {
	return &DrawCompensateJob{
		raffleRepo:  repository.NewRaffleRepository(db),
		winner:      winner,
		logger:      logger.Named("draw_compensate"),
		stopCh:      make(chan struct{}),
		interval:    time.Minute,
		gracePeriod: cfg.Business.DrawGracePeriod,
		batchSize:   50,
	}
}

func (j *DrawCompensateJob) Start(ctx context.Context) {
	j.logger.Info("开奖补偿任务启动", zap.Duration("grace_period", j.gracePeriod))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.logger.Info("任务停止")
			return
		case <-ticker.C:
			j.RunOnce(ctx, time.Now())
		}
	}
}

func (j *DrawCompensateJob) Stop() {
	close(j.stopCh)
}

// RunOnce 返回本轮补偿开奖成功的数量
func (j *DrawCompensateJob) RunOnce(ctx context.Context, now time.Time) int {
	before := now.UTC().Add(-j.gracePeriod)
	raffles, err := j.raffleRepo.ListStuckDrawing(ctx, before, j.batchSize)
	if err != nil {
		j.logger.Error("查询待开奖抽奖失败", zap.Error(err))
		return 0
	}

	if len(raffles) == 0 {
		return 0
	}

	j.logger.Warn("发现未及时开奖的抽奖", zap.Int("count", len(raffles)))

	drawn := 0
	for _, raffle := range raffles {
		_, err := j.winner.Draw(ctx, raffle.ID)
		switch {
		case err == nil:
			drawn++
		case errors.Is(err, service.ErrAlreadyDrawn):
		default:
			j.logger.Error("补偿开奖失败", zap.String("raffle_id", raffle.ID), zap.Error(err))
		}
	}
	return drawn
}
