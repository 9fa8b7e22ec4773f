package job

import (
	"context"
	"time"

	"rafflesystem/internal/config"
	"rafflesystem/internal/infrastructure/lock"
	"rafflesystem/internal/service"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LifecycleSweepJob 定时推进抽奖状态，默认 15 分钟一轮
type LifecycleSweepJob struct {
	lifecycle *service.LifecycleService
	sweepLock *lock.DistributedLock
	logger    *zap.Logger
	stopCh    chan struct{}
	interval  time.Duration
}

func NewLifecycleSweepJob(lifecycle *service.LifecycleService, redisClient *redis.Client, cfg *config.Config, logger *zap.Logger) *LifecycleSweepJob {
	return &LifecycleSweepJob{
		lifecycle: lifecycle,
		sweepLock: lock.NewSweepLock(redisClient, uuid.NewString(), cfg.Business.SweepInterval),
		logger:    logger.Named("sweep"),
		stopCh:    make(chan struct{}),
		interval:  cfg.Business.SweepInterval,
	}
}

func (j *LifecycleSweepJob) Start(ctx context.Context) {
	j.logger.Info("生命周期扫描任务启动", zap.Duration("interval", j.interval))

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
			if _, err := j.RunOnce(ctx); err != nil {
				j.logger.Error("生命周期扫描失败，等待下一轮", zap.Error(err))
			}
		}
	}
}

func (j *LifecycleSweepJob) Stop() {
	close(j.stopCh)
}

// RunOnce 执行一轮扫描；其他实例持有锁时跳过，返回 nil report
func (j *LifecycleSweepJob) RunOnce(ctx context.Context) (*service.SweepReport, error) {
	var report *service.SweepReport
	ran, err := j.sweepLock.RunExclusive(ctx, func(ctx context.Context) error {
		r, err := j.lifecycle.Sweep(ctx, time.Now())
		report = r
		return err
	})
	if !ran {
		j.logger.Debug("其他实例正在扫描，跳过本轮")
	}
	return report, err
}
