package service

import (
	"rafflesystem/internal/config"
	"rafflesystem/internal/infrastructure/payment"
	"rafflesystem/internal/infrastructure/storage"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Services 进程内所有业务服务，启动时构造一次后注入 handler 和 job
type Services struct {
	Credit    *CreditService
	Ticket    *TicketService
	Lifecycle *LifecycleService
	Winner    *WinnerService
	Payment   *PaymentService
	Reward    *RewardService
	Raffle    *RaffleService
}

// NewServices redisClient 可以为 nil（单实例部署不加分布式锁）
func NewServices(
	db *gorm.DB,
	redisClient *redis.Client,
	cfg *config.Config,
	logger *zap.Logger,
	provider payment.Provider,
	store storage.Storage,
) *Services {
	credit := NewCreditService(db, cfg, logger.Named("credit"))
	lifecycle := NewLifecycleService(db, cfg, logger.Named("lifecycle"))

	return &Services{
		Credit:    credit,
		Ticket:    NewTicketService(db, cfg, logger.Named("ticket"), credit),
		Lifecycle: lifecycle,
		Winner:    NewWinnerService(db, redisClient, cfg, logger.Named("winner"), lifecycle),
		Payment:   NewPaymentService(db, cfg, logger.Named("payment"), provider, credit),
		Reward:    NewRewardService(db, cfg, logger.Named("reward"), credit),
		Raffle:    NewRaffleService(db, cfg, logger.Named("raffle"), store),
	}
}
