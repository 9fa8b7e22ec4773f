package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rafflesystem/internal/config"
	"rafflesystem/internal/infrastructure/lock"
	"rafflesystem/internal/infrastructure/metrics"
	"rafflesystem/internal/model"
	"rafflesystem/internal/repository"
	"rafflesystem/pkg/crypto"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ============================================================================
// 开奖
// ============================================================================
//
// 触发方式（至少一次投递，可能重复）：
//   1. Kafka 消费 raffle.state_changed（to = drawing）
//   2. 补偿任务扫描长时间停留在 drawing 的抽奖
//   3. 管理员手动触发
//
// 幂等由两层保证：
//   - 事件层：只处理 from 不是 drawing/终态 的事件
//   - 写入层：finalized 的写入带 WHERE state = 'drawing'，只会成功一次
//
// 任何一步出错都把状态置为 draw_error，等待人工处理，不自动重试。
//
// ============================================================================

type WinnerService struct {
	db          *gorm.DB
	cfg         *config.Config
	logger      *zap.Logger
	redisClient *redis.Client
	lifecycle   *LifecycleService
	raffleRepo  *repository.RaffleRepository
	ticketRepo  *repository.TicketRepository
	userRepo    *repository.UserRepository
	now         func() time.Time
	randIntn    func(n int64) (int64, error)
}

func NewWinnerService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, logger *zap.Logger, lifecycle *LifecycleService) *WinnerService {
	return &WinnerService{
		db:          db,
		cfg:         cfg,
		logger:      logger,
		redisClient: redisClient,
		lifecycle:   lifecycle,
		raffleRepo:  repository.NewRaffleRepository(db),
		ticketRepo:  repository.NewTicketRepository(db),
		userRepo:    repository.NewUserRepository(db),
		now:         time.Now,
		randIntn:    crypto.RandInt63n,
	}
}

type DrawResult struct {
	RaffleID          string `json:"raffle_id"`
	NoWinner          bool   `json:"no_winner"`
	WinnerUserID      string `json:"winner_user_id"`
	WinningNumber     int64  `json:"winning_number"`
	WinnerMaskedEmail string `json:"winner_masked_email"`
	TicketCount       int    `json:"ticket_count"`
}

// ShouldDraw 事件守卫：进入 drawing 且之前不是 drawing/终态
func ShouldDraw(event *model.RaffleStateEvent) bool {
	if event.EventType != model.EventRaffleStateChanged || event.To != model.RaffleStateDrawing {
		return false
	}
	return event.From != model.RaffleStateDrawing && !model.IsTerminalState(event.From)
}

// HandleStateEvent 消费状态变更事件，不满足守卫的事件直接忽略
func (s *WinnerService) HandleStateEvent(ctx context.Context, event *model.RaffleStateEvent) error {
	if !ShouldDraw(event) {
		return nil
	}
	_, err := s.Draw(ctx, event.RaffleID)
	if errors.Is(err, ErrAlreadyDrawn) {
		return nil
	}
	return err
}

// Draw 对处于 drawing 的抽奖开奖
func (s *WinnerService) Draw(ctx context.Context, raffleID string) (*DrawResult, error) {
	var result *DrawResult
	drawLock := lock.NewDrawLock(s.redisClient, raffleID, uuid.NewString())
	ran, err := drawLock.RunExclusive(ctx, func(ctx context.Context) error {
		r, err := s.draw(ctx, raffleID)
		result = r
		return err
	})
	if !ran {
		metrics.Draws.WithLabelValues("skipped").Inc()
		return nil, ErrAlreadyDrawn
	}
	return result, err
}

func (s *WinnerService) draw(ctx context.Context, raffleID string) (*DrawResult, error) {
	now := s.now().UTC()
	result := &DrawResult{RaffleID: raffleID}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		raffle, err := s.raffleRepo.GetForUpdate(ctx, tx, raffleID)
		if err != nil {
			return err
		}
		if raffle.State != model.RaffleStateDrawing {
			return ErrAlreadyDrawn
		}

		tickets, err := s.ticketRepo.ListByRaffle(ctx, tx, raffleID)
		if err != nil {
			return fmt.Errorf("查询票据失败: %w", err)
		}
		result.TicketCount = len(tickets)

		updates := map[string]interface{}{"finalized_at": now}
		if len(tickets) == 0 {
			result.NoWinner = true
			updates["winner_user_id"] = model.NoWinner
		} else {
			idx, err := s.randIntn(int64(len(tickets)))
			if err != nil {
				return fmt.Errorf("生成随机数失败: %w", err)
			}
			winning := tickets[idx]

			owner, err := s.userRepo.GetByUserID(ctx, tx, winning.UserID)
			if err != nil {
				if errors.Is(err, repository.ErrUserNotFound) {
					return fmt.Errorf("%w: 中奖票 %s 的用户 %s 不存在", ErrIntegrity, winning.ID, winning.UserID)
				}
				return fmt.Errorf("查询中奖用户失败: %w", err)
			}

			result.WinnerUserID = winning.UserID
			result.WinningNumber = winning.Number
			result.WinnerMaskedEmail = MaskEmail(owner.Email)
			updates["winner_user_id"] = winning.UserID
			updates["winning_number"] = winning.Number
			updates["winner_masked_email"] = result.WinnerMaskedEmail
		}

		err = s.lifecycle.transitionInTx(ctx, tx, raffleID,
			model.RaffleStateDrawing, model.RaffleStateFinalized, now, updates)
		if errors.Is(err, repository.ErrRaffleStateInvalid) {
			return ErrAlreadyDrawn
		}
		return err
	})

	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyDrawn), errors.Is(err, repository.ErrRaffleNotFound):
		metrics.Draws.WithLabelValues("skipped").Inc()
		return nil, err
	case interrupted(ctx, err):
		// 停机或消费者重平衡，保持 drawing，由重投或补偿任务完成
		metrics.Draws.WithLabelValues("interrupted").Inc()
		s.logger.Warn("开奖被中断，保持 drawing 等待重试",
			zap.String("raffle_id", raffleID),
			zap.Error(err),
		)
		return nil, err
	default:
		metrics.Draws.WithLabelValues("error").Inc()
		s.markDrawError(ctx, raffleID, now, err)
		return nil, err
	}

	if result.NoWinner {
		metrics.Draws.WithLabelValues("no_winner").Inc()
		s.logger.Warn("抽奖没有任何票，以无人中奖结束", zap.String("raffle_id", raffleID))
	} else {
		metrics.Draws.WithLabelValues("winner").Inc()
		s.logger.Info("开奖完成",
			zap.String("raffle_id", raffleID),
			zap.String("winner_user_id", result.WinnerUserID),
			zap.Int64("winning_number", result.WinningNumber),
			zap.Int("ticket_count", result.TicketCount),
		)
	}
	metrics.StateTransitions.WithLabelValues(model.RaffleStateDrawing, model.RaffleStateFinalized).Inc()
	return result, nil
}

func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// markDrawError 开奖失败时单独写入 draw_error，同样带 WHERE state = 'drawing'
func (s *WinnerService) markDrawError(ctx context.Context, raffleID string, now time.Time, cause error) {
	s.logger.Error("开奖失败，抽奖置为 draw_error，需要人工处理",
		zap.String("raffle_id", raffleID),
		zap.Time("at", now),
		zap.Error(cause),
	)

	msg := cause.Error()
	err := s.lifecycle.Transition(context.WithoutCancel(ctx), raffleID,
		model.RaffleStateDrawing, model.RaffleStateDrawError, now,
		map[string]interface{}{"draw_error": msg})
	if err != nil {
		s.logger.Error("写入 draw_error 失败",
			zap.String("raffle_id", raffleID),
			zap.Error(err),
		)
	}
}

// MaskEmail 只保留首字符和域名：pedro@gmail.com -> p...@gmail.com
func MaskEmail(email string) string {
	email = strings.TrimSpace(email)
	if email == "" {
		return ""
	}
	at := strings.LastIndex(email, "@")
	first := string([]rune(email)[0])
	if at <= 0 {
		return first + "..."
	}
	return first + "..." + email[at:]
}
