package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rafflesystem/internal/config"
	"rafflesystem/internal/infrastructure/metrics"
	"rafflesystem/internal/model"
	"rafflesystem/internal/repository"
	"rafflesystem/pkg/crypto"
	"rafflesystem/pkg/idgen"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type TicketService struct {
	db         *gorm.DB
	cfg        *config.Config
	logger     *zap.Logger
	credit     *CreditService
	raffleRepo *repository.RaffleRepository
	ticketRepo *repository.TicketRepository
	now        func() time.Time
}

func NewTicketService(db *gorm.DB, cfg *config.Config, logger *zap.Logger, credit *CreditService) *TicketService {
	return &TicketService{
		db:         db,
		cfg:        cfg,
		logger:     logger,
		credit:     credit,
		raffleRepo: repository.NewRaffleRepository(db),
		ticketRepo: repository.NewTicketRepository(db),
		now:        time.Now,
	}
}

type PurchaseRequest struct {
	UserID       string `json:"-"`
	RaffleID     string `json:"-"`
	Mode         string `json:"mode"`
	ChosenNumber *int64 `json:"number"`
}

type PurchaseResult struct {
	TicketID        string `json:"ticket_id"`
	Number          int64  `json:"number"`
	Cost            int64  `json:"cost"`
	Balance         int64  `json:"balance"`
	FundingProgress int64  `json:"funding_progress"`
	FundingTarget   int64  `json:"funding_target"`
}

func (s *TicketService) validate(req *PurchaseRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return invalidArgument("用户不能为空")
	}
	if strings.TrimSpace(req.RaffleID) == "" {
		return invalidArgument("抽奖 ID 不能为空")
	}
	if req.Mode == "" {
		req.Mode = model.TicketModeRandom
	}
	switch req.Mode {
	case model.TicketModeRandom:
	case model.TicketModeChosen:
		if req.ChosenNumber == nil {
			return invalidArgument("选号购票必须提供号码")
		}
		if *req.ChosenNumber < 0 || *req.ChosenNumber >= s.cfg.Business.TicketNumberSpace {
			return invalidArgument("号码必须在 0 到 %d 之间", s.cfg.Business.TicketNumberSpace-1)
		}
	default:
		return invalidArgument("不支持的购票方式: %s", req.Mode)
	}
	return nil
}

// PurchaseTicket 购票：扣积分、进度 +1、出票在同一个事务内完成
//
// 所有前置条件都在事务内检查，事务外读到的状态不可信。
func (s *TicketService) PurchaseTicket(ctx context.Context, req *PurchaseRequest) (*PurchaseResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	var result *PurchaseResult
	err := RunInTx(ctx, s.db, s.credit.retryPolicy(), func(tx *gorm.DB) error {
		r, err := s.purchaseInTx(ctx, tx, req)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		if KindOf(err) == KindIntegrity {
			s.logger.Error("购票数据不一致",
				zap.String("user_id", req.UserID),
				zap.String("raffle_id", req.RaffleID),
				zap.Error(err),
			)
		}
		return nil, err
	}

	metrics.TicketsSold.WithLabelValues(req.Mode).Inc()
	s.logger.Info("购票成功",
		zap.String("user_id", req.UserID),
		zap.String("raffle_id", req.RaffleID),
		zap.String("ticket_id", result.TicketID),
		zap.Int64("number", result.Number),
		zap.Int64("cost", result.Cost),
	)
	return result, nil
}

func (s *TicketService) purchaseInTx(ctx context.Context, tx *gorm.DB, req *PurchaseRequest) (*PurchaseResult, error) {
	raffle, err := s.raffleRepo.GetForUpdate(ctx, tx, req.RaffleID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if raffle.State != model.RaffleStateFunding ||
		raffle.SaleClosed(now) ||
		raffle.FundingProgress >= raffle.FundingTarget {
		return nil, ErrRaffleNotAvailable
	}

	cost := raffle.TicketCost(req.Mode)
	if cost <= 0 {
		return nil, ErrRaffleNotAvailable
	}

	number, err := s.assignNumber(ctx, tx, raffle.ID, req)
	if err != nil {
		return nil, err
	}

	ticketID := idgen.GenerateTicketID()

	account, err := s.credit.ApplyDelta(ctx, tx, DeltaRequest{
		UserID:    req.UserID,
		Delta:     -cost,
		Type:      model.CreditTxPurchaseTicket,
		Reference: ticketID,
		Remark:    fmt.Sprintf("购票-%s-%d", raffle.ID, number),
	})
	if err != nil {
		return nil, err
	}

	if err := s.raffleRepo.IncrementProgress(ctx, tx, raffle.ID, raffle.Version); err != nil {
		if errors.Is(err, repository.ErrOptimisticLock) {
			return nil, ErrTransactionConflict
		}
		return nil, fmt.Errorf("更新募集进度失败: %w", err)
	}

	if s.cfg.Business.UniqueTicketNumbers {
		ok, err := s.ticketRepo.ClaimNumber(ctx, tx, &model.TicketNumberClaim{
			RaffleID: raffle.ID,
			Number:   number,
			TicketID: ticketID,
		})
		if err != nil {
			return nil, fmt.Errorf("占用号码失败: %w", err)
		}
		if !ok {
			// 读到空闲之后被别人抢先占用，整体重试
			return nil, ErrTransactionConflict
		}
	}

	ticket := &model.Ticket{
		ID:          ticketID,
		RaffleID:    raffle.ID,
		UserID:      req.UserID,
		Number:      number,
		Mode:        req.Mode,
		CreditsPaid: cost,
		PurchasedAt: now,
	}
	if err := s.ticketRepo.Create(ctx, tx, ticket); err != nil {
		return nil, fmt.Errorf("创建票据失败: %w", err)
	}

	return &PurchaseResult{
		TicketID:        ticketID,
		Number:          number,
		Cost:            cost,
		Balance:         account.Balance,
		FundingProgress: raffle.FundingProgress + 1,
		FundingTarget:   raffle.FundingTarget,
	}, nil
}

// assignNumber 选号直接使用用户号码；随机号码在号码空间内均匀抽取。
// 开启号码唯一时，随机号码只在未被占用的号码中抽取。
func (s *TicketService) assignNumber(ctx context.Context, tx *gorm.DB, raffleID string, req *PurchaseRequest) (int64, error) {
	space := s.cfg.Business.TicketNumberSpace

	if !s.cfg.Business.UniqueTicketNumbers {
		if req.Mode == model.TicketModeChosen {
			return *req.ChosenNumber, nil
		}
		return crypto.RandInt63n(space)
	}

	if req.Mode == model.TicketModeChosen {
		taken, err := s.ticketRepo.NumberTaken(ctx, tx, raffleID, *req.ChosenNumber)
		if err != nil {
			return 0, fmt.Errorf("查询号码失败: %w", err)
		}
		if taken {
			return 0, ErrNumberTaken
		}
		return *req.ChosenNumber, nil
	}

	taken, err := s.ticketRepo.TakenNumbers(ctx, tx, raffleID)
	if err != nil {
		return 0, fmt.Errorf("查询已占用号码失败: %w", err)
	}
	free := space - int64(len(taken))
	if free <= 0 {
		return 0, ErrRaffleNotAvailable
	}
	idx, err := crypto.RandInt63n(free)
	if err != nil {
		return 0, err
	}
	return nthFree(taken, idx), nil
}

// nthFree 返回第 idx 个（从 0 开始）未出现在 taken 中的号码，taken 必须升序
func nthFree(taken []int64, idx int64) int64 {
	n := idx
	for _, t := range taken {
		if t > n {
			break
		}
		n++
	}
	return n
}

func (s *TicketService) ListUserTickets(ctx context.Context, userID string, page, pageSize int) ([]*model.Ticket, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	return s.ticketRepo.ListByUser(ctx, userID, page, pageSize)
}

func (s *TicketService) ListRaffleTickets(ctx context.Context, raffleID string) ([]*model.Ticket, error) {
	return s.ticketRepo.ListByRaffle(ctx, nil, raffleID)
}
