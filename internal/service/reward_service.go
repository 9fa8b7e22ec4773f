package service

import (
	"context"
	"strings"
	"time"

	"rafflesystem/internal/config"
	"rafflesystem/internal/model"
	"rafflesystem/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RewardService 每日奖励与等级奖励，余额变动都走 ApplyDelta 的 Guard
type RewardService struct {
	db          *gorm.DB
	cfg         *config.Config
	logger      *zap.Logger
	credit      *CreditService
	catalogRepo *repository.CatalogRepository
	now         func() time.Time
}

func NewRewardService(db *gorm.DB, cfg *config.Config, logger *zap.Logger, credit *CreditService) *RewardService {
	return &RewardService{
		db:          db,
		cfg:         cfg,
		logger:      logger,
		credit:      credit,
		catalogRepo: repository.NewCatalogRepository(db),
		now:         time.Now,
	}
}

type RewardResult struct {
	Credits   int64      `json:"credits"`
	XP        int64      `json:"xp"`
	Balance   int64      `json:"balance"`
	TotalXP   int64      `json:"total_xp"`
	NextClaim *time.Time `json:"next_claim_at,omitempty"`
}

// ClaimDailyReward 冷却期内只能领取一次
func (s *RewardService) ClaimDailyReward(ctx context.Context, userID string) (*RewardResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, invalidArgument("用户不能为空")
	}

	now := s.now().UTC()
	biz := s.cfg.Business

	var result *RewardResult
	err := RunInTx(ctx, s.db, s.credit.retryPolicy(), func(tx *gorm.DB) error {
		account, err := s.credit.ApplyDelta(ctx, tx, DeltaRequest{
			UserID:  userID,
			Delta:   biz.DailyRewardCredits,
			XPDelta: biz.DailyRewardXP,
			Type:    model.CreditTxDailyReward,
			Remark:  "每日奖励",
			Guard: func(account *model.UserAccount) error {
				if account.LastDailyClaimAt != nil && now.Sub(*account.LastDailyClaimAt) < biz.DailyRewardCooldown {
					return ErrRewardCooldown
				}
				return nil
			},
			Extra: map[string]interface{}{"last_daily_claim_at": now},
		})
		if err != nil {
			return err
		}

		next := now.Add(biz.DailyRewardCooldown)
		result = &RewardResult{
			Credits:   biz.DailyRewardCredits,
			XP:        biz.DailyRewardXP,
			Balance:   account.Balance,
			TotalXP:   account.XP,
			NextClaim: &next,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("领取每日奖励", zap.String("user_id", userID), zap.Int64("balance", result.Balance))
	return result, nil
}

// ClaimTierReward 经验值达到等级要求后领取一次
func (s *RewardService) ClaimTierReward(ctx context.Context, userID, tierID string) (*RewardResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, invalidArgument("用户不能为空")
	}
	if strings.TrimSpace(tierID) == "" {
		return nil, invalidArgument("等级不能为空")
	}

	var result *RewardResult
	err := RunInTx(ctx, s.db, s.credit.retryPolicy(), func(tx *gorm.DB) error {
		tier, err := s.catalogRepo.GetTier(ctx, tx, tierID)
		if err != nil {
			return err
		}

		// 已领取列表在 Guard 里基于事务内读到的账户计算
		extra := map[string]interface{}{}
		account, err := s.credit.ApplyDelta(ctx, tx, DeltaRequest{
			UserID:    userID,
			Delta:     tier.RewardCredits,
			Type:      model.CreditTxTierReward,
			Reference: userID + ":" + tier.ID,
			Remark:    "等级奖励-" + tier.Name,
			Guard: func(account *model.UserAccount) error {
				if account.XP < tier.RequiredXP {
					return ErrXPThresholdNotMet
				}
				if account.ClaimedTiers.Contains(tier.ID) {
					return ErrRewardAlreadyClaimed
				}
				claimed := append(model.StringList{}, account.ClaimedTiers...)
				extra["claimed_tiers"] = append(claimed, tier.ID)
				return nil
			},
			Extra: extra,
		})
		if err != nil {
			return err
		}

		result = &RewardResult{
			Credits: tier.RewardCredits,
			Balance: account.Balance,
			TotalXP: account.XP,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("领取等级奖励",
		zap.String("user_id", userID),
		zap.String("tier_id", tierID),
		zap.Int64("credits", result.Credits),
	)
	return result, nil
}

func (s *RewardService) ListTiers(ctx context.Context) ([]*model.RewardTier, error) {
	return s.catalogRepo.ListTiers(ctx)
}
