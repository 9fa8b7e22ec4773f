package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rafflesystem/internal/config"
	"rafflesystem/internal/model"
	"rafflesystem/internal/repository"
	"rafflesystem/pkg/idgen"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ============================================================================
// 积分交易引擎
// ============================================================================
//
// 所有余额、经验值的变动都必须经过 ApplyDelta：
//   1. 在调用方的事务里读取账户（MySQL 下 SELECT ... FOR UPDATE）
//   2. 余额不足直接失败，不重试
//   3. 按 version 条件更新，影响 0 行 = 有并发写入 → ErrTransactionConflict
//   4. 同事务追加一条流水
//
// 调用方（购票、充值、奖励）把自己的写入放在同一个 tx 里，整体提交或整体回滚。
//
// ============================================================================

type CreditService struct {
	db        *gorm.DB
	cfg       *config.Config
	logger    *zap.Logger
	userRepo  *repository.UserRepository
	transRepo *repository.CreditTransactionRepository
}

func NewCreditService(db *gorm.DB, cfg *config.Config, logger *zap.Logger) *CreditService {
	return &CreditService{
		db:        db,
		cfg:       cfg,
		logger:    logger,
		userRepo:  repository.NewUserRepository(db),
		transRepo: repository.NewCreditTransactionRepository(db),
	}
}

func (s *CreditService) retryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      s.cfg.Business.MaxTxRetries,
		InitialInterval: s.cfg.Business.RetryInitialInterval,
	}
}

// DeltaRequest 一次余额/经验值变动
type DeltaRequest struct {
	UserID    string
	Delta     int64
	XPDelta   int64
	Type      string
	Reference string
	Remark    string
	// Guard 读到账户后、写入前执行的额外前置条件
	Guard func(account *model.UserAccount) error
	// Extra 与余额一起按版本号写入的其他账户字段
	Extra map[string]interface{}
}

// ApplyDelta 必须在事务内调用，返回变动后的账户
func (s *CreditService) ApplyDelta(ctx context.Context, tx *gorm.DB, req DeltaRequest) (*model.UserAccount, error) {
	account, err := s.userRepo.GetForUpdate(ctx, tx, req.UserID)
	if err != nil {
		return nil, err
	}

	if req.Guard != nil {
		if err := req.Guard(account); err != nil {
			return nil, err
		}
	}

	if req.Delta < 0 && account.Balance+req.Delta < 0 {
		return nil, ErrInsufficientBalance
	}
	if req.XPDelta < 0 && account.XP+req.XPDelta < 0 {
		return nil, invalidArgument("经验值不能为负")
	}

	balanceBefore := account.Balance
	updates := map[string]interface{}{
		"balance": account.Balance + req.Delta,
		"xp":      account.XP + req.XPDelta,
	}
	for k, v := range req.Extra {
		updates[k] = v
	}

	if err := s.userRepo.UpdateWithVersion(ctx, tx, req.UserID, account.Version, updates); err != nil {
		if errors.Is(err, repository.ErrOptimisticLock) {
			return nil, ErrTransactionConflict
		}
		return nil, fmt.Errorf("更新账户失败: %w", err)
	}

	account.Balance += req.Delta
	account.XP += req.XPDelta
	account.Version++

	trans := &model.CreditTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        req.UserID,
		Type:          req.Type,
		Amount:        req.Delta,
		XPAmount:      req.XPDelta,
		BalanceBefore: balanceBefore,
		BalanceAfter:  account.Balance,
		Remark:        req.Remark,
	}
	if req.Reference != "" {
		ref := req.Reference
		trans.Reference = &ref
	}
	if err := s.transRepo.Create(ctx, tx, trans); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrTransactionConflict
		}
		return nil, fmt.Errorf("记录流水失败: %w", err)
	}

	return account, nil
}

type SpendResult struct {
	TransactionNo string `json:"transaction_no"`
	Balance       int64  `json:"balance"`
	Replayed      bool   `json:"replayed"`
}

// Spend 通用消费；requestID 非空时同一个 requestID 只扣一次
func (s *CreditService) Spend(ctx context.Context, userID string, cost int64, requestID string) (*SpendResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, invalidArgument("用户不能为空")
	}
	if cost <= 0 {
		return nil, invalidArgument("消费积分必须大于0")
	}

	return s.applyIdempotent(ctx, DeltaRequest{
		UserID:    userID,
		Delta:     -cost,
		Type:      model.CreditTxSpend,
		Reference: requestID,
		Remark:    "积分消费",
	})
}

// Grant 增加积分（运营补偿等）
func (s *CreditService) Grant(ctx context.Context, userID string, amount int64, reference, remark string) (*SpendResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, invalidArgument("用户不能为空")
	}
	if amount <= 0 {
		return nil, invalidArgument("发放积分必须大于0")
	}

	return s.applyIdempotent(ctx, DeltaRequest{
		UserID:    userID,
		Delta:     amount,
		Type:      model.CreditTxAdminGrant,
		Reference: reference,
		Remark:    remark,
	})
}

// Refund 退回积分，同一个 reference 只退一次，重复调用返回第一次的结果
func (s *CreditService) Refund(ctx context.Context, userID string, amount int64, reference, reason string) (*SpendResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, invalidArgument("用户不能为空")
	}
	if amount <= 0 {
		return nil, invalidArgument("退款积分必须大于0")
	}
	if strings.TrimSpace(reference) == "" {
		return nil, invalidArgument("退款必须提供关联单号")
	}

	result, err := s.applyIdempotent(ctx, DeltaRequest{
		UserID:    userID,
		Delta:     amount,
		Type:      model.CreditTxRefund,
		Reference: reference,
		Remark:    "退款-" + reason,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("积分退款",
		zap.String("user_id", userID),
		zap.Int64("amount", amount),
		zap.String("reference", reference),
		zap.Bool("replayed", result.Replayed),
	)
	return result, nil
}

func (s *CreditService) applyIdempotent(ctx context.Context, req DeltaRequest) (*SpendResult, error) {
	var result *SpendResult
	err := RunInTx(ctx, s.db, s.retryPolicy(), func(tx *gorm.DB) error {
		if req.Reference != "" {
			existing, err := s.transRepo.GetByReference(ctx, tx, req.Type, req.Reference)
			if err != nil {
				return fmt.Errorf("查询流水失败: %w", err)
			}
			if existing != nil {
				if existing.UserID != req.UserID {
					return invalidArgument("关联单号已被其他用户使用")
				}
				result = &SpendResult{
					TransactionNo: existing.TransactionNo,
					Balance:       existing.BalanceAfter,
					Replayed:      true,
				}
				return nil
			}
		}

		account, err := s.ApplyDelta(ctx, tx, req)
		if err != nil {
			return err
		}
		result = &SpendResult{Balance: account.Balance}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CreateAccount 身份系统新用户回调：发放初始积分；uid 已存在时什么也不做
func (s *CreditService) CreateAccount(ctx context.Context, userID, email string) (*model.UserAccount, bool, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, false, invalidArgument("用户不能为空")
	}

	starting := s.cfg.Business.StartingCredits
	account := &model.UserAccount{
		UserID:       userID,
		Email:        email,
		Role:         model.RoleUser,
		Balance:      starting,
		ClaimedTiers: model.StringList{},
	}

	created := false
	err := RunInTx(ctx, s.db, s.retryPolicy(), func(tx *gorm.DB) error {
		ok, err := s.userRepo.Create(ctx, tx, account)
		if err != nil {
			return fmt.Errorf("创建账户失败: %w", err)
		}
		if !ok {
			return nil
		}
		created = true

		ref := userID
		return s.transRepo.Create(ctx, tx, &model.CreditTransaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			UserID:        userID,
			Type:          model.CreditTxSignup,
			Reference:     &ref,
			Amount:        starting,
			BalanceBefore: 0,
			BalanceAfter:  starting,
			Remark:        "注册赠送",
		})
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		s.logger.Info("新用户开户", zap.String("user_id", userID), zap.Int64("starting_credits", starting))
		return account, true, nil
	}

	existing, err := s.userRepo.GetByUserID(ctx, nil, userID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *CreditService) GetAccount(ctx context.Context, userID string) (*model.UserAccount, error) {
	return s.userRepo.GetByUserID(ctx, nil, userID)
}

// AccountAudit 余额与流水合计的对账结果
type AccountAudit struct {
	UserID     string `json:"user_id"`
	Balance    int64  `json:"balance"`
	LedgerSum  int64  `json:"ledger_sum"`
	Consistent bool   `json:"consistent"`
}

// AuditAccount 流水只追加，合计必须等于当前余额
func (s *CreditService) AuditAccount(ctx context.Context, userID string) (*AccountAudit, error) {
	account, err := s.userRepo.GetByUserID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	sum, err := s.transRepo.SumByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("汇总流水失败: %w", err)
	}

	audit := &AccountAudit{
		UserID:     userID,
		Balance:    account.Balance,
		LedgerSum:  sum,
		Consistent: account.Balance == sum,
	}
	if !audit.Consistent {
		s.logger.Error("账户余额与流水不一致",
			zap.String("user_id", userID),
			zap.Int64("balance", account.Balance),
			zap.Int64("ledger_sum", sum),
		)
	}
	return audit, nil
}

func (s *CreditService) ListTransactions(ctx context.Context, userID string, page, pageSize int) ([]*model.CreditTransaction, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	return s.transRepo.ListByUser(ctx, userID, page, pageSize)
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
