package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rafflesystem/internal/config"
	"rafflesystem/internal/infrastructure/metrics"
	"rafflesystem/internal/infrastructure/payment"
	"rafflesystem/internal/model"
	"rafflesystem/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	metaBuyerID   = "buyer_id"
	metaPackageID = "package_id"
)

// ============================================================================
// 支付对账
// ============================================================================
//
// 支付渠道会重复投递 webhook，同一个 paymentRef 只能入账一次：
//   1. 事务内先查 sale_record(id = paymentRef)，存在即重复
//   2. 入账 + 插入 sale_record 在同一事务，插入带 ON CONFLICT DO NOTHING，
//      影响 0 行说明并发的另一次投递已经提交，回滚本次入账
//
// 验签失败直接拒绝，不修改任何数据。
// 验签通过但数据对不上（未知积分包、未知用户、缺元数据）仍然返回成功，
// 避免渠道无限重试，但必须以 error 级别记录全部标识并计入告警指标。
//
// ============================================================================

type PaymentService struct {
	db          *gorm.DB
	cfg         *config.Config
	logger      *zap.Logger
	provider    payment.Provider
	credit      *CreditService
	saleRepo    *repository.SaleRepository
	catalogRepo *repository.CatalogRepository
}

func NewPaymentService(db *gorm.DB, cfg *config.Config, logger *zap.Logger, provider payment.Provider, credit *CreditService) *PaymentService {
	return &PaymentService{
		db:          db,
		cfg:         cfg,
		logger:      logger,
		provider:    provider,
		credit:      credit,
		saleRepo:    repository.NewSaleRepository(db),
		catalogRepo: repository.NewCatalogRepository(db),
	}
}

// CreatePaymentIntent 为积分包创建支付意图，返回给前端的 client secret
func (s *PaymentService) CreatePaymentIntent(ctx context.Context, userID, packageID string) (*payment.Intent, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, invalidArgument("用户不能为空")
	}
	if strings.TrimSpace(packageID) == "" {
		return nil, invalidArgument("积分包不能为空")
	}

	pkg, err := s.catalogRepo.GetPackage(ctx, nil, packageID)
	if err != nil {
		return nil, err
	}

	amount := pkg.AmountMinor()
	if amount <= 0 {
		return nil, fmt.Errorf("%w: 积分包 %s 价格无效", ErrIntegrity, pkg.ID)
	}

	intent, err := s.provider.CreateIntent(ctx, &payment.IntentRequest{
		AmountMinor: amount,
		Currency:    s.cfg.Stripe.Currency,
		Metadata: map[string]string{
			metaBuyerID:   userID,
			metaPackageID: pkg.ID,
		},
	})
	if err != nil {
		s.logger.Error("创建支付意图失败",
			zap.String("user_id", userID),
			zap.String("package_id", pkg.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrExternal, err)
	}

	s.logger.Info("创建支付意图",
		zap.String("user_id", userID),
		zap.String("package_id", pkg.ID),
		zap.String("payment_ref", intent.ID),
		zap.Int64("amount_minor", amount),
	)
	return intent, nil
}

// HandleWebhook 验签并处理回调。验签失败和临时性错误返回 error，其余情况都视为已处理。
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.provider.ParseWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			s.logger.Warn("webhook 验签失败", zap.Error(err))
			return err
		}
		s.alert("webhook 解析失败", zap.Error(err))
		return nil
	}

	if event.Type != payment.EventPaymentSucceeded {
		s.logger.Debug("忽略 webhook 事件", zap.String("event_id", event.ID), zap.String("type", event.Type))
		return nil
	}

	confirmation := &PaymentConfirmation{
		PaymentRef:    event.PaymentRef,
		BuyerID:       event.Metadata[metaBuyerID],
		PackageID:     event.Metadata[metaPackageID],
		AmountMinor:   event.AmountMinor,
		PaymentMethod: event.PaymentMethod,
	}

	_, err = s.HandlePaymentConfirmed(ctx, confirmation)
	switch {
	case err == nil, errors.Is(err, ErrDuplicatePayment):
	case KindOf(err) == KindConflict || KindOf(err) == KindInternal:
		// 临时性错误返回给渠道，让其重投
		s.logger.Error("支付入账失败，等待渠道重投",
			zap.String("event_id", event.ID),
			zap.String("payment_ref", confirmation.PaymentRef),
			zap.Error(err),
		)
		return err
	default:
		s.alert("支付已确认但无法入账",
			zap.String("event_id", event.ID),
			zap.String("payment_ref", confirmation.PaymentRef),
			zap.String("buyer_id", confirmation.BuyerID),
			zap.String("package_id", confirmation.PackageID),
			zap.Int64("amount_minor", confirmation.AmountMinor),
			zap.Error(err),
		)
	}
	return nil
}

func (s *PaymentService) alert(msg string, fields ...zap.Field) {
	metrics.PaymentAlerts.Inc()
	s.logger.Error("[支付告警] "+msg, fields...)
}

type PaymentConfirmation struct {
	PaymentRef    string
	BuyerID       string
	PackageID     string
	AmountMinor   int64
	PaymentMethod string
}

// HandlePaymentConfirmed 对一笔已验签的支付入账，同一个 PaymentRef 至多入账一次。
// 重复投递返回 ErrDuplicatePayment。
func (s *PaymentService) HandlePaymentConfirmed(ctx context.Context, c *PaymentConfirmation) (*model.SaleRecord, error) {
	if c.PaymentRef == "" || c.BuyerID == "" || c.PackageID == "" {
		return nil, fmt.Errorf("%w: 支付回调缺少 payment_ref/buyer_id/package_id", ErrIntegrity)
	}

	var sale *model.SaleRecord
	err := RunInTx(ctx, s.db, s.credit.retryPolicy(), func(tx *gorm.DB) error {
		exists, err := s.saleRepo.Exists(ctx, tx, c.PaymentRef)
		if err != nil {
			return fmt.Errorf("查询销售记录失败: %w", err)
		}
		if exists {
			return ErrDuplicatePayment
		}

		pkg, err := s.catalogRepo.GetPackage(ctx, tx, c.PackageID)
		if err != nil {
			if errors.Is(err, repository.ErrPackageNotFound) {
				return fmt.Errorf("%w: 积分包 %s 不存在", ErrIntegrity, c.PackageID)
			}
			return err
		}

		if expected := pkg.AmountMinor(); c.AmountMinor != expected {
			s.logger.Warn("支付金额与积分包价格不一致",
				zap.String("payment_ref", c.PaymentRef),
				zap.Int64("paid", c.AmountMinor),
				zap.Int64("expected", expected),
			)
		}

		_, err = s.credit.ApplyDelta(ctx, tx, DeltaRequest{
			UserID:    c.BuyerID,
			Delta:     pkg.Credits,
			Type:      model.CreditTxPaymentGrant,
			Reference: c.PaymentRef,
			Remark:    "购买积分包-" + pkg.ID,
		})
		if err != nil {
			return err
		}

		method := c.PaymentMethod
		if method == "" {
			method = "card"
		}
		sale = &model.SaleRecord{
			ID:             c.PaymentRef,
			BuyerID:        c.BuyerID,
			PackageID:      pkg.ID,
			AmountMinor:    c.AmountMinor,
			Currency:       s.cfg.Stripe.Currency,
			CreditsGranted: pkg.Credits,
			PaymentMethod:  method,
			Status:         model.SaleStatusCompleted,
		}
		created, err := s.saleRepo.CreateIfAbsent(ctx, tx, sale)
		if err != nil {
			return fmt.Errorf("写入销售记录失败: %w", err)
		}
		if !created {
			return ErrDuplicatePayment
		}
		return nil
	})

	switch {
	case err == nil:
		metrics.Payments.WithLabelValues("granted").Inc()
		s.logger.Info("支付入账成功",
			zap.String("payment_ref", c.PaymentRef),
			zap.String("buyer_id", c.BuyerID),
			zap.String("package_id", c.PackageID),
			zap.Int64("credits", sale.CreditsGranted),
		)
		return sale, nil
	case errors.Is(err, ErrDuplicatePayment):
		metrics.Payments.WithLabelValues("duplicate").Inc()
		s.logger.Info("重复的支付回调，已忽略", zap.String("payment_ref", c.PaymentRef))
		return nil, err
	default:
		metrics.Payments.WithLabelValues("failed").Inc()
		return nil, err
	}
}

func (s *PaymentService) GetSale(ctx context.Context, paymentRef string) (*model.SaleRecord, error) {
	return s.saleRepo.GetByID(ctx, paymentRef)
}

func (s *PaymentService) ListSales(ctx context.Context, buyerID string, page, pageSize int) ([]*model.SaleRecord, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	return s.saleRepo.List(ctx, buyerID, page, pageSize)
}
