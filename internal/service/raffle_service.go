package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rafflesystem/internal/config"
	"rafflesystem/internal/infrastructure/storage"
	"rafflesystem/internal/model"
	"rafflesystem/internal/repository"
	"rafflesystem/pkg/idgen"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxImageSize = 5 << 20

// RaffleService 抽奖与商品目录的管理端操作
type RaffleService struct {
	db          *gorm.DB
	cfg         *config.Config
	logger      *zap.Logger
	storage     storage.Storage
	raffleRepo  *repository.RaffleRepository
	catalogRepo *repository.CatalogRepository
	ticketRepo  *repository.TicketRepository
	userRepo    *repository.UserRepository
	saleRepo    *repository.SaleRepository
}

func NewRaffleService(db *gorm.DB, cfg *config.Config, logger *zap.Logger, store storage.Storage) *RaffleService {
	return &RaffleService{
		db:          db,
		cfg:         cfg,
		logger:      logger,
		storage:     store,
		raffleRepo:  repository.NewRaffleRepository(db),
		catalogRepo: repository.NewCatalogRepository(db),
		ticketRepo:  repository.NewTicketRepository(db),
		userRepo:    repository.NewUserRepository(db),
		saleRepo:    repository.NewSaleRepository(db),
	}
}

type CreateRaffleRequest struct {
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	Category          string          `json:"category"`
	ValueTier         string          `json:"value_tier"`
	Featured          bool            `json:"featured"`
	PrizeValue        decimal.Decimal `json:"prize_value"`
	FundingTarget     int64           `json:"funding_target"`
	TicketPrice       int64           `json:"ticket_price"`
	ChosenTicketPrice int64           `json:"chosen_ticket_price"`
	SaleCutoffAt      *time.Time      `json:"sale_cutoff_at"`
}

func (s *RaffleService) CreateRaffle(ctx context.Context, req *CreateRaffleRequest) (*model.Raffle, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, invalidArgument("名称不能为空")
	}
	if req.FundingTarget <= 0 {
		return nil, invalidArgument("募集目标必须大于0")
	}
	if req.TicketPrice <= 0 {
		return nil, invalidArgument("票价必须大于0")
	}
	if req.ChosenTicketPrice < 0 {
		return nil, invalidArgument("选号票价不能为负")
	}
	if req.PrizeValue.IsNegative() {
		return nil, invalidArgument("奖品价值不能为负")
	}
	if s.cfg.Business.UniqueTicketNumbers && req.FundingTarget > s.cfg.Business.TicketNumberSpace {
		return nil, invalidArgument("募集目标不能超过号码空间 %d", s.cfg.Business.TicketNumberSpace)
	}

	raffle := &model.Raffle{
		ID:                idgen.GenerateRaffleID(),
		Name:              strings.TrimSpace(req.Name),
		Description:       req.Description,
		Category:          req.Category,
		ValueTier:         req.ValueTier,
		Featured:          req.Featured,
		PrizeValue:        req.PrizeValue,
		FundingTarget:     req.FundingTarget,
		TicketPrice:       req.TicketPrice,
		ChosenTicketPrice: req.ChosenTicketPrice,
		State:             model.RaffleStateFunding,
	}
	if req.SaleCutoffAt != nil {
		cutoff := req.SaleCutoffAt.UTC()
		raffle.SaleCutoffAt = &cutoff
	}

	if err := s.raffleRepo.Create(ctx, nil, raffle); err != nil {
		return nil, fmt.Errorf("创建抽奖失败: %w", err)
	}

	s.logger.Info("创建抽奖",
		zap.String("raffle_id", raffle.ID),
		zap.String("name", raffle.Name),
		zap.Int64("funding_target", raffle.FundingTarget),
	)
	return raffle, nil
}

// UpdateRaffleRequest 只包含展示信息和票价，nil 表示不修改
type UpdateRaffleRequest struct {
	Name              *string          `json:"name"`
	Description       *string          `json:"description"`
	Category          *string          `json:"category"`
	ValueTier         *string          `json:"value_tier"`
	Featured          *bool            `json:"featured"`
	PrizeValue        *decimal.Decimal `json:"prize_value"`
	TicketPrice       *int64           `json:"ticket_price"`
	ChosenTicketPrice *int64           `json:"chosen_ticket_price"`
	SaleCutoffAt      *time.Time       `json:"sale_cutoff_at"`
}

func (req *UpdateRaffleRequest) updates() (map[string]interface{}, error) {
	updates := map[string]interface{}{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, invalidArgument("名称不能为空")
		}
		updates["name"] = name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Category != nil {
		updates["category"] = *req.Category
	}
	if req.ValueTier != nil {
		updates["value_tier"] = *req.ValueTier
	}
	if req.Featured != nil {
		updates["featured"] = *req.Featured
	}
	if req.PrizeValue != nil {
		if req.PrizeValue.IsNegative() {
			return nil, invalidArgument("奖品价值不能为负")
		}
		updates["prize_value"] = *req.PrizeValue
	}
	if req.TicketPrice != nil {
		if *req.TicketPrice <= 0 {
			return nil, invalidArgument("票价必须大于0")
		}
		updates["ticket_price"] = *req.TicketPrice
	}
	if req.ChosenTicketPrice != nil {
		if *req.ChosenTicketPrice < 0 {
			return nil, invalidArgument("选号票价不能为负")
		}
		updates["chosen_ticket_price"] = *req.ChosenTicketPrice
	}
	if req.SaleCutoffAt != nil {
		updates["sale_cutoff_at"] = req.SaleCutoffAt.UTC()
	}
	if len(updates) == 0 {
		return nil, invalidArgument("没有需要修改的字段")
	}
	return updates, nil
}

// UpdateRaffle 编辑抽奖信息；募集进度和状态不受影响
func (s *RaffleService) UpdateRaffle(ctx context.Context, raffleID string, req *UpdateRaffleRequest) (*model.Raffle, error) {
	updates, err := req.updates()
	if err != nil {
		return nil, err
	}

	if err := s.raffleRepo.UpdateMetadata(ctx, raffleID, updates); err != nil {
		if errors.Is(err, repository.ErrRaffleNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("更新抽奖失败: %w", err)
	}

	s.logger.Info("编辑抽奖", zap.String("raffle_id", raffleID), zap.Int("fields", len(updates)))
	return s.raffleRepo.GetByID(ctx, nil, raffleID)
}

// UploadImage 图片上传到对象存储，抽奖只保存返回的 URL
func (s *RaffleService) UploadImage(ctx context.Context, raffleID, fileName, mime string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", invalidArgument("图片不能为空")
	}
	if len(data) > maxImageSize {
		return "", invalidArgument("图片不能超过 5MB")
	}
	if !strings.HasPrefix(mime, "image/") {
		return "", invalidArgument("只支持图片文件")
	}

	if _, err := s.raffleRepo.GetByID(ctx, nil, raffleID); err != nil {
		return "", err
	}

	resp, err := s.storage.Upload(ctx, &storage.UploadObject{
		Prefix:   "raffles/" + raffleID,
		FileName: fileName,
		Mime:     mime,
		Data:     data,
	})
	if err != nil {
		s.logger.Error("上传抽奖图片失败", zap.String("raffle_id", raffleID), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrExternal, err)
	}

	if err := s.raffleRepo.UpdateImage(ctx, raffleID, resp.URL); err != nil {
		return "", err
	}
	return resp.URL, nil
}

func (s *RaffleService) GetRaffle(ctx context.Context, raffleID string) (*model.Raffle, error) {
	return s.raffleRepo.GetByID(ctx, nil, raffleID)
}

func (s *RaffleService) ListRaffles(ctx context.Context, filter repository.RaffleFilter) ([]*model.Raffle, int64, error) {
	filter.Page, filter.PageSize = normalizePage(filter.Page, filter.PageSize)
	return s.raffleRepo.List(ctx, filter)
}

// RaffleAudit 募集进度与实际票数的对账结果
type RaffleAudit struct {
	RaffleID        string `json:"raffle_id"`
	State           string `json:"state"`
	FundingProgress int64  `json:"funding_progress"`
	TicketCount     int64  `json:"ticket_count"`
	Consistent      bool   `json:"consistent"`
}

// AuditRaffle 每张票对应一次进度 +1
func (s *RaffleService) AuditRaffle(ctx context.Context, raffleID string) (*RaffleAudit, error) {
	raffle, err := s.raffleRepo.GetByID(ctx, nil, raffleID)
	if err != nil {
		return nil, err
	}
	count, err := s.ticketRepo.CountByRaffle(ctx, raffleID)
	if err != nil {
		return nil, fmt.Errorf("统计票数失败: %w", err)
	}

	audit := &RaffleAudit{
		RaffleID:        raffle.ID,
		State:           raffle.State,
		FundingProgress: raffle.FundingProgress,
		TicketCount:     count,
		Consistent:      raffle.FundingProgress == count,
	}
	if !audit.Consistent {
		s.logger.Error("募集进度与票数不一致",
			zap.String("raffle_id", raffle.ID),
			zap.Int64("funding_progress", raffle.FundingProgress),
			zap.Int64("ticket_count", count),
		)
	}
	return audit, nil
}

// ListWinners 已开奖的抽奖，按开奖时间倒序
func (s *RaffleService) ListWinners(ctx context.Context, page, pageSize int) ([]*model.Raffle, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	return s.raffleRepo.List(ctx, repository.RaffleFilter{
		State:    model.RaffleStateFinalized,
		Page:     page,
		PageSize: pageSize,
	})
}

type CreatePackageRequest struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Credits  int64           `json:"credits"`
	PriceUSD decimal.Decimal `json:"price_usd"`
}

func (s *RaffleService) CreatePackage(ctx context.Context, req *CreatePackageRequest) (*model.CreditPackage, error) {
	if strings.TrimSpace(req.ID) == "" || strings.TrimSpace(req.Name) == "" {
		return nil, invalidArgument("积分包 ID 和名称不能为空")
	}
	if req.Credits <= 0 {
		return nil, invalidArgument("积分数量必须大于0")
	}
	if !req.PriceUSD.IsPositive() {
		return nil, invalidArgument("价格必须大于0")
	}

	pkg := &model.CreditPackage{
		ID:       req.ID,
		Name:     req.Name,
		Credits:  req.Credits,
		PriceUSD: req.PriceUSD.Round(2),
	}
	if err := s.catalogRepo.CreatePackage(ctx, pkg); err != nil {
		return nil, fmt.Errorf("创建积分包失败: %w", err)
	}
	return pkg, nil
}

func (s *RaffleService) ListPackages(ctx context.Context) ([]*model.CreditPackage, error) {
	return s.catalogRepo.ListPackages(ctx)
}

type CreateTierRequest struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Level         int    `json:"level"`
	RequiredXP    int64  `json:"required_xp"`
	RewardCredits int64  `json:"reward_credits"`
}

func (s *RaffleService) CreateTier(ctx context.Context, req *CreateTierRequest) (*model.RewardTier, error) {
	if strings.TrimSpace(req.ID) == "" || strings.TrimSpace(req.Name) == "" {
		return nil, invalidArgument("等级 ID 和名称不能为空")
	}
	if req.RequiredXP < 0 || req.RewardCredits <= 0 {
		return nil, invalidArgument("经验要求不能为负，奖励积分必须大于0")
	}

	tier := &model.RewardTier{
		ID:            req.ID,
		Name:          req.Name,
		Level:         req.Level,
		RequiredXP:    req.RequiredXP,
		RewardCredits: req.RewardCredits,
	}
	if err := s.catalogRepo.CreateTier(ctx, tier); err != nil {
		return nil, fmt.Errorf("创建奖励等级失败: %w", err)
	}
	return tier, nil
}

// SetUserRole 管理员授权
func (s *RaffleService) SetUserRole(ctx context.Context, userID, role string) error {
	if role != model.RoleUser && role != model.RoleAdmin {
		return invalidArgument("未知角色: %s", role)
	}
	return s.userRepo.SetRole(ctx, userID, role)
}

func (s *RaffleService) ListUsers(ctx context.Context, role string, page, pageSize int) ([]*model.UserAccount, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	return s.userRepo.List(ctx, role, page, pageSize)
}

const dashboardRecentSales = 5

// Dashboard 管理后台首页统计
type Dashboard struct {
	TotalUsers    int64               `json:"total_users"`
	ActiveRaffles int64               `json:"active_raffles"`
	RevenueMinor  int64               `json:"revenue_minor"`
	RecentSales   []*model.SaleRecord `json:"recent_sales"`
}

func (s *RaffleService) Dashboard(ctx context.Context) (*Dashboard, error) {
	users, err := s.userRepo.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("统计用户失败: %w", err)
	}
	active, err := s.raffleRepo.CountActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("统计抽奖失败: %w", err)
	}
	revenue, err := s.saleRepo.SumAmount(ctx)
	if err != nil {
		return nil, fmt.Errorf("统计收入失败: %w", err)
	}
	recent, _, err := s.saleRepo.List(ctx, "", 1, dashboardRecentSales)
	if err != nil {
		return nil, fmt.Errorf("查询最近销售失败: %w", err)
	}

	return &Dashboard{
		TotalUsers:    users,
		ActiveRaffles: active,
		RevenueMinor:  revenue,
		RecentSales:   recent,
	}, nil
}
