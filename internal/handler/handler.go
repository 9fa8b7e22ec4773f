package handler

import (
	"context"
	"errors"
	"strconv"

	"rafflesystem/internal/model"
	"rafflesystem/internal/repository"
	"rafflesystem/internal/service"
	"rafflesystem/pkg/response"
	"rafflesystem/pkg/token"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Sweeper 手动触发一轮生命周期扫描
type Sweeper interface {
	RunOnce(ctx context.Context) (*service.SweepReport, error)
}

// OutboxAdmin 失败消息的人工处理
type OutboxAdmin interface {
	ListFailed(ctx context.Context, limit int) ([]*model.OutboxMessage, error)
	Requeue(ctx context.Context, id int64) error
}

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	svc     *service.Services
	sweeper Sweeper
	outbox  OutboxAdmin
	logger  *zap.Logger
}

// NewHandler 创建处理器实例
func NewHandler(svc *service.Services, sweeper Sweeper, outbox OutboxAdmin, logger *zap.Logger) *Handler {
	return &Handler{
		svc:     svc,
		sweeper: sweeper,
		outbox:  outbox,
		logger:  logger.Named("http"),
	}
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

func currentUser(c *gin.Context) *token.Identity {
	v, _ := c.Get(ctxIdentityKey)
	id, _ := v.(*token.Identity)
	return id
}

// fail 把 service 错误映射为响应：前置条件和参数错误原样提示，冲突与数据问题统一提示重试并记录原因
func (h *Handler) fail(c *gin.Context, err error) {
	fields := []zap.Field{
		zap.String("path", c.FullPath()),
		zap.Error(err),
	}
	if id := currentUser(c); id != nil {
		fields = append(fields, zap.String("user_id", id.UserID))
	}

	switch service.KindOf(err) {
	case service.KindValidation:
		response.ParamError(c, err.Error())
	case service.KindPrecondition:
		response.BusinessError(c, businessCode(err), err.Error())
	case service.KindNotFound:
		response.Error(c, response.CodeNotFound, err.Error())
	case service.KindConflict:
		h.logger.Warn("并发冲突重试耗尽", fields...)
		response.BusinessError(c, response.CodeTryAgain, "系统繁忙，请稍后重试")
	case service.KindIntegrity:
		h.logger.Error("数据完整性错误", fields...)
		response.BusinessError(c, response.CodeTryAgain, "系统繁忙，请稍后重试")
	case service.KindExternal:
		h.logger.Error("外部服务错误", fields...)
		response.BusinessError(c, response.CodeExternalError, "外部服务暂时不可用，请稍后重试")
	default:
		h.logger.Error("请求处理失败", fields...)
		response.ServerError(c, "服务器内部错误")
	}
}

func businessCode(err error) int {
	switch {
	case errors.Is(err, service.ErrInsufficientBalance):
		return response.CodeInsufficientBalance
	case errors.Is(err, service.ErrRaffleNotAvailable):
		return response.CodeRaffleNotAvailable
	case errors.Is(err, service.ErrNumberTaken):
		return response.CodeNumberTaken
	case errors.Is(err, service.ErrRewardCooldown):
		return response.CodeRewardCooldown
	case errors.Is(err, service.ErrXPThresholdNotMet):
		return response.CodeXPThresholdNotMet
	case errors.Is(err, service.ErrRewardAlreadyClaimed):
		return response.CodeRewardAlreadyClaimed
	case errors.Is(err, service.ErrAlreadyDrawn):
		return response.CodeAlreadyDrawn
	}
	return response.CodeBusinessError
}

// ============================================================
// 公开接口
// ============================================================

// ListRaffles 抽奖列表
// GET /api/v1/raffles?state=funding&category=tech&page=1&page_size=20
func (h *Handler) ListRaffles(c *gin.Context) {
	page, pageSize := pageParams(c)
	raffles, total, err := h.svc.Raffle.ListRaffles(c.Request.Context(), repository.RaffleFilter{
		State:    c.Query("state"),
		Category: c.Query("category"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Page(c, raffles, total, page, pageSize)
}

// GetRaffle 抽奖详情
// GET /api/v1/raffles/:id
func (h *Handler) GetRaffle(c *gin.Context) {
	raffle, err := h.svc.Raffle.GetRaffle(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, raffle)
}

// ListWinners 名人堂
// GET /api/v1/winners
func (h *Handler) ListWinners(c *gin.Context) {
	page, pageSize := pageParams(c)
	raffles, total, err := h.svc.Raffle.ListWinners(c.Request.Context(), page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Page(c, raffles, total, page, pageSize)
}

// ListPackages 积分包
// GET /api/v1/packages
func (h *Handler) ListPackages(c *gin.Context) {
	pkgs, err := h.svc.Raffle.ListPackages(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, pkgs)
}

// ListTiers 等级奖励
// GET /api/v1/tiers
func (h *Handler) ListTiers(c *gin.Context) {
	tiers, err := h.svc.Reward.ListTiers(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, tiers)
}

// ============================================================
// 用户接口（需要登录）
// ============================================================

// GetMe 当前用户账户
// GET /api/v1/me
func (h *Handler) GetMe(c *gin.Context) {
	account, err := h.svc.Credit.GetAccount(c.Request.Context(), currentUser(c).UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, account)
}

// ListMyTickets 我的票
// GET /api/v1/me/tickets
func (h *Handler) ListMyTickets(c *gin.Context) {
	page, pageSize := pageParams(c)
	tickets, total, err := h.svc.Ticket.ListUserTickets(c.Request.Context(), currentUser(c).UserID, page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Page(c, tickets, total, page, pageSize)
}

// ListMyTransactions 我的积分流水
// GET /api/v1/me/transactions
func (h *Handler) ListMyTransactions(c *gin.Context) {
	page, pageSize := pageParams(c)
	list, total, err := h.svc.Credit.ListTransactions(c.Request.Context(), currentUser(c).UserID, page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Page(c, list, total, page, pageSize)
}

type PurchaseTicketRequest struct {
	Mode   string `json:"mode"`
	Number *int64 `json:"number"`
}

// PurchaseTicket 购票
// POST /api/v1/raffles/:id/tickets
func (h *Handler) PurchaseTicket(c *gin.Context) {
	var req PurchaseTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	mode := req.Mode
	if mode == "" {
		mode = model.TicketModeRandom
	}
	result, err := h.svc.Ticket.PurchaseTicket(c.Request.Context(), &service.PurchaseRequest{
		UserID:       currentUser(c).UserID,
		RaffleID:     c.Param("id"),
		Mode:         mode,
		ChosenNumber: req.Number,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// ClaimDailyReward 每日奖励
// POST /api/v1/rewards/daily
func (h *Handler) ClaimDailyReward(c *gin.Context) {
	result, err := h.svc.Reward.ClaimDailyReward(c.Request.Context(), currentUser(c).UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// ClaimTierReward 等级奖励
// POST /api/v1/rewards/tiers/:id
func (h *Handler) ClaimTierReward(c *gin.Context) {
	result, err := h.svc.Reward.ClaimTierReward(c.Request.Context(), currentUser(c).UserID, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

type SpendRequest struct {
	Cost      int64  `json:"cost" binding:"required,gt=0"`
	RequestID string `json:"request_id" binding:"required"` // 幂等ID，客户端生成
}

// SpendCredits 通用积分消费
// POST /api/v1/credits/spend
func (h *Handler) SpendCredits(c *gin.Context) {
	var req SpendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.svc.Credit.Spend(c.Request.Context(), currentUser(c).UserID, req.Cost, req.RequestID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

type CreateIntentRequest struct {
	PackageID string `json:"package_id" binding:"required"`
}

// CreatePaymentIntent 创建支付意图
// POST /api/v1/payments/intents
func (h *Handler) CreatePaymentIntent(c *gin.Context) {
	var req CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	intent, err := h.svc.Payment.CreatePaymentIntent(c.Request.Context(), currentUser(c).UserID, req.PackageID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, intent)
}
