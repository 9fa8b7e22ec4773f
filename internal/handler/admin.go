package handler

import (
	"errors"
	"io"
	"strconv"

	"rafflesystem/internal/repository"
	"rafflesystem/internal/service"
	"rafflesystem/pkg/response"

	"github.com/gin-gonic/gin"
)

// ============================================================
// 管理接口（需要 admin 角色）
// ============================================================

// CreateRaffle 创建抽奖
// POST /api/v1/admin/raffles
func (h *Handler) CreateRaffle(c *gin.Context) {
	var req service.CreateRaffleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	raffle, err := h.svc.Raffle.CreateRaffle(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, raffle)
}

// UpdateRaffle 编辑抽奖信息和票价
// PUT /api/v1/admin/raffles/:id
func (h *Handler) UpdateRaffle(c *gin.Context) {
	var req service.UpdateRaffleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	raffle, err := h.svc.Raffle.UpdateRaffle(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, raffle)
}

// UploadRaffleImage 上传抽奖图片（multipart 字段 image）
// POST /api/v1/admin/raffles/:id/image
func (h *Handler) UploadRaffleImage(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		response.ParamError(c, "缺少图片文件")
		return
	}

	f, err := file.Open()
	if err != nil {
		response.ParamError(c, "读取图片失败")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, 5<<20+1))
	if err != nil {
		response.ParamError(c, "读取图片失败")
		return
	}

	url, err := h.svc.Raffle.UploadImage(c.Request.Context(), c.Param("id"), file.Filename,
		file.Header.Get("Content-Type"), data)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"image_url": url})
}

// TriggerDraw 手动开奖（补偿任务之外的人工兜底）
// POST /api/v1/admin/raffles/:id/draw
func (h *Handler) TriggerDraw(c *gin.Context) {
	result, err := h.svc.Winner.Draw(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// TriggerSweep 手动执行一轮生命周期扫描
// POST /api/v1/admin/sweep
func (h *Handler) TriggerSweep(c *gin.Context) {
	report, err := h.sweeper.RunOnce(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if report == nil {
		response.BusinessError(c, response.CodeTryAgain, "其他实例正在扫描")
		return
	}
	response.Success(c, report)
}

// CreatePackage 创建积分包
// POST /api/v1/admin/packages
func (h *Handler) CreatePackage(c *gin.Context) {
	var req service.CreatePackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	pkg, err := h.svc.Raffle.CreatePackage(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, pkg)
}

// CreateTier 创建奖励等级
// POST /api/v1/admin/tiers
func (h *Handler) CreateTier(c *gin.Context) {
	var req service.CreateTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	tier, err := h.svc.Raffle.CreateTier(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, tier)
}

type AdjustCreditsRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	Amount    int64  `json:"amount" binding:"required,gt=0"`
	Reference string `json:"reference" binding:"required"` // 幂等键
	Reason    string `json:"reason"`
}

// RefundCredits 退回积分，同一 reference 只退一次
// POST /api/v1/admin/refunds
func (h *Handler) RefundCredits(c *gin.Context) {
	var req AdjustCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.svc.Credit.Refund(c.Request.Context(), req.UserID, req.Amount, req.Reference, req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// GrantCredits 运营发放积分
// POST /api/v1/admin/grants
func (h *Handler) GrantCredits(c *gin.Context) {
	var req AdjustCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.svc.Credit.Grant(c.Request.Context(), req.UserID, req.Amount, req.Reference, req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// ListSales 销售记录
// GET /api/v1/admin/sales?buyer_id=xxx
func (h *Handler) ListSales(c *gin.Context) {
	page, pageSize := pageParams(c)
	sales, total, err := h.svc.Payment.ListSales(c.Request.Context(), c.Query("buyer_id"), page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Page(c, sales, total, page, pageSize)
}

// ListUsers 用户列表
// GET /api/v1/admin/users?role=admin
func (h *Handler) ListUsers(c *gin.Context) {
	page, pageSize := pageParams(c)
	users, total, err := h.svc.Raffle.ListUsers(c.Request.Context(), c.Query("role"), page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Page(c, users, total, page, pageSize)
}

// Dashboard 后台首页统计
// GET /api/v1/admin/dashboard
func (h *Handler) Dashboard(c *gin.Context) {
	dashboard, err := h.svc.Raffle.Dashboard(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, dashboard)
}

// SetUserRole 设置用户角色
// PUT /api/v1/admin/users/:id/role
func (h *Handler) SetUserRole(c *gin.Context) {
	var req struct {
		Role string `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.svc.Raffle.SetUserRole(c.Request.Context(), c.Param("id"), req.Role); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"user_id": c.Param("id"), "role": req.Role})
}

// GetSale 按支付单号查询销售记录
// GET /api/v1/admin/sales/:id
func (h *Handler) GetSale(c *gin.Context) {
	sale, err := h.svc.Payment.GetSale(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, sale)
}

// AuditAccount 账户余额对账
// GET /api/v1/admin/users/:id/audit
func (h *Handler) AuditAccount(c *gin.Context) {
	audit, err := h.svc.Credit.AuditAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, audit)
}

// AuditRaffle 募集进度对账
// GET /api/v1/admin/raffles/:id/audit
func (h *Handler) AuditRaffle(c *gin.Context) {
	audit, err := h.svc.Raffle.AuditRaffle(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, audit)
}

// ListRaffleTickets 某个抽奖的全部票
// GET /api/v1/admin/raffles/:id/tickets
func (h *Handler) ListRaffleTickets(c *gin.Context) {
	tickets, err := h.svc.Ticket.ListRaffleTickets(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, tickets)
}

// ListFailedMessages 发送失败的事件
// GET /api/v1/admin/outbox/failed
func (h *Handler) ListFailedMessages(c *gin.Context) {
	_, pageSize := pageParams(c)
	messages, err := h.outbox.ListFailed(c.Request.Context(), pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, messages)
}

// RequeueMessage 失败事件重新入队
// POST /api/v1/admin/outbox/:id/requeue
func (h *Handler) RequeueMessage(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "消息 ID 无效")
		return
	}

	if err := h.outbox.Requeue(c.Request.Context(), id); err != nil {
		if errors.Is(err, repository.ErrOutboxNotFailed) {
			response.Error(c, response.CodeNotFound, err.Error())
			return
		}
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"id": id})
}
