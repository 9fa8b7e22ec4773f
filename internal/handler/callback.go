package handler

import (
	"errors"
	"io"
	"net/http"

	"rafflesystem/internal/infrastructure/payment"
	"rafflesystem/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBody = 64 << 10

var errBodyTooLarge = errors.New("请求体过大")

// readBody 多读一个字节判断是否超限，超限直接拒绝而不是截断后验签
func readBody(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxWebhookBody+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxWebhookBody {
		return nil, errBodyTooLarge
	}
	return body, nil
}

type UserCreatedRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Email  string `json:"email"`
}

// UserCreated 身份系统新用户回调，开户并发放初始积分；重复回调不重复发放
// POST /callbacks/identity/user-created
func (h *Handler) UserCreated(c *gin.Context) {
	var req UserCreatedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	account, created, err := h.svc.Credit.CreateAccount(c.Request.Context(), req.UserID, req.Email)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"user_id": account.UserID,
		"balance": account.Balance,
		"created": created,
	})
}

// StripeWebhook 支付回调
// POST /webhooks/stripe
//
// 验签失败返回 400；临时性错误返回 500 让渠道重投；其余一律 200。
func (h *Handler) StripeWebhook(c *gin.Context) {
	payload, err := readBody(c.Request.Body)
	if errors.Is(err, errBodyTooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "请求体过大"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "读取请求体失败"})
		return
	}

	err = h.svc.Payment.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, payment.ErrInvalidSignature):
		c.JSON(http.StatusBadRequest, gin.H{"error": "签名无效"})
	default:
		h.logger.Error("webhook 处理失败", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "处理失败，请重试"})
	}
}
