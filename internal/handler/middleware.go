package handler

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rafflesystem/internal/infrastructure/metrics"
	"rafflesystem/internal/model"
	"rafflesystem/internal/service"
	"rafflesystem/pkg/crypto"
	"rafflesystem/pkg/response"
	"rafflesystem/pkg/token"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	ctxIdentityKey  = "identity"
	signatureHeader = "X-Signature"
)

// LoggerMiddleware 日志中间件
func LoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("HTTP",
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
		)
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("PANIC", zap.Any("error", err), zap.String("path", c.Request.URL.Path), zap.Stack("stack"))
				response.Abort(c, http.StatusInternalServerError, response.CodeServerError, "服务器内部错误")
			}
		}()
		c.Next()
	}
}

// MetricsMiddleware 按路由模板统计请求数与耗时
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// AuthMiddleware 校验 Bearer 身份令牌
func AuthMiddleware(engine token.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			response.Abort(c, http.StatusUnauthorized, response.CodeUnauthorized, "请先登录")
			return
		}

		var id token.Identity
		if err := engine.Verify(raw, &id); err != nil || id.UserID == "" {
			response.Abort(c, http.StatusUnauthorized, response.CodeUnauthorized, "登录已失效")
			return
		}

		c.Set(ctxIdentityKey, &id)
		c.Next()
	}
}

// AdminMiddleware 角色以账户表为准，不信任令牌里的声明
func AdminMiddleware(credit *service.CreditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := currentUser(c)
		if id == nil {
			response.Abort(c, http.StatusUnauthorized, response.CodeUnauthorized, "请先登录")
			return
		}

		account, err := credit.GetAccount(c.Request.Context(), id.UserID)
		if err != nil || account.Role != model.RoleAdmin {
			response.Abort(c, http.StatusForbidden, response.CodeForbidden, "无权限")
			return
		}
		c.Next()
	}
}

// SignatureMiddleware 校验回调请求体的 HMAC-SHA256 签名（十六进制，放在 X-Signature）
func SignatureMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := readBody(c.Request.Body)
		if errors.Is(err, errBodyTooLarge) {
			response.Abort(c, http.StatusRequestEntityTooLarge, response.CodeParamError, "请求体过大")
			return
		}
		if err != nil {
			response.Abort(c, http.StatusBadRequest, response.CodeParamError, "读取请求体失败")
			return
		}

		if secret == "" || !crypto.VerifyHMACSHA256(body, []byte(secret), c.GetHeader(signatureHeader)) {
			response.Abort(c, http.StatusUnauthorized, response.CodeUnauthorized, "签名无效")
			return
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}
