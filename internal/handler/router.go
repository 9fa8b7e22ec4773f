package handler

import (
	"net/http"

	"rafflesystem/internal/config"
	"rafflesystem/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// SetupRouter 配置路由，返回带 CORS 的 http.Handler
func SetupRouter(h *Handler, engine token.Engine, cfg *config.Config, logger *zap.Logger) http.Handler {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggerMiddleware(logger.Named("access")))
	r.Use(MetricsMiddleware())

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		// 公开接口
		api.GET("/raffles", h.ListRaffles)
		api.GET("/raffles/:id", h.GetRaffle)
		api.GET("/winners", h.ListWinners)
		api.GET("/packages", h.ListPackages)
		api.GET("/tiers", h.ListTiers)

		// 用户接口
		user := api.Group("", AuthMiddleware(engine))
		{
			user.GET("/me", h.GetMe)
			user.GET("/me/tickets", h.ListMyTickets)
			user.GET("/me/transactions", h.ListMyTransactions)
			user.POST("/raffles/:id/tickets", h.PurchaseTicket)
			user.POST("/rewards/daily", h.ClaimDailyReward)
			user.POST("/rewards/tiers/:id", h.ClaimTierReward)
			user.POST("/credits/spend", h.SpendCredits)
			user.POST("/payments/intents", h.CreatePaymentIntent)
		}

		// 管理接口
		admin := api.Group("/admin", AuthMiddleware(engine), AdminMiddleware(h.svc.Credit))
		{
			admin.GET("/dashboard", h.Dashboard)
			admin.POST("/raffles", h.CreateRaffle)
			admin.PUT("/raffles/:id", h.UpdateRaffle)
			admin.POST("/raffles/:id/image", h.UploadRaffleImage)
			admin.POST("/raffles/:id/draw", h.TriggerDraw)
			admin.POST("/sweep", h.TriggerSweep)
			admin.POST("/packages", h.CreatePackage)
			admin.POST("/tiers", h.CreateTier)
			admin.POST("/refunds", h.RefundCredits)
			admin.POST("/grants", h.GrantCredits)
			admin.GET("/raffles/:id/audit", h.AuditRaffle)
			admin.GET("/raffles/:id/tickets", h.ListRaffleTickets)
			admin.GET("/sales", h.ListSales)
			admin.GET("/sales/:id", h.GetSale)
			admin.GET("/users", h.ListUsers)
			admin.PUT("/users/:id/role", h.SetUserRole)
			admin.GET("/users/:id/audit", h.AuditAccount)
			admin.GET("/outbox/failed", h.ListFailedMessages)
			admin.POST("/outbox/:id/requeue", h.RequeueMessage)
		}
	}

	// 外部回调
	r.POST("/callbacks/identity/user-created", SignatureMiddleware(cfg.Auth.CallbackSecret), h.UserCreated)
	r.POST("/webhooks/stripe", h.StripeWebhook)

	return cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		AllowCredentials: true,
	}).Handler(r)
}
