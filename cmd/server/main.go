package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rafflesystem/internal/config"
	"rafflesystem/internal/handler"
	"rafflesystem/internal/infrastructure/cache"
	"rafflesystem/internal/infrastructure/database"
	"rafflesystem/internal/infrastructure/metrics"
	"rafflesystem/internal/infrastructure/mq"
	"rafflesystem/internal/infrastructure/payment"
	"rafflesystem/internal/infrastructure/storage"
	"rafflesystem/internal/job"
	"rafflesystem/internal/service"
	"rafflesystem/pkg/idgen"
	"rafflesystem/pkg/logger"
	"rafflesystem/pkg/token"

	"github.com/go-redis/redis/v8"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// app 启动时按命令装配的依赖
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *gorm.DB
	redis  *redis.Client
	svc    *service.Services
}

func main() {
	cliApp := &cli.App{
		Name:  "raffle",
		Usage: "积分抽奖服务",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config/config.yaml",
				Usage:   "配置文件路径",
				EnvVars: []string{"RAFFLE_CONFIG"},
			},
			&cli.Int64Flag{
				Name:  "node",
				Value: 1,
				Usage: "雪花算法节点号（0-1023），多实例部署时必须不同",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "启动 HTTP 服务和后台任务",
				Action: runServe,
			},
			{
				Name:   "migrate",
				Usage:  "执行数据库迁移",
				Action: runMigrate,
			},
			{
				Name:   "sweep",
				Usage:  "手动执行一轮生命周期扫描",
				Action: runSweep,
			},
			{
				Name:      "draw",
				Usage:     "手动对处于 drawing 状态的抽奖开奖",
				ArgsUsage: "<raffle-id>",
				Action:    runDraw,
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup(c *cli.Context) (*app, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	if err := idgen.Init(c.Int64("node")); err != nil {
		return nil, err
	}

	level := gormlogger.Warn
	if cfg.Log.Development {
		level = gormlogger.Info
	}
	db, err := database.Open(&cfg.Database, level)
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, logger: log, db: db}, nil
}

// wireServices 构造 redis、支付、存储和业务服务
func (a *app) wireServices(ctx context.Context) error {
	redisClient, err := cache.NewRedis(ctx, &a.cfg.Redis)
	if err != nil {
		return err
	}
	a.redis = redisClient

	store, err := storage.NewS3Storage(a.cfg.Storage)
	if err != nil {
		return err
	}

	a.svc = service.NewServices(a.db, a.redis, a.cfg, a.logger, payment.NewStripeProvider(a.cfg.Stripe), store)
	return nil
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.logger.Sync()
}

func runMigrate(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.close()

	if err := database.Migrate(a.db); err != nil {
		return err
	}
	a.logger.Info("数据库迁移完成")
	return nil
}

func runSweep(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.wireServices(c.Context); err != nil {
		return err
	}

	sweepJob := job.NewLifecycleSweepJob(a.svc.Lifecycle, a.redis, a.cfg, a.logger)
	report, err := sweepJob.RunOnce(c.Context)
	if err != nil {
		return err
	}
	if report == nil {
		a.logger.Info("其他实例正在扫描，本次跳过")
		return nil
	}

	a.logger.Info("扫描完成",
		zap.Strings("to_countdown", report.ToCountdown),
		zap.Strings("to_drawing", report.ToDrawing),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return nil
}

func runDraw(c *cli.Context) error {
	raffleID := c.Args().First()
	if raffleID == "" {
		return cli.Exit("缺少 raffle-id 参数", 2)
	}

	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.wireServices(c.Context); err != nil {
		return err
	}

	result, err := a.svc.Winner.Draw(c.Context, raffleID)
	if err != nil {
		return err
	}

	a.logger.Info("开奖完成",
		zap.String("raffle_id", result.RaffleID),
		zap.Bool("no_winner", result.NoWinner),
		zap.String("winner", result.WinnerMaskedEmail),
		zap.Int64("winning_number", result.WinningNumber),
		zap.Int("ticket_count", result.TicketCount),
	)
	return nil
}

func runServe(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.close()

	if err := database.Migrate(a.db); err != nil {
		return err
	}

	// 创建上下文（用于优雅关闭）
	ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.wireServices(ctx); err != nil {
		return err
	}

	consumer := job.NewDrawConsumer(a.svc.Winner, a.logger)

	// Kafka 关闭时，outbox 消息直接在进程内投递给开奖消费者
	var publisher mq.Publisher
	var subscriber *mq.Subscriber
	if a.cfg.Kafka.Enabled {
		publisher, err = mq.NewKafkaPublisher(&a.cfg.Kafka)
		if err != nil {
			return err
		}
		subscriber, err = mq.NewSubscriber(&a.cfg.Kafka, []string{a.cfg.Kafka.Topic.RaffleState}, consumer.Handle, a.logger)
		if err != nil {
			_ = publisher.Close()
			return err
		}
	} else {
		publisher = mq.NewLocalPublisher(consumer.Handle)
	}
	defer publisher.Close()

	// 启动后台任务
	outboxSender := job.NewOutboxSender(a.db, publisher, a.cfg, a.logger)
	go outboxSender.Start(ctx)

	sweepJob := job.NewLifecycleSweepJob(a.svc.Lifecycle, a.redis, a.cfg, a.logger)
	go sweepJob.Start(ctx)

	compensateJob := job.NewDrawCompensateJob(a.db, a.svc.Winner, a.cfg, a.logger)
	go compensateJob.Start(ctx)

	if subscriber != nil {
		defer subscriber.Close()
		go func() {
			if err := subscriber.Run(ctx); err != nil {
				a.logger.Error("开奖消费者退出", zap.Error(err))
			}
		}()
	}

	go reportPoolStats(ctx, a.db)

	h := handler.NewHandler(a.svc, sweepJob, outboxSender, a.logger)
	engine := token.NewEngine(a.cfg.Auth.TokenSecret)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           handler.SetupRouter(h, engine, a.cfg, a.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("服务启动", zap.Int("port", a.cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// 等待中断信号
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("服务启动失败: %w", err)
	}

	a.logger.Info("正在关闭服务...")

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("服务关闭异常", zap.Error(err))
	}

	a.logger.Info("服务已关闭")
	return nil
}

// reportPoolStats 每 15 秒上报一次连接池状态
func reportPoolStats(ctx context.Context, db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.RecordDBPoolStats(sqlDB.Stats())
		}
	}
}
