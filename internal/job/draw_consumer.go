package job

import (
	"context"
	"encoding/json"
	"fmt"

	"rafflesystem/internal/model"
	"rafflesystem/internal/service"

	"go.uber.org/zap"
)

// DrawConsumer 消费 raffle.state_changed，进入 drawing 时开奖
type DrawConsumer struct {
	winner *service.WinnerService
	logger *zap.Logger
}

func NewDrawConsumer(winner *service.WinnerService, logger *zap.Logger) *DrawConsumer {
	return &DrawConsumer{
		winner: winner,
		logger: logger.Named("draw_consumer"),
	}
}

// Handle 满足 mq.Handler；重复投递由 WinnerService 的守卫吸收
func (c *DrawConsumer) Handle(ctx context.Context, key, value []byte) error {
	var event model.RaffleStateEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return fmt.Errorf("解析状态事件失败: %w", err)
	}

	if !service.ShouldDraw(&event) {
		c.logger.Debug("忽略状态事件",
			zap.String("raffle_id", event.RaffleID),
			zap.String("from", event.From),
			zap.String("to", event.To),
		)
		return nil
	}

	return c.winner.HandleStateEvent(ctx, &event)
}
