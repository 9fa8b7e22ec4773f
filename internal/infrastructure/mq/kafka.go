package mq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rafflesystem/internal/config"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Publisher outbox 中继使用的发送端
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
	Close() error
}

// Handler 处理一条消息；返回错误只记录日志，消息仍会提交位点
type Handler func(ctx context.Context, key, value []byte) error

type kafkaPublisher struct {
	producer sarama.SyncProducer
}

// NewKafkaPublisher 创建 Kafka 同步生产者
func NewKafkaPublisher(cfg *config.KafkaConfig) (Publisher, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.ClientID = "raffle-outbox"
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll // 等待所有副本确认
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true
	kafkaConfig.Producer.Partitioner = sarama.NewHashPartitioner // 同一 key 同一分区

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("创建 Kafka 生产者失败: %w", err)
	}
	return &kafkaPublisher{producer: producer}, nil
}

func (p *kafkaPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("发送 Kafka 消息失败: %w", err)
	}
	return nil
}

func (p *kafkaPublisher) Close() error {
	return p.producer.Close()
}

// Subscriber Kafka 消费者组，投递语义为至少一次
type Subscriber struct {
	client  sarama.ConsumerGroup
	topics  []string
	handler Handler
	logger  *zap.Logger
	// newBackOff Consume 连续出错时的等待策略
	newBackOff func() backoff.BackOff
}

func NewSubscriber(cfg *config.KafkaConfig, topics []string, handler Handler, logger *zap.Logger) (*Subscriber, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	kafkaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest

	client, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("创建 Kafka 消费者组失败: %w", err)
	}

	return &Subscriber{
		client:     client,
		topics:     topics,
		handler:    handler,
		logger:     logger,
		newBackOff: consumeBackOff,
	}, nil
}

func consumeBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Run 阻塞消费直到 ctx 取消；rebalance 后需要重新调用 Consume。
// Broker 不可用时按退避间隔重试。
func (s *Subscriber) Run(ctx context.Context) error {
	h := &groupHandler{handler: s.handler, logger: s.logger}
	b := s.newBackOff()
	for {
		err := s.client.Consume(ctx, s.topics, h)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			b.Reset()
			continue
		}
		if errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return nil
		}

		wait := b.NextBackOff()
		s.logger.Error("Kafka 消费出错，稍后重试", zap.Duration("retry_in", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (s *Subscriber) Close() error {
	return s.client.Close()
}

type groupHandler struct {
	handler Handler
	logger  *zap.Logger
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.handler(session.Context(), message.Key, message.Value); err != nil {
				h.logger.Error("处理 Kafka 消息失败",
					zap.String("topic", message.Topic),
					zap.Int32("partition", message.Partition),
					zap.Int64("offset", message.Offset),
					zap.ByteString("key", message.Key),
					zap.Error(err),
				)
			}
			if session.Context().Err() != nil {
				// 会话已结束（rebalance/停机），不提交位点，交给新的消费者重投
				return nil
			}
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}
