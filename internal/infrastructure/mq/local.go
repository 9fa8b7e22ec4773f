package mq

import "context"

// localPublisher Kafka 未启用时的进程内投递：直接把消息交给消费端处理
type localPublisher struct {
	handler Handler
}

func NewLocalPublisher(handler Handler) Publisher {
	return &localPublisher{handler: handler}
}

func (p *localPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	return p.handler(ctx, []byte(key), value)
}

func (p *localPublisher) Close() error {
	return nil
}
