// Package kafka 提供了向 Kafka 发布会话事件的功能。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"chatfront/internal/config"
	"chatfront/pkg/events"
	"chatfront/pkg/log"

	"github.com/segmentio/kafka-go"
)

// Publisher 发布会话事件。未启用 Kafka 时使用 NopPublisher。
type Publisher interface {
	Publish(ctx context.Context, event events.ConversationEvent) error
	Close() error
}

// messageWriter 是 kafka.Writer 中 Publisher 需要的部分，便于测试替换。
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaPublisher struct {
	writer messageWriter
}

// NewPublisher 根据配置创建事件发布器。
func NewPublisher(cfg config.KafkaConfig) Publisher {
	if !cfg.Enabled {
		log.Info("Kafka 未启用，会话事件不会被发布")
		return NopPublisher{}
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(cfg.Brokers, ",")...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           cfg.WriteTimeout,
		MaxAttempts:            cfg.MaxAttempts,
		AllowAutoTopicCreation: true,
	}
	log.Infof("Kafka 生产者初始化成功, topic: %s", cfg.Topic)
	return &kafkaPublisher{writer: writer}
}

// Publish 以会话 ID 作为 key 写入事件，保证同一会话的事件有序。
func (p *kafkaPublisher) Publish(ctx context.Context, event events.ConversationEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation event: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.ConversationID),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("failed to write conversation event: %w", err)
	}
	return nil
}

func (p *kafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher 丢弃所有事件。
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, events.ConversationEvent) error { return nil }

func (NopPublisher) Close() error { return nil }
