package repository

import (
	"context"
	"encoding/json"

	"chat_fanout_service/internal/chat/domain"

	"github.com/segmentio/kafka-go"
)

// MessagePublisher stream of persisted messages for downstream consumers, best-effort
type MessagePublisher interface {
	Publish(ctx context.Context, msg *domain.ChatMessage) error
	Close() error
}

// KafkaWriter part of *kafka.Writer used by KafkaMessagePublisher
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaMessagePublisher publish ChatMessage as json, key is room or receiver
type KafkaMessagePublisher struct {
	writer KafkaWriter
}

// NewKafkaMessagePublisher create KafkaMessagePublisher
func NewKafkaMessagePublisher(w KafkaWriter) *KafkaMessagePublisher {
	return &KafkaMessagePublisher{writer: w}
}

// Publish write one message
func (p *KafkaMessagePublisher) Publish(ctx context.Context, msg *domain.ChatMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	key := domain.RoomGroup(msg.Room)
	if msg.IsDirect() {
		key = domain.UserGroup(msg.Receiver)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  msg.CreatedAt,
	})
}

// Close flush and close writer
func (p *KafkaMessagePublisher) Close() error {
	return p.writer.Close()
}

// NopMessagePublisher used when no broker is configured
type NopMessagePublisher struct{}

// Publish do nothing
func (NopMessagePublisher) Publish(context.Context, *domain.ChatMessage) error { return nil }

// Close do nothing
func (NopMessagePublisher) Close() error { return nil }
