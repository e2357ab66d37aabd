// Package sink публикует завершенные записи валидации во внешние системы.
package sink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink пишет каждую финализированную запись в топик. Ключ — client_id,
// чтобы записи одного клиента попадали в одну партицию.
type KafkaSink struct {
	writer messageWriter
	logger *zap.Logger
}

func NewKafkaSink(brokers []string, topic string, logger *zap.Logger) *KafkaSink {
	logger = logger.With(zap.String("mod", "kafka-sink"))
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
		// хук конвейера синхронный, ждать подтверждения брокера в нем нельзя
		Async: true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Warn("kafka delivery failed", zap.Int("messages", len(msgs)), zap.Error(err))
			}
		},
	}
	return &KafkaSink{writer: writer, logger: logger}
}

// recordEvent — формат сообщения в топике.
type recordEvent struct {
	Type   string                   `json:"type"`
	Record *domain.ValidationRecord `json:"record"`
	SentAt time.Time                `json:"sent_at"`
}

func (s *KafkaSink) Publish(ctx context.Context, rec *domain.ValidationRecord) error {
	value, err := json.Marshal(recordEvent{Type: "validation.completed", Record: rec, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.ClientID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "record_id", Value: []byte(rec.ID)},
			{Key: "classification", Value: []byte(rec.Classification)},
		},
	})
}

// Close дожидается отправки буфера.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
