package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// OTPEvent is consumed by the mailer service, which renders and sends the
// verification email. The code travels only over the broker, never in an HTTP
// response.
type OTPEvent struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	Code        string    `json:"code"`
	RequestedAt time.Time `json:"requested_at"`
}

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (p *Producer) PublishOTP(ctx context.Context, event OTPEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.RequestedAt.IsZero() {
		event.RequestedAt = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal otp event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Email),
		Value: data,
	})
	if err != nil {
		return fmt.Errorf("publish otp event: %w", err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
