// internal/pkg/events/publisher.go
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const TopicSubscriptionStatus = "advisor.subscription.status"

// StatusChanged is published whenever an advisor's membership status moves.
type StatusChanged struct {
	AccountID  int64      `json:"account_id"`
	From       string     `json:"from"`
	To         string     `json:"to"`
	PeriodEnd  *time.Time `json:"period_end,omitempty"`
	Reason     string     `json:"reason"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// Publisher writes lifecycle events. With no brokers configured it only logs.
type Publisher struct {
	writer *kafka.Writer
	topic  string
	logger *zap.Logger
}

func NewPublisher(brokers []string, topic string, logger *zap.Logger) *Publisher {
	if topic == "" {
		topic = TopicSubscriptionStatus
	}
	p := &Publisher{topic: topic, logger: logger}
	if len(brokers) == 0 {
		logger.Info("kafka brokers not configured, lifecycle events will not be published")
		return p
	}

	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
	}
	logger.Info("kafka publisher initialized", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return p
}

// PublishStatusChanged keys messages by account so one account's events stay ordered.
func (p *Publisher) PublishStatusChanged(ctx context.Context, evt StatusChanged) error {
	if p == nil || p.writer == nil {
		return nil
	}

	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("kafka: failed to marshal status event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(evt.AccountID, 10)),
		Value: value,
		Time:  evt.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("kafka: failed to publish status event: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
