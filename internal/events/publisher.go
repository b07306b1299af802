package events

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"grant-gateway/internal/client"
	"grant-gateway/internal/models"
	"grant-gateway/internal/util"
)

// Publisher emits feedback events to Kafka after successful writes. A nil
// publisher or a produce failure never fails the originating request.
type Publisher struct {
	producer *client.KafkaProducer
	topic    string
}

// NewPublisher wraps a Kafka producer. Pass a nil producer to disable
// publishing.
func NewPublisher(producer *client.KafkaProducer, topic string) *Publisher {
	if producer == nil {
		return nil
	}
	return &Publisher{producer: producer, topic: topic}
}

// PublishFeedback serializes and produces one feedback event, keyed by grant
// so per-grant ordering holds within a partition.
func (p *Publisher) PublishFeedback(event models.FeedbackEvent) {
	if p == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		util.Error("failed to marshal feedback event", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.producer.ProduceMessage(ctx, p.topic, []byte(event.GrantID), payload); err != nil {
		util.Warn("failed to publish feedback event",
			zap.String("grant_id", event.GrantID),
			zap.Error(err))
	}
}
