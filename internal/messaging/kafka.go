package messaging

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/temcen/podrex/internal/config"
	"github.com/temcen/podrex/internal/telemetry"
	"github.com/temcen/podrex/pkg/models"
)

// EngagementEvent is the wire record emitted for every accepted engagement.
// Messages are keyed by session id so a consumer sees one session's
// engagements in order.
type EngagementEvent struct {
	EventID      string                `json:"event_id"`
	SessionID    string                `json:"session_id"`
	UserID       string                `json:"user_id,omitempty"`
	EpisodeID    string                `json:"episode_id"`
	Kind         models.EngagementKind `json:"kind"`
	EpisodeTitle string                `json:"episode_title,omitempty"`
	SeriesName   string                `json:"series_name,omitempty"`
	OccurredAt   time.Time             `json:"occurred_at"`
}

// EngagementPublisher writes engagement events to Kafka. The writer runs in
// async mode: WriteMessages enqueues and returns, delivery outcomes arrive on
// the completion callback and surface as telemetry only, never as request
// errors.
type EngagementPublisher struct {
	writer *kafka.Writer
	logger *logrus.Logger
	sink   telemetry.EventSink
}

func NewEngagementPublisher(cfg config.KafkaConfig, logger *logrus.Logger, sink telemetry.EventSink) *EngagementPublisher {
	p := &EngagementPublisher{logger: logger, sink: sink}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topics.EngagementEvents,
		Balancer:     &kafka.Hash{}, // key by session id keeps per-session order
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
		Completion:   p.onDelivery,
	}
	return p
}

func (p *EngagementPublisher) PublishEngagement(ctx context.Context, event EngagementEvent) error {
	message, err := buildMessage(&event)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("failed to enqueue engagement event: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"event_id":   event.EventID,
		"session_id": event.SessionID,
		"episode_id": event.EpisodeID,
		"kind":       string(event.Kind),
	}).Debug("Engagement event queued")

	return nil
}

func (p *EngagementPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close engagement publisher: %w", err)
	}
	return nil
}

// buildMessage fills event defaults in place and produces the Kafka message.
func buildMessage(event *EngagementEvent) (kafka.Message, error) {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal engagement event: %w", err)
	}

	return kafka.Message{
		Key:   []byte(event.SessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.EventID)},
			{Key: "kind", Value: []byte(event.Kind)},
			{Key: "occurred_at", Value: []byte(event.OccurredAt.Format(time.RFC3339))},
		},
	}, nil
}

func (p *EngagementPublisher) onDelivery(messages []kafka.Message, err error) {
	if err == nil {
		return
	}
	for _, message := range messages {
		p.sink.Event(telemetry.EventEngagementPublishFailed, logrus.Fields{
			"key":   string(message.Key),
			"error": err.Error(),
		})
	}
	p.logger.WithError(err).WithField("count", len(messages)).Error("Failed to deliver engagement events")
}
