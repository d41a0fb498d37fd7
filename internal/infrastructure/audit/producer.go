// Package audit publishes token and key lifecycle events. Events go to
// the structured log always and to Kafka when a broker is configured.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/stratumsec/tokend/internal/config"
	"github.com/stratumsec/tokend/pkg/constants"
	"github.com/stratumsec/tokend/pkg/logger"
)

// Event is one auditable lifecycle event.
type Event struct {
	EventID   string                   `json:"event_id"`
	EventType constants.AuditEventType `json:"event_type"`
	Timestamp time.Time                `json:"timestamp"`
	UserID    string                   `json:"user_id,omitempty"`
	ClientID  string                   `json:"client_id,omitempty"`
	TokenID   string                   `json:"token_id,omitempty"`
	KeyID     string                   `json:"key_id,omitempty"`
	Reason    string                   `json:"reason,omitempty"`
	Actor     string                   `json:"actor,omitempty"`
}

// NewEvent builds an event with a fresh id and the current timestamp.
func NewEvent(eventType constants.AuditEventType) *Event {
	return &Event{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// Publisher records audit events. Publishing is best effort: a failed
// publish is logged and never fails the operation that produced it.
type Publisher interface {
	Publish(ctx context.Context, event *Event)
	Close() error
}

type kafkaPublisher struct {
	writer *kafka.Writer
	log    logger.Logger
}

// NewKafkaPublisher builds a Kafka-backed publisher, or a log-only one
// when Kafka is disabled in configuration.
func NewKafkaPublisher(cfg *config.KafkaConfig, log logger.Logger) Publisher {
	if !cfg.Enabled {
		return &logPublisher{log: log.WithComponent("audit")}
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}
	return &kafkaPublisher{writer: writer, log: log.WithComponent("audit")}
}

func (p *kafkaPublisher) Publish(ctx context.Context, event *Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.Error(ctx, "audit event not serializable", err,
			logger.String("event_type", string(event.EventType)))
		return
	}
	msg := kafka.Message{
		Key:   []byte(event.UserID),
		Value: payload,
		Time:  event.Timestamp,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Error(ctx, "audit event publish failed", err,
			logger.String("event_type", string(event.EventType)),
			logger.String("event_id", event.EventID))
		return
	}
	p.logEvent(ctx, event)
}

func (p *kafkaPublisher) Close() error {
	return p.writer.Close()
}

func (p *kafkaPublisher) logEvent(ctx context.Context, event *Event) {
	logEvent(ctx, p.log, event)
}

// logPublisher records events to the structured log only.
type logPublisher struct {
	log logger.Logger
}

func (p *logPublisher) Publish(ctx context.Context, event *Event) {
	logEvent(ctx, p.log, event)
}

func (p *logPublisher) Close() error { return nil }

func logEvent(ctx context.Context, log logger.Logger, event *Event) {
	fields := []logger.Field{
		logger.String("event_id", event.EventID),
		logger.String("event_type", string(event.EventType)),
	}
	if event.UserID != "" {
		fields = append(fields, logger.String("user_id", event.UserID))
	}
	if event.TokenID != "" {
		fields = append(fields, logger.String("jti", event.TokenID))
	}
	if event.KeyID != "" {
		fields = append(fields, logger.String("kid", event.KeyID))
	}
	if event.Reason != "" {
		fields = append(fields, logger.String("reason", event.Reason))
	}
	if event.EventType == constants.EventTypeRefreshReuse {
		log.Warn(ctx, "audit event", fields...)
		return
	}
	log.Info(ctx, "audit event", fields...)
}
