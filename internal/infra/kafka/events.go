package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Realm-101/Unbuilt-sub002/internal/core/domain"
	"github.com/Realm-101/Unbuilt-sub002/internal/core/port"
	"github.com/Realm-101/Unbuilt-sub002/internal/infra/config"
)

const schemaVersion = "1.0"

// EventSink publishes security events to Kafka. The event kind doubles as
// the topic suffix, so every variant gets its own topic under the configured
// prefix.
type EventSink struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventSink constructs a Kafka-backed audit sink.
func NewEventSink(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventSink {
	return &EventSink{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	Severity  string           `json:"severity"`
	Subject   string           `json:"subject,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

// Record publishes the event wrapped in the standard envelope.
func (s *EventSink) Record(ctx context.Context, event domain.SecurityEvent) error {
	metadata := envelopeMetadata{
		"service":     s.appCfg.Name,
		"environment": s.appCfg.Env,
	}

	if span := trace.SpanFromContext(ctx); span != nil {
		if sc := span.SpanContext(); sc.IsValid() {
			metadata["trace_id"] = sc.TraceID().String()
		}
	}

	envelope := eventEnvelope{
		EventID:   uuid.NewString(),
		EventType: event.Kind(),
		Severity:  string(event.Severity()),
		Subject:   event.Subject(),
		Timestamp: event.OccurredAt().UTC(),
		Version:   schemaVersion,
		Payload:   event,
		Metadata:  metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: s.producer.TopicName(event.Kind()),
		Key:   sarama.StringEncoder(event.Subject()),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case s.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ port.AuditSink = (*EventSink)(nil)
