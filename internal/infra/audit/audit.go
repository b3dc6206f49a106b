package audit

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Realm-101/Unbuilt-sub002/internal/core/domain"
	"github.com/Realm-101/Unbuilt-sub002/internal/core/port"
)

// Fanout delivers each event to every configured sink. Sink failures are
// collected, not short-circuited; the durable log should still get the event
// when Kafka is down and vice versa.
type Fanout struct {
	sinks []port.AuditSink
}

// NewFanout constructs a fanout over the supplied sinks, skipping nils.
func NewFanout(sinks ...port.AuditSink) *Fanout {
	kept := make([]port.AuditSink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			kept = append(kept, sink)
		}
	}
	return &Fanout{sinks: kept}
}

// Record delivers the event to every sink.
func (f *Fanout) Record(ctx context.Context, event domain.SecurityEvent) error {
	var errs []error
	for _, sink := range f.sinks {
		if err := sink.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes security events to the structured log. It backs the audit
// trail during local development and doubles the signal in production.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink constructs a zap-backed audit sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Record logs the event at a level matching its severity.
func (s *LogSink) Record(_ context.Context, event domain.SecurityEvent) error {
	fields := []zap.Field{
		zap.String("kind", event.Kind()),
		zap.String("subject", event.Subject()),
		zap.Time("occurred_at", event.OccurredAt()),
		zap.Any("event", event),
	}

	switch event.Severity() {
	case domain.SeverityCritical, domain.SeverityError:
		s.logger.Error("security event", fields...)
	case domain.SeverityWarning:
		s.logger.Warn("security event", fields...)
	default:
		s.logger.Info("security event", fields...)
	}
	return nil
}

var (
	_ port.AuditSink = (*Fanout)(nil)
	_ port.AuditSink = (*LogSink)(nil)
)
