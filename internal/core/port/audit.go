package port

import (
	"context"
	"time"

	"github.com/Realm-101/Unbuilt-sub002/internal/core/domain"
)

// AuditSink is an append-only destination for security events. Sinks never
// call back into the services that feed them.
type AuditSink interface {
	Record(ctx context.Context, event domain.SecurityEvent) error
}

// AuditRecord is a persisted security event as returned by queries.
type AuditRecord struct {
	ID         string
	Kind       string
	Severity   domain.EventSeverity
	Subject    string
	Payload    []byte
	OccurredAt time.Time
}

// AuditFilter narrows audit queries. Zero values mean no constraint.
type AuditFilter struct {
	Subject  string
	Kind     string
	Severity domain.EventSeverity
	Since    time.Time
	Limit    int
}

// AuditQuerier reads back persisted security events for review.
type AuditQuerier interface {
	List(ctx context.Context, filter AuditFilter) ([]AuditRecord, error)
}
