package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	uuid "github.com/google/uuid"

	"github.com/Realm-101/Unbuilt-sub002/internal/core/domain"
	"github.com/Realm-101/Unbuilt-sub002/internal/core/port"
)

// AuditLogRepository persists security events to trust.security_events with
// the variant payload stored as jsonb. It is both a sink and the query side
// for review endpoints.
type AuditLogRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewAuditLogRepository constructs the repository from a generic executor.
func NewAuditLogRepository(exec pgExecutor) *AuditLogRepository {
	return &AuditLogRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Record appends one security event.
func (r *AuditLogRepository) Record(ctx context.Context, event domain.SecurityEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal security event: %w", err)
	}

	stmt, args, err := r.builder.Insert("trust.security_events").
		Columns("id", "kind", "severity", "subject", "payload", "occurred_at").
		Values(
			uuid.NewString(),
			event.Kind(),
			string(event.Severity()),
			event.Subject(),
			payload,
			event.OccurredAt(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert security event sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}

// List returns persisted events newest first, honoring the filter.
func (r *AuditLogRepository) List(ctx context.Context, filter port.AuditFilter) ([]port.AuditRecord, error) {
	query := r.builder.Select("id", "kind", "severity", "subject", "payload", "occurred_at").
		From("trust.security_events").
		OrderBy("occurred_at DESC")

	if filter.Subject != "" {
		query = query.Where(squirrel.Eq{"subject": filter.Subject})
	}
	if filter.Kind != "" {
		query = query.Where(squirrel.Eq{"kind": filter.Kind})
	}
	if filter.Severity != "" {
		query = query.Where(squirrel.Eq{"severity": string(filter.Severity)})
	}
	if !filter.Since.IsZero() {
		query = query.Where(squirrel.GtOrEq{"occurred_at": filter.Since})
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query = query.Limit(uint64(limit))

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list security events sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list security events: %w", err)
	}
	defer rows.Close()

	var records []port.AuditRecord
	for rows.Next() {
		var (
			record   port.AuditRecord
			severity string
		)
		if err := rows.Scan(
			&record.ID,
			&record.Kind,
			&severity,
			&record.Subject,
			&record.Payload,
			&record.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("scan security event: %w", err)
		}
		record.Severity = domain.EventSeverity(severity)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate security events: %w", err)
	}
	return records, nil
}
