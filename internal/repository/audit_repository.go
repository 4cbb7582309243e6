package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/yourorg/clinicops/internal/domain"
)

// PostgresAuditRepository stores audit events in audit_logs
type PostgresAuditRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewPostgresAuditRepository(db *sql.DB, logger *slog.Logger) *PostgresAuditRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresAuditRepository{db: db, logger: logger}
}

func (r *PostgresAuditRepository) Create(ctx context.Context, e *domain.AuditEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	oldValues, err := marshalValues(e.OldValues)
	if err != nil {
		return err
	}
	newValues, err := marshalValues(e.NewValues)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_logs (id, clinic_id, user_id, action, resource_type, resource_id,
			old_values, new_values, ip_address, user_agent, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = r.db.ExecContext(ctx, query,
		e.ID,
		nullString(e.ClinicID),
		nullString(e.UserID),
		string(e.Action),
		e.ResourceType,
		e.ResourceID,
		oldValues,
		newValues,
		e.IPAddress,
		e.UserAgent,
		e.RequestID,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

const auditColumns = `id, clinic_id, user_id, action, resource_type, resource_id, old_values, new_values,
	ip_address, user_agent, request_id, created_at`

// ListByClinic returns the newest events of a clinic first
func (r *PostgresAuditRepository) ListByClinic(ctx context.Context, clinicID string, limit int) ([]*domain.AuditEvent, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE clinic_id = $1 ORDER BY created_at DESC, id LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, clinicID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	return collectAuditEvents(rows)
}

// List returns one page of events matching filter, newest first
func (r *PostgresAuditRepository) List(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditEvent, int, error) {
	var conds conditions
	if filter.ClinicID != "" {
		conds.add("clinic_id = ?", filter.ClinicID)
	}
	if filter.Action != "" {
		conds.add("action = ?", string(filter.Action))
	}
	if filter.ResourceType != "" {
		conds.add("resource_type = ?", filter.ResourceType)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs`+conds.where(), conds.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit events: %w", err)
	}

	limit, args := conds.page(filter.Page)
	query := `SELECT ` + auditColumns + ` FROM audit_logs` + conds.where() + ` ORDER BY created_at DESC, id` + limit
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list audit events: %w", err)
	}
	events, err := collectAuditEvents(rows)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

func collectAuditEvents(rows *sql.Rows) ([]*domain.AuditEvent, error) {
	defer rows.Close()

	out := []*domain.AuditEvent{}
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit events: %w", err)
	}
	return out, nil
}

func scanAuditEvent(rows *sql.Rows) (*domain.AuditEvent, error) {
	var (
		e                    domain.AuditEvent
		action               string
		clinic, user         sql.NullString
		oldValues, newValues []byte
		err                  error
	)
	if err = rows.Scan(&e.ID, &clinic, &user, &action, &e.ResourceType, &e.ResourceID,
		&oldValues, &newValues, &e.IPAddress, &e.UserAgent, &e.RequestID, &e.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan audit event: %w", err)
	}
	e.Action = domain.AuditAction(action)
	e.ClinicID = fromNullString(clinic)
	e.UserID = fromNullString(user)
	if e.OldValues, err = unmarshalValues(oldValues); err != nil {
		return nil, err
	}
	if e.NewValues, err = unmarshalValues(newValues); err != nil {
		return nil, err
	}
	return &e, nil
}

// marshalValues returns nil for SQL NULL or the JSON text of v.
func marshalValues(v map[string]interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit values: %w", err)
	}
	return string(b), nil
}

func unmarshalValues(b []byte) (map[string]interface{}, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var v map[string]interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("failed to decode audit values: %w", err)
	}
	return v, nil
}
