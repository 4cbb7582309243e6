package domain

import (
	"context"
	"time"
)

// AuditAction names what happened to a resource
type AuditAction string

const (
	AuditLogin        AuditAction = "login"
	AuditLogout       AuditAction = "logout"
	AuditCreate       AuditAction = "create"
	AuditUpdate       AuditAction = "update"
	AuditDelete       AuditAction = "delete"
	AuditAccessDenied AuditAction = "access_denied"
)

// AuditEvent is one append-only audit record
type AuditEvent struct {
	ID           string                 `json:"id"`
	ClinicID     *string                `json:"clinic_id"`
	UserID       *string                `json:"user_id"`
	Action       AuditAction            `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	OldValues    map[string]interface{} `json:"old_values,omitempty"`
	NewValues    map[string]interface{} `json:"new_values,omitempty"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	UserAgent    string                 `json:"user_agent,omitempty"`
	RequestID    string                 `json:"request_id,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// AuditRepository persists audit events
type AuditRepository interface {
	Create(ctx context.Context, event *AuditEvent) error
	ListByClinic(ctx context.Context, clinicID string, limit int) ([]*AuditEvent, error)
	// List returns one page of events matching filter, newest first, and the
	// total match count.
	List(ctx context.Context, filter AuditFilter) ([]*AuditEvent, int, error)
}
