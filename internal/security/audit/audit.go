package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/yourorg/clinicops/internal/domain"
)

// Logger writes audit events to the structured log and, when a repository
// is configured, to the audit_logs table. Failures to persist are logged and
// never reported to the caller.
type Logger struct {
	logger *slog.Logger
	repo   domain.AuditRepository
	now    func() time.Time
}

func NewLogger(logger *slog.Logger, repo domain.AuditRepository) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{logger: logger, repo: repo, now: time.Now}
}

// Record fills in id, timestamp and request details from ctx, then writes
// the event.
func (al *Logger) Record(ctx context.Context, event domain.AuditEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = al.now().UTC()
	}
	if event.RequestID == "" {
		event.RequestID = RequestIDFromContext(ctx)
	}
	info := ClientInfoFromContext(ctx)
	if event.IPAddress == "" {
		event.IPAddress = info.IPAddress
	}
	if event.UserAgent == "" {
		event.UserAgent = info.UserAgent
	}

	al.logger.Info("audit",
		slog.String("action", string(event.Action)),
		slog.String("resource", event.ResourceType),
		slog.String("resource_id", event.ResourceID),
		slog.String("clinic_id", deref(event.ClinicID)),
		slog.String("user_id", deref(event.UserID)),
		slog.String("ip", event.IPAddress),
		slog.String("request_id", event.RequestID),
	)

	if al.repo == nil {
		return
	}
	if err := al.repo.Create(ctx, &event); err != nil {
		al.logger.Error("failed to persist audit event",
			slog.String("action", string(event.Action)),
			slog.String("request_id", event.RequestID),
			slog.String("error", err.Error()),
		)
	}
}

func (al *Logger) LogLogin(ctx context.Context, u *domain.User) {
	al.Record(ctx, domain.AuditEvent{
		ClinicID:     u.ClinicID,
		UserID:       &u.ID,
		Action:       domain.AuditLogin,
		ResourceType: "user",
		ResourceID:   u.ID,
	})
}

func (al *Logger) LogLogout(ctx context.Context, p domain.Principal) {
	al.Record(ctx, domain.AuditEvent{
		ClinicID:     p.ClinicID,
		UserID:       &p.UserID,
		Action:       domain.AuditLogout,
		ResourceType: "user",
		ResourceID:   p.UserID,
	})
}

// LogUpdate records a change to a resource with its old and new values.
func (al *Logger) LogUpdate(ctx context.Context, actor domain.Principal, resourceType, resourceID string, oldValues, newValues map[string]interface{}) {
	al.Record(ctx, domain.AuditEvent{
		ClinicID:     actor.ClinicID,
		UserID:       &actor.UserID,
		Action:       domain.AuditUpdate,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		OldValues:    oldValues,
		NewValues:    newValues,
	})
}

func (al *Logger) LogCreate(ctx context.Context, actor domain.Principal, clinicID *string, resourceType, resourceID string, values map[string]interface{}) {
	al.Record(ctx, domain.AuditEvent{
		ClinicID:     clinicID,
		UserID:       nonEmpty(actor.UserID),
		Action:       domain.AuditCreate,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		NewValues:    values,
	})
}

// LogDelete records a soft delete, attributed to the deleted resource's clinic.
func (al *Logger) LogDelete(ctx context.Context, actor domain.Principal, clinicID *string, resourceType, resourceID string, oldValues map[string]interface{}) {
	al.Record(ctx, domain.AuditEvent{
		ClinicID:     clinicID,
		UserID:       nonEmpty(actor.UserID),
		Action:       domain.AuditDelete,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		OldValues:    oldValues,
	})
}

// LogDenied records a refused request against the caller's clinic.
func (al *Logger) LogDenied(ctx context.Context, p domain.Principal, resource, reason string) {
	al.Record(ctx, domain.AuditEvent{
		ClinicID:     p.ClinicID,
		UserID:       nonEmpty(p.UserID),
		Action:       domain.AuditAccessDenied,
		ResourceType: resource,
		NewValues:    map[string]interface{}{"reason": reason},
	})
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
