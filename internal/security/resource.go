package security

import (
	"log/slog"

	"github.com/yourorg/clinicops/internal/domain"
)

// ResourceScope describes a clinic-owned resource being accessed
type ResourceScope struct {
	Type     string // e.g. "user", "audit_log"
	ID       string
	ClinicID *string
}

// ValidateResourceAccess requires both a clinic match and a minimum role.
// The clinic check runs first so cross-tenant requests are always reported
// as tenant denials.
func (g *Guard) ValidateResourceAccess(p domain.Principal, scope ResourceScope, min domain.Role) error {
	if err := g.AuthorizeClinic(p, scope.ClinicID); err != nil {
		g.logger.Warn("resource access denied",
			slog.String("user_id", p.UserID),
			slog.String("resource_type", scope.Type),
			slog.String("resource_id", scope.ID),
		)
		return err
	}
	return g.RequireRole(p, min)
}
