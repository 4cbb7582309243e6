package security

import (
	"fmt"
	"log/slog"

	"github.com/yourorg/clinicops/internal/domain"
)

// Well-known capabilities. Permission sets are open, so clinics may grant
// strings that are not listed here.
const (
	PermCallsRead      = "calls:read"
	PermCallsWrite     = "calls:write"
	PermLeadsRead      = "leads:read"
	PermLeadsWrite     = "leads:write"
	PermAppointments   = "appointments:manage"
	PermMessagesSend   = "messages:send"
	PermManageUsers    = "users:manage"
	PermViewAuditLog   = "audit:read"
	PermManageSettings = "settings:manage"
)

// RolePermissions are granted to newly provisioned users who were not given
// an explicit permission set.
var RolePermissions = map[domain.Role][]string{
	domain.RoleClinicAdmin: {
		PermCallsRead,
		PermCallsWrite,
		PermLeadsRead,
		PermLeadsWrite,
		PermAppointments,
		PermMessagesSend,
		PermManageUsers,
		PermViewAuditLog,
		PermManageSettings,
	},
	domain.RoleAgent: {
		PermCallsRead,
		PermCallsWrite,
		PermLeadsRead,
		PermLeadsWrite,
		PermAppointments,
		PermMessagesSend,
	},
}

// Guard enforces tenant isolation and role tiers for principals
type Guard struct {
	logger *slog.Logger
}

// NewGuard creates a new guard
func NewGuard(logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{logger: logger}
}

// AuthorizeClinic allows super-admins everywhere and everyone else only
// inside their own clinic. A caller without a clinic is never allowed.
func (g *Guard) AuthorizeClinic(p domain.Principal, clinicID *string) error {
	if p.Role == domain.RoleSuperAdmin {
		return nil
	}
	if p.ClinicID != nil && clinicID != nil && *p.ClinicID == *clinicID {
		return nil
	}
	g.logger.Warn("clinic access denied",
		slog.String("user_id", p.UserID),
		slog.String("user_clinic", deref(p.ClinicID)),
		slog.String("requested_clinic", deref(clinicID)),
	)
	return domain.Forbidden("access denied: different clinic")
}

// RequireRole checks the caller's tier is at least min.
func (g *Guard) RequireRole(p domain.Principal, min domain.Role) error {
	if p.Role.AtLeast(min) {
		return nil
	}
	g.logger.Warn("role check failed",
		slog.String("user_id", p.UserID),
		slog.String("role", p.Role.String()),
		slog.String("required", min.String()),
	)
	return domain.Forbidden(fmt.Sprintf("%s access required", min))
}

// HasPermission is true for super-admins and for holders of perm
func (g *Guard) HasPermission(p domain.Principal, perm string) bool {
	if p.Role == domain.RoleSuperAdmin {
		return true
	}
	return p.Permissions.Has(perm)
}

// ValidatePermission validates that the principal holds perm
func (g *Guard) ValidatePermission(p domain.Principal, perm string) error {
	if !g.HasPermission(p, perm) {
		g.logger.Warn("permission denied",
			slog.String("user_id", p.UserID),
			slog.String("role", p.Role.String()),
			slog.String("permission", perm),
		)
		return domain.Forbidden(fmt.Sprintf("permission denied: %s", perm))
	}
	return nil
}

// DefaultPermissions returns a copy of the permissions granted to role
func DefaultPermissions(role domain.Role) domain.PermissionSet {
	return domain.NewPermissionSet(RolePermissions[role]...)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
