package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yourorg/clinicops/internal/domain"
	"github.com/yourorg/clinicops/internal/security"
	"github.com/yourorg/clinicops/internal/security/audit"
	"github.com/yourorg/clinicops/internal/security/auth"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// ProvisioningService creates and lists clinics and their users. Every
// operation except CreateSuperAdmin is authorized against the caller.
type ProvisioningService struct {
	users   domain.UserRepository
	clinics domain.ClinicRepository
	audits  domain.AuditRepository
	hasher  auth.Hasher
	guard   *security.Guard
	audit   *audit.Logger
	now     func() time.Time
	logger  *slog.Logger
}

func NewProvisioningService(
	users domain.UserRepository,
	clinics domain.ClinicRepository,
	audits domain.AuditRepository,
	hasher auth.Hasher,
	guard *security.Guard,
	auditLog *audit.Logger,
	logger *slog.Logger,
) *ProvisioningService {
	if logger == nil {
		logger = slog.Default()
	}
	if guard == nil {
		guard = security.NewGuard(logger)
	}
	if auditLog == nil {
		auditLog = audit.NewLogger(logger, audits)
	}
	return &ProvisioningService{
		users:   users,
		clinics: clinics,
		audits:  audits,
		hasher:  hasher,
		guard:   guard,
		audit:   auditLog,
		now:     time.Now,
		logger:  logger,
	}
}

// CreateClinicInput describes a new tenant
type CreateClinicInput struct {
	Name                  string     `json:"name" validate:"required,min=2,max=200"`
	SubscriptionStatus    string     `json:"subscription_status" validate:"omitempty,oneof=trial active suspended cancelled"`
	SubscriptionPlan      string     `json:"subscription_plan" validate:"omitempty,max=50"`
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at"`
	MaxUsers              int        `json:"max_users" validate:"omitempty,min=1,max=10000"`
}

// UpdateClinicInput changes only the fields that are set
type UpdateClinicInput struct {
	SubscriptionStatus    *string    `json:"subscription_status" validate:"omitempty,oneof=trial active suspended cancelled"`
	SubscriptionPlan      *string    `json:"subscription_plan" validate:"omitempty,max=50"`
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at"`
	MaxUsers              *int       `json:"max_users" validate:"omitempty,min=1,max=10000"`
	IsActive              *bool      `json:"is_active"`
}

// CreateUserInput describes a new clinic member
type CreateUserInput struct {
	Username    string   `json:"username" validate:"required,min=3,max=80"`
	Email       string   `json:"email" validate:"required,email"`
	Password    string   `json:"password" validate:"required,min=8,max=72,bcryptlen"`
	FirstName   string   `json:"first_name" validate:"max=100"`
	LastName    string   `json:"last_name" validate:"max=100"`
	Role        string   `json:"role" validate:"required,oneof=agent clinic_admin"`
	Permissions []string `json:"permissions" validate:"omitempty,dive,required,max=100"`
}

// CreateSuperAdminInput bootstraps a platform operator account
type CreateSuperAdminInput struct {
	Username string `json:"username" validate:"required,min=3,max=80"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72,bcryptlen"`
}

// CreateClinic registers a tenant. Super-admin only.
func (s *ProvisioningService) CreateClinic(ctx context.Context, p domain.Principal, in CreateClinicInput) (*domain.ClinicView, error) {
	if err := s.guard.RequireRole(p, domain.RoleSuperAdmin); err != nil {
		s.audit.LogDenied(ctx, p, "clinic", err.Error())
		return nil, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := validateInput(in); err != nil {
		return nil, err
	}

	clinic := &domain.Clinic{
		Name:                  in.Name,
		Slug:                  domain.Slugify(in.Name),
		SubscriptionStatus:    domain.SubscriptionStatus(orDefault(in.SubscriptionStatus, string(domain.SubscriptionTrial))),
		SubscriptionPlan:      orDefault(in.SubscriptionPlan, "basic"),
		SubscriptionExpiresAt: in.SubscriptionExpiresAt,
		MaxUsers:              in.MaxUsers,
		IsActive:              true,
		CreatedBy:             &p.UserID,
	}
	if clinic.MaxUsers == 0 {
		clinic.MaxUsers = 10
	}

	if err := s.clinics.Create(ctx, clinic); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return nil, domain.Conflict(fmt.Sprintf("clinic %q already exists", in.Name))
		}
		return nil, s.storeError("create clinic", err)
	}

	s.audit.LogCreate(ctx, p, &clinic.ID, "clinic", clinic.ID, map[string]interface{}{
		"name":                clinic.Name,
		"subscription_status": string(clinic.SubscriptionStatus),
	})
	s.logger.Info("clinic created", slog.String("clinic_id", clinic.ID), slog.String("name", clinic.Name))
	return domain.NewClinicView(clinic), nil
}

// UpdateClinic changes subscription, limits or the active flag. Super-admin
// only. Deactivating a clinic stops its users from refreshing tokens.
func (s *ProvisioningService) UpdateClinic(ctx context.Context, p domain.Principal, clinicID string, in UpdateClinicInput) (*domain.ClinicView, error) {
	if err := s.guard.RequireRole(p, domain.RoleSuperAdmin); err != nil {
		s.audit.LogDenied(ctx, p, "clinic", err.Error())
		return nil, err
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}

	clinic, err := s.liveClinic(ctx, clinicID)
	if err != nil {
		return nil, err
	}

	old := clinicAuditValues(clinic)
	if in.SubscriptionStatus != nil {
		clinic.SubscriptionStatus = domain.SubscriptionStatus(*in.SubscriptionStatus)
	}
	if in.SubscriptionPlan != nil {
		clinic.SubscriptionPlan = *in.SubscriptionPlan
	}
	if in.SubscriptionExpiresAt != nil {
		clinic.SubscriptionExpiresAt = in.SubscriptionExpiresAt
	}
	if in.MaxUsers != nil {
		clinic.MaxUsers = *in.MaxUsers
	}
	if in.IsActive != nil {
		clinic.IsActive = *in.IsActive
	}

	if err := s.clinics.Update(ctx, clinic); err != nil {
		return nil, s.storeError("update clinic", err)
	}
	s.audit.LogUpdate(ctx, p, "clinic", clinic.ID, old, clinicAuditValues(clinic))
	return domain.NewClinicView(clinic), nil
}

// ListClinics returns one page of clinics matching filter, ordered by name.
// Super-admin only.
func (s *ProvisioningService) ListClinics(ctx context.Context, p domain.Principal, filter domain.ClinicFilter) ([]*domain.ClinicView, domain.Pagination, error) {
	if err := s.guard.RequireRole(p, domain.RoleSuperAdmin); err != nil {
		return nil, domain.Pagination{}, err
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.Pagination{}, domain.InvalidRequest(fmt.Sprintf("unknown subscription status %q", filter.Status))
	}
	filter.Page = filter.Page.Normalize(domain.DefaultPerPage)

	clinics, total, err := s.clinics.List(ctx, filter)
	if err != nil {
		return nil, domain.Pagination{}, s.storeError("list clinics", err)
	}
	out := make([]*domain.ClinicView, 0, len(clinics))
	for _, c := range clinics {
		out = append(out, domain.NewClinicView(c))
	}
	return out, domain.NewPagination(filter.Page, total), nil
}

// DeleteClinic soft-deletes a clinic: it is deactivated, its subscription
// cancelled and it drops out of listings. Rows are kept for the audit trail.
// Super-admin only.
func (s *ProvisioningService) DeleteClinic(ctx context.Context, p domain.Principal, clinicID string) (*domain.ClinicView, error) {
	if err := s.guard.RequireRole(p, domain.RoleSuperAdmin); err != nil {
		s.audit.LogDenied(ctx, p, "clinic", err.Error())
		return nil, err
	}
	clinic, err := s.liveClinic(ctx, clinicID)
	if err != nil {
		return nil, err
	}

	old := clinicAuditValues(clinic)
	now := s.now().UTC()
	clinic.IsActive = false
	clinic.SubscriptionStatus = domain.SubscriptionCancelled
	clinic.DeletedAt = &now
	if err := s.clinics.Update(ctx, clinic); err != nil {
		return nil, s.storeError("delete clinic", err)
	}

	s.audit.LogDelete(ctx, p, &clinic.ID, "clinic", clinic.ID, old)
	s.logger.Info("clinic deleted", slog.String("clinic_id", clinic.ID), slog.String("name", clinic.Name))
	return domain.NewClinicView(clinic), nil
}

// ListUsers returns one page of users across every clinic. Super-admin only.
func (s *ProvisioningService) ListUsers(ctx context.Context, p domain.Principal, filter domain.UserFilter) ([]*domain.UserView, domain.Pagination, error) {
	if err := s.guard.RequireRole(p, domain.RoleSuperAdmin); err != nil {
		s.audit.LogDenied(ctx, p, "user", err.Error())
		return nil, domain.Pagination{}, err
	}
	if filter.ClinicID != "" {
		if err := checkClinicID(filter.ClinicID); err != nil {
			return nil, domain.Pagination{}, err
		}
	}
	filter.Page = filter.Page.Normalize(domain.DefaultPerPage)

	users, total, err := s.users.List(ctx, filter)
	if err != nil {
		return nil, domain.Pagination{}, s.storeError("list users", err)
	}
	now := s.now()
	out := make([]*domain.UserView, 0, len(users))
	for _, u := range users {
		out = append(out, domain.NewUserView(u, now))
	}
	return out, domain.NewPagination(filter.Page, total), nil
}

// CreateUser adds an agent or clinic admin to clinicID. The caller must be
// a clinic admin of that clinic or a super-admin.
func (s *ProvisioningService) CreateUser(ctx context.Context, p domain.Principal, clinicID string, in CreateUserInput) (*domain.UserView, error) {
	scope := security.ResourceScope{Type: "user", ClinicID: &clinicID}
	if err := s.guard.ValidateResourceAccess(p, scope, domain.RoleClinicAdmin); err != nil {
		s.audit.LogDenied(ctx, p, "user", err.Error())
		return nil, err
	}
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if err := validateInput(in); err != nil {
		return nil, err
	}
	role, err := domain.ParseRole(in.Role)
	if err != nil {
		return nil, domain.InvalidRequest(err.Error())
	}

	clinic, err := s.liveClinic(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	if clinic.MaxUsers > 0 {
		existing, err := s.users.ListByClinic(ctx, clinic.ID)
		if err != nil {
			return nil, s.storeError("count users", err)
		}
		if len(existing) >= clinic.MaxUsers {
			return nil, domain.Conflict(fmt.Sprintf("clinic user limit of %d reached", clinic.MaxUsers))
		}
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	perms := domain.NewPermissionSet(in.Permissions...)
	if in.Permissions == nil {
		perms = security.DefaultPermissions(role)
	}

	user := &domain.User{
		ClinicID:          &clinic.ID,
		Username:          in.Username,
		Email:             in.Email,
		FirstName:         in.FirstName,
		LastName:          in.LastName,
		PasswordHash:      hash,
		Role:              role,
		Permissions:       perms,
		IsActive:          true,
		PasswordChangedAt: s.now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return nil, domain.Conflict(fmt.Sprintf("username %q is already taken in this clinic", in.Username))
		}
		return nil, s.storeError("create user", err)
	}

	s.audit.LogCreate(ctx, p, &clinic.ID, "user", user.ID, map[string]interface{}{
		"username": user.Username,
		"role":     user.Role.String(),
	})
	s.logger.Info("user created",
		slog.String("user_id", user.ID),
		slog.String("clinic_id", clinic.ID),
		slog.String("role", user.Role.String()),
	)
	return domain.NewUserView(user, s.now()), nil
}

// CreateSuperAdmin provisions a platform operator. It is not reachable over
// HTTP; the seed command uses it to bootstrap an installation.
func (s *ProvisioningService) CreateSuperAdmin(ctx context.Context, in CreateSuperAdminInput) (*domain.UserView, error) {
	in.Username = strings.TrimSpace(in.Username)
	if err := validateInput(in); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to create super admin: %w", err)
	}
	user := &domain.User{
		Username:          in.Username,
		Email:             in.Email,
		PasswordHash:      hash,
		Role:              domain.RoleSuperAdmin,
		Permissions:       domain.NewPermissionSet(),
		IsActive:          true,
		PasswordChangedAt: s.now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return nil, domain.Conflict(fmt.Sprintf("super admin %q already exists", in.Username))
		}
		return nil, s.storeError("create super admin", err)
	}

	s.audit.LogCreate(ctx, domain.Principal{}, nil, "user", user.ID, map[string]interface{}{
		"username": user.Username,
		"role":     user.Role.String(),
	})
	return domain.NewUserView(user, s.now()), nil
}

// ListClinicUsers returns the members of clinicID. Clinic admins see their
// own clinic; super-admins see any.
func (s *ProvisioningService) ListClinicUsers(ctx context.Context, p domain.Principal, clinicID string) ([]*domain.UserView, error) {
	scope := security.ResourceScope{Type: "user", ClinicID: &clinicID}
	if err := s.guard.ValidateResourceAccess(p, scope, domain.RoleClinicAdmin); err != nil {
		s.audit.LogDenied(ctx, p, "user", err.Error())
		return nil, err
	}
	if err := checkClinicID(clinicID); err != nil {
		return nil, err
	}
	users, err := s.users.ListByClinic(ctx, clinicID)
	if err != nil {
		return nil, s.storeError("list users", err)
	}
	now := s.now()
	out := make([]*domain.UserView, 0, len(users))
	for _, u := range users {
		out = append(out, domain.NewUserView(u, now))
	}
	return out, nil
}

// ListAuditEvents returns the newest audit events of clinicID, at most limit
// (default 50, capped at 500).
func (s *ProvisioningService) ListAuditEvents(ctx context.Context, p domain.Principal, clinicID string, limit int) ([]*domain.AuditEvent, error) {
	scope := security.ResourceScope{Type: "audit_log", ClinicID: &clinicID}
	if err := s.guard.ValidateResourceAccess(p, scope, domain.RoleClinicAdmin); err != nil {
		s.audit.LogDenied(ctx, p, "audit_log", err.Error())
		return nil, err
	}
	if err := checkClinicID(clinicID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}
	events, err := s.audits.ListByClinic(ctx, clinicID, limit)
	if err != nil {
		return nil, s.storeError("list audit events", err)
	}
	if events == nil {
		events = []*domain.AuditEvent{}
	}
	return events, nil
}

// ListPlatformAuditEvents returns one page of audit events across every
// clinic, newest first. Super-admin only.
func (s *ProvisioningService) ListPlatformAuditEvents(ctx context.Context, p domain.Principal, filter domain.AuditFilter) ([]*domain.AuditEvent, domain.Pagination, error) {
	if err := s.guard.RequireRole(p, domain.RoleSuperAdmin); err != nil {
		s.audit.LogDenied(ctx, p, "audit_log", err.Error())
		return nil, domain.Pagination{}, err
	}
	if filter.ClinicID != "" {
		if err := checkClinicID(filter.ClinicID); err != nil {
			return nil, domain.Pagination{}, err
		}
	}
	filter.Page = filter.Page.Normalize(defaultAuditLimit)

	events, total, err := s.audits.List(ctx, filter)
	if err != nil {
		return nil, domain.Pagination{}, s.storeError("list audit events", err)
	}
	if events == nil {
		events = []*domain.AuditEvent{}
	}
	return events, domain.NewPagination(filter.Page, total), nil
}

// liveClinic loads a clinic that has not been deleted.
func (s *ProvisioningService) liveClinic(ctx context.Context, clinicID string) (*domain.Clinic, error) {
	if err := checkClinicID(clinicID); err != nil {
		return nil, err
	}
	clinic, err := s.clinics.GetByID(ctx, clinicID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrClinicNotFound
		}
		return nil, s.storeError("get clinic", err)
	}
	if clinic.DeletedAt != nil {
		return nil, domain.ErrClinicNotFound
	}
	return clinic, nil
}

// checkClinicID rejects ids that are not in the canonical 36-character
// UUID form stored in the clinics table.
func checkClinicID(id string) error {
	if len(id) != 36 {
		return domain.InvalidRequest("clinic id must be a UUID")
	}
	if _, err := uuid.Parse(id); err != nil {
		return domain.InvalidRequest("clinic id must be a UUID")
	}
	return nil
}

func (s *ProvisioningService) storeError(op string, err error) error {
	s.logger.Error("store failure", slog.String("operation", op), slog.String("error", err.Error()))
	return domain.StoreUnavailable(fmt.Errorf("failed to %s: %w", op, err))
}

func clinicAuditValues(c *domain.Clinic) map[string]interface{} {
	v := map[string]interface{}{
		"subscription_status": string(c.SubscriptionStatus),
		"subscription_plan":   c.SubscriptionPlan,
		"max_users":           c.MaxUsers,
		"is_active":           c.IsActive,
	}
	if c.SubscriptionExpiresAt != nil {
		v["subscription_expires_at"] = formatTime(*c.SubscriptionExpiresAt)
	}
	return v
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
