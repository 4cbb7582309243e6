package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yourorg/clinicops/internal/domain"
	"github.com/yourorg/clinicops/internal/observability/metrics"
	"github.com/yourorg/clinicops/internal/observability/tracing"
	"github.com/yourorg/clinicops/internal/security/audit"
	"github.com/yourorg/clinicops/internal/security/auth"
	"github.com/yourorg/clinicops/internal/security/lockout"
)

const (
	minPasswordLength = 8
	// bcrypt input limit, in bytes
	maxPasswordLength = 72
)

// AuthConfig holds token lifetimes and the platform-operator identifiers
type AuthConfig struct {
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	SuperAdminUsername string
	PlatformTenantName string
}

// AuthService handles authentication operations
type AuthService struct {
	users   domain.UserRepository
	clinics domain.ClinicRepository
	hasher  auth.Hasher
	tokens  *auth.TokenManager
	policy  lockout.Policy
	audit   *audit.Logger
	cfg     AuthConfig
	now     func() time.Time
	logger  *slog.Logger
}

// NewAuthService creates a new authentication service
func NewAuthService(
	users domain.UserRepository,
	clinics domain.ClinicRepository,
	hasher auth.Hasher,
	tokens *auth.TokenManager,
	policy lockout.Policy,
	auditLog *audit.Logger,
	cfg AuthConfig,
	logger *slog.Logger,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	if auditLog == nil {
		auditLog = audit.NewLogger(logger, nil)
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.SuperAdminUsername == "" {
		cfg.SuperAdminUsername = "craft_admin"
	}
	if cfg.PlatformTenantName == "" {
		cfg.PlatformTenantName = "Craft AI"
	}

	return &AuthService{
		users:   users,
		clinics: clinics,
		hasher:  hasher,
		tokens:  tokens,
		policy:  policy,
		audit:   auditLog,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger,
	}
}

// LoginInput is the credential triple submitted by a client
type LoginInput struct {
	ClinicName string `json:"clinic_name"`
	Username   string `json:"username"`
	Password   string `json:"password"`
}

// LoginResult represents login response
type LoginResult struct {
	AccessToken  string             `json:"access_token"`
	RefreshToken string             `json:"refresh_token"`
	TokenType    string             `json:"token_type"`
	ExpiresIn    int                `json:"expires_in"` // seconds
	User         *domain.UserView   `json:"user"`
	Clinic       *domain.ClinicView `json:"clinic"`
}

// RefreshResult carries a new access token and the caller's current state
type RefreshResult struct {
	AccessToken string             `json:"access_token"`
	TokenType   string             `json:"token_type"`
	ExpiresIn   int                `json:"expires_in"`
	User        *domain.UserView   `json:"user"`
	Clinic      *domain.ClinicView `json:"clinic"`
}

// MeResult describes the authenticated caller
type MeResult struct {
	User   *domain.UserView   `json:"user"`
	Clinic *domain.ClinicView `json:"clinic"`
}

// VerifyResult is the claim summary of a valid access token
type VerifyResult struct {
	Valid       bool                 `json:"valid"`
	UserID      string               `json:"user_id"`
	ClinicID    *string              `json:"clinic_id"`
	Role        domain.Role          `json:"role"`
	Permissions domain.PermissionSet `json:"permissions"`
}

// IsSuperAdminLoginAttempt reports whether a login should first be tried
// against the platform super-admin accounts.
func (s *AuthService) IsSuperAdminLoginAttempt(clinicName, username string) bool {
	return username == s.cfg.SuperAdminUsername ||
		strings.EqualFold(strings.TrimSpace(clinicName), s.cfg.PlatformTenantName)
}

// Login authenticates a clinic user or super-admin and issues a token pair.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (result *LoginResult, err error) {
	in.ClinicName = strings.TrimSpace(in.ClinicName)
	in.Username = strings.TrimSpace(in.Username)

	ctx, span := tracing.Start(ctx, "auth.Login",
		attribute.String("clinic.name", in.ClinicName),
		attribute.String("user.username", in.Username),
	)
	defer func() { tracing.End(span, err) }()

	if in.ClinicName == "" || in.Username == "" || strings.TrimSpace(in.Password) == "" {
		return nil, domain.InvalidRequest("clinic_name, username and password are required")
	}

	if s.IsSuperAdminLoginAttempt(in.ClinicName, in.Username) {
		result, handled, err := s.loginSuperAdmin(ctx, in)
		if handled {
			return result, err
		}
	}
	return s.loginTenant(ctx, in)
}

// loginSuperAdmin returns handled=false when the caller should be tried as
// a clinic user instead: no such super-admin, or a wrong password.
func (s *AuthService) loginSuperAdmin(ctx context.Context, in LoginInput) (*LoginResult, bool, error) {
	u, err := s.users.FindSuperAdmin(ctx, in.Username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, false, nil
		}
		return nil, true, s.storeError("find super admin", err)
	}
	if !u.IsActive {
		return nil, false, nil
	}

	if s.policy.IsLocked(u, s.now()) {
		metrics.ObserveLogin("super_admin", "locked")
		s.logger.Warn("login rejected: account locked", slog.String("user_id", u.ID))
		return nil, true, domain.ErrAccountLocked
	}

	if s.hasher.Verify(in.Password, u.PasswordHash) {
		result, err := s.completeLogin(ctx, u, nil, "super_admin")
		return result, true, err
	}

	if err := s.recordFailure(ctx, u); err != nil {
		return nil, true, err
	}
	metrics.ObserveLogin("super_admin", "invalid_credentials")
	return nil, false, nil
}

func (s *AuthService) loginTenant(ctx context.Context, in LoginInput) (*LoginResult, error) {
	clinic, err := s.clinics.FindActiveByName(ctx, in.ClinicName)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.ObserveLogin("tenant", "clinic_not_found")
			return nil, domain.ErrClinicNotFound
		}
		return nil, s.storeError("find clinic", err)
	}

	now := s.now()
	if !clinic.IsSubscriptionActive(now) {
		metrics.ObserveLogin("tenant", "subscription_inactive")
		return nil, domain.ErrSubscriptionInactive
	}

	u, err := s.users.FindByClinicAndUsername(ctx, clinic.ID, in.Username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.ObserveLogin("tenant", "invalid_credentials")
			return nil, domain.ErrInvalidCredentials
		}
		return nil, s.storeError("find user", err)
	}

	if s.policy.IsLocked(u, now) {
		metrics.ObserveLogin("tenant", "locked")
		s.logger.Warn("login rejected: account locked",
			slog.String("user_id", u.ID),
			slog.String("clinic_id", clinic.ID),
		)
		return nil, domain.ErrAccountLocked
	}

	if !s.hasher.Verify(in.Password, u.PasswordHash) {
		if err := s.recordFailure(ctx, u); err != nil {
			return nil, err
		}
		metrics.ObserveLogin("tenant", "invalid_credentials")
		return nil, domain.ErrInvalidCredentials
	}

	return s.completeLogin(ctx, u, clinic, "tenant")
}

// recordFailure increments the failed-login counter under the row lock.
func (s *AuthService) recordFailure(ctx context.Context, u *domain.User) error {
	var lockedNow bool
	updated, err := s.users.UpdateLoginState(ctx, u.ID, func(cur *domain.User) {
		now := s.now()
		wasLocked := s.policy.IsLocked(cur, now)
		s.policy.RecordFailure(cur, now)
		lockedNow = !wasLocked && s.policy.IsLocked(cur, now)
	})
	if err != nil {
		return s.storeError("record failed login", err)
	}

	s.logger.Info("login failed",
		slog.String("user_id", updated.ID),
		slog.Int("failed_attempts", updated.FailedLoginAttempts),
	)
	if lockedNow {
		metrics.IncrementLockouts()
		s.logger.Warn("account locked after failed logins",
			slog.String("user_id", updated.ID),
			slog.Time("locked_until", *updated.LockedUntil),
		)
	}
	return nil
}

func (s *AuthService) completeLogin(ctx context.Context, u *domain.User, clinic *domain.Clinic, path string) (*LoginResult, error) {
	updated, err := s.users.UpdateLoginState(ctx, u.ID, func(cur *domain.User) {
		s.policy.RecordSuccess(cur, s.now())
	})
	if err != nil {
		return nil, s.storeError("record successful login", err)
	}

	access, err := s.tokens.IssueAccess(updated.Principal(), s.cfg.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}
	refresh, err := s.tokens.IssueRefresh(updated.ID, s.cfg.RefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue refresh token: %w", err)
	}

	s.audit.LogLogin(ctx, updated)
	metrics.ObserveLogin(path, "success")
	s.logger.Info("user logged in",
		slog.String("user_id", updated.ID),
		slog.String("role", updated.Role.String()),
		slog.String("login_path", path),
	)

	return &LoginResult{
		AccessToken:  access.Token,
		RefreshToken: refresh.Token,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.cfg.AccessTTL.Seconds()),
		User:         domain.NewUserView(updated, s.now()),
		Clinic:       domain.NewClinicView(clinic),
	}, nil
}

// Refresh exchanges a valid refresh token for a new access token. The user
// and clinic are re-read so deactivation takes effect immediately.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (result *RefreshResult, err error) {
	ctx, span := tracing.Start(ctx, "auth.Refresh")
	defer func() { tracing.End(span, err) }()

	claims, err := s.tokens.Verify(ctx, refreshToken, auth.TokenRefresh)
	if err != nil {
		return nil, err
	}

	u, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUserInactive
		}
		return nil, s.storeError("get user", err)
	}
	if !u.IsActive {
		return nil, domain.ErrUserInactive
	}

	clinic, err := s.activeClinicOf(ctx, u)
	if err != nil {
		return nil, err
	}

	access, err := s.tokens.IssueAccess(u.Principal(), s.cfg.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	return &RefreshResult{
		AccessToken: access.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.cfg.AccessTTL.Seconds()),
		User:        domain.NewUserView(u, s.now()),
		Clinic:      domain.NewClinicView(clinic),
	}, nil
}

// activeClinicOf returns nil for super-admins and ErrClinicUnavailable when
// a clinic user's clinic is gone, inactive or out of subscription.
func (s *AuthService) activeClinicOf(ctx context.Context, u *domain.User) (*domain.Clinic, error) {
	if u.IsSuperAdmin() {
		return nil, nil
	}
	if u.ClinicID == nil {
		return nil, domain.ErrClinicUnavailable
	}
	clinic, err := s.clinics.GetByID(ctx, *u.ClinicID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrClinicUnavailable
		}
		return nil, s.storeError("get clinic", err)
	}
	if !clinic.IsActive || !clinic.IsSubscriptionActive(s.now()) {
		return nil, domain.ErrClinicUnavailable
	}
	return clinic, nil
}

// Logout revokes the presented access token. Refresh tokens issued with it
// stay valid until they expire.
func (s *AuthService) Logout(ctx context.Context, claims *auth.Claims) error {
	if claims == nil || claims.ExpiresAt == nil {
		return domain.InvalidRequest("missing token claims")
	}
	if err := s.tokens.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return err
	}
	metrics.IncrementRevocations()

	s.audit.LogLogout(ctx, claims.Principal())
	s.logger.Info("user logged out", slog.String("user_id", claims.Subject))
	return nil
}

// Me returns the caller's current user and clinic.
func (s *AuthService) Me(ctx context.Context, p domain.Principal) (*MeResult, error) {
	u, err := s.users.GetByID(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, s.storeError("get user", err)
	}

	var clinic *domain.Clinic
	if u.ClinicID != nil {
		clinic, err = s.clinics.GetByID(ctx, *u.ClinicID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, s.storeError("get clinic", err)
		}
	}

	return &MeResult{
		User:   domain.NewUserView(u, s.now()),
		Clinic: domain.NewClinicView(clinic),
	}, nil
}

// ChangePassword replaces the caller's password after checking the current
// one. A rejected change leaves the stored hash untouched.
func (s *AuthService) ChangePassword(ctx context.Context, p domain.Principal, currentPassword, newPassword string) error {
	if currentPassword == "" || newPassword == "" {
		return domain.InvalidRequest("current_password and new_password are required")
	}

	u, err := s.users.GetByID(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrUserNotFound
		}
		return s.storeError("get user", err)
	}

	if !s.hasher.Verify(currentPassword, u.PasswordHash) {
		return domain.ErrWrongPassword
	}
	if len(newPassword) < minPasswordLength {
		return domain.InvalidRequest(fmt.Sprintf("new password must be at least %d characters long", minPasswordLength))
	}
	if len(newPassword) > maxPasswordLength {
		return domain.InvalidRequest(fmt.Sprintf("new password must be at most %d bytes long", maxPasswordLength))
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to change password: %w", err)
	}

	oldChangedAt := u.PasswordChangedAt
	changedAt := s.now().UTC()
	if err := s.users.UpdatePassword(ctx, u.ID, hash, changedAt); err != nil {
		return s.storeError("update password", err)
	}

	s.audit.LogUpdate(ctx, p, "user", u.ID,
		map[string]interface{}{"password_changed_at": formatTime(oldChangedAt)},
		map[string]interface{}{"password_changed_at": formatTime(changedAt)},
	)
	s.logger.Info("user changed password", slog.String("user_id", u.ID))
	return nil
}

// VerifyToken checks an access token and summarises its claims.
func (s *AuthService) VerifyToken(ctx context.Context, accessToken string) (*VerifyResult, error) {
	claims, err := s.tokens.Verify(ctx, accessToken, auth.TokenAccess)
	if err != nil {
		return nil, err
	}
	return NewVerifyResult(claims), nil
}

// NewVerifyResult summarises already verified claims.
func NewVerifyResult(claims *auth.Claims) *VerifyResult {
	return &VerifyResult{
		Valid:       true,
		UserID:      claims.Subject,
		ClinicID:    claims.ClinicID,
		Role:        claims.Role,
		Permissions: domain.NewPermissionSet(claims.Permissions.Slice()...),
	}
}

// storeError logs a repository failure and classifies it so it can never be
// mistaken for a credential rejection.
func (s *AuthService) storeError(op string, err error) error {
	var appErr *domain.Error
	if errors.As(err, &appErr) {
		return err
	}
	s.logger.Error("credential store failure",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	return domain.StoreUnavailable(fmt.Errorf("failed to %s: %w", op, err))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
