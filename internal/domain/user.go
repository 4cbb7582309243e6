package domain

import (
	"context"
	"strings"
	"time"
)

// User represents a clinic staff member or a platform super-admin
type User struct {
	ID                  string  // UUID
	ClinicID            *string // nil only for super-admins
	Username            string  // Unique within a clinic
	Email               string
	FirstName           string
	LastName            string
	PasswordHash        string // Bcrypt hashed password (not returned in API)
	Role                Role
	Permissions         PermissionSet
	IsActive            bool
	FailedLoginAttempts int
	LockedUntil         *time.Time
	LastLoginAt         *time.Time
	PasswordChangedAt   time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (u *User) IsSuperAdmin() bool {
	return u.Role == RoleSuperAdmin
}

// Principal returns the claim bundle embedded in this user's access tokens
func (u *User) Principal() Principal {
	return Principal{
		UserID:      u.ID,
		ClinicID:    u.ClinicID,
		Role:        u.Role,
		Permissions: NewPermissionSet(u.Permissions.Slice()...),
	}
}

// Principal is the resolved identity of a caller: who they are, which clinic
// they act for and what they may do.
type Principal struct {
	UserID      string
	ClinicID    *string
	Role        Role
	Permissions PermissionSet
}

// SubscriptionStatus of a clinic account
type SubscriptionStatus string

const (
	SubscriptionTrial     SubscriptionStatus = "trial"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionSuspended SubscriptionStatus = "suspended"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionTrial, SubscriptionActive, SubscriptionSuspended, SubscriptionCancelled:
		return true
	}
	return false
}

// Clinic represents a tenant
type Clinic struct {
	ID                    string // UUID
	Name                  string // Unique clinic name
	Slug                  string
	SubscriptionStatus    SubscriptionStatus
	SubscriptionPlan      string
	SubscriptionExpiresAt *time.Time
	MaxUsers              int
	IsActive              bool
	CreatedBy             *string
	DeletedAt             *time.Time // soft delete; deleted clinics are also inactive
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// IsSubscriptionActive is true when the status is active and the
// subscription has no expiry or expires strictly after now.
func (c *Clinic) IsSubscriptionActive(now time.Time) bool {
	if c.SubscriptionStatus != SubscriptionActive {
		return false
	}
	if c.SubscriptionExpiresAt != nil && !c.SubscriptionExpiresAt.After(now) {
		return false
	}
	return true
}

// Slugify derives the URL slug of a clinic name.
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer(" ", "-", "_", "-").Replace(s)
}

// UserRepository defines data access for users
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	// FindByClinicAndUsername returns the active user with username in clinicID.
	FindByClinicAndUsername(ctx context.Context, clinicID, username string) (*User, error)
	// FindSuperAdmin returns the super-admin with username, regardless of clinic.
	FindSuperAdmin(ctx context.Context, username string) (*User, error)
	// UpdateLoginState applies fn to the current row under a row lock and
	// persists the counter, lock expiry and last-login fields it changed.
	UpdateLoginState(ctx context.Context, id string, fn func(*User)) (*User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error
	ListByClinic(ctx context.Context, clinicID string) ([]*User, error)
	// List returns one page of users matching filter and the total match count.
	List(ctx context.Context, filter UserFilter) ([]*User, int, error)
}

// ClinicRepository defines data access for clinics
type ClinicRepository interface {
	Create(ctx context.Context, clinic *Clinic) error
	GetByID(ctx context.Context, id string) (*Clinic, error)
	// FindActiveByName matches the name exactly and only active clinics.
	FindActiveByName(ctx context.Context, name string) (*Clinic, error)
	// Update writes status, subscription, limit and deletion fields of an
	// existing clinic.
	Update(ctx context.Context, clinic *Clinic) error
	// List returns one page of clinics matching filter, ordered by name, and
	// the total match count.
	List(ctx context.Context, filter ClinicFilter) ([]*Clinic, int, error)
}

// UserView is the API representation of a user.
type UserView struct {
	ID          string        `json:"id"`
	ClinicID    *string       `json:"clinic_id"`
	Username    string        `json:"username"`
	Email       string        `json:"email"`
	FirstName   string        `json:"first_name"`
	LastName    string        `json:"last_name"`
	Role        Role          `json:"role"`
	Permissions PermissionSet `json:"permissions"`
	IsActive    bool          `json:"is_active"`
	IsLocked    bool          `json:"is_locked"`
	LastLoginAt *time.Time    `json:"last_login_at"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func NewUserView(u *User, now time.Time) *UserView {
	return &UserView{
		ID:          u.ID,
		ClinicID:    u.ClinicID,
		Username:    u.Username,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Role:        u.Role,
		Permissions: NewPermissionSet(u.Permissions.Slice()...),
		IsActive:    u.IsActive,
		IsLocked:    u.LockedUntil != nil && u.LockedUntil.After(now),
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

// ClinicView is the API representation of a clinic.
type ClinicView struct {
	ID                    string             `json:"id"`
	Name                  string             `json:"name"`
	Slug                  string             `json:"slug"`
	SubscriptionStatus    SubscriptionStatus `json:"subscription_status"`
	SubscriptionPlan      string             `json:"subscription_plan"`
	SubscriptionExpiresAt *time.Time         `json:"subscription_expires_at"`
	MaxUsers              int                `json:"max_users"`
	IsActive              bool               `json:"is_active"`
	DeletedAt             *time.Time         `json:"deleted_at,omitempty"`
	CreatedAt             time.Time          `json:"created_at"`
	UpdatedAt             time.Time          `json:"updated_at"`
}

// NewClinicView returns nil for a nil clinic so super-admin responses carry
// "clinic": null.
func NewClinicView(c *Clinic) *ClinicView {
	if c == nil {
		return nil
	}
	return &ClinicView{
		ID:                    c.ID,
		Name:                  c.Name,
		Slug:                  c.Slug,
		SubscriptionStatus:    c.SubscriptionStatus,
		SubscriptionPlan:      c.SubscriptionPlan,
		SubscriptionExpiresAt: c.SubscriptionExpiresAt,
		MaxUsers:              c.MaxUsers,
		IsActive:              c.IsActive,
		DeletedAt:             c.DeletedAt,
		CreatedAt:             c.CreatedAt,
		UpdatedAt:             c.UpdatedAt,
	}
}
