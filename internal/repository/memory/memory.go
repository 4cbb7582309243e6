// Package memory holds in-memory repositories. The server uses them when
// FLAG_MEMORY_STORE is set so it can run without Postgres; state is lost on
// restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yourorg/clinicops/internal/domain"
)

// UserRepository implements domain.UserRepository. Records are copied on the
// way in and out.
type UserRepository struct {
	mu    sync.Mutex
	users map[string]*domain.User
	now   func() time.Time
}

func NewUserRepository() *UserRepository {
	return &UserRepository{users: make(map[string]*domain.User), now: time.Now}
}

func copyUser(u *domain.User) *domain.User {
	c := *u
	c.Permissions = domain.NewPermissionSet(u.Permissions.Slice()...)
	if u.ClinicID != nil {
		id := *u.ClinicID
		c.ClinicID = &id
	}
	if u.LockedUntil != nil {
		t := *u.LockedUntil
		c.LockedUntil = &t
	}
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		c.LastLoginAt = &t
	}
	return &c
}

func sameClinic(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (r *UserRepository) Create(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Username != u.Username {
			continue
		}
		if sameClinic(existing.ClinicID, u.ClinicID) {
			return domain.ErrDuplicate
		}
		if existing.Role == domain.RoleSuperAdmin && u.Role == domain.RoleSuperAdmin {
			return domain.ErrDuplicate
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = r.now().UTC()
	u.UpdatedAt = u.CreatedAt
	r.users[u.ID] = copyUser(u)
	return nil
}

func (r *UserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyUser(u), nil
}

func (r *UserRepository) FindByClinicAndUsername(_ context.Context, clinicID, username string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ClinicID != nil && *u.ClinicID == clinicID && u.Username == username && u.IsActive {
			return copyUser(u), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *UserRepository) FindSuperAdmin(_ context.Context, username string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Role == domain.RoleSuperAdmin && u.Username == username {
			return copyUser(u), nil
		}
	}
	return nil, domain.ErrNotFound
}

// UpdateLoginState runs fn under the repository lock, which serializes
// concurrent updates the way the row lock does in Postgres.
func (r *UserRepository) UpdateLoginState(_ context.Context, id string, fn func(*domain.User)) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	fn(u)
	u.UpdatedAt = r.now().UTC()
	return copyUser(u), nil
}

func (r *UserRepository) UpdatePassword(_ context.Context, id, passwordHash string, changedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.PasswordChangedAt = changedAt
	u.UpdatedAt = r.now().UTC()
	return nil
}

func (r *UserRepository) ListByClinic(_ context.Context, clinicID string) ([]*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*domain.User{}
	for _, u := range r.users {
		if u.ClinicID != nil && *u.ClinicID == clinicID {
			out = append(out, copyUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// List orders users by username.
func (r *UserRepository) List(_ context.Context, filter domain.UserFilter) ([]*domain.User, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	matched := []*domain.User{}
	for _, u := range r.users {
		if filter.Matches(u) {
			matched = append(matched, u)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Username < matched[j].Username })
	lo, hi := filter.Page.Bounds(len(matched))
	out := make([]*domain.User, 0, hi-lo)
	for _, u := range matched[lo:hi] {
		out = append(out, copyUser(u))
	}
	return out, len(matched), nil
}

// ClinicRepository implements domain.ClinicRepository
type ClinicRepository struct {
	mu      sync.Mutex
	clinics map[string]*domain.Clinic
	now     func() time.Time
}

func NewClinicRepository() *ClinicRepository {
	return &ClinicRepository{clinics: make(map[string]*domain.Clinic), now: time.Now}
}

func (r *ClinicRepository) Create(_ context.Context, c *domain.Clinic) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.clinics {
		if existing.Name == c.Name || (c.Slug != "" && existing.Slug == c.Slug) {
			return domain.ErrDuplicate
		}
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = r.now().UTC()
	c.UpdatedAt = c.CreatedAt
	cp := *c
	r.clinics[c.ID] = &cp
	return nil
}

func (r *ClinicRepository) GetByID(_ context.Context, id string) (*domain.Clinic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clinics[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *ClinicRepository) FindActiveByName(_ context.Context, name string) (*domain.Clinic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clinics {
		if c.Name == name && c.IsActive {
			cp := *c
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *ClinicRepository) Update(_ context.Context, c *domain.Clinic) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clinics[c.ID]; !ok {
		return domain.ErrNotFound
	}
	c.UpdatedAt = r.now().UTC()
	cp := *c
	r.clinics[c.ID] = &cp
	return nil
}

func (r *ClinicRepository) List(_ context.Context, filter domain.ClinicFilter) ([]*domain.Clinic, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	matched := []*domain.Clinic{}
	for _, c := range r.clinics {
		if filter.Matches(c) {
			cp := *c
			matched = append(matched, &cp)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })
	lo, hi := filter.Page.Bounds(len(matched))
	return matched[lo:hi], len(matched), nil
}

// AuditRepository implements domain.AuditRepository as an append-only slice
type AuditRepository struct {
	mu     sync.Mutex
	events []*domain.AuditEvent
}

func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

func (r *AuditRepository) Create(_ context.Context, e *domain.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.events = append(r.events, &cp)
	return nil
}

// ListByClinic returns the newest events first.
func (r *AuditRepository) ListByClinic(_ context.Context, clinicID string, limit int) ([]*domain.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*domain.AuditEvent{}
	for i := len(r.events) - 1; i >= 0 && len(out) < limit; i-- {
		if e := r.events[i]; e.ClinicID != nil && *e.ClinicID == clinicID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// List returns the newest events first.
func (r *AuditRepository) List(_ context.Context, filter domain.AuditFilter) ([]*domain.AuditEvent, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	matched := []*domain.AuditEvent{}
	for i := len(r.events) - 1; i >= 0; i-- {
		if e := r.events[i]; filter.Matches(e) {
			cp := *e
			matched = append(matched, &cp)
		}
	}
	lo, hi := filter.Page.Bounds(len(matched))
	return matched[lo:hi], len(matched), nil
}

// Len returns the number of stored events.
func (r *AuditRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}
