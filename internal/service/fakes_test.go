package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yourorg/clinicops/internal/domain"
)

// memUserRepo is an in-memory domain.UserRepository. It hands out copies so
// callers cannot change stored state without going through the repository.
type memUserRepo struct {
	mu    sync.Mutex
	byID  map[string]*domain.User
	err   error // returned by every call when set
	calls int
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{byID: map[string]*domain.User{}}
}

func cloneUser(u *domain.User) *domain.User {
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

func (m *memUserRepo) Create(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, existing := range m.byID {
		sameClinic := (existing.ClinicID == nil && u.ClinicID == nil) ||
			(existing.ClinicID != nil && u.ClinicID != nil && *existing.ClinicID == *u.ClinicID)
		if sameClinic && existing.Username == u.Username {
			return domain.ErrDuplicate
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	m.byID[u.ID] = cloneUser(u)
	return nil
}

func (m *memUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if u, ok := m.byID[id]; ok {
		return cloneUser(u), nil
	}
	return nil, domain.ErrNotFound
}

func (m *memUserRepo) FindByClinicAndUsername(_ context.Context, clinicID, username string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, u := range m.byID {
		if u.ClinicID != nil && *u.ClinicID == clinicID && u.Username == username && u.IsActive {
			return cloneUser(u), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memUserRepo) FindSuperAdmin(_ context.Context, username string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, u := range m.byID {
		if u.Role == domain.RoleSuperAdmin && u.Username == username {
			return cloneUser(u), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memUserRepo) UpdateLoginState(_ context.Context, id string, fn func(*domain.User)) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	u, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now()
	return cloneUser(u), nil
}

func (m *memUserRepo) UpdatePassword(_ context.Context, id, hash string, changedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	u, ok := m.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.PasswordHash = hash
	u.PasswordChangedAt = changedAt
	return nil
}

func (m *memUserRepo) ListByClinic(_ context.Context, clinicID string) ([]*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := []*domain.User{}
	for _, u := range m.byID {
		if u.ClinicID != nil && *u.ClinicID == clinicID {
			out = append(out, cloneUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (m *memUserRepo) List(_ context.Context, filter domain.UserFilter) ([]*domain.User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, 0, m.err
	}
	matched := []*domain.User{}
	for _, u := range m.byID {
		if filter.Matches(u) {
			matched = append(matched, cloneUser(u))
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Username < matched[j].Username })
	lo, hi := filter.Page.Bounds(len(matched))
	return matched[lo:hi], len(matched), nil
}

// stored returns the live record for assertions.
func (m *memUserRepo) stored(id string) *domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneUser(m.byID[id])
}

type memClinicRepo struct {
	mu   sync.Mutex
	byID map[string]*domain.Clinic
	err  error
}

func newMemClinicRepo() *memClinicRepo {
	return &memClinicRepo{byID: map[string]*domain.Clinic{}}
}

func (m *memClinicRepo) Create(_ context.Context, c *domain.Clinic) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, existing := range m.byID {
		if existing.Name == c.Name {
			return domain.ErrDuplicate
		}
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	cp := *c
	m.byID[c.ID] = &cp
	return nil
}

func (m *memClinicRepo) GetByID(_ context.Context, id string) (*domain.Clinic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if c, ok := m.byID[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memClinicRepo) FindActiveByName(_ context.Context, name string) (*domain.Clinic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, c := range m.byID {
		if c.Name == name && c.IsActive {
			cp := *c
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memClinicRepo) Update(_ context.Context, c *domain.Clinic) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.byID[c.ID]; !ok {
		return domain.ErrNotFound
	}
	c.UpdatedAt = time.Now()
	cp := *c
	m.byID[c.ID] = &cp
	return nil
}

func (m *memClinicRepo) List(_ context.Context, filter domain.ClinicFilter) ([]*domain.Clinic, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, 0, m.err
	}
	matched := []*domain.Clinic{}
	for _, c := range m.byID {
		if filter.Matches(c) {
			cp := *c
			matched = append(matched, &cp)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })
	lo, hi := filter.Page.Bounds(len(matched))
	return matched[lo:hi], len(matched), nil
}

type memAuditRepo struct {
	mu     sync.Mutex
	events []*domain.AuditEvent
}

func (m *memAuditRepo) Create(_ context.Context, e *domain.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memAuditRepo) ListByClinic(_ context.Context, clinicID string, limit int) ([]*domain.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.AuditEvent{}
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.events[i]
		if e.ClinicID != nil && *e.ClinicID == clinicID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memAuditRepo) List(_ context.Context, filter domain.AuditFilter) ([]*domain.AuditEvent, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := []*domain.AuditEvent{}
	for i := len(m.events) - 1; i >= 0; i-- {
		if filter.Matches(m.events[i]) {
			matched = append(matched, m.events[i])
		}
	}
	lo, hi := filter.Page.Bounds(len(matched))
	return matched[lo:hi], len(matched), nil
}

func (m *memAuditRepo) actions() []domain.AuditAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.AuditAction, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Action)
	}
	return out
}

var errDBDown = errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")
