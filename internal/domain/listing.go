package domain

import "strings"

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Page selects a window of a listing. Number starts at 1.
type Page struct {
	Number  int
	PerPage int
}

// Normalize fills in defaults and caps PerPage at MaxPerPage.
func (p Page) Normalize(defaultPerPage int) Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.PerPage < 1 {
		p.PerPage = defaultPerPage
	}
	if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
	return p
}

// Offset is the number of rows before the page.
func (p Page) Offset() int {
	return (p.Number - 1) * p.PerPage
}

// Bounds returns the slice bounds of the page within total rows.
func (p Page) Bounds(total int) (lo, hi int) {
	lo = p.Offset()
	if lo > total {
		lo = total
	}
	hi = lo + p.PerPage
	if hi > total {
		hi = total
	}
	return lo, hi
}

// Pagination describes a returned page
type Pagination struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Total   int `json:"total"`
	Pages   int `json:"pages"`
}

func NewPagination(p Page, total int) Pagination {
	pages := 0
	if p.PerPage > 0 {
		pages = (total + p.PerPage - 1) / p.PerPage
	}
	return Pagination{Page: p.Number, PerPage: p.PerPage, Total: total, Pages: pages}
}

// ClinicFilter narrows a clinic listing. Deleted clinics are left out
// unless IncludeDeleted is set.
type ClinicFilter struct {
	Search         string
	Status         SubscriptionStatus
	Plan           string
	IncludeDeleted bool
	Page           Page
}

// Matches reports whether c passes every set criterion.
func (f ClinicFilter) Matches(c *Clinic) bool {
	if !f.IncludeDeleted && c.DeletedAt != nil {
		return false
	}
	if f.Search != "" && !containsFold(c.Name, f.Search) {
		return false
	}
	if f.Status != "" && c.SubscriptionStatus != f.Status {
		return false
	}
	if f.Plan != "" && c.SubscriptionPlan != f.Plan {
		return false
	}
	return true
}

// UserFilter narrows a platform-wide user listing. Search matches username
// or email.
type UserFilter struct {
	Search   string
	Role     *Role
	ClinicID string
	Page     Page
}

func (f UserFilter) Matches(u *User) bool {
	if f.Search != "" && !containsFold(u.Username, f.Search) && !containsFold(u.Email, f.Search) {
		return false
	}
	if f.Role != nil && u.Role != *f.Role {
		return false
	}
	if f.ClinicID != "" && (u.ClinicID == nil || *u.ClinicID != f.ClinicID) {
		return false
	}
	return true
}

// AuditFilter narrows a platform-wide audit listing
type AuditFilter struct {
	ClinicID     string
	Action       AuditAction
	ResourceType string
	Page         Page
}

func (f AuditFilter) Matches(e *AuditEvent) bool {
	if f.ClinicID != "" && (e.ClinicID == nil || *e.ClinicID != f.ClinicID) {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	return true
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
