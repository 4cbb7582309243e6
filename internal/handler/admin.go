package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/yourorg/clinicops/internal/domain"
	"github.com/yourorg/clinicops/internal/handler/respond"
	"github.com/yourorg/clinicops/internal/security/middleware"
	"github.com/yourorg/clinicops/internal/service"
)

// AdminHandler serves clinic and user provisioning
type AdminHandler struct {
	provisioning *service.ProvisioningService
	logger       *slog.Logger
}

func NewAdminHandler(provisioning *service.ProvisioningService, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{provisioning: provisioning, logger: logger}
}

type clinicsResponse struct {
	Clinics    []*domain.ClinicView `json:"clinics"`
	Pagination domain.Pagination    `json:"pagination"`
}

type clinicResponse struct {
	Clinic *domain.ClinicView `json:"clinic"`
}

type usersResponse struct {
	Users      []*domain.UserView `json:"users"`
	Pagination *domain.Pagination `json:"pagination,omitempty"`
}

type userResponse struct {
	User *domain.UserView `json:"user"`
}

type auditLogsResponse struct {
	AuditLogs  []*domain.AuditEvent `json:"audit_logs"`
	Pagination *domain.Pagination   `json:"pagination,omitempty"`
}

// ListClinics handles GET /api/admin/clinics with the optional query
// parameters search, status, plan, include_deleted, page and per_page.
func (h *AdminHandler) ListClinics(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page, err := pageFromQuery(q)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	filter := domain.ClinicFilter{
		Search: strings.TrimSpace(q.Get("search")),
		Status: domain.SubscriptionStatus(q.Get("status")),
		Plan:   q.Get("plan"),
		Page:   page,
	}
	if raw := q.Get("include_deleted"); raw != "" {
		if filter.IncludeDeleted, err = strconv.ParseBool(raw); err != nil {
			respond.Error(w, h.logger, domain.InvalidRequest("include_deleted must be a boolean"))
			return
		}
	}

	clinics, pagination, err := h.provisioning.ListClinics(r.Context(), p, filter)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, clinicsResponse{Clinics: clinics, Pagination: pagination})
}

// CreateClinic handles POST /api/admin/clinics
func (h *AdminHandler) CreateClinic(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var in service.CreateClinicInput
	if err := decodeJSON(w, r, &in); err != nil {
		respond.Error(w, h.logger, domain.InvalidRequest("invalid request body"))
		return
	}
	clinic, err := h.provisioning.CreateClinic(r.Context(), p, in)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusCreated, clinicResponse{Clinic: clinic})
}

// UpdateClinic handles PATCH /api/admin/clinics/{clinicID}
func (h *AdminHandler) UpdateClinic(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var in service.UpdateClinicInput
	if err := decodeJSON(w, r, &in); err != nil {
		respond.Error(w, h.logger, domain.InvalidRequest("invalid request body"))
		return
	}
	clinic, err := h.provisioning.UpdateClinic(r.Context(), p, chi.URLParam(r, "clinicID"), in)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, clinicResponse{Clinic: clinic})
}

// DeleteClinic handles DELETE /api/admin/clinics/{clinicID}
func (h *AdminHandler) DeleteClinic(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	clinic, err := h.provisioning.DeleteClinic(r.Context(), p, chi.URLParam(r, "clinicID"))
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, clinicResponse{Clinic: clinic})
}

// ListPlatformUsers handles GET /api/admin/users with the optional query
// parameters search, role, clinic_id, page and per_page.
func (h *AdminHandler) ListPlatformUsers(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page, err := pageFromQuery(q)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	filter := domain.UserFilter{
		Search:   strings.TrimSpace(q.Get("search")),
		ClinicID: q.Get("clinic_id"),
		Page:     page,
	}
	if raw := q.Get("role"); raw != "" {
		role, err := domain.ParseRole(raw)
		if err != nil {
			respond.Error(w, h.logger, domain.InvalidRequest(err.Error()))
			return
		}
		filter.Role = &role
	}

	users, pagination, err := h.provisioning.ListUsers(r.Context(), p, filter)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, usersResponse{Users: users, Pagination: &pagination})
}

// ListPlatformAuditLogs handles GET /api/admin/audit-logs with the optional
// query parameters clinic_id, action, resource_type, page and per_page.
func (h *AdminHandler) ListPlatformAuditLogs(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page, err := pageFromQuery(q)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	filter := domain.AuditFilter{
		ClinicID:     q.Get("clinic_id"),
		Action:       domain.AuditAction(q.Get("action")),
		ResourceType: q.Get("resource_type"),
		Page:         page,
	}

	events, pagination, err := h.provisioning.ListPlatformAuditEvents(r.Context(), p, filter)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, auditLogsResponse{AuditLogs: events, Pagination: &pagination})
}

// ListUsers handles GET /api/clinics/{clinicID}/users
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	users, err := h.provisioning.ListClinicUsers(r.Context(), p, chi.URLParam(r, "clinicID"))
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, usersResponse{Users: users})
}

// CreateUser handles POST /api/clinics/{clinicID}/users
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var in service.CreateUserInput
	if err := decodeJSON(w, r, &in); err != nil {
		respond.Error(w, h.logger, domain.InvalidRequest("invalid request body"))
		return
	}
	user, err := h.provisioning.CreateUser(r.Context(), p, chi.URLParam(r, "clinicID"), in)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusCreated, userResponse{User: user})
}

// ListAuditLogs handles GET /api/clinics/{clinicID}/audit-logs?limit=N
func (h *AdminHandler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respond.Error(w, h.logger, domain.InvalidRequest("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	events, err := h.provisioning.ListAuditEvents(r.Context(), p, chi.URLParam(r, "clinicID"), limit)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, auditLogsResponse{AuditLogs: events})
}

// pageFromQuery reads page and per_page. Missing values are left zero for
// the service to default.
func pageFromQuery(q url.Values) (domain.Page, error) {
	var page domain.Page
	for _, f := range []struct {
		name string
		dst  *int
	}{
		{"page", &page.Number},
		{"per_page", &page.PerPage},
	} {
		raw := q.Get(f.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return domain.Page{}, domain.InvalidRequest(f.name + " must be a positive integer")
		}
		*f.dst = n
	}
	return page, nil
}

func (h *AdminHandler) principal(w http.ResponseWriter, r *http.Request) (domain.Principal, bool) {
	p, ok := middleware.GetPrincipalFromContext(r.Context())
	if !ok {
		respond.Message(w, http.StatusUnauthorized, "authentication required", "UNAUTHORIZED")
	}
	return p, ok
}
