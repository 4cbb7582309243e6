package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourorg/clinicops/internal/domain"
	"github.com/yourorg/clinicops/internal/handler/respond"
	"github.com/yourorg/clinicops/internal/repository/memory"
	"github.com/yourorg/clinicops/internal/security"
	"github.com/yourorg/clinicops/internal/security/audit"
	"github.com/yourorg/clinicops/internal/security/auth"
	"github.com/yourorg/clinicops/internal/security/lockout"
	"github.com/yourorg/clinicops/internal/security/ratelimit"
	"github.com/yourorg/clinicops/internal/service"
)

type testServer struct {
	handler  http.Handler
	clinicID string
	otherID  string
	audits   *memory.AuditRepository
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, checks map[string]Checker) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := quietLogger()

	users := memory.NewUserRepository()
	clinics := memory.NewClinicRepository()
	audits := memory.NewAuditRepository()
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)
	tokens := auth.NewTokenManager("router-test-secret", "clinicops", auth.NewMemoryRevocationStore())
	guard := security.NewGuard(logger)
	auditLog := audit.NewLogger(logger, audits)

	authSvc := service.NewAuthService(users, clinics, hasher, tokens, lockout.NewPolicy(5, 30*time.Minute), auditLog,
		service.AuthConfig{AccessTTL: 15 * time.Minute, RefreshTTL: time.Hour}, logger)
	provisioning := service.NewProvisioningService(users, clinics, audits, hasher, guard, auditLog, logger)

	_, err := provisioning.CreateSuperAdmin(ctx, service.CreateSuperAdminInput{Username: "craft_admin", Email: "ops@craft.test", Password: "Admin123!"})
	require.NoError(t, err)

	root := domain.Principal{UserID: "seed", Role: domain.RoleSuperAdmin}
	acme, err := provisioning.CreateClinic(ctx, root, service.CreateClinicInput{Name: "Acme Dental", SubscriptionStatus: "active"})
	require.NoError(t, err)
	other, err := provisioning.CreateClinic(ctx, root, service.CreateClinicInput{Name: "Bright Smiles", SubscriptionStatus: "active"})
	require.NoError(t, err)

	_, err = provisioning.CreateUser(ctx, root, acme.ID, service.CreateUserInput{Username: "alice", Email: "alice@acme.test", Password: "Secret123!", Role: "agent"})
	require.NoError(t, err)
	_, err = provisioning.CreateUser(ctx, root, acme.ID, service.CreateUserInput{Username: "boss", Email: "boss@acme.test", Password: "Boss1234!", Role: "clinic_admin"})
	require.NoError(t, err)

	limiter := ratelimit.NewLimiter(1000, time.Minute)
	t.Cleanup(limiter.Stop)

	h := NewRouter(RouterDeps{
		Auth:        NewAuthHandler(authSvc, &LoginLimit{Limiter: limiter, Max: 8, Window: time.Minute}, logger),
		Admin:       NewAdminHandler(provisioning, logger),
		Health:      NewHealthHandler(checks, logger),
		Tokens:      tokens,
		Guard:       guard,
		Audit:       auditLog,
		Limiter:     limiter,
		CORSOrigins: []string{"*"},
		Logger:      logger,
	})
	return &testServer{handler: h, clinicID: acme.ID, otherID: other.ID, audits: audits}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) login(t *testing.T, clinic, username, password string) service.LoginResult {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/auth/login", "", service.LoginInput{ClinicName: clinic, Username: username, Password: password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res service.LoginResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	return res
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body respond.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Code
}

func TestLoginEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	res := s.login(t, "Acme Dental", "alice", "Secret123!")

	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, "alice", res.User.Username)
	require.NotNil(t, res.Clinic)
	assert.Equal(t, "Acme Dental", res.Clinic.Name)
}

func TestLoginEndpointErrors(t *testing.T) {
	s := newTestServer(t, nil)
	tests := []struct {
		name   string
		in     service.LoginInput
		status int
		code   string
	}{
		{"missing password", service.LoginInput{ClinicName: "Acme Dental", Username: "alice"}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"unknown clinic", service.LoginInput{ClinicName: "Nowhere", Username: "alice", Password: "x"}, http.StatusNotFound, "CLINIC_NOT_FOUND"},
		{"wrong password", service.LoginInput{ClinicName: "Acme Dental", Username: "alice", Password: "nope"}, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{"wrong clinic for user", service.LoginInput{ClinicName: "Bright Smiles", Username: "alice", Password: "Secret123!"}, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/auth/login", "", tt.in)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}
}

func TestLoginMalformedBody(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginLockoutReturns423(t *testing.T) {
	s := newTestServer(t, nil)
	bad := service.LoginInput{ClinicName: "Acme Dental", Username: "boss", Password: "wrong-pass"}
	for i := 0; i < 5; i++ {
		rec := s.do(t, http.MethodPost, "/api/auth/login", "", bad)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := s.do(t, http.MethodPost, "/api/auth/login", "", service.LoginInput{ClinicName: "Acme Dental", Username: "boss", Password: "Boss1234!"})
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, "ACCOUNT_LOCKED", errorCode(t, rec))
}

func TestLoginRateLimit(t *testing.T) {
	s := newTestServer(t, nil)
	in := service.LoginInput{ClinicName: "Acme Dental", Username: "alice", Password: "Secret123!"}
	for i := 0; i < 8; i++ {
		require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/auth/login", "", in).Code)
	}
	rec := s.do(t, http.MethodPost, "/api/auth/login", "", in)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", errorCode(t, rec))
}

func TestSuperAdminLoginFromAnyClinicName(t *testing.T) {
	s := newTestServer(t, nil)
	res := s.login(t, "Bright Smiles", "craft_admin", "Admin123!")
	assert.Nil(t, res.Clinic)
	assert.Equal(t, domain.RoleSuperAdmin, res.User.Role)
}

func TestMeLogoutAndRevocation(t *testing.T) {
	s := newTestServer(t, nil)
	res := s.login(t, "Acme Dental", "alice", "Secret123!")

	rec := s.do(t, http.MethodGet, "/api/auth/me", res.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me service.MeResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&me))
	assert.Equal(t, "alice", me.User.Username)

	rec = s.do(t, http.MethodPost, "/api/auth/logout", res.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/auth/me", res.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_REVOKED", errorCode(t, rec))

	rec = s.do(t, http.MethodPost, "/api/auth/refresh", res.RefreshToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRefreshEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	res := s.login(t, "Acme Dental", "alice", "Secret123!")

	rec := s.do(t, http.MethodPost, "/api/auth/refresh", res.RefreshToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var refreshed service.RefreshResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&refreshed))
	assert.NotEmpty(t, refreshed.AccessToken)

	rec = s.do(t, http.MethodGet, "/api/auth/me", refreshed.AccessToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/auth/refresh", res.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/auth/refresh", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVerifyTokenEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	res := s.login(t, "Acme Dental", "alice", "Secret123!")

	rec := s.do(t, http.MethodPost, "/api/auth/verify-token", res.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var v service.VerifyResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	assert.True(t, v.Valid)
	assert.Equal(t, res.User.ID, v.UserID)
	require.NotNil(t, v.ClinicID)
	assert.Equal(t, s.clinicID, *v.ClinicID)
	assert.Equal(t, domain.RoleAgent, v.Role)
}

func TestChangePasswordEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	res := s.login(t, "Acme Dental", "alice", "Secret123!")

	rec := s.do(t, http.MethodPost, "/api/auth/change-password", res.AccessToken, ChangePasswordRequest{CurrentPassword: "Secret123!", NewPassword: "short"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/auth/change-password", res.AccessToken, ChangePasswordRequest{CurrentPassword: "Secret123!", NewPassword: strings.Repeat("a", 80)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, rec))

	rec = s.do(t, http.MethodPost, "/api/auth/change-password", res.AccessToken, ChangePasswordRequest{CurrentPassword: "Secret123!", NewPassword: "NewSecret456!"})
	require.Equal(t, http.StatusOK, rec.Code)

	s.login(t, "Acme Dental", "alice", "NewSecret456!")
}

func TestAdminClinicRoutesRequireSuperAdmin(t *testing.T) {
	s := newTestServer(t, nil)
	agent := s.login(t, "Acme Dental", "alice", "Secret123!")
	root := s.login(t, "Craft AI", "craft_admin", "Admin123!")

	rec := s.do(t, http.MethodGet, "/api/admin/clinics", agent.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/admin/clinics", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/admin/clinics", root.AccessToken, service.CreateClinicInput{Name: "New Clinic"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/admin/clinics", root.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list clinicsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Len(t, list.Clinics, 3)
	assert.Equal(t, domain.Pagination{Page: 1, PerPage: domain.DefaultPerPage, Total: 3, Pages: 1}, list.Pagination)

	inactive := false
	rec = s.do(t, http.MethodPatch, "/api/admin/clinics/"+s.otherID, root.AccessToken, service.UpdateClinicInput{IsActive: &inactive})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/auth/login", "", service.LoginInput{ClinicName: "Bright Smiles", Username: "x", Password: "y"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClinicUserRoutesAreTenantScoped(t *testing.T) {
	s := newTestServer(t, nil)
	boss := s.login(t, "Acme Dental", "boss", "Boss1234!")
	agent := s.login(t, "Acme Dental", "alice", "Secret123!")

	newUser := service.CreateUserInput{Username: "carol", Email: "carol@acme.test", Password: "Carol1234", Role: "agent"}

	rec := s.do(t, http.MethodPost, "/api/clinics/"+s.clinicID+"/users", boss.AccessToken, newUser)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/clinics/"+s.clinicID+"/users", boss.AccessToken, newUser)
	assert.Equal(t, http.StatusConflict, rec.Code)

	longPassword := newUser
	longPassword.Username = "dave"
	longPassword.Password = strings.Repeat("a", 100)
	rec = s.do(t, http.MethodPost, "/api/clinics/"+s.clinicID+"/users", boss.AccessToken, longPassword)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/clinics/"+s.otherID+"/users", boss.AccessToken, newUser)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/clinics/"+s.clinicID+"/users", agent.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/clinics/"+s.clinicID+"/users", boss.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var users usersResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&users))
	assert.Len(t, users.Users, 3)

	rec = s.do(t, http.MethodGet, "/api/clinics/"+s.clinicID+"/audit-logs?limit=5", boss.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var logs auditLogsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&logs))
	assert.NotEmpty(t, logs.AuditLogs)
	assert.LessOrEqual(t, len(logs.AuditLogs), 5)

	rec = s.do(t, http.MethodGet, "/api/clinics/"+s.clinicID+"/audit-logs?limit=abc", boss.AccessToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminClinicListingQuery(t *testing.T) {
	s := newTestServer(t, nil)
	root := s.login(t, "Craft AI", "craft_admin", "Admin123!")

	rec := s.do(t, http.MethodGet, "/api/admin/clinics?search=acme&status=active", root.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list clinicsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Clinics, 1)
	assert.Equal(t, "Acme Dental", list.Clinics[0].Name)

	rec = s.do(t, http.MethodGet, "/api/admin/clinics?page=2&per_page=1", root.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list = clinicsResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Clinics, 1)
	assert.Equal(t, "Bright Smiles", list.Clinics[0].Name)
	assert.Equal(t, domain.Pagination{Page: 2, PerPage: 1, Total: 2, Pages: 2}, list.Pagination)

	for _, query := range []string{"page=0", "per_page=abc", "status=gold", "include_deleted=maybe"} {
		rec = s.do(t, http.MethodGet, "/api/admin/clinics?"+query, root.AccessToken, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestDeleteClinicEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	root := s.login(t, "Craft AI", "craft_admin", "Admin123!")
	boss := s.login(t, "Acme Dental", "boss", "Boss1234!")

	rec := s.do(t, http.MethodDelete, "/api/admin/clinics/"+s.otherID, boss.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/admin/clinics/"+s.otherID, root.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var deleted clinicResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&deleted))
	assert.NotNil(t, deleted.Clinic.DeletedAt)
	assert.False(t, deleted.Clinic.IsActive)

	rec = s.do(t, http.MethodDelete, "/api/admin/clinics/"+s.otherID, root.AccessToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/admin/clinics", root.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list clinicsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Len(t, list.Clinics, 1)

	rec = s.do(t, http.MethodGet, "/api/admin/clinics?include_deleted=true", root.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list = clinicsResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Len(t, list.Clinics, 2)

	rec = s.do(t, http.MethodPost, "/api/auth/login", "", service.LoginInput{ClinicName: "Bright Smiles", Username: "x", Password: "y"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMalformedClinicIDReturns400(t *testing.T) {
	s := newTestServer(t, nil)
	root := s.login(t, "Craft AI", "craft_admin", "Admin123!")
	boss := s.login(t, "Acme Dental", "boss", "Boss1234!")
	active := true

	rec := s.do(t, http.MethodPatch, "/api/admin/clinics/not-a-uuid", root.AccessToken, service.UpdateClinicInput{IsActive: &active})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, rec))

	rec = s.do(t, http.MethodDelete, "/api/admin/clinics/not-a-uuid", root.AccessToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/clinics/not-a-uuid/users", root.AccessToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/clinics/not-a-uuid/audit-logs", root.AccessToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/admin/users?clinic_id=not-a-uuid", root.AccessToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// tenant scoping still answers first for clinic members
	rec = s.do(t, http.MethodGet, "/api/clinics/not-a-uuid/users", boss.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPlatformUserListing(t *testing.T) {
	s := newTestServer(t, nil)
	root := s.login(t, "Craft AI", "craft_admin", "Admin123!")
	boss := s.login(t, "Acme Dental", "boss", "Boss1234!")

	rec := s.do(t, http.MethodGet, "/api/admin/users", boss.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/admin/users", root.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var users usersResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&users))
	assert.Len(t, users.Users, 3)
	require.NotNil(t, users.Pagination)
	assert.Equal(t, 3, users.Pagination.Total)

	rec = s.do(t, http.MethodGet, "/api/admin/users?role=clinic_admin&clinic_id="+s.clinicID, root.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	users = usersResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&users))
	require.Len(t, users.Users, 1)
	assert.Equal(t, "boss", users.Users[0].Username)

	rec = s.do(t, http.MethodGet, "/api/admin/users?search=ALICE@", root.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	users = usersResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&users))
	require.Len(t, users.Users, 1)
	assert.Equal(t, "alice", users.Users[0].Username)

	rec = s.do(t, http.MethodGet, "/api/admin/users?role=owner", root.AccessToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlatformAuditListing(t *testing.T) {
	s := newTestServer(t, nil)
	root := s.login(t, "Craft AI", "craft_admin", "Admin123!")
	boss := s.login(t, "Acme Dental", "boss", "Boss1234!")

	rec := s.do(t, http.MethodGet, "/api/admin/audit-logs", boss.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/admin/audit-logs?action=create&resource_type=clinic&per_page=1", root.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var logs auditLogsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&logs))
	require.Len(t, logs.AuditLogs, 1)
	assert.Equal(t, domain.AuditCreate, logs.AuditLogs[0].Action)
	require.NotNil(t, logs.Pagination)
	assert.Equal(t, 2, logs.Pagination.Total)
	assert.Equal(t, 2, logs.Pagination.Pages)

	rec = s.do(t, http.MethodGet, "/api/admin/audit-logs?clinic_id="+s.otherID+"&action=create", root.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	logs = auditLogsResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&logs))
	require.Len(t, logs.AuditLogs, 1)
	assert.Equal(t, s.otherID, logs.AuditLogs[0].ResourceID)
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t, map[string]Checker{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})

	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var ready ReadinessResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&ready))
	assert.Equal(t, "ok", ready.Checks["postgres"])
	assert.Contains(t, ready.Checks["redis"], "connection refused")

	rec = s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
