package middleware

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/clinicops/internal/domain"
	"github.com/yourorg/clinicops/internal/handler/respond"
	"github.com/yourorg/clinicops/internal/security"
	"github.com/yourorg/clinicops/internal/security/audit"
	"github.com/yourorg/clinicops/internal/security/auth"
	"github.com/yourorg/clinicops/internal/security/ratelimit"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTokens() *auth.TokenManager {
	return auth.NewTokenManager("middleware-secret", "clinicops", auth.NewMemoryRevocationStore())
}

func agentPrincipal(clinicID string) domain.Principal {
	return domain.Principal{
		UserID:      "user-1",
		ClinicID:    &clinicID,
		Role:        domain.RoleAgent,
		Permissions: domain.NewPermissionSet("calls:read"),
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) respond.ErrorResponse {
	t.Helper()
	var body respond.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestAuthenticateStoresClaims(t *testing.T) {
	tm := newTokens()
	issued, err := tm.IssueAccess(agentPrincipal("clinic-a"), time.Minute)
	require.NoError(t, err)

	var got domain.Principal
	h := Authenticate(tm, auth.TokenAccess, quietLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := GetPrincipalFromContext(r.Context())
		require.True(t, ok)
		got = p
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+issued.Token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "clinic-a", *got.ClinicID)
	assert.True(t, got.Permissions.Has("calls:read"))
}

func TestAuthenticateRejections(t *testing.T) {
	tm := newTokens()
	refresh, err := tm.IssueRefresh("user-1", time.Minute)
	require.NoError(t, err)
	revoked, err := tm.IssueAccess(agentPrincipal("clinic-a"), time.Minute)
	require.NoError(t, err)
	require.NoError(t, tm.Revoke(context.Background(), revoked.ID, revoked.ExpiresAt))

	tests := []struct {
		name   string
		header string
		code   string
	}{
		{"missing header", "", "UNAUTHORIZED"},
		{"wrong scheme", "Basic abc", "TOKEN_MALFORMED"},
		{"garbage token", "Bearer not-a-jwt", "TOKEN_MALFORMED"},
		{"refresh used as access", "Bearer " + refresh.Token, "TOKEN_MALFORMED"},
		{"revoked", "Bearer " + revoked.Token, "TOKEN_REVOKED"},
	}

	h := Authenticate(tm, auth.TokenAccess, quietLogger())(http.HandlerFunc(okHandler))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

func withClaims(r *http.Request, tm *auth.TokenManager, t *testing.T, p domain.Principal) *http.Request {
	t.Helper()
	issued, err := tm.IssueAccess(p, time.Minute)
	require.NoError(t, err)
	claims, err := tm.Verify(context.Background(), issued.Token, auth.TokenAccess)
	require.NoError(t, err)
	return r.WithContext(context.WithValue(r.Context(), ClaimsContextKey{}, claims))
}

func TestRequireRole(t *testing.T) {
	tm := newTokens()
	logger := quietLogger()
	h := RequireRole(security.NewGuard(logger), audit.NewLogger(logger, nil), domain.RoleClinicAdmin, logger)(http.HandlerFunc(okHandler))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, withClaims(httptest.NewRequest(http.MethodGet, "/", nil), tm, t, agentPrincipal("clinic-a")))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", decodeError(t, rec).Code)

	admin := agentPrincipal("clinic-a")
	admin.Role = domain.RoleClinicAdmin
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, withClaims(httptest.NewRequest(http.MethodGet, "/", nil), tm, t, admin))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireClinicAccess(t *testing.T) {
	tm := newTokens()
	logger := quietLogger()
	r := chi.NewRouter()
	r.With(RequireClinicAccess(security.NewGuard(logger), audit.NewLogger(logger, nil), "clinicID", logger)).
		Get("/api/clinics/{clinicID}/users", okHandler)

	tests := []struct {
		name      string
		principal domain.Principal
		want      int
	}{
		{"same clinic", agentPrincipal("clinic-a"), http.StatusOK},
		{"other clinic", agentPrincipal("clinic-b"), http.StatusForbidden},
		{"super admin", domain.Principal{UserID: "root", Role: domain.RoleSuperAdmin}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := withClaims(httptest.NewRequest(http.MethodGet, "/api/clinics/clinic-a/users", nil), tm, t, tt.principal)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRateLimitPerClinic(t *testing.T) {
	tm := newTokens()
	limiter := ratelimit.NewLimiter(2, time.Minute)
	defer limiter.Stop()
	h := RateLimit(limiter, quietLogger())(http.HandlerFunc(okHandler))

	send := func(clinic string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, withClaims(httptest.NewRequest(http.MethodGet, "/", nil), tm, t, agentPrincipal(clinic)))
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("clinic-a"))
	assert.Equal(t, http.StatusOK, send("clinic-a"))
	assert.Equal(t, http.StatusTooManyRequests, send("clinic-a"))
	assert.Equal(t, http.StatusOK, send("clinic-b"))
}

func TestRequestContextPopulatesAuditInfo(t *testing.T) {
	var info audit.ClientInfo
	var requestID string
	h := RequestContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info = audit.ClientInfoFromContext(r.Context())
		requestID = audit.RequestIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	req.Header.Set("User-Agent", "clinicops-test")
	req.Header.Set("X-Request-ID", "edge-42")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "10.1.2.3", info.IPAddress)
	assert.Equal(t, "clinicops-test", info.UserAgent)
	assert.Equal(t, "edge-42", requestID)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example.com"})(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestValidateJSONContentType(t *testing.T) {
	h := ValidateJSONContentType(quietLogger())(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"a":1}`))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"a":1}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestValidateJSONContentTypeSkipsBodylessAndReads(t *testing.T) {
	h := ValidateJSONContentType(quietLogger())(http.HandlerFunc(okHandler))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/me", strings.NewReader("x")))
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodPatch, "/api/admin/clinics/x", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/jsonp")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestSanitizeInputs(t *testing.T) {
	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"markup in query", "/api/clinics/x/audit-logs?limit=%3Cscript%3E", http.StatusBadRequest},
		{"backtick in query", "/api/admin/users?search=%60id%60", http.StatusBadRequest},
		{"nul byte in query", "/api/admin/users?search=a%00b", http.StatusBadRequest},
		{"oversized value", "/api/admin/users?search=" + strings.Repeat("a", maxQueryValueLength+1), http.StatusBadRequest},
		{"encoded traversal", "/api/clinics/%2e%2e/users", http.StatusBadRequest},
		{"double slash", "/api/clinics//users", http.StatusBadRequest},
		{"control character in path", "/api/clinics/a%0Ab/users", http.StatusBadRequest},
		{"apostrophe and ampersand", "/api/admin/clinics?search=O%27Brien+%26+Co", http.StatusOK},
		{"plain listing", "/api/admin/clinics?page=2&per_page=10&status=active", http.StatusOK},
		{"dots inside a segment", "/api/clinics/v1.2/users", http.StatusOK},
	}
	h := SanitizeInputs(quietLogger())(http.HandlerFunc(okHandler))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusBadRequest {
				assert.Equal(t, "INVALID_REQUEST", decodeError(t, rec).Code)
			}
		})
	}
}
