package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/yourorg/clinicops/internal/domain"
	"github.com/yourorg/clinicops/internal/handler/respond"
	"github.com/yourorg/clinicops/internal/observability/metrics"
	"github.com/yourorg/clinicops/internal/security/auth"
	"github.com/yourorg/clinicops/internal/security/middleware"
	"github.com/yourorg/clinicops/internal/security/ratelimit"
	"github.com/yourorg/clinicops/internal/service"
)

const maxBodyBytes = 1 << 20

// LoginLimit bounds login attempts per client IP and username.
type LoginLimit struct {
	Limiter *ratelimit.Limiter
	Max     int
	Window  time.Duration
}

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService *service.AuthService
	loginLimit  *LoginLimit
	logger      *slog.Logger
}

// NewAuthHandler creates a new auth handler. A nil loginLimit disables
// login throttling.
func NewAuthHandler(authService *service.AuthService, loginLimit *LoginLimit, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &AuthHandler{
		authService: authService,
		loginLimit:  loginLimit,
		logger:      logger,
	}
}

// ChangePasswordRequest represents a password change
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// MessageResponse is returned by endpoints with no payload
type MessageResponse struct {
	Message string `json:"message"`
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req service.LoginInput
	if err := decodeJSON(w, r, &req); err != nil {
		h.logger.Warn("failed to decode login request", slog.String("error", err.Error()))
		respond.Error(w, h.logger, domain.InvalidRequest("invalid request body"))
		return
	}

	if h.loginLimit != nil {
		key := middleware.ClientIP(r) + "|" + strings.ToLower(strings.TrimSpace(req.Username))
		if !h.loginLimit.Limiter.AllowStrict(key, h.loginLimit.Max, h.loginLimit.Window) {
			metrics.IncrementRateLimited("login")
			h.logger.Warn("login rate limit exceeded", slog.String("ip", middleware.ClientIP(r)))
			respond.Error(w, h.logger, domain.ErrRateLimited)
			return
		}
	}

	result, err := h.authService.Login(r.Context(), req)
	if err != nil {
		h.logger.Info("login failed",
			slog.String("clinic_name", req.ClinicName),
			slog.String("username", req.Username),
			slog.String("error", err.Error()),
		)
		respond.Error(w, h.logger, err)
		return
	}

	respond.JSON(w, http.StatusOK, result)
}

// Refresh handles POST /api/auth/refresh. The refresh token is sent as the
// bearer token.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token, err := auth.ExtractToken(r.Header.Get("Authorization"))
	if err != nil {
		respond.Error(w, h.logger, &auth.TokenError{Reason: auth.ReasonMalformed, Err: err})
		return
	}

	result, err := h.authService.Refresh(r.Context(), token)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, result)
}

// Logout handles POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		respond.Message(w, http.StatusUnauthorized, "authentication required", "UNAUTHORIZED")
		return
	}
	if err := h.authService.Logout(r.Context(), claims); err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, MessageResponse{Message: "successfully logged out"})
}

// Me handles GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.GetPrincipalFromContext(r.Context())
	if !ok {
		respond.Message(w, http.StatusUnauthorized, "authentication required", "UNAUTHORIZED")
		return
	}
	result, err := h.authService.Me(r.Context(), p)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, result)
}

// ChangePassword handles POST /api/auth/change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.GetPrincipalFromContext(r.Context())
	if !ok {
		respond.Message(w, http.StatusUnauthorized, "authentication required", "UNAUTHORIZED")
		return
	}

	var req ChangePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respond.Error(w, h.logger, domain.InvalidRequest("invalid request body"))
		return
	}

	if err := h.authService.ChangePassword(r.Context(), p, req.CurrentPassword, req.NewPassword); err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, MessageResponse{Message: "password changed successfully"})
}

// VerifyToken handles POST /api/auth/verify-token. Authenticate has already
// verified the token, so this only reports its claims.
func (h *AuthHandler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		respond.Message(w, http.StatusUnauthorized, "authentication required", "UNAUTHORIZED")
		return
	}
	respond.JSON(w, http.StatusOK, service.NewVerifyResult(claims))
}

// decodeJSON reads a single JSON object from a size-limited body.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("empty body")
		}
		return err
	}
	return nil
}
