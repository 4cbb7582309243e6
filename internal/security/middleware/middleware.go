package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/yourorg/clinicops/internal/domain"
	"github.com/yourorg/clinicops/internal/handler/respond"
	"github.com/yourorg/clinicops/internal/observability/metrics"
	"github.com/yourorg/clinicops/internal/security"
	"github.com/yourorg/clinicops/internal/security/audit"
	"github.com/yourorg/clinicops/internal/security/auth"
	"github.com/yourorg/clinicops/internal/security/ratelimit"
)

type ClaimsContextKey struct{}

// Authenticate requires a bearer token of tokenType and stores its claims in
// the request context.
func Authenticate(tm *auth.TokenManager, tokenType auth.TokenType, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				metrics.ObserveTokenVerification(string(tokenType), "missing")
				respond.Message(w, http.StatusUnauthorized, "missing authorization header", "UNAUTHORIZED")
				return
			}

			tokenString, err := auth.ExtractToken(authHeader)
			if err != nil {
				metrics.ObserveTokenVerification(string(tokenType), string(auth.ReasonMalformed))
				respond.Error(w, log, &auth.TokenError{Reason: auth.ReasonMalformed, Err: err})
				return
			}

			claims, err := tm.Verify(r.Context(), tokenString, tokenType)
			if err != nil {
				metrics.ObserveTokenVerification(string(tokenType), verificationResult(err))
				log.Debug("token rejected",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				respond.Error(w, log, err)
				return
			}
			metrics.ObserveTokenVerification(string(tokenType), "ok")

			ctx := context.WithValue(r.Context(), ClaimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func verificationResult(err error) string {
	var tokErr *auth.TokenError
	if errors.As(err, &tokErr) {
		return string(tokErr.Reason)
	}
	return "error"
}

// GetClaimsFromContext returns the verified claims, or nil on
// unauthenticated routes.
func GetClaimsFromContext(ctx context.Context) *auth.Claims {
	if c, ok := ctx.Value(ClaimsContextKey{}).(*auth.Claims); ok {
		return c
	}
	return nil
}

// GetPrincipalFromContext returns the caller's principal. ok is false when
// the request was not authenticated.
func GetPrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	claims := GetClaimsFromContext(ctx)
	if claims == nil {
		return domain.Principal{}, false
	}
	return claims.Principal(), true
}

// RequireRole rejects callers below min with 403.
func RequireRole(guard *security.Guard, auditLog *audit.Logger, min domain.Role, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := GetPrincipalFromContext(r.Context())
			if !ok {
				respond.Message(w, http.StatusUnauthorized, "authentication required", "UNAUTHORIZED")
				return
			}
			if err := guard.RequireRole(p, min); err != nil {
				auditLog.LogDenied(r.Context(), p, r.URL.Path, err.Error())
				respond.Error(w, log, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireClinicAccess compares the clinic id in URL parameter param with the
// caller's clinic.
func RequireClinicAccess(guard *security.Guard, auditLog *audit.Logger, param string, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := GetPrincipalFromContext(r.Context())
			if !ok {
				respond.Message(w, http.StatusUnauthorized, "authentication required", "UNAUTHORIZED")
				return
			}
			clinicID := chi.URLParam(r, param)
			if err := guard.AuthorizeClinic(p, &clinicID); err != nil {
				auditLog.LogDenied(r.Context(), p, r.URL.Path, err.Error())
				respond.Error(w, log, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit applies the limiter per clinic. Super-admins, who have no
// clinic, are limited per user.
func RateLimit(limiter *ratelimit.Limiter, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ""
			if claims := GetClaimsFromContext(r.Context()); claims != nil {
				if claims.ClinicID != nil {
					key = "clinic:" + *claims.ClinicID
				} else {
					key = "user:" + claims.Subject
				}
			}

			if !limiter.Allow(key) {
				metrics.IncrementRateLimited("clinic")
				log.Warn("rate limit exceeded", slog.String("key", key), slog.String("path", r.URL.Path))
				respond.Error(w, log, domain.ErrRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestContext copies client details into the context read by the audit
// logger. A request id set by an upstream proxy is kept when the server has
// not assigned one.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if audit.RequestIDFromContext(ctx) == "" {
			if id := r.Header.Get("X-Request-ID"); id != "" {
				ctx = audit.WithRequestID(ctx, id)
			}
		}
		ctx = audit.WithClientInfo(ctx, audit.ClientInfo{
			IPAddress: ClientIP(r),
			UserAgent: r.UserAgent(),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIP returns the remote host without its port.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// CORS allows the configured origins. "*" allows any origin.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimSpace(o)] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowed["*"] || allowed[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-Id")
				w.Header().Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
