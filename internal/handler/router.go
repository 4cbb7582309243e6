package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/yourorg/clinicops/internal/domain"
	"github.com/yourorg/clinicops/internal/observability/metrics"
	"github.com/yourorg/clinicops/internal/security"
	"github.com/yourorg/clinicops/internal/security/audit"
	"github.com/yourorg/clinicops/internal/security/auth"
	"github.com/yourorg/clinicops/internal/security/middleware"
	"github.com/yourorg/clinicops/internal/security/ratelimit"
)

// RouterDeps collects everything the HTTP surface needs
type RouterDeps struct {
	Auth        *AuthHandler
	Admin       *AdminHandler
	Health      *HealthHandler
	Tokens      *auth.TokenManager
	Guard       *security.Guard
	Audit       *audit.Logger
	Limiter     *ratelimit.Limiter
	CORSOrigins []string
	Logger      *slog.Logger
}

// NewRouter wires routes and middleware. Probes and /metrics are public;
// everything under /api except login and refresh needs an access token.
func NewRouter(d RouterDeps) http.Handler {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(metrics.HTTPMetricsMiddleware)
	r.Use(middleware.CORS(d.CORSOrigins))
	r.Use(middleware.RequestContext)
	r.Use(middleware.SanitizeInputs(log))
	r.Use(middleware.ValidateJSONContentType(log))

	r.Get("/healthz", d.Health.Health)
	r.Get("/readyz", d.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	authenticated := func(r chi.Router) {
		r.Use(middleware.Authenticate(d.Tokens, auth.TokenAccess, log))
		if d.Limiter != nil {
			r.Use(middleware.RateLimit(d.Limiter, log))
		}
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", d.Auth.Login)
			r.Post("/refresh", d.Auth.Refresh)
			r.Group(func(r chi.Router) {
				authenticated(r)
				r.Post("/logout", d.Auth.Logout)
				r.Get("/me", d.Auth.Me)
				r.Post("/change-password", d.Auth.ChangePassword)
				r.Post("/verify-token", d.Auth.VerifyToken)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			authenticated(r)
			r.Use(middleware.RequireRole(d.Guard, d.Audit, domain.RoleSuperAdmin, log))
			r.Get("/clinics", d.Admin.ListClinics)
			r.Post("/clinics", d.Admin.CreateClinic)
			r.Patch("/clinics/{clinicID}", d.Admin.UpdateClinic)
			r.Delete("/clinics/{clinicID}", d.Admin.DeleteClinic)
			r.Get("/users", d.Admin.ListPlatformUsers)
			r.Get("/audit-logs", d.Admin.ListPlatformAuditLogs)
		})

		r.Route("/clinics/{clinicID}", func(r chi.Router) {
			authenticated(r)
			r.Use(middleware.RequireClinicAccess(d.Guard, d.Audit, "clinicID", log))
			r.Use(middleware.RequireRole(d.Guard, d.Audit, domain.RoleClinicAdmin, log))
			r.Get("/users", d.Admin.ListUsers)
			r.Post("/users", d.Admin.CreateUser)
			r.Get("/audit-logs", d.Admin.ListAuditLogs)
		})
	})

	return otelhttp.NewHandler(r, "clinicops",
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return req.Method + " " + req.URL.Path
		}),
	)
}
