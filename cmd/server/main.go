package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yourorg/clinicops/internal/domain"
	"github.com/yourorg/clinicops/internal/featureflags"
	"github.com/yourorg/clinicops/internal/handler"
	"github.com/yourorg/clinicops/internal/infrastructure/logger"
	"github.com/yourorg/clinicops/internal/infrastructure/redis"
	"github.com/yourorg/clinicops/internal/observability/metrics"
	"github.com/yourorg/clinicops/internal/observability/tracing"
	"github.com/yourorg/clinicops/internal/reliability/circuitbreaker"
	"github.com/yourorg/clinicops/internal/reliability/retry"
	"github.com/yourorg/clinicops/internal/repository"
	"github.com/yourorg/clinicops/internal/repository/memory"
	"github.com/yourorg/clinicops/internal/security"
	"github.com/yourorg/clinicops/internal/security/audit"
	"github.com/yourorg/clinicops/internal/security/auth"
	"github.com/yourorg/clinicops/internal/security/lockout"
	"github.com/yourorg/clinicops/internal/security/ratelimit"
	"github.com/yourorg/clinicops/internal/service"
	"github.com/yourorg/clinicops/internal/worker"
	"github.com/yourorg/clinicops/pkg/config"
	"github.com/yourorg/clinicops/pkg/database"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize structured logger
	log := logger.NewLogger(cfg.LogLevel)
	log.Info("starting clinicops server", slog.String("environment", cfg.Environment))

	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET not set, using a random per-process secret; tokens will not survive a restart")
		cfg.JWTSecret = generateRequestID() + generateRequestID()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Tracing
	shutdownTracing, err := tracing.Init(ctx, log, cfg.OTLPEndpoint, "clinicops", cfg.Environment)
	if err != nil {
		log.Error("failed to initialize tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Repositories: Postgres unless FLAG_MEMORY_STORE is set
	checks := map[string]handler.Checker{}
	var (
		users   domain.UserRepository
		clinics domain.ClinicRepository
		audits  domain.AuditRepository
	)
	if featureflags.Enabled("memory_store") {
		log.Warn("using in-memory repositories, data is lost on restart")
		users = memory.NewUserRepository()
		clinics = memory.NewClinicRepository()
		audits = memory.NewAuditRepository()
	} else {
		dbCfg := cfg.Database()

		pool, err := retry.Do(ctx, retry.DefaultConfig(), log, "connect postgres", func(ctx context.Context) (*database.ConnectionPool, error) {
			return database.Open(ctx, dbCfg, log)
		})
		if err != nil {
			log.Error("failed to connect to database", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer pool.Close()
		if err := prometheus.Register(pool.StatsCollector()); err != nil {
			log.Warn("failed to register database metrics", slog.String("error", err.Error()))
		}

		db := pool.DB()
		users = repository.NewPostgresUserRepository(db, log)
		clinics = repository.NewPostgresClinicRepository(db, log)
		audits = repository.NewPostgresAuditRepository(db, log)
		checks["postgres"] = pool.Health
	}

	// 5. Revocation store: Redis when configured, otherwise in-process
	var (
		revocations auth.RevocationStore
		memStore    *auth.MemoryRevocationStore
	)
	if cfg.RedisURL != "" {
		redisClient, err := retry.Do(ctx, retry.DefaultConfig(), log, "connect redis", func(ctx context.Context) (*redis.Client, error) {
			return redis.NewClient(ctx, cfg.RedisURL, log)
		})
		if err != nil {
			log.Error("failed to connect to Redis", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer redisClient.Close()

		breaker := circuitbreaker.NewCircuitBreaker("redis", 5, 1, 10*time.Second)
		breaker.SetStateChangeCallback(func(name string, from, to circuitbreaker.State) {
			metrics.SetBreakerState(name, int(to))
			log.Warn("circuit breaker state changed",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		})
		revocations = auth.NewRedisRevocationStore(redisClient, breaker)
		checks["redis"] = redisClient.Ping
	} else {
		log.Info("REDIS_URL not set, revocations are kept in memory")
		memStore = auth.NewMemoryRevocationStore()
		revocations = memStore
	}

	// 6. Security components
	tokenManager := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, revocations)
	hasher := auth.NewBcryptHasher(cfg.BcryptCost)
	guard := security.NewGuard(log)
	auditLogger := audit.NewLogger(log, audits)
	rateLimiter := ratelimit.NewLimiter(cfg.RateLimitPerMinute, time.Minute)

	// 7. Services
	authService := service.NewAuthService(
		users,
		clinics,
		hasher,
		tokenManager,
		lockout.NewPolicy(cfg.LockoutThreshold, cfg.LockoutDuration),
		auditLogger,
		service.AuthConfig{
			AccessTTL:          cfg.AccessTokenTTL,
			RefreshTTL:         cfg.RefreshTokenTTL,
			SuperAdminUsername: cfg.SuperAdminUsername,
			PlatformTenantName: cfg.PlatformTenantName,
		},
		log,
	)
	provisioning := service.NewProvisioningService(users, clinics, audits, hasher, guard, auditLogger, log)

	if featureflags.Enabled("seed_demo") {
		password := cfg.SuperAdminPassword
		if password == "" {
			if cfg.IsProduction() {
				log.Error("FLAG_SEED_DEMO requires SUPER_ADMIN_PASSWORD in production")
				os.Exit(1)
			}
			password = "CraftAI2024!"
		}
		if err := provisioning.SeedDemo(ctx, service.DefaultDemoSeed(cfg.SuperAdminUsername, password)); err != nil {
			log.Error("failed to seed demo data", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// 8. HTTP routes
	router := handler.NewRouter(handler.RouterDeps{
		Auth: handler.NewAuthHandler(authService, &handler.LoginLimit{
			Limiter: rateLimiter,
			Max:     cfg.LoginRateLimitPerMinute,
			Window:  time.Minute,
		}, log),
		Admin:       handler.NewAdminHandler(provisioning, log),
		Health:      handler.NewHealthHandler(checks, log),
		Tokens:      tokenManager,
		Guard:       guard,
		Audit:       auditLogger,
		Limiter:     rateLimiter,
		CORSOrigins: cfg.CORSAllowedOrigins,
		Logger:      log,
	})

	// 9. Purge expired revocations from the in-process store
	if memStore != nil {
		go worker.NewCleanupWorker(memStore, log, cfg.RevocationPurgeInterval).Start(ctx)
	}

	// 10. Start HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      withRequestID(router, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info("server starting",
		slog.Int("port", cfg.ServerPort),
		slog.Int("rate_limit", cfg.RateLimitPerMinute),
		slog.Int("login_rate_limit", cfg.LoginRateLimitPerMinute),
		slog.String("rate_limit_window", "1m"),
	)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", slog.String("error", err.Error()))
			sigChan <- syscall.SIGTERM
		}
	}()

	<-sigChan
	log.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", slog.String("error", err.Error()))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("tracing shutdown error", slog.String("error", err.Error()))
	}

	cancel() // stops the cleanup worker
	rateLimiter.Stop()
	log.Info("server stopped")
}

// withRequestID assigns a request ID, exposes it in the response headers and
// hands it to the audit logger.
func withRequestID(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := generateRequestID()
		w.Header().Set("X-Request-ID", reqID)

		ctx := audit.WithRequestID(r.Context(), reqID)
		start := time.Now()

		next.ServeHTTP(w, r.WithContext(ctx))

		log.Info("request completed",
			slog.String("request_id", reqID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

func generateRequestID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}
	return fmt.Sprintf("req-%d", time.Now().UnixNano())
}
