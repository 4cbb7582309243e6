// Command seed provisions the platform super-admin and a demo clinic.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/yourorg/clinicops/internal/infrastructure/logger"
	"github.com/yourorg/clinicops/internal/reliability/retry"
	"github.com/yourorg/clinicops/internal/repository"
	"github.com/yourorg/clinicops/internal/security/audit"
	"github.com/yourorg/clinicops/internal/security/auth"
	"github.com/yourorg/clinicops/internal/service"
	"github.com/yourorg/clinicops/pkg/config"
	"github.com/yourorg/clinicops/pkg/database"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewLogger(cfg.LogLevel)

	if cfg.SuperAdminPassword == "" {
		log.Error("SUPER_ADMIN_PASSWORD must be set")
		os.Exit(1)
	}

	ctx := context.Background()
	dbCfg := cfg.Database()

	pool, err := retry.Do(ctx, retry.DefaultConfig(), log, "connect postgres", func(ctx context.Context) (*database.ConnectionPool, error) {
		return database.Open(ctx, dbCfg, log)
	})
	if err != nil {
		log.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	db := pool.DB()
	audits := repository.NewPostgresAuditRepository(db, log)
	provisioning := service.NewProvisioningService(
		repository.NewPostgresUserRepository(db, log),
		repository.NewPostgresClinicRepository(db, log),
		audits,
		auth.NewBcryptHasher(cfg.BcryptCost),
		nil,
		audit.NewLogger(log, audits),
		log,
	)

	if err := provisioning.SeedDemo(ctx, service.DefaultDemoSeed(cfg.SuperAdminUsername, cfg.SuperAdminPassword)); err != nil {
		log.Error("seeding failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	fmt.Printf("✓ Seeded super admin %q and demo clinic\n", cfg.SuperAdminUsername)
}
