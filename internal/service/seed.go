package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/yourorg/clinicops/internal/domain"
)

// DemoSeed lists the accounts created by SeedDemo
type DemoSeed struct {
	SuperAdminUsername string
	SuperAdminPassword string
	ClinicName         string
	Users              []CreateUserInput
}

// DefaultDemoSeed returns the demo data used for local development.
func DefaultDemoSeed(superAdminUsername, superAdminPassword string) DemoSeed {
	return DemoSeed{
		SuperAdminUsername: superAdminUsername,
		SuperAdminPassword: superAdminPassword,
		ClinicName:         "Acme Dental",
		Users: []CreateUserInput{
			{Username: "admin", Email: "admin@acme-dental.test", Password: "admin1234", FirstName: "Clinic", LastName: "Admin", Role: "clinic_admin"},
			{Username: "alice", Email: "alice@acme-dental.test", Password: "alice1234", FirstName: "Alice", LastName: "Agent", Role: "agent"},
		},
	}
}

// SeedDemo creates the super-admin, one active clinic and its users. It is
// idempotent: records that already exist are left untouched.
func (s *ProvisioningService) SeedDemo(ctx context.Context, seed DemoSeed) error {
	_, err := s.CreateSuperAdmin(ctx, CreateSuperAdminInput{
		Username: seed.SuperAdminUsername,
		Email:    seed.SuperAdminUsername + "@platform.test",
		Password: seed.SuperAdminPassword,
	})
	if err != nil && domain.KindOf(err) != domain.KindConflict {
		return fmt.Errorf("failed to seed super admin: %w", err)
	}

	root := domain.Principal{UserID: "seed", Role: domain.RoleSuperAdmin}
	clinicID, err := s.ensureClinic(ctx, root, seed.ClinicName)
	if err != nil {
		return err
	}

	for _, in := range seed.Users {
		if _, err := s.CreateUser(ctx, root, clinicID, in); err != nil && domain.KindOf(err) != domain.KindConflict {
			return fmt.Errorf("failed to seed user %s: %w", in.Username, err)
		}
	}

	s.logger.Info("demo data seeded",
		slog.String("clinic", seed.ClinicName),
		slog.Int("users", len(seed.Users)),
	)
	return nil
}

func (s *ProvisioningService) ensureClinic(ctx context.Context, root domain.Principal, name string) (string, error) {
	view, err := s.CreateClinic(ctx, root, CreateClinicInput{Name: name, SubscriptionStatus: string(domain.SubscriptionActive)})
	if err == nil {
		return view.ID, nil
	}
	if domain.KindOf(err) != domain.KindConflict {
		return "", fmt.Errorf("failed to seed clinic: %w", err)
	}
	existing, err := s.clinics.FindActiveByName(ctx, name)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("clinic %q exists but is inactive", name)
		}
		return "", fmt.Errorf("failed to look up clinic: %w", err)
	}
	return existing.ID, nil
}
