package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/yourorg/clinicops/internal/domain"
)

const clinicColumns = `id, name, slug, subscription_status, subscription_plan, subscription_expires_at,
	max_users, is_active, created_by, deleted_at, created_at, updated_at`

// PostgresClinicRepository implements domain.ClinicRepository using PostgreSQL
type PostgresClinicRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresClinicRepository creates a new clinic repository
func NewPostgresClinicRepository(db *sql.DB, logger *slog.Logger) *PostgresClinicRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresClinicRepository{db: db, logger: logger}
}

// Create creates a new clinic
func (r *PostgresClinicRepository) Create(ctx context.Context, clinic *domain.Clinic) error {
	if clinic.ID == "" {
		clinic.ID = uuid.NewString()
	}
	query := `
		INSERT INTO clinics (id, name, slug, subscription_status, subscription_plan,
			subscription_expires_at, max_users, is_active, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		clinic.ID,
		clinic.Name,
		clinic.Slug,
		string(clinic.SubscriptionStatus),
		clinic.SubscriptionPlan,
		nullTime(clinic.SubscriptionExpiresAt),
		clinic.MaxUsers,
		clinic.IsActive,
		nullString(clinic.CreatedBy),
	).Scan(&clinic.CreatedAt, &clinic.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("clinic %q: %w", clinic.Name, domain.ErrDuplicate)
		}
		r.logger.Error("failed to create clinic",
			slog.String("name", clinic.Name),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to create clinic: %w", err)
	}
	return nil
}

// GetByID retrieves a clinic by ID
func (r *PostgresClinicRepository) GetByID(ctx context.Context, id string) (*domain.Clinic, error) {
	query := `SELECT ` + clinicColumns + ` FROM clinics WHERE id = $1`
	c, err := scanClinic(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidText(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get clinic: %w", err)
	}
	return c, nil
}

// FindActiveByName retrieves an active clinic by its exact name
func (r *PostgresClinicRepository) FindActiveByName(ctx context.Context, name string) (*domain.Clinic, error) {
	query := `SELECT ` + clinicColumns + ` FROM clinics WHERE name = $1 AND is_active = TRUE`
	c, err := scanClinic(r.db.QueryRowContext(ctx, query, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get clinic by name: %w", err)
	}
	return c, nil
}

// Update updates an existing clinic
func (r *PostgresClinicRepository) Update(ctx context.Context, clinic *domain.Clinic) error {
	query := `
		UPDATE clinics
		SET subscription_status = $2, subscription_plan = $3, subscription_expires_at = $4,
			max_users = $5, is_active = $6, deleted_at = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		clinic.ID,
		string(clinic.SubscriptionStatus),
		clinic.SubscriptionPlan,
		nullTime(clinic.SubscriptionExpiresAt),
		clinic.MaxUsers,
		clinic.IsActive,
		nullTime(clinic.DeletedAt),
	).Scan(&clinic.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("failed to update clinic: %w", err)
	}
	return nil
}

// List returns one page of clinics matching filter, ordered by name
func (r *PostgresClinicRepository) List(ctx context.Context, filter domain.ClinicFilter) ([]*domain.Clinic, int, error) {
	var conds conditions
	if !filter.IncludeDeleted {
		conds.add("deleted_at IS NULL")
	}
	if filter.Search != "" {
		conds.add("name ILIKE ?", containsPattern(filter.Search))
	}
	if filter.Status != "" {
		conds.add("subscription_status = ?", string(filter.Status))
	}
	if filter.Plan != "" {
		conds.add("subscription_plan = ?", filter.Plan)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM clinics`+conds.where(), conds.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count clinics: %w", err)
	}

	limit, args := conds.page(filter.Page)
	query := `SELECT ` + clinicColumns + ` FROM clinics` + conds.where() + ` ORDER BY name` + limit
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list clinics: %w", err)
	}
	defer rows.Close()

	out := []*domain.Clinic{}
	for rows.Next() {
		c, err := scanClinic(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan clinic: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate clinics: %w", err)
	}
	return out, total, nil
}

func scanClinic(row rowScanner) (*domain.Clinic, error) {
	var (
		c         domain.Clinic
		status    string
		expiresAt sql.NullTime
		createdBy sql.NullString
		deletedAt sql.NullTime
	)
	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Slug,
		&status,
		&c.SubscriptionPlan,
		&expiresAt,
		&c.MaxUsers,
		&c.IsActive,
		&createdBy,
		&deletedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.SubscriptionStatus = domain.SubscriptionStatus(status)
	c.SubscriptionExpiresAt = fromNullTime(expiresAt)
	c.CreatedBy = fromNullString(createdBy)
	c.DeletedAt = fromNullTime(deletedAt)
	return &c, nil
}
