package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/yourorg/clinicops/internal/domain"
	"github.com/yourorg/clinicops/pkg/database"
)

const userColumns = `id, clinic_id, username, email, first_name, last_name, password_hash, role,
	permissions, is_active, failed_login_attempts, locked_until, last_login_at,
	password_changed_at, created_at, updated_at`

// PostgresUserRepository implements domain.UserRepository using PostgreSQL
type PostgresUserRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresUserRepository creates a new user repository
func NewPostgresUserRepository(db *sql.DB, logger *slog.Logger) *PostgresUserRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresUserRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts user, assigning an id when it has none
func (r *PostgresUserRepository) Create(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.PasswordChangedAt.IsZero() {
		user.PasswordChangedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO users (id, clinic_id, username, email, first_name, last_name, password_hash,
			role, permissions, is_active, password_changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query,
		user.ID,
		nullString(user.ClinicID),
		user.Username,
		user.Email,
		user.FirstName,
		user.LastName,
		user.PasswordHash,
		user.Role,
		pq.Array(user.Permissions.Slice()),
		user.IsActive,
		user.PasswordChangedAt,
	).Scan(&user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %q: %w", user.Username, domain.ErrDuplicate)
		}
		r.logger.Error("failed to create user",
			slog.String("username", user.Username),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by ID, active or not
func (r *PostgresUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.getOne(ctx, r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresUserRepository) FindByClinicAndUsername(ctx context.Context, clinicID, username string) (*domain.User, error) {
	query := `SELECT ` + userColumns + `
		FROM users
		WHERE clinic_id = $1 AND username = $2 AND is_active = TRUE`
	return r.getOne(ctx, r.db.QueryRowContext(ctx, query, clinicID, username))
}

func (r *PostgresUserRepository) FindSuperAdmin(ctx context.Context, username string) (*domain.User, error) {
	query := `SELECT ` + userColumns + `
		FROM users
		WHERE username = $1 AND role = 'super_admin'`
	return r.getOne(ctx, r.db.QueryRowContext(ctx, query, username))
}

// UpdateLoginState locks the user row, applies fn to the current values and
// writes back the lockout and last-login fields in one transaction.
// Concurrent callers for the same user are serialized by the row lock.
func (r *PostgresUserRepository) UpdateLoginState(ctx context.Context, id string, fn func(*domain.User)) (*domain.User, error) {
	var user *domain.User
	err := database.InTx(ctx, r.db, func(tx *sql.Tx) error {
		query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 FOR UPDATE`
		locked, err := scanUser(tx.QueryRowContext(ctx, query, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) || isInvalidText(err) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("failed to lock user: %w", err)
		}

		fn(locked)

		update := `
			UPDATE users
			SET failed_login_attempts = $2, locked_until = $3, last_login_at = $4, updated_at = NOW()
			WHERE id = $1
			RETURNING updated_at
		`
		err = tx.QueryRowContext(ctx, update,
			locked.ID,
			locked.FailedLoginAttempts,
			nullTime(locked.LockedUntil),
			nullTime(locked.LastLoginAt),
		).Scan(&locked.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to update login state: %w", err)
		}
		user = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *PostgresUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error {
	query := `
		UPDATE users
		SET password_hash = $2, password_changed_at = $3, updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, passwordHash, changedAt)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByClinic returns every user of a clinic ordered by username
func (r *PostgresUserRepository) ListByClinic(ctx context.Context, clinicID string) ([]*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE clinic_id = $1 ORDER BY username`
	rows, err := r.db.QueryContext(ctx, query, clinicID)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// List returns one page of users matching filter, ordered by username
func (r *PostgresUserRepository) List(ctx context.Context, filter domain.UserFilter) ([]*domain.User, int, error) {
	var conds conditions
	if filter.Search != "" {
		pattern := containsPattern(filter.Search)
		conds.add("(username ILIKE ? OR email ILIKE ?)", pattern, pattern)
	}
	if filter.Role != nil {
		conds.add("role = ?", filter.Role.String())
	}
	if filter.ClinicID != "" {
		conds.add("clinic_id = ?", filter.ClinicID)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`+conds.where(), conds.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	limit, args := conds.page(filter.Page)
	query := `SELECT ` + userColumns + ` FROM users` + conds.where() + ` ORDER BY username, id` + limit
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []*domain.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, total, nil
}

func (r *PostgresUserRepository) getOne(_ context.Context, row *sql.Row) (*domain.User, error) {
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidText(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		u           domain.User
		clinicID    sql.NullString
		perms       []string
		lockedUntil sql.NullTime
		lastLogin   sql.NullTime
	)
	err := row.Scan(
		&u.ID,
		&clinicID,
		&u.Username,
		&u.Email,
		&u.FirstName,
		&u.LastName,
		&u.PasswordHash,
		&u.Role,
		pq.Array(&perms),
		&u.IsActive,
		&u.FailedLoginAttempts,
		&lockedUntil,
		&lastLogin,
		&u.PasswordChangedAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.ClinicID = fromNullString(clinicID)
	u.Permissions = domain.NewPermissionSet(perms...)
	u.LockedUntil = fromNullTime(lockedUntil)
	u.LastLoginAt = fromNullTime(lastLogin)
	return &u, nil
}
