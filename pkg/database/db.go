// Package database opens the Postgres pool shared by the repositories and
// owns its schema.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const applicationName = "clinicops"

// migrationLockID keys the advisory lock that serializes Migrate across
// replicas starting at the same time.
const migrationLockID int64 = 0x636c696e6963

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	ConnectTimeout  time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Migrate applies the schema after the first successful ping.
	Migrate bool
}

// DefaultConfig returns the local development settings
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5432,
		User:            "clinicops",
		Password:        "dev",
		Database:        "clinicops",
		SSLMode:         "disable",
		ConnectTimeout:  5 * time.Second,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		Migrate:         true,
	}
}

var dsnEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// DSN renders a lib/pq keyword/value string. Every value is quoted, so
// passwords may contain spaces, quotes or backslashes. Empty values are
// left to the driver defaults.
func (c *Config) DSN() string {
	pairs := [][2]string{
		{"host", c.Host},
		{"port", portString(c.Port)},
		{"user", c.User},
		{"password", c.Password},
		{"dbname", c.Database},
		{"sslmode", c.SSLMode},
		{"application_name", applicationName},
	}
	if c.ConnectTimeout > 0 {
		pairs = append(pairs, [2]string{"connect_timeout", strconv.Itoa(int(c.ConnectTimeout.Seconds()))})
	}

	var b strings.Builder
	for _, kv := range pairs {
		if kv[1] == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(kv[0])
		b.WriteString("='")
		b.WriteString(dsnEscaper.Replace(kv[1]))
		b.WriteByte('\'')
	}
	return b.String()
}

func portString(port int) string {
	if port <= 0 {
		return ""
	}
	return strconv.Itoa(port)
}

func (c *Config) applyPoolLimits(db *sql.DB) {
	db.SetMaxOpenConns(positiveOr(c.MaxOpenConns, 25))
	db.SetMaxIdleConns(positiveOr(c.MaxIdleConns, 5))
	if c.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(c.ConnMaxLifetime)
	}
	if c.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(c.ConnMaxIdleTime)
	}
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// ConnectionPool wraps the shared *sql.DB
type ConnectionPool struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open connects to Postgres, applies the pool limits, waits for a ping and
// migrates when cfg.Migrate is set. On failure the handle is closed, so a
// retry starts from a clean pool.
func Open(ctx context.Context, cfg *Config, logger *slog.Logger) (*ConnectionPool, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	cfg.applyPoolLimits(db)

	pool := Wrap(db, logger)
	if err := pool.Health(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres at %s:%d unreachable: %w", cfg.Host, cfg.Port, err)
	}
	if cfg.Migrate {
		if err := pool.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	logger.Info("database ready",
		slog.String("host", cfg.Host),
		slog.String("database", cfg.Database),
		slog.Bool("migrated", cfg.Migrate),
	)
	return pool, nil
}

// Wrap adopts an already opened handle, for tests and tools that build their
// own *sql.DB.
func Wrap(db *sql.DB, logger *slog.Logger) *ConnectionPool {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionPool{db: db, logger: logger}
}

func (cp *ConnectionPool) DB() *sql.DB {
	return cp.db
}

func (cp *ConnectionPool) Close() error {
	if cp.db != nil {
		return cp.db.Close()
	}
	return nil
}

// Health pings the database with a short deadline. It backs /readyz.
func (cp *ConnectionPool) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return cp.db.PingContext(ctx)
}

// StatsCollector exports sql.DBStats (open, in-use, idle and wait counts)
// as Prometheus metrics.
func (cp *ConnectionPool) StatsCollector() prometheus.Collector {
	return collectors.NewDBStatsCollector(cp.db, applicationName)
}

// Migrate applies the schema in one transaction holding an advisory lock.
// Every statement is idempotent.
func (cp *ConnectionPool) Migrate(ctx context.Context) error {
	err := InTx(ctx, cp.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
			return fmt.Errorf("failed to take migration lock: %w", err)
		}
		for i, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to apply schema statement %d: %w", i+1, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	cp.logger.Info("database schema up to date", slog.Int("statements", len(schema)))
	return nil
}

// InTx runs fn in a transaction. An error from fn rolls it back; otherwise
// it commits.
func InTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
