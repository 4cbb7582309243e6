package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/yourorg/clinicops/pkg/database"
)

// Config holds the application configuration
type Config struct {
	Environment        string
	ServerPort         int
	LogLevel           string
	RedisURL           string // empty selects the in-memory revocation store
	OTLPEndpoint       string
	CORSAllowedOrigins []string

	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	JWTSecret          string
	JWTIssuer          string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	BcryptCost         int
	SuperAdminUsername string
	SuperAdminPassword string // only read by seeding
	PlatformTenantName string

	LockoutThreshold int
	LockoutDuration  time.Duration

	RateLimitPerMinute      int
	LoginRateLimitPerMinute int
	RevocationPurgeInterval time.Duration
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first if present; real environment variables
// win over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var (
		port, dbPort, accessSecs, refreshSecs, bcryptCost       int
		lockoutThreshold, lockoutMinutes, rateLimit, loginLimit int
		purgeMinutes                                            int
	)
	for key, spec := range map[string]struct {
		dst *int
		def string
	}{
		"SERVER_PORT":                       {&port, "8080"},
		"DB_PORT":                           {&dbPort, "5432"},
		"JWT_ACCESS_TOKEN_EXPIRES":          {&accessSecs, "900"},
		"JWT_REFRESH_TOKEN_EXPIRES":         {&refreshSecs, "604800"},
		"BCRYPT_COST":                       {&bcryptCost, "10"},
		"LOCKOUT_THRESHOLD":                 {&lockoutThreshold, "5"},
		"LOCKOUT_DURATION_MINUTES":          {&lockoutMinutes, "30"},
		"RATE_LIMIT_PER_MINUTE":             {&rateLimit, "100"},
		"LOGIN_RATE_LIMIT_PER_MINUTE":       {&loginLimit, "20"},
		"REVOCATION_PURGE_INTERVAL_MINUTES": {&purgeMinutes, "5"},
	} {
		v, err := strconv.Atoi(getEnv(key, spec.def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		*spec.dst = v
	}

	cfg := &Config{
		Environment:        getEnv("ENVIRONMENT", "development"),
		ServerPort:         port,
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		RedisURL:           os.Getenv("REDIS_URL"),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		CORSAllowedOrigins: parseCSVEnv("CORS_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     dbPort,
		DBUser:     getEnv("DB_USER", "clinicops"),
		DBPassword: getEnv("DB_PASSWORD", "dev"),
		DBName:     getEnv("DB_NAME", "clinicops"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		JWTSecret:          os.Getenv("JWT_SECRET"),
		JWTIssuer:          getEnv("JWT_ISSUER", "clinicops"),
		AccessTokenTTL:     time.Duration(accessSecs) * time.Second,
		RefreshTokenTTL:    time.Duration(refreshSecs) * time.Second,
		BcryptCost:         bcryptCost,
		SuperAdminUsername: getEnv("SUPER_ADMIN_USERNAME", "craft_admin"),
		SuperAdminPassword: os.Getenv("SUPER_ADMIN_PASSWORD"),
		PlatformTenantName: getEnv("PLATFORM_TENANT_NAME", "Craft AI"),

		LockoutThreshold: lockoutThreshold,
		LockoutDuration:  time.Duration(lockoutMinutes) * time.Minute,

		RateLimitPerMinute:      rateLimit,
		LoginRateLimitPerMinute: loginLimit,
		RevocationPurgeInterval: time.Duration(purgeMinutes) * time.Minute,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}
	if c.RefreshTokenTTL < c.AccessTokenTTL {
		return fmt.Errorf("JWT_REFRESH_TOKEN_EXPIRES must not be shorter than JWT_ACCESS_TOKEN_EXPIRES")
	}
	if c.IsProduction() && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
	}
	return nil
}

// Database returns the pool settings for the configured Postgres instance.
func (c *Config) Database() *database.Config {
	db := database.DefaultConfig()
	db.Host = c.DBHost
	db.Port = c.DBPort
	db.User = c.DBUser
	db.Password = c.DBPassword
	db.Database = c.DBName
	db.SSLMode = c.DBSSLMode
	return db
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseCSVEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
