// Package database implements the Database Adapter (C4): a pooled
// Postgres connection plus the two properties the rest of the system
// depends on — batch upsert and advisory-lock mutual exclusion — on
// top of database/sql via the pgx stdlib driver.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" sql driver
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	apperrors "github.com/jordigilh/invoicepipe/internal/errors"
)

// Config holds the Postgres connection parameters and pool tuning.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns the baseline configuration before env
// overrides are applied.
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5432,
		User:            "invoice_user",
		Database:        "invoices",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// LoadFromEnv overlays DB_HOST, DB_PORT, DB_USER, DB_PASSWORD, DB_NAME,
// DB_SSL_MODE onto the config. Malformed values (e.g. a non-numeric
// DB_PORT) are ignored, leaving the existing value in place.
func (c *Config) LoadFromEnv() {
	envString(&c.Host, "DB_HOST")
	envInt(&c.Port, "DB_PORT")
	envString(&c.User, "DB_USER")
	envString(&c.Password, "DB_PASSWORD")
	envString(&c.Database, "DB_NAME")
	envString(&c.SSLMode, "DB_SSL_MODE")
}

// Validate reports a descriptive error for the first invalid field
// found.
func (c *Config) Validate() error {
	if c.Host == "" {
		return apperrors.NewValidationError("database host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return apperrors.NewValidationError("database port must be between 1 and 65535")
	}
	if c.User == "" {
		return apperrors.NewValidationError("database user is required")
	}
	if c.Database == "" {
		return apperrors.NewValidationError("database name is required")
	}
	if c.MaxOpenConns <= 0 {
		return apperrors.NewValidationError("max open connections must be greater than 0")
	}
	if c.MaxIdleConns < 0 {
		return apperrors.NewValidationError("max idle connections must be non-negative")
	}
	return nil
}

// ConnectionString renders a libpq keyword/value connection string.
// Password is omitted entirely when empty so it never appears as
// `password=` in logs of the string.
func (c *Config) ConnectionString() string {
	s := fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Database, c.SSLMode)
	if c.Password != "" {
		s += fmt.Sprintf(" password=%s", c.Password)
	}
	return s
}

// Connect validates config, opens a pooled *sqlx.DB against the pgx
// stdlib driver, and applies the pool tuning.
func Connect(config *Config, logger *zap.Logger) (*sqlx.DB, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	db, err := sqlx.Open("pgx", config.ConnectionString())
	if err != nil {
		return nil, apperrors.NewDatabaseError("open connection", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, apperrors.NewDatabaseError("ping", err)
	}

	logger.Info("connected to database",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("database", config.Database),
		zap.Int("max_open_conns", config.MaxOpenConns),
	)
	return db, nil
}

func envString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			*dst = n
		}
	}
}

// ErrNoRows re-exports database/sql's sentinel so repository callers
// can match it without importing database/sql directly.
var ErrNoRows = sql.ErrNoRows
