// Package container provides dependency injection and lifecycle management
// for the expense approval service following Clean Architecture principles.
package container

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-approval/internal/domain/policy"
	httpapi "github.com/garyjia/expense-approval/internal/interfaces/http"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Server configuration
	Server httpapi.ServerConfig

	// Policy configuration
	Policy PolicyConfig

	// Approval chain configuration
	Approval ApprovalConfig

	// Auth configuration
	Auth AuthConfig

	// Demo dataset configuration
	Demo DemoConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration
}

// PolicyConfig holds the spending caps by category.
type PolicyConfig struct {
	Caps    map[string]decimal.Decimal
	Aliases map[string]string
}

// ApprovalConfig controls the approval chain.
type ApprovalConfig struct {
	// CEOThreshold adds a CEO tier for totals above it when positive
	CEOThreshold decimal.Decimal
}

// AuthConfig holds bearer token settings.
type AuthConfig struct {
	// SigningKey enables token issuing when set
	SigningKey string
	Issuer     string
	TokenTTL   time.Duration
}

// DemoConfig controls the demo dataset.
type DemoConfig struct {
	// ResetEnabled exposes POST /api/demo/reset
	ResetEnabled bool

	// ResetSchedule is a cron expression for a recurring reset; empty disables it
	ResetSchedule string

	// Location evaluates ResetSchedule
	Location *time.Location

	// SeedOnStart loads the dataset when the database has no users
	SeedOnStart bool
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:         "data/expenses.db",
			MaxOpenConns: 1,
			MaxIdleConns: 1,
		},
		Server: httpapi.DefaultServerConfig(),
		Policy: PolicyConfig{
			Caps:    policy.DefaultCaps(),
			Aliases: policy.DefaultAliases(),
		},
		Auth: AuthConfig{
			Issuer:   "expense-approval",
			TokenTTL: 12 * time.Hour,
		},
		Demo: DemoConfig{
			ResetEnabled: true,
			Location:     time.UTC,
			SeedOnStart:  true,
		},
	}
}

// Validate checks the configuration for required fields.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Database.MaxOpenConns < 0 || c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database connection limits must not be negative")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}

	if c.Approval.CEOThreshold.IsNegative() {
		return fmt.Errorf("CEO threshold must not be negative")
	}

	if c.Server.RequireToken && c.Auth.SigningKey == "" {
		return fmt.Errorf("a signing key is required when tokens are required")
	}
	if c.Auth.SigningKey != "" && c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive")
	}

	return nil
}
