package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// EnvPrefix prefixes every environment override, e.g. EXPENSE_SERVER_PORT
const EnvPrefix = "EXPENSE"

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Approval  ApprovalConfig  `mapstructure:"approval"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Demo      DemoConfig      `mapstructure:"demo"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	AllowOrigin  string        `mapstructure:"allow_origin"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// CapEntry is one category cap. Amounts are decimal strings.
type CapEntry struct {
	Category string `mapstructure:"category"`
	Cap      string `mapstructure:"cap"`
}

// AliasEntry maps an alternate category name onto a capped one
type AliasEntry struct {
	Alias    string `mapstructure:"alias"`
	Category string `mapstructure:"category"`
}

// PolicyConfig holds spending caps. Lists keep category names in their configured case.
// An empty list falls back to the built-in caps.
type PolicyConfig struct {
	Caps    []CapEntry   `mapstructure:"caps"`
	Aliases []AliasEntry `mapstructure:"aliases"`
}

// ApprovalConfig controls the approval chain
type ApprovalConfig struct {
	// CEOThreshold adds a CEO tier for totals above it; "0" or empty disables the tier
	CEOThreshold string `mapstructure:"ceo_threshold"`
}

// AuthConfig holds bearer token settings. An empty signing key disables token issuing.
type AuthConfig struct {
	SigningKey   string        `mapstructure:"signing_key"`
	Issuer       string        `mapstructure:"issuer"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
	RequireToken bool          `mapstructure:"require_token"`
}

// RateLimitConfig holds per-client write throttling
type RateLimitConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	WritesPerMinute int           `mapstructure:"writes_per_minute"`
	ResetPerMinute  int           `mapstructure:"reset_per_minute"`
	ResetCooldown   time.Duration `mapstructure:"reset_cooldown"`
}

// DemoConfig controls the demo dataset
type DemoConfig struct {
	ResetEnabled bool   `mapstructure:"reset_enabled"`
	ResetCron    string `mapstructure:"reset_cron"`
	ResetZone    string `mapstructure:"reset_zone"`
	SeedOnStart  bool   `mapstructure:"seed_on_start"`
}

// Load reads configuration from an optional yaml file, a .env file and the environment.
// A missing file at configPath leaves the defaults in place.
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv exports the variables of path without overriding ones already set
func loadDotEnv(path string) error {
	if err := gotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.allow_origin", "*")

	// Database defaults
	v.SetDefault("database.path", "data/expenses.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", 0)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	v.SetDefault("approval.ceo_threshold", "0")

	v.SetDefault("auth.issuer", "expense-approval")
	v.SetDefault("auth.token_ttl", 12*time.Hour)
	v.SetDefault("auth.require_token", false)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.writes_per_minute", 120)
	v.SetDefault("ratelimit.reset_per_minute", 6)
	v.SetDefault("ratelimit.reset_cooldown", 20*time.Second)

	v.SetDefault("demo.reset_enabled", true)
	v.SetDefault("demo.reset_cron", "")
	v.SetDefault("demo.reset_zone", "UTC")
	v.SetDefault("demo.seed_on_start", true)
}

// bindEnvVars binds variables whose names do not follow the prefix scheme
func bindEnvVars(v *viper.Viper) error {
	bindings := map[string][]string{
		"auth.signing_key":   {"EXPENSE_AUTH_SIGNING_KEY", "JWT_SIGNING_KEY"},
		"database.path":      {"EXPENSE_DATABASE_PATH", "DB_PATH"},
		"demo.reset_enabled": {"EXPENSE_DEMO_RESET_ENABLED", "DEMO_RESET_ENABLED"},
		"server.port":        {"EXPENSE_SERVER_PORT", "PORT"},
	}
	for key, names := range bindings {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("database.path is required")
	}

	for i, entry := range c.Policy.Caps {
		if strings.TrimSpace(entry.Category) == "" {
			return fmt.Errorf("policy.caps[%d].category is required", i)
		}
		amount, err := decimal.NewFromString(entry.Cap)
		if err != nil {
			return fmt.Errorf("policy.caps[%d].cap %q is not a number", i, entry.Cap)
		}
		if amount.IsNegative() {
			return fmt.Errorf("policy.caps[%d].cap must not be negative", i)
		}
	}

	if _, err := c.Approval.Threshold(); err != nil {
		return err
	}

	if c.Auth.RequireToken && c.Auth.SigningKey == "" {
		return fmt.Errorf("auth.signing_key is required when auth.require_token is set")
	}
	if c.Auth.SigningKey != "" && c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.WritesPerMinute <= 0 || c.RateLimit.ResetPerMinute <= 0 {
			return fmt.Errorf("ratelimit per-minute limits must be positive")
		}
		if c.RateLimit.ResetCooldown < 0 {
			return fmt.Errorf("ratelimit.reset_cooldown must not be negative")
		}
	}

	if _, err := time.LoadLocation(c.Demo.ResetZone); err != nil {
		return fmt.Errorf("demo.reset_zone %q: %w", c.Demo.ResetZone, err)
	}

	return nil
}

// Threshold parses the CEO threshold; empty means no CEO tier
func (a ApprovalConfig) Threshold() (decimal.Decimal, error) {
	raw := strings.TrimSpace(a.CEOThreshold)
	if raw == "" {
		return decimal.Zero, nil
	}
	threshold, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("approval.ceo_threshold %q is not a number", a.CEOThreshold)
	}
	if threshold.IsNegative() {
		return decimal.Zero, fmt.Errorf("approval.ceo_threshold must not be negative")
	}
	return threshold, nil
}
