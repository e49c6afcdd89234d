package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-approval/internal/container"
	"github.com/garyjia/expense-approval/internal/domain/policy"
	httpapi "github.com/garyjia/expense-approval/internal/interfaces/http"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() (*container.Config, error) {
	caps, aliases, err := c.Policy.resolve()
	if err != nil {
		return nil, err
	}

	threshold, err := c.Approval.Threshold()
	if err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(c.Demo.ResetZone)
	if err != nil {
		return nil, fmt.Errorf("demo.reset_zone %q: %w", c.Demo.ResetZone, err)
	}

	rateLimit := httpapi.DefaultRateLimitConfig()
	rateLimit.Enabled = c.RateLimit.Enabled
	rateLimit.WritesPerMinute = c.RateLimit.WritesPerMinute
	rateLimit.ResetPerMinute = c.RateLimit.ResetPerMinute
	rateLimit.ResetCooldown = c.RateLimit.ResetCooldown

	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
		},
		Server: httpapi.ServerConfig{
			Host:         c.Server.Host,
			Port:         c.Server.Port,
			ReadTimeout:  c.Server.ReadTimeout,
			WriteTimeout: c.Server.WriteTimeout,
			RequireToken: c.Auth.RequireToken,
			AllowOrigin:  c.Server.AllowOrigin,
			RateLimit:    rateLimit,
		},
		Policy: container.PolicyConfig{
			Caps:    caps,
			Aliases: aliases,
		},
		Approval: container.ApprovalConfig{
			CEOThreshold: threshold,
		},
		Auth: container.AuthConfig{
			SigningKey: c.Auth.SigningKey,
			Issuer:     c.Auth.Issuer,
			TokenTTL:   c.Auth.TokenTTL,
		},
		Demo: container.DemoConfig{
			ResetEnabled:  c.Demo.ResetEnabled,
			ResetSchedule: strings.TrimSpace(c.Demo.ResetCron),
			Location:      loc,
			SeedOnStart:   c.Demo.SeedOnStart,
		},
	}, nil
}

// resolve returns the configured caps, or the built-in ones when none are listed
func (p PolicyConfig) resolve() (map[string]decimal.Decimal, map[string]string, error) {
	if len(p.Caps) == 0 {
		return policy.DefaultCaps(), policy.DefaultAliases(), nil
	}

	caps := make(map[string]decimal.Decimal, len(p.Caps))
	for _, entry := range p.Caps {
		amount, err := decimal.NewFromString(strings.TrimSpace(entry.Cap))
		if err != nil {
			return nil, nil, fmt.Errorf("policy cap for %s: %w", entry.Category, err)
		}
		caps[strings.TrimSpace(entry.Category)] = amount
	}

	aliases := make(map[string]string, len(p.Aliases))
	for _, entry := range p.Aliases {
		aliases[strings.TrimSpace(entry.Alias)] = strings.TrimSpace(entry.Category)
	}

	return caps, aliases, nil
}
