// Package policy flags expense items whose amount exceeds the cap of their category.
package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// Exception is an item whose amount is strictly above its category cap
type Exception struct {
	ItemCode   string
	PolicyCode string
	Message    string
	Amount     decimal.Decimal
	Cap        decimal.Decimal
}

type categoryCap struct {
	name string
	cap  decimal.Decimal
}

// Config maps categories to caps. It is immutable once built.
type Config struct {
	caps    map[string]categoryCap
	aliases map[string]string
}

// DefaultCaps returns the caps used when none are configured
func DefaultCaps() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"Hotel":          decimal.NewFromInt(250),
		"Entertainment":  decimal.NewFromInt(100),
		"Airfare":        decimal.NewFromInt(500),
		"Transportation": decimal.NewFromInt(150),
		"Office":         decimal.NewFromInt(200),
		"Meals":          decimal.NewFromInt(75),
	}
}

// DefaultAliases returns alternate category names that share a cap
func DefaultAliases() map[string]string {
	return map[string]string{
		"Lodging":         "Hotel",
		"Transport":       "Transportation",
		"Office Supplies": "Office",
		"Meal":            "Meals",
	}
}

// NewConfig builds a policy configuration. Category names and aliases match case-insensitively.
func NewConfig(caps map[string]decimal.Decimal, aliases map[string]string) (*Config, error) {
	c := &Config{
		caps:    make(map[string]categoryCap, len(caps)),
		aliases: make(map[string]string, len(aliases)),
	}

	for name, limit := range caps {
		key := normalize(name)
		if key == "" {
			return nil, fmt.Errorf("policy cap has an empty category")
		}
		if limit.IsNegative() {
			return nil, fmt.Errorf("policy cap for %s is negative", name)
		}
		if _, dup := c.caps[key]; dup {
			return nil, fmt.Errorf("policy cap for %s is defined twice", name)
		}
		c.caps[key] = categoryCap{name: strings.TrimSpace(name), cap: limit}
	}

	for alias, target := range aliases {
		targetKey := normalize(target)
		if _, ok := c.caps[targetKey]; !ok {
			return nil, fmt.Errorf("policy alias %s points at uncapped category %s", alias, target)
		}
		c.aliases[normalize(alias)] = targetKey
	}

	return c, nil
}

// MustDefault returns the default configuration
func MustDefault() *Config {
	c, err := NewConfig(DefaultCaps(), DefaultAliases())
	if err != nil {
		panic(err)
	}
	return c
}

// CapFor returns the cap that applies to category, if any
func (c *Config) CapFor(category string) (decimal.Decimal, bool) {
	entry, ok := c.lookup(category)
	return entry.cap, ok
}

// Categories lists the capped category names in sorted order
func (c *Config) Categories() []string {
	names := make([]string, 0, len(c.caps))
	for _, entry := range c.caps {
		names = append(names, entry.name)
	}
	sort.Strings(names)
	return names
}

func (c *Config) lookup(category string) (categoryCap, bool) {
	key := normalize(category)
	if target, ok := c.aliases[key]; ok {
		key = target
	}
	entry, ok := c.caps[key]
	return entry, ok
}

// Evaluator applies a policy configuration to report items
type Evaluator struct {
	config *Config
}

// NewEvaluator creates an evaluator over config
func NewEvaluator(config *Config) *Evaluator {
	return &Evaluator{config: config}
}

// Evaluate returns the exceptions among items, in item order
func (e *Evaluator) Evaluate(items []entity.ExpenseItem) []Exception {
	var exceptions []Exception
	for _, item := range items {
		entry, ok := e.config.lookup(item.Category)
		if !ok || !item.Amount.GreaterThan(entry.cap) {
			continue
		}
		exceptions = append(exceptions, Exception{
			ItemCode:   item.Code,
			PolicyCode: policyCode(entry.name),
			Message:    fmt.Sprintf("%s above cap ($%s)", entry.name, entry.cap.String()),
			Amount:     item.Amount,
			Cap:        entry.cap,
		})
	}
	return exceptions
}

// Flagged reports whether any item breaches its cap
func (e *Evaluator) Flagged(items []entity.ExpenseItem) bool {
	return len(e.Evaluate(items)) > 0
}

// Codes returns the item codes of exceptions
func Codes(exceptions []Exception) []string {
	codes := make([]string, 0, len(exceptions))
	for _, ex := range exceptions {
		codes = append(codes, ex.ItemCode)
	}
	return codes
}

func policyCode(category string) string {
	return strings.ToUpper(strings.ReplaceAll(category, " ", "_")) + "_ABOVE_CAP"
}

func normalize(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}
