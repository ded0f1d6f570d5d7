package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Built-in limits used when neither the tenant nor the defaults section sets a value.
const (
	DefaultMaxDepth    = 10
	DefaultMaxSiblings = 99
	DefaultRootStep    = 100
	DefaultTolerance   = "0.01"
	DefaultYearStart   = "01-01"
	DefaultCurrency    = "USD"
)

// Config represents the top-level ledger.yaml configuration.
type Config struct {
	Defaults TenantConfig   `yaml:"defaults"`
	Tenants  []TenantConfig `yaml:"tenants,omitempty"`
	Rates    []RateConfig   `yaml:"rates,omitempty"`
	Store    StoreConfig    `yaml:"store"`
	Locks    LockConfig     `yaml:"locks"`
	Redis    RedisConfig    `yaml:"redis"`
	Events   EventsConfig   `yaml:"events"`
	Log      LogConfig      `yaml:"log"`
	Git      GitConfig      `yaml:"git"`
}

// TenantConfig holds per-tenant settings. Zero values inherit from the
// defaults section, then from the built-in defaults.
type TenantConfig struct {
	ID           string                    `yaml:"id,omitempty"`
	Name         string                    `yaml:"name,omitempty"`
	BaseCurrency string                    `yaml:"base_currency,omitempty"`
	Fiscal       FiscalConfig              `yaml:"fiscal,omitempty"`
	Hierarchy    HierarchyConfig           `yaml:"hierarchy,omitempty"`
	Journal      JournalConfig             `yaml:"journal,omitempty"`
	Sequences    map[string]SequenceConfig `yaml:"sequences,omitempty"`
	Periods      []PeriodConfig            `yaml:"periods,omitempty"`
	TaxCodes     []TaxCodeConfig           `yaml:"tax_codes,omitempty"`
}

// FiscalConfig defines the fiscal year boundaries.
type FiscalConfig struct {
	YearStart string `yaml:"year_start,omitempty"` // "MM-DD" format, e.g. "01-01"
}

// HierarchyConfig limits the shape of the chart of accounts.
type HierarchyConfig struct {
	MaxDepth    int `yaml:"max_depth,omitempty"`
	MaxSiblings int `yaml:"max_siblings,omitempty"`
	RootStep    int `yaml:"root_step,omitempty"`
}

// JournalConfig controls balancing.
type JournalConfig struct {
	Tolerance string `yaml:"tolerance,omitempty"` // decimal string, e.g. "0.01"
}

// SequenceConfig describes how document numbers of one type are formatted.
type SequenceConfig struct {
	Prefix    string `yaml:"prefix,omitempty"`
	Separator string `yaml:"separator,omitempty"`
	Padding   int    `yaml:"padding,omitempty"`
	Reset     string `yaml:"reset,omitempty"` // never | fiscal_year | calendar_year
}

// PeriodConfig seeds an accounting period or fiscal year.
type PeriodConfig struct {
	Code   string `yaml:"code"`
	Kind   string `yaml:"kind,omitempty"` // period | fiscal_year
	Start  string `yaml:"start"`          // YYYY-MM-DD
	End    string `yaml:"end"`
	Status string `yaml:"status,omitempty"`
	Locked bool   `yaml:"locked,omitempty"`
}

// TaxCodeConfig seeds a tax code. Rate is a percentage.
type TaxCodeConfig struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name,omitempty"`
	Rate          string `yaml:"rate"`
	Compound      bool   `yaml:"compound,omitempty"`
	Recoverable   bool   `yaml:"recoverable,omitempty"`
	EffectiveFrom string `yaml:"effective_from,omitempty"`
	EffectiveTo   string `yaml:"effective_to,omitempty"`
}

// RateConfig seeds an exchange rate: one unit of From costs Rate units of To.
type RateConfig struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	Date string `yaml:"date"`
	Rate string `yaml:"rate"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver         string `yaml:"driver"` // file | memory | postgres
	PrimaryDSN     string `yaml:"primary_dsn,omitempty"`
	ReplicaDSN     string `yaml:"replica_dsn,omitempty"`
	DatabaseName   string `yaml:"database_name,omitempty"`
	RunMigrations  bool   `yaml:"run_migrations"`
	MaxOpenConns   int    `yaml:"max_open_conns,omitempty"`
	MaxIdleConns   int    `yaml:"max_idle_conns,omitempty"`
	ChartOfAccount string `yaml:"chart_of_accounts,omitempty"`
}

// LockConfig bounds how long operations wait for exclusive locks.
type LockConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	Retries     int           `yaml:"retries"`
	BackoffBase time.Duration `yaml:"backoff_base"`
}

// RedisConfig enables distributed locks.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// EventsConfig enables publishing of posted vouchers.
type EventsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url,omitempty"`
	Exchange string `yaml:"exchange,omitempty"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

// GitConfig controls versioning of the project directory.
type GitConfig struct {
	Enabled     bool   `yaml:"enabled"`
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
}

// Load reads a ledger.yaml file from disk.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Default returns a Config with sensible defaults for a new ledger.
func Default() *Config {
	return &Config{
		Defaults: TenantConfig{
			BaseCurrency: DefaultCurrency,
			Fiscal:       FiscalConfig{YearStart: DefaultYearStart},
			Hierarchy: HierarchyConfig{
				MaxDepth:    DefaultMaxDepth,
				MaxSiblings: DefaultMaxSiblings,
				RootStep:    DefaultRootStep,
			},
			Journal:   JournalConfig{Tolerance: DefaultTolerance},
			Sequences: DefaultSequences(),
		},
		Store: StoreConfig{
			Driver:         "file",
			RunMigrations:  true,
			ChartOfAccount: "accounts/chart-of-accounts.csv",
		},
		Locks: LockConfig{
			Timeout:     5 * time.Second,
			Retries:     3,
			BackoffBase: 20 * time.Millisecond,
		},
		Events: EventsConfig{Exchange: "ledger.events"},
		Log:    LogConfig{Level: "info", Format: "json"},
		Git: GitConfig{
			Enabled:     true,
			AuthorName:  "Ledger",
			AuthorEmail: "ledger@localhost",
		},
	}
}

// DefaultSequences returns the number formats for the built-in voucher types.
func DefaultSequences() map[string]SequenceConfig {
	return map[string]SequenceConfig{
		"journal": {Prefix: "JV", Separator: "-", Padding: 5, Reset: "fiscal_year"},
		"invoice": {Prefix: "INV", Separator: "-", Padding: 5, Reset: "fiscal_year"},
		"payment": {Prefix: "PAY", Separator: "-", Padding: 5, Reset: "fiscal_year"},
		"generic": {Prefix: "GV", Separator: "-", Padding: 5, Reset: "fiscal_year"},
	}
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Tenants))
	for i, t := range c.Tenants {
		if t.ID == "" {
			return fmt.Errorf("tenants[%d]: id is required", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("tenants[%d]: duplicate tenant id %q", i, t.ID)
		}
		seen[t.ID] = true
	}
	for _, t := range append([]TenantConfig{c.Defaults}, c.Tenants...) {
		if t.Journal.Tolerance == "" {
			continue
		}
		if _, err := decimal.NewFromString(t.Journal.Tolerance); err != nil {
			return fmt.Errorf("tenant %q: parsing journal tolerance %q: %w", t.ID, t.Journal.Tolerance, err)
		}
	}
	switch c.Store.Driver {
	case "", "file", "memory", "postgres":
	default:
		return fmt.Errorf("unknown store driver %q (want file, memory or postgres)", c.Store.Driver)
	}
	return nil
}
