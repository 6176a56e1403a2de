package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cleared-dev/splitledger/internal/model"
	"github.com/cleared-dev/splitledger/internal/mutation"
	"github.com/cleared-dev/splitledger/internal/reconcile"
)

// FileName is the config file name at the project root.
const FileName = "splitledger.yaml"

// Config represents the top-level splitledger.yaml configuration.
type Config struct {
	Database       DatabaseConfig       `yaml:"database"`
	Import         ImportConfig         `yaml:"import"`
	Reconcile      ReconcileConfig      `yaml:"reconcile"`
	Marketplaces   []MarketplaceConfig  `yaml:"marketplaces,omitempty"`
	Categorization CategorizationConfig `yaml:"categorization"`
	Log            LogConfig            `yaml:"log"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `yaml:"path"` // relative to the project root
}

// ImportConfig controls the import directory and bank CSV format.
type ImportConfig struct {
	Dir        string `yaml:"dir"`
	BankFormat string `yaml:"bank_format"`
	Source     string `yaml:"source"` // source tag stamped on imported records
}

// ReconcileConfig controls order matching.
type ReconcileConfig struct {
	MaxLagDays        int            `yaml:"max_lag_days"`
	PurchasesNegative bool           `yaml:"purchases_negative"`
	NearMiss          NearMissConfig `yaml:"near_miss"`
}

// NearMissConfig controls diagnostic reporting of almost-matched orders.
type NearMissConfig struct {
	Enabled              bool  `yaml:"enabled"`
	AmountToleranceCents int64 `yaml:"amount_tolerance_cents"`
}

// MarketplaceConfig configures one marketplace plugin.
type MarketplaceConfig struct {
	Name             string   `yaml:"name"`
	Enabled          bool     `yaml:"enabled"`
	Priority         int      `yaml:"priority"`
	MerchantPatterns []string `yaml:"merchant_patterns,omitempty"`
	OrdersGlob       string   `yaml:"orders_glob"` // order report files under the import dir
}

// CategorizationConfig sets the provenance method stamped by
// "records categorize" when none is given.
type CategorizationConfig struct {
	DefaultMethod string `yaml:"default_method"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads a splitledger.yaml file from disk.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	// Sections missing from the file keep their defaults. A list that is
	// present replaces the default list.
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
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

// Default returns a Config with sensible defaults for a new project.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "splitledger.db"},
		Import: ImportConfig{
			Dir:        "import",
			BankFormat: "aggregator",
			Source:     "aggregator",
		},
		Reconcile: ReconcileConfig{
			MaxLagDays:        reconcile.DefaultMaxLagDays,
			PurchasesNegative: true,
			NearMiss: NearMissConfig{
				AmountToleranceCents: reconcile.DefaultNearMissToleranceCents,
			},
		},
		Marketplaces: []MarketplaceConfig{
			{
				Name:             "Amazon",
				Enabled:          true,
				Priority:         10,
				MerchantPatterns: []string{"AMAZON", "AMZN"},
				OrdersGlob:       "amazon/*",
			},
		},
		Categorization: CategorizationConfig{DefaultMethod: string(model.MethodAutomated)},
		Log:            LogConfig{Level: "info"},
	}
}

// Validate checks value ranges and marketplace uniqueness.
func (c *Config) Validate() error {
	var errs []error
	if c.Reconcile.MaxLagDays < 0 {
		errs = append(errs, fmt.Errorf("reconcile.max_lag_days must be >= 0, got %d", c.Reconcile.MaxLagDays))
	}
	if c.Reconcile.NearMiss.AmountToleranceCents < 0 {
		errs = append(errs, fmt.Errorf("reconcile.near_miss.amount_tolerance_cents must be >= 0"))
	}
	if m := model.AssignmentMethod(c.Categorization.DefaultMethod); !m.Valid() {
		errs = append(errs, fmt.Errorf("categorization.default_method: unknown method %q", m))
	}
	seen := make(map[string]bool)
	for i, m := range c.Marketplaces {
		name := strings.ToLower(strings.TrimSpace(m.Name))
		if name == "" {
			errs = append(errs, fmt.Errorf("marketplaces[%d]: name is required", i))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("marketplaces[%d]: duplicate name %q", i, m.Name))
		}
		seen[name] = true
		if m.Priority < 0 || m.Priority >= mutation.DefaultPriority {
			errs = append(errs, fmt.Errorf("marketplaces[%d]: priority must be in [0, %d), got %d",
				i, mutation.DefaultPriority, m.Priority))
		}
	}
	return errors.Join(errs...)
}

// ReconcileOptions converts the reconcile section into matcher options.
// Near-miss reporting is wired by the caller.
func (c *Config) ReconcileOptions() reconcile.Options {
	return reconcile.Options{
		MaxLagDays:             c.Reconcile.MaxLagDays,
		PurchasesNegative:      c.Reconcile.PurchasesNegative,
		NearMissToleranceCents: c.Reconcile.NearMiss.AmountToleranceCents,
	}
}
