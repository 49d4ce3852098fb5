package store

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"dropship-autopilot/internal/types"
)

// Config is the process bootstrap configuration loaded from config.yaml.
// The autopilot's tunable parameters (types.CycleConfig) live in the
// database and are replaced at runtime; this file only seeds them.
type Config struct {
	Mode       string `yaml:"mode"`        // DRY_RUN or LIVE
	SourceMode string `yaml:"source_mode"` // STATIC or LIVE
	DBPath     string `yaml:"db_path"`
	UserID     string `yaml:"user_id"`

	Cycle struct {
		DeadlineSeconds int `yaml:"deadline_seconds"`
	} `yaml:"cycle"`

	Marketplace struct {
		Name          string `yaml:"name"`
		SandboxURL    string `yaml:"sandbox_url"`
		ProductionURL string `yaml:"production_url"`
		TimeoutSec    int    `yaml:"timeout_seconds"`
	} `yaml:"marketplace"`

	Scraper struct {
		Sources []SupplierSource `yaml:"sources"`
	} `yaml:"scraper"`

	Creds struct {
		CacheTTLSeconds    int               `yaml:"cache_ttl_seconds"`
		DefaultEnvironment types.Environment `yaml:"default_environment"`
	} `yaml:"creds"`

	Autopilot types.CycleConfig `yaml:"autopilot"`
}

// SupplierSource configures one supplier site the live scraper crawls.
type SupplierSource struct {
	Name       string  `yaml:"name"`
	BaseURL    string  `yaml:"base_url"`
	SearchPath string  `yaml:"search_path"` // e.g. "/search?q={query}"
	Markup     float64 `yaml:"markup"`      // resale markup multiplier

	Selectors struct {
		Item  string `yaml:"item"`
		Title string `yaml:"title"`
		URL   string `yaml:"url"`
		Price string `yaml:"price"`
	} `yaml:"selectors"`

	RateLimitSeconds int `yaml:"rate_limit_seconds"`
}

func (c *Config) Validate() error {
	if c.Mode != "DRY_RUN" && c.Mode != "LIVE" {
		return fmt.Errorf("invalid mode '%s': must be 'DRY_RUN' or 'LIVE'", c.Mode)
	}
	if c.SourceMode != "STATIC" && c.SourceMode != "LIVE" {
		return fmt.Errorf("invalid source_mode '%s': must be 'STATIC' or 'LIVE'", c.SourceMode)
	}
	if c.UserID == "" {
		return errors.New("user_id cannot be empty")
	}
	if c.SourceMode == "LIVE" && len(c.Scraper.Sources) == 0 {
		return errors.New("scraper.sources cannot be empty in LIVE source mode")
	}
	if err := c.Autopilot.Validate(); err != nil {
		return fmt.Errorf("autopilot: %w", err)
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	if c.SourceMode == "" {
		c.SourceMode = "STATIC"
	}
	if c.DBPath == "" {
		c.DBPath = "autopilot.db"
	}
	if c.Cycle.DeadlineSeconds == 0 {
		c.Cycle.DeadlineSeconds = 300
	}
	if c.Marketplace.Name == "" {
		c.Marketplace.Name = "ebay"
	}
	if c.Marketplace.TimeoutSec == 0 {
		c.Marketplace.TimeoutSec = 30
	}
	if c.Creds.CacheTTLSeconds == 0 {
		c.Creds.CacheTTLSeconds = 60
	}
	if c.Creds.DefaultEnvironment == "" {
		c.Creds.DefaultEnvironment = types.EnvSandbox
	}
	if c.Autopilot.MaxOpportunitiesPerCycle == 0 {
		c.Autopilot.MaxOpportunitiesPerCycle = 10
	}
	if c.Autopilot.TargetMarketplace == "" {
		c.Autopilot.TargetMarketplace = c.Marketplace.Name
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}
