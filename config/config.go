// Package config loads the engine configuration from config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/mirror/internal/domain"
	"github.com/vadiminshakov/mirror/internal/services/calculator"
)

const (
	PlatformBinance = "binance"
	PlatformBybit   = "bybit"

	DefaultPath = "config.yaml"
)

// Config is the validated, typed configuration.
type Config struct {
	Mode                 domain.OperatingMode
	Platform             string
	QuoteAsset           string
	MainAccount          MainAccount
	Clients              []domain.ClientConfig
	Limits               domain.TradingLimits
	ErrorHandling        ErrorHandling
	AutoSync             AutoSync
	Workers              int
	CacheRefreshInterval time.Duration
	CacheMaxAge          time.Duration
	DataDir              string
	Precision            int32
	Rounding             calculator.Rounding
	Logging              Logging
}

type MainAccount struct {
	ID          string `yaml:"id"`
	Credentials string `yaml:"credentials"`
}

type ErrorHandling struct {
	RetryCount          int           `yaml:"retry_count"`
	MaxErrorsPerSession int           `yaml:"max_errors_per_session"`
	StopOnCritical      bool          `yaml:"stop_on_critical"`
	BaseDelay           time.Duration `yaml:"base_delay"`
	MaxDelay            time.Duration `yaml:"max_delay"`
	AttemptTimeout      time.Duration `yaml:"attempt_timeout"`
}

type AutoSync struct {
	Interval              time.Duration
	Hours                 domain.ActiveHours
	AllowClosedSimulation bool
	// AutoStart turns Auto Sync on when the daemon starts.
	AutoStart bool
}

type Logging struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// File mirrors config.yaml. Load turns it into a Config; the setup wizard writes it.
type File struct {
	OperatingMode        string                 `yaml:"operating_mode"`
	Platform             string                 `yaml:"platform"`
	QuoteAsset           string                 `yaml:"quote_asset"`
	MainAccount          MainAccount            `yaml:"main_account"`
	Clients              []domain.ClientConfig  `yaml:"clients"`
	TradingLimits        *domain.LimitsOverride `yaml:"trading_limits,omitempty"`
	ErrorHandling        *ErrorHandling         `yaml:"error_handling,omitempty"`
	AutoSync             AutoSyncFile           `yaml:"auto_sync"`
	Workers              int                    `yaml:"workers,omitempty"`
	CacheRefreshInterval time.Duration          `yaml:"cache_refresh_interval,omitempty"`
	CacheMaxAge          time.Duration          `yaml:"cache_max_age,omitempty"`
	DataDir              string                 `yaml:"data_dir,omitempty"`
	QuantityPrecision    int32                  `yaml:"quantity_precision"`
	Rounding             string                 `yaml:"rounding,omitempty"`
	Logging              *Logging               `yaml:"logging,omitempty"`
}

type AutoSyncFile struct {
	// Interval accepts Go durations and labels such as "Every 5 minutes".
	Interval              string `yaml:"interval"`
	StartTime             string `yaml:"start_time"`
	EndTime               string `yaml:"end_time"`
	Timezone              string `yaml:"timezone"`
	AllowClosedSimulation bool   `yaml:"allow_closed_simulation"`
	AutoStart             bool   `yaml:"auto_start"`
}

// DefaultErrorHandling are the retry and budget defaults.
func DefaultErrorHandling() ErrorHandling {
	return ErrorHandling{
		RetryCount:          3,
		MaxErrorsPerSession: 10,
		StopOnCritical:      true,
		BaseDelay:           time.Second,
		MaxDelay:            30 * time.Second,
		AttemptTimeout:      15 * time.Second,
	}
}

func defaultLogging() Logging {
	return Logging{Level: "info", MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28}
}

// Load reads and validates the yaml config at path.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	return Parse(raw)
}

// Parse decodes and validates yaml config content. Sections left out of the
// yaml keep their defaults field by field.
func Parse(raw []byte) (*Config, error) {
	eh, lg := DefaultErrorHandling(), defaultLogging()
	f := File{ErrorHandling: &eh, Logging: &lg}
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	return f.Config()
}

// Config applies defaults and validates the file.
func (f File) Config() (*Config, error) {
	cfg := &Config{
		Platform:             strings.ToLower(strings.TrimSpace(f.Platform)),
		QuoteAsset:           strings.ToUpper(strings.TrimSpace(f.QuoteAsset)),
		MainAccount:          f.MainAccount,
		Clients:              f.Clients,
		Limits:               domain.DefaultTradingLimits().Merge(f.TradingLimits),
		ErrorHandling:        DefaultErrorHandling(),
		Workers:              f.Workers,
		CacheRefreshInterval: f.CacheRefreshInterval,
		CacheMaxAge:          f.CacheMaxAge,
		DataDir:              f.DataDir,
		Precision:            f.QuantityPrecision,
		Rounding:             calculator.Rounding(strings.ToLower(f.Rounding)),
		Logging:              defaultLogging(),
	}

	mode := f.OperatingMode
	if mode == "" {
		mode = string(domain.ModeDryRun)
	}
	m, err := domain.ParseOperatingMode(mode)
	if err != nil {
		return nil, err
	}
	cfg.Mode = m

	if cfg.Platform == "" {
		cfg.Platform = PlatformBinance
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	if cfg.CacheRefreshInterval == 0 {
		cfg.CacheRefreshInterval = time.Minute
	}
	if cfg.CacheMaxAge == 0 {
		cfg.CacheMaxAge = 2 * time.Minute
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.Rounding == "" {
		cfg.Rounding = calculator.RoundNearest
	}
	if f.ErrorHandling != nil {
		cfg.ErrorHandling = *f.ErrorHandling
	}
	if f.Logging != nil {
		cfg.Logging = *f.Logging
	}
	for i := range cfg.Clients {
		if cfg.Clients[i].ScaleMethod == "" {
			cfg.Clients[i].ScaleMethod = domain.ScaleEquityRatio
		}
	}

	as, err := f.AutoSync.resolve()
	if err != nil {
		return nil, err
	}
	cfg.AutoSync = as

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (a AutoSyncFile) resolve() (AutoSync, error) {
	out := AutoSync{AllowClosedSimulation: a.AllowClosedSimulation, AutoStart: a.AutoStart}

	interval := a.Interval
	if interval == "" {
		interval = "5m"
	}
	d, err := domain.ParseInterval(interval)
	if err != nil {
		return AutoSync{}, errors.Wrap(err, "auto_sync.interval")
	}
	out.Interval = d

	tz := a.Timezone
	if tz == "" {
		tz = "America/New_York"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return AutoSync{}, errors.Wrapf(err, "auto_sync.timezone %q", tz)
	}

	hours, err := domain.NewActiveHours(a.StartTime, a.EndTime, loc)
	if err != nil {
		return AutoSync{}, errors.Wrap(err, "auto_sync active hours")
	}
	out.Hours = hours
	return out, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if !c.Mode.IsValid() {
		return fmt.Errorf("unknown operating mode %q", c.Mode)
	}
	if c.Platform != PlatformBinance && c.Platform != PlatformBybit {
		return fmt.Errorf("unsupported platform %q, expected %s or %s", c.Platform, PlatformBinance, PlatformBybit)
	}
	if c.MainAccount.ID == "" {
		return errors.New("main_account.id is required")
	}
	if len(c.Clients) == 0 {
		return errors.New("at least one client is required")
	}

	seenIDs := make(map[string]struct{}, len(c.Clients))
	seenAccounts := map[string]struct{}{c.MainAccount.ID: {}}
	for _, cl := range c.Clients {
		if err := cl.Validate(); err != nil {
			return err
		}
		if _, dup := seenIDs[cl.ID]; dup {
			return fmt.Errorf("duplicate client id %q", cl.ID)
		}
		seenIDs[cl.ID] = struct{}{}
		if _, dup := seenAccounts[cl.AccountID]; dup {
			return fmt.Errorf("client %s: account %q is already used", cl.ID, cl.AccountID)
		}
		seenAccounts[cl.AccountID] = struct{}{}
	}

	if c.Limits.MaxOrdersPerRun < 1 {
		return errors.New("trading_limits.max_orders_per_run must be at least 1")
	}
	if !c.Limits.MaxOrderSize.IsPositive() || !c.Limits.MaxPositionValue.IsPositive() || c.Limits.MinOrderValue.IsNegative() {
		return errors.New("trading_limits must be positive")
	}
	if c.ErrorHandling.RetryCount < 0 {
		return errors.New("error_handling.retry_count must not be negative")
	}
	if c.ErrorHandling.MaxDelay < c.ErrorHandling.BaseDelay {
		return errors.New("error_handling.max_delay must not be below base_delay")
	}
	if c.Workers < 1 {
		return errors.New("workers must be at least 1")
	}
	if c.Precision < 0 || c.Precision > 8 {
		return fmt.Errorf("quantity_precision must be within 0..8, got %d", c.Precision)
	}
	if !c.Rounding.IsValid() {
		return fmt.Errorf("unknown rounding %q", c.Rounding)
	}
	return nil
}

// EnabledClients returns the clients that take part in runs.
func (c *Config) EnabledClients() []domain.ClientConfig {
	out := make([]domain.ClientConfig, 0, len(c.Clients))
	for _, cl := range c.Clients {
		if cl.Enabled {
			out = append(out, cl)
		}
	}
	return out
}

// Path joins a name under the data directory.
func (c *Config) Path(elem ...string) string {
	return filepath.Join(append([]string{c.DataDir}, elem...)...)
}

// Write stores f as yaml at path, replacing any existing file atomically.
func Write(path string, f File) error {
	raw, err := yaml.Marshal(f)
	if err != nil {
		return errors.Wrap(err, "encode config")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return errors.Wrap(err, "write config")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "replace config")
	}
	return nil
}
