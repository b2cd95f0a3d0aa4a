package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	HTTP     HTTPConfig
	Database DatabaseConfig
	Log      LogConfig
	Batch    BatchConfig
	Ledger   LedgerConfig
	SMTP     SMTPConfig
}

type HTTPConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Path string // SQLite data source name
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// BatchConfig controls the daily ledger pass.
type BatchConfig struct {
	Cron       string // Standard 5-field cron expression
	Workers    int    // Contracts processed in parallel
	RunOnStart bool
}

// LedgerConfig holds the business rules the engine is parameterised with.
type LedgerConfig struct {
	Timezone         string // Business timezone that decides what "today" is
	SlipTolerance    decimal.Decimal
	DefaultAfterDays int
	MaxRetries       int // Attempts for a verification that hits a version conflict
}

// SMTPConfig is empty when customer emails are disabled.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// Enabled reports whether enough is set to send mail.
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.From != ""
}

// Location resolves the business timezone.
func (c LedgerConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Load reads configuration.
// Priority (highest to lowest):
// 1. Environment variables with LEDGER_ prefix (e.g., LEDGER_DATABASE_PATH)
// 2. ledger.toml in the working directory
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("ledger")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/loanledger")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	tolerance, err := decimal.NewFromString(v.GetString("ledger.slip_tolerance"))
	if err != nil {
		return nil, fmt.Errorf("ledger.slip_tolerance: %w", err)
	}

	cfg := &Config{
		HTTP: HTTPConfig{
			Port:         v.GetString("http.port"),
			ReadTimeout:  v.GetDuration("http.read_timeout"),
			WriteTimeout: v.GetDuration("http.write_timeout"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("database.path"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Batch: BatchConfig{
			Cron:       v.GetString("batch.cron"),
			Workers:    v.GetInt("batch.workers"),
			RunOnStart: v.GetBool("batch.run_on_start"),
		},
		Ledger: LedgerConfig{
			Timezone:         v.GetString("ledger.timezone"),
			SlipTolerance:    tolerance,
			DefaultAfterDays: v.GetInt("ledger.default_after_days"),
			MaxRetries:       v.GetInt("ledger.max_retries"),
		},
		SMTP: SMTPConfig{
			Host:     v.GetString("smtp.host"),
			Port:     v.GetString("smtp.port"),
			Username: v.GetString("smtp.username"),
			Password: v.GetString("smtp.password"),
			From:     v.GetString("smtp.from"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", "8080")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("database.path", "loanledger.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("batch.cron", "5 0 * * *")
	v.SetDefault("batch.workers", 4)
	v.SetDefault("batch.run_on_start", false)
	v.SetDefault("ledger.timezone", "Asia/Bangkok")
	v.SetDefault("ledger.slip_tolerance", "100")
	v.SetDefault("ledger.default_after_days", 90)
	v.SetDefault("ledger.max_retries", 3)
	v.SetDefault("smtp.port", "587")
}

func (c *Config) validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Batch.Workers < 1 {
		return fmt.Errorf("batch.workers must be at least 1, got %d", c.Batch.Workers)
	}
	if _, err := cron.ParseStandard(c.Batch.Cron); err != nil {
		return fmt.Errorf("batch.cron %q: %w", c.Batch.Cron, err)
	}
	if _, err := c.Ledger.Location(); err != nil {
		return fmt.Errorf("ledger.timezone %q: %w", c.Ledger.Timezone, err)
	}
	if c.Ledger.SlipTolerance.IsNegative() {
		return fmt.Errorf("ledger.slip_tolerance must not be negative")
	}
	if c.Ledger.DefaultAfterDays < 1 {
		return fmt.Errorf("ledger.default_after_days must be at least 1, got %d", c.Ledger.DefaultAfterDays)
	}
	if c.Ledger.MaxRetries < 1 {
		return fmt.Errorf("ledger.max_retries must be at least 1, got %d", c.Ledger.MaxRetries)
	}
	return nil
}
