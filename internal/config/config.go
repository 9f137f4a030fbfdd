// Package config provides configuration management for the trading bot.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/dfontaine/qqq-spread-bot/internal/clock"
)

// Defaults applied by normalize when the corresponding key is unset.
const (
	// defaultStopLossMultiple is the premium multiple used for the daily
	// stop-loss threshold (a loss of 2x net premium triggers liquidation)
	defaultStopLossMultiple = 2.0
	// defaultContracts is the per-leg contract count for spread orders
	defaultContracts = 1
	// defaultMonitorInterval is how often the P&L monitor runs inside its window
	defaultMonitorInterval = 15 * time.Second
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Risk        RiskConfig        `yaml:"risk"`
	Storage     StorageConfig     `yaml:"storage"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines broker API settings. Key and secret are normally
// supplied via ${ALPACA_API_KEY} / ${ALPACA_API_SECRET} expansion.
type BrokerConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

// StrategyConfig defines trading strategy parameters.
type StrategyConfig struct {
	Underlying     string `yaml:"underlying"`
	Contracts      int    `yaml:"contracts"`
	PutSpreadName  string `yaml:"put_spread_name"`
	CallSpreadName string `yaml:"call_spread_name"`
}

// RiskConfig defines risk management parameters.
type RiskConfig struct {
	StopLossMultiple float64 `yaml:"stop_loss_multiple"`
}

// ScheduleConfig defines the trading-day schedule. All times-of-day are
// "HH:MM" strings expressed in the reference timezone.
type ScheduleConfig struct {
	Timezone        string `yaml:"timezone"` // e.g. "America/New_York"
	Entry           string `yaml:"entry"`
	Exit            string `yaml:"exit"`
	MonitorStart    string `yaml:"monitor_start"`
	MonitorEnd      string `yaml:"monitor_end"`
	MonitorInterval string `yaml:"monitor_interval"` // Go duration, e.g. "15s"
	PostMarket      string `yaml:"post_market"`
	ProgramEnd      string `yaml:"program_end"`
}

// StorageConfig defines where daily reference prices and order records live.
type StorageConfig struct {
	PriceDir  string `yaml:"price_dir"`
	OrdersDir string `yaml:"orders_dir"`
}

// DashboardConfig defines the optional status HTTP server.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables (API credentials)
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// normalize fills in defaults for unset keys.
func (c *Config) normalize() {
	if c.Strategy.Contracts == 0 {
		c.Strategy.Contracts = defaultContracts
	}
	if c.Strategy.PutSpreadName == "" && c.Strategy.Underlying != "" {
		c.Strategy.PutSpreadName = strings.ToLower(c.Strategy.Underlying) + "_put_spread"
	}
	if c.Strategy.CallSpreadName == "" && c.Strategy.Underlying != "" {
		c.Strategy.CallSpreadName = strings.ToLower(c.Strategy.Underlying) + "_call_spread"
	}
	if c.Risk.StopLossMultiple == 0 {
		c.Risk.StopLossMultiple = defaultStopLossMultiple
	}
	if c.Schedule.MonitorInterval == "" {
		c.Schedule.MonitorInterval = defaultMonitorInterval.String()
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = "America/New_York"
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	// Environment validation
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	// Broker validation
	if c.Broker.APIKey == "" {
		return fmt.Errorf("broker.api_key is required")
	}
	if c.Broker.APISecret == "" {
		return fmt.Errorf("broker.api_secret is required")
	}

	// Strategy validation
	if c.Strategy.Underlying == "" {
		return fmt.Errorf("strategy.underlying is required")
	}
	if c.Strategy.Contracts <= 0 {
		return fmt.Errorf("strategy.contracts must be > 0")
	}

	// Risk validation
	if c.Risk.StopLossMultiple <= 0 {
		return fmt.Errorf("risk.stop_loss_multiple must be > 0")
	}

	// Storage validation
	if c.Storage.PriceDir == "" {
		return fmt.Errorf("storage.price_dir is required")
	}
	if c.Storage.OrdersDir == "" {
		return fmt.Errorf("storage.orders_dir is required")
	}

	// Schedule validation
	if _, err := time.ParseDuration(c.Schedule.MonitorInterval); err != nil {
		return fmt.Errorf("schedule.monitor_interval invalid: %w", err)
	}
	times := []struct {
		name  string
		value string
	}{
		{"schedule.entry", c.Schedule.Entry},
		{"schedule.exit", c.Schedule.Exit},
		{"schedule.monitor_start", c.Schedule.MonitorStart},
		{"schedule.monitor_end", c.Schedule.MonitorEnd},
		{"schedule.post_market", c.Schedule.PostMarket},
		{"schedule.program_end", c.Schedule.ProgramEnd},
	}
	for _, entry := range times {
		if _, err := ParseClock(entry.value); err != nil {
			return fmt.Errorf("%s invalid: %w", entry.name, err)
		}
	}

	monStart := mustClock(c.Schedule.MonitorStart)
	monEnd := mustClock(c.Schedule.MonitorEnd)
	if !monStart.Before(monEnd) {
		return fmt.Errorf("schedule.monitor_start must be before schedule.monitor_end")
	}
	exit := mustClock(c.Schedule.Exit)
	end := mustClock(c.Schedule.ProgramEnd)
	if !exit.Before(end) {
		return fmt.Errorf("schedule.exit must be before schedule.program_end")
	}

	return nil
}

// IsPaperTrading returns true if the bot is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// MonitorInterval returns the configured monitor interval duration.
func (c *Config) MonitorInterval() time.Duration {
	d, err := time.ParseDuration(c.Schedule.MonitorInterval)
	if err != nil {
		return defaultMonitorInterval
	}
	return d
}

// ParseClock parses an "HH:MM" schedule string into a TimeOfDay.
func ParseClock(s string) (clock.TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return clock.TimeOfDay{}, fmt.Errorf("expected HH:MM, got %q: %w", s, err)
	}
	return clock.NewTimeOfDay(t.Hour(), t.Minute()), nil
}

// mustClock is used after Validate has already checked the value.
func mustClock(s string) clock.TimeOfDay {
	tod, _ := ParseClock(s)
	return tod
}

// EntryTime returns the strategy entry time-of-day.
func (c *Config) EntryTime() clock.TimeOfDay { return mustClock(c.Schedule.Entry) }

// ExitTime returns the forced position-close time-of-day.
func (c *Config) ExitTime() clock.TimeOfDay { return mustClock(c.Schedule.Exit) }

// MonitorStartTime returns the start of the P&L monitoring window.
func (c *Config) MonitorStartTime() clock.TimeOfDay { return mustClock(c.Schedule.MonitorStart) }

// MonitorEndTime returns the end of the P&L monitoring window.
func (c *Config) MonitorEndTime() clock.TimeOfDay { return mustClock(c.Schedule.MonitorEnd) }

// PostMarketTime returns the reference-price snapshot time-of-day.
func (c *Config) PostMarketTime() clock.TimeOfDay { return mustClock(c.Schedule.PostMarket) }

// ProgramEndTime returns the scheduler termination time-of-day.
func (c *Config) ProgramEndTime() clock.TimeOfDay { return mustClock(c.Schedule.ProgramEnd) }
