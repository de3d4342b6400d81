package session

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"options-core/internal/risk"
	"options-core/pkg/venue"
)

// Config is the full trading configuration for one session.
type Config struct {
	Instruments          []string      `yaml:"instruments" json:"instruments"`
	Amount               float64       `yaml:"amount" json:"amount"`
	DurationMin          int           `yaml:"duration_min" json:"duration_min"`
	GranularitySec       int           `yaml:"granularity_sec" json:"granularity_sec"`
	CandleCount          int           `yaml:"candle_count" json:"candle_count"`
	Mode                 venue.Mode    `yaml:"mode" json:"mode"`
	Strategy             string        `yaml:"strategy" json:"strategy"`
	Simulation           bool          `yaml:"simulation" json:"simulation"`
	StopLoss             float64       `yaml:"stop_loss" json:"stop_loss"`
	TakeProfit           float64       `yaml:"take_profit" json:"take_profit"`
	MaxConsecutiveLosses int           `yaml:"max_consecutive_losses" json:"max_consecutive_losses"`
	MaxTrades            int           `yaml:"max_trades" json:"max_trades"`
	ScanInterval         time.Duration `yaml:"scan_interval" json:"scan_interval"`
}

// Update is a partial configuration change. Nil fields are left as-is
// so controllers can patch a single knob on a running session.
type Update struct {
	Instruments          *[]string   `json:"instruments,omitempty"`
	Amount               *float64    `json:"amount,omitempty"`
	DurationMin          *int        `json:"duration_min,omitempty"`
	Mode                 *venue.Mode `json:"mode,omitempty"`
	Strategy             *string     `json:"strategy,omitempty"`
	Simulation           *bool       `json:"simulation,omitempty"`
	StopLoss             *float64    `json:"stop_loss,omitempty"`
	TakeProfit           *float64    `json:"take_profit,omitempty"`
	MaxConsecutiveLosses *int        `json:"max_consecutive_losses,omitempty"`
	MaxTrades            *int        `json:"max_trades,omitempty"`
}

// Apply merges the update into the config.
func (c *Config) Apply(u Update) {
	if u.Instruments != nil {
		c.Instruments = *u.Instruments
	}
	if u.Amount != nil {
		c.Amount = *u.Amount
	}
	if u.DurationMin != nil {
		c.DurationMin = *u.DurationMin
	}
	if u.Mode != nil {
		c.Mode = *u.Mode
	}
	if u.Strategy != nil {
		c.Strategy = *u.Strategy
	}
	if u.Simulation != nil {
		c.Simulation = *u.Simulation
	}
	if u.StopLoss != nil {
		c.StopLoss = *u.StopLoss
	}
	if u.TakeProfit != nil {
		c.TakeProfit = *u.TakeProfit
	}
	if u.MaxConsecutiveLosses != nil {
		c.MaxConsecutiveLosses = *u.MaxConsecutiveLosses
	}
	if u.MaxTrades != nil {
		c.MaxTrades = *u.MaxTrades
	}
}

// Limits maps the config onto risk governor limits.
func (c *Config) Limits() risk.Limits {
	return risk.Limits{
		StopLoss:           c.StopLoss,
		TakeProfit:         c.TakeProfit,
		MaxConsecutiveLoss: c.MaxConsecutiveLosses,
		MaxTrades:          c.MaxTrades,
	}
}

// Validate rejects configs a session cannot run with.
func (c *Config) Validate() error {
	if len(c.Instruments) == 0 {
		return fmt.Errorf("config: no instruments")
	}
	if c.Amount <= 0 {
		return fmt.Errorf("config: amount must be positive, got %v", c.Amount)
	}
	if c.DurationMin <= 0 {
		return fmt.Errorf("config: duration must be positive, got %d", c.DurationMin)
	}
	if c.Mode != venue.ModePractice && c.Mode != venue.ModeReal {
		return fmt.Errorf("config: unknown mode %q", c.Mode)
	}
	return nil
}

// DefaultConfig is the baseline every session starts from.
func DefaultConfig() Config {
	return Config{
		Instruments:          []string{"EURUSD-OTC"},
		Amount:               1,
		DurationMin:          1,
		GranularitySec:       60,
		CandleCount:          100,
		Mode:                 venue.ModePractice,
		Strategy:             "momentum",
		Simulation:           false,
		StopLoss:             0,
		TakeProfit:           0,
		MaxConsecutiveLosses: 3,
		MaxTrades:            0,
		ScanInterval:         5 * time.Second,
	}
}

// LoadDefaults reads the defaults file, falling back to the built-in
// baseline when the file is absent.
func LoadDefaults(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read session defaults: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("parse session defaults: %w", err)
	}
	return cfg, nil
}
