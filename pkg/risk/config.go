package risk

import (
	"fmt"
	"io"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"perpexec/pkg/confkit"
)

// Config enables the kill-switch and daily loss limit.
type Config struct {
	Enabled               bool    `yaml:"enabled"`
	DailyLossLimitEnabled bool    `yaml:"daily_loss_limit_enabled"`
	DailyLossLimitPct     float64 `yaml:"daily_loss_limit_pct"`
}

// DefaultConfig returns risk control on with a 5% daily loss limit.
func DefaultConfig() Config {
	return Config{Enabled: true, DailyLossLimitEnabled: true, DailyLossLimitPct: 5}
}

// EnvOverrides are runtime switches read from the environment. Nil fields
// keep the configured value.
type EnvOverrides struct {
	KillSwitch            *bool    `envconfig:"KILL_SWITCH"`
	Enabled               *bool    `envconfig:"RISK_CONTROL_ENABLED"`
	DailyLossLimitEnabled *bool    `envconfig:"DAILY_LOSS_LIMIT_ENABLED"`
	DailyLossLimitPct     *float64 `envconfig:"DAILY_LOSS_LIMIT_PCT"`
}

// ReadEnvOverrides parses the override variables.
func ReadEnvOverrides() (EnvOverrides, error) {
	var o EnvOverrides
	if err := envconfig.Process("", &o); err != nil {
		return EnvOverrides{}, fmt.Errorf("risk config: env overrides: %w", err)
	}
	return o, nil
}

// Apply layers the overrides onto c.
func (o EnvOverrides) Apply(c *Config) {
	if o.Enabled != nil {
		c.Enabled = *o.Enabled
	}
	if o.DailyLossLimitEnabled != nil {
		c.DailyLossLimitEnabled = *o.DailyLossLimitEnabled
	}
	if o.DailyLossLimitPct != nil {
		c.DailyLossLimitPct = *o.DailyLossLimitPct
	}
}

// KillSwitchForced reports whether KILL_SWITCH=true was set.
func (o EnvOverrides) KillSwitchForced() bool {
	return o.KillSwitch != nil && *o.KillSwitch
}

// LoadConfig reads risk configuration from disk.
func LoadConfig(path string) (*Config, error) {
	confkit.LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open risk config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader decodes YAML on top of DefaultConfig.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read risk config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal risk config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the loss limit range.
func (c *Config) Validate() error {
	if c.DailyLossLimitPct < 0 || c.DailyLossLimitPct > 100 {
		return fmt.Errorf("risk config: daily_loss_limit_pct must be within [0,100]")
	}
	if c.DailyLossLimitEnabled && c.DailyLossLimitPct == 0 {
		return fmt.Errorf("risk config: daily_loss_limit_pct must be positive when the limit is enabled")
	}
	return nil
}
