package planner

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"perpexec/pkg/confkit"
)

const (
	DefaultLeverage             = 10.0
	DefaultMakerFeeRate         = 0.0
	DefaultTakerFeeRate         = 0.000275
	DefaultMinExpectedRewardUSD = 1.0
	DefaultMinRewardFeeRatio    = 3.0
	DefaultRiskFraction         = 0.01
)

// Config holds sizing defaults, the fee schedule and live-trading caps. A cap
// of zero disables it.
type Config struct {
	DefaultLeverage      float64 `yaml:"default_leverage"`
	MakerFeeRate         float64 `yaml:"maker_fee_rate"`
	TakerFeeRate         float64 `yaml:"taker_fee_rate"`
	MinExpectedRewardUSD float64 `yaml:"min_expected_reward_usd"`
	MinRewardFeeRatio    float64 `yaml:"min_reward_fee_ratio"`
	LiveMaxLeverage      float64 `yaml:"live_max_leverage"`
	LiveMaxRiskUSD       float64 `yaml:"live_max_risk_usd"`
	LiveMaxMarginUSD     float64 `yaml:"live_max_margin_usd"`
}

// DefaultConfig returns the built-in schedule.
func DefaultConfig() Config {
	return Config{
		DefaultLeverage:      DefaultLeverage,
		MakerFeeRate:         DefaultMakerFeeRate,
		TakerFeeRate:         DefaultTakerFeeRate,
		MinExpectedRewardUSD: DefaultMinExpectedRewardUSD,
		MinRewardFeeRatio:    DefaultMinRewardFeeRatio,
	}
}

// UnmarshalYAML starts from DefaultConfig so omitted keys keep their defaults.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type plain Config
	out := plain(DefaultConfig())
	if err := node.Decode(&out); err != nil {
		return err
	}
	*c = Config(out)
	return nil
}

// LoadConfig reads configuration from disk.
func LoadConfig(path string) (*Config, error) {
	confkit.LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open planner config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader decodes, defaults and validates a YAML document.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read planner config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal planner config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills values that have no meaningful zero.
func (c *Config) ApplyDefaults() {
	if c.DefaultLeverage <= 0 {
		c.DefaultLeverage = DefaultLeverage
	}
}

// Validate checks ranges.
func (c *Config) Validate() error {
	if c.MakerFeeRate < 0 || c.MakerFeeRate >= 1 {
		return fmt.Errorf("planner config: maker_fee_rate must be within [0,1)")
	}
	if c.TakerFeeRate < 0 || c.TakerFeeRate >= 1 {
		return fmt.Errorf("planner config: taker_fee_rate must be within [0,1)")
	}
	if c.MinExpectedRewardUSD < 0 || c.MinRewardFeeRatio < 0 {
		return fmt.Errorf("planner config: reward thresholds must be >= 0")
	}
	if c.LiveMaxLeverage < 0 || c.LiveMaxRiskUSD < 0 || c.LiveMaxMarginUSD < 0 {
		return fmt.Errorf("planner config: live caps must be >= 0")
	}
	return nil
}

// FeeRate returns the scheduled rate for a liquidity class.
func (c *Config) FeeRate(liquidity string) float64 {
	if liquidity == "maker" {
		return c.MakerFeeRate
	}
	return c.TakerFeeRate
}
