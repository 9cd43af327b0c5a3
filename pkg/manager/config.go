package manager

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"perpexec/pkg/confkit"
)

// DefaultCoins is the tradable universe when none is configured.
var DefaultCoins = []string{"ETH", "SOL", "XRP", "BTC", "DOGE", "BNB"}

const (
	DefaultPaperCapital = 10000.0
	DefaultLiveCapital  = 500.0
)

// Config describes the trading loop.
type Config struct {
	Coins            []string `yaml:"coins"`
	StartCapital     float64  `yaml:"start_capital"`
	LiveStartCapital float64  `yaml:"live_start_capital"`
	MarketSource     string   `yaml:"market_source"`
	// ResponseExcerpt bounds the model output copied into each cycle record.
	ResponseExcerpt int `yaml:"response_excerpt"`

	StatePath       string `yaml:"state_path"`
	TradeLogPath    string `yaml:"trade_log"`
	DecisionLogPath string `yaml:"decision_log"`
	JournalDir      string `yaml:"journal_dir"`
	JournalEnabled  bool   `yaml:"journal_enabled"`

	Interval     time.Duration `yaml:"-"`
	RetryBackoff time.Duration `yaml:"-"`
	StatusTTL    time.Duration `yaml:"-"`

	IntervalRaw     string `yaml:"interval"`
	RetryBackoffRaw string `yaml:"retry_backoff"`
	StatusTTLRaw    string `yaml:"status_ttl"`

	baseDir string
}

// DefaultConfig returns a paper-trading loop over DefaultCoins.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	_ = cfg.parseDurations()
	cfg.expandFields()
	return cfg
}

// LoadConfig reads configuration from disk. Relative paths resolve against
// the directory of path.
func LoadConfig(path string) (*Config, error) {
	confkit.LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manager config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file, filepath.Dir(path))
}

// LoadConfigFromReader constructs a Config from a reader with the provided base directory.
func LoadConfigFromReader(r io.Reader, baseDir string) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read manager config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal manager config: %w", err)
	}
	cfg.baseDir = baseDir

	cfg.applyDefaults()
	if err := cfg.parseDurations(); err != nil {
		return nil, err
	}
	cfg.expandFields()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if len(c.Coins) == 0 {
		c.Coins = append([]string(nil), DefaultCoins...)
	}
	if c.StartCapital == 0 {
		c.StartCapital = DefaultPaperCapital
	}
	if c.LiveStartCapital == 0 {
		c.LiveStartCapital = DefaultLiveCapital
	}
	if c.ResponseExcerpt == 0 {
		c.ResponseExcerpt = 2000
	}
	if strings.TrimSpace(c.IntervalRaw) == "" {
		c.IntervalRaw = "3m"
	}
	if strings.TrimSpace(c.RetryBackoffRaw) == "" {
		c.RetryBackoffRaw = "30s"
	}
	if strings.TrimSpace(c.StatusTTLRaw) == "" {
		c.StatusTTLRaw = "15m"
	}
	if strings.TrimSpace(c.StatePath) == "" {
		c.StatePath = "data/portfolio_state.json"
	}
	if strings.TrimSpace(c.TradeLogPath) == "" {
		c.TradeLogPath = "data/trade_history.csv"
	}
	if strings.TrimSpace(c.DecisionLogPath) == "" {
		c.DecisionLogPath = "data/ai_decisions.csv"
	}
	if strings.TrimSpace(c.JournalDir) == "" {
		c.JournalDir = "data/cycles"
	}
}

func (c *Config) parseDurations() error {
	var err error
	if c.Interval, err = parsePositiveDuration("interval", c.IntervalRaw); err != nil {
		return err
	}
	if c.RetryBackoff, err = parsePositiveDuration("retry_backoff", c.RetryBackoffRaw); err != nil {
		return err
	}
	if c.StatusTTL, err = parsePositiveDuration("status_ttl", c.StatusTTLRaw); err != nil {
		return err
	}
	return nil
}

func (c *Config) expandFields() {
	coins := make([]string, 0, len(c.Coins))
	seen := make(map[string]struct{}, len(c.Coins))
	for _, coin := range c.Coins {
		coin = strings.ToUpper(strings.TrimSpace(coin))
		if coin == "" {
			continue
		}
		if _, dup := seen[coin]; dup {
			continue
		}
		seen[coin] = struct{}{}
		coins = append(coins, coin)
	}
	c.Coins = coins
	c.MarketSource = strings.TrimSpace(c.MarketSource)
	c.StatePath = c.resolvePath(c.StatePath)
	c.TradeLogPath = c.resolvePath(c.TradeLogPath)
	c.DecisionLogPath = c.resolvePath(c.DecisionLogPath)
	c.JournalDir = c.resolvePath(c.JournalDir)
}

func (c *Config) resolvePath(path string) string {
	path = strings.TrimSpace(os.ExpandEnv(path))
	if path == "" || filepath.IsAbs(path) || c.baseDir == "" {
		return path
	}
	return filepath.Join(c.baseDir, path)
}

// Validate ensures configuration sanity.
func (c *Config) Validate() error {
	if len(c.Coins) == 0 {
		return errors.New("manager config: coins cannot be empty")
	}
	if c.StartCapital <= 0 {
		return errors.New("manager config: start_capital must be positive")
	}
	if c.LiveStartCapital <= 0 {
		return errors.New("manager config: live_start_capital must be positive")
	}
	if c.ResponseExcerpt < 0 {
		return errors.New("manager config: response_excerpt cannot be negative")
	}
	if c.StatePath == "" {
		return errors.New("manager config: state_path is required")
	}
	return nil
}

// Capital returns the starting balance for a fresh session.
func (c *Config) Capital(live bool) float64 {
	if live {
		return c.LiveStartCapital
	}
	return c.StartCapital
}

func parsePositiveDuration(field, value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("manager config: %s is required", field)
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("manager config: invalid %s %q: %w", field, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("manager config: %s must be positive, got %s", field, d)
	}
	return d, nil
}
