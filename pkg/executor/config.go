package executor

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"perpexec/pkg/confkit"
)

const (
	defaultDecisionTimeout = 120 * time.Second
	defaultExcerptChars    = 2000
)

// Config controls the decision round-trip.
type Config struct {
	// Model overrides the chat client's default model.
	Model string `yaml:"model"`
	// SystemPromptPath and CyclePromptPath replace the embedded templates.
	SystemPromptPath string `yaml:"system_prompt_path"`
	CyclePromptPath  string `yaml:"cycle_prompt_path"`
	// ExcerptChars bounds how much model output is kept in the cycle journal.
	ExcerptChars int `yaml:"excerpt_chars"`

	DecisionTimeoutRaw string        `yaml:"decision_timeout"`
	DecisionTimeout    time.Duration `yaml:"-"`
}

// DefaultConfig returns the round-trip defaults.
func DefaultConfig() *Config {
	return &Config{DecisionTimeout: defaultDecisionTimeout, ExcerptChars: defaultExcerptChars}
}

// LoadConfig reads configuration from disk.
func LoadConfig(path string) (*Config, error) {
	confkit.LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open executor config: %w", err)
	}
	defer file.Close()
	cfg, err := LoadConfigFromReader(file)
	if err != nil {
		return nil, err
	}
	base := confkit.BaseDir(path)
	cfg.SystemPromptPath = confkit.ResolvePath(base, cfg.SystemPromptPath)
	cfg.CyclePromptPath = confkit.ResolvePath(base, cfg.CyclePromptPath)
	return cfg, nil
}

// LoadConfigFromReader constructs a Config from a reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read executor config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal executor config: %w", err)
	}
	if raw := strings.TrimSpace(cfg.DecisionTimeoutRaw); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("executor config: invalid decision_timeout %q: %w", raw, err)
		}
		cfg.DecisionTimeout = d
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DecisionTimeout == 0 {
		c.DecisionTimeout = defaultDecisionTimeout
	}
	if c.ExcerptChars == 0 {
		c.ExcerptChars = defaultExcerptChars
	}
}

// Validate checks the timeout and excerpt bound.
func (c *Config) Validate() error {
	if c.DecisionTimeout <= 0 {
		return fmt.Errorf("executor config: decision_timeout must be positive")
	}
	if c.ExcerptChars < 0 {
		return fmt.Errorf("executor config: excerpt_chars must be >= 0")
	}
	return nil
}
