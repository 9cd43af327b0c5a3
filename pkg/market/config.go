package market

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"perpexec/pkg/confkit"
)

const (
	defaultInterval = "3m"
	defaultTimeout  = 8 * time.Second
)

// Config lists candle sources; Default picks the one the engine uses.
type Config struct {
	Default string                   `yaml:"default"`
	Sources map[string]*SourceConfig `yaml:"sources"`
}

// SourceConfig configures one candle source.
type SourceConfig struct {
	Type       string `yaml:"type"`
	BaseURL    string `yaml:"base_url"`
	Interval   string `yaml:"interval"`
	MaxRetries int    `yaml:"max_retries"`

	TimeoutRaw string        `yaml:"timeout"`
	Timeout    time.Duration `yaml:"-"`
}

// SourceBuilder constructs a CandleFetcher from configuration.
type SourceBuilder func(cfg *SourceConfig) (CandleFetcher, error)

var (
	sourceRegistry   = make(map[string]SourceBuilder)
	sourceRegistryMu sync.RWMutex
)

// RegisterSource registers a candle source constructor.
func RegisterSource(typeName string, builder SourceBuilder) {
	sourceRegistryMu.Lock()
	defer sourceRegistryMu.Unlock()
	sourceRegistry[strings.ToLower(strings.TrimSpace(typeName))] = builder
}

func lookupSource(typeName string) (SourceBuilder, bool) {
	sourceRegistryMu.RLock()
	defer sourceRegistryMu.RUnlock()
	b, ok := sourceRegistry[strings.ToLower(strings.TrimSpace(typeName))]
	return b, ok
}

// LoadConfig reads configuration from disk.
func LoadConfig(path string) (*Config, error) {
	confkit.LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open market config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader constructs a Config from an io.Reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read market config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal market config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalise() error {
	if c.Sources == nil {
		c.Sources = make(map[string]*SourceConfig)
	}
	c.Default = strings.TrimSpace(os.ExpandEnv(c.Default))
	for name, src := range c.Sources {
		if src == nil {
			src = &SourceConfig{}
			c.Sources[name] = src
		}
		src.Type = strings.TrimSpace(os.ExpandEnv(src.Type))
		src.BaseURL = strings.TrimSpace(os.ExpandEnv(src.BaseURL))
		src.Interval = strings.TrimSpace(src.Interval)
		if src.Type == "" {
			src.Type = name
		}
		if src.Interval == "" {
			src.Interval = defaultInterval
		}
		if raw := strings.TrimSpace(src.TimeoutRaw); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return fmt.Errorf("market source %s: invalid timeout %q: %w", name, raw, err)
			}
			if d <= 0 {
				return fmt.Errorf("market source %s: timeout must be positive, got %s", name, d)
			}
			src.Timeout = d
		}
		if src.Timeout <= 0 {
			src.Timeout = defaultTimeout
		}
	}
	return nil
}

// Validate ensures the configuration is structurally sound.
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("market config: sources cannot be empty")
	}
	if c.Default != "" {
		if _, ok := c.Sources[c.Default]; !ok {
			return fmt.Errorf("market config: default source %q not defined", c.Default)
		}
	}
	for name, src := range c.Sources {
		if _, ok := lookupSource(src.Type); !ok {
			return fmt.Errorf("market config: source %s has unsupported type %q", name, src.Type)
		}
		if src.MaxRetries < 0 {
			return fmt.Errorf("market config: source %s max_retries must be >= 0", name)
		}
	}
	return nil
}

// Build constructs the named source, or the default when name is empty.
func (c *Config) Build(name string) (CandleFetcher, error) {
	if name == "" {
		name = c.Default
	}
	src, ok := c.Sources[name]
	if !ok {
		return nil, fmt.Errorf("market config: source %q not defined", name)
	}
	builder, ok := lookupSource(src.Type)
	if !ok {
		return nil, fmt.Errorf("market source %s: unsupported type %q", name, src.Type)
	}
	f, err := builder(src)
	if err != nil {
		return nil, fmt.Errorf("market source %s: %w", name, err)
	}
	return f, nil
}
