package llm

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"perpexec/pkg/confkit"
)

const (
	defaultBaseURL    = "https://openrouter.ai/api/v1"
	defaultModel      = "deepseek/deepseek-chat-v3.1"
	defaultTimeout    = 90 * time.Second
	defaultMaxRetries = 2
	defaultMaxTokens  = 4000

	envAPIKey     = "LLM_API_KEY"
	envBaseURL    = "LLM_API_BASE_URL"
	envModel      = "LLM_MODEL_NAME"
	envTimeout    = "LLM_TIMEOUT"
	envMaxRetries = "LLM_MAX_RETRIES"
)

// Config holds runtime settings for the chat client.
type Config struct {
	BaseURL     string   `yaml:"base_url"`
	APIKey      string   `yaml:"api_key"`
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens"`
	MaxRetries  int      `yaml:"max_retries"`
	JSONMode    bool     `yaml:"json_mode"`
	// Headers are sent with every request, e.g. OpenRouter attribution.
	Headers map[string]string `yaml:"headers"`

	TimeoutRaw string        `yaml:"timeout"`
	Timeout    time.Duration `yaml:"-"`
}

// LoadConfig reads configuration from disk.
func LoadConfig(path string) (*Config, error) {
	confkit.LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open llm config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader constructs a Config from a reader. Environment
// variables override the file.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read llm config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal llm config: %w", err)
	}
	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	if err := cfg.parseTimeout(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("llm config: api_key is required")
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("llm config: base_url is required")
	}
	if strings.TrimSpace(c.Model) == "" {
		return errors.New("llm config: model is required")
	}
	if c.Timeout <= 0 {
		return errors.New("llm config: timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("llm config: max_retries cannot be negative")
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return errors.New("llm config: temperature must be within [0,2]")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = defaultBaseURL
	}
	if strings.TrimSpace(c.Model) == "" {
		c.Model = defaultModel
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
}

func (c *Config) applyEnvOverrides() {
	c.BaseURL = expandAndOverride(c.BaseURL, envBaseURL)
	c.APIKey = expandAndOverride(c.APIKey, envAPIKey)
	c.Model = expandAndOverride(c.Model, envModel)
	c.TimeoutRaw = expandAndOverride(c.TimeoutRaw, envTimeout)
	if raw := os.Getenv(envMaxRetries); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			c.MaxRetries = v
		}
	}
	for k, v := range c.Headers {
		c.Headers[k] = os.ExpandEnv(v)
	}
}

func (c *Config) parseTimeout() error {
	raw := strings.TrimSpace(c.TimeoutRaw)
	if raw == "" {
		c.Timeout = defaultTimeout
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("llm config: invalid timeout %q: %w", raw, err)
	}
	if d <= 0 {
		return fmt.Errorf("llm config: timeout must be positive, got %s", d)
	}
	c.Timeout = d
	return nil
}

func expandAndOverride(current, envKey string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return strings.TrimSpace(os.ExpandEnv(current))
}
