package exchange

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"perpexec/pkg/confkit"
)

// Backend names understood by the registry.
const (
	BackendPaper       = "paper"
	BackendHyperliquid = "hyperliquid"
	BackendBinance     = "binance_futures"
	BackendBackpack    = "backpack_futures"
)

const defaultTimeout = 10 * time.Second

// Config captures per-venue settings keyed by backend name.
type Config struct {
	Backends map[string]*BackendConfig `yaml:"backends"`
}

// BackendConfig describes how to construct one venue adapter.
type BackendConfig struct {
	PrivateKey   string `yaml:"private_key"`
	APIKey       string `yaml:"api_key"`
	APISecret    string `yaml:"api_secret"`
	VaultAddress string `yaml:"vault_address"`
	MainAddress  string `yaml:"main_address"`
	BaseURL      string `yaml:"base_url"`
	Testnet      bool   `yaml:"testnet"`

	// WindowMs is the signature validity window for signed REST venues.
	WindowMs int `yaml:"window_ms"`
	// Slippage is the marketable-limit offset used by venues without native market orders.
	Slippage float64 `yaml:"slippage"`
	// MinNotionalUSD rejects entries smaller than the venue accepts. Zero disables the check.
	MinNotionalUSD float64 `yaml:"min_notional_usd"`

	TimeoutRaw string        `yaml:"timeout"`
	Timeout    time.Duration `yaml:"-"`
}

// Builder constructs a Client for a backend.
type Builder func(cfg *BackendConfig) (Client, error)

var (
	registry   = make(map[string]Builder)
	registryMu sync.RWMutex
)

// Register associates a builder with a backend name. Adapters call it from init.
func Register(name string, builder Builder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[normaliseName(name)] = builder
}

func lookup(name string) (Builder, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	b, ok := registry[normaliseName(name)]
	return b, ok
}

// Registered lists the backend names with a builder, sorted.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New constructs the adapter registered under name. A nil cfg is treated as empty.
func New(name string, cfg *BackendConfig) (Client, error) {
	builder, ok := lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownBackend, name)
	}
	if cfg == nil {
		cfg = &BackendConfig{}
	}
	cp := *cfg
	cp.applyDefaults()
	return builder(&cp)
}

// Build constructs the adapter for name using the matching section of c.
func (c *Config) Build(name string) (Client, error) {
	return New(name, c.Backend(name))
}

// Backend returns the section for name, or nil when absent.
func (c *Config) Backend(name string) *BackendConfig {
	if c == nil || c.Backends == nil {
		return nil
	}
	return c.Backends[normaliseName(name)]
}

// LoadConfig reads configuration from disk.
func LoadConfig(path string) (*Config, error) {
	confkit.LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open exchange config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader constructs a Config from an io.Reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read exchange config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal exchange config: %w", err)
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
	backends := make(map[string]*BackendConfig, len(c.Backends))
	for name, b := range c.Backends {
		if b == nil {
			b = &BackendConfig{}
		}
		b.expandEnv()
		if err := b.parseDurations(name); err != nil {
			return err
		}
		b.applyDefaults()
		backends[normaliseName(name)] = b
	}
	c.Backends = backends
	return nil
}

func (b *BackendConfig) expandEnv() {
	b.PrivateKey = strings.TrimSpace(os.ExpandEnv(b.PrivateKey))
	b.APIKey = strings.TrimSpace(os.ExpandEnv(b.APIKey))
	b.APISecret = strings.TrimSpace(os.ExpandEnv(b.APISecret))
	b.VaultAddress = strings.TrimSpace(os.ExpandEnv(b.VaultAddress))
	b.MainAddress = strings.TrimSpace(os.ExpandEnv(b.MainAddress))
	b.BaseURL = strings.TrimSpace(os.ExpandEnv(b.BaseURL))
	b.TimeoutRaw = strings.TrimSpace(os.ExpandEnv(b.TimeoutRaw))
}

func (b *BackendConfig) parseDurations(name string) error {
	if b.TimeoutRaw == "" {
		return nil
	}
	d, err := time.ParseDuration(b.TimeoutRaw)
	if err != nil {
		return fmt.Errorf("exchange backend %s: invalid timeout %q: %w", name, b.TimeoutRaw, err)
	}
	if d <= 0 {
		return fmt.Errorf("exchange backend %s: timeout must be positive, got %s", name, d)
	}
	b.Timeout = d
	return nil
}

func (b *BackendConfig) applyDefaults() {
	if b.Timeout <= 0 {
		b.Timeout = defaultTimeout
	}
}

// Validate checks that every section names a registered backend and carries sane numbers.
// Credentials are checked by the builders so a missing key only fails the attempt that needs it.
func (c *Config) Validate() error {
	for name, b := range c.Backends {
		if name == "" {
			return fmt.Errorf("exchange config: backend name cannot be empty")
		}
		if _, ok := lookup(name); !ok {
			return fmt.Errorf("exchange config: unsupported backend %q", name)
		}
		if b.Slippage < 0 || b.Slippage >= 1 {
			return fmt.Errorf("exchange config: backend %s slippage must be within [0,1)", name)
		}
		if b.MinNotionalUSD < 0 {
			return fmt.Errorf("exchange config: backend %s min_notional_usd must be >= 0", name)
		}
		if b.WindowMs < 0 {
			return fmt.Errorf("exchange config: backend %s window_ms must be >= 0", name)
		}
	}
	return nil
}

var backendAliases = map[string]string{
	"binance":  BackendBinance,
	"backpack": BackendBackpack,
}

// CanonicalName lower-cases name and resolves short venue aliases
// such as "binance" to their registry name.
func CanonicalName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := backendAliases[n]; ok {
		return alias
	}
	return n
}

func normaliseName(name string) string {
	return CanonicalName(name)
}
