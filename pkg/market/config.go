package market

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"callscore-api/pkg/confkit"
)

// Provider names used by the default chain layout.
const (
	DefaultCryptoChain = "yahoo,coinmarketcap,coingecko,contract,dexscreener-search,geckoterminal"
	DefaultStockChain  = "yahoo"
)

// Config describes providers, chain ordering and resolution policy.
type Config struct {
	Chains      ChainsConfig               `yaml:"chains"`
	Providers   map[string]*ProviderConfig `yaml:"providers"`
	Contract    ContractConfig             `yaml:"contract"`
	SymbolsFile string                     `yaml:"symbols_file"`
	Batch       BatchConfig                `yaml:"batch"`

	// MaxMatchDeltaRaw bounds how far a matched historical sample may sit from the
	// target. Empty uses each plan's tolerance, "off" disables the bound.
	MaxMatchDeltaRaw string      `yaml:"max_match_delta"`
	Match            MatchPolicy `yaml:"-"`
}

// ChainsConfig lists provider names in invocation order per asset class.
type ChainsConfig struct {
	Crypto []string `yaml:"crypto"`
	Stock  []string `yaml:"stock"`
}

// ProviderConfig represents configuration for a single price provider.
type ProviderConfig struct {
	Type    string `yaml:"type"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`

	TimeoutRaw     string        `yaml:"timeout" default:"8s"`
	Timeout        time.Duration `yaml:"-"`
	HTTPTimeoutRaw string        `yaml:"http_timeout" default:"10s"`
	HTTPTimeout    time.Duration `yaml:"-"`
	MaxRetries     int           `yaml:"max_retries"`
	// RateLimitRaw is nil when rate_limit is absent; an explicit 0 disables limiting.
	RateLimitRaw *float64 `yaml:"rate_limit" default:"5"`
	RateLimit    float64  `yaml:"-"`
	Burst        int      `yaml:"burst" default:"5"`
}

// ContractConfig configures the contract-address resolver's upstream clients.
type ContractConfig struct {
	DexScreener     *ProviderConfig `yaml:"dexscreener"`
	GeckoTerminal   *ProviderConfig `yaml:"geckoterminal"`
	CandleCutoffRaw string          `yaml:"candle_cutoff" default:"24h"`
	CandleCutoff    time.Duration   `yaml:"-"`
}

// BatchConfig bounds concurrent independent resolutions.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency" default:"4"`
}

// MatchPolicy decides when a closest historical sample is too far away to trust.
type MatchPolicy struct {
	// MaxDelta caps |sample - target|; zero defers to the plan tolerance.
	MaxDelta time.Duration
	// Permissive accepts any closest sample regardless of distance.
	Permissive bool
}

// ProviderBuilder constructs a Provider from configuration.
type ProviderBuilder func(name string, cfg *ProviderConfig, deps Deps) (Provider, error)

var (
	providerRegistry   = make(map[string]ProviderBuilder)
	providerRegistryMu sync.RWMutex
)

// RegisterProvider registers a price provider constructor.
func RegisterProvider(typeName string, builder ProviderBuilder) {
	providerRegistryMu.Lock()
	defer providerRegistryMu.Unlock()
	providerRegistry[strings.ToLower(strings.TrimSpace(typeName))] = builder
}

func lookupProviderBuilder(typeName string) (ProviderBuilder, bool) {
	providerRegistryMu.RLock()
	defer providerRegistryMu.RUnlock()
	builder, ok := providerRegistry[strings.ToLower(strings.TrimSpace(typeName))]
	return builder, ok
}

// LoadConfig reads configuration from disk.
func LoadConfig(path string) (*Config, error) {
	confkit.LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open market config: %w", err)
	}
	defer file.Close()
	cfg, err := LoadConfigFromReader(file)
	if err != nil {
		return nil, err
	}
	if cfg.SymbolsFile != "" {
		cfg.SymbolsFile = confkit.ResolvePath(confkit.BaseDir(path), cfg.SymbolsFile)
	}
	return cfg, nil
}

// MustLoad reads market configuration from the default project location and panics on error.
func MustLoad() *Config {
	path := confkit.MustProjectPath("etc/market.yaml")
	cfg, err := LoadConfig(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadConfigFromReader constructs a Config from an io.Reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	confkit.LoadDotenvOnce()
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
	if c.Providers == nil {
		c.Providers = make(map[string]*ProviderConfig)
	}
	if len(c.Chains.Crypto) == 0 {
		c.Chains.Crypto = strings.Split(DefaultCryptoChain, ",")
	}
	if len(c.Chains.Stock) == 0 {
		c.Chains.Stock = strings.Split(DefaultStockChain, ",")
	}
	c.Chains.Crypto = cleanNames(c.Chains.Crypto)
	c.Chains.Stock = cleanNames(c.Chains.Stock)

	for name, provider := range c.Providers {
		if provider == nil {
			provider = &ProviderConfig{}
			c.Providers[name] = provider
		}
		if err := provider.prepare(name); err != nil {
			return err
		}
	}
	if c.Contract.DexScreener == nil {
		c.Contract.DexScreener = &ProviderConfig{Type: "dexscreener"}
	}
	if c.Contract.GeckoTerminal == nil {
		c.Contract.GeckoTerminal = &ProviderConfig{Type: "geckoterminal"}
	}
	if err := c.Contract.DexScreener.prepare("contract.dexscreener"); err != nil {
		return err
	}
	if err := c.Contract.GeckoTerminal.prepare("contract.geckoterminal"); err != nil {
		return err
	}
	if err := defaults.Set(&c.Contract); err != nil {
		return fmt.Errorf("market contract defaults: %w", err)
	}
	cutoff, err := parsePositiveDuration("contract", "candle_cutoff", c.Contract.CandleCutoffRaw)
	if err != nil {
		return err
	}
	c.Contract.CandleCutoff = cutoff
	if err := defaults.Set(&c.Batch); err != nil {
		return fmt.Errorf("market batch defaults: %w", err)
	}

	c.SymbolsFile = strings.TrimSpace(confkit.ExpandEnv(c.SymbolsFile))
	policy, err := parseMatchPolicy(strings.TrimSpace(confkit.ExpandEnv(c.MaxMatchDeltaRaw)))
	if err != nil {
		return err
	}
	c.Match = policy
	return nil
}

func (p *ProviderConfig) prepare(name string) error {
	if err := defaults.Set(p); err != nil {
		return fmt.Errorf("market provider %s: defaults: %w", name, err)
	}
	p.expandEnv()
	if p.RateLimitRaw != nil {
		p.RateLimit = *p.RateLimitRaw
	}
	return p.parseDurations(name)
}

func (p *ProviderConfig) expandEnv() {
	p.Type = strings.TrimSpace(confkit.ExpandEnv(p.Type))
	p.BaseURL = strings.TrimSpace(confkit.ExpandEnv(p.BaseURL))
	p.APIKey = strings.TrimSpace(confkit.ExpandEnv(p.APIKey))
	p.TimeoutRaw = strings.TrimSpace(confkit.ExpandEnv(p.TimeoutRaw))
	p.HTTPTimeoutRaw = strings.TrimSpace(confkit.ExpandEnv(p.HTTPTimeoutRaw))
}

func (p *ProviderConfig) parseDurations(name string) error {
	var err error
	if p.TimeoutRaw != "" {
		if p.Timeout, err = parsePositiveDuration(name, "timeout", p.TimeoutRaw); err != nil {
			return err
		}
	}
	if p.HTTPTimeoutRaw != "" {
		if p.HTTPTimeout, err = parsePositiveDuration(name, "http_timeout", p.HTTPTimeoutRaw); err != nil {
			return err
		}
	}
	return nil
}

func parsePositiveDuration(name, field, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("market provider %s: invalid %s %q: %w", name, field, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("market provider %s: %s must be positive, got %s", name, field, d)
	}
	return d, nil
}

func parseMatchPolicy(raw string) (MatchPolicy, error) {
	switch strings.ToLower(raw) {
	case "":
		return MatchPolicy{}, nil
	case "off", "none", "-1":
		return MatchPolicy{Permissive: true}, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return MatchPolicy{MaxDelta: time.Duration(secs) * time.Second}, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return MatchPolicy{}, fmt.Errorf("market config: invalid max_match_delta %q", raw)
	}
	return MatchPolicy{MaxDelta: d}, nil
}

func cleanNames(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// Validate ensures the configuration is structurally sound.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("market config: providers cannot be empty")
	}
	for name, provider := range c.Providers {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("market config: provider name cannot be empty")
		}
		if err := provider.validate(name); err != nil {
			return err
		}
	}
	for class, names := range map[AssetClass][]string{AssetClassCrypto: c.Chains.Crypto, AssetClassStock: c.Chains.Stock} {
		if len(names) == 0 {
			return fmt.Errorf("market config: %s chain cannot be empty", strings.ToLower(string(class)))
		}
		for _, name := range names {
			if _, ok := c.Providers[name]; !ok {
				return fmt.Errorf("market config: %s chain references undefined provider %q", strings.ToLower(string(class)), name)
			}
		}
	}
	if c.Batch.Concurrency <= 0 {
		return fmt.Errorf("market config: batch.concurrency must be positive")
	}
	return nil
}

func (p *ProviderConfig) validate(name string) error {
	if p == nil {
		return fmt.Errorf("market config: provider %s is nil", name)
	}
	if strings.TrimSpace(p.Type) == "" {
		return fmt.Errorf("market config: provider %s must specify type", name)
	}
	if _, ok := lookupProviderBuilder(p.Type); !ok {
		return fmt.Errorf("market config: provider %s has unsupported type %q", name, p.Type)
	}
	if p.RateLimit < 0 || p.Burst < 0 {
		return fmt.Errorf("market config: provider %s rate_limit and burst cannot be negative", name)
	}
	return nil
}

// BuildProviders instantiates price providers according to configuration.
func (c *Config) BuildProviders(deps Deps) (map[string]Provider, error) {
	result := make(map[string]Provider, len(c.Providers))
	for name, providerCfg := range c.Providers {
		builder, ok := lookupProviderBuilder(providerCfg.Type)
		if !ok {
			return nil, fmt.Errorf("market provider %s: unsupported type %q", name, providerCfg.Type)
		}
		provider, err := builder(name, providerCfg, deps)
		if err != nil {
			return nil, fmt.Errorf("market provider %s: %w", name, err)
		}
		result[name] = provider
	}
	return result, nil
}

// BuildChains orders the built providers into one chain per asset class.
func (c *Config) BuildChains(providers map[string]Provider, opts ...ChainOption) (map[AssetClass]*Chain, error) {
	chains := make(map[AssetClass]*Chain, 2)
	for class, names := range map[AssetClass][]string{AssetClassCrypto: c.Chains.Crypto, AssetClassStock: c.Chains.Stock} {
		ordered := make([]Provider, 0, len(names))
		for _, name := range names {
			provider, ok := providers[name]
			if !ok || provider == nil {
				return nil, fmt.Errorf("market chain %s: provider %q not built", strings.ToLower(string(class)), name)
			}
			ordered = append(ordered, provider)
		}
		chains[class] = NewChain(strings.ToLower(string(class)), ordered, opts...)
	}
	return chains, nil
}
