package geckoterminal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"callscore-api/pkg/market"
	"callscore-api/pkg/market/apiclient"
	"callscore-api/pkg/market/history"
)

const defaultProviderTimeout = 10 * time.Second

// Provider is the last chain step: it finds the deepest pool whose base token
// matches the symbol and reads its price or candles directly.
type Provider struct {
	name    string
	client  *Client
	match   market.MatchPolicy
	timeout time.Duration
	now     func() time.Time
}

type providerConfig struct {
	timeout       time.Duration
	clientOptions []apiclient.Option
	now           func() time.Time
}

// ProviderOption customises the GeckoTerminal provider.
type ProviderOption func(*providerConfig)

// WithTimeout overrides the default per-call timeout.
func WithTimeout(timeout time.Duration) ProviderOption {
	return func(cfg *providerConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithClientOptions passes options to the underlying HTTP client.
func WithClientOptions(options ...apiclient.Option) ProviderOption {
	return func(cfg *providerConfig) {
		cfg.clientOptions = append(cfg.clientOptions, options...)
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) ProviderOption {
	return func(cfg *providerConfig) {
		if now != nil {
			cfg.now = now
		}
	}
}

// NewProvider constructs a GeckoTerminal pool-search provider.
func NewProvider(name string, deps market.Deps, opts ...ProviderOption) *Provider {
	cfg := &providerConfig{timeout: defaultProviderTimeout, now: time.Now}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Provider{
		name:    name,
		client:  NewClient(cfg.clientOptions...),
		match:   deps.Match,
		timeout: cfg.timeout,
		now:     cfg.now,
	}
}

func init() {
	market.RegisterProvider("geckoterminal", func(name string, cfg *market.ProviderConfig, deps market.Deps) (market.Provider, error) {
		return NewProvider(name, deps,
			WithTimeout(cfg.Timeout),
			WithClientOptions(apiclient.ConfigOptions(cfg)...),
		), nil
	})
}

// Name implements market.Provider.
func (p *Provider) Name() string { return p.name }

// Price implements market.Provider.
func (p *Provider) Price(ctx context.Context, q market.Query) (*market.ResolvedPrice, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	symbol := strings.ToUpper(strings.TrimSpace(q.Symbol))
	pools, err := p.client.SearchPools(ctx, symbol)
	if err != nil {
		return nil, err
	}
	pool, ok := deepestPool(pools, symbol)
	if !ok {
		return nil, fmt.Errorf("%w: geckoterminal: no pool with base %s", market.ErrNotFound, symbol)
	}
	if !q.Historical() {
		return &market.ResolvedPrice{Price: pool.PriceUSD, Provider: p.name}, nil
	}
	sample, err := history.Find(ctx, Limits, *q.At, p.now(), p.match, func(ctx context.Context, plan history.Plan) ([]market.PriceSample, error) {
		return p.client.PoolSamples(ctx, pool.Network, pool.Address, plan)
	})
	if err != nil {
		return nil, fmt.Errorf("geckoterminal %s: %w", symbol, err)
	}
	return history.Resolved(p.name, sample), nil
}

// deepestPool keeps pools whose base token is exactly symbol and returns the
// one with the largest reserve; ties keep the first.
func deepestPool(pools []Pool, symbol string) (Pool, bool) {
	var best Pool
	found := false
	for _, pool := range pools {
		if pool.BaseSymbol != symbol {
			continue
		}
		if !found || pool.ReserveUSD > best.ReserveUSD {
			best, found = pool, true
		}
	}
	return best, found
}

func (p *Provider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.timeout)
}
