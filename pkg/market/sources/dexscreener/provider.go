package dexscreener

import (
	"context"
	"fmt"
	"strings"
	"time"

	"callscore-api/pkg/market"
	"callscore-api/pkg/market/apiclient"
	"callscore-api/pkg/market/contract"
)

const defaultProviderTimeout = 10 * time.Second

// SearchProvider finds the most liquid pair whose base token symbol matches
// exactly, then prices its token through the contract resolver.
type SearchProvider struct {
	name      string
	client    *Client
	contracts market.ContractResolver
	timeout   time.Duration
}

type providerConfig struct {
	timeout       time.Duration
	clientOptions []apiclient.Option
}

// ProviderOption customises the search provider.
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

// NewSearchProvider constructs the symbol-search chain step. Without a
// contract resolver it can only answer current-price queries.
func NewSearchProvider(name string, deps market.Deps, opts ...ProviderOption) *SearchProvider {
	cfg := &providerConfig{timeout: defaultProviderTimeout}
	for _, opt := range opts {
		opt(cfg)
	}
	return &SearchProvider{
		name:      name,
		client:    NewClient(cfg.clientOptions...),
		contracts: deps.Contracts,
		timeout:   cfg.timeout,
	}
}

func init() {
	market.RegisterProvider("dexscreener-search", func(name string, cfg *market.ProviderConfig, deps market.Deps) (market.Provider, error) {
		return NewSearchProvider(name, deps,
			WithTimeout(cfg.Timeout),
			WithClientOptions(apiclient.ConfigOptions(cfg)...),
		), nil
	})
}

// Name implements market.Provider.
func (p *SearchProvider) Name() string { return p.name }

// Price implements market.Provider.
func (p *SearchProvider) Price(ctx context.Context, q market.Query) (*market.ResolvedPrice, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	symbol := strings.ToUpper(strings.TrimSpace(q.Symbol))
	pairs, err := p.client.Search(ctx, symbol)
	if err != nil {
		return nil, err
	}
	matching := pairs[:0]
	for _, pair := range pairs {
		if pair.BaseSymbol == symbol {
			matching = append(matching, pair)
		}
	}
	best, ok := contract.MostLiquid(matching)
	if !ok {
		return nil, fmt.Errorf("%w: dexscreener: no pair with base %s", market.ErrNotFound, symbol)
	}

	if p.contracts != nil {
		res, err := p.contracts.ResolveContract(ctx, market.ContractRef{ChainID: best.ChainID, Address: best.BaseTokenAddress}, q.At)
		if err != nil {
			return nil, err
		}
		if res == nil {
			return nil, fmt.Errorf("%w: dexscreener: %s", market.ErrNotFound, best.BaseTokenAddress)
		}
		price := res.ResolvedPrice
		return &price, nil
	}
	if q.Historical() {
		return nil, fmt.Errorf("%w: dexscreener: historical search needs a contract resolver", market.ErrNotFound)
	}
	return &market.ResolvedPrice{Price: best.PriceUSD, Provider: p.name}, nil
}

func (p *SearchProvider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.timeout)
}
