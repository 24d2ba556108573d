package coingecko

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"callscore-api/pkg/market"
	"callscore-api/pkg/market/apiclient"
	"callscore-api/pkg/market/history"
)

const (
	defaultBaseURL         = "https://api.coingecko.com/api/v3"
	defaultProviderTimeout = 8 * time.Second
)

// Limits follows the market_chart/range auto-granularity: 5-minute data for
// the last day, hourly within 90 days, daily beyond.
var Limits = history.Limits{
	history.FiveMinute: 24 * time.Hour,
	history.Hour:       90 * 24 * time.Hour,
	history.Day:        0,
}

// Provider resolves coins by CoinGecko id, discovering ids through /search
// when the alias table has none.
type Provider struct {
	name    string
	client  *apiclient.Client
	aliases market.AliasLookup
	match   market.MatchPolicy
	timeout time.Duration
	now     func() time.Time

	idsMu sync.RWMutex
	ids   map[string]string
}

type providerConfig struct {
	timeout       time.Duration
	apiKey        string
	clientOptions []apiclient.Option
	now           func() time.Time
}

// ProviderOption customises the CoinGecko provider.
type ProviderOption func(*providerConfig)

// WithTimeout overrides the default per-call timeout.
func WithTimeout(timeout time.Duration) ProviderOption {
	return func(cfg *providerConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithAPIKey sets a demo or pro API key.
func WithAPIKey(key string) ProviderOption {
	return func(cfg *providerConfig) {
		cfg.apiKey = strings.TrimSpace(key)
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

// NewProvider constructs a CoinGecko provider.
func NewProvider(name string, deps market.Deps, opts ...ProviderOption) *Provider {
	cfg := &providerConfig{timeout: defaultProviderTimeout, now: time.Now}
	for _, opt := range opts {
		opt(cfg)
	}
	client := apiclient.New("coingecko", defaultBaseURL, cfg.clientOptions...)
	if cfg.apiKey != "" {
		apiclient.WithHeader(apiKeyHeader(client.BaseURL()), cfg.apiKey)(client)
	}
	return &Provider{
		name:    name,
		client:  client,
		aliases: deps.Aliases,
		match:   deps.Match,
		timeout: cfg.timeout,
		now:     cfg.now,
		ids:     make(map[string]string),
	}
}

func apiKeyHeader(baseURL string) string {
	if strings.Contains(baseURL, "pro-api.") {
		return "x-cg-pro-api-key"
	}
	return "x-cg-demo-api-key"
}

func init() {
	market.RegisterProvider("coingecko", func(name string, cfg *market.ProviderConfig, deps market.Deps) (market.Provider, error) {
		return NewProvider(name, deps,
			WithTimeout(cfg.Timeout),
			WithAPIKey(cfg.APIKey),
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

	id, err := p.CoinID(ctx, q.Symbol)
	if err != nil {
		return nil, err
	}
	if !q.Historical() {
		return p.current(ctx, id)
	}
	return p.historical(ctx, id, *q.At)
}

// CoinID maps a ticker to a CoinGecko id. Search results must match the
// ticker exactly; among those the best market-cap rank wins.
func (p *Provider) CoinID(ctx context.Context, symbol string) (string, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return "", fmt.Errorf("%w: coingecko: empty symbol", market.ErrNotFound)
	}
	if p.aliases != nil {
		if id, ok := p.aliases.CoinGeckoID(symbol); ok && id != "" {
			return id, nil
		}
	}
	p.idsMu.RLock()
	id, ok := p.ids[symbol]
	p.idsMu.RUnlock()
	if ok {
		return id, nil
	}

	var resp searchResponse
	if err := p.client.GetJSON(ctx, "/search", url.Values{"query": {symbol}}, &resp); err != nil {
		return "", err
	}
	var best *searchCoin
	for i := range resp.Coins {
		coin := &resp.Coins[i]
		if coin.ID == "" || !strings.EqualFold(coin.Symbol, symbol) {
			continue
		}
		if best == nil || betterRank(coin.MarketCapRank, best.MarketCapRank) {
			best = coin
		}
	}
	if best == nil {
		return "", fmt.Errorf("%w: coingecko: no coin with symbol %s", market.ErrNotFound, symbol)
	}
	p.idsMu.Lock()
	p.ids[symbol] = best.ID
	p.idsMu.Unlock()
	return best.ID, nil
}

func betterRank(candidate, current *int) bool {
	if candidate == nil {
		return false
	}
	return current == nil || *candidate < *current
}

func (p *Provider) current(ctx context.Context, id string) (*market.ResolvedPrice, error) {
	var resp simplePriceResponse
	if err := p.client.GetJSON(ctx, "/simple/price", url.Values{"ids": {id}, "vs_currencies": {"usd"}}, &resp); err != nil {
		return nil, err
	}
	entry, ok := resp[id]
	if !ok || entry.USD == nil || *entry.USD <= 0 {
		return nil, fmt.Errorf("%w: coingecko: no usd price for %s", market.ErrNotFound, id)
	}
	return &market.ResolvedPrice{Price: *entry.USD, Provider: p.name}, nil
}

func (p *Provider) historical(ctx context.Context, id string, at time.Time) (*market.ResolvedPrice, error) {
	sample, err := history.Find(ctx, Limits, at, p.now(), p.match, func(ctx context.Context, plan history.Plan) ([]market.PriceSample, error) {
		var resp marketChartResponse
		params := url.Values{
			"vs_currency": {"usd"},
			"from":        {strconv.FormatInt(plan.From.Unix(), 10)},
			"to":          {strconv.FormatInt(plan.To.Unix(), 10)},
		}
		if err := p.client.GetJSON(ctx, "/coins/"+url.PathEscape(id)+"/market_chart/range", params, &resp); err != nil {
			return nil, err
		}
		samples := make([]market.PriceSample, 0, len(resp.Prices))
		for _, point := range resp.Prices {
			if len(point) < 2 {
				continue
			}
			samples = append(samples, market.PriceSample{Timestamp: time.UnixMilli(int64(point[0])).UTC(), Price: point[1]})
		}
		return samples, nil
	})
	if err != nil {
		return nil, fmt.Errorf("coingecko %s: %w", id, err)
	}
	return history.Resolved(p.name, sample), nil
}

func (p *Provider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.timeout)
}
