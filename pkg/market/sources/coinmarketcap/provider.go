package coinmarketcap

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"callscore-api/pkg/market"
	"callscore-api/pkg/market/apiclient"
	"callscore-api/pkg/market/history"
)

const (
	defaultBaseURL         = "https://pro-api.coinmarketcap.com"
	defaultProviderTimeout = 8 * time.Second
	apiKeyHeader           = "X-CMC_PRO_API_KEY"
)

// Limits is how far back the historical quotes endpoint serves each interval.
var Limits = history.Limits{
	history.FiveMinute: 30 * 24 * time.Hour,
	history.Hour:       730 * 24 * time.Hour,
	history.Day:        0,
}

var intervalParam = map[history.Interval]string{
	history.FiveMinute: "5m",
	history.Hour:       "1h",
	history.Day:        "1d",
}

// Provider resolves coins by ticker through the CoinMarketCap Pro API.
type Provider struct {
	name    string
	client  *apiclient.Client
	hasKey  bool
	match   market.MatchPolicy
	timeout time.Duration
	now     func() time.Time
}

type providerConfig struct {
	timeout       time.Duration
	apiKey        string
	clientOptions []apiclient.Option
	now           func() time.Time
}

// ProviderOption customises the CoinMarketCap provider.
type ProviderOption func(*providerConfig)

// WithTimeout overrides the default per-call timeout.
func WithTimeout(timeout time.Duration) ProviderOption {
	return func(cfg *providerConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithAPIKey sets the Pro API key. Without one the provider declines every query.
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

// NewProvider constructs a CoinMarketCap provider.
func NewProvider(name string, deps market.Deps, opts ...ProviderOption) *Provider {
	cfg := &providerConfig{timeout: defaultProviderTimeout, now: time.Now}
	for _, opt := range opts {
		opt(cfg)
	}
	clientOpts := append([]apiclient.Option{apiclient.WithHeader(apiKeyHeader, cfg.apiKey)}, cfg.clientOptions...)
	return &Provider{
		name:    name,
		client:  apiclient.New("coinmarketcap", defaultBaseURL, clientOpts...),
		hasKey:  cfg.apiKey != "",
		match:   deps.Match,
		timeout: cfg.timeout,
		now:     cfg.now,
	}
}

func init() {
	market.RegisterProvider("coinmarketcap", func(name string, cfg *market.ProviderConfig, deps market.Deps) (market.Provider, error) {
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
	if !p.hasKey {
		return nil, fmt.Errorf("%w: coinmarketcap: api key not configured", market.ErrUnavailable)
	}
	symbol := strings.ToUpper(strings.TrimSpace(q.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("%w: coinmarketcap: empty symbol", market.ErrNotFound)
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	if !q.Historical() {
		return p.current(ctx, symbol)
	}
	return p.historical(ctx, symbol, *q.At)
}

func (p *Provider) current(ctx context.Context, symbol string) (*market.ResolvedPrice, error) {
	var resp latestResponse
	params := url.Values{"symbol": {symbol}, "convert": {"USD"}}
	if err := p.client.GetJSON(ctx, "/v2/cryptocurrency/quotes/latest", params, &resp); err != nil {
		return nil, err
	}
	if err := resp.Status.err(); err != nil {
		return nil, err
	}
	for _, entry := range resp.Data[symbol] {
		if price := entry.Quote.USD.Price; price != nil && *price > 0 {
			return &market.ResolvedPrice{Price: *price, Provider: p.name}, nil
		}
	}
	return nil, fmt.Errorf("%w: coinmarketcap: no quote for %s", market.ErrNotFound, symbol)
}

func (p *Provider) historical(ctx context.Context, symbol string, at time.Time) (*market.ResolvedPrice, error) {
	sample, err := history.Find(ctx, Limits, at, p.now(), p.match, func(ctx context.Context, plan history.Plan) ([]market.PriceSample, error) {
		return p.quotes(ctx, symbol, plan)
	})
	if err != nil {
		return nil, fmt.Errorf("coinmarketcap %s: %w", symbol, err)
	}
	return history.Resolved(p.name, sample), nil
}

func (p *Provider) quotes(ctx context.Context, symbol string, plan history.Plan) ([]market.PriceSample, error) {
	var resp historicalResponse
	params := url.Values{
		"symbol":     {symbol},
		"convert":    {"USD"},
		"time_start": {plan.From.UTC().Format(time.RFC3339)},
		"time_end":   {plan.To.UTC().Format(time.RFC3339)},
		"interval":   {intervalParam[plan.Interval]},
	}
	if err := p.client.GetJSON(ctx, "/v2/cryptocurrency/quotes/historical", params, &resp); err != nil {
		return nil, err
	}
	if err := resp.Status.err(); err != nil {
		return nil, err
	}
	entries := resp.Data[symbol]
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: coinmarketcap: no history for %s", market.ErrNotFound, symbol)
	}
	// The first listing is the one CMC ranks highest for the ticker.
	samples := make([]market.PriceSample, 0, len(entries[0].Quotes))
	for _, q := range entries[0].Quotes {
		if q.Quote.USD.Price == nil {
			continue
		}
		ts := q.Timestamp
		if q.Quote.USD.Timestamp != nil {
			ts = *q.Quote.USD.Timestamp
		}
		samples = append(samples, market.PriceSample{Timestamp: ts, Price: *q.Quote.USD.Price})
	}
	return samples, nil
}

func (s status) err() error {
	if s.ErrorCode == 0 {
		return nil
	}
	if s.ErrorCode == 400 {
		return fmt.Errorf("%w: coinmarketcap: %s", market.ErrNotFound, s.ErrorMessage)
	}
	return fmt.Errorf("%w: coinmarketcap: error %d: %s", market.ErrUnavailable, s.ErrorCode, s.ErrorMessage)
}

func (p *Provider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.timeout)
}
