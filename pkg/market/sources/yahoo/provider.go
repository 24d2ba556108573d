package yahoo

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"callscore-api/pkg/market"
	"callscore-api/pkg/market/apiclient"
	"callscore-api/pkg/market/history"
)

const (
	defaultBaseURL         = "https://query1.finance.yahoo.com"
	defaultProviderTimeout = 8 * time.Second
	userAgent              = "Mozilla/5.0 (compatible; callscore/1.0)"
)

// Limits is how far back Yahoo serves each candle size.
var Limits = history.Limits{
	history.Minute:     7 * 24 * time.Hour,
	history.FiveMinute: 60 * 24 * time.Hour,
	history.Hour:       730 * 24 * time.Hour,
	history.Day:        0,
}

var intervalParam = map[history.Interval]string{
	history.Minute:     "1m",
	history.FiveMinute: "5m",
	history.Hour:       "60m",
	history.Day:        "1d",
}

// Provider resolves equities, futures, indices and major coins through the chart API.
type Provider struct {
	name    string
	client  *apiclient.Client
	aliases market.AliasLookup
	match   market.MatchPolicy
	timeout time.Duration
	now     func() time.Time
}

type providerConfig struct {
	timeout       time.Duration
	clientOptions []apiclient.Option
	now           func() time.Time
}

// ProviderOption customises the Yahoo provider.
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

// NewProvider constructs a Yahoo Finance provider.
func NewProvider(name string, deps market.Deps, opts ...ProviderOption) *Provider {
	cfg := &providerConfig{timeout: defaultProviderTimeout, now: time.Now}
	for _, opt := range opts {
		opt(cfg)
	}
	clientOpts := append([]apiclient.Option{apiclient.WithHeader("User-Agent", userAgent)}, cfg.clientOptions...)
	return &Provider{
		name:    name,
		client:  apiclient.New("yahoo", defaultBaseURL, clientOpts...),
		aliases: deps.Aliases,
		match:   deps.Match,
		timeout: cfg.timeout,
		now:     cfg.now,
	}
}

func init() {
	market.RegisterProvider("yahoo", func(name string, cfg *market.ProviderConfig, deps market.Deps) (market.Provider, error) {
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

	ticker := p.Ticker(q.Symbol, q.Class)
	if ticker == "" {
		return nil, fmt.Errorf("%w: yahoo: empty symbol", market.ErrNotFound)
	}
	if !q.Historical() {
		return p.current(ctx, ticker)
	}
	return p.historical(ctx, ticker, *q.At)
}

// Ticker maps a canonical symbol to Yahoo's spelling: explicit aliases first,
// then the bare symbol for stocks and SYM-USD for coins.
func (p *Provider) Ticker(symbol string, class market.AssetClass) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return ""
	}
	if p.aliases != nil {
		if ticker, ok := p.aliases.YahooTicker(symbol); ok && ticker != "" {
			return ticker
		}
	}
	if class == market.AssetClassStock || strings.HasSuffix(symbol, "=F") || strings.HasPrefix(symbol, "^") {
		return symbol
	}
	return symbol + "-USD"
}

func (p *Provider) current(ctx context.Context, ticker string) (*market.ResolvedPrice, error) {
	result, err := p.chart(ctx, ticker, url.Values{"range": {"1d"}, "interval": {"1m"}})
	if err != nil {
		return nil, err
	}
	if result.Meta.RegularMarketPrice != nil && *result.Meta.RegularMarketPrice > 0 {
		return &market.ResolvedPrice{Price: *result.Meta.RegularMarketPrice, Provider: p.name}, nil
	}
	// Fall back to the latest close when meta omits the live price.
	samples := samplesOf(result)
	for i := len(samples) - 1; i >= 0; i-- {
		if samples[i].Price > 0 {
			return &market.ResolvedPrice{Price: samples[i].Price, Provider: p.name}, nil
		}
	}
	return nil, fmt.Errorf("%w: yahoo: no current price for %s", market.ErrNotFound, ticker)
}

func (p *Provider) historical(ctx context.Context, ticker string, at time.Time) (*market.ResolvedPrice, error) {
	sample, err := history.Find(ctx, Limits, at, p.now(), p.match, func(ctx context.Context, plan history.Plan) ([]market.PriceSample, error) {
		result, err := p.chart(ctx, ticker, url.Values{
			"period1":  {strconv.FormatInt(plan.From.Unix(), 10)},
			"period2":  {strconv.FormatInt(plan.To.Unix(), 10)},
			"interval": {intervalParam[plan.Interval]},
		})
		if err != nil {
			return nil, err
		}
		return samplesOf(result), nil
	})
	if err != nil {
		return nil, fmt.Errorf("yahoo %s: %w", ticker, err)
	}
	return history.Resolved(p.name, sample), nil
}

func (p *Provider) chart(ctx context.Context, ticker string, params url.Values) (*chartResult, error) {
	var resp chartResponse
	if err := p.client.GetJSON(ctx, "/v8/finance/chart/"+url.PathEscape(ticker), params, &resp); err != nil {
		return nil, err
	}
	if resp.Chart.Error != nil {
		return nil, fmt.Errorf("%w: yahoo: %s: %s", market.ErrNotFound, resp.Chart.Error.Code, resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, fmt.Errorf("%w: yahoo: empty chart for %s", market.ErrNotFound, ticker)
	}
	return &resp.Chart.Result[0], nil
}

func samplesOf(result *chartResult) []market.PriceSample {
	if len(result.Indicators.Quote) == 0 {
		return nil
	}
	closes := result.Indicators.Quote[0].Close
	samples := make([]market.PriceSample, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(closes) || closes[i] == nil {
			continue
		}
		samples = append(samples, market.PriceSample{Timestamp: time.Unix(ts, 0).UTC(), Price: *closes[i]})
	}
	return samples
}

func (p *Provider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.timeout)
}
