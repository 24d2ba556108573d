package geckoterminal

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"callscore-api/pkg/market"
	"callscore-api/pkg/market/apiclient"
	"callscore-api/pkg/market/history"
)

const (
	defaultBaseURL = "https://api.geckoterminal.com/api/v2"
	maxCandles     = 1000
)

// Limits is how far back pool OHLCV reaches per timeframe.
var Limits = history.Limits{
	history.Minute:     7 * 24 * time.Hour,
	history.FiveMinute: 55 * 24 * time.Hour,
	history.Hour:       0,
	history.Day:        0,
}

type timeframe struct {
	path      string
	aggregate int
}

var timeframes = map[history.Interval]timeframe{
	history.Minute:     {path: "minute", aggregate: 1},
	history.FiveMinute: {path: "minute", aggregate: 5},
	history.Hour:       {path: "hour", aggregate: 1},
	history.Day:        {path: "day", aggregate: 1},
}

// networks maps DexScreener chain ids onto GeckoTerminal network ids where they differ.
var networks = map[string]string{
	"ethereum":  "eth",
	"polygon":   "polygon_pos",
	"avalanche": "avax",
}

// Network returns the GeckoTerminal network id for a DexScreener chain id.
func Network(chainID string) string {
	chainID = strings.ToLower(strings.TrimSpace(chainID))
	if n, ok := networks[chainID]; ok {
		return n
	}
	return chainID
}

// Client reads pools and candles from the GeckoTerminal public API.
type Client struct {
	api *apiclient.Client
}

// NewClient constructs a GeckoTerminal client.
func NewClient(opts ...apiclient.Option) *Client {
	return &Client{api: apiclient.New("geckoterminal", defaultBaseURL, opts...)}
}

// NewClientFromConfig builds a client from a provider entry.
func NewClientFromConfig(cfg *market.ProviderConfig) *Client {
	return NewClient(apiclient.ConfigOptions(cfg)...)
}

// Limits reports the candle retention per interval.
func (c *Client) Limits() history.Limits { return Limits }

// PairSamples returns close prices for the pair's pool covering plan.
func (c *Client) PairSamples(ctx context.Context, pair market.TradingPair, plan history.Plan) ([]market.PriceSample, error) {
	return c.PoolSamples(ctx, Network(pair.ChainID), pair.PairAddress, plan)
}

// PoolSamples fetches candles ending at plan.To and returns their close prices.
func (c *Client) PoolSamples(ctx context.Context, network, pool string, plan history.Plan) ([]market.PriceSample, error) {
	tf, ok := timeframes[plan.Interval]
	if !ok {
		return nil, fmt.Errorf("%w: geckoterminal: unsupported interval %s", market.ErrNotFound, plan.Interval)
	}
	if network == "" || pool == "" {
		return nil, fmt.Errorf("%w: geckoterminal: missing network or pool", market.ErrNotFound)
	}
	step := time.Duration(tf.aggregate) * timeUnit(tf.path)
	limit := int(plan.To.Sub(plan.From)/step) + 1
	if limit > maxCandles {
		limit = maxCandles
	}
	if limit < 1 {
		limit = 1
	}
	params := url.Values{
		"aggregate":        {strconv.Itoa(tf.aggregate)},
		"before_timestamp": {strconv.FormatInt(plan.To.Unix(), 10)},
		"limit":            {strconv.Itoa(limit)},
		"currency":         {"usd"},
	}
	path := fmt.Sprintf("/networks/%s/pools/%s/ohlcv/%s", url.PathEscape(network), url.PathEscape(pool), tf.path)
	var resp ohlcvResponse
	if err := c.api.GetJSON(ctx, path, params, &resp); err != nil {
		return nil, err
	}
	samples := make([]market.PriceSample, 0, len(resp.Data.Attributes.OHLCVList))
	for _, candle := range resp.Data.Attributes.OHLCVList {
		if len(candle) < 5 {
			continue
		}
		samples = append(samples, market.PriceSample{Timestamp: time.Unix(int64(candle[0]), 0).UTC(), Price: candle[4]})
	}
	return samples, nil
}

func timeUnit(path string) time.Duration {
	switch path {
	case "minute":
		return time.Minute
	case "hour":
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// Pool is a validated search hit.
type Pool struct {
	Network          string
	Address          string
	BaseSymbol       string
	BaseTokenAddress string
	PriceUSD         float64
	ReserveUSD       float64
}

// SearchPools returns pools matching query, in response order.
func (c *Client) SearchPools(ctx context.Context, query string) ([]Pool, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: geckoterminal: empty query", market.ErrNotFound)
	}
	var resp poolSearchResponse
	if err := c.api.GetJSON(ctx, "/search/pools", url.Values{"query": {query}}, &resp); err != nil {
		return nil, err
	}
	pools := make([]Pool, 0, len(resp.Data))
	for _, res := range resp.Data {
		if pool, ok := res.toPool(); ok {
			pools = append(pools, pool)
		}
	}
	return pools, nil
}

func (r poolResource) toPool() (Pool, bool) {
	network := r.Relationships.Network.Data.ID
	if network == "" {
		network, _ = splitResourceID(r.ID)
	}
	address := r.Attributes.Address
	if network == "" || address == "" {
		return Pool{}, false
	}
	price, err := decimal.NewFromString(strings.TrimSpace(r.Attributes.BaseTokenPriceUSD))
	if err != nil || !price.IsPositive() {
		return Pool{}, false
	}
	reserve, _ := decimal.NewFromString(strings.TrimSpace(r.Attributes.ReserveInUSD))
	base, _, _ := strings.Cut(r.Attributes.Name, "/")
	_, baseAddress := splitResourceID(r.Relationships.BaseToken.Data.ID)
	return Pool{
		Network:          network,
		Address:          address,
		BaseSymbol:       strings.ToUpper(strings.TrimSpace(base)),
		BaseTokenAddress: baseAddress,
		PriceUSD:         price.InexactFloat64(),
		ReserveUSD:       reserve.InexactFloat64(),
	}, true
}

// splitResourceID splits "<network>_<address>". Network ids may contain
// underscores; addresses never do.
func splitResourceID(id string) (network, address string) {
	i := strings.LastIndex(id, "_")
	if i < 0 {
		return "", id
	}
	return id[:i], id[i+1:]
}
