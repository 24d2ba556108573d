package dexscreener

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"callscore-api/pkg/market"
	"callscore-api/pkg/market/apiclient"
)

const defaultBaseURL = "https://api.dexscreener.com"

// Client reads DEX pairs from the DexScreener public API.
type Client struct {
	api *apiclient.Client
}

// NewClient constructs a DexScreener client.
func NewClient(opts ...apiclient.Option) *Client {
	return &Client{api: apiclient.New("dexscreener", defaultBaseURL, opts...)}
}

// NewClientFromConfig builds a client from a provider entry.
func NewClientFromConfig(cfg *market.ProviderConfig) *Client {
	return NewClient(apiclient.ConfigOptions(cfg)...)
}

// TokenPairs returns every pair trading the token at address, in response order.
func (c *Client) TokenPairs(ctx context.Context, address string) ([]market.TradingPair, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("%w: dexscreener: empty address", market.ErrNotFound)
	}
	var resp pairsResponse
	if err := c.api.GetJSON(ctx, "/latest/dex/tokens/"+url.PathEscape(address), nil, &resp); err != nil {
		return nil, err
	}
	return validPairs(ctx, resp.Pairs), nil
}

// Search returns pairs matching a free-text query, in response order.
func (c *Client) Search(ctx context.Context, query string) ([]market.TradingPair, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: dexscreener: empty query", market.ErrNotFound)
	}
	var resp pairsResponse
	if err := c.api.GetJSON(ctx, "/latest/dex/search", url.Values{"q": {query}}, &resp); err != nil {
		return nil, err
	}
	return validPairs(ctx, resp.Pairs), nil
}

func validPairs(ctx context.Context, raw []pair) []market.TradingPair {
	pairs := make([]market.TradingPair, 0, len(raw))
	for _, p := range raw {
		tp, err := p.toTradingPair()
		if err != nil {
			logx.WithContext(ctx).Debugf("dexscreener: skip pair: %v", err)
			continue
		}
		pairs = append(pairs, tp)
	}
	return pairs
}
