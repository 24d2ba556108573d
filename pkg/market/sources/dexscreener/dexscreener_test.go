package dexscreener

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callscore-api/pkg/market"
	"callscore-api/pkg/market/apiclient"
)

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func pairJSON(chain, pairAddr, base, symbol, price string, liquidity float64, h1 any) map[string]any {
	return map[string]any{
		"chainId":     chain,
		"pairAddress": pairAddr,
		"baseToken":   map[string]any{"address": base, "symbol": symbol},
		"priceUsd":    price,
		"liquidity":   map[string]any{"usd": liquidity},
		"priceChange": map[string]any{"h1": h1, "h6": 10.0, "h24": -20.0},
	}
}

func TestTokenPairs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/latest/dex/tokens/So1anaMint", r.URL.Path)
		writeJSON(w, map[string]any{"pairs": []any{
			pairJSON("solana", "p1", "So1anaMint", "wif", "2.5", 1000, 5.0),
			pairJSON("solana", "p2", "So1anaMint", "WIF", "not-a-number", 99999, nil),
			pairJSON("solana", "", "So1anaMint", "WIF", "2.4", 5, nil),
			map[string]any{"chainId": "solana", "pairAddress": "p4", "baseToken": map[string]any{"address": "So1anaMint", "symbol": "WIF"}, "priceUsd": "2.6"},
		}})
	}))
	defer srv.Close()

	pairs, err := NewClient(apiclient.WithBaseURL(srv.URL)).TokenPairs(context.Background(), "So1anaMint")
	require.NoError(t, err)
	require.Len(t, pairs, 2)

	assert.Equal(t, "p1", pairs[0].PairAddress)
	assert.Equal(t, "WIF", pairs[0].BaseSymbol)
	assert.Equal(t, 2.5, pairs[0].PriceUSD)
	assert.Equal(t, 1000.0, pairs[0].LiquidityUSD)
	require.NotNil(t, pairs[0].PriceChange.H1)
	assert.Equal(t, 5.0, *pairs[0].PriceChange.H1)

	assert.Equal(t, "p4", pairs[1].PairAddress)
	assert.Zero(t, pairs[1].LiquidityUSD)
	assert.Nil(t, pairs[1].PriceChange.H6)
}

func TestTokenPairsNullPairs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"schemaVersion": "1.0.0", "pairs": nil})
	}))
	defer srv.Close()
	pairs, err := NewClient(apiclient.WithBaseURL(srv.URL)).TokenPairs(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

type fakeResolver struct {
	token market.ContractRef
	at    *time.Time
}

func (f *fakeResolver) ResolveContract(ctx context.Context, token market.ContractRef, at *time.Time) (*market.ContractPrice, error) {
	f.token, f.at = token, at
	return &market.ContractPrice{ResolvedPrice: market.ResolvedPrice{Price: 0.9, Provider: "dexscreener"}, SymbolHint: "POPCAT"}, nil
}

func searchServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/latest/dex/search", r.URL.Path)
		assert.Equal(t, "POPCAT", r.URL.Query().Get("q"))
		writeJSON(w, map[string]any{"pairs": []any{
			pairJSON("solana", "decoy", "FakeMint", "POPCAT2", "5", 1e9, nil),
			pairJSON("solana", "small", "RealMint", "POPCAT", "0.8", 1000, nil),
			pairJSON("solana", "big", "RealMint", "popcat", "0.81", 2e6, nil),
			pairJSON("base", "other", "0xother", "POPCAT", "0.7", 2e6, nil),
		}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSearchProviderDelegatesToResolver(t *testing.T) {
	srv := searchServer(t)
	resolver := &fakeResolver{}
	p := NewSearchProvider("dexscreener-search", market.Deps{Contracts: resolver},
		WithClientOptions(apiclient.WithBaseURL(srv.URL)))

	at := time.Now().Add(-time.Hour)
	got, err := p.Price(context.Background(), market.Query{Symbol: "popcat", At: &at})
	require.NoError(t, err)
	assert.Equal(t, 0.9, got.Price)
	assert.Equal(t, "dexscreener", got.Provider)
	assert.Equal(t, "RealMint", resolver.token.Address, "most liquid exact match, first wins the tie")
	assert.Equal(t, "solana", resolver.token.ChainID)
	assert.Equal(t, &at, resolver.at)
}

func TestSearchProviderWithoutResolver(t *testing.T) {
	srv := searchServer(t)
	p := NewSearchProvider("dexscreener-search", market.Deps{}, WithClientOptions(apiclient.WithBaseURL(srv.URL)))

	got, err := p.Price(context.Background(), market.Query{Symbol: "POPCAT"})
	require.NoError(t, err)
	assert.Equal(t, 0.81, got.Price)
	assert.Equal(t, "dexscreener-search", got.Provider)

	at := time.Now().Add(-time.Hour)
	_, err = p.Price(context.Background(), market.Query{Symbol: "POPCAT", At: &at})
	assert.True(t, errors.Is(err, market.ErrNotFound))
}

func TestSearchProviderNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"pairs": []any{pairJSON("solana", "x", "M", "OTHER", "1", 1, nil)}})
	}))
	defer srv.Close()
	p := NewSearchProvider("dexscreener-search", market.Deps{}, WithClientOptions(apiclient.WithBaseURL(srv.URL)))
	got, err := p.Price(context.Background(), market.Query{Symbol: "GARBAGE"})
	assert.Nil(t, got)
	assert.True(t, errors.Is(err, market.ErrNotFound))
}
