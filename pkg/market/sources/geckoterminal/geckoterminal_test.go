package geckoterminal

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
	"callscore-api/pkg/market/history"
)

var fixedNow = time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func ohlcv(candles ...[]float64) map[string]any {
	return map[string]any{"data": map[string]any{"attributes": map[string]any{"ohlcv_list": candles}}}
}

func candle(at time.Time, close float64) []float64 {
	return []float64{float64(at.Unix()), close, close, close, close, 1000}
}

func TestPairSamples(t *testing.T) {
	target := fixedNow.Add(-3 * 24 * time.Hour)
	plan, err := history.Select(Limits, target, fixedNow)
	require.NoError(t, err)
	require.Equal(t, history.Minute, plan.Interval)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/networks/eth/pools/0xpool/ohlcv/minute", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("aggregate"))
		assert.Equal(t, "31", r.URL.Query().Get("limit"))
		assert.Equal(t, "usd", r.URL.Query().Get("currency"))
		writeJSON(w, ohlcv(candle(target.Add(time.Minute), 2), candle(target.Add(-5*time.Minute), 1), []float64{1}))
	}))
	defer srv.Close()

	client := NewClient(apiclient.WithBaseURL(srv.URL))
	samples, err := client.PairSamples(context.Background(), market.TradingPair{ChainID: "ethereum", PairAddress: "0xpool"}, plan)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, 2.0, samples[0].Price)
	assert.True(t, target.Add(time.Minute).Equal(samples[0].Timestamp))
}

func TestPoolSamplesCapsLimit(t *testing.T) {
	plan := history.Plan{Interval: history.Hour, From: fixedNow.AddDate(-1, 0, 0), To: fixedNow, Target: fixedNow.Add(-time.Hour)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/networks/solana/pools/pool1/ohlcv/hour", r.URL.Path)
		assert.Equal(t, "1000", r.URL.Query().Get("limit"))
		writeJSON(w, ohlcv())
	}))
	defer srv.Close()
	samples, err := NewClient(apiclient.WithBaseURL(srv.URL)).PoolSamples(context.Background(), "solana", "pool1", plan)
	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestNetwork(t *testing.T) {
	assert.Equal(t, "eth", Network("ethereum"))
	assert.Equal(t, "polygon_pos", Network("Polygon"))
	assert.Equal(t, "solana", Network("solana"))
	assert.Equal(t, "base", Network("base"))
}

func pool(id, name, network, baseID, price, reserve string) map[string]any {
	return map[string]any{
		"id": id,
		"attributes": map[string]any{
			"address":              id[len(network)+1:],
			"name":                 name,
			"base_token_price_usd": price,
			"reserve_in_usd":       reserve,
		},
		"relationships": map[string]any{
			"base_token": map[string]any{"data": map[string]any{"id": baseID}},
			"network":    map[string]any{"data": map[string]any{"id": network}},
		},
	}
}

func searchServer(t *testing.T, ohlcvHandler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search/pools", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "MOODENG", r.URL.Query().Get("query"))
		writeJSON(w, map[string]any{"data": []any{
			pool("solana_decoy", "MOODENGX / SOL", "solana", "solana_x", "9.0", "9999999"),
			pool("solana_small", "MOODENG / USDC", "solana", "solana_mint", "0.21", "1000"),
			pool("solana_big", "MOODENG / SOL", "solana", "solana_mint", "0.2", "500000"),
			pool("solana_broken", "MOODENG / SOL", "solana", "solana_mint", "n/a", "9999999"),
		}})
	})
	if ohlcvHandler != nil {
		mux.HandleFunc("/networks/solana/pools/big/ohlcv/hour", ohlcvHandler)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestProviderCurrent(t *testing.T) {
	srv := searchServer(t, nil)
	p := NewProvider("geckoterminal", market.Deps{}, WithClientOptions(apiclient.WithBaseURL(srv.URL)))

	got, err := p.Price(context.Background(), market.Query{Symbol: "moodeng"})
	require.NoError(t, err)
	assert.Equal(t, 0.2, got.Price)
	assert.Equal(t, "geckoterminal", got.Provider)
}

func TestProviderHistorical(t *testing.T) {
	target := fixedNow.AddDate(0, -3, 0)
	srv := searchServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, ohlcv(candle(target.Add(30*time.Minute), 0.05), candle(target.Add(-2*time.Hour), 0.04)))
	})
	p := NewProvider("geckoterminal", market.Deps{},
		WithClock(func() time.Time { return fixedNow }),
		WithClientOptions(apiclient.WithBaseURL(srv.URL)))

	got, err := p.Price(context.Background(), market.Query{Symbol: "MOODENG", At: &target})
	require.NoError(t, err)
	assert.Equal(t, 0.05, got.Price)
	require.NotNil(t, got.MatchedTimestamp)
}

func TestProviderNoExactMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": []any{pool("eth_p", "OTHER / WETH", "eth", "eth_0x1", "1", "1")}})
	}))
	defer srv.Close()
	p := NewProvider("geckoterminal", market.Deps{}, WithClientOptions(apiclient.WithBaseURL(srv.URL)))
	got, err := p.Price(context.Background(), market.Query{Symbol: "NOPE"})
	assert.Nil(t, got)
	assert.True(t, errors.Is(err, market.ErrNotFound))
}

func TestSplitResourceID(t *testing.T) {
	network, address := splitResourceID("polygon_pos_0xabc")
	assert.Equal(t, "polygon_pos", network)
	assert.Equal(t, "0xabc", address)
}
