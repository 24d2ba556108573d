package contract_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callscore-api/pkg/market"
	"callscore-api/pkg/market/contract"
	"callscore-api/pkg/market/history"
	"callscore-api/pkg/market/symbols"
)

var fixedNow = time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)

const evmAddress = "0x6982508145454Ce325dDbE47a25d4ec3d2311933"

var pepe = market.ContractRef{Address: evmAddress}

func f(v float64) *float64 { return &v }

type fakePairs struct {
	pairs []market.TradingPair
	err   error
	calls int
}

func (f *fakePairs) TokenPairs(ctx context.Context, address string) ([]market.TradingPair, error) {
	f.calls++
	return f.pairs, f.err
}

type fakeCandles struct {
	samples    []market.PriceSample
	byInterval map[history.Interval][]market.PriceSample
	err        error
	pair       market.TradingPair
	plan       history.Plan
	calls      int
}

func (f *fakeCandles) PairSamples(ctx context.Context, pair market.TradingPair, plan history.Plan) ([]market.PriceSample, error) {
	f.calls++
	f.pair, f.plan = pair, plan
	if f.byInterval != nil {
		return f.byInterval[plan.Interval], f.err
	}
	return f.samples, f.err
}

func (f *fakeCandles) Limits() history.Limits {
	return history.Limits{history.Minute: 0, history.FiveMinute: 0, history.Hour: 0, history.Day: 0}
}

type memStore struct {
	mu       sync.Mutex
	last     map[string]market.Observation
	recorded []market.Observation
}

func newMemStore() *memStore { return &memStore{last: make(map[string]market.Observation)} }

func (m *memStore) LastObserved(ctx context.Context, key string) (*market.Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obs, ok := m.last[key]
	if !ok {
		return nil, nil
	}
	return &obs, nil
}

func (m *memStore) RecordObservation(ctx context.Context, obs market.Observation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded = append(m.recorded, obs)
	return nil
}

func (m *memStore) recordedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recorded)
}

func pair(addr string, price, liquidity float64) market.TradingPair {
	return market.TradingPair{
		ChainID:          "ethereum",
		PairAddress:      addr,
		BaseTokenAddress: evmAddress,
		BaseSymbol:       "PEPE",
		PriceUSD:         price,
		LiquidityUSD:     liquidity,
		PriceChange:      market.PriceChange{H1: f(100), H6: f(0), H24: f(-50)},
	}
}

func newResolver(pairs contract.PairSource, opts ...contract.Option) *contract.Resolver {
	opts = append([]contract.Option{contract.WithClock(func() time.Time { return fixedNow })}, opts...)
	return contract.NewResolver("dexscreener", pairs, opts...)
}

func TestMostLiquidTieKeepsFirst(t *testing.T) {
	best, ok := contract.MostLiquid([]market.TradingPair{pair("a", 1, 10), pair("b", 2, 50), pair("c", 3, 50)})
	require.True(t, ok)
	assert.Equal(t, "b", best.PairAddress)

	_, ok = contract.MostLiquid(nil)
	assert.False(t, ok)
}

func TestResolveCurrent(t *testing.T) {
	store := newMemStore()
	src := &fakePairs{pairs: []market.TradingPair{pair("low", 1.0, 10), pair("high", 2.0, 1000), pair("tie", 3.0, 1000)}}
	r := newResolver(src, contract.WithStore(store))

	got, err := r.ResolveContract(context.Background(), pepe, nil)
	require.NoError(t, err)
	assert.Equal(t, 2.0, got.Price)
	assert.Equal(t, "dexscreener", got.Provider)
	assert.Equal(t, "PEPE", got.SymbolHint)

	require.Eventually(t, func() bool { return store.recordedCount() == 1 }, time.Second, 5*time.Millisecond)
	store.mu.Lock()
	obs := store.recorded[0]
	store.mu.Unlock()
	assert.Equal(t, "0x6982508145454ce325ddbe47a25d4ec3d2311933", obs.Key)
	assert.Equal(t, 2.0, obs.Price)
}

func TestResolveIgnoresPairsQuotedInToken(t *testing.T) {
	quoted := market.TradingPair{
		ChainID:          "solana",
		PairAddress:      "meme-tokx",
		BaseTokenAddress: "MemeMint",
		BaseSymbol:       "MEME",
		PriceUSD:         0.0001,
		LiquidityUSD:     5_000_000,
	}
	own := market.TradingPair{
		ChainID:          "solana",
		PairAddress:      "tokx-sol",
		BaseTokenAddress: "TokenX",
		BaseSymbol:       "TOKX",
		PriceUSD:         3.5,
		LiquidityUSD:     200_000,
	}
	r := newResolver(&fakePairs{pairs: []market.TradingPair{quoted, own}})

	got, err := r.ResolveContract(context.Background(), market.ContractRef{Address: "TokenX"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3.5, got.Price)
	assert.Equal(t, "TOKX", got.SymbolHint)

	_, err = r.ResolveContract(context.Background(), market.ContractRef{Address: "tokenx"}, nil)
	assert.True(t, errors.Is(err, market.ErrNotFound), "solana addresses are case-sensitive")
}

func TestResolveMatchesEVMBaseCaseInsensitively(t *testing.T) {
	p := pair("p", 2.0, 10)
	p.BaseTokenAddress = strings.ToLower(evmAddress)
	r := newResolver(&fakePairs{pairs: []market.TradingPair{p}})

	got, err := r.ResolveContract(context.Background(), pepe, nil)
	require.NoError(t, err)
	assert.Equal(t, 2.0, got.Price)
}

func TestResolveRestrictsToKnownChain(t *testing.T) {
	lookalike := pair("bsc-pair", 9.0, 1e9)
	lookalike.ChainID = "bsc"
	src := &fakePairs{pairs: []market.TradingPair{lookalike, pair("eth-pair", 2.0, 1000)}}
	r := newResolver(src)

	got, err := r.ResolveContract(context.Background(), market.ContractRef{ChainID: "Ethereum", Address: evmAddress}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2.0, got.Price)

	got, err = r.ResolveContract(context.Background(), pepe, nil)
	require.NoError(t, err)
	assert.Equal(t, 9.0, got.Price, "no chain means any chain")

	_, err = r.ResolveContract(context.Background(), market.ContractRef{ChainID: "base", Address: evmAddress}, nil)
	assert.True(t, errors.Is(err, market.ErrNotFound))
}

func TestResolveNoPairs(t *testing.T) {
	got, err := newResolver(&fakePairs{}).ResolveContract(context.Background(), pepe, nil)
	assert.Nil(t, got)
	assert.True(t, errors.Is(err, market.ErrNotFound))
}

func TestResolveReconstructsRecentHistory(t *testing.T) {
	candles := &fakeCandles{}
	r := newResolver(&fakePairs{pairs: []market.TradingPair{pair("p", 2.0, 10)}}, contract.WithCandles("geckoterminal", candles))

	at := fixedNow.Add(-30 * time.Minute)
	got, err := r.ResolveContract(context.Background(), pepe, &at)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got.Price, 1e-12, "an h1 change of +100 halves the current price")
	assert.Equal(t, "dexscreener", got.Provider)
	assert.Zero(t, candles.calls)
}

func TestResolveZeroChangeFallsBackToCandles(t *testing.T) {
	at := fixedNow.Add(-3 * time.Hour)
	candles := &fakeCandles{samples: []market.PriceSample{{Timestamp: at.Add(time.Minute), Price: 1.7}}}
	r := newResolver(&fakePairs{pairs: []market.TradingPair{pair("p", 2.0, 10)}}, contract.WithCandles("geckoterminal", candles))

	got, err := r.ResolveContract(context.Background(), pepe, &at)
	require.NoError(t, err)
	assert.Equal(t, 1.7, got.Price, "h6 is exactly 0 so candles answer")
	assert.Equal(t, "geckoterminal", got.Provider)
	assert.Equal(t, "PEPE", got.SymbolHint)
	assert.Equal(t, 1, candles.calls)
}

func TestResolveOldTargetUsesCandles(t *testing.T) {
	at := fixedNow.Add(-10 * 24 * time.Hour)
	candles := &fakeCandles{samples: []market.PriceSample{
		{Timestamp: at.Add(-30 * time.Minute), Price: 0.5},
		{Timestamp: at.Add(2 * time.Minute), Price: 0.6},
	}}
	r := newResolver(&fakePairs{pairs: []market.TradingPair{pair("deep", 2.0, 10)}}, contract.WithCandles("geckoterminal", candles))

	got, err := r.ResolveContract(context.Background(), pepe, &at)
	require.NoError(t, err)
	assert.Equal(t, 0.6, got.Price)
	require.NotNil(t, got.MatchedTimestamp)
	assert.Equal(t, "deep", candles.pair.PairAddress)
	assert.Equal(t, history.FiveMinute, candles.plan.Interval)
}

func TestResolveSparseCandlesStepToCoarserInterval(t *testing.T) {
	at := fixedNow.Add(-3 * 24 * time.Hour)
	store := newMemStore()
	store.last["0x6982508145454ce325ddbe47a25d4ec3d2311933"] = market.Observation{Price: 9.9, ObservedAt: fixedNow}
	candles := &fakeCandles{byInterval: map[history.Interval][]market.PriceSample{
		history.Hour: {{Timestamp: at.Add(-4 * time.Hour), Price: 0.8}},
	}}
	r := newResolver(&fakePairs{pairs: []market.TradingPair{pair("p", 2.0, 10)}},
		contract.WithCandles("geckoterminal", candles), contract.WithStore(store))

	got, err := r.ResolveContract(context.Background(), pepe, &at)
	require.NoError(t, err)
	assert.Equal(t, 0.8, got.Price, "nearest hourly candle beats the cached price")
	assert.Equal(t, "geckoterminal", got.Provider)
	assert.Equal(t, 3, candles.calls)
	assert.Equal(t, history.Hour, candles.plan.Interval)
}

func TestResolveFallsBackToStore(t *testing.T) {
	store := newMemStore()
	observed := fixedNow.Add(-2 * time.Hour)
	store.last["0x6982508145454ce325ddbe47a25d4ec3d2311933"] = market.Observation{Price: 0.42, ObservedAt: observed}

	r := newResolver(&fakePairs{err: market.ErrUnavailable}, contract.WithStore(store))
	got, err := r.ResolveContract(context.Background(), pepe, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.42, got.Price)
	assert.Equal(t, contract.ProviderCache, got.Provider)
	assert.Equal(t, observed, *got.MatchedTimestamp)

	// Historical miss with candles failing also lands on the store.
	at := fixedNow.Add(-40 * 24 * time.Hour)
	r = newResolver(&fakePairs{pairs: []market.TradingPair{pair("p", 2.0, 10)}},
		contract.WithStore(store),
		contract.WithCandles("geckoterminal", &fakeCandles{err: market.ErrUnavailable}))
	got, err = r.ResolveContract(context.Background(), pepe, &at)
	require.NoError(t, err)
	assert.Equal(t, contract.ProviderCache, got.Provider)
	assert.Equal(t, "PEPE", got.SymbolHint)
}

func TestResolveFetchErrorWithoutStore(t *testing.T) {
	got, err := newResolver(&fakePairs{err: market.ErrUnavailable}).ResolveContract(context.Background(), pepe, nil)
	assert.Nil(t, got)
	assert.True(t, errors.Is(err, market.ErrUnavailable))
}

func TestReconstruct(t *testing.T) {
	p := market.TradingPair{PriceUSD: 2.0, PriceChange: market.PriceChange{H1: f(100), H6: f(0), H24: f(-100)}}

	price, ok := contract.Reconstruct(p, 10*time.Minute)
	require.True(t, ok)
	assert.InDelta(t, 1.0, price, 1e-12)

	_, ok = contract.Reconstruct(p, 2*time.Hour)
	assert.False(t, ok, "zero change is no signal")

	_, ok = contract.Reconstruct(p, 12*time.Hour)
	assert.False(t, ok, "-100% cannot be inverted")

	_, ok = contract.Reconstruct(p, 30*time.Hour)
	assert.False(t, ok)

	_, ok = contract.Reconstruct(market.TradingPair{PriceUSD: 2.0}, time.Minute)
	assert.False(t, ok, "missing bucket")
}

type fakeResolver struct {
	price *market.ContractPrice
	asked *market.ContractRef
}

func (f fakeResolver) ResolveContract(ctx context.Context, token market.ContractRef, at *time.Time) (*market.ContractPrice, error) {
	if f.asked != nil {
		*f.asked = token
	}
	if f.price == nil {
		return nil, market.ErrNotFound
	}
	return f.price, nil
}

func TestAliasProvider(t *testing.T) {
	table := symbols.Default()
	var asked market.ContractRef
	p := contract.NewAliasProvider("contract", table, fakeResolver{price: &market.ContractPrice{
		ResolvedPrice: market.ResolvedPrice{Price: 0.00001, Provider: "dexscreener"},
	}, asked: &asked})

	got, err := p.Price(context.Background(), market.Query{Symbol: "PEPE"})
	require.NoError(t, err)
	assert.Equal(t, "dexscreener", got.Provider)
	assert.Equal(t, market.ContractRef{ChainID: "ethereum", Address: evmAddress}, asked, "the table's chain narrows the pair search")

	_, err = p.Price(context.Background(), market.Query{Symbol: "BTC"})
	assert.True(t, errors.Is(err, market.ErrNotFound), "no known address")
}
