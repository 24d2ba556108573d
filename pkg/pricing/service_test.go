package pricing_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callscore-api/pkg/market"
	"callscore-api/pkg/market/symbols"
	"callscore-api/pkg/pricing"
)

type countingProvider struct {
	name    string
	price   float64
	calls   atomic.Int32
	mu      sync.Mutex
	queries []market.Query
	hook    func(ctx context.Context)
}

func (p *countingProvider) Name() string { return p.name }

func (p *countingProvider) Price(ctx context.Context, q market.Query) (*market.ResolvedPrice, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.queries = append(p.queries, q)
	p.mu.Unlock()
	if p.hook != nil {
		p.hook(ctx)
	}
	if p.price <= 0 {
		return nil, market.ErrNotFound
	}
	return &market.ResolvedPrice{Price: p.price}, nil
}

func (p *countingProvider) lastQuery() market.Query {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queries[len(p.queries)-1]
}

type fakeContracts struct {
	calls atomic.Int32
	price *market.ContractPrice
}

func (f *fakeContracts) ResolveContract(ctx context.Context, token market.ContractRef, at *time.Time) (*market.ContractPrice, error) {
	f.calls.Add(1)
	if f.price == nil {
		return nil, market.ErrNotFound
	}
	return f.price, nil
}

func newService(crypto, stock []market.Provider, opts ...pricing.Option) *pricing.Service {
	return pricing.NewService(symbols.Default(), map[market.AssetClass]*market.Chain{
		market.AssetClassCrypto: market.NewChain("crypto", crypto),
		market.AssetClassStock:  market.NewChain("stock", stock),
	}, opts...)
}

func TestResolvePricePreLaunchSkipsProviders(t *testing.T) {
	crypto := &countingProvider{name: "yahoo", price: 60000}
	svc := newService([]market.Provider{crypto}, nil)

	at := time.Date(2009, 1, 1, 0, 0, 0, 0, time.UTC)
	got := svc.ResolvePrice(context.Background(), "BTC", market.AssetClassCrypto, &at)
	require.NotNil(t, got)
	assert.Equal(t, 0.0008, got.Price)
	assert.Equal(t, pricing.ProviderLaunch, got.Provider)
	assert.EqualValues(t, 0, crypto.calls.Load())
}

func TestResolvePriceNormalizesAndRoutes(t *testing.T) {
	crypto := &countingProvider{name: "yahoo", price: 3000}
	stock := &countingProvider{name: "yahoo-stock", price: 400}
	svc := newService([]market.Provider{crypto}, []market.Provider{stock})

	got := svc.ResolvePrice(context.Background(), "$ETHUSDT", market.AssetClassUnspecified, nil)
	require.NotNil(t, got)
	assert.Equal(t, "yahoo", got.Provider)
	assert.Equal(t, market.Query{Symbol: "ETH", Class: market.AssetClassCrypto}, crypto.lastQuery())

	got = svc.ResolvePrice(context.Background(), "MSTR", market.AssetClassCrypto, nil)
	require.NotNil(t, got)
	assert.Equal(t, "yahoo-stock", got.Provider, "always-stock overrides the caller")
	assert.Equal(t, market.AssetClassStock, stock.lastQuery().Class)
}

func TestResolvePriceChainShortCircuit(t *testing.T) {
	first := &countingProvider{name: "first", price: 1}
	second := &countingProvider{name: "second", price: 2}
	svc := newService([]market.Provider{first, second}, nil)

	got := svc.ResolvePrice(context.Background(), "SOL", market.AssetClassCrypto, nil)
	require.NotNil(t, got)
	assert.Equal(t, "first", got.Provider)
	assert.EqualValues(t, 0, second.calls.Load())
}

func TestResolvePriceGracefulExhaustion(t *testing.T) {
	svc := newService(
		[]market.Provider{&countingProvider{name: "a"}, &countingProvider{name: "b"}},
		[]market.Provider{&countingProvider{name: "c"}},
	)
	assert.Nil(t, svc.ResolvePrice(context.Background(), "ZZQXJUNK", market.AssetClassUnspecified, nil))
	assert.Nil(t, svc.ResolvePrice(context.Background(), "", market.AssetClassUnspecified, nil))
	assert.Nil(t, svc.ResolvePrice(context.Background(), "$", market.AssetClassUnspecified, nil))
}

func TestResolvePriceRoutesContractAddresses(t *testing.T) {
	crypto := &countingProvider{name: "yahoo", price: 1}
	contracts := &fakeContracts{price: &market.ContractPrice{
		ResolvedPrice: market.ResolvedPrice{Price: 0.003, Provider: "dexscreener"},
		SymbolHint:    "WIF",
	}}
	svc := newService([]market.Provider{crypto}, nil, pricing.WithContractResolver(contracts))

	got := svc.ResolvePrice(context.Background(), "EKpQGSJtjMFqKZ9KQanSqYXRcF8fBopzLHYxdM65zcjm", market.AssetClassUnspecified, nil)
	require.NotNil(t, got)
	assert.Equal(t, "dexscreener", got.Provider)
	assert.EqualValues(t, 0, crypto.calls.Load())

	byAddress := svc.ResolvePriceByContractAddress(context.Background(), "0x6982508145454ce325ddbe47a25d4ec3d2311933", nil)
	require.NotNil(t, byAddress)
	assert.Equal(t, "WIF", byAddress.SymbolHint)
}

func TestResolvePriceByContractAddressMiss(t *testing.T) {
	svc := newService(nil, nil, pricing.WithContractResolver(&fakeContracts{}))
	assert.Nil(t, svc.ResolvePriceByContractAddress(context.Background(), "0xdead", nil))
	assert.Nil(t, newService(nil, nil).ResolvePriceByContractAddress(context.Background(), "0xdead", nil))
}

func TestResolvePriceCancelledContext(t *testing.T) {
	crypto := &countingProvider{name: "yahoo", price: 1}
	svc := newService([]market.Provider{crypto}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Nil(t, svc.ResolvePrice(ctx, "BTC", market.AssetClassCrypto, nil))
	assert.EqualValues(t, 0, crypto.calls.Load())
}

func TestResolveBatchBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	slow := &countingProvider{name: "slow", price: 5, hook: func(ctx context.Context) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
	}}
	svc := newService([]market.Provider{slow}, nil, pricing.WithConcurrency(3))

	reqs := make([]pricing.Request, 20)
	for i := range reqs {
		reqs[i] = pricing.Request{Symbol: "SOL", Class: market.AssetClassCrypto}
	}
	reqs[7] = pricing.Request{Symbol: "", Class: market.AssetClassCrypto}

	results := svc.ResolveBatch(context.Background(), reqs)
	require.Len(t, results, 20)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.EqualValues(t, 19, slow.calls.Load())
	assert.Nil(t, results[7].Price)
	assert.Equal(t, "SOL: 5 via slow", results[0].String())
	assert.Equal(t, ": unresolved", results[7].String())
}
