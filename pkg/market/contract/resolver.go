package contract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"

	"callscore-api/pkg/market"
	"callscore-api/pkg/market/history"
	"callscore-api/pkg/market/symbols"
)

const (
	defaultCandleCutoff = 24 * time.Hour
	defaultWriteTimeout = 5 * time.Second

	// ProviderCache labels prices served from the storage fallback.
	ProviderCache = "cache"
)

// PairSource lists the DEX pairs trading a token.
type PairSource interface {
	TokenPairs(ctx context.Context, address string) ([]market.TradingPair, error)
}

// CandleSource returns historical samples for one pair.
type CandleSource interface {
	PairSamples(ctx context.Context, pair market.TradingPair, plan history.Plan) ([]market.PriceSample, error)
	Limits() history.Limits
}

// Resolver prices tokens known only by contract address.
type Resolver struct {
	pairs        PairSource
	pairsName    string
	candles      CandleSource
	candlesName  string
	store        market.PriceStore
	match        market.MatchPolicy
	cutoff       time.Duration
	writeTimeout time.Duration
	now          func() time.Time
}

var _ market.ContractResolver = (*Resolver)(nil)

// Option customises a Resolver.
type Option func(*Resolver)

// WithCandles enables OHLCV lookups for targets older than the cutoff.
func WithCandles(name string, src CandleSource) Option {
	return func(r *Resolver) {
		r.candles, r.candlesName = src, name
	}
}

// WithStore enables last-known-price fallback and observation write-through.
func WithStore(store market.PriceStore) Option {
	return func(r *Resolver) { r.store = store }
}

// WithMatchPolicy bounds candle matches.
func WithMatchPolicy(policy market.MatchPolicy) Option {
	return func(r *Resolver) { r.match = policy }
}

// WithCandleCutoff sets the age beyond which candles are preferred over
// percent-change reconstruction.
func WithCandleCutoff(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.cutoff = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewResolver constructs a resolver over a pair source labelled name.
func NewResolver(name string, pairs PairSource, opts ...Option) *Resolver {
	r := &Resolver{
		pairs:        pairs,
		pairsName:    name,
		cutoff:       defaultCandleCutoff,
		writeTimeout: defaultWriteTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveContract returns the price of token now (at == nil) or at *at, plus
// the base symbol of the pair it used. Only pairs where token is the base
// asset count, restricted to token.ChainID when it is set.
func (r *Resolver) ResolveContract(ctx context.Context, token market.ContractRef, at *time.Time) (*market.ContractPrice, error) {
	key := storeKey(token.Address)
	if key == "" {
		return nil, fmt.Errorf("%w: contract: empty address", market.ErrNotFound)
	}

	pairs, err := r.pairs.TokenPairs(ctx, strings.TrimSpace(token.Address))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logx.WithContext(ctx).Infof("contract: pairs lookup failed address=%s err=%v", key, err)
		return r.fallback(ctx, key, err)
	}
	best, ok := MostLiquid(BasePairs(pairs, key, token.ChainID))
	if !ok {
		return nil, fmt.Errorf("%w: contract: no pairs for %s", market.ErrNotFound, key)
	}
	r.record(ctx, key, best)

	if at == nil || !at.Before(r.now()) {
		return r.answer(best, &market.ResolvedPrice{Price: best.PriceUSD, Provider: r.pairsName}), nil
	}

	age := r.now().Sub(*at)
	if age <= r.cutoff {
		if price, ok := Reconstruct(best, age); ok {
			return r.answer(best, &market.ResolvedPrice{Price: price, Provider: r.pairsName}), nil
		}
	}
	price, err := r.fromCandles(ctx, best, *at)
	if err == nil {
		return r.answer(best, price), nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	logx.WithContext(ctx).Infof("contract: candles unavailable address=%s pair=%s err=%v", key, best.PairAddress, err)
	res, err := r.fallback(ctx, key, fmt.Errorf("%w: contract: no history for %s", market.ErrNotFound, key))
	if res != nil && res.SymbolHint == "" {
		res.SymbolHint = best.BaseSymbol
	}
	return res, err
}

func (r *Resolver) answer(pair market.TradingPair, price *market.ResolvedPrice) *market.ContractPrice {
	return &market.ContractPrice{ResolvedPrice: *price, SymbolHint: pair.BaseSymbol}
}

func (r *Resolver) fromCandles(ctx context.Context, pair market.TradingPair, at time.Time) (*market.ResolvedPrice, error) {
	if r.candles == nil {
		return nil, fmt.Errorf("%w: contract: no candle source", market.ErrUnavailable)
	}
	sample, err := history.Find(ctx, r.candles.Limits(), at, r.now(), r.match, func(ctx context.Context, plan history.Plan) ([]market.PriceSample, error) {
		return r.candles.PairSamples(ctx, pair, plan)
	})
	if err != nil {
		return nil, err
	}
	return history.Resolved(r.candlesName, sample), nil
}

func (r *Resolver) fallback(ctx context.Context, key string, cause error) (*market.ContractPrice, error) {
	if r.store == nil {
		return nil, cause
	}
	obs, err := r.store.LastObserved(ctx, key)
	if err != nil {
		logx.WithContext(ctx).Errorf("contract: read last observed address=%s err=%v", key, err)
		return nil, cause
	}
	if obs == nil || obs.Price <= 0 {
		return nil, cause
	}
	observedAt := obs.ObservedAt
	return &market.ContractPrice{
		ResolvedPrice: market.ResolvedPrice{Price: obs.Price, Provider: ProviderCache, MatchedTimestamp: &observedAt},
	}, nil
}

// record hands the observed current price to the store without blocking the caller.
func (r *Resolver) record(ctx context.Context, key string, pair market.TradingPair) {
	if r.store == nil || pair.PriceUSD <= 0 {
		return
	}
	obs := market.Observation{Key: key, Provider: r.pairsName, Price: pair.PriceUSD, ObservedAt: r.now().UTC()}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.writeTimeout)
	go func() {
		defer cancel()
		if err := r.store.RecordObservation(writeCtx, obs); err != nil {
			logx.WithContext(writeCtx).Errorf("contract: record observation address=%s err=%v", key, err)
		}
	}()
}

// MostLiquid picks the pair with the highest USD liquidity. Ties keep the
// pair listed first.
func MostLiquid(pairs []market.TradingPair) (market.TradingPair, bool) {
	if len(pairs) == 0 {
		return market.TradingPair{}, false
	}
	best := pairs[0]
	for _, p := range pairs[1:] {
		if p.LiquidityUSD > best.LiquidityUSD {
			best = p
		}
	}
	return best, true
}

// Reconstruct estimates the price age ago from the pair's rolling change
// bucket covering that age: current / (1 + change/100). A zero, missing or
// total-loss change yields no estimate.
func Reconstruct(pair market.TradingPair, age time.Duration) (float64, bool) {
	var change *float64
	switch {
	case age <= time.Hour:
		change = pair.PriceChange.H1
	case age <= 6*time.Hour:
		change = pair.PriceChange.H6
	case age <= 24*time.Hour:
		change = pair.PriceChange.H24
	}
	if change == nil || *change == 0 || *change <= -100 || pair.PriceUSD <= 0 {
		return 0, false
	}
	hundred := decimal.NewFromInt(100)
	divisor := decimal.NewFromInt(1).Add(decimal.NewFromFloat(*change).Div(hundred))
	price := decimal.NewFromFloat(pair.PriceUSD).Div(divisor)
	if !price.IsPositive() {
		return 0, false
	}
	return price.InexactFloat64(), true
}

// BasePairs keeps the pairs whose base token is address, on chainID when it
// is not empty. EVM addresses compare case-insensitively.
func BasePairs(pairs []market.TradingPair, address, chainID string) []market.TradingPair {
	key := storeKey(address)
	chainID = strings.TrimSpace(chainID)
	own := make([]market.TradingPair, 0, len(pairs))
	for _, p := range pairs {
		if storeKey(p.BaseTokenAddress) != key {
			continue
		}
		if chainID != "" && !strings.EqualFold(p.ChainID, chainID) {
			continue
		}
		own = append(own, p)
	}
	return own
}

func storeKey(address string) string {
	address = strings.TrimSpace(address)
	if symbols.IsEVMAddress(address) {
		return strings.ToLower(address)
	}
	return address
}
