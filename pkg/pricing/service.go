// Package pricing is the entry point collaborators call to price an asset
// now or at a past instant.
package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"golang.org/x/sync/errgroup"

	"callscore-api/pkg/market"
	"callscore-api/pkg/market/symbols"
)

const (
	// ProviderLaunch labels prices answered from launch records.
	ProviderLaunch = "launch"

	defaultConcurrency = 4
)

// Service resolves prices through the symbol tables, the per-class provider
// chains and the contract resolver. It never returns errors to callers: a
// nil result means no provider could answer.
type Service struct {
	table       *symbols.Table
	chains      map[market.AssetClass]*market.Chain
	contracts   market.ContractResolver
	concurrency int
}

// Option customises a Service.
type Option func(*Service)

// WithContractResolver enables contract-address lookups.
func WithContractResolver(r market.ContractResolver) Option {
	return func(s *Service) { s.contracts = r }
}

// WithConcurrency bounds ResolveBatch fan-out.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewService wires a Service. A nil table uses the built-in symbol tables.
func NewService(table *symbols.Table, chains map[market.AssetClass]*market.Chain, opts ...Option) *Service {
	if table == nil {
		table = symbols.Default()
	}
	s := &Service{table: table, chains: chains, concurrency: defaultConcurrency}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolvePrice prices symbol now (at == nil) or at *at. Contract addresses
// are routed to the contract resolver.
func (s *Service) ResolvePrice(ctx context.Context, symbol string, class market.AssetClass, at *time.Time) *market.ResolvedPrice {
	if address, ok := symbols.ContractAddress(symbol); ok {
		res := s.ResolvePriceByContractAddress(ctx, address, at)
		if res == nil {
			return nil
		}
		price := res.ResolvedPrice
		return &price
	}

	canonical := s.table.Normalize(symbol)
	if canonical == "" {
		return nil
	}
	class = s.table.Classify(canonical, class)

	if rec, ok := s.table.PreLaunch(canonical, at); ok {
		launched := rec.Date
		logx.WithContext(ctx).Infof("pricing: symbol=%s before launch %s, price=%g", canonical, rec.Date.Format(time.DateOnly), rec.Price)
		return &market.ResolvedPrice{Price: rec.Price, Provider: ProviderLaunch, MatchedTimestamp: &launched}
	}

	chain, ok := s.chains[class]
	if !ok {
		logx.WithContext(ctx).Errorf("pricing: no chain for class %s", class)
		return nil
	}
	return chain.Resolve(ctx, market.Query{Symbol: canonical, Class: class, At: at})
}

// ResolvePriceByContractAddress prices a token by on-chain address and
// reports the base symbol of the pair used.
func (s *Service) ResolvePriceByContractAddress(ctx context.Context, address string, at *time.Time) (res *market.ContractPrice) {
	if s.contracts == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			logx.WithContext(ctx).Errorf("pricing: contract address=%s panic: %v", address, r)
			res = nil
		}
	}()
	price, err := s.contracts.ResolveContract(ctx, market.ContractRef{Address: address}, at)
	if err != nil {
		logx.WithContext(ctx).Infof("pricing: contract address=%s outcome=%s err=%v", address, market.Outcome(err), err)
		return nil
	}
	if price == nil || !price.Valid() {
		return nil
	}
	return price
}

// Request is one entry of a batch.
type Request struct {
	Symbol string
	Class  market.AssetClass
	At     *time.Time
}

// Result pairs a request with its price; Price is nil when unresolved.
type Result struct {
	Request
	Price *market.ResolvedPrice
}

// String renders a result for logs.
func (r Result) String() string {
	if r.Price == nil {
		return fmt.Sprintf("%s: unresolved", r.Symbol)
	}
	return fmt.Sprintf("%s: %g via %s", r.Symbol, r.Price.Price, r.Price.Provider)
}

// ResolveBatch resolves independent requests with bounded concurrency.
// Results keep the order of reqs.
func (s *Service) ResolveBatch(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, req := range reqs {
		i, req := i, req // per-iteration copies; go.mod targets Go 1.21
		results[i].Request = req
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			results[i].Price = s.ResolvePrice(gctx, req.Symbol, req.Class, req.At)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
