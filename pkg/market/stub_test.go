package market_test

import (
	"context"
	"sync/atomic"

	market "callscore-api/pkg/market"
)

type stubProvider struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context, q market.Query) (*market.ResolvedPrice, error)
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Price(ctx context.Context, q market.Query) (*market.ResolvedPrice, error) {
	s.calls.Add(1)
	if s.fn == nil {
		return nil, market.ErrNotFound
	}
	return s.fn(ctx, q)
}

func fixed(price float64) func(context.Context, market.Query) (*market.ResolvedPrice, error) {
	return func(context.Context, market.Query) (*market.ResolvedPrice, error) {
		return &market.ResolvedPrice{Price: price}, nil
	}
}

func init() {
	market.RegisterProvider("stub", func(name string, cfg *market.ProviderConfig, deps market.Deps) (market.Provider, error) {
		return &stubProvider{name: name, fn: fixed(1)}, nil
	})
}
