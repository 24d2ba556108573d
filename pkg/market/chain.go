package market

import (
	"context"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
)

const defaultStepTimeout = 15 * time.Second

// Chain invokes providers in order and returns the first valid price.
type Chain struct {
	name        string
	providers   []Provider
	stepTimeout time.Duration
}

// ChainOption customises a Chain.
type ChainOption func(*Chain)

// WithStepTimeout bounds every provider call made by the chain.
// Providers may apply a tighter timeout of their own.
func WithStepTimeout(d time.Duration) ChainOption {
	return func(c *Chain) {
		if d > 0 {
			c.stepTimeout = d
		}
	}
}

// NewChain constructs a chain over providers in invocation order.
func NewChain(name string, providers []Provider, opts ...ChainOption) *Chain {
	chain := &Chain{
		name:        name,
		providers:   append([]Provider(nil), providers...),
		stepTimeout: defaultStepTimeout,
	}
	for _, opt := range opts {
		opt(chain)
	}
	return chain
}

// Name returns the chain label used in logs and metrics.
func (c *Chain) Name() string { return c.name }

// ProviderNames lists providers in invocation order.
func (c *Chain) ProviderNames() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return names
}

// Resolve walks the chain. It returns nil when every provider declines,
// fails, or the caller's context ends; it never returns an error.
func (c *Chain) Resolve(ctx context.Context, q Query) *ResolvedPrice {
	if c == nil {
		return nil
	}
	for _, provider := range c.providers {
		if ctx.Err() != nil {
			logx.WithContext(ctx).Infof("price chain: chain=%s symbol=%s stopped: %v", c.name, q.Symbol, ctx.Err())
			return nil
		}
		price, err := c.invoke(ctx, provider, q)
		if err == nil && !price.Valid() {
			err = ErrNotFound
		}
		outcome := Outcome(err)
		if err != nil {
			logx.WithContext(ctx).Debugf("price chain: chain=%s provider=%s symbol=%s outcome=%s err=%v",
				c.name, provider.Name(), q.Symbol, outcome, err)
			continue
		}
		if price.Provider == "" {
			price.Provider = provider.Name()
		}
		logx.WithContext(ctx).Infof("price chain: chain=%s provider=%s symbol=%s outcome=%s price=%g",
			c.name, price.Provider, q.Symbol, outcome, price.Price)
		return price
	}
	logx.WithContext(ctx).Infof("price chain: chain=%s symbol=%s exhausted", c.name, q.Symbol)
	return nil
}

func (c *Chain) invoke(ctx context.Context, provider Provider, q Query) (price *ResolvedPrice, err error) {
	stepCtx, cancel := context.WithTimeout(ctx, c.stepTimeout)
	defer cancel()

	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logx.WithContext(ctx).Errorf("price chain: provider=%s symbol=%s panic: %v", provider.Name(), q.Symbol, r)
			price, err = nil, fmt.Errorf("%w: provider panic: %v", ErrUnavailable, r)
		}
		providerDuration.Observe(time.Since(started).Milliseconds(), c.name, provider.Name())
		providerRequests.Inc(c.name, provider.Name(), Outcome(err))
	}()
	return provider.Price(stepCtx, q)
}
