package market

import (
	"context"
	"time"
)

// Provider resolves a price for one normalized query. Implementations return
// (nil, err) on any failure; the chain treats every error exactly like a miss.
type Provider interface {
	// Name is the configured provider identifier reported in ResolvedPrice.Provider.
	Name() string
	// Price resolves q.Symbol now (q.At == nil) or at *q.At.
	Price(ctx context.Context, q Query) (*ResolvedPrice, error)
}

// AliasLookup exposes the read-only alias table to providers.
type AliasLookup interface {
	YahooTicker(symbol string) (string, bool)
	CoinGeckoID(symbol string) (string, bool)
	Contract(symbol string) (ContractRef, bool)
}

// ContractResolver resolves tokens known only by an on-chain address. An empty
// token.ChainID accepts pairs on any chain.
type ContractResolver interface {
	ResolveContract(ctx context.Context, token ContractRef, at *time.Time) (*ContractPrice, error)
}

// Deps are the shared collaborators handed to provider builders.
type Deps struct {
	Aliases   AliasLookup
	Contracts ContractResolver
	Match     MatchPolicy
}
