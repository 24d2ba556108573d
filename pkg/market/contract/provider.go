package contract

import (
	"context"
	"fmt"
	"strings"

	"callscore-api/pkg/market"
)

// AliasProvider prices symbols that have a known contract address in the alias table.
type AliasProvider struct {
	name      string
	aliases   market.AliasLookup
	contracts market.ContractResolver
}

// NewAliasProvider constructs the known-contract chain step.
func NewAliasProvider(name string, aliases market.AliasLookup, contracts market.ContractResolver) *AliasProvider {
	return &AliasProvider{name: name, aliases: aliases, contracts: contracts}
}

func init() {
	market.RegisterProvider("contract", func(name string, cfg *market.ProviderConfig, deps market.Deps) (market.Provider, error) {
		if deps.Aliases == nil || deps.Contracts == nil {
			return nil, fmt.Errorf("contract provider needs an alias table and a contract resolver")
		}
		return NewAliasProvider(name, deps.Aliases, deps.Contracts), nil
	})
}

// Name implements market.Provider.
func (p *AliasProvider) Name() string { return p.name }

// Price implements market.Provider.
func (p *AliasProvider) Price(ctx context.Context, q market.Query) (*market.ResolvedPrice, error) {
	ref, ok := p.aliases.Contract(strings.ToUpper(strings.TrimSpace(q.Symbol)))
	if !ok || ref.Address == "" {
		return nil, fmt.Errorf("%w: contract: no known address for %s", market.ErrNotFound, q.Symbol)
	}
	res, err := p.contracts.ResolveContract(ctx, ref, q.At)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("%w: contract: %s", market.ErrNotFound, ref.Address)
	}
	price := res.ResolvedPrice
	return &price, nil
}
