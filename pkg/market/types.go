package market

import (
	"strings"
	"time"
)

// AssetClass tells the resolver which provider chain a symbol belongs to.
type AssetClass string

const (
	AssetClassUnspecified AssetClass = ""
	AssetClassCrypto      AssetClass = "CRYPTO"
	AssetClassStock       AssetClass = "STOCK"
)

// ParseAssetClass accepts the spellings collaborators send ("crypto", "STOCK", "equity").
// Anything unrecognised maps to AssetClassUnspecified so the classifier decides.
func ParseAssetClass(raw string) AssetClass {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "CRYPTO", "CRYPTOCURRENCY", "TOKEN":
		return AssetClassCrypto
	case "STOCK", "STOCKS", "EQUITY":
		return AssetClassStock
	default:
		return AssetClassUnspecified
	}
}

// Query is a single price lookup. At == nil means "now".
type Query struct {
	Symbol string
	Class  AssetClass
	At     *time.Time
}

// Historical reports whether the query targets a past instant.
func (q Query) Historical() bool {
	return q.At != nil
}

// PriceSample is one (timestamp, price) point returned by a provider.
type PriceSample struct {
	Timestamp time.Time
	Price     float64
}

// ResolvedPrice is the answer handed back to collaborators. Price is always > 0.
type ResolvedPrice struct {
	Price            float64
	Provider         string
	MatchedTimestamp *time.Time
}

// Valid reports whether the price can be handed to a caller.
func (r *ResolvedPrice) Valid() bool {
	return r != nil && r.Price > 0
}

// PriceChange carries the rolling percent-change buckets a DEX pair reports.
// Nil means the provider did not supply that bucket.
type PriceChange struct {
	H1  *float64
	H6  *float64
	H24 *float64
}

// TradingPair is one DEX market for a token.
type TradingPair struct {
	ChainID          string
	PairAddress      string
	BaseTokenAddress string
	BaseSymbol       string
	PriceUSD         float64
	LiquidityUSD     float64
	PriceChange      PriceChange
}

// ContractRef is a known chain + contract-address pair for a canonical symbol.
type ContractRef struct {
	ChainID string `yaml:"chain"`
	Address string `yaml:"address"`
}

// ContractPrice is a resolved contract-address price plus the base token symbol of the chosen pair.
type ContractPrice struct {
	ResolvedPrice
	SymbolHint string
}

// Observation is a current price seen for a key (contract address or symbol),
// handed to the storage collaborator for later fallback use.
type Observation struct {
	Key        string    `json:"key"`
	Provider   string    `json:"provider"`
	Price      float64   `json:"price"`
	ObservedAt time.Time `json:"observedAt"`
}
