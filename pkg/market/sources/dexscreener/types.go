package dexscreener

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"callscore-api/pkg/market"
)

type pairsResponse struct {
	Pairs []pair `json:"pairs"`
}

type pair struct {
	ChainID     string `json:"chainId"`
	DexID       string `json:"dexId"`
	PairAddress string `json:"pairAddress"`
	BaseToken   struct {
		Address string `json:"address"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	PriceUSD  string `json:"priceUsd"`
	Liquidity *struct {
		USD *float64 `json:"usd"`
	} `json:"liquidity"`
	PriceChange *struct {
		M5  *float64 `json:"m5"`
		H1  *float64 `json:"h1"`
		H6  *float64 `json:"h6"`
		H24 *float64 `json:"h24"`
	} `json:"priceChange"`
}

// toTradingPair validates one pair. Pairs without a positive USD price or a
// base token address are rejected.
func (p pair) toTradingPair() (market.TradingPair, error) {
	if strings.TrimSpace(p.BaseToken.Address) == "" || strings.TrimSpace(p.PairAddress) == "" {
		return market.TradingPair{}, fmt.Errorf("%w: dexscreener: pair without addresses", market.ErrMalformed)
	}
	price, err := decimal.NewFromString(strings.TrimSpace(p.PriceUSD))
	if err != nil || !price.IsPositive() {
		return market.TradingPair{}, fmt.Errorf("%w: dexscreener: pair %s priceUsd %q", market.ErrMalformed, p.PairAddress, p.PriceUSD)
	}
	tp := market.TradingPair{
		ChainID:          strings.ToLower(p.ChainID),
		PairAddress:      p.PairAddress,
		BaseTokenAddress: p.BaseToken.Address,
		BaseSymbol:       strings.ToUpper(strings.TrimSpace(p.BaseToken.Symbol)),
		PriceUSD:         price.InexactFloat64(),
	}
	if p.Liquidity != nil && p.Liquidity.USD != nil {
		tp.LiquidityUSD = *p.Liquidity.USD
	}
	if p.PriceChange != nil {
		tp.PriceChange = market.PriceChange{H1: p.PriceChange.H1, H6: p.PriceChange.H6, H24: p.PriceChange.H24}
	}
	return tp, nil
}
