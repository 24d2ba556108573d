package coingecko

type searchResponse struct {
	Coins []searchCoin `json:"coins" validate:"dive"`
}

type searchCoin struct {
	ID            string `json:"id" validate:"required"`
	Symbol        string `json:"symbol"`
	Name          string `json:"name"`
	MarketCapRank *int   `json:"market_cap_rank"`
}

// simplePriceResponse is {"<id>": {"usd": 1.23}}.
type simplePriceResponse map[string]struct {
	USD *float64 `json:"usd"`
}

// marketChartResponse carries [[timestampMs, price], ...].
type marketChartResponse struct {
	Prices [][]float64 `json:"prices"`
}
