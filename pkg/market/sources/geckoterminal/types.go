package geckoterminal

type ohlcvResponse struct {
	Data struct {
		Attributes struct {
			OHLCVList [][]float64 `json:"ohlcv_list"`
		} `json:"attributes"`
	} `json:"data"`
}

type poolSearchResponse struct {
	Data []poolResource `json:"data" validate:"dive"`
}

type poolResource struct {
	ID         string `json:"id" validate:"required"`
	Attributes struct {
		Address           string `json:"address"`
		Name              string `json:"name"`
		BaseTokenPriceUSD string `json:"base_token_price_usd"`
		ReserveInUSD      string `json:"reserve_in_usd"`
	} `json:"attributes"`
	Relationships struct {
		BaseToken struct {
			Data struct {
				ID string `json:"id"`
			} `json:"data"`
		} `json:"base_token"`
		Network struct {
			Data struct {
				ID string `json:"id"`
			} `json:"data"`
		} `json:"network"`
	} `json:"relationships"`
}
