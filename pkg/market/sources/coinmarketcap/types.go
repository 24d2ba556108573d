package coinmarketcap

import "time"

type status struct {
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

type usdQuote struct {
	Price     *float64   `json:"price"`
	Timestamp *time.Time `json:"timestamp"`
}

type latestResponse struct {
	Status status                   `json:"status"`
	Data   map[string][]latestEntry `json:"data" validate:"dive,dive"`
}

type latestEntry struct {
	ID     int    `json:"id"`
	Symbol string `json:"symbol" validate:"required"`
	Quote  struct {
		USD usdQuote `json:"USD"`
	} `json:"quote"`
}

type historicalResponse struct {
	Status status                       `json:"status"`
	Data   map[string][]historicalEntry `json:"data" validate:"dive,dive"`
}

type historicalEntry struct {
	ID     int    `json:"id"`
	Symbol string `json:"symbol" validate:"required"`
	Quotes []struct {
		Timestamp time.Time `json:"timestamp"`
		Quote     struct {
			USD usdQuote `json:"USD"`
		} `json:"quote"`
	} `json:"quotes"`
}
