// Package performance scores a call: the signed percentage move between the
// entry price and the current price, inverted for bearish calls.
package performance

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Sentiment is the direction a call was made in.
type Sentiment string

const (
	Bullish Sentiment = "BULLISH"
	Bearish Sentiment = "BEARISH"
)

var (
	// ErrInvalidPrice means a price was not finite, the entry price was not
	// positive or the current price was negative.
	ErrInvalidPrice = errors.New("performance: invalid price")
	// ErrInvalidSentiment means the sentiment was neither bullish nor bearish.
	ErrInvalidSentiment = errors.New("performance: invalid sentiment")
)

// ParseSentiment accepts BULLISH/BEARISH and the LONG/SHORT, BUY/SELL spellings.
func ParseSentiment(raw string) (Sentiment, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BULLISH", "BULL", "LONG", "BUY":
		return Bullish, nil
	case "BEARISH", "BEAR", "SHORT", "SELL":
		return Bearish, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSentiment, raw)
	}
}

// Result is a scored call. SignedPerformance is positive when the call was right.
type Result struct {
	RawPercentChange  float64 `json:"rawPercentChange"`
	SignedPerformance float64 `json:"signedPerformance"`
	IsWin             bool    `json:"isWin"`
}

// Outcome labels the result; an exact zero is flat.
func (r Result) Outcome() string {
	switch {
	case r.SignedPerformance > 0:
		return "win"
	case r.SignedPerformance < 0:
		return "loss"
	default:
		return "flat"
	}
}

var hundred = decimal.NewFromInt(100)

// Calculate scores a call made at entry that now trades at current.
func Calculate(entry, current float64, sentiment Sentiment) (Result, error) {
	if !(entry > 0) || math.IsInf(entry, 0) {
		return Result{}, fmt.Errorf("%w: entry %v", ErrInvalidPrice, entry)
	}
	if !(current >= 0) || math.IsInf(current, 0) {
		return Result{}, fmt.Errorf("%w: current %v", ErrInvalidPrice, current)
	}
	if sentiment != Bullish && sentiment != Bearish {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidSentiment, sentiment)
	}

	e := decimal.NewFromFloat(entry)
	raw := decimal.NewFromFloat(current).Sub(e).Div(e).Mul(hundred)
	signed := raw
	if sentiment == Bearish {
		signed = raw.Neg()
	}
	return Result{
		RawPercentChange:  raw.InexactFloat64(),
		SignedPerformance: signed.InexactFloat64(),
		IsWin:             signed.IsPositive(),
	}, nil
}

// CalculatePerformance returns only the signed percentage.
func CalculatePerformance(entry, current float64, sentiment Sentiment) (float64, error) {
	res, err := Calculate(entry, current, sentiment)
	if err != nil {
		return 0, err
	}
	return res.SignedPerformance, nil
}
