package history

import (
	"fmt"
	"time"

	"callscore-api/pkg/market"
)

// Closest returns the sample whose timestamp is nearest target. Ties keep the
// earlier entry in the slice. Input need not be sorted.
func Closest(samples []market.PriceSample, target time.Time) (market.PriceSample, bool) {
	if len(samples) == 0 {
		return market.PriceSample{}, false
	}
	best := samples[0]
	bestDelta := absDelta(best.Timestamp, target)
	for _, s := range samples[1:] {
		if d := absDelta(s.Timestamp, target); d < bestDelta {
			best, bestDelta = s, d
		}
	}
	return best, true
}

// Match drops unusable samples, picks the closest one to plan.Target and
// rejects it when it lies beyond the allowed distance.
func Match(samples []market.PriceSample, plan Plan, policy market.MatchPolicy) (market.PriceSample, error) {
	usable := make([]market.PriceSample, 0, len(samples))
	for _, s := range samples {
		if s.Price > 0 && !s.Timestamp.IsZero() {
			usable = append(usable, s)
		}
	}
	best, ok := Closest(usable, plan.Target)
	if !ok {
		return market.PriceSample{}, fmt.Errorf("%w: no samples", market.ErrNotFound)
	}
	if policy.Permissive {
		return best, nil
	}
	limit := plan.Tolerance
	if policy.MaxDelta > 0 {
		limit = policy.MaxDelta
	}
	if limit > 0 {
		if d := absDelta(best.Timestamp, plan.Target); d > limit {
			return market.PriceSample{}, fmt.Errorf("%w: closest sample %s from target exceeds %s", market.ErrNotFound, d, limit)
		}
	}
	return best, nil
}

// Resolved converts a matched sample into a caller-facing price.
func Resolved(provider string, s market.PriceSample) *market.ResolvedPrice {
	ts := s.Timestamp
	return &market.ResolvedPrice{Price: s.Price, Provider: provider, MatchedTimestamp: &ts}
}

func absDelta(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		return -d
	}
	return d
}
