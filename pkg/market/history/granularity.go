package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"callscore-api/pkg/market"
)

// Interval is a candle resolution.
type Interval string

const (
	Minute     Interval = "1m"
	FiveMinute Interval = "5m"
	Hour       Interval = "1h"
	Day        Interval = "1d"
)

// Duration returns the bucket width.
func (i Interval) Duration() time.Duration {
	switch i {
	case Minute:
		return time.Minute
	case FiveMinute:
		return 5 * time.Minute
	case Hour:
		return time.Hour
	case Day:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Limits maps each interval a provider serves to the oldest age it can reach.
// Zero means unlimited; an absent interval is not served at all.
type Limits map[Interval]time.Duration

func (l Limits) allows(i Interval, age time.Duration) bool {
	limit, ok := l[i]
	if !ok {
		return false
	}
	return limit == 0 || age <= limit
}

// Plan is a concrete candle request around a target instant.
type Plan struct {
	Interval  Interval
	Target    time.Time
	From      time.Time
	To        time.Time
	Tolerance time.Duration
}

type tier struct {
	maxAge    time.Duration
	interval  Interval
	before    time.Duration
	after     time.Duration
	tolerance time.Duration
}

const day = 24 * time.Hour

// Tiers run finest to coarsest. The daily window is padded on both sides so
// weekends and exchange holidays still yield a neighbour.
var tiers = []tier{
	{maxAge: 7 * day, interval: Minute, before: 15 * time.Minute, after: 15 * time.Minute, tolerance: 15 * time.Minute},
	{maxAge: 55 * day, interval: FiveMinute, before: time.Hour, after: time.Hour, tolerance: time.Hour},
	{maxAge: 730 * day, interval: Hour, before: 6 * time.Hour, after: 6 * time.Hour, tolerance: 6 * time.Hour},
	{maxAge: 0, interval: Day, before: 3 * day, after: 3 * day, tolerance: 4 * day},
}

// Select picks the finest interval the age of target calls for, stepping to
// coarser intervals until one fits inside the provider's limits. Targets in
// the future are treated as now.
func Select(limits Limits, target, now time.Time) (Plan, error) {
	plans, err := Plans(limits, target, now)
	if err != nil {
		return Plan{}, err
	}
	return plans[0], nil
}

// Plans lists every plan the provider's limits allow for target, finest
// first. The first entry is what Select returns.
func Plans(limits Limits, target, now time.Time) ([]Plan, error) {
	if target.After(now) {
		target = now
	}
	age := now.Sub(target)
	var plans []Plan
	for _, t := range tiers {
		if t.maxAge > 0 && age >= t.maxAge {
			continue
		}
		from := target.Add(-t.before)
		if !limits.allows(t.interval, now.Sub(from)) {
			continue
		}
		to := target.Add(t.after)
		if to.After(now) {
			to = now
		}
		plans = append(plans, Plan{
			Interval:  t.interval,
			Target:    target,
			From:      from,
			To:        to,
			Tolerance: t.tolerance,
		})
	}
	if len(plans) == 0 {
		return nil, fmt.Errorf("%w: no interval covers %s ago", market.ErrNotFound, age.Truncate(time.Second))
	}
	return plans, nil
}

// Fetch loads the samples one plan asks for.
type Fetch func(ctx context.Context, plan Plan) ([]market.PriceSample, error)

// Find walks Plans finest first and returns the first sample Match accepts.
// A window that comes back empty or too far from target moves on to the next
// coarser plan, so instants outside trading hours land on the last session.
// Any error other than ErrNotFound ends the walk.
func Find(ctx context.Context, limits Limits, target, now time.Time, policy market.MatchPolicy, fetch Fetch) (market.PriceSample, error) {
	plans, err := Plans(limits, target, now)
	if err != nil {
		return market.PriceSample{}, err
	}
	var last error
	for _, plan := range plans {
		if err := ctx.Err(); err != nil {
			return market.PriceSample{}, err
		}
		samples, err := fetch(ctx, plan)
		if err == nil {
			var sample market.PriceSample
			if sample, err = Match(samples, plan, policy); err == nil {
				return sample, nil
			}
		}
		if !errors.Is(err, market.ErrNotFound) {
			return market.PriceSample{}, err
		}
		last = err
	}
	return market.PriceSample{}, last
}
