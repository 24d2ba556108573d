package main

import (
	"context"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"callscore-api/pkg/market"
	"callscore-api/pkg/market/symbols"
	"callscore-api/pkg/pricing"
)

const (
	defaultInterval   = time.Minute
	defaultLockTTL    = 30 * time.Second
	defaultRecordWait = 5 * time.Second
)

type batchResolver interface {
	ResolveBatch(ctx context.Context, reqs []pricing.Request) []pricing.Result
}

// locker is the subset of go-zero's redis client used to keep one replica
// refreshing at a time.
type locker interface {
	SetnxExCtx(ctx context.Context, key, value string, seconds int) (bool, error)
	DelCtx(ctx context.Context, keys ...string) (int, error)
}

// refresher periodically resolves the configured symbols and addresses so the
// price store always holds a recent observation for each of them.
type refresher struct {
	prices   batchResolver
	table    *symbols.Table
	store    market.PriceStore
	lock     locker
	lockKey  string
	lockTTL  time.Duration
	requests []pricing.Request
	interval time.Duration
	now      func() time.Time
}

func newRefresher(prices batchResolver, table *symbols.Table, syms, addresses []string, interval time.Duration) *refresher {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &refresher{
		prices:   prices,
		table:    table,
		lockTTL:  defaultLockTTL,
		requests: buildRequests(table, syms, addresses),
		interval: interval,
		now:      time.Now,
	}
}

// withStore records every resolved symbol price. Contract prices are recorded
// by the contract resolver itself.
func (r *refresher) withStore(store market.PriceStore) *refresher {
	r.store = store
	return r
}

func (r *refresher) withLock(lock locker, key string, ttl time.Duration) *refresher {
	r.lock, r.lockKey = lock, key
	if ttl > 0 {
		r.lockTTL = ttl
	}
	return r
}

// buildRequests dedupes symbols by their normalized form and addresses by
// their canonical spelling, keeping first-seen order.
func buildRequests(table *symbols.Table, syms, addresses []string) []pricing.Request {
	reqs := make([]pricing.Request, 0, len(syms)+len(addresses))
	seen := make(map[string]struct{}, len(syms)+len(addresses))
	add := func(key, raw string) {
		if key == "" {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		reqs = append(reqs, pricing.Request{Symbol: raw})
	}
	for _, sym := range syms {
		add(table.Normalize(sym), strings.TrimSpace(sym))
	}
	for _, addr := range addresses {
		canonical, ok := symbols.ContractAddress(addr)
		if !ok {
			logx.Errorf("refresh: skip invalid contract address %q", addr)
			continue
		}
		add(canonical, canonical)
	}
	return reqs
}

// run refreshes once immediately, then on every tick until ctx ends.
func (r *refresher) run(ctx context.Context) {
	if r == nil || len(r.requests) == 0 {
		logx.Info("refresh: nothing to refresh")
		return
	}
	r.refresh(ctx)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

// refresh runs one cycle and returns how many requests resolved.
func (r *refresher) refresh(ctx context.Context) int {
	if !r.acquire(ctx) {
		return 0
	}
	defer r.release(ctx)

	started := r.now()
	results := r.prices.ResolveBatch(ctx, r.requests)
	resolved := 0
	for _, res := range results {
		if res.Price == nil {
			logx.WithContext(ctx).Infof("refresh: %s", res)
			continue
		}
		resolved++
		r.record(ctx, res, started)
	}
	logx.WithContext(ctx).Infof("refresh: resolved=%d/%d took=%s", resolved, len(results), r.now().Sub(started))
	return resolved
}

func (r *refresher) record(ctx context.Context, res pricing.Result, at time.Time) {
	if r.store == nil {
		return
	}
	if _, isContract := symbols.ContractAddress(res.Symbol); isContract {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, defaultRecordWait)
	defer cancel()
	obs := market.Observation{
		Key:        r.table.Normalize(res.Symbol),
		Provider:   res.Price.Provider,
		Price:      res.Price.Price,
		ObservedAt: at,
	}
	if err := r.store.RecordObservation(writeCtx, obs); err != nil {
		logx.WithContext(ctx).Errorf("refresh: record symbol=%s err=%v", obs.Key, err)
	}
}

func (r *refresher) acquire(ctx context.Context) bool {
	if r.lock == nil {
		return true
	}
	ok, err := r.lock.SetnxExCtx(ctx, r.lockKey, "1", int(r.lockTTL/time.Second))
	if err != nil {
		logx.WithContext(ctx).Errorf("refresh: acquire lock key=%s err=%v", r.lockKey, err)
		return true
	}
	if !ok {
		logx.WithContext(ctx).Infof("refresh: another replica holds %s, skipping cycle", r.lockKey)
	}
	return ok
}

func (r *refresher) release(ctx context.Context) {
	if r.lock == nil {
		return
	}
	if _, err := r.lock.DelCtx(context.WithoutCancel(ctx), r.lockKey); err != nil {
		logx.WithContext(ctx).Errorf("refresh: release lock key=%s err=%v", r.lockKey, err)
	}
}
