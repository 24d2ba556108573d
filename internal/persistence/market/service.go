package marketpersist

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	cachekeys "callscore-api/internal/cache"
	"callscore-api/internal/model"
	"callscore-api/pkg/market"
)

var _ market.PriceStore = (*Service)(nil)

// Cache is the subset of go-zero's cache.Cache the store needs.
type Cache interface {
	GetCtx(ctx context.Context, key string, val any) error
	SetWithExpireCtx(ctx context.Context, key string, val any, expire time.Duration) error
	IsNotFound(err error) bool
}

// Service keeps last-observed prices in Redis and, when configured, in
// Postgres price_latest. Redis answers first; Postgres backfills it.
type Service struct {
	cache            Cache
	priceLatestModel model.PriceLatestModel
	ttl              cachekeys.TTLSet
}

// Config enumerates the store's collaborators. Either may be nil.
type Config struct {
	Cache            Cache
	PriceLatestModel model.PriceLatestModel
	TTL              cachekeys.TTLSet
}

// NewService wires a price store. Returns nil when neither backend is set.
func NewService(cfg Config) *Service {
	if cfg.Cache == nil && cfg.PriceLatestModel == nil {
		return nil
	}
	return &Service{
		cache:            cfg.Cache,
		priceLatestModel: cfg.PriceLatestModel,
		ttl:              cfg.TTL,
	}
}

type cachedObservation struct {
	Provider string  `json:"provider"`
	Price    float64 `json:"price"`
	TsMs     int64   `json:"ts"`
}

// RecordObservation writes obs to Postgres first, then refreshes both cache
// keys. Cache failures are logged only.
func (s *Service) RecordObservation(ctx context.Context, obs market.Observation) error {
	key := strings.TrimSpace(obs.Key)
	if s == nil || key == "" || obs.Price <= 0 {
		return nil
	}
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = time.Now()
	}
	provider := strings.TrimSpace(obs.Provider)
	if s.priceLatestModel != nil {
		row := &model.PriceLatest{Provider: provider, Symbol: key, Price: obs.Price, TsMs: obs.ObservedAt.UnixMilli()}
		if err := s.priceLatestModel.Upsert(ctx, row); err != nil {
			return err
		}
	}
	s.cacheObservation(ctx, provider, key, cachedObservation{Provider: provider, Price: obs.Price, TsMs: obs.ObservedAt.UnixMilli()})
	return nil
}

// LastObserved returns the newest observation for key or (nil, nil).
func (s *Service) LastObserved(ctx context.Context, key string) (*market.Observation, error) {
	key = strings.TrimSpace(key)
	if s == nil || key == "" {
		return nil, nil
	}
	if s.cache != nil {
		var cached cachedObservation
		err := s.cache.GetCtx(ctx, cachekeys.PriceLatestKey(key), &cached)
		switch {
		case err == nil && cached.Price > 0:
			return cached.observation(key), nil
		case err != nil && !s.cache.IsNotFound(err):
			logx.WithContext(ctx).Errorf("marketpersist: read cache key=%s err=%v", key, err)
		}
	}
	if s.priceLatestModel == nil {
		return nil, nil
	}
	row, err := s.priceLatestModel.FindLatest(ctx, key)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cached := cachedObservation{Provider: row.Provider, Price: row.Price, TsMs: row.TsMs}
	s.setCache(ctx, cachekeys.PriceLatestKey(key), cached, cachekeys.ObservationTTL(s.ttl))
	return cached.observation(key), nil
}

func (c cachedObservation) observation(key string) *market.Observation {
	return &market.Observation{
		Key:        key,
		Provider:   c.Provider,
		Price:      c.Price,
		ObservedAt: time.UnixMilli(c.TsMs).UTC(),
	}
}

func (s *Service) cacheObservation(ctx context.Context, provider, key string, payload cachedObservation) {
	if s.cache == nil {
		return
	}
	if provider != "" {
		s.setCache(ctx, cachekeys.PriceLatestByProviderKey(provider, key), payload, cachekeys.PriceTTL(s.ttl))
	}
	s.setCache(ctx, cachekeys.PriceLatestKey(key), payload, cachekeys.ObservationTTL(s.ttl))
}

// setCache writes payload unless the key already holds a newer observation,
// mirroring the ts_ms guard on the price_latest upsert.
func (s *Service) setCache(ctx context.Context, key string, payload cachedObservation, ttl time.Duration) {
	if s.cache == nil || ttl <= 0 {
		return
	}
	var current cachedObservation
	if err := s.cache.GetCtx(ctx, key, &current); err == nil && current.TsMs > payload.TsMs {
		logx.WithContext(ctx).Debugf("marketpersist: keep newer cached key=%s ts=%d incoming=%d", key, current.TsMs, payload.TsMs)
		return
	}
	if err := s.cache.SetWithExpireCtx(ctx, key, payload, ttl); err != nil {
		logx.WithContext(ctx).Errorf("marketpersist: cache price key=%s err=%v", key, err)
	}
}
