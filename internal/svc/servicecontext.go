package svc

import (
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/logx"
	gocache "github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/redis"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
	"github.com/zeromicro/go-zero/core/syncx"

	cachekeys "callscore-api/internal/cache"
	"callscore-api/internal/config"
	"callscore-api/internal/model"
	marketpersist "callscore-api/internal/persistence/market"
	marketpkg "callscore-api/pkg/market"
	"callscore-api/pkg/market/contract"
	_ "callscore-api/pkg/market/sources/coingecko"
	_ "callscore-api/pkg/market/sources/coinmarketcap"
	"callscore-api/pkg/market/sources/dexscreener"
	"callscore-api/pkg/market/sources/geckoterminal"
	_ "callscore-api/pkg/market/sources/yahoo"
	"callscore-api/pkg/market/symbols"
	"callscore-api/pkg/pricing"
)

type ServiceContext struct {
	Config config.Config

	MarketConfig    *marketpkg.Config
	Symbols         *symbols.Table
	DexScreener     *dexscreener.Client
	GeckoTerminal   *geckoterminal.Client
	Contracts       *contract.Resolver
	MarketProviders map[string]marketpkg.Provider
	Chains          map[marketpkg.AssetClass]*marketpkg.Chain
	Pricing         *pricing.Service

	// Optional storage, injected only when configured.
	DBConn           sqlx.SqlConn
	Redis            *redis.Redis
	Cache            gocache.Cache
	PriceLatestModel model.PriceLatestModel
	PriceStore       *marketpersist.Service
}

func MustNewServiceContext(c config.Config) *ServiceContext {
	svc, err := NewServiceContext(c)
	logx.Must(err)
	return svc
}

// NewServiceContext wires config into tables, upstream clients, the contract
// resolver, provider chains and the pricing facade.
func NewServiceContext(c config.Config) (*ServiceContext, error) {
	marketCfg := c.Market.Value
	if marketCfg == nil {
		return nil, errors.New("svc: market config not loaded")
	}
	table, err := symbols.Load(marketCfg.SymbolsFile)
	if err != nil {
		return nil, fmt.Errorf("load symbols: %w", err)
	}
	svc := &ServiceContext{
		Config:       c,
		MarketConfig: marketCfg,
		Symbols:      table,
	}
	svc.initStorage(c)

	svc.DexScreener = dexscreener.NewClientFromConfig(marketCfg.Contract.DexScreener)
	svc.GeckoTerminal = geckoterminal.NewClientFromConfig(marketCfg.Contract.GeckoTerminal)
	opts := []contract.Option{
		contract.WithCandles("geckoterminal", svc.GeckoTerminal),
		contract.WithMatchPolicy(marketCfg.Match),
		contract.WithCandleCutoff(marketCfg.Contract.CandleCutoff),
	}
	if svc.PriceStore != nil {
		opts = append(opts, contract.WithStore(svc.PriceStore))
	}
	svc.Contracts = contract.NewResolver("dexscreener", svc.DexScreener, opts...)

	providers, err := marketCfg.BuildProviders(marketpkg.Deps{
		Aliases:   table,
		Contracts: svc.Contracts,
		Match:     marketCfg.Match,
	})
	if err != nil {
		return nil, fmt.Errorf("build market providers: %w", err)
	}
	chains, err := marketCfg.BuildChains(providers)
	if err != nil {
		return nil, fmt.Errorf("build market chains: %w", err)
	}
	svc.MarketProviders = providers
	svc.Chains = chains
	svc.Pricing = pricing.NewService(table, chains,
		pricing.WithContractResolver(svc.Contracts),
		pricing.WithConcurrency(marketCfg.Batch.Concurrency))

	for class, chain := range chains {
		logx.Infof("svc: %s chain=%s providers=%v", class, chain.Name(), chain.ProviderNames())
	}
	return svc, nil
}

func (s *ServiceContext) initStorage(c config.Config) {
	if c.Postgres.DSN != "" {
		conn := sqlx.NewSqlConn("pgx", c.Postgres.DSN)
		if db, err := conn.RawDB(); err == nil {
			db.SetMaxOpenConns(c.Postgres.MaxOpen)
			db.SetMaxIdleConns(c.Postgres.MaxIdle)
		}
		s.DBConn = conn
		s.PriceLatestModel = model.NewPriceLatestModel(conn)
	}
	if c.HasRedis() {
		s.Redis = redis.MustNewRedis(c.Redis)
		s.Cache = gocache.New(gocache.ClusterConf{{RedisConf: c.Redis, Weight: 100}},
			syncx.NewSingleFlight(), gocache.NewStat("price"), model.ErrNotFound)
	}

	s.PriceStore = marketpersist.NewService(marketpersist.Config{
		Cache:            s.Cache,
		PriceLatestModel: s.PriceLatestModel,
		TTL:              cachekeys.NewTTLSet(c.TTL),
	})
}
