package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/zeromicro/go-zero/core/logx"

	cachekeys "callscore-api/internal/cache"
	"callscore-api/internal/cli"
	"callscore-api/internal/config"
	"callscore-api/internal/svc"
)

var (
	configFile = flag.String("f", config.DefaultPath, "the config file")
	symbolsRaw = flag.String("symbols", "", "comma-separated symbols, overrides Refresh.Symbols")
	once       = flag.Bool("once", false, "run a single refresh cycle and exit")
)

func main() {
	flag.Parse()

	cfg := config.MustLoad(*configFile)
	cfg.MustSetUp()
	cli.LogConfigSummary(cfg)

	ctx := svc.MustNewServiceContext(*cfg)

	syms := cfg.Refresh.Symbols
	if parsed := parseList(*symbolsRaw); len(parsed) > 0 {
		syms = parsed
	}
	job := newRefresher(ctx.Pricing, ctx.Symbols, syms, cfg.Refresh.Addresses, cfg.Refresh.Interval)
	if ctx.PriceStore != nil {
		job.withStore(ctx.PriceStore)
	}
	if ctx.Redis != nil {
		ttl := cachekeys.NewTTLSet(cfg.TTL)
		job.withLock(ctx.Redis, cachekeys.RefreshLockKey(), cachekeys.RefreshLockTTL(ttl))
	}

	runCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *once {
		job.refresh(runCtx)
		return
	}
	logx.Infof("refresh: starting interval=%s requests=%d", job.interval, len(job.requests))
	job.run(runCtx)
	logx.Info("refresh: stopped")
}

func parseList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
