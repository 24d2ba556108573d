package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"callscore-api/internal/config"
	"callscore-api/internal/svc"
	"callscore-api/pkg/market"
	"callscore-api/pkg/performance"
)

var (
	configFile = flag.String("f", config.DefaultPath, "the config file")
	symbol     = flag.String("symbol", "", "ticker or contract address to price")
	class      = flag.String("class", "", "crypto | stock; empty lets the classifier decide")
	atRaw      = flag.String("at", "", "RFC3339 instant; empty prices now")
	entryAt    = flag.String("entry-at", "", "RFC3339 call time; scores the call from that price to -at")
	sentiment  = flag.String("sentiment", "bullish", "bullish | bearish, used with -entry-at")
)

func main() {
	flag.Parse()
	if *symbol == "" {
		fmt.Fprintln(os.Stderr, "usage: callscore -symbol BTC [-class crypto] [-at 2024-01-01T00:00:00Z] [-entry-at ... -sentiment bearish]")
		os.Exit(2)
	}

	cfg := config.MustLoad(*configFile)
	logx.MustSetup(cfg.Log)
	logx.DisableStat()
	ctx := svc.MustNewServiceContext(*cfg)

	at, err := parseInstant(*atRaw)
	if err != nil {
		exitf("invalid -at: %v", err)
	}
	reqCtx := context.Background()
	current := ctx.Pricing.ResolvePrice(reqCtx, *symbol, market.ParseAssetClass(*class), at)
	if current == nil {
		exitf("%s: no provider could price it", *symbol)
	}
	fmt.Println(describe(*symbol, current))

	if *entryAt == "" {
		return
	}
	callAt, err := parseInstant(*entryAt)
	if err != nil || callAt == nil {
		exitf("invalid -entry-at: %q", *entryAt)
	}
	side, err := performance.ParseSentiment(*sentiment)
	if err != nil {
		exitf("%v", err)
	}
	entry := ctx.Pricing.ResolvePrice(reqCtx, *symbol, market.ParseAssetClass(*class), callAt)
	if entry == nil {
		exitf("%s: no entry price at %s", *symbol, callAt.Format(time.RFC3339))
	}
	fmt.Println(describe(*symbol, entry))
	res, err := performance.Calculate(entry.Price, current.Price, side)
	if err != nil {
		exitf("%v", err)
	}
	fmt.Printf("%s call: raw %+.2f%%, performance %+.2f%% (%s)\n", side, res.RawPercentChange, res.SignedPerformance, res.Outcome())
}

func parseInstant(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func describe(symbol string, p *market.ResolvedPrice) string {
	line := fmt.Sprintf("%s = %g USD via %s", symbol, p.Price, p.Provider)
	if p.MatchedTimestamp != nil {
		line += " @ " + p.MatchedTimestamp.UTC().Format(time.RFC3339)
	}
	return line
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
