package cli

import (
	"fmt"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"callscore-api/internal/config"
	"callscore-api/pkg/confkit"
	"callscore-api/pkg/market"
)

// ConfigSummaryLines returns human readable lines describing the loaded app config.
func ConfigSummaryLines(cfg *config.Config) []string {
	if cfg == nil {
		return []string{"Configuration: <nil>"}
	}

	lines := []string{
		fmt.Sprintf("Environment: %s", cfg.Env),
		fmt.Sprintf("Postgres: %s", presence(cfg.Postgres.DSN != "")),
		fmt.Sprintf("Redis: %s", presence(cfg.HasRedis())),
		fmt.Sprintf("TTL (short/medium/long): %ds / %ds / %ds", cfg.TTL.Short, cfg.TTL.Medium, cfg.TTL.Long),
		fmt.Sprintf("Refresh: every %s, %d symbols, %d addresses", cfg.Refresh.Interval, len(cfg.Refresh.Symbols), len(cfg.Refresh.Addresses)),
		sectionLine("Market config", cfg.Market),
	}
	if m := cfg.Market.Value; m != nil {
		lines = append(lines,
			fmt.Sprintf("Crypto chain: %s", strings.Join(m.Chains.Crypto, " > ")),
			fmt.Sprintf("Stock chain: %s", strings.Join(m.Chains.Stock, " > ")),
			fmt.Sprintf("Match delta: %s", matchLine(m.Match)),
		)
	}
	return lines
}

// LogConfigSummary emits the configuration summary using logx.
func LogConfigSummary(cfg *config.Config) {
	lines := ConfigSummaryLines(cfg)
	if len(lines) == 0 {
		return
	}
	logx.Info("configuration summary")
	for _, line := range lines {
		logx.Infof("config • %s", line)
	}
}

func presence(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}

func matchLine(p market.MatchPolicy) string {
	switch {
	case p.Permissive:
		return "unbounded"
	case p.MaxDelta > 0:
		return p.MaxDelta.String()
	default:
		return "plan tolerance"
	}
}

func sectionLine[T any](name string, section confkit.Section[T]) string {
	switch {
	case strings.TrimSpace(section.File) != "":
		return fmt.Sprintf("%s: %s", name, section.File)
	case section.Value != nil:
		return fmt.Sprintf("%s: inline", name)
	default:
		return fmt.Sprintf("%s: not configured", name)
	}
}
