package symbols

import (
	"strings"

	"callscore-api/pkg/market"
)

// Pair suffixes are tried longest first so BTCUSDT loses USDT, not USD.
var pairSuffixes = []string{"USDT", "PERP", "USD"}

// Normalize maps a raw ticker spelling to its canonical uppercase base symbol.
// Rules repeat until nothing changes, so Normalize(Normalize(x)) == Normalize(x)
// as long as the alias table has no cycles.
func (t *Table) Normalize(raw string) string {
	s := key(raw)
	seen := map[string]struct{}{s: {}}
	for {
		next := t.normalizeOnce(s)
		if next == s {
			return s
		}
		if _, loop := seen[next]; loop {
			return next
		}
		seen[next] = struct{}{}
		s = next
	}
}

func (t *Table) normalizeOnce(s string) string {
	s = strings.TrimSpace(strings.TrimLeft(s, "$"))
	if s == "" {
		return s
	}
	if alias, ok := t.aliases[s]; ok {
		return alias
	}
	if futures, ok := futuresTicker(s); ok {
		return futures
	}
	for _, suffix := range pairSuffixes {
		rest, found := strings.CutSuffix(s, suffix)
		if !found {
			continue
		}
		rest = strings.TrimRight(rest, "-/_")
		if rest == "" {
			return s
		}
		return rest
	}
	return s
}

// futuresTicker rewrites CL_F and CL1! spellings as Yahoo's CL=F.
func futuresTicker(s string) (string, bool) {
	for _, suffix := range []string{"_F", "1!"} {
		if root, ok := strings.CutSuffix(s, suffix); ok && root != "" {
			return root + "=F", true
		}
	}
	return "", false
}

// Classify decides which chain a normalized symbol belongs to. The
// always-stock set overrides the caller; otherwise the caller's class wins;
// otherwise known stocks are STOCK and everything else CRYPTO.
func (t *Table) Classify(symbol string, hint market.AssetClass) market.AssetClass {
	s := key(symbol)
	if t.isAlwaysStock(s) {
		return market.AssetClassStock
	}
	if hint == market.AssetClassCrypto || hint == market.AssetClassStock {
		return hint
	}
	if _, ok := t.knownStock[s]; ok {
		return market.AssetClassStock
	}
	return market.AssetClassCrypto
}

func (t *Table) isAlwaysStock(s string) bool {
	if _, ok := t.alwaysStock[s]; ok {
		return true
	}
	return strings.HasSuffix(s, "=F") || strings.HasPrefix(s, "^")
}
