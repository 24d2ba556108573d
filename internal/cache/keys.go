package cache

import (
	"strings"
	"time"

	"callscore-api/internal/config"
)

// Namespace is the Redis key prefix for the callscore application.
const Namespace = "callscore"

// TTLClass represents a config-driven TTL bucket.
type TTLClass string

const (
	TTLShort  TTLClass = "short"
	TTLMedium TTLClass = "medium"
	TTLLong   TTLClass = "long"
)

// TTLSet normalises cache TTLs from config into time.Duration values.
type TTLSet struct {
	Short  time.Duration
	Medium time.Duration
	Long   time.Duration
}

// NewTTLSet converts config TTLs (in seconds) into durations. Negative
// values disable the class.
func NewTTLSet(cfg config.CacheTTL) TTLSet {
	return TTLSet{
		Short:  durationOrDefault(cfg.Short, 30*time.Second),
		Medium: durationOrDefault(cfg.Medium, 10*time.Minute),
		Long:   durationOrDefault(cfg.Long, 7*24*time.Hour),
	}
}

func durationOrDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds < 0 {
		return 0
	}
	if seconds == 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// Duration returns the configured duration for the given TTL class.
func (t TTLSet) Duration(class TTLClass) time.Duration {
	switch class {
	case TTLShort:
		return t.Short
	case TTLMedium:
		return t.Medium
	case TTLLong:
		return t.Long
	default:
		return 0
	}
}

func formatKey(parts ...string) string {
	values := make([]string, 0, len(parts)+1)
	values = append(values, Namespace)
	for _, part := range parts {
		clean := strings.TrimSpace(part)
		if clean == "" {
			continue
		}
		values = append(values, clean)
	}
	return strings.Join(values, ":")
}

// PriceLatestKey holds the newest observation for a symbol or contract key,
// whichever provider produced it.
func PriceLatestKey(key string) string {
	return formatKey("price", "latest", key)
}

// PriceLatestByProviderKey scopes the newest observation by provider.
func PriceLatestByProviderKey(provider, key string) string {
	return formatKey("price", "latest", provider, key)
}

// RefreshLockKey guards one refresh cycle across replicas.
func RefreshLockKey() string {
	return formatKey("lock", "refresh")
}

// PriceTTL bounds provider-scoped observations.
func PriceTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLMedium)
}

// ObservationTTL bounds the last-observed fallback entry.
func ObservationTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLLong)
}

// RefreshLockTTL bounds how long one replica holds the refresh lock.
func RefreshLockTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLShort)
}
