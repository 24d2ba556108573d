package config

import (
	"callscore-api/pkg/confkit"
	"callscore-api/pkg/market"
)

// DefaultPath is the application config location relative to the project root.
const DefaultPath = "etc/callscore.yaml"

// MustLoadDefault loads etc/callscore.yaml from the project root and panics on error.
func MustLoadDefault() *Config {
	return MustLoad(confkit.MustProjectPath(DefaultPath))
}

// MustLoadMarket loads etc/market.yaml alone, for callers that only need the
// provider chains.
func MustLoadMarket() *market.Config {
	return market.MustLoad()
}
