package symbols

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"callscore-api/pkg/market"
)

//go:embed defaults.yaml
var defaultTables []byte

// LaunchRecord is the first traded price of an asset. Queries before Date
// answer with Price without touching any provider.
type LaunchRecord struct {
	Symbol string    `yaml:"symbol"`
	Date   time.Time `yaml:"date"`
	Price  float64   `yaml:"price"`
}

// File is the on-disk shape of a symbol table.
type File struct {
	Aliases     map[string]string             `yaml:"aliases"`
	AlwaysStock []string                      `yaml:"always_stock"`
	KnownStock  []string                      `yaml:"known_stock"`
	Yahoo       map[string]string             `yaml:"yahoo"`
	CoinGecko   map[string]string             `yaml:"coingecko"`
	Contracts   map[string]market.ContractRef `yaml:"contracts"`
	Launches    []LaunchRecord                `yaml:"launches"`
}

// Table holds immutable alias, classification and launch data. Build it with
// New, Default or Load; the zero value is an empty table.
type Table struct {
	aliases     map[string]string
	alwaysStock map[string]struct{}
	knownStock  map[string]struct{}
	yahoo       map[string]string
	coingecko   map[string]string
	contracts   map[string]market.ContractRef
	launches    map[string]LaunchRecord
}

var _ market.AliasLookup = (*Table)(nil)

// New builds a Table from one or more files; later files override earlier ones.
func New(files ...File) *Table {
	t := &Table{
		aliases:     make(map[string]string),
		alwaysStock: make(map[string]struct{}),
		knownStock:  make(map[string]struct{}),
		yahoo:       make(map[string]string),
		coingecko:   make(map[string]string),
		contracts:   make(map[string]market.ContractRef),
		launches:    make(map[string]LaunchRecord),
	}
	for _, f := range files {
		t.merge(f)
	}
	return t
}

// Default returns the built-in tables.
func Default() *Table {
	f, err := parse(defaultTables)
	if err != nil {
		panic(fmt.Sprintf("symbols: embedded defaults: %v", err))
	}
	return New(f)
}

// Load reads path and merges it over the built-in tables. An empty path
// returns Default().
func Load(path string) (*Table, error) {
	base, err := parse(defaultTables)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(path) == "" {
		return New(base), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read symbols file: %w", err)
	}
	overlay, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("symbols file %s: %w", path, err)
	}
	return New(base, overlay), nil
}

func parse(data []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("unmarshal symbols: %w", err)
	}
	for _, l := range f.Launches {
		if strings.TrimSpace(l.Symbol) == "" || l.Date.IsZero() || l.Price <= 0 {
			return File{}, fmt.Errorf("symbols: invalid launch record %+v", l)
		}
	}
	return f, nil
}

func (t *Table) merge(f File) {
	for k, v := range f.Aliases {
		t.aliases[key(k)] = key(v)
	}
	for _, s := range f.AlwaysStock {
		t.alwaysStock[key(s)] = struct{}{}
	}
	for _, s := range f.KnownStock {
		t.knownStock[key(s)] = struct{}{}
	}
	for k, v := range f.Yahoo {
		t.yahoo[key(k)] = strings.TrimSpace(v)
	}
	for k, v := range f.CoinGecko {
		t.coingecko[key(k)] = strings.TrimSpace(v)
	}
	for k, v := range f.Contracts {
		v.ChainID = strings.ToLower(strings.TrimSpace(v.ChainID))
		v.Address = strings.TrimSpace(v.Address)
		t.contracts[key(k)] = v
	}
	for _, l := range f.Launches {
		l.Symbol = key(l.Symbol)
		t.launches[l.Symbol] = l
	}
}

func key(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// YahooTicker returns an explicit Yahoo Finance ticker for symbol.
func (t *Table) YahooTicker(symbol string) (string, bool) {
	v, ok := t.yahoo[key(symbol)]
	return v, ok
}

// CoinGeckoID returns the CoinGecko coin id for symbol.
func (t *Table) CoinGeckoID(symbol string) (string, bool) {
	v, ok := t.coingecko[key(symbol)]
	return v, ok
}

// Contract returns the known chain and contract address for symbol.
func (t *Table) Contract(symbol string) (market.ContractRef, bool) {
	v, ok := t.contracts[key(symbol)]
	return v, ok
}

// Launch returns the launch record for symbol.
func (t *Table) Launch(symbol string) (LaunchRecord, bool) {
	v, ok := t.launches[key(symbol)]
	return v, ok
}

// PreLaunch reports the launch record when at lies strictly before the
// symbol's launch date.
func (t *Table) PreLaunch(symbol string, at *time.Time) (LaunchRecord, bool) {
	if at == nil {
		return LaunchRecord{}, false
	}
	rec, ok := t.Launch(symbol)
	if !ok || !at.Before(rec.Date) {
		return LaunchRecord{}, false
	}
	return rec, true
}
