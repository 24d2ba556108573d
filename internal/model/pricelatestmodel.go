package model

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

var _ PriceLatestModel = (*defaultPriceLatestModel)(nil)

const priceLatestRows = "provider, symbol, price, ts_ms, updated_at"

type (
	// PriceLatestModel reads and writes public.price_latest, one row per
	// (provider, symbol).
	PriceLatestModel interface {
		Upsert(ctx context.Context, data *PriceLatest) error
		FindOne(ctx context.Context, provider, symbol string) (*PriceLatest, error)
		// FindLatest returns the newest row for symbol across providers.
		FindLatest(ctx context.Context, symbol string) (*PriceLatest, error)
	}

	defaultPriceLatestModel struct {
		conn  sqlx.SqlConn
		table string
	}

	PriceLatest struct {
		Provider  string    `db:"provider"`
		Symbol    string    `db:"symbol"`
		Price     float64   `db:"price"`
		TsMs      int64     `db:"ts_ms"`
		UpdatedAt time.Time `db:"updated_at"`
	}
)

// NewPriceLatestModel returns a model for the database table.
func NewPriceLatestModel(conn sqlx.SqlConn) PriceLatestModel {
	return &defaultPriceLatestModel{
		conn:  conn,
		table: `"public"."price_latest"`,
	}
}

func (m *defaultPriceLatestModel) Upsert(ctx context.Context, data *PriceLatest) error {
	if data == nil || strings.TrimSpace(data.Symbol) == "" {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (provider, symbol, price, ts_ms, created_at, updated_at)
VALUES ($1, $2, $3, $4, NOW(), NOW())
ON CONFLICT (provider, symbol) DO UPDATE SET
    price = EXCLUDED.price,
    ts_ms = EXCLUDED.ts_ms,
    updated_at = NOW()
WHERE %s.ts_ms <= EXCLUDED.ts_ms;`, m.table, m.table)
	_, err := m.conn.ExecCtx(ctx, query, data.Provider, data.Symbol, data.Price, data.TsMs)
	return err
}

func (m *defaultPriceLatestModel) FindOne(ctx context.Context, provider, symbol string) (*PriceLatest, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE provider = $1 AND symbol = $2 LIMIT 1", priceLatestRows, m.table)
	var resp PriceLatest
	if err := m.conn.QueryRowCtx(ctx, &resp, query, provider, symbol); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (m *defaultPriceLatestModel) FindLatest(ctx context.Context, symbol string) (*PriceLatest, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE symbol = $1 ORDER BY ts_ms DESC LIMIT 1", priceLatestRows, m.table)
	var resp PriceLatest
	if err := m.conn.QueryRowCtx(ctx, &resp, query, symbol); err != nil {
		return nil, err
	}
	return &resp, nil
}
