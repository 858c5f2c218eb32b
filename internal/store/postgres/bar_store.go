package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradefeed/internal/domain"
)

// BarStore implements domain.BarStore using PostgreSQL.
type BarStore struct {
	pool *pgxpool.Pool
}

func NewBarStore(pool *pgxpool.Pool) *BarStore {
	return &BarStore{pool: pool}
}

// Upsert writes one daily bar, overwriting any earlier backfill for the
// same (symbol, date).
func (s *BarStore) Upsert(ctx context.Context, bar domain.OHLCBar) error {
	const query = `
		INSERT INTO ohlc_bars (symbol, date, open, high, low, close, adjusted_close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, date) DO UPDATE SET
			open           = EXCLUDED.open,
			high           = EXCLUDED.high,
			low            = EXCLUDED.low,
			close          = EXCLUDED.close,
			adjusted_close = EXCLUDED.adjusted_close,
			volume         = EXCLUDED.volume`

	_, err := s.pool.Exec(ctx, query,
		strings.ToUpper(bar.Symbol), bar.Date, bar.Open, bar.High, bar.Low,
		bar.Close, bar.AdjustedClose, bar.Volume,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert bar %s %s: %w", bar.Symbol, bar.Date.Format("2006-01-02"), err)
	}
	return nil
}

// ListRecent returns up to days bars for the symbol, newest first.
func (s *BarStore) ListRecent(ctx context.Context, symbol string, days int) ([]domain.OHLCBar, error) {
	const query = `
		SELECT symbol, date, open, high, low, close, adjusted_close, volume
		FROM ohlc_bars
		WHERE symbol = $1
		ORDER BY date DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, strings.ToUpper(symbol), days)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bars %s: %w", symbol, err)
	}
	defer rows.Close()
	return scanBars(rows)
}

// ListBefore returns every bar older than the cutoff, for archival.
func (s *BarStore) ListBefore(ctx context.Context, before time.Time) ([]domain.OHLCBar, error) {
	const query = `
		SELECT symbol, date, open, high, low, close, adjusted_close, volume
		FROM ohlc_bars
		WHERE date < $1
		ORDER BY date, symbol`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bars before %s: %w", before.Format("2006-01-02"), err)
	}
	defer rows.Close()
	return scanBars(rows)
}

type barRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanBars(rows barRows) ([]domain.OHLCBar, error) {
	var out []domain.OHLCBar
	for rows.Next() {
		var bar domain.OHLCBar
		if err := rows.Scan(
			&bar.Symbol, &bar.Date, &bar.Open, &bar.High, &bar.Low,
			&bar.Close, &bar.AdjustedClose, &bar.Volume,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan bar: %w", err)
		}
		out = append(out, bar)
	}
	return out, rows.Err()
}
