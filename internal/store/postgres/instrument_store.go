package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradefeed/internal/domain"
)

// InstrumentStore implements domain.InstrumentStore using PostgreSQL.
type InstrumentStore struct {
	pool *pgxpool.Pool
}

func NewInstrumentStore(pool *pgxpool.Pool) *InstrumentStore {
	return &InstrumentStore{pool: pool}
}

const instrumentColumns = `id, symbol, name, exchange, active, last_price, created_at, updated_at`

func (s *InstrumentStore) GetBySymbol(ctx context.Context, symbol string) (domain.Instrument, error) {
	query := `SELECT ` + instrumentColumns + ` FROM instruments WHERE symbol = $1`

	var inst domain.Instrument
	err := s.pool.QueryRow(ctx, query, strings.ToUpper(symbol)).Scan(
		&inst.ID, &inst.Symbol, &inst.Name, &inst.Exchange, &inst.Active,
		&inst.LastPrice, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Instrument{}, domain.ErrNotFound
		}
		return domain.Instrument{}, fmt.Errorf("postgres: get instrument %s: %w", symbol, err)
	}
	return inst, nil
}

func (s *InstrumentStore) List(ctx context.Context, activeOnly bool) ([]domain.Instrument, error) {
	query := `SELECT ` + instrumentColumns + ` FROM instruments`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY symbol`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list instruments: %w", err)
	}
	defer rows.Close()

	var out []domain.Instrument
	for rows.Next() {
		var inst domain.Instrument
		if err := rows.Scan(
			&inst.ID, &inst.Symbol, &inst.Name, &inst.Exchange, &inst.Active,
			&inst.LastPrice, &inst.CreatedAt, &inst.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan instrument: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (s *InstrumentStore) Upsert(ctx context.Context, inst domain.Instrument) error {
	const query = `
		INSERT INTO instruments (id, symbol, name, exchange, active, last_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (symbol) DO UPDATE SET
			name       = EXCLUDED.name,
			exchange   = EXCLUDED.exchange,
			active     = EXCLUDED.active,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		inst.ID, strings.ToUpper(inst.Symbol), inst.Name, inst.Exchange, inst.Active, inst.LastPrice,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert instrument %s: %w", inst.Symbol, err)
	}
	return nil
}

func (s *InstrumentStore) TouchPrice(ctx context.Context, symbol string, snap domain.PriceSnapshot) error {
	const query = `
		UPDATE instruments
		SET last_price = $2, updated_at = $3
		WHERE symbol = $1 AND updated_at <= $3`

	_, err := s.pool.Exec(ctx, query, strings.ToUpper(symbol), snap.Price, snap.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: touch price %s: %w", symbol, err)
	}
	return nil
}
