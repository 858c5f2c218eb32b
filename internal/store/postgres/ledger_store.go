package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradefeed/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL. Apply runs
// inside one transaction so a mutation is never half-visible.
type LedgerStore struct {
	pool *pgxpool.Pool
}

func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

const portfolioColumns = `id, owner, name, cash_balance, invested_amount, total_value,
	total_return, total_return_percent, is_default, active, created_at, updated_at`

func scanPortfolio(row pgx.Row) (domain.Portfolio, error) {
	var p domain.Portfolio
	err := row.Scan(
		&p.ID, &p.Owner, &p.Name, &p.CashBalance, &p.InvestedAmount, &p.TotalValue,
		&p.TotalReturn, &p.TotalReturnPercent, &p.IsDefault, &p.Active, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

func (s *LedgerStore) GetPortfolio(ctx context.Context, id string) (domain.Portfolio, error) {
	query := `SELECT ` + portfolioColumns + ` FROM portfolios WHERE id = $1`
	p, err := scanPortfolio(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Portfolio{}, domain.ErrNotFound
		}
		return domain.Portfolio{}, fmt.Errorf("postgres: get portfolio %s: %w", id, err)
	}
	return p, nil
}

func (s *LedgerStore) GetDefaultPortfolio(ctx context.Context, owner string) (domain.Portfolio, error) {
	query := `SELECT ` + portfolioColumns + ` FROM portfolios WHERE owner = $1 AND is_default`
	p, err := scanPortfolio(s.pool.QueryRow(ctx, query, owner))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Portfolio{}, domain.ErrNotFound
		}
		return domain.Portfolio{}, fmt.Errorf("postgres: get default portfolio %s: %w", owner, err)
	}
	return p, nil
}

func (s *LedgerStore) CreatePortfolio(ctx context.Context, p domain.Portfolio) error {
	const query = `
		INSERT INTO portfolios (` + portfolioColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Owner, p.Name, p.CashBalance, p.InvestedAmount, p.TotalValue,
		p.TotalReturn, p.TotalReturnPercent, p.IsDefault, p.Active, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create portfolio %s: %w", p.ID, err)
	}
	return nil
}

const holdingColumns = `id, portfolio_id, symbol, quantity, average_cost, total_cost,
	current_value, unrealized_gain, unrealized_gain_pct, first_purchase_at, last_transaction_at`

func scanHolding(row pgx.Row) (domain.Holding, error) {
	var h domain.Holding
	err := row.Scan(
		&h.ID, &h.PortfolioID, &h.Symbol, &h.Quantity, &h.AverageCost, &h.TotalCost,
		&h.CurrentValue, &h.UnrealizedGain, &h.UnrealizedGainPercent, &h.FirstPurchaseAt, &h.LastTransactionAt,
	)
	return h, err
}

func (s *LedgerStore) GetHolding(ctx context.Context, portfolioID, symbol string) (domain.Holding, error) {
	query := `SELECT ` + holdingColumns + ` FROM holdings WHERE portfolio_id = $1 AND symbol = $2`
	h, err := scanHolding(s.pool.QueryRow(ctx, query, portfolioID, strings.ToUpper(symbol)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Holding{}, domain.ErrNotFound
		}
		return domain.Holding{}, fmt.Errorf("postgres: get holding %s/%s: %w", portfolioID, symbol, err)
	}
	return h, nil
}

func (s *LedgerStore) ListHoldings(ctx context.Context, portfolioID string) ([]domain.Holding, error) {
	query := `SELECT ` + holdingColumns + ` FROM holdings WHERE portfolio_id = $1 ORDER BY symbol`

	rows, err := s.pool.Query(ctx, query, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list holdings %s: %w", portfolioID, err)
	}
	defer rows.Close()

	var out []domain.Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan holding: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *LedgerStore) ListHeldSymbols(ctx context.Context) ([]string, error) {
	const query = `SELECT DISTINCT symbol FROM holdings ORDER BY symbol`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list held symbols: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("postgres: scan held symbol: %w", err)
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

func (s *LedgerStore) SymbolHeld(ctx context.Context, symbol string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM holdings WHERE symbol = $1)`

	var held bool
	if err := s.pool.QueryRow(ctx, query, strings.ToUpper(symbol)).Scan(&held); err != nil {
		return false, fmt.Errorf("postgres: symbol held %s: %w", symbol, err)
	}
	return held, nil
}

const transactionColumns = `id, portfolio_id, symbol, type, status, quantity, price,
	total_amount, fees, executed_at, notes`

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var tx domain.Transaction
	err := row.Scan(
		&tx.ID, &tx.PortfolioID, &tx.Symbol, &tx.Type, &tx.Status, &tx.Quantity, &tx.Price,
		&tx.TotalAmount, &tx.Fees, &tx.ExecutedAt, &tx.Notes,
	)
	return tx, err
}

func (s *LedgerStore) ListTransactions(ctx context.Context, portfolioID string, opts domain.ListOpts) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE portfolio_id = $1`
	args := []any{portfolioID}

	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND executed_at >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND executed_at < $%d", len(args))
	}
	query += " ORDER BY executed_at DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions %s: %w", portfolioID, err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *LedgerStore) ListTransactionsBefore(ctx context.Context, before time.Time) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE executed_at < $1 ORDER BY executed_at`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions before: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// Apply commits one ledger mutation atomically: portfolio update, holding
// upsert or delete, and the transaction record all land in a single
// database transaction.
func (s *LedgerStore) Apply(ctx context.Context, m domain.LedgerMutation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin apply: %w", err)
	}
	defer tx.Rollback(ctx)

	const updatePortfolio = `
		UPDATE portfolios
		SET cash_balance = $2, invested_amount = $3, total_value = $4,
		    total_return = $5, total_return_percent = $6, updated_at = $7
		WHERE id = $1`
	tag, err := tx.Exec(ctx, updatePortfolio,
		m.Portfolio.ID, m.Portfolio.CashBalance, m.Portfolio.InvestedAmount, m.Portfolio.TotalValue,
		m.Portfolio.TotalReturn, m.Portfolio.TotalReturnPercent, m.Portfolio.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: apply portfolio %s: %w", m.Portfolio.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPortfolioNotFound
	}

	if m.Holding != nil {
		if m.DeleteHolding {
			const deleteHolding = `DELETE FROM holdings WHERE portfolio_id = $1 AND symbol = $2`
			if _, err := tx.Exec(ctx, deleteHolding, m.Portfolio.ID, m.Holding.Symbol); err != nil {
				return fmt.Errorf("postgres: apply delete holding %s: %w", m.Holding.Symbol, err)
			}
		} else {
			const upsertHolding = `
				INSERT INTO holdings (` + holdingColumns + `)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
				ON CONFLICT (portfolio_id, symbol) DO UPDATE SET
					quantity            = EXCLUDED.quantity,
					average_cost        = EXCLUDED.average_cost,
					total_cost          = EXCLUDED.total_cost,
					current_value       = EXCLUDED.current_value,
					unrealized_gain     = EXCLUDED.unrealized_gain,
					unrealized_gain_pct = EXCLUDED.unrealized_gain_pct,
					last_transaction_at = EXCLUDED.last_transaction_at`
			h := m.Holding
			if _, err := tx.Exec(ctx, upsertHolding,
				h.ID, h.PortfolioID, h.Symbol, h.Quantity, h.AverageCost, h.TotalCost,
				h.CurrentValue, h.UnrealizedGain, h.UnrealizedGainPercent, h.FirstPurchaseAt, h.LastTransactionAt,
			); err != nil {
				return fmt.Errorf("postgres: apply upsert holding %s: %w", h.Symbol, err)
			}
		}
	}

	const insertTx = `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	t := m.Transaction
	if _, err := tx.Exec(ctx, insertTx,
		t.ID, t.PortfolioID, t.Symbol, string(t.Type), string(t.Status), t.Quantity, t.Price,
		t.TotalAmount, t.Fees, t.ExecutedAt, t.Notes,
	); err != nil {
		return fmt.Errorf("postgres: apply transaction %s: %w", t.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit apply: %w", err)
	}
	return nil
}
