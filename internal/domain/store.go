package domain

import (
	"context"
	"time"
)

// ListOpts carries pagination and time-range options for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// InstrumentStore persists instrument metadata.
type InstrumentStore interface {
	GetBySymbol(ctx context.Context, symbol string) (Instrument, error)
	List(ctx context.Context, activeOnly bool) ([]Instrument, error)
	Upsert(ctx context.Context, inst Instrument) error
	// TouchPrice records the last known price on the instrument row so the
	// ledger has a fallback when no snapshot exists for the symbol.
	TouchPrice(ctx context.Context, symbol string, snap PriceSnapshot) error
}

// BarStore persists daily OHLC history.
type BarStore interface {
	// Upsert inserts the bar or overwrites an existing bar for the same
	// (symbol, date).
	Upsert(ctx context.Context, bar OHLCBar) error
	ListRecent(ctx context.Context, symbol string, days int) ([]OHLCBar, error)
	ListBefore(ctx context.Context, before time.Time) ([]OHLCBar, error)
}

// LedgerStore persists portfolios, holdings, and the transaction audit
// trail. Apply must be atomic: either every part of the mutation becomes
// visible or none of it does.
type LedgerStore interface {
	GetPortfolio(ctx context.Context, id string) (Portfolio, error)
	// GetDefaultPortfolio returns the owner's default portfolio, or
	// ErrNotFound when the owner has none yet.
	GetDefaultPortfolio(ctx context.Context, owner string) (Portfolio, error)
	CreatePortfolio(ctx context.Context, p Portfolio) error

	GetHolding(ctx context.Context, portfolioID, symbol string) (Holding, error)
	ListHoldings(ctx context.Context, portfolioID string) ([]Holding, error)
	// ListHeldSymbols returns the distinct symbols held across all
	// portfolios; the union with the default watch list drives feed
	// subscriptions.
	ListHeldSymbols(ctx context.Context) ([]string, error)
	// SymbolHeld reports whether any portfolio still holds the symbol.
	SymbolHeld(ctx context.Context, symbol string) (bool, error)

	ListTransactions(ctx context.Context, portfolioID string, opts ListOpts) ([]Transaction, error)
	ListTransactionsBefore(ctx context.Context, before time.Time) ([]Transaction, error)

	Apply(ctx context.Context, m LedgerMutation) error
}
