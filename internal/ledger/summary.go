package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradefeed/internal/domain"
)

// HoldingView is one holding valued at the current quote.
type HoldingView struct {
	Symbol                string
	Quantity              decimal.Decimal
	AverageCost           decimal.Decimal
	TotalCost             decimal.Decimal
	CurrentPrice          decimal.Decimal
	CurrentValue          decimal.Decimal
	UnrealizedGain        decimal.Decimal
	UnrealizedGainPercent decimal.Decimal
	PriceAsOf             time.Time
	PriceSource           domain.SnapshotSource
}

// PortfolioSummary is a full valuation of one portfolio. Every holding is
// priced from the same quote pass so the totals are internally consistent.
type PortfolioSummary struct {
	PortfolioID        string
	Owner              string
	Name               string
	CashBalance        decimal.Decimal
	InvestedAmount     decimal.Decimal
	HoldingsValue      decimal.Decimal
	TotalValue         decimal.Decimal
	TotalReturn        decimal.Decimal
	TotalReturnPercent decimal.Decimal
	Holdings           []HoldingView
	AsOf               time.Time
}

// GetPortfolioSummary values the portfolio against current quotes.
func (e *Engine) GetPortfolioSummary(ctx context.Context, portfolioID string) (PortfolioSummary, error) {
	p, err := e.getPortfolio(ctx, portfolioID)
	if err != nil {
		return PortfolioSummary{}, err
	}
	holdings, err := e.store.ListHoldings(ctx, portfolioID)
	if err != nil {
		return PortfolioSummary{}, fmt.Errorf("ledger: list holdings: %w", err)
	}

	quotes := e.allQuotes()
	views := make([]HoldingView, 0, len(holdings))
	invested := decimal.Zero
	current := decimal.Zero
	for _, h := range holdings {
		v := holdingView(h, quotes)
		invested = invested.Add(v.TotalCost)
		current = current.Add(v.CurrentValue)
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Symbol < views[j].Symbol })

	invested = invested.Round(2)
	current = current.Round(2)
	s := PortfolioSummary{
		PortfolioID:    p.ID,
		Owner:          p.Owner,
		Name:           p.Name,
		CashBalance:    p.CashBalance,
		InvestedAmount: invested,
		HoldingsValue:  current,
		TotalValue:     current.Add(p.CashBalance),
		TotalReturn:    current.Sub(invested),
		Holdings:       views,
		AsOf:           time.Now().UTC(),
	}
	if invested.Sign() > 0 {
		s.TotalReturnPercent = s.TotalReturn.Div(invested).Mul(oneHundred).Round(4)
	}
	return s, nil
}

// GetHoldingDetail values a single holding against the current quote.
func (e *Engine) GetHoldingDetail(ctx context.Context, portfolioID, symbol string) (HoldingView, error) {
	inst, err := e.getInstrument(ctx, symbol)
	if err != nil {
		return HoldingView{}, err
	}
	h, err := e.store.GetHolding(ctx, portfolioID, inst.Symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return HoldingView{}, fmt.Errorf("ledger: holding %s: %w", inst.Symbol, domain.ErrNoHolding)
		}
		return HoldingView{}, fmt.Errorf("ledger: get holding %s: %w", inst.Symbol, err)
	}
	return holdingView(h, e.allQuotes()), nil
}

// GetTransactionHistory lists the portfolio's transactions newest first.
func (e *Engine) GetTransactionHistory(ctx context.Context, portfolioID string, opts domain.ListOpts) ([]domain.Transaction, error) {
	if _, err := e.getPortfolio(ctx, portfolioID); err != nil {
		return nil, err
	}
	txs, err := e.store.ListTransactions(ctx, portfolioID, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger: list transactions: %w", err)
	}
	return txs, nil
}

func holdingView(h domain.Holding, quotes map[string]domain.PriceSnapshot) HoldingView {
	v := HoldingView{
		Symbol:       h.Symbol,
		Quantity:     h.Quantity,
		AverageCost:  h.AverageCost,
		TotalCost:    h.TotalCost,
		CurrentPrice: h.AverageCost,
	}
	if snap, ok := quotes[h.Symbol]; ok && snap.Price.Sign() > 0 {
		v.CurrentPrice = snap.Price
		v.PriceAsOf = snap.UpdatedAt
		v.PriceSource = snap.Source
	}
	v.CurrentValue = v.CurrentPrice.Mul(h.Quantity).Round(2)
	v.UnrealizedGain = v.CurrentValue.Sub(h.TotalCost).Round(2)
	if h.TotalCost.Sign() > 0 {
		v.UnrealizedGainPercent = v.UnrealizedGain.Div(h.TotalCost).Mul(oneHundred).Round(4)
	}
	return v
}
