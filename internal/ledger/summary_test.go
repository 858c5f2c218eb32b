package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradefeed/internal/domain"
)

func TestGetPortfolioSummary(t *testing.T) {
	ctx := context.Background()
	quotes := stubQuotes{
		"AAPL": quote("AAPL", "160.00"),
		"MSFT": quote("MSFT", "410.00"),
	}
	e, _, p := newTestEngine(t, quotes, "AAPL", "MSFT")

	_, err := e.Buy(ctx, p.ID, "AAPL", dec("10"), dec("150.00"), decimal.Zero)
	require.NoError(t, err)
	_, err = e.Buy(ctx, p.ID, "MSFT", dec("2"), dec("400.00"), decimal.Zero)
	require.NoError(t, err)

	s, err := e.GetPortfolioSummary(ctx, p.ID)
	require.NoError(t, err)

	assert.Equal(t, p.ID, s.PortfolioID)
	assert.Equal(t, "alice", s.Owner)
	require.Len(t, s.Holdings, 2)
	assert.Equal(t, "AAPL", s.Holdings[0].Symbol, "holdings sorted by symbol")
	assert.Equal(t, "MSFT", s.Holdings[1].Symbol)

	assert.True(t, s.CashBalance.Equal(dec("7700.00")), "got %s", s.CashBalance)
	assert.True(t, s.InvestedAmount.Equal(dec("2300.00")))
	// 10*160 + 2*410
	assert.True(t, s.HoldingsValue.Equal(dec("2420.00")), "got %s", s.HoldingsValue)
	assert.True(t, s.TotalValue.Equal(dec("10120.00")))
	assert.True(t, s.TotalReturn.Equal(dec("120.00")))

	aapl := s.Holdings[0]
	assert.True(t, aapl.CurrentPrice.Equal(dec("160.00")))
	assert.True(t, aapl.UnrealizedGain.Equal(dec("100.00")))
	assert.Equal(t, domain.SourceFeed, aapl.PriceSource)
}

func TestGetPortfolioSummaryUnknownPortfolio(t *testing.T) {
	e, _, _ := newTestEngine(t, stubQuotes{})

	_, err := e.GetPortfolioSummary(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrPortfolioNotFound)
}

func TestGetHoldingDetail(t *testing.T) {
	ctx := context.Background()
	quotes := stubQuotes{"AAPL": quote("AAPL", "155.00")}
	e, _, p := newTestEngine(t, quotes, "AAPL")

	_, err := e.Buy(ctx, p.ID, "AAPL", dec("4"), dec("150.00"), decimal.Zero)
	require.NoError(t, err)

	v, err := e.GetHoldingDetail(ctx, p.ID, "aapl")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", v.Symbol)
	assert.True(t, v.Quantity.Equal(dec("4")))
	assert.True(t, v.CurrentValue.Equal(dec("620.00")))
	assert.True(t, v.UnrealizedGain.Equal(dec("20.00")))

	_, err = e.GetHoldingDetail(ctx, p.ID, "MSFT")
	assert.ErrorIs(t, err, domain.ErrInstrumentNotFound)
}

func TestGetTransactionHistory(t *testing.T) {
	ctx := context.Background()
	quotes := stubQuotes{"AAPL": quote("AAPL", "150.00")}
	e, _, p := newTestEngine(t, quotes, "AAPL")

	_, err := e.Buy(ctx, p.ID, "AAPL", dec("1"), dec("150.00"), decimal.Zero)
	require.NoError(t, err)
	_, err = e.Deposit(ctx, p.ID, dec("100.00"))
	require.NoError(t, err)

	txs, err := e.GetTransactionHistory(ctx, p.ID, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, txs, 2)

	_, err = e.GetTransactionHistory(ctx, "nope", domain.ListOpts{})
	assert.ErrorIs(t, err, domain.ErrPortfolioNotFound)
}
