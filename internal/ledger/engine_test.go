package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradefeed/internal/domain"
)

func newTestEngine(t *testing.T, quotes Quotes, symbols ...string) (*Engine, *memLedgerStore, domain.Portfolio) {
	t.Helper()
	store := newMemLedgerStore()
	instruments := newMemInstrumentStore(symbols...)
	e := NewEngine(Config{}, store, instruments, quotes, nil, nil, testLogger())

	p, err := e.DefaultPortfolio(context.Background(), "alice")
	require.NoError(t, err)
	return e, store, p
}

func TestDefaultPortfolioCreatedLazily(t *testing.T) {
	e, _, p := newTestEngine(t, stubQuotes{})

	assert.Equal(t, "alice", p.Owner)
	assert.True(t, p.IsDefault)
	assert.True(t, p.CashBalance.Equal(dec("10000.00")), "starting cash seeded")

	again, err := e.DefaultPortfolio(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID, "second call returns the same portfolio")
}

func TestBuySellLifecycle(t *testing.T) {
	ctx := context.Background()
	quotes := stubQuotes{"AAPL": quote("AAPL", "150.00")}
	e, store, p := newTestEngine(t, quotes, "AAPL")

	// Buy 10 AAPL at 150.00 with a 0.99 fee.
	res, err := e.Buy(ctx, p.ID, "AAPL", dec("10"), dec("150.00"), dec("0.99"))
	require.NoError(t, err)
	assert.True(t, res.CashBalance.Equal(dec("8499.01")), "cash after first buy, got %s", res.CashBalance)
	assert.True(t, res.AverageCost.Equal(dec("150.00")))
	assert.True(t, res.NewQuantity.Equal(dec("10")))

	// Buy 5 more at 160.00; average cost re-weights to 153.33.
	res, err = e.Buy(ctx, p.ID, "AAPL", dec("5"), dec("160.00"), decimal.Zero)
	require.NoError(t, err)
	assert.True(t, res.AverageCost.Equal(dec("153.33")), "weighted average cost, got %s", res.AverageCost)
	assert.True(t, res.NewQuantity.Equal(dec("15")))
	assert.True(t, res.CashBalance.Equal(dec("7699.01")))

	h, err := store.GetHolding(ctx, p.ID, "AAPL")
	require.NoError(t, err)
	assert.True(t, h.TotalCost.Equal(dec("2300")), "cost basis excludes fees, got %s", h.TotalCost)

	// Sell everything at 160.00 with a 0.99 fee.
	res, err = e.Sell(ctx, p.ID, "AAPL", dec("15"), dec("160.00"), dec("0.99"))
	require.NoError(t, err)
	assert.True(t, res.CashBalance.Equal(dec("10098.02")), "cash after liquidation, got %s", res.CashBalance)
	assert.True(t, res.RealizedGain.Equal(dec("100.05")), "realized gain vs average cost, got %s", res.RealizedGain)
	assert.True(t, res.NewQuantity.IsZero())

	_, err = store.GetHolding(ctx, p.ID, "AAPL")
	assert.ErrorIs(t, err, domain.ErrNotFound, "holding removed on full liquidation")

	assert.Equal(t, 3, store.txCount())
}

func TestBuyResolvesPriceFromQuote(t *testing.T) {
	ctx := context.Background()
	quotes := stubQuotes{"AAPL": quote("AAPL", "182.55")}
	e, _, p := newTestEngine(t, quotes, "AAPL")

	res, err := e.Buy(ctx, p.ID, "aapl", dec("2"), decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	assert.True(t, res.Price.Equal(dec("182.55")), "zero request price executes at quote")
	assert.Equal(t, "AAPL", res.Symbol)
}

func TestBuyFallsBackToInstrumentLastPrice(t *testing.T) {
	ctx := context.Background()
	store := newMemLedgerStore()
	instruments := newMemInstrumentStore()
	require.NoError(t, instruments.Upsert(ctx, domain.Instrument{
		Symbol: "AAPL", Active: true, LastPrice: dec("175.00"),
	}))
	e := NewEngine(Config{}, store, instruments, stubQuotes{}, nil, nil, testLogger())
	p, err := e.DefaultPortfolio(ctx, "alice")
	require.NoError(t, err)

	res, err := e.Buy(ctx, p.ID, "AAPL", dec("1"), decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	assert.True(t, res.Price.Equal(dec("175.00")))
}

func TestBuyNoPriceAvailable(t *testing.T) {
	ctx := context.Background()
	e, _, p := newTestEngine(t, stubQuotes{}, "AAPL")

	_, err := e.Buy(ctx, p.ID, "AAPL", dec("1"), decimal.Zero, decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestBuyValidation(t *testing.T) {
	ctx := context.Background()
	quotes := stubQuotes{"AAPL": quote("AAPL", "150.00")}
	e, store, p := newTestEngine(t, quotes, "AAPL")

	tests := []struct {
		name     string
		symbol   string
		quantity decimal.Decimal
		price    decimal.Decimal
		fees     decimal.Decimal
		wantErr  error
	}{
		{"zero quantity", "AAPL", decimal.Zero, dec("150"), decimal.Zero, domain.ErrInvalidQuantity},
		{"negative quantity", "AAPL", dec("-1"), dec("150"), decimal.Zero, domain.ErrInvalidQuantity},
		{"negative price", "AAPL", dec("1"), dec("-5"), decimal.Zero, domain.ErrInvalidPrice},
		{"negative fees", "AAPL", dec("1"), dec("150"), dec("-1"), domain.ErrInvalidAmount},
		{"unknown instrument", "NOPE", dec("1"), dec("150"), decimal.Zero, domain.ErrInstrumentNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Buy(ctx, p.ID, tt.symbol, tt.quantity, tt.price, tt.fees)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Equal(t, 0, store.txCount(), "rejected orders leave no trace")
}

func TestBuyInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	quotes := stubQuotes{"AAPL": quote("AAPL", "150.00")}
	e, store, p := newTestEngine(t, quotes, "AAPL")

	_, err := e.Buy(ctx, p.ID, "AAPL", dec("1000"), dec("150.00"), decimal.Zero)
	var ife *domain.InsufficientFundsError
	require.ErrorAs(t, err, &ife)
	assert.True(t, ife.Required.Equal(dec("150000")))
	assert.True(t, ife.Available.Equal(dec("10000.00")))

	// Nothing changed.
	got, err := store.GetPortfolio(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.CashBalance.Equal(dec("10000.00")))
	assert.Equal(t, 0, store.txCount())
}

func TestSellInsufficientShares(t *testing.T) {
	ctx := context.Background()
	quotes := stubQuotes{"AAPL": quote("AAPL", "150.00")}
	e, _, p := newTestEngine(t, quotes, "AAPL")

	_, err := e.Buy(ctx, p.ID, "AAPL", dec("5"), dec("150.00"), decimal.Zero)
	require.NoError(t, err)

	_, err = e.Sell(ctx, p.ID, "AAPL", dec("10"), dec("150.00"), decimal.Zero)
	var ise *domain.InsufficientSharesError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, "AAPL", ise.Symbol)
	assert.True(t, ise.Requested.Equal(dec("10")))
	assert.True(t, ise.Available.Equal(dec("5")))
}

func TestSellWithoutHolding(t *testing.T) {
	ctx := context.Background()
	quotes := stubQuotes{"AAPL": quote("AAPL", "150.00")}
	e, _, p := newTestEngine(t, quotes, "AAPL")

	_, err := e.Sell(ctx, p.ID, "AAPL", dec("1"), dec("150.00"), decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrNoHolding)
}

func TestPartialSellKeepsAverageCost(t *testing.T) {
	ctx := context.Background()
	quotes := stubQuotes{"AAPL": quote("AAPL", "150.00")}
	e, store, p := newTestEngine(t, quotes, "AAPL")

	_, err := e.Buy(ctx, p.ID, "AAPL", dec("10"), dec("150.00"), decimal.Zero)
	require.NoError(t, err)

	res, err := e.Sell(ctx, p.ID, "AAPL", dec("4"), dec("160.00"), decimal.Zero)
	require.NoError(t, err)
	assert.True(t, res.NewQuantity.Equal(dec("6")))
	assert.True(t, res.AverageCost.Equal(dec("150.00")), "selling never moves average cost")
	assert.True(t, res.RealizedGain.Equal(dec("40.00")))

	h, err := store.GetHolding(ctx, p.ID, "AAPL")
	require.NoError(t, err)
	assert.True(t, h.TotalCost.Equal(dec("900.00")), "basis shrinks pro rata, got %s", h.TotalCost)
}

func TestCashConservationWithZeroFees(t *testing.T) {
	ctx := context.Background()
	quotes := stubQuotes{
		"AAPL": quote("AAPL", "150.00"),
		"MSFT": quote("MSFT", "400.00"),
	}
	e, store, p := newTestEngine(t, quotes, "AAPL", "MSFT")

	_, err := e.Buy(ctx, p.ID, "AAPL", dec("10"), dec("150.00"), decimal.Zero)
	require.NoError(t, err)
	_, err = e.Buy(ctx, p.ID, "MSFT", dec("5"), dec("400.00"), decimal.Zero)
	require.NoError(t, err)
	_, err = e.Sell(ctx, p.ID, "AAPL", dec("3"), dec("150.00"), decimal.Zero)
	require.NoError(t, err)

	got, err := store.GetPortfolio(ctx, p.ID)
	require.NoError(t, err)
	holdings, err := store.ListHoldings(ctx, p.ID)
	require.NoError(t, err)

	basis := decimal.Zero
	for _, h := range holdings {
		basis = basis.Add(h.TotalCost)
	}
	// With zero fees and flat prices, cash plus cost basis is invariant.
	assert.True(t, got.CashBalance.Add(basis).Equal(dec("10000.00")),
		"cash %s + basis %s", got.CashBalance, basis)
}

func TestDepositAndWithdraw(t *testing.T) {
	ctx := context.Background()
	e, store, p := newTestEngine(t, stubQuotes{})

	res, err := e.Deposit(ctx, p.ID, dec("500.00"))
	require.NoError(t, err)
	assert.True(t, res.CashBalance.Equal(dec("10500.00")))

	res, err = e.Withdraw(ctx, p.ID, dec("300.00"))
	require.NoError(t, err)
	assert.True(t, res.CashBalance.Equal(dec("10200.00")))

	_, err = e.Withdraw(ctx, p.ID, dec("99999.00"))
	var ife *domain.InsufficientFundsError
	assert.ErrorAs(t, err, &ife)

	_, err = e.Deposit(ctx, p.ID, decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	assert.Equal(t, 2, store.txCount())
}

func TestApplyFailureLeavesNoPartialState(t *testing.T) {
	ctx := context.Background()
	quotes := stubQuotes{"AAPL": quote("AAPL", "150.00")}
	store := newMemLedgerStore()
	instruments := newMemInstrumentStore("AAPL")
	e := NewEngine(Config{}, store, instruments, quotes, nil, nil, testLogger())
	p, err := e.DefaultPortfolio(ctx, "alice")
	require.NoError(t, err)

	store.applyErr = errors.New("connection reset")
	_, err = e.Buy(ctx, p.ID, "AAPL", dec("10"), dec("150.00"), decimal.Zero)
	require.Error(t, err)
	store.applyErr = nil

	got, err := store.GetPortfolio(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.CashBalance.Equal(dec("10000.00")), "cash untouched after failed apply")
	holdings, err := store.ListHoldings(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, holdings)
	assert.Equal(t, 0, store.txCount())
}

func TestWatchlistFollowsHoldings(t *testing.T) {
	ctx := context.Background()
	quotes := stubQuotes{"AAPL": quote("AAPL", "150.00")}
	store := newMemLedgerStore()
	instruments := newMemInstrumentStore("AAPL")
	watch := &recordingWatchlist{}
	e := NewEngine(Config{}, store, instruments, quotes, watch, nil, testLogger())
	p, err := e.DefaultPortfolio(ctx, "alice")
	require.NoError(t, err)

	_, err = e.Buy(ctx, p.ID, "AAPL", dec("5"), dec("150.00"), decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL"}, watch.subscribed, "first purchase subscribes")

	_, err = e.Buy(ctx, p.ID, "AAPL", dec("5"), dec("150.00"), decimal.Zero)
	require.NoError(t, err)
	assert.Len(t, watch.subscribed, 1, "repeat purchase does not resubscribe")

	_, err = e.Sell(ctx, p.ID, "AAPL", dec("10"), dec("150.00"), decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL"}, watch.unsubscribed, "liquidation unsubscribes")
}

func TestPortfolioAggregatesTrackQuotes(t *testing.T) {
	ctx := context.Background()
	quotes := stubQuotes{"AAPL": quote("AAPL", "160.00")}
	e, store, p := newTestEngine(t, quotes, "AAPL")

	_, err := e.Buy(ctx, p.ID, "AAPL", dec("10"), dec("150.00"), decimal.Zero)
	require.NoError(t, err)

	got, err := store.GetPortfolio(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.InvestedAmount.Equal(dec("1500.00")))
	// Holdings valued at the 160.00 quote, not the execution price.
	assert.True(t, got.TotalValue.Equal(dec("10100.00")), "got %s", got.TotalValue)
	assert.True(t, got.TotalReturn.Equal(dec("100.00")))
	assert.True(t, got.TotalReturnPercent.Equal(dec("6.6667")), "got %s", got.TotalReturnPercent)
}
