// Package ledger executes orders against portfolios and keeps the
// transaction audit trail. Every operation validates first, computes its
// complete post-state, and hands it to the store as one atomic mutation.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradefeed/internal/domain"
)

// Quotes is the engine's read-only view of current prices. The in-process
// snapshot store satisfies it directly; server-only deployments use a cache
// backed adapter.
type Quotes interface {
	Get(symbol string) (domain.PriceSnapshot, bool)
	GetAll() map[string]domain.PriceSnapshot
}

// Watchlist lets the engine keep feed subscriptions aligned with held
// symbols. May be nil when no feed runs in-process.
type Watchlist interface {
	Subscribe(symbol string)
	Unsubscribe(symbol string)
}

var oneHundred = decimal.NewFromInt(100)

// DefaultStartingCash seeds a lazily created default portfolio.
var DefaultStartingCash = decimal.RequireFromString("10000.00")

type Config struct {
	StartingCash decimal.Decimal
}

// Engine is the single mutation path for portfolios. It serializes
// operations per portfolio so concurrent orders cannot interleave reads and
// writes of the same cash balance.
type Engine struct {
	store       domain.LedgerStore
	instruments domain.InstrumentStore
	quotes      Quotes
	watch       Watchlist
	bus         domain.SignalBus
	logger      *slog.Logger

	startingCash decimal.Decimal

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEngine(cfg Config, store domain.LedgerStore, instruments domain.InstrumentStore, quotes Quotes, watch Watchlist, bus domain.SignalBus, logger *slog.Logger) *Engine {
	starting := cfg.StartingCash
	if starting.Sign() <= 0 {
		starting = DefaultStartingCash
	}
	return &Engine{
		store:        store,
		instruments:  instruments,
		quotes:       quotes,
		watch:        watch,
		bus:          bus,
		logger:       logger.With("component", "ledger"),
		startingCash: starting,
		locks:        make(map[string]*sync.Mutex),
	}
}

func (e *Engine) lockFor(portfolioID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[portfolioID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[portfolioID] = l
	}
	return l
}

// DefaultPortfolio returns the owner's default portfolio, creating it with
// the configured starting cash on first use.
func (e *Engine) DefaultPortfolio(ctx context.Context, owner string) (domain.Portfolio, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return domain.Portfolio{}, fmt.Errorf("ledger: default portfolio: %w", domain.ErrPortfolioNotFound)
	}
	p, err := e.store.GetDefaultPortfolio(ctx, owner)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Portfolio{}, fmt.Errorf("ledger: get default portfolio: %w", err)
	}

	now := time.Now().UTC()
	p = domain.Portfolio{
		ID:          uuid.NewString(),
		Owner:       owner,
		Name:        "Default Portfolio",
		CashBalance: e.startingCash,
		TotalValue:  e.startingCash,
		IsDefault:   true,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.CreatePortfolio(ctx, p); err != nil {
		// Lost a creation race; the winner's row is the default.
		if errors.Is(err, domain.ErrAlreadyExists) {
			return e.store.GetDefaultPortfolio(ctx, owner)
		}
		return domain.Portfolio{}, fmt.Errorf("ledger: create default portfolio: %w", err)
	}
	e.logger.Info("default portfolio created", "owner", owner, "portfolio_id", p.ID, "starting_cash", e.startingCash)
	return p, nil
}

// TradeResult reports the outcome of a buy or sell.
type TradeResult struct {
	TransactionID string
	Symbol        string
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	TotalAmount   decimal.Decimal
	Fees          decimal.Decimal
	RealizedGain  decimal.Decimal
	NewQuantity   decimal.Decimal
	AverageCost   decimal.Decimal
	CashBalance   decimal.Decimal
}

// Buy executes a market buy. A zero price means "execute at the current
// quote"; an explicit positive price is used as given. Fees are debited
// from cash but never enter the holding's cost basis.
func (e *Engine) Buy(ctx context.Context, portfolioID, symbol string, quantity, price, fees decimal.Decimal) (TradeResult, error) {
	if quantity.Sign() <= 0 {
		return TradeResult{}, fmt.Errorf("ledger: buy %s: %w", symbol, domain.ErrInvalidQuantity)
	}
	if fees.Sign() < 0 {
		return TradeResult{}, fmt.Errorf("ledger: buy %s: negative fees: %w", symbol, domain.ErrInvalidAmount)
	}

	lock := e.lockFor(portfolioID)
	lock.Lock()
	defer lock.Unlock()

	p, err := e.getPortfolio(ctx, portfolioID)
	if err != nil {
		return TradeResult{}, err
	}
	inst, err := e.getInstrument(ctx, symbol)
	if err != nil {
		return TradeResult{}, err
	}
	sym := inst.Symbol

	execPrice, err := e.resolvePrice(sym, inst, price)
	if err != nil {
		return TradeResult{}, err
	}

	totalCost := execPrice.Mul(quantity)
	debit := totalCost.Add(fees)
	if debit.GreaterThan(p.CashBalance) {
		return TradeResult{}, fmt.Errorf("ledger: buy %s: %w", sym, &domain.InsufficientFundsError{
			Required:  debit,
			Available: p.CashBalance,
		})
	}

	now := time.Now().UTC()
	p.CashBalance = p.CashBalance.Sub(debit)
	p.UpdatedAt = now

	newHolding := false
	h, err := e.store.GetHolding(ctx, portfolioID, sym)
	switch {
	case err == nil:
		oldBasis := h.AverageCost.Mul(h.Quantity)
		h.Quantity = h.Quantity.Add(quantity)
		h.AverageCost = oldBasis.Add(totalCost).Div(h.Quantity).Round(2)
		h.TotalCost = h.TotalCost.Add(totalCost)
	case errors.Is(err, domain.ErrNotFound):
		newHolding = true
		h = domain.Holding{
			ID:              uuid.NewString(),
			PortfolioID:     portfolioID,
			Symbol:          sym,
			Quantity:        quantity,
			AverageCost:     execPrice.Round(2),
			TotalCost:       totalCost,
			FirstPurchaseAt: now,
		}
	default:
		return TradeResult{}, fmt.Errorf("ledger: get holding %s: %w", sym, err)
	}
	h.LastTransactionAt = now
	e.revalueHolding(&h, execPrice)

	tx := domain.Transaction{
		ID:          uuid.NewString(),
		PortfolioID: portfolioID,
		Symbol:      sym,
		Type:        domain.TransactionBuy,
		Status:      domain.TransactionExecuted,
		Quantity:    quantity,
		Price:       execPrice,
		TotalAmount: totalCost,
		Fees:        fees,
		ExecutedAt:  now,
	}

	if err := e.finishMutation(ctx, &p, &h, false, tx); err != nil {
		return TradeResult{}, err
	}

	if newHolding && e.watch != nil {
		e.watch.Subscribe(sym)
	}
	e.publishOrder(ctx, tx, p)
	e.logger.Info("buy executed", "portfolio_id", portfolioID, "symbol", sym,
		"quantity", quantity, "price", execPrice, "fees", fees)

	return TradeResult{
		TransactionID: tx.ID,
		Symbol:        sym,
		Quantity:      quantity,
		Price:         execPrice,
		TotalAmount:   totalCost,
		Fees:          fees,
		NewQuantity:   h.Quantity,
		AverageCost:   h.AverageCost,
		CashBalance:   p.CashBalance,
	}, nil
}

// Sell executes a market sell. Selling the entire position removes the
// holding row. Net proceeds (gross minus fees) are credited to cash; the
// realized gain against average cost is recorded on the transaction.
func (e *Engine) Sell(ctx context.Context, portfolioID, symbol string, quantity, price, fees decimal.Decimal) (TradeResult, error) {
	if quantity.Sign() <= 0 {
		return TradeResult{}, fmt.Errorf("ledger: sell %s: %w", symbol, domain.ErrInvalidQuantity)
	}
	if fees.Sign() < 0 {
		return TradeResult{}, fmt.Errorf("ledger: sell %s: negative fees: %w", symbol, domain.ErrInvalidAmount)
	}

	lock := e.lockFor(portfolioID)
	lock.Lock()
	defer lock.Unlock()

	p, err := e.getPortfolio(ctx, portfolioID)
	if err != nil {
		return TradeResult{}, err
	}
	inst, err := e.getInstrument(ctx, symbol)
	if err != nil {
		return TradeResult{}, err
	}
	sym := inst.Symbol

	h, err := e.store.GetHolding(ctx, portfolioID, sym)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return TradeResult{}, fmt.Errorf("ledger: sell %s: %w", sym, domain.ErrNoHolding)
		}
		return TradeResult{}, fmt.Errorf("ledger: get holding %s: %w", sym, err)
	}
	if quantity.GreaterThan(h.Quantity) {
		return TradeResult{}, fmt.Errorf("ledger: sell %s: %w", sym, &domain.InsufficientSharesError{
			Symbol:    sym,
			Requested: quantity,
			Available: h.Quantity,
		})
	}

	execPrice, err := e.resolvePrice(sym, inst, price)
	if err != nil {
		return TradeResult{}, err
	}

	now := time.Now().UTC()
	gross := execPrice.Mul(quantity)
	proceeds := gross.Sub(fees)
	costRemoved := h.AverageCost.Mul(quantity)
	realized := gross.Sub(costRemoved).Round(2)

	p.CashBalance = p.CashBalance.Add(proceeds)
	p.UpdatedAt = now

	remaining := h.Quantity.Sub(quantity)
	deleteHolding := remaining.Sign() == 0
	if !deleteHolding {
		h.Quantity = remaining
		// Average cost is unchanged by a sale; the basis shrinks pro rata.
		h.TotalCost = h.AverageCost.Mul(remaining)
		h.LastTransactionAt = now
		e.revalueHolding(&h, execPrice)
	}

	tx := domain.Transaction{
		ID:          uuid.NewString(),
		PortfolioID: portfolioID,
		Symbol:      sym,
		Type:        domain.TransactionSell,
		Status:      domain.TransactionExecuted,
		Quantity:    quantity,
		Price:       execPrice,
		TotalAmount: gross,
		Fees:        fees,
		ExecutedAt:  now,
		Notes:       fmt.Sprintf("realized gain/loss %s", realized.StringFixed(2)),
	}

	if err := e.finishMutation(ctx, &p, &h, deleteHolding, tx); err != nil {
		return TradeResult{}, err
	}

	if deleteHolding && e.watch != nil {
		held, err := e.store.SymbolHeld(ctx, sym)
		if err == nil && !held {
			e.watch.Unsubscribe(sym)
		}
	}
	e.publishOrder(ctx, tx, p)
	e.logger.Info("sell executed", "portfolio_id", portfolioID, "symbol", sym,
		"quantity", quantity, "price", execPrice, "realized", realized)

	result := TradeResult{
		TransactionID: tx.ID,
		Symbol:        sym,
		Quantity:      quantity,
		Price:         execPrice,
		TotalAmount:   gross,
		Fees:          fees,
		RealizedGain:  realized,
		NewQuantity:   remaining,
		CashBalance:   p.CashBalance,
	}
	if !deleteHolding {
		result.AverageCost = h.AverageCost
	}
	return result, nil
}

// CashResult reports the outcome of a deposit or withdrawal.
type CashResult struct {
	TransactionID string
	Amount        decimal.Decimal
	CashBalance   decimal.Decimal
}

// Deposit credits cash to the portfolio.
func (e *Engine) Deposit(ctx context.Context, portfolioID string, amount decimal.Decimal) (CashResult, error) {
	return e.cashMutation(ctx, portfolioID, amount, domain.TransactionDeposit)
}

// Withdraw debits cash from the portfolio. Holdings are untouched; only
// free cash can leave.
func (e *Engine) Withdraw(ctx context.Context, portfolioID string, amount decimal.Decimal) (CashResult, error) {
	return e.cashMutation(ctx, portfolioID, amount, domain.TransactionWithdrawal)
}

func (e *Engine) cashMutation(ctx context.Context, portfolioID string, amount decimal.Decimal, txType domain.TransactionType) (CashResult, error) {
	if amount.Sign() <= 0 {
		return CashResult{}, fmt.Errorf("ledger: %s: %w", txType, domain.ErrInvalidAmount)
	}

	lock := e.lockFor(portfolioID)
	lock.Lock()
	defer lock.Unlock()

	p, err := e.getPortfolio(ctx, portfolioID)
	if err != nil {
		return CashResult{}, err
	}

	now := time.Now().UTC()
	switch txType {
	case domain.TransactionDeposit:
		p.CashBalance = p.CashBalance.Add(amount)
	case domain.TransactionWithdrawal:
		if amount.GreaterThan(p.CashBalance) {
			return CashResult{}, fmt.Errorf("ledger: withdraw: %w", &domain.InsufficientFundsError{
				Required:  amount,
				Available: p.CashBalance,
			})
		}
		p.CashBalance = p.CashBalance.Sub(amount)
	default:
		return CashResult{}, fmt.Errorf("ledger: unsupported cash mutation %q", txType)
	}
	p.UpdatedAt = now

	tx := domain.Transaction{
		ID:          uuid.NewString(),
		PortfolioID: portfolioID,
		Type:        txType,
		Status:      domain.TransactionExecuted,
		TotalAmount: amount,
		ExecutedAt:  now,
	}

	if err := e.finishMutation(ctx, &p, nil, false, tx); err != nil {
		return CashResult{}, err
	}
	e.logger.Info("cash mutation executed", "portfolio_id", portfolioID, "type", txType, "amount", amount)

	return CashResult{TransactionID: tx.ID, Amount: amount, CashBalance: p.CashBalance}, nil
}

// finishMutation recomputes portfolio aggregates against current quotes and
// applies the whole mutation atomically.
func (e *Engine) finishMutation(ctx context.Context, p *domain.Portfolio, h *domain.Holding, deleteHolding bool, tx domain.Transaction) error {
	holdings, err := e.store.ListHoldings(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("ledger: list holdings: %w", err)
	}
	holdings = mergeHolding(holdings, h, deleteHolding)
	e.recomputeAggregates(p, holdings)

	m := domain.LedgerMutation{
		Portfolio:     *p,
		Holding:       h,
		DeleteHolding: deleteHolding,
		Transaction:   tx,
	}
	if err := e.store.Apply(ctx, m); err != nil {
		return fmt.Errorf("ledger: apply mutation: %w", err)
	}
	return nil
}

// mergeHolding overlays the mutated holding onto the stored list so the
// aggregate pass sees the post-operation state.
func mergeHolding(holdings []domain.Holding, h *domain.Holding, deleted bool) []domain.Holding {
	if h == nil {
		return holdings
	}
	out := holdings[:0]
	found := false
	for _, existing := range holdings {
		if existing.Symbol == h.Symbol {
			found = true
			if deleted {
				continue
			}
			out = append(out, *h)
			continue
		}
		out = append(out, existing)
	}
	if !found && !deleted {
		out = append(out, *h)
	}
	return out
}

// recomputeAggregates revalues every holding from one consistent quote pass
// and rolls the results up to the portfolio.
func (e *Engine) recomputeAggregates(p *domain.Portfolio, holdings []domain.Holding) {
	quotes := e.allQuotes()
	invested := decimal.Zero
	current := decimal.Zero
	for i := range holdings {
		h := &holdings[i]
		priceNow := h.AverageCost
		if snap, ok := quotes[h.Symbol]; ok && snap.Price.Sign() > 0 {
			priceNow = snap.Price
		}
		invested = invested.Add(h.TotalCost)
		current = current.Add(priceNow.Mul(h.Quantity))
	}

	p.InvestedAmount = invested.Round(2)
	currentRounded := current.Round(2)
	p.TotalValue = currentRounded.Add(p.CashBalance)
	p.TotalReturn = currentRounded.Sub(p.InvestedAmount)
	if p.InvestedAmount.Sign() > 0 {
		p.TotalReturnPercent = p.TotalReturn.Div(p.InvestedAmount).Mul(oneHundred).Round(4)
	} else {
		p.TotalReturnPercent = decimal.Zero
	}
}

func (e *Engine) revalueHolding(h *domain.Holding, fallback decimal.Decimal) {
	priceNow := fallback
	if e.quotes != nil {
		if snap, ok := e.quotes.Get(h.Symbol); ok && snap.Price.Sign() > 0 {
			priceNow = snap.Price
		}
	}
	h.CurrentValue = priceNow.Mul(h.Quantity).Round(2)
	h.UnrealizedGain = h.CurrentValue.Sub(h.TotalCost).Round(2)
	if h.TotalCost.Sign() > 0 {
		h.UnrealizedGainPercent = h.UnrealizedGain.Div(h.TotalCost).Mul(oneHundred).Round(4)
	} else {
		h.UnrealizedGainPercent = decimal.Zero
	}
}

func (e *Engine) allQuotes() map[string]domain.PriceSnapshot {
	if e.quotes == nil {
		return nil
	}
	return e.quotes.GetAll()
}

func (e *Engine) getPortfolio(ctx context.Context, id string) (domain.Portfolio, error) {
	p, err := e.store.GetPortfolio(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Portfolio{}, fmt.Errorf("ledger: portfolio %s: %w", id, domain.ErrPortfolioNotFound)
		}
		return domain.Portfolio{}, fmt.Errorf("ledger: get portfolio %s: %w", id, err)
	}
	return p, nil
}

func (e *Engine) getInstrument(ctx context.Context, symbol string) (domain.Instrument, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	inst, err := e.instruments.GetBySymbol(ctx, sym)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Instrument{}, fmt.Errorf("ledger: instrument %s: %w", sym, domain.ErrInstrumentNotFound)
		}
		return domain.Instrument{}, fmt.Errorf("ledger: get instrument %s: %w", sym, err)
	}
	if !inst.Active {
		return domain.Instrument{}, fmt.Errorf("ledger: instrument %s inactive: %w", sym, domain.ErrInstrumentNotFound)
	}
	return inst, nil
}

// resolvePrice picks the execution price: an explicit positive request
// price wins, then the live snapshot, then the instrument's last recorded
// price.
func (e *Engine) resolvePrice(symbol string, inst domain.Instrument, requested decimal.Decimal) (decimal.Decimal, error) {
	if requested.Sign() < 0 {
		return decimal.Zero, fmt.Errorf("ledger: price for %s: %w", symbol, domain.ErrInvalidPrice)
	}
	if requested.Sign() > 0 {
		return requested, nil
	}
	if e.quotes != nil {
		if snap, ok := e.quotes.Get(symbol); ok && snap.Price.Sign() > 0 {
			return snap.Price, nil
		}
	}
	if inst.LastPrice.Sign() > 0 {
		return inst.LastPrice, nil
	}
	return decimal.Zero, fmt.Errorf("ledger: price for %s: %w", symbol, domain.ErrPriceUnavailable)
}

// publishOrder emits an order_executed event for downstream consumers. Best
// effort; a bus failure never fails the trade.
func (e *Engine) publishOrder(ctx context.Context, tx domain.Transaction, p domain.Portfolio) {
	if e.bus == nil {
		return
	}
	payload, err := encodeOrderEvent(tx, p)
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, "orders", payload); err != nil {
		e.logger.Warn("order event publish failed", "error", err)
	}
}
