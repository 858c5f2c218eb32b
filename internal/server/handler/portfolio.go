package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradefeed/internal/domain"
	"github.com/alanyoungcy/tradefeed/internal/ledger"
)

// LedgerService defines the methods the portfolio handler requires from the
// ledger engine.
type LedgerService interface {
	DefaultPortfolio(ctx context.Context, owner string) (domain.Portfolio, error)
	Buy(ctx context.Context, portfolioID, symbol string, quantity, price, fees decimal.Decimal) (ledger.TradeResult, error)
	Sell(ctx context.Context, portfolioID, symbol string, quantity, price, fees decimal.Decimal) (ledger.TradeResult, error)
	Deposit(ctx context.Context, portfolioID string, amount decimal.Decimal) (ledger.CashResult, error)
	Withdraw(ctx context.Context, portfolioID string, amount decimal.Decimal) (ledger.CashResult, error)
	GetPortfolioSummary(ctx context.Context, portfolioID string) (ledger.PortfolioSummary, error)
	GetHoldingDetail(ctx context.Context, portfolioID, symbol string) (ledger.HoldingView, error)
	GetTransactionHistory(ctx context.Context, portfolioID string, opts domain.ListOpts) ([]domain.Transaction, error)
}

// PortfolioHandler serves portfolio ledger HTTP endpoints. All endpoints
// operate on the configured owner's default portfolio.
type PortfolioHandler struct {
	engine LedgerService
	owner  string
	logger *slog.Logger
}

// NewPortfolioHandler creates a PortfolioHandler bound to the given owner.
func NewPortfolioHandler(engine LedgerService, owner string, logger *slog.Logger) *PortfolioHandler {
	return &PortfolioHandler{
		engine: engine,
		owner:  owner,
		logger: logger,
	}
}

// tradeRequest is the body for buy and sell endpoints. Numeric fields are
// decimal strings so clients never round through floats.
type tradeRequest struct {
	Symbol   string `json:"symbol"`
	Quantity string `json:"quantity"`
	Price    string `json:"price,omitempty"`
	Fees     string `json:"fees,omitempty"`
}

// cashRequest is the body for deposit and withdraw endpoints.
type cashRequest struct {
	Amount string `json:"amount"`
}

// GetSummary returns the default portfolio valued at current quotes.
// GET /api/portfolio
func (h *PortfolioHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	p, ok := h.defaultPortfolio(w, r)
	if !ok {
		return
	}
	summary, err := h.engine.GetPortfolioSummary(r.Context(), p.ID)
	if err != nil {
		h.writeLedgerError(w, r, "get summary", err)
		return
	}
	writeJSON(w, http.StatusOK, newSummaryView(summary))
}

// GetHolding returns one holding valued at the current quote.
// GET /api/portfolio/holdings/{symbol}
func (h *PortfolioHandler) GetHolding(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing symbol")
		return
	}
	p, ok := h.defaultPortfolio(w, r)
	if !ok {
		return
	}
	view, err := h.engine.GetHoldingDetail(r.Context(), p.ID, symbol)
	if err != nil {
		h.writeLedgerError(w, r, "get holding", err)
		return
	}
	writeJSON(w, http.StatusOK, newHoldingView(view))
}

// Buy executes a market buy against the default portfolio.
// POST /api/portfolio/buy
func (h *PortfolioHandler) Buy(w http.ResponseWriter, r *http.Request) {
	h.trade(w, r, h.engine.Buy)
}

// Sell executes a market sell against the default portfolio.
// POST /api/portfolio/sell
func (h *PortfolioHandler) Sell(w http.ResponseWriter, r *http.Request) {
	h.trade(w, r, h.engine.Sell)
}

type tradeFunc func(ctx context.Context, portfolioID, symbol string, quantity, price, fees decimal.Decimal) (ledger.TradeResult, error)

func (h *PortfolioHandler) trade(w http.ResponseWriter, r *http.Request, exec tradeFunc) {
	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Symbol) == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		writeError(w, http.StatusBadRequest, "quantity must be a decimal string")
		return
	}
	price := decimal.Zero
	if req.Price != "" {
		if price, err = decimal.NewFromString(req.Price); err != nil {
			writeError(w, http.StatusBadRequest, "price must be a decimal string")
			return
		}
	}
	fees := decimal.Zero
	if req.Fees != "" {
		if fees, err = decimal.NewFromString(req.Fees); err != nil {
			writeError(w, http.StatusBadRequest, "fees must be a decimal string")
			return
		}
	}

	p, ok := h.defaultPortfolio(w, r)
	if !ok {
		return
	}
	result, err := exec(r.Context(), p.ID, req.Symbol, quantity, price, fees)
	if err != nil {
		h.writeLedgerError(w, r, "trade", err)
		return
	}
	writeJSON(w, http.StatusCreated, newTradeResultView(result))
}

// Deposit credits cash to the default portfolio.
// POST /api/portfolio/deposit
func (h *PortfolioHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.cash(w, r, h.engine.Deposit)
}

// Withdraw debits cash from the default portfolio.
// POST /api/portfolio/withdraw
func (h *PortfolioHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.cash(w, r, h.engine.Withdraw)
}

type cashFunc func(ctx context.Context, portfolioID string, amount decimal.Decimal) (ledger.CashResult, error)

func (h *PortfolioHandler) cash(w http.ResponseWriter, r *http.Request, exec cashFunc) {
	var req cashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount must be a decimal string")
		return
	}

	p, ok := h.defaultPortfolio(w, r)
	if !ok {
		return
	}
	result, err := exec(r.Context(), p.ID, amount)
	if err != nil {
		h.writeLedgerError(w, r, "cash mutation", err)
		return
	}
	writeJSON(w, http.StatusCreated, newCashResultView(result))
}

// ListTransactions returns the default portfolio's transactions newest first.
// GET /api/portfolio/transactions?limit=50&offset=0&since=...&until=...
func (h *PortfolioHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	p, ok := h.defaultPortfolio(w, r)
	if !ok {
		return
	}
	opts := parseListOpts(r)
	txs, err := h.engine.GetTransactionHistory(r.Context(), p.ID, opts)
	if err != nil {
		h.writeLedgerError(w, r, "list transactions", err)
		return
	}

	views := make([]transactionView, 0, len(txs))
	for _, tx := range txs {
		views = append(views, newTransactionView(tx))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": views,
		"limit":        opts.Limit,
		"offset":       opts.Offset,
	})
}

func (h *PortfolioHandler) defaultPortfolio(w http.ResponseWriter, r *http.Request) (domain.Portfolio, bool) {
	p, err := h.engine.DefaultPortfolio(r.Context(), h.owner)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: resolve default portfolio failed",
			slog.String("owner", h.owner),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to resolve portfolio")
		return domain.Portfolio{}, false
	}
	return p, true
}

// writeLedgerError maps ledger domain errors onto HTTP status codes. Input
// mistakes are 400, missing entities 404, and business-rule rejections 422.
func (h *PortfolioHandler) writeLedgerError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var fundsErr *domain.InsufficientFundsError
	var sharesErr *domain.InsufficientSharesError

	switch {
	case errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidPrice):
		writeError(w, http.StatusBadRequest, unwrapMessage(err))
	case errors.Is(err, domain.ErrPortfolioNotFound),
		errors.Is(err, domain.ErrInstrumentNotFound),
		errors.Is(err, domain.ErrNoHolding),
		errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, unwrapMessage(err))
	case errors.As(err, &fundsErr), errors.As(err, &sharesErr),
		errors.Is(err, domain.ErrPriceUnavailable):
		writeError(w, http.StatusUnprocessableEntity, unwrapMessage(err))
	default:
		h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// unwrapMessage walks the wrap chain to the root cause so API clients see
// "insufficient funds: need 100.00, have 50.00" rather than the internal
// "ledger: buy: ..." prefix chain.
func unwrapMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
