package handler

import (
	"time"

	"github.com/alanyoungcy/tradefeed/internal/domain"
	"github.com/alanyoungcy/tradefeed/internal/ledger"
)

// The view types below are the JSON wire shapes for API responses. Monetary
// values are rendered as decimal strings so clients never round through
// floats.

type quoteView struct {
	Symbol           string `json:"symbol"`
	Price            string `json:"price"`
	PreviousClose    string `json:"previous_close,omitempty"`
	DayChange        string `json:"day_change,omitempty"`
	DayChangePercent string `json:"day_change_percent,omitempty"`
	Volume           int64  `json:"volume,omitempty"`
	UpdatedAt        string `json:"updated_at"`
	Source           string `json:"source"`
}

func newQuoteView(s domain.PriceSnapshot) quoteView {
	v := quoteView{
		Symbol:    s.Symbol,
		Price:     s.Price.String(),
		Volume:    s.Volume,
		UpdatedAt: s.UpdatedAt.UTC().Format(time.RFC3339Nano),
		Source:    string(s.Source),
	}
	if !s.PreviousClose.IsZero() {
		v.PreviousClose = s.PreviousClose.String()
	}
	if !s.DayChange.IsZero() {
		v.DayChange = s.DayChange.String()
	}
	if !s.DayChangePercent.IsZero() {
		v.DayChangePercent = s.DayChangePercent.String()
	}
	return v
}

type instrumentView struct {
	ID        string `json:"id"`
	Symbol    string `json:"symbol"`
	Name      string `json:"name"`
	Exchange  string `json:"exchange,omitempty"`
	Active    bool   `json:"active"`
	LastPrice string `json:"last_price,omitempty"`
	UpdatedAt string `json:"updated_at"`
}

func newInstrumentView(inst domain.Instrument) instrumentView {
	v := instrumentView{
		ID:        inst.ID,
		Symbol:    inst.Symbol,
		Name:      inst.Name,
		Exchange:  inst.Exchange,
		Active:    inst.Active,
		UpdatedAt: inst.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if inst.LastPrice.Sign() > 0 {
		v.LastPrice = inst.LastPrice.String()
	}
	return v
}

type barView struct {
	Symbol        string `json:"symbol"`
	Date          string `json:"date"`
	Open          string `json:"open"`
	High          string `json:"high"`
	Low           string `json:"low"`
	Close         string `json:"close"`
	AdjustedClose string `json:"adjusted_close"`
	Volume        int64  `json:"volume"`
}

func newBarView(b domain.OHLCBar) barView {
	return barView{
		Symbol:        b.Symbol,
		Date:          b.Date.UTC().Format("2006-01-02"),
		Open:          b.Open.String(),
		High:          b.High.String(),
		Low:           b.Low.String(),
		Close:         b.Close.String(),
		AdjustedClose: b.AdjustedClose.String(),
		Volume:        b.Volume,
	}
}

type holdingViewJSON struct {
	Symbol                string `json:"symbol"`
	Quantity              string `json:"quantity"`
	AverageCost           string `json:"average_cost"`
	TotalCost             string `json:"total_cost"`
	CurrentPrice          string `json:"current_price,omitempty"`
	CurrentValue          string `json:"current_value"`
	UnrealizedGain        string `json:"unrealized_gain"`
	UnrealizedGainPercent string `json:"unrealized_gain_percent"`
	PriceAsOf             string `json:"price_as_of,omitempty"`
	PriceSource           string `json:"price_source,omitempty"`
}

func newHoldingView(h ledger.HoldingView) holdingViewJSON {
	v := holdingViewJSON{
		Symbol:                h.Symbol,
		Quantity:              h.Quantity.String(),
		AverageCost:           h.AverageCost.StringFixed(2),
		TotalCost:             h.TotalCost.StringFixed(2),
		CurrentValue:          h.CurrentValue.StringFixed(2),
		UnrealizedGain:        h.UnrealizedGain.StringFixed(2),
		UnrealizedGainPercent: h.UnrealizedGainPercent.String(),
		PriceSource:           string(h.PriceSource),
	}
	if h.CurrentPrice.Sign() > 0 {
		v.CurrentPrice = h.CurrentPrice.String()
	}
	if !h.PriceAsOf.IsZero() {
		v.PriceAsOf = h.PriceAsOf.UTC().Format(time.RFC3339)
	}
	return v
}

type summaryView struct {
	PortfolioID        string            `json:"portfolio_id"`
	Owner              string            `json:"owner"`
	Name               string            `json:"name"`
	CashBalance        string            `json:"cash_balance"`
	InvestedAmount     string            `json:"invested_amount"`
	HoldingsValue      string            `json:"holdings_value"`
	TotalValue         string            `json:"total_value"`
	TotalReturn        string            `json:"total_return"`
	TotalReturnPercent string            `json:"total_return_percent"`
	Holdings           []holdingViewJSON `json:"holdings"`
	AsOf               string            `json:"as_of"`
}

func newSummaryView(s ledger.PortfolioSummary) summaryView {
	holdings := make([]holdingViewJSON, 0, len(s.Holdings))
	for _, h := range s.Holdings {
		holdings = append(holdings, newHoldingView(h))
	}
	return summaryView{
		PortfolioID:        s.PortfolioID,
		Owner:              s.Owner,
		Name:               s.Name,
		CashBalance:        s.CashBalance.StringFixed(2),
		InvestedAmount:     s.InvestedAmount.StringFixed(2),
		HoldingsValue:      s.HoldingsValue.StringFixed(2),
		TotalValue:         s.TotalValue.StringFixed(2),
		TotalReturn:        s.TotalReturn.StringFixed(2),
		TotalReturnPercent: s.TotalReturnPercent.String(),
		Holdings:           holdings,
		AsOf:               s.AsOf.Format(time.RFC3339),
	}
}

type transactionView struct {
	ID          string `json:"id"`
	PortfolioID string `json:"portfolio_id"`
	Symbol      string `json:"symbol,omitempty"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	Quantity    string `json:"quantity,omitempty"`
	Price       string `json:"price,omitempty"`
	TotalAmount string `json:"total_amount"`
	Fees        string `json:"fees,omitempty"`
	ExecutedAt  string `json:"executed_at"`
	Notes       string `json:"notes,omitempty"`
}

func newTransactionView(tx domain.Transaction) transactionView {
	v := transactionView{
		ID:          tx.ID,
		PortfolioID: tx.PortfolioID,
		Symbol:      tx.Symbol,
		Type:        string(tx.Type),
		Status:      string(tx.Status),
		TotalAmount: tx.TotalAmount.StringFixed(2),
		ExecutedAt:  tx.ExecutedAt.UTC().Format(time.RFC3339),
		Notes:       tx.Notes,
	}
	if tx.Quantity.Sign() != 0 {
		v.Quantity = tx.Quantity.String()
	}
	if tx.Price.Sign() != 0 {
		v.Price = tx.Price.String()
	}
	if tx.Fees.Sign() != 0 {
		v.Fees = tx.Fees.StringFixed(2)
	}
	return v
}

type tradeResultView struct {
	TransactionID string `json:"transaction_id"`
	Symbol        string `json:"symbol"`
	Quantity      string `json:"quantity"`
	Price         string `json:"price"`
	TotalAmount   string `json:"total_amount"`
	Fees          string `json:"fees"`
	RealizedGain  string `json:"realized_gain,omitempty"`
	NewQuantity   string `json:"new_quantity"`
	AverageCost   string `json:"average_cost,omitempty"`
	CashBalance   string `json:"cash_balance"`
}

func newTradeResultView(res ledger.TradeResult) tradeResultView {
	v := tradeResultView{
		TransactionID: res.TransactionID,
		Symbol:        res.Symbol,
		Quantity:      res.Quantity.String(),
		Price:         res.Price.String(),
		TotalAmount:   res.TotalAmount.StringFixed(2),
		Fees:          res.Fees.StringFixed(2),
		NewQuantity:   res.NewQuantity.String(),
		CashBalance:   res.CashBalance.StringFixed(2),
	}
	if res.RealizedGain.Sign() != 0 {
		v.RealizedGain = res.RealizedGain.StringFixed(2)
	}
	if res.AverageCost.Sign() > 0 {
		v.AverageCost = res.AverageCost.StringFixed(2)
	}
	return v
}

type cashResultView struct {
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"`
	CashBalance   string `json:"cash_balance"`
}

func newCashResultView(res ledger.CashResult) cashResultView {
	return cashResultView{
		TransactionID: res.TransactionID,
		Amount:        res.Amount.StringFixed(2),
		CashBalance:   res.CashBalance.StringFixed(2),
	}
}
