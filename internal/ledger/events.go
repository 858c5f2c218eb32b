package ledger

import (
	"encoding/json"

	"github.com/alanyoungcy/tradefeed/internal/domain"
)

// orderEvent is the bus payload emitted after every executed trade.
type orderEvent struct {
	Type    string            `json:"type"`
	Payload orderEventPayload `json:"payload"`
}

type orderEventPayload struct {
	TransactionID string `json:"transaction_id"`
	PortfolioID   string `json:"portfolio_id"`
	Symbol        string `json:"symbol,omitempty"`
	Side          string `json:"side"`
	Quantity      string `json:"quantity"`
	Price         string `json:"price"`
	TotalAmount   string `json:"total_amount"`
	Fees          string `json:"fees"`
	CashBalance   string `json:"cash_balance"`
	ExecutedAt    string `json:"executed_at"`
}

func encodeOrderEvent(tx domain.Transaction, p domain.Portfolio) ([]byte, error) {
	return json.Marshal(orderEvent{
		Type: "order_executed",
		Payload: orderEventPayload{
			TransactionID: tx.ID,
			PortfolioID:   tx.PortfolioID,
			Symbol:        tx.Symbol,
			Side:          string(tx.Type),
			Quantity:      tx.Quantity.String(),
			Price:         tx.Price.String(),
			TotalAmount:   tx.TotalAmount.String(),
			Fees:          tx.Fees.String(),
			CashBalance:   p.CashBalance.StringFixed(2),
			ExecutedAt:    tx.ExecutedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		},
	})
}
