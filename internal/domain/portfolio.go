package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Portfolio holds a user's cash balance and derived valuation aggregates.
// All aggregate fields are recomputed by the ledger after every mutation.
type Portfolio struct {
	ID                 string
	Owner              string
	Name               string
	CashBalance        decimal.Decimal
	InvestedAmount     decimal.Decimal
	TotalValue         decimal.Decimal
	TotalReturn        decimal.Decimal
	TotalReturnPercent decimal.Decimal
	IsDefault          bool
	Active             bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Holding is a portfolio's open position in one instrument. Unique per
// (portfolio, symbol); deleted when the quantity reaches exactly zero.
type Holding struct {
	ID                    string
	PortfolioID           string
	Symbol                string
	Quantity              decimal.Decimal
	AverageCost           decimal.Decimal
	TotalCost             decimal.Decimal
	CurrentValue          decimal.Decimal
	UnrealizedGain        decimal.Decimal
	UnrealizedGainPercent decimal.Decimal
	FirstPurchaseAt       time.Time
	LastTransactionAt     time.Time
}

// TransactionType enumerates the kinds of ledger transactions.
type TransactionType string

const (
	TransactionBuy        TransactionType = "buy"
	TransactionSell       TransactionType = "sell"
	TransactionDeposit    TransactionType = "deposit"
	TransactionWithdrawal TransactionType = "withdrawal"
	TransactionFee        TransactionType = "fee"
)

// TransactionStatus tracks the lifecycle of a transaction record.
type TransactionStatus string

const (
	TransactionExecuted  TransactionStatus = "executed"
	TransactionCancelled TransactionStatus = "cancelled"
	TransactionFailed    TransactionStatus = "failed"
)

// Transaction is an immutable, append-only ledger record. Symbol is empty
// for cash-only events (deposit, withdrawal, fee). Records are never updated
// after creation; they are the audit trail from which aggregates can be
// rebuilt.
type Transaction struct {
	ID          string
	PortfolioID string
	Symbol      string
	Type        TransactionType
	Status      TransactionStatus
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	TotalAmount decimal.Decimal
	Fees        decimal.Decimal
	ExecutedAt  time.Time
	Notes       string
}

// LedgerMutation is the complete post-state of one ledger operation. The
// engine computes it in full before anything is written; the store applies
// it atomically so a partially-applied operation can never be observed.
type LedgerMutation struct {
	Portfolio     Portfolio
	Holding       *Holding // nil when the operation is cash-only
	DeleteHolding bool     // full liquidation removes the holding row
	Transaction   Transaction
}
