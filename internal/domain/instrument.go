// Package domain defines the core types and store interfaces shared by the
// ingestion pipeline, the broadcast layer, and the portfolio ledger.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Instrument is a tradable security identified by its ticker symbol.
type Instrument struct {
	ID        string
	Symbol    string
	Name      string
	Exchange  string
	Active    bool
	LastPrice decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SnapshotSource identifies which ingestion path produced a price snapshot.
type SnapshotSource string

const (
	// SourceFeed marks a snapshot produced by the streaming feed.
	SourceFeed SnapshotSource = "feed"
	// SourcePoll marks a snapshot produced by the REST reconciliation poll.
	SourcePoll SnapshotSource = "poll"
)

// PriceSnapshot is the latest known price state for one instrument. One
// logical row per symbol, overwritten in place by the snapshot store.
type PriceSnapshot struct {
	Symbol           string
	Price            decimal.Decimal
	PreviousClose    decimal.Decimal
	DayChange        decimal.Decimal
	DayChangePercent decimal.Decimal
	Volume           int64
	UpdatedAt        time.Time
	Source           SnapshotSource
}

// OHLCBar is one daily candle for an instrument. Unique per (symbol, date);
// a later backfill for the same date overwrites the earlier bar.
type OHLCBar struct {
	Symbol        string
	Date          time.Time // trading date, midnight UTC
	Open          decimal.Decimal
	High          decimal.Decimal
	Low           decimal.Decimal
	Close         decimal.Decimal
	AdjustedClose decimal.Decimal
	Volume        int64
}
