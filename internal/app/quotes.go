package app

import (
	"context"
	"encoding/json"
	"time"

	"github.com/alanyoungcy/tradefeed/internal/domain"
)

// quoteEvent is the JSON message published on the bus for every accepted
// snapshot. The hub relays it verbatim, so it already carries the downstream
// type/payload envelope. Decimal values are strings so subscribers never
// round through floats.
type quoteEvent struct {
	Type    string       `json:"type"`
	Payload quotePayload `json:"payload"`
}

type quotePayload struct {
	Symbol           string `json:"symbol"`
	Price            string `json:"price"`
	PreviousClose    string `json:"previous_close,omitempty"`
	DayChange        string `json:"day_change,omitempty"`
	DayChangePercent string `json:"day_change_percent,omitempty"`
	Volume           int64  `json:"volume,omitempty"`
	Timestamp        string `json:"timestamp"`
	Source           string `json:"source"`
}

func encodeQuoteEvent(snap domain.PriceSnapshot) ([]byte, error) {
	p := quotePayload{
		Symbol:    snap.Symbol,
		Price:     snap.Price.String(),
		Volume:    snap.Volume,
		Timestamp: snap.UpdatedAt.UTC().Format(time.RFC3339Nano),
		Source:    string(snap.Source),
	}
	if !snap.PreviousClose.IsZero() {
		p.PreviousClose = snap.PreviousClose.String()
	}
	if !snap.DayChange.IsZero() {
		p.DayChange = snap.DayChange.String()
	}
	if !snap.DayChangePercent.IsZero() {
		p.DayChangePercent = snap.DayChangePercent.String()
	}
	return json.Marshal(quoteEvent{Type: "price_update", Payload: p})
}

// cachedQuotes reads quotes from the shared Redis cache. It is the quote
// source for server-only deployments, where the ingest process owns the
// in-memory snapshot store.
type cachedQuotes struct {
	cache       domain.QuoteCache
	instruments domain.InstrumentStore
	timeout     time.Duration
}

func newCachedQuotes(cache domain.QuoteCache, instruments domain.InstrumentStore) *cachedQuotes {
	return &cachedQuotes{
		cache:       cache,
		instruments: instruments,
		timeout:     2 * time.Second,
	}
}

func (q *cachedQuotes) Get(symbol string) (domain.PriceSnapshot, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	snap, err := q.cache.Get(ctx, symbol)
	if err != nil {
		return domain.PriceSnapshot{}, false
	}
	return snap, true
}

func (q *cachedQuotes) GetAll() map[string]domain.PriceSnapshot {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	instruments, err := q.instruments.List(ctx, true)
	if err != nil {
		return map[string]domain.PriceSnapshot{}
	}
	symbols := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		symbols = append(symbols, inst.Symbol)
	}

	snaps, err := q.cache.GetAll(ctx, symbols)
	if err != nil {
		return map[string]domain.PriceSnapshot{}
	}
	return snaps
}
