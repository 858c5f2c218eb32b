package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradefeed/internal/domain"
)

// QuoteCache implements domain.QuoteCache using Redis hashes. Each symbol's
// snapshot is stored at key "quote:{SYMBOL}". Decimal fields are stored as
// strings so no precision is lost crossing the cache.
type QuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache backed by the given Client. ttl of
// zero disables expiry.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying(), ttl: ttl}
}

func quoteKey(symbol string) string {
	return "quote:" + strings.ToUpper(strings.TrimSpace(symbol))
}

// Set stores the snapshot for its symbol.
func (qc *QuoteCache) Set(ctx context.Context, snap domain.PriceSnapshot) error {
	key := quoteKey(snap.Symbol)
	fields := map[string]interface{}{
		"price":              snap.Price.String(),
		"previous_close":     snap.PreviousClose.String(),
		"day_change":         snap.DayChange.String(),
		"day_change_percent": snap.DayChangePercent.String(),
		"volume":             strconv.FormatInt(snap.Volume, 10),
		"ts":                 strconv.FormatInt(snap.UpdatedAt.UnixNano(), 10),
		"source":             string(snap.Source),
	}

	pipe := qc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	if qc.ttl > 0 {
		pipe.Expire(ctx, key, qc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", snap.Symbol, err)
	}
	return nil
}

// Get retrieves the snapshot for one symbol. It returns domain.ErrNotFound
// when the key does not exist.
func (qc *QuoteCache) Get(ctx context.Context, symbol string) (domain.PriceSnapshot, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(symbol)).Result()
	if err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("redis: get quote %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.PriceSnapshot{}, domain.ErrNotFound
	}
	return decodeQuote(strings.ToUpper(strings.TrimSpace(symbol)), vals)
}

// GetAll retrieves snapshots for the given symbols in one pipeline pass.
// Symbols without a cached quote are simply absent from the result.
func (qc *QuoteCache) GetAll(ctx context.Context, symbols []string) (map[string]domain.PriceSnapshot, error) {
	if len(symbols) == 0 {
		return map[string]domain.PriceSnapshot{}, nil
	}

	pipe := qc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(symbols))
	for _, sym := range symbols {
		key := strings.ToUpper(strings.TrimSpace(sym))
		cmds[key] = pipe.HGetAll(ctx, quoteKey(key))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: get quotes: %w", err)
	}

	out := make(map[string]domain.PriceSnapshot, len(symbols))
	for sym, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		snap, err := decodeQuote(sym, vals)
		if err != nil {
			continue
		}
		out[sym] = snap
	}
	return out, nil
}

func decodeQuote(symbol string, vals map[string]string) (domain.PriceSnapshot, error) {
	price, err := decimal.NewFromString(vals["price"])
	if err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("redis: decode quote %s price: %w", symbol, err)
	}

	snap := domain.PriceSnapshot{
		Symbol: symbol,
		Price:  price,
		Source: domain.SnapshotSource(vals["source"]),
	}
	if v, err := decimal.NewFromString(vals["previous_close"]); err == nil {
		snap.PreviousClose = v
	}
	if v, err := decimal.NewFromString(vals["day_change"]); err == nil {
		snap.DayChange = v
	}
	if v, err := decimal.NewFromString(vals["day_change_percent"]); err == nil {
		snap.DayChangePercent = v
	}
	if v, err := strconv.ParseInt(vals["volume"], 10, 64); err == nil {
		snap.Volume = v
	}
	if ns, err := strconv.ParseInt(vals["ts"], 10, 64); err == nil {
		snap.UpdatedAt = time.Unix(0, ns).UTC()
	}
	return snap, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
