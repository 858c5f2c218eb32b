// Package poller reconciles the snapshot store against the upstream REST
// API. A fast loop refreshes prices as a safety net under the websocket
// feed; a slow loop backfills daily OHLC history.
package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradefeed/internal/domain"
	"github.com/alanyoungcy/tradefeed/internal/platform/twelvedata"
	"github.com/alanyoungcy/tradefeed/internal/snapshot"
)

// Quoter is the REST surface the poller needs. *twelvedata.Client satisfies
// it.
type Quoter interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
	TimeSeries(ctx context.Context, symbol string, days int) ([]twelvedata.BarValue, error)
}

// SymbolSource yields the symbols to reconcile on each pass. *feed.Interest
// satisfies it.
type SymbolSource interface {
	Symbols() []string
}

type Config struct {
	PriceInterval   time.Duration
	BarInterval     time.Duration
	BarLookbackDays int
	RequestTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		PriceInterval:   5 * time.Second,
		BarInterval:     5 * time.Minute,
		BarLookbackDays: 30,
		RequestTimeout:  10 * time.Second,
	}
}

type Poller struct {
	cfg     Config
	client  Quoter
	symbols SymbolSource
	store   *snapshot.Store
	bars    domain.BarStore
	logger  *slog.Logger
}

func New(cfg Config, client Quoter, symbols SymbolSource, store *snapshot.Store, bars domain.BarStore, logger *slog.Logger) *Poller {
	def := DefaultConfig()
	if cfg.PriceInterval <= 0 {
		cfg.PriceInterval = def.PriceInterval
	}
	if cfg.BarInterval <= 0 {
		cfg.BarInterval = def.BarInterval
	}
	if cfg.BarLookbackDays <= 0 {
		cfg.BarLookbackDays = def.BarLookbackDays
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	return &Poller{
		cfg:     cfg,
		client:  client,
		symbols: symbols,
		store:   store,
		bars:    bars,
		logger:  logger.With("component", "poller"),
	}
}

// Run drives both loops until ctx is cancelled. Each loop does one pass
// immediately so a cold start populates data before the first tick.
func (p *Poller) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.priceLoop(ctx) })
	if p.bars != nil {
		g.Go(func() error { return p.barLoop(ctx) })
	}
	return g.Wait()
}

func (p *Poller) priceLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PriceInterval)
	defer ticker.Stop()

	p.pollPrices(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.pollPrices(ctx)
		}
	}
}

func (p *Poller) barLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.BarInterval)
	defer ticker.Stop()

	p.pollBars(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.pollBars(ctx)
		}
	}
}

// pollPrices refreshes one price per tracked symbol. Failures are logged
// and skipped; the snapshot store's monotonic guard discards anything the
// live feed has already superseded.
func (p *Poller) pollPrices(ctx context.Context) {
	for _, symbol := range p.symbols.Symbols() {
		if ctx.Err() != nil {
			return
		}
		reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
		price, err := p.client.Price(reqCtx, symbol)
		cancel()
		if err != nil {
			p.logger.Debug("price poll failed", "symbol", symbol, "error", err)
			continue
		}
		p.store.Update(domain.PriceSnapshot{
			Symbol:    symbol,
			Price:     price,
			UpdatedAt: time.Now().UTC(),
			Source:    domain.SourcePoll,
		})
	}
}

// pollBars backfills daily history per symbol. Malformed rows are skipped
// individually so one bad bar never blocks the rest of the response.
func (p *Poller) pollBars(ctx context.Context) {
	for _, symbol := range p.symbols.Symbols() {
		if ctx.Err() != nil {
			return
		}
		reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
		values, err := p.client.TimeSeries(reqCtx, symbol, p.cfg.BarLookbackDays)
		cancel()
		if err != nil {
			p.logger.Warn("bar poll failed", "symbol", symbol, "error", err)
			continue
		}

		stored, skipped := 0, 0
		for _, v := range values {
			bar, err := v.Bar(symbol)
			if err != nil {
				skipped++
				p.logger.Debug("skipping malformed bar", "symbol", symbol, "error", err)
				continue
			}
			upsertCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
			err = p.bars.Upsert(upsertCtx, bar)
			cancel()
			if err != nil {
				p.logger.Warn("bar upsert failed", "symbol", symbol, "date", bar.Date, "error", err)
				continue
			}
			stored++
		}
		p.logger.Debug("bars reconciled", "symbol", symbol, "stored", stored, "skipped", skipped)
	}
}
