package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradefeed/internal/domain"
	"github.com/alanyoungcy/tradefeed/internal/feed"
	"github.com/alanyoungcy/tradefeed/internal/ledger"
	"github.com/alanyoungcy/tradefeed/internal/platform/twelvedata"
	"github.com/alanyoungcy/tradefeed/internal/poller"
	"github.com/alanyoungcy/tradefeed/internal/server"
	"github.com/alanyoungcy/tradefeed/internal/server/handler"
	"github.com/alanyoungcy/tradefeed/internal/server/ws"
	"github.com/alanyoungcy/tradefeed/internal/snapshot"
)

// ingestPipeline bundles the live components built for modes that ingest
// market data.
type ingestPipeline struct {
	snapshots *snapshot.Store
	manager   *feed.Manager
}

// FullMode runs the ingestion pipeline and the API server in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	pipe, err := a.startIngest(ctx, g, deps)
	if err != nil {
		return err
	}

	engine := ledger.NewEngine(
		ledger.Config{StartingCash: a.cfg.Ledger.StartingCashDecimal()},
		deps.LedgerStore, deps.InstrumentStore,
		pipe.snapshots, pipe.manager, deps.SignalBus, a.logger,
	)

	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps, engine, pipe.snapshots, pipe.manager, pipe.manager, pipe.snapshots)
	}
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// IngestMode runs only the feed, poller, and snapshot fan-out.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ingest mode")

	g, ctx := errgroup.WithContext(ctx)

	if _, err := a.startIngest(ctx, g, deps); err != nil {
		return err
	}
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// ServerMode runs only the API server, reading quotes from the shared cache.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	quotes := newCachedQuotes(deps.QuoteCache, deps.InstrumentStore)
	engine := ledger.NewEngine(
		ledger.Config{StartingCash: a.cfg.Ledger.StartingCashDecimal()},
		deps.LedgerStore, deps.InstrumentStore,
		quotes, nil, deps.SignalBus, a.logger,
	)

	a.startServer(ctx, g, deps, engine, quotes, nil, nil, nil)
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// startIngest builds the snapshot store with its fan-out hooks, seeds the
// subscription interest set, and starts the feed manager and poller.
func (a *App) startIngest(ctx context.Context, g *errgroup.Group, deps *Dependencies) (*ingestPipeline, error) {
	snapshots := snapshot.New(a.logger)

	// Fan out every accepted snapshot: bus for live subscribers, cache for
	// server-only processes, instrument row for the ledger's price fallback.
	snapshots.OnApply(func(snap domain.PriceSnapshot) {
		hctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		payload, err := encodeQuoteEvent(snap)
		if err != nil {
			a.logger.ErrorContext(hctx, "encode quote event failed",
				slog.String("symbol", snap.Symbol),
				slog.String("error", err.Error()),
			)
			return
		}
		if err := deps.SignalBus.Publish(hctx, ws.ChannelQuotes, payload); err != nil {
			a.logger.WarnContext(hctx, "publish quote failed",
				slog.String("symbol", snap.Symbol),
				slog.String("error", err.Error()),
			)
		}
		if err := deps.SignalBus.Publish(hctx, ws.SymbolChannel(snap.Symbol), payload); err != nil {
			a.logger.WarnContext(hctx, "publish symbol quote failed",
				slog.String("symbol", snap.Symbol),
				slog.String("error", err.Error()),
			)
		}
		if err := deps.QuoteCache.Set(hctx, snap); err != nil {
			a.logger.WarnContext(hctx, "cache quote failed",
				slog.String("symbol", snap.Symbol),
				slog.String("error", err.Error()),
			)
		}
		if err := deps.InstrumentStore.TouchPrice(hctx, snap.Symbol, snap); err != nil {
			a.logger.WarnContext(hctx, "touch instrument price failed",
				slog.String("symbol", snap.Symbol),
				slog.String("error", err.Error()),
			)
		}
	})

	symbols, err := a.seedSymbols(ctx, deps)
	if err != nil {
		return nil, err
	}
	interest := feed.NewInterest(symbols...)

	dialer := &feed.WSDialer{
		URL:    a.cfg.TwelveData.WsURL,
		APIKey: a.cfg.TwelveData.ApiKey,
	}
	manager := feed.NewManager(feed.Config{
		HeartbeatInterval:   a.cfg.Feed.HeartbeatInterval.Duration,
		BaseReconnectDelay:  a.cfg.Feed.BaseReconnectDelay.Duration,
		MaxReconnectDelay:   a.cfg.Feed.MaxReconnectDelay.Duration,
		SubscribeRetryLimit: a.cfg.Feed.SubscribeRetryLimit,
		RateLimitCooldown:   a.cfg.Feed.RateLimitCooldown.Duration,
	}, dialer, interest, snapshots, a.logger)
	g.Go(func() error {
		return manager.Run(ctx)
	})

	client := twelvedata.NewClient(a.cfg.TwelveData.BaseURL, a.cfg.TwelveData.ApiKey)
	p := poller.New(poller.Config{
		PriceInterval:   a.cfg.Poller.PriceInterval.Duration,
		BarInterval:     a.cfg.Poller.BarInterval.Duration,
		BarLookbackDays: a.cfg.Poller.BarLookbackDays,
		RequestTimeout:  a.cfg.Poller.RequestTimeout.Duration,
	}, client, interest, snapshots, deps.BarStore, a.logger)
	g.Go(func() error {
		return p.Run(ctx)
	})

	return &ingestPipeline{snapshots: snapshots, manager: manager}, nil
}

// seedSymbols returns the union of the configured watch list and every
// symbol still held in a portfolio, registering missing instruments so the
// ledger can trade them.
func (a *App) seedSymbols(ctx context.Context, deps *Dependencies) ([]string, error) {
	seen := make(map[string]struct{})
	var symbols []string
	add := func(s string) {
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		symbols = append(symbols, s)
	}

	for _, s := range a.cfg.Feed.Watchlist {
		add(s)
	}
	held, err := deps.LedgerStore.ListHeldSymbols(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "list held symbols failed, seeding watch list only",
			slog.String("error", err.Error()),
		)
	}
	for _, s := range held {
		add(s)
	}

	for _, s := range symbols {
		if _, err := deps.InstrumentStore.GetBySymbol(ctx, s); err == nil {
			continue
		}
		inst := domain.Instrument{
			ID:     uuid.NewString(),
			Symbol: s,
			Name:   s,
			Active: true,
		}
		if err := deps.InstrumentStore.Upsert(ctx, inst); err != nil {
			a.logger.WarnContext(ctx, "seed instrument failed",
				slog.String("symbol", s),
				slog.String("error", err.Error()),
			)
		}
	}

	a.logger.InfoContext(ctx, "subscription interest seeded",
		slog.Int("symbols", len(symbols)),
	)
	return symbols, nil
}

// startServer registers the websocket hub and HTTP API on the errgroup.
func (a *App) startServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	engine *ledger.Engine,
	quotes handler.QuoteSource,
	watch handler.Watchlist,
	feedStatus handler.FeedStatus,
	snapshots interface{ Len() int },
) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, feedStatus, snapshots),
		Market:    handler.NewMarketHandler(quotes, deps.InstrumentStore, deps.BarStore, watch, a.logger),
		Portfolio: handler.NewPortfolioHandler(engine, a.cfg.Ledger.DefaultOwner, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startArchiver schedules periodic cold-storage archival when enabled.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				before := time.Now().UTC().Add(-retention)
				if n, err := deps.Archiver.ArchiveTransactions(ctx, before); err != nil {
					a.logger.WarnContext(ctx, "archive transactions failed",
						slog.String("error", err.Error()),
					)
				} else if n > 0 {
					a.logger.InfoContext(ctx, "transactions archived", slog.Int64("count", n))
				}
				if n, err := deps.Archiver.ArchiveBars(ctx, before); err != nil {
					a.logger.WarnContext(ctx, "archive bars failed",
						slog.String("error", err.Error()),
					)
				} else if n > 0 {
					a.logger.InfoContext(ctx, "bars archived", slog.Int64("count", n))
				}
			}
		}
	})
}
