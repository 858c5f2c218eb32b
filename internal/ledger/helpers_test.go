package ledger

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradefeed/internal/domain"
)

// memLedgerStore applies mutations to in-memory maps with the same
// all-or-nothing contract as the SQL store.
type memLedgerStore struct {
	mu           sync.Mutex
	portfolios   map[string]domain.Portfolio
	holdings     map[string]map[string]domain.Holding // portfolioID -> symbol -> holding
	transactions []domain.Transaction
	applyErr     error
}

func newMemLedgerStore() *memLedgerStore {
	return &memLedgerStore{
		portfolios: make(map[string]domain.Portfolio),
		holdings:   make(map[string]map[string]domain.Holding),
	}
}

func (s *memLedgerStore) GetPortfolio(ctx context.Context, id string) (domain.Portfolio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.portfolios[id]
	if !ok {
		return domain.Portfolio{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *memLedgerStore) GetDefaultPortfolio(ctx context.Context, owner string) (domain.Portfolio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.portfolios {
		if p.Owner == owner && p.IsDefault {
			return p, nil
		}
	}
	return domain.Portfolio{}, domain.ErrNotFound
}

func (s *memLedgerStore) CreatePortfolio(ctx context.Context, p domain.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.portfolios {
		if existing.Owner == p.Owner && existing.IsDefault && p.IsDefault {
			return domain.ErrAlreadyExists
		}
	}
	s.portfolios[p.ID] = p
	return nil
}

func (s *memLedgerStore) GetHolding(ctx context.Context, portfolioID, symbol string) (domain.Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holdings[portfolioID][symbol]
	if !ok {
		return domain.Holding{}, domain.ErrNotFound
	}
	return h, nil
}

func (s *memLedgerStore) ListHoldings(ctx context.Context, portfolioID string) ([]domain.Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Holding, 0, len(s.holdings[portfolioID]))
	for _, h := range s.holdings[portfolioID] {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *memLedgerStore) ListHeldSymbols(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[string]struct{})
	for _, bys := range s.holdings {
		for sym := range bys {
			set[sym] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for sym := range set {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out, nil
}

func (s *memLedgerStore) SymbolHeld(ctx context.Context, symbol string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, bys := range s.holdings {
		if _, ok := bys[symbol]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (s *memLedgerStore) ListTransactions(ctx context.Context, portfolioID string, opts domain.ListOpts) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range s.transactions {
		if tx.PortfolioID == portfolioID {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutedAt.After(out[j].ExecutedAt) })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *memLedgerStore) ListTransactionsBefore(ctx context.Context, before time.Time) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range s.transactions {
		if tx.ExecutedAt.Before(before) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *memLedgerStore) Apply(ctx context.Context, m domain.LedgerMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applyErr != nil {
		return s.applyErr
	}
	s.portfolios[m.Portfolio.ID] = m.Portfolio
	if m.Holding != nil {
		bys := s.holdings[m.Portfolio.ID]
		if bys == nil {
			bys = make(map[string]domain.Holding)
			s.holdings[m.Portfolio.ID] = bys
		}
		if m.DeleteHolding {
			delete(bys, m.Holding.Symbol)
		} else {
			bys[m.Holding.Symbol] = *m.Holding
		}
	}
	s.transactions = append(s.transactions, m.Transaction)
	return nil
}

func (s *memLedgerStore) txCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transactions)
}

type memInstrumentStore struct {
	mu          sync.Mutex
	instruments map[string]domain.Instrument
}

func newMemInstrumentStore(symbols ...string) *memInstrumentStore {
	s := &memInstrumentStore{instruments: make(map[string]domain.Instrument)}
	for _, sym := range symbols {
		s.instruments[sym] = domain.Instrument{ID: sym, Symbol: sym, Active: true}
	}
	return s
}

func (s *memInstrumentStore) GetBySymbol(ctx context.Context, symbol string) (domain.Instrument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instruments[symbol]
	if !ok {
		return domain.Instrument{}, domain.ErrNotFound
	}
	return inst, nil
}

func (s *memInstrumentStore) List(ctx context.Context, activeOnly bool) ([]domain.Instrument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Instrument
	for _, inst := range s.instruments {
		if activeOnly && !inst.Active {
			continue
		}
		out = append(out, inst)
	}
	return out, nil
}

func (s *memInstrumentStore) Upsert(ctx context.Context, inst domain.Instrument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instruments[inst.Symbol] = inst
	return nil
}

func (s *memInstrumentStore) TouchPrice(ctx context.Context, symbol string, snap domain.PriceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instruments[symbol]
	if !ok {
		return domain.ErrNotFound
	}
	inst.LastPrice = snap.Price
	inst.UpdatedAt = snap.UpdatedAt
	s.instruments[symbol] = inst
	return nil
}

// stubQuotes serves fixed prices keyed by symbol.
type stubQuotes map[string]domain.PriceSnapshot

func (q stubQuotes) Get(symbol string) (domain.PriceSnapshot, bool) {
	snap, ok := q[symbol]
	return snap, ok
}

func (q stubQuotes) GetAll() map[string]domain.PriceSnapshot {
	out := make(map[string]domain.PriceSnapshot, len(q))
	for k, v := range q {
		out[k] = v
	}
	return out
}

// recordingWatchlist captures subscribe/unsubscribe calls.
type recordingWatchlist struct {
	mu           sync.Mutex
	subscribed   []string
	unsubscribed []string
}

func (w *recordingWatchlist) Subscribe(symbol string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subscribed = append(w.subscribed, symbol)
}

func (w *recordingWatchlist) Unsubscribe(symbol string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unsubscribed = append(w.unsubscribed, symbol)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func quote(symbol, price string) domain.PriceSnapshot {
	return domain.PriceSnapshot{
		Symbol:    symbol,
		Price:     dec(price),
		UpdatedAt: time.Now().UTC(),
		Source:    domain.SourceFeed,
	}
}
