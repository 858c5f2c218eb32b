// Package snapshot holds the in-memory authoritative table of the latest
// known price per instrument. Writers are the feed manager and the
// reconciliation poller; everything else only reads.
package snapshot

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/alanyoungcy/tradefeed/internal/domain"
)

// ApplyHook is invoked after a candidate snapshot has been accepted. The
// hook runs outside the store lock; it must not call back into the store's
// write path.
type ApplyHook func(domain.PriceSnapshot)

// Store keeps one PriceSnapshot per symbol and serializes writers behind a
// monotonic-timestamp guard: a candidate older than the stored row never
// overwrites it, and on an exact timestamp tie the feed source beats the
// poll source.
type Store struct {
	mu     sync.RWMutex
	rows   map[string]domain.PriceSnapshot
	hooks  []ApplyHook
	logger *slog.Logger
}

// New creates an empty Store.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		rows:   make(map[string]domain.PriceSnapshot),
		logger: logger.With(slog.String("component", "snapshot_store")),
	}
}

// OnApply registers a hook called for every accepted update. Hooks must be
// registered before the ingestion pipeline starts.
func (s *Store) OnApply(fn ApplyHook) {
	s.hooks = append(s.hooks, fn)
}

// Update applies the candidate if it is at least as new as the stored row.
// It reports whether the candidate was accepted. Zero-valued context fields
// on the candidate (previous close, day change, volume) are carried forward
// from the stored row so a bare poll price does not erase feed context.
func (s *Store) Update(candidate domain.PriceSnapshot) bool {
	candidate.Symbol = strings.ToUpper(strings.TrimSpace(candidate.Symbol))
	if candidate.Symbol == "" || candidate.UpdatedAt.IsZero() {
		return false
	}

	s.mu.Lock()
	stored, exists := s.rows[candidate.Symbol]
	if exists {
		if candidate.UpdatedAt.Before(stored.UpdatedAt) {
			s.mu.Unlock()
			return false
		}
		if candidate.UpdatedAt.Equal(stored.UpdatedAt) &&
			candidate.Source == domain.SourcePoll && stored.Source == domain.SourceFeed {
			s.mu.Unlock()
			return false
		}
		if candidate.PreviousClose.IsZero() {
			candidate.PreviousClose = stored.PreviousClose
		}
		if candidate.DayChange.IsZero() && candidate.DayChangePercent.IsZero() {
			candidate.DayChange = stored.DayChange
			candidate.DayChangePercent = stored.DayChangePercent
		}
		if candidate.Volume == 0 {
			candidate.Volume = stored.Volume
		}
	}
	s.rows[candidate.Symbol] = candidate
	s.mu.Unlock()

	for _, hook := range s.hooks {
		hook(candidate)
	}
	return true
}

// Get returns the latest snapshot for the symbol.
func (s *Store) Get(symbol string) (domain.PriceSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.rows[strings.ToUpper(strings.TrimSpace(symbol))]
	return snap, ok
}

// GetAll returns a copy of every stored snapshot keyed by symbol. The copy
// gives callers a single consistent read pass for multi-symbol valuation.
func (s *Store) GetAll() map[string]domain.PriceSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.PriceSnapshot, len(s.rows))
	for sym, snap := range s.rows {
		out[sym] = snap
	}
	return out
}

// Len returns the number of symbols with a stored snapshot.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}
