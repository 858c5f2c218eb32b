package feed

import (
	"sort"
	"strings"
	"sync"
)

// Interest is the set of symbols the process wants live data for. It
// outlives individual connections: reconnects and the reconciliation poller
// both read from it.
type Interest struct {
	mu      sync.RWMutex
	symbols map[string]struct{}
}

func NewInterest(initial ...string) *Interest {
	in := &Interest{symbols: make(map[string]struct{}, len(initial))}
	for _, s := range initial {
		if sym := normalizeSymbol(s); sym != "" {
			in.symbols[sym] = struct{}{}
		}
	}
	return in
}

// Add records interest in a symbol and reports whether it was new.
func (in *Interest) Add(symbol string) bool {
	sym := normalizeSymbol(symbol)
	if sym == "" {
		return false
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if _, ok := in.symbols[sym]; ok {
		return false
	}
	in.symbols[sym] = struct{}{}
	return true
}

// Remove drops a symbol and reports whether it was present.
func (in *Interest) Remove(symbol string) bool {
	sym := normalizeSymbol(symbol)
	in.mu.Lock()
	defer in.mu.Unlock()
	if _, ok := in.symbols[sym]; !ok {
		return false
	}
	delete(in.symbols, sym)
	return true
}

func (in *Interest) Has(symbol string) bool {
	sym := normalizeSymbol(symbol)
	in.mu.RLock()
	defer in.mu.RUnlock()
	_, ok := in.symbols[sym]
	return ok
}

// Symbols returns the current set sorted for stable iteration.
func (in *Interest) Symbols() []string {
	in.mu.RLock()
	out := make([]string, 0, len(in.symbols))
	for s := range in.symbols {
		out = append(out, s)
	}
	in.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (in *Interest) Len() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.symbols)
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
