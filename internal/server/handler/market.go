package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/alanyoungcy/tradefeed/internal/domain"
)

// QuoteSource supplies current price snapshots. The in-memory snapshot store
// satisfies it directly; server-only deployments use a cache-backed adapter.
type QuoteSource interface {
	Get(symbol string) (domain.PriceSnapshot, bool)
	GetAll() map[string]domain.PriceSnapshot
}

// Watchlist mutates the set of symbols the feed streams. The feed manager
// satisfies it.
type Watchlist interface {
	Subscribe(symbol string)
	Unsubscribe(symbol string)
}

// MarketHandler serves quote, instrument, and bar HTTP endpoints.
type MarketHandler struct {
	quotes      QuoteSource
	instruments domain.InstrumentStore
	bars        domain.BarStore
	watch       Watchlist
	logger      *slog.Logger
}

// NewMarketHandler creates a MarketHandler. watch may be nil when the process
// does not run the feed; watchlist endpoints then return 503.
func NewMarketHandler(quotes QuoteSource, instruments domain.InstrumentStore, bars domain.BarStore, watch Watchlist, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		quotes:      quotes,
		instruments: instruments,
		bars:        bars,
		watch:       watch,
		logger:      logger,
	}
}

// ListQuotes returns current snapshots, optionally restricted to a comma
// separated symbols parameter.
// GET /api/quotes?symbols=AAPL,MSFT
func (h *MarketHandler) ListQuotes(w http.ResponseWriter, r *http.Request) {
	all := h.quotes.GetAll()

	var views []quoteView
	if raw := r.URL.Query().Get("symbols"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			s = strings.ToUpper(strings.TrimSpace(s))
			if s == "" {
				continue
			}
			if snap, ok := all[s]; ok {
				views = append(views, newQuoteView(snap))
			}
		}
	} else {
		for _, snap := range all {
			views = append(views, newQuoteView(snap))
		}
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Symbol < views[j].Symbol })
	if views == nil {
		views = []quoteView{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"quotes": views})
}

// GetQuote returns the current snapshot for one symbol.
// GET /api/quotes/{symbol}
func (h *MarketHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(pathParam(r, "symbol")))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing symbol")
		return
	}

	snap, ok := h.quotes.Get(symbol)
	if !ok {
		writeError(w, http.StatusNotFound, "no quote for "+symbol)
		return
	}
	writeJSON(w, http.StatusOK, newQuoteView(snap))
}

// ListInstruments returns known instruments.
// GET /api/instruments?active=true
func (h *MarketHandler) ListInstruments(w http.ResponseWriter, r *http.Request) {
	activeOnly := true
	if v := r.URL.Query().Get("active"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			activeOnly = b
		}
	}

	instruments, err := h.instruments.List(r.Context(), activeOnly)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list instruments failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list instruments")
		return
	}

	views := make([]instrumentView, 0, len(instruments))
	for _, inst := range instruments {
		views = append(views, newInstrumentView(inst))
	}
	writeJSON(w, http.StatusOK, map[string]any{"instruments": views})
}

// GetInstrument returns a single instrument by symbol.
// GET /api/instruments/{symbol}
func (h *MarketHandler) GetInstrument(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(pathParam(r, "symbol")))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing symbol")
		return
	}

	inst, err := h.instruments.GetBySymbol(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "instrument not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get instrument failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get instrument")
		return
	}
	writeJSON(w, http.StatusOK, newInstrumentView(inst))
}

// ListBars returns recent daily bars for a symbol, newest first.
// GET /api/instruments/{symbol}/bars?days=30
func (h *MarketHandler) ListBars(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(pathParam(r, "symbol")))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing symbol")
		return
	}

	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		if n > 365 {
			n = 365
		}
		days = n
	}

	bars, err := h.bars.ListRecent(r.Context(), symbol, days)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list bars failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list bars")
		return
	}

	views := make([]barView, 0, len(bars))
	for _, b := range bars {
		views = append(views, newBarView(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "bars": views})
}

// watchRequest is the body for watchlist mutations.
type watchRequest struct {
	Symbol string `json:"symbol"`
}

// WatchSymbol adds a symbol to the live feed subscription set.
// POST /api/watchlist
func (h *MarketHandler) WatchSymbol(w http.ResponseWriter, r *http.Request) {
	symbol, ok := h.decodeWatch(w, r)
	if !ok {
		return
	}
	h.watch.Subscribe(symbol)
	writeJSON(w, http.StatusOK, map[string]string{"status": "watching", "symbol": symbol})
}

// UnwatchSymbol removes a symbol from the live feed subscription set.
// DELETE /api/watchlist/{symbol}
func (h *MarketHandler) UnwatchSymbol(w http.ResponseWriter, r *http.Request) {
	if h.watch == nil {
		writeError(w, http.StatusServiceUnavailable, "feed not running in this mode")
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(pathParam(r, "symbol")))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing symbol")
		return
	}
	h.watch.Unsubscribe(symbol)
	writeJSON(w, http.StatusOK, map[string]string{"status": "unwatched", "symbol": symbol})
}

func (h *MarketHandler) decodeWatch(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.watch == nil {
		writeError(w, http.StatusServiceUnavailable, "feed not running in this mode")
		return "", false
	}
	var req watchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return "", false
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return "", false
	}
	return symbol, true
}
