package feed

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/tradefeed/internal/domain"
	"github.com/alanyoungcy/tradefeed/internal/platform/twelvedata"
	"github.com/alanyoungcy/tradefeed/internal/snapshot"
)

// State is the manager's connection lifecycle phase.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	default:
		return "disconnected"
	}
}

type Config struct {
	HeartbeatInterval   time.Duration
	BaseReconnectDelay  time.Duration
	MaxReconnectDelay   time.Duration
	SubscribeRetryLimit int
	RateLimitCooldown   time.Duration
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:   10 * time.Second,
		BaseReconnectDelay:  5 * time.Second,
		MaxReconnectDelay:   60 * time.Second,
		SubscribeRetryLimit: 3,
		RateLimitCooldown:   60 * time.Second,
	}
}

// Manager owns the upstream websocket. It dials, subscribes the interest
// set, pumps price events into the snapshot store, and reconnects with
// capped exponential backoff for as long as it runs. Retries never give up;
// the only terminal state is an explicit Stop.
type Manager struct {
	cfg      Config
	dialer   Dialer
	interest *Interest
	store    *snapshot.Store
	logger   *slog.Logger

	state       atomic.Int32
	pausedUntil atomic.Int64

	mu         sync.Mutex
	conn       Conn
	confirmed  map[string]struct{}
	subRetries map[string]int

	started  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

func NewManager(cfg Config, dialer Dialer, interest *Interest, store *snapshot.Store, logger *slog.Logger) *Manager {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}
	if cfg.BaseReconnectDelay <= 0 {
		cfg.BaseReconnectDelay = DefaultConfig().BaseReconnectDelay
	}
	if cfg.MaxReconnectDelay < cfg.BaseReconnectDelay {
		cfg.MaxReconnectDelay = DefaultConfig().MaxReconnectDelay
	}
	if cfg.SubscribeRetryLimit <= 0 {
		cfg.SubscribeRetryLimit = DefaultConfig().SubscribeRetryLimit
	}
	if cfg.RateLimitCooldown <= 0 {
		cfg.RateLimitCooldown = DefaultConfig().RateLimitCooldown
	}
	return &Manager{
		cfg:        cfg,
		dialer:     dialer,
		interest:   interest,
		store:      store,
		logger:     logger.With("component", "feed"),
		confirmed:  make(map[string]struct{}),
		subRetries: make(map[string]int),
		done:       make(chan struct{}),
	}
}

// Start launches the connection loop. Calling it twice is a no-op.
func (m *Manager) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	m.wg.Add(1)
	go m.run(ctx)
}

// Stop tears the connection down and waits for the loops to exit.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.mu.Lock()
		if m.conn != nil {
			m.conn.Close()
		}
		m.mu.Unlock()
	})
	m.wg.Wait()
	m.setState(StateDisconnected)
}

// Run blocks until ctx is cancelled, for callers driving the manager from a
// run group.
func (m *Manager) Run(ctx context.Context) error {
	m.Start(ctx)
	<-ctx.Done()
	m.Stop()
	return ctx.Err()
}

func (m *Manager) State() State {
	return State(m.state.Load())
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
}

// Interest exposes the symbol set shared with the poller.
func (m *Manager) Interest() *Interest {
	return m.interest
}

// ConfirmedSymbols lists symbols the upstream has acknowledged on the
// current connection.
func (m *Manager) ConfirmedSymbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.confirmed))
	for s := range m.confirmed {
		out = append(out, s)
	}
	return out
}

// Subscribe records interest in a symbol and, when connected, asks the
// upstream for it. Interest is recorded regardless of connection state so
// the next reconnect picks the symbol up.
func (m *Manager) Subscribe(symbol string) {
	sym := normalizeSymbol(symbol)
	if sym == "" {
		return
	}
	m.interest.Add(sym)
	if m.State() != StateConnected || m.paused() {
		return
	}
	m.writeControl(twelvedata.SubscribeMessage(sym))
}

// Unsubscribe drops a symbol from the interest set and tells the upstream
// when connected.
func (m *Manager) Unsubscribe(symbol string) {
	sym := normalizeSymbol(symbol)
	if sym == "" {
		return
	}
	m.interest.Remove(sym)
	m.mu.Lock()
	delete(m.confirmed, sym)
	delete(m.subRetries, sym)
	m.mu.Unlock()
	if m.State() != StateConnected || m.paused() {
		return
	}
	m.writeControl(twelvedata.UnsubscribeMessage(sym))
}

// Reset clears upstream subscription state and local confirmation tracking.
// The interest set is untouched; a follow-up resubscribe rebuilds from it.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.confirmed = make(map[string]struct{})
	m.subRetries = make(map[string]int)
	m.mu.Unlock()
	if m.State() != StateConnected {
		return
	}
	m.writeControl(twelvedata.ResetMessage())
}

func (m *Manager) writeControl(msg twelvedata.ControlMessage) {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.WriteJSON(msg); err != nil {
		m.logger.Warn("control write failed", "action", msg.Action, "error", err)
	}
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()
	defer m.setState(StateDisconnected)

	attempt := 0
	for {
		if m.stopping(ctx) {
			return
		}
		m.setState(StateConnecting)
		conn, err := m.dialer.Dial(ctx)
		if err != nil {
			if m.stopping(ctx) {
				return
			}
			m.logger.Warn("dial failed", "attempt", attempt, "error", err)
			m.waitBackoff(ctx, attempt)
			attempt++
			continue
		}

		m.setState(StateConnected)
		attempt = 0
		m.mu.Lock()
		m.conn = conn
		m.confirmed = make(map[string]struct{})
		m.subRetries = make(map[string]int)
		m.mu.Unlock()
		m.logger.Info("connected", "symbols", m.interest.Len())

		m.resubscribe(conn)

		hbDone := make(chan struct{})
		m.wg.Add(1)
		go m.heartbeatLoop(conn, hbDone)

		err = m.readLoop(conn)
		close(hbDone)
		conn.Close()
		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()

		if m.stopping(ctx) {
			return
		}
		m.logger.Warn("connection lost", "error", err)
		m.waitBackoff(ctx, attempt)
		attempt++
	}
}

func (m *Manager) stopping(ctx context.Context) bool {
	select {
	case <-m.done:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// resubscribe replays the whole interest set on a fresh connection.
func (m *Manager) resubscribe(conn Conn) {
	symbols := m.interest.Symbols()
	if len(symbols) == 0 {
		return
	}
	if err := conn.WriteJSON(twelvedata.SubscribeMessage(symbols...)); err != nil {
		m.logger.Warn("resubscribe failed", "count", len(symbols), "error", err)
	}
}

func (m *Manager) heartbeatLoop(conn Conn, done chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-m.done:
			return
		case <-ticker.C:
			if m.paused() {
				continue
			}
			if err := conn.WriteJSON(twelvedata.HeartbeatMessage()); err != nil {
				m.logger.Debug("heartbeat write failed", "error", err)
				return
			}
		}
	}
}

func (m *Manager) readLoop(conn Conn) error {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		m.handleMessage(conn, data)
	}
}

func (m *Manager) handleMessage(conn Conn, raw []byte) {
	ev, err := twelvedata.ParseEvent(raw)
	if err != nil {
		m.logger.Debug("malformed event", "error", err)
		return
	}
	switch ev.Kind {
	case twelvedata.EventPrice:
		m.handlePrice(ev.Price)
	case twelvedata.EventSubscribeStatus:
		m.handleSubscribeStatus(conn, ev.SubscribeStatus)
	case twelvedata.EventStatus:
		m.handleStatus(ev.Status)
	case twelvedata.EventHeartbeat:
		m.logger.Debug("heartbeat ack")
	case twelvedata.EventRateLimit:
		m.pauseOutbound(ev.Messages)
	default:
		m.logger.Debug("unknown event", "raw", string(raw))
	}
}

func (m *Manager) handlePrice(pe *twelvedata.PriceEvent) {
	ts := time.Now().UTC()
	if pe.Timestamp > 0 {
		ts = time.Unix(pe.Timestamp, 0).UTC()
	}
	applied := m.store.Update(domain.PriceSnapshot{
		Symbol:           pe.Symbol,
		Price:            pe.Price,
		DayChange:        pe.Change,
		DayChangePercent: pe.ChangePercent,
		Volume:           pe.DayVolume,
		UpdatedAt:        ts,
		Source:           domain.SourceFeed,
	})
	if !applied {
		m.logger.Debug("stale tick dropped", "symbol", pe.Symbol, "ts", ts)
	}
}

func (m *Manager) handleSubscribeStatus(conn Conn, se *twelvedata.SubscribeStatusEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range se.Success {
		sym := normalizeSymbol(s.Symbol)
		m.confirmed[sym] = struct{}{}
		delete(m.subRetries, sym)
	}
	for _, f := range se.Fails {
		sym := normalizeSymbol(f.Symbol)
		if !m.interest.Has(sym) {
			continue
		}
		if m.subRetries[sym] >= m.cfg.SubscribeRetryLimit {
			m.logger.Warn("subscribe abandoned", "symbol", sym, "attempts", m.subRetries[sym])
			continue
		}
		m.subRetries[sym]++
		if m.paused() {
			continue
		}
		if err := conn.WriteJSON(twelvedata.SubscribeMessage(sym)); err != nil {
			m.logger.Warn("subscribe retry failed", "symbol", sym, "error", err)
		}
	}
}

func (m *Manager) handleStatus(st *twelvedata.StatusEvent) {
	m.logger.Info("status", "action", st.Action, "status", st.Status, "symbols", st.Symbols)
	if st.Action == "reset" && st.Status == "ok" {
		m.mu.Lock()
		m.confirmed = make(map[string]struct{})
		m.subRetries = make(map[string]int)
		m.mu.Unlock()
	}
}

// pauseOutbound holds heartbeats and subscription traffic for the cooldown
// window instead of tearing the connection down. Inbound price events keep
// flowing.
func (m *Manager) pauseOutbound(messages []string) {
	until := time.Now().Add(m.cfg.RateLimitCooldown)
	m.pausedUntil.Store(until.UnixNano())
	msg := ""
	if len(messages) > 0 {
		msg = messages[0]
	}
	m.logger.Warn("outbound paused by rate limit", "until", until.UTC(), "message", msg)
}

func (m *Manager) paused() bool {
	return time.Now().UnixNano() < m.pausedUntil.Load()
}

// backoffDelay grows the reconnect delay exponentially up to the cap and
// adds jitter so restarting fleets do not thunder in step.
func (m *Manager) backoffDelay(attempt int) time.Duration {
	if attempt > 16 {
		attempt = 16
	}
	delay := m.cfg.BaseReconnectDelay << uint(attempt)
	if delay > m.cfg.MaxReconnectDelay || delay <= 0 {
		delay = m.cfg.MaxReconnectDelay
	}
	jitter := time.Duration(rand.Int64N(int64(delay)/2 + 1))
	return delay + jitter
}

func (m *Manager) waitBackoff(ctx context.Context, attempt int) {
	delay := m.backoffDelay(attempt)
	m.setState(StateBackoff)
	m.logger.Info("reconnecting", "attempt", attempt+1, "delay", delay)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-m.done:
	case <-ctx.Done():
	case <-timer.C:
	}
}
