package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradefeed/internal/domain"
)

// memBus is an in-process SignalBus with glob-suffix pattern support.
type memBus struct {
	mu   sync.Mutex
	subs []memSub
}

type memSub struct {
	pattern string
	ch      chan domain.Message
}

func newMemBus() *memBus { return &memBus{} }

func (b *memBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if matchPattern(sub.pattern, channel) {
			select {
			case sub.ch <- domain.Message{Channel: channel, Payload: payload}:
			default:
			}
		}
	}
	return nil
}

func (b *memBus) Subscribe(ctx context.Context, channels ...string) (<-chan domain.Message, error) {
	return b.add(ctx, channels...)
}

func (b *memBus) PSubscribe(ctx context.Context, patterns ...string) (<-chan domain.Message, error) {
	return b.add(ctx, patterns...)
}

func (b *memBus) add(ctx context.Context, patterns ...string) (<-chan domain.Message, error) {
	out := make(chan domain.Message, 64)
	b.mu.Lock()
	for _, p := range patterns {
		b.subs = append(b.subs, memSub{pattern: p, ch: out})
	}
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
	}()
	return out, nil
}

func matchPattern(pattern, channel string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(channel, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == channel
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dialHub(t *testing.T, bus *memBus) (*Hub, *websocket.Conn, context.CancelFunc) {
	t.Helper()
	hub := NewHub(bus, testLogger(), Config{Mode: "server"})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	wsSrv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(wsSrv.Close)

	url := "ws" + strings.TrimPrefix(wsSrv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return hub, conn, cancel
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHubSendsConnectionEstablished(t *testing.T) {
	_, conn, cancel := dialHub(t, newMemBus())
	defer cancel()

	env := readEnvelope(t, conn)
	assert.Equal(t, "connection_established", env.Type)

	var payload struct {
		Mode string `json:"mode"`
	}
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "server", payload.Mode)
}

func TestHubBroadcastsGlobalQuotes(t *testing.T) {
	bus := newMemBus()
	_, conn, cancel := dialHub(t, bus)
	defer cancel()

	readEnvelope(t, conn) // connection_established

	payload := []byte(`{"type":"price_update","payload":{"symbol":"AAPL"}}`)
	// The hub's bus subscriptions race with the publish; retry until seen.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			bus.Publish(context.Background(), ChannelQuotes, payload)
			time.Sleep(10 * time.Millisecond)
		}
	}()

	env := readEnvelope(t, conn)
	<-done
	assert.Equal(t, "price_update", env.Type)
}

func TestHubRoutesSymbolSubscriptions(t *testing.T) {
	bus := newMemBus()
	_, conn, cancel := dialHub(t, bus)
	defer cancel()

	readEnvelope(t, conn) // connection_established

	require.NoError(t, conn.WriteJSON(map[string]any{
		"action": "subscribe", "symbols": []string{"aapl"},
	}))

	env := readEnvelope(t, conn)
	require.Equal(t, "subscription_confirmed", env.Type)
	var payload struct {
		Symbols []string `json:"symbols"`
	}
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, []string{"AAPL"}, payload.Symbols)

	msg := []byte(`{"type":"price_update","payload":{"symbol":"AAPL"}}`)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			bus.Publish(context.Background(), SymbolChannel("AAPL"), msg)
			time.Sleep(10 * time.Millisecond)
		}
	}()

	env = readEnvelope(t, conn)
	<-done
	assert.Equal(t, "price_update", env.Type)
}

func TestSymbolChannel(t *testing.T) {
	assert.Equal(t, "quotes:AAPL", SymbolChannel(" aapl "))
	assert.Equal(t, "quotes:MSFT", SymbolChannel("MSFT"))
}
