package twelvedata

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want EventKind
	}{
		{"price", `{"event":"price","symbol":"AAPL","price":182.55,"timestamp":1700000000,"day_volume":1200,"change":1.25,"change_percent":0.69}`, EventPrice},
		{"subscribe status", `{"event":"subscribe-status","status":"ok","success":[{"symbol":"AAPL"}],"fails":[]}`, EventSubscribeStatus},
		{"status", `{"event":"status","action":"reset","status":"ok"}`, EventStatus},
		{"heartbeat", `{"event":"heartbeat","status":"ok"}`, EventHeartbeat},
		{"rate limit", `{"event":"message-processing","messages":["You have exceeded the limit of 100 events per minute"]}`, EventRateLimit},
		{"unknown kind", `{"event":"something-new","data":1}`, EventUnknown},
		{"missing event key", `{"symbol":"AAPL"}`, EventUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseEvent([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.Kind)
		})
	}
}

func TestParseEventRejectsGarbage(t *testing.T) {
	_, err := ParseEvent([]byte("not json"))
	assert.Error(t, err)
}

func TestParseEventPriceFields(t *testing.T) {
	raw := `{"event":"price","symbol":"AAPL","price":182.55,"timestamp":1700000000,"day_volume":1200,"change":1.25,"change_percent":0.69}`
	ev, err := ParseEvent([]byte(raw))
	require.NoError(t, err)
	require.NotNil(t, ev.Price)

	assert.Equal(t, "AAPL", ev.Price.Symbol)
	assert.True(t, ev.Price.Price.Equal(decimal.RequireFromString("182.55")), "price decodes exactly")
	assert.Equal(t, int64(1700000000), ev.Price.Timestamp)
	assert.Equal(t, int64(1200), ev.Price.DayVolume)
	assert.True(t, ev.Price.Change.Equal(decimal.RequireFromString("1.25")))
}

func TestParseEventRateLimitMessages(t *testing.T) {
	t.Run("list form", func(t *testing.T) {
		ev, err := ParseEvent([]byte(`{"event":"message-processing","messages":["exceeds the limit of 100 events per minute"]}`))
		require.NoError(t, err)
		assert.True(t, IsRateLimitNotice(ev.Messages))
	})

	t.Run("string form", func(t *testing.T) {
		ev, err := ParseEvent([]byte(`{"event":"message-processing","messages":"exceeds the limit of 100 events per minute"}`))
		require.NoError(t, err)
		assert.True(t, IsRateLimitNotice(ev.Messages))
	})

	t.Run("unrelated message", func(t *testing.T) {
		ev, err := ParseEvent([]byte(`{"event":"message-processing","messages":["queue drained"]}`))
		require.NoError(t, err)
		assert.False(t, IsRateLimitNotice(ev.Messages))
	})
}

func TestControlMessages(t *testing.T) {
	sub := SubscribeMessage("AAPL", "MSFT")
	assert.Equal(t, "subscribe", sub.Action)
	require.NotNil(t, sub.Params)
	assert.Equal(t, "AAPL,MSFT", sub.Params.Symbols)

	unsub := UnsubscribeMessage("AAPL")
	assert.Equal(t, "unsubscribe", unsub.Action)

	assert.Nil(t, ResetMessage().Params)
	assert.Equal(t, "heartbeat", HeartbeatMessage().Action)
}

func TestBarValueConversion(t *testing.T) {
	dec := func(s string) *decimal.Decimal {
		d := decimal.RequireFromString(s)
		return &d
	}

	t.Run("complete bar", func(t *testing.T) {
		v := BarValue{
			Datetime: "2024-03-01",
			Open:     dec("150.00"),
			High:     dec("152.00"),
			Low:      dec("149.50"),
			Close:    dec("151.25"),
			Volume:   dec("1000000"),
		}
		bar, err := v.Bar("aapl")
		require.NoError(t, err)
		assert.Equal(t, "AAPL", bar.Symbol)
		assert.Equal(t, "2024-03-01", bar.Date.Format("2006-01-02"))
		assert.True(t, bar.Close.Equal(decimal.RequireFromString("151.25")))
		assert.Equal(t, int64(1000000), bar.Volume)
	})

	t.Run("missing close", func(t *testing.T) {
		v := BarValue{Datetime: "2024-03-01", Open: dec("1"), High: dec("1"), Low: dec("1")}
		_, err := v.Bar("AAPL")
		assert.Error(t, err)
	})

	t.Run("missing datetime", func(t *testing.T) {
		v := BarValue{Open: dec("1"), High: dec("1"), Low: dec("1"), Close: dec("1")}
		_, err := v.Bar("AAPL")
		assert.Error(t, err)
	})

	t.Run("bad date", func(t *testing.T) {
		v := BarValue{Datetime: "03/01/2024", Open: dec("1"), High: dec("1"), Low: dec("1"), Close: dec("1")}
		_, err := v.Bar("AAPL")
		assert.Error(t, err)
	})

	t.Run("missing volume tolerated", func(t *testing.T) {
		v := BarValue{Datetime: "2024-03-01", Open: dec("1"), High: dec("1"), Low: dec("1"), Close: dec("1")}
		bar, err := v.Bar("AAPL")
		require.NoError(t, err)
		assert.Equal(t, int64(0), bar.Volume)
	})
}
