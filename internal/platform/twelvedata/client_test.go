package twelvedata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/price", r.URL.Path)
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		assert.Equal(t, "test-key", r.URL.Query().Get("apikey"))
		w.Write([]byte(`{"price":"182.55"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	price, err := c.Price(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("182.55")))
}

func TestClientPriceAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"error","message":"symbol not found"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	_, err := c.Price(context.Background(), "NOPE")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symbol not found")
}

func TestClientPriceHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	_, err := c.Price(context.Background(), "AAPL")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestClientTimeSeries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/time_series", r.URL.Path)
		assert.Equal(t, "1day", r.URL.Query().Get("interval"))
		assert.Equal(t, "30", r.URL.Query().Get("outputsize"))
		w.Write([]byte(`{"status":"ok","values":[
			{"datetime":"2024-03-01","open":"150.00","high":"152.00","low":"149.50","close":"151.25","volume":"1000000"},
			{"datetime":"2024-02-29","open":"148.00","high":"150.50","low":"147.75","close":"150.00","volume":"900000"}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	values, err := c.TimeSeries(context.Background(), "AAPL", 30)
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, "2024-03-01", values[0].Datetime)
	require.NotNil(t, values[0].Close)
	assert.True(t, values[0].Close.Equal(decimal.RequireFromString("151.25")))
}

func TestClientTimeSeriesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"error","message":"rate limit reached"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	_, err := c.TimeSeries(context.Background(), "AAPL", 30)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit reached")
}

func TestClientContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewClient(srv.URL, "test-key")
	_, err := c.Price(ctx, "AAPL")
	assert.Error(t, err)
}
