package twelvedata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultBaseURL = "https://api.twelvedata.com"
	DefaultWSURL   = "wss://ws.twelvedata.com/v1/quotes/price"

	defaultHTTPTimeout = 10 * time.Second
)

// Client calls the Twelve Data REST API. It backs the reconciliation poller
// when the websocket feed is degraded or symbols need cold-start data.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

type priceResponse struct {
	Price   decimal.Decimal `json:"price"`
	Status  string          `json:"status"`
	Message string          `json:"message"`
}

// Price fetches the current price for one symbol.
func (c *Client) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("symbol", symbol)

	var resp priceResponse
	if err := c.get(ctx, "/price", q, &resp); err != nil {
		return decimal.Zero, err
	}
	if resp.Status == "error" {
		return decimal.Zero, fmt.Errorf("twelvedata: price %s: %s", symbol, resp.Message)
	}
	if resp.Price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("twelvedata: price %s: non-positive price %s", symbol, resp.Price)
	}
	return resp.Price, nil
}

type timeSeriesResponse struct {
	Status  string     `json:"status"`
	Message string     `json:"message"`
	Values  []BarValue `json:"values"`
}

// TimeSeries fetches up to days daily bars for one symbol, newest first.
// Rows come back raw so the caller decides how to treat partial bars.
func (c *Client) TimeSeries(ctx context.Context, symbol string, days int) ([]BarValue, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", "1day")
	q.Set("outputsize", strconv.Itoa(days))

	var resp timeSeriesResponse
	if err := c.get(ctx, "/time_series", q, &resp); err != nil {
		return nil, err
	}
	if resp.Status == "error" {
		return nil, fmt.Errorf("twelvedata: time_series %s: %s", symbol, resp.Message)
	}
	return resp.Values, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	q.Set("apikey", c.apiKey)
	u := c.baseURL + path + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("twelvedata: build request %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("twelvedata: get %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("twelvedata: read %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("twelvedata: get %s: status %d: %s", path, resp.StatusCode, truncate(body, 200))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("twelvedata: decode %s response: %w", path, err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func parseBarDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable bar date %q", s)
}
