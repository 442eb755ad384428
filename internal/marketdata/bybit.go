// Package marketdata provides the remote OHLC market-data client.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"botdesk/pkg/utils"
)

// DefaultBaseURL is the Bybit v5 REST endpoint.
const DefaultBaseURL = "https://api.bybit.com"

// Kline is one OHLCV row from the remote provider. Start is the bar
// start, aligned to the interval boundary.
type Kline struct {
	Start    time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	Turnover float64
}

// Client fetches klines and last prices from the Bybit v5 REST API.
// All calls carry a short timeout; callers are expected to tolerate
// failure and fall back to cached data.
type Client struct {
	baseURL    string
	category   string
	httpClient *http.Client
	retry      utils.RetryConfig
	logger     zerolog.Logger
}

// ClientConfig holds configuration for the market-data client.
type ClientConfig struct {
	BaseURL  string
	Category string // "linear" or "spot"
	Timeout  time.Duration
	Logger   zerolog.Logger
}

// NewClient creates a new market-data client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	category := cfg.Category
	if category == "" {
		category = "linear"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		category: category,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retry:  utils.DefaultRetryConfig(),
		logger: cfg.Logger,
	}
}

// intervalCodes maps timeframe strings to Bybit interval codes.
var intervalCodes = map[string]string{
	"1m":  "1",
	"3m":  "3",
	"5m":  "5",
	"15m": "15",
	"30m": "30",
	"1h":  "60",
	"2h":  "120",
	"4h":  "240",
	"6h":  "360",
	"12h": "720",
	"1d":  "D",
}

// IntervalCode normalizes a timeframe string to the provider-specific
// interval code.
func IntervalCode(timeframe string) (string, error) {
	code, ok := intervalCodes[timeframe]
	if !ok {
		return "", fmt.Errorf("unsupported timeframe: %s", timeframe)
	}
	return code, nil
}

// NormalizeSymbol strips the perpetual-contract suffix trade records
// carry before the symbol goes to the provider.
func NormalizeSymbol(symbol string) string {
	return strings.TrimSuffix(symbol, ".P")
}

type klineResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List [][]string `json:"list"`
	} `json:"result"`
}

// GetKlines fetches up to limit bars ending at end (or now, when end is
// zero). Bars are returned in chronological order.
func (c *Client) GetKlines(ctx context.Context, symbol, timeframe string, limit int, end time.Time) ([]Kline, error) {
	interval, err := IntervalCode(timeframe)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("category", c.category)
	q.Set("symbol", NormalizeSymbol(symbol))
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))
	if !end.IsZero() {
		q.Set("end", strconv.FormatInt(end.UnixMilli(), 10))
	}

	endpoint := c.baseURL + "/v5/market/kline?" + q.Encode()

	resp, err := utils.RetryWithResult(ctx, c.retry, func() (*klineResponse, error) {
		body, err := c.getKlines(ctx, endpoint)
		if err != nil {
			c.logger.Warn().Err(err).Str("symbol", symbol).Str("timeframe", timeframe).
				Msg("Kline fetch attempt failed")
		}
		return body, err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching klines for %s %s: %w", symbol, timeframe, err)
	}

	// The provider returns newest-first; reverse into chronological order.
	klines := make([]Kline, 0, len(resp.Result.List))
	for i := len(resp.Result.List) - 1; i >= 0; i-- {
		k, err := parseKlineRow(resp.Result.List[i])
		if err != nil {
			return nil, fmt.Errorf("parsing kline row for %s: %w", symbol, err)
		}
		klines = append(klines, k)
	}

	c.logger.Debug().Str("symbol", symbol).Str("timeframe", timeframe).
		Int("count", len(klines)).Msg("Klines fetched")
	return klines, nil
}

func (c *Client) getKlines(ctx context.Context, endpoint string) (*klineResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("market data API error: %d", resp.StatusCode)
	}

	var body klineResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if body.RetCode != 0 {
		return nil, fmt.Errorf("market data API error %d: %s", body.RetCode, body.RetMsg)
	}
	return &body, nil
}

func parseKlineRow(row []string) (Kline, error) {
	if len(row) < 7 {
		return Kline{}, fmt.Errorf("kline row has %d fields, want 7", len(row))
	}

	startMs, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return Kline{}, fmt.Errorf("bad start timestamp %q: %w", row[0], err)
	}

	fields := make([]float64, 6)
	for i := 1; i < 7; i++ {
		v, err := strconv.ParseFloat(row[i], 64)
		if err != nil {
			return Kline{}, fmt.Errorf("bad kline field %q: %w", row[i], err)
		}
		fields[i-1] = v
	}

	return Kline{
		Start:    time.UnixMilli(startMs).UTC(),
		Open:     fields[0],
		High:     fields[1],
		Low:      fields[2],
		Close:    fields[3],
		Volume:   fields[4],
		Turnover: fields[5],
	}, nil
}

type tickerResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	} `json:"result"`
}

// GetCurrentPrice fetches the last traded price for a symbol.
func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	q := url.Values{}
	q.Set("category", c.category)
	q.Set("symbol", NormalizeSymbol(symbol))

	endpoint := c.baseURL + "/v5/market/tickers?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetching price for %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("market data API error: %d", resp.StatusCode)
	}

	var body tickerResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decoding ticker for %s: %w", symbol, err)
	}
	if body.RetCode != 0 {
		return 0, fmt.Errorf("market data API error %d: %s", body.RetCode, body.RetMsg)
	}
	if len(body.Result.List) == 0 {
		return 0, fmt.Errorf("no ticker data for %s", symbol)
	}

	price, err := strconv.ParseFloat(body.Result.List[0].LastPrice, 64)
	if err != nil {
		return 0, fmt.Errorf("bad last price %q for %s: %w", body.Result.List[0].LastPrice, symbol, err)
	}
	return price, nil
}
