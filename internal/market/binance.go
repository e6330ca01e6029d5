package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

var _ PriceFetcher = (*Client)(nil)

// Binance error code for an unknown symbol
const codeInvalidSymbol = -1121

var klineIntervals = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "8h": true, "12h": true,
	"1d": true, "3d": true, "1w": true, "1M": true,
}

// ClientConfig holds configuration for the Binance REST client.
type ClientConfig struct {
	// BaseURL defaults to https://api.binance.com
	BaseURL string

	// Timeout is the maximum time to wait for a single HTTP request.
	Timeout time.Duration

	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// RateLimitPerMin is the request budget per minute.
	RateLimitPerMin int

	Logger     *slog.Logger
	HTTPClient *http.Client
}

// ClientConfigDefaults returns a config with default values.
func ClientConfigDefaults() ClientConfig {
	return ClientConfig{
		BaseURL:         "https://api.binance.com",
		Timeout:         10 * time.Second,
		MaxRetries:      3,
		InitialBackoff:  200 * time.Millisecond,
		MaxBackoff:      5 * time.Second,
		RateLimitPerMin: 1200,
		Logger:          slog.Default(),
	}
}

// Client is a rate limited, retrying Binance spot REST client
type Client struct {
	config      ClientConfig
	httpClient  *http.Client
	logger      *slog.Logger
	limiter     *rate.Limiter
	retryConfig retryConfig
}

// NewClient creates a new Binance REST client.
func NewClient(config ClientConfig) *Client {
	applyDefaults(&config, ClientConfigDefaults())

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	rps := float64(config.RateLimitPerMin) / 60.0
	return &Client{
		config:     config,
		httpClient: httpClient,
		logger:     config.Logger.With("component", "binance-client"),
		limiter:    rate.NewLimiter(rate.Limit(rps), 5),
		retryConfig: retryConfig{
			MaxRetries:     config.MaxRetries,
			InitialBackoff: config.InitialBackoff,
			MaxBackoff:     config.MaxBackoff,
		},
	}
}

func applyDefaults(config *ClientConfig, defaults ClientConfig) {
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.RateLimitPerMin == 0 {
		config.RateLimitPerMin = defaults.RateLimitPerMin
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type priceResponse struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

type ticker24hResponse struct {
	Symbol             string          `json:"symbol"`
	PriceChange        decimal.Decimal `json:"priceChange"`
	PriceChangePercent decimal.Decimal `json:"priceChangePercent"`
	LastPrice          decimal.Decimal `json:"lastPrice"`
	OpenPrice          decimal.Decimal `json:"openPrice"`
	HighPrice          decimal.Decimal `json:"highPrice"`
	LowPrice           decimal.Decimal `json:"lowPrice"`
	Volume             decimal.Decimal `json:"volume"`
	QuoteVolume        decimal.Decimal `json:"quoteVolume"`
	OpenTime           int64           `json:"openTime"`
	CloseTime          int64           `json:"closeTime"`
	Count              int64           `json:"count"`
}

// Price returns the last traded price of symbol
func (c *Client) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var resp priceResponse
	if err := c.get(ctx, "/api/v3/ticker/price", url.Values{"symbol": {symbol}}, &resp); err != nil {
		return decimal.Zero, err
	}
	if !resp.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive price for %s", ErrUpstream, symbol)
	}
	return resp.Price, nil
}

// Ticker24h returns rolling 24h statistics for symbol
func (c *Client) Ticker24h(ctx context.Context, symbol string) (*Ticker24h, error) {
	var resp ticker24hResponse
	if err := c.get(ctx, "/api/v3/ticker/24hr", url.Values{"symbol": {symbol}}, &resp); err != nil {
		return nil, err
	}
	return &Ticker24h{
		Symbol:             resp.Symbol,
		LastPrice:          resp.LastPrice,
		PriceChange:        resp.PriceChange,
		PriceChangePercent: resp.PriceChangePercent,
		HighPrice:          resp.HighPrice,
		LowPrice:           resp.LowPrice,
		OpenPrice:          resp.OpenPrice,
		Volume:             resp.Volume,
		QuoteVolume:        resp.QuoteVolume,
		OpenTime:           time.UnixMilli(resp.OpenTime).UTC(),
		CloseTime:          time.UnixMilli(resp.CloseTime).UTC(),
		Count:              resp.Count,
	}, nil
}

// Klines returns up to limit candles of the given interval, oldest first
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	if !klineIntervals[interval] {
		return nil, fmt.Errorf("%w: unsupported interval %q", ErrInvalidRequest, interval)
	}
	if limit <= 0 || limit > 1000 {
		return nil, fmt.Errorf("%w: limit must be between 1 and 1000", ErrInvalidRequest)
	}

	var raw [][]json.RawMessage
	params := url.Values{
		"symbol":   {symbol},
		"interval": {interval},
		"limit":    {strconv.Itoa(limit)},
	}
	if err := c.get(ctx, "/api/v3/klines", params, &raw); err != nil {
		return nil, err
	}

	klines := make([]Kline, 0, len(raw))
	for i, row := range raw {
		k, err := parseKline(row)
		if err != nil {
			return nil, fmt.Errorf("%w: kline %d: %v", ErrUpstream, i, err)
		}
		klines = append(klines, k)
	}
	return klines, nil
}

// parseKline decodes Binance's positional kline array:
// [openTime, open, high, low, close, volume, closeTime, quoteVolume, trades, ...]
func parseKline(row []json.RawMessage) (Kline, error) {
	if len(row) < 9 {
		return Kline{}, fmt.Errorf("expected at least 9 fields, got %d", len(row))
	}
	var (
		k                   Kline
		openTime, closeTime int64
	)
	targets := []any{&openTime, &k.Open, &k.High, &k.Low, &k.Close, &k.Volume, &closeTime, &k.QuoteVolume, &k.Trades}
	for i, target := range targets {
		if err := json.Unmarshal(row[i], target); err != nil {
			return Kline{}, fmt.Errorf("field %d: %w", i, err)
		}
	}
	k.OpenTime = time.UnixMilli(openTime).UTC()
	k.CloseTime = time.UnixMilli(closeTime).UTC()
	return k, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, result any) error {
	endpoint := c.config.BaseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	onRetry := func(attempt int, err error, backoff time.Duration) {
		c.logger.Warn("request failed, retrying",
			"path", path,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
	}

	_, err := retryDo(ctx, c.retryConfig, onRetry, func() (struct{}, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return struct{}{}, permanent(fmt.Errorf("rate limiter: %w", err))
		}
		return struct{}{}, c.doRequest(ctx, endpoint, result)
	})
	if err != nil {
		if errors.Is(err, ErrUnknownSymbol) {
			return err
		}
		if errors.Is(err, ErrUpstream) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, endpoint string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return permanent(err)
		}
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("binance returned status %d", resp.StatusCode)
	default:
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Code == codeInvalidSymbol {
			return permanent(fmt.Errorf("%w: %s", ErrUnknownSymbol, apiErr.Msg))
		}
		return permanent(fmt.Errorf("%w: binance returned status %d: %s", ErrUpstream, resp.StatusCode, strings.TrimSpace(string(body))))
	}

	if err := json.Unmarshal(body, result); err != nil {
		return permanent(fmt.Errorf("%w: decoding response: %v", ErrUpstream, err))
	}
	return nil
}
