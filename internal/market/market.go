// Package market talks to Binance: REST price lookups, the combined ticker
// websocket stream and the quote cache that sits between them and the
// trading engine.
package market

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownSymbol  = errors.New("unknown symbol")
	ErrUpstream       = errors.New("price source unavailable")
	ErrInvalidRequest = errors.New("invalid market request")
)

// Quote is the latest known price of a symbol
type Quote struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	Volume        decimal.Decimal `json:"volume"`
	QuoteVolume   decimal.Decimal `json:"quote_volume"`
	EventTime     time.Time       `json:"event_time"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Ticker24h is Binance's rolling 24 hour statistics for a symbol
type Ticker24h struct {
	Symbol             string          `json:"symbol"`
	LastPrice          decimal.Decimal `json:"last_price"`
	PriceChange        decimal.Decimal `json:"price_change"`
	PriceChangePercent decimal.Decimal `json:"price_change_percent"`
	HighPrice          decimal.Decimal `json:"high_price"`
	LowPrice           decimal.Decimal `json:"low_price"`
	OpenPrice          decimal.Decimal `json:"open_price"`
	Volume             decimal.Decimal `json:"volume"`
	QuoteVolume        decimal.Decimal `json:"quote_volume"`
	OpenTime           time.Time       `json:"open_time"`
	CloseTime          time.Time       `json:"close_time"`
	Count              int64           `json:"count"`
}

// Kline is one OHLCV candle
type Kline struct {
	OpenTime    time.Time       `json:"open_time"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      decimal.Decimal `json:"volume"`
	CloseTime   time.Time       `json:"close_time"`
	QuoteVolume decimal.Decimal `json:"quote_volume"`
	Trades      int64           `json:"trades"`
}

// PriceFetcher returns a fresh price from the upstream exchange
type PriceFetcher interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// QuoteCache stores the most recent quote per symbol
type QuoteCache interface {
	Set(ctx context.Context, q Quote) error
	// Get reports false when no quote is cached for symbol.
	Get(ctx context.Context, symbol string) (Quote, bool, error)
}

// Recorder receives stream activity for metrics
type Recorder interface {
	QuoteReceived(symbol string)
	StreamReconnected()
}

type nopRecorder struct{}

func (nopRecorder) QuoteReceived(string) {}
func (nopRecorder) StreamReconnected()   {}
