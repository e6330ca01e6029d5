package market

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Quoter answers price questions for the engine and the API. It prefers a
// fresh streamed quote and falls back to a REST lookup.
type Quoter struct {
	fetcher PriceFetcher
	cache   QuoteCache
	symbols []string
	maxAge  time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewQuoter creates a Quoter restricted to symbols
func NewQuoter(fetcher PriceFetcher, cache QuoteCache, symbols []string, maxAge time.Duration, logger *slog.Logger) *Quoter {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAge <= 0 {
		maxAge = 10 * time.Second
	}
	return &Quoter{
		fetcher: fetcher,
		cache:   cache,
		symbols: slices.Clone(symbols),
		maxAge:  maxAge,
		logger:  logger.With("component", "quoter"),
		now:     time.Now,
	}
}

// Symbols lists the tradable symbols
func (q *Quoter) Symbols() []string {
	return slices.Clone(q.symbols)
}

// Normalize upper-cases symbol and checks it is tradable
func (q *Quoter) Normalize(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if !slices.Contains(q.symbols, s) {
		return "", fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return s, nil
}

// Quote returns the latest quote for symbol
func (q *Quoter) Quote(ctx context.Context, symbol string) (Quote, error) {
	symbol, err := q.Normalize(symbol)
	if err != nil {
		return Quote{}, err
	}

	cached, ok, err := q.cache.Get(ctx, symbol)
	if err != nil {
		q.logger.Warn("quote cache read failed", "symbol", symbol, "error", err)
	}
	if ok && q.now().Sub(cached.UpdatedAt) <= q.maxAge && cached.Price.IsPositive() {
		return cached, nil
	}

	price, err := q.fetcher.Price(ctx, symbol)
	if err != nil {
		return Quote{}, err
	}

	fresh := cached
	fresh.Symbol = symbol
	fresh.Price = price
	fresh.UpdatedAt = q.now()
	if err := q.cache.Set(ctx, fresh); err != nil {
		q.logger.Warn("quote cache write failed", "symbol", symbol, "error", err)
	}
	return fresh, nil
}

// Price returns the latest price for symbol
func (q *Quoter) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	quote, err := q.Quote(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return quote.Price, nil
}
