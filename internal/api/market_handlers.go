package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xtrntr/cryptodesk/internal/models"
)

// Symbols lists the tradable symbols
func (h *Handler) Symbols(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"symbols": h.Quotes.Symbols()})
}

// Price returns the latest quote for a symbol
func (h *Handler) Price(w http.ResponseWriter, r *http.Request) {
	quote, err := h.Quotes.Quote(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// Ticker proxies Binance 24h statistics
func (h *Handler) Ticker(w http.ResponseWriter, r *http.Request) {
	symbol, err := h.Quotes.Normalize(chi.URLParam(r, "symbol"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ticker, err := h.Market.Ticker24h(r.Context(), symbol)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticker)
}

// Klines proxies Binance candles; interval defaults to 1h and limit to 100
func (h *Handler) Klines(w http.ResponseWriter, r *http.Request) {
	symbol, err := h.Quotes.Normalize(chi.URLParam(r, "symbol"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	interval := r.URL.Query().Get("interval")
	if interval == "" {
		interval = "1h"
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			h.fail(w, r, badRequest("invalid limit"))
			return
		}
	}

	klines, err := h.Market.Klines(r.Context(), symbol, interval, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, klines)
}

type bookLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Orders   int             `json:"orders"`
}

// OrderBook returns the resting limit orders of a symbol grouped by price
func (h *Handler) OrderBook(w http.ResponseWriter, r *http.Request) {
	symbol, err := h.Quotes.Normalize(chi.URLParam(r, "symbol"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	buys, sells := h.Engine.Book().Orders(symbol)
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol": symbol,
		"bids":   priceLevels(buys),
		"asks":   priceLevels(sells),
	})
}

// priceLevels merges adjacent orders at the same limit; the book keeps each
// side sorted by price
func priceLevels(orders []models.Order) []bookLevel {
	levels := []bookLevel{}
	for _, o := range orders {
		if n := len(levels); n > 0 && levels[n-1].Price.Equal(o.LimitPrice) {
			levels[n-1].Quantity = levels[n-1].Quantity.Add(o.Quantity)
			levels[n-1].Orders++
			continue
		}
		levels = append(levels, bookLevel{Price: o.LimitPrice, Quantity: o.Quantity, Orders: 1})
	}
	return levels
}
