// Package api exposes the trading services over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/xtrntr/cryptodesk/internal/auth"
	"github.com/xtrntr/cryptodesk/internal/exchange"
	"github.com/xtrntr/cryptodesk/internal/funds"
	"github.com/xtrntr/cryptodesk/internal/kyc"
	"github.com/xtrntr/cryptodesk/internal/market"
	"github.com/xtrntr/cryptodesk/internal/portfolio"
	"github.com/xtrntr/cryptodesk/internal/store"
)

// MarketClient serves the Binance proxy endpoints
type MarketClient interface {
	Ticker24h(ctx context.Context, symbol string) (*market.Ticker24h, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]market.Kline, error)
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Store     store.Store
	Auth      *auth.AuthService
	Engine    *exchange.Engine
	Funds     *funds.Service
	KYC       *kyc.Service
	Portfolio *portfolio.Service
	Quotes    *market.Quoter
	Market    MarketClient
	Logger    *slog.Logger
}

// NewHandler creates a new handler
func NewHandler(h Handler) *Handler {
	if h.Logger == nil {
		h.Logger = slog.Default()
	}
	h.Logger = h.Logger.With("component", "api")
	return &h
}

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// statusFor maps service errors to HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, exchange.ErrInvalidOrder),
		errors.Is(err, funds.ErrInvalidAmount),
		errors.Is(err, kyc.ErrInvalidForm),
		errors.Is(err, market.ErrUnknownSymbol),
		errors.Is(err, market.ErrInvalidRequest):
		return http.StatusBadRequest

	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized

	case errors.Is(err, auth.ErrAccountSuspended),
		errors.Is(err, exchange.ErrAccountSuspended),
		errors.Is(err, funds.ErrAccountSuspended),
		errors.Is(err, funds.ErrKYCRequired):
		return http.StatusForbidden

	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, store.ErrDuplicate),
		errors.Is(err, store.ErrNotPending),
		errors.Is(err, store.ErrOrderNotOpen),
		errors.Is(err, kyc.ErrAlreadySubmitted):
		return http.StatusConflict

	case errors.Is(err, exchange.ErrInsufficientBalance),
		errors.Is(err, exchange.ErrInsufficientHoldings),
		errors.Is(err, funds.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity

	case errors.Is(err, market.ErrUpstream):
		return http.StatusBadGateway

	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a JSON error. Internal errors are logged and hidden.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch {
	case status == http.StatusInternalServerError:
		h.Logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal server error"
	case status == http.StatusBadGateway:
		h.Logger.Warn("upstream failure", "path", r.URL.Path, "error", err)
	}
	writeError(w, status, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid %s", name)
	}
	return id, nil
}

func queryInt64(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, badRequest("invalid %s", name)
	}
	return v, nil
}

// page reads ?limit= and ?offset=; the store applies defaults and caps
func page(r *http.Request) (limit, offset uint64, err error) {
	q := r.URL.Query()
	if raw := q.Get("limit"); raw != "" {
		if limit, err = strconv.ParseUint(raw, 10, 64); err != nil {
			return 0, 0, badRequest("invalid limit")
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if offset, err = strconv.ParseUint(raw, 10, 64); err != nil {
			return 0, 0, badRequest("invalid offset")
		}
	}
	return limit, offset, nil
}
