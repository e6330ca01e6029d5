package api

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/cryptodesk/internal/kyc"
	"github.com/xtrntr/cryptodesk/internal/models"
)

// GetPortfolio values the user's positions at live prices
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	summary, err := h.Portfolio.Summary(r.Context(), claims.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// PlaceOrder executes a market order or rests a limit order
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())

	var req struct {
		Symbol     string           `json:"symbol"`
		Side       models.OrderSide `json:"side"`
		Type       models.OrderType `json:"type"`
		Quantity   decimal.Decimal  `json:"quantity"`
		LimitPrice decimal.Decimal  `json:"limit_price"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	var (
		order *models.Order
		err   error
	)
	switch req.Type {
	case "", models.TypeMarket:
		order, err = h.Engine.ExecuteMarketOrder(r.Context(), claims.UserID, req.Symbol, req.Side, req.Quantity)
	case models.TypeLimit:
		order, err = h.Engine.PlaceLimitOrder(r.Context(), claims.UserID, req.Symbol, req.Side, req.Quantity, req.LimitPrice)
	default:
		err = badRequest("type must be 'market' or 'limit'")
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, order)
}

// GetUserOrders lists the user's orders, newest first
func (h *Handler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	limit, offset, err := page(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	orders, err := h.Store.ListOrders(r.Context(), models.OrderFilter{
		UserID: claims.UserID,
		Symbol: r.URL.Query().Get("symbol"),
		Status: models.OrderStatus(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(orders))
}

// CancelOrder cancels an open order
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	orderID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	order, err := h.Engine.CancelOrder(r.Context(), orderID, claims.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// GetUserTransactions lists the user's balance history
func (h *Handler) GetUserTransactions(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	limit, offset, err := page(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	history, err := h.Store.ListTransactionHistory(r.Context(), models.HistoryFilter{
		UserID: claims.UserID,
		Type:   models.HistoryType(r.URL.Query().Get("type")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(history))
}

// CreateTransactionRequest files a deposit or withdrawal
func (h *Handler) CreateTransactionRequest(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())

	var req struct {
		Type   models.RequestType `json:"type"`
		Amount decimal.Decimal    `json:"amount"`
		Note   string             `json:"note"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	var (
		created *models.TransactionRequest
		err     error
	)
	switch req.Type {
	case models.RequestDeposit:
		created, err = h.Funds.RequestDeposit(r.Context(), claims.UserID, req.Amount, req.Note)
	case models.RequestWithdraw:
		created, err = h.Funds.RequestWithdraw(r.Context(), claims.UserID, req.Amount, req.Note)
	default:
		err = badRequest("type must be 'deposit' or 'withdraw'")
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetUserTransactionRequests lists the user's deposit and withdrawal requests
func (h *Handler) GetUserTransactionRequests(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	limit, offset, err := page(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	requests, err := h.Store.ListTransactionRequests(r.Context(), models.RequestFilter{
		UserID: claims.UserID,
		Status: models.RequestStatus(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(requests))
}

// GetKYC returns the user's verification record
func (h *Handler) GetKYC(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	data, err := h.KYC.Get(r.Context(), claims.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// SubmitKYC submits identity documents for review
func (h *Handler) SubmitKYC(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())

	var form kyc.Form
	if err := decodeJSON(w, r, &form); err != nil {
		h.fail(w, r, err)
		return
	}

	data, err := h.KYC.Submit(r.Context(), claims.UserID, form)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, data)
}

// GetAlerts lists the user's alerts; ?unread=true hides read ones
func (h *Handler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	alerts, err := h.Store.ListAlerts(r.Context(), claims.UserID, r.URL.Query().Get("unread") == "true")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(alerts))
}

// MarkAlertRead marks one of the user's alerts as read
func (h *Handler) MarkAlertRead(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	alertID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.Store.MarkAlertRead(r.Context(), alertID, claims.UserID); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Alert marked as read"})
}

// nonNil makes empty lists encode as [] rather than null
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
