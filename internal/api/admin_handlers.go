package api

import (
	"context"
	"net/http"
	"slices"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/cryptodesk/internal/models"
)

type reviewRequest struct {
	Note string `json:"note"`
}

// decodeReview reads an optional {"note": "..."} body
func decodeReview(w http.ResponseWriter, r *http.Request) (reviewRequest, error) {
	var req reviewRequest
	if r.ContentLength == 0 {
		return req, nil
	}
	err := decodeJSON(w, r, &req)
	return req, err
}

func (h *Handler) audit(ctx context.Context, actorID int64, action, entityType, entityID string, details map[string]any) {
	if err := h.Store.CreateAuditLog(ctx, &models.AuditLog{
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
	}); err != nil {
		h.Logger.Warn("failed to write audit log", "action", action, "error", err)
	}
}

// AdminListUsers lists users filtered by status, role and a search term
func (h *Handler) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	users, err := h.Store.ListUsers(r.Context(), models.UserFilter{
		Status: models.UserStatus(q.Get("status")),
		Role:   q.Get("role"),
		Search: q.Get("search"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(users))
}

// AdminGetUser returns a user with their positions and KYC record
func (h *Handler) AdminGetUser(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	user, err := h.Store.GetUserByID(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	assets, err := h.Store.ListAssets(r.Context(), models.AssetFilter{UserID: userID})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	kycData, err := h.KYC.Get(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":   user,
		"assets": nonNil(assets),
		"kyc":    kycData,
	})
}

// AdminUpdateUser changes a user's role, roles, status or 2FA flag
func (h *Handler) AdminUpdateUser(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	userID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var upd models.UserUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		h.fail(w, r, err)
		return
	}

	validRole := func(role string) bool { return role == models.RoleUser || role == models.RoleAdmin }
	if upd.Role != nil && !validRole(*upd.Role) {
		h.fail(w, r, badRequest("role must be 'user' or 'admin'"))
		return
	}
	for _, role := range upd.Roles {
		if !validRole(role) {
			h.fail(w, r, badRequest("unknown role %q", role))
			return
		}
	}
	if upd.Status != nil && *upd.Status != models.UserStatusActive && *upd.Status != models.UserStatusSuspended {
		h.fail(w, r, badRequest("status must be 'active' or 'suspended'"))
		return
	}
	if userID == claims.UserID {
		demoted := (upd.Role != nil && *upd.Role != models.RoleAdmin) ||
			(upd.Roles != nil && !slices.Contains(upd.Roles, models.RoleAdmin))
		suspended := upd.Status != nil && *upd.Status == models.UserStatusSuspended
		if demoted || suspended {
			h.fail(w, r, badRequest("admins cannot demote or suspend themselves"))
			return
		}
	}

	user, err := h.Store.UpdateUser(r.Context(), userID, upd)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	details := map[string]any{}
	if upd.Role != nil {
		details["role"] = *upd.Role
	}
	if upd.Roles != nil {
		details["roles"] = upd.Roles
	}
	if upd.Status != nil {
		details["status"] = string(*upd.Status)
	}
	if upd.TwoFactorEnabled != nil {
		details["two_factor_enabled"] = *upd.TwoFactorEnabled
	}
	h.audit(r.Context(), claims.UserID, "user.updated", "user", strconv.FormatInt(userID, 10), details)

	writeJSON(w, http.StatusOK, user)
}

// AdminAdjustBalance credits or debits a user's balance
func (h *Handler) AdminAdjustBalance(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	userID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var req struct {
		Amount decimal.Decimal `json:"amount"`
		Reason string          `json:"reason"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	user, err := h.Funds.AdjustBalance(r.Context(), userID, claims.UserID, req.Amount, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// AdminListAssets lists positions across users
func (h *Handler) AdminListAssets(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	userID, err := queryInt64(r, "user_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	assets, err := h.Store.ListAssets(r.Context(), models.AssetFilter{
		UserID: userID,
		Symbol: r.URL.Query().Get("symbol"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(assets))
}

// AdminUpdateAsset overwrites a position's quantity and average price
func (h *Handler) AdminUpdateAsset(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	assetID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var req struct {
		Quantity     *decimal.Decimal `json:"quantity"`
		AveragePrice *decimal.Decimal `json:"average_price"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Quantity != nil && !req.Quantity.IsPositive() {
		h.fail(w, r, badRequest("quantity must be positive; delete the asset to remove it"))
		return
	}
	if req.AveragePrice != nil && req.AveragePrice.IsNegative() {
		h.fail(w, r, badRequest("average_price cannot be negative"))
		return
	}

	asset, err := h.Store.GetAssetByID(r.Context(), assetID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	before := *asset
	if req.Quantity != nil {
		asset.Quantity = *req.Quantity
	}
	if req.AveragePrice != nil {
		asset.AveragePrice = *req.AveragePrice
	}
	if err := h.Store.UpdateAsset(r.Context(), asset); err != nil {
		h.fail(w, r, err)
		return
	}

	h.audit(r.Context(), claims.UserID, "asset.updated", "asset", strconv.FormatInt(assetID, 10), map[string]any{
		"user_id":             asset.UserID,
		"symbol":              asset.Symbol,
		"quantity_before":     before.Quantity.String(),
		"quantity_after":      asset.Quantity.String(),
		"average_price_after": asset.AveragePrice.String(),
	})

	updated, err := h.Store.GetAssetByID(r.Context(), assetID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// AdminDeleteAsset removes a position
func (h *Handler) AdminDeleteAsset(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	assetID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	asset, err := h.Store.GetAssetByID(r.Context(), assetID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Store.DeleteAsset(r.Context(), assetID); err != nil {
		h.fail(w, r, err)
		return
	}

	h.audit(r.Context(), claims.UserID, "asset.deleted", "asset", strconv.FormatInt(assetID, 10), map[string]any{
		"user_id":  asset.UserID,
		"symbol":   asset.Symbol,
		"quantity": asset.Quantity.String(),
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Asset deleted"})
}

// AdminListOrders lists orders across users
func (h *Handler) AdminListOrders(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	userID, err := queryInt64(r, "user_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	orders, err := h.Store.ListOrders(r.Context(), models.OrderFilter{
		UserID: userID,
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

// AdminListTransactions lists balance history across users
func (h *Handler) AdminListTransactions(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	userID, err := queryInt64(r, "user_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	history, err := h.Store.ListTransactionHistory(r.Context(), models.HistoryFilter{
		UserID: userID,
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

// AdminListTransactionRequests lists deposit and withdrawal requests
func (h *Handler) AdminListTransactionRequests(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	userID, err := queryInt64(r, "user_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	requests, err := h.Store.ListTransactionRequests(r.Context(), models.RequestFilter{
		UserID: userID,
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

// AdminApproveTransactionRequest executes a pending request
func (h *Handler) AdminApproveTransactionRequest(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	requestID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	approved, err := h.Funds.Approve(r.Context(), requestID, claims.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, approved)
}

// AdminRejectTransactionRequest declines a pending request
func (h *Handler) AdminRejectTransactionRequest(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	requestID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := decodeReview(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	rejected, err := h.Funds.Reject(r.Context(), requestID, claims.UserID, req.Note)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rejected)
}

// AdminListKYC lists KYC submissions, pending ones by default
func (h *Handler) AdminListKYC(w http.ResponseWriter, r *http.Request) {
	status := models.KYCStatus(r.URL.Query().Get("status"))
	switch status {
	case "":
		status = models.KYCPending
	case "all":
		status = ""
	}

	list, err := h.KYC.List(r.Context(), status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

// AdminApproveKYC approves a pending KYC submission
func (h *Handler) AdminApproveKYC(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	userID, err := pathID(r, "userID")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	data, err := h.KYC.Approve(r.Context(), userID, claims.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// AdminRejectKYC rejects a pending KYC submission
func (h *Handler) AdminRejectKYC(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	userID, err := pathID(r, "userID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := decodeReview(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	data, err := h.KYC.Reject(r.Context(), userID, claims.UserID, req.Note)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// AdminListAuditLogs lists audit entries, newest first
func (h *Handler) AdminListAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	actorID, err := queryInt64(r, "actor_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	logs, err := h.Store.ListAuditLogs(r.Context(), models.AuditFilter{
		ActorID:    actorID,
		Action:     r.URL.Query().Get("action"),
		EntityType: r.URL.Query().Get("entity_type"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(logs))
}
