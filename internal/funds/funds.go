// Package funds implements the deposit and withdrawal request workflow and
// admin balance adjustments.
package funds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/cryptodesk/internal/models"
	"github.com/xtrntr/cryptodesk/internal/store"
)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrKYCRequired         = errors.New("kyc approval required")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAccountSuspended    = errors.New("account suspended")
)

// Recorder receives review outcomes for metrics
type Recorder interface {
	FundsReviewed(requestType, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) FundsReviewed(string, string) {}

// Service moves money in and out of user balances
type Service struct {
	store    store.Store
	recorder Recorder
	logger   *slog.Logger
}

// NewService creates a funds service
func NewService(st store.Store, recorder Recorder, logger *slog.Logger) *Service {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, recorder: recorder, logger: logger.With("component", "funds")}
}

// RequestDeposit files a deposit for admin approval
func (s *Service) RequestDeposit(ctx context.Context, userID int64, amount decimal.Decimal, note string) (*models.TransactionRequest, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user.Status == models.UserStatusSuspended {
		return nil, ErrAccountSuspended
	}
	return s.createRequest(ctx, userID, models.RequestDeposit, amount, note)
}

// RequestWithdraw files a withdrawal for admin approval. The user must have
// passed KYC and hold the amount now; the balance is checked again on
// approval.
func (s *Service) RequestWithdraw(ctx context.Context, userID int64, amount decimal.Decimal, note string) (*models.TransactionRequest, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user.Status == models.UserStatusSuspended {
		return nil, ErrAccountSuspended
	}
	if user.KYCStatus != models.KYCApproved {
		return nil, ErrKYCRequired
	}
	if user.Balance.LessThan(amount) {
		return nil, fmt.Errorf("%w: requested %s, have %s", ErrInsufficientBalance, amount, user.Balance)
	}
	return s.createRequest(ctx, userID, models.RequestWithdraw, amount, note)
}

func (s *Service) createRequest(ctx context.Context, userID int64, typ models.RequestType, amount decimal.Decimal, note string) (*models.TransactionRequest, error) {
	var req *models.TransactionRequest
	err := s.store.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		req, err = s.store.CreateTransactionRequest(ctx, &models.TransactionRequest{
			UserID: userID,
			Type:   typ,
			Amount: amount,
			Status: models.RequestPending,
			Note:   note,
		})
		if err != nil {
			return fmt.Errorf("failed to create %s request: %w", typ, err)
		}
		return s.store.CreateAuditLog(ctx, &models.AuditLog{
			ActorID:    userID,
			Action:     "transaction_request.created",
			EntityType: "transaction_request",
			EntityID:   strconv.FormatInt(req.ID, 10),
			Details:    map[string]any{"type": string(typ), "amount": amount.String()},
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("transaction request created", "request_id", req.ID, "user_id", userID, "type", typ, "amount", amount)
	return req, nil
}

// Approve executes a pending request. A withdrawal the balance no longer
// covers fails and the request stays pending.
func (s *Service) Approve(ctx context.Context, requestID, adminID int64) (*models.TransactionRequest, error) {
	var approved *models.TransactionRequest
	err := s.store.WithinTransaction(ctx, func(ctx context.Context) error {
		req, err := s.store.GetTransactionRequestForUpdate(ctx, requestID)
		if err != nil {
			return fmt.Errorf("failed to lock request: %w", err)
		}
		if req.Status != models.RequestPending {
			return fmt.Errorf("transaction request %d: %w", requestID, store.ErrNotPending)
		}

		user, err := s.store.GetUserForUpdate(ctx, req.UserID)
		if err != nil {
			return fmt.Errorf("failed to lock user: %w", err)
		}

		delta := req.Amount
		historyType := models.HistoryDeposit
		if req.Type == models.RequestWithdraw {
			if user.Balance.LessThan(req.Amount) {
				return fmt.Errorf("%w: withdrawal of %s, balance %s", ErrInsufficientBalance, req.Amount, user.Balance)
			}
			delta = req.Amount.Neg()
			historyType = models.HistoryWithdraw
		}
		balanceAfter := user.Balance.Add(delta)

		if err := s.store.UpdateUserBalance(ctx, user.ID, balanceAfter); err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}
		reqID := req.ID
		if _, err := s.store.CreateTransactionHistory(ctx, &models.TransactionHistory{
			UserID:        user.ID,
			Type:          historyType,
			Amount:        delta,
			BalanceBefore: user.Balance,
			BalanceAfter:  balanceAfter,
			RequestID:     &reqID,
			Description:   fmt.Sprintf("%s of %s approved", req.Type, req.Amount),
		}); err != nil {
			return fmt.Errorf("failed to write history: %w", err)
		}
		if err := s.store.UpdateTransactionRequestStatus(ctx, req.ID, models.RequestExecuted, adminID, req.Note); err != nil {
			return fmt.Errorf("failed to update request: %w", err)
		}
		if err := s.store.CreateAuditLog(ctx, &models.AuditLog{
			ActorID:    adminID,
			Action:     "transaction_request.approved",
			EntityType: "transaction_request",
			EntityID:   strconv.FormatInt(req.ID, 10),
			Details: map[string]any{
				"user_id":        user.ID,
				"type":           string(req.Type),
				"amount":         req.Amount.String(),
				"balance_before": user.Balance.String(),
				"balance_after":  balanceAfter.String(),
			},
		}); err != nil {
			return fmt.Errorf("failed to write audit log: %w", err)
		}
		if err := s.store.CreateAlert(ctx, &models.Alert{
			UserID:  user.ID,
			Type:    models.AlertSuccess,
			Title:   fmt.Sprintf("%s approved", title(req.Type)),
			Message: fmt.Sprintf("Your %s of %s has been processed. New balance: %s", req.Type, req.Amount, balanceAfter),
		}); err != nil {
			return fmt.Errorf("failed to write alert: %w", err)
		}

		approved, err = s.store.GetTransactionRequestForUpdate(ctx, req.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.recorder.FundsReviewed(string(approved.Type), "approved")
	s.logger.Info("transaction request approved", "request_id", requestID, "admin_id", adminID)
	return approved, nil
}

// Reject declines a pending request
func (s *Service) Reject(ctx context.Context, requestID, adminID int64, note string) (*models.TransactionRequest, error) {
	var rejected *models.TransactionRequest
	err := s.store.WithinTransaction(ctx, func(ctx context.Context) error {
		req, err := s.store.GetTransactionRequestForUpdate(ctx, requestID)
		if err != nil {
			return fmt.Errorf("failed to lock request: %w", err)
		}
		if note == "" {
			note = req.Note
		}
		if err := s.store.UpdateTransactionRequestStatus(ctx, req.ID, models.RequestRejected, adminID, note); err != nil {
			return fmt.Errorf("failed to update request: %w", err)
		}
		if err := s.store.CreateAuditLog(ctx, &models.AuditLog{
			ActorID:    adminID,
			Action:     "transaction_request.rejected",
			EntityType: "transaction_request",
			EntityID:   strconv.FormatInt(req.ID, 10),
			Details:    map[string]any{"user_id": req.UserID, "type": string(req.Type), "amount": req.Amount.String(), "note": note},
		}); err != nil {
			return fmt.Errorf("failed to write audit log: %w", err)
		}

		message := fmt.Sprintf("Your %s of %s was rejected.", req.Type, req.Amount)
		if note != "" {
			message += " Reason: " + note
		}
		if err := s.store.CreateAlert(ctx, &models.Alert{
			UserID:  req.UserID,
			Type:    models.AlertWarning,
			Title:   fmt.Sprintf("%s rejected", title(req.Type)),
			Message: message,
		}); err != nil {
			return fmt.Errorf("failed to write alert: %w", err)
		}

		rejected, err = s.store.GetTransactionRequestForUpdate(ctx, req.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.recorder.FundsReviewed(string(rejected.Type), "rejected")
	s.logger.Info("transaction request rejected", "request_id", requestID, "admin_id", adminID)
	return rejected, nil
}

// AdjustBalance credits (positive amount) or debits (negative amount) a
// user directly. The balance never goes below zero.
func (s *Service) AdjustBalance(ctx context.Context, userID, adminID int64, amount decimal.Decimal, reason string) (*models.User, error) {
	if amount.IsZero() {
		return nil, fmt.Errorf("%w: amount must not be zero", ErrInvalidAmount)
	}

	var updated *models.User
	err := s.store.WithinTransaction(ctx, func(ctx context.Context) error {
		user, err := s.store.GetUserForUpdate(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to lock user: %w", err)
		}
		balanceAfter := user.Balance.Add(amount)
		if balanceAfter.IsNegative() {
			return fmt.Errorf("%w: debit of %s, balance %s", ErrInsufficientBalance, amount.Neg(), user.Balance)
		}
		if err := s.store.UpdateUserBalance(ctx, userID, balanceAfter); err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}

		description := "Balance adjusted by admin"
		if reason != "" {
			description += ": " + reason
		}
		if _, err := s.store.CreateTransactionHistory(ctx, &models.TransactionHistory{
			UserID:        userID,
			Type:          models.HistoryAdjustment,
			Amount:        amount,
			BalanceBefore: user.Balance,
			BalanceAfter:  balanceAfter,
			Description:   description,
		}); err != nil {
			return fmt.Errorf("failed to write history: %w", err)
		}
		if err := s.store.CreateAuditLog(ctx, &models.AuditLog{
			ActorID:    adminID,
			Action:     "user.balance_adjusted",
			EntityType: "user",
			EntityID:   strconv.FormatInt(userID, 10),
			Details: map[string]any{
				"amount":         amount.String(),
				"balance_before": user.Balance.String(),
				"balance_after":  balanceAfter.String(),
				"reason":         reason,
			},
		}); err != nil {
			return fmt.Errorf("failed to write audit log: %w", err)
		}
		if err := s.store.CreateAlert(ctx, &models.Alert{
			UserID:  userID,
			Type:    models.AlertInfo,
			Title:   "Balance adjusted",
			Message: fmt.Sprintf("Your balance was adjusted by %s. New balance: %s", amount, balanceAfter),
		}); err != nil {
			return fmt.Errorf("failed to write alert: %w", err)
		}

		updated, err = s.store.GetUserByID(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("balance adjusted", "user_id", userID, "admin_id", adminID, "amount", amount)
	return updated, nil
}

func title(t models.RequestType) string {
	if t == models.RequestWithdraw {
		return "Withdrawal"
	}
	return "Deposit"
}
