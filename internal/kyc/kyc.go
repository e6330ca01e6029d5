// Package kyc handles identity verification submissions and their review.
package kyc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/xtrntr/cryptodesk/internal/models"
	"github.com/xtrntr/cryptodesk/internal/store"
)

var (
	ErrInvalidForm      = errors.New("invalid kyc form")
	ErrAlreadySubmitted = errors.New("kyc already submitted")
)

// Form is what a user submits for verification
type Form struct {
	FullName       string `json:"full_name"`
	DateOfBirth    string `json:"date_of_birth"`
	Country        string `json:"country"`
	DocumentType   string `json:"document_type"`
	DocumentNumber string `json:"document_number"`
	Address        string `json:"address"`
}

var documentTypes = map[string]bool{
	"passport":        true,
	"id_card":         true,
	"drivers_license": true,
}

func (f *Form) normalize() {
	f.FullName = strings.TrimSpace(f.FullName)
	f.DateOfBirth = strings.TrimSpace(f.DateOfBirth)
	f.Country = strings.ToUpper(strings.TrimSpace(f.Country))
	f.DocumentType = strings.ToLower(strings.TrimSpace(f.DocumentType))
	f.DocumentNumber = strings.TrimSpace(f.DocumentNumber)
	f.Address = strings.TrimSpace(f.Address)
}

func (f Form) validate() error {
	switch {
	case f.FullName == "":
		return fmt.Errorf("%w: full_name is required", ErrInvalidForm)
	case f.DateOfBirth == "":
		return fmt.Errorf("%w: date_of_birth is required", ErrInvalidForm)
	case f.Country == "":
		return fmt.Errorf("%w: country is required", ErrInvalidForm)
	case f.DocumentType == "":
		return fmt.Errorf("%w: document_type is required", ErrInvalidForm)
	case f.DocumentNumber == "":
		return fmt.Errorf("%w: document_number is required", ErrInvalidForm)
	case f.Address == "":
		return fmt.Errorf("%w: address is required", ErrInvalidForm)
	}
	if _, err := time.Parse(time.DateOnly, f.DateOfBirth); err != nil {
		return fmt.Errorf("%w: date_of_birth must be YYYY-MM-DD", ErrInvalidForm)
	}
	if !documentTypes[f.DocumentType] {
		return fmt.Errorf("%w: unsupported document_type %q", ErrInvalidForm, f.DocumentType)
	}
	return nil
}

// Service runs the KYC workflow
type Service struct {
	store  store.Store
	logger *slog.Logger
}

// NewService creates a KYC service
func NewService(st store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, logger: logger.With("component", "kyc")}
}

// Submit stores the form as pending. Users already pending or approved
// cannot resubmit.
func (s *Service) Submit(ctx context.Context, userID int64, form Form) (*models.KYCData, error) {
	form.normalize()
	if err := form.validate(); err != nil {
		return nil, err
	}

	var saved *models.KYCData
	err := s.store.WithinTransaction(ctx, func(ctx context.Context) error {
		user, err := s.store.GetUserForUpdate(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to lock user: %w", err)
		}
		if user.KYCStatus == models.KYCPending || user.KYCStatus == models.KYCApproved {
			return fmt.Errorf("%w: status is %s", ErrAlreadySubmitted, user.KYCStatus)
		}

		saved, err = s.store.UpsertKYC(ctx, &models.KYCData{
			UserID:         userID,
			FullName:       form.FullName,
			DateOfBirth:    form.DateOfBirth,
			Country:        form.Country,
			DocumentType:   form.DocumentType,
			DocumentNumber: form.DocumentNumber,
			Address:        form.Address,
			Status:         models.KYCPending,
		})
		if err != nil {
			return fmt.Errorf("failed to save kyc: %w", err)
		}
		if err := s.store.SetUserKYCStatus(ctx, userID, models.KYCPending); err != nil {
			return fmt.Errorf("failed to update user: %w", err)
		}
		return s.store.CreateAuditLog(ctx, &models.AuditLog{
			ActorID:    userID,
			Action:     "kyc.submitted",
			EntityType: "kyc",
			EntityID:   strconv.FormatInt(userID, 10),
			Details:    map[string]any{"country": form.Country, "document_type": form.DocumentType},
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("kyc submitted", "user_id", userID)
	return saved, nil
}

// Get returns the user's KYC record, or an unsubmitted placeholder
func (s *Service) Get(ctx context.Context, userID int64) (*models.KYCData, error) {
	k, err := s.store.GetKYC(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return &models.KYCData{UserID: userID, Status: models.KYCUnsubmitted}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get kyc: %w", err)
	}
	return k, nil
}

// List returns submissions, filtered by status when one is given
func (s *Service) List(ctx context.Context, status models.KYCStatus) ([]models.KYCData, error) {
	list, err := s.store.ListKYC(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list kyc: %w", err)
	}
	return list, nil
}

// Approve verifies a pending submission
func (s *Service) Approve(ctx context.Context, userID, adminID int64) (*models.KYCData, error) {
	return s.review(ctx, userID, adminID, models.KYCApproved, "")
}

// Reject declines a pending submission; the user may submit again
func (s *Service) Reject(ctx context.Context, userID, adminID int64, note string) (*models.KYCData, error) {
	return s.review(ctx, userID, adminID, models.KYCRejected, note)
}

func (s *Service) review(ctx context.Context, userID, adminID int64, status models.KYCStatus, note string) (*models.KYCData, error) {
	var reviewed *models.KYCData
	err := s.store.WithinTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.store.GetUserForUpdate(ctx, userID); err != nil {
			return fmt.Errorf("failed to lock user: %w", err)
		}
		if err := s.store.UpdateKYCStatus(ctx, userID, status, adminID, note); err != nil {
			return fmt.Errorf("failed to update kyc: %w", err)
		}
		if err := s.store.SetUserKYCStatus(ctx, userID, status); err != nil {
			return fmt.Errorf("failed to update user: %w", err)
		}

		action := "kyc.approved"
		alert := &models.Alert{
			UserID:  userID,
			Type:    models.AlertSuccess,
			Title:   "Identity verified",
			Message: "Your KYC verification was approved. Withdrawals are now enabled.",
		}
		if status == models.KYCRejected {
			action = "kyc.rejected"
			alert.Type = models.AlertWarning
			alert.Title = "Identity verification rejected"
			alert.Message = "Your KYC verification was rejected."
			if note != "" {
				alert.Message += " Reason: " + note
			}
		}

		if err := s.store.CreateAuditLog(ctx, &models.AuditLog{
			ActorID:    adminID,
			Action:     action,
			EntityType: "kyc",
			EntityID:   strconv.FormatInt(userID, 10),
			Details:    map[string]any{"note": note},
		}); err != nil {
			return fmt.Errorf("failed to write audit log: %w", err)
		}
		if err := s.store.CreateAlert(ctx, alert); err != nil {
			return fmt.Errorf("failed to write alert: %w", err)
		}

		var err error
		reviewed, err = s.store.GetKYC(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("kyc reviewed", "user_id", userID, "admin_id", adminID, "status", status)
	return reviewed, nil
}
