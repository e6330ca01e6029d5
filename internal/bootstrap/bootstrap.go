// Package bootstrap creates the accounts a fresh deployment needs: an admin
// and, optionally, a KYC-approved demo trader.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xtrntr/cryptodesk/internal/kyc"
	"github.com/xtrntr/cryptodesk/internal/models"
	"github.com/xtrntr/cryptodesk/internal/store"
)

// Registrar creates accounts with hashed passwords
type Registrar interface {
	Register(ctx context.Context, username, email, password string) (*models.User, error)
}

// Accounts names the passwords of the seeded users
type Accounts struct {
	AdminPassword string
	// TraderPassword empty skips the demo trader.
	TraderPassword string
}

var demoTraderKYC = kyc.Form{
	FullName:       "Demo Trader",
	DateOfBirth:    "1990-01-01",
	Country:        "US",
	DocumentType:   "passport",
	DocumentNumber: "DEMO00001",
	Address:        "1 Demo Street, Springfield",
}

// Seeder creates the bootstrap accounts. Running it again is a no-op.
type Seeder struct {
	store  store.Store
	auth   Registrar
	kyc    *kyc.Service
	logger *slog.Logger
}

// NewSeeder creates a seeder
func NewSeeder(st store.Store, auth Registrar, kycService *kyc.Service, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{store: st, auth: auth, kyc: kycService, logger: logger.With("component", "bootstrap")}
}

// Run makes sure the admin exists with the admin role and, when a trader
// password is given, that the demo trader exists with approved KYC
func (s *Seeder) Run(ctx context.Context, accounts Accounts) error {
	if accounts.AdminPassword == "" {
		return fmt.Errorf("admin password is required")
	}

	admin, err := s.ensureUser(ctx, "admin", "admin@cryptodesk.local", accounts.AdminPassword)
	if err != nil {
		return err
	}
	if !admin.IsAdmin() {
		role := models.RoleAdmin
		if _, err := s.store.UpdateUser(ctx, admin.ID, models.UserUpdate{
			Role:  &role,
			Roles: []string{models.RoleUser, models.RoleAdmin},
		}); err != nil {
			return fmt.Errorf("failed to grant admin role: %w", err)
		}
		s.logger.Info("granted admin role", "user_id", admin.ID)
	}

	if accounts.TraderPassword == "" {
		return nil
	}
	trader, err := s.ensureUser(ctx, "trader1", "trader1@cryptodesk.local", accounts.TraderPassword)
	if err != nil {
		return err
	}
	return s.approveKYC(ctx, trader, admin.ID)
}

// approveKYC submits the demo document when needed and approves it. A user
// whose status has no KYC record behind it is reset and submitted again.
func (s *Seeder) approveKYC(ctx context.Context, user *models.User, adminID int64) error {
	record, err := s.kyc.Get(ctx, user.ID)
	if err != nil {
		return err
	}

	switch record.Status {
	case models.KYCApproved:
		return nil
	case models.KYCPending:
	default:
		if record.Status == models.KYCUnsubmitted && user.KYCStatus != models.KYCUnsubmitted {
			s.logger.Warn("kyc status has no record, resetting", "user_id", user.ID, "status", user.KYCStatus)
			if err := s.store.SetUserKYCStatus(ctx, user.ID, models.KYCUnsubmitted); err != nil {
				return fmt.Errorf("failed to reset kyc status: %w", err)
			}
		}
		if _, err := s.kyc.Submit(ctx, user.ID, demoTraderKYC); err != nil {
			return fmt.Errorf("failed to submit demo kyc: %w", err)
		}
	}

	if _, err := s.kyc.Approve(ctx, user.ID, adminID); err != nil {
		return fmt.Errorf("failed to approve demo kyc: %w", err)
	}
	s.logger.Info("approved demo trader kyc", "user_id", user.ID)
	return nil
}

// ensureUser returns the existing user or registers a new one
func (s *Seeder) ensureUser(ctx context.Context, username, email, password string) (*models.User, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err == nil {
		s.logger.Info("user already exists", "username", username, "user_id", user.ID)
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up %s: %w", username, err)
	}

	user, err = s.auth.Register(ctx, username, email, password)
	if err != nil {
		return nil, fmt.Errorf("failed to register %s: %w", username, err)
	}
	s.logger.Info("created user", "username", username, "user_id", user.ID)
	return user, nil
}
