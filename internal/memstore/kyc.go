package memstore

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/xtrntr/cryptodesk/internal/models"
	"github.com/xtrntr/cryptodesk/internal/store"
)

func (s *Store) UpsertKYC(ctx context.Context, k *models.KYCData) (*models.KYCData, error) {
	defer s.autocommit(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.users[k.UserID]; !ok {
		return nil, fmt.Errorf("%w: user %d", store.ErrNotFound, k.UserID)
	}

	now := time.Now()
	saved := *k
	saved.ReviewNote = ""
	saved.ReviewedBy = nil
	saved.ReviewedAt = nil
	saved.SubmittedAt = &now
	s.data.kyc[k.UserID] = saved
	return &saved, nil
}

func (s *Store) GetKYC(ctx context.Context, userID int64) (*models.KYCData, error) {
	defer s.autocommit(ctx)()
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.data.kyc[userID]
	if !ok {
		return nil, fmt.Errorf("%w: kyc for user %d", store.ErrNotFound, userID)
	}
	return &k, nil
}

func (s *Store) ListKYC(ctx context.Context, status models.KYCStatus) ([]models.KYCData, error) {
	defer s.autocommit(ctx)()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.KYCData
	for _, k := range s.data.kyc {
		if status != "" && k.Status != status {
			continue
		}
		result = append(result, k)
	}
	slices.SortFunc(result, func(a, b models.KYCData) int {
		if a.SubmittedAt == nil || b.SubmittedAt == nil {
			return int(a.UserID - b.UserID)
		}
		return a.SubmittedAt.Compare(*b.SubmittedAt)
	})
	return page(result, maxListLimit, 0), nil
}

func (s *Store) UpdateKYCStatus(ctx context.Context, userID int64, status models.KYCStatus, reviewerID int64, note string) error {
	defer s.autocommit(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.data.kyc[userID]
	if !ok || k.Status != models.KYCPending {
		return fmt.Errorf("kyc for user %d: %w", userID, store.ErrNotPending)
	}
	now := time.Now()
	k.Status = status
	k.ReviewedBy = &reviewerID
	k.ReviewNote = note
	k.ReviewedAt = &now
	s.data.kyc[userID] = k
	return nil
}
