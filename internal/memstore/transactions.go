package memstore

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/xtrntr/cryptodesk/internal/models"
	"github.com/xtrntr/cryptodesk/internal/store"
)

func (s *Store) CreateTransactionRequest(ctx context.Context, req *models.TransactionRequest) (*models.TransactionRequest, error) {
	defer s.autocommit(ctx)()
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.users[req.UserID]; !ok {
		return nil, fmt.Errorf("%w: user %d", store.ErrNotFound, req.UserID)
	}

	s.data.seq.request++
	created := *req
	created.ID = s.data.seq.request
	created.CreatedAt = time.Now()
	s.data.requests[created.ID] = created
	return &created, nil
}

func (s *Store) GetTransactionRequestForUpdate(ctx context.Context, id int64) (*models.TransactionRequest, error) {
	defer s.autocommit(ctx)()
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.data.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: transaction request %d", store.ErrNotFound, id)
	}
	return &r, nil
}

func (s *Store) ListTransactionRequests(ctx context.Context, f models.RequestFilter) ([]models.TransactionRequest, error) {
	defer s.autocommit(ctx)()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.TransactionRequest
	for _, r := range s.data.requests {
		if f.UserID != 0 && r.UserID != f.UserID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		result = append(result, r)
	}
	slices.SortFunc(result, func(a, b models.TransactionRequest) int { return int(b.ID - a.ID) })
	return page(result, f.Limit, f.Offset), nil
}

func (s *Store) UpdateTransactionRequestStatus(ctx context.Context, id int64, status models.RequestStatus, reviewerID int64, note string) error {
	defer s.autocommit(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.data.requests[id]
	if !ok || r.Status != models.RequestPending {
		return fmt.Errorf("transaction request %d: %w", id, store.ErrNotPending)
	}
	now := time.Now()
	r.Status = status
	r.ReviewedBy = &reviewerID
	r.ReviewedAt = &now
	r.Note = note
	s.data.requests[id] = r
	return nil
}

func (s *Store) CreateTransactionHistory(ctx context.Context, h *models.TransactionHistory) (*models.TransactionHistory, error) {
	defer s.autocommit(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.users[h.UserID]; !ok {
		return nil, fmt.Errorf("%w: user %d", store.ErrNotFound, h.UserID)
	}

	s.data.seq.history++
	created := *h
	created.ID = s.data.seq.history
	created.CreatedAt = time.Now()
	s.data.history = append(s.data.history, created)
	return &created, nil
}

func (s *Store) ListTransactionHistory(ctx context.Context, f models.HistoryFilter) ([]models.TransactionHistory, error) {
	defer s.autocommit(ctx)()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.TransactionHistory
	for i := len(s.data.history) - 1; i >= 0; i-- {
		h := s.data.history[i]
		if f.UserID != 0 && h.UserID != f.UserID {
			continue
		}
		if f.Type != "" && h.Type != f.Type {
			continue
		}
		result = append(result, h)
	}
	return page(result, f.Limit, f.Offset), nil
}
