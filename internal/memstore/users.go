package memstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/cryptodesk/internal/models"
	"github.com/xtrntr/cryptodesk/internal/store"
)

func (s *Store) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	defer s.autocommit(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.data.users {
		if u.Username == user.Username {
			return nil, fmt.Errorf("%w: username %s", store.ErrDuplicate, user.Username)
		}
		if strings.EqualFold(u.Email, user.Email) {
			return nil, fmt.Errorf("%w: email %s", store.ErrDuplicate, user.Email)
		}
	}

	s.data.seq.user++
	now := time.Now()
	created := *user
	created.ID = s.data.seq.user
	created.Roles = slices.Clone(user.Roles)
	if len(created.Roles) == 0 {
		created.Roles = []string{user.Role}
	}
	created.KYCVerified = created.KYCStatus == models.KYCApproved
	created.CreatedAt = now
	created.UpdatedAt = now
	s.data.users[created.ID] = created

	return &created, nil
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	defer s.autocommit(ctx)()
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.data.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %d", store.ErrNotFound, id)
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	defer s.autocommit(ctx)()
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.data.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, fmt.Errorf("%w: user %s", store.ErrNotFound, email)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	defer s.autocommit(ctx)()
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.data.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, fmt.Errorf("%w: user %s", store.ErrNotFound, username)
}

// GetUserForUpdate is GetUserByID; the transaction lock already serialises writers.
func (s *Store) GetUserForUpdate(ctx context.Context, id int64) (*models.User, error) {
	return s.GetUserByID(ctx, id)
}

func (s *Store) UpdateUserBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	defer s.autocommit(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.data.users[id]
	if !ok {
		return fmt.Errorf("%w: user %d", store.ErrNotFound, id)
	}
	if balance.IsNegative() {
		return fmt.Errorf("balance of user %d cannot be negative", id)
	}
	u.Balance = balance
	u.UpdatedAt = time.Now()
	s.data.users[id] = u
	return nil
}

func (s *Store) UpdateUser(ctx context.Context, id int64, upd models.UserUpdate) (*models.User, error) {
	defer s.autocommit(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.data.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %d", store.ErrNotFound, id)
	}
	if upd.Role != nil {
		u.Role = *upd.Role
	}
	if upd.Roles != nil {
		u.Roles = slices.Clone(upd.Roles)
	}
	if upd.Status != nil {
		u.Status = *upd.Status
	}
	if upd.TwoFactorEnabled != nil {
		u.TwoFactorEnabled = *upd.TwoFactorEnabled
	}
	u.UpdatedAt = time.Now()
	s.data.users[id] = u
	return &u, nil
}

func (s *Store) SetUserKYCStatus(ctx context.Context, id int64, status models.KYCStatus) error {
	defer s.autocommit(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.data.users[id]
	if !ok {
		return fmt.Errorf("%w: user %d", store.ErrNotFound, id)
	}
	u.KYCStatus = status
	u.KYCVerified = status == models.KYCApproved
	u.UpdatedAt = time.Now()
	s.data.users[id] = u
	return nil
}

func (s *Store) ListUsers(ctx context.Context, f models.UserFilter) ([]models.User, error) {
	defer s.autocommit(ctx)()
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(f.Search)
	var result []models.User
	for _, u := range s.data.users {
		if f.Status != "" && u.Status != f.Status {
			continue
		}
		if f.Role != "" && u.Role != f.Role && !slices.Contains(u.Roles, f.Role) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(u.Username), search) &&
			!strings.Contains(strings.ToLower(u.Email), search) {
			continue
		}
		result = append(result, u)
	}
	slices.SortFunc(result, func(a, b models.User) int { return int(a.ID - b.ID) })
	return page(result, f.Limit, f.Offset), nil
}
