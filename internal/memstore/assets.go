package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/xtrntr/cryptodesk/internal/models"
	"github.com/xtrntr/cryptodesk/internal/store"
)

func (s *Store) GetAssetForUpdate(ctx context.Context, userID int64, symbol string) (*models.Asset, error) {
	defer s.autocommit(ctx)()
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.data.assets {
		if a.UserID == userID && a.Symbol == symbol {
			return &a, nil
		}
	}
	return nil, fmt.Errorf("%w: asset %s of user %d", store.ErrNotFound, symbol, userID)
}

func (s *Store) GetAssetByID(ctx context.Context, id int64) (*models.Asset, error) {
	defer s.autocommit(ctx)()
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.data.assets[id]
	if !ok {
		return nil, fmt.Errorf("%w: asset %d", store.ErrNotFound, id)
	}
	return &a, nil
}

func (s *Store) ListAssets(ctx context.Context, f models.AssetFilter) ([]models.Asset, error) {
	defer s.autocommit(ctx)()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.Asset
	for _, a := range s.data.assets {
		if f.UserID != 0 && a.UserID != f.UserID {
			continue
		}
		if f.Symbol != "" && a.Symbol != f.Symbol {
			continue
		}
		result = append(result, a)
	}
	slices.SortFunc(result, func(a, b models.Asset) int {
		return cmp.Or(cmp.Compare(a.UserID, b.UserID), cmp.Compare(a.Symbol, b.Symbol))
	})
	return page(result, f.Limit, f.Offset), nil
}

func (s *Store) CreateAsset(ctx context.Context, asset *models.Asset) (*models.Asset, error) {
	defer s.autocommit(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.users[asset.UserID]; !ok {
		return nil, fmt.Errorf("%w: user %d", store.ErrNotFound, asset.UserID)
	}
	for _, a := range s.data.assets {
		if a.UserID == asset.UserID && a.Symbol == asset.Symbol {
			return nil, fmt.Errorf("%w: asset %s of user %d", store.ErrDuplicate, asset.Symbol, asset.UserID)
		}
	}

	s.data.seq.asset++
	now := time.Now()
	created := *asset
	created.ID = s.data.seq.asset
	created.CreatedAt = now
	created.UpdatedAt = now
	s.data.assets[created.ID] = created
	return &created, nil
}

func (s *Store) UpdateAsset(ctx context.Context, asset *models.Asset) error {
	defer s.autocommit(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.data.assets[asset.ID]
	if !ok {
		return fmt.Errorf("%w: asset %d", store.ErrNotFound, asset.ID)
	}
	if asset.Quantity.IsNegative() {
		return fmt.Errorf("asset %d quantity cannot be negative", asset.ID)
	}
	a.Quantity = asset.Quantity
	a.AveragePrice = asset.AveragePrice
	a.UpdatedAt = time.Now()
	s.data.assets[a.ID] = a
	return nil
}

func (s *Store) DeleteAsset(ctx context.Context, id int64) error {
	defer s.autocommit(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.assets[id]; !ok {
		return fmt.Errorf("%w: asset %d", store.ErrNotFound, id)
	}
	delete(s.data.assets, id)
	return nil
}
