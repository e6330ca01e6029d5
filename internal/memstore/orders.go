package memstore

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/cryptodesk/internal/models"
	"github.com/xtrntr/cryptodesk/internal/store"
)

func (s *Store) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	defer s.autocommit(ctx)()
	if order.Side != models.SideBuy && order.Side != models.SideSell {
		return nil, fmt.Errorf("side must be 'buy' or 'sell'")
	}
	if !order.Quantity.IsPositive() {
		return nil, fmt.Errorf("quantity must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.users[order.UserID]; !ok {
		return nil, fmt.Errorf("%w: user %d", store.ErrNotFound, order.UserID)
	}
	for _, o := range s.data.orders {
		if o.ClientOrderID == order.ClientOrderID {
			return nil, fmt.Errorf("%w: client order id %s", store.ErrDuplicate, order.ClientOrderID)
		}
	}

	s.data.seq.order++
	created := *order
	created.ID = s.data.seq.order
	created.CreatedAt = time.Now()
	s.data.orders[created.ID] = created
	return &created, nil
}

func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	defer s.autocommit(ctx)()
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.data.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %d", store.ErrNotFound, id)
	}
	return &o, nil
}

func (s *Store) ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, error) {
	defer s.autocommit(ctx)()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.Order
	for _, o := range s.data.orders {
		if f.UserID != 0 && o.UserID != f.UserID {
			continue
		}
		if f.Symbol != "" && o.Symbol != f.Symbol {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		result = append(result, o)
	}
	// Newest first
	slices.SortFunc(result, func(a, b models.Order) int { return int(b.ID - a.ID) })
	return page(result, f.Limit, f.Offset), nil
}

func (s *Store) GetOpenOrders(ctx context.Context) ([]models.Order, error) {
	defer s.autocommit(ctx)()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.Order
	for _, o := range s.data.orders {
		if o.Status == models.OrderOpen {
			result = append(result, o)
		}
	}
	slices.SortFunc(result, func(a, b models.Order) int { return int(a.ID - b.ID) })
	return result, nil
}

func (s *Store) MarkOrderFilled(ctx context.Context, id int64, price, notional, fee decimal.Decimal, filledAt time.Time) error {
	defer s.autocommit(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.data.orders[id]
	if !ok || o.Status != models.OrderOpen {
		return fmt.Errorf("failed to fill order %d: %w", id, store.ErrOrderNotOpen)
	}
	o.Status = models.OrderFilled
	o.FilledPrice = price
	o.Notional = notional
	o.Fee = fee
	o.FilledAt = &filledAt
	s.data.orders[id] = o
	return nil
}

func (s *Store) MarkOrderRejected(ctx context.Context, id int64, reason string) error {
	defer s.autocommit(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.data.orders[id]
	if !ok || o.Status != models.OrderOpen {
		return fmt.Errorf("failed to reject order %d: %w", id, store.ErrOrderNotOpen)
	}
	o.Status = models.OrderRejected
	o.RejectReason = reason
	s.data.orders[id] = o
	return nil
}

func (s *Store) CancelOrder(ctx context.Context, orderID, userID int64) (*models.Order, error) {
	defer s.autocommit(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.data.orders[orderID]
	if !ok || o.UserID != userID {
		return nil, store.ErrNotFound
	}
	if o.Status != models.OrderOpen {
		return nil, store.ErrOrderNotOpen
	}
	o.Status = models.OrderCanceled
	s.data.orders[orderID] = o
	return &o, nil
}
