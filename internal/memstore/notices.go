package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/xtrntr/cryptodesk/internal/models"
	"github.com/xtrntr/cryptodesk/internal/store"
)

func (s *Store) CreateAuditLog(ctx context.Context, l *models.AuditLog) error {
	defer s.autocommit(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.seq.audit++
	l.ID = s.data.seq.audit
	l.CreatedAt = time.Now()
	if l.Details == nil {
		l.Details = map[string]any{}
	}
	stored := *l
	stored.Details = maps.Clone(l.Details)
	s.data.audit = append(s.data.audit, stored)
	return nil
}

func (s *Store) ListAuditLogs(ctx context.Context, f models.AuditFilter) ([]models.AuditLog, error) {
	defer s.autocommit(ctx)()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.AuditLog
	for i := len(s.data.audit) - 1; i >= 0; i-- {
		l := s.data.audit[i]
		if f.ActorID != 0 && l.ActorID != f.ActorID {
			continue
		}
		if f.Action != "" && l.Action != f.Action {
			continue
		}
		if f.EntityType != "" && l.EntityType != f.EntityType {
			continue
		}
		result = append(result, l)
	}
	return page(result, f.Limit, f.Offset), nil
}

func (s *Store) CreateAlert(ctx context.Context, a *models.Alert) error {
	defer s.autocommit(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.users[a.UserID]; !ok {
		return fmt.Errorf("%w: user %d", store.ErrNotFound, a.UserID)
	}
	s.data.seq.alert++
	a.ID = s.data.seq.alert
	a.Read = false
	a.CreatedAt = time.Now()
	s.data.alerts[a.ID] = *a
	return nil
}

func (s *Store) ListAlerts(ctx context.Context, userID int64, unreadOnly bool) ([]models.Alert, error) {
	defer s.autocommit(ctx)()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.Alert
	for _, a := range s.data.alerts {
		if a.UserID != userID || (unreadOnly && a.Read) {
			continue
		}
		result = append(result, a)
	}
	slices.SortFunc(result, func(a, b models.Alert) int { return int(b.ID - a.ID) })
	return page(result, 0, 0), nil
}

func (s *Store) MarkAlertRead(ctx context.Context, id, userID int64) error {
	defer s.autocommit(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.data.alerts[id]
	if !ok || a.UserID != userID {
		return fmt.Errorf("alert %d: %w", id, store.ErrNotFound)
	}
	a.Read = true
	s.data.alerts[id] = a
	return nil
}
