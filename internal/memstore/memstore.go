// Package memstore is an in-memory implementation of store.Store.
// It backs the server when no DATABASE_URL is configured and the service
// tests. Transactions are serialised and roll back by restoring a snapshot
// taken when the outermost transaction starts. A call made outside any
// transaction runs as its own one-statement transaction, so it never
// interleaves with an open one.
package memstore

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/xtrntr/cryptodesk/internal/models"
	"github.com/xtrntr/cryptodesk/internal/store"
)

var _ store.Store = (*Store)(nil)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

type txKey struct{}

type sequences struct {
	user, asset, order, request, history, audit, alert int64
}

type state struct {
	users    map[int64]models.User
	assets   map[int64]models.Asset
	orders   map[int64]models.Order
	requests map[int64]models.TransactionRequest
	history  []models.TransactionHistory
	kyc      map[int64]models.KYCData
	audit    []models.AuditLog
	alerts   map[int64]models.Alert
	seq      sequences
}

func (s state) clone() state {
	return state{
		users:    maps.Clone(s.users),
		assets:   maps.Clone(s.assets),
		orders:   maps.Clone(s.orders),
		requests: maps.Clone(s.requests),
		history:  slices.Clone(s.history),
		kyc:      maps.Clone(s.kyc),
		audit:    slices.Clone(s.audit),
		alerts:   maps.Clone(s.alerts),
		seq:      s.seq,
	}
}

// Store keeps every table in process memory
type Store struct {
	txMu sync.Mutex // held for the lifetime of the outermost transaction
	mu   sync.RWMutex
	data state
}

// New creates an empty Store
func New() *Store {
	return &Store{
		data: state{
			users:    make(map[int64]models.User),
			assets:   make(map[int64]models.Asset),
			orders:   make(map[int64]models.Order),
			requests: make(map[int64]models.TransactionRequest),
			kyc:      make(map[int64]models.KYCData),
			alerts:   make(map[int64]models.Alert),
		},
	}
}

// WithinTransaction runs fn while holding the transaction lock. Nested calls
// join the outer transaction. If fn fails every change made since the
// outermost call began is discarded.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// autocommit takes the transaction lock for a single call made outside a
// transaction and returns its release
func (s *Store) autocommit(ctx context.Context) func() {
	if ctx.Value(txKey{}) != nil {
		return func() {}
	}
	s.txMu.Lock()
	return s.txMu.Unlock
}

// Reset clears all data - useful for test setup/teardown
func (s *Store) Reset() {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = New().data
}

func page[T any](items []T, limit, offset uint64) []T {
	if limit == 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset >= uint64(len(items)) {
		return []T{}
	}
	end := offset + limit
	if end > uint64(len(items)) {
		end = uint64(len(items))
	}
	return items[offset:end]
}
