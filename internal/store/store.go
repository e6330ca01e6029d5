// Package store defines the persistence port shared by the Postgres and
// in-memory adapters.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/cryptodesk/internal/models"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicate    = errors.New("already exists")
	ErrOrderNotOpen = errors.New("order not open")
	ErrNotPending   = errors.New("not pending")
)

// Transactor runs fn atomically. Repository calls made with the ctx passed
// to fn join the transaction.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Users persists accounts and balances.
type Users interface {
	CreateUser(ctx context.Context, user *models.User) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	// GetUserForUpdate locks the row until the surrounding transaction ends.
	GetUserForUpdate(ctx context.Context, id int64) (*models.User, error)
	UpdateUserBalance(ctx context.Context, id int64, balance decimal.Decimal) error
	UpdateUser(ctx context.Context, id int64, upd models.UserUpdate) (*models.User, error)
	SetUserKYCStatus(ctx context.Context, id int64, status models.KYCStatus) error
	ListUsers(ctx context.Context, f models.UserFilter) ([]models.User, error)
}

// Assets persists positions.
type Assets interface {
	GetAssetForUpdate(ctx context.Context, userID int64, symbol string) (*models.Asset, error)
	GetAssetByID(ctx context.Context, id int64) (*models.Asset, error)
	ListAssets(ctx context.Context, f models.AssetFilter) ([]models.Asset, error)
	CreateAsset(ctx context.Context, asset *models.Asset) (*models.Asset, error)
	UpdateAsset(ctx context.Context, asset *models.Asset) error
	DeleteAsset(ctx context.Context, id int64) error
}

// Orders persists order records.
type Orders interface {
	CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error)
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, error)
	GetOpenOrders(ctx context.Context) ([]models.Order, error)
	MarkOrderFilled(ctx context.Context, id int64, price, notional, fee decimal.Decimal, filledAt time.Time) error
	MarkOrderRejected(ctx context.Context, id int64, reason string) error
	CancelOrder(ctx context.Context, orderID, userID int64) (*models.Order, error)
}

// Transactions persists deposit/withdraw requests and balance history.
type Transactions interface {
	CreateTransactionRequest(ctx context.Context, req *models.TransactionRequest) (*models.TransactionRequest, error)
	GetTransactionRequestForUpdate(ctx context.Context, id int64) (*models.TransactionRequest, error)
	ListTransactionRequests(ctx context.Context, f models.RequestFilter) ([]models.TransactionRequest, error)
	UpdateTransactionRequestStatus(ctx context.Context, id int64, status models.RequestStatus, reviewerID int64, note string) error
	CreateTransactionHistory(ctx context.Context, h *models.TransactionHistory) (*models.TransactionHistory, error)
	ListTransactionHistory(ctx context.Context, f models.HistoryFilter) ([]models.TransactionHistory, error)
}

// KYC persists identity verification documents.
type KYC interface {
	UpsertKYC(ctx context.Context, k *models.KYCData) (*models.KYCData, error)
	GetKYC(ctx context.Context, userID int64) (*models.KYCData, error)
	ListKYC(ctx context.Context, status models.KYCStatus) ([]models.KYCData, error)
	UpdateKYCStatus(ctx context.Context, userID int64, status models.KYCStatus, reviewerID int64, note string) error
}

// Notices persists audit logs and user alerts.
type Notices interface {
	CreateAuditLog(ctx context.Context, l *models.AuditLog) error
	ListAuditLogs(ctx context.Context, f models.AuditFilter) ([]models.AuditLog, error)
	CreateAlert(ctx context.Context, a *models.Alert) error
	ListAlerts(ctx context.Context, userID int64, unreadOnly bool) ([]models.Alert, error)
	MarkAlertRead(ctx context.Context, id, userID int64) error
}

// Store is everything the services need from persistence.
type Store interface {
	Transactor
	Users
	Assets
	Orders
	Transactions
	KYC
	Notices
}
