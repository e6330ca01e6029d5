package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Role names
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// UserStatus is the account state of a user
type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
)

// KYCStatus is the identity verification state
type KYCStatus string

const (
	KYCUnsubmitted KYCStatus = "unsubmitted"
	KYCPending     KYCStatus = "pending"
	KYCApproved    KYCStatus = "approved"
	KYCRejected    KYCStatus = "rejected"
)

// User represents a registered user
type User struct {
	ID               int64           `json:"id"`
	Username         string          `json:"username"`
	Email            string          `json:"email"`
	PasswordHash     string          `json:"-"`
	Role             string          `json:"role"`
	Roles            []string        `json:"roles"`
	Balance          decimal.Decimal `json:"balance"`
	KYCStatus        KYCStatus       `json:"kyc_status"`
	KYCVerified      bool            `json:"kyc_verified"`
	TwoFactorEnabled bool            `json:"two_factor_enabled"`
	Status           UserStatus      `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// IsAdmin reports whether the user carries the admin role
func (u *User) IsAdmin() bool {
	if u.Role == RoleAdmin {
		return true
	}
	for _, r := range u.Roles {
		if r == RoleAdmin {
			return true
		}
	}
	return false
}

// UserUpdate holds the admin-editable user fields; nil means unchanged
type UserUpdate struct {
	Role             *string     `json:"role,omitempty"`
	Roles            []string    `json:"roles,omitempty"`
	Status           *UserStatus `json:"status,omitempty"`
	TwoFactorEnabled *bool       `json:"two_factor_enabled,omitempty"`
}

// UserFilter narrows admin user listings
type UserFilter struct {
	Status UserStatus
	Role   string
	Search string
	Limit  uint64
	Offset uint64
}

// Asset is a per-user position in one symbol
type Asset struct {
	ID           int64           `json:"id"`
	UserID       int64           `json:"user_id"`
	Symbol       string          `json:"symbol"`
	Quantity     decimal.Decimal `json:"quantity"`
	AveragePrice decimal.Decimal `json:"average_price"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// AssetFilter narrows asset listings; zero values match everything
type AssetFilter struct {
	UserID int64
	Symbol string
	Limit  uint64
	Offset uint64
}

// OrderSide is buy or sell
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderType is market or limit
type OrderType string

const (
	TypeMarket OrderType = "market"
	TypeLimit  OrderType = "limit"
)

// OrderStatus is the fill state of an order
type OrderStatus string

const (
	OrderOpen     OrderStatus = "open"
	OrderFilled   OrderStatus = "filled"
	OrderCanceled OrderStatus = "canceled"
	OrderRejected OrderStatus = "rejected"
)

// Order represents a buy or sell order
type Order struct {
	ID            int64           `json:"id"`
	ClientOrderID uuid.UUID       `json:"client_order_id"`
	UserID        int64           `json:"user_id"`
	Symbol        string          `json:"symbol"`
	Side          OrderSide       `json:"side"`
	Type          OrderType       `json:"type"`
	Quantity      decimal.Decimal `json:"quantity"`
	LimitPrice    decimal.Decimal `json:"limit_price"`
	FilledPrice   decimal.Decimal `json:"filled_price"`
	Notional      decimal.Decimal `json:"notional"`
	Fee           decimal.Decimal `json:"fee"`
	Status        OrderStatus     `json:"status"`
	RejectReason  string          `json:"reject_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"` // Used for time priority
	FilledAt      *time.Time      `json:"filled_at,omitempty"`
}

// OrderFilter narrows order listings
type OrderFilter struct {
	UserID int64
	Symbol string
	Status OrderStatus
	Limit  uint64
	Offset uint64
}

// RequestType is deposit or withdraw
type RequestType string

const (
	RequestDeposit  RequestType = "deposit"
	RequestWithdraw RequestType = "withdraw"
)

// RequestStatus tracks the admin approval workflow
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestExecuted RequestStatus = "executed"
	RequestRejected RequestStatus = "rejected"
)

// TransactionRequest is a deposit or withdrawal awaiting admin review
type TransactionRequest struct {
	ID         int64           `json:"id"`
	UserID     int64           `json:"user_id"`
	Type       RequestType     `json:"type"`
	Amount     decimal.Decimal `json:"amount"`
	Status     RequestStatus   `json:"status"`
	Note       string          `json:"note,omitempty"`
	ReviewedBy *int64          `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time      `json:"reviewed_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// RequestFilter narrows transaction request listings
type RequestFilter struct {
	UserID int64
	Status RequestStatus
	Limit  uint64
	Offset uint64
}

// HistoryType classifies a balance movement
type HistoryType string

const (
	HistoryDeposit    HistoryType = "deposit"
	HistoryWithdraw   HistoryType = "withdraw"
	HistoryBuy        HistoryType = "buy"
	HistorySell       HistoryType = "sell"
	HistoryAdjustment HistoryType = "adjustment"
)

// TransactionHistory is one row of a user's balance audit trail
type TransactionHistory struct {
	ID            int64           `json:"id"`
	UserID        int64           `json:"user_id"`
	Type          HistoryType     `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Symbol        string          `json:"symbol,omitempty"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	OrderID       *int64          `json:"order_id,omitempty"`
	RequestID     *int64          `json:"request_id,omitempty"`
	Description   string          `json:"description"`
	CreatedAt     time.Time       `json:"created_at"`
}

// HistoryFilter narrows transaction history listings
type HistoryFilter struct {
	UserID int64
	Type   HistoryType
	Limit  uint64
	Offset uint64
}

// KYCData is the identity document submitted by a user
type KYCData struct {
	UserID         int64      `json:"user_id"`
	FullName       string     `json:"full_name"`
	DateOfBirth    string     `json:"date_of_birth"`
	Country        string     `json:"country"`
	DocumentType   string     `json:"document_type"`
	DocumentNumber string     `json:"document_number"`
	Address        string     `json:"address"`
	Status         KYCStatus  `json:"status"`
	ReviewNote     string     `json:"review_note,omitempty"`
	ReviewedBy     *int64     `json:"reviewed_by,omitempty"`
	SubmittedAt    *time.Time `json:"submitted_at,omitempty"`
	ReviewedAt     *time.Time `json:"reviewed_at,omitempty"`
}

// AuditLog records an action for compliance review
type AuditLog struct {
	ID         int64          `json:"id"`
	ActorID    int64          `json:"actor_id"` // 0 for system actions
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// AuditFilter narrows audit log listings
type AuditFilter struct {
	ActorID    int64
	Action     string
	EntityType string
	Limit      uint64
	Offset     uint64
}

// AlertType is the severity shown to the user
type AlertType string

const (
	AlertInfo    AlertType = "info"
	AlertSuccess AlertType = "success"
	AlertWarning AlertType = "warning"
	AlertError   AlertType = "error"
)

// Alert is a notification shown to a user
type Alert struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Type      AlertType `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}
