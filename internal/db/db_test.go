package db

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/cryptodesk/internal/models"
	"github.com/xtrntr/cryptodesk/internal/store"
)

var testDB *DB

func TestMain(m *testing.M) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		fmt.Fprintln(os.Stderr, "TEST_DATABASE_URL not set, skipping postgres tests")
		os.Exit(0)
	}

	if err := RunMigrations(slog.New(slog.NewTextHandler(io.Discard, nil)), url); err != nil {
		fmt.Fprintf(os.Stderr, "Unable to apply migrations: %v\n", err)
		os.Exit(1)
	}

	pool, err := pgxpool.New(context.Background(), url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	testDB = newDB(pool)
	os.Exit(m.Run())
}

func resetDB(t *testing.T) {
	t.Helper()
	_, err := testDB.Pool.Exec(context.Background(), `TRUNCATE TABLE alerts, audit_logs, kyc_data, transaction_history,
		transaction_requests, orders, assets, users RESTART IDENTITY CASCADE`)
	require.NoError(t, err, "failed to clean up database")
}

func createUser(t *testing.T, username string, balance int64) *models.User {
	t.Helper()
	user, err := testDB.CreateUser(context.Background(), &models.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "hash",
		Role:         models.RoleUser,
		Balance:      decimal.NewFromInt(balance),
		KYCStatus:    models.KYCUnsubmitted,
		Status:       models.UserStatusActive,
	})
	require.NoError(t, err)
	return user
}

func openOrder(userID int64, side models.OrderSide) *models.Order {
	return &models.Order{
		ClientOrderID: uuid.New(),
		UserID:        userID,
		Symbol:        "BTCUSDT",
		Side:          side,
		Type:          models.TypeLimit,
		Quantity:      decimal.RequireFromString("0.1"),
		LimitPrice:    decimal.NewFromInt(50000),
		Status:        models.OrderOpen,
	}
}

func TestDB_CreateUser(t *testing.T) {
	resetDB(t)
	ctx := context.Background()

	alice := createUser(t, "alice", 10000)
	assert.Equal(t, []string{models.RoleUser}, alice.Roles)
	assert.True(t, decimal.NewFromInt(10000).Equal(alice.Balance))

	_, err := testDB.CreateUser(ctx, &models.User{
		Username: "alice", Email: "other@example.com", PasswordHash: "hash",
		Role: models.RoleUser, KYCStatus: models.KYCUnsubmitted, Status: models.UserStatusActive,
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	// Emails are unique regardless of case
	_, err = testDB.CreateUser(ctx, &models.User{
		Username: "alice2", Email: "ALICE@example.com", PasswordHash: "hash",
		Role: models.RoleUser, KYCStatus: models.KYCUnsubmitted, Status: models.UserStatusActive,
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	byEmail, err := testDB.GetUserByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, byEmail.ID)

	_, err = testDB.GetUserByID(ctx, 999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDB_UpdateUser(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	alice := createUser(t, "alice", 0)

	suspended := models.UserStatusSuspended
	admin := models.RoleAdmin
	updated, err := testDB.UpdateUser(ctx, alice.ID, models.UserUpdate{Status: &suspended, Role: &admin})
	require.NoError(t, err)
	assert.Equal(t, models.UserStatusSuspended, updated.Status)
	assert.True(t, updated.IsAdmin())

	admins, err := testDB.ListUsers(ctx, models.UserFilter{Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.Len(t, admins, 1)

	unchanged, err := testDB.UpdateUser(ctx, alice.ID, models.UserUpdate{})
	require.NoError(t, err)
	assert.Equal(t, models.UserStatusSuspended, unchanged.Status)
}

func TestDB_CreateOrder(t *testing.T) {
	resetDB(t)
	alice := createUser(t, "alice", 0)

	tests := []struct {
		name        string
		order       *models.Order
		expectError bool
	}{
		{
			name:  "Success",
			order: openOrder(alice.ID, models.SideSell),
		},
		{
			name: "InvalidSide",
			order: func() *models.Order {
				o := openOrder(alice.ID, models.SideSell)
				o.Side = "invalid"
				return o
			}(),
			expectError: true,
		},
		{
			name: "ZeroQuantity",
			order: func() *models.Order {
				o := openOrder(alice.ID, models.SideSell)
				o.Quantity = decimal.Zero
				return o
			}(),
			expectError: true,
		},
		{
			name:        "NonExistentUser",
			order:       openOrder(999, models.SideBuy),
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			created, err := testDB.CreateOrder(context.Background(), tt.order)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotZero(t, created.ID)
			assert.Equal(t, tt.order.ClientOrderID, created.ClientOrderID)
			assert.True(t, tt.order.Quantity.Equal(created.Quantity))
			assert.Nil(t, created.FilledAt)
		})
	}
}

func TestDB_CancelOrder(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	alice := createUser(t, "alice", 0)
	bob := createUser(t, "bob", 0)

	open, err := testDB.CreateOrder(ctx, openOrder(alice.ID, models.SideSell))
	require.NoError(t, err)
	bobs, err := testDB.CreateOrder(ctx, openOrder(bob.ID, models.SideBuy))
	require.NoError(t, err)
	filled, err := testDB.CreateOrder(ctx, openOrder(alice.ID, models.SideSell))
	require.NoError(t, err)
	require.NoError(t, testDB.MarkOrderFilled(ctx, filled.ID, decimal.NewFromInt(50000), decimal.NewFromInt(5000), decimal.NewFromInt(5), time.Now()))

	tests := []struct {
		name      string
		orderID   int64
		userID    int64
		expectErr error
	}{
		{name: "Success", orderID: open.ID, userID: alice.ID},
		{name: "NonExistentOrder", orderID: 999, userID: alice.ID, expectErr: store.ErrNotFound},
		{name: "WrongUser", orderID: bobs.ID, userID: alice.ID, expectErr: store.ErrNotFound},
		{name: "AlreadyFilled", orderID: filled.ID, userID: alice.ID, expectErr: store.ErrOrderNotOpen},
		{name: "AlreadyCanceled", orderID: open.ID, userID: alice.ID, expectErr: store.ErrOrderNotOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, err := testDB.CancelOrder(ctx, tt.orderID, tt.userID)
			if tt.expectErr != nil {
				assert.ErrorIs(t, err, tt.expectErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, models.OrderCanceled, order.Status)
		})
	}
}

func TestDB_CancelOrder_Concurrent(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	alice := createUser(t, "alice", 0)
	order, err := testDB.CreateOrder(ctx, openOrder(alice.ID, models.SideSell))
	require.NoError(t, err)

	var wg sync.WaitGroup
	n := 10
	wg.Add(n)
	successCount := 0
	mu := sync.Mutex{}

	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, err := testDB.CancelOrder(ctx, order.ID, alice.ID); err == nil {
				mu.Lock()
				successCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successCount, "expected exactly 1 successful cancellation")
}

func TestDB_MarkOrderFilled(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	alice := createUser(t, "alice", 0)
	order, err := testDB.CreateOrder(ctx, openOrder(alice.ID, models.SideBuy))
	require.NoError(t, err)

	require.NoError(t, testDB.MarkOrderFilled(ctx, order.ID, decimal.NewFromInt(49000), decimal.NewFromInt(4900), decimal.RequireFromString("4.9"), time.Now()))

	got, err := testDB.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderFilled, got.Status)
	assert.NotNil(t, got.FilledAt)
	assert.True(t, decimal.NewFromInt(49000).Equal(got.FilledPrice))

	err = testDB.MarkOrderRejected(ctx, order.ID, "late")
	assert.ErrorIs(t, err, store.ErrOrderNotOpen)

	open, err := testDB.GetOpenOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestDB_WithinTransaction_Rollback(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	alice := createUser(t, "alice", 100)

	err := testDB.WithinTransaction(ctx, func(ctx context.Context) error {
		user, err := testDB.GetUserForUpdate(ctx, alice.ID)
		if err != nil {
			return err
		}
		if err := testDB.UpdateUserBalance(ctx, user.ID, decimal.NewFromInt(50)); err != nil {
			return err
		}
		_, err = testDB.CreateAsset(ctx, &models.Asset{UserID: user.ID, Symbol: "BTCUSDT", Quantity: decimal.NewFromInt(1), AveragePrice: decimal.NewFromInt(50)})
		if err != nil {
			return err
		}
		return fmt.Errorf("boom")
	})
	require.Error(t, err)

	user, err := testDB.GetUserByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(100).Equal(user.Balance), "balance must be rolled back")

	assets, err := testDB.ListAssets(ctx, models.AssetFilter{UserID: alice.ID})
	require.NoError(t, err)
	assert.Empty(t, assets)
}

func TestDB_Assets(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	alice := createUser(t, "alice", 0)

	asset, err := testDB.CreateAsset(ctx, &models.Asset{UserID: alice.ID, Symbol: "ETHUSDT", Quantity: decimal.NewFromInt(2), AveragePrice: decimal.NewFromInt(3000)})
	require.NoError(t, err)

	_, err = testDB.CreateAsset(ctx, &models.Asset{UserID: alice.ID, Symbol: "ETHUSDT", Quantity: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	asset.Quantity = decimal.NewFromInt(3)
	require.NoError(t, testDB.UpdateAsset(ctx, asset))

	got, err := testDB.GetAssetForUpdate(ctx, alice.ID, "ETHUSDT")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(3).Equal(got.Quantity))

	require.NoError(t, testDB.DeleteAsset(ctx, asset.ID))
	assert.ErrorIs(t, testDB.DeleteAsset(ctx, asset.ID), store.ErrNotFound)
}

func TestDB_TransactionRequests(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	alice := createUser(t, "alice", 0)

	req, err := testDB.CreateTransactionRequest(ctx, &models.TransactionRequest{
		UserID: alice.ID, Type: models.RequestDeposit, Amount: decimal.NewFromInt(500), Status: models.RequestPending,
	})
	require.NoError(t, err)

	require.NoError(t, testDB.UpdateTransactionRequestStatus(ctx, req.ID, models.RequestExecuted, 1, "ok"))
	err = testDB.UpdateTransactionRequestStatus(ctx, req.ID, models.RequestRejected, 1, "again")
	assert.ErrorIs(t, err, store.ErrNotPending)

	history, err := testDB.CreateTransactionHistory(ctx, &models.TransactionHistory{
		UserID: alice.ID, Type: models.HistoryDeposit, Amount: decimal.NewFromInt(500),
		BalanceBefore: decimal.Zero, BalanceAfter: decimal.NewFromInt(500), RequestID: &req.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, req.ID, *history.RequestID)

	list, err := testDB.ListTransactionHistory(ctx, models.HistoryFilter{UserID: alice.ID})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	reqs, err := testDB.ListTransactionRequests(ctx, models.RequestFilter{Status: models.RequestExecuted})
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.NotNil(t, reqs[0].ReviewedAt)
}

func TestDB_KYC(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	alice := createUser(t, "alice", 0)

	saved, err := testDB.UpsertKYC(ctx, &models.KYCData{
		UserID: alice.ID, FullName: "Alice A", DateOfBirth: "1990-01-01", Country: "SG",
		DocumentType: "passport", DocumentNumber: "X123", Status: models.KYCPending,
	})
	require.NoError(t, err)
	assert.NotNil(t, saved.SubmittedAt)

	pending, err := testDB.ListKYC(ctx, models.KYCPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	require.NoError(t, testDB.UpdateKYCStatus(ctx, alice.ID, models.KYCApproved, 1, ""))
	assert.ErrorIs(t, testDB.UpdateKYCStatus(ctx, alice.ID, models.KYCRejected, 1, ""), store.ErrNotPending)

	require.NoError(t, testDB.SetUserKYCStatus(ctx, alice.ID, models.KYCApproved))
	user, err := testDB.GetUserByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, user.KYCVerified)
}

func TestDB_Notices(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	alice := createUser(t, "alice", 0)

	require.NoError(t, testDB.CreateAuditLog(ctx, &models.AuditLog{
		ActorID: alice.ID, Action: "order.executed", EntityType: "order", EntityID: "1",
		Details: map[string]any{"symbol": "BTCUSDT"},
	}))
	logs, err := testDB.ListAuditLogs(ctx, models.AuditFilter{Action: "order.executed"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "BTCUSDT", logs[0].Details["symbol"])

	alert := &models.Alert{UserID: alice.ID, Type: models.AlertInfo, Title: "hi", Message: "there"}
	require.NoError(t, testDB.CreateAlert(ctx, alert))
	require.NoError(t, testDB.MarkAlertRead(ctx, alert.ID, alice.ID))
	assert.ErrorIs(t, testDB.MarkAlertRead(ctx, alert.ID, 999), store.ErrNotFound)

	unread, err := testDB.ListAlerts(ctx, alice.ID, true)
	require.NoError(t, err)
	assert.Empty(t, unread)
}
