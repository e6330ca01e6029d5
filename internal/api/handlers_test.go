package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.openly.dev/pointy"

	"github.com/xtrntr/cryptodesk/internal/auth"
	"github.com/xtrntr/cryptodesk/internal/exchange"
	"github.com/xtrntr/cryptodesk/internal/funds"
	"github.com/xtrntr/cryptodesk/internal/kyc"
	"github.com/xtrntr/cryptodesk/internal/market"
	"github.com/xtrntr/cryptodesk/internal/memstore"
	"github.com/xtrntr/cryptodesk/internal/models"
	"github.com/xtrntr/cryptodesk/internal/portfolio"
)

type stubFetcher struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	err    error
}

func (f *stubFetcher) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return decimal.Zero, f.err
	}
	return f.prices[symbol], nil
}

type stubMarket struct{}

func (stubMarket) Ticker24h(ctx context.Context, symbol string) (*market.Ticker24h, error) {
	return &market.Ticker24h{Symbol: symbol, LastPrice: decimal.NewFromInt(50000)}, nil
}

func (stubMarket) Klines(ctx context.Context, symbol, interval string, limit int) ([]market.Kline, error) {
	if limit > 1000 {
		return nil, fmt.Errorf("%w: limit must be between 1 and 1000", market.ErrInvalidRequest)
	}
	klines := make([]market.Kline, limit)
	for i := range klines {
		klines[i].Close = decimal.NewFromInt(50000)
	}
	return klines, nil
}

type testEnv struct {
	store   *memstore.Store
	fetcher *stubFetcher
	router  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st := memstore.New()
	fetcher := &stubFetcher{prices: map[string]decimal.Decimal{
		"BTCUSDT": decimal.NewFromInt(50000),
		"ETHUSDT": decimal.NewFromInt(2000),
	}}
	quotes := market.NewQuoter(fetcher, market.NewMemoryCache(), []string{"BTCUSDT", "ETHUSDT"}, time.Nanosecond, nil)
	authService := auth.NewAuthService(st, auth.Config{
		Secret:         "test-secret",
		TokenTTL:       time.Hour,
		Issuer:         "cryptodesk-test",
		InitialBalance: decimal.NewFromInt(10000),
	})

	h := NewHandler(Handler{
		Store:     st,
		Auth:      authService,
		Engine:    exchange.NewEngine(st, quotes, exchange.Config{FeeRate: decimal.RequireFromString("0.001")}, nil, nil),
		Funds:     funds.NewService(st, nil, nil),
		KYC:       kyc.NewService(st, nil),
		Portfolio: portfolio.NewService(st, quotes, nil),
		Quotes:    quotes,
		Market:    stubMarket{},
	})

	return &testEnv{
		store:   st,
		fetcher: fetcher,
		router:  NewRouter(h, RouterOptions{}),
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// signup registers a user and returns its token and id
func (e *testEnv) signup(t *testing.T, username string) (string, int64) {
	t.Helper()

	w := e.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "secret123",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp authResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Token, resp.User.ID
}

// admin registers a user and grants it the admin role
func (e *testEnv) admin(t *testing.T) (string, int64) {
	t.Helper()

	token, id := e.signup(t, "root")
	_, err := e.store.UpdateUser(context.Background(), id, models.UserUpdate{
		Role:  pointy.String(models.RoleAdmin),
		Roles: []string{models.RoleUser, models.RoleAdmin},
	})
	require.NoError(t, err)
	return token, id
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHandler_Signup(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "alice")

	tests := []struct {
		name           string
		requestBody    map[string]string
		expectedStatus int
	}{
		{
			name:           "Duplicate username",
			requestBody:    map[string]string{"username": "alice", "email": "other@example.com", "password": "secret123"},
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "Missing email",
			requestBody:    map[string]string{"username": "bob", "password": "secret123"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Short password",
			requestBody:    map[string]string{"username": "bob", "email": "bob@example.com", "password": "abc"},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/auth/signup", "", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, decode[map[string]string](t, w), "error")
		})
	}
}

func TestHandler_Login(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "alice")

	tests := []struct {
		name           string
		requestBody    map[string]string
		expectedStatus int
	}{
		{"By username", map[string]string{"username": "alice", "password": "secret123"}, http.StatusOK},
		{"By email", map[string]string{"email": "alice@example.com", "password": "secret123"}, http.StatusOK},
		{"By identifier", map[string]string{"identifier": "alice", "password": "secret123"}, http.StatusOK},
		{"Wrong password", map[string]string{"username": "alice", "password": "wrongpass"}, http.StatusUnauthorized},
		{"Unknown user", map[string]string{"username": "nobody", "password": "secret123"}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/auth/login", "", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus == http.StatusOK {
				resp := decode[authResponse](t, w)
				assert.NotEmpty(t, resp.Token)
				assert.Equal(t, "alice", resp.User.Username)
			}
		})
	}
}

func TestHandler_AuthRequired(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		header string
	}{
		{"Missing header", ""},
		{"Wrong scheme", "Basic abc"},
		{"Garbage token", "Bearer not-a-jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/user/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestHandler_Me(t *testing.T) {
	env := newTestEnv(t)
	token, id := env.signup(t, "alice")

	w := env.do(t, http.MethodGet, "/api/user/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	user := decode[models.User](t, w)
	assert.Equal(t, id, user.ID)
	assert.True(t, user.Balance.Equal(decimal.NewFromInt(10000)))
	assert.NotContains(t, w.Body.String(), "password")
}

func TestHandler_PlaceMarketOrder(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.signup(t, "alice")

	tests := []struct {
		name           string
		requestBody    map[string]any
		expectedStatus int
	}{
		{"Unknown symbol", map[string]any{"symbol": "DOGEUSDT", "side": "buy", "quantity": "1"}, http.StatusBadRequest},
		{"Bad side", map[string]any{"symbol": "BTCUSDT", "side": "hold", "quantity": "1"}, http.StatusBadRequest},
		{"Bad type", map[string]any{"symbol": "BTCUSDT", "side": "buy", "type": "stop", "quantity": "1"}, http.StatusBadRequest},
		{"Zero quantity", map[string]any{"symbol": "BTCUSDT", "side": "buy", "quantity": "0"}, http.StatusBadRequest},
		{"Insufficient balance", map[string]any{"symbol": "BTCUSDT", "side": "buy", "quantity": "1"}, http.StatusUnprocessableEntity},
		{"Insufficient holdings", map[string]any{"symbol": "ETHUSDT", "side": "sell", "quantity": "1"}, http.StatusUnprocessableEntity},
		{"Success", map[string]any{"symbol": "btcusdt", "side": "buy", "type": "market", "quantity": "0.1"}, http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/orders", token, tt.requestBody)
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
		})
	}

	w := env.do(t, http.MethodGet, "/api/orders", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	orders := decode[[]models.Order](t, w)
	require.Len(t, orders, 1)
	assert.Equal(t, models.OrderFilled, orders[0].Status)
	assert.Equal(t, "BTCUSDT", orders[0].Symbol)
	assert.True(t, orders[0].FilledPrice.Equal(decimal.NewFromInt(50000)))

	w = env.do(t, http.MethodGet, "/api/user/me", token, nil)
	user := decode[models.User](t, w)
	assert.Equal(t, "4995", user.Balance.String())

	w = env.do(t, http.MethodGet, "/api/transactions?type=buy", token, nil)
	history := decode[[]models.TransactionHistory](t, w)
	require.Len(t, history, 1)
	assert.Equal(t, "-5005", history[0].Amount.String())
}

func TestHandler_Portfolio(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.signup(t, "alice")

	w := env.do(t, http.MethodPost, "/api/orders", token, map[string]any{"symbol": "ETHUSDT", "side": "buy", "quantity": "2"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	env.fetcher.mu.Lock()
	env.fetcher.prices["ETHUSDT"] = decimal.NewFromInt(2500)
	env.fetcher.mu.Unlock()

	w = env.do(t, http.MethodGet, "/api/portfolio", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	summary := decode[portfolio.Summary](t, w)
	require.Len(t, summary.Positions, 1)
	assert.Equal(t, "5000", summary.TotalMarketValue.String())
	assert.Equal(t, "1000", summary.TotalPnL.String())
}

func TestHandler_LimitOrderLifecycle(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.signup(t, "alice")

	w := env.do(t, http.MethodPost, "/api/orders", token, map[string]any{
		"symbol": "BTCUSDT", "side": "buy", "type": "limit", "quantity": "0.1", "limit_price": "40000",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	order := decode[models.Order](t, w)
	assert.Equal(t, models.OrderOpen, order.Status)

	w = env.do(t, http.MethodGet, "/api/orders?status=open", token, nil)
	assert.Len(t, decode[[]models.Order](t, w), 1)

	path := fmt.Sprintf("/api/orders/%d", order.ID)
	w = env.do(t, http.MethodDelete, path, token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.OrderCanceled, decode[models.Order](t, w).Status)

	w = env.do(t, http.MethodDelete, path, token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodDelete, "/api/orders/abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_OrderBook(t *testing.T) {
	env := newTestEnv(t)
	aliceToken, _ := env.signup(t, "alice")
	bobToken, _ := env.signup(t, "bob")

	for _, o := range []struct {
		token, quantity, limit string
	}{
		{aliceToken, "0.1", "40000"},
		{bobToken, "0.05", "40000"},
		{aliceToken, "0.1", "39000"},
	} {
		w := env.do(t, http.MethodPost, "/api/orders", o.token, map[string]any{
			"symbol": "BTCUSDT", "side": "buy", "type": "limit", "quantity": o.quantity, "limit_price": o.limit,
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	w := env.do(t, http.MethodGet, "/api/market/orderbook/btcusdt", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var book struct {
		Symbol string      `json:"symbol"`
		Bids   []bookLevel `json:"bids"`
		Asks   []bookLevel `json:"asks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &book))
	assert.Equal(t, "BTCUSDT", book.Symbol)
	assert.Empty(t, book.Asks)
	require.Len(t, book.Bids, 2)
	assert.Equal(t, "40000", book.Bids[0].Price.String())
	assert.Equal(t, "0.15", book.Bids[0].Quantity.String())
	assert.Equal(t, 2, book.Bids[0].Orders)
	assert.Equal(t, "39000", book.Bids[1].Price.String())

	w = env.do(t, http.MethodGet, "/api/market/orderbook/FOO", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_CancelOtherUsersOrder(t *testing.T) {
	env := newTestEnv(t)
	aliceToken, _ := env.signup(t, "alice")
	bobToken, _ := env.signup(t, "bob")

	w := env.do(t, http.MethodPost, "/api/orders", aliceToken, map[string]any{
		"symbol": "BTCUSDT", "side": "buy", "type": "limit", "quantity": "0.1", "limit_price": "40000",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	order := decode[models.Order](t, w)

	w = env.do(t, http.MethodDelete, fmt.Sprintf("/api/orders/%d", order.ID), bobToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_UpstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.signup(t, "alice")
	env.fetcher.err = fmt.Errorf("%w: connection refused", market.ErrUpstream)

	w := env.do(t, http.MethodPost, "/api/orders", token, map[string]any{"symbol": "BTCUSDT", "side": "buy", "quantity": "0.1"})
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = env.do(t, http.MethodGet, "/api/market/price/BTCUSDT", "", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestHandler_InternalErrorHidden(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.err = fmt.Errorf("database password is hunter2")

	w := env.do(t, http.MethodGet, "/api/market/price/BTCUSDT", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", decode[map[string]string](t, w)["error"])
}

func TestHandler_Market(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name           string
		path           string
		expectedStatus int
	}{
		{"Symbols", "/api/market/symbols", http.StatusOK},
		{"Price", "/api/market/price/ethusdt", http.StatusOK},
		{"Price unknown symbol", "/api/market/price/FOO", http.StatusBadRequest},
		{"Ticker", "/api/market/ticker/BTCUSDT", http.StatusOK},
		{"Klines", "/api/market/klines/BTCUSDT?limit=5", http.StatusOK},
		{"Klines bad limit", "/api/market/klines/BTCUSDT?limit=abc", http.StatusBadRequest},
		{"Klines limit out of range", "/api/market/klines/BTCUSDT?limit=5000", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodGet, tt.path, "", nil)
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
		})
	}

	w := env.do(t, http.MethodGet, "/api/market/klines/BTCUSDT", "", nil)
	assert.Len(t, decode[[]market.Kline](t, w), 100)

	w = env.do(t, http.MethodGet, "/api/market/price/ethusdt", "", nil)
	quote := decode[market.Quote](t, w)
	assert.Equal(t, "ETHUSDT", quote.Symbol)
	assert.Equal(t, "2000", quote.Price.String())
}

func TestHandler_Healthz(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])
}

func TestHandler_WithdrawRequiresKYC(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.signup(t, "alice")

	w := env.do(t, http.MethodPost, "/api/transactions/requests", token, map[string]any{"type": "withdraw", "amount": "100"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/api/transactions/requests", token, map[string]any{"type": "transfer", "amount": "100"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/transactions/requests", token, map[string]any{"type": "deposit", "amount": "-5"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_DepositApproval(t *testing.T) {
	env := newTestEnv(t)
	adminToken, _ := env.admin(t)
	token, userID := env.signup(t, "alice")

	w := env.do(t, http.MethodPost, "/api/transactions/requests", token, map[string]any{"type": "deposit", "amount": "500", "note": "wire"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	req := decode[models.TransactionRequest](t, w)
	assert.Equal(t, models.RequestPending, req.Status)

	w = env.do(t, http.MethodGet, "/api/admin/transactions/requests?status=pending", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.TransactionRequest](t, w), 1)

	path := fmt.Sprintf("/api/admin/transactions/requests/%d/approve", req.ID)
	w = env.do(t, http.MethodPost, path, adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.RequestExecuted, decode[models.TransactionRequest](t, w).Status)

	w = env.do(t, http.MethodPost, path, adminToken, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	user, err := env.store.GetUserByID(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "10500", user.Balance.String())

	w = env.do(t, http.MethodGet, "/api/alerts?unread=true", token, nil)
	alerts := decode[[]models.Alert](t, w)
	require.Len(t, alerts, 1)

	w = env.do(t, http.MethodPost, fmt.Sprintf("/api/alerts/%d/read", alerts[0].ID), token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/alerts?unread=true", token, nil)
	assert.Empty(t, decode[[]models.Alert](t, w))
}

func TestHandler_RejectRequest(t *testing.T) {
	env := newTestEnv(t)
	adminToken, _ := env.admin(t)
	token, _ := env.signup(t, "alice")

	w := env.do(t, http.MethodPost, "/api/transactions/requests", token, map[string]any{"type": "deposit", "amount": "500"})
	require.Equal(t, http.StatusCreated, w.Code)
	req := decode[models.TransactionRequest](t, w)

	w = env.do(t, http.MethodPost, fmt.Sprintf("/api/admin/transactions/requests/%d/reject", req.ID), adminToken,
		map[string]string{"note": "no proof of funds"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	rejected := decode[models.TransactionRequest](t, w)
	assert.Equal(t, models.RequestRejected, rejected.Status)
	assert.Equal(t, "no proof of funds", rejected.Note)
}

func TestHandler_KYCFlow(t *testing.T) {
	env := newTestEnv(t)
	adminToken, _ := env.admin(t)
	token, userID := env.signup(t, "alice")

	w := env.do(t, http.MethodGet, "/api/kyc", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.KYCUnsubmitted, decode[models.KYCData](t, w).Status)

	form := map[string]string{
		"full_name":       "Alice Liddell",
		"date_of_birth":   "1990-05-04",
		"country":         "gb",
		"document_type":   "passport",
		"document_number": "X1234567",
		"address":         "1 Rabbit Hole, Oxford",
	}
	w = env.do(t, http.MethodPost, "/api/kyc", token, form)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, models.KYCPending, decode[models.KYCData](t, w).Status)

	w = env.do(t, http.MethodPost, "/api/kyc", token, form)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodGet, "/api/admin/kyc", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.KYCData](t, w), 1)

	w = env.do(t, http.MethodPost, fmt.Sprintf("/api/admin/kyc/%d/approve", userID), adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.KYCApproved, decode[models.KYCData](t, w).Status)

	w = env.do(t, http.MethodPost, "/api/transactions/requests", token, map[string]any{"type": "withdraw", "amount": "100"})
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/transactions/requests", token, map[string]any{"type": "withdraw", "amount": "20000"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestHandler_KYCInvalidForm(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.signup(t, "alice")

	w := env.do(t, http.MethodPost, "/api/kyc", token, map[string]string{"full_name": "Alice"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_AdminRequired(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.signup(t, "alice")

	w := env.do(t, http.MethodGet, "/api/admin/users", token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodGet, "/api/admin/users", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandler_AdminUsers(t *testing.T) {
	env := newTestEnv(t)
	adminToken, adminID := env.admin(t)
	token, userID := env.signup(t, "alice")

	w := env.do(t, http.MethodGet, "/api/admin/users?search=ali", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	users := decode[[]models.User](t, w)
	require.Len(t, users, 1)
	assert.Equal(t, userID, users[0].ID)

	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/admin/users/%d", userID), adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[map[string]json.RawMessage](t, w)
	assert.Contains(t, detail, "user")
	assert.Contains(t, detail, "assets")
	assert.Contains(t, detail, "kyc")

	w = env.do(t, http.MethodGet, "/api/admin/users/999", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	tests := []struct {
		name           string
		userID         int64
		update         models.UserUpdate
		expectedStatus int
	}{
		{"Bad role", userID, models.UserUpdate{Role: pointy.String("owner")}, http.StatusBadRequest},
		{"Bad status", userID, models.UserUpdate{Status: statusPtr("deleted")}, http.StatusBadRequest},
		{"Self demotion", adminID, models.UserUpdate{Role: pointy.String(models.RoleUser)}, http.StatusBadRequest},
		{"Self suspension", adminID, models.UserUpdate{Status: statusPtr(models.UserStatusSuspended)}, http.StatusBadRequest},
		{"Enable 2FA", userID, models.UserUpdate{TwoFactorEnabled: pointy.Bool(true)}, http.StatusOK},
		{"Suspend", userID, models.UserUpdate{Status: statusPtr(models.UserStatusSuspended)}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPut, fmt.Sprintf("/api/admin/users/%d", tt.userID), adminToken, tt.update)
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
		})
	}

	// A suspended user keeps a valid token but can no longer trade
	w = env.do(t, http.MethodPost, "/api/orders", token, map[string]any{"symbol": "BTCUSDT", "side": "buy", "quantity": "0.01"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": "secret123"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodGet, "/api/admin/audit-logs?action=user.updated", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.AuditLog](t, w), 2)
}

func TestHandler_AdminAdjustBalance(t *testing.T) {
	env := newTestEnv(t)
	adminToken, _ := env.admin(t)
	_, userID := env.signup(t, "alice")
	path := fmt.Sprintf("/api/admin/users/%d/balance", userID)

	tests := []struct {
		name           string
		amount         string
		expectedStatus int
		expectBalance  string
	}{
		{"Credit", "250.5", http.StatusOK, "10250.5"},
		{"Debit", "-250.5", http.StatusOK, "10000"},
		{"Zero", "0", http.StatusBadRequest, ""},
		{"Overdraw", "-10000.01", http.StatusUnprocessableEntity, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, path, adminToken, map[string]string{"amount": tt.amount, "reason": "correction"})
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			if tt.expectBalance != "" {
				assert.Equal(t, tt.expectBalance, decode[models.User](t, w).Balance.String())
			}
		})
	}
}

func TestHandler_AdminAssets(t *testing.T) {
	env := newTestEnv(t)
	adminToken, _ := env.admin(t)
	token, userID := env.signup(t, "alice")

	w := env.do(t, http.MethodPost, "/api/orders", token, map[string]any{"symbol": "ETHUSDT", "side": "buy", "quantity": "1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/admin/assets?user_id=%d", userID), adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assets := decode[[]models.Asset](t, w)
	require.Len(t, assets, 1)
	path := fmt.Sprintf("/api/admin/assets/%d", assets[0].ID)

	w = env.do(t, http.MethodPut, path, adminToken, map[string]string{"quantity": "-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPut, path, adminToken, map[string]string{"quantity": "3", "average_price": "1900"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[models.Asset](t, w)
	assert.Equal(t, "3", updated.Quantity.String())
	assert.Equal(t, "1900", updated.AveragePrice.String())

	w = env.do(t, http.MethodDelete, path, adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodDelete, path, adminToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/admin/orders?symbol=ETHUSDT", adminToken, nil)
	assert.Len(t, decode[[]models.Order](t, w), 1)

	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/admin/transactions?user_id=%d", userID), adminToken, nil)
	assert.Len(t, decode[[]models.TransactionHistory](t, w), 1)

	w = env.do(t, http.MethodGet, "/api/admin/assets?user_id=abc", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func statusPtr(s models.UserStatus) *models.UserStatus {
	return &s
}
