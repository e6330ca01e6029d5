// Package exchange executes simulated orders against live prices. Market
// orders settle immediately; limit orders rest in an in-memory book until the
// streamed price crosses their limit.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xtrntr/cryptodesk/internal/market"
	"github.com/xtrntr/cryptodesk/internal/models"
	"github.com/xtrntr/cryptodesk/internal/store"
)

var (
	ErrInvalidOrder         = errors.New("invalid order")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrAccountSuspended     = errors.New("account suspended")
)

// Money columns are NUMERIC(30, 10)
const scale = 10

// PriceSource resolves tradable symbols and their live price
type PriceSource interface {
	Normalize(symbol string) (string, error)
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Recorder receives engine activity for metrics
type Recorder interface {
	OrderExecuted(side, orderType string, took time.Duration)
	OrderRejected(reason string)
	SetOpenLimitOrders(n int)
}

type nopRecorder struct{}

func (nopRecorder) OrderExecuted(string, string, time.Duration) {}
func (nopRecorder) OrderRejected(string)                        {}
func (nopRecorder) SetOpenLimitOrders(int)                      {}

// Config tunes the engine
type Config struct {
	FeeRate decimal.Decimal
}

// Engine settles orders against the store
type Engine struct {
	store    store.Store
	prices   PriceSource
	feeRate  decimal.Decimal
	book     *Book
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates an engine with an empty limit book
func NewEngine(st store.Store, prices PriceSource, cfg Config, recorder Recorder, logger *slog.Logger) *Engine {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    st,
		prices:   prices,
		feeRate:  cfg.FeeRate,
		book:     NewBook(),
		recorder: recorder,
		logger:   logger.With("component", "exchange"),
		now:      time.Now,
	}
}

// Book exposes the resting limit orders
func (e *Engine) Book() *Book {
	return e.book
}

// fill describes one settlement; orderID is set when an open limit order
// is being filled rather than a new market order created
type fill struct {
	userID    int64
	symbol    string
	side      models.OrderSide
	orderType models.OrderType
	quantity  decimal.Decimal
	price     decimal.Decimal
	orderID   int64
}

func validate(side models.OrderSide, quantity decimal.Decimal) error {
	if side != models.SideBuy && side != models.SideSell {
		return fmt.Errorf("%w: side must be 'buy' or 'sell'", ErrInvalidOrder)
	}
	if !quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	if !fitsScale(quantity) {
		return fmt.Errorf("%w: quantity has more than %d decimal places", ErrInvalidOrder, scale)
	}
	return nil
}

// fitsScale reports whether d is stored exactly by a NUMERIC(30,10) column
func fitsScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(scale))
}

// ExecuteMarketOrder fills an order at the current price. The balance,
// position, order, history, audit and alert writes commit together or not
// at all.
func (e *Engine) ExecuteMarketOrder(ctx context.Context, userID int64, symbol string, side models.OrderSide, quantity decimal.Decimal) (*models.Order, error) {
	if err := validate(side, quantity); err != nil {
		return nil, err
	}
	symbol, err := e.prices.Normalize(symbol)
	if err != nil {
		return nil, err
	}

	start := e.now()
	price, err := e.prices.Price(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to get price for %s: %w", symbol, err)
	}

	var order *models.Order
	err = e.store.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		order, err = e.settle(ctx, fill{
			userID:    userID,
			symbol:    symbol,
			side:      side,
			orderType: models.TypeMarket,
			quantity:  quantity,
			price:     price,
		})
		return err
	})
	if err != nil {
		e.recorder.OrderRejected(rejectReason(err))
		return nil, err
	}

	e.recorder.OrderExecuted(string(side), string(models.TypeMarket), e.now().Sub(start))
	e.logger.Info("market order executed", "order_id", order.ID, "user_id", userID,
		"symbol", symbol, "side", side, "quantity", quantity, "price", price)
	return order, nil
}

// settle applies a fill; it must run inside a transaction
func (e *Engine) settle(ctx context.Context, f fill) (*models.Order, error) {
	user, err := e.store.GetUserForUpdate(ctx, f.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock user: %w", err)
	}
	if user.Status == models.UserStatusSuspended {
		return nil, ErrAccountSuspended
	}

	notional := f.quantity.Mul(f.price).Round(scale)
	fee := notional.Mul(e.feeRate).Round(scale)
	if !notional.IsPositive() {
		return nil, fmt.Errorf("%w: order value rounds to zero", ErrInvalidOrder)
	}

	asset, err := e.store.GetAssetForUpdate(ctx, f.userID, f.symbol)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to lock asset: %w", err)
	}

	var balanceAfter, delta decimal.Decimal
	var historyType models.HistoryType

	switch f.side {
	case models.SideBuy:
		cost := notional.Add(fee)
		if user.Balance.LessThan(cost) {
			return nil, fmt.Errorf("%w: need %s, have %s", ErrInsufficientBalance, cost, user.Balance)
		}
		delta = cost.Neg()
		historyType = models.HistoryBuy

		if asset == nil {
			_, err = e.store.CreateAsset(ctx, &models.Asset{
				UserID:       f.userID,
				Symbol:       f.symbol,
				Quantity:     f.quantity,
				AveragePrice: f.price,
			})
		} else {
			total := asset.Quantity.Add(f.quantity)
			asset.AveragePrice = asset.Quantity.Mul(asset.AveragePrice).
				Add(f.quantity.Mul(f.price)).
				DivRound(total, scale)
			asset.Quantity = total
			err = e.store.UpdateAsset(ctx, asset)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to update position: %w", err)
		}

	case models.SideSell:
		if asset == nil || asset.Quantity.LessThan(f.quantity) {
			held := decimal.Zero
			if asset != nil {
				held = asset.Quantity
			}
			return nil, fmt.Errorf("%w: need %s %s, have %s", ErrInsufficientHoldings, f.quantity, f.symbol, held)
		}
		delta = notional.Sub(fee)
		historyType = models.HistorySell

		asset.Quantity = asset.Quantity.Sub(f.quantity)
		if asset.Quantity.IsZero() {
			err = e.store.DeleteAsset(ctx, asset.ID)
		} else {
			err = e.store.UpdateAsset(ctx, asset)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to update position: %w", err)
		}
	}

	balanceAfter = user.Balance.Add(delta)
	if err := e.store.UpdateUserBalance(ctx, f.userID, balanceAfter); err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	filledAt := e.now()
	var order *models.Order
	if f.orderID == 0 {
		order, err = e.store.CreateOrder(ctx, &models.Order{
			ClientOrderID: uuid.New(),
			UserID:        f.userID,
			Symbol:        f.symbol,
			Side:          f.side,
			Type:          f.orderType,
			Quantity:      f.quantity,
			FilledPrice:   f.price,
			Notional:      notional,
			Fee:           fee,
			Status:        models.OrderFilled,
			FilledAt:      &filledAt,
		})
	} else {
		if err = e.store.MarkOrderFilled(ctx, f.orderID, f.price, notional, fee, filledAt); err == nil {
			order, err = e.store.GetOrder(ctx, f.orderID)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record order: %w", err)
	}

	orderID := order.ID
	if _, err := e.store.CreateTransactionHistory(ctx, &models.TransactionHistory{
		UserID:        f.userID,
		Type:          historyType,
		Amount:        delta,
		BalanceBefore: user.Balance,
		BalanceAfter:  balanceAfter,
		Symbol:        f.symbol,
		Quantity:      f.quantity,
		Price:         f.price,
		OrderID:       &orderID,
		Description:   fmt.Sprintf("%s %s %s @ %s (%s)", f.side, f.quantity, f.symbol, f.price, f.orderType),
	}); err != nil {
		return nil, fmt.Errorf("failed to write history: %w", err)
	}

	if err := e.store.CreateAuditLog(ctx, &models.AuditLog{
		ActorID:    f.userID,
		Action:     "order.executed",
		EntityType: "order",
		EntityID:   strconv.FormatInt(order.ID, 10),
		Details: map[string]any{
			"symbol":   f.symbol,
			"side":     string(f.side),
			"type":     string(f.orderType),
			"quantity": f.quantity.String(),
			"price":    f.price.String(),
			"notional": notional.String(),
			"fee":      fee.String(),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to write audit log: %w", err)
	}

	verb := "Bought"
	if f.side == models.SideSell {
		verb = "Sold"
	}
	if err := e.store.CreateAlert(ctx, &models.Alert{
		UserID:  f.userID,
		Type:    models.AlertSuccess,
		Title:   "Order filled",
		Message: fmt.Sprintf("%s %s %s at %s (fee %s)", verb, f.quantity, f.symbol, f.price, fee),
	}); err != nil {
		return nil, fmt.Errorf("failed to write alert: %w", err)
	}

	return order, nil
}

// PlaceLimitOrder stores an open limit order and rests it in the book. The
// funds are checked against the limit price now and again at fill time.
func (e *Engine) PlaceLimitOrder(ctx context.Context, userID int64, symbol string, side models.OrderSide, quantity, limitPrice decimal.Decimal) (*models.Order, error) {
	if err := validate(side, quantity); err != nil {
		return nil, err
	}
	if !limitPrice.IsPositive() {
		return nil, fmt.Errorf("%w: limit price must be positive", ErrInvalidOrder)
	}
	if !fitsScale(limitPrice) {
		return nil, fmt.Errorf("%w: limit price has more than %d decimal places", ErrInvalidOrder, scale)
	}
	symbol, err := e.prices.Normalize(symbol)
	if err != nil {
		return nil, err
	}

	user, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user.Status == models.UserStatusSuspended {
		return nil, ErrAccountSuspended
	}

	switch side {
	case models.SideBuy:
		notional := quantity.Mul(limitPrice)
		cost := notional.Add(notional.Mul(e.feeRate)).Round(scale)
		if user.Balance.LessThan(cost) {
			return nil, fmt.Errorf("%w: need %s, have %s", ErrInsufficientBalance, cost, user.Balance)
		}
	case models.SideSell:
		asset, err := e.store.GetAssetForUpdate(ctx, userID, symbol)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("failed to get asset: %w", err)
		}
		if asset == nil || asset.Quantity.LessThan(quantity) {
			return nil, fmt.Errorf("%w: need %s %s", ErrInsufficientHoldings, quantity, symbol)
		}
	}

	var order *models.Order
	err = e.store.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		order, err = e.store.CreateOrder(ctx, &models.Order{
			ClientOrderID: uuid.New(),
			UserID:        userID,
			Symbol:        symbol,
			Side:          side,
			Type:          models.TypeLimit,
			Quantity:      quantity,
			LimitPrice:    limitPrice,
			Status:        models.OrderOpen,
		})
		if err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}
		return e.store.CreateAuditLog(ctx, &models.AuditLog{
			ActorID:    userID,
			Action:     "order.placed",
			EntityType: "order",
			EntityID:   strconv.FormatInt(order.ID, 10),
			Details: map[string]any{
				"symbol":      symbol,
				"side":        string(side),
				"quantity":    quantity.String(),
				"limit_price": limitPrice.String(),
			},
		})
	})
	if err != nil {
		return nil, err
	}

	e.book.Add(*order)
	e.recorder.SetOpenLimitOrders(e.book.Len())
	e.logger.Info("limit order placed", "order_id", order.ID, "user_id", userID,
		"symbol", symbol, "side", side, "quantity", quantity, "limit_price", limitPrice)
	return order, nil
}

// CancelOrder cancels one of the user's open orders
func (e *Engine) CancelOrder(ctx context.Context, orderID, userID int64) (*models.Order, error) {
	var order *models.Order
	err := e.store.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		order, err = e.store.CancelOrder(ctx, orderID, userID)
		if err != nil {
			return fmt.Errorf("failed to cancel order: %w", err)
		}
		return e.store.CreateAuditLog(ctx, &models.AuditLog{
			ActorID:    userID,
			Action:     "order.canceled",
			EntityType: "order",
			EntityID:   strconv.FormatInt(orderID, 10),
		})
	})
	if err != nil {
		return nil, err
	}

	if !e.book.Remove(orderID) {
		// The store is the source of truth
		e.logger.Debug("canceled order was not in the book", "order_id", orderID)
	}
	e.recorder.SetOpenLimitOrders(e.book.Len())
	return order, nil
}

// Load rebuilds the book from the open orders in the store
func (e *Engine) Load(ctx context.Context) (int, error) {
	orders, err := e.store.GetOpenOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load open orders: %w", err)
	}
	n := 0
	for _, o := range orders {
		if o.Type != models.TypeLimit {
			continue
		}
		e.book.Add(o)
		n++
	}
	e.recorder.SetOpenLimitOrders(e.book.Len())
	return n, nil
}

// Run matches resting limit orders against quote updates until ctx is done
// or quotes is closed
func (e *Engine) Run(ctx context.Context, quotes <-chan market.Quote) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case q, ok := <-quotes:
			if !ok {
				return nil
			}
			e.Match(ctx, q)
		}
	}
}

// Match fills every resting order the quote's price crosses
func (e *Engine) Match(ctx context.Context, q market.Quote) {
	triggered := e.book.Triggered(q.Symbol, q.Price)
	for _, order := range triggered {
		e.fillLimit(ctx, order, q.Price)
	}
	if len(triggered) > 0 {
		e.recorder.SetOpenLimitOrders(e.book.Len())
	}
}

func (e *Engine) fillLimit(ctx context.Context, order models.Order, price decimal.Decimal) {
	start := e.now()
	err := e.store.WithinTransaction(ctx, func(ctx context.Context) error {
		_, err := e.settle(ctx, fill{
			userID:    order.UserID,
			symbol:    order.Symbol,
			side:      order.Side,
			orderType: models.TypeLimit,
			quantity:  order.Quantity,
			price:     price,
			orderID:   order.ID,
		})
		return err
	})

	switch {
	case err == nil:
		e.recorder.OrderExecuted(string(order.Side), string(models.TypeLimit), e.now().Sub(start))
		e.logger.Info("limit order filled", "order_id", order.ID, "user_id", order.UserID,
			"symbol", order.Symbol, "price", price)

	case errors.Is(err, store.ErrOrderNotOpen):
		// Canceled while it was being matched
		e.logger.Debug("limit order no longer open", "order_id", order.ID)

	case isBusinessError(err):
		e.recorder.OrderRejected(rejectReason(err))
		e.reject(ctx, order, err)

	default:
		// Keep it resting and retry on the next quote
		e.logger.Error("failed to fill limit order", "order_id", order.ID, "error", err)
		e.book.Add(order)
	}
}

func (e *Engine) reject(ctx context.Context, order models.Order, cause error) {
	reason := rejectReason(cause)
	err := e.store.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := e.store.MarkOrderRejected(ctx, order.ID, reason); err != nil {
			return err
		}
		if err := e.store.CreateAuditLog(ctx, &models.AuditLog{
			Action:     "order.rejected",
			EntityType: "order",
			EntityID:   strconv.FormatInt(order.ID, 10),
			Details:    map[string]any{"reason": reason, "error": cause.Error()},
		}); err != nil {
			return err
		}
		return e.store.CreateAlert(ctx, &models.Alert{
			UserID:  order.UserID,
			Type:    models.AlertError,
			Title:   "Limit order rejected",
			Message: fmt.Sprintf("Your %s order for %s %s was rejected: %s", order.Side, order.Quantity, order.Symbol, cause),
		})
	})
	if err != nil {
		e.logger.Error("failed to reject limit order", "order_id", order.ID, "error", err)
		return
	}
	e.logger.Warn("limit order rejected", "order_id", order.ID, "reason", reason)
}

func isBusinessError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInsufficientHoldings) ||
		errors.Is(err, ErrAccountSuspended) ||
		errors.Is(err, ErrInvalidOrder)
}

// rejectReason maps an execution error to a short metrics label
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrInsufficientHoldings):
		return "insufficient_holdings"
	case errors.Is(err, ErrAccountSuspended):
		return "account_suspended"
	case errors.Is(err, ErrInvalidOrder):
		return "invalid_order"
	case errors.Is(err, market.ErrUpstream):
		return "price_unavailable"
	default:
		return "error"
	}
}
