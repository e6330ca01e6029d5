// Package portfolio values a user's balance and positions at live prices.
package portfolio

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/cryptodesk/internal/models"
	"github.com/xtrntr/cryptodesk/internal/store"
)

// PriceSource returns the live price of a symbol
type PriceSource interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Position is one valued asset
type Position struct {
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	AveragePrice  decimal.Decimal `json:"average_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	CostBasis     decimal.Decimal `json:"cost_basis"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	PnLPercent    decimal.Decimal `json:"pnl_percent"`
	PriceError    string          `json:"price_error,omitempty"`
}

// Summary is the valued portfolio of one user
type Summary struct {
	UserID           int64           `json:"user_id"`
	Balance          decimal.Decimal `json:"balance"`
	Positions        []Position      `json:"positions"`
	TotalMarketValue decimal.Decimal `json:"total_market_value"`
	TotalCostBasis   decimal.Decimal `json:"total_cost_basis"`
	TotalPnL         decimal.Decimal `json:"total_pnl"`
	TotalEquity      decimal.Decimal `json:"total_equity"`
}

// Service builds portfolio summaries
type Service struct {
	store  store.Store
	prices PriceSource
	logger *slog.Logger
}

// NewService creates a portfolio service
func NewService(st store.Store, prices PriceSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, prices: prices, logger: logger.With("component", "portfolio")}
}

var hundred = decimal.NewFromInt(100)

// Summary values every position of the user. A position whose price cannot
// be fetched is reported with zero valuation and a price_error.
func (s *Service) Summary(ctx context.Context, userID int64) (*Summary, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	assets, err := s.store.ListAssets(ctx, models.AssetFilter{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}

	summary := &Summary{
		UserID:    userID,
		Balance:   user.Balance,
		Positions: make([]Position, 0, len(assets)),
	}

	for _, a := range assets {
		p := Position{
			Symbol:       a.Symbol,
			Quantity:     a.Quantity,
			AveragePrice: a.AveragePrice,
			CostBasis:    a.Quantity.Mul(a.AveragePrice),
		}

		price, err := s.prices.Price(ctx, a.Symbol)
		if err != nil {
			s.logger.Warn("failed to price position", "user_id", userID, "symbol", a.Symbol, "error", err)
			p.PriceError = err.Error()
			summary.Positions = append(summary.Positions, p)
			continue
		}

		p.CurrentPrice = price
		p.MarketValue = a.Quantity.Mul(price)
		p.UnrealizedPnL = p.MarketValue.Sub(p.CostBasis)
		if p.CostBasis.IsPositive() {
			p.PnLPercent = p.UnrealizedPnL.Div(p.CostBasis).Mul(hundred).Round(2)
		}

		summary.TotalMarketValue = summary.TotalMarketValue.Add(p.MarketValue)
		summary.TotalCostBasis = summary.TotalCostBasis.Add(p.CostBasis)
		summary.TotalPnL = summary.TotalPnL.Add(p.UnrealizedPnL)
		summary.Positions = append(summary.Positions, p)
	}

	summary.TotalEquity = summary.Balance.Add(summary.TotalMarketValue)
	return summary, nil
}
