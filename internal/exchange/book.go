package exchange

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/cryptodesk/internal/models"
)

// side holds one symbol's resting limit orders
type side struct {
	buys  []models.Order
	sells []models.Order
}

// Book keeps open limit orders per symbol in price-time priority
type Book struct {
	mu      sync.Mutex
	symbols map[string]*side
}

// NewBook creates an empty book
func NewBook() *Book {
	return &Book{symbols: make(map[string]*side)}
}

// Add rests a limit order in the book
func (b *Book) Add(order models.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.symbols[order.Symbol]
	if !ok {
		s = &side{}
		b.symbols[order.Symbol] = s
	}

	if order.Side == models.SideBuy {
		s.buys = append(s.buys, order)
		// Highest limit first, then earliest
		sort.SliceStable(s.buys, func(i, j int) bool {
			if s.buys[i].LimitPrice.Equal(s.buys[j].LimitPrice) {
				return s.buys[i].CreatedAt.Before(s.buys[j].CreatedAt)
			}
			return s.buys[i].LimitPrice.GreaterThan(s.buys[j].LimitPrice)
		})
		return
	}

	s.sells = append(s.sells, order)
	// Lowest limit first, then earliest
	sort.SliceStable(s.sells, func(i, j int) bool {
		if s.sells[i].LimitPrice.Equal(s.sells[j].LimitPrice) {
			return s.sells[i].CreatedAt.Before(s.sells[j].CreatedAt)
		}
		return s.sells[i].LimitPrice.LessThan(s.sells[j].LimitPrice)
	})
}

// Remove drops an order from the book and reports whether it was there
func (b *Book) Remove(orderID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for symbol, s := range b.symbols {
		if i := indexOf(s.buys, orderID); i >= 0 {
			s.buys = append(s.buys[:i], s.buys[i+1:]...)
			b.prune(symbol)
			return true
		}
		if i := indexOf(s.sells, orderID); i >= 0 {
			s.sells = append(s.sells[:i], s.sells[i+1:]...)
			b.prune(symbol)
			return true
		}
	}
	return false
}

// Triggered removes and returns the orders the price crosses: buys whose
// limit is at or above price, then sells whose limit is at or below it.
// Each side comes back in priority order.
func (b *Book) Triggered(symbol string, price decimal.Decimal) []models.Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.symbols[symbol]
	if !ok || !price.IsPositive() {
		return nil
	}

	var triggered []models.Order

	n := 0
	for n < len(s.buys) && s.buys[n].LimitPrice.GreaterThanOrEqual(price) {
		n++
	}
	triggered = append(triggered, s.buys[:n]...)
	s.buys = append([]models.Order(nil), s.buys[n:]...)

	n = 0
	for n < len(s.sells) && s.sells[n].LimitPrice.LessThanOrEqual(price) {
		n++
	}
	triggered = append(triggered, s.sells[:n]...)
	s.sells = append([]models.Order(nil), s.sells[n:]...)

	b.prune(symbol)
	return triggered
}

// Orders returns copies of a symbol's buy and sell sides
func (b *Book) Orders(symbol string) ([]models.Order, []models.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.symbols[symbol]
	if !ok {
		return []models.Order{}, []models.Order{}
	}
	return append([]models.Order{}, s.buys...), append([]models.Order{}, s.sells...)
}

// Len counts resting orders across all symbols
func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, s := range b.symbols {
		n += len(s.buys) + len(s.sells)
	}
	return n
}

// prune forgets symbols with no resting orders; callers hold mu
func (b *Book) prune(symbol string) {
	if s := b.symbols[symbol]; s != nil && len(s.buys) == 0 && len(s.sells) == 0 {
		delete(b.symbols, symbol)
	}
}

func indexOf(orders []models.Order, id int64) int {
	for i, o := range orders {
		if o.ID == id {
			return i
		}
	}
	return -1
}
