package market

import (
	"context"
	"sync"
)

var _ QuoteCache = (*MemoryCache)(nil)

// MemoryCache keeps quotes in process memory
type MemoryCache struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewMemoryCache creates an empty MemoryCache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{quotes: make(map[string]Quote)}
}

func (c *MemoryCache) Set(ctx context.Context, q Quote) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[q.Symbol] = q
	return nil
}

func (c *MemoryCache) Get(ctx context.Context, symbol string) (Quote, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[symbol]
	return q, ok, nil
}
